// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pipeline

import "log/slog"

// Observer receives state machine events. The orchestrator itself performs
// no logging or metrics I/O; everything observable flows through here.
type Observer interface {
	OnStateTransition(runID, messageID string, from, to State)
	OnError(runID, messageID, stage string, err error)
}

// NopObserver discards all events.
type NopObserver struct{}

func (NopObserver) OnStateTransition(runID, messageID string, from, to State) {}
func (NopObserver) OnError(runID, messageID, stage string, err error)         {}

// LogObserver writes events to slog.
type LogObserver struct{}

func (LogObserver) OnStateTransition(runID, messageID string, from, to State) {
	slog.Debug("pipeline transition",
		"run_id", runID,
		"message_id", messageID,
		"from", string(from),
		"to", string(to),
	)
}

func (LogObserver) OnError(runID, messageID, stage string, err error) {
	slog.Error("pipeline error",
		"run_id", runID,
		"message_id", messageID,
		"stage", stage,
		"error", err,
	)
}

// MultiObserver fans events out to several observers.
type MultiObserver []Observer

func (m MultiObserver) OnStateTransition(runID, messageID string, from, to State) {
	for _, o := range m {
		o.OnStateTransition(runID, messageID, from, to)
	}
}

func (m MultiObserver) OnError(runID, messageID, stage string, err error) {
	for _, o := range m {
		o.OnError(runID, messageID, stage, err)
	}
}
