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

// State is a position in the per-message processing state machine.
type State string

const (
	StateReceived   State = "RECEIVED"
	StateDedupCheck State = "DEDUP_CHECK"
	StateFetched    State = "FETCHED"
	StateVerified   State = "VERIFIED"
	StateUnverified State = "UNVERIFIED"
	StateGenerated  State = "GENERATED"
	StateFallback   State = "FALLBACK"
	StateLoopCheck  State = "LOOP_CHECK"
	StateSent       State = "SENT"
	StateMarked     State = "MARKED"

	StateSkippedDuplicate State = "SKIPPED_DUPLICATE"
	StateSkippedLoop      State = "SKIPPED_LOOP"
	StateFailed           State = "FAILED"
)

// Terminal reports whether the state ends a run. SENT is terminal in the
// sense that the reply is out; a marking failure leaves the run there.
func (s State) Terminal() bool {
	switch s {
	case StateSent, StateMarked, StateSkippedDuplicate, StateSkippedLoop, StateFailed:
		return true
	}
	return false
}
