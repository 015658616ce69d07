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

// Package replay rescans recent unanswered messages through the reply
// pipeline. It covers the gap left by a lapsed watch or an extended
// outage: push notifications for that window are gone, but the messages
// are still in the mailbox without the processed label.
package replay

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/addhe/areai/internal/pipeline"
)

// Lister enumerates recent message IDs that lack the processed label.
// Implemented by mailbox.Client.
type Lister interface {
	Recent(ctx context.Context, since time.Time, excludeLabel string) ([]string, error)
}

// PipelineRunner executes the state machine for one message ID.
// Implemented by pipeline.Orchestrator.
type PipelineRunner interface {
	Run(ctx context.Context, messageID string) pipeline.RunResult
}

// Result summarises a completed replay run.
type Result struct {
	Scanned int
	Replied int
	Skipped int
	Failed  int
	Elapsed time.Duration
}

// Runner performs the rescan.
type Runner struct {
	lister       Lister
	pipe         PipelineRunner
	excludeLabel string
	messageDelay time.Duration // delay between messages to avoid throttling
}

// RunnerConfig holds dependencies for the replay runner.
type RunnerConfig struct {
	Lister       Lister
	Pipeline     PipelineRunner
	ExcludeLabel string
	MessageDelay time.Duration
}

// NewRunner creates a replay runner.
func NewRunner(cfg RunnerConfig) *Runner {
	delay := cfg.MessageDelay
	if delay == 0 {
		delay = 500 * time.Millisecond
	}
	return &Runner{
		lister:       cfg.Lister,
		pipe:         cfg.Pipeline,
		excludeLabel: cfg.ExcludeLabel,
		messageDelay: delay,
	}
}

// Run lists messages received within the lookback window and runs each
// through the pipeline. The pipeline's own dedup gate and loop guard
// decide per message whether a reply actually goes out, so replaying a
// window that was partially processed is safe.
func (r *Runner) Run(ctx context.Context, lookback time.Duration) (*Result, error) {
	start := time.Now()
	since := start.UTC().Add(-lookback)

	slog.Info("starting replay scan",
		"since", since.Format(time.RFC3339),
		"exclude_label", r.excludeLabel,
	)

	ids, err := r.lister.Recent(ctx, since, r.excludeLabel)
	if err != nil {
		return nil, fmt.Errorf("list recent messages: %w", err)
	}

	result := &Result{Scanned: len(ids)}
	for i, id := range ids {
		if i > 0 {
			select {
			case <-ctx.Done():
				result.Elapsed = time.Since(start)
				return result, ctx.Err()
			case <-time.After(r.messageDelay):
			}
		}

		run := r.pipe.Run(ctx, id)
		switch run.State {
		case pipeline.StateSent, pipeline.StateMarked:
			result.Replied++
		case pipeline.StateFailed:
			result.Failed++
		default:
			result.Skipped++
		}
	}

	result.Elapsed = time.Since(start)
	slog.Info("replay scan complete",
		"scanned", result.Scanned,
		"replied", result.Replied,
		"skipped", result.Skipped,
		"failed", result.Failed,
		"elapsed", result.Elapsed,
	)
	return result, nil
}
