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

// Package pipeline sequences one delivery notification into at most one
// outbound reply per message: dedup gate, fetch, identity enrichment,
// generation, loop check, dispatch, and marking.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/addhe/areai/internal/idempotency"
	"github.com/addhe/areai/internal/models"
)

// Fetcher lists and retrieves messages from the mailbox provider.
// Implemented by mailbox.Client.
type Fetcher interface {
	Changes(ctx context.Context, sequenceToken string) ([]string, error)
	Fetch(ctx context.Context, messageID string) (*models.RawMessage, error)
}

// Verifier resolves a sender to a customer record, nil when unverified.
type Verifier interface {
	Verify(ctx context.Context, senderAddress string) *models.CustomerRecord
}

// Generator produces a redacted reply draft, falling back internally.
type Generator interface {
	Generate(ctx context.Context, sender, subject, normalizedBody string, customer *models.CustomerRecord) models.ReplyDraft
}

// Dispatcher sends replies and applies the processed marker.
// Implemented by mailbox.Dispatcher.
type Dispatcher interface {
	SendReply(ctx context.Context, src *models.RawMessage, draft models.ReplyDraft) error
	MarkProcessed(ctx context.Context, messageID string) error
}

// LoopGuard classifies messages that must not be answered.
type LoopGuard interface {
	Check(msg *models.RawMessage) (blocked bool, reason string)
}

// Normalizer strips quoted history from inbound bodies.
type Normalizer interface {
	StripQuotes(body string) string
}

// Orchestrator owns the per-message state machine. It holds no mutable
// state of its own; the idempotency store and breaker state are the only
// shared resources, both safe for concurrent use.
type Orchestrator struct {
	store       idempotency.Store
	fetcher     Fetcher
	verifier    Verifier
	norm        Normalizer
	generator   Generator
	guard       LoopGuard
	dispatcher  Dispatcher
	observer    Observer
	callTimeout time.Duration
}

// OrchestratorConfig holds the orchestrator dependencies.
type OrchestratorConfig struct {
	Store       idempotency.Store
	Fetcher     Fetcher
	Verifier    Verifier
	Normalizer  Normalizer
	Generator   Generator
	Guard       LoopGuard
	Dispatcher  Dispatcher
	Observer    Observer
	CallTimeout time.Duration
}

// NewOrchestrator creates a pipeline orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	if cfg.Observer == nil {
		cfg.Observer = NopObserver{}
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	return &Orchestrator{
		store:       cfg.Store,
		fetcher:     cfg.Fetcher,
		verifier:    cfg.Verifier,
		norm:        cfg.Normalizer,
		generator:   cfg.Generator,
		guard:       cfg.Guard,
		dispatcher:  cfg.Dispatcher,
		observer:    cfg.Observer,
		callTimeout: cfg.CallTimeout,
	}
}

// RunResult summarises one per-message run.
type RunResult struct {
	RunID     string
	MessageID string
	State     State
	Elapsed   time.Duration
	Err       error
}

// Process handles one delivery notification: it lists the changed message
// IDs behind the sequence token and runs the state machine for each.
// Distinct message IDs are independent; a failure on one does not stop
// the others.
func (o *Orchestrator) Process(ctx context.Context, n models.Notification) []RunResult {
	listCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
	ids, err := o.fetcher.Changes(listCtx, n.SequenceToken)
	cancel()
	if err != nil {
		slog.Error("change listing failed",
			"mailbox_id", n.MailboxID,
			"sequence_token", n.SequenceToken,
			"error", err,
		)
		return []RunResult{{State: StateFailed, Err: fmt.Errorf("list changes: %w", err)}}
	}

	results := make([]RunResult, 0, len(ids))
	for _, id := range ids {
		results = append(results, o.Run(ctx, id))
	}
	return results
}

// Run executes the state machine for a single message ID.
func (o *Orchestrator) Run(ctx context.Context, messageID string) RunResult {
	runID := uuid.New().String()
	start := time.Now()
	state := StateReceived

	move := func(to State) {
		o.observer.OnStateTransition(runID, messageID, state, to)
		state = to
	}
	finish := func(err error) RunResult {
		elapsed := time.Since(start)
		slog.Info("pipeline run finished",
			"run_id", runID,
			"message_id", messageID,
			"state", string(state),
			"elapsed", elapsed,
		)
		return RunResult{RunID: runID, MessageID: messageID, State: state, Elapsed: elapsed, Err: err}
	}

	// Dedup gate. Exactly one concurrent run per message ID passes.
	move(StateDedupCheck)
	outcome, err := o.store.Reserve(ctx, messageID)
	if err != nil {
		o.observer.OnError(runID, messageID, "reserve", err)
		move(StateFailed)
		return finish(err)
	}
	if outcome != idempotency.Acquired {
		slog.Debug("skipping duplicate delivery",
			"message_id", messageID,
			"outcome", outcome.String(),
		)
		move(StateSkippedDuplicate)
		return finish(nil)
	}

	// The reservation is released on every exit before commit, so a
	// cancelled or failed run never blocks the inevitable re-delivery.
	committed := false
	defer func() {
		if !committed {
			if err := o.store.Release(context.WithoutCancel(ctx), messageID); err != nil {
				slog.Error("reservation release failed", "message_id", messageID, "error", err)
			}
		}
	}()

	// Fetch full content. Without it there is no user-visible action
	// possible, so fetch failure is fatal for this run.
	fetchCtx, cancel := context.WithTimeout(ctx, o.callTimeout)
	msg, err := o.fetcher.Fetch(fetchCtx, messageID)
	cancel()
	if err != nil {
		o.observer.OnError(runID, messageID, "fetch", err)
		move(StateFailed)
		return finish(err)
	}
	if msg == nil {
		err = fmt.Errorf("message %s no longer exists", messageID)
		o.observer.OnError(runID, messageID, "fetch", err)
		move(StateFailed)
		return finish(err)
	}
	move(StateFetched)

	normalizedBody := o.norm.StripQuotes(msg.Body)

	// Identity enrichment. Never fatal.
	customer := o.verifier.Verify(ctx, msg.From.Address)
	if customer != nil {
		move(StateVerified)
	} else {
		move(StateUnverified)
	}

	// Generation. Never fatal; the generator falls back internally.
	draft := o.generator.Generate(ctx, msg.From.Address, msg.Subject, normalizedBody, customer)
	if draft.Source == models.SourceGenerated {
		move(StateGenerated)
	} else {
		move(StateFallback)
	}

	// Loop guard. A block is a content classification, not a delivery
	// failure: the reservation is released so a legitimate retry of the
	// same ID is not locked out.
	move(StateLoopCheck)
	if blocked, reason := o.guard.Check(msg); blocked {
		slog.Info("loop guard blocked dispatch",
			"message_id", messageID,
			"reason", reason,
		)
		move(StateSkippedLoop)
		return finish(nil)
	}

	if err := o.dispatcher.SendReply(ctx, msg, draft); err != nil {
		o.observer.OnError(runID, messageID, "dispatch", err)
		move(StateFailed)
		return finish(err)
	}

	// Commit before the SENT transition. A commit failure after a
	// successful send must NOT release the reservation — a duplicate
	// reply is worse than a stale marker.
	if err := o.store.Commit(context.WithoutCancel(ctx), messageID); err != nil {
		o.observer.OnError(runID, messageID, "commit", err)
	}
	committed = true
	move(StateSent)

	// Marking failure never reverts the commit: the reply is already out.
	if err := o.dispatcher.MarkProcessed(context.WithoutCancel(ctx), messageID); err != nil {
		o.observer.OnError(runID, messageID, "mark", err)
		return finish(nil)
	}
	move(StateMarked)

	return finish(nil)
}
