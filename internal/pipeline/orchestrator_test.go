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

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/addhe/areai/internal/idempotency"
	"github.com/addhe/areai/internal/models"
)

type fakeFetcher struct {
	ids      []string
	idsErr   error
	msg      *models.RawMessage
	fetchErr error
}

func (f *fakeFetcher) Changes(ctx context.Context, sequenceToken string) ([]string, error) {
	return f.ids, f.idsErr
}

func (f *fakeFetcher) Fetch(ctx context.Context, messageID string) (*models.RawMessage, error) {
	return f.msg, f.fetchErr
}

type fakeVerifier struct {
	record *models.CustomerRecord
}

func (f *fakeVerifier) Verify(ctx context.Context, senderAddress string) *models.CustomerRecord {
	return f.record
}

type fakeGenerator struct {
	draft models.ReplyDraft
}

func (f *fakeGenerator) Generate(ctx context.Context, sender, subject, normalizedBody string, customer *models.CustomerRecord) models.ReplyDraft {
	return f.draft
}

type fakeGuard struct {
	blocked bool
	reason  string
}

func (f *fakeGuard) Check(msg *models.RawMessage) (bool, string) {
	return f.blocked, f.reason
}

type fakeDispatcher struct {
	mu        sync.Mutex
	sent      int
	marked    int
	sendErr   error
	markErr   error
	lastDraft models.ReplyDraft
}

func (f *fakeDispatcher) SendReply(ctx context.Context, src *models.RawMessage, draft models.ReplyDraft) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent++
	f.lastDraft = draft
	return nil
}

func (f *fakeDispatcher) MarkProcessed(ctx context.Context, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markErr != nil {
		return f.markErr
	}
	f.marked++
	return nil
}

type passNormalizer struct{}

func (passNormalizer) StripQuotes(body string) string { return body }

// recordingObserver captures the transition sequence.
type recordingObserver struct {
	mu     sync.Mutex
	states []State
}

func (r *recordingObserver) OnStateTransition(runID, messageID string, from, to State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, to)
}

func (r *recordingObserver) OnError(runID, messageID, stage string, err error) {}

func testMessage() *models.RawMessage {
	return &models.RawMessage{
		MessageID: "m1",
		ThreadID:  "t1",
		From:      models.EmailAddress{Address: "jane@corp.io"},
		ReplyTo:   "jane@corp.io",
		Subject:   "help",
		Body:      "please help",
	}
}

type deps struct {
	store      idempotency.Store
	fetcher    *fakeFetcher
	verifier   *fakeVerifier
	generator  *fakeGenerator
	guard      *fakeGuard
	dispatcher *fakeDispatcher
	observer   *recordingObserver
}

func newTestDeps() *deps {
	return &deps{
		store:      idempotency.NewMemoryStore(0),
		fetcher:    &fakeFetcher{ids: []string{"m1"}, msg: testMessage()},
		verifier:   &fakeVerifier{},
		generator:  &fakeGenerator{draft: models.ReplyDraft{Text: "answer", Source: models.SourceGenerated}},
		guard:      &fakeGuard{},
		dispatcher: &fakeDispatcher{},
		observer:   &recordingObserver{},
	}
}

func (d *deps) orchestrator() *Orchestrator {
	return NewOrchestrator(OrchestratorConfig{
		Store:      d.store,
		Fetcher:    d.fetcher,
		Verifier:   d.verifier,
		Normalizer: passNormalizer{},
		Generator:  d.generator,
		Guard:      d.guard,
		Dispatcher: d.dispatcher,
		Observer:   d.observer,
	})
}

// TestRun_VerifiedHappyPath verifies the full transition sequence for a
// verified customer.
func TestRun_VerifiedHappyPath(t *testing.T) {
	d := newTestDeps()
	d.verifier.record = &models.CustomerRecord{Name: "Jane", AccountTier: models.TierPremium}

	result := d.orchestrator().Run(context.Background(), "m1")

	if result.Err != nil {
		t.Fatalf("Err = %v", result.Err)
	}
	if result.State != StateMarked {
		t.Errorf("State = %v, want MARKED", result.State)
	}
	if d.dispatcher.sent != 1 || d.dispatcher.marked != 1 {
		t.Errorf("sent = %d, marked = %d, want 1 each", d.dispatcher.sent, d.dispatcher.marked)
	}

	want := []State{
		StateDedupCheck, StateFetched, StateVerified,
		StateGenerated, StateLoopCheck, StateSent, StateMarked,
	}
	if len(d.observer.states) != len(want) {
		t.Fatalf("transitions = %v, want %v", d.observer.states, want)
	}
	for i := range want {
		if d.observer.states[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, d.observer.states[i], want[i])
		}
	}

	// The commit sticks: re-running the same ID is a duplicate.
	rerun := d.orchestrator().Run(context.Background(), "m1")
	if rerun.State != StateSkippedDuplicate {
		t.Errorf("rerun State = %v, want SKIPPED_DUPLICATE", rerun.State)
	}
	if d.dispatcher.sent != 1 {
		t.Errorf("sent = %d after rerun, want still 1", d.dispatcher.sent)
	}
}

// TestRun_UnverifiedAndFallback verifies the alternate mid-pipeline states.
func TestRun_UnverifiedAndFallback(t *testing.T) {
	d := newTestDeps()
	d.verifier.record = nil
	d.generator.draft = models.ReplyDraft{Text: "canned", Source: models.SourceFallback}

	result := d.orchestrator().Run(context.Background(), "m1")

	if result.State != StateMarked {
		t.Fatalf("State = %v, want MARKED", result.State)
	}
	if d.dispatcher.lastDraft.Source != models.SourceFallback {
		t.Errorf("dispatched draft source = %v, want fallback", d.dispatcher.lastDraft.Source)
	}

	seen := map[State]bool{}
	for _, s := range d.observer.states {
		seen[s] = true
	}
	if !seen[StateUnverified] || !seen[StateFallback] {
		t.Errorf("transitions missing UNVERIFIED/FALLBACK: %v", d.observer.states)
	}
}

// TestRun_LoopBlocked verifies a guard block skips dispatch and releases the
// reservation for a later legitimate retry.
func TestRun_LoopBlocked(t *testing.T) {
	d := newTestDeps()
	d.guard.blocked = true
	d.guard.reason = "auto-reply phrase"

	result := d.orchestrator().Run(context.Background(), "m1")

	if result.State != StateSkippedLoop {
		t.Errorf("State = %v, want SKIPPED_LOOP", result.State)
	}
	if d.dispatcher.sent != 0 {
		t.Errorf("sent = %d, want 0", d.dispatcher.sent)
	}

	outcome, _ := d.store.Reserve(context.Background(), "m1")
	if outcome != idempotency.Acquired {
		t.Errorf("reservation after loop skip = %v, want released (Acquired)", outcome)
	}
}

// TestRun_DispatchFailureReleases verifies a send failure ends in FAILED and
// leaves the message available for the provider's redelivery.
func TestRun_DispatchFailureReleases(t *testing.T) {
	d := newTestDeps()
	d.dispatcher.sendErr = errors.New("provider down")

	result := d.orchestrator().Run(context.Background(), "m1")

	if result.State != StateFailed {
		t.Errorf("State = %v, want FAILED", result.State)
	}
	if result.Err == nil {
		t.Error("Err = nil, want dispatch error")
	}

	outcome, _ := d.store.Reserve(context.Background(), "m1")
	if outcome != idempotency.Acquired {
		t.Errorf("reservation after failure = %v, want released (Acquired)", outcome)
	}
}

// TestRun_MarkFailureKeepsCommit verifies a marking failure stays SENT and
// never reopens the message — the reply is already out.
func TestRun_MarkFailureKeepsCommit(t *testing.T) {
	d := newTestDeps()
	d.dispatcher.markErr = errors.New("label service down")

	result := d.orchestrator().Run(context.Background(), "m1")

	if result.State != StateSent {
		t.Errorf("State = %v, want SENT", result.State)
	}
	if result.Err != nil {
		t.Errorf("Err = %v, want nil (reply was delivered)", result.Err)
	}

	outcome, _ := d.store.Reserve(context.Background(), "m1")
	if outcome != idempotency.AlreadyDone {
		t.Errorf("reservation = %v, want AlreadyDone", outcome)
	}
}

// TestRun_FetchFailures verifies fetch errors and vanished messages fail
// the run.
func TestRun_FetchFailures(t *testing.T) {
	t.Run("fetch error", func(t *testing.T) {
		d := newTestDeps()
		d.fetcher.fetchErr = errors.New("timeout")
		result := d.orchestrator().Run(context.Background(), "m1")
		if result.State != StateFailed {
			t.Errorf("State = %v, want FAILED", result.State)
		}
	})

	t.Run("message gone", func(t *testing.T) {
		d := newTestDeps()
		d.fetcher.msg = nil
		result := d.orchestrator().Run(context.Background(), "m1")
		if result.State != StateFailed {
			t.Errorf("State = %v, want FAILED", result.State)
		}
	})
}

// TestRun_ConcurrentSameID verifies at most one reply goes out when the same
// notification is processed concurrently.
func TestRun_ConcurrentSameID(t *testing.T) {
	d := newTestDeps()
	o := d.orchestrator()

	const runs = 16
	var wg sync.WaitGroup
	results := make([]RunResult, runs)
	for i := 0; i < runs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = o.Run(context.Background(), "m1")
		}(i)
	}
	wg.Wait()

	if d.dispatcher.sent != 1 {
		t.Errorf("sent = %d, want exactly 1", d.dispatcher.sent)
	}

	completed := 0
	for _, r := range results {
		if r.State == StateMarked {
			completed++
		}
	}
	if completed != 1 {
		t.Errorf("completed runs = %d, want exactly 1", completed)
	}
}

// TestProcess verifies notification handling fans out over the changed IDs.
func TestProcess(t *testing.T) {
	d := newTestDeps()
	d.fetcher.ids = []string{"m1", "m2", "m3"}

	results := d.orchestrator().Process(context.Background(), models.Notification{
		MailboxID:     "mb-1",
		SequenceToken: "tok",
	})

	if len(results) != 3 {
		t.Fatalf("results = %d, want 3", len(results))
	}
	for _, r := range results {
		if r.State != StateMarked {
			t.Errorf("message %s State = %v, want MARKED", r.MessageID, r.State)
		}
	}
}

// TestProcess_ListFailure verifies a change-listing error is surfaced as a
// single failed result.
func TestProcess_ListFailure(t *testing.T) {
	d := newTestDeps()
	d.fetcher.idsErr = errors.New("provider down")

	results := d.orchestrator().Process(context.Background(), models.Notification{SequenceToken: "tok"})
	if len(results) != 1 || results[0].State != StateFailed {
		t.Errorf("results = %+v, want one FAILED", results)
	}
}

// TestStateTerminal verifies the terminal classification.
func TestStateTerminal(t *testing.T) {
	terminal := []State{StateSent, StateMarked, StateSkippedDuplicate, StateSkippedLoop, StateFailed}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%v.Terminal() = false, want true", s)
		}
	}
	for _, s := range []State{StateReceived, StateDedupCheck, StateFetched, StateVerified, StateGenerated, StateLoopCheck} {
		if s.Terminal() {
			t.Errorf("%v.Terminal() = true, want false", s)
		}
	}
}
