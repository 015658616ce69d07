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

package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

var errBoom = errors.New("boom")

// fastPolicy retries without meaningful sleeps.
var fastPolicy = Policy{MaxAttempts: 1}

// TestBreaker_OpensAfterThreshold verifies consecutive failures trip the breaker.
func TestBreaker_OpensAfterThreshold(t *testing.T) {
	b := NewBreaker("dep", 3, time.Minute)
	ctx := context.Background()

	fail := func(context.Context) error { return errBoom }

	for i := 0; i < 3; i++ {
		if err := b.Call(ctx, fastPolicy, fail); !errors.Is(err, errBoom) {
			t.Fatalf("call %d: err = %v, want errBoom", i, err)
		}
	}

	if got := b.State(); got != Open {
		t.Fatalf("state after %d failures = %v, want Open", 3, got)
	}
}

// TestBreaker_FastFailsWithoutInvoking verifies an open breaker never calls fn.
func TestBreaker_FastFailsWithoutInvoking(t *testing.T) {
	b := NewBreaker("dep", 1, time.Minute)
	ctx := context.Background()

	b.Call(ctx, fastPolicy, func(context.Context) error { return errBoom })
	if got := b.State(); got != Open {
		t.Fatalf("state = %v, want Open", got)
	}

	invoked := false
	err := b.Call(ctx, fastPolicy, func(context.Context) error {
		invoked = true
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("err = %v, want ErrCircuitOpen", err)
	}
	if invoked {
		t.Error("fn was invoked while breaker open")
	}
}

// TestBreaker_HalfOpenRecovery verifies the trial call closes the breaker
// on success and reopens it on failure.
func TestBreaker_HalfOpenRecovery(t *testing.T) {
	tests := []struct {
		name      string
		trialErr  error
		wantState State
	}{
		{name: "trial success closes", trialErr: nil, wantState: Closed},
		{name: "trial failure reopens", trialErr: errBoom, wantState: Open},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := NewBreaker("dep", 1, time.Minute)
			clock := time.Now()
			b.now = func() time.Time { return clock }
			ctx := context.Background()

			b.Call(ctx, fastPolicy, func(context.Context) error { return errBoom })
			if b.State() != Open {
				t.Fatalf("state = %v, want Open", b.State())
			}

			// Still inside the cool-down: fast fail.
			clock = clock.Add(30 * time.Second)
			if err := b.Call(ctx, fastPolicy, func(context.Context) error { return nil }); !errors.Is(err, ErrCircuitOpen) {
				t.Fatalf("err inside cooldown = %v, want ErrCircuitOpen", err)
			}

			// Past the cool-down: one trial runs.
			clock = clock.Add(31 * time.Second)
			err := b.Call(ctx, fastPolicy, func(context.Context) error { return tt.trialErr })
			if !errors.Is(err, tt.trialErr) {
				t.Fatalf("trial err = %v, want %v", err, tt.trialErr)
			}
			if got := b.State(); got != tt.wantState {
				t.Errorf("state after trial = %v, want %v", got, tt.wantState)
			}
		})
	}
}

// TestBreaker_HalfOpenSingleTrial verifies a second caller fast-fails while
// the trial slot is taken.
func TestBreaker_HalfOpenSingleTrial(t *testing.T) {
	b := NewBreaker("dep", 1, time.Minute)
	clock := time.Now()
	b.now = func() time.Time { return clock }
	ctx := context.Background()

	b.Call(ctx, fastPolicy, func(context.Context) error { return errBoom })
	clock = clock.Add(2 * time.Minute)

	release := make(chan struct{})
	started := make(chan struct{})
	go b.Call(ctx, fastPolicy, func(context.Context) error {
		close(started)
		<-release
		return nil
	})

	<-started
	err := b.Call(ctx, fastPolicy, func(context.Context) error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("concurrent trial err = %v, want ErrCircuitOpen", err)
	}
	close(release)
}

// TestBreaker_SuccessResetsFailureCount verifies interleaved successes keep
// the breaker closed.
func TestBreaker_SuccessResetsFailureCount(t *testing.T) {
	b := NewBreaker("dep", 2, time.Minute)
	ctx := context.Background()

	calls := []error{errBoom, nil, errBoom, nil, errBoom}
	for i, res := range calls {
		res := res
		b.Call(ctx, fastPolicy, func(context.Context) error { return res })
		if got := b.State(); got != Closed {
			t.Fatalf("state after call %d = %v, want Closed", i, got)
		}
	}
}

// TestRetry verifies the standalone retry helper.
func TestRetry(t *testing.T) {
	ctx := context.Background()
	p := Policy{MaxAttempts: 3, BaseDelay: time.Millisecond}

	t.Run("succeeds after transient failures", func(t *testing.T) {
		attempts := 0
		err := Retry(ctx, p, func(context.Context) error {
			attempts++
			if attempts < 3 {
				return errBoom
			}
			return nil
		})
		if err != nil {
			t.Fatalf("err = %v, want nil", err)
		}
		if attempts != 3 {
			t.Errorf("attempts = %d, want 3", attempts)
		}
	})

	t.Run("returns last error when exhausted", func(t *testing.T) {
		err := Retry(ctx, p, func(context.Context) error { return errBoom })
		if !errors.Is(err, errBoom) {
			t.Errorf("err = %v, want errBoom", err)
		}
	})

	t.Run("cancellation stops retrying", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(ctx)
		cancel()
		attempts := 0
		err := Retry(cancelled, p, func(context.Context) error {
			attempts++
			return errBoom
		})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("err = %v, want context.Canceled", err)
		}
		if attempts != 1 {
			t.Errorf("attempts = %d, want 1", attempts)
		}
	})
}

// TestPolicyBackoff verifies exponential growth capped at MaxDelay.
func TestPolicyBackoff(t *testing.T) {
	p := Policy{BaseDelay: 100 * time.Millisecond, MaxDelay: 500 * time.Millisecond}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{0, 100 * time.Millisecond},
		{1, 200 * time.Millisecond},
		{2, 400 * time.Millisecond},
		{3, 500 * time.Millisecond},
		{10, 500 * time.Millisecond},
	}

	for _, tt := range tests {
		if got := p.backoff(tt.attempt); got != tt.want {
			t.Errorf("backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}
