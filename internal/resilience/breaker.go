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

// Package resilience wraps external calls with retry-with-backoff and a
// circuit breaker. Breaker state is explicit and inspectable rather than
// hidden inside call-site decorators, so each dependency's health can be
// tested and observed independently.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen is returned without invoking the wrapped call while the
// breaker is open. Callers branch on it to apply a fallback immediately
// instead of waiting out retries.
var ErrCircuitOpen = errors.New("circuit open")

// State is the breaker position.
type State int

const (
	Closed State = iota
	Open
	HalfOpen
)

func (s State) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half_open"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Breaker guards one external dependency. After threshold consecutive
// failures it opens; after the cool-down it permits a single trial call
// whose outcome decides the next state.
type Breaker struct {
	name      string
	threshold int
	cooldown  time.Duration

	mu       sync.Mutex
	state    State
	failures int
	openedAt time.Time
	trial    bool // a half-open trial call is in flight

	now func() time.Time
}

// NewBreaker creates a circuit breaker for the named dependency.
func NewBreaker(name string, threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = 5
	}
	if cooldown <= 0 {
		cooldown = 60 * time.Second
	}
	return &Breaker{
		name:      name,
		threshold: threshold,
		cooldown:  cooldown,
		now:       time.Now,
	}
}

// Name returns the dependency name the breaker guards.
func (b *Breaker) Name() string { return b.name }

// State returns the current breaker position.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// allow decides whether a call may proceed. It reports whether the call is
// the half-open trial, or ErrCircuitOpen when the call must fast-fail.
func (b *Breaker) allow() (trial bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case Closed:
		return false, nil

	case Open:
		if b.now().Sub(b.openedAt) < b.cooldown {
			return false, fmt.Errorf("%s: %w", b.name, ErrCircuitOpen)
		}
		// Cool-down elapsed: permit exactly one trial.
		b.state = HalfOpen
		b.trial = true
		return true, nil

	default: // HalfOpen
		if b.trial {
			return false, fmt.Errorf("%s: %w", b.name, ErrCircuitOpen)
		}
		b.trial = true
		return true, nil
	}
}

// record feeds a call outcome back into the breaker.
func (b *Breaker) record(success bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if success {
		b.failures = 0
		if b.state != Closed {
			b.state = Closed
		}
		b.trial = false
		return
	}

	if b.state == HalfOpen {
		b.state = Open
		b.openedAt = b.now()
		b.trial = false
		return
	}

	b.failures++
	if b.failures >= b.threshold {
		b.state = Open
		b.openedAt = b.now()
	}
}

// cancelTrial returns a half-open trial slot without judging the dependency.
// Used when the caller's context was cancelled mid-trial.
func (b *Breaker) cancelTrial() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == HalfOpen {
		b.trial = false
	}
}

// Call runs fn through the breaker with the retry policy applied.
// Backoff retries happen only while the breaker is closed; a half-open
// trial gets exactly one attempt; an open breaker fast-fails with
// ErrCircuitOpen without invoking fn.
func (b *Breaker) Call(ctx context.Context, p Policy, fn func(context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(p.backoff(attempt - 1)):
			}
		}

		trial, err := b.allow()
		if err != nil {
			return err
		}

		err = fn(ctx)
		if err == nil {
			b.record(true)
			return nil
		}
		lastErr = err

		if errors.Is(err, context.Canceled) {
			b.cancelTrial()
			return err
		}
		b.record(false)

		if trial {
			// The single half-open attempt failed; no local retries.
			return err
		}
	}
	return lastErr
}
