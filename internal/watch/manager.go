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

package watch

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Renewer re-establishes the push subscription with the mailbox provider.
// Implemented by mailbox.Client.
type Renewer interface {
	RenewWatch(ctx context.Context) (time.Time, error)
}

// StateStore persists watch state. Implemented by Store.
type StateStore interface {
	Get(ctx context.Context, mailboxID string) (*Record, error)
	Upsert(ctx context.Context, mailboxID string, expiresAt time.Time) error
	TouchNotification(ctx context.Context, mailboxID string) error
	MarkStatus(ctx context.Context, mailboxID, status string) error
}

// Status is the current watch state as reported by /watch-status.
type Status struct {
	Active    bool      `json:"active"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Manager keeps the mailbox watch alive. It renews proactively when the
// expiry falls within the renew buffer and exposes the cached state for
// the status endpoint.
type Manager struct {
	store       StateStore
	renewer     Renewer
	mailboxID   string
	renewBuffer time.Duration

	mu        sync.Mutex
	expiresAt time.Time

	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a watch lifecycle manager. renewBuffer is how long
// before expiry a renewal is triggered.
func NewManager(store StateStore, renewer Renewer, mailboxID string, renewBuffer time.Duration) *Manager {
	if renewBuffer <= 0 {
		renewBuffer = time.Hour
	}
	return &Manager{
		store:       store,
		renewer:     renewer,
		mailboxID:   mailboxID,
		renewBuffer: renewBuffer,
	}
}

// Start loads persisted state, renews immediately if needed, and launches
// the background renewal loop.
func (m *Manager) Start(ctx context.Context) error {
	rec, err := m.store.Get(ctx, m.mailboxID)
	if err != nil {
		return fmt.Errorf("load watch state: %w", err)
	}
	if rec != nil {
		m.mu.Lock()
		m.expiresAt = rec.ExpiresAt
		m.mu.Unlock()
	}

	if m.needsRenewal() {
		if _, err := m.Renew(ctx); err != nil {
			// Startup proceeds: notifications already in flight still get
			// processed, and the loop keeps retrying the renewal.
			slog.Error("initial watch renewal failed", "mailbox_id", m.mailboxID, "error", err)
		}
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.loop(loopCtx)
	return nil
}

// Stop halts the renewal loop and waits for it to exit.
func (m *Manager) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done
}

func (m *Manager) loop(ctx context.Context) {
	defer close(m.done)

	interval := m.renewBuffer / 2
	if interval < time.Minute {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("watch renewal loop started",
		"mailbox_id", m.mailboxID,
		"check_interval", interval,
	)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !m.needsRenewal() {
				continue
			}
			renewCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			_, err := m.Renew(renewCtx)
			cancel()
			if err != nil {
				slog.Error("watch renewal failed", "mailbox_id", m.mailboxID, "error", err)
			}
		}
	}
}

// Renew re-registers the watch with the provider and persists the new
// expiry. Safe for concurrent use; renewals are serialised.
func (m *Manager) Renew(ctx context.Context) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	expiresAt, err := m.renewer.RenewWatch(ctx)
	if err != nil {
		if m.expiresAt.Before(time.Now()) {
			if markErr := m.store.MarkStatus(context.WithoutCancel(ctx), m.mailboxID, "expired"); markErr != nil {
				slog.Error("watch status update failed", "mailbox_id", m.mailboxID, "error", markErr)
			}
		}
		return time.Time{}, fmt.Errorf("renew watch: %w", err)
	}

	if err := m.store.Upsert(ctx, m.mailboxID, expiresAt); err != nil {
		// The provider-side watch is live regardless; persistence catches
		// up on the next renewal.
		slog.Error("watch state persist failed", "mailbox_id", m.mailboxID, "error", err)
	}
	m.expiresAt = expiresAt

	slog.Info("watch renewed",
		"mailbox_id", m.mailboxID,
		"expires_at", expiresAt.Format(time.RFC3339),
	)
	return expiresAt, nil
}

// Status reports the cached watch state.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Status{
		Active:    time.Now().Before(m.expiresAt),
		ExpiresAt: m.expiresAt,
	}
}

// NoteNotification records that a push notification arrived, for
// observability of watch health.
func (m *Manager) NoteNotification(ctx context.Context) {
	if err := m.store.TouchNotification(ctx, m.mailboxID); err != nil {
		slog.Debug("notification timestamp update failed", "mailbox_id", m.mailboxID, "error", err)
	}
}

func (m *Manager) needsRenewal() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return time.Now().Add(m.renewBuffer).After(m.expiresAt)
}
