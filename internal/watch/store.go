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

// Package watch provides a Postgres-backed store for the mailbox watch
// subscription and a lifecycle manager that renews it before expiry.
// An expired watch silently stops all notifications, so renewal directly
// gates pipeline liveness.
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Record represents the persisted watch state for a mailbox.
type Record struct {
	MailboxID        string
	ExpiresAt        time.Time
	LastRenewed      *time.Time
	LastNotification *time.Time
	Status           string // "active", "expired"
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Store provides CRUD operations for watch records in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a watch store backed by the given Postgres pool.
// It ensures the watch_state table exists on creation.
func NewStore(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure watch schema: %w", err)
	}
	slog.Info("watch store initialised")
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS watch_state (
			mailbox_id        TEXT PRIMARY KEY,
			expires_at        TIMESTAMPTZ NOT NULL,
			last_renewed      TIMESTAMPTZ,
			last_notification TIMESTAMPTZ,
			status            TEXT DEFAULT 'active',
			created_at        TIMESTAMPTZ DEFAULT NOW(),
			updated_at        TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_watch_expires ON watch_state(expires_at);
	`)
	return err
}

// Upsert records a successful watch registration or renewal.
func (s *Store) Upsert(ctx context.Context, mailboxID string, expiresAt time.Time) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO watch_state (mailbox_id, expires_at, last_renewed, status)
		VALUES ($1, $2, NOW(), 'active')
		ON CONFLICT (mailbox_id) DO UPDATE SET
			expires_at   = EXCLUDED.expires_at,
			last_renewed = NOW(),
			status       = 'active',
			updated_at   = NOW()
	`, mailboxID, expiresAt)
	return err
}

// Get retrieves the watch record for a mailbox, nil when none exists.
func (s *Store) Get(ctx context.Context, mailboxID string) (*Record, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT mailbox_id, expires_at, last_renewed, last_notification,
		       status, created_at, updated_at
		FROM watch_state
		WHERE mailbox_id = $1
	`, mailboxID)

	var r Record
	err := row.Scan(
		&r.MailboxID, &r.ExpiresAt, &r.LastRenewed, &r.LastNotification,
		&r.Status, &r.CreatedAt, &r.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// TouchNotification updates last_notification to NOW().
func (s *Store) TouchNotification(ctx context.Context, mailboxID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE watch_state
		SET last_notification = NOW(), updated_at = NOW()
		WHERE mailbox_id = $1
	`, mailboxID)
	return err
}

// MarkStatus sets the watch status (active, expired).
func (s *Store) MarkStatus(ctx context.Context, mailboxID, status string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE watch_state
		SET status = $1, updated_at = NOW()
		WHERE mailbox_id = $2
	`, status, mailboxID)
	return err
}
