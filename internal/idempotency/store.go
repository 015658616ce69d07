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

// Package idempotency tracks per-message processing markers so that
// at-least-once notification delivery produces at-most-once replies.
// The production store is a Redis SET NX with TTL; entries expire after
// the retention window, after which re-processing is allowed.
package idempotency

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Outcome is the result of a reservation attempt.
type Outcome int

const (
	// Acquired means this caller won the reservation and must process.
	Acquired Outcome = iota
	// AlreadyProcessing means another run holds an uncommitted reservation.
	AlreadyProcessing
	// AlreadyDone means a reply was already sent for this message.
	AlreadyDone
)

func (o Outcome) String() string {
	switch o {
	case Acquired:
		return "acquired"
	case AlreadyProcessing:
		return "already_processing"
	case AlreadyDone:
		return "already_done"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Store is the dedup gate contract. Reserve must be atomic: when two
// concurrent runs race on the same message ID, exactly one gets Acquired.
type Store interface {
	Reserve(ctx context.Context, messageID string) (Outcome, error)
	Commit(ctx context.Context, messageID string) error
	Release(ctx context.Context, messageID string) error
}

const (
	// DefaultTTL bounds storage growth while covering realistic
	// re-delivery windows from the notification transport.
	DefaultTTL = 24 * time.Hour

	// keyPrefix namespaces processing markers in Redis.
	keyPrefix = "areai:msg:"

	stateProcessing = "processing"
	stateDone       = "done"
)

// releaseScript deletes a marker only while it is still in the processing
// state, so a Release racing a concurrent Commit never erases a done marker.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore is the Redis-backed idempotency store.
type RedisStore struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedisStore creates an idempotency store backed by Redis.
func NewRedisStore(rdb *redis.Client, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{rdb: rdb, ttl: ttl}
}

// Reserve attempts to claim a message for processing.
// SET NX is the atomicity primitive: only one concurrent caller can create
// the key, and that caller observes Acquired.
func (s *RedisStore) Reserve(ctx context.Context, messageID string) (Outcome, error) {
	key := keyPrefix + messageID

	set, err := s.rdb.SetNX(ctx, key, stateProcessing, s.ttl).Result()
	if err != nil {
		return AlreadyProcessing, fmt.Errorf("idempotency SETNX: %w", err)
	}
	if set {
		return Acquired, nil
	}

	state, err := s.rdb.Get(ctx, key).Result()
	if err == redis.Nil {
		// Expired between SETNX and GET; the next delivery will re-reserve.
		return AlreadyProcessing, nil
	}
	if err != nil {
		return AlreadyProcessing, fmt.Errorf("idempotency GET: %w", err)
	}

	if state == stateDone {
		return AlreadyDone, nil
	}
	return AlreadyProcessing, nil
}

// Commit marks the message as done for the retention window.
func (s *RedisStore) Commit(ctx context.Context, messageID string) error {
	key := keyPrefix + messageID
	if err := s.rdb.Set(ctx, key, stateDone, s.ttl).Err(); err != nil {
		return fmt.Errorf("idempotency commit: %w", err)
	}
	return nil
}

// Release drops an uncommitted reservation so re-delivery can retry safely.
func (s *RedisStore) Release(ctx context.Context, messageID string) error {
	key := keyPrefix + messageID
	if err := releaseScript.Run(ctx, s.rdb, []string{key}, stateProcessing).Err(); err != nil {
		return fmt.Errorf("idempotency release: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.rdb.Ping(ctx).Err()
}
