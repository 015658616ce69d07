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

package idempotency

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is a process-local Store for tests and single-instance
// deployments without Redis. Same contract as RedisStore.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

type memoryEntry struct {
	state     string
	expiresAt time.Time
}

// NewMemoryStore creates an in-memory idempotency store.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

// Reserve claims a message for processing. An expired entry is treated
// as absent.
func (s *MemoryStore) Reserve(_ context.Context, messageID string) (Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[messageID]
	if ok && s.now().Before(e.expiresAt) {
		if e.state == stateDone {
			return AlreadyDone, nil
		}
		return AlreadyProcessing, nil
	}

	s.entries[messageID] = memoryEntry{
		state:     stateProcessing,
		expiresAt: s.now().Add(s.ttl),
	}
	return Acquired, nil
}

// Commit marks the message as done for the retention window.
func (s *MemoryStore) Commit(_ context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[messageID] = memoryEntry{
		state:     stateDone,
		expiresAt: s.now().Add(s.ttl),
	}
	return nil
}

// Release drops an uncommitted reservation.
func (s *MemoryStore) Release(_ context.Context, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[messageID]; ok && e.state == stateProcessing {
		delete(s.entries, messageID)
	}
	return nil
}
