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

// Package audit publishes terminal pipeline states to a Redis list so an
// external consumer can alert on failure rates. Publishing is fire-and-
// forget from the pipeline's perspective — an audit outage never affects
// reply processing.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/addhe/areai/internal/pipeline"
)

// Event is one terminal pipeline outcome.
type Event struct {
	EventID   string `json:"event_id"`
	RunID     string `json:"run_id"`
	MessageID string `json:"message_id"`
	State     string `json:"state"`
	At        string `json:"at"`
}

// Publisher pushes audit events onto a Redis list.
type Publisher struct {
	rdb       *redis.Client
	queueName string
}

// NewPublisher creates an audit publisher targeting the given list.
func NewPublisher(rdb *redis.Client, queueName string) *Publisher {
	return &Publisher{rdb: rdb, queueName: queueName}
}

// Publish serialises and enqueues one event.
func (p *Publisher) Publish(ctx context.Context, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal audit event: %w", err)
	}
	if err := p.rdb.LPush(ctx, p.queueName, string(payload)).Err(); err != nil {
		return fmt.Errorf("redis LPUSH: %w", err)
	}
	return nil
}

// Ping checks the Redis connection.
func (p *Publisher) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return p.rdb.Ping(ctx).Err()
}

// OnStateTransition implements pipeline.Observer. Only terminal states are
// published.
func (p *Publisher) OnStateTransition(runID, messageID string, from, to pipeline.State) {
	if !to.Terminal() {
		return
	}

	event := Event{
		EventID:   uuid.New().String(),
		RunID:     runID,
		MessageID: messageID,
		State:     string(to),
		At:        time.Now().UTC().Format(time.RFC3339),
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Publish(ctx, event); err != nil {
		slog.Warn("audit publish failed",
			"message_id", messageID,
			"state", string(to),
			"error", err,
		)
	}
}

// OnError implements pipeline.Observer. Errors are carried by the terminal
// FAILED event; nothing extra is published here.
func (p *Publisher) OnError(runID, messageID, stage string, err error) {}
