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

package mailbox

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/addhe/areai/internal/models"
	"github.com/addhe/areai/internal/resilience"
)

// Dispatcher sends replies with the system's routing identity forced onto
// every outbound message and applies the processed marker label.
type Dispatcher struct {
	client         *Client
	breaker        *resilience.Breaker
	policy         resilience.Policy
	protectedAlias string
	label          string
	callTimeout    time.Duration
}

// DispatcherConfig holds the dispatcher dependencies.
type DispatcherConfig struct {
	Client         *Client
	Breaker        *resilience.Breaker
	Policy         resilience.Policy
	ProtectedAlias string
	Label          string
	CallTimeout    time.Duration
}

// NewDispatcher creates a reply dispatcher.
func NewDispatcher(cfg DispatcherConfig) *Dispatcher {
	if cfg.Label == "" {
		cfg.Label = "Auto-Replied"
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	return &Dispatcher{
		client:         cfg.Client,
		breaker:        cfg.Breaker,
		policy:         cfg.Policy,
		protectedAlias: cfg.ProtectedAlias,
		label:          cfg.Label,
		callTimeout:    cfg.CallTimeout,
	}
}

// SendReply dispatches the draft as a reply on the source message's thread.
// From and Reply-To are always the protected alias so customer replies
// route back through the monitored mailbox, and the standard auto-reply
// headers are set so other automated systems do not answer us.
func (d *Dispatcher) SendReply(ctx context.Context, src *models.RawMessage, draft models.ReplyDraft) error {
	out := OutboundMessage{
		ThreadID: src.ThreadID,
		To:       src.ReplyTo,
		From:     d.protectedAlias,
		ReplyTo:  d.protectedAlias,
		Subject:  ReplySubject(src.Subject),
		Body:     draft.Text,
		Headers: map[string]string{
			"In-Reply-To":              src.MessageID,
			"References":               src.MessageID,
			"Auto-Submitted":           "auto-replied",
			"X-Auto-Response-Suppress": "All",
			"Precedence":               "auto_reply",
			"X-AutoReply":              "yes",
		},
	}

	return d.breaker.Call(ctx, d.policy, func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, d.callTimeout)
		defer cancel()
		return d.client.Send(ctx, out)
	})
}

// MarkProcessed applies the durable marker label to the source message.
func (d *Dispatcher) MarkProcessed(ctx context.Context, messageID string) error {
	ctx, cancel := context.WithTimeout(ctx, d.callTimeout)
	defer cancel()
	if err := d.client.Mark(ctx, messageID, d.label); err != nil {
		return fmt.Errorf("mark processed: %w", err)
	}
	return nil
}

// ReplySubject formats the reply subject, collapsing any stack of existing
// "Re: " prefixes into a single one.
func ReplySubject(subject string) string {
	s := strings.TrimSpace(subject)
	for strings.HasPrefix(strings.ToLower(s), "re:") {
		s = strings.TrimSpace(s[3:])
	}
	return "Re: " + s
}
