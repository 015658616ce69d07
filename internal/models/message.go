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

// Package models defines the data structures shared across the auto-reply service.
package models

import "time"

// Notification is the lightweight push signal that new mail state exists.
// It carries no message content — only a pointer into the mailbox history.
type Notification struct {
	MailboxID     string `json:"mailbox_id"`
	SequenceToken string `json:"sequence_token"`
}

// EmailAddress represents a sender or recipient with an address and optional name.
type EmailAddress struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
}

// RawMessage is a full email fetched from the mailbox provider.
// Immutable once fetched.
type RawMessage struct {
	MessageID  string            `json:"message_id"`
	ThreadID   string            `json:"thread_id"`
	From       EmailAddress      `json:"from"`
	To         []EmailAddress    `json:"to"`
	ReplyTo    string            `json:"reply_to,omitempty"`
	Subject    string            `json:"subject"`
	Body       string            `json:"body"`
	Headers    map[string]string `json:"headers,omitempty"`
	ReceivedAt time.Time         `json:"received_at"`
}

// AccountTier classifies a verified customer by balance.
type AccountTier string

const (
	TierStandard AccountTier = "standard"
	TierPremium  AccountTier = "premium"
)

// CustomerRecord holds identity data for a verified sender.
//
// Verification is enrichment, never a gate: a nil *CustomerRecord means
// "unverified" and is a valid, non-error outcome throughout the pipeline.
type CustomerRecord struct {
	CustomerID  string      `json:"customer_id"`
	Name        string      `json:"name"`
	Status      string      `json:"status"`
	AccountTier AccountTier `json:"account_tier"`
	Balance     int64       `json:"balance"`
}

// ReplySource records how a reply draft was produced.
type ReplySource string

const (
	SourceGenerated ReplySource = "generated"
	SourceFallback  ReplySource = "fallback"
)

// ReplyDraft is the text to be dispatched, already redacted.
type ReplyDraft struct {
	Text   string      `json:"text"`
	Source ReplySource `json:"source"`
}
