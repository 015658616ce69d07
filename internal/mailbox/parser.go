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
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/addhe/areai/internal/models"
)

// providerMessage represents the relevant fields of a provider message
// response.
type providerMessage struct {
	ID       string `json:"id"`
	ThreadID string `json:"thread_id"`
	From     struct {
		Address string `json:"address"`
		Name    string `json:"name"`
	} `json:"from"`
	To []struct {
		Address string `json:"address"`
		Name    string `json:"name"`
	} `json:"to"`
	ReplyTo    string `json:"reply_to"`
	Subject    string `json:"subject"`
	Body       string `json:"body"`
	ReceivedAt string `json:"received_at"`
	Headers    []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"headers"`
}

// parseProviderMessage converts a provider message response into a RawMessage.
// Header names are lowercased so downstream checks are case-insensitive.
func parseProviderMessage(body io.Reader) (*models.RawMessage, error) {
	var msg providerMessage
	if err := json.NewDecoder(body).Decode(&msg); err != nil {
		return nil, fmt.Errorf("decode provider message: %w", err)
	}

	headers := make(map[string]string, len(msg.Headers))
	for _, h := range msg.Headers {
		headers[strings.ToLower(h.Name)] = h.Value
	}

	to := make([]models.EmailAddress, 0, len(msg.To))
	for _, r := range msg.To {
		to = append(to, models.EmailAddress{Address: r.Address, Name: r.Name})
	}

	receivedAt, err := time.Parse(time.RFC3339, msg.ReceivedAt)
	if err != nil {
		receivedAt = time.Now().UTC()
	}

	replyTo := msg.ReplyTo
	if replyTo == "" {
		replyTo = msg.From.Address
	}

	return &models.RawMessage{
		MessageID:  msg.ID,
		ThreadID:   msg.ThreadID,
		From:       models.EmailAddress{Address: msg.From.Address, Name: msg.From.Name},
		To:         to,
		ReplyTo:    replyTo,
		Subject:    msg.Subject,
		Body:       msg.Body,
		Headers:    headers,
		ReceivedAt: receivedAt,
	}, nil
}
