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

// Package mailbox is the REST client for the mailbox provider: change
// listing, full-message fetch, reply dispatch, marker labels, and watch
// renewal. The HTTP client is expected to carry OAuth2 credentials.
package mailbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/addhe/areai/internal/models"
)

// Client talks to the mailbox provider for a single mailbox.
type Client struct {
	httpClient *http.Client
	baseURL    string
	mailboxID  string
}

// NewClient creates a mailbox provider client. httpClient should be an
// oauth2-authenticated client.
func NewClient(httpClient *http.Client, baseURL, mailboxID string) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		mailboxID:  mailboxID,
	}
}

// changesResponse is a page of message IDs changed since a sequence token.
type changesResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

// Changes lists the IDs of messages that arrived after the sequence token.
// This is the cheap metadata step; full content comes from Fetch, after the
// dedup gate has run on each ID.
func (c *Client) Changes(ctx context.Context, sequenceToken string) ([]string, error) {
	query := url.Values{}
	query.Set("since", sequenceToken)

	reqURL := fmt.Sprintf("%s/mailboxes/%s/changes?%s", c.baseURL, c.mailboxID, query.Encode())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build changes request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list changes: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("changes list returned HTTP %d", resp.StatusCode)
	}

	var page changesResponse
	if err := json.NewDecoder(resp.Body).Decode(&page); err != nil {
		return nil, fmt.Errorf("decode changes response: %w", err)
	}

	ids := make([]string, 0, len(page.Messages))
	for _, m := range page.Messages {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// recentResponse is a page of the message list endpoint.
type recentResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
	NextPageToken string `json:"next_page_token"`
}

// Recent lists IDs of messages received after the given time, excluding
// those already carrying excludeLabel. Pages are walked to exhaustion.
func (c *Client) Recent(ctx context.Context, since time.Time, excludeLabel string) ([]string, error) {
	query := url.Values{}
	query.Set("received_after", since.UTC().Format(time.RFC3339))
	if excludeLabel != "" {
		query.Set("exclude_label", excludeLabel)
	}

	var ids []string
	for {
		reqURL := fmt.Sprintf("%s/mailboxes/%s/messages?%s", c.baseURL, c.mailboxID, query.Encode())
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
		if err != nil {
			return nil, fmt.Errorf("build recent request: %w", err)
		}
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return nil, fmt.Errorf("list recent messages: %w", err)
		}

		if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("recent list returned HTTP %d", resp.StatusCode)
		}

		var page recentResponse
		err = json.NewDecoder(resp.Body).Decode(&page)
		resp.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("decode recent response: %w", err)
		}

		for _, m := range page.Messages {
			ids = append(ids, m.ID)
		}

		if page.NextPageToken == "" {
			return ids, nil
		}
		query.Set("page_token", page.NextPageToken)
	}
}

// Fetch retrieves the full content of a single message.
// Returns (nil, nil) when the message no longer exists.
func (c *Client) Fetch(ctx context.Context, messageID string) (*models.RawMessage, error) {
	reqURL := fmt.Sprintf("%s/mailboxes/%s/messages/%s", c.baseURL, c.mailboxID, messageID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build fetch request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		slog.Warn("message not found (may have been deleted)", "message_id", messageID)
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("provider returned HTTP %d for message %s", resp.StatusCode, messageID)
	}

	msg, err := parseProviderMessage(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("parse message: %w", err)
	}
	return msg, nil
}

// OutboundMessage is the dispatch payload.
type OutboundMessage struct {
	ThreadID string            `json:"thread_id"`
	To       string            `json:"to"`
	From     string            `json:"from"`
	ReplyTo  string            `json:"reply_to"`
	Subject  string            `json:"subject"`
	Body     string            `json:"body"`
	Headers  map[string]string `json:"headers,omitempty"`
}

// Send dispatches an outbound message on an existing thread.
func (c *Client) Send(ctx context.Context, out OutboundMessage) error {
	body, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("marshal outbound message: %w", err)
	}

	reqURL := fmt.Sprintf("%s/mailboxes/%s/messages/send", c.baseURL, c.mailboxID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build send request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("provider send returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// Mark applies a label to a message. The label is the human-auditable
// second line of defense against duplicate replies.
func (c *Client) Mark(ctx context.Context, messageID, label string) error {
	payload, err := json.Marshal(map[string]string{"label": label})
	if err != nil {
		return fmt.Errorf("marshal label payload: %w", err)
	}

	reqURL := fmt.Sprintf("%s/mailboxes/%s/messages/%s/labels", c.baseURL, c.mailboxID, messageID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build label request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("apply label: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusNoContent {
		return fmt.Errorf("provider label returned HTTP %d", resp.StatusCode)
	}
	return nil
}

// watchResponse is the provider's watch registration result.
type watchResponse struct {
	ExpiresAt time.Time `json:"expires_at"`
}

// RenewWatch re-establishes the push notification subscription and returns
// its new expiry.
func (c *Client) RenewWatch(ctx context.Context) (time.Time, error) {
	reqURL := fmt.Sprintf("%s/mailboxes/%s/watch", c.baseURL, c.mailboxID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, nil)
	if err != nil {
		return time.Time{}, fmt.Errorf("build watch request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return time.Time{}, fmt.Errorf("renew watch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		return time.Time{}, fmt.Errorf("provider watch returned HTTP %d", resp.StatusCode)
	}

	var out watchResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return time.Time{}, fmt.Errorf("decode watch response: %w", err)
	}
	if out.ExpiresAt.IsZero() {
		return time.Time{}, fmt.Errorf("provider watch response missing expires_at")
	}
	return out.ExpiresAt, nil
}
