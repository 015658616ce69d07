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

// Package identity resolves sender addresses to customer records via the
// external identity service. Verification is enrichment only: not-found,
// timeouts, and an open circuit all yield "unverified", never an error.
package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/addhe/areai/internal/models"
	"github.com/addhe/areai/internal/resilience"
)

// Verifier calls the identity service through a circuit breaker named
// "identity" and derives the account tier locally.
type Verifier struct {
	endpoint         string
	apiKey           string
	client           *http.Client
	breaker          *resilience.Breaker
	policy           resilience.Policy
	premiumThreshold int64
}

// Config holds the verifier dependencies and tuning.
type Config struct {
	Endpoint         string
	APIKey           string
	Breaker          *resilience.Breaker
	Policy           resilience.Policy
	PremiumThreshold int64
	CallTimeout      time.Duration
}

// NewVerifier creates an identity verifier.
func NewVerifier(cfg Config) *Verifier {
	timeout := cfg.CallTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	threshold := cfg.PremiumThreshold
	if threshold <= 0 {
		threshold = 10_000_000
	}
	return &Verifier{
		endpoint:         cfg.Endpoint,
		apiKey:           cfg.APIKey,
		client:           &http.Client{Timeout: timeout},
		breaker:          cfg.Breaker,
		policy:           cfg.Policy,
		premiumThreshold: threshold,
	}
}

// identityResponse is the identity service's record shape.
type identityResponse struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Status  string `json:"status"`
	Balance int64  `json:"balance"`
}

// Verify resolves a sender address to a customer record, or nil when the
// sender is unverified for any reason. It never returns an error to the
// pipeline.
func (v *Verifier) Verify(ctx context.Context, senderAddress string) *models.CustomerRecord {
	address := NormalizeAddress(senderAddress)
	if address == "" {
		return nil
	}

	var record *models.CustomerRecord
	err := v.breaker.Call(ctx, v.policy, func(ctx context.Context) error {
		rec, err := v.lookup(ctx, address)
		if err != nil {
			return err
		}
		record = rec
		return nil
	})
	if err != nil {
		slog.Warn("identity verification unavailable, treating sender as unverified",
			"address", address,
			"error", err,
		)
		return nil
	}
	if record == nil {
		slog.Info("sender not found in identity service", "address", address)
		return nil
	}

	record.AccountTier = v.tierFor(record.Balance)
	return record
}

// lookup performs one identity service call. A 404 is a successful
// "not a customer" outcome, not a dependency failure.
func (v *Verifier) lookup(ctx context.Context, address string) (*models.CustomerRecord, error) {
	query := url.Values{}
	query.Set("address", address)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, v.endpoint+"?"+query.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build identity request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("x-api-key", v.apiKey)

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("identity request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("identity service returned HTTP %d", resp.StatusCode)
	}

	var body identityResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decode identity response: %w", err)
	}

	return &models.CustomerRecord{
		CustomerID: body.ID,
		Name:       body.Name,
		Status:     body.Status,
		Balance:    body.Balance,
	}, nil
}

func (v *Verifier) tierFor(balance int64) models.AccountTier {
	if balance >= v.premiumThreshold {
		return models.TierPremium
	}
	return models.TierStandard
}

// NormalizeAddress extracts and lowercases the bare address from forms
// like `Name <user@example.com>`.
func NormalizeAddress(address string) string {
	if i := strings.Index(address, "<"); i >= 0 {
		if j := strings.Index(address[i:], ">"); j > 0 {
			address = address[i+1 : i+j]
		}
	}
	return strings.ToLower(strings.TrimSpace(address))
}
