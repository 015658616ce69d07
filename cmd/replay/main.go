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

// areai — Replay Command
//
// Standalone CLI tool that rescans recent unanswered messages through the
// reply pipeline. Intended for recovering from a lapsed watch or an
// extended outage, where push notifications were lost but the messages
// are still sitting unlabelled in the mailbox.
//
// Usage:
//
//	go run ./cmd/replay/ [--since 24h] [--dry-run]
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/addhe/areai/internal/config"
	"github.com/addhe/areai/internal/genai"
	"github.com/addhe/areai/internal/idempotency"
	"github.com/addhe/areai/internal/identity"
	"github.com/addhe/areai/internal/loopguard"
	"github.com/addhe/areai/internal/mailbox"
	"github.com/addhe/areai/internal/models"
	"github.com/addhe/areai/internal/normalize"
	"github.com/addhe/areai/internal/pipeline"
	"github.com/addhe/areai/internal/replay"
	"github.com/addhe/areai/internal/reply"
	"github.com/addhe/areai/internal/resilience"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// --- CLI Flags ---
	sinceFlag := flag.String("since", "24h", "Lookback duration (e.g. 24h, 72h)")
	dryRunFlag := flag.Bool("dry-run", false, "List and classify messages without sending replies")
	flag.Parse()

	lookback, err := time.ParseDuration(*sinceFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: invalid --since duration %q: %v\n", *sinceFlag, err)
		os.Exit(1)
	}

	slog.Info("starting replay", "since", lookback, "dry_run", *dryRunFlag)

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)
	defer rdb.Close()

	redisStore := idempotency.NewRedisStore(rdb, cfg.RetentionTTL)
	if err := redisStore.Ping(ctx); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	// A dry run must not commit reservations, or the later real run would
	// see every message as already done.
	var store idempotency.Store = redisStore
	if *dryRunFlag {
		store = idempotency.NewMemoryStore(cfg.RetentionTTL)
	}

	// --- Mailbox client ---
	var mailboxHTTP *http.Client
	if cfg.Mailbox.ClientID != "" {
		creds := &clientcredentials.Config{
			ClientID:     cfg.Mailbox.ClientID,
			ClientSecret: cfg.Mailbox.ClientSecret,
			TokenURL:     cfg.Mailbox.TokenURL,
		}
		mailboxHTTP = creds.Client(ctx)
	} else {
		mailboxHTTP = &http.Client{Timeout: cfg.CallTimeout}
	}
	mbx := mailbox.NewClient(mailboxHTTP, cfg.Mailbox.BaseURL, cfg.Mailbox.MailboxID)

	// --- Pipeline components ---
	retryPolicy := resilience.Policy{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    cfg.RetryMaxDelay,
		Jitter:      cfg.RetryJitter,
	}

	verifier := identity.NewVerifier(identity.Config{
		Endpoint:         cfg.Identity.URL,
		APIKey:           cfg.Identity.APIKey,
		Breaker:          resilience.NewBreaker("identity", cfg.BreakerThreshold, cfg.BreakerCooldown),
		Policy:           retryPolicy,
		PremiumThreshold: cfg.Identity.PremiumThreshold,
		CallTimeout:      cfg.CallTimeout,
	})

	norm := normalize.New(cfg.Mailbox.ProtectedAlias, cfg.RedactMinDigits, cfg.MaxBodyChars)

	generator := reply.NewGenerator(reply.GeneratorConfig{
		Backend: genai.NewClient(genai.Config{
			APIBase:   cfg.Generator.APIBase,
			APIKey:    cfg.Generator.APIKey,
			Model:     cfg.Generator.Model,
			MaxTokens: cfg.Generator.MaxTokens,
			Timeout:   cfg.Generator.Timeout,
		}),
		Normalizer: norm,
		Tone:       cfg.Generator.Tone,
		Signature:  cfg.Generator.Signature,
		Retry:      retryPolicy,
		Timeout:    cfg.Generator.Timeout,
	})

	guard := loopguard.New(
		cfg.Mailbox.ProtectedAlias,
		cfg.Generator.Signature,
		cfg.QuoteMarkerThreshold,
		cfg.ReplyIndicatorLimit,
	)

	var dispatcher pipeline.Dispatcher = mailbox.NewDispatcher(mailbox.DispatcherConfig{
		Client:         mbx,
		Breaker:        resilience.NewBreaker("dispatch", cfg.BreakerThreshold, cfg.BreakerCooldown),
		Policy:         retryPolicy,
		ProtectedAlias: cfg.Mailbox.ProtectedAlias,
		Label:          cfg.Mailbox.AutoReplyLabel,
		CallTimeout:    cfg.CallTimeout,
	})
	if *dryRunFlag {
		dispatcher = dryRunDispatcher{}
	}

	orch := pipeline.NewOrchestrator(pipeline.OrchestratorConfig{
		Store:       store,
		Fetcher:     mbx,
		Verifier:    verifier,
		Normalizer:  norm,
		Generator:   generator,
		Guard:       guard,
		Dispatcher:  dispatcher,
		Observer:    pipeline.LogObserver{},
		CallTimeout: cfg.CallTimeout,
	})

	// --- Run Replay ---
	runner := replay.NewRunner(replay.RunnerConfig{
		Lister:       mbx,
		Pipeline:     orch,
		ExcludeLabel: cfg.Mailbox.AutoReplyLabel,
	})

	result, err := runner.Run(ctx, lookback)
	if err != nil {
		slog.Error("replay failed", "error", err)
		os.Exit(1)
	}

	// --- Summary ---
	slog.Info("replay complete",
		"scanned", result.Scanned,
		"replied", result.Replied,
		"skipped", result.Skipped,
		"failed", result.Failed,
		"elapsed", result.Elapsed,
	)
}

// dryRunDispatcher logs what would be sent without touching the provider.
type dryRunDispatcher struct{}

func (dryRunDispatcher) SendReply(ctx context.Context, src *models.RawMessage, draft models.ReplyDraft) error {
	slog.Info("dry-run: would send reply",
		"message_id", src.MessageID,
		"to", src.ReplyTo,
		"source", string(draft.Source),
		"body_len", len(draft.Text),
	)
	return nil
}

func (dryRunDispatcher) MarkProcessed(ctx context.Context, messageID string) error {
	slog.Info("dry-run: would mark processed", "message_id", messageID)
	return nil
}
