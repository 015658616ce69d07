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

// areai — Automated Reply Service
//
// Entry point for the auto-reply service. It:
//  1. Loads configuration from config.yaml
//  2. Connects to PostgreSQL and Redis
//  3. Builds the per-message pipeline (dedup, fetch, identity, generation,
//     loop guard, dispatch)
//  4. Starts the watch lifecycle manager so push notifications keep flowing
//  5. Serves the /process push endpoint and operational endpoints
//  6. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/addhe/areai/internal/audit"
	"github.com/addhe/areai/internal/config"
	"github.com/addhe/areai/internal/genai"
	"github.com/addhe/areai/internal/idempotency"
	"github.com/addhe/areai/internal/identity"
	"github.com/addhe/areai/internal/loopguard"
	"github.com/addhe/areai/internal/mailbox"
	"github.com/addhe/areai/internal/normalize"
	"github.com/addhe/areai/internal/pipeline"
	"github.com/addhe/areai/internal/reply"
	"github.com/addhe/areai/internal/resilience"
	"github.com/addhe/areai/internal/server"
	"github.com/addhe/areai/internal/watch"
)

func main() {
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("starting auto-reply service")

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"mailbox_id", cfg.Mailbox.MailboxID,
		"retention_ttl", cfg.RetentionTTL,
		"watch_renew_buffer", cfg.WatchRenewBuffer,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect to PostgreSQL ---
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	if err := pgPool.Ping(ctx); err != nil {
		slog.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to PostgreSQL")

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)

	store := idempotency.NewRedisStore(rdb, cfg.RetentionTTL)
	if err := store.Ping(ctx); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	// --- Audit Publisher ---
	auditor := audit.NewPublisher(rdb, cfg.AuditQueue)

	// --- Mailbox client (OAuth2 client credentials) ---
	var mailboxHTTP *http.Client
	if cfg.Mailbox.ClientID != "" {
		creds := &clientcredentials.Config{
			ClientID:     cfg.Mailbox.ClientID,
			ClientSecret: cfg.Mailbox.ClientSecret,
			TokenURL:     cfg.Mailbox.TokenURL,
		}
		mailboxHTTP = creds.Client(ctx)
	} else {
		// Local development against an unauthenticated provider stub.
		slog.Warn("mailbox client_id not set, using unauthenticated HTTP client")
		mailboxHTTP = &http.Client{Timeout: cfg.CallTimeout}
	}
	mbx := mailbox.NewClient(mailboxHTTP, cfg.Mailbox.BaseURL, cfg.Mailbox.MailboxID)

	// --- Resilience ---
	retryPolicy := resilience.Policy{
		MaxAttempts: cfg.RetryMaxAttempts,
		BaseDelay:   cfg.RetryBaseDelay,
		MaxDelay:    cfg.RetryMaxDelay,
		Jitter:      cfg.RetryJitter,
	}
	identityBreaker := resilience.NewBreaker("identity", cfg.BreakerThreshold, cfg.BreakerCooldown)
	dispatchBreaker := resilience.NewBreaker("dispatch", cfg.BreakerThreshold, cfg.BreakerCooldown)

	// --- Identity Verifier ---
	verifier := identity.NewVerifier(identity.Config{
		Endpoint:         cfg.Identity.URL,
		APIKey:           cfg.Identity.APIKey,
		Breaker:          identityBreaker,
		Policy:           retryPolicy,
		PremiumThreshold: cfg.Identity.PremiumThreshold,
		CallTimeout:      cfg.CallTimeout,
	})

	// --- Normalizer + Generator ---
	norm := normalize.New(cfg.Mailbox.ProtectedAlias, cfg.RedactMinDigits, cfg.MaxBodyChars)

	backend := genai.NewClient(genai.Config{
		APIBase:   cfg.Generator.APIBase,
		APIKey:    cfg.Generator.APIKey,
		Model:     cfg.Generator.Model,
		MaxTokens: cfg.Generator.MaxTokens,
		Timeout:   cfg.Generator.Timeout,
	})
	generator := reply.NewGenerator(reply.GeneratorConfig{
		Backend:    backend,
		Normalizer: norm,
		Tone:       cfg.Generator.Tone,
		Signature:  cfg.Generator.Signature,
		Retry:      retryPolicy,
		Timeout:    cfg.Generator.Timeout,
	})

	// --- Loop Guard ---
	guard := loopguard.New(
		cfg.Mailbox.ProtectedAlias,
		cfg.Generator.Signature,
		cfg.QuoteMarkerThreshold,
		cfg.ReplyIndicatorLimit,
	)

	// --- Dispatcher ---
	dispatcher := mailbox.NewDispatcher(mailbox.DispatcherConfig{
		Client:         mbx,
		Breaker:        dispatchBreaker,
		Policy:         retryPolicy,
		ProtectedAlias: cfg.Mailbox.ProtectedAlias,
		Label:          cfg.Mailbox.AutoReplyLabel,
		CallTimeout:    cfg.CallTimeout,
	})

	// --- Pipeline ---
	orch := pipeline.NewOrchestrator(pipeline.OrchestratorConfig{
		Store:       store,
		Fetcher:     mbx,
		Verifier:    verifier,
		Normalizer:  norm,
		Generator:   generator,
		Guard:       guard,
		Dispatcher:  dispatcher,
		Observer:    pipeline.MultiObserver{pipeline.LogObserver{}, auditor},
		CallTimeout: cfg.CallTimeout,
	})

	// --- Watch Lifecycle ---
	watchStore, err := watch.NewStore(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise watch store", "error", err)
		os.Exit(1)
	}
	watcher := watch.NewManager(watchStore, mbx, cfg.Mailbox.MailboxID, cfg.WatchRenewBuffer)
	if err := watcher.Start(ctx); err != nil {
		slog.Error("failed to start watch manager", "error", err)
		os.Exit(1)
	}

	// --- HTTP Server ---
	handler := server.NewHandler(orch, watcher, cfg.PipelineBudget, map[string]server.Pinger{
		"redis":    store,
		"postgres": pgPool,
	})
	ready, err := server.Serve(ctx, cfg.Port, handler)
	if err != nil {
		slog.Error("failed to start http server", "error", err)
		os.Exit(1)
	}
	<-ready
	slog.Info("auto-reply service ready", "port", cfg.Port)

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	sig := <-sigCh

	slog.Info("received shutdown signal", "signal", sig)
	cancel() // Stops the http server and background goroutines

	watcher.Stop()

	// In-flight /process requests get a grace period to reach a terminal
	// state before the backends close.
	time.Sleep(2 * time.Second)

	rdb.Close()
	pgPool.Close()

	slog.Info("auto-reply service stopped")
}
