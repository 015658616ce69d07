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

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// MailboxConfig holds provider credentials and routing identity.
type MailboxConfig struct {
	BaseURL        string `yaml:"base_url"`
	MailboxID      string `yaml:"mailbox_id"`
	ProtectedAlias string `yaml:"protected_alias"`
	AutoReplyLabel string `yaml:"auto_reply_label"`
	ClientID       string `yaml:"client_id"`
	ClientSecret   string `yaml:"client_secret"`
	TokenURL       string `yaml:"token_url"`
}

// IdentityConfig holds the customer identity service endpoint.
type IdentityConfig struct {
	URL    string `yaml:"url"`
	APIKey string `yaml:"api_key"`

	// PremiumThreshold is the balance (in minor units) at or above which
	// a verified customer is classified as premium.
	PremiumThreshold int64
}

// GeneratorConfig holds the generative backend settings.
type GeneratorConfig struct {
	APIBase   string `yaml:"api_base"`
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	Tone      string `yaml:"tone"`
	Signature string `yaml:"signature"`

	MaxTokens int
	Timeout   time.Duration
}

// Config holds all configuration for the auto-reply service.
type Config struct {
	Mailbox   MailboxConfig
	Identity  IdentityConfig
	Generator GeneratorConfig

	// Redis
	RedisURL   string
	AuditQueue string

	// Postgres
	DatabaseURL string

	// Server
	Port int

	// Resilience
	CallTimeout      time.Duration
	PipelineBudget   time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMaxDelay    time.Duration
	RetryJitter      time.Duration

	// Idempotency
	RetentionTTL time.Duration

	// Normalizer
	RedactMinDigits int
	MaxBodyChars    int

	// Loop guard
	QuoteMarkerThreshold int
	ReplyIndicatorLimit  int

	// Watch lifecycle
	WatchRenewBuffer time.Duration
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Mailbox   MailboxConfig   `yaml:"mailbox"`
	Identity  IdentityConfig  `yaml:"identity"`
	Generator GeneratorConfig `yaml:"generator"`
	Redis     struct {
		URL        string `yaml:"url"`
		AuditQueue string `yaml:"audit_queue"`
	} `yaml:"redis"`
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables for tuning knobs.
func Load() (*Config, error) {
	configPath := envOrDefault("CONFIG_PATH", "/app/config/config.yaml")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	// Expand ${VAR} references in the YAML
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	cfg := &Config{
		Mailbox:   raw.Mailbox,
		Identity:  raw.Identity,
		Generator: raw.Generator,

		RedisURL:   firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		AuditQueue: firstNonEmpty(raw.Redis.AuditQueue, envOrDefault("AUDIT_QUEUE", "auto-reply-audit")),

		DatabaseURL: firstNonEmpty(raw.Database.URL, os.Getenv("DATABASE_URL")),

		Port: envOrDefaultInt("PORT", 8080),

		CallTimeout:      envOrDefaultDuration("CALL_TIMEOUT", 10*time.Second),
		PipelineBudget:   envOrDefaultDuration("PIPELINE_BUDGET", 15*time.Second),
		BreakerThreshold: envOrDefaultInt("BREAKER_THRESHOLD", 5),
		BreakerCooldown:  envOrDefaultDuration("BREAKER_COOLDOWN", 60*time.Second),
		RetryMaxAttempts: envOrDefaultInt("RETRY_MAX_ATTEMPTS", 3),
		RetryBaseDelay:   envOrDefaultDuration("RETRY_BASE_DELAY", 500*time.Millisecond),
		RetryMaxDelay:    envOrDefaultDuration("RETRY_MAX_DELAY", 5*time.Second),
		RetryJitter:      envOrDefaultDuration("RETRY_JITTER", 250*time.Millisecond),

		RetentionTTL: envOrDefaultDuration("RETENTION_TTL", 24*time.Hour),

		RedactMinDigits: envOrDefaultInt("REDACT_MIN_DIGITS", 6),
		MaxBodyChars:    envOrDefaultInt("MAX_BODY_CHARS", 1500),

		QuoteMarkerThreshold: envOrDefaultInt("QUOTE_MARKER_THRESHOLD", 3),
		ReplyIndicatorLimit:  envOrDefaultInt("REPLY_INDICATOR_LIMIT", 2),

		WatchRenewBuffer: envOrDefaultDuration("WATCH_RENEW_BUFFER", 12*time.Hour),
	}

	cfg.Identity.PremiumThreshold = envOrDefaultInt64("PREMIUM_THRESHOLD", 10_000_000)
	cfg.Generator.MaxTokens = envOrDefaultInt("GENERATOR_MAX_TOKENS", 256)
	cfg.Generator.Timeout = envOrDefaultDuration("GENERATOR_TIMEOUT", 10*time.Second)

	if cfg.Generator.Tone == "" {
		cfg.Generator.Tone = "formal"
	}
	if cfg.Mailbox.AutoReplyLabel == "" {
		cfg.Mailbox.AutoReplyLabel = "Auto-Replied"
	}

	if cfg.Mailbox.BaseURL == "" || cfg.Mailbox.MailboxID == "" {
		return nil, fmt.Errorf("mailbox.base_url and mailbox.mailbox_id are required — check config.yaml")
	}
	if cfg.Mailbox.ProtectedAlias == "" {
		return nil, fmt.Errorf("mailbox.protected_alias is required — replies must route through a single monitored alias")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
