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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CONFIG_PATH", path)
}

const minimalConfig = `
mailbox:
  base_url: https://mail.example.com/api
  mailbox_id: mb-1
  protected_alias: support@example.com
identity:
  url: https://identity.example.com/lookup
  api_key: key
generator:
  api_key: sk-test
  signature: Support Team
`

// TestLoad verifies YAML fields, env expansion, and defaults.
func TestLoad(t *testing.T) {
	t.Setenv("MAILBOX_SECRET", "s3cret")
	writeConfig(t, `
mailbox:
  base_url: https://mail.example.com/api
  mailbox_id: mb-1
  protected_alias: support@example.com
  client_secret: ${MAILBOX_SECRET}
identity:
  url: https://identity.example.com/lookup
  api_key: key
generator:
  api_key: sk-test
  signature: Support Team
  tone: friendly
redis:
  url: redis://cache:6379/1
database:
  url: postgres://db/areai
`)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Mailbox.MailboxID != "mb-1" {
		t.Errorf("MailboxID = %q", cfg.Mailbox.MailboxID)
	}
	if cfg.Mailbox.ProtectedAlias != "support@example.com" {
		t.Errorf("ProtectedAlias = %q", cfg.Mailbox.ProtectedAlias)
	}
	if cfg.Mailbox.ClientSecret != "s3cret" {
		t.Errorf("ClientSecret = %q, want env-expanded s3cret", cfg.Mailbox.ClientSecret)
	}
	if cfg.Generator.Tone != "friendly" {
		t.Errorf("Tone = %q, want friendly", cfg.Generator.Tone)
	}
	if cfg.RedisURL != "redis://cache:6379/1" {
		t.Errorf("RedisURL = %q", cfg.RedisURL)
	}
	if cfg.DatabaseURL != "postgres://db/areai" {
		t.Errorf("DatabaseURL = %q", cfg.DatabaseURL)
	}

	// Defaults for everything not set.
	if cfg.Mailbox.AutoReplyLabel != "Auto-Replied" {
		t.Errorf("AutoReplyLabel = %q", cfg.Mailbox.AutoReplyLabel)
	}
	if cfg.RetentionTTL != 24*time.Hour {
		t.Errorf("RetentionTTL = %v", cfg.RetentionTTL)
	}
	if cfg.BreakerThreshold != 5 || cfg.BreakerCooldown != 60*time.Second {
		t.Errorf("breaker defaults = %d/%v", cfg.BreakerThreshold, cfg.BreakerCooldown)
	}
	if cfg.Identity.PremiumThreshold != 10_000_000 {
		t.Errorf("PremiumThreshold = %d", cfg.Identity.PremiumThreshold)
	}
	if cfg.MaxBodyChars != 1500 || cfg.RedactMinDigits != 6 {
		t.Errorf("normalizer defaults = %d/%d", cfg.MaxBodyChars, cfg.RedactMinDigits)
	}
}

// TestLoad_EnvOverrides verifies tuning knobs read from the environment.
func TestLoad_EnvOverrides(t *testing.T) {
	writeConfig(t, minimalConfig)
	t.Setenv("BREAKER_THRESHOLD", "9")
	t.Setenv("RETENTION_TTL", "48h")
	t.Setenv("PREMIUM_THRESHOLD", "5000000")
	t.Setenv("PIPELINE_BUDGET", "30s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.BreakerThreshold != 9 {
		t.Errorf("BreakerThreshold = %d, want 9", cfg.BreakerThreshold)
	}
	if cfg.RetentionTTL != 48*time.Hour {
		t.Errorf("RetentionTTL = %v, want 48h", cfg.RetentionTTL)
	}
	if cfg.Identity.PremiumThreshold != 5_000_000 {
		t.Errorf("PremiumThreshold = %d", cfg.Identity.PremiumThreshold)
	}
	if cfg.PipelineBudget != 30*time.Second {
		t.Errorf("PipelineBudget = %v", cfg.PipelineBudget)
	}
}

// TestLoad_RequiredFields verifies missing mailbox identity fails fast.
func TestLoad_RequiredFields(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{
			name: "missing base_url",
			yaml: "mailbox:\n  mailbox_id: mb-1\n  protected_alias: a@b.c\n",
		},
		{
			name: "missing protected_alias",
			yaml: "mailbox:\n  base_url: https://x\n  mailbox_id: mb-1\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			writeConfig(t, tt.yaml)
			if _, err := Load(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

// TestLoad_MissingFile verifies a useful error for a bad CONFIG_PATH.
func TestLoad_MissingFile(t *testing.T) {
	t.Setenv("CONFIG_PATH", "/nonexistent/config.yaml")
	if _, err := Load(); err == nil {
		t.Error("expected error for missing config file")
	}
}
