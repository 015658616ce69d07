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

// Package reply builds prompts and produces reply drafts. Generation is
// best-effort: any backend failure degrades to a canned acknowledgement,
// never to an error — a generic reply beats silence, and silence beats a
// malformed reply.
package reply

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/addhe/areai/internal/models"
	"github.com/addhe/areai/internal/normalize"
	"github.com/addhe/areai/internal/resilience"
)

// FallbackText is the canned acknowledgement used when generation fails.
const FallbackText = "Thank you for your email. I'm an automated assistant and I'm currently experiencing technical difficulties. A human will review your message as soon as possible."

// Backend is the generative service boundary. Implementations must not
// carry conversation state between calls.
type Backend interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// Generator produces redacted reply drafts from normalized mail content.
type Generator struct {
	backend   Backend
	norm      *normalize.Normalizer
	tone      string
	signature string
	retry     resilience.Policy
	timeout   time.Duration
}

// GeneratorConfig holds the generator dependencies and tuning.
type GeneratorConfig struct {
	Backend    Backend
	Normalizer *normalize.Normalizer
	Tone       string
	Signature  string
	Retry      resilience.Policy
	Timeout    time.Duration
}

// NewGenerator creates a reply generator.
func NewGenerator(cfg GeneratorConfig) *Generator {
	if cfg.Tone == "" {
		cfg.Tone = "formal"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &Generator{
		backend:   cfg.Backend,
		norm:      cfg.Normalizer,
		tone:      cfg.Tone,
		signature: cfg.Signature,
		retry:     cfg.Retry,
		timeout:   cfg.Timeout,
	}
}

// Generate produces a reply draft for the message. customer is nil for
// unverified senders. The draft text is always redacted and never empty.
func (g *Generator) Generate(ctx context.Context, sender, subject, normalizedBody string, customer *models.CustomerRecord) models.ReplyDraft {
	system := g.systemInstruction()
	prompt := g.buildPrompt(sender, subject, normalizedBody, customer)

	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	var text string
	err := resilience.Retry(ctx, g.retry, func(ctx context.Context) error {
		out, err := g.backend.Complete(ctx, system, prompt)
		if err != nil {
			return err
		}
		text = out
		return nil
	})
	if err != nil || strings.TrimSpace(text) == "" {
		slog.Warn("reply generation failed, using fallback",
			"sender", sender,
			"error", err,
		)
		return models.ReplyDraft{
			Text:   g.norm.Redact(g.withSignature(FallbackText)),
			Source: models.SourceFallback,
		}
	}

	return models.ReplyDraft{
		Text:   g.norm.Redact(text),
		Source: models.SourceGenerated,
	}
}

// systemInstruction carries the role, tone, and privacy guardrails.
func (g *Generator) systemInstruction() string {
	var b strings.Builder
	b.WriteString("You are a helpful customer-service email assistant. Write a polite, professional reply in a ")
	b.WriteString(g.tone)
	b.WriteString(" tone.\n\n")
	b.WriteString("SECURITY AND PRIVACY RULES:\n")
	b.WriteString("- Use only the current email and the additional context given below.\n")
	b.WriteString("- Do not use memory of other conversations, other emails, or outside knowledge about the customer.\n")
	b.WriteString("- Mention no personal data beyond the sender's name and account tier when provided. Never mention email addresses, phone numbers, or account numbers.\n")
	b.WriteString("- If the email refers to earlier history that is not present, answer generally or ask for clarification; never guess.\n")
	b.WriteString("- Never request sensitive information (PIN, OTP, passwords).\n\n")
	b.WriteString("The reply must be 2-3 sentences, contain no placeholders, and end with:\n")
	b.WriteString("Kind regards,\n")
	if g.signature != "" {
		b.WriteString(g.signature)
	} else {
		b.WriteString("Customer Care")
	}
	return b.String()
}

// buildPrompt assembles the per-message prompt. Verified customers
// contribute name and derived tier only — never the raw balance or
// internal identifiers.
func (g *Generator) buildPrompt(sender, subject, normalizedBody string, customer *models.CustomerRecord) string {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\n", sender)
	fmt.Fprintf(&b, "Subject: %s\n", subject)
	fmt.Fprintf(&b, "Message (quoted history removed): %s\n\n", normalizedBody)

	b.WriteString("Additional context:\n")
	if customer != nil {
		fmt.Fprintf(&b, "- Sender status: verified customer\n")
		fmt.Fprintf(&b, "- Customer name: %s\n", customer.Name)
		fmt.Fprintf(&b, "- Account tier: %s\n", customer.AccountTier)
	} else {
		b.WriteString("- Sender status: not a verified customer\n")
	}
	return b.String()
}

func (g *Generator) withSignature(text string) string {
	sig := g.signature
	if sig == "" {
		sig = "Customer Care"
	}
	return text + "\n\nKind regards,\n" + sig
}
