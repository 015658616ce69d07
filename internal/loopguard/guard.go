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

// Package loopguard detects mail that is itself an automated reply — from
// this system or any other — so the pipeline never answers its own output.
// Thresholds are deliberately loose so ordinary human reply chains pass.
package loopguard

import (
	"strings"

	"github.com/addhe/areai/internal/models"
)

// replyIndicators are subject prefixes counted toward the reply-chain limit.
var replyIndicators = []string{"re:", "fw:", "fwd:"}

// autoReplyPhrases mark mail from mailers and auto-responders.
var autoReplyPhrases = []string{
	"auto-reply", "automatic reply", "auto reply", "out of office",
	"automated response", "do not reply", "noreply", "no-reply",
	"mailer-daemon", "mail delivery", "delivery status", "delivery failure",
	"undeliverable", "returned mail",
}

// Guard holds the loop-detection configuration.
type Guard struct {
	protectedAlias       string
	signature            string
	quoteMarkerThreshold int
	replyIndicatorLimit  int
}

// New creates a loop guard. signature is the phrase the system appends to
// its own replies; quoteMarkerThreshold is the quote-line count at which a
// signature match blocks; replyIndicatorLimit is the subject "Re:/Fwd:"
// count at which a chain blocks.
func New(protectedAlias, signature string, quoteMarkerThreshold, replyIndicatorLimit int) *Guard {
	if quoteMarkerThreshold <= 0 {
		quoteMarkerThreshold = 3
	}
	if replyIndicatorLimit <= 0 {
		replyIndicatorLimit = 2
	}
	return &Guard{
		protectedAlias:       strings.ToLower(protectedAlias),
		signature:            strings.ToLower(signature),
		quoteMarkerThreshold: quoteMarkerThreshold,
		replyIndicatorLimit:  replyIndicatorLimit,
	}
}

// Check reports whether the message must not be answered, with a reason
// suitable for logging. It inspects headers, subject, and body.
func (g *Guard) Check(msg *models.RawMessage) (blocked bool, reason string) {
	if g.protectedAlias != "" && strings.Contains(strings.ToLower(msg.From.Address), g.protectedAlias) {
		return true, "message is from the protected alias"
	}

	if reason := autoReplyHeader(msg.Headers); reason != "" {
		return true, reason
	}

	subject := strings.ToLower(msg.Subject)
	indicators := 0
	for _, ind := range replyIndicators {
		indicators += strings.Count(subject, ind)
	}
	if indicators >= g.replyIndicatorLimit {
		return true, "subject carries a long reply chain"
	}

	body := strings.ToLower(msg.Body)
	for _, phrase := range autoReplyPhrases {
		if strings.Contains(subject, phrase) || strings.Contains(body, phrase) {
			return true, "auto-reply phrase: " + phrase
		}
	}

	if g.signature != "" && strings.Contains(body, g.signature) {
		if countQuoteLines(msg.Body) >= g.quoteMarkerThreshold {
			return true, "own signature with quoted history"
		}
	}

	return false, ""
}

// autoReplyHeader checks the standard machine-generated-mail headers.
// Header keys are expected lowercased (the mailbox parser guarantees this).
func autoReplyHeader(headers map[string]string) string {
	if v := strings.ToLower(headers["auto-submitted"]); v != "" && v != "no" {
		return "auto-submitted header"
	}
	if headers["x-auto-response-suppress"] != "" {
		return "x-auto-response-suppress header"
	}
	switch strings.ToLower(headers["precedence"]) {
	case "bulk", "auto_reply", "junk":
		return "precedence header"
	}
	if headers["x-autoreply"] != "" || headers["x-autorespond"] != "" {
		return "explicit auto-reply header"
	}
	return ""
}

// countQuoteLines counts lines beginning with the conventional ">" marker.
func countQuoteLines(body string) int {
	count := 0
	for _, line := range strings.Split(body, "\n") {
		if strings.HasPrefix(strings.TrimSpace(line), ">") {
			count++
		}
	}
	return count
}
