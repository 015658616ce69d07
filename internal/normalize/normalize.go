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

// Package normalize strips quoted reply history from inbound mail and
// redacts sensitive substrings from text before it leaves the system.
package normalize

import (
	"fmt"
	"regexp"
	"strings"
)

const (
	emailMarker  = "[redacted-email]"
	numberMarker = "[redacted-number]"

	forwardedMarker = "-------- Forwarded message --------"
)

var (
	emailRe    = regexp.MustCompile(`[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}`)
	newlinesRe = regexp.MustCompile(`\n{3,}`)
)

// Normalizer applies quote stripping and redaction with configured limits.
type Normalizer struct {
	protectedAlias string
	maxBodyChars   int
	digitsRe       *regexp.Regexp
}

// New creates a normalizer. protectedAlias is the one address that survives
// email redaction; minDigitRun is the shortest digit run to redact;
// maxBodyChars caps the stripped body sent downstream.
func New(protectedAlias string, minDigitRun, maxBodyChars int) *Normalizer {
	if minDigitRun <= 0 {
		minDigitRun = 6
	}
	if maxBodyChars <= 0 {
		maxBodyChars = 1500
	}
	return &Normalizer{
		protectedAlias: strings.ToLower(protectedAlias),
		maxBodyChars:   maxBodyChars,
		digitsRe:       regexp.MustCompile(fmt.Sprintf(`[0-9]{%d,}`, minDigitRun)),
	}
}

// StripQuotes removes trailing quoted-reply blocks so only the newest
// user-authored text reaches the generator. Heuristics cover the common
// reply formats: ">" quote lines, "On ... wrote:" boundaries, forwarded
// message separators, and inline "From:" headers.
func (n *Normalizer) StripQuotes(body string) string {
	if body == "" {
		return body
	}

	var cleaned []string
	for _, line := range strings.Split(body, "\n") {
		l := strings.TrimSpace(line)
		if strings.HasPrefix(l, ">") {
			continue
		}
		lower := strings.ToLower(l)
		if strings.HasPrefix(lower, "on ") && strings.Contains(lower, "wrote:") {
			break
		}
		if strings.Contains(l, forwardedMarker) {
			break
		}
		if strings.HasPrefix(l, "From:") && strings.Contains(l, "@") {
			break
		}
		cleaned = append(cleaned, line)
	}

	text := strings.TrimSpace(strings.Join(cleaned, "\n"))

	// Cap length to bound token cost and accidental context carry-over.
	if runes := []rune(text); len(runes) > n.maxBodyChars {
		text = string(runes[:n.maxBodyChars])
	}
	return text
}

// Redact replaces email addresses other than the protected alias and digit
// runs at or above the configured length with fixed markers, then collapses
// excess blank lines. Redact is idempotent: the markers themselves contain
// nothing redactable.
func (n *Normalizer) Redact(text string) string {
	if text == "" {
		return text
	}

	text = emailRe.ReplaceAllStringFunc(text, func(match string) string {
		if n.protectedAlias != "" && strings.ToLower(match) == n.protectedAlias {
			return match
		}
		return emailMarker
	})

	text = n.digitsRe.ReplaceAllString(text, numberMarker)
	text = newlinesRe.ReplaceAllString(text, "\n\n")

	return strings.TrimSpace(text)
}
