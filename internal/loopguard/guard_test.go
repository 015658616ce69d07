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

package loopguard

import (
	"testing"

	"github.com/addhe/areai/internal/models"
)

func newTestGuard() *Guard {
	return New("support@example.com", "kind regards,\nsupport team", 3, 2)
}

// TestCheck covers the block conditions and the human-mail pass path.
func TestCheck(t *testing.T) {
	g := newTestGuard()

	tests := []struct {
		name        string
		msg         models.RawMessage
		wantBlocked bool
	}{
		{
			name: "ordinary question passes",
			msg: models.RawMessage{
				From:    models.EmailAddress{Address: "jane@corp.io"},
				Subject: "Question about my invoice",
				Body:    "Hi, could you check my last invoice?",
			},
			wantBlocked: false,
		},
		{
			name: "single re passes",
			msg: models.RawMessage{
				From:    models.EmailAddress{Address: "jane@corp.io"},
				Subject: "Re: Question about my invoice",
				Body:    "Thanks, one more thing.",
			},
			wantBlocked: false,
		},
		{
			name: "from protected alias",
			msg: models.RawMessage{
				From:    models.EmailAddress{Address: "support@example.com"},
				Subject: "Re: hello",
				Body:    "anything",
			},
			wantBlocked: true,
		},
		{
			name: "auto-submitted header",
			msg: models.RawMessage{
				From:    models.EmailAddress{Address: "jane@corp.io"},
				Subject: "vacation",
				Body:    "I am away",
				Headers: map[string]string{"auto-submitted": "auto-replied"},
			},
			wantBlocked: true,
		},
		{
			name: "auto-submitted no is not a block",
			msg: models.RawMessage{
				From:    models.EmailAddress{Address: "jane@corp.io"},
				Subject: "vacation",
				Body:    "I am travelling next week",
				Headers: map[string]string{"auto-submitted": "no"},
			},
			wantBlocked: false,
		},
		{
			name: "precedence bulk header",
			msg: models.RawMessage{
				From:    models.EmailAddress{Address: "news@corp.io"},
				Subject: "weekly digest",
				Body:    "news content",
				Headers: map[string]string{"precedence": "bulk"},
			},
			wantBlocked: true,
		},
		{
			name: "x-auto-response-suppress header",
			msg: models.RawMessage{
				From:    models.EmailAddress{Address: "jane@corp.io"},
				Subject: "hello",
				Body:    "hello",
				Headers: map[string]string{"x-auto-response-suppress": "All"},
			},
			wantBlocked: true,
		},
		{
			name: "stacked reply chain",
			msg: models.RawMessage{
				From:    models.EmailAddress{Address: "jane@corp.io"},
				Subject: "Re: Re: Fwd: invoice",
				Body:    "see below",
			},
			wantBlocked: true,
		},
		{
			name: "out of office phrase",
			msg: models.RawMessage{
				From:    models.EmailAddress{Address: "jane@corp.io"},
				Subject: "Automatic reply: invoice",
				Body:    "I am out of office until Monday.",
			},
			wantBlocked: true,
		},
		{
			name: "mailer daemon bounce",
			msg: models.RawMessage{
				From:    models.EmailAddress{Address: "postmaster@corp.io"},
				Subject: "Undeliverable: your message",
				Body:    "mail delivery failed",
			},
			wantBlocked: true,
		},
		{
			name: "own signature with quoted history",
			msg: models.RawMessage{
				From:    models.EmailAddress{Address: "jane@corp.io"},
				Subject: "Re: invoice",
				Body: "ok\n> Kind regards,\n> Support Team\n> previous reply body\n" +
					"kind regards,\nsupport team",
			},
			wantBlocked: true,
		},
		{
			name: "own signature without quoted history passes",
			msg: models.RawMessage{
				From:    models.EmailAddress{Address: "jane@corp.io"},
				Subject: "invoice",
				Body:    "I liked your sign-off: kind regards,\nsupport team",
			},
			wantBlocked: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			blocked, reason := g.Check(&tt.msg)
			if blocked != tt.wantBlocked {
				t.Errorf("Check() blocked = %v (reason %q), want %v", blocked, reason, tt.wantBlocked)
			}
			if blocked && reason == "" {
				t.Error("blocked without a reason")
			}
		})
	}
}

// TestCountQuoteLines verifies the quote marker counter.
func TestCountQuoteLines(t *testing.T) {
	body := "top\n> one\n  > two\nmiddle\n> three"
	if got := countQuoteLines(body); got != 3 {
		t.Errorf("countQuoteLines = %d, want 3", got)
	}
}
