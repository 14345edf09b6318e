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

package mailparse

import (
	"strings"
	"testing"
)

const plainMessage = "From: Alice <alice@example.com>\r\n" +
	"To: Bob <bob@example.com>\r\n" +
	"Subject: Lunch tomorrow\r\n" +
	"Date: Mon, 17 Aug 2026 10:30:00 +0000\r\n" +
	"List-Unsubscribe: <mailto:unsub@example.com>\r\n" +
	"Auto-Submitted: auto-generated\r\n" +
	"Content-Type: text/plain; charset=utf-8\r\n" +
	"\r\n" +
	"Are you free for lunch tomorrow at noon?\r\n"

// TestParse_PlainText verifies metadata and body extraction.
func TestParse_PlainText(t *testing.T) {
	e := Parse([]byte(plainMessage))

	if e.Subject != "Lunch tomorrow" {
		t.Errorf("Subject = %q", e.Subject)
	}
	if e.From != "alice@example.com" {
		t.Errorf("From = %q", e.From)
	}
	if e.To != "bob@example.com" {
		t.Errorf("To = %q", e.To)
	}
	if e.Date.IsZero() {
		t.Error("Date not parsed")
	}
	if !strings.Contains(e.Text, "free for lunch") {
		t.Errorf("Text = %q", e.Text)
	}
	if !strings.Contains(e.Snippet, "free for lunch") {
		t.Errorf("Snippet = %q", e.Snippet)
	}
}

// TestParse_Signals verifies routing signal headers are captured.
func TestParse_Signals(t *testing.T) {
	e := Parse([]byte(plainMessage))

	if got := e.Signals["List-Unsubscribe"]; got != "<mailto:unsub@example.com>" {
		t.Errorf("List-Unsubscribe = %q", got)
	}
	if got := e.Signals["Auto-Submitted"]; got != "auto-generated" {
		t.Errorf("Auto-Submitted = %q", got)
	}
	if _, ok := e.Signals["X-Priority"]; ok {
		t.Error("absent header should not appear in signals")
	}
}

// TestParse_HTMLFallback verifies an HTML-only message still yields text.
func TestParse_HTMLFallback(t *testing.T) {
	msg := "From: news@example.com\r\n" +
		"To: bob@example.com\r\n" +
		"Subject: Weekly digest\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		"<html><head><style>p{color:red}</style></head>" +
		"<body><p>Hello <b>Bob</b>, your digest is ready.</p></body></html>\r\n"

	e := Parse([]byte(msg))
	if !strings.Contains(e.Text, "your digest is ready") {
		t.Errorf("Text = %q", e.Text)
	}
	if strings.Contains(e.Text, "color:red") {
		t.Errorf("style content leaked into text: %q", e.Text)
	}
	if strings.Contains(e.Text, "<b>") {
		t.Errorf("tags leaked into text: %q", e.Text)
	}
}

// TestParse_Garbage verifies unparseable input degrades, never errors.
func TestParse_Garbage(t *testing.T) {
	e := Parse([]byte("\x00\x01 not a mime message at all"))
	if e == nil {
		t.Fatal("Parse returned nil")
	}
	if e.Snippet == "" {
		t.Error("expected a snippet from the raw fallback")
	}
}

// TestSnippet verifies whitespace collapsing and truncation.
func TestSnippet(t *testing.T) {
	if got := Snippet("  hello\n\n  world \t again  "); got != "hello world again" {
		t.Errorf("Snippet = %q", got)
	}

	long := strings.Repeat("word ", 100)
	got := Snippet(long)
	if len([]rune(got)) != SnippetLength {
		t.Errorf("len = %d, want %d", len([]rune(got)), SnippetLength)
	}
}
