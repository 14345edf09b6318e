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

// Package mailparse extracts the metadata, text body and routing signals
// the engine needs from raw RFC 822 content. Parsing is tolerant: a
// malformed message degrades to whatever could be read, never an error,
// because raw content has already been paid for by the time it gets here.
package mailparse

import (
	"bytes"
	"io"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/emersion/go-message/mail"
)

// SnippetLength is the maximum number of runes kept in the snippet.
const SnippetLength = 200

// signalHeaders are the raw headers forwarded to the analysis service as
// routing signals.
var signalHeaders = []string{
	"X-Priority",
	"Importance",
	"List-Unsubscribe",
	"Auto-Submitted",
	"Precedence",
	"X-Mailer",
	"User-Agent",
}

// Email is the parsed view of one raw message.
type Email struct {
	Subject string
	From    string
	To      string
	Date    time.Time

	Text    string // text/plain body, or a stripped fallback
	Snippet string

	// Signals holds the present signalHeaders, keyed by canonical name.
	Signals map[string]string
}

// Parse extracts what it can from raw RFC 822 content.
func Parse(raw []byte) *Email {
	e := &Email{Signals: map[string]string{}}

	mr, err := mail.CreateReader(bytes.NewReader(raw))
	if err != nil {
		// Unparseable structure. Keep the raw text so the message is
		// still classifiable.
		e.Text = string(raw)
		e.Snippet = Snippet(e.Text)
		return e
	}
	defer mr.Close()

	h := mr.Header
	e.Subject, _ = h.Subject()
	e.Date, _ = h.Date()
	if from, err := h.AddressList("From"); err == nil && len(from) > 0 {
		e.From = from[0].Address
	}
	if to, err := h.AddressList("To"); err == nil && len(to) > 0 {
		e.To = to[0].Address
	}
	for _, name := range signalHeaders {
		if v := h.Get(name); v != "" {
			e.Signals[name] = v
		}
	}

	var htmlBody string
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			break
		}
		ih, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}
		contentType, _, _ := ih.ContentType()
		body, readErr := io.ReadAll(part.Body)
		if readErr != nil {
			continue
		}
		switch {
		case strings.HasPrefix(contentType, "text/plain") && e.Text == "":
			e.Text = string(body)
		case strings.HasPrefix(contentType, "text/html") && htmlBody == "":
			htmlBody = string(body)
		}
	}

	if e.Text == "" && htmlBody != "" {
		e.Text = stripTags(htmlBody)
	}
	e.Snippet = Snippet(e.Text)
	return e
}

// Snippet collapses whitespace and truncates to SnippetLength runes.
func Snippet(text string) string {
	fields := strings.Fields(text)
	joined := strings.Join(fields, " ")
	if utf8.RuneCountInString(joined) <= SnippetLength {
		return joined
	}
	runes := []rune(joined)
	return string(runes[:SnippetLength])
}

// stripTags is a crude HTML-to-text fallback for messages with no plain
// part. It drops tags and script/style content; it does not try to render.
func stripTags(html string) string {
	var (
		b       strings.Builder
		inTag   bool
		skip    int // depth inside script/style
		lowered = strings.ToLower(html)
	)
	for i := 0; i < len(html); i++ {
		c := html[i]
		switch {
		case c == '<':
			inTag = true
			rest := lowered[i:]
			if strings.HasPrefix(rest, "<script") || strings.HasPrefix(rest, "<style") {
				skip++
			} else if strings.HasPrefix(rest, "</script") || strings.HasPrefix(rest, "</style") {
				if skip > 0 {
					skip--
				}
			}
		case c == '>':
			inTag = false
			b.WriteByte(' ')
		case !inTag && skip == 0:
			b.WriteByte(c)
		}
	}
	return b.String()
}
