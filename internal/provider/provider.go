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

// Package provider defines the connector contract every mail provider
// implements. The engine depends only on this interface; gmail and outlook
// supply the concrete implementations.
package provider

import (
	"context"
	"fmt"
	"time"

	"github.com/therealtimex/email-automator-sub000/internal/models"
)

// MessageRef identifies one upstream message and its native timestamp.
type MessageRef struct {
	ID         string
	ReceivedAt time.Time
}

// Connector is the per-provider API surface the engine consumes.
//
// ListMessages returns refs received in [from, to), oldest first. Cursor
// formats are provider-specific (epoch-millis for Gmail, RFC 3339 for
// Outlook) but each connector converts them to and from time.Time so the
// engine can compare checkpoints without knowing the encoding.
type Connector interface {
	Kind() models.ProviderKind

	ListMessages(ctx context.Context, acct *models.Account, from, to time.Time, max int) ([]MessageRef, error)
	FetchRaw(ctx context.Context, acct *models.Account, messageID string) ([]byte, error)

	Trash(ctx context.Context, acct *models.Account, messageID string) error
	Archive(ctx context.Context, acct *models.Account, messageID string) error
	MarkRead(ctx context.Context, acct *models.Account, messageID string) error
	Star(ctx context.Context, acct *models.Account, messageID string) error
	CreateDraft(ctx context.Context, acct *models.Account, messageID, body string) error

	// RefreshTokenIfNeeded returns the account with valid credentials,
	// refreshing and mutating token fields when the current ones expired.
	RefreshTokenIfNeeded(ctx context.Context, acct *models.Account) (*models.Account, error)

	FormatCursor(t time.Time) string
	ParseCursor(cursor string) (time.Time, error)
}

// Registry maps provider kinds to their connectors.
type Registry map[models.ProviderKind]Connector

// Get returns the connector for a provider kind.
func (r Registry) Get(kind models.ProviderKind) (Connector, error) {
	c, ok := r[kind]
	if !ok {
		return nil, fmt.Errorf("no connector registered for provider %q", kind)
	}
	return c, nil
}
