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

// Package ingest turns one fetched raw message into one pending queue
// entry. Idempotency is layered: a Redis first-seen check as the fast path,
// a datastore existence check, and finally the unique constraint on
// (account_id, provider_message_id) as the authority. Raw content is
// written before the skeleton row so a pending message always has its
// content on disk; the raw file is removed again if the insert fails.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/therealtimex/email-automator-sub000/internal/mailparse"
	"github.com/therealtimex/email-automator-sub000/internal/models"
	"github.com/therealtimex/email-automator-sub000/internal/rawstore"
)

// MessageStore is the persistence surface the ingestor needs.
// Implemented by store.Store.
type MessageStore interface {
	MessageExists(ctx context.Context, accountID, providerMessageID string) (bool, error)
	InsertMessage(ctx context.Context, m *models.Message) error
}

// SeenFilter is the fast-path duplicate check. Implemented by dedup.Filter.
// Forget undoes a mark after a failed ingestion so the message stays
// retryable on the next sync.
type SeenFilter interface {
	IsNew(ctx context.Context, key string) (bool, error)
	Forget(ctx context.Context, key string) error
}

// Ingestor creates pending messages from raw provider content.
type Ingestor struct {
	store  MessageStore
	raw    *rawstore.Store
	filter SeenFilter
}

// NewIngestor creates an ingestor. filter may be nil; the datastore checks
// then carry idempotency alone.
func NewIngestor(store MessageStore, raw *rawstore.Store, filter SeenFilter) *Ingestor {
	return &Ingestor{
		store:  store,
		raw:    raw,
		filter: filter,
	}
}

// Ingest stores one raw message and creates its pending queue entry.
// receivedAt is the provider's native timestamp and wins over the Date
// header. Returns the new message ID and true, or "" and false when the
// message had already been ingested.
func (i *Ingestor) Ingest(ctx context.Context, acct *models.Account, providerMessageID string, receivedAt time.Time, raw []byte) (string, bool, error) {
	key := rawstore.Key(acct.ID, providerMessageID)

	// marked is true once this call set the seen key. Any failure after
	// that point must forget the key again, or the message would be
	// skipped as a duplicate on the next sync without ever being stored.
	marked := false
	if i.filter != nil {
		fresh, err := i.filter.IsNew(ctx, key)
		if err != nil {
			// Redis being down must not stall ingestion; fall through to
			// the datastore checks.
			slog.Warn("seen filter unavailable, falling back to datastore check",
				"account_id", acct.ID,
				"error", err,
			)
		} else if !fresh {
			return "", false, nil
		} else {
			marked = true
		}
	}

	exists, err := i.store.MessageExists(ctx, acct.ID, providerMessageID)
	if err != nil {
		i.forget(ctx, key, marked)
		return "", false, fmt.Errorf("check message existence: %w", err)
	}
	if exists {
		return "", false, nil
	}

	parsed := mailparse.Parse(raw)
	if receivedAt.IsZero() {
		receivedAt = parsed.Date
	}

	rawPath, err := i.raw.Save(acct.ID, key, raw)
	if err != nil {
		i.forget(ctx, key, marked)
		return "", false, fmt.Errorf("store raw content: %w", err)
	}

	msg := &models.Message{
		ID:                uuid.New().String(),
		AccountID:         acct.ID,
		ProviderMessageID: providerMessageID,
		Subject:           parsed.Subject,
		Sender:            parsed.From,
		Recipient:         parsed.To,
		ReceivedAt:        receivedAt.UTC(),
		Snippet:           parsed.Snippet,
		RawPath:           rawPath,
		ProcessingStatus:  models.StatusPending,
	}

	if err := i.store.InsertMessage(ctx, msg); err != nil {
		if errors.Is(err, models.ErrDuplicateMessage) {
			// Lost the race to a concurrent sync. The raw file is shared
			// by key, so leave it in place for the winner.
			return "", false, nil
		}
		if delErr := i.raw.Delete(rawPath); delErr != nil {
			slog.Warn("failed to remove raw content after insert failure",
				"path", rawPath,
				"error", delErr,
			)
		}
		i.forget(ctx, key, marked)
		return "", false, fmt.Errorf("insert message: %w", err)
	}

	return msg.ID, true, nil
}

// forget unmarks a seen key after a failed ingestion, best effort. A leaked
// key falls back to the TTL.
func (i *Ingestor) forget(ctx context.Context, key string, marked bool) {
	if !marked {
		return
	}
	if err := i.filter.Forget(ctx, key); err != nil {
		slog.Warn("failed to unmark seen key after ingest failure",
			"key", key,
			"error", err,
		)
	}
}
