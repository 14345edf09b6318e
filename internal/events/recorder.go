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

// Package events records the processing trace. Every entry is appended to
// the processing_events table and a JSON copy is pushed onto a Redis list
// for observability consumers. Recording is best-effort: a trace failure
// is logged and never propagated to the engine path that produced it.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/therealtimex/email-automator-sub000/internal/models"
)

// EventStore is the persistence interface the recorder needs.
// Implemented by store.Store.
type EventStore interface {
	InsertEvent(ctx context.Context, ev models.ProcessingEvent) error
}

// Recorder appends processing events to the datastore and the Redis feed.
type Recorder struct {
	store    EventStore
	rdb      *redis.Client
	listName string
}

// NewRecorder creates an event recorder. rdb may be nil, in which case
// only the datastore copy is written.
func NewRecorder(store EventStore, rdb *redis.Client, listName string) *Recorder {
	return &Recorder{
		store:    store,
		rdb:      rdb,
		listName: listName,
	}
}

// Record appends one event. Failures are logged, never returned.
func (r *Recorder) Record(ctx context.Context, ev models.ProcessingEvent) {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}

	if r.store != nil {
		if err := r.store.InsertEvent(ctx, ev); err != nil {
			slog.Warn("failed to persist processing event",
				"message_id", ev.MessageID,
				"kind", ev.Kind,
				"error", err,
			)
		}
	}

	if r.rdb == nil {
		return
	}
	payload, err := json.Marshal(ev)
	if err != nil {
		slog.Warn("failed to marshal processing event", "error", err)
		return
	}
	if err := r.rdb.LPush(ctx, r.listName, payload).Err(); err != nil {
		slog.Warn("failed to push processing event to feed",
			"list", r.listName,
			"error", err,
		)
	}
}

// Info records an informational event for a message.
func (r *Recorder) Info(ctx context.Context, runID, messageID, detail string) {
	r.Record(ctx, models.ProcessingEvent{RunID: runID, MessageID: messageID, Kind: models.EventInfo, Detail: detail})
}

// Analysis records a classification outcome for a message.
func (r *Recorder) Analysis(ctx context.Context, runID, messageID, detail string) {
	r.Record(ctx, models.ProcessingEvent{RunID: runID, MessageID: messageID, Kind: models.EventAnalysis, Detail: detail})
}

// Action records an executed action for a message.
func (r *Recorder) Action(ctx context.Context, runID, messageID, detail string) {
	r.Record(ctx, models.ProcessingEvent{RunID: runID, MessageID: messageID, Kind: models.EventAction, Detail: detail})
}

// Error records a failure for a message or run.
func (r *Recorder) Error(ctx context.Context, runID, messageID, detail string) {
	r.Record(ctx, models.ProcessingEvent{RunID: runID, MessageID: messageID, Kind: models.EventError, Detail: detail})
}
