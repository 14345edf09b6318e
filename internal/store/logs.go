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

package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/therealtimex/email-automator-sub000/internal/models"
)

// RunCounters are the per-run totals finalised into a processing log.
type RunCounters struct {
	Processed int
	Deleted   int
	Drafted   int
	Errors    int
}

// StartRun creates a processing log row in running state and returns its ID.
// One run owns one row; no other writer touches it.
func (s *Store) StartRun(ctx context.Context, accountID, kind string) (string, error) {
	id := uuid.New().String()
	_, err := s.pool.Exec(ctx, `
		INSERT INTO processing_logs (id, account_id, kind, status, started_at)
		VALUES ($1, $2, $3, 'running', NOW())
	`, id, accountID, kind)
	if err != nil {
		return "", err
	}
	return id, nil
}

// FinishRun finalises a processing log with its outcome and counters.
func (s *Store) FinishRun(ctx context.Context, runID, status string, c RunCounters, errText string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE processing_logs
		SET status = $2, processed = $3, deleted = $4, drafted = $5,
		    errors = $6, error = $7, finished_at = NOW()
		WHERE id = $1
	`, runID, status, c.Processed, c.Deleted, c.Drafted, c.Errors, errText)
	return err
}

// InsertEvent appends one entry to the processing trace.
func (s *Store) InsertEvent(ctx context.Context, ev models.ProcessingEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.New().String()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO processing_events (id, run_id, message_id, kind, detail, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, ev.ID, ev.RunID, ev.MessageID, ev.Kind, ev.Detail, ev.CreatedAt)
	return err
}
