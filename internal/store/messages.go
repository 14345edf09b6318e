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
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/therealtimex/email-automator-sub000/internal/models"
)

const messageColumns = `id, account_id, provider_message_id, subject, sender, recipient,
	received_at, snippet, raw_path, processing_status, processing_error,
	retry_count, classification, matched_rule_id, confidence, actions_taken,
	created_at, updated_at`

// InsertMessage creates a new message skeleton. A collision on
// (account_id, provider_message_id) returns models.ErrDuplicateMessage.
func (s *Store) InsertMessage(ctx context.Context, m *models.Message) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages
			(id, account_id, provider_message_id, subject, sender, recipient,
			 received_at, snippet, raw_path, processing_status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, m.ID, m.AccountID, m.ProviderMessageID, m.Subject, m.Sender, m.Recipient,
		m.ReceivedAt, m.Snippet, m.RawPath, m.ProcessingStatus)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return models.ErrDuplicateMessage
		}
		return err
	}
	return nil
}

// MessageExists reports whether a message with the given provider-native ID
// has already been ingested for the account.
func (s *Store) MessageExists(ctx context.Context, accountID, providerMessageID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM messages
			WHERE account_id = $1 AND provider_message_id = $2
		)
	`, accountID, providerMessageID).Scan(&exists)
	return exists, err
}

// GetMessage retrieves a single message by ID. Returns nil if not found.
func (s *Store) GetMessage(ctx context.Context, id string) (*models.Message, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE id = $1
	`, id)
	return scanMessage(row)
}

// ListPending returns up to limit pending messages across a user's accounts,
// oldest received first.
func (s *Store) ListPending(ctx context.Context, userID string, limit int) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT m.id, m.account_id, m.provider_message_id, m.subject, m.sender, m.recipient,
		       m.received_at, m.snippet, m.raw_path, m.processing_status, m.processing_error,
		       m.retry_count, m.classification, m.matched_rule_id, m.confidence, m.actions_taken,
		       m.created_at, m.updated_at
		FROM messages m
		JOIN accounts a ON a.id = m.account_id
		WHERE a.user_id = $1 AND m.processing_status = 'pending'
		ORDER BY m.received_at
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMessages(rows)
}

// CountPending returns the pending backlog size for a user.
func (s *Store) CountPending(ctx context.Context, userID string) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT COUNT(*)
		FROM messages m
		JOIN accounts a ON a.id = m.account_id
		WHERE a.user_id = $1 AND m.processing_status = 'pending'
	`, userID).Scan(&n)
	return n, err
}

// ListClassifiedUnactioned returns messages for an account that carry a
// classification but have no action recorded yet. The retention sweeper's
// working set.
func (s *Store) ListClassifiedUnactioned(ctx context.Context, accountID string) ([]models.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+messageColumns+`
		FROM messages
		WHERE account_id = $1
		  AND classification IS NOT NULL
		  AND jsonb_array_length(actions_taken) = 0
		ORDER BY received_at
	`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectMessages(rows)
}

// ClaimMessage attempts the pending→processing transition. The WHERE clause
// on the current status makes the claim atomic: under concurrent drains only
// one worker's UPDATE matches the row. Returns false if another worker won.
func (s *Store) ClaimMessage(ctx context.Context, id string) (bool, error) {
	ct, err := s.pool.Exec(ctx, `
		UPDATE messages
		SET processing_status = 'processing', updated_at = NOW()
		WHERE id = $1 AND processing_status = 'pending'
	`, id)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

// CompleteMessage persists the classification result and transitions the
// message to completed.
func (s *Store) CompleteMessage(ctx context.Context, id string, cls *models.Classification, matchedRuleID string, confidence float64) error {
	clsJSON, err := json.Marshal(cls)
	if err != nil {
		return fmt.Errorf("marshal classification: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE messages
		SET processing_status = 'completed',
		    processing_error  = '',
		    classification    = $2,
		    matched_rule_id   = $3,
		    confidence        = $4,
		    updated_at        = NOW()
		WHERE id = $1
	`, id, clsJSON, matchedRuleID, confidence)
	return err
}

// FailMessage transitions the message to failed, stores the error text and
// increments the retry counter.
func (s *Store) FailMessage(ctx context.Context, id, errText string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE messages
		SET processing_status = 'failed',
		    processing_error  = $2,
		    retry_count       = retry_count + 1,
		    updated_at        = NOW()
		WHERE id = $1
	`, id, errText)
	return err
}

// ResetFailedMessage moves a failed message back to pending for retry.
// Returns false if the message was not in failed state.
func (s *Store) ResetFailedMessage(ctx context.Context, id string) (bool, error) {
	ct, err := s.pool.Exec(ctx, `
		UPDATE messages
		SET processing_status = 'pending', processing_error = '', updated_at = NOW()
		WHERE id = $1 AND processing_status = 'failed'
	`, id)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

// AppendAction appends one record to the message's action history. The
// jsonb concatenation happens inside Postgres, so concurrent appends from
// independent executors cannot lose each other.
func (s *Store) AppendAction(ctx context.Context, id string, rec models.ActionRecord) error {
	recJSON, err := json.Marshal([]models.ActionRecord{rec})
	if err != nil {
		return fmt.Errorf("marshal action record: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE messages
		SET actions_taken = actions_taken || $2::jsonb, updated_at = NOW()
		WHERE id = $1
	`, id, recJSON)
	return err
}

func scanMessage(row pgx.Row) (*models.Message, error) {
	m, err := scanMessageFields(row)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func collectMessages(rows pgx.Rows) ([]models.Message, error) {
	var messages []models.Message
	for rows.Next() {
		m, err := scanMessageFields(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, *m)
	}
	return messages, rows.Err()
}

func scanMessageFields(row pgx.Row) (*models.Message, error) {
	var (
		m           models.Message
		clsJSON     []byte
		actionsJSON []byte
	)
	if err := row.Scan(
		&m.ID, &m.AccountID, &m.ProviderMessageID, &m.Subject, &m.Sender, &m.Recipient,
		&m.ReceivedAt, &m.Snippet, &m.RawPath, &m.ProcessingStatus, &m.ProcessingError,
		&m.RetryCount, &clsJSON, &m.MatchedRuleID, &m.Confidence, &actionsJSON,
		&m.CreatedAt, &m.UpdatedAt,
	); err != nil {
		return nil, err
	}
	if len(clsJSON) > 0 {
		var cls models.Classification
		if err := json.Unmarshal(clsJSON, &cls); err != nil {
			return nil, fmt.Errorf("decode classification for message %s: %w", m.ID, err)
		}
		m.Classification = &cls
	}
	if len(actionsJSON) > 0 {
		if err := json.Unmarshal(actionsJSON, &m.ActionsTaken); err != nil {
			return nil, fmt.Errorf("decode action history for message %s: %w", m.ID, err)
		}
	}
	return &m, nil
}
