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

	"github.com/jackc/pgx/v5"

	"github.com/therealtimex/email-automator-sub000/internal/models"
)

const accountColumns = `id, user_id, provider, email, sync_checkpoint, override_start,
	max_per_run, sync_status, last_error, access_token, refresh_token,
	token_expiry, created_at, updated_at`

// GetAccount retrieves a single account by ID. Returns nil if not found.
func (s *Store) GetAccount(ctx context.Context, id string) (*models.Account, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE id = $1
	`, id)
	return scanAccount(row)
}

// ListAccounts returns all accounts, oldest first.
func (s *Store) ListAccounts(ctx context.Context) ([]models.Account, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		ORDER BY created_at
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAccounts(rows)
}

// ListAccountsByUser returns all accounts owned by a user.
func (s *Store) ListAccountsByUser(ctx context.Context, userID string) ([]models.Account, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+accountColumns+`
		FROM accounts
		WHERE user_id = $1
		ORDER BY created_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectAccounts(rows)
}

// SaveCheckpoint persists the sync cursor for an account. The orchestrator
// calls this exactly once per run, after comparing timestamps, so the write
// itself is unconditional.
func (s *Store) SaveCheckpoint(ctx context.Context, accountID, cursor string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE accounts
		SET sync_checkpoint = $1, updated_at = NOW()
		WHERE id = $2
	`, cursor, accountID)
	return err
}

// SetSyncStatus records the account's sync state and last error text.
func (s *Store) SetSyncStatus(ctx context.Context, accountID string, status models.SyncStatus, lastError string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE accounts
		SET sync_status = $1, last_error = $2, updated_at = NOW()
		WHERE id = $3
	`, status, lastError, accountID)
	return err
}

// SaveTokens persists refreshed OAuth material for an account.
func (s *Store) SaveTokens(ctx context.Context, accountID, accessToken, refreshToken string, expiry time.Time) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE accounts
		SET access_token = $1, refresh_token = $2, token_expiry = $3, updated_at = NOW()
		WHERE id = $4
	`, accessToken, refreshToken, expiry, accountID)
	return err
}

func scanAccount(row pgx.Row) (*models.Account, error) {
	var a models.Account
	err := row.Scan(
		&a.ID, &a.UserID, &a.Provider, &a.Email, &a.SyncCheckpoint, &a.OverrideStart,
		&a.MaxPerRun, &a.SyncStatus, &a.LastError, &a.AccessToken, &a.RefreshToken,
		&a.TokenExpiry, &a.CreatedAt, &a.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func collectAccounts(rows pgx.Rows) ([]models.Account, error) {
	var accounts []models.Account
	for rows.Next() {
		var a models.Account
		if err := rows.Scan(
			&a.ID, &a.UserID, &a.Provider, &a.Email, &a.SyncCheckpoint, &a.OverrideStart,
			&a.MaxPerRun, &a.SyncStatus, &a.LastError, &a.AccessToken, &a.RefreshToken,
			&a.TokenExpiry, &a.CreatedAt, &a.UpdatedAt,
		); err != nil {
			return nil, err
		}
		accounts = append(accounts, a)
	}
	return accounts, rows.Err()
}
