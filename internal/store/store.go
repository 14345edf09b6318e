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

// Package store provides the Postgres-backed datastore for accounts,
// messages, rules, processing logs and processing events. It owns the two
// operations the engine's concurrency model depends on: the conditional
// pending→processing claim and the atomic jsonb append to a message's
// action history.
package store

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides CRUD operations for engine state in Postgres.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a store backed by the given Postgres pool.
// It ensures the engine's tables exist on creation.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, fmt.Errorf("ensure engine schema: %w", err)
	}
	slog.Info("datastore initialised")
	return s, nil
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS accounts (
			id              TEXT PRIMARY KEY,
			user_id         TEXT NOT NULL,
			provider        TEXT NOT NULL,
			email           TEXT NOT NULL,
			sync_checkpoint TEXT DEFAULT '',
			override_start  TIMESTAMPTZ,
			max_per_run     INT DEFAULT 200,
			sync_status     TEXT DEFAULT 'idle',
			last_error      TEXT DEFAULT '',
			access_token    TEXT DEFAULT '',
			refresh_token   TEXT DEFAULT '',
			token_expiry    TIMESTAMPTZ DEFAULT 'epoch',
			created_at      TIMESTAMPTZ DEFAULT NOW(),
			updated_at      TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_accounts_user ON accounts(user_id);

		CREATE TABLE IF NOT EXISTS messages (
			id                  TEXT PRIMARY KEY,
			account_id          TEXT NOT NULL REFERENCES accounts(id),
			provider_message_id TEXT NOT NULL,
			subject             TEXT DEFAULT '',
			sender              TEXT DEFAULT '',
			recipient           TEXT DEFAULT '',
			received_at         TIMESTAMPTZ,
			snippet             TEXT DEFAULT '',
			raw_path            TEXT DEFAULT '',
			processing_status   TEXT NOT NULL DEFAULT 'pending',
			processing_error    TEXT DEFAULT '',
			retry_count         INT DEFAULT 0,
			classification      JSONB,
			matched_rule_id     TEXT DEFAULT '',
			confidence          DOUBLE PRECISION DEFAULT 0,
			actions_taken       JSONB NOT NULL DEFAULT '[]',
			created_at          TIMESTAMPTZ DEFAULT NOW(),
			updated_at          TIMESTAMPTZ DEFAULT NOW(),
			UNIQUE(account_id, provider_message_id)
		);
		CREATE INDEX IF NOT EXISTS idx_messages_status ON messages(processing_status);
		CREATE INDEX IF NOT EXISTS idx_messages_account ON messages(account_id);

		CREATE TABLE IF NOT EXISTS rules (
			id                 TEXT PRIMARY KEY,
			user_id            TEXT NOT NULL,
			name               TEXT NOT NULL,
			condition          JSONB NOT NULL DEFAULT '{}',
			actions            JSONB NOT NULL DEFAULT '[]',
			draft_instructions TEXT DEFAULT '',
			enabled            BOOLEAN DEFAULT TRUE,
			priority           INT DEFAULT 100,
			created_at         TIMESTAMPTZ DEFAULT NOW(),
			updated_at         TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_rules_user ON rules(user_id);

		CREATE TABLE IF NOT EXISTS processing_logs (
			id          TEXT PRIMARY KEY,
			account_id  TEXT NOT NULL,
			kind        TEXT NOT NULL,
			status      TEXT NOT NULL DEFAULT 'running',
			processed   INT DEFAULT 0,
			deleted     INT DEFAULT 0,
			drafted     INT DEFAULT 0,
			errors      INT DEFAULT 0,
			started_at  TIMESTAMPTZ DEFAULT NOW(),
			finished_at TIMESTAMPTZ,
			error       TEXT DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_logs_account ON processing_logs(account_id);

		CREATE TABLE IF NOT EXISTS processing_events (
			id         TEXT PRIMARY KEY,
			run_id     TEXT DEFAULT '',
			message_id TEXT DEFAULT '',
			kind       TEXT NOT NULL,
			detail     TEXT DEFAULT '',
			created_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE INDEX IF NOT EXISTS idx_events_message ON processing_events(message_id);
	`)
	return err
}
