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

// Package sweep applies age-based retention rules to messages the queue
// worker already classified but left untouched. It runs once per sync.
// Unlike the worker, which acts on the classifier's single verdict, the
// sweeper evaluates retention rules directly, first match wins.
package sweep

import (
	"context"
	"log/slog"
	"time"

	"github.com/therealtimex/email-automator-sub000/internal/actions"
	"github.com/therealtimex/email-automator-sub000/internal/models"
	"github.com/therealtimex/email-automator-sub000/internal/rules"
)

// Store is the persistence surface the sweeper needs. Implemented by
// store.Store.
type Store interface {
	ListEnabledRules(ctx context.Context, userID string) ([]models.Rule, error)
	ListClassifiedUnactioned(ctx context.Context, accountID string) ([]models.Message, error)
}

// Result summarises one sweep.
type Result struct {
	Evaluated int
	Matched   int
	Deleted   int
	Errors    int
}

// Sweeper evaluates retention rules against classified, unactioned
// messages.
type Sweeper struct {
	store    Store
	executor *actions.Executor

	now func() time.Time
}

// New creates a retention sweeper.
func New(store Store, executor *actions.Executor) *Sweeper {
	return &Sweeper{
		store:    store,
		executor: executor,
		now:      time.Now,
	}
}

// Sweep runs retention for one account. Per-message action failures are
// counted and do not stop the sweep.
func (s *Sweeper) Sweep(ctx context.Context, acct *models.Account, runID string) (*Result, error) {
	res := &Result{}

	all, err := s.store.ListEnabledRules(ctx, acct.UserID)
	if err != nil {
		return res, err
	}
	var retention []models.Rule
	for _, r := range all {
		if r.IsRetention() {
			retention = append(retention, r)
		}
	}
	if len(retention) == 0 {
		return res, nil
	}

	msgs, err := s.store.ListClassifiedUnactioned(ctx, acct.ID)
	if err != nil {
		return res, err
	}

	now := s.now().UTC()
	for i := range msgs {
		msg := &msgs[i]
		res.Evaluated++

		rule := rules.FirstMatch(msg, msg.Classification, retention, now)
		if rule == nil {
			continue
		}
		res.Matched++

		counters := s.executor.ExecuteAll(ctx, acct, msg, runID, rule.ID, rule.Actions, "")
		res.Deleted += counters.Deleted
		res.Errors += counters.Errors
	}

	if res.Matched > 0 {
		slog.Info("retention sweep finished",
			"account_id", acct.ID,
			"evaluated", res.Evaluated,
			"matched", res.Matched,
			"deleted", res.Deleted,
			"errors", res.Errors,
		)
	}
	return res, nil
}
