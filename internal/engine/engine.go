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

// Package engine sequences the automation pipeline per account: sync pulls
// new messages in, the queue worker drains the classification backlog, and
// the retention sweeper catches age-based rules. Each stage is isolated; a
// failed sync for one account never blocks the others.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/therealtimex/email-automator-sub000/internal/models"
	"github.com/therealtimex/email-automator-sub000/internal/store"
	"github.com/therealtimex/email-automator-sub000/internal/sweep"
	"github.com/therealtimex/email-automator-sub000/internal/syncer"
	"github.com/therealtimex/email-automator-sub000/internal/worker"
)

// Store is the persistence surface the engine needs. Implemented by
// store.Store.
type Store interface {
	ListAccounts(ctx context.Context) ([]models.Account, error)
	GetAccount(ctx context.Context, id string) (*models.Account, error)
	StartRun(ctx context.Context, accountID, kind string) (string, error)
	FinishRun(ctx context.Context, runID, status string, c store.RunCounters, errText string) error
}

// Engine drives the full pipeline.
type Engine struct {
	store    Store
	syncer   *syncer.Orchestrator
	worker   *worker.Worker
	sweeper  *sweep.Sweeper
	interval time.Duration
}

// New creates the pipeline engine. interval is the periodic sync cadence.
func New(st Store, orch *syncer.Orchestrator, w *worker.Worker, sw *sweep.Sweeper, interval time.Duration) *Engine {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	return &Engine{
		store:    st,
		syncer:   orch,
		worker:   w,
		sweeper:  sw,
		interval: interval,
	}
}

// RunAccount executes one full pipeline pass for an account.
func (e *Engine) RunAccount(ctx context.Context, accountID string) error {
	return e.runAccount(ctx, accountID, nil)
}

// RunAccountFrom executes one pass starting sync from an explicit point in
// time, used by manual backfills.
func (e *Engine) RunAccountFrom(ctx context.Context, accountID string, since time.Time) error {
	return e.runAccount(ctx, accountID, &since)
}

func (e *Engine) runAccount(ctx context.Context, accountID string, since *time.Time) error {
	var (
		syncRes *syncer.Result
		err     error
	)
	if since != nil {
		syncRes, err = e.syncer.SyncFrom(ctx, accountID, *since)
	} else {
		syncRes, err = e.syncer.Sync(ctx, accountID)
	}
	if err != nil {
		return fmt.Errorf("sync account %s: %w", accountID, err)
	}

	acct, err := e.store.GetAccount(ctx, accountID)
	if err != nil || acct == nil {
		return fmt.Errorf("reload account %s: %w", accountID, err)
	}

	if err := e.drain(ctx, acct); err != nil {
		slog.Error("queue drain failed", "account_id", acct.ID, "error", err)
	}
	if err := e.runSweep(ctx, acct); err != nil {
		slog.Error("retention sweep failed", "account_id", acct.ID, "error", err)
	}

	slog.Info("pipeline pass finished",
		"account_id", accountID,
		"ingested", syncRes.Processed,
		"sync_errors", syncRes.Errors,
	)
	return nil
}

// DrainUser drains one user's backlog outside a sync pass, for the manual
// trigger endpoint.
func (e *Engine) DrainUser(ctx context.Context, userID string) (*worker.DrainResult, error) {
	runID, err := e.store.StartRun(ctx, "", models.RunDrain)
	if err != nil {
		return nil, fmt.Errorf("start drain run: %w", err)
	}
	res, drainErr := e.worker.DrainQueue(ctx, userID, runID)
	e.finishDrainRun(ctx, runID, res, drainErr)
	return res, drainErr
}

func (e *Engine) drain(ctx context.Context, acct *models.Account) error {
	runID, err := e.store.StartRun(ctx, acct.ID, models.RunDrain)
	if err != nil {
		return fmt.Errorf("start drain run: %w", err)
	}
	res, drainErr := e.worker.DrainQueue(ctx, acct.UserID, runID)
	e.finishDrainRun(ctx, runID, res, drainErr)
	return drainErr
}

func (e *Engine) finishDrainRun(ctx context.Context, runID string, res *worker.DrainResult, drainErr error) {
	counters := store.RunCounters{}
	if res != nil {
		counters = store.RunCounters{
			Processed: res.Done,
			Deleted:   res.Deleted,
			Drafted:   res.Drafted,
			Errors:    res.Failed,
		}
	}
	status, errText := models.RunSuccess, ""
	if drainErr != nil {
		status, errText = models.RunFailed, drainErr.Error()
	}
	if err := e.store.FinishRun(ctx, runID, status, counters, errText); err != nil {
		slog.Error("failed to finalise drain run", "run_id", runID, "error", err)
	}
}

func (e *Engine) runSweep(ctx context.Context, acct *models.Account) error {
	runID, err := e.store.StartRun(ctx, acct.ID, models.RunSweep)
	if err != nil {
		return fmt.Errorf("start sweep run: %w", err)
	}
	res, sweepErr := e.sweeper.Sweep(ctx, acct, runID)
	counters := store.RunCounters{}
	if res != nil {
		counters = store.RunCounters{Processed: res.Matched, Deleted: res.Deleted, Errors: res.Errors}
	}
	status, errText := models.RunSuccess, ""
	if sweepErr != nil {
		status, errText = models.RunFailed, sweepErr.Error()
	}
	if err := e.store.FinishRun(ctx, runID, status, counters, errText); err != nil {
		slog.Error("failed to finalise sweep run", "run_id", runID, "error", err)
	}
	return sweepErr
}

// StartPeriodic runs the pipeline for every account on a fixed interval
// until the context is cancelled. The first pass starts immediately.
func (e *Engine) StartPeriodic(ctx context.Context) {
	slog.Info("starting periodic pipeline", "interval", e.interval)

	e.runAll(ctx)

	ticker := time.NewTicker(e.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("stopping periodic pipeline")
			return
		case <-ticker.C:
			e.runAll(ctx)
		}
	}
}

func (e *Engine) runAll(ctx context.Context) {
	accounts, err := e.store.ListAccounts(ctx)
	if err != nil {
		slog.Error("failed to list accounts", "error", err)
		return
	}
	for _, acct := range accounts {
		if ctx.Err() != nil {
			return
		}
		if err := e.RunAccount(ctx, acct.ID); err != nil {
			slog.Error("pipeline pass failed", "account_id", acct.ID, "error", err)
		}
	}
}
