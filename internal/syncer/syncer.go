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

// Package syncer runs incremental sync for one account: it pages through
// the provider's listing in bounded time windows, oldest first, hands each
// message to the ingestor and advances the checkpoint in a single write at
// the end of the run. A crash mid-run can only re-ingest messages (which
// dedup absorbs), never skip them.
package syncer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/therealtimex/email-automator-sub000/internal/events"
	"github.com/therealtimex/email-automator-sub000/internal/ingest"
	"github.com/therealtimex/email-automator-sub000/internal/models"
	"github.com/therealtimex/email-automator-sub000/internal/provider"
	"github.com/therealtimex/email-automator-sub000/internal/store"
)

// AccountStore is the persistence surface the orchestrator needs.
// Implemented by store.Store.
type AccountStore interface {
	GetAccount(ctx context.Context, id string) (*models.Account, error)
	SaveCheckpoint(ctx context.Context, accountID, cursor string) error
	SetSyncStatus(ctx context.Context, accountID string, status models.SyncStatus, lastError string) error
	SaveTokens(ctx context.Context, accountID, accessToken, refreshToken string, expiry time.Time) error
	StartRun(ctx context.Context, accountID, kind string) (string, error)
	FinishRun(ctx context.Context, runID, status string, c store.RunCounters, errText string) error
}

// Config holds sync tuning.
type Config struct {
	WindowDays          int // sliding window width
	MaxEmptyWindows     int // empty-window skips allowed per run
	InitialLookbackDays int // history depth for accounts without a checkpoint
	MaxPerRun           int // default cap when the account has none
}

// Result summarises one sync run.
type Result struct {
	RunID      string
	Processed  int
	Skipped    int
	Errors     int
	Checkpoint string
}

// Orchestrator drives sync runs.
type Orchestrator struct {
	store     AccountStore
	providers provider.Registry
	ingestor  *ingest.Ingestor
	events    *events.Recorder
	cfg       Config

	now func() time.Time
}

// New creates a sync orchestrator.
func New(accountStore AccountStore, providers provider.Registry, ingestor *ingest.Ingestor, recorder *events.Recorder, cfg Config) *Orchestrator {
	if cfg.WindowDays <= 0 {
		cfg.WindowDays = 7
	}
	if cfg.MaxEmptyWindows <= 0 {
		cfg.MaxEmptyWindows = 6
	}
	if cfg.InitialLookbackDays <= 0 {
		cfg.InitialLookbackDays = 30
	}
	if cfg.MaxPerRun <= 0 {
		cfg.MaxPerRun = 200
	}
	return &Orchestrator{
		store:     accountStore,
		providers: providers,
		ingestor:  ingestor,
		events:    recorder,
		cfg:       cfg,
		now:       time.Now,
	}
}

// Sync runs one incremental sync for an account, starting from the
// account's override or stored checkpoint.
func (o *Orchestrator) Sync(ctx context.Context, accountID string) (*Result, error) {
	return o.sync(ctx, accountID, nil)
}

// SyncFrom runs one sync starting from an explicit point in time,
// overriding the account's checkpoint and override for this run only.
func (o *Orchestrator) SyncFrom(ctx context.Context, accountID string, since time.Time) (*Result, error) {
	return o.sync(ctx, accountID, &since)
}

func (o *Orchestrator) sync(ctx context.Context, accountID string, override *time.Time) (*Result, error) {
	acct, err := o.store.GetAccount(ctx, accountID)
	if err != nil {
		return nil, fmt.Errorf("load account %s: %w", accountID, err)
	}
	if acct == nil {
		return nil, fmt.Errorf("account %s not found", accountID)
	}

	conn, err := o.providers.Get(acct.Provider)
	if err != nil {
		o.fatal(ctx, acct, err)
		return nil, err
	}

	if err := o.store.SetSyncStatus(ctx, acct.ID, models.SyncRunning, ""); err != nil {
		return nil, fmt.Errorf("mark account syncing: %w", err)
	}

	refreshed, err := conn.RefreshTokenIfNeeded(ctx, acct)
	if err != nil {
		err = fmt.Errorf("refresh credentials: %w", err)
		o.fatal(ctx, acct, err)
		return nil, err
	}
	if refreshed.AccessToken != acct.AccessToken || refreshed.TokenExpiry != acct.TokenExpiry {
		if err := o.store.SaveTokens(ctx, acct.ID, refreshed.AccessToken, refreshed.RefreshToken, refreshed.TokenExpiry); err != nil {
			slog.Warn("failed to persist refreshed tokens", "account_id", acct.ID, "error", err)
		}
	}
	acct = refreshed

	runID, err := o.store.StartRun(ctx, acct.ID, models.RunSync)
	if err != nil {
		return nil, fmt.Errorf("start run: %w", err)
	}

	res, runErr := o.run(ctx, runID, acct, conn, override)
	res.RunID = runID

	counters := store.RunCounters{Processed: res.Processed, Errors: res.Errors}
	if runErr != nil {
		if err := o.store.FinishRun(ctx, runID, models.RunFailed, counters, runErr.Error()); err != nil {
			slog.Error("failed to finalise run", "run_id", runID, "error", err)
		}
		o.fatal(ctx, acct, runErr)
		return res, runErr
	}

	if err := o.store.FinishRun(ctx, runID, models.RunSuccess, counters, ""); err != nil {
		slog.Error("failed to finalise run", "run_id", runID, "error", err)
	}
	if err := o.store.SetSyncStatus(ctx, acct.ID, models.SyncSuccess, ""); err != nil {
		slog.Error("failed to update sync status", "account_id", acct.ID, "error", err)
	}
	return res, nil
}

// run executes the windowed fetch loop. Per-message failures are counted
// and isolated; only listing failures abort the run.
func (o *Orchestrator) run(ctx context.Context, runID string, acct *models.Account, conn provider.Connector, override *time.Time) (*Result, error) {
	res := &Result{}
	now := o.now().UTC()

	start := o.effectiveStart(acct, conn, override, now)
	window := time.Duration(o.cfg.WindowDays) * 24 * time.Hour
	maxPerRun := acct.MaxPerRun
	if maxPerRun <= 0 {
		maxPerRun = o.cfg.MaxPerRun
	}

	var (
		maxSeen    time.Time
		minFailed  time.Time
		emptySkips int
		from       = start
	)

	for from.Before(now) && res.Processed < maxPerRun {
		to := from.Add(window)
		if to.After(now) {
			to = now
		}

		// The cap bounds ingestion, not listing. Listing the whole window
		// keeps refs oldest first even when the run stops early, and stops
		// boundary duplicates from eating the cap and starving the
		// messages behind them.
		refs, err := conn.ListMessages(ctx, acct, from, to, 0)
		if err != nil {
			return res, fmt.Errorf("list messages %s..%s: %w", from.Format(time.RFC3339), to.Format(time.RFC3339), err)
		}

		if len(refs) == 0 {
			emptySkips++
			if emptySkips >= o.cfg.MaxEmptyWindows {
				slog.Info("stopping after empty windows",
					"account_id", acct.ID,
					"skips", emptySkips,
				)
				break
			}
			from = to
			continue
		}

		for _, ref := range refs {
			raw, err := conn.FetchRaw(ctx, acct, ref.ID)
			if err != nil {
				res.Errors++
				noteFailed(&minFailed, ref.ReceivedAt)
				slog.Error("failed to fetch message", "account_id", acct.ID, "provider_message_id", ref.ID, "error", err)
				if o.events != nil {
					o.events.Error(ctx, runID, "", fmt.Sprintf("fetch %s: %v", ref.ID, err))
				}
				continue
			}

			msgID, ingested, err := o.ingestor.Ingest(ctx, acct, ref.ID, ref.ReceivedAt, raw)
			if err != nil {
				res.Errors++
				noteFailed(&minFailed, ref.ReceivedAt)
				slog.Error("failed to ingest message", "account_id", acct.ID, "provider_message_id", ref.ID, "error", err)
				if o.events != nil {
					o.events.Error(ctx, runID, "", fmt.Sprintf("ingest %s: %v", ref.ID, err))
				}
				continue
			}
			if !ingested {
				res.Skipped++
			} else {
				res.Processed++
				if o.events != nil {
					o.events.Info(ctx, runID, msgID, "ingested")
				}
			}
			// Duplicates still advance the checkpoint; they were seen.
			if ref.ReceivedAt.After(maxSeen) {
				maxSeen = ref.ReceivedAt
			}
			if res.Processed >= maxPerRun {
				break
			}
		}

		from = to
	}

	if !maxSeen.IsZero() {
		cursorTime := maxSeen
		// A failed ref must stay at or ahead of the saved checkpoint so the
		// next run re-lists it, even when newer refs succeeded after it.
		// Window boundaries are inclusive, so clamping to the failed ref's
		// own timestamp is enough.
		if !minFailed.IsZero() && minFailed.Before(cursorTime) {
			cursorTime = minFailed
		}
		cursor := conn.FormatCursor(cursorTime)
		if o.advances(acct, conn, cursorTime) {
			if err := o.store.SaveCheckpoint(ctx, acct.ID, cursor); err != nil {
				return res, fmt.Errorf("save checkpoint: %w", err)
			}
			res.Checkpoint = cursor
		}
	}

	slog.Info("sync run finished",
		"account_id", acct.ID,
		"run_id", runID,
		"processed", res.Processed,
		"skipped", res.Skipped,
		"errors", res.Errors,
		"checkpoint", res.Checkpoint,
	)
	return res, nil
}

// noteFailed tracks the earliest timestamp among refs that failed to fetch
// or ingest during a run.
func noteFailed(min *time.Time, at time.Time) {
	if min.IsZero() || at.Before(*min) {
		*min = at
	}
}

// effectiveStart resolves the run's starting point: explicit override, the
// account's stored override, the parsed checkpoint, then the initial
// lookback floor.
func (o *Orchestrator) effectiveStart(acct *models.Account, conn provider.Connector, override *time.Time, now time.Time) time.Time {
	if override != nil {
		return override.UTC()
	}
	if acct.OverrideStart != nil {
		return acct.OverrideStart.UTC()
	}
	if acct.SyncCheckpoint != "" {
		t, err := conn.ParseCursor(acct.SyncCheckpoint)
		if err == nil {
			return t
		}
		slog.Warn("unparseable checkpoint, falling back to lookback",
			"account_id", acct.ID,
			"checkpoint", acct.SyncCheckpoint,
			"error", err,
		)
	}
	return now.Add(-time.Duration(o.cfg.InitialLookbackDays) * 24 * time.Hour)
}

// advances reports whether maxSeen moves the stored checkpoint forward.
// Checkpoints only ever grow.
func (o *Orchestrator) advances(acct *models.Account, conn provider.Connector, maxSeen time.Time) bool {
	if acct.SyncCheckpoint == "" {
		return true
	}
	prev, err := conn.ParseCursor(acct.SyncCheckpoint)
	if err != nil {
		return true
	}
	return maxSeen.After(prev)
}

func (o *Orchestrator) fatal(ctx context.Context, acct *models.Account, cause error) {
	slog.Error("sync run aborted", "account_id", acct.ID, "error", cause)
	if err := o.store.SetSyncStatus(ctx, acct.ID, models.SyncError, cause.Error()); err != nil {
		slog.Error("failed to record sync error", "account_id", acct.ID, "error", err)
	}
}
