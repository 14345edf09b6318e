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

// backfill runs a one-shot pipeline pass for a single account, starting
// sync from an explicit point in the past instead of the stored
// checkpoint. Useful after connecting an account or to re-pull a window
// that was missed while the service was down. Ingestion dedup makes
// overlapping backfills safe.
//
// Usage:
//
//	backfill -account <account-id> -days 90
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/therealtimex/email-automator-sub000/internal/actions"
	"github.com/therealtimex/email-automator-sub000/internal/classify"
	"github.com/therealtimex/email-automator-sub000/internal/config"
	"github.com/therealtimex/email-automator-sub000/internal/dedup"
	"github.com/therealtimex/email-automator-sub000/internal/engine"
	"github.com/therealtimex/email-automator-sub000/internal/events"
	"github.com/therealtimex/email-automator-sub000/internal/ingest"
	"github.com/therealtimex/email-automator-sub000/internal/models"
	"github.com/therealtimex/email-automator-sub000/internal/provider"
	"github.com/therealtimex/email-automator-sub000/internal/provider/gmail"
	"github.com/therealtimex/email-automator-sub000/internal/provider/outlook"
	"github.com/therealtimex/email-automator-sub000/internal/rawstore"
	"github.com/therealtimex/email-automator-sub000/internal/store"
	"github.com/therealtimex/email-automator-sub000/internal/sweep"
	"github.com/therealtimex/email-automator-sub000/internal/syncer"
	"github.com/therealtimex/email-automator-sub000/internal/worker"
)

func main() {
	accountID := flag.String("account", "", "account ID to backfill (required)")
	days := flag.Int("days", 30, "how many days back to start the sync from")
	maxPerRun := flag.Int("max", 0, "override the per-run message cap (0 = account/config default)")
	skipDrain := flag.Bool("skip-drain", false, "only ingest; leave classification to the running service")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if *accountID == "" {
		slog.Error("missing required -account flag")
		flag.Usage()
		os.Exit(2)
	}
	if *days <= 0 {
		slog.Error("-days must be positive", "days", *days)
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if *maxPerRun > 0 {
		cfg.MaxPerRun = *maxPerRun
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	st, err := store.New(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise datastore", "error", err)
		os.Exit(1)
	}

	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)

	filter := dedup.NewFilter(rdb)
	recorder := events.NewRecorder(st, rdb, cfg.EventsList)

	raw, err := rawstore.New(cfg.RawStoreDir)
	if err != nil {
		slog.Error("failed to initialise raw store", "error", err)
		os.Exit(1)
	}

	registry := provider.Registry{}
	if cfg.Gmail.ClientID != "" {
		registry[models.ProviderGmail] = gmail.NewConnector(cfg.Gmail.ClientID, cfg.Gmail.ClientSecret)
	}
	if cfg.Outlook.ClientID != "" {
		creds := &clientcredentials.Config{
			ClientID:     cfg.Outlook.ClientID,
			ClientSecret: cfg.Outlook.ClientSecret,
			TokenURL:     fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", cfg.Outlook.TenantID),
			Scopes:       []string{"https://graph.microsoft.com/.default"},
		}
		registry[models.ProviderOutlook] = outlook.NewConnector(creds.Client(ctx), outlook.DefaultBaseURL)
	}

	classifier := classify.NewClient(classify.ClientConfig{
		BaseURL: cfg.ClassifierURL,
		Model:   cfg.ClassifierModel,
	})

	ingestor := ingest.NewIngestor(st, raw, filter)
	executor := actions.NewExecutor(registry, raw, st, recorder)
	orch := syncer.New(st, registry, ingestor, recorder, syncer.Config{
		WindowDays:          cfg.WindowDays,
		MaxEmptyWindows:     cfg.MaxEmptyWindows,
		InitialLookbackDays: cfg.InitialLookbackDays,
		MaxPerRun:           cfg.MaxPerRun,
	})

	since := time.Now().UTC().AddDate(0, 0, -*days)
	slog.Info("starting backfill",
		"account_id", *accountID,
		"since", since.Format(time.RFC3339),
		"skip_drain", *skipDrain,
	)

	if *skipDrain {
		res, err := orch.SyncFrom(ctx, *accountID, since)
		if err != nil {
			slog.Error("backfill sync failed", "account_id", *accountID, "error", err)
			os.Exit(1)
		}
		slog.Info("backfill finished",
			"processed", res.Processed,
			"skipped", res.Skipped,
			"errors", res.Errors,
		)
		return
	}

	w := worker.New(st, raw, classifier, executor, recorder, worker.Config{
		BatchSize:  cfg.BatchSize,
		BatchDelay: cfg.BatchDelay,
	})
	sweeper := sweep.New(st, executor)
	eng := engine.New(st, orch, w, sweeper, cfg.SyncInterval)

	if err := eng.RunAccountFrom(ctx, *accountID, since); err != nil {
		slog.Error("backfill failed", "account_id", *accountID, "error", err)
		os.Exit(1)
	}
	slog.Info("backfill finished", "account_id", *accountID)
}
