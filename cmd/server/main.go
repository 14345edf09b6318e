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

// Email Automation Engine
//
// Entry point for the automation service. It:
//  1. Loads configuration from config.yaml and the environment
//  2. Connects to PostgreSQL, Redis and the raw message store
//  3. Wires the provider connectors, classifier client and pipeline engine
//  4. Runs the periodic sync → drain → sweep loop for every account
//  5. Serves the manual trigger API and health endpoint
//  6. Handles graceful shutdown on SIGTERM/SIGINT
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/therealtimex/email-automator-sub000/internal/actions"
	"github.com/therealtimex/email-automator-sub000/internal/api"
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
	// Structured JSON logging
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	slog.Info("starting email automation engine")

	// --- Load Configuration ---
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	slog.Info("configuration loaded",
		"sync_interval", cfg.SyncInterval,
		"window_days", cfg.WindowDays,
		"batch_size", cfg.BatchSize,
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Connect to PostgreSQL ---
	pgPool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("failed to create Postgres pool", "error", err)
		os.Exit(1)
	}
	defer pgPool.Close()

	if err := pgPool.Ping(ctx); err != nil {
		slog.Error("failed to connect to PostgreSQL", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to PostgreSQL")

	st, err := store.New(ctx, pgPool)
	if err != nil {
		slog.Error("failed to initialise datastore", "error", err)
		os.Exit(1)
	}

	// --- Connect to Redis ---
	opt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		slog.Error("invalid REDIS_URL", "error", err)
		os.Exit(1)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		slog.Error("failed to connect to Redis", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to Redis")

	filter := dedup.NewFilter(rdb)
	recorder := events.NewRecorder(st, rdb, cfg.EventsList)

	// --- Raw Message Store ---
	raw, err := rawstore.New(cfg.RawStoreDir)
	if err != nil {
		slog.Error("failed to initialise raw store", "error", err)
		os.Exit(1)
	}

	// --- Provider Connectors ---
	registry := provider.Registry{}
	if cfg.Gmail.ClientID != "" {
		registry[models.ProviderGmail] = gmail.NewConnector(cfg.Gmail.ClientID, cfg.Gmail.ClientSecret)
		slog.Info("gmail connector registered")
	}
	if cfg.Outlook.ClientID != "" {
		creds := &clientcredentials.Config{
			ClientID:     cfg.Outlook.ClientID,
			ClientSecret: cfg.Outlook.ClientSecret,
			TokenURL:     fmt.Sprintf("https://login.microsoftonline.com/%s/oauth2/v2.0/token", cfg.Outlook.TenantID),
			Scopes:       []string{"https://graph.microsoft.com/.default"},
		}
		registry[models.ProviderOutlook] = outlook.NewConnector(creds.Client(ctx), outlook.DefaultBaseURL)
		slog.Info("outlook connector registered")
	}
	if len(registry) == 0 {
		slog.Error("no provider connectors configured")
		os.Exit(1)
	}

	// --- Classifier Client ---
	classifier := classify.NewClient(classify.ClientConfig{
		BaseURL: cfg.ClassifierURL,
		Model:   cfg.ClassifierModel,
	})

	// --- Pipeline Components ---
	ingestor := ingest.NewIngestor(st, raw, filter)
	executor := actions.NewExecutor(registry, raw, st, recorder)

	orch := syncer.New(st, registry, ingestor, recorder, syncer.Config{
		WindowDays:          cfg.WindowDays,
		MaxEmptyWindows:     cfg.MaxEmptyWindows,
		InitialLookbackDays: cfg.InitialLookbackDays,
		MaxPerRun:           cfg.MaxPerRun,
	})
	w := worker.New(st, raw, classifier, executor, recorder, worker.Config{
		BatchSize:  cfg.BatchSize,
		BatchDelay: cfg.BatchDelay,
	})
	sweeper := sweep.New(st, executor)

	eng := engine.New(st, orch, w, sweeper, cfg.SyncInterval)

	// --- API Server ---
	handler := api.NewHandler(eng, st, map[string]api.Pinger{
		"postgres": api.PingerFunc(st.Ping),
		"redis":    api.PingerFunc(func(ctx context.Context) error { return rdb.Ping(ctx).Err() }),
	})
	ready, err := api.Serve(ctx, cfg.Port, handler)
	if err != nil {
		slog.Error("failed to start api server", "error", err)
		os.Exit(1)
	}
	<-ready

	// --- Periodic Pipeline ---
	go eng.StartPeriodic(ctx)

	slog.Info("automation engine running", "port", cfg.Port)

	// --- Graceful Shutdown ---
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutdown signal received", "signal", sig.String())

	cancel()
	slog.Info("automation engine stopped")
}
