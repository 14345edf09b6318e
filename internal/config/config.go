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

// Package config loads configuration from config.yaml and environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// GmailConfig holds OAuth client credentials for the Gmail connector.
type GmailConfig struct {
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// OutlookConfig holds app-only credentials for the Microsoft Graph connector.
type OutlookConfig struct {
	TenantID     string `yaml:"tenant_id"`
	ClientID     string `yaml:"client_id"`
	ClientSecret string `yaml:"client_secret"`
}

// Config holds all configuration for the automation engine.
type Config struct {
	DatabaseURL string
	RedisURL    string
	EventsList  string

	RawStoreDir string

	// Sync
	SyncInterval        time.Duration
	WindowDays          int
	MaxEmptyWindows     int
	InitialLookbackDays int
	MaxPerRun           int

	// Classification queue
	BatchSize  int
	BatchDelay time.Duration

	// Classifier service
	ClassifierURL   string
	ClassifierModel string

	Gmail   GmailConfig
	Outlook OutlookConfig

	Port int
}

// rawConfig mirrors the YAML structure for unmarshalling.
type rawConfig struct {
	Database struct {
		URL string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		URL        string `yaml:"url"`
		EventsList string `yaml:"events_list"`
	} `yaml:"redis"`
	RawStore struct {
		Dir string `yaml:"dir"`
	} `yaml:"raw_store"`
	Classifier struct {
		URL   string `yaml:"url"`
		Model string `yaml:"model"`
	} `yaml:"classifier"`
	Providers struct {
		Gmail   GmailConfig   `yaml:"gmail"`
		Outlook OutlookConfig `yaml:"outlook"`
	} `yaml:"providers"`
}

// Load reads configuration from config.yaml (with env var expansion) and
// environment variables for non-YAML settings.
func Load() (*Config, error) {
	configPath := envOrDefault("CONFIG_PATH", "/app/config/config.yaml")

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config file %s: %w", configPath, err)
	}

	// Expand ${VAR} references in the YAML
	expanded := os.ExpandEnv(string(data))

	var raw rawConfig
	if err := yaml.Unmarshal([]byte(expanded), &raw); err != nil {
		return nil, fmt.Errorf("parse config YAML: %w", err)
	}

	cfg := &Config{
		DatabaseURL: firstNonEmpty(raw.Database.URL, envOrDefault("DATABASE_URL", "")),
		RedisURL:    firstNonEmpty(raw.Redis.URL, envOrDefault("REDIS_URL", "redis://localhost:6379/0")),
		EventsList:  firstNonEmpty(raw.Redis.EventsList, envOrDefault("EVENTS_LIST", "automator:events")),
		RawStoreDir: firstNonEmpty(raw.RawStore.Dir, envOrDefault("RAW_STORE_DIR", "/var/lib/email-automator/raw")),

		SyncInterval:        envOrDefaultDuration("SYNC_INTERVAL", 5*time.Minute),
		WindowDays:          envOrDefaultInt("SYNC_WINDOW_DAYS", 7),
		MaxEmptyWindows:     envOrDefaultInt("SYNC_MAX_EMPTY_WINDOWS", 6),
		InitialLookbackDays: envOrDefaultInt("SYNC_INITIAL_LOOKBACK_DAYS", 30),
		MaxPerRun:           envOrDefaultInt("SYNC_MAX_PER_RUN", 200),

		BatchSize:  envOrDefaultInt("QUEUE_BATCH_SIZE", 5),
		BatchDelay: envOrDefaultDuration("QUEUE_BATCH_DELAY", 2*time.Second),

		ClassifierURL:   firstNonEmpty(raw.Classifier.URL, envOrDefault("CLASSIFIER_URL", "")),
		ClassifierModel: firstNonEmpty(raw.Classifier.Model, envOrDefault("CLASSIFIER_MODEL", "")),

		Gmail:   raw.Providers.Gmail,
		Outlook: raw.Providers.Outlook,

		Port: envOrDefaultInt("PORT", 8080),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("database URL is required — set database.url or DATABASE_URL")
	}
	if cfg.ClassifierURL == "" {
		return nil, fmt.Errorf("classifier URL is required — set classifier.url or CLASSIFIER_URL")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrDefaultInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOrDefaultDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
