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

// Package models defines the data structures shared across the automation engine.
package models

import (
	"errors"
	"time"
)

// ErrDuplicateMessage is returned by the message store when an insert
// collides with the (account_id, provider_message_id) unique constraint.
// Callers treat it as "already ingested", not as a failure.
var ErrDuplicateMessage = errors.New("message already ingested")

// ProviderKind identifies a mail provider family.
type ProviderKind string

const (
	ProviderGmail   ProviderKind = "gmail"
	ProviderOutlook ProviderKind = "outlook"
)

// SyncStatus is the last known sync state of an account.
type SyncStatus string

const (
	SyncIdle    SyncStatus = "idle"
	SyncRunning SyncStatus = "syncing"
	SyncSuccess SyncStatus = "success"
	SyncError   SyncStatus = "error"
)

// Account is one connection to one provider for one user.
//
// SyncCheckpoint is an opaque cursor: epoch-millis for the Gmail family,
// RFC 3339 for the Outlook family. It is only ever compared within one
// provider, and only ever moves forward.
type Account struct {
	ID             string
	UserID         string
	Provider       ProviderKind
	Email          string
	SyncCheckpoint string
	OverrideStart  *time.Time // manual override; takes precedence over the checkpoint
	MaxPerRun      int
	SyncStatus     SyncStatus
	LastError      string

	AccessToken  string
	RefreshToken string
	TokenExpiry  time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ProcessingStatus is the lifecycle state of an ingested message.
type ProcessingStatus string

const (
	StatusPending    ProcessingStatus = "pending"
	StatusProcessing ProcessingStatus = "processing"
	StatusCompleted  ProcessingStatus = "completed"
	StatusFailed     ProcessingStatus = "failed"
)

// Classification is the structured result persisted after a successful
// classifier call.
type Classification struct {
	Category         string   `json:"category"`
	Priority         string   `json:"priority,omitempty"`
	Sentiment        string   `json:"sentiment,omitempty"`
	IsUseless        bool     `json:"is_useless,omitempty"`
	SuggestedActions []string `json:"suggested_actions,omitempty"`
	Summary          string   `json:"summary,omitempty"`
}

// ActionRecord is one executed action in a message's append-only history.
type ActionRecord struct {
	Action     string    `json:"action"`
	RuleID     string    `json:"rule_id,omitempty"`
	ExecutedAt time.Time `json:"executed_at"`
}

// Message is one ingested email. Created by the ingestor in pending state;
// status transitions are owned by the queue worker, and ActionsTaken is
// appended to only by the action executor.
type Message struct {
	ID                string
	AccountID         string
	ProviderMessageID string

	Subject    string
	Sender     string
	Recipient  string
	ReceivedAt time.Time
	Snippet    string
	RawPath    string

	ProcessingStatus ProcessingStatus
	ProcessingError  string
	RetryCount       int

	Classification *Classification
	MatchedRuleID  string
	Confidence     float64
	ActionsTaken   []ActionRecord

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Classified reports whether the message carries a persisted classification.
func (m *Message) Classified() bool { return m.Classification != nil }

// Actioned reports whether any action has been recorded for the message.
func (m *Message) Actioned() bool { return len(m.ActionsTaken) > 0 }

// Rule is a user-authored automation rule. Condition keys are combined by
// implicit AND; see the rules package for recognised keys.
type Rule struct {
	ID                string
	UserID            string
	Name              string
	Condition         map[string]any
	Actions           []string
	DraftInstructions string
	Enabled           bool
	Priority          int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsRetention reports whether the rule carries an age condition and is
// therefore also evaluated by the retention sweeper.
func (r *Rule) IsRetention() bool {
	_, ok := r.Condition["older_than_days"]
	return ok
}

// Run kinds recorded in processing logs.
const (
	RunSync  = "sync"
	RunDrain = "drain"
	RunSweep = "sweep"
)

// Run statuses.
const (
	RunRunning = "running"
	RunSuccess = "success"
	RunFailed  = "failed"
)

// ProcessingLog is one record per sync or background unit of work. One run
// owns one log row; it is created at run start and finalised at run end.
type ProcessingLog struct {
	ID        string
	AccountID string
	Kind      string
	Status    string

	Processed int
	Deleted   int
	Drafted   int
	Errors    int

	StartedAt  time.Time
	FinishedAt *time.Time
	Error      string
}

// Event kinds recorded in the processing trace.
const (
	EventInfo     = "informational"
	EventAnalysis = "analysis"
	EventAction   = "action"
	EventError    = "error"
)

// ProcessingEvent is one entry in the ordered, append-only trace of what
// happened to a message or run. Write-only from the engine's perspective.
type ProcessingEvent struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id,omitempty"`
	MessageID string    `json:"message_id,omitempty"`
	Kind      string    `json:"kind"`
	Detail    string    `json:"detail"`
	CreatedAt time.Time `json:"created_at"`
}
