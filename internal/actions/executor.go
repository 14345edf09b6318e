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

// Package actions executes rule actions against the provider and records
// them in the message's history. For delete, the provider call goes first
// and local raw content is only removed after it succeeds, so the local
// copy can never outrun the mailbox.
package actions

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/therealtimex/email-automator-sub000/internal/events"
	"github.com/therealtimex/email-automator-sub000/internal/models"
	"github.com/therealtimex/email-automator-sub000/internal/provider"
	"github.com/therealtimex/email-automator-sub000/internal/rawstore"
)

// Supported action names.
const (
	ActionDelete  = "delete"
	ActionArchive = "archive"
	ActionDraft   = "draft"
	ActionRead    = "read"
	ActionStar    = "star"
)

// ActionStore is the persistence surface the executor needs.
// Implemented by store.Store.
type ActionStore interface {
	AppendAction(ctx context.Context, id string, rec models.ActionRecord) error
}

// Executor performs actions on the provider side and appends them to the
// message's action history.
type Executor struct {
	providers provider.Registry
	raw       *rawstore.Store
	store     ActionStore
	events    *events.Recorder
}

// NewExecutor creates an action executor.
func NewExecutor(providers provider.Registry, raw *rawstore.Store, store ActionStore, recorder *events.Recorder) *Executor {
	return &Executor{
		providers: providers,
		raw:       raw,
		store:     store,
		events:    recorder,
	}
}

// Execute performs one action. A draft action with no content is a no-op,
// not an error. On success the action is appended to the message history
// and traced.
func (e *Executor) Execute(ctx context.Context, acct *models.Account, msg *models.Message, runID, ruleID, action, draftContent string) error {
	conn, err := e.providers.Get(acct.Provider)
	if err != nil {
		return err
	}

	switch action {
	case ActionDelete:
		if err := conn.Trash(ctx, acct, msg.ProviderMessageID); err != nil {
			return fmt.Errorf("delete message %s on provider: %w", msg.ID, err)
		}
		if err := e.raw.Delete(msg.RawPath); err != nil {
			slog.Warn("provider delete succeeded but raw cleanup failed",
				"message_id", msg.ID,
				"path", msg.RawPath,
				"error", err,
			)
		}
	case ActionArchive:
		if err := conn.Archive(ctx, acct, msg.ProviderMessageID); err != nil {
			return fmt.Errorf("archive message %s on provider: %w", msg.ID, err)
		}
	case ActionRead:
		if err := conn.MarkRead(ctx, acct, msg.ProviderMessageID); err != nil {
			return fmt.Errorf("mark message %s read on provider: %w", msg.ID, err)
		}
	case ActionStar:
		if err := conn.Star(ctx, acct, msg.ProviderMessageID); err != nil {
			return fmt.Errorf("star message %s on provider: %w", msg.ID, err)
		}
	case ActionDraft:
		if draftContent == "" {
			slog.Debug("skipping draft action without content", "message_id", msg.ID)
			return nil
		}
		if err := conn.CreateDraft(ctx, acct, msg.ProviderMessageID, draftContent); err != nil {
			return fmt.Errorf("create draft for message %s: %w", msg.ID, err)
		}
	default:
		return fmt.Errorf("unknown action %q for message %s", action, msg.ID)
	}

	rec := models.ActionRecord{
		Action:     action,
		RuleID:     ruleID,
		ExecutedAt: time.Now().UTC(),
	}
	if err := e.store.AppendAction(ctx, msg.ID, rec); err != nil {
		return fmt.Errorf("record action %q for message %s: %w", action, msg.ID, err)
	}
	if e.events != nil {
		e.events.Action(ctx, runID, msg.ID, fmt.Sprintf("executed %s (rule %s)", action, ruleID))
	}
	return nil
}

// Counters summarises one ExecuteAll call.
type Counters struct {
	Executed int
	Deleted  int
	Drafted  int
	Errors   int
}

// ExecuteAll runs a list of actions against one message. Failures are
// logged, traced and counted; they never stop the remaining actions.
func (e *Executor) ExecuteAll(ctx context.Context, acct *models.Account, msg *models.Message, runID, ruleID string, actionList []string, draftContent string) Counters {
	var c Counters
	for _, action := range actionList {
		if err := e.Execute(ctx, acct, msg, runID, ruleID, action, draftContent); err != nil {
			c.Errors++
			slog.Error("action execution failed",
				"message_id", msg.ID,
				"action", action,
				"rule_id", ruleID,
				"error", err,
			)
			if e.events != nil {
				e.events.Error(ctx, runID, msg.ID, fmt.Sprintf("action %s failed: %v", action, err))
			}
			continue
		}
		c.Executed++
		switch action {
		case ActionDelete:
			c.Deleted++
		case ActionDraft:
			if draftContent != "" {
				c.Drafted++
			}
		}
	}
	return c
}
