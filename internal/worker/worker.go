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

// Package worker drains the pending classification backlog. Messages move
// pending to processing to completed or failed; the conditional claim in
// the store is the only concurrency guard, so any number of drains can run
// against the same backlog without double-processing.
package worker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/therealtimex/email-automator-sub000/internal/actions"
	"github.com/therealtimex/email-automator-sub000/internal/classify"
	"github.com/therealtimex/email-automator-sub000/internal/events"
	"github.com/therealtimex/email-automator-sub000/internal/mailparse"
	"github.com/therealtimex/email-automator-sub000/internal/models"
	"github.com/therealtimex/email-automator-sub000/internal/rawstore"
)

// ConfidenceThreshold is the minimum classifier confidence at which a
// matched rule's actions are executed. Below it, the verdict is persisted
// but nothing fires.
const ConfidenceThreshold = 0.70

// Store is the persistence surface the worker needs. Implemented by
// store.Store.
type Store interface {
	ListPending(ctx context.Context, userID string, limit int) ([]models.Message, error)
	CountPending(ctx context.Context, userID string) (int, error)
	ClaimMessage(ctx context.Context, id string) (bool, error)
	CompleteMessage(ctx context.Context, id string, cls *models.Classification, matchedRuleID string, confidence float64) error
	FailMessage(ctx context.Context, id, errText string) error
	GetAccount(ctx context.Context, id string) (*models.Account, error)
	ListEnabledRules(ctx context.Context, userID string) ([]models.Rule, error)
}

// Config holds worker tuning.
type Config struct {
	BatchSize  int
	BatchDelay time.Duration
}

// Worker classifies pending messages and fires matched rule actions.
type Worker struct {
	store      Store
	raw        *rawstore.Store
	classifier classify.Classifier
	executor   *actions.Executor
	events     *events.Recorder
	batchSize  int
	batchDelay time.Duration
}

// New creates a queue worker.
func New(store Store, raw *rawstore.Store, classifier classify.Classifier, executor *actions.Executor, recorder *events.Recorder, cfg Config) *Worker {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 5
	}
	return &Worker{
		store:      store,
		raw:        raw,
		classifier: classifier,
		executor:   executor,
		events:     recorder,
		batchSize:  batchSize,
		batchDelay: cfg.BatchDelay,
	}
}

// BatchResult summarises one batch.
type BatchResult struct {
	Claimed  int
	Done     int
	Failed   int
	Actioned actions.Counters
}

// DrainResult accumulates over a full drain.
type DrainResult struct {
	Batches int
	Done    int
	Failed  int
	Deleted int
	Drafted int
}

// DrainQueue processes the user's pending backlog batch by batch until it
// is empty or the context is cancelled. The batch delay spaces out calls
// to the analysis service and the providers.
func (w *Worker) DrainQueue(ctx context.Context, userID, runID string) (*DrainResult, error) {
	res := &DrainResult{}
	for {
		batch, err := w.DrainBatch(ctx, userID, runID)
		if err != nil {
			return res, err
		}
		res.Batches++
		res.Done += batch.Done
		res.Failed += batch.Failed
		res.Deleted += batch.Actioned.Deleted
		res.Drafted += batch.Actioned.Drafted

		remaining, err := w.store.CountPending(ctx, userID)
		if err != nil {
			return res, fmt.Errorf("count pending backlog: %w", err)
		}
		if remaining == 0 {
			return res, nil
		}
		// An entire batch lost to other workers still counts as progress
		// for them; only stop when nothing at all could be listed.
		if batch.Claimed == 0 && batch.Done == 0 && batch.Failed == 0 {
			return res, nil
		}

		if w.batchDelay > 0 {
			select {
			case <-ctx.Done():
				return res, ctx.Err()
			case <-time.After(w.batchDelay):
			}
		}
	}
}

// DrainBatch claims and processes up to one batch of pending messages.
// Per-message failures mark that message failed and continue.
func (w *Worker) DrainBatch(ctx context.Context, userID, runID string) (*BatchResult, error) {
	pending, err := w.store.ListPending(ctx, userID, w.batchSize)
	if err != nil {
		return nil, fmt.Errorf("list pending messages: %w", err)
	}

	rules, err := w.store.ListEnabledRules(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list rules: %w", err)
	}
	ruleSpecs := compileRules(rules)
	rulesByID := make(map[string]*models.Rule, len(rules))
	for i := range rules {
		rulesByID[rules[i].ID] = &rules[i]
	}

	res := &BatchResult{}
	accounts := map[string]*models.Account{}

	for i := range pending {
		msg := &pending[i]

		claimed, err := w.store.ClaimMessage(ctx, msg.ID)
		if err != nil {
			return res, fmt.Errorf("claim message %s: %w", msg.ID, err)
		}
		if !claimed {
			// Another worker owns it now. Skip, not an error.
			continue
		}
		res.Claimed++

		acct, ok := accounts[msg.AccountID]
		if !ok {
			acct, err = w.store.GetAccount(ctx, msg.AccountID)
			if err != nil || acct == nil {
				w.fail(ctx, runID, msg, fmt.Errorf("load account %s: %w", msg.AccountID, err))
				res.Failed++
				continue
			}
			accounts[msg.AccountID] = acct
		}

		counters, err := w.process(ctx, runID, acct, msg, ruleSpecs, rulesByID)
		if err != nil {
			w.fail(ctx, runID, msg, err)
			res.Failed++
			continue
		}
		res.Done++
		res.Actioned.Executed += counters.Executed
		res.Actioned.Deleted += counters.Deleted
		res.Actioned.Drafted += counters.Drafted
		res.Actioned.Errors += counters.Errors
	}

	return res, nil
}

// process classifies one claimed message and, above the confidence
// threshold, executes the matched rule's actions.
func (w *Worker) process(ctx context.Context, runID string, acct *models.Account, msg *models.Message, ruleSpecs []classify.RuleSpec, rulesByID map[string]*models.Rule) (actions.Counters, error) {
	var none actions.Counters

	raw, err := w.raw.Read(msg.RawPath)
	if err != nil {
		return none, fmt.Errorf("read raw content: %w", err)
	}
	parsed := mailparse.Parse(raw)

	result, err := w.classifier.Classify(ctx, &classify.Request{
		Subject:   msg.Subject,
		Sender:    msg.Sender,
		Recipient: msg.Recipient,
		Body:      parsed.Text,
		Headers:   parsed.Signals,
		Rules:     ruleSpecs,
	})
	if err != nil {
		return none, fmt.Errorf("classify: %w", err)
	}
	if result == nil {
		// No usable verdict is a transient failure, never a "no match".
		return none, fmt.Errorf("classify: no usable result")
	}

	if err := w.store.CompleteMessage(ctx, msg.ID, &result.Classification, result.MatchedRuleID, result.Confidence); err != nil {
		return none, fmt.Errorf("persist classification: %w", err)
	}
	if w.events != nil {
		w.events.Analysis(ctx, runID, msg.ID,
			fmt.Sprintf("category=%s rule=%s confidence=%.2f", result.Classification.Category, result.MatchedRuleID, result.Confidence))
	}

	if result.MatchedRuleID == "" || result.Confidence < ConfidenceThreshold {
		return none, nil
	}

	actionList := result.Actions
	draftContent := result.DraftContent
	if rule, ok := rulesByID[result.MatchedRuleID]; ok && len(actionList) == 0 {
		actionList = rule.Actions
	}
	if len(actionList) == 0 {
		return none, nil
	}

	msg.Classification = &result.Classification
	return w.executor.ExecuteAll(ctx, acct, msg, runID, result.MatchedRuleID, actionList, draftContent), nil
}

func (w *Worker) fail(ctx context.Context, runID string, msg *models.Message, cause error) {
	slog.Error("message processing failed", "message_id", msg.ID, "error", cause)
	if err := w.store.FailMessage(ctx, msg.ID, cause.Error()); err != nil {
		slog.Error("failed to mark message failed", "message_id", msg.ID, "error", err)
	}
	if w.events != nil {
		w.events.Error(ctx, runID, msg.ID, cause.Error())
	}
}

func compileRules(rules []models.Rule) []classify.RuleSpec {
	specs := make([]classify.RuleSpec, 0, len(rules))
	for _, r := range rules {
		specs = append(specs, classify.RuleSpec{
			ID:                r.ID,
			Name:              r.Name,
			Condition:         r.Condition,
			Actions:           r.Actions,
			DraftInstructions: r.DraftInstructions,
		})
	}
	return specs
}
