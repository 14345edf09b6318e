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

// Package classify defines the classification contract and the HTTP client
// for the external analysis service. The service receives the message text
// plus the user's active rules and returns a structured verdict; the queue
// worker decides what to do with it.
package classify

import (
	"context"

	"github.com/therealtimex/email-automator-sub000/internal/models"
)

// RuleSpec is the rule shape sent to the analysis service so it can match
// the message against user intent, not just fixed categories.
type RuleSpec struct {
	ID                string         `json:"id"`
	Name              string         `json:"name"`
	Condition         map[string]any `json:"condition"`
	Actions           []string       `json:"actions"`
	DraftInstructions string         `json:"draft_instructions,omitempty"`
}

// Request carries everything the analysis service sees about one message.
// Headers holds routing signals extracted from the raw message (priority,
// list-unsubscribe, auto-submitted and similar).
type Request struct {
	Subject   string            `json:"subject"`
	Sender    string            `json:"sender"`
	Recipient string            `json:"recipient,omitempty"`
	Body      string            `json:"body"`
	Headers   map[string]string `json:"headers,omitempty"`
	Rules     []RuleSpec        `json:"rules,omitempty"`
}

// Result is the verdict for one message. MatchedRuleID is empty when no
// rule applied; DraftContent is only set when a matched rule asks for a
// reply draft.
type Result struct {
	Classification models.Classification `json:"classification"`
	MatchedRuleID  string                `json:"matched_rule_id,omitempty"`
	Confidence     float64               `json:"confidence"`
	Actions        []string              `json:"actions,omitempty"`
	DraftContent   string                `json:"draft_content,omitempty"`
}

// Classifier analyses one message. Implementations must return a non-nil
// result or an error, never both nil.
type Classifier interface {
	Classify(ctx context.Context, req *Request) (*Result, error)
}
