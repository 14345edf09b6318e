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

package rules

import (
	"testing"
	"time"

	"github.com/therealtimex/email-automator-sub000/internal/models"
)

var testNow = time.Date(2026, 8, 20, 12, 0, 0, 0, time.UTC)

func testMessage() *models.Message {
	return &models.Message{
		ID:         "m1",
		Subject:    "Your Invoice #42 is ready",
		Sender:     "billing@vendor.example.com",
		Snippet:    "Please find the attached invoice for August",
		ReceivedAt: testNow.Add(-10 * 24 * time.Hour),
	}
}

func testClassification() *models.Classification {
	return &models.Classification{
		Category:         "finance",
		Priority:         "high",
		Sentiment:        "neutral",
		IsUseless:        false,
		SuggestedActions: []string{"archive", "star"},
	}
}

// TestMatches_Keys verifies each recognised condition key.
func TestMatches_Keys(t *testing.T) {
	tests := []struct {
		name string
		cond map[string]any
		want bool
	}{
		{"sender exact match", map[string]any{"sender_email": "BILLING@vendor.example.com"}, true},
		{"sender exact mismatch", map[string]any{"sender_email": "other@vendor.example.com"}, false},
		{"sender domain", map[string]any{"sender_domain": "vendor.example.com"}, true},
		{"sender domain with at sign", map[string]any{"sender_domain": "@Vendor.Example.Com"}, true},
		{"sender domain mismatch", map[string]any{"sender_domain": "example.com"}, false},
		{"sender contains", map[string]any{"sender_contains": "billing@"}, true},
		{"subject contains", map[string]any{"subject_contains": "invoice"}, true},
		{"subject contains mismatch", map[string]any{"subject_contains": "receipt"}, false},
		{"body contains", map[string]any{"body_contains": "attached invoice"}, true},
		{"older than matched", map[string]any{"older_than_days": float64(7)}, true},
		{"older than unmatched", map[string]any{"older_than_days": float64(30)}, false},
		{"category", map[string]any{"category": "finance"}, true},
		{"category mismatch", map[string]any{"category": "social"}, false},
		{"priority", map[string]any{"priority": "high"}, true},
		{"sentiment", map[string]any{"sentiment": "neutral"}, true},
		{"is useless", map[string]any{"is_useless": false}, true},
		{"is useless mismatch", map[string]any{"is_useless": true}, false},
		{"suggested actions single", map[string]any{"suggested_actions": "archive"}, true},
		{"suggested actions all present", map[string]any{"suggested_actions": []any{"archive", "star"}}, true},
		{"suggested actions partial", map[string]any{"suggested_actions": []any{"archive", "delete"}}, false},
		{"unknown key equality", map[string]any{"summary": ""}, false},
		{"empty condition never matches", map[string]any{}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Matches(testMessage(), testClassification(), tt.cond, testNow)
			if got != tt.want {
				t.Errorf("Matches(%v) = %v, want %v", tt.cond, got, tt.want)
			}
		})
	}
}

// TestMatches_ImplicitAND verifies that all keys must hold.
func TestMatches_ImplicitAND(t *testing.T) {
	cond := map[string]any{
		"sender_domain":    "vendor.example.com",
		"subject_contains": "invoice",
		"category":         "finance",
	}
	if !Matches(testMessage(), testClassification(), cond, testNow) {
		t.Fatal("all keys hold, expected match")
	}

	cond["category"] = "social"
	if Matches(testMessage(), testClassification(), cond, testNow) {
		t.Fatal("one key fails, expected no match")
	}
}

// TestMatches_EmptyCondition verifies a rule with no condition keys matches
// nothing. Vacuous truth would let a half-authored rule fire its actions on
// every message in the queue.
func TestMatches_EmptyCondition(t *testing.T) {
	if Matches(testMessage(), testClassification(), map[string]any{}, testNow) {
		t.Error("empty condition matched")
	}
	if Matches(testMessage(), testClassification(), nil, testNow) {
		t.Error("nil condition matched")
	}
}

// TestMatches_NilClassification verifies classification keys fail without
// a classification instead of erroring.
func TestMatches_NilClassification(t *testing.T) {
	if Matches(testMessage(), nil, map[string]any{"category": "finance"}, testNow) {
		t.Error("category matched with nil classification")
	}
	// Message-only keys still work.
	if !Matches(testMessage(), nil, map[string]any{"subject_contains": "invoice"}, testNow) {
		t.Error("subject_contains should not need a classification")
	}
}

// TestMatches_MissingDate verifies an age condition on a dateless message
// is a non-match, not an error.
func TestMatches_MissingDate(t *testing.T) {
	msg := testMessage()
	msg.ReceivedAt = time.Time{}
	if Matches(msg, testClassification(), map[string]any{"older_than_days": float64(1)}, testNow) {
		t.Error("older_than_days matched a message with no date")
	}
}

// TestFirstMatch verifies ordering and the enabled flag.
func TestFirstMatch(t *testing.T) {
	candidates := []models.Rule{
		{ID: "r1", Enabled: false, Condition: map[string]any{"subject_contains": "invoice"}},
		{ID: "r2", Enabled: true, Condition: map[string]any{"category": "social"}},
		{ID: "r3", Enabled: true, Condition: map[string]any{"subject_contains": "invoice"}},
		{ID: "r4", Enabled: true, Condition: map[string]any{"sender_domain": "vendor.example.com"}},
	}

	got := FirstMatch(testMessage(), testClassification(), candidates, testNow)
	if got == nil || got.ID != "r3" {
		t.Fatalf("FirstMatch = %+v, want rule r3", got)
	}

	if got := FirstMatch(testMessage(), nil, candidates[:2], testNow); got != nil {
		t.Errorf("FirstMatch = %+v, want nil", got)
	}
}
