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

package classify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

// TestClient_Classify verifies the request shape and response decoding.
func TestClient_Classify(t *testing.T) {
	var gotBody map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/classify" {
			t.Errorf("path = %q, want /classify", r.URL.Path)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&gotBody); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		json.NewEncoder(w).Encode(Result{
			MatchedRuleID: "r1",
			Confidence:    0.92,
			Actions:       []string{"archive"},
		})
	}))
	defer srv.Close()

	// The handler above omits the category, which must be rejected as an
	// unusable verdict.
	c := NewClient(ClientConfig{BaseURL: srv.URL, Model: "test-model"})
	_, err := c.Classify(context.Background(), &Request{Subject: "hi", Sender: "a@b.c", Body: "hello"})
	if err == nil {
		t.Fatal("expected error for verdict without category")
	}

	if gotBody["model"] != "test-model" {
		t.Errorf("model = %v, want test-model", gotBody["model"])
	}
	if gotBody["subject"] != "hi" {
		t.Errorf("subject = %v", gotBody["subject"])
	}
}

// TestClient_Classify_Success verifies a full verdict round trip.
func TestClient_Classify_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"classification": map[string]any{
				"category":          "newsletter",
				"is_useless":        true,
				"suggested_actions": []string{"archive"},
			},
			"matched_rule_id": "r7",
			"confidence":      0.81,
			"actions":         []string{"archive", "read"},
			"draft_content":   "",
		})
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL})
	res, err := c.Classify(context.Background(), &Request{Subject: "deals", Sender: "x@y.z", Body: "buy now"})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if res.Classification.Category != "newsletter" {
		t.Errorf("category = %q", res.Classification.Category)
	}
	if !res.Classification.IsUseless {
		t.Error("is_useless not decoded")
	}
	if res.MatchedRuleID != "r7" || res.Confidence != 0.81 {
		t.Errorf("rule = %q confidence = %v", res.MatchedRuleID, res.Confidence)
	}
	if len(res.Actions) != 2 {
		t.Errorf("actions = %v", res.Actions)
	}
}

// TestClient_Classify_ServerError verifies non-200 responses are errors.
func TestClient_Classify_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(ClientConfig{BaseURL: srv.URL})
	if _, err := c.Classify(context.Background(), &Request{Subject: "s", Body: "b"}); err == nil {
		t.Fatal("expected error on HTTP 503")
	}
}
