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

// Package rules evaluates rule conditions against messages. Matching is
// pure: no I/O, no clock reads. All keys in a condition must hold for the
// rule to match (implicit AND); an empty condition matches nothing.
//
// Recognised keys:
//
//	sender_email      exact sender address, case-insensitive
//	sender_domain     sender address domain, case-insensitive
//	sender_contains   substring of the sender, case-insensitive
//	subject_contains  substring of the subject, case-insensitive
//	body_contains     substring of the snippet, case-insensitive
//	older_than_days   message age in whole days at evaluation time
//	category          classification category, exact
//	priority          classification priority, exact
//	sentiment         classification sentiment, exact
//	is_useless        classification uselessness flag
//	suggested_actions all listed actions suggested by the classifier
//
// Any other key is compared for equality against the classification's JSON
// representation, so new classifier fields work without a matcher change.
package rules

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/therealtimex/email-automator-sub000/internal/models"
)

// Matches reports whether every key in cond holds for the message. cls may
// be nil when the message has not been classified; classification keys then
// fail. now anchors age comparisons.
func Matches(msg *models.Message, cls *models.Classification, cond map[string]any, now time.Time) bool {
	if len(cond) == 0 {
		return false
	}
	for key, want := range cond {
		if !matchKey(msg, cls, key, want, now) {
			return false
		}
	}
	return true
}

// FirstMatch returns the first enabled rule whose condition matches, in the
// given order, or nil. Callers pass rules already sorted by priority.
func FirstMatch(msg *models.Message, cls *models.Classification, candidates []models.Rule, now time.Time) *models.Rule {
	for i := range candidates {
		r := &candidates[i]
		if !r.Enabled {
			continue
		}
		if Matches(msg, cls, r.Condition, now) {
			return r
		}
	}
	return nil
}

func matchKey(msg *models.Message, cls *models.Classification, key string, want any, now time.Time) bool {
	switch key {
	case "sender_email":
		return strings.EqualFold(msg.Sender, toString(want))
	case "sender_domain":
		domain := strings.ToLower(strings.TrimPrefix(toString(want), "@"))
		at := strings.LastIndex(msg.Sender, "@")
		if at < 0 {
			return false
		}
		return strings.ToLower(strings.TrimSuffix(msg.Sender[at+1:], ">")) == domain
	case "sender_contains":
		return containsFold(msg.Sender, toString(want))
	case "subject_contains":
		return containsFold(msg.Subject, toString(want))
	case "body_contains":
		return containsFold(msg.Snippet, toString(want))
	case "older_than_days":
		days, ok := toInt(want)
		if !ok || msg.ReceivedAt.IsZero() {
			return false
		}
		return now.Sub(msg.ReceivedAt) >= time.Duration(days)*24*time.Hour
	case "category":
		return cls != nil && cls.Category == toString(want)
	case "priority":
		return cls != nil && cls.Priority == toString(want)
	case "sentiment":
		return cls != nil && cls.Sentiment == toString(want)
	case "is_useless":
		b, ok := want.(bool)
		return ok && cls != nil && cls.IsUseless == b
	case "suggested_actions":
		return cls != nil && containsAll(cls.SuggestedActions, want)
	default:
		return matchExtra(cls, key, want)
	}
}

// matchExtra compares an unrecognised key against the classification's JSON
// form, which keeps user rules working when the classifier grows fields.
func matchExtra(cls *models.Classification, key string, want any) bool {
	if cls == nil {
		return false
	}
	raw, err := json.Marshal(cls)
	if err != nil {
		return false
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return false
	}
	got, ok := fields[key]
	if !ok {
		return false
	}
	return fmt.Sprintf("%v", got) == fmt.Sprintf("%v", want)
}

func containsFold(haystack, needle string) bool {
	if needle == "" {
		return false
	}
	return strings.Contains(strings.ToLower(haystack), strings.ToLower(needle))
}

// containsAll checks that every wanted action appears in the suggested set.
// want may be a single string or a list (JSON decodes lists as []any).
func containsAll(suggested []string, want any) bool {
	set := make(map[string]struct{}, len(suggested))
	for _, s := range suggested {
		set[strings.ToLower(s)] = struct{}{}
	}
	contains := func(v any) bool {
		_, ok := set[strings.ToLower(toString(v))]
		return ok
	}
	switch w := want.(type) {
	case []any:
		if len(w) == 0 {
			return false
		}
		for _, v := range w {
			if !contains(v) {
				return false
			}
		}
		return true
	case []string:
		if len(w) == 0 {
			return false
		}
		for _, v := range w {
			if !contains(v) {
				return false
			}
		}
		return true
	default:
		return contains(want)
	}
}

func toString(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprintf("%v", v)
}

// toInt accepts the numeric shapes JSON decoding produces.
func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	default:
		return 0, false
	}
}
