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

package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/therealtimex/email-automator-sub000/internal/models"
)

// ListEnabledRules returns a user's enabled rules in priority order
// (lowest priority value first). Rules are read once per run and treated
// as immutable while it executes.
func (s *Store) ListEnabledRules(ctx context.Context, userID string) ([]models.Rule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, user_id, name, condition, actions, draft_instructions,
		       enabled, priority, created_at, updated_at
		FROM rules
		WHERE user_id = $1 AND enabled
		ORDER BY priority, created_at
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var rules []models.Rule
	for rows.Next() {
		var (
			r           models.Rule
			condJSON    []byte
			actionsJSON []byte
		)
		if err := rows.Scan(
			&r.ID, &r.UserID, &r.Name, &condJSON, &actionsJSON, &r.DraftInstructions,
			&r.Enabled, &r.Priority, &r.CreatedAt, &r.UpdatedAt,
		); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(condJSON, &r.Condition); err != nil {
			return nil, fmt.Errorf("decode condition for rule %s: %w", r.ID, err)
		}
		if err := json.Unmarshal(actionsJSON, &r.Actions); err != nil {
			return nil, fmt.Errorf("decode actions for rule %s: %w", r.ID, err)
		}
		rules = append(rules, r)
	}
	return rules, rows.Err()
}
