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

package gmail

import (
	"testing"
	"time"

	"github.com/therealtimex/email-automator-sub000/internal/provider"
)

// TestOldestRefs verifies a capped listing keeps the oldest refs. The list
// endpoint serves ids newest first; dropping anything but the newest would
// let the checkpoint advance past messages that were never fetched.
func TestOldestRefs(t *testing.T) {
	base := time.Date(2026, 8, 17, 10, 0, 0, 0, time.UTC)
	newestFirst := []provider.MessageRef{
		{ID: "pm-3", ReceivedAt: base.Add(2 * time.Minute)},
		{ID: "pm-2", ReceivedAt: base.Add(time.Minute)},
		{ID: "pm-1", ReceivedAt: base},
	}

	got := oldestRefs(newestFirst, 2)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != "pm-1" || got[1].ID != "pm-2" {
		t.Errorf("refs = [%s %s], want the two oldest ascending", got[0].ID, got[1].ID)
	}
}

// TestOldestRefs_NoCap verifies max <= 0 only sorts.
func TestOldestRefs_NoCap(t *testing.T) {
	base := time.Date(2026, 8, 17, 10, 0, 0, 0, time.UTC)
	refs := []provider.MessageRef{
		{ID: "pm-2", ReceivedAt: base.Add(time.Minute)},
		{ID: "pm-1", ReceivedAt: base},
	}

	got := oldestRefs(refs, 0)
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if got[0].ID != "pm-1" {
		t.Errorf("first ref = %s, want oldest", got[0].ID)
	}
}

// TestCursorRoundTrip verifies epoch-millis cursors survive a round trip.
func TestCursorRoundTrip(t *testing.T) {
	c := NewConnector("id", "secret")
	at := time.UnixMilli(1700000500000).UTC()

	parsed, err := c.ParseCursor(c.FormatCursor(at))
	if err != nil {
		t.Fatalf("ParseCursor: %v", err)
	}
	if !parsed.Equal(at) {
		t.Errorf("parsed = %v, want %v", parsed, at)
	}
}
