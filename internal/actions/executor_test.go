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

package actions

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/therealtimex/email-automator-sub000/internal/models"
	"github.com/therealtimex/email-automator-sub000/internal/provider"
	"github.com/therealtimex/email-automator-sub000/internal/rawstore"
)

type fakeConnector struct {
	mu       sync.Mutex
	calls    []string
	trashErr error
	draftErr error
}

func (f *fakeConnector) record(call string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call)
}

func (f *fakeConnector) Kind() models.ProviderKind { return models.ProviderGmail }

func (f *fakeConnector) ListMessages(ctx context.Context, acct *models.Account, from, to time.Time, max int) ([]provider.MessageRef, error) {
	return nil, nil
}

func (f *fakeConnector) FetchRaw(ctx context.Context, acct *models.Account, messageID string) ([]byte, error) {
	return nil, nil
}

func (f *fakeConnector) Trash(ctx context.Context, acct *models.Account, messageID string) error {
	f.record("trash:" + messageID)
	return f.trashErr
}

func (f *fakeConnector) Archive(ctx context.Context, acct *models.Account, messageID string) error {
	f.record("archive:" + messageID)
	return nil
}

func (f *fakeConnector) MarkRead(ctx context.Context, acct *models.Account, messageID string) error {
	f.record("read:" + messageID)
	return nil
}

func (f *fakeConnector) Star(ctx context.Context, acct *models.Account, messageID string) error {
	f.record("star:" + messageID)
	return nil
}

func (f *fakeConnector) CreateDraft(ctx context.Context, acct *models.Account, messageID, body string) error {
	f.record("draft:" + messageID)
	return f.draftErr
}

func (f *fakeConnector) RefreshTokenIfNeeded(ctx context.Context, acct *models.Account) (*models.Account, error) {
	return acct, nil
}

func (f *fakeConnector) FormatCursor(t time.Time) string { return "" }

func (f *fakeConnector) ParseCursor(cursor string) (time.Time, error) { return time.Time{}, nil }

type fakeActionStore struct {
	mu      sync.Mutex
	appends []models.ActionRecord
}

func (f *fakeActionStore) AppendAction(ctx context.Context, id string, rec models.ActionRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.appends = append(f.appends, rec)
	return nil
}

func newTestExecutor(t *testing.T, conn *fakeConnector) (*Executor, *fakeActionStore, *rawstore.Store) {
	t.Helper()
	raw, err := rawstore.New(t.TempDir())
	if err != nil {
		t.Fatalf("rawstore.New: %v", err)
	}
	store := &fakeActionStore{}
	registry := provider.Registry{models.ProviderGmail: conn}
	return NewExecutor(registry, raw, store, nil), store, raw
}

func testAccount() *models.Account {
	return &models.Account{ID: "acct-1", Provider: models.ProviderGmail, UserID: "u1"}
}

// TestExecute_Delete verifies the provider delete happens before the local
// raw content is removed.
func TestExecute_Delete(t *testing.T) {
	conn := &fakeConnector{}
	exec, store, raw := newTestExecutor(t, conn)

	path, err := raw.Save("acct-1", rawstore.Key("acct-1", "pm-1"), []byte("raw"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	msg := &models.Message{ID: "m1", ProviderMessageID: "pm-1", RawPath: path}

	if err := exec.Execute(context.Background(), testAccount(), msg, "run-1", "r1", ActionDelete, ""); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(conn.calls) != 1 || conn.calls[0] != "trash:pm-1" {
		t.Errorf("calls = %v", conn.calls)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Error("raw content not removed after provider delete")
	}
	if len(store.appends) != 1 || store.appends[0].Action != ActionDelete || store.appends[0].RuleID != "r1" {
		t.Errorf("appends = %+v", store.appends)
	}
}

// TestExecute_DeleteProviderFailureKeepsRaw verifies the local copy
// survives a failed provider call.
func TestExecute_DeleteProviderFailureKeepsRaw(t *testing.T) {
	conn := &fakeConnector{trashErr: errors.New("api 500")}
	exec, store, raw := newTestExecutor(t, conn)

	path, err := raw.Save("acct-1", rawstore.Key("acct-1", "pm-1"), []byte("raw"))
	if err != nil {
		t.Fatalf("Save: %v", err)
	}
	msg := &models.Message{ID: "m1", ProviderMessageID: "pm-1", RawPath: path}

	if err := exec.Execute(context.Background(), testAccount(), msg, "run-1", "r1", ActionDelete, ""); err == nil {
		t.Fatal("expected provider failure to propagate")
	}
	if _, err := os.Stat(path); err != nil {
		t.Error("raw content removed despite failed provider delete")
	}
	if len(store.appends) != 0 {
		t.Error("failed action recorded in history")
	}
}

// TestExecute_DraftWithoutContent verifies the no-op skip: no provider
// call, no history entry, no error.
func TestExecute_DraftWithoutContent(t *testing.T) {
	conn := &fakeConnector{}
	exec, store, _ := newTestExecutor(t, conn)
	msg := &models.Message{ID: "m1", ProviderMessageID: "pm-1"}

	if err := exec.Execute(context.Background(), testAccount(), msg, "run-1", "r1", ActionDraft, ""); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if len(conn.calls) != 0 {
		t.Errorf("calls = %v, want none", conn.calls)
	}
	if len(store.appends) != 0 {
		t.Error("no-op draft recorded in history")
	}
}

// TestExecute_UnknownAction verifies unknown names error out.
func TestExecute_UnknownAction(t *testing.T) {
	exec, _, _ := newTestExecutor(t, &fakeConnector{})
	msg := &models.Message{ID: "m1", ProviderMessageID: "pm-1"}
	if err := exec.Execute(context.Background(), testAccount(), msg, "run-1", "r1", "explode", ""); err == nil {
		t.Fatal("expected error for unknown action")
	}
}

// TestExecute_ConcurrentHistoryAppends verifies the history stays
// append-only under concurrent executions: every action lands exactly once,
// none overwrites another. The store side relies on a single atomic append
// per call, never read-modify-write, and this pins the executor to that
// contract.
func TestExecute_ConcurrentHistoryAppends(t *testing.T) {
	conn := &fakeConnector{}
	exec, store, _ := newTestExecutor(t, conn)
	msg := &models.Message{ID: "m1", ProviderMessageID: "pm-1"}

	const n = 16
	errs := make(chan error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- exec.Execute(context.Background(), testAccount(), msg, "run-1", "r1", ActionStar, "")
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		if err != nil {
			t.Fatalf("Execute: %v", err)
		}
	}
	if len(store.appends) != n {
		t.Fatalf("history entries = %d, want %d", len(store.appends), n)
	}
	for i, rec := range store.appends {
		if rec.Action != ActionStar || rec.RuleID != "r1" {
			t.Errorf("entry %d = %+v", i, rec)
		}
	}
}

// TestExecuteAll verifies per-action failure isolation and counters.
func TestExecuteAll(t *testing.T) {
	conn := &fakeConnector{trashErr: errors.New("api 500")}
	exec, store, _ := newTestExecutor(t, conn)
	msg := &models.Message{ID: "m1", ProviderMessageID: "pm-1"}

	c := exec.ExecuteAll(context.Background(), testAccount(), msg, "run-1", "r1",
		[]string{ActionDelete, ActionArchive, ActionRead, ActionDraft}, "thanks, noted")

	if c.Errors != 1 {
		t.Errorf("Errors = %d, want 1", c.Errors)
	}
	if c.Executed != 3 {
		t.Errorf("Executed = %d, want 3", c.Executed)
	}
	if c.Drafted != 1 {
		t.Errorf("Drafted = %d, want 1", c.Drafted)
	}
	if c.Deleted != 0 {
		t.Errorf("Deleted = %d, want 0", c.Deleted)
	}
	if len(store.appends) != 3 {
		t.Errorf("history entries = %d, want 3", len(store.appends))
	}
}
