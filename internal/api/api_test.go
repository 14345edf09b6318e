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

package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/therealtimex/email-automator-sub000/internal/worker"
)

type fakePipeline struct {
	ranAccounts  chan string
	drainedUsers chan string
}

func newFakePipeline() *fakePipeline {
	return &fakePipeline{
		ranAccounts:  make(chan string, 1),
		drainedUsers: make(chan string, 1),
	}
}

func (f *fakePipeline) RunAccount(ctx context.Context, accountID string) error {
	f.ranAccounts <- accountID
	return nil
}

func (f *fakePipeline) DrainUser(ctx context.Context, userID string) (*worker.DrainResult, error) {
	f.drainedUsers <- userID
	return &worker.DrainResult{}, nil
}

type fakeResetter struct {
	resettable bool
	err        error
	gotID      string
}

func (f *fakeResetter) ResetFailedMessage(ctx context.Context, id string) (bool, error) {
	f.gotID = id
	return f.resettable, f.err
}

func waitFor(t *testing.T, ch chan string, want string) {
	t.Helper()
	select {
	case got := <-ch:
		if got != want {
			t.Errorf("got %q, want %q", got, want)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %q", want)
	}
}

// TestTriggerSync verifies the accept-and-run-in-background contract.
func TestTriggerSync(t *testing.T) {
	p := newFakePipeline()
	h := NewHandler(p, &fakeResetter{}, nil)

	req := httptest.NewRequest(http.MethodPost, "/sync/trigger?account_id=acct-1", nil)
	rr := httptest.NewRecorder()
	h.ServeTriggerSync(rr, req)

	if rr.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", rr.Code)
	}
	waitFor(t, p.ranAccounts, "acct-1")
}

// TestTriggerSync_Validation verifies the required parameter and method.
func TestTriggerSync_Validation(t *testing.T) {
	h := NewHandler(newFakePipeline(), &fakeResetter{}, nil)

	rr := httptest.NewRecorder()
	h.ServeTriggerSync(rr, httptest.NewRequest(http.MethodPost, "/sync/trigger", nil))
	if rr.Code != http.StatusBadRequest {
		t.Errorf("missing account_id: status = %d, want 400", rr.Code)
	}

	rr = httptest.NewRecorder()
	h.ServeTriggerSync(rr, httptest.NewRequest(http.MethodGet, "/sync/trigger?account_id=a", nil))
	if rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("GET: status = %d, want 405", rr.Code)
	}
}

// TestDrain verifies the drain trigger.
func TestDrain(t *testing.T) {
	p := newFakePipeline()
	h := NewHandler(p, &fakeResetter{}, nil)

	rr := httptest.NewRecorder()
	h.ServeDrain(rr, httptest.NewRequest(http.MethodPost, "/queue/drain?user_id=u1", nil))
	if rr.Code != http.StatusAccepted {
		t.Errorf("status = %d, want 202", rr.Code)
	}
	waitFor(t, p.drainedUsers, "u1")
}

// TestRetry verifies reset outcomes map to status codes.
func TestRetry(t *testing.T) {
	tests := []struct {
		name       string
		resettable bool
		err        error
		wantStatus int
	}{
		{"failed message resets", true, nil, http.StatusOK},
		{"non-failed message conflicts", false, nil, http.StatusConflict},
		{"store failure", false, errors.New("db down"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := &fakeResetter{resettable: tt.resettable, err: tt.err}
			h := NewHandler(newFakePipeline(), r, nil)

			rr := httptest.NewRecorder()
			h.ServeRetry(rr, httptest.NewRequest(http.MethodPost, "/messages/retry?id=m1", nil))
			if rr.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rr.Code, tt.wantStatus)
			}
			if r.gotID != "m1" {
				t.Errorf("reset called with %q", r.gotID)
			}
		})
	}
}

// TestHealth verifies dependency probes drive the status code.
func TestHealth(t *testing.T) {
	h := NewHandler(newFakePipeline(), &fakeResetter{}, map[string]Pinger{
		"postgres": PingerFunc(func(ctx context.Context) error { return nil }),
		"redis":    PingerFunc(func(ctx context.Context) error { return nil }),
	})

	rr := httptest.NewRecorder()
	h.ServeHealth(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}

	h = NewHandler(newFakePipeline(), &fakeResetter{}, map[string]Pinger{
		"postgres": PingerFunc(func(ctx context.Context) error { return nil }),
		"redis":    PingerFunc(func(ctx context.Context) error { return errors.New("down") }),
	})
	rr = httptest.NewRecorder()
	h.ServeHealth(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rr.Code)
	}

	var body struct {
		Dependencies map[string]string `json:"dependencies"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode body: %v", err)
	}
	if body.Dependencies["postgres"] != "ok" {
		t.Errorf("postgres = %q", body.Dependencies["postgres"])
	}
	if body.Dependencies["redis"] != "down" {
		t.Errorf("redis = %q", body.Dependencies["redis"])
	}
}
