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

// Package api exposes the manual trigger surface: sync an account, drain a
// user's backlog, retry a failed message, and a health probe. Triggers are
// accepted and run in the background; the caller polls run records for the
// outcome.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"

	"github.com/therealtimex/email-automator-sub000/internal/worker"
)

// Pipeline is the engine surface the handler needs.
type Pipeline interface {
	RunAccount(ctx context.Context, accountID string) error
	DrainUser(ctx context.Context, userID string) (*worker.DrainResult, error)
}

// MessageResetter resets failed messages back to pending.
// Implemented by store.Store.
type MessageResetter interface {
	ResetFailedMessage(ctx context.Context, id string) (bool, error)
}

// Pinger reports liveness of a dependency.
type Pinger interface {
	Ping(ctx context.Context) error
}

// PingerFunc adapts a function to the Pinger interface.
type PingerFunc func(ctx context.Context) error

// Ping calls the wrapped function.
func (f PingerFunc) Ping(ctx context.Context) error { return f(ctx) }

// Handler serves the trigger endpoints.
type Handler struct {
	pipeline Pipeline
	messages MessageResetter
	checks   map[string]Pinger
}

// NewHandler creates the API handler. checks maps dependency names to
// their liveness probes for /health.
func NewHandler(pipeline Pipeline, messages MessageResetter, checks map[string]Pinger) *Handler {
	return &Handler{
		pipeline: pipeline,
		messages: messages,
		checks:   checks,
	}
}

// ServeTriggerSync handles POST /sync/trigger?account_id=...
// It accepts the request and runs the pipeline pass in the background.
func (h *Handler) ServeTriggerSync(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	accountID := r.URL.Query().Get("account_id")
	if accountID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "account_id is required"})
		return
	}

	go func() {
		// Detached from the request context; a closed connection must
		// not cancel the run.
		if err := h.pipeline.RunAccount(context.Background(), accountID); err != nil {
			slog.Error("triggered sync failed", "account_id", accountID, "error", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "account_id": accountID})
}

// ServeDrain handles POST /queue/drain?user_id=...
func (h *Handler) ServeDrain(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	userID := r.URL.Query().Get("user_id")
	if userID == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "user_id is required"})
		return
	}

	go func() {
		if _, err := h.pipeline.DrainUser(context.Background(), userID); err != nil {
			slog.Error("triggered drain failed", "user_id", userID, "error", err)
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "accepted", "user_id": userID})
}

// ServeRetry handles POST /messages/retry?id=... by resetting a failed
// message back to pending. The next drain picks it up.
func (h *Handler) ServeRetry(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	id := r.URL.Query().Get("id")
	if id == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "id is required"})
		return
	}

	reset, err := h.messages.ResetFailedMessage(r.Context(), id)
	if err != nil {
		slog.Error("failed to reset message", "message_id", id, "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "reset failed"})
		return
	}
	if !reset {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "message is not in failed state"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "pending", "id": id})
}

// ServeHealth handles GET /health, pinging each registered dependency.
func (h *Handler) ServeHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	deps := map[string]string{}
	for name, p := range h.checks {
		if err := p.Ping(r.Context()); err != nil {
			deps[name] = err.Error()
			status = http.StatusServiceUnavailable
		} else {
			deps[name] = "ok"
		}
	}
	writeJSON(w, status, map[string]any{"status": http.StatusText(status), "dependencies": deps})
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// Mux builds the route table for the handler.
func Mux(handler *Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/sync/trigger", handler.ServeTriggerSync)
	mux.HandleFunc("/queue/drain", handler.ServeDrain)
	mux.HandleFunc("/messages/retry", handler.ServeRetry)
	mux.HandleFunc("/health", handler.ServeHealth)
	return mux
}

// Serve starts the API server on the given port. It binds the port
// immediately and signals readiness via the returned channel before
// starting to accept connections.
func Serve(ctx context.Context, port int, handler *Handler) (<-chan struct{}, error) {
	server := &http.Server{
		Handler: Mux(handler),
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("bind api port %d: %w", port, err)
	}

	ready := make(chan struct{})

	go func() {
		<-ctx.Done()
		slog.Info("api server shutting down")
		server.Close()
	}()

	go func() {
		slog.Info("api server listening", "port", port)
		close(ready)
		if err := server.Serve(ln); err != http.ErrServerClosed {
			slog.Error("api server error", "error", err)
		}
	}()

	return ready, nil
}
