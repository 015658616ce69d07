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

// Package server exposes the push-notification HTTP surface: the
// /process endpoint the queue pushes delivery notifications to, plus
// watch status and renewal endpoints and a health probe.
//
// Status code contract for /process: 400 only for a malformed envelope
// (the publisher can never fix it by redelivering), 200 for every run
// that reached a terminal state — including FAILED. Failed runs release
// their reservation, so the provider's own retry of the notification is
// the retry mechanism; a 5xx here would just stack redeliveries on top.
package server

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/addhe/areai/internal/models"
	"github.com/addhe/areai/internal/pipeline"
	"github.com/addhe/areai/internal/watch"
)

// pushEnvelope is the queue's push delivery wrapper. The inner data field
// is base64-encoded JSON.
type pushEnvelope struct {
	Message struct {
		Data      string `json:"data"`
		MessageID string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

// notificationData is the decoded inner payload.
type notificationData struct {
	EmailAddress string      `json:"emailAddress"`
	HistoryID    json.Number `json:"historyId"`
}

// Runner executes the pipeline for one notification. Implemented by
// pipeline.Orchestrator.
type Runner interface {
	Process(ctx context.Context, n models.Notification) []pipeline.RunResult
}

// Pinger reports backend connectivity for the health probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Handler serves the push and operational endpoints.
type Handler struct {
	runner         Runner
	watcher        *watch.Manager
	pipelineBudget time.Duration
	pingers        map[string]Pinger
}

// NewHandler creates the HTTP handler. pipelineBudget bounds one whole
// /process request; pingers are named backends checked by /health.
func NewHandler(runner Runner, watcher *watch.Manager, pipelineBudget time.Duration, pingers map[string]Pinger) *Handler {
	if pipelineBudget <= 0 {
		pipelineBudget = 60 * time.Second
	}
	return &Handler{
		runner:         runner,
		watcher:        watcher,
		pipelineBudget: pipelineBudget,
		pingers:        pingers,
	}
}

// decodeEnvelope unwraps a push envelope into a Notification.
func decodeEnvelope(r *http.Request) (models.Notification, error) {
	var env pushEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		return models.Notification{}, fmt.Errorf("invalid envelope JSON: %w", err)
	}
	if env.Message.Data == "" {
		return models.Notification{}, fmt.Errorf("envelope missing message.data")
	}

	raw, err := base64.StdEncoding.DecodeString(env.Message.Data)
	if err != nil {
		return models.Notification{}, fmt.Errorf("message.data is not valid base64: %w", err)
	}

	var data notificationData
	if err := json.Unmarshal(raw, &data); err != nil {
		return models.Notification{}, fmt.Errorf("invalid notification payload: %w", err)
	}
	if data.EmailAddress == "" || data.HistoryID.String() == "" {
		return models.Notification{}, fmt.Errorf("notification missing emailAddress or historyId")
	}

	return models.Notification{
		MailboxID:     data.EmailAddress,
		SequenceToken: data.HistoryID.String(),
	}, nil
}

// ServeProcess handles POST /process.
func (h *Handler) ServeProcess(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	notification, err := decodeEnvelope(r)
	if err != nil {
		slog.Warn("rejecting malformed push envelope", "error", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if h.watcher != nil {
		h.watcher.NoteNotification(r.Context())
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.pipelineBudget)
	defer cancel()

	results := h.runner.Process(ctx, notification)

	summary := make([]map[string]string, 0, len(results))
	for _, res := range results {
		entry := map[string]string{
			"message_id": res.MessageID,
			"state":      string(res.State),
		}
		if res.Err != nil {
			entry["error"] = res.Err.Error()
		}
		summary = append(summary, entry)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{
		"mailbox_id": notification.MailboxID,
		"processed":  len(results),
		"results":    summary,
	})
}

// ServeWatchStatus handles GET /watch-status.
func (h *Handler) ServeWatchStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.watcher.Status())
}

// ServeRenewWatch handles POST /renew-watch, forcing a renewal now.
func (h *Handler) ServeRenewWatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	expiresAt, err := h.watcher.Renew(r.Context())
	if err != nil {
		slog.Error("manual watch renewal failed", "error", err)
		http.Error(w, "watch renewal failed", http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{
		"status":     "renewed",
		"expires_at": expiresAt.Format(time.RFC3339),
	})
}

// ServeHealth handles GET /health, checking each backend.
func (h *Handler) ServeHealth(w http.ResponseWriter, r *http.Request) {
	for name, p := range h.pingers {
		if err := p.Ping(r.Context()); err != nil {
			slog.Warn("health check failed", "backend", name, "error", err)
			http.Error(w, fmt.Sprintf("%s unhealthy", name), http.StatusServiceUnavailable)
			return
		}
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status": "healthy"}`))
}

// Serve starts the HTTP server on the given port. It binds the port
// immediately and signals readiness via the returned channel before
// accepting connections.
func Serve(ctx context.Context, port int, handler *Handler) (<-chan struct{}, error) {
	mux := http.NewServeMux()
	mux.HandleFunc("/process", handler.ServeProcess)
	mux.HandleFunc("/watch-status", handler.ServeWatchStatus)
	mux.HandleFunc("/renew-watch", handler.ServeRenewWatch)
	mux.HandleFunc("/health", handler.ServeHealth)

	server := &http.Server{
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: handler.pipelineBudget + 10*time.Second,
	}

	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("bind port %d: %w", port, err)
	}

	ready := make(chan struct{})

	go func() {
		<-ctx.Done()
		slog.Info("http server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", "error", err)
		}
	}()

	go func() {
		slog.Info("http server listening", "port", port)
		close(ready)
		if err := server.Serve(ln); err != http.ErrServerClosed {
			slog.Error("http server error", "error", err)
		}
	}()

	return ready, nil
}
