// Copyright 2025 Tom Barlow
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

package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/tombee/procbridge/internal/controlapi"
	"github.com/tombee/procbridge/internal/events"
	internallog "github.com/tombee/procbridge/internal/log"
	"github.com/tombee/procbridge/internal/process"
	"github.com/tombee/procbridge/internal/tracing"
)

const surface = "http"

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// Operations is the process control surface served over HTTP.
// *process.Manager satisfies it.
type Operations interface {
	Spawn(ctx context.Context, req process.SpawnRequest) (string, error)
	Send(ctx context.Context, id, message string) error
	Stop(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (process.Info, error)
	List(ctx context.Context) ([]process.Info, error)
}

// Handler serves the process API.
type Handler struct {
	ops        Operations
	events     controlapi.EventSource
	metrics    *tracing.ProcessMetrics
	logger     *slog.Logger
	middleware *internallog.OpMiddleware
}

// NewHandler creates an API handler. eventSource and metrics may be nil.
func NewHandler(ops Operations, eventSource controlapi.EventSource, metrics *tracing.ProcessMetrics, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	logger = internallog.WithComponent(logger, "httpapi")
	return &Handler{
		ops:        ops,
		events:     eventSource,
		metrics:    metrics,
		logger:     logger,
		middleware: internallog.NewOpMiddleware(logger),
	}
}

// RegisterRoutes registers the process routes on r.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/v1/processes", h.op("spawn", h.Spawn)).Methods("POST")
	r.HandleFunc("/v1/processes", h.op("list", h.List)).Methods("GET")
	r.HandleFunc("/v1/processes/{id}", h.op("get", h.Get)).Methods("GET")
	r.HandleFunc("/v1/processes/{id}", h.op("stop", h.Stop)).Methods("DELETE")
	r.HandleFunc("/v1/processes/{id}/messages", h.op("send", h.Send)).Methods("POST")
	r.HandleFunc("/v1/processes/{id}/events", h.op("events", h.Events)).Methods("GET")
	r.HandleFunc("/healthz", h.Health).Methods("GET")
}

// opFunc handles one request and reports the error that decided its status.
type opFunc func(w http.ResponseWriter, r *http.Request) error

// op wraps a handler with operation logging, metrics and error rendering.
func (h *Handler) op(name string, fn opFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		req := &internallog.OpRequest{
			Op:        name,
			Surface:   surface,
			RequestID: tracing.RequestIDFromContext(r.Context()),
			ProcessID: mux.Vars(r)["id"],
		}

		err := h.middleware.Handle(req, func() error {
			return fn(w, r)
		})

		result := "ok"
		if err != nil {
			body := controlapi.ErrorBody(err)
			result = body.Code
			writeJSON(w, statusFor(body.Code), map[string]any{"error": body})
		}
		h.metrics.RecordRequest(r.Context(), surface, name, result, time.Since(start).Seconds())
	}
}

// SpawnBody is the body of POST /v1/processes.
type SpawnBody struct {
	Command string   `json:"command"`
	Args    []string `json:"args,omitempty"`
	Env     []string `json:"env,omitempty"`
	Dir     string   `json:"dir,omitempty"`
}

// MessageBody is the body of POST /v1/processes/{id}/messages.
type MessageBody struct {
	Message string `json:"message"`
}

// Spawn starts a process.
func (h *Handler) Spawn(w http.ResponseWriter, r *http.Request) error {
	var body SpawnBody
	if err := decode(r, &body); err != nil {
		return err
	}
	if body.Command == "" {
		return fmt.Errorf("%w: command is required", controlapi.ErrInvalidMessage)
	}

	id, err := h.ops.Spawn(r.Context(), process.SpawnRequest{
		Command: body.Command,
		Args:    body.Args,
		Env:     body.Env,
		Dir:     body.Dir,
	})
	if err != nil {
		return err
	}

	w.Header().Set("Location", "/v1/processes/"+id)
	writeJSON(w, http.StatusCreated, controlapi.SpawnResult{ProcessID: id})
	return nil
}

// List returns every live process.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) error {
	infos, err := h.ops.List(r.Context())
	if err != nil {
		return err
	}
	if infos == nil {
		infos = []process.Info{}
	}
	writeJSON(w, http.StatusOK, controlapi.ListResult{Processes: infos})
	return nil
}

// Get returns one process.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) error {
	info, err := h.ops.Get(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		return err
	}
	writeJSON(w, http.StatusOK, info)
	return nil
}

// Send writes one line to a process.
func (h *Handler) Send(w http.ResponseWriter, r *http.Request) error {
	var body MessageBody
	if err := decode(r, &body); err != nil {
		return err
	}
	if err := h.ops.Send(r.Context(), mux.Vars(r)["id"], body.Message); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// Stop kills a process.
func (h *Handler) Stop(w http.ResponseWriter, r *http.Request) error {
	if err := h.ops.Stop(r.Context(), mux.Vars(r)["id"]); err != nil {
		return err
	}
	w.WriteHeader(http.StatusNoContent)
	return nil
}

// Events returns recorded events, optionally since an RFC 3339 time or
// limited to the most recent ones.
func (h *Handler) Events(w http.ResponseWriter, r *http.Request) error {
	if h.events == nil {
		return fmt.Errorf("%w: event history is not enabled", controlapi.ErrUnknownOp)
	}

	var since time.Time
	if s := r.URL.Query().Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("%w: since must be an RFC 3339 time", controlapi.ErrInvalidMessage)
		}
		since = t
	}
	var limit int
	if s := r.URL.Query().Get("limit"); s != "" {
		if _, err := fmt.Sscanf(s, "%d", &limit); err != nil || limit < 0 {
			return fmt.Errorf("%w: limit must be a non-negative integer", controlapi.ErrInvalidMessage)
		}
	}

	evs := h.events.Events(mux.Vars(r)["id"], limit, since)
	if evs == nil {
		evs = []events.Event{}
	}
	writeJSON(w, http.StatusOK, controlapi.EventsResult{Events: evs})
	return nil
}

// Health reports liveness and the number of live processes.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	infos, err := h.ops.List(r.Context())
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "degraded",
			"error":  controlapi.ErrorBody(err),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"processes": len(infos),
	})
}

func decode(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", controlapi.ErrInvalidMessage, err)
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// statusFor maps a wire error code to an HTTP status.
func statusFor(code string) int {
	switch process.ErrorCode(code) {
	case process.ErrorCodeInvalidArgument:
		return http.StatusBadRequest
	case process.ErrorCodeNotFound, process.ErrorCodeNotFoundOrHandled:
		return http.StatusNotFound
	case process.ErrorCodeStdinUnavailable, process.ErrorCodeAlreadyExists:
		return http.StatusConflict
	case process.ErrorCodeSpawnFailed, process.ErrorCodeStreamCaptureFailed:
		return http.StatusUnprocessableEntity
	case process.ErrorCodeWriteFailed, process.ErrorCodeKillFailed:
		return http.StatusBadGateway
	case process.ErrorCodeTimeout:
		return http.StatusGatewayTimeout
	case process.ErrorCodeClosed, process.ErrorCodeLockCorrupted:
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
