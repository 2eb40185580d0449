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

package log

import (
	"context"
	"log/slog"
	"time"
)

// OpRequest describes a control operation for logging purposes.
type OpRequest struct {
	// Op is the operation name (e.g., "spawn", "send").
	Op string

	// Surface is the front end that received the request (e.g., "ndjson", "http", "mcp").
	Surface string

	// RequestID is the caller's identifier for this request, if any.
	RequestID string

	// ProcessID is the target process, if any.
	ProcessID string
}

// OpResponse describes the outcome of a control operation.
type OpResponse struct {
	// Success indicates whether the operation succeeded.
	Success bool

	// Error is the error message if the operation failed.
	Error string

	// DurationMs is the duration of the operation in milliseconds.
	DurationMs int64
}

func (r *OpRequest) attrs() []any {
	attrs := []any{
		OpKey, r.Op,
		"surface", r.Surface,
	}
	if r.RequestID != "" {
		attrs = append(attrs, "request_id", r.RequestID)
	}
	if r.ProcessID != "" {
		attrs = append(attrs, ProcessIDKey, r.ProcessID)
	}
	return attrs
}

// LogOpRequest logs an incoming control operation.
func LogOpRequest(logger *slog.Logger, req *OpRequest) {
	logger.Debug("operation received", req.attrs()...)
}

// LogOpResponse logs the outcome of a control operation. Failures are
// logged at warn; they are usually caller errors, not bridge faults.
func LogOpResponse(logger *slog.Logger, req *OpRequest, resp *OpResponse) {
	attrs := append(req.attrs(),
		"success", resp.Success,
		DurationKey, resp.DurationMs,
	)
	if resp.Error != "" {
		attrs = append(attrs, "error", resp.Error)
	}

	level := slog.LevelInfo
	message := "operation completed"
	if !resp.Success {
		level = slog.LevelWarn
		message = "operation failed"
	}

	logger.Log(context.Background(), level, message, attrs...)
}

// OpMiddleware wraps control operations with request/response logging.
type OpMiddleware struct {
	logger *slog.Logger
}

// NewOpMiddleware creates a new operation logging middleware.
func NewOpMiddleware(logger *slog.Logger) *OpMiddleware {
	if logger == nil {
		logger = slog.Default()
	}
	return &OpMiddleware{
		logger: logger,
	}
}

// Handle runs handler, logging the request before and the outcome after.
func (m *OpMiddleware) Handle(req *OpRequest, handler func() error) error {
	start := time.Now()

	LogOpRequest(m.logger, req)

	err := handler()

	resp := &OpResponse{
		Success:    err == nil,
		DurationMs: time.Since(start).Milliseconds(),
	}
	if err != nil {
		resp.Error = err.Error()
	}

	LogOpResponse(m.logger, req, resp)

	return err
}
