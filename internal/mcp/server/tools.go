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

package server

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/tombee/procbridge/internal/controlapi"
	"github.com/tombee/procbridge/internal/events"
	internallog "github.com/tombee/procbridge/internal/log"
	"github.com/tombee/procbridge/internal/process"
)

const surface = "mcp"

// toolFunc runs one tool. A returned error is a tool failure reported to
// the model, not a protocol error.
type toolFunc func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error)

// tool wraps a handler with rate limiting, operation logging and metrics.
func (s *Server) tool(op string, fn toolFunc) server.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if !s.rateLimiter.AllowCall() {
			s.metrics.RecordRequest(ctx, surface, op, "rate_limited", 0)
			return errorResponse("Rate limit exceeded. Please try again later."), nil
		}

		start := time.Now()
		var result *mcp.CallToolResult
		err := s.middleware.Handle(&internallog.OpRequest{
			Op:        op,
			Surface:   surface,
			ProcessID: request.GetString("process_id", ""),
		}, func() error {
			var err error
			result, err = fn(ctx, request)
			return err
		})

		outcome := "ok"
		if err != nil {
			body := controlapi.ErrorBody(err)
			outcome = body.Code
			result = errorResponse(formatError(body))
		}
		s.metrics.RecordRequest(ctx, surface, op, outcome, time.Since(start).Seconds())
		return result, nil
	}
}

func formatError(body *controlapi.ErrorResponse) string {
	msg := fmt.Sprintf("%s: %s", body.Code, body.Message)
	if body.Suggestion != "" {
		msg += "\nSuggestion: " + body.Suggestion
	}
	return msg
}

func (s *Server) handleSpawn(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	command, err := request.RequireString("command")
	if err != nil || command == "" {
		return nil, fmt.Errorf("%w: missing or invalid 'command' argument", controlapi.ErrInvalidMessage)
	}
	if !s.rateLimiter.AllowSpawn() {
		return errorResponse("Rate limit exceeded for process spawns. Please try again later."), nil
	}

	args := request.GetArguments()
	req := process.SpawnRequest{
		Command: command,
		Args:    stringSlice(args["args"]),
		Env:     stringSlice(args["env"]),
		Dir:     request.GetString("dir", ""),
	}

	id, err := s.ops.Spawn(ctx, req)
	if err != nil {
		return nil, err
	}
	return jsonResponse(controlapi.SpawnResult{ProcessID: id})
}

func (s *Server) handleSend(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("process_id")
	if err != nil {
		return nil, fmt.Errorf("%w: missing or invalid 'process_id' argument", controlapi.ErrInvalidMessage)
	}
	message, err := request.RequireString("message")
	if err != nil {
		return nil, fmt.Errorf("%w: missing or invalid 'message' argument", controlapi.ErrInvalidMessage)
	}

	if err := s.ops.Send(ctx, id, message); err != nil {
		return nil, err
	}
	return textResponse("sent"), nil
}

func (s *Server) handleStop(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("process_id")
	if err != nil {
		return nil, fmt.Errorf("%w: missing or invalid 'process_id' argument", controlapi.ErrInvalidMessage)
	}

	if err := s.ops.Stop(ctx, id); err != nil {
		return nil, err
	}
	return textResponse("stopped"), nil
}

func (s *Server) handleList(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	infos, err := s.ops.List(ctx)
	if err != nil {
		return nil, err
	}

	switch request.GetString("format", "table") {
	case "json":
		if infos == nil {
			infos = []process.Info{}
		}
		return jsonResponse(controlapi.ListResult{Processes: infos})
	case "table":
		text, err := renderTable(infos)
		if err != nil {
			return nil, err
		}
		return textResponse(text), nil
	default:
		return nil, fmt.Errorf("%w: format must be table or json", controlapi.ErrInvalidMessage)
	}
}

func (s *Server) handleEvents(_ context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("process_id")
	if err != nil {
		return nil, fmt.Errorf("%w: missing or invalid 'process_id' argument", controlapi.ErrInvalidMessage)
	}
	if s.events == nil {
		return nil, fmt.Errorf("%w: event history is not enabled", controlapi.ErrUnknownOp)
	}

	evs := s.events.Events(id, request.GetInt("limit", 0), time.Time{})
	if evs == nil {
		evs = []events.Event{}
	}
	return jsonResponse(controlapi.EventsResult{Events: evs})
}

func jsonResponse(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to encode result: %w", err)
	}
	return textResponse(string(data)), nil
}

// stringSlice converts a decoded JSON array of strings. Non-string items
// are dropped.
func stringSlice(v any) []string {
	items, ok := v.([]any)
	if !ok {
		if ss, ok := v.([]string); ok {
			return ss
		}
		return nil
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
