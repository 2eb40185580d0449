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

// Package server implements an MCP server that exposes process control as tools.
package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/tombee/procbridge/internal/events"
	internallog "github.com/tombee/procbridge/internal/log"
	"github.com/tombee/procbridge/internal/process"
	"github.com/tombee/procbridge/internal/tracing"
)

// EventNotification is the notification method used to push process events.
const EventNotification = "notifications/procbridge/event"

// Operations is the process control surface exposed as tools.
// *process.Manager satisfies it.
type Operations interface {
	Spawn(ctx context.Context, req process.SpawnRequest) (string, error)
	Send(ctx context.Context, id, message string) error
	Stop(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (process.Info, error)
	List(ctx context.Context) ([]process.Info, error)
}

// EventSource serves recorded events. *events.Recorder satisfies it.
type EventSource interface {
	Events(processID string, limit int, since time.Time) []events.Event
}

// Server wraps the MCP server and provides process tools
type Server struct {
	mcpServer   *server.MCPServer
	name        string
	version     string
	ops         Operations
	events      EventSource
	rateLimiter *RateLimiter
	metrics     *tracing.ProcessMetrics
	logger      *slog.Logger
	middleware  *internallog.OpMiddleware
}

// ServerConfig configures the MCP server
type ServerConfig struct {
	// Name is the server name (default: "procbridge")
	Name string

	// Version is the procbridge version
	Version string

	// Ops runs the tools (required)
	Ops Operations

	// Events serves process_events (optional)
	Events EventSource

	// Logger writes to stderr; stdout carries the protocol (optional)
	Logger *slog.Logger

	// Metrics records tool calls (optional)
	Metrics *tracing.ProcessMetrics

	// CallsPerMinute bounds all tool calls; zero is unlimited
	CallsPerMinute int

	// SpawnsPerMinute bounds process_spawn calls; zero is unlimited
	SpawnsPerMinute int
}

// NewServer creates a new MCP server instance
func NewServer(config ServerConfig) (*Server, error) {
	if config.Ops == nil {
		return nil, fmt.Errorf("operations are required")
	}
	if config.Name == "" {
		config.Name = "procbridge"
	}
	if config.Version == "" {
		config.Version = "dev"
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	logger := internallog.WithComponent(config.Logger, "mcp")

	s := &Server{
		mcpServer:   server.NewMCPServer(config.Name, config.Version, server.WithToolCapabilities(false)),
		name:        config.Name,
		version:     config.Version,
		ops:         config.Ops,
		events:      config.Events,
		rateLimiter: NewRateLimiter(config.SpawnsPerMinute, config.CallsPerMinute),
		metrics:     config.Metrics,
		logger:      logger,
		middleware:  internallog.NewOpMiddleware(logger),
	}

	s.registerTools()
	return s, nil
}

// registerTools registers all process tools with the MCP server
func (s *Server) registerTools() {
	// Tool: process_spawn
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "process_spawn",
		Description: "Start a long-running process with piped stdin, stdout and stderr. Returns the process ID used by the other tools. Output lines arrive as events.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"command": map[string]any{
					"type":        "string",
					"description": "Executable name or path. Unresolvable names are retried through the platform shell.",
				},
				"args": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Command-line arguments",
				},
				"env": map[string]any{
					"type":        "array",
					"items":       map[string]any{"type": "string"},
					"description": "Extra KEY=VALUE environment entries",
				},
				"dir": map[string]any{
					"type":        "string",
					"description": "Working directory",
				},
			},
			Required: []string{"command"},
		},
	}, s.tool("spawn", s.handleSpawn))

	// Tool: process_send
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "process_send",
		Description: "Write one line to a process's stdin. Fails with STDIN_UNAVAILABLE while another write is in flight.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"process_id": map[string]any{
					"type":        "string",
					"description": "ID returned by process_spawn",
				},
				"message": map[string]any{
					"type":        "string",
					"description": "Line to write; a newline is appended",
				},
			},
			Required: []string{"process_id", "message"},
		},
	}, s.tool("send", s.handleSend))

	// Tool: process_stop
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "process_stop",
		Description: "Kill a process and wait for its exit to be observed.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"process_id": map[string]any{
					"type":        "string",
					"description": "ID returned by process_spawn",
				},
			},
			Required: []string{"process_id"},
		},
	}, s.tool("stop", s.handleStop))

	// Tool: process_list
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "process_list",
		Description: "List live processes as a table or JSON.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"format": map[string]any{
					"type":        "string",
					"enum":        []string{"table", "json"},
					"description": "Output format (default: table)",
				},
			},
		},
	}, s.tool("list", s.handleList))

	// Tool: process_events
	s.mcpServer.AddTool(mcp.Tool{
		Name:        "process_events",
		Description: "Return recent events recorded for a process, including after it has exited.",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"process_id": map[string]any{
					"type":        "string",
					"description": "ID returned by process_spawn",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Return only the most recent events (default: all)",
				},
			},
			Required: []string{"process_id"},
		},
	}, s.tool("events", s.handleEvents))
}

// Emit pushes an event to every connected client. It implements events.Sink.
func (s *Server) Emit(ev events.Event) error {
	s.mcpServer.SendNotificationToAllClients(EventNotification, map[string]any{
		"name":       ev.Name,
		"process_id": ev.ProcessID,
		"payload":    ev.Payload,
		"timestamp":  ev.Timestamp,
	})
	return nil
}

// Run serves the MCP protocol over the given streams until ctx is done or
// the input ends.
func (s *Server) Run(ctx context.Context, in io.Reader, out io.Writer) error {
	s.logger.Info("Starting procbridge MCP server", slog.String("version", s.version))

	stdio := server.NewStdioServer(s.mcpServer)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))

	if err := stdio.Listen(ctx, in, out); err != nil && ctx.Err() == nil {
		return fmt.Errorf("MCP server error: %w", err)
	}
	return nil
}

// Helper function to create error response
func errorResponse(message string) *mcp.CallToolResult {
	return mcp.NewToolResultError(message)
}

// Helper function to create success response
func textResponse(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(text),
		},
	}
}
