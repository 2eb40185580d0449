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
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/procbridge/internal/events"
	"github.com/tombee/procbridge/internal/process"
)

type fakeOps struct {
	mu    sync.Mutex
	procs map[string]process.SpawnRequest
	sent  []string
}

func newFakeOps() *fakeOps {
	return &fakeOps{procs: map[string]process.SpawnRequest{}}
}

func (f *fakeOps) Spawn(_ context.Context, req process.SpawnRequest) (string, error) {
	if req.Command == "missing" {
		return "", &process.SpawnError{Command: req.Command, Fallback: "sh -c missing", Cause: errors.New("not found")}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.procs["p1"] = req
	return "p1", nil
}

func (f *fakeOps) Send(_ context.Context, id, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.procs[id]; !ok {
		return process.ErrProcessNotFound
	}
	f.sent = append(f.sent, message)
	return nil
}

func (f *fakeOps) Stop(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.procs[id]; !ok {
		return process.ErrNotFoundOrHandled
	}
	delete(f.procs, id)
	return nil
}

func (f *fakeOps) Get(_ context.Context, id string) (process.Info, error) {
	return process.Info{}, process.ErrProcessNotFound
}

func (f *fakeOps) List(_ context.Context) ([]process.Info, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []process.Info
	for id, req := range f.procs {
		out = append(out, process.Info{
			ID:             id,
			Pid:            4242,
			Command:        req.Command,
			Args:           req.Args,
			StartedAt:      time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
			HandleHeld:     true,
			InputAvailable: true,
		})
	}
	return out, nil
}

func newTestServer(t *testing.T, cfg ServerConfig) *Server {
	t.Helper()
	if cfg.Ops == nil {
		cfg.Ops = newFakeOps()
	}
	s, err := NewServer(cfg)
	require.NoError(t, err)
	return s
}

func call(t *testing.T, h func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error), args map[string]any) (*mcp.CallToolResult, string) {
	t.Helper()
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	result, err := h(context.Background(), req)
	require.NoError(t, err)
	require.NotNil(t, result)
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content")
	return result, text.Text
}

func TestNewServer_Validation(t *testing.T) {
	_, err := NewServer(ServerConfig{})
	assert.Error(t, err)
}

func TestNewServer_Defaults(t *testing.T) {
	s := newTestServer(t, ServerConfig{})
	assert.Equal(t, "procbridge", s.name)
	assert.Equal(t, "dev", s.version)
	assert.NotNil(t, s.logger)
}

func TestSpawnTool(t *testing.T) {
	ops := newFakeOps()
	s := newTestServer(t, ServerConfig{Ops: ops})

	result, text := call(t, s.tool("spawn", s.handleSpawn), map[string]any{
		"command": "cat",
		"args":    []any{"-u", 3, "x"},
		"env":     []any{"A=1"},
	})
	assert.False(t, result.IsError)
	assert.Contains(t, text, `"process_id": "p1"`)
	assert.Equal(t, []string{"-u", "x"}, ops.procs["p1"].Args)
	assert.Equal(t, []string{"A=1"}, ops.procs["p1"].Env)

	result, text = call(t, s.tool("spawn", s.handleSpawn), map[string]any{})
	assert.True(t, result.IsError)
	assert.Contains(t, text, "INVALID_ARGUMENT")

	result, text = call(t, s.tool("spawn", s.handleSpawn), map[string]any{"command": "missing"})
	assert.True(t, result.IsError)
	assert.Contains(t, text, "SPAWN_FAILED")
	assert.Contains(t, text, "sh -c missing")
}

func TestSendAndStopTools(t *testing.T) {
	ops := newFakeOps()
	s := newTestServer(t, ServerConfig{Ops: ops})
	call(t, s.tool("spawn", s.handleSpawn), map[string]any{"command": "cat"})

	result, _ := call(t, s.tool("send", s.handleSend), map[string]any{"process_id": "p1", "message": "hi"})
	assert.False(t, result.IsError)
	assert.Equal(t, []string{"hi"}, ops.sent)

	result, text := call(t, s.tool("send", s.handleSend), map[string]any{"process_id": "p1"})
	assert.True(t, result.IsError)
	assert.Contains(t, text, "message")

	result, _ = call(t, s.tool("stop", s.handleStop), map[string]any{"process_id": "p1"})
	assert.False(t, result.IsError)

	result, text = call(t, s.tool("stop", s.handleStop), map[string]any{"process_id": "p1"})
	assert.True(t, result.IsError)
	assert.Contains(t, text, "NOT_FOUND_OR_HANDLED")

	result, text = call(t, s.tool("send", s.handleSend), map[string]any{"process_id": "p1", "message": "late"})
	assert.True(t, result.IsError)
	assert.Contains(t, text, "PROCESS_NOT_FOUND")
}

func TestListTool(t *testing.T) {
	s := newTestServer(t, ServerConfig{})

	_, text := call(t, s.tool("list", s.handleList), map[string]any{})
	assert.Equal(t, "No live processes", text)

	call(t, s.tool("spawn", s.handleSpawn), map[string]any{"command": "cat", "args": []any{"-u"}})

	_, text = call(t, s.tool("list", s.handleList), map[string]any{})
	assert.Contains(t, text, "p1")
	assert.Contains(t, text, "4242")
	assert.Contains(t, text, "cat -u")
	assert.Contains(t, text, "Total processes: 1")

	_, text = call(t, s.tool("list", s.handleList), map[string]any{"format": "json"})
	var list struct {
		Processes []process.Info `json:"processes"`
	}
	require.NoError(t, json.Unmarshal([]byte(text), &list))
	require.Len(t, list.Processes, 1)
	assert.Equal(t, "cat", list.Processes[0].Command)

	result, _ := call(t, s.tool("list", s.handleList), map[string]any{"format": "yaml"})
	assert.True(t, result.IsError)
}

func TestEventsTool(t *testing.T) {
	rec := events.NewRecorder(10)
	require.NoError(t, rec.Emit(events.New(events.KindMessage, "p1", "first")))
	require.NoError(t, rec.Emit(events.New(events.KindClosed, "p1", "Exited with status: exit status 0")))

	s := newTestServer(t, ServerConfig{Events: rec})

	_, text := call(t, s.tool("events", s.handleEvents), map[string]any{"process_id": "p1", "limit": 1})
	assert.Contains(t, text, "Exited with status")
	assert.NotContains(t, text, "first")

	_, text = call(t, s.tool("events", s.handleEvents), map[string]any{"process_id": "other"})
	assert.Contains(t, text, `"events": []`)

	noHistory := newTestServer(t, ServerConfig{})
	result, _ := call(t, noHistory.tool("events", noHistory.handleEvents), map[string]any{"process_id": "p1"})
	assert.True(t, result.IsError)
}

func TestRateLimit(t *testing.T) {
	s := newTestServer(t, ServerConfig{CallsPerMinute: 2})
	list := s.tool("list", s.handleList)

	for range 2 {
		result, _ := call(t, list, map[string]any{})
		assert.False(t, result.IsError)
	}
	result, text := call(t, list, map[string]any{})
	assert.True(t, result.IsError)
	assert.True(t, strings.Contains(text, "Rate limit"))
}

func TestSpawnRateLimit(t *testing.T) {
	s := newTestServer(t, ServerConfig{SpawnsPerMinute: 1})
	spawn := s.tool("spawn", s.handleSpawn)

	result, _ := call(t, spawn, map[string]any{"command": "cat"})
	assert.False(t, result.IsError)
	result, text := call(t, spawn, map[string]any{"command": "cat"})
	assert.True(t, result.IsError)
	assert.Contains(t, text, "process spawns")
}

func TestRateLimiter_Unlimited(t *testing.T) {
	rl := NewRateLimiter(0, 0)
	for range 1000 {
		require.True(t, rl.AllowCall())
		require.True(t, rl.AllowSpawn())
	}
}

func TestEmitWithoutClients(t *testing.T) {
	s := newTestServer(t, ServerConfig{})
	assert.NoError(t, s.Emit(events.New(events.KindMessage, "p1", "line")))
}
