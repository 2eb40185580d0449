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
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		var entry map[string]interface{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("expected valid JSON log line %q: %v", line, err)
		}
		out = append(out, entry)
	}
	return out
}

func TestOpMiddleware_Handle_Success(t *testing.T) {
	var buf bytes.Buffer

	logger := New(&Config{Level: "debug", Format: FormatJSON, Output: &buf})
	middleware := NewOpMiddleware(logger)

	req := &OpRequest{Op: "spawn", Surface: "ndjson", RequestID: "r1"}

	handlerCalled := false
	err := middleware.Handle(req, func() error {
		handlerCalled = true
		return nil
	})
	if err != nil {
		t.Errorf("expected no error, got: %v", err)
	}
	if !handlerCalled {
		t.Errorf("expected handler to be called")
	}

	lines := decodeLines(t, &buf)
	if len(lines) != 2 {
		t.Fatalf("expected 2 log lines, got %d: %s", len(lines), buf.String())
	}

	if lines[0]["msg"] != "operation received" {
		t.Errorf("expected request log first, got: %v", lines[0]["msg"])
	}
	if lines[0]["request_id"] != "r1" {
		t.Errorf("expected request_id r1, got: %v", lines[0]["request_id"])
	}
	if lines[1]["success"] != true {
		t.Errorf("expected success to be true, got: %v", lines[1]["success"])
	}
	if _, ok := lines[1]["duration_ms"]; !ok {
		t.Errorf("expected duration_ms to be present")
	}
}

func TestOpMiddleware_Handle_Error(t *testing.T) {
	var buf bytes.Buffer

	logger := New(&Config{Level: "info", Format: FormatJSON, Output: &buf})
	middleware := NewOpMiddleware(logger)

	req := &OpRequest{Op: "stop", Surface: "http", ProcessID: "p1"}
	wantErr := errors.New("not found")

	err := middleware.Handle(req, func() error { return wantErr })
	if !errors.Is(err, wantErr) {
		t.Errorf("expected handler error to be returned, got: %v", err)
	}

	// The request line is at debug, so only the response is logged at info.
	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected 1 log line, got %d: %s", len(lines), buf.String())
	}
	if lines[0]["msg"] != "operation failed" {
		t.Errorf("expected 'operation failed', got: %v", lines[0]["msg"])
	}
	if lines[0]["level"] != "WARN" {
		t.Errorf("expected WARN level, got: %v", lines[0]["level"])
	}
	if lines[0]["error"] != "not found" {
		t.Errorf("expected error message, got: %v", lines[0]["error"])
	}
	if lines[0]["process_id"] != "p1" {
		t.Errorf("expected process_id p1, got: %v", lines[0]["process_id"])
	}
}
