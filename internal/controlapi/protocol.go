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

package controlapi

import (
	"errors"
	"fmt"
	"time"

	"github.com/tombee/procbridge/internal/events"
	"github.com/tombee/procbridge/internal/process"
)

var (
	// ErrInvalidMessage is returned when a request line cannot be parsed.
	ErrInvalidMessage = errors.New("controlapi: invalid message format")

	// ErrUnknownOp is returned when the requested operation doesn't exist.
	ErrUnknownOp = errors.New("controlapi: unknown operation")
)

// Op names a control operation.
type Op string

const (
	OpSpawn  Op = "spawn"
	OpSend   Op = "send"
	OpStop   Op = "stop"
	OpList   Op = "list"
	OpGet    Op = "get"
	OpEvents Op = "events"
)

// MessageType identifies the type of an outgoing message.
type MessageType string

const (
	// MessageTypeResponse answers one request.
	MessageTypeResponse MessageType = "response"

	// MessageTypeEvent carries a process event.
	MessageTypeEvent MessageType = "event"
)

// Request is one line of input.
type Request struct {
	// ID is echoed in the response so callers can match them up
	ID string `json:"id"`

	// Op is the operation to run
	Op Op `json:"op"`

	// Command, Args, Env and Dir describe the process for spawn
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
	Env     []string `json:"env,omitempty"`
	Dir     string   `json:"dir,omitempty"`

	// ProcessID targets send, stop, get and events
	ProcessID string `json:"process_id,omitempty"`

	// Message is the line written by send
	Message string `json:"message,omitempty"`

	// Limit and Since filter events
	Limit int       `json:"limit,omitempty"`
	Since time.Time `json:"since,omitzero"`
}

// Validate checks that the fields the operation needs are present.
func (r *Request) Validate() error {
	switch r.Op {
	case OpSpawn:
		if r.Command == "" {
			return fmt.Errorf("%w: spawn requires command", ErrInvalidMessage)
		}
	case OpSend:
		if r.ProcessID == "" {
			return fmt.Errorf("%w: send requires process_id", ErrInvalidMessage)
		}
	case OpStop, OpGet, OpEvents:
		if r.ProcessID == "" {
			return fmt.Errorf("%w: %s requires process_id", ErrInvalidMessage, r.Op)
		}
	case OpList:
	case "":
		return fmt.Errorf("%w: missing op", ErrInvalidMessage)
	default:
		return fmt.Errorf("%w: %q", ErrUnknownOp, r.Op)
	}
	return nil
}

// SpawnRequest converts a spawn request for the process manager.
func (r *Request) SpawnRequest() process.SpawnRequest {
	return process.SpawnRequest{
		Command: r.Command,
		Args:    r.Args,
		Env:     r.Env,
		Dir:     r.Dir,
	}
}

// Response answers one request.
type Response struct {
	Type   MessageType    `json:"type"`
	ID     string         `json:"id"`
	OK     bool           `json:"ok"`
	Result any            `json:"result,omitempty"`
	Error  *ErrorResponse `json:"error,omitempty"`
}

// ErrorResponse contains structured error information.
type ErrorResponse struct {
	// Code is a machine-readable error code
	Code string `json:"code"`

	// Message is a human-readable error message
	Message string `json:"message"`

	// Suggestion is an actionable hint, if any
	Suggestion string `json:"suggestion,omitempty"`

	// ProcessID is the process the error refers to, if any
	ProcessID string `json:"process_id,omitempty"`

	// Retryable is true when the same request may succeed later
	Retryable bool `json:"retryable,omitempty"`
}

// SpawnResult is the result of a successful spawn.
type SpawnResult struct {
	ProcessID string `json:"process_id"`
}

// ListResult is the result of list.
type ListResult struct {
	Processes []process.Info `json:"processes"`
}

// EventsResult is the result of events.
type EventsResult struct {
	Events []events.Event `json:"events"`
}

// EventMessage is a process event pushed to the caller.
type EventMessage struct {
	Type      MessageType `json:"type"`
	Name      string      `json:"name"`
	ProcessID string      `json:"process_id"`
	Payload   string      `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewResponse creates a successful response.
func NewResponse(id string, result any) *Response {
	return &Response{Type: MessageTypeResponse, ID: id, OK: true, Result: result}
}

// NewErrorResponse creates a failed response from err.
func NewErrorResponse(id string, err error) *Response {
	return &Response{Type: MessageTypeResponse, ID: id, Error: ErrorBody(err)}
}

// NewEventMessage wraps a process event.
func NewEventMessage(ev events.Event) *EventMessage {
	return &EventMessage{
		Type:      MessageTypeEvent,
		Name:      ev.Name,
		ProcessID: ev.ProcessID,
		Payload:   ev.Payload,
		Timestamp: ev.Timestamp,
	}
}
