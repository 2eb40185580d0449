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
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/tombee/procbridge/internal/events"
	internallog "github.com/tombee/procbridge/internal/log"
	"github.com/tombee/procbridge/internal/process"
	"github.com/tombee/procbridge/internal/tracing"
)

// surface labels this front end in logs and metrics.
const surface = "ndjson"

const (
	// DefaultMaxLineBytes bounds a single request line.
	DefaultMaxLineBytes = 1 << 20

	// DefaultShutdownTimeout bounds closing the operations at end of input.
	DefaultShutdownTimeout = 10 * time.Second
)

// Operations is the process control surface served over the protocol.
// *process.Manager satisfies it.
type Operations interface {
	Spawn(ctx context.Context, req process.SpawnRequest) (string, error)
	Send(ctx context.Context, id, message string) error
	Stop(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (process.Info, error)
	List(ctx context.Context) ([]process.Info, error)
	Close(ctx context.Context) error
}

// EventSource serves recorded events. *events.Recorder satisfies it.
type EventSource interface {
	Events(processID string, limit int, since time.Time) []events.Event
}

// Writer serializes responses and events onto one stream. It is the event
// sink handed to the process manager.
type Writer struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewWriter creates a Writer emitting one JSON document per line.
func NewWriter(w io.Writer) *Writer {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	return &Writer{enc: enc}
}

// Emit implements events.Sink.
func (w *Writer) Emit(ev events.Event) error {
	return w.write(NewEventMessage(ev))
}

// WriteResponse writes one response.
func (w *Writer) WriteResponse(resp *Response) error {
	return w.write(resp)
}

func (w *Writer) write(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enc.Encode(v)
}

// ServerConfig configures a Server.
type ServerConfig struct {
	// Ops runs the operations (required)
	Ops Operations

	// Out receives responses (required)
	Out *Writer

	// Events serves the events op (optional)
	Events EventSource

	// Logger is used for structured logging (optional)
	Logger *slog.Logger

	// Metrics records request counts and latency (optional)
	Metrics *tracing.ProcessMetrics

	// MaxLineBytes bounds a request line (defaults to 1 MiB)
	MaxLineBytes int

	// ShutdownTimeout bounds Ops.Close at end of input (defaults to 10s)
	ShutdownTimeout time.Duration
}

// Server reads requests line by line and answers each one. Requests are
// handled concurrently; responses may arrive out of order and carry the
// request ID. Requests for the same process_id are handled one at a time in
// arrival order.
type Server struct {
	cfg        ServerConfig
	logger     *slog.Logger
	middleware *internallog.OpMiddleware
	wg         sync.WaitGroup

	mu    sync.Mutex
	tails map[string]chan struct{}
}

// NewServer creates a protocol server.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Ops == nil {
		return nil, fmt.Errorf("operations are required")
	}
	if cfg.Out == nil {
		return nil, fmt.Errorf("output writer is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxLineBytes <= 0 {
		cfg.MaxLineBytes = DefaultMaxLineBytes
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}

	logger := internallog.WithComponent(cfg.Logger, "controlapi")
	return &Server{
		cfg:        cfg,
		logger:     logger,
		middleware: internallog.NewOpMiddleware(logger),
		tails:      make(map[string]chan struct{}),
	}, nil
}

// Serve handles requests from r until end of input or ctx is done, then
// waits for in-flight requests and closes the operations, which stops every
// process still running.
func (s *Server) Serve(ctx context.Context, r io.Reader) error {
	readErr := s.readLoop(ctx, r)
	s.wg.Wait()

	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.ShutdownTimeout)
	defer cancel()
	closeErr := s.cfg.Ops.Close(closeCtx)

	return errors.Join(readErr, closeErr)
}

func (s *Server) readLoop(ctx context.Context, r io.Reader) error {
	lines := make(chan []byte)
	scanErr := make(chan error, 1)

	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r)
		sc.Buffer(make([]byte, 0, min(64*1024, s.cfg.MaxLineBytes)), s.cfg.MaxLineBytes)
		for sc.Scan() {
			line := append([]byte(nil), sc.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		select {
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-scanErr:
					if err != nil {
						return fmt.Errorf("reading requests: %w", err)
					}
				default:
				}
				s.logger.Debug("end of input")
				return nil
			}
			if len(line) == 0 {
				continue
			}
			s.dispatchLine(ctx, line)

		case <-ctx.Done():
			return nil
		}
	}
}

// dispatchLine handles a line in its own goroutine. Lines naming the same
// process_id wait for the previous one, so they run in arrival order.
func (s *Server) dispatchLine(ctx context.Context, line []byte) {
	key := processKey(line)
	done := make(chan struct{})
	var prev chan struct{}
	if key != "" {
		s.mu.Lock()
		prev = s.tails[key]
		s.tails[key] = done
		s.mu.Unlock()
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if prev != nil {
			<-prev
		}
		s.handleLine(ctx, line)
		close(done)

		if key != "" {
			s.mu.Lock()
			if s.tails[key] == done {
				delete(s.tails, key)
			}
			s.mu.Unlock()
		}
	}()
}

// processKey returns the process_id of a request line, or "" when the line
// has none or is not valid JSON.
func processKey(line []byte) string {
	var target struct {
		ProcessID string `json:"process_id"`
	}
	if err := json.Unmarshal(line, &target); err != nil {
		return ""
	}
	return target.ProcessID
}

func (s *Server) handleLine(ctx context.Context, line []byte) {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		s.respond(NewErrorResponse("", fmt.Errorf("%w: %v", ErrInvalidMessage, err)))
		return
	}

	resp := s.Handle(ctx, &req)
	s.respond(resp)
}

// Handle runs one request and returns its response.
func (s *Server) Handle(ctx context.Context, req *Request) *Response {
	start := time.Now()
	var result any

	err := s.middleware.Handle(&internallog.OpRequest{
		Op:        string(req.Op),
		Surface:   surface,
		RequestID: req.ID,
		ProcessID: req.ProcessID,
	}, func() error {
		if err := req.Validate(); err != nil {
			return err
		}
		var err error
		result, err = s.dispatch(ctx, req)
		return err
	})

	s.cfg.Metrics.RecordRequest(ctx, surface, string(req.Op), requestResult(err), time.Since(start).Seconds())

	if err != nil {
		return NewErrorResponse(req.ID, err)
	}
	return NewResponse(req.ID, result)
}

func (s *Server) dispatch(ctx context.Context, req *Request) (any, error) {
	switch req.Op {
	case OpSpawn:
		id, err := s.cfg.Ops.Spawn(ctx, req.SpawnRequest())
		if err != nil {
			return nil, err
		}
		return SpawnResult{ProcessID: id}, nil

	case OpSend:
		return nil, s.cfg.Ops.Send(ctx, req.ProcessID, req.Message)

	case OpStop:
		return nil, s.cfg.Ops.Stop(ctx, req.ProcessID)

	case OpGet:
		info, err := s.cfg.Ops.Get(ctx, req.ProcessID)
		if err != nil {
			return nil, err
		}
		return info, nil

	case OpList:
		infos, err := s.cfg.Ops.List(ctx)
		if err != nil {
			return nil, err
		}
		if infos == nil {
			infos = []process.Info{}
		}
		return ListResult{Processes: infos}, nil

	case OpEvents:
		if s.cfg.Events == nil {
			return nil, fmt.Errorf("%w: event history is not enabled", ErrUnknownOp)
		}
		evs := s.cfg.Events.Events(req.ProcessID, req.Limit, req.Since)
		if evs == nil {
			evs = []events.Event{}
		}
		return EventsResult{Events: evs}, nil
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownOp, req.Op)
}

func (s *Server) respond(resp *Response) {
	if err := s.cfg.Out.WriteResponse(resp); err != nil {
		s.logger.Warn("failed to write response", "request_id", resp.ID, internallog.Error(err))
	}
}

func requestResult(err error) string {
	body := ErrorBody(err)
	if body == nil {
		return "ok"
	}
	return body.Code
}
