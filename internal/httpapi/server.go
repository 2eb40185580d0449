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
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"

	internallog "github.com/tombee/procbridge/internal/log"
	"github.com/tombee/procbridge/internal/tracing"
)

// NewRouter builds the router for the API handler. A nil metrics handler
// leaves /metrics unregistered. Every route runs behind the request ID and
// tracing middleware.
func NewRouter(h *Handler, metrics http.Handler) *mux.Router {
	r := mux.NewRouter()
	r.Use(tracing.HTTPMiddleware)
	if metrics != nil {
		r.Handle("/metrics", metrics).Methods("GET")
	}
	if h != nil {
		h.RegisterRoutes(r)
	}
	return r
}

// ServerConfig configures an HTTP server.
type ServerConfig struct {
	// Addr is the listen address, e.g. "127.0.0.1:7070"
	Addr string

	// Handler serves requests (required)
	Handler http.Handler

	// Logger is used for structured logging (optional)
	Logger *slog.Logger

	// ShutdownTimeout bounds graceful shutdown (defaults to 5s)
	ShutdownTimeout time.Duration
}

// Server runs an http.Server in the background.
type Server struct {
	cfg    ServerConfig
	logger *slog.Logger
	srv    *http.Server

	mu     sync.Mutex
	addr   net.Addr
	served chan error
}

// NewServer creates a server. Call Start to begin listening.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Handler == nil {
		return nil, fmt.Errorf("handler is required")
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = 5 * time.Second
	}
	return &Server{
		cfg:    cfg,
		logger: internallog.WithComponent(cfg.Logger, "http"),
		srv: &http.Server{
			Handler:           cfg.Handler,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// Start listens on the configured address and serves in the background.
func (s *Server) Start(ctx context.Context) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Addr, err)
	}

	s.mu.Lock()
	s.addr = ln.Addr()
	s.served = make(chan error, 1)
	served := s.served
	s.mu.Unlock()

	s.logger.Info("http server listening", "addr", ln.Addr().String())

	go func() {
		err := s.srv.Serve(ln)
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		if err != nil {
			s.logger.Error("http server failed", internallog.Error(err))
		}
		served <- err
	}()
	return nil
}

// Addr returns the bound address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.addr
}

// Shutdown stops accepting connections and waits for in-flight requests,
// bounded by ctx and the configured timeout.
func (s *Server) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ShutdownTimeout)
	defer cancel()

	err := s.srv.Shutdown(ctx)

	s.mu.Lock()
	served := s.served
	s.served = nil
	s.mu.Unlock()
	if served != nil {
		err = errors.Join(err, <-served)
	}
	return err
}
