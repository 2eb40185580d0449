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

// Package serve implements the serve command: the NDJSON control protocol on
// stdin/stdout, optionally alongside the HTTP API.
package serve

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/procbridge/internal/commands/shared"
	"github.com/tombee/procbridge/internal/controlapi"
	"github.com/tombee/procbridge/internal/events"
	"github.com/tombee/procbridge/internal/httpapi"
	internallog "github.com/tombee/procbridge/internal/log"
	"github.com/tombee/procbridge/internal/process"
)

// closeTimeout bounds stopping the remaining processes on exit.
const closeTimeout = 10 * time.Second

type options struct {
	httpAddr string
	httpOnly bool
}

// NewCommand creates the serve command
func NewCommand() *cobra.Command {
	var opts options

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Bridge processes over NDJSON on stdin/stdout",
		Long: `Serve reads one JSON request per line from stdin and writes responses
and process events as JSON lines to stdout. Logs go to stderr.

Requests:
  {"id":"r1","op":"spawn","command":"cat","args":[]}
  {"id":"r2","op":"send","process_id":"<id>","message":"hello"}
  {"id":"r3","op":"stop","process_id":"<id>"}
  {"id":"r4","op":"list"}
  {"id":"r5","op":"events","process_id":"<id>","limit":10}

Events:
  {"type":"event","name":"process_message_<id>","payload":"hello"}

Requests run concurrently and responses carry the request id. Requests
naming the same process_id run one at a time, in input order.

End of input stops every process that is still running.

With --http-addr (or http.addr in the config file) the same operations are
also served over HTTP. --http-only skips stdin entirely and serves until
interrupted.`,
		Example: `  # Drive the bridge from a host program over pipes
  procbridge serve

  # Also expose the HTTP API on loopback
  procbridge serve --http-addr 127.0.0.1:7070

  # HTTP only
  procbridge serve --http-only --http-addr 127.0.0.1:7070`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.httpAddr, "http-addr", "", "Serve the HTTP API on this address (overrides http.addr)")
	cmd.Flags().BoolVar(&opts.httpOnly, "http-only", false, "Serve only the HTTP API, ignoring stdin")

	return cmd
}

func run(ctx context.Context, in io.Reader, out io.Writer, opts options) (err error) {
	rt, err := shared.NewRuntime(ctx)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()
		err = errors.Join(err, rt.Close(closeCtx))
	}()

	if opts.httpAddr == "" {
		opts.httpAddr = rt.Config.HTTP.Addr
	}
	if opts.httpOnly && opts.httpAddr == "" {
		return shared.NewConfigError("--http-only requires an HTTP address", nil)
	}

	if err := rt.StartMetrics(ctx); err != nil {
		return err
	}

	writer := controlapi.NewWriter(out)
	var sink events.Sink = writer
	if opts.httpOnly {
		sink = nil
	}
	mgr := process.NewManager(rt.ManagerConfig(sink))

	if opts.httpAddr != "" {
		srv, err := startHTTP(ctx, rt, mgr, opts.httpAddr)
		if err != nil {
			_ = closeManager(ctx, mgr, rt.Logger)
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), rt.Config.HTTP.ShutdownTimeout)
			defer cancel()
			err = errors.Join(err, srv.Shutdown(shutdownCtx))
		}()
	}

	if opts.httpOnly {
		<-ctx.Done()
		rt.Logger.Info("shutting down")
		return closeManager(ctx, mgr, rt.Logger)
	}

	cs, err := controlapi.NewServer(controlapi.ServerConfig{
		Ops:     mgr,
		Out:     writer,
		Events:  rt.Recorder,
		Logger:  rt.Logger,
		Metrics: rt.Metrics(),
	})
	if err != nil {
		_ = closeManager(ctx, mgr, rt.Logger)
		return err
	}

	rt.Logger.Info("serving control protocol on stdio")
	if err := cs.Serve(ctx, in); err != nil {
		return fmt.Errorf("control protocol: %w", err)
	}
	return nil
}

func startHTTP(ctx context.Context, rt *shared.Runtime, mgr *process.Manager, addr string) (*httpapi.Server, error) {
	logger := internallog.WithComponent(rt.Logger, "http")
	handler := httpapi.NewHandler(mgr, rt.Recorder, rt.Metrics(), logger)

	srv, err := httpapi.NewServer(httpapi.ServerConfig{
		Addr:            addr,
		Handler:         httpapi.NewRouter(handler, rt.Telemetry.MetricsHandler()),
		Logger:          logger,
		ShutdownTimeout: rt.Config.HTTP.ShutdownTimeout,
	})
	if err != nil {
		return nil, err
	}
	if err := srv.Start(ctx); err != nil {
		return nil, err
	}
	return srv, nil
}

func closeManager(ctx context.Context, mgr *process.Manager, logger *slog.Logger) error {
	closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
	defer cancel()
	if err := mgr.Close(closeCtx); err != nil {
		logger.Warn("failed to stop all processes", internallog.Error(err))
		return err
	}
	return nil
}
