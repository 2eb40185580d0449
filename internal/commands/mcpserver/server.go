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

package mcpserver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/tombee/procbridge/internal/commands/shared"
	"github.com/tombee/procbridge/internal/events"
	"github.com/tombee/procbridge/internal/mcp/server"
	"github.com/tombee/procbridge/internal/process"
)

// closeTimeout bounds stopping the remaining processes on exit.
const closeTimeout = 10 * time.Second

// NewCommand creates the mcp-server command
func NewCommand() *cobra.Command {
	var spawnsPerMinute int

	cmd := &cobra.Command{
		Use:   "mcp-server",
		Short: "Start the procbridge MCP server",
		Long: `Start the procbridge MCP (Model Context Protocol) server on stdio.

The server exposes process control as tools an AI assistant can call, and
pushes process output as notifications/procbridge/event notifications.

Configuration example for an MCP client:
  {
    "mcpServers": {
      "procbridge": {
        "command": "procbridge",
        "args": ["mcp-server"]
      }
    }
  }

The server exposes these tools:
  - process_spawn:  Start a process and return its ID
  - process_send:   Write a message to a process's stdin
  - process_stop:   Kill a process
  - process_list:   List live processes
  - process_events: Read recent events of a process

Tool calls are rate limited by mcp.calls_per_minute. Every process still
running when the client disconnects is stopped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMCPServer(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), spawnsPerMinute)
		},
	}

	cmd.Flags().IntVar(&spawnsPerMinute, "spawns-per-minute", 0, "Limit process_spawn calls per minute (0 is unlimited)")

	return cmd
}

func runMCPServer(ctx context.Context, in io.Reader, out io.Writer, spawnsPerMinute int) (err error) {
	rt, err := shared.NewRuntime(ctx)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()
		err = errors.Join(err, rt.Close(closeCtx))
	}()

	if err := rt.StartMetrics(ctx); err != nil {
		return err
	}

	// srv is assigned before Run, and only tool calls made through Run can
	// spawn processes that emit.
	var srv *server.Server
	notify := events.SinkFunc(func(ev events.Event) error {
		if srv == nil {
			return nil
		}
		return srv.Emit(ev)
	})

	mgr := process.NewManager(rt.ManagerConfig(notify))
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()
		err = errors.Join(err, mgr.Close(closeCtx))
	}()

	v, _, _ := shared.GetVersion()
	srv, err = server.NewServer(server.ServerConfig{
		Version:         v,
		Ops:             mgr,
		Events:          rt.Recorder,
		Logger:          rt.Logger,
		Metrics:         rt.Metrics(),
		CallsPerMinute:  rt.Config.MCP.CallsPerMinute,
		SpawnsPerMinute: spawnsPerMinute,
	})
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	return srv.Run(ctx, in, out)
}
