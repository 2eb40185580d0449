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

// Package attach implements the attach command, which bridges the terminal
// to a single managed process.
package attach

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/tombee/procbridge/internal/commands/shared"
	"github.com/tombee/procbridge/internal/events"
	internallog "github.com/tombee/procbridge/internal/log"
	"github.com/tombee/procbridge/internal/process"
)

const (
	// closeTimeout bounds stopping the process on exit.
	closeTimeout = 10 * time.Second
	// exitGrace is how long to wait for the closed event once a stop
	// request finds the process already exiting.
	exitGrace = 5 * time.Second
)

type options struct {
	stdin   bool
	summary bool
}

// NewCommand creates the attach command
func NewCommand() *cobra.Command {
	opts := options{stdin: true}

	cmd := &cobra.Command{
		Use:   "attach -- <command> [args...]",
		Short: "Run one process attached to the terminal",
		Long: `Attach spawns a single process through the bridge and connects it to the
terminal: process_message events print to stdout, process_stderr events print
to stderr, and each line read from stdin is sent to the process.

End of stdin stops the process. With --stdin=false stdin is not read and the
process runs until it exits or attach is interrupted.

The exit code is 0 when the process exits with status 0, and 4 otherwise.`,
		Example: `  # Talk to a line-oriented program
  procbridge attach -- cat

  # Run a shell pipeline through the shell fallback
  procbridge attach --stdin=false -- "ls -l | wc -l"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr(), args, opts)
		},
	}

	cmd.Flags().BoolVar(&opts.stdin, "stdin", true, "Forward stdin lines to the process")
	cmd.Flags().BoolVar(&opts.summary, "summary", false, "Print a summary table to stderr on exit")

	return cmd
}

// console prints events to the terminal and reports the closed event.
type console struct {
	mu     sync.Mutex
	stdout io.Writer
	stderr io.Writer
	closed chan string
}

func newConsole(stdout, stderr io.Writer) *console {
	return &console{stdout: stdout, stderr: stderr, closed: make(chan string, 1)}
}

// Emit implements events.Sink.
func (c *console) Emit(ev events.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var err error
	switch ev.Kind {
	case events.KindMessage:
		_, err = fmt.Fprintln(c.stdout, ev.Payload)
	case events.KindStderr:
		_, err = fmt.Fprintln(c.stderr, ev.Payload)
	case events.KindError:
		_, err = fmt.Fprintf(c.stderr, "procbridge: %s\n", ev.Payload)
	case events.KindClosed:
		select {
		case c.closed <- ev.Payload:
		default:
		}
	}
	return err
}

func (c *console) printf(format string, args ...any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(c.stderr, format, args...)
}

// outcome is how an attached process ended.
type outcome struct {
	status  string
	stopped bool
	err     error
}

func run(ctx context.Context, in io.Reader, stdout, stderr io.Writer, argv []string, opts options) (err error) {
	rt, err := shared.NewRuntime(ctx)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()
		err = errors.Join(err, rt.Close(closeCtx))
	}()

	con := newConsole(stdout, stderr)
	mgr := process.NewManager(rt.ManagerConfig(con))
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
		defer cancel()
		err = errors.Join(err, mgr.Close(closeCtx))
	}()

	id, err := mgr.Spawn(ctx, process.SpawnRequest{Command: argv[0], Args: argv[1:]})
	if err != nil {
		return shared.NewSpawnError("failed to start "+argv[0], err)
	}
	info, infoErr := mgr.Get(ctx, id)
	started := time.Now()

	if isTerminal(in) && opts.stdin && !shared.GetQuiet() && infoErr == nil {
		con.printf("procbridge: attached to %s (pid %d); type lines to send, Ctrl-D to stop\n", argv[0], info.Pid)
	}

	var inputDone <-chan struct{}
	if opts.stdin {
		inputDone = forward(ctx, mgr, id, in, rt)
	}

	res := wait(ctx, mgr, id, con, inputDone)

	if opts.summary {
		if err := printSummary(con, id, info.Pid, argv, time.Since(started), res); err != nil {
			rt.Logger.Warn("failed to render summary", internallog.Error(err))
		}
	}

	switch {
	case res.err != nil:
		return res.err
	case res.stopped:
		if ctx.Err() != nil {
			return shared.NewProcessFailedError("interrupted")
		}
		return nil
	case strings.HasSuffix(res.status, "exit status 0"):
		return nil
	default:
		return shared.NewProcessFailedError(res.status)
	}
}

// forward sends each input line to the process. The returned channel is
// closed when input ends or a write fails.
func forward(ctx context.Context, mgr *process.Manager, id string, in io.Reader, rt *shared.Runtime) <-chan struct{} {
	done := make(chan struct{})
	go func() {
		defer close(done)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			if err := mgr.Send(ctx, id, sc.Text()); err != nil {
				rt.Logger.Debug("stopped forwarding stdin",
					internallog.Error(err),
					"process_id", id,
				)
				return
			}
		}
	}()
	return done
}

// wait blocks until the process exits, input ends, or ctx is done. In the
// last two cases it stops the process.
func wait(ctx context.Context, mgr *process.Manager, id string, con *console, inputDone <-chan struct{}) outcome {
	select {
	case status := <-con.closed:
		return outcome{status: status}
	case <-inputDone:
	case <-ctx.Done():
	}

	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), closeTimeout)
	defer cancel()

	err := mgr.Stop(stopCtx, id)
	switch {
	case err == nil:
		return outcome{stopped: true, status: "stopped"}
	case errors.Is(err, process.ErrNotFoundOrHandled), errors.Is(err, process.ErrProcessNotFound):
		// Already exiting on its own; the monitor reports the status.
		select {
		case status := <-con.closed:
			return outcome{status: status}
		case <-time.After(exitGrace):
			return outcome{err: fmt.Errorf("process %s exited without reporting a status", id)}
		}
	default:
		return outcome{err: err}
	}
}

func printSummary(con *console, id string, pid int, argv []string, elapsed time.Duration, res outcome) error {
	result := res.status
	if res.err != nil {
		result = res.err.Error()
	}

	con.mu.Lock()
	defer con.mu.Unlock()

	table := tablewriter.NewWriter(con.stderr)
	table.Header("Process", "PID", "Command", "Duration", "Result")
	if err := table.Append(
		id,
		fmt.Sprintf("%d", pid),
		strings.Join(argv, " "),
		elapsed.Round(time.Millisecond).String(),
		result,
	); err != nil {
		return err
	}
	return table.Render()
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
