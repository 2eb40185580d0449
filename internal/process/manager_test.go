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

package process

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/procbridge/internal/events"
)

func TestManager_UnknownID(t *testing.T) {
	m := newTestManager(t, &fakeStarter{}, &recordingSink{})
	ctx := context.Background()

	err := m.Send(ctx, "never-spawned", "hello")
	assert.ErrorIs(t, err, ErrProcessNotFound)

	err = m.Stop(ctx, "never-spawned")
	assert.ErrorIs(t, err, ErrNotFoundOrHandled)

	_, err = m.Get(ctx, "never-spawned")
	assert.ErrorIs(t, err, ErrProcessNotFound)
}

func TestManager_SpawnRegistersEntry(t *testing.T) {
	starter := &fakeStarter{}
	m := newTestManager(t, starter, &recordingSink{})
	ctx := context.Background()

	id, err := m.Spawn(ctx, SpawnRequest{Command: "server", Args: []string{"--stdio"}})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	assert.Equal(t, 1, registryLen(t, m))

	info, err := m.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, info.ID)
	assert.Equal(t, "server", info.Command)
	assert.Equal(t, []string{"--stdio"}, info.Args)
	assert.Equal(t, starter.child(0).Pid(), info.Pid)
	assert.True(t, info.HandleHeld)
	assert.True(t, info.InputAvailable)

	list, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, id, list[0].ID)
}

func TestManager_SpawnValidation(t *testing.T) {
	m := newTestManager(t, &fakeStarter{}, &recordingSink{})
	ctx := context.Background()

	_, err := m.Spawn(ctx, SpawnRequest{Command: "  "})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = m.Spawn(ctx, SpawnRequest{Command: "cat", Dir: "/definitely/not/a/dir"})
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestManager_OutputPumps(t *testing.T) {
	starter := &fakeStarter{}
	sink := &recordingSink{}
	m := newTestManager(t, starter, sink)

	id, err := m.Spawn(context.Background(), SpawnRequest{Command: "server"})
	require.NoError(t, err)
	child := starter.child(0)

	go func() {
		_, _ = io.WriteString(child.stdoutW, `{"jsonrpc":"2.0"}`+"\n   \n  padded  \r\n")
	}()
	go func() {
		_, _ = io.WriteString(child.stderrW, "warning: slow\n")
	}()

	sink.waitForEvent(t, events.Name(events.KindStderr, id))
	require.Eventually(t, func() bool {
		return len(sink.byName(events.Name(events.KindMessage, id))) == 2
	}, 5*time.Second, 5*time.Millisecond)

	messages := sink.byName(events.Name(events.KindMessage, id))
	assert.Equal(t, `{"jsonrpc":"2.0"}`, messages[0].Payload)
	assert.Equal(t, "padded", messages[1].Payload)
	assert.Equal(t, "warning: slow", sink.byName(events.Name(events.KindStderr, id))[0].Payload)
}

func TestManager_LogOnlyStderr(t *testing.T) {
	starter := &fakeStarter{}
	sink := &recordingSink{}
	m := newTestManager(t, starter, sink, func(c *ManagerConfig) { c.LogOnlyStderr = true })

	id, err := m.Spawn(context.Background(), SpawnRequest{Command: "server"})
	require.NoError(t, err)
	child := starter.child(0)

	_, err = io.WriteString(child.stderrW, "diagnostic\n")
	require.NoError(t, err)
	child.exit(ExitStatus{Code: 0, Description: "exit status 0"}, nil)

	sink.waitForEvent(t, events.Name(events.KindClosed, id))
	assert.Empty(t, sink.byName(events.Name(events.KindStderr, id)))
}

func TestManager_NaturalExit(t *testing.T) {
	starter := &fakeStarter{}
	sink := &recordingSink{}
	m := newTestManager(t, starter, sink)

	id, err := m.Spawn(context.Background(), SpawnRequest{Command: "true"})
	require.NoError(t, err)

	starter.child(0).exit(ExitStatus{Code: 0, Description: "exit status 0"}, nil)

	closed := sink.waitForEvent(t, events.Name(events.KindClosed, id))
	assert.Equal(t, "Exited with status: exit status 0", closed.Payload)

	require.Eventually(t, func() bool { return registryLen(t, m) == 0 }, 5*time.Second, 5*time.Millisecond)
	assert.Len(t, sink.byName(events.Name(events.KindClosed, id)), 1)
	assert.Zero(t, starter.child(0).kills.Load(), "natural exit must not kill")

	err = m.Stop(context.Background(), id)
	assert.ErrorIs(t, err, ErrNotFoundOrHandled)
}

func TestManager_WaitError(t *testing.T) {
	starter := &fakeStarter{}
	sink := &recordingSink{}
	m := newTestManager(t, starter, sink)

	id, err := m.Spawn(context.Background(), SpawnRequest{Command: "server"})
	require.NoError(t, err)

	starter.child(0).exit(ExitStatus{Code: -1}, errors.New("no child processes"))

	ev := sink.waitForEvent(t, events.Name(events.KindError, id))
	assert.Equal(t, "Error waiting for process: no child processes", ev.Payload)
	require.Eventually(t, func() bool { return registryLen(t, m) == 0 }, 5*time.Second, 5*time.Millisecond)
	assert.Empty(t, sink.byName(events.Name(events.KindClosed, id)))
}

// lockedBuffer is a bytes.Buffer safe for a logger writing from pumps.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func TestManager_StdoutReadError(t *testing.T) {
	starter := &fakeStarter{}
	sink := &recordingSink{}
	logs := &lockedBuffer{}
	m := newTestManager(t, starter, sink, func(cfg *ManagerConfig) {
		cfg.Logger = slog.New(slog.NewJSONHandler(logs, &slog.HandlerOptions{Level: slog.LevelDebug}))
	})

	id, err := m.Spawn(context.Background(), SpawnRequest{Command: "server"})
	require.NoError(t, err)

	_ = starter.child(0).stdoutW.CloseWithError(errors.New("broken pipe"))

	ev := sink.waitForEvent(t, events.Name(events.KindError, id))
	assert.Equal(t, "Error reading stdout: broken pipe", ev.Payload)

	require.Eventually(t, func() bool {
		return strings.Contains(logs.String(), `"msg":"stream read failed"`)
	}, 5*time.Second, 5*time.Millisecond)
	for _, line := range strings.Split(strings.TrimSpace(logs.String()), "\n") {
		if !strings.Contains(line, "stream read failed") {
			continue
		}
		var entry map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		assert.Equal(t, "broken pipe", entry["error"])
		assert.Equal(t, "stdout", entry["stream"])
		assert.Equal(t, id, entry["process_id"])
	}
}

func TestManager_Stop(t *testing.T) {
	starter := &fakeStarter{}
	sink := &recordingSink{}
	m := newTestManager(t, starter, sink)
	ctx := context.Background()

	id, err := m.Spawn(ctx, SpawnRequest{Command: "server"})
	require.NoError(t, err)
	child := starter.child(0)

	require.NoError(t, m.Stop(ctx, id))

	assert.True(t, child.exited())
	assert.Equal(t, int32(1), child.kills.Load())
	assert.Equal(t, 0, registryLen(t, m))

	// Stop returns only after the monitor has run, so nothing follows.
	before := len(sink.all())
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, sink.all(), before)
	assert.Empty(t, sink.byName(events.Name(events.KindClosed, id)))

	assert.ErrorIs(t, m.Stop(ctx, id), ErrNotFoundOrHandled)
	assert.ErrorIs(t, m.Send(ctx, id, "late"), ErrProcessNotFound)
}

// hangingChild ignores Kill so the stop confirmation has to time out.
type hangingChild struct {
	*fakeChild
}

func (c hangingChild) Kill() error {
	c.kills.Add(1)
	return nil
}

func TestManager_StopTimeout(t *testing.T) {
	child := hangingChild{newFakeChild()}
	starter := StarterFunc(func(context.Context, CommandSpec) (Child, error) { return child, nil })
	m := newTestManager(t, starter, &recordingSink{}, func(c *ManagerConfig) {
		c.StopTimeout = 50 * time.Millisecond
	})
	ctx := context.Background()

	id, err := m.Spawn(ctx, SpawnRequest{Command: "stubborn"})
	require.NoError(t, err)

	err = m.Stop(ctx, id)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 0, registryLen(t, m))

	child.exit(ExitStatus{Code: -1, Description: "signal: killed"}, nil)
}

func TestManager_KillFailed(t *testing.T) {
	starter := &fakeStarter{}
	m := newTestManager(t, starter, &recordingSink{})
	ctx := context.Background()

	id, err := m.Spawn(ctx, SpawnRequest{Command: "server"})
	require.NoError(t, err)

	// A kill error other than "already done" is reported.
	var handle Child
	require.NoError(t, m.Registry().WithEntry(id, func(p *ManagedProcess) {
		handle = p.handle
		p.handle = failingKill{handle}
	}))

	err = m.Stop(ctx, id)
	assert.ErrorIs(t, err, ErrKillFailed)

	starter.child(0).exit(ExitStatus{Code: 0, Description: "exit status 0"}, nil)
}

type failingKill struct {
	Child
}

func (failingKill) Kill() error { return errors.New("operation not permitted") }

func TestManager_StopRacesNaturalExit(t *testing.T) {
	for i := 0; i < 50; i++ {
		t.Run(fmt.Sprintf("iteration-%d", i), func(t *testing.T) {
			starter := &fakeStarter{}
			sink := &recordingSink{}
			m := NewManager(ManagerConfig{
				Sink:         sink,
				Starter:      starter,
				DrainTimeout: 500 * time.Millisecond,
			})
			ctx := context.Background()

			id, err := m.Spawn(ctx, SpawnRequest{Command: "server"})
			require.NoError(t, err)
			child := starter.child(0)

			var stopErr error
			var wg sync.WaitGroup
			wg.Add(2)
			go func() {
				defer wg.Done()
				child.exit(ExitStatus{Code: 0, Description: "exit status 0"}, nil)
			}()
			go func() {
				defer wg.Done()
				stopErr = m.Stop(ctx, id)
			}()
			wg.Wait()

			require.NoError(t, m.Close(ctx))

			closed := len(sink.byName(events.Name(events.KindClosed, id)))
			assert.LessOrEqual(t, closed, 1)
			if stopErr == nil {
				assert.Equal(t, 0, closed, "stop won the handle, monitor must stay quiet")
			} else {
				assert.ErrorIs(t, stopErr, ErrNotFoundOrHandled)
				assert.Equal(t, 1, closed, "monitor won the handle and reports the exit")
			}
			assert.Equal(t, 0, registryLen(t, m))
			assert.Equal(t, int32(1), child.waits.Load(), "only the monitor waits")
		})
	}
}

func TestManager_Send(t *testing.T) {
	starter := &fakeStarter{}
	m := newTestManager(t, starter, &recordingSink{})
	ctx := context.Background()

	id, err := m.Spawn(ctx, SpawnRequest{Command: "cat"})
	require.NoError(t, err)
	child := starter.child(0)

	received := make(chan string, 1)
	go func() {
		buf := make([]byte, 64)
		n, _ := child.stdinR.Read(buf)
		received <- string(buf[:n])
	}()

	require.NoError(t, m.Send(ctx, id, `{"id":1}`))
	assert.Equal(t, "{\"id\":1}\n", <-received)

	info, err := m.Get(ctx, id)
	require.NoError(t, err)
	assert.True(t, info.InputAvailable, "stdin is returned to its slot after a write")
}

func TestManager_ConcurrentSendIsRejected(t *testing.T) {
	starter := &fakeStarter{}
	m := newTestManager(t, starter, &recordingSink{})
	ctx := context.Background()

	id, err := m.Spawn(ctx, SpawnRequest{Command: "cat"})
	require.NoError(t, err)
	child := starter.child(0)

	// Nobody reads stdin yet, so the first write blocks holding the slot.
	firstDone := make(chan error, 1)
	go func() {
		firstDone <- m.Send(ctx, id, "first")
	}()

	require.Eventually(t, func() bool {
		info, err := m.Get(ctx, id)
		return err == nil && !info.InputAvailable
	}, 5*time.Second, time.Millisecond)

	err = m.Send(ctx, id, "second")
	require.ErrorIs(t, err, ErrStdinUnavailable)
	var pe *Error
	require.True(t, errors.As(err, &pe))
	assert.True(t, pe.IsRetryable())

	buf := make([]byte, 64)
	n, err := child.stdinR.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "first\n", string(buf[:n]))
	require.NoError(t, <-firstDone)

	// The rejected call performed no write: the next read sees only the third message.
	go func() {
		_ = m.Send(ctx, id, "third")
	}()
	n, err = child.stdinR.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, "third\n", string(buf[:n]))
}

func TestManager_ManyConcurrentSends(t *testing.T) {
	starter := &fakeStarter{}
	m := newTestManager(t, starter, &recordingSink{})
	ctx := context.Background()

	id, err := m.Spawn(ctx, SpawnRequest{Command: "cat"})
	require.NoError(t, err)
	child := starter.child(0)

	var (
		mu    sync.Mutex
		lines []string
	)
	readDone := make(chan struct{})
	go func() {
		defer close(readDone)
		for line, err := range Lines(child.stdinR) {
			if err != nil {
				return
			}
			mu.Lock()
			lines = append(lines, line)
			mu.Unlock()
		}
	}()

	const senders = 32
	var ok, busy int32
	var wg sync.WaitGroup
	var countMu sync.Mutex
	for i := 0; i < senders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := m.Send(ctx, id, fmt.Sprintf("msg-%d", i))
			countMu.Lock()
			defer countMu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, ErrStdinUnavailable):
				busy++
			default:
				t.Errorf("unexpected send error: %v", err)
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int32(senders), ok+busy)

	require.NoError(t, m.Stop(ctx, id))
	<-readDone

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, lines, int(ok), "every successful send is written exactly once")
	seen := make(map[string]bool)
	for _, line := range lines {
		assert.False(t, seen[line], "duplicate write %q", line)
		seen[line] = true
	}
}

func TestManager_WriteFailureRetiresStdin(t *testing.T) {
	starter := &fakeStarter{}
	m := newTestManager(t, starter, &recordingSink{})
	ctx := context.Background()

	id, err := m.Spawn(ctx, SpawnRequest{Command: "server"})
	require.NoError(t, err)
	child := starter.child(0)

	require.NoError(t, child.stdinR.CloseWithError(errors.New("broken pipe")))

	err = m.Send(ctx, id, "hello")
	require.ErrorIs(t, err, ErrWriteFailed)
	assert.Contains(t, err.Error(), "broken pipe")

	err = m.Send(ctx, id, "again")
	require.ErrorIs(t, err, ErrStdinUnavailable)
	assert.Contains(t, err.Error(), "write failure")

	info, err := m.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, info.InputAvailable)
	assert.Contains(t, info.InputError, "broken pipe")
}

func TestManager_SendCanceledContext(t *testing.T) {
	starter := &fakeStarter{}
	m := newTestManager(t, starter, &recordingSink{})

	id, err := m.Spawn(context.Background(), SpawnRequest{Command: "server"})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err = m.Send(ctx, id, "hello")
	require.ErrorIs(t, err, ErrWriteFailed)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestManager_ShellFallback(t *testing.T) {
	notFound := &exec.Error{Name: "not_a_real_tool", Err: exec.ErrNotFound}
	starter := &fakeStarter{fail: []error{notFound}}
	var resolved []Fallback
	m := newTestManager(t, starter, &recordingSink{}, func(c *ManagerConfig) {
		c.Resolve = func(_ context.Context, fb Fallback) error {
			resolved = append(resolved, fb)
			return nil
		}
	})
	ctx := context.Background()

	id, err := m.Spawn(ctx, SpawnRequest{Command: "not_a_real_tool", Args: []string{"a b"}})
	require.NoError(t, err)

	calls := starter.calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "sh", calls[1].Command)
	assert.Equal(t, []string{"-c", "not_a_real_tool 'a b'"}, calls[1].Args)
	require.Len(t, resolved, 1)

	info, err := m.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, "not_a_real_tool", info.Command)
	assert.Equal(t, []string{"sh", "-c", "not_a_real_tool 'a b'"}, info.Launched)
}

func TestManager_ShellFallbackFails(t *testing.T) {
	notFound := &exec.Error{Name: "not_a_real_command_xyz", Err: exec.ErrNotFound}

	tests := []struct {
		name    string
		goos    string
		fail    []error
		resolve ResolveFunc
		want    string
	}{
		{
			name:    "probe rejects",
			goos:    "linux",
			fail:    []error{notFound},
			resolve: func(context.Context, Fallback) error { return exec.ErrNotFound },
			want:    "sh -c not_a_real_command_xyz",
		},
		{
			name: "windows shell fails to start",
			goos: "windows",
			fail: []error{notFound, &os.PathError{Op: "fork/exec", Path: "cmd", Err: fs.ErrNotExist}},
			want: "cmd /c not_a_real_command_xyz",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			starter := &fakeStarter{fail: tt.fail}
			m := newTestManager(t, starter, &recordingSink{}, func(c *ManagerConfig) {
				c.GOOS = tt.goos
				if tt.resolve != nil {
					c.Resolve = tt.resolve
				}
			})

			_, err := m.Spawn(context.Background(), SpawnRequest{Command: "not_a_real_command_xyz"})
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrSpawnFailed)

			var se *SpawnError
			require.True(t, errors.As(err, &se))
			assert.Equal(t, tt.want, se.Fallback)
			assert.Contains(t, err.Error(), tt.want)
			assert.Equal(t, 0, registryLen(t, m))
		})
	}
}

func TestManager_NoFallbackForOtherErrors(t *testing.T) {
	denied := &os.PathError{Op: "fork/exec", Path: "/bin/secret", Err: fs.ErrPermission}

	t.Run("permission denied", func(t *testing.T) {
		starter := &fakeStarter{fail: []error{denied}}
		m := newTestManager(t, starter, &recordingSink{})

		_, err := m.Spawn(context.Background(), SpawnRequest{Command: "/bin/secret"})
		var se *SpawnError
		require.True(t, errors.As(err, &se))
		assert.Empty(t, se.Fallback)
		assert.Len(t, starter.calls(), 1)
	})

	t.Run("fallback disabled", func(t *testing.T) {
		notFound := &exec.Error{Name: "nope", Err: exec.ErrNotFound}
		starter := &fakeStarter{fail: []error{notFound}}
		m := newTestManager(t, starter, &recordingSink{}, func(c *ManagerConfig) {
			c.DisableShellFallback = true
		})

		_, err := m.Spawn(context.Background(), SpawnRequest{Command: "nope"})
		var se *SpawnError
		require.True(t, errors.As(err, &se))
		assert.Empty(t, se.Fallback)
		assert.Len(t, starter.calls(), 1)
	})
}

func TestManager_StreamCaptureFailed(t *testing.T) {
	starter := &fakeStarter{prepare: func(c *fakeChild) { c.noStdout = true }}
	m := newTestManager(t, starter, &recordingSink{})

	_, err := m.Spawn(context.Background(), SpawnRequest{Command: "server"})
	require.ErrorIs(t, err, ErrStreamCaptureFailed)
	assert.Contains(t, err.Error(), "stdout")

	child := starter.child(0)
	assert.True(t, child.exited(), "process is killed when a stream is missing")
	assert.Equal(t, int32(1), child.waits.Load(), "process is reaped")
	assert.Equal(t, 0, registryLen(t, m))
}

func TestManager_LockCorrupted(t *testing.T) {
	starter := &fakeStarter{}
	m := newTestManager(t, starter, &recordingSink{})
	ctx := context.Background()

	id, err := m.Spawn(ctx, SpawnRequest{Command: "server"})
	require.NoError(t, err)

	err = m.Registry().WithEntry(id, func(*ManagedProcess) {
		panic("boom")
	})
	require.ErrorIs(t, err, ErrLockCorrupted)

	assert.ErrorIs(t, m.Send(ctx, id, "x"), ErrLockCorrupted)
	assert.ErrorIs(t, m.Stop(ctx, id), ErrLockCorrupted)
	_, err = m.List(ctx)
	assert.ErrorIs(t, err, ErrLockCorrupted)
	_, err = m.Spawn(ctx, SpawnRequest{Command: "server"})
	assert.ErrorIs(t, err, ErrLockCorrupted)

	// The second child was killed because it could not be registered.
	assert.True(t, starter.child(1).exited())

	starter.child(0).exit(ExitStatus{Code: 0, Description: "exit status 0"}, nil)
}

func TestManager_Close(t *testing.T) {
	starter := &fakeStarter{}
	sink := &recordingSink{}
	m := NewManager(ManagerConfig{Sink: sink, Starter: starter})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := m.Spawn(ctx, SpawnRequest{Command: "server"})
		require.NoError(t, err)
	}

	require.NoError(t, m.Close(ctx))

	for i := 0; i < 3; i++ {
		assert.True(t, starter.child(i).exited(), "child %d killed on close", i)
	}
	assert.Equal(t, 0, registryLen(t, m))

	_, err := m.Spawn(ctx, SpawnRequest{Command: "server"})
	assert.ErrorIs(t, err, ErrClosed)

	// Closing twice is harmless.
	assert.NoError(t, m.Close(ctx))
}

func TestManager_EnvAndDir(t *testing.T) {
	starter := &fakeStarter{}
	dir := t.TempDir()
	m := newTestManager(t, starter, &recordingSink{}, func(c *ManagerConfig) {
		c.Env = []string{"BRIDGE=1"}
		c.Dir = dir
	})

	_, err := m.Spawn(context.Background(), SpawnRequest{Command: "server", Env: []string{"EXTRA=2"}})
	require.NoError(t, err)

	spec := starter.calls()[0]
	assert.Equal(t, dir, spec.Dir)
	assert.Contains(t, spec.Env, "BRIDGE=1")
	assert.Contains(t, spec.Env, "EXTRA=2")
	assert.Equal(t, "EXTRA=2", spec.Env[len(spec.Env)-1])
}

func TestManager_InheritsEnvWhenUnset(t *testing.T) {
	starter := &fakeStarter{}
	m := newTestManager(t, starter, &recordingSink{})

	_, err := m.Spawn(context.Background(), SpawnRequest{Command: "server"})
	require.NoError(t, err)
	assert.Nil(t, starter.calls()[0].Env)
}

type failingSink struct{}

func (failingSink) Emit(events.Event) error { return errors.New("consumer gone") }

func TestManager_SinkFailuresAreNotFatal(t *testing.T) {
	starter := &fakeStarter{}
	m := newTestManager(t, starter, failingSink{})

	id, err := m.Spawn(context.Background(), SpawnRequest{Command: "server"})
	require.NoError(t, err)

	_, err = io.WriteString(starter.child(0).stdoutW, "line\n")
	require.NoError(t, err)
	starter.child(0).exit(ExitStatus{Code: 0, Description: "exit status 0"}, nil)

	require.Eventually(t, func() bool {
		_, err := m.Get(context.Background(), id)
		return errors.Is(err, ErrProcessNotFound)
	}, 5*time.Second, 5*time.Millisecond)
}
