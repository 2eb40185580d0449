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
	"context"
	"io"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tombee/procbridge/internal/events"
)

// fakeChild is an in-memory Child. Output is fed through pipes and the
// process "exits" when exit or Kill is called.
type fakeChild struct {
	pid int

	stdinR  *io.PipeReader
	stdinW  *io.PipeWriter
	stdoutR *io.PipeReader
	stdoutW *io.PipeWriter
	stderrR *io.PipeReader
	stderrW *io.PipeWriter

	// noStdout simulates a failed stream capture.
	noStdout bool

	once    sync.Once
	done    chan struct{}
	status  ExitStatus
	waitErr error
	kills   atomic.Int32
	waits   atomic.Int32
}

var fakePIDs atomic.Int32

func newFakeChild() *fakeChild {
	c := &fakeChild{
		pid:  int(fakePIDs.Add(1)) + 10000,
		done: make(chan struct{}),
	}
	c.stdinR, c.stdinW = io.Pipe()
	c.stdoutR, c.stdoutW = io.Pipe()
	c.stderrR, c.stderrW = io.Pipe()
	return c
}

func (c *fakeChild) Pid() int              { return c.pid }
func (c *fakeChild) Stdin() io.WriteCloser { return c.stdinW }
func (c *fakeChild) Stderr() io.ReadCloser { return c.stderrR }

func (c *fakeChild) Stdout() io.ReadCloser {
	if c.noStdout {
		return nil
	}
	return c.stdoutR
}

func (c *fakeChild) Wait() (ExitStatus, error) {
	c.waits.Add(1)
	<-c.done
	return c.status, c.waitErr
}

func (c *fakeChild) Kill() error {
	c.kills.Add(1)
	select {
	case <-c.done:
		return os.ErrProcessDone
	default:
	}
	c.exit(ExitStatus{Code: -1, Description: "signal: killed"}, nil)
	return nil
}

// exit terminates the fake with the given status. Only the first call counts.
func (c *fakeChild) exit(status ExitStatus, waitErr error) {
	c.once.Do(func() {
		c.status = status
		c.waitErr = waitErr
		_ = c.stdoutW.Close()
		_ = c.stderrW.Close()
		_ = c.stdinR.Close()
		close(c.done)
	})
}

func (c *fakeChild) exited() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

// fakeStarter hands out fake children, or the errors queued in fail.
type fakeStarter struct {
	mu       sync.Mutex
	specs    []CommandSpec
	children []*fakeChild
	fail     []error
	prepare  func(*fakeChild)
}

func (s *fakeStarter) Start(_ context.Context, spec CommandSpec) (Child, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.specs = append(s.specs, spec)
	if len(s.fail) > 0 {
		err := s.fail[0]
		s.fail = s.fail[1:]
		if err != nil {
			return nil, err
		}
	}

	c := newFakeChild()
	if s.prepare != nil {
		s.prepare(c)
	}
	s.children = append(s.children, c)
	return c, nil
}

func (s *fakeStarter) child(i int) *fakeChild {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.children[i]
}

func (s *fakeStarter) calls() []CommandSpec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]CommandSpec(nil), s.specs...)
}

// recordingSink captures events in memory.
type recordingSink struct {
	mu     sync.Mutex
	events []events.Event
}

func (s *recordingSink) Emit(e events.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

func (s *recordingSink) all() []events.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]events.Event(nil), s.events...)
}

func (s *recordingSink) byName(name string) []events.Event {
	var out []events.Event
	for _, e := range s.all() {
		if e.Name == name {
			out = append(out, e)
		}
	}
	return out
}

// waitForEvent blocks until an event with the given name has been recorded.
func (s *recordingSink) waitForEvent(t *testing.T, name string) events.Event {
	t.Helper()
	var found events.Event
	require.Eventually(t, func() bool {
		got := s.byName(name)
		if len(got) == 0 {
			return false
		}
		found = got[0]
		return true
	}, 5*time.Second, 5*time.Millisecond, "event %s not emitted", name)
	return found
}

func newTestManager(t *testing.T, starter Starter, sink events.Sink, mutate ...func(*ManagerConfig)) *Manager {
	t.Helper()
	cfg := ManagerConfig{
		Sink:         sink,
		Starter:      starter,
		GOOS:         "linux",
		StopTimeout:  2 * time.Second,
		DrainTimeout: 500 * time.Millisecond,
		Resolve:      func(context.Context, Fallback) error { return nil },
	}
	for _, fn := range mutate {
		fn(&cfg)
	}
	m := NewManager(cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = m.Close(ctx)
	})
	return m
}

func registryLen(t *testing.T, m *Manager) int {
	t.Helper()
	n, err := m.Registry().Len()
	require.NoError(t, err)
	return n
}
