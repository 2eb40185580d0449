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
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/tombee/procbridge/internal/events"
	internallog "github.com/tombee/procbridge/internal/log"
	"github.com/tombee/procbridge/internal/tracing"
)

const (
	// DefaultStopTimeout bounds how long Stop waits for the exit monitor to
	// confirm a killed process has terminated.
	DefaultStopTimeout = 5 * time.Second

	// DefaultDrainTimeout bounds how long the exit monitor waits for the
	// pumps to reach end-of-stream after the process has exited.
	DefaultDrainTimeout = 2 * time.Second
)

// SpawnRequest describes a process to spawn.
type SpawnRequest struct {
	// Command is the executable name or path.
	Command string `json:"command"`
	// Args are the command-line arguments.
	Args []string `json:"args,omitempty"`
	// Env holds extra KEY=VALUE pairs added to the inherited environment.
	Env []string `json:"env,omitempty"`
	// Dir is the working directory. Empty uses the manager default.
	Dir string `json:"dir,omitempty"`
}

// ManagerConfig configures a Manager.
type ManagerConfig struct {
	// Sink receives process events (optional, defaults to events.Discard)
	Sink events.Sink

	// Logger is used for structured logging (optional)
	Logger *slog.Logger

	// Starter creates OS processes (optional, defaults to ExecStarter)
	Starter Starter

	// DisableShellFallback turns off the shell retry for unresolvable commands.
	DisableShellFallback bool

	// LogOnlyStderr keeps diagnostic lines in the log instead of emitting
	// process_stderr events.
	LogOnlyStderr bool

	// Env holds KEY=VALUE pairs added to every spawned process's environment.
	Env []string

	// Dir is the default working directory.
	Dir string

	// StopTimeout bounds the kill confirmation wait in Stop.
	StopTimeout time.Duration

	// DrainTimeout bounds how long the exit monitor waits for output to drain.
	DrainTimeout time.Duration

	// SampleStats adds OS resource readings to List and Get.
	SampleStats bool

	// Metrics records process metrics (optional)
	Metrics *tracing.ProcessMetrics

	// GOOS selects the shell fallback flavor (defaults to runtime.GOOS)
	GOOS string

	// Resolve checks that a shell fallback can find the command before it
	// is started. Defaults to running the fallback's probe.
	Resolve ResolveFunc
}

// Manager spawns processes, tracks them in a Registry and runs their
// pumps and exit monitors.
type Manager struct {
	registry *Registry
	cfg      ManagerConfig
	sink     events.Sink
	starter  Starter
	logger   *slog.Logger
	metrics  *tracing.ProcessMetrics
	tracer   trace.Tracer

	// spawnMu orders Spawn against Close; Spawn holds it shared.
	spawnMu sync.RWMutex
	closed  bool

	// wg tracks pumps and monitors
	wg sync.WaitGroup
}

// NewManager creates a process manager.
func NewManager(cfg ManagerConfig) *Manager {
	if cfg.Sink == nil {
		cfg.Sink = events.Discard
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Starter == nil {
		cfg.Starter = ExecStarter{}
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}
	if cfg.GOOS == "" {
		cfg.GOOS = runtime.GOOS
	}
	if cfg.Resolve == nil {
		cfg.Resolve = probeShell
	}

	return &Manager{
		registry: NewRegistry(),
		cfg:      cfg,
		sink:     cfg.Sink,
		starter:  cfg.Starter,
		logger:   internallog.WithComponent(cfg.Logger, "process"),
		metrics:  cfg.Metrics,
		tracer:   otel.Tracer("github.com/tombee/procbridge/internal/process"),
	}
}

// Registry returns the manager's registry.
func (m *Manager) Registry() *Registry {
	return m.registry
}

// Spawn starts a process, registers it and launches its output pump,
// diagnostic pump and exit monitor. It returns the new process ID.
func (m *Manager) Spawn(ctx context.Context, req SpawnRequest) (string, error) {
	ctx, span := m.tracer.Start(ctx, "process.spawn", trace.WithAttributes(
		attribute.String("process.command", req.Command),
		attribute.Int("process.args", len(req.Args)),
	))
	defer span.End()

	id, err := m.spawn(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", err
	}
	span.SetAttributes(attribute.String("process.id", id))
	return id, nil
}

func (m *Manager) spawn(ctx context.Context, req SpawnRequest) (string, error) {
	m.spawnMu.RLock()
	defer m.spawnMu.RUnlock()

	if m.closed {
		return "", errClosed()
	}
	if strings.TrimSpace(req.Command) == "" {
		return "", errInvalidArgument("command is required")
	}

	dir := req.Dir
	if dir == "" {
		dir = m.cfg.Dir
	}
	if err := validateDir(dir); err != nil {
		return "", err
	}

	spec := CommandSpec{
		Command: req.Command,
		Args:    req.Args,
		Env:     m.environ(req.Env),
		Dir:     dir,
	}

	logger := m.logger.With(internallog.CommandKey, req.Command)

	child, launched, fellBack, err := m.start(ctx, spec, logger)
	if err != nil {
		m.metrics.RecordSpawn(ctx, "failed", fellBack)
		logger.Warn("spawn failed", internallog.Error(err))
		return "", err
	}

	id := uuid.NewString()
	logger = logger.With(internallog.ProcessIDKey, id, internallog.PIDKey, child.Pid())

	stdin, stdout, stderr := child.Stdin(), child.Stdout(), child.Stderr()
	if missing := missingStream(stdin, stdout, stderr); missing != "" {
		m.discard(child, stdin, stdout, stderr)
		m.metrics.RecordSpawn(ctx, "failed", fellBack)
		logger.Error("stream capture failed, process killed", "stream", missing)
		e := errStreamCaptureFailed(missing, nil)
		e.ProcessID = id
		return "", e
	}

	entry := newManagedProcess(id, child, spec, launched)
	if err := m.registry.Insert(entry); err != nil {
		m.discard(child, stdin, stdout, stderr)
		m.metrics.RecordSpawn(ctx, "failed", fellBack)
		logger.Error("registry insert failed, process killed", internallog.Error(err))
		return "", err
	}

	m.metrics.RecordSpawn(ctx, "ok", fellBack)
	m.metrics.AddActive(ctx, 1)
	logger.Info("process spawned", "launched", launched)

	var pumps sync.WaitGroup
	pumps.Add(2)
	m.wg.Add(3)

	diag := diagnosticStream
	diag.logOnly = m.cfg.LogOnlyStderr

	go func() {
		defer m.wg.Done()
		defer pumps.Done()
		m.pump(id, stdout, outputStream, logger)
	}()
	go func() {
		defer m.wg.Done()
		defer pumps.Done()
		m.pump(id, stderr, diag, logger)
	}()
	go func() {
		defer m.wg.Done()
		m.monitor(entry, child, &pumps, logger)
	}()

	return id, nil
}

// start creates the OS process, retrying once through the platform shell if
// the command could not be resolved. It returns the command line launched
// and whether the fallback was used.
func (m *Manager) start(ctx context.Context, spec CommandSpec, logger *slog.Logger) (Child, []string, bool, error) {
	child, err := m.starter.Start(ctx, spec)
	if err == nil {
		return child, append([]string{spec.Command}, spec.Args...), false, nil
	}
	if Code(err) == ErrorCodeStreamCaptureFailed {
		return nil, nil, false, err
	}
	if !isNotFound(err) || m.cfg.DisableShellFallback {
		return nil, nil, false, &SpawnError{Command: spec.Command, Args: spec.Args, Cause: err}
	}

	fb := PlatformFallback(m.cfg.GOOS, spec.Command, spec.Args)
	logger.Info("command not found, retrying through shell",
		"fallback", fb.String(),
		internallog.Error(err))

	fail := func(cause error) (Child, []string, bool, error) {
		return nil, nil, true, &SpawnError{
			Command:  spec.Command,
			Args:     spec.Args,
			Fallback: fb.String(),
			Initial:  err,
			Cause:    cause,
		}
	}

	if rerr := m.cfg.Resolve(ctx, fb); rerr != nil {
		return fail(rerr)
	}

	fbSpec := spec
	fbSpec.Command = fb.Command
	fbSpec.Args = fb.Args
	child, ferr := m.starter.Start(ctx, fbSpec)
	if ferr != nil {
		return fail(ferr)
	}
	return child, append([]string{fb.Command}, fb.Args...), true, nil
}

// environ returns the environment for a spawn, or nil to inherit it unchanged.
func (m *Manager) environ(extra []string) []string {
	if len(m.cfg.Env) == 0 && len(extra) == 0 {
		return nil
	}
	env := os.Environ()
	env = append(env, m.cfg.Env...)
	return append(env, extra...)
}

func missingStream(stdin io.WriteCloser, stdout, stderr io.ReadCloser) string {
	switch {
	case stdin == nil:
		return "stdin"
	case stdout == nil:
		return "stdout"
	case stderr == nil:
		return "stderr"
	}
	return ""
}

// discard kills and reaps a process that will never be registered.
func (m *Manager) discard(child Child, streams ...io.Closer) {
	if err := child.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		m.logger.Warn("failed to kill unregistered process", internallog.PIDKey, child.Pid(), internallog.Error(err))
	}
	_, _ = child.Wait()
	for _, s := range streams {
		if s != nil {
			_ = s.Close()
		}
	}
}

// Send writes message plus a line terminator to the process's stdin.
//
// The stream is borrowed from the registry for the span of the write, so a
// concurrent Send for the same process fails with ErrStdinUnavailable
// instead of queueing. A failed write retires the stream: it is closed and
// later sends report ErrStdinUnavailable.
func (m *Manager) Send(ctx context.Context, id, message string) error {
	ctx, span := m.tracer.Start(ctx, "process.send", trace.WithAttributes(
		attribute.String("process.id", id),
		attribute.Int("message.bytes", len(message)),
	))
	defer span.End()

	err := m.send(ctx, id, message)
	m.metrics.RecordSend(ctx, resultLabel(err))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (m *Manager) send(ctx context.Context, id, message string) error {
	logger := m.logger.With(internallog.ProcessIDKey, id)

	var (
		w      io.WriteCloser
		reason error
	)
	if err := m.registry.WithEntry(id, func(p *ManagedProcess) {
		w = p.takeInput()
		reason = p.inputErr
	}); err != nil {
		return err
	}

	if w == nil {
		if reason != nil {
			return errStdinUnavailable(id, "stdin was closed after a write failure: "+reason.Error())
		}
		return errStdinUnavailable(id, "another write is in flight")
	}

	if werr := writeLine(ctx, w, message); werr != nil {
		_ = w.Close()
		_ = m.registry.WithEntry(id, func(p *ManagedProcess) {
			if p.inputErr == nil {
				p.inputErr = werr
			}
		})
		logger.Warn("stdin write failed, stream closed", internallog.Error(werr))
		return errWriteFailed(id, werr)
	}

	returned := false
	err := m.registry.WithEntry(id, func(p *ManagedProcess) {
		returned = p.returnInput(w)
	})
	if !returned {
		_ = w.Close()
		logger.Debug("stdin dropped after write, process no longer registered")
	}
	if err != nil && !errors.Is(err, ErrProcessNotFound) {
		return err
	}
	return nil
}

// writeDeadliner is implemented by streams that support interrupting a
// blocked write, such as *os.File pipes.
type writeDeadliner interface {
	SetWriteDeadline(t time.Time) error
}

func writeLine(ctx context.Context, w io.Writer, message string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	if d, ok := w.(writeDeadliner); ok {
		stop := context.AfterFunc(ctx, func() {
			_ = d.SetWriteDeadline(time.Now())
		})
		defer func() {
			if !stop() {
				_ = d.SetWriteDeadline(time.Time{})
			}
		}()
	}

	if _, err := io.WriteString(w, message+"\n"); err != nil {
		if cerr := ctx.Err(); cerr != nil {
			return fmt.Errorf("%w: %v", cerr, err)
		}
		return err
	}
	return nil
}

// Stop kills a process.
//
// The registry entry is removed and its handle taken in one critical
// section. If no handle was there, because the process already exited or
// another Stop got to it, Stop returns ErrNotFoundOrHandled. After the kill
// it waits, bounded by ctx and the stop timeout, for the exit monitor to
// observe termination; once Stop returns nil no further events are emitted
// for the process.
func (m *Manager) Stop(ctx context.Context, id string) error {
	ctx, span := m.tracer.Start(ctx, "process.stop", trace.WithAttributes(
		attribute.String("process.id", id),
	))
	defer span.End()

	err := m.stop(ctx, id)
	m.metrics.RecordStop(ctx, resultLabel(err))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func (m *Manager) stop(ctx context.Context, id string) error {
	logger := m.logger.With(internallog.ProcessIDKey, id)

	var (
		handle Child
		input  io.WriteCloser
	)
	entry, err := m.registry.RemoveWith(id, func(p *ManagedProcess) {
		handle = p.takeHandle()
		input = p.takeInput()
	})
	if err != nil {
		return err
	}
	if input != nil {
		_ = input.Close()
	}
	if handle == nil {
		logger.Debug("stop found no handle", "registered", entry != nil)
		return errNotFoundOrHandled(id)
	}

	if err := handle.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		logger.Error("kill failed", internallog.Error(err))
		return errKillFailed(id, err)
	}
	logger.Info("process killed")

	timer := time.NewTimer(m.cfg.StopTimeout)
	defer timer.Stop()

	select {
	case <-entry.exited:
		return nil
	case <-ctx.Done():
		return newError(ErrorCodeTimeout, id, fmt.Sprintf("process %s killed but exit not confirmed", id)).
			WithCause(ctx.Err())
	case <-timer.C:
		return newError(ErrorCodeTimeout, id, fmt.Sprintf("process %s killed but exit not confirmed", id)).
			WithDetail(fmt.Sprintf("no exit observed within %s", m.cfg.StopTimeout))
	}
}

// monitor owns waiting on the child. Once the process has exited and its
// output drained, it tries to take the handle: if it gets it, the exit was
// natural and a terminal event is emitted; if Stop already took it, the
// monitor stays quiet. Either way it then removes the entry.
func (m *Manager) monitor(entry *ManagedProcess, child Child, pumps *sync.WaitGroup, logger *slog.Logger) {
	ctx := context.Background()
	defer close(entry.exited)
	defer m.metrics.AddActive(ctx, -1)

	status, waitErr := child.Wait()
	logger.Debug("process exited", "status", status.String(), internallog.Error(waitErr))

	if !m.drain(pumps, logger) {
		m.reapGroup(child, pumps, logger)
	}

	var handle Child
	if err := m.registry.WithEntry(entry.ID, func(p *ManagedProcess) {
		handle = p.takeHandle()
	}); err != nil && !errors.Is(err, ErrProcessNotFound) {
		logger.Error("exit monitor could not reach registry", internallog.Error(err))
	}

	switch {
	case handle == nil:
		logger.Debug("handle already taken, exit handled by stop")
	case waitErr != nil:
		m.emit(logger, events.New(events.KindError, entry.ID, "Error waiting for process: "+waitErr.Error()))
	default:
		m.metrics.RecordExit(ctx, status.Code)
		logger.Info("process exited", "exit_code", status.Code)
		m.emit(logger, events.New(events.KindClosed, entry.ID, "Exited with status: "+status.String()))
	}

	var input io.WriteCloser
	removed, err := m.registry.RemoveWith(entry.ID, func(p *ManagedProcess) {
		input = p.takeInput()
	})
	switch {
	case err != nil:
		logger.Error("exit monitor could not remove entry", internallog.Error(err))
	case removed == nil:
		logger.Debug("entry already removed")
	default:
		logger.Debug("entry removed")
	}
	if input != nil {
		_ = input.Close()
	}
}

// groupKiller is implemented by children that can signal the processes they
// left behind after exiting.
type groupKiller interface {
	KillGroup() error
}

// reapGroup kills what is left of the process group of an exited child when
// its output is still held open, then waits once more for the pumps.
func (m *Manager) reapGroup(child Child, pumps *sync.WaitGroup, logger *slog.Logger) {
	gk, ok := child.(groupKiller)
	if !ok {
		return
	}
	if err := gk.KillGroup(); errors.Is(err, errors.ErrUnsupported) {
		return
	} else if err != nil {
		logger.Warn("could not kill leftover process group", internallog.Error(err))
		return
	}
	logger.Info("killed leftover process group holding output open")
	m.drain(pumps, logger)
}

// drain waits for both pumps to finish, up to the drain timeout. It reports
// whether they finished.
func (m *Manager) drain(pumps *sync.WaitGroup, logger *slog.Logger) bool {
	done := make(chan struct{})
	go func() {
		pumps.Wait()
		close(done)
	}()

	timer := time.NewTimer(m.cfg.DrainTimeout)
	defer timer.Stop()

	select {
	case <-done:
		return true
	case <-timer.C:
		logger.Warn("output still open after exit", "timeout", m.cfg.DrainTimeout)
		return false
	}
}

func (m *Manager) emit(logger *slog.Logger, event events.Event) {
	m.metrics.RecordEvent(context.Background(), string(event.Kind))
	if err := m.sink.Emit(event); err != nil {
		logger.Warn("event emission failed", internallog.EventKey, event.Name, internallog.Error(err))
	}
}

// Get returns a snapshot of one process.
func (m *Manager) Get(ctx context.Context, id string) (Info, error) {
	var info Info
	if err := m.registry.WithEntry(id, func(p *ManagedProcess) {
		info = p.info()
	}); err != nil {
		return Info{}, err
	}
	if m.cfg.SampleStats {
		info.Stats = sampleStats(ctx, info.Pid)
	}
	return info, nil
}

// List returns a snapshot of every registered process, oldest first.
func (m *Manager) List(ctx context.Context) ([]Info, error) {
	infos, err := m.registry.Snapshot()
	if err != nil {
		return nil, err
	}
	if m.cfg.SampleStats {
		for i := range infos {
			infos[i].Stats = sampleStats(ctx, infos[i].Pid)
		}
	}
	return infos, nil
}

// Close refuses further spawns, stops every registered process in parallel
// and waits for all pumps and monitors to finish or ctx to expire.
func (m *Manager) Close(ctx context.Context) error {
	m.spawnMu.Lock()
	m.closed = true
	m.spawnMu.Unlock()

	ids, err := m.registry.IDs()
	if err != nil {
		return err
	}

	var g errgroup.Group
	for _, id := range ids {
		g.Go(func() error {
			if err := m.Stop(ctx, id); err != nil && !errors.Is(err, ErrNotFoundOrHandled) && !errors.Is(err, ErrProcessNotFound) {
				return err
			}
			return nil
		})
	}
	stopErr := g.Wait()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return stopErr
	case <-ctx.Done():
		return errors.Join(stopErr, newError(ErrorCodeTimeout, "", "process manager did not shut down in time").WithCause(ctx.Err()))
	}
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	if code := Code(err); code != "" {
		return strings.ToLower(string(code))
	}
	return "error"
}
