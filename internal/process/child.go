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
	"io/fs"
	"os"
	"os/exec"
)

// CommandSpec describes an OS process to start.
type CommandSpec struct {
	// Command is the executable name or path.
	Command string
	// Args are the command-line arguments.
	Args []string
	// Env is the full environment. Nil inherits the parent's environment.
	Env []string
	// Dir is the working directory. Empty uses the parent's.
	Dir string
}

// ExitStatus describes how a process terminated.
type ExitStatus struct {
	// Code is the exit code, or -1 if the process was terminated by a signal.
	Code int
	// Description is the OS rendering of the status, e.g. "exit status 0".
	Description string
}

// Success reports whether the process exited with code 0.
func (s ExitStatus) Success() bool {
	return s.Code == 0
}

// String returns the status description.
func (s ExitStatus) String() string {
	return s.Description
}

// Child is a started OS process with its standard streams captured.
//
// Wait is owned exclusively by the Exit Monitor. Kill may be called from
// another goroutine while Wait is blocked; after the process has been reaped
// Kill returns os.ErrProcessDone.
type Child interface {
	Pid() int
	Stdin() io.WriteCloser
	Stdout() io.ReadCloser
	Stderr() io.ReadCloser
	Wait() (ExitStatus, error)
	Kill() error
}

// Starter creates OS processes.
type Starter interface {
	Start(ctx context.Context, spec CommandSpec) (Child, error)
}

// StarterFunc adapts a function to the Starter interface.
type StarterFunc func(ctx context.Context, spec CommandSpec) (Child, error)

// Start calls f(ctx, spec).
func (f StarterFunc) Start(ctx context.Context, spec CommandSpec) (Child, error) {
	return f(ctx, spec)
}

// ExecStarter starts processes with os/exec.
type ExecStarter struct{}

// Start creates the process with three piped streams and the platform's
// process attributes. The context is only consulted before the process is
// created; a started process lives until it exits or is killed.
func (ExecStarter) Start(ctx context.Context, spec CommandSpec) (Child, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	cmd := exec.Command(spec.Command, spec.Args...)
	cmd.Env = spec.Env
	cmd.Dir = spec.Dir
	cmd.SysProcAttr = sysProcAttr()

	c := &execChild{cmd: cmd}

	// stdin is an os.Pipe rather than Cmd.StdinPipe so the write end is an
	// *os.File that honors write deadlines.
	stdinR, stdinW, err := os.Pipe()
	if err != nil {
		return nil, errStreamCaptureFailed("stdin", err)
	}
	cmd.Stdin = stdinR
	c.stdin = stdinW
	defer func() {
		_ = stdinR.Close()
	}()

	if c.stdout, err = cmd.StdoutPipe(); err != nil {
		c.closeStreams()
		return nil, errStreamCaptureFailed("stdout", err)
	}
	if c.stderr, err = cmd.StderrPipe(); err != nil {
		c.closeStreams()
		return nil, errStreamCaptureFailed("stderr", err)
	}

	if err := cmd.Start(); err != nil {
		c.closeStreams()
		return nil, err
	}

	return c, nil
}

// execChild adapts an exec.Cmd to Child.
//
// Waiting goes through os.Process.Wait rather than exec.Cmd.Wait: Cmd.Wait
// closes the read ends of the stdout/stderr pipes, which would cut the pumps
// off from output still buffered in the pipe. The pumps close those ends
// themselves once they reach EOF.
type execChild struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout io.ReadCloser
	stderr io.ReadCloser
}

func (c *execChild) Pid() int              { return c.cmd.Process.Pid }
func (c *execChild) Stdin() io.WriteCloser { return c.stdin }
func (c *execChild) Stdout() io.ReadCloser { return c.stdout }
func (c *execChild) Stderr() io.ReadCloser { return c.stderr }

func (c *execChild) Wait() (ExitStatus, error) {
	state, err := c.cmd.Process.Wait()
	if err != nil {
		return ExitStatus{Code: -1}, err
	}
	return ExitStatus{Code: state.ExitCode(), Description: state.String()}, nil
}

func (c *execChild) Kill() error {
	return killProcess(c.cmd.Process)
}

// KillGroup signals the child's process group. It is used once the child
// itself has been reaped and descendants still hold its output open.
func (c *execChild) KillGroup() error {
	return killGroup(c.cmd.Process.Pid)
}

func (c *execChild) closeStreams() {
	for _, closer := range []io.Closer{c.stdin, c.stdout, c.stderr} {
		if closer != nil {
			_ = closer.Close()
		}
	}
}

// isNotFound reports whether a start error means the command could not be
// resolved, as opposed to permission or argument problems.
func isNotFound(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, exec.ErrNotFound) {
		return true
	}
	if errors.Is(err, fs.ErrPermission) || errors.Is(err, exec.ErrDot) {
		return false
	}
	return errors.Is(err, fs.ErrNotExist)
}

// validateDir checks a requested working directory up front so a missing
// directory is not mistaken for a missing command.
func validateDir(dir string) error {
	if dir == "" {
		return nil
	}
	info, err := os.Stat(dir)
	if err != nil {
		return errInvalidArgument(fmt.Sprintf("working directory %s is not accessible", dir)).WithCause(err)
	}
	if !info.IsDir() {
		return errInvalidArgument(fmt.Sprintf("working directory %s is not a directory", dir))
	}
	return nil
}
