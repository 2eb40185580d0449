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
	"fmt"
	"os/exec"

	"al.essio.dev/pkg/shellescape"
)

// Fallback is the shell invocation used to retry a command the OS could not
// resolve directly.
type Fallback struct {
	// Command is the shell executable.
	Command string
	// Args are the shell arguments, including the wrapped command line.
	Args []string
	// Probe, if set, is a shell invocation that exits non-zero when the shell
	// cannot resolve the command either.
	Probe []string
}

// String renders the fallback command line as it would be typed.
func (f Fallback) String() string {
	return shellescape.QuoteCommand(append([]string{f.Command}, f.Args...))
}

// PlatformFallback returns the shell retry for command and args on goos.
// Windows wraps the call in `cmd /c`; everything else uses `sh -c` with each
// word shell-escaped and space-joined.
func PlatformFallback(goos, command string, args []string) Fallback {
	if goos == "windows" {
		return Fallback{
			Command: "cmd",
			Args:    append([]string{"/c", command}, args...),
		}
	}

	line := shellescape.QuoteCommand(append([]string{command}, args...))
	return Fallback{
		Command: "sh",
		Args:    []string{"-c", line},
		Probe:   []string{"sh", "-c", "command -v " + shellescape.Quote(command)},
	}
}

// ResolveFunc checks whether a fallback can resolve its command before the
// fallback process is started.
type ResolveFunc func(ctx context.Context, fb Fallback) error

// probeShell runs the fallback's probe and reports a failure if the shell
// cannot resolve the command. A fallback without a probe always passes.
func probeShell(ctx context.Context, fb Fallback) error {
	if len(fb.Probe) == 0 {
		return nil
	}
	cmd := exec.CommandContext(ctx, fb.Probe[0], fb.Probe[1:]...)
	if err := cmd.Run(); err != nil {
		if _, ok := err.(*exec.ExitError); ok {
			return fmt.Errorf("%w: command not resolvable by %s", exec.ErrNotFound, fb.Command)
		}
		return err
	}
	return nil
}
