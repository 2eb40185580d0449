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
	"io/fs"
	"os"
	"os/exec"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlatformFallback(t *testing.T) {
	tests := []struct {
		name      string
		goos      string
		command   string
		args      []string
		wantCmd   string
		wantArgs  []string
		wantProbe bool
		wantLine  string
	}{
		{
			name:     "windows wraps in cmd /c",
			goos:     "windows",
			command:  "npx",
			args:     []string{"server", "--port", "8080"},
			wantCmd:  "cmd",
			wantArgs: []string{"/c", "npx", "server", "--port", "8080"},
			wantLine: "cmd /c npx server --port 8080",
		},
		{
			name:      "unix joins escaped words",
			goos:      "linux",
			command:   "npx",
			args:      []string{"-y", "@scope/server"},
			wantCmd:   "sh",
			wantArgs:  []string{"-c", "npx -y @scope/server"},
			wantProbe: true,
			wantLine:  "sh -c 'npx -y @scope/server'",
		},
		{
			name:      "unix quotes metacharacters",
			goos:      "darwin",
			command:   "echo",
			args:      []string{"a b", "$HOME", "it's"},
			wantCmd:   "sh",
			wantArgs:  []string{"-c", `echo 'a b' '$HOME' 'it'"'"'s'`},
			wantProbe: true,
		},
		{
			name:      "no args",
			goos:      "freebsd",
			command:   "not_a_real_command_xyz",
			wantCmd:   "sh",
			wantArgs:  []string{"-c", "not_a_real_command_xyz"},
			wantProbe: true,
			wantLine:  "sh -c not_a_real_command_xyz",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fb := PlatformFallback(tt.goos, tt.command, tt.args)
			assert.Equal(t, tt.wantCmd, fb.Command)
			assert.Equal(t, tt.wantArgs, fb.Args)
			assert.Equal(t, tt.wantProbe, len(fb.Probe) > 0)
			if tt.wantLine != "" {
				assert.Equal(t, tt.wantLine, fb.String())
			}
		})
	}
}

func TestIsNotFound(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "nil", err: nil, want: false},
		{name: "lookup failure", err: &exec.Error{Name: "x", Err: exec.ErrNotFound}, want: true},
		{name: "missing path", err: &os.PathError{Op: "fork/exec", Path: "/x", Err: fs.ErrNotExist}, want: true},
		{name: "permission", err: &os.PathError{Op: "fork/exec", Path: "/x", Err: fs.ErrPermission}, want: false},
		{name: "relative lookup", err: &exec.Error{Name: "x", Err: exec.ErrDot}, want: false},
		{name: "other", err: errors.New("argument list too long"), want: false},
		{name: "wrapped", err: fmt.Errorf("start: %w", exec.ErrNotFound), want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, isNotFound(tt.err))
		})
	}
}

func TestProbeShell(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("probe is unix only")
	}

	require.NoError(t, probeShell(context.Background(), Fallback{}), "no probe always passes")

	err := probeShell(context.Background(), PlatformFallback(runtime.GOOS, "sh", nil))
	skipOnSpawnError(t, err)
	require.NoError(t, err)

	err = probeShell(context.Background(), PlatformFallback(runtime.GOOS, "not_a_real_command_xyz", nil))
	require.Error(t, err)
	assert.ErrorIs(t, err, exec.ErrNotFound)
}
