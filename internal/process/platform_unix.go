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

//go:build !windows

package process

import (
	"errors"
	"os"
	"syscall"
)

// sysProcAttr puts the child in its own process group so terminal signals
// aimed at the bridge do not reach it, and so a kill reaches any processes
// the child (or a fallback shell) started.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid: true,
	}
}

// killProcess sends SIGKILL to the process and then to its process group.
// The direct kill goes through os.Process so a reaped process reports
// os.ErrProcessDone instead of signalling a reused PID.
func killProcess(p *os.Process) error {
	if err := p.Kill(); err != nil {
		return err
	}
	return killGroup(p.Pid)
}

// killGroup sends SIGKILL to the process group led by pid. A group with no
// members left is not an error. The group ID cannot be reused while any
// member is alive.
func killGroup(pid int) error {
	if err := syscall.Kill(-pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		return err
	}
	return nil
}
