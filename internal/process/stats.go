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
	"time"

	psprocess "github.com/shirou/gopsutil/v3/process"
)

// Info is a point-in-time description of one managed process.
type Info struct {
	ID        string    `json:"id"`
	Pid       int       `json:"pid"`
	Command   string    `json:"command"`
	Args      []string  `json:"args"`
	Launched  []string  `json:"launched,omitempty"`
	StartedAt time.Time `json:"started_at"`

	// HandleHeld is false once Stop or the exit monitor has taken the handle.
	HandleHeld bool `json:"handle_held"`
	// InputAvailable is false while a write is in flight or after stdin closed.
	InputAvailable bool `json:"input_available"`
	// InputError is why stdin was closed, if it was.
	InputError string `json:"input_error,omitempty"`

	// Stats is filled in by Manager.Get and Manager.List when resource
	// sampling is enabled.
	Stats *Stats `json:"stats,omitempty"`
}

// Stats holds OS resource readings for a process.
type Stats struct {
	RSSBytes   uint64  `json:"rss_bytes"`
	CPUPercent float64 `json:"cpu_percent"`
	NumThreads int32   `json:"num_threads"`
}

func (p *ManagedProcess) info() Info {
	info := Info{
		ID:             p.ID,
		Pid:            p.Pid,
		Command:        p.Command,
		Args:           append([]string(nil), p.Args...),
		StartedAt:      p.StartedAt,
		HandleHeld:     p.handle != nil,
		InputAvailable: p.input != nil,
	}
	if len(p.Launched) > 0 {
		info.Launched = append([]string(nil), p.Launched...)
	}
	if p.inputErr != nil {
		info.InputError = p.inputErr.Error()
	}
	return info
}

// sampleStats reads resource usage for pid. Readings the OS refuses are
// left at zero; a process that vanished yields nil.
func sampleStats(ctx context.Context, pid int) *Stats {
	proc, err := psprocess.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return nil
	}

	stats := &Stats{}
	if mem, err := proc.MemoryInfoWithContext(ctx); err == nil && mem != nil {
		stats.RSSBytes = mem.RSS
	}
	if cpu, err := proc.CPUPercentWithContext(ctx); err == nil {
		stats.CPUPercent = cpu
	}
	if threads, err := proc.NumThreadsWithContext(ctx); err == nil {
		stats.NumThreads = threads
	}
	return stats
}
