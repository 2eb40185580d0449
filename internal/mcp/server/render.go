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

package server

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/tombee/procbridge/internal/process"
)

// renderTable renders a process listing for display.
func renderTable(infos []process.Info) (string, error) {
	if len(infos) == 0 {
		return "No live processes", nil
	}

	var buf bytes.Buffer
	table := tablewriter.NewWriter(&buf)
	table.Header("ID", "PID", "Command", "Started", "Stdin", "RSS")

	for _, info := range infos {
		command := strings.TrimSpace(info.Command + " " + strings.Join(info.Args, " "))
		stdin := "ready"
		switch {
		case info.InputError != "":
			stdin = "closed"
		case !info.InputAvailable:
			stdin = "busy"
		}
		rss := "-"
		if info.Stats != nil {
			rss = fmt.Sprintf("%.1f MiB", float64(info.Stats.RSSBytes)/(1<<20))
		}

		if err := table.Append(
			info.ID,
			fmt.Sprintf("%d", info.Pid),
			command,
			info.StartedAt.Format(time.RFC3339),
			stdin,
			rss,
		); err != nil {
			return "", err
		}
	}

	if err := table.Render(); err != nil {
		return "", err
	}
	fmt.Fprintf(&buf, "\nTotal processes: %d\n", len(infos))
	return buf.String(), nil
}
