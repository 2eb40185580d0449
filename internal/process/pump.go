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
	"io"
	"log/slog"
	"strings"

	"github.com/tombee/procbridge/internal/events"
	internallog "github.com/tombee/procbridge/internal/log"
)

// stream names one of the two output channels of a process.
type stream struct {
	// name is used in logs and error payloads.
	name string
	// kind is the event kind for each forwarded line.
	kind events.Kind
	// logOnly keeps lines in the log instead of emitting them.
	logOnly bool
}

var (
	outputStream     = stream{name: "stdout", kind: events.KindMessage}
	diagnosticStream = stream{name: "stderr", kind: events.KindStderr}
)

// pump forwards each non-empty trimmed line of r to the sink until the
// stream ends or fails. It never touches the registry.
func (m *Manager) pump(id string, r io.ReadCloser, s stream, logger *slog.Logger) {
	defer func() {
		_ = r.Close()
	}()

	logger = logger.With("stream", s.name)
	logger.Debug("pump started")

	for line, err := range Lines(r) {
		if err != nil {
			logger.Warn("stream read failed", internallog.Error(err))
			m.emit(logger, events.New(events.KindError, id, "Error reading "+s.name+": "+err.Error()))
			return
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		internallog.Trace(logger, "line read", slog.Int("bytes", len(line)))

		if s.logOnly {
			logger.Info("process output", "line", line)
			continue
		}
		m.emit(logger, events.New(s.kind, id, line))
	}

	logger.Debug("pump finished")
}
