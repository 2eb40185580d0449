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

package events

import (
	"context"
	"errors"
	"log/slog"
)

// LogSink writes every event to a structured logger.
type LogSink struct {
	logger *slog.Logger
	level  slog.Level
}

// NewLogSink creates a sink that logs events at debug level.
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{logger: logger, level: slog.LevelDebug}
}

// WithLevel sets the level events are logged at.
func (s *LogSink) WithLevel(level slog.Level) *LogSink {
	s.level = level
	return s
}

// Emit logs the event.
func (s *LogSink) Emit(event Event) error {
	s.logger.Log(context.Background(), s.level, "process event",
		"event", event.Name,
		"kind", string(event.Kind),
		"process_id", event.ProcessID,
		"payload", event.Payload,
	)
	return nil
}

// MultiSink delivers each event to all of its sinks in order.
type MultiSink []Sink

// Fanout combines sinks, skipping nil entries.
func Fanout(sinks ...Sink) MultiSink {
	out := make(MultiSink, 0, len(sinks))
	for _, s := range sinks {
		if s != nil {
			out = append(out, s)
		}
	}
	return out
}

// Emit delivers the event to every sink. A failing sink does not stop
// delivery to the others; all failures are joined.
func (m MultiSink) Emit(event Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Emit(event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
