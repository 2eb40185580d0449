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
	"strings"
	"time"
)

// Kind identifies which channel of a process an event belongs to.
type Kind string

const (
	// KindMessage is a line read from the process's primary output.
	KindMessage Kind = "message"
	// KindError reports a read or wait failure for the process.
	KindError Kind = "error"
	// KindStderr is a line read from the process's diagnostic output.
	KindStderr Kind = "stderr"
	// KindClosed is the terminal event emitted once the process has exited.
	KindClosed Kind = "closed"
)

// namePrefix is the event name prefix shared by all kinds.
const namePrefix = "process_"

// Event is a named notification produced for one managed process.
type Event struct {
	// Name is the event channel, e.g. process_message_<id>.
	Name string `json:"name"`

	// Kind is the event category encoded in Name.
	Kind Kind `json:"kind"`

	// ProcessID is the process the event was produced for.
	ProcessID string `json:"process_id"`

	// Payload is the raw event text. Lines are forwarded verbatim.
	Payload string `json:"payload"`

	// Timestamp is when the event was produced.
	Timestamp time.Time `json:"timestamp"`
}

// Name returns the event name for the given kind and process.
func Name(kind Kind, processID string) string {
	return namePrefix + string(kind) + "_" + processID
}

// New builds an event of the given kind for a process.
func New(kind Kind, processID, payload string) Event {
	return Event{
		Name:      Name(kind, processID),
		Kind:      kind,
		ProcessID: processID,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

// ParseName splits an event name into its kind and process ID.
// It returns false if the name does not follow the process_<kind>_<id> convention.
func ParseName(name string) (Kind, string, bool) {
	rest, ok := strings.CutPrefix(name, namePrefix)
	if !ok {
		return "", "", false
	}
	for _, kind := range []Kind{KindMessage, KindError, KindStderr, KindClosed} {
		if id, ok := strings.CutPrefix(rest, string(kind)+"_"); ok && id != "" {
			return kind, id, true
		}
	}
	return "", "", false
}

// Sink receives events. Implementations must be safe for concurrent use;
// pumps and monitors of many processes emit at the same time.
// Errors are reported to the emitter, which logs them and carries on.
type Sink interface {
	Emit(event Event) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(event Event) error

// Emit calls f(event).
func (f SinkFunc) Emit(event Event) error {
	return f(event)
}

// Discard is a Sink that drops every event.
var Discard Sink = SinkFunc(func(Event) error { return nil })
