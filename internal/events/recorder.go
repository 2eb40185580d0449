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
	"sync"
	"time"
)

const (
	// DefaultBufferSize is the number of events kept per process.
	DefaultBufferSize = 1000

	// DefaultMaxProcesses is the number of per-process buffers kept before
	// the oldest is evicted.
	DefaultMaxProcesses = 256
)

// RingBuffer is a fixed-size circular buffer of events.
type RingBuffer struct {
	mu      sync.RWMutex
	entries []Event
	head    int
	tail    int
	size    int
	count   int
}

// NewRingBuffer creates a new ring buffer with the specified capacity.
func NewRingBuffer(capacity int) *RingBuffer {
	if capacity <= 0 {
		capacity = DefaultBufferSize
	}
	return &RingBuffer{
		entries: make([]Event, capacity),
		size:    capacity,
	}
}

// Add appends an event, overwriting the oldest when full.
func (rb *RingBuffer) Add(event Event) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.entries[rb.tail] = event
	rb.tail = (rb.tail + 1) % rb.size

	if rb.count < rb.size {
		rb.count++
	} else {
		rb.head = (rb.head + 1) % rb.size
	}
}

// GetAll returns all events in the buffer, oldest first.
func (rb *RingBuffer) GetAll() []Event {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	result := make([]Event, rb.count)
	for i := 0; i < rb.count; i++ {
		result[i] = rb.entries[(rb.head+i)%rb.size]
	}
	return result
}

// GetLast returns the last n events, oldest first.
func (rb *RingBuffer) GetLast(n int) []Event {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	if n > rb.count {
		n = rb.count
	}

	result := make([]Event, n)
	start := rb.count - n
	for i := 0; i < n; i++ {
		result[i] = rb.entries[(rb.head+start+i)%rb.size]
	}
	return result
}

// GetSince returns events at or after the given time, oldest first.
func (rb *RingBuffer) GetSince(since time.Time) []Event {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	var result []Event
	for i := 0; i < rb.count; i++ {
		event := rb.entries[(rb.head+i)%rb.size]
		if !event.Timestamp.Before(since) {
			result = append(result, event)
		}
	}
	return result
}

// Count returns the number of events in the buffer.
func (rb *RingBuffer) Count() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}

// Recorder is a Sink that keeps the most recent events of each process so
// pull-based surfaces can serve them after the fact.
type Recorder struct {
	mu           sync.Mutex
	buffers      map[string]*RingBuffer
	order        []string
	bufferSize   int
	maxProcesses int
}

// NewRecorder creates a recorder keeping bufferSize events per process.
func NewRecorder(bufferSize int) *Recorder {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	return &Recorder{
		buffers:      make(map[string]*RingBuffer),
		bufferSize:   bufferSize,
		maxProcesses: DefaultMaxProcesses,
	}
}

// WithMaxProcesses bounds the number of per-process buffers retained.
func (r *Recorder) WithMaxProcesses(n int) *Recorder {
	if n > 0 {
		r.maxProcesses = n
	}
	return r
}

// Emit records the event in its process's buffer.
func (r *Recorder) Emit(event Event) error {
	r.buffer(event.ProcessID).Add(event)
	return nil
}

func (r *Recorder) buffer(processID string) *RingBuffer {
	r.mu.Lock()
	defer r.mu.Unlock()

	if buf, ok := r.buffers[processID]; ok {
		return buf
	}

	if len(r.order) >= r.maxProcesses {
		oldest := r.order[0]
		r.order = r.order[1:]
		delete(r.buffers, oldest)
	}

	buf := NewRingBuffer(r.bufferSize)
	r.buffers[processID] = buf
	r.order = append(r.order, processID)
	return buf
}

// Events returns recorded events for a process. A non-zero since filters by
// time; otherwise a positive limit returns only the last events.
func (r *Recorder) Events(processID string, limit int, since time.Time) []Event {
	r.mu.Lock()
	buf, ok := r.buffers[processID]
	r.mu.Unlock()

	if !ok {
		return nil
	}

	if !since.IsZero() {
		return buf.GetSince(since)
	}
	if limit > 0 {
		return buf.GetLast(limit)
	}
	return buf.GetAll()
}

// Forget drops the buffer of a process.
func (r *Recorder) Forget(processID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.buffers[processID]; !ok {
		return
	}
	delete(r.buffers, processID)
	for i, id := range r.order {
		if id == processID {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
}
