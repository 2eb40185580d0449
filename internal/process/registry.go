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
	"fmt"
	"io"
	"sort"
	"sync"
	"time"
)

// ManagedProcess is the registry's record of one spawned process.
//
// The handle and input fields are single-owner slots. They are only read or
// written inside a Registry critical section, and ownership leaves the slot
// by taking the value and leaving nil behind.
type ManagedProcess struct {
	// ID is the process identifier handed to callers.
	ID string
	// Command and Args are the command line as requested.
	Command string
	Args    []string
	// Launched is the command line actually started, which differs from
	// Command/Args when the shell fallback was used.
	Launched []string
	// Pid is the OS process ID.
	Pid int
	// StartedAt is when the process was created.
	StartedAt time.Time

	// handle is the kill capability. Taken by Stop or the exit monitor.
	handle Child
	// input is the stdin stream. Borrowed for the span of one write.
	input io.WriteCloser
	// inputErr records why the input stream was closed, if it was.
	inputErr error

	// exited is closed by the exit monitor once the process has been reaped
	// and its output drained.
	exited chan struct{}
}

func newManagedProcess(id string, child Child, spec CommandSpec, launched []string) *ManagedProcess {
	return &ManagedProcess{
		ID:        id,
		Command:   spec.Command,
		Args:      spec.Args,
		Launched:  launched,
		Pid:       child.Pid(),
		StartedAt: time.Now(),
		handle:    child,
		input:     child.Stdin(),
		exited:    make(chan struct{}),
	}
}

// takeHandle moves the handle out of its slot. Callers must hold the registry lock.
func (p *ManagedProcess) takeHandle() Child {
	h := p.handle
	p.handle = nil
	return h
}

// takeInput moves the input stream out of its slot. Callers must hold the registry lock.
func (p *ManagedProcess) takeInput() io.WriteCloser {
	w := p.input
	p.input = nil
	return w
}

// returnInput puts a borrowed stream back. It reports false, leaving the
// slot untouched, if the slot was repopulated or the stream was retired in
// the meantime. Callers must hold the registry lock.
func (p *ManagedProcess) returnInput(w io.WriteCloser) bool {
	if p.input != nil || p.inputErr != nil {
		return false
	}
	p.input = w
	return true
}

// Exited returns a channel closed once the exit monitor has observed termination.
func (p *ManagedProcess) Exited() <-chan struct{} {
	return p.exited
}

// Registry maps process IDs to their records behind a single mutex.
//
// Every critical section is a bounded, non-blocking map or slot operation;
// no I/O or waiting ever happens with the lock held. A panic inside a
// critical section poisons the registry: the panic is recovered and every
// later operation fails with ErrLockCorrupted.
type Registry struct {
	mu       sync.Mutex
	entries  map[string]*ManagedProcess
	poisoned error
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]*ManagedProcess)}
}

// critical runs fn with the lock held.
func (r *Registry) critical(fn func() error) (err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.poisoned != nil {
		return errLockCorrupted(r.poisoned)
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.poisoned = fmt.Errorf("panic in registry critical section: %v", rec)
			err = errLockCorrupted(r.poisoned)
		}
	}()

	return fn()
}

// Insert adds a new entry. The ID must not already be present.
func (r *Registry) Insert(p *ManagedProcess) error {
	return r.critical(func() error {
		if _, ok := r.entries[p.ID]; ok {
			return newError(ErrorCodeAlreadyExists, p.ID, fmt.Sprintf("process %s already registered", p.ID))
		}
		r.entries[p.ID] = p
		return nil
	})
}

// WithEntry runs fn against the entry for id under the lock. fn must not
// block. It returns ErrProcessNotFound if there is no entry.
func (r *Registry) WithEntry(id string, fn func(p *ManagedProcess)) error {
	return r.critical(func() error {
		p, ok := r.entries[id]
		if !ok {
			return errProcessNotFound(id)
		}
		fn(p)
		return nil
	})
}

// Remove deletes and returns the entry for id. A nil entry with a nil error
// means it was already gone.
func (r *Registry) Remove(id string) (*ManagedProcess, error) {
	return r.RemoveWith(id, nil)
}

// RemoveWith deletes the entry for id and runs fn against it in the same
// critical section, so the removal and any slot take are atomic together.
// fn is not called if the entry is absent.
func (r *Registry) RemoveWith(id string, fn func(p *ManagedProcess)) (*ManagedProcess, error) {
	var removed *ManagedProcess
	err := r.critical(func() error {
		p, ok := r.entries[id]
		if !ok {
			return nil
		}
		delete(r.entries, id)
		if fn != nil {
			fn(p)
		}
		removed = p
		return nil
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

// Len returns the number of entries.
func (r *Registry) Len() (int, error) {
	var n int
	err := r.critical(func() error {
		n = len(r.entries)
		return nil
	})
	return n, err
}

// IDs returns the registered IDs in sorted order.
func (r *Registry) IDs() ([]string, error) {
	var ids []string
	err := r.critical(func() error {
		ids = make([]string, 0, len(r.entries))
		for id := range r.entries {
			ids = append(ids, id)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

// Snapshot returns a point-in-time description of every entry, oldest first.
func (r *Registry) Snapshot() ([]Info, error) {
	var infos []Info
	err := r.critical(func() error {
		infos = make([]Info, 0, len(r.entries))
		for _, p := range r.entries {
			infos = append(infos, p.info())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(infos, func(i, j int) bool {
		if infos[i].StartedAt.Equal(infos[j].StartedAt) {
			return infos[i].ID < infos[j].ID
		}
		return infos[i].StartedAt.Before(infos[j].StartedAt)
	})
	return infos, nil
}
