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
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEntry(id string) *ManagedProcess {
	return newManagedProcess(id, newFakeChild(), CommandSpec{Command: "server"}, []string{"server"})
}

func TestRegistry_InsertAndRemove(t *testing.T) {
	r := NewRegistry()

	require.NoError(t, r.Insert(newEntry("a")))
	err := r.Insert(newEntry("a"))
	require.Error(t, err)
	assert.Equal(t, ErrorCodeAlreadyExists, Code(err))

	n, err := r.Len()
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	removed, err := r.Remove("a")
	require.NoError(t, err)
	require.NotNil(t, removed)
	assert.Equal(t, "a", removed.ID)

	// Removal is idempotent.
	removed, err = r.Remove("a")
	require.NoError(t, err)
	assert.Nil(t, removed)
}

func TestRegistry_WithEntryNotFound(t *testing.T) {
	r := NewRegistry()

	called := false
	err := r.WithEntry("missing", func(*ManagedProcess) { called = true })
	assert.ErrorIs(t, err, ErrProcessNotFound)
	assert.False(t, called)
}

func TestRegistry_HandleTakenOnce(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Insert(newEntry("a")))

	var winners atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = r.WithEntry("a", func(p *ManagedProcess) {
				if p.takeHandle() != nil {
					winners.Add(1)
				}
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), winners.Load())
}

func TestRegistry_RemoveWithTakesAtomically(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Insert(newEntry("a")))

	var handle Child
	removed, err := r.RemoveWith("a", func(p *ManagedProcess) {
		handle = p.takeHandle()
	})
	require.NoError(t, err)
	require.NotNil(t, removed)
	assert.NotNil(t, handle)

	called := false
	removed, err = r.RemoveWith("a", func(*ManagedProcess) { called = true })
	require.NoError(t, err)
	assert.Nil(t, removed)
	assert.False(t, called)
}

func TestRegistry_ReturnInput(t *testing.T) {
	p := newEntry("a")

	w := p.takeInput()
	require.NotNil(t, w)
	assert.Nil(t, p.takeInput(), "slot is empty while borrowed")

	assert.True(t, p.returnInput(w))
	assert.False(t, p.returnInput(w), "a populated slot is never overwritten")

	p.takeInput()
	p.inputErr = assert.AnError
	assert.False(t, p.returnInput(w), "a retired stream is not restored")
}

func TestRegistry_Poisoned(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Insert(newEntry("a")))

	err := r.WithEntry("a", func(*ManagedProcess) { panic("boom") })
	require.ErrorIs(t, err, ErrLockCorrupted)
	assert.Contains(t, err.Error(), "boom")

	_, err = r.Len()
	assert.ErrorIs(t, err, ErrLockCorrupted)
	_, err = r.Remove("a")
	assert.ErrorIs(t, err, ErrLockCorrupted)
	assert.ErrorIs(t, r.Insert(newEntry("b")), ErrLockCorrupted)
	_, err = r.Snapshot()
	assert.ErrorIs(t, err, ErrLockCorrupted)

	// The mutex itself was released; concurrent callers still get an answer.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.IDs()
			assert.ErrorIs(t, err, ErrLockCorrupted)
		}()
	}
	wg.Wait()
}

func TestRegistry_ConcurrentDistinctIDs(t *testing.T) {
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			id := fmt.Sprintf("p-%d", i)
			assert.NoError(t, r.Insert(newEntry(id)))
			assert.NoError(t, r.WithEntry(id, func(p *ManagedProcess) {
				if w := p.takeInput(); w != nil {
					p.returnInput(w)
				}
			}))
			_, err := r.Snapshot()
			assert.NoError(t, err)
			removed, err := r.Remove(id)
			assert.NoError(t, err)
			assert.NotNil(t, removed)
		}(i)
	}
	wg.Wait()

	n, err := r.Len()
	require.NoError(t, err)
	assert.Equal(t, 0, n)
}

func TestRegistry_SnapshotAndIDs(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Insert(newEntry("b")))
	require.NoError(t, r.Insert(newEntry("a")))

	ids, err := r.IDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	require.NoError(t, r.WithEntry("a", func(p *ManagedProcess) { p.takeHandle() }))

	infos, err := r.Snapshot()
	require.NoError(t, err)
	require.Len(t, infos, 2)
	for _, info := range infos {
		if info.ID == "a" {
			assert.False(t, info.HandleHeld)
		} else {
			assert.True(t, info.HandleHeld)
		}
		assert.True(t, info.InputAvailable)
		assert.Equal(t, []string{"server"}, info.Launched)
	}
}
