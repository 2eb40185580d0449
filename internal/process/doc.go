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

/*
Package process spawns external processes that speak newline-delimited
text over stdio and bridges their output to an events.Sink.

# Ownership

Each spawned process has a registry entry holding two single-owner slots:
the handle, which is the right to kill the process, and the input stream.
A slot changes hands only inside a Registry critical section, by taking
the value and leaving the slot empty. No critical section performs I/O.

  - Send borrows the input stream for one write and puts it back.
  - Stop removes the entry and takes the handle in one step, then kills.
  - The exit monitor waits for the process, then takes the handle. If Stop
    got there first it emits nothing; otherwise it emits process_closed.

Whichever of Stop and the monitor removes the entry first wins; the other
removal is a no-op.

# Events

	process_message_<id>  a line of stdout
	process_stderr_<id>   a line of stderr
	process_error_<id>    a read or wait failure
	process_closed_<id>   natural exit, "Exited with status: ..."

# Usage

	m := process.NewManager(process.ManagerConfig{Sink: sink, Logger: logger})
	defer m.Close(ctx)

	id, err := m.Spawn(ctx, process.SpawnRequest{Command: "cat"})
	if err != nil {
		return err
	}
	if err := m.Send(ctx, id, `{"jsonrpc":"2.0","method":"ping"}`); err != nil {
		return err
	}
	return m.Stop(ctx, id)
*/
package process
