/*
 * Copyright 2025 SREDiag Authors
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package transport

// Reactor is the readiness facility a transport consumes. It is
// injected at construction (Config.Reactor) rather than looked up from
// any global state, so transports are testable without a real event
// loop. The transport requires exactly two capabilities: a read-
// readiness hook per descriptor, and a blocking wait for writability.
type Reactor interface {
	// RegisterRead installs hook to be invoked whenever fd becomes
	// readable. One hook per descriptor; hooks run on the reactor's
	// own goroutine and must not block.
	RegisterRead(fd int, hook func()) error

	// UnregisterRead removes the hook for fd.
	UnregisterRead(fd int) error

	// WaitWritable blocks the calling goroutine until fd is writable,
	// or until cancelFd becomes readable (returns ErrWaitCancelled),
	// or until the reactor is closed (returns ErrReactorClosed).
	WaitWritable(fd int, cancelFd int) error

	// Close shuts the reactor down and unblocks all waiters.
	Close() error
}
