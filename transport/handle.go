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

import (
	"sync/atomic"

	"github.com/srediag/transport-uds/internal/sys"
)

// closedHandle marks a Handle that no longer owns a descriptor.
const closedHandle = -1

// handleCloseHook, when set, observes every descriptor close performed
// through a Handle. Tests use it to verify the in-flight safety and
// exactly-one-close properties.
var handleCloseHook atomic.Pointer[func(fd int)]

// Handle owns exactly one raw OS descriptor. It is move-only: there is
// no copy, ownership leaves through Take and the descriptor is closed at
// most once regardless of how many times Close is called.
type Handle struct {
	fd atomic.Int32
}

// NewHandle adopts ownership of raw. The caller must not close raw
// itself afterwards.
func NewHandle(raw int) *Handle {
	h := &Handle{}
	h.fd.Store(int32(raw))
	return h
}

// Raw returns the underlying descriptor without transferring ownership,
// or closedHandle if the Handle was closed or released.
func (h *Handle) Raw() int {
	return int(h.fd.Load())
}

// IsValid reports whether the Handle still owns a descriptor.
func (h *Handle) IsValid() bool {
	return h.fd.Load() != closedHandle
}

// Take releases ownership of the descriptor to the caller. The Handle
// becomes invalid and its eventual Close is a no-op.
func (h *Handle) Take() (int, error) {
	fd := h.fd.Swap(closedHandle)
	if fd == closedHandle {
		return closedHandle, ErrHandleClosed
	}
	return int(fd), nil
}

// Dup duplicates the descriptor into a second, independently owned
// Handle. The original is untouched.
func (h *Handle) Dup() (*Handle, error) {
	fd := h.fd.Load()
	if fd == closedHandle {
		return nil, ErrHandleClosed
	}
	dup, err := sys.Dup(int(fd))
	if err != nil {
		return nil, err
	}
	return NewHandle(dup), nil
}

// Close closes the descriptor if the Handle still owns it. Idempotent.
func (h *Handle) Close() error {
	fd := h.fd.Swap(closedHandle)
	if fd == closedHandle {
		return nil
	}
	if hook := handleCloseHook.Load(); hook != nil {
		(*hook)(int(fd))
	}
	return sys.Close(int(fd))
}
