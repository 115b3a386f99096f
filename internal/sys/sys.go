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

//go:build linux || darwin

// Package sys wraps the raw socket operations the transport relies on:
// sendmsg/recvmsg with SCM_RIGHTS ancillary data, non-blocking mode and
// descriptor duplication. Platform differences live in sys_linux.go and
// sys_darwin.go.
package sys

import (
	"errors"
	"fmt"

	"golang.org/x/sys/unix"
)

// MaxHandlesPerMessage bounds how many descriptors one sendmsg call may
// carry. Kernels reject control messages above SCM_MAX_FD anyway; this
// keeps the receive-side ancillary buffer fixed.
const MaxHandlesPerMessage = 16

// SendWithHandles writes p to the socket, attaching fds as SCM_RIGHTS
// ancillary data when non-empty. Returns the number of payload bytes
// accepted by the kernel. On a short write the ancillary data still went
// out with the accepted prefix.
func SendWithHandles(fd int, p []byte, fds []int) (int, error) {
	var oob []byte
	if len(fds) > 0 {
		if len(fds) > MaxHandlesPerMessage {
			return 0, fmt.Errorf("sendmsg: %d handles exceeds limit %d", len(fds), MaxHandlesPerMessage)
		}
		oob = unix.UnixRights(fds...)
	}
	return unix.SendmsgN(fd, p, oob, nil, sendFlags)
}

// RecvWithHandles reads into p and extracts any descriptors carried by
// SCM_RIGHTS control messages. Returned descriptors are close-on-exec.
func RecvWithHandles(fd int, p []byte) (int, []int, error) {
	oob := make([]byte, unix.CmsgSpace(MaxHandlesPerMessage*4))
	n, oobn, _, _, err := unix.Recvmsg(fd, p, oob, recvFlags)
	if err != nil {
		return 0, nil, err
	}
	if oobn == 0 {
		return n, nil, nil
	}
	msgs, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return n, nil, fmt.Errorf("parse control message: %w", err)
	}
	var fds []int
	for i := range msgs {
		parsed, err := unix.ParseUnixRights(&msgs[i])
		if err != nil {
			// Not SCM_RIGHTS; nothing else is expected on this socket.
			continue
		}
		fds = append(fds, parsed...)
	}
	applyCloexec(fds)
	return n, fds, nil
}

// Socketpair returns a connected AF_UNIX stream pair, close-on-exec.
func Socketpair() (int, int, error) {
	return socketpair()
}

// Connect opens a close-on-exec stream socket connected to the unix
// socket at path. The raw errno is returned unwrapped so callers can
// classify ECONNREFUSED/ENOENT for retry.
func Connect(path string) (int, error) {
	fd, err := socket()
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}
	if err := unix.Connect(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		_ = unix.Close(fd)
		return -1, err
	}
	return fd, nil
}

// Listen binds and listens on a unix socket at path.
func Listen(path string, backlog int) (int, error) {
	fd, err := socket()
	if err != nil {
		return -1, fmt.Errorf("socket: %w", err)
	}
	if err := unix.Bind(fd, &unix.SockaddrUnix{Name: path}); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("bind %s: %w", path, err)
	}
	if err := unix.Listen(fd, backlog); err != nil {
		_ = unix.Close(fd)
		return -1, fmt.Errorf("listen %s: %w", path, err)
	}
	return fd, nil
}

// Accept waits for one connection on a listening socket and returns the
// accepted descriptor, close-on-exec.
func Accept(fd int) (int, error) {
	for {
		nfd, err := accept(fd)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return -1, err
		}
		return nfd, nil
	}
}

// SetNonblock switches the descriptor to non-blocking mode.
func SetNonblock(fd int) error {
	return unix.SetNonblock(fd, true)
}

// Dup duplicates the descriptor with close-on-exec set.
func Dup(fd int) (int, error) {
	return unix.FcntlInt(uintptr(fd), unix.F_DUPFD_CLOEXEC, 0)
}

// Close closes a raw descriptor.
func Close(fd int) error {
	return unix.Close(fd)
}

// Pipe returns a close-on-exec pipe (read end, write end).
func Pipe() (int, int, error) {
	return pipe()
}

// IsWouldBlock reports whether err is the transient "try again later"
// condition of a non-blocking socket.
func IsWouldBlock(err error) bool {
	return errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK)
}

// IsInterrupted reports whether err is a signal interruption and the
// call should simply be retried.
func IsInterrupted(err error) bool {
	return errors.Is(err, unix.EINTR)
}

// IsPeerClosed reports whether err means the peer has gone away. This is
// an orderly shutdown signal, not a failure.
func IsPeerClosed(err error) bool {
	return errors.Is(err, unix.EPIPE) || errors.Is(err, unix.ECONNRESET)
}
