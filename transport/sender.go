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
	"errors"
	"sync/atomic"

	"github.com/panjf2000/ants/v2"

	"github.com/srediag/transport-uds/internal/sys"
)

// senderPool runs the long-lived sender task of every transport in the
// process. Submit falls back to a plain goroutine when the pool is
// saturated, so transport creation never fails on pool capacity.
var senderPool *ants.Pool

func init() {
	senderPool, _ = ants.NewPool(512, ants.WithNonblocking(true))
}

const (
	senderWaiting int32 = iota
	senderSending
	senderStopped
)

// socketWriter is the sender task's view of the socket: one vectored
// send that may attach descriptors, and a way to park until the socket
// is writable again.
type socketWriter interface {
	sendWithHandles(p []byte, fds []int) (int, error)
	waitWritable() error
}

// senderTask is the single background worker that owns the write half
// of the socket. It drains the send queue chunk by chunk; no other
// goroutine performs writes, so the send call itself needs no lock.
type senderTask struct {
	q         *sendQueue
	w         socketWriter
	chunkSize int
	state     atomic.Int32
	done      chan struct{}
}

func newSenderTask(q *sendQueue, w socketWriter, chunkSize int) *senderTask {
	return &senderTask{
		q:         q,
		w:         w,
		chunkSize: chunkSize,
		done:      make(chan struct{}),
	}
}

func (s *senderTask) start() {
	if err := senderPool.Submit(s.run); err != nil {
		go s.run()
	}
}

// join blocks until the task has exited. The transport must join before
// closing the socket descriptor, guaranteeing no write-after-close.
func (s *senderTask) join() {
	<-s.done
}

func (s *senderTask) run() {
	defer func() {
		s.state.Store(senderStopped)
		close(s.done)
	}()
	for {
		if s.q.blockUntilReadyOrStopped() == waitStopped {
			return
		}
		s.state.Store(senderSending)
		if !s.flushChunk() {
			return
		}
		s.state.Store(senderWaiting)
	}
}

// flushChunk writes one bounded chunk plus all pending descriptors.
// Descriptors are attached only to the first successful send of the
// cycle; partial-write retries carry none, since the kernel delivered
// the ancillary data with the accepted prefix. Returns false when the
// task must stop.
func (s *senderTask) flushChunk() bool {
	chunk, fds := s.q.peek(s.chunkSize)
	if len(chunk) == 0 {
		return true
	}
	sent := 0
	fdsSent := 0
	for sent < len(chunk) {
		attach := fds[fdsSent:]
		n, err := s.w.sendWithHandles(chunk[sent:], attach)
		if err == nil {
			if n > 0 && len(attach) > 0 {
				fdsSent = len(fds)
			}
			sent += n
			continue
		}
		switch {
		case sys.IsWouldBlock(err):
			// Keep the same chunk; retry once the event loop reports
			// the socket writable again.
			if werr := s.w.waitWritable(); werr != nil {
				s.q.discard(sent, fdsSent)
				return false
			}
		case sys.IsInterrupted(err):
			continue
		case sys.IsPeerClosed(err) || errors.Is(err, ErrTransportClosed):
			internalLogger.infof("sender: connection gone: %v", err)
			s.q.discard(sent, fdsSent)
			return false
		default:
			internalLogger.errorf("sender: unexpected send error, shutting down: %v", err)
			s.q.discard(sent, fdsSent)
			return false
		}
	}
	s.q.discard(sent, fdsSent)
	metricBytesSent.Add(float64(sent))
	return true
}
