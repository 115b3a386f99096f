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
	"sync"

	"github.com/valyala/bytebufferpool"
)

type waitResult int

const (
	waitData waitResult = iota
	waitStopped
)

// sendQueue is the boundary between producer goroutines posting messages
// and the single sender task writing to the socket. It holds all bytes
// not yet written plus the raw descriptor values to attach to the next
// send. A plain mutex/condvar FIFO: the dominant cost here is socket
// I/O, not queue contention.
type sendQueue struct {
	mu      sync.Mutex
	cond    *sync.Cond
	buf     *bytebufferpool.ByteBuffer
	fds     []int
	stopped bool
}

func newSendQueue() *sendQueue {
	q := &sendQueue{buf: bytebufferpool.Get()}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// enqueue appends the chunks and descriptor values atomically and wakes
// the sender. It never blocks on I/O regardless of socket readiness.
func (q *sendQueue) enqueue(fds []int, chunks ...[]byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return ErrQueueStopped
	}
	for _, c := range chunks {
		_, _ = q.buf.Write(c)
	}
	q.fds = append(q.fds, fds...)
	q.cond.Signal()
	return nil
}

// blockUntilReadyOrStopped parks the sender task until there is
// something to write or the queue has been stopped. Only the sender task
// may call it.
func (q *sendQueue) blockUntilReadyOrStopped() waitResult {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.buf.Len() == 0 && !q.stopped {
		q.cond.Wait()
	}
	if q.stopped {
		return waitStopped
	}
	return waitData
}

// peek returns up to max pending bytes plus all pending descriptors
// without removing them, so a failed send can be retried from the same
// state. The byte slice aliases queue storage and is valid until the
// corresponding discard.
func (q *sendQueue) peek(max int) ([]byte, []int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.buf.Len()
	if n > max {
		n = max
	}
	var fds []int
	if len(q.fds) > 0 {
		fds = append(fds, q.fds...)
	}
	return q.buf.B[:n], fds
}

// discard drops confirmed-sent bytes and descriptors from the front.
// Bytes and descriptors leave the queue only after the OS accepted them.
func (q *sendQueue) discard(nBytes, nFds int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if nBytes > q.buf.Len() || nFds > len(q.fds) {
		panic("transport: send queue discard out of range")
	}
	q.buf.B = q.buf.B[:copy(q.buf.B, q.buf.B[nBytes:])]
	q.fds = q.fds[:copy(q.fds, q.fds[nFds:])]
}

// stop marks the queue stopped and wakes any blocked waiter. Idempotent.
func (q *sendQueue) stop() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return
	}
	q.stopped = true
	q.cond.Broadcast()
}

// pending reports queued-but-unsent bytes and descriptors.
func (q *sendQueue) pending() (int, int) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.buf == nil {
		return 0, 0
	}
	return q.buf.Len(), len(q.fds)
}

// release returns pooled storage. Call only after the sender task has
// exited.
func (q *sendQueue) release() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.buf != nil {
		bytebufferpool.Put(q.buf)
		q.buf = nil
	}
	q.fds = nil
}
