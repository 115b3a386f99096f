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
	"sync"

	queuepkg "github.com/Workiva/go-datastructures/queue"
	"github.com/valyala/bytebufferpool"

	"github.com/srediag/transport-uds/internal/sys"
)

// Message is one delivered unit: a byte payload plus the handles that
// arrived with it. The callback owns the handles once delivered.
type Message struct {
	Data    []byte
	Handles []*Handle
}

// MessageHandler receives complete inbound messages.
type MessageHandler func(Message)

// socketReader is the receiver's view of the socket: one non-blocking
// read that may also extract descriptors from ancillary data.
type socketReader interface {
	recvWithHandles(p []byte) (int, []int, error)
}

// receiver reassembles frames from arbitrarily fragmented non-blocking
// reads. Bytes accumulate in acc; descriptors accumulate in inHandles
// until the frame that references them is complete. Handle arrival
// order matches frame order, but handles may land in a different read
// batch than their frame's bytes.
type receiver struct {
	// mu orders drain cycles against close: a reactor hook can still be
	// running when the owner tears the transport down, and the buffers
	// must not be released under it. Completed messages are delivered
	// outside the lock.
	mu        sync.Mutex
	closed    bool
	r         socketReader
	scratch   []byte
	acc       *bytebufferpool.ByteBuffer
	readOff   int
	inHandles *queuepkg.Queue
	onAck     func(count uint32)
	sendAck   func(count uint32)
}

func newReceiver(r socketReader, readChunk int, onAck, sendAck func(uint32)) *receiver {
	return &receiver{
		r:         r,
		scratch:   make([]byte, readChunk),
		acc:       bytebufferpool.Get(),
		inHandles: queuepkg.New(8),
		onAck:     onAck,
		sendAck:   sendAck,
	}
}

// drainAvailableMessages performs all currently possible non-blocking
// reads, parses complete frames and invokes cb for each payload frame.
// It never blocks. Returns true when the connection was observed closed
// during this cycle; the owner is then responsible for teardown. After
// close it is a no-op returning false.
func (r *receiver) drainAvailableMessages(cb MessageHandler) (shutdown bool) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	shutdown = r.readAvailable()
	msgs, ackTotal := r.extractFrames()
	r.compact()
	r.mu.Unlock()

	// Deliver outside the lock: the callback may post replies or tear
	// the transport down. Drain cycles themselves stay serialized by mu.
	for _, m := range msgs {
		cb(m)
	}
	if ackTotal > 0 {
		// One batched ack covers every handle consumed this cycle.
		r.sendAck(ackTotal)
	}
	return shutdown
}

// readAvailable pulls every readable byte and descriptor off the socket.
// Caller holds mu.
func (r *receiver) readAvailable() (shutdown bool) {
	for {
		n, fds, err := r.r.recvWithHandles(r.scratch)
		if err != nil {
			if sys.IsWouldBlock(err) {
				return false
			}
			if sys.IsInterrupted(err) {
				continue
			}
			if sys.IsPeerClosed(err) || errors.Is(err, ErrTransportClosed) {
				return true
			}
			internalLogger.errorf("receiver: unexpected recv error, shutting down: %v", err)
			return true
		}
		for _, fd := range fds {
			_ = r.inHandles.Put(NewHandle(fd))
		}
		if n == 0 {
			// Zero-byte read: orderly close by the peer.
			return true
		}
		_, _ = r.acc.Write(r.scratch[:n])
		metricBytesReceived.Add(float64(n))
	}
}

// extractFrames pops every complete frame from the front of the
// accumulation buffer. A payload frame is complete only when its bytes
// and its referenced handles are both available. Returns the completed
// messages plus the number of handles consumed, to be acknowledged back
// to the peer. Caller holds mu.
func (r *receiver) extractFrames() ([]Message, uint32) {
	var msgs []Message
	ackTotal := uint32(0)
	for {
		avail := r.acc.Len() - r.readOff
		if avail < frameHeaderSize {
			break
		}
		hdr := decodeFrameHeader(r.acc.B[r.readOff:])
		if avail < frameHeaderSize+int(hdr.payloadSize) {
			break
		}
		if hdr.kind == frameKindPayload && int64(hdr.handleCount) > r.inHandles.Len() {
			break
		}
		r.readOff += frameHeaderSize
		payload := make([]byte, hdr.payloadSize)
		copy(payload, r.acc.B[r.readOff:r.readOff+int(hdr.payloadSize)])
		r.readOff += int(hdr.payloadSize)

		if hdr.kind == frameKindHandleAck {
			r.onAck(hdr.handleCount)
			continue
		}
		handles := r.popHandles(hdr.handleCount)
		ackTotal += hdr.handleCount
		metricMessagesReceived.Inc()
		msgs = append(msgs, Message{Data: payload, Handles: handles})
	}
	return msgs, ackTotal
}

func (r *receiver) popHandles(n uint32) []*Handle {
	if n == 0 {
		return nil
	}
	items, err := r.inHandles.Get(int64(n))
	if err != nil || len(items) != int(n) {
		panic("transport: received-handle queue underflow, peers desynchronized")
	}
	handles := make([]*Handle, n)
	for i, item := range items {
		handles[i] = item.(*Handle)
	}
	return handles
}

// compact drops fully parsed bytes so the buffer never retains more
// than one partial frame between calls.
func (r *receiver) compact() {
	if r.readOff == 0 {
		return
	}
	r.acc.B = r.acc.B[:copy(r.acc.B, r.acc.B[r.readOff:])]
	r.readOff = 0
}

// close releases buffered state and closes any handles that never
// matched a frame. Leak avoidance takes precedence over protocol
// completion at teardown. It waits for an in-flight drain cycle to
// finish before releasing the buffers it reads from. Idempotent.
func (r *receiver) close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.closed = true
	for _, item := range r.inHandles.Dispose() {
		_ = item.(*Handle).Close()
	}
	if r.acc != nil {
		bytebufferpool.Put(r.acc)
		r.acc = nil
	}
}
