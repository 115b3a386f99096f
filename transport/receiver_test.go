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
	"testing"

	"github.com/stretchr/testify/assert"
	"golang.org/x/sys/unix"
)

// readStep scripts one recvWithHandles result. A nil data with no error
// models the peer's orderly zero-byte close.
type readStep struct {
	data []byte
	fds  []int
	err  error
}

type mockReader struct {
	steps []readStep
}

func (m *mockReader) recvWithHandles(p []byte) (int, []int, error) {
	if len(m.steps) == 0 {
		return 0, nil, unix.EAGAIN
	}
	s := m.steps[0]
	m.steps = m.steps[1:]
	if s.err != nil {
		return 0, nil, s.err
	}
	n := copy(p, s.data)
	return n, s.fds, nil
}

func buildFrame(kind uint8, payload []byte, handleCount uint32) []byte {
	b := make([]byte, frameHeaderSize+len(payload))
	frameHeader{kind: kind, payloadSize: uint32(len(payload)), handleCount: handleCount}.encode(b)
	copy(b[frameHeaderSize:], payload)
	return b
}

type recvResult struct {
	messages []Message
	acked    []uint32
	sentAcks []uint32
}

func drainWith(r *mockReader, readChunk int) (*recvResult, bool) {
	res := &recvResult{}
	rc := newReceiver(r, readChunk,
		func(n uint32) { res.acked = append(res.acked, n) },
		func(n uint32) { res.sentAcks = append(res.sentAcks, n) })
	shutdown := rc.drainAvailableMessages(func(m Message) {
		res.messages = append(res.messages, m)
	})
	rc.close()
	return res, shutdown
}

func TestReceiverSingleMessage(t *testing.T) {
	r := &mockReader{steps: []readStep{{data: buildFrame(frameKindPayload, []byte("ping"), 0)}}}
	res, shutdown := drainWith(r, 4096)

	assert.Equal(t, false, shutdown)
	assert.Equal(t, 1, len(res.messages))
	assert.Equal(t, []byte("ping"), res.messages[0].Data)
	assert.Equal(t, 0, len(res.messages[0].Handles))
	assert.Equal(t, 0, len(res.sentAcks), "no handles, no ack")
}

func TestReceiverArbitraryFragmentation(t *testing.T) {
	// Three messages split at every possible boundary of a 1-byte-read
	// stream must still come out intact and in order.
	var stream []byte
	stream = append(stream, buildFrame(frameKindPayload, []byte("first"), 0)...)
	stream = append(stream, buildFrame(frameKindPayload, nil, 0)...)
	stream = append(stream, buildFrame(frameKindPayload, []byte("third message"), 0)...)

	for _, chunk := range []int{1, 2, 3, 7, len(stream)} {
		r := &mockReader{}
		for off := 0; off < len(stream); off += chunk {
			end := off + chunk
			if end > len(stream) {
				end = len(stream)
			}
			r.steps = append(r.steps, readStep{data: stream[off:end]})
		}
		res, shutdown := drainWith(r, 4096)
		assert.Equal(t, false, shutdown)
		assert.Equal(t, 3, len(res.messages), "chunk size %d", chunk)
		assert.Equal(t, []byte("first"), res.messages[0].Data)
		assert.Equal(t, 0, len(res.messages[1].Data))
		assert.Equal(t, []byte("third message"), res.messages[2].Data)
	}
}

func TestReceiverPartialFrameAcrossDrains(t *testing.T) {
	frame := buildFrame(frameKindPayload, []byte("split across drains"), 0)

	var got []Message
	rc := newReceiver(&mockReader{steps: []readStep{{data: frame[:5]}}}, 4096,
		func(uint32) {}, func(uint32) {})
	cb := func(m Message) { got = append(got, m) }

	assert.Equal(t, false, rc.drainAvailableMessages(cb))
	assert.Equal(t, 0, len(got), "incomplete frame must not be delivered")

	rc.r = &mockReader{steps: []readStep{{data: frame[5:]}}}
	assert.Equal(t, false, rc.drainAvailableMessages(cb))
	assert.Equal(t, 1, len(got))
	assert.Equal(t, []byte("split across drains"), got[0].Data)
	rc.close()
}

func TestReceiverHandlesArriveInSeparateBatch(t *testing.T) {
	fd := openDevNull(t)
	frame := buildFrame(frameKindPayload, []byte("fd"), 1)

	// Bytes first, descriptor in a later read batch: the frame waits.
	rc := newReceiver(&mockReader{steps: []readStep{{data: frame}}}, 4096,
		func(uint32) {}, func(uint32) {})
	var got []Message
	cb := func(m Message) { got = append(got, m) }

	assert.Equal(t, false, rc.drainAvailableMessages(cb))
	assert.Equal(t, 0, len(got), "frame must wait for its handle")

	// The descriptor lands in a later read batch, riding the bytes of
	// the next frame.
	rc.r = &mockReader{steps: []readStep{{data: buildFrame(frameKindPayload, nil, 0), fds: []int{fd}}}}
	assert.Equal(t, false, rc.drainAvailableMessages(cb))
	assert.Equal(t, 2, len(got))
	assert.Equal(t, 1, len(got[0].Handles))
	assert.Equal(t, fd, got[0].Handles[0].Raw())
	_ = got[0].Handles[0].Close()
	rc.close()
}

func TestReceiverBatchesAcks(t *testing.T) {
	fd1, fd2, fd3 := openDevNull(t), openDevNull(t), openDevNull(t)
	r := &mockReader{steps: []readStep{
		{data: buildFrame(frameKindPayload, []byte("a"), 2), fds: []int{fd1, fd2}},
		{data: buildFrame(frameKindPayload, []byte("b"), 1), fds: []int{fd3}},
	}}
	res, shutdown := drainWith(r, 4096)

	assert.Equal(t, false, shutdown)
	assert.Equal(t, 2, len(res.messages))
	assert.Equal(t, []uint32{3}, res.sentAcks, "one batched ack per drain cycle")
	for _, m := range res.messages {
		for _, h := range m.Handles {
			_ = h.Close()
		}
	}
}

func TestReceiverProcessesAckFrames(t *testing.T) {
	r := &mockReader{steps: []readStep{
		{data: buildFrame(frameKindHandleAck, nil, 5)},
		{data: buildFrame(frameKindPayload, []byte("after ack"), 0)},
	}}
	res, shutdown := drainWith(r, 4096)

	assert.Equal(t, false, shutdown)
	assert.Equal(t, []uint32{5}, res.acked)
	assert.Equal(t, 1, len(res.messages))
	assert.Equal(t, 0, len(res.sentAcks), "acks are not themselves acked")
}

func TestReceiverPeerClosedMidHeader(t *testing.T) {
	// Scenario: connection dies after a partial header. That is an
	// orderly peer-close, not a malformed frame.
	frame := buildFrame(frameKindPayload, []byte("never arrives"), 0)
	r := &mockReader{steps: []readStep{
		{data: frame[:4]},
		{data: nil}, // zero-byte read
	}}
	res, shutdown := drainWith(r, 4096)

	assert.Equal(t, true, shutdown)
	assert.Equal(t, 0, len(res.messages))
}

func TestReceiverPeerReset(t *testing.T) {
	r := &mockReader{steps: []readStep{
		{data: buildFrame(frameKindPayload, []byte("last words"), 0)},
		{err: unix.ECONNRESET},
	}}
	res, shutdown := drainWith(r, 4096)

	assert.Equal(t, true, shutdown)
	assert.Equal(t, 1, len(res.messages), "data before the reset is still delivered")
}

func TestReceiverDrainAfterCloseIsNoop(t *testing.T) {
	// The reactor may fire one last readiness hook while the owner is
	// tearing the transport down; a drain must not touch released
	// buffers or deliver anything after close.
	rc := newReceiver(&mockReader{steps: []readStep{
		{data: buildFrame(frameKindPayload, []byte("late"), 0)},
	}}, 4096, func(uint32) {}, func(uint32) { t.Error("ack sent after close") })
	rc.close()

	shutdown := rc.drainAvailableMessages(func(Message) {
		t.Error("message delivered after close")
	})
	assert.Equal(t, false, shutdown)
	rc.close()
}

func TestReceiverClosesUnmatchedHandles(t *testing.T) {
	counts := installCloseCounter(t)
	fd := openDevNull(t)

	// Handle arrives but its frame's bytes never do.
	rc := newReceiver(&mockReader{steps: []readStep{
		{data: buildFrame(frameKindPayload, []byte("x"), 2)[:3], fds: []int{fd}},
	}}, 4096, func(uint32) {}, func(uint32) {})
	assert.Equal(t, false, rc.drainAvailableMessages(func(Message) {}))
	rc.close()

	assert.Equal(t, 1, counts[fd], "teardown must close unmatched inbound handles")
}
