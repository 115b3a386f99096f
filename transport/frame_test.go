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
)

func TestFrameHeaderRoundTrip(t *testing.T) {
	var buf [frameHeaderSize]byte

	h := frameHeader{kind: frameKindPayload, payloadSize: 1234, handleCount: 3}
	h.encode(buf[:])
	assert.Equal(t, h, decodeFrameHeader(buf[:]))

	h = frameHeader{kind: frameKindHandleAck, payloadSize: 0, handleCount: 7}
	h.encode(buf[:])
	assert.Equal(t, h, decodeFrameHeader(buf[:]))
}

func TestFrameHeaderEncoding(t *testing.T) {
	var buf [frameHeaderSize]byte
	frameHeader{kind: frameKindPayload, payloadSize: 0x01020304, handleCount: 0x0a0b0c0d}.encode(buf[:])

	// kind | payloadSize LE | handleCount LE
	assert.Equal(t, []byte{0x00, 0x04, 0x03, 0x02, 0x01, 0x0d, 0x0c, 0x0b, 0x0a}, buf[:])
}

func TestFrameHeaderDesyncIsFatal(t *testing.T) {
	var buf [frameHeaderSize]byte

	frameHeader{kind: 42, payloadSize: 0, handleCount: 0}.encode(buf[:])
	assert.Panics(t, func() { decodeFrameHeader(buf[:]) }, "unknown kind")

	frameHeader{kind: frameKindPayload, payloadSize: maxFramePayloadSize + 1}.encode(buf[:])
	assert.Panics(t, func() { decodeFrameHeader(buf[:]) }, "oversized payload")

	frameHeader{kind: frameKindHandleAck, payloadSize: 1, handleCount: 1}.encode(buf[:])
	assert.Panics(t, func() { decodeFrameHeader(buf[:]) }, "ack with payload")
}
