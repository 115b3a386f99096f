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
	"encoding/binary"
	"fmt"
)

// Wire format: every unit is a fixed 9-byte header followed by
// payloadSize raw bytes. Descriptors travel out-of-band as SCM_RIGHTS
// ancillary data and are correlated to frames by count and order only.
//
//	header layout: kind 1 byte | payloadSize 4 byte | handleCount 4 byte
const (
	frameKindPayload   uint8 = 0
	frameKindHandleAck uint8 = 1

	frameHeaderSize = 9

	frameKindOffset        = 0
	framePayloadSizeOffset = 1
	frameHandleCountOffset = 5

	// maxFramePayloadSize bounds a single message. A header above this
	// means the peers have desynchronized.
	maxFramePayloadSize = 64 << 20
)

type frameHeader struct {
	kind        uint8
	payloadSize uint32
	handleCount uint32
}

func (h frameHeader) encode(b []byte) {
	b[frameKindOffset] = h.kind
	binary.LittleEndian.PutUint32(b[framePayloadSizeOffset:], h.payloadSize)
	binary.LittleEndian.PutUint32(b[frameHandleCountOffset:], h.handleCount)
}

// decodeFrameHeader parses a header from b, which must hold at least
// frameHeaderSize bytes. A malformed header is a protocol desync between
// the two peers and is treated as fatal.
func decodeFrameHeader(b []byte) frameHeader {
	h := frameHeader{
		kind:        b[frameKindOffset],
		payloadSize: binary.LittleEndian.Uint32(b[framePayloadSizeOffset:]),
		handleCount: binary.LittleEndian.Uint32(b[frameHandleCountOffset:]),
	}
	if h.kind != frameKindPayload && h.kind != frameKindHandleAck {
		panic(fmt.Sprintf("transport: unknown frame kind %d, peers desynchronized", h.kind))
	}
	if h.payloadSize > maxFramePayloadSize {
		panic(fmt.Sprintf("transport: frame payload size %d exceeds limit, peers desynchronized", h.payloadSize))
	}
	if h.kind == frameKindHandleAck && h.payloadSize != 0 {
		panic(fmt.Sprintf("transport: handle ack with payload size %d, peers desynchronized", h.payloadSize))
	}
	return h
}
