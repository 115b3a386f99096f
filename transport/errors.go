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

import "errors"

var (
	// ErrQueueStopped is returned by enqueue after the send queue was stopped.
	ErrQueueStopped = errors.New("send queue stopped")

	// ErrTransportClosed is returned by operations on a closed transport.
	ErrTransportClosed = errors.New("transport closed")

	// ErrHandleClosed is returned when a Handle no longer owns a descriptor.
	ErrHandleClosed = errors.New("handle closed or released")

	// ErrTooManyHandles is returned when one message carries more
	// descriptors than a single sendmsg call can attach.
	ErrTooManyHandles = errors.New("too many handles for one message")

	// ErrMessageTooLarge is returned when one message's payload exceeds
	// the frame format's size bound.
	ErrMessageTooLarge = errors.New("message exceeds maximum frame payload size")

	// ErrReactorClosed is returned by reactor operations after Close.
	ErrReactorClosed = errors.New("reactor closed")

	// ErrWaitCancelled is returned by WaitWritable when the cancel
	// descriptor fired before the socket became writable.
	ErrWaitCancelled = errors.New("writability wait cancelled")
)
