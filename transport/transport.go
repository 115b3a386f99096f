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

// Package transport carries byte messages and open file descriptors
// between two processes over a unix domain socket. Messages are framed
// with a fixed header; descriptors travel as SCM_RIGHTS ancillary data
// and stay retained by the sender until the peer acknowledges receipt,
// so a transferred descriptor is never closed while it might be the
// peer's only reference.
package transport

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	queuepkg "github.com/Workiva/go-datastructures/queue"
	"github.com/cenkalti/backoff/v4"
	cmap "github.com/orcaman/concurrent-map/v2"
	"golang.org/x/sys/unix"

	"github.com/srediag/transport-uds/internal/sys"
)

var (
	// registry tracks live transports by name for DumpTransports.
	registry     = cmap.New[*Transport]()
	transportSeq atomic.Uint64
)

// TransportStats is a point-in-time snapshot of one transport.
type TransportStats struct {
	Open            bool
	PendingBytes    int
	PendingHandles  int
	RetainedHandles int
}

// Transport is one end of a process-to-process connection. It owns the
// socket, the send queue, the sender task and the retained-until-ack
// handle queue. All methods are safe for concurrent use.
type Transport struct {
	conf *Config
	name string

	// sockMu guards the socket's identity. Using an open socket (send,
	// receive, writability probe) takes the read lock so the sender
	// task and readiness callbacks proceed concurrently; changing the
	// socket's open/closed identity (close, handoff) takes the write
	// lock, so no I/O is in flight when the identity changes.
	sockMu sync.RWMutex
	sockFd int
	open   bool

	// wake pipe: closing the write end cancels the sender task's
	// writability wait during teardown.
	wakeR    int
	wakeW    int
	wakeOnce sync.Once

	// postMu serializes the retain-then-enqueue step of PostMessage so
	// retained-handle order always matches wire order.
	postMu   sync.Mutex
	q        *sendQueue
	sender   *senderTask
	recv     *receiver
	retained *queuepkg.Queue

	reactor     Reactor
	ownsReactor bool

	hookMu    sync.Mutex
	hookFd    int
	closeOnce sync.Once
}

// Connect dials the unix socket at path, retrying with exponential
// backoff while the peer is not accepting yet (refused or absent
// socket), then adopts the connection.
func Connect(path string, conf *Config) (*Transport, error) {
	if conf == nil {
		conf = DefaultConfig()
	}
	if err := VerifyConfig(conf); err != nil {
		return nil, err
	}
	var fd int
	op := func() error {
		var err error
		fd, err = sys.Connect(path)
		if err == nil {
			return nil
		}
		if errors.Is(err, unix.ECONNREFUSED) || errors.Is(err, unix.ENOENT) || errors.Is(err, unix.EAGAIN) {
			return err
		}
		return backoff.Permanent(err)
	}
	if err := backoff.Retry(op, conf.connectBackoff()); err != nil {
		return nil, fmt.Errorf("connect %s: %w", path, err)
	}
	return Adopt(NewHandle(fd), conf)
}

// Adopt takes ownership of an already connected socket handle and
// starts the transport's sender task. The handle is consumed.
func Adopt(h *Handle, conf *Config) (*Transport, error) {
	if conf == nil {
		conf = DefaultConfig()
	}
	if err := VerifyConfig(conf); err != nil {
		return nil, err
	}
	fd, err := h.Take()
	if err != nil {
		return nil, err
	}
	if err := sys.SetNonblock(fd); err != nil {
		_ = sys.Close(fd)
		return nil, fmt.Errorf("set nonblock: %w", err)
	}
	wakeR, wakeW, err := sys.Pipe()
	if err != nil {
		_ = sys.Close(fd)
		return nil, fmt.Errorf("create wake pipe: %w", err)
	}

	t := &Transport{
		conf:     conf,
		sockFd:   fd,
		open:     true,
		wakeR:    wakeR,
		wakeW:    wakeW,
		q:        newSendQueue(),
		retained: queuepkg.New(16),
		hookFd:   -1,
	}
	t.name = conf.Name
	if t.name == "" {
		t.name = fmt.Sprintf("uds-%d", transportSeq.Add(1))
	} else if registry.Has(t.name) {
		t.name = fmt.Sprintf("%s-%d", t.name, transportSeq.Add(1))
	}
	if conf.Reactor != nil {
		t.reactor = conf.Reactor
	} else {
		p, err := NewPoller()
		if err != nil {
			_ = sys.Close(fd)
			_ = sys.Close(wakeR)
			_ = sys.Close(wakeW)
			return nil, err
		}
		t.reactor = p
		t.ownsReactor = true
	}
	t.recv = newReceiver(t, conf.ReadChunkSize, t.releaseAcked, t.enqueueAck)
	t.sender = newSenderTask(t.q, t, conf.SendChunkSize)
	t.sender.start()

	registry.Set(t.name, t)
	metricTransportsOpen.Inc()
	internalLogger.debugf("transport %s adopted fd %d", t.name, fd)
	return t, nil
}

// Name returns the transport's registry name.
func (t *Transport) Name() string {
	return t.name
}

// IsOpen reports whether the transport still owns an open socket.
func (t *Transport) IsOpen() bool {
	t.sockMu.RLock()
	defer t.sockMu.RUnlock()
	return t.open
}

// Stats snapshots queue depths for diagnostics and health checks.
func (t *Transport) Stats() TransportStats {
	nb, nf := t.q.pending()
	return TransportStats{
		Open:            t.IsOpen(),
		PendingBytes:    nb,
		PendingHandles:  nf,
		RetainedHandles: int(t.retained.Len()),
	}
}

// PostMessage frames data plus handles and hands them to the sender
// task. It never blocks on socket I/O. Ownership of the handles moves
// to the transport: they are retained until the peer acknowledges
// receipt, then closed; on teardown before an ack they are closed then.
func (t *Transport) PostMessage(data []byte, handles []*Handle) error {
	if len(data) > maxFramePayloadSize {
		// The peer treats a header above this bound as corruption, so
		// it must never be produced.
		return ErrMessageTooLarge
	}
	if len(handles) > sys.MaxHandlesPerMessage {
		return ErrTooManyHandles
	}
	rawFds := make([]int, len(handles))
	for i, h := range handles {
		if h == nil || !h.IsValid() {
			return ErrHandleClosed
		}
		rawFds[i] = h.Raw()
	}
	var hdr [frameHeaderSize]byte
	frameHeader{kind: frameKindPayload, payloadSize: uint32(len(data)), handleCount: uint32(len(handles))}.encode(hdr[:])

	// postMu makes retain+enqueue atomic across concurrent posters, so
	// the retained FIFO's order always matches the wire order and an ack
	// can never release a handle belonging to a not-yet-queued message.
	// Retaining before queueing keeps the handle unclosable while its
	// raw value sits in the send queue.
	t.postMu.Lock()
	for i, h := range handles {
		if err := t.retained.Put(h); err != nil {
			t.postMu.Unlock()
			// Teardown already drained the retained queue; close what
			// we still own and report the transport gone.
			for _, rest := range handles[i:] {
				_ = rest.Close()
			}
			metricHandlesInFlight.Add(float64(i))
			return ErrTransportClosed
		}
	}
	metricHandlesInFlight.Add(float64(len(handles)))
	err := t.q.enqueue(rawFds, hdr[:], data)
	t.postMu.Unlock()
	if err != nil {
		return ErrTransportClosed
	}
	if nb, _ := t.q.pending(); nb > t.conf.QueueWarnBytes {
		internalLogger.warnf("transport %s send queue at %d bytes, peer not draining", t.name, nb)
	}
	metricMessagesSent.Inc()
	if obs := t.conf.Observer; obs != nil {
		obs.OnMessageSent(len(data), len(handles))
	}
	return nil
}

// SetReadHook registers the transport with its reactor. onMessage runs
// for every complete inbound message; onShutdown runs once when the
// peer closes the connection, after which the owner should Close the
// transport.
func (t *Transport) SetReadHook(onMessage MessageHandler, onShutdown func()) error {
	t.sockMu.RLock()
	if !t.open {
		t.sockMu.RUnlock()
		return ErrTransportClosed
	}
	fd := t.sockFd
	t.sockMu.RUnlock()

	cb := func(m Message) {
		if obs := t.conf.Observer; obs != nil {
			obs.OnMessageReceived(len(m.Data), len(m.Handles))
		}
		onMessage(m)
	}
	hook := func() {
		if t.recv.drainAvailableMessages(cb) {
			_ = t.reactor.UnregisterRead(fd)
			t.hookMu.Lock()
			t.hookFd = -1
			t.hookMu.Unlock()
			if onShutdown != nil {
				onShutdown()
			}
		}
	}
	if err := t.reactor.RegisterRead(fd, hook); err != nil {
		return err
	}
	t.hookMu.Lock()
	t.hookFd = fd
	t.hookMu.Unlock()
	return nil
}

// DrainAvailableMessages runs one non-blocking receive cycle without a
// reactor registration, for owners that drive readiness themselves.
// Returns true when the connection was observed closed.
func (t *Transport) DrainAvailableMessages(onMessage MessageHandler) bool {
	return t.recv.drainAvailableMessages(onMessage)
}

// CloneForTransfer duplicates the connection's descriptor for handoff
// to a second owner without disturbing this transport.
func (t *Transport) CloneForTransfer() (*Handle, error) {
	t.sockMu.RLock()
	defer t.sockMu.RUnlock()
	if !t.open {
		return nil, ErrTransportClosed
	}
	fd, err := sys.Dup(t.sockFd)
	if err != nil {
		return nil, fmt.Errorf("dup socket: %w", err)
	}
	return NewHandle(fd), nil
}

// ReleaseSocket stops the sender task and hands the live connection's
// descriptor to the caller, e.g. for transfer to a newly spawned
// process. The transport is no longer usable; the caller should still
// Close it to release retained handles and buffers.
func (t *Transport) ReleaseSocket() (*Handle, error) {
	t.q.stop()
	t.cancelWritabilityWait()
	t.sender.join()
	t.unregisterReadHook()

	t.sockMu.Lock()
	defer t.sockMu.Unlock()
	if !t.open {
		return nil, ErrTransportClosed
	}
	t.open = false
	fd := t.sockFd
	t.sockFd = -1
	metricTransportsOpen.Dec()
	return NewHandle(fd), nil
}

// Close tears the transport down: stops and joins the sender task,
// closes the socket, and closes every handle still awaiting
// acknowledgement. Leak avoidance takes precedence over protocol
// completion. Idempotent.
func (t *Transport) Close() error {
	t.closeOnce.Do(func() {
		t.q.stop()
		t.cancelWritabilityWait()
		t.sender.join()
		t.unregisterReadHook()

		t.sockMu.Lock()
		if t.open {
			t.open = false
			_ = sys.Close(t.sockFd)
			t.sockFd = -1
			metricTransportsOpen.Dec()
		}
		t.sockMu.Unlock()

		unacked := 0
		for _, item := range t.retained.Dispose() {
			_ = item.(*Handle).Close()
			unacked++
		}
		if unacked > 0 {
			metricHandlesInFlight.Sub(float64(unacked))
			internalLogger.infof("transport %s closed %d unacknowledged handles at teardown", t.name, unacked)
		}
		t.recv.close()
		t.q.release()
		_ = sys.Close(t.wakeR)
		if t.ownsReactor {
			_ = t.reactor.Close()
		}
		registry.Remove(t.name)
	})
	return nil
}

func (t *Transport) cancelWritabilityWait() {
	t.wakeOnce.Do(func() {
		_ = sys.Close(t.wakeW)
	})
}

func (t *Transport) unregisterReadHook() {
	t.hookMu.Lock()
	fd := t.hookFd
	t.hookFd = -1
	t.hookMu.Unlock()
	if fd >= 0 {
		_ = t.reactor.UnregisterRead(fd)
	}
}

// releaseAcked closes exactly count handles from the retained queue in
// FIFO order; the peer has confirmed it holds its own references now.
// An ack reporting more handles than are outstanding means the peers
// have desynchronized.
func (t *Transport) releaseAcked(count uint32) {
	if count == 0 {
		return
	}
	if int64(count) > t.retained.Len() {
		panic(fmt.Sprintf("transport: ack for %d handles but only %d outstanding, peers desynchronized",
			count, t.retained.Len()))
	}
	items, err := t.retained.Get(int64(count))
	if err != nil || len(items) != int(count) {
		panic("transport: retained handle queue underflow, peers desynchronized")
	}
	for _, item := range items {
		_ = item.(*Handle).Close()
	}
	metricHandlesAcked.Add(float64(count))
	metricHandlesInFlight.Sub(float64(count))
	if obs := t.conf.Observer; obs != nil {
		obs.OnHandlesAcked(int(count))
	}
}

// enqueueAck queues a handle-ack control frame back to the peer. Acks
// share the ordinary send path, so they are ordered with outbound
// messages.
func (t *Transport) enqueueAck(count uint32) {
	var hdr [frameHeaderSize]byte
	frameHeader{kind: frameKindHandleAck, handleCount: count}.encode(hdr[:])
	if err := t.q.enqueue(nil, hdr[:]); err != nil {
		internalLogger.debugf("transport %s: handle ack dropped, queue stopped", t.name)
	}
}

// sendWithHandles implements socketWriter for the sender task.
func (t *Transport) sendWithHandles(p []byte, fds []int) (int, error) {
	t.sockMu.RLock()
	defer t.sockMu.RUnlock()
	if !t.open {
		return 0, ErrTransportClosed
	}
	return sys.SendWithHandles(t.sockFd, p, fds)
}

// waitWritable implements socketWriter; cancelled by teardown through
// the wake pipe.
func (t *Transport) waitWritable() error {
	t.sockMu.RLock()
	if !t.open {
		t.sockMu.RUnlock()
		return ErrTransportClosed
	}
	fd := t.sockFd
	t.sockMu.RUnlock()
	return t.reactor.WaitWritable(fd, t.wakeR)
}

// recvWithHandles implements socketReader for the receiver.
func (t *Transport) recvWithHandles(p []byte) (int, []int, error) {
	t.sockMu.RLock()
	defer t.sockMu.RUnlock()
	if !t.open {
		return 0, nil, ErrTransportClosed
	}
	return sys.RecvWithHandles(t.sockFd, p)
}
