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
	"fmt"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/srediag/transport-uds/internal/sys"
)

// Poller is the default Reactor: one goroutine polling every registered
// descriptor for readability, with a self-pipe to interrupt the poll
// when the registration set changes or the poller shuts down. Hooks run
// serially on the poller goroutine.
type Poller struct {
	mu    sync.Mutex
	hooks map[int]func()
	wakeR int
	wakeW int
	// done pipe: never written; its write end is closed on Close so
	// every goroutine parked in WaitWritable wakes on POLLHUP.
	doneR  int
	doneW  int
	closed bool
	wg     sync.WaitGroup
}

// NewPoller starts a poller. The caller owns it and must Close it.
func NewPoller() (*Poller, error) {
	r, w, err := sys.Pipe()
	if err != nil {
		return nil, fmt.Errorf("poller: create wake pipe: %w", err)
	}
	if err := sys.SetNonblock(r); err != nil {
		_ = sys.Close(r)
		_ = sys.Close(w)
		return nil, fmt.Errorf("poller: wake pipe nonblock: %w", err)
	}
	doneR, doneW, err := sys.Pipe()
	if err != nil {
		_ = sys.Close(r)
		_ = sys.Close(w)
		return nil, fmt.Errorf("poller: create done pipe: %w", err)
	}
	p := &Poller{
		hooks: make(map[int]func()),
		wakeR: r,
		wakeW: w,
		doneR: doneR,
		doneW: doneW,
	}
	p.wg.Add(1)
	go p.run()
	return p, nil
}

// RegisterRead implements Reactor.
func (p *Poller) RegisterRead(fd int, hook func()) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrReactorClosed
	}
	if _, dup := p.hooks[fd]; dup {
		p.mu.Unlock()
		return fmt.Errorf("poller: fd %d already registered", fd)
	}
	p.hooks[fd] = hook
	p.mu.Unlock()
	p.wake()
	return nil
}

// UnregisterRead implements Reactor.
func (p *Poller) UnregisterRead(fd int) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrReactorClosed
	}
	delete(p.hooks, fd)
	p.mu.Unlock()
	p.wake()
	return nil
}

// WaitWritable implements Reactor. It polls in the calling goroutine,
// so a blocked sender task costs the poller loop nothing.
func (p *Poller) WaitWritable(fd int, cancelFd int) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return ErrReactorClosed
	}
	pfds := []unix.PollFd{
		{Fd: int32(fd), Events: unix.POLLOUT},
		{Fd: int32(cancelFd), Events: unix.POLLIN},
		{Fd: int32(p.doneR), Events: unix.POLLIN},
	}
	for {
		for i := range pfds {
			pfds[i].Revents = 0
		}
		_, err := unix.Poll(pfds, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("poller: wait writable: %w", err)
		}
		if pfds[2].Revents != 0 {
			return ErrReactorClosed
		}
		if pfds[1].Revents&(unix.POLLIN|unix.POLLHUP|unix.POLLERR) != 0 {
			return ErrWaitCancelled
		}
		if pfds[0].Revents&unix.POLLNVAL != 0 {
			return ErrWaitCancelled
		}
		if pfds[0].Revents != 0 {
			// Writable, or an error condition the next send will
			// classify by errno.
			return nil
		}
	}
}

// Close implements Reactor. Idempotent.
func (p *Poller) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()
	// Unblock every WaitWritable first, then the run loop.
	_ = sys.Close(p.doneW)
	p.wake()
	p.wg.Wait()
	_ = sys.Close(p.wakeR)
	_ = sys.Close(p.wakeW)
	_ = sys.Close(p.doneR)
	return nil
}

func (p *Poller) wake() {
	var one [1]byte
	_, _ = unix.Write(p.wakeW, one[:])
}

func (p *Poller) run() {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return
		}
		fds := make([]int, 0, len(p.hooks))
		for fd := range p.hooks {
			fds = append(fds, fd)
		}
		p.mu.Unlock()

		pfds := make([]unix.PollFd, 0, len(fds)+1)
		pfds = append(pfds, unix.PollFd{Fd: int32(p.wakeR), Events: unix.POLLIN})
		for _, fd := range fds {
			pfds = append(pfds, unix.PollFd{Fd: int32(fd), Events: unix.POLLIN})
		}
		_, err := unix.Poll(pfds, -1)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			internalLogger.errorf("poller: poll failed: %v", err)
			return
		}
		if pfds[0].Revents != 0 {
			p.drainWakePipe()
		}
		for _, pfd := range pfds[1:] {
			if pfd.Revents == 0 {
				continue
			}
			if pfd.Revents&unix.POLLNVAL != 0 {
				// Descriptor closed while still registered.
				internalLogger.warnf("poller: dropping stale fd %d", pfd.Fd)
				p.mu.Lock()
				delete(p.hooks, int(pfd.Fd))
				p.mu.Unlock()
				continue
			}
			p.mu.Lock()
			hook := p.hooks[int(pfd.Fd)]
			p.mu.Unlock()
			if hook != nil {
				hook()
			}
		}
	}
}

func (p *Poller) drainWakePipe() {
	var buf [64]byte
	for {
		if _, err := unix.Read(p.wakeR, buf[:]); err != nil {
			return
		}
	}
}
