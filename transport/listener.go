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

	"github.com/srediag/transport-uds/internal/sys"
)

// Listener accepts connections on a unix socket path, producing a
// Transport per accepted peer.
type Listener struct {
	mu     sync.Mutex
	fd     int
	path   string
	conf   *Config
	closed bool
}

// Listen binds a unix socket at path, removing a stale socket file from
// a previous run first. Accepted transports inherit conf.
func Listen(path string, conf *Config) (*Listener, error) {
	if conf == nil {
		conf = DefaultConfig()
	}
	if err := VerifyConfig(conf); err != nil {
		return nil, err
	}
	if pathExists(path) && safeRemoveUdsFile(path) {
		internalLogger.infof("listener: removed stale socket file %s", path)
	}
	fd, err := sys.Listen(path, 128)
	if err != nil {
		return nil, err
	}
	return &Listener{fd: fd, path: path, conf: conf}, nil
}

// Accept blocks for one connection and adopts it.
func (l *Listener) Accept() (*Transport, error) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil, ErrTransportClosed
	}
	fd := l.fd
	l.mu.Unlock()

	nfd, err := sys.Accept(fd)
	if err != nil {
		return nil, fmt.Errorf("accept on %s: %w", l.path, err)
	}
	conf := *l.conf
	conf.Name = ""
	return Adopt(NewHandle(nfd), &conf)
}

// Close shuts the listening socket down and removes the socket file.
func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	err := sys.Close(l.fd)
	safeRemoveUdsFile(l.path)
	return err
}
