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
	"time"

	"github.com/cenkalti/backoff/v4"
)

// StatsObserver receives transport activity callbacks. Implementations
// must be cheap and non-blocking; they run on the transport's hot paths.
type StatsObserver interface {
	OnMessageSent(payloadBytes, handles int)
	OnMessageReceived(payloadBytes, handles int)
	OnHandlesAcked(n int)
}

// Config controls one Transport instance.
type Config struct {
	// Name identifies the transport in logs, diagnostics and the
	// process-wide registry. Auto-generated when empty.
	Name string

	// SendChunkSize bounds a single send call's byte count.
	SendChunkSize int

	// ReadChunkSize sizes the receiver's per-read scratch buffer.
	ReadChunkSize int

	// QueueWarnBytes triggers a warning log when the send queue grows
	// past it. Producers are never blocked; this is visibility only.
	QueueWarnBytes int

	// ConnectTimeout bounds the total time Connect spends retrying a
	// refused or absent socket.
	ConnectTimeout time.Duration

	// ConnectInitialInterval seeds the exponential dial backoff.
	ConnectInitialInterval time.Duration

	// Reactor provides readiness notifications. When nil the transport
	// creates and owns a private Poller.
	Reactor Reactor

	// Observer, when set, receives activity callbacks.
	Observer StatsObserver
}

// DefaultConfig returns the configuration used by most callers.
func DefaultConfig() *Config {
	return &Config{
		SendChunkSize:          4096,
		ReadChunkSize:          4096,
		QueueWarnBytes:         4 << 20,
		ConnectTimeout:         10 * time.Second,
		ConnectInitialInterval: 10 * time.Millisecond,
	}
}

// VerifyConfig checks conf for values the transport cannot operate with.
func VerifyConfig(conf *Config) error {
	if conf.SendChunkSize < frameHeaderSize {
		return fmt.Errorf("SendChunkSize %d smaller than frame header %d", conf.SendChunkSize, frameHeaderSize)
	}
	if conf.ReadChunkSize <= 0 {
		return fmt.Errorf("ReadChunkSize must be positive, got %d", conf.ReadChunkSize)
	}
	if conf.QueueWarnBytes <= 0 {
		return fmt.Errorf("QueueWarnBytes must be positive, got %d", conf.QueueWarnBytes)
	}
	if conf.ConnectTimeout <= 0 {
		return fmt.Errorf("ConnectTimeout must be positive, got %v", conf.ConnectTimeout)
	}
	if conf.ConnectInitialInterval <= 0 {
		return fmt.Errorf("ConnectInitialInterval must be positive, got %v", conf.ConnectInitialInterval)
	}
	return nil
}

func (c *Config) connectBackoff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.ConnectInitialInterval
	b.MaxElapsedTime = c.ConnectTimeout
	return b
}
