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

package adapter

import (
	"fmt"

	"github.com/heptiolabs/healthcheck"

	"github.com/srediag/transport-uds/transport"
)

// RegisterTransportChecks wires a transport into a healthcheck handler:
// liveness fails once the connection is closed, readiness fails while
// the send queue is backed up past maxQueuedBytes.
func RegisterTransportChecks(h healthcheck.Handler, tr *transport.Transport, maxQueuedBytes int) {
	name := tr.Name()
	h.AddLivenessCheck(name+"-open", func() error {
		if !tr.IsOpen() {
			return fmt.Errorf("transport %s is closed", name)
		}
		return nil
	})
	h.AddReadinessCheck(name+"-queue", func() error {
		st := tr.Stats()
		if st.PendingBytes > maxQueuedBytes {
			return fmt.Errorf("transport %s send queue backed up: %d bytes", name, st.PendingBytes)
		}
		return nil
	})
}
