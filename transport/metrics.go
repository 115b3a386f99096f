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

import "github.com/prometheus/client_golang/prometheus"

var (
	metricBytesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "uds_transport_bytes_sent_total",
		Help: "Bytes written to transport sockets.",
	})
	metricBytesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "uds_transport_bytes_received_total",
		Help: "Bytes read from transport sockets.",
	})
	metricMessagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "uds_transport_messages_sent_total",
		Help: "Payload frames enqueued for sending.",
	})
	metricMessagesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "uds_transport_messages_received_total",
		Help: "Payload frames delivered to receive callbacks.",
	})
	metricHandlesAcked = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "uds_transport_handles_acked_total",
		Help: "Sent handles released after peer acknowledgement.",
	})
	metricHandlesInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "uds_transport_handles_in_flight",
		Help: "Handles sent or queued but not yet acknowledged by the peer.",
	})
	metricTransportsOpen = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "uds_transport_open",
		Help: "Currently open transports in this process.",
	})
)

func init() {
	prometheus.MustRegister(
		metricBytesSent,
		metricBytesReceived,
		metricMessagesSent,
		metricMessagesReceived,
		metricHandlesAcked,
		metricHandlesInFlight,
		metricTransportsOpen,
	)
}
