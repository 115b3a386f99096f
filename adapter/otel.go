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

// Package adapter integrates the transport with external observability
// and health systems.
package adapter

import (
	"context"

	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/srediag/transport-uds/transport"
)

// OTelObserver records transport activity on OpenTelemetry instruments.
// Install it through Config.Observer.
type OTelObserver struct {
	tracer        trace.Tracer
	messagesSent  metric.Int64Counter
	messagesRecvd metric.Int64Counter
	bytesSent     metric.Int64Counter
	bytesRecvd    metric.Int64Counter
	handlesAcked  metric.Int64Counter
}

var _ transport.StatsObserver = (*OTelObserver)(nil)

// NewOTelObserver creates the instruments on meter. tracer may be nil
// when span support is not wanted.
func NewOTelObserver(meter metric.Meter, tracer trace.Tracer) (*OTelObserver, error) {
	o := &OTelObserver{tracer: tracer}
	var err error
	if o.messagesSent, err = meter.Int64Counter("uds.transport.messages_sent"); err != nil {
		return nil, err
	}
	if o.messagesRecvd, err = meter.Int64Counter("uds.transport.messages_received"); err != nil {
		return nil, err
	}
	if o.bytesSent, err = meter.Int64Counter("uds.transport.payload_bytes_sent"); err != nil {
		return nil, err
	}
	if o.bytesRecvd, err = meter.Int64Counter("uds.transport.payload_bytes_received"); err != nil {
		return nil, err
	}
	if o.handlesAcked, err = meter.Int64Counter("uds.transport.handles_acked"); err != nil {
		return nil, err
	}
	return o, nil
}

// OnMessageSent implements transport.StatsObserver.
func (o *OTelObserver) OnMessageSent(payloadBytes, handles int) {
	ctx := context.Background()
	o.messagesSent.Add(ctx, 1)
	o.bytesSent.Add(ctx, int64(payloadBytes))
}

// OnMessageReceived implements transport.StatsObserver.
func (o *OTelObserver) OnMessageReceived(payloadBytes, handles int) {
	ctx := context.Background()
	o.messagesRecvd.Add(ctx, 1)
	o.bytesRecvd.Add(ctx, int64(payloadBytes))
}

// OnHandlesAcked implements transport.StatsObserver.
func (o *OTelObserver) OnHandlesAcked(n int) {
	o.handlesAcked.Add(context.Background(), int64(n))
}

// StartSpan opens a span around a higher-level exchange, e.g. one
// request/response round trip over the transport.
func (o *OTelObserver) StartSpan(ctx context.Context, name string) (context.Context, trace.Span) {
	if o.tracer == nil {
		return ctx, trace.SpanFromContext(ctx)
	}
	return o.tracer.Start(ctx, name)
}
