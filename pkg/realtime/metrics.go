/*
 * Copyright 2025 Carver Automation Corporation.
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

package realtime

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName                 = "fleetwatch.realtime"
	metricConnectionAttempts  = "realtime_connection_attempts_total"
	metricReconnects          = "realtime_reconnects_total"
	metricHeartbeatTimeouts   = "realtime_heartbeat_timeouts_total"
	metricDroppedMessages     = "realtime_dropped_messages_total"
	metricRetriesExhausted    = "realtime_retries_exhausted_total"
	attrTransportKind         = "transport"
	attrDropReason            = "reason"
	kindDuplex                = "duplex"
	kindStream                = "stream"
	dropReasonMalformed       = "malformed"
	dropReasonEmptyEventFrame = "empty"
)

var (
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	meterOnce sync.Once
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	attemptCounter metric.Int64Counter
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	reconnectCounter metric.Int64Counter
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	heartbeatTimeoutCounter metric.Int64Counter
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	droppedCounter metric.Int64Counter
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	exhaustedCounter metric.Int64Counter
)

func initMeter() {
	meter := otel.Meter(meterName)

	attemptCounter = newCounter(meter, metricConnectionAttempts, "Total push connection attempts")
	reconnectCounter = newCounter(meter, metricReconnects, "Total reconnects scheduled after abnormal closures")
	heartbeatTimeoutCounter = newCounter(meter, metricHeartbeatTimeouts, "Total connections force-closed after a missed pong")
	droppedCounter = newCounter(meter, metricDroppedMessages, "Total inbound messages dropped before dispatch")
	exhaustedCounter = newCounter(meter, metricRetriesExhausted, "Total controllers that gave up after exhausting retries")
}

func newCounter(meter metric.Meter, name, description string) metric.Int64Counter {
	counter, err := meter.Int64Counter(name, metric.WithDescription(description))
	if err != nil {
		otel.Handle(err)
		return nil
	}

	return counter
}

func add(counter *metric.Int64Counter, attrs ...attribute.KeyValue) {
	meterOnce.Do(initMeter)

	if *counter == nil {
		return
	}

	(*counter).Add(context.Background(), 1, metric.WithAttributes(attrs...))
}

func recordConnectionAttempt(kind string) {
	add(&attemptCounter, attribute.String(attrTransportKind, kind))
}

func recordReconnect(kind string) {
	add(&reconnectCounter, attribute.String(attrTransportKind, kind))
}

func recordHeartbeatTimeout() {
	add(&heartbeatTimeoutCounter, attribute.String(attrTransportKind, kindDuplex))
}

func recordDroppedMessage(kind, reason string) {
	add(&droppedCounter, attribute.String(attrTransportKind, kind), attribute.String(attrDropReason, reason))
}

func recordRetriesExhausted(kind string) {
	add(&exhaustedCounter, attribute.String(attrTransportKind, kind))
}
