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

package monitoring

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName             = "fleetwatch.monitoring"
	metricTransportSwitch = "monitoring_transport_switch_total"
	metricPollFailures    = "monitoring_poll_failures_total"
)

var (
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	meterOnce sync.Once
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	switchCounter metric.Int64Counter
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	pollFailureCounter metric.Int64Counter
)

func initMeter() {
	meter := otel.Meter(meterName)

	var err error

	switchCounter, err = meter.Int64Counter(
		metricTransportSwitch,
		metric.WithDescription("Total transport mode changes of the monitoring feed"),
	)
	if err != nil {
		otel.Handle(err)
	}

	pollFailureCounter, err = meter.Int64Counter(
		metricPollFailures,
		metric.WithDescription("Total failed snapshot polls"),
	)
	if err != nil {
		otel.Handle(err)
	}
}

func recordTransportSwitch(to, reason string) {
	meterOnce.Do(initMeter)

	if switchCounter == nil {
		return
	}

	switchCounter.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("to", to),
		attribute.String("reason", reason),
	))
}

func recordPollFailure() {
	meterOnce.Do(initMeter)

	if pollFailureCounter == nil {
		return
	}

	pollFailureCounter.Add(context.Background(), 1)
}
