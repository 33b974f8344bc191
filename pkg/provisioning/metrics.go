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

package provisioning

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const (
	meterName            = "fleetwatch.provisioning"
	metricEvents         = "provisioning_events_total"
	metricDroppedChanges = "provisioning_changes_dropped_total"

	outcomeApplied   = "applied"
	outcomeNoop      = "noop"
	outcomeIgnored   = "ignored"
	outcomeMalformed = "malformed"
)

var (
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	meterOnce sync.Once
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	eventCounter metric.Int64Counter
	//nolint:gochecknoglobals // metrics instruments are shared across the process intentionally
	droppedChangeCounter metric.Int64Counter
)

func initMeter() {
	meter := otel.Meter(meterName)

	var err error

	eventCounter, err = meter.Int64Counter(
		metricEvents,
		metric.WithDescription("Total provisioning stream events by kind and outcome"),
	)
	if err != nil {
		otel.Handle(err)
	}

	droppedChangeCounter, err = meter.Int64Counter(
		metricDroppedChanges,
		metric.WithDescription("Total projection changes dropped because the publish queue was full"),
	)
	if err != nil {
		otel.Handle(err)
	}
}

func recordEvent(kind, outcome string) {
	meterOnce.Do(initMeter)

	if eventCounter == nil {
		return
	}

	eventCounter.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("kind", kind),
		attribute.String("outcome", outcome),
	))
}

func recordDroppedChange() {
	meterOnce.Do(initMeter)

	if droppedChangeCounter == nil {
		return
	}

	droppedChangeCounter.Add(context.Background(), 1)
}
