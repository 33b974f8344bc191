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

package logger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	semconv "go.opentelemetry.io/otel/semconv/v1.31.0"
)

var ErrOTelMetricsDisabled = errors.New("OTel metrics exporter disabled")

const (
	defaultServiceVersion = "1.0.0"
	defaultExportInterval = 15 * time.Second
)

// meters owns the process-wide MeterProvider so Shutdown can flush it.
//
//nolint:gochecknoglobals // flushed by Shutdown
var meters struct {
	sync.Mutex
	provider *sdkmetric.MeterProvider
}

// MetricsConfig selects the collector that receives the duplex, stream, fallback
// and projector instruments.
type MetricsConfig struct {
	ServiceName    string
	ServiceVersion string
	OTel           *OTelConfig
	// ExportInterval defaults to 15s.
	ExportInterval time.Duration
}

// exporting reports whether an OTLP endpoint is configured and turned on.
func (c *OTelConfig) exporting() bool {
	return c != nil && c.Enabled && c.Endpoint != ""
}

// InitializeMetrics installs a global MeterProvider that pushes to the collector on
// a fixed interval. The first successful call wins; later calls get the same provider.
func InitializeMetrics(ctx context.Context, config MetricsConfig) (*sdkmetric.MeterProvider, error) {
	if !config.OTel.exporting() {
		return nil, ErrOTelMetricsDisabled
	}

	meters.Lock()
	defer meters.Unlock()

	if meters.provider != nil {
		return meters.provider, nil
	}

	res, err := serviceResource(ctx, config.ServiceName, config.ServiceVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to create metrics resource: %w", err)
	}

	exporter, err := createMetricExporter(ctx, config.OTel)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
	}

	interval := config.ExportInterval
	if interval <= 0 {
		interval = defaultExportInterval
	}

	meters.provider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
	)
	otel.SetMeterProvider(meters.provider)

	return meters.provider, nil
}

// serviceResource describes this process to the collector. Blank fields fall back to
// the fleetwatch defaults.
func serviceResource(ctx context.Context, name, version string) (*resource.Resource, error) {
	if name == "" {
		name = defaultServiceName
	}

	if version == "" {
		version = defaultServiceVersion
	}

	return resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(name),
			semconv.ServiceVersion(version),
		),
	)
}

func createMetricExporter(ctx context.Context, config *OTelConfig) (sdkmetric.Exporter, error) {
	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(config.Endpoint),
	}

	if config.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	if len(config.Headers) > 0 {
		opts = append(opts, otlpmetricgrpc.WithHeaders(config.Headers))
	}

	return otlpmetricgrpc.New(ctx, opts...)
}

func shutdownMeterProvider(ctx context.Context) error {
	meters.Lock()
	defer meters.Unlock()

	if meters.provider == nil {
		return nil
	}

	if err := meters.provider.Shutdown(ctx); err != nil {
		return err
	}

	meters.provider = nil

	return nil
}
