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

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

var ErrOTelTracingDisabled = errors.New("OTel trace exporter disabled")

//nolint:gochecknoglobals // global state is required for coordinated shutdown
var (
	tracerProvider *sdktrace.TracerProvider
	tracerMu       sync.Mutex
)

// TracingConfig holds the configuration for OpenTelemetry tracing setup.
type TracingConfig struct {
	ServiceName    string
	ServiceVersion string
	OTel           *OTelConfig
}

// InitializeTracing installs a global TracerProvider exporting spans over OTLP gRPC and
// the W3C trace-context propagator. Subsequent calls return the existing provider.
func InitializeTracing(ctx context.Context, config TracingConfig) (*sdktrace.TracerProvider, error) {
	if !config.OTel.exporting() {
		return nil, ErrOTelTracingDisabled
	}

	tracerMu.Lock()
	defer tracerMu.Unlock()

	if tracerProvider != nil {
		return tracerProvider, nil
	}

	res, err := serviceResource(ctx, config.ServiceName, config.ServiceVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to create OpenTelemetry resource: %w", err)
	}

	exporter, err := createTraceExporter(ctx, config.OTel)
	if err != nil {
		return nil, fmt.Errorf("failed to create trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
	)

	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	tracerProvider = tp

	return tp, nil
}

// GetTracer returns a tracer from the global provider; spans are dropped until
// InitializeTracing has run.
func GetTracer(name string) trace.Tracer {
	return otel.Tracer(name)
}

func createTraceExporter(ctx context.Context, config *OTelConfig) (sdktrace.SpanExporter, error) {
	opts := []otlptracegrpc.Option{
		otlptracegrpc.WithEndpoint(config.Endpoint),
	}

	if config.Insecure {
		opts = append(opts, otlptracegrpc.WithInsecure())
	}

	if len(config.Headers) > 0 {
		opts = append(opts, otlptracegrpc.WithHeaders(config.Headers))
	}

	return otlptracegrpc.New(ctx, opts...)
}

func shutdownTracerProvider(ctx context.Context) error {
	tracerMu.Lock()
	defer tracerMu.Unlock()

	if tracerProvider == nil {
		return nil
	}

	if err := tracerProvider.Shutdown(ctx); err != nil {
		return err
	}

	tracerProvider = nil

	return nil
}
