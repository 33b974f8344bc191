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
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/exporters/otlp/otlplog/otlploggrpc"
	otellog "go.opentelemetry.io/otel/log"
	"go.opentelemetry.io/otel/log/global"
	sdklog "go.opentelemetry.io/otel/sdk/log"
)

// Static errors for err113 compliance
var (
	ErrOTelLoggingDisabled  = errors.New("OTel logging is disabled")
	ErrOTelEndpointRequired = errors.New("OTel endpoint is required when enabled")
)

const (
	maxAttributeValueLength = 4096
	defaultLoggerScope      = "fleetwatch-logger"
)

type OTelConfig struct {
	Enabled      bool              `json:"enabled" yaml:"enabled"`
	Endpoint     string            `json:"endpoint" yaml:"endpoint"`
	Headers      map[string]string `json:"headers" yaml:"headers"`
	ServiceName  string            `json:"service_name" yaml:"service_name"`
	BatchTimeout time.Duration     `json:"batch_timeout" yaml:"batch_timeout"`
	Insecure     bool              `json:"insecure" yaml:"insecure"`
}

// OTelWriter converts zerolog JSON lines into OTel log records. One OTel logger is kept
// per "component" field so backends can scope by subsystem.
type OTelWriter struct {
	provider *sdklog.LoggerProvider
	loggers  map[string]otellog.Logger
	mu       sync.Mutex
	ctx      context.Context
}

//nolint:gochecknoglobals // needed for proper OTel shutdown handling
var otelProvider *sdklog.LoggerProvider

func NewOTelWriter(ctx context.Context, config OTelConfig) (*OTelWriter, error) {
	if !config.Enabled {
		return nil, ErrOTelLoggingDisabled
	}

	if config.Endpoint == "" {
		return nil, ErrOTelEndpointRequired
	}

	opts := []otlploggrpc.Option{
		otlploggrpc.WithEndpoint(config.Endpoint),
	}

	if config.Insecure {
		opts = append(opts, otlploggrpc.WithInsecure())
	}

	if len(config.Headers) > 0 {
		opts = append(opts, otlploggrpc.WithHeaders(config.Headers))
	}

	exporter, err := otlploggrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP log exporter: %w", err)
	}

	res, err := serviceResource(ctx, config.ServiceName, "")
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	batchTimeout := config.BatchTimeout
	if batchTimeout == 0 {
		batchTimeout = 5 * time.Second
	}

	provider := sdklog.NewLoggerProvider(
		sdklog.WithResource(res),
		sdklog.WithProcessor(sdklog.NewBatchProcessor(exporter, sdklog.WithExportTimeout(batchTimeout))),
	)

	otelProvider = provider
	global.SetLoggerProvider(provider)

	return newOTelWriter(ctx, provider), nil
}

func newOTelWriter(ctx context.Context, provider *sdklog.LoggerProvider) *OTelWriter {
	return &OTelWriter{
		provider: provider,
		loggers:  make(map[string]otellog.Logger),
		ctx:      ctx,
	}
}

func (w *OTelWriter) Write(p []byte) (n int, err error) {
	if w.provider == nil {
		return len(p), nil
	}

	entry := make(map[string]interface{})
	if err := json.Unmarshal(p, &entry); err != nil {
		return len(p), nil
	}

	record := buildRecord(entry)

	scope := defaultLoggerScope
	if component, ok := entry["component"].(string); ok && component != "" {
		scope = component
	}

	w.mu.Lock()
	l, found := w.loggers[scope]

	if !found {
		l = w.provider.Logger(scope)
		w.loggers[scope] = l
	}

	w.mu.Unlock()

	l.Emit(w.ctx, record)

	return len(p), nil
}

// buildRecord maps well-known zerolog fields onto the record and keeps the rest as
// string attributes.
func buildRecord(entry map[string]interface{}) otellog.Record {
	record := otellog.Record{}

	if timestamp, ok := entry["time"].(string); ok {
		if parsed, err := time.Parse(time.RFC3339, timestamp); err == nil {
			record.SetTimestamp(parsed)
			delete(entry, "time")
		}
	}

	if level, ok := entry["level"].(string); ok {
		record.SetSeverity(mapZerologLevelToOTel(level))
		record.SetSeverityText(level)
		delete(entry, "level")
	}

	if message, ok := entry["message"].(string); ok {
		record.SetBody(otellog.StringValue(message))
		delete(entry, "message")
	}

	delete(entry, "component")

	for key, value := range entry {
		record.AddAttributes(otellog.String(key, formatAttributeValue(value)))
	}

	return record
}

func formatAttributeValue(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return "null"
	case string:
		return truncateString(v, maxAttributeValueLength)
	case bool, float64:
		return fmt.Sprintf("%v", v)
	default:
		if marshaled, err := json.Marshal(v); err == nil {
			return truncateString(string(marshaled), maxAttributeValueLength)
		}

		return truncateString(fmt.Sprintf("%v", v), maxAttributeValueLength)
	}
}

func truncateString(value string, limit int) string {
	if len(value) <= limit {
		return value
	}

	truncated := value[:limit-3]
	for !utf8.ValidString(truncated) && len(truncated) > 0 {
		truncated = truncated[:len(truncated)-1]
	}

	return truncated + "..."
}

func mapZerologLevelToOTel(level string) otellog.Severity {
	switch strings.ToLower(level) {
	case "trace":
		return otellog.SeverityTrace
	case "debug":
		return otellog.SeverityDebug
	case "info":
		return otellog.SeverityInfo
	case "warn", "warning":
		return otellog.SeverityWarn
	case "error":
		return otellog.SeverityError
	case "fatal", "panic":
		return otellog.SeverityFatal
	default:
		return otellog.SeverityInfo
	}
}

// Shutdown flushes and stops the OTel log, metric and trace pipelines.
func Shutdown(ctx context.Context) error {
	var errs error

	if otelProvider != nil {
		if err := otelProvider.Shutdown(ctx); err != nil {
			errs = errors.Join(errs, fmt.Errorf("log provider: %w", err))
		}

		otelProvider = nil
	}

	if err := shutdownMeterProvider(ctx); err != nil {
		errs = errors.Join(errs, fmt.Errorf("meter provider: %w", err))
	}

	if err := shutdownTracerProvider(ctx); err != nil {
		errs = errors.Join(errs, fmt.Errorf("tracer provider: %w", err))
	}

	return errs
}
