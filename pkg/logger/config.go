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
	"os"
	"strings"
	"time"
)

const (
	defaultServiceName  = "fleetwatch"
	defaultBatchTimeout = 5 * time.Second
)

// DefaultConfig builds a Config from LOG_* variables and the OTLP log exporter
// variables.
func DefaultConfig() *Config {
	return &Config{
		Level:      envString("info", "LOG_LEVEL"),
		Debug:      envBool(false, "DEBUG"),
		Output:     envString("stdout", "LOG_OUTPUT"),
		TimeFormat: envString("", "LOG_TIME_FORMAT"),
		OTel:       DefaultOTelConfig(),
	}
}

// DefaultOTelConfig reads the OTLP log exporter settings. Each logs-specific variable
// falls back to its signal-agnostic OTEL_EXPORTER_OTLP_* form so one collector setting
// covers logs, metrics and traces.
func DefaultOTelConfig() OTelConfig {
	batchTimeout := defaultBatchTimeout

	if raw := envString("", "OTEL_EXPORTER_OTLP_LOGS_TIMEOUT", "OTEL_EXPORTER_OTLP_TIMEOUT"); raw != "" {
		if d, err := time.ParseDuration(raw); err == nil {
			batchTimeout = d
		}
	}

	return OTelConfig{
		Enabled:      envBool(false, "OTEL_LOGS_ENABLED"),
		Endpoint:     envString("", "OTEL_EXPORTER_OTLP_LOGS_ENDPOINT", "OTEL_EXPORTER_OTLP_ENDPOINT"),
		Headers:      parseHeaders(envString("", "OTEL_EXPORTER_OTLP_LOGS_HEADERS", "OTEL_EXPORTER_OTLP_HEADERS")),
		ServiceName:  envString(defaultServiceName, "OTEL_SERVICE_NAME"),
		BatchTimeout: batchTimeout,
		Insecure:     envBool(false, "OTEL_EXPORTER_OTLP_LOGS_INSECURE", "OTEL_EXPORTER_OTLP_INSECURE"),
	}
}

// parseHeaders reads the OTLP "k1=v1,k2=v2" header list.
func parseHeaders(raw string) map[string]string {
	headers := make(map[string]string)

	for _, pair := range strings.Split(raw, ",") {
		k, v, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(k) == "" {
			continue
		}

		headers[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}

	return headers
}

// envString returns the first non-empty variable among keys.
func envString(fallback string, keys ...string) string {
	for _, key := range keys {
		if value := os.Getenv(key); value != "" {
			return value
		}
	}

	return fallback
}

func envBool(fallback bool, keys ...string) bool {
	value := envString("", keys...)
	if value == "" {
		return fallback
	}

	switch strings.ToLower(value) {
	case "true", "1", "yes", "on":
		return true
	default:
		return false
	}
}
