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

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"

	"github.com/carverauto/fleetwatch/pkg/config"
	"github.com/carverauto/fleetwatch/pkg/fleetwatch"
	"github.com/carverauto/fleetwatch/pkg/lifecycle"
	"github.com/carverauto/fleetwatch/pkg/logger"
	"github.com/carverauto/fleetwatch/pkg/version"
)

var (
	errFailedToLoadConfig = errors.New("failed to load config")
)

const serviceName = "fleetwatch"

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	configPath := flag.String("config", "/etc/fleetwatch/fleetwatch.json", "Path to fleetwatch config file")
	showVersion := flag.Bool("version", false, "Print the version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.GetFullVersion())
		return nil
	}

	ctx := context.Background()

	cfgLoader := config.NewConfig(nil)

	load := func(ctx context.Context) (*config.Fleetwatch, error) {
		var cfg config.Fleetwatch

		if err := cfgLoader.LoadAndValidate(ctx, *configPath, &cfg); err != nil {
			return nil, fmt.Errorf("%w: %w", errFailedToLoadConfig, err)
		}

		return &cfg, nil
	}

	cfg, err := load(ctx)
	if err != nil {
		return err
	}

	svcLogger, err := lifecycle.CreateComponentLogger(ctx, serviceName, cfg.Logging)
	if err != nil {
		return err
	}

	defer func() {
		if err := lifecycle.ShutdownLogger(context.Background()); err != nil {
			log.Printf("Failed to flush telemetry: %v", err)
		}
	}()

	if sanitized, err := config.SanitizeForLog(cfg); err == nil {
		svcLogger.Debug().RawJSON("config", sanitized).Msg("Loaded configuration")
	}

	if err := initMetrics(ctx, cfg, svcLogger); err != nil {
		return err
	}

	if err := initTracing(ctx, cfg, svcLogger); err != nil {
		return err
	}

	svc, err := fleetwatch.New(ctx, cfg, svcLogger, fleetwatch.WithConfigSource(load))
	if err != nil {
		return err
	}

	return lifecycle.RunService(ctx, &lifecycle.ServiceOptions{
		ServiceName: serviceName,
		Service:     svc,
		Logger:      svcLogger,
	})
}

func collectorConfig(cfg *config.Fleetwatch) *logger.OTelConfig {
	return &logger.OTelConfig{
		Enabled:     true,
		Endpoint:    cfg.Metrics.Endpoint,
		Headers:     cfg.Metrics.Headers,
		ServiceName: serviceName,
		Insecure:    cfg.Metrics.Insecure,
	}
}

func initMetrics(ctx context.Context, cfg *config.Fleetwatch, log logger.Logger) error {
	if !cfg.Metrics.Enabled {
		return nil
	}

	_, err := logger.InitializeMetrics(ctx, logger.MetricsConfig{
		ServiceName:    serviceName,
		ServiceVersion: version.GetVersion(),
		OTel:           collectorConfig(cfg),
		ExportInterval: cfg.Metrics.ExportInterval.Std(),
	})
	if err != nil {
		if errors.Is(err, logger.ErrOTelMetricsDisabled) {
			return nil
		}

		return fmt.Errorf("failed to initialize metrics: %w", err)
	}

	log.Info().Str("endpoint", cfg.Metrics.Endpoint).Msg("OTel metrics export enabled")

	return nil
}

func initTracing(ctx context.Context, cfg *config.Fleetwatch, log logger.Logger) error {
	if !cfg.Metrics.Enabled || !cfg.Metrics.Traces {
		return nil
	}

	_, err := logger.InitializeTracing(ctx, logger.TracingConfig{
		ServiceName:    serviceName,
		ServiceVersion: version.GetVersion(),
		OTel:           collectorConfig(cfg),
	})
	if err != nil {
		if errors.Is(err, logger.ErrOTelTracingDisabled) {
			return nil
		}

		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	log.Info().Str("endpoint", cfg.Metrics.Endpoint).Msg("OTel trace export enabled")

	return nil
}
