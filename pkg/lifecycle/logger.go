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

// Package lifecycle runs a service under signal control and owns its process logger.
package lifecycle

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/carverauto/fleetwatch/pkg/logger"
)

// CreateComponentLogger builds the process logger from config and tags it with
// component. A nil config uses logger.DefaultConfig. The level is enforced globally so
// ApplyLogLevel can change it at runtime for every derived logger.
func CreateComponentLogger(ctx context.Context, component string, config *logger.Config) (logger.Logger, error) {
	if config == nil {
		config = logger.DefaultConfig()
	}

	root, err := logger.New(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := ApplyLogLevel(config); err != nil {
		return nil, err
	}

	root.SetLevel(zerolog.TraceLevel)

	return root.WithComponent(component), nil
}

// ApplyLogLevel sets the process-wide level from config.
func ApplyLogLevel(config *logger.Config) error {
	if config == nil {
		config = logger.DefaultConfig()
	}

	level := zerolog.InfoLevel

	switch {
	case config.Debug:
		level = zerolog.DebugLevel
	case config.Level != "":
		parsed, err := zerolog.ParseLevel(config.Level)
		if err != nil {
			return fmt.Errorf("invalid log level %q: %w", config.Level, err)
		}

		level = parsed
	}

	zerolog.SetGlobalLevel(level)

	return nil
}

// ShutdownLogger flushes the OTel log, metric and trace exporters.
func ShutdownLogger(ctx context.Context) error {
	return logger.Shutdown(ctx)
}
