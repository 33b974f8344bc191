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

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carverauto/fleetwatch/pkg/logger"
)

const defaultShutdownTimeout = 10 * time.Second

var errServiceRequired = errors.New("service is required")

// Service is a long-running component.
type Service interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Reloader is implemented by services that re-read their configuration on SIGHUP.
type Reloader interface {
	Reload(ctx context.Context) error
}

// ErrorReporter is implemented by services whose background work can fail after Start.
type ErrorReporter interface {
	Errors() <-chan error
}

// ServiceOptions configures RunService.
type ServiceOptions struct {
	ServiceName     string
	Service         Service
	Logger          logger.Logger
	ShutdownTimeout time.Duration
	// Signals replaces the process signal channel, for tests.
	Signals <-chan os.Signal
}

// RunService starts the service and blocks until ctx is canceled, SIGINT or SIGTERM is
// received, or the service reports a fatal error. SIGHUP triggers Reload.
func RunService(ctx context.Context, opts *ServiceOptions) error {
	if opts == nil || opts.Service == nil {
		return errServiceRequired
	}

	log := opts.Logger
	if log == nil {
		log = logger.NewTestLogger()
	}

	signals := opts.Signals
	if signals == nil {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

		defer signal.Stop(ch)

		signals = ch
	}

	if err := opts.Service.Start(ctx); err != nil {
		return fmt.Errorf("failed to start %s: %w", opts.ServiceName, err)
	}

	log.Info().Str("service", opts.ServiceName).Msg("Service started")

	var failures <-chan error
	if reporter, ok := opts.Service.(ErrorReporter); ok {
		failures = reporter.Errors()
	}

	runErr := wait(ctx, opts, signals, failures, log)

	timeout := opts.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := opts.Service.Stop(stopCtx); err != nil {
		return errors.Join(runErr, fmt.Errorf("failed to stop %s: %w", opts.ServiceName, err))
	}

	log.Info().Str("service", opts.ServiceName).Msg("Service stopped")

	return runErr
}

func wait(ctx context.Context, opts *ServiceOptions, signals <-chan os.Signal, failures <-chan error, log logger.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-failures:
			log.Error().Err(err).Str("service", opts.ServiceName).Msg("Service failed")
			return err
		case sig := <-signals:
			if sig != syscall.SIGHUP {
				log.Info().Str("signal", sig.String()).Msg("Received signal, initiating shutdown")
				return nil
			}

			reloader, ok := opts.Service.(Reloader)
			if !ok {
				log.Warn().Str("service", opts.ServiceName).Msg("SIGHUP ignored, service does not support reload")
				continue
			}

			if err := reloader.Reload(ctx); err != nil {
				log.Error().Err(err).Msg("Configuration reload failed, keeping current configuration")
				continue
			}

			log.Info().Str("service", opts.ServiceName).Msg("Configuration reloaded")
		}
	}
}
