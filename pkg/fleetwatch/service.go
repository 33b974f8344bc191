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

// Package fleetwatch assembles the realtime sync service: the monitoring coordinator,
// the provisioning projector, the optional change publisher and the status API, all
// driven by one event loop.
package fleetwatch

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"slices"
	"sync"

	"github.com/nats-io/nats.go"

	"github.com/carverauto/fleetwatch/pkg/api"
	"github.com/carverauto/fleetwatch/pkg/config"
	"github.com/carverauto/fleetwatch/pkg/eventloop"
	fwhttp "github.com/carverauto/fleetwatch/pkg/http"
	"github.com/carverauto/fleetwatch/pkg/lifecycle"
	"github.com/carverauto/fleetwatch/pkg/logger"
	"github.com/carverauto/fleetwatch/pkg/monitoring"
	"github.com/carverauto/fleetwatch/pkg/natsutil"
	"github.com/carverauto/fleetwatch/pkg/provisioning"
	"github.com/carverauto/fleetwatch/pkg/transport"
)

var (
	// ErrAlreadyStarted is returned when Start is called twice.
	ErrAlreadyStarted = errors.New("service already started")
	// ErrReloadUnsupported is returned by Reload when no configuration source was given.
	ErrReloadUnsupported = errors.New("no configuration source to reload from")
)

// ConfigSource re-reads the configuration for Reload.
type ConfigSource func(ctx context.Context) (*config.Fleetwatch, error)

// Service is the running fleetwatch process.
type Service struct {
	cfg    *config.Fleetwatch
	logger logger.Logger
	source ConfigSource

	loop        *eventloop.EventLoop
	coordinator *monitoring.Coordinator
	projector   *provisioning.Projector
	forwarder   *provisioning.Forwarder
	natsConn    *nats.Conn
	httpServer  *http.Server

	mu       sync.Mutex
	started  bool
	listener net.Listener
	cancel   context.CancelFunc
	errs     chan error
}

var (
	_ lifecycle.Service       = (*Service)(nil)
	_ lifecycle.Reloader      = (*Service)(nil)
	_ lifecycle.ErrorReporter = (*Service)(nil)
)

// WithConfigSource enables Reload.
func WithConfigSource(source ConfigSource) func(*Service) {
	return func(s *Service) {
		s.source = source
	}
}

// New builds the service from a validated configuration. When change publishing is
// enabled it connects to NATS and makes sure the target stream exists.
func New(ctx context.Context, cfg *config.Fleetwatch, log logger.Logger, options ...func(*Service)) (*Service, error) {
	s := &Service{
		cfg:    cfg,
		logger: log,
		loop:   eventloop.New(log.WithComponent("eventloop")),
		errs:   make(chan error, 1),
	}

	for _, o := range options {
		o(s)
	}

	header := gatewayHeader(cfg)

	mcfg, err := monitoringConfig(cfg)
	if err != nil {
		return nil, err
	}

	fetcher := monitoring.NewHTTPFetcher(&http.Client{}, cfg.GatewayURL, header, log)
	s.coordinator = monitoring.NewCoordinator(s.loop, transport.NewWebSocketDialer(header, log), fetcher, mcfg, log)

	pcfg, err := projectorConfig(cfg, log)
	if err != nil {
		return nil, err
	}

	s.projector = provisioning.NewProjector(s.loop, streamOpener(cfg, header, log), pcfg, log)

	if cfg.Provisioning.Publish.Enabled {
		if err := s.connectPublisher(ctx); err != nil {
			return nil, err
		}
	}

	server := api.NewServer(s.loop,
		api.WithMonitoring(s.coordinator),
		api.WithProvisioning(s.projector),
		api.WithCORS(fwhttp.CORSConfig{AllowedOrigins: cfg.CORSOrigins}),
		api.WithAPIKey(cfg.APIKey),
		api.WithLogger(log),
	)
	s.httpServer = server.NewHTTPServer(cfg.ListenAddr)

	return s, nil
}

func (s *Service) connectPublisher(ctx context.Context) error {
	pub := s.cfg.Provisioning.Publish
	subjects := []string{provisioning.SessionSubject(pub.SubjectPrefix, "*", ">")}

	events, nc, err := natsutil.ConnectWithEventPublisher(ctx, pub.NATSURL, s.cfg.Security, pub.Stream, subjects, s.logger)
	if err != nil {
		return fmt.Errorf("provisioning publisher: %w", err)
	}

	s.natsConn = nc
	s.forwarder = provisioning.NewForwarder(provisioning.NewNATSPublisher(events, pub.SubjectPrefix), 0, s.logger)
	s.projector.OnChange(func(change provisioning.Change) {
		s.forwarder.Enqueue(change)
	})

	return nil
}

// Start runs the event loop, activates both transports and starts serving the API.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return ErrAlreadyStarted
	}

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.cfg.ListenAddr, err)
	}

	runCtx, cancel := context.WithCancel(context.Background())

	go func() {
		if err := s.loop.Run(runCtx); err != nil && !errors.Is(err, context.Canceled) {
			s.report(fmt.Errorf("event loop: %w", err))
		}
	}()

	if err := s.loop.Do(ctx, func() {
		s.coordinator.Start()
		s.projector.Start()
	}); err != nil {
		cancel()
		_ = ln.Close()

		return fmt.Errorf("start controllers: %w", err)
	}

	if s.forwarder != nil {
		if err := s.forwarder.Start(runCtx); err != nil {
			s.logger.Warn().Err(err).Msg("Change forwarder not started")
		}
	}

	go func() {
		if err := s.httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.report(fmt.Errorf("api server: %w", err))
		}
	}()

	s.listener = ln
	s.cancel = cancel
	s.started = true

	s.logger.Info().
		Str("listen_addr", ln.Addr().String()).
		Str("gateway_url", s.cfg.GatewayURL).
		Str("session_id", s.cfg.Provisioning.SessionID).
		Msg("Fleetwatch started")

	return nil
}

func (s *Service) report(err error) {
	select {
	case s.errs <- err:
	default:
	}
}

// Errors reports failures of the background goroutines after Start.
func (s *Service) Errors() <-chan error {
	return s.errs
}

// Addr returns the API listener address once started.
func (s *Service) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listener == nil {
		return nil
	}

	return s.listener.Addr()
}

// Stop shuts down the API, closes both transports, flushes pending changes and stops
// the event loop.
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}

	s.started = false
	cancel := s.cancel
	s.mu.Unlock()

	var errs error

	if err := s.httpServer.Shutdown(ctx); err != nil {
		errs = errors.Join(errs, fmt.Errorf("api shutdown: %w", err))
	}

	if err := s.loop.Do(ctx, func() {
		s.coordinator.Stop()
		s.projector.Stop()
	}); err != nil {
		errs = errors.Join(errs, fmt.Errorf("stop controllers: %w", err))
	}

	if s.forwarder != nil {
		s.forwarder.Stop()
	}

	if s.natsConn != nil {
		if err := s.natsConn.Drain(); err != nil {
			s.natsConn.Close()
		}
	}

	cancel()

	select {
	case <-s.loop.Done():
	case <-ctx.Done():
		errs = errors.Join(errs, ctx.Err())
	}

	return errs
}

// Reload re-reads the configuration and applies the fields that can change at runtime:
// the provisioning session and transport, and the log level. Changes to any other field
// are logged and take effect after a restart.
func (s *Service) Reload(ctx context.Context) error {
	if s.source == nil {
		return ErrReloadUnsupported
	}

	next, err := s.source(ctx)
	if err != nil {
		return err
	}

	if pending := config.FieldsChangedByTag(s.cfg, next, "reload", map[string]bool{config.ReloadRestart: true}); len(pending) > 0 {
		s.logger.Warn().Strs("fields", pending).Msg("Configuration changes require a restart")
	}

	live := config.FieldsChangedByTag(s.cfg, next, "reload", map[string]bool{config.ReloadLive: true})

	if slices.Contains(live, "logging") {
		if err := lifecycle.ApplyLogLevel(next.Logging); err != nil {
			return err
		}

		s.cfg.Logging = next.Logging
	}

	if slices.Contains(live, "provisioning") {
		if err := s.reloadProvisioning(ctx, next); err != nil {
			return err
		}
	}

	return nil
}

func (s *Service) reloadProvisioning(ctx context.Context, next *config.Fleetwatch) error {
	if next.Provisioning.Publish != s.cfg.Provisioning.Publish {
		s.logger.Warn().Msg("Provisioning publish settings require a restart")
		next.Provisioning.Publish = s.cfg.Provisioning.Publish
	}

	// restart-only fields keep their running values
	merged := *s.cfg
	merged.Provisioning = next.Provisioning

	pcfg, err := projectorConfig(&merged, s.logger)
	if err != nil {
		return err
	}

	if err := s.loop.Do(ctx, func() { s.projector.Update(pcfg) }); err != nil {
		return fmt.Errorf("apply provisioning config: %w", err)
	}

	s.cfg.Provisioning = next.Provisioning

	s.logger.Info().
		Str("session_id", pcfg.SessionID).
		Str("transport", next.Provisioning.Transport).
		Msg("Provisioning configuration applied")

	return nil
}
