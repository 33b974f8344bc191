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

// Package api serves the fleetwatch status API.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel/trace"

	fwhttp "github.com/carverauto/fleetwatch/pkg/http"
	"github.com/carverauto/fleetwatch/pkg/logger"
	"github.com/carverauto/fleetwatch/pkg/models"
	"github.com/carverauto/fleetwatch/pkg/monitoring"
	"github.com/carverauto/fleetwatch/pkg/provisioning"
	"github.com/carverauto/fleetwatch/pkg/version"
)

const (
	defaultReadTimeout  = 10 * time.Second
	defaultWriteTimeout = 30 * time.Second
	defaultIdleTimeout  = 60 * time.Second
	loopCallTimeout     = 5 * time.Second
)

// Server routes status requests onto the event loop.
type Server struct {
	router       *mux.Router
	runner       Runner
	monitoring   Monitoring
	provisioning Provisioning
	cors         fwhttp.CORSConfig
	apiKey       string
	logger       logger.Logger
	tracer       trace.Tracer
}

type errorResponse struct {
	Message string `json:"message"`
	Status  int    `json:"status"`
}

type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// NewServer creates the API server. Routes for a nil Monitoring or Provisioning
// source are not registered.
func NewServer(runner Runner, options ...func(*Server)) *Server {
	s := &Server{
		router: mux.NewRouter(),
		runner: runner,
		logger: logger.NewTestLogger(),
		tracer: logger.GetTracer("fleetwatch/api"),
	}

	for _, o := range options {
		o(s)
	}

	s.setupRoutes()

	return s
}

// WithMonitoring exposes a monitoring coordinator.
func WithMonitoring(m Monitoring) func(*Server) {
	return func(s *Server) {
		s.monitoring = m
	}
}

// WithProvisioning exposes a provisioning projector.
func WithProvisioning(p Provisioning) func(*Server) {
	return func(s *Server) {
		s.provisioning = p
	}
}

// WithCORS sets the allowed browser origins.
func WithCORS(cfg fwhttp.CORSConfig) func(*Server) {
	return func(s *Server) {
		s.cors = cfg
	}
}

// WithAPIKey requires key on every route except /healthz.
func WithAPIKey(key string) func(*Server) {
	return func(s *Server) {
		s.apiKey = key
	}
}

// WithLogger sets the request logger.
func WithLogger(log logger.Logger) func(*Server) {
	return func(s *Server) {
		s.logger = log.WithComponent("api")
	}
}

// WithTracer replaces the tracer taken from the global provider.
func WithTracer(tracer trace.Tracer) func(*Server) {
	return func(s *Server) {
		s.tracer = tracer
	}
}

// Handler returns the routed handler wrapped in CORS handling, so preflight requests
// are answered before routing.
func (s *Server) Handler() http.Handler {
	return fwhttp.CommonMiddleware(s.router, s.cors, s.logger)
}

// NewHTTPServer wraps the router in an http.Server listening on addr.
func (s *Server) NewHTTPServer(addr string) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
		IdleTimeout:  defaultIdleTimeout,
	}
}

func (s *Server) setupRoutes() {
	s.router.Use(fwhttp.TracingMiddleware(s.tracer))
	s.router.Use(fwhttp.LoggingMiddleware(s.logger))

	s.router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	protected := s.router.PathPrefix("/api").Subrouter()
	protected.Use(fwhttp.APIKeyMiddlewareWithOptions(fwhttp.APIKeyOptions{
		APIKey:          s.apiKey,
		LogUnauthorized: true,
		Logger:          s.logger,
	}))

	if s.monitoring != nil {
		protected.HandleFunc("/monitoring", s.handleMonitoringView).Methods(http.MethodGet)
		protected.HandleFunc("/monitoring/refresh", s.handleMonitoringRefresh).Methods(http.MethodPost)
		protected.HandleFunc("/monitoring/transport/{mode}", s.handleTransportSwitch).Methods(http.MethodPost)
	}

	if s.provisioning != nil {
		protected.HandleFunc("/provisioning/devices", s.handleDevices).Methods(http.MethodGet)
		protected.HandleFunc("/provisioning/devices/{id}", s.handleDevice).Methods(http.MethodGet)
		protected.HandleFunc("/provisioning/summary", s.handleSummary).Methods(http.MethodGet)
		protected.HandleFunc("/provisioning/reconnect", s.handleProvisioningReconnect).Methods(http.MethodPost)
	}
}

// onLoop runs fn on the loop, answering 503 when the loop is gone.
func (s *Server) onLoop(w http.ResponseWriter, r *http.Request, fn func()) bool {
	ctx, cancel := context.WithTimeout(r.Context(), loopCallTimeout)
	defer cancel()

	if err := s.runner.Do(ctx, fn); err != nil {
		s.logger.Warn().Err(err).Str("path", r.URL.Path).Msg("Event loop unavailable")
		s.writeError(w, "service unavailable", http.StatusServiceUnavailable)

		return false
	}

	return true
}

func (*Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Version: version.GetFullVersion()})
}

func (s *Server) handleMonitoringView(w http.ResponseWriter, r *http.Request) {
	var view monitoring.View

	if s.onLoop(w, r, func() { view = s.monitoring.View() }) {
		writeJSON(w, http.StatusOK, view)
	}
}

func (s *Server) handleMonitoringRefresh(w http.ResponseWriter, r *http.Request) {
	var (
		view monitoring.View
		err  error
	)

	ok := s.onLoop(w, r, func() {
		err = s.monitoring.Refresh()
		view = s.monitoring.View()
	})
	if !ok {
		return
	}

	if err != nil {
		s.writeError(w, err.Error(), statusFor(err))
		return
	}

	writeJSON(w, http.StatusAccepted, view)
}

func (s *Server) handleTransportSwitch(w http.ResponseWriter, r *http.Request) {
	mode, known := models.ParseTransportMode(mux.Vars(r)["mode"])
	if !known || mode == models.TransportNone {
		s.writeError(w, "transport mode must be realtime or polling", http.StatusBadRequest)
		return
	}

	var (
		view monitoring.View
		err  error
	)

	ok := s.onLoop(w, r, func() {
		if mode == models.TransportPolling {
			err = s.monitoring.SwitchToPolling()
		} else {
			err = s.monitoring.SwitchToRealtime()
		}

		view = s.monitoring.View()
	})
	if !ok {
		return
	}

	if err != nil {
		s.writeError(w, err.Error(), statusFor(err))
		return
	}

	writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleDevices(w http.ResponseWriter, r *http.Request) {
	var devices []models.DeviceProjection

	if !s.onLoop(w, r, func() { devices = s.provisioning.Devices() }) {
		return
	}

	if devices == nil {
		devices = []models.DeviceProjection{}
	}

	writeJSON(w, http.StatusOK, devices)
}

func (s *Server) handleDevice(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var (
		device models.DeviceProjection
		found  bool
	)

	if !s.onLoop(w, r, func() { device, found = s.provisioning.Device(id) }) {
		return
	}

	if !found {
		s.writeError(w, "device not found", http.StatusNotFound)
		return
	}

	writeJSON(w, http.StatusOK, device)
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	var summary provisioning.Summary

	if s.onLoop(w, r, func() { summary = s.provisioning.Summary() }) {
		writeJSON(w, http.StatusOK, summary)
	}
}

func (s *Server) handleProvisioningReconnect(w http.ResponseWriter, r *http.Request) {
	if s.onLoop(w, r, s.provisioning.Reconnect) {
		w.WriteHeader(http.StatusAccepted)
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, monitoring.ErrCoordinatorDisabled), errors.Is(err, monitoring.ErrRealtimeUnavailable):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(errorResponse{Message: message, Status: statusCode}); err != nil {
		s.logger.Debug().Err(err).Msg("Failed to encode error response")
	}
}
