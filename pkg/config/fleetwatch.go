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

package config

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/carverauto/fleetwatch/pkg/logger"
	"github.com/carverauto/fleetwatch/pkg/models"
)

// ErrInvalidConfig wraps every validation failure of the fleetwatch configuration.
var ErrInvalidConfig = errors.New("invalid fleetwatch config")

const (
	// TransportSSE streams provisioning events from the gateway over text/event-stream.
	TransportSSE = "sse"
	// TransportNATS subscribes to provisioning events on a NATS subject.
	TransportNATS = "nats"

	// ReloadLive marks fields that can be applied without a restart.
	ReloadLive = "live"
	// ReloadRestart marks fields that only take effect after a restart.
	ReloadRestart = "restart"

	defaultListenAddr        = ":8090"
	defaultMaxRetries        = 5
	defaultBaseRetryDelay    = time.Second
	defaultMaxRetryDelay     = 30 * time.Second
	defaultJitterFactor      = 0.1
	defaultHeartbeatInterval = 30 * time.Second
	defaultPongTimeout       = 5 * time.Second
	defaultPollInterval      = 30 * time.Second
	defaultFallbackDelay     = 3 * time.Second
	defaultRequestTimeout    = 10 * time.Second
	defaultSubjectPrefix     = "provisioning.sessions"
	defaultPublishStream     = "fleetwatch-provisioning"
	defaultMetricsInterval   = 30 * time.Second
)

// Fleetwatch is the configuration of the fleetwatch sync service.
type Fleetwatch struct {
	ListenAddr   string                 `json:"listen_addr" reload:"restart"`
	GatewayURL   string                 `json:"gateway_url" reload:"restart"`
	APIKey       string                 `json:"api_key,omitempty" sensitive:"true" reload:"restart"`
	CORSOrigins  []string               `json:"cors_origins,omitempty" reload:"restart"`
	Realtime     RealtimeConfig         `json:"realtime" reload:"restart"`
	Polling      PollingConfig          `json:"polling" reload:"restart"`
	Provisioning ProvisioningConfig     `json:"provisioning" reload:"live"`
	Security     *models.SecurityConfig `json:"security,omitempty" reload:"restart"`
	Logging      *logger.Config         `json:"logging,omitempty" reload:"live"`
	Metrics      MetricsConfig          `json:"metrics" reload:"restart"`
}

// RealtimeConfig configures the monitoring websocket. URL overrides the address
// derived from gateway_url.
type RealtimeConfig struct {
	Enabled           bool            `json:"enabled"`
	PreferRealtime    bool            `json:"prefer_realtime"`
	URL               string          `json:"url,omitempty"`
	MaxRetries        int             `json:"max_retries"`
	BaseRetryDelay    models.Duration `json:"base_retry_delay"`
	MaxRetryDelay     models.Duration `json:"max_retry_delay"`
	JitterFactor      float64         `json:"jitter_factor"`
	Heartbeat         bool            `json:"heartbeat"`
	HeartbeatInterval models.Duration `json:"heartbeat_interval"`
	PongTimeout       models.Duration `json:"pong_timeout"`
}

// PollingConfig configures the monitoring pull path.
type PollingConfig struct {
	Interval       models.Duration `json:"interval"`
	FallbackDelay  models.Duration `json:"fallback_delay"`
	RequestTimeout models.Duration `json:"request_timeout"`
}

// ProvisioningConfig configures the provisioning event stream and the optional
// re-publication of projected changes.
type ProvisioningConfig struct {
	SessionID     string          `json:"session_id"`
	Transport     string          `json:"transport"`
	NATSURL       string          `json:"nats_url,omitempty"`
	SubjectPrefix string          `json:"subject_prefix,omitempty"`
	MaxRetries    int             `json:"max_retries"`
	RetryDelay    models.Duration `json:"retry_delay"`
	Publish       PublishConfig   `json:"publish"`
}

// PublishConfig enables forwarding projected device changes to JetStream.
type PublishConfig struct {
	Enabled       bool   `json:"enabled"`
	NATSURL       string `json:"nats_url,omitempty"`
	Stream        string `json:"stream,omitempty"`
	SubjectPrefix string `json:"subject_prefix,omitempty"`
}

// MetricsConfig configures OTLP metric export. Traces sends API request spans to the
// same collector.
type MetricsConfig struct {
	Enabled        bool              `json:"enabled"`
	Endpoint       string            `json:"endpoint,omitempty"`
	Insecure       bool              `json:"insecure"`
	Headers        map[string]string `json:"headers,omitempty" sensitive:"true"`
	ExportInterval models.Duration   `json:"export_interval"`
	Traces         bool              `json:"traces"`
}

// DefaultFleetwatch returns a configuration with every default applied and both
// transports enabled.
func DefaultFleetwatch() *Fleetwatch {
	cfg := &Fleetwatch{
		Realtime: RealtimeConfig{Enabled: true, PreferRealtime: true, Heartbeat: true},
	}

	cfg.ApplyDefaults()

	return cfg
}

// ApplyDefaults fills every zero-valued tunable.
func (c *Fleetwatch) ApplyDefaults() {
	if c.ListenAddr == "" {
		c.ListenAddr = defaultListenAddr
	}

	rt := &c.Realtime
	if rt.MaxRetries == 0 {
		rt.MaxRetries = defaultMaxRetries
	}

	setDuration(&rt.BaseRetryDelay, defaultBaseRetryDelay)
	setDuration(&rt.MaxRetryDelay, defaultMaxRetryDelay)
	setDuration(&rt.HeartbeatInterval, defaultHeartbeatInterval)
	setDuration(&rt.PongTimeout, defaultPongTimeout)

	if rt.JitterFactor == 0 {
		rt.JitterFactor = defaultJitterFactor
	}

	setDuration(&c.Polling.Interval, defaultPollInterval)
	setDuration(&c.Polling.FallbackDelay, defaultFallbackDelay)
	setDuration(&c.Polling.RequestTimeout, defaultRequestTimeout)

	p := &c.Provisioning
	if p.Transport == "" {
		p.Transport = TransportSSE
	}

	if p.SubjectPrefix == "" {
		p.SubjectPrefix = defaultSubjectPrefix
	}

	if p.MaxRetries == 0 {
		p.MaxRetries = defaultMaxRetries
	}

	setDuration(&p.RetryDelay, defaultBaseRetryDelay)

	if p.Publish.NATSURL == "" {
		p.Publish.NATSURL = p.NATSURL
	}

	if p.Publish.Stream == "" {
		p.Publish.Stream = defaultPublishStream
	}

	if p.Publish.SubjectPrefix == "" {
		p.Publish.SubjectPrefix = p.SubjectPrefix
	}

	setDuration(&c.Metrics.ExportInterval, defaultMetricsInterval)
}

func setDuration(d *models.Duration, def time.Duration) {
	if *d == 0 {
		*d = models.Duration(def)
	}
}

// Validate implements the Validator interface. Defaults are applied first.
func (c *Fleetwatch) Validate() error {
	c.ApplyDefaults()

	if c.GatewayURL == "" {
		return fmt.Errorf("%w: gateway_url is required", ErrInvalidConfig)
	}

	u, err := url.Parse(c.GatewayURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: gateway_url must be an absolute http(s) url, got %q", ErrInvalidConfig, c.GatewayURL)
	}

	rt := c.Realtime
	if rt.MaxRetries < 0 {
		return fmt.Errorf("%w: realtime.max_retries must not be negative", ErrInvalidConfig)
	}

	if rt.MaxRetryDelay < rt.BaseRetryDelay {
		return fmt.Errorf("%w: realtime.max_retry_delay is below base_retry_delay", ErrInvalidConfig)
	}

	if rt.JitterFactor < 0 || rt.JitterFactor > 1 {
		return fmt.Errorf("%w: realtime.jitter_factor must be within [0, 1]", ErrInvalidConfig)
	}

	if rt.Heartbeat && rt.PongTimeout >= rt.HeartbeatInterval {
		return fmt.Errorf("%w: realtime.pong_timeout must be shorter than heartbeat_interval", ErrInvalidConfig)
	}

	if err := c.validateProvisioning(); err != nil {
		return err
	}

	if c.Security != nil {
		switch c.Security.Mode {
		case "", models.SecurityModeNone, models.SecurityModeTLS, models.SecurityModeMTLS:
		default:
			return fmt.Errorf("%w: security.mode %q (expected none, tls or mtls)", ErrInvalidConfig, c.Security.Mode)
		}
	}

	if c.Metrics.Enabled && c.Metrics.Endpoint == "" {
		return fmt.Errorf("%w: metrics.endpoint is required when metrics are enabled", ErrInvalidConfig)
	}

	return nil
}

func (c *Fleetwatch) validateProvisioning() error {
	p := c.Provisioning

	switch p.Transport {
	case TransportSSE:
	case TransportNATS:
		if p.NATSURL == "" {
			return fmt.Errorf("%w: provisioning.nats_url is required for the nats transport", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: provisioning.transport %q (expected %q or %q)",
			ErrInvalidConfig, p.Transport, TransportSSE, TransportNATS)
	}

	if p.MaxRetries < 0 {
		return fmt.Errorf("%w: provisioning.max_retries must not be negative", ErrInvalidConfig)
	}

	if p.Publish.Enabled && p.Publish.NATSURL == "" {
		return fmt.Errorf("%w: provisioning.publish requires a nats_url", ErrInvalidConfig)
	}

	return nil
}
