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

package fleetwatch

import (
	"fmt"
	"net/http"

	"github.com/carverauto/fleetwatch/pkg/config"
	"github.com/carverauto/fleetwatch/pkg/logger"
	"github.com/carverauto/fleetwatch/pkg/monitoring"
	"github.com/carverauto/fleetwatch/pkg/provisioning"
	"github.com/carverauto/fleetwatch/pkg/realtime"
	"github.com/carverauto/fleetwatch/pkg/transport"
)

// apiKeyHeader carries the gateway API key on every outbound request.
const apiKeyHeader = "X-API-Key"

func gatewayHeader(cfg *config.Fleetwatch) http.Header {
	header := http.Header{}
	if cfg.APIKey != "" {
		header.Set(apiKeyHeader, cfg.APIKey)
	}

	return header
}

func monitoringConfig(cfg *config.Fleetwatch) (monitoring.Config, error) {
	url := cfg.Realtime.URL
	if url == "" {
		derived, err := monitoring.RealtimeURL(cfg.GatewayURL)
		if err != nil {
			return monitoring.Config{}, err
		}

		url = derived
	}

	rt := cfg.Realtime

	return monitoring.Config{
		Enabled:        true,
		PreferRealtime: rt.PreferRealtime,
		FallbackDelay:  cfg.Polling.FallbackDelay.Std(),
		PollInterval:   cfg.Polling.Interval.Std(),
		RequestTimeout: cfg.Polling.RequestTimeout.Std(),
		Realtime: realtime.DuplexConfig{
			URL:     url,
			Enabled: rt.Enabled,
			Retry: realtime.RetryPolicy{
				MaxRetries:   rt.MaxRetries,
				BaseDelay:    rt.BaseRetryDelay.Std(),
				MaxDelay:     rt.MaxRetryDelay.Std(),
				JitterFactor: rt.JitterFactor,
			},
			Heartbeat: realtime.HeartbeatConfig{
				Enabled:     rt.Heartbeat,
				Interval:    rt.HeartbeatInterval.Std(),
				PongTimeout: rt.PongTimeout.Std(),
			},
		},
	}, nil
}

// projectorConfig maps the provisioning section onto a projector configuration. An
// empty session id leaves the stream disabled.
func projectorConfig(cfg *config.Fleetwatch, log logger.Logger) (provisioning.Config, error) {
	p := cfg.Provisioning

	pcfg := provisioning.Config{
		SessionID: p.SessionID,
		Enabled:   p.SessionID != "",
		Retry: realtime.RetryPolicy{
			MaxRetries:   p.MaxRetries,
			BaseDelay:    p.RetryDelay.Std(),
			MaxDelay:     cfg.Realtime.MaxRetryDelay.Std(),
			JitterFactor: cfg.Realtime.JitterFactor,
		},
		OnError: func(err error) {
			log.Error().Err(err).Str("session_id", p.SessionID).Msg("Provisioning stream error")
		},
	}

	if !pcfg.Enabled {
		return pcfg, nil
	}

	var err error

	switch p.Transport {
	case config.TransportNATS:
		pcfg.URL, err = provisioning.NATSStreamURL(p.NATSURL, p.SubjectPrefix, p.SessionID)
	default:
		pcfg.URL, err = provisioning.StreamURL(cfg.GatewayURL, p.SessionID)
	}

	if err != nil {
		return provisioning.Config{}, fmt.Errorf("provisioning stream url: %w", err)
	}

	return pcfg, nil
}

// streamOpener serves both provisioning transports so a live transport change only
// swaps the stream URL.
func streamOpener(cfg *config.Fleetwatch, header http.Header, log logger.Logger) transport.StreamOpener {
	sse := transport.NewSSEOpener(&http.Client{}, header, log)
	nats := transport.NewNATSStreamOpener(cfg.Security, log)

	return transport.SchemeOpener{
		"http":  sse,
		"https": sse,
		"nats":  nats,
		"tls":   nats,
	}
}
