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
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/fleetwatch/pkg/config"
	"github.com/carverauto/fleetwatch/pkg/logger"
	"github.com/carverauto/fleetwatch/pkg/models"
	"github.com/carverauto/fleetwatch/pkg/monitoring"
	"github.com/carverauto/fleetwatch/pkg/provisioning"
)

const (
	testAPIKey   = "k3y"
	eventuallyIn = 5 * time.Second
	tick         = 20 * time.Millisecond
)

func newGateway(t *testing.T) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()

	mux.HandleFunc("/api/monitoring/snapshot", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, testAPIKey, r.Header.Get("X-API-Key"))
		_, _ = fmt.Fprint(w, `{"health":{"status":"ok"}}`)
	})

	mux.HandleFunc("/api/provisioning/sessions/{id}/events", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)

		event := map[string]interface{}{
			"type": models.EventDeviceDiscovered,
			"data": map[string]string{"id": r.PathValue("id") + "-device", "ip": "10.0.0.2"},
		}
		data, _ := json.Marshal(event)

		_, _ = fmt.Fprintf(w, "data: %s\n\n", data)
		w.(http.Flusher).Flush()

		<-r.Context().Done()
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return server
}

func testConfig(gatewayURL, session string) *config.Fleetwatch {
	cfg := config.DefaultFleetwatch()
	cfg.ListenAddr = "127.0.0.1:0"
	cfg.GatewayURL = gatewayURL
	cfg.APIKey = testAPIKey
	cfg.Realtime.Enabled = false
	cfg.Provisioning.SessionID = session

	return cfg
}

func getJSON(t *testing.T, svc *Service, path string, v interface{}) bool {
	t.Helper()

	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet,
		"http://"+svc.Addr().String()+path, http.NoBody)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", testAPIKey)

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return false
	}

	return json.NewDecoder(resp.Body).Decode(v) == nil
}

func TestService_EndToEnd(t *testing.T) {
	gateway := newGateway(t)
	cfg := testConfig(gateway.URL, "s1")

	next := testConfig(gateway.URL, "s2")
	source := func(context.Context) (*config.Fleetwatch, error) { return next, nil }

	svc, err := New(context.Background(), cfg, logger.NewTestLogger(), WithConfigSource(source))
	require.NoError(t, err)

	require.NoError(t, svc.Start(context.Background()))
	require.ErrorIs(t, svc.Start(context.Background()), ErrAlreadyStarted)

	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), eventuallyIn)
		defer cancel()

		require.NoError(t, svc.Stop(ctx))
	}()

	assert.Eventually(t, func() bool {
		var view monitoring.View

		return getJSON(t, svc, "/api/monitoring", &view) &&
			view.Mode == models.TransportPolling && view.Snapshot != nil && view.Snapshot.Health != nil
	}, eventuallyIn, tick, "polling path feeds the snapshot when realtime is disabled")

	assert.Eventually(t, func() bool {
		var devices []models.DeviceProjection

		return getJSON(t, svc, "/api/provisioning/devices", &devices) &&
			len(devices) == 1 && devices[0].ID == "s1-device"
	}, eventuallyIn, tick)

	require.NoError(t, svc.Reload(context.Background()))

	assert.Eventually(t, func() bool {
		var summary provisioning.Summary
		var devices []models.DeviceProjection

		return getJSON(t, svc, "/api/provisioning/summary", &summary) && summary.SessionID == "s2" &&
			getJSON(t, svc, "/api/provisioning/devices", &devices) && len(devices) == 1 && devices[0].ID == "s2-device"
	}, eventuallyIn, tick, "session switch is applied live")
}

func TestService_ReloadWithoutSource(t *testing.T) {
	svc, err := New(context.Background(), testConfig("http://127.0.0.1:1", ""), logger.NewTestLogger())
	require.NoError(t, err)

	require.ErrorIs(t, svc.Reload(context.Background()), ErrReloadUnsupported)
	require.NoError(t, svc.Stop(context.Background()), "stopping an idle service is a no-op")
}

func TestProjectorConfig(t *testing.T) {
	cfg := testConfig("https://gw.local", "")

	pcfg, err := projectorConfig(cfg, logger.NewTestLogger())
	require.NoError(t, err)
	assert.False(t, pcfg.Enabled)
	assert.Empty(t, pcfg.URL)

	cfg.Provisioning.SessionID = "s1"
	pcfg, err = projectorConfig(cfg, logger.NewTestLogger())
	require.NoError(t, err)
	assert.True(t, pcfg.Enabled)
	assert.Equal(t, "https://gw.local/api/provisioning/sessions/s1/events", pcfg.URL)

	cfg.Provisioning.Transport = config.TransportNATS
	cfg.Provisioning.NATSURL = "nats://broker:4222"
	pcfg, err = projectorConfig(cfg, logger.NewTestLogger())
	require.NoError(t, err)
	assert.Equal(t, "nats://broker:4222/provisioning.sessions.s1.>", pcfg.URL)
	assert.Equal(t, cfg.Provisioning.MaxRetries, pcfg.Retry.MaxRetries)
}

func TestMonitoringConfig(t *testing.T) {
	cfg := testConfig("http://gw.local:8080", "")
	cfg.Realtime.Enabled = true
	cfg.Polling.FallbackDelay = models.Duration(3 * time.Second)

	mcfg, err := monitoringConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "ws://gw.local:8080/ws/monitoring", mcfg.Realtime.URL)
	assert.True(t, mcfg.Realtime.Enabled)
	assert.Equal(t, 3*time.Second, mcfg.FallbackDelay)
	assert.True(t, mcfg.Realtime.Heartbeat.Enabled)

	cfg.Realtime.URL = "wss://push.local/feed"
	mcfg, err = monitoringConfig(cfg)
	require.NoError(t, err)
	assert.Equal(t, "wss://push.local/feed", mcfg.Realtime.URL)
}
