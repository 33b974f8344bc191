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

package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/carverauto/fleetwatch/pkg/eventloop"
	"github.com/carverauto/fleetwatch/pkg/logger"
	"github.com/carverauto/fleetwatch/pkg/models"
	"github.com/carverauto/fleetwatch/pkg/realtime"
	"github.com/carverauto/fleetwatch/pkg/transport/transporttest"
)

const testRealtimeURL = "ws://gateway.local/ws/monitoring"

var errGatewayDown = errors.New("gateway down")

func newCoordinator(loop eventloop.Loop, dialer *transporttest.Dialer, fetcher Fetcher, mutate func(*Config)) *Coordinator {
	cfg := Config{
		Enabled:        true,
		PreferRealtime: true,
		FallbackDelay:  3 * time.Second,
		PollInterval:   30 * time.Second,
		Realtime: realtime.DuplexConfig{
			URL:     testRealtimeURL,
			Enabled: true,
			Retry: realtime.RetryPolicy{
				MaxRetries:   3,
				BaseDelay:    time.Second,
				MaxDelay:     30 * time.Second,
				JitterFactor: 0.1,
				Rand:         func() float64 { return 0 },
			},
		},
	}

	if mutate != nil {
		mutate(&cfg)
	}

	return NewCoordinator(loop, dialer, fetcher, cfg, logger.NewTestLogger())
}

func stalledDialer() *transporttest.Dialer {
	return &transporttest.Dialer{}
}

func openingDialer() *transporttest.Dialer {
	return &transporttest.Dialer{OnDial: func(c *transporttest.DuplexConn) { c.Open() }}
}

func push(kind string, snapshot *models.MonitoringSnapshot) map[string]interface{} {
	return map[string]interface{}{"type": kind, "data": snapshot}
}

func fullSnapshot() *models.MonitoringSnapshot {
	return &models.MonitoringSnapshot{
		Health:   &models.HealthSection{Status: "healthy", CPUPercent: 12.5},
		Security: &models.SecuritySection{Cameras: models.CameraSummary{Total: 4, Online: 4}},
		Services: &models.ServiceSection{Services: []models.ServiceStatus{{Name: "nvr", Status: "running", Healthy: true}}},
		Network:  &models.NetworkSection{WAN: models.InterfaceStatus{Name: "wan0", Up: true}, Clients: 9},
		Devices:  &models.DeviceStatusSection{Total: 12, Online: 11, Offline: 1},
	}
}

func mustJSON(t *testing.T, v interface{}) string {
	t.Helper()

	b, err := json.Marshal(v)
	require.NoError(t, err)

	return string(b)
}

func TestCoordinator_FallsBackWhenRealtimeStalls(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	loop := eventloop.NewManual(time.Unix(0, 0))
	dialer := stalledDialer()
	fetcher := NewMockFetcher(ctrl)

	polled := &models.MonitoringSnapshot{Health: &models.HealthSection{Status: "degraded"}}
	fetcher.EXPECT().Fetch(gomock.Any()).Return(polled, nil).Times(1)

	c := newCoordinator(loop, dialer, fetcher, nil)
	c.Start()
	loop.Drain()

	assert.Equal(t, models.TransportNone, c.Mode())
	assert.Equal(t, models.StateConnecting, c.View().RealtimeState)
	assert.True(t, c.Status().Loading)

	loop.Advance(2999 * time.Millisecond)
	assert.Equal(t, models.TransportNone, c.Mode())

	loop.Advance(time.Millisecond)
	require.Equal(t, models.TransportPolling, c.Mode())
	assert.Equal(t, "degraded", c.Snapshot().Health.Status)
	assert.False(t, c.Status().Loading)

	conn := dialer.Last()
	closed, _ := conn.Closed()
	assert.True(t, closed, "push connection is abandoned on fallback")
	assert.Equal(t, models.StateDisconnected, c.View().RealtimeState)

	// a late open of the abandoned connection never reaches the snapshot
	conn.Open()
	conn.ReceiveJSON(push(models.MonitoringMessageSnapshot, fullSnapshot()))
	loop.Advance(500 * time.Millisecond)

	assert.Equal(t, models.TransportPolling, c.Mode())
	assert.Equal(t, "degraded", c.Snapshot().Health.Status)
	assert.Nil(t, c.Snapshot().Network)
}

func TestCoordinator_RealtimeConnectCancelsFallback(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	loop := eventloop.NewManual(time.Unix(0, 0))
	dialer := openingDialer()
	c := newCoordinator(loop, dialer, NewMockFetcher(ctrl), nil)

	c.Start()
	loop.Drain()

	require.Equal(t, models.TransportRealtime, c.Mode())
	assert.Equal(t, 0, loop.Pending(), "fallback timer is cancelled")
	assert.True(t, c.Status().Loading, "connected but no data yet")

	dialer.Last().ReceiveJSON(push(models.MonitoringMessageSnapshot, fullSnapshot()))
	loop.Drain()

	assert.Equal(t, mustJSON(t, fullSnapshot().Devices), mustJSON(t, c.Snapshot().Devices))
	assert.Equal(t, Status{}, c.Status())

	loop.Advance(time.Minute)
	assert.Equal(t, models.TransportRealtime, c.Mode())
}

func TestCoordinator_PartialUpdateReplacesOnlyPresentSections(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	loop := eventloop.NewManual(time.Unix(0, 0))
	dialer := openingDialer()
	c := newCoordinator(loop, dialer, NewMockFetcher(ctrl), nil)

	c.Start()
	loop.Drain()

	conn := dialer.Last()
	conn.ReceiveJSON(push(models.MonitoringMessageSnapshot, fullSnapshot()))
	loop.Drain()

	before := c.Snapshot()
	beforeJSON := map[string]string{
		"health":   mustJSON(t, before.Health),
		"security": mustJSON(t, before.Security),
		"services": mustJSON(t, before.Services),
		"devices":  mustJSON(t, before.Devices),
	}

	network := &models.NetworkSection{WAN: models.InterfaceStatus{Name: "wan0", Up: false}, Clients: 0}
	conn.ReceiveJSON(push(models.MonitoringMessageUpdate, &models.MonitoringSnapshot{Network: network}))
	loop.Drain()

	after := c.Snapshot()
	assert.Equal(t, mustJSON(t, network), mustJSON(t, after.Network))
	assert.Equal(t, beforeJSON["health"], mustJSON(t, after.Health))
	assert.Equal(t, beforeJSON["security"], mustJSON(t, after.Security))
	assert.Equal(t, beforeJSON["services"], mustJSON(t, after.Services))
	assert.Equal(t, beforeJSON["devices"], mustJSON(t, after.Devices))

	assert.True(t, before.Network.WAN.Up, "previous snapshot is not mutated")
}

func TestCoordinator_FirstMessageOfEachConnectionReplaces(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	loop := eventloop.NewManual(time.Unix(0, 0))
	dialer := openingDialer()
	c := newCoordinator(loop, dialer, NewMockFetcher(ctrl), func(cfg *Config) {
		cfg.Initial = fullSnapshot()
	})

	c.Start()
	loop.Drain()

	dialer.Last().ReceiveJSON(push("partial", &models.MonitoringSnapshot{
		Health: &models.HealthSection{Status: "critical"},
	}))
	loop.Drain()

	require.NotNil(t, c.Snapshot().Health)
	assert.Equal(t, "critical", c.Snapshot().Health.Status)
	assert.Nil(t, c.Snapshot().Network, "first message is a full snapshot")

	dialer.Last().ReceiveJSON(push("partial", &models.MonitoringSnapshot{
		Network: &models.NetworkSection{Clients: 3},
	}))
	loop.Drain()
	assert.Equal(t, "critical", c.Snapshot().Health.Status)

	dialer.Last().Fail()
	loop.Advance(time.Second)
	require.Equal(t, models.StateConnected, c.View().RealtimeState)
	assert.Equal(t, 2, dialer.Count())

	dialer.Last().ReceiveJSON(push(models.MonitoringMessageUpdate, &models.MonitoringSnapshot{
		Devices: &models.DeviceStatusSection{Total: 1},
	}))
	loop.Drain()

	assert.Nil(t, c.Snapshot().Health, "first message after reconnect replaces")
	assert.Equal(t, 1, c.Snapshot().Devices.Total)
}

func TestCoordinator_IgnoresUnknownAndMalformedMessages(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	loop := eventloop.NewManual(time.Unix(0, 0))
	dialer := openingDialer()
	c := newCoordinator(loop, dialer, NewMockFetcher(ctrl), nil)

	c.Start()
	loop.Drain()

	conn := dialer.Last()
	conn.ReceiveJSON(map[string]string{"type": "connected"})
	conn.ReceiveJSON(map[string]interface{}{"type": "snapshot", "data": "not an object"})
	conn.ReceiveJSON(map[string]string{"type": "snapshot"})
	conn.Receive([]byte("{{{"))
	loop.Drain()

	assert.Nil(t, c.Snapshot())
	assert.Equal(t, models.TransportRealtime, c.Mode())

	conn.ReceiveJSON(push(models.MonitoringMessageUpdate, &models.MonitoringSnapshot{
		Network: &models.NetworkSection{Clients: 2},
	}))
	loop.Drain()

	require.NotNil(t, c.Snapshot())
	assert.Equal(t, 2, c.Snapshot().Network.Clients)
}

func TestCoordinator_AbnormalCloseDoesNotFallBack(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	loop := eventloop.NewManual(time.Unix(0, 0))
	dialer := openingDialer()
	c := newCoordinator(loop, dialer, NewMockFetcher(ctrl), nil)

	c.Start()
	loop.Drain()

	dialer.Last().ReceiveJSON(push(models.MonitoringMessageSnapshot, fullSnapshot()))
	dialer.OnDial = nil
	dialer.Last().Fail()
	loop.Drain()

	assert.Equal(t, models.TransportRealtime, c.Mode())
	assert.Equal(t, models.StateReconnecting, c.View().RealtimeState)
	assert.True(t, c.Status().Refreshing)
	assert.False(t, c.Status().Loading)

	loop.Advance(10 * time.Second)
	assert.Equal(t, models.TransportRealtime, c.Mode())
}

func TestCoordinator_FallsBackAfterRetriesExhausted(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	loop := eventloop.NewManual(time.Unix(0, 0))
	dialer := openingDialer()
	fetcher := NewMockFetcher(ctrl)
	fetcher.EXPECT().Fetch(gomock.Any()).Return(fullSnapshot(), nil).Times(1)

	c := newCoordinator(loop, dialer, fetcher, func(cfg *Config) {
		cfg.Realtime.Retry.MaxRetries = 2
	})

	c.Start()
	loop.Drain()
	require.Equal(t, models.TransportRealtime, c.Mode())

	dialer.OnDial = func(conn *transporttest.DuplexConn) { conn.Fail() }
	dialer.Last().Fail()
	loop.Advance(time.Second)
	assert.Equal(t, models.TransportRealtime, c.Mode())

	loop.Advance(2 * time.Second)
	require.Equal(t, models.TransportPolling, c.Mode())
	assert.Equal(t, models.StateDisconnected, c.View().RealtimeState)
	assert.Equal(t, 3, dialer.Count())
	assert.NotNil(t, c.Snapshot().Health)
	assert.Empty(t, c.Status().Error)
}

func TestCoordinator_PollingReplacesWholeSnapshot(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	loop := eventloop.NewManual(time.Unix(0, 0))
	dialer := stalledDialer()
	fetcher := NewMockFetcher(ctrl)

	gomock.InOrder(
		fetcher.EXPECT().Fetch(gomock.Any()).Return(fullSnapshot(), nil),
		fetcher.EXPECT().Fetch(gomock.Any()).Return(nil, errGatewayDown),
		fetcher.EXPECT().Fetch(gomock.Any()).Return(&models.MonitoringSnapshot{
			Network: &models.NetworkSection{Clients: 1},
		}, nil),
	)

	var views []View

	c := newCoordinator(loop, dialer, fetcher, func(cfg *Config) {
		cfg.PreferRealtime = false
	})
	c.OnUpdate(func(v View) { views = append(views, v) })

	c.Start()
	loop.Drain()

	require.Equal(t, models.TransportPolling, c.Mode())
	assert.Equal(t, 0, dialer.Count(), "push transport is never dialed")
	require.NotNil(t, c.Snapshot().Health)
	assert.Equal(t, time.Unix(0, 0), c.Snapshot().UpdatedAt)

	loop.Advance(30 * time.Second)
	assert.Equal(t, errGatewayDown.Error(), c.Status().Error)
	assert.NotNil(t, c.Snapshot().Health, "failed poll keeps the last snapshot")

	loop.Advance(30 * time.Second)
	assert.Empty(t, c.Status().Error)
	assert.Nil(t, c.Snapshot().Health, "polling replaces the whole snapshot")
	assert.Equal(t, 1, c.Snapshot().Network.Clients)

	require.NotEmpty(t, views)
	assert.Equal(t, models.TransportPolling, views[len(views)-1].Mode)
}

// deferredLoop holds background work until the test releases it.
type deferredLoop struct {
	*eventloop.Manual
	work []func()
}

func (l *deferredLoop) Background(work func()) {
	l.work = append(l.work, work)
}

func (l *deferredLoop) release() {
	work := l.work
	l.work = nil

	for _, fn := range work {
		fn()
	}

	l.Drain()
}

func TestCoordinator_StaleFetchIsDropped(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	loop := &deferredLoop{Manual: eventloop.NewManual(time.Unix(0, 0))}
	dialer := openingDialer()
	fetcher := NewMockFetcher(ctrl)

	fetcher.EXPECT().Fetch(gomock.Any()).DoAndReturn(func(ctx context.Context) (*models.MonitoringSnapshot, error) {
		assert.ErrorIs(t, ctx.Err(), context.Canceled, "switching away cancels the in-flight fetch")
		return fullSnapshot(), nil
	})

	c := newCoordinator(loop, dialer, fetcher, nil)
	c.Start()
	loop.Drain()

	require.NoError(t, c.SwitchToPolling())
	assert.True(t, c.Status().Loading)

	require.NoError(t, c.SwitchToRealtime())
	loop.Drain()
	require.Equal(t, models.TransportRealtime, c.Mode())

	loop.release()

	assert.Nil(t, c.Snapshot())
	assert.Equal(t, models.TransportRealtime, c.Mode())
}

func TestCoordinator_ManualSwitching(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	loop := eventloop.NewManual(time.Unix(0, 0))
	dialer := openingDialer()
	fetcher := NewMockFetcher(ctrl)
	fetcher.EXPECT().Fetch(gomock.Any()).Return(fullSnapshot(), nil).Times(2)

	c := newCoordinator(loop, dialer, fetcher, nil)
	c.Start()
	loop.Drain()
	require.Equal(t, models.TransportRealtime, c.Mode())

	require.NoError(t, c.SwitchToPolling())
	loop.Drain()
	assert.Equal(t, models.TransportPolling, c.Mode())

	closed, code := dialer.Last().Closed()
	assert.True(t, closed)
	assert.Equal(t, models.CloseGoingAway, code)

	require.NoError(t, c.Refresh())
	loop.Drain()

	require.NoError(t, c.SwitchToRealtime())
	loop.Drain()
	assert.Equal(t, models.TransportRealtime, c.Mode())
	assert.Equal(t, 2, dialer.Count())

	require.NoError(t, c.Refresh())
	loop.Drain()
	assert.Equal(t, 3, dialer.Count(), "refresh reconnects the push transport")
	assert.Equal(t, models.TransportRealtime, c.Mode())
}

func TestCoordinator_SwitchErrors(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	loop := eventloop.NewManual(time.Unix(0, 0))
	fetcher := NewMockFetcher(ctrl)
	fetcher.EXPECT().Fetch(gomock.Any()).Return(fullSnapshot(), nil).AnyTimes()

	c := newCoordinator(loop, stalledDialer(), fetcher, func(cfg *Config) {
		cfg.Enabled = false
	})
	c.Start()

	assert.ErrorIs(t, c.Refresh(), ErrCoordinatorDisabled)
	assert.ErrorIs(t, c.SwitchToPolling(), ErrCoordinatorDisabled)
	assert.ErrorIs(t, c.SwitchToRealtime(), ErrCoordinatorDisabled)

	noPush := newCoordinator(loop, stalledDialer(), fetcher, func(cfg *Config) {
		cfg.Realtime.URL = ""
	})
	noPush.Start()
	loop.Drain()

	assert.Equal(t, models.TransportPolling, noPush.Mode())
	assert.ErrorIs(t, noPush.SwitchToRealtime(), ErrRealtimeUnavailable)
}

func TestCoordinator_SetEnabledCancelsEverything(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	loop := eventloop.NewManual(time.Unix(0, 0))
	dialer := stalledDialer()
	c := newCoordinator(loop, dialer, NewMockFetcher(ctrl), nil)

	c.Start()
	loop.Drain()
	require.Equal(t, 1, loop.Pending())

	c.SetEnabled(false)
	assert.False(t, c.Enabled())
	assert.Equal(t, 0, loop.Pending())
	assert.Equal(t, models.TransportNone, c.Mode())
	assert.Equal(t, models.StateDisconnected, c.View().RealtimeState)

	loop.Advance(time.Hour)
	assert.Equal(t, 1, dialer.Count())

	c.SetEnabled(true)
	loop.Drain()
	assert.Equal(t, 2, dialer.Count())
	assert.Equal(t, 1, loop.Pending())
}

func TestCoordinator_StopBlocksManualOperations(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	loop := eventloop.NewManual(time.Unix(0, 0))
	dialer := openingDialer()
	c := newCoordinator(loop, dialer, NewMockFetcher(ctrl), nil)

	c.Start()
	loop.Drain()
	require.Equal(t, 1, dialer.Count())

	c.Stop()
	loop.Drain()
	assert.False(t, c.Enabled())

	require.ErrorIs(t, c.Refresh(), ErrCoordinatorDisabled)
	require.ErrorIs(t, c.SwitchToPolling(), ErrCoordinatorDisabled)
	require.ErrorIs(t, c.SwitchToRealtime(), ErrCoordinatorDisabled)

	loop.Advance(time.Hour)
	assert.Equal(t, 1, dialer.Count())
	assert.Equal(t, models.TransportNone, c.Mode())
	assert.Equal(t, 0, loop.Pending())

	c.SetEnabled(true)
	loop.Drain()
	assert.Equal(t, 2, dialer.Count())
}
