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

package realtime

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/fleetwatch/pkg/eventloop"
	"github.com/carverauto/fleetwatch/pkg/logger"
	"github.com/carverauto/fleetwatch/pkg/models"
	"github.com/carverauto/fleetwatch/pkg/transport/transporttest"
)

const testURL = "ws://gateway.local/ws/monitoring"

func noJitter() float64 { return 0 }

func testPolicy(maxRetries int) RetryPolicy {
	return RetryPolicy{
		MaxRetries:   maxRetries,
		BaseDelay:    time.Second,
		MaxDelay:     30 * time.Second,
		JitterFactor: defaultJitterFactor,
		Rand:         noJitter,
	}
}

func newDuplex(loop eventloop.Loop, dialer *transporttest.Dialer, mutate func(*DuplexConfig)) *DuplexController {
	cfg := DuplexConfig{
		URL:     testURL,
		Enabled: true,
		Retry:   testPolicy(3),
	}

	if mutate != nil {
		mutate(&cfg)
	}

	return NewDuplexController(loop, dialer, cfg, logger.NewTestLogger())
}

func failingDialer() *transporttest.Dialer {
	return &transporttest.Dialer{OnDial: func(c *transporttest.DuplexConn) { c.Fail() }}
}

func openingDialer() *transporttest.Dialer {
	return &transporttest.Dialer{OnDial: func(c *transporttest.DuplexConn) { c.Open() }}
}

func TestDuplex_UnreachableTargetExhaustsRetries(t *testing.T) {
	loop := eventloop.NewManual(time.Unix(0, 0))
	dialer := failingDialer()

	var errs []error

	c := newDuplex(loop, dialer, func(cfg *DuplexConfig) {
		cfg.OnError = func(err error) { errs = append(errs, err) }
	})

	c.Start()
	loop.Drain()

	var delays []time.Duration

	for c.State() == models.StateReconnecting {
		next, ok := loop.NextDue()
		require.True(t, ok)

		delays = append(delays, next)
		loop.Advance(next)
	}

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}, delays)
	assert.Equal(t, models.StateError, c.State())
	assert.Equal(t, 4, dialer.Count())

	require.Error(t, c.LastError())
	assert.True(t, errors.Is(c.LastError(), ErrRetriesExhausted))
	assert.Contains(t, c.LastError().Error(), "failed to connect after 3 attempts")
	require.Len(t, errs, 1)

	assert.Equal(t, 0, loop.Pending())
	loop.Advance(time.Hour)
	assert.Equal(t, 4, dialer.Count(), "no attempt after retries are exhausted")
}

func TestDuplex_RetryDelayResetsAfterSuccessfulOpen(t *testing.T) {
	loop := eventloop.NewManual(time.Unix(0, 0))
	dials := 0
	dialer := &transporttest.Dialer{OnDial: func(c *transporttest.DuplexConn) {
		dials++
		if dials < 3 {
			c.Fail()
			return
		}
		c.Open()
	}}

	c := newDuplex(loop, dialer, func(cfg *DuplexConfig) { cfg.Retry = testPolicy(10) })
	c.Start()
	loop.Drain()
	assert.Equal(t, time.Second, c.NextDelay())

	loop.Advance(time.Second)
	assert.Equal(t, 2*time.Second, c.NextDelay())

	loop.Advance(2 * time.Second)
	assert.Equal(t, models.StateConnected, c.State())
	assert.Equal(t, 0, c.Attempt())

	dialer.Last().Fail()
	loop.Drain()

	assert.Equal(t, models.StateReconnecting, c.State())
	assert.Equal(t, 1, c.Attempt())
	assert.Equal(t, time.Second, c.NextDelay())
}

func TestDuplex_SendRequiresConnectedState(t *testing.T) {
	loop := eventloop.NewManual(time.Unix(0, 0))
	dialer := &transporttest.Dialer{}
	c := newDuplex(loop, dialer, nil)

	payloads := []interface{}{nil, "text", []byte("{}"), map[string]int{"a": 1}, make(chan int)}

	for _, p := range payloads {
		assert.False(t, c.Send(p), "idle controller")
	}

	c.Start()
	loop.Drain()
	require.Equal(t, models.StateConnecting, c.State())

	for _, p := range payloads {
		assert.False(t, c.Send(p), "connecting controller")
	}

	dialer.Last().Open()
	loop.Drain()

	assert.True(t, c.Send(map[string]string{"type": "subscribe"}))
	assert.False(t, c.Send(make(chan int)), "unencodable payload")

	sent := dialer.Last().Sent()
	require.Len(t, sent, 1)
	assert.JSONEq(t, `{"type":"subscribe"}`, string(sent[0]))

	c.Close()

	for _, p := range payloads {
		assert.False(t, c.Send(p), "closed controller")
	}
}

func TestDuplex_MissedPongForcesReconnect(t *testing.T) {
	loop := eventloop.NewManual(time.Unix(0, 0))
	dialer := &transporttest.Dialer{}

	c := newDuplex(loop, dialer, func(cfg *DuplexConfig) {
		cfg.Heartbeat = HeartbeatConfig{Enabled: true, Interval: 30 * time.Second, PongTimeout: 5 * time.Second}
	})

	c.Start()
	loop.Drain()

	first := dialer.Last()
	first.Open()
	loop.Drain()
	require.Equal(t, models.StateConnected, c.State())

	loop.Advance(30 * time.Second)

	sent := first.Sent()
	require.Len(t, sent, 1)

	var ping pingMessage
	require.NoError(t, json.Unmarshal(sent[0], &ping))
	assert.Equal(t, messageTypePing, ping.Type)
	assert.NotEmpty(t, ping.ID)

	loop.Advance(5*time.Second - time.Millisecond)
	assert.Equal(t, models.StateConnected, c.State())

	loop.Advance(time.Millisecond)

	closed, code := first.Closed()
	assert.True(t, closed)
	assert.Equal(t, models.CloseHeartbeatTimeout, code)
	assert.Equal(t, models.StateReconnecting, c.State())
	assert.Equal(t, 1, c.Attempt(), "one missed pong is one abnormal closure")

	next, ok := loop.NextDue()
	require.True(t, ok)
	assert.Equal(t, time.Second, next)

	loop.Advance(time.Second)
	assert.Equal(t, 2, dialer.Count())
	assert.Equal(t, models.StateConnecting, c.State())
}

func TestDuplex_UpdateHeartbeatOnLiveConnection(t *testing.T) {
	loop := eventloop.NewManual(time.Unix(0, 0))
	dialer := openingDialer()

	on := HeartbeatConfig{Enabled: true, Interval: 30 * time.Second, PongTimeout: 5 * time.Second}
	c := newDuplex(loop, dialer, func(cfg *DuplexConfig) { cfg.Heartbeat = on })

	c.Start()
	loop.Drain()
	conn := dialer.Last()

	loop.Advance(30 * time.Second)
	require.Len(t, conn.Sent(), 1)

	cfg := c.Config()
	cfg.Heartbeat = HeartbeatConfig{}
	c.Update(cfg)
	assert.Equal(t, 0, loop.Pending())

	loop.Advance(35 * time.Second)
	assert.Len(t, conn.Sent(), 1)
	assert.Equal(t, models.StateConnected, c.State())
	assert.Equal(t, 0, c.Attempt())

	cfg.Heartbeat = HeartbeatConfig{Enabled: true, Interval: 10 * time.Second, PongTimeout: 5 * time.Second}
	c.Update(cfg)

	loop.Advance(10 * time.Second)
	assert.Len(t, conn.Sent(), 2)
	assert.Equal(t, 1, dialer.Count())
}

func TestDuplex_PongClearsDeadlineAndIsNotForwarded(t *testing.T) {
	loop := eventloop.NewManual(time.Unix(0, 0))
	dialer := openingDialer()

	var received []Message

	c := newDuplex(loop, dialer, func(cfg *DuplexConfig) {
		cfg.Heartbeat = HeartbeatConfig{Enabled: true, Interval: 30 * time.Second, PongTimeout: 5 * time.Second}
		cfg.OnMessage = func(m Message) { received = append(received, m) }
	})

	c.Start()
	loop.Drain()
	conn := dialer.Last()

	for i := 0; i < 3; i++ {
		next, ok := loop.NextDue()
		require.True(t, ok)
		loop.Advance(next)

		sent := conn.Sent()
		require.Len(t, sent, i+1)

		var ping pingMessage
		require.NoError(t, json.Unmarshal(sent[len(sent)-1], &ping))

		conn.ReceiveJSON(map[string]string{"type": messageTypePong, "id": ping.ID})
		loop.Advance(5 * time.Second)
		assert.Equal(t, models.StateConnected, c.State())
	}

	assert.Empty(t, received)
	assert.Equal(t, 1, dialer.Count())
}

func TestDuplex_MalformedMessagesAreDropped(t *testing.T) {
	loop := eventloop.NewManual(time.Unix(0, 0))
	dialer := openingDialer()

	var received []Message

	c := newDuplex(loop, dialer, func(cfg *DuplexConfig) {
		cfg.OnMessage = func(m Message) { received = append(received, m) }
	})

	c.Start()
	loop.Drain()

	conn := dialer.Last()
	conn.Receive([]byte("{not json"))
	conn.Receive([]byte(`"a bare string"`))
	conn.Receive([]byte(`{"type":"snapshot","data":{}}`))
	loop.Drain()

	require.Len(t, received, 1)
	assert.Equal(t, "snapshot", received[0].Type)
	assert.JSONEq(t, `{"type":"snapshot","data":{}}`, string(received[0].Payload))
	assert.Equal(t, models.StateConnected, c.State())
}

func TestDuplex_CloseSuppressesReconnect(t *testing.T) {
	loop := eventloop.NewManual(time.Unix(0, 0))
	dialer := openingDialer()

	var states []models.ConnectionState

	c := newDuplex(loop, dialer, func(cfg *DuplexConfig) {
		cfg.Heartbeat = HeartbeatConfig{Enabled: true}
		cfg.OnStateChange = func(s models.ConnectionState) { states = append(states, s) }
	})

	c.Start()
	loop.Drain()
	require.Equal(t, models.StateConnected, c.State())

	c.Close()
	states = nil

	loop.Advance(24 * time.Hour)

	assert.Equal(t, models.StateDisconnected, c.State())
	assert.Empty(t, states)
	assert.Equal(t, 1, dialer.Count())
	assert.Equal(t, 0, loop.Pending())
}

func TestDuplex_CloseCancelsPendingRetry(t *testing.T) {
	loop := eventloop.NewManual(time.Unix(0, 0))
	dialer := failingDialer()
	c := newDuplex(loop, dialer, nil)

	c.Start()
	loop.Drain()
	require.Equal(t, models.StateReconnecting, c.State())

	c.Close()
	loop.Advance(time.Hour)

	assert.Equal(t, models.StateDisconnected, c.State())
	assert.Equal(t, 1, dialer.Count())
	assert.Equal(t, 0, c.Attempt())
}

func TestDuplex_CleanRemoteCloseDoesNotRetry(t *testing.T) {
	loop := eventloop.NewManual(time.Unix(0, 0))
	dialer := openingDialer()

	var closes []models.CloseInfo

	c := newDuplex(loop, dialer, func(cfg *DuplexConfig) {
		cfg.OnClose = func(info models.CloseInfo) { closes = append(closes, info) }
	})

	c.Start()
	loop.Drain()

	dialer.Last().Shutdown()
	loop.Advance(time.Hour)

	assert.Equal(t, models.StateDisconnected, c.State())
	assert.Equal(t, 1, dialer.Count())
	require.Len(t, closes, 1)
	assert.True(t, closes[0].Clean)
}

func TestDuplex_ReconnectAfterErrorResetsCounter(t *testing.T) {
	loop := eventloop.NewManual(time.Unix(0, 0))
	dialer := failingDialer()
	c := newDuplex(loop, dialer, func(cfg *DuplexConfig) { cfg.Retry = testPolicy(1) })

	c.Start()
	loop.Drain()
	loop.Advance(time.Second)
	require.Equal(t, models.StateError, c.State())

	dialer.OnDial = nil
	c.Reconnect()

	assert.Equal(t, models.StateConnecting, c.State())
	assert.Equal(t, 0, c.Attempt())
	assert.NoError(t, c.LastError())

	dialer.Last().Open()
	loop.Drain()
	assert.Equal(t, models.StateConnected, c.State())
}

func TestDuplex_ReconnectReplacesLiveConnection(t *testing.T) {
	loop := eventloop.NewManual(time.Unix(0, 0))
	dialer := openingDialer()

	var received []Message

	c := newDuplex(loop, dialer, func(cfg *DuplexConfig) {
		cfg.OnMessage = func(m Message) { received = append(received, m) }
	})

	c.Start()
	loop.Drain()
	old := dialer.Last()

	c.Reconnect()
	loop.Drain()

	closed, _ := old.Closed()
	assert.True(t, closed)
	assert.Equal(t, 2, dialer.Count())
	assert.Equal(t, models.StateConnected, c.State())

	old.Receive([]byte(`{"type":"update"}`))
	loop.Drain()
	assert.Empty(t, received, "messages from a superseded connection are ignored")
}

func TestDuplex_UpdateTargetTearsDown(t *testing.T) {
	loop := eventloop.NewManual(time.Unix(0, 0))
	dialer := failingDialer()
	c := newDuplex(loop, dialer, nil)

	c.Start()
	loop.Drain()
	require.Equal(t, models.StateReconnecting, c.State())
	require.Equal(t, 1, loop.Pending())

	dialer.OnDial = func(conn *transporttest.DuplexConn) { conn.Open() }

	cfg := c.Config()
	cfg.URL = "ws://other.local/ws"
	c.Update(cfg)
	loop.Drain()

	assert.Equal(t, 0, loop.Pending(), "retry timer from the old target is gone")
	assert.Equal(t, 2, dialer.Count())
	assert.Equal(t, "ws://other.local/ws", dialer.Last().URL)
	assert.Equal(t, models.StateConnected, c.State())
	assert.Equal(t, 0, c.Attempt())
}

func TestDuplex_UpdateDisableStopsEverything(t *testing.T) {
	loop := eventloop.NewManual(time.Unix(0, 0))
	dialer := openingDialer()
	c := newDuplex(loop, dialer, func(cfg *DuplexConfig) {
		cfg.Heartbeat = HeartbeatConfig{Enabled: true}
	})

	c.Start()
	loop.Drain()
	require.Equal(t, 1, loop.Pending(), "heartbeat interval armed")

	cfg := c.Config()
	cfg.Enabled = false
	c.Update(cfg)
	loop.Advance(time.Hour)

	closed, _ := dialer.Last().Closed()
	assert.True(t, closed)
	assert.Equal(t, models.StateDisconnected, c.State())
	assert.Equal(t, 0, loop.Pending())
	assert.Equal(t, 1, dialer.Count())
	assert.ErrorIs(t, c.Connect(), ErrDisabled)
}

func TestDuplex_PendingRetryUsesLatestConfig(t *testing.T) {
	loop := eventloop.NewManual(time.Unix(0, 0))
	dialer := failingDialer()

	var oldHits, newHits int

	c := newDuplex(loop, dialer, func(cfg *DuplexConfig) {
		cfg.OnMessage = func(Message) { oldHits++ }
	})

	c.Start()
	loop.Drain()
	require.Equal(t, models.StateReconnecting, c.State())

	cfg := c.Config()
	cfg.OnMessage = func(Message) { newHits++ }
	c.Update(cfg)
	require.Equal(t, 1, loop.Pending(), "same target keeps the pending retry")

	dialer.OnDial = func(conn *transporttest.DuplexConn) { conn.Open() }
	loop.Advance(time.Second)

	dialer.Last().Receive([]byte(`{"type":"snapshot"}`))
	loop.Drain()

	assert.Equal(t, 0, oldHits)
	assert.Equal(t, 1, newHits)
}

func TestDuplex_NoTarget(t *testing.T) {
	loop := eventloop.NewManual(time.Unix(0, 0))
	dialer := &transporttest.Dialer{}
	c := newDuplex(loop, dialer, func(cfg *DuplexConfig) { cfg.URL = "" })

	c.Start()
	loop.Drain()

	assert.ErrorIs(t, c.Connect(), ErrNoTarget)
	assert.Equal(t, models.StateDisconnected, c.State())
	assert.Equal(t, 0, dialer.Count())
}
