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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carverauto/fleetwatch/pkg/eventloop"
	"github.com/carverauto/fleetwatch/pkg/logger"
	"github.com/carverauto/fleetwatch/pkg/models"
	"github.com/carverauto/fleetwatch/pkg/transport"
	"github.com/carverauto/fleetwatch/pkg/transport/transporttest"
)

const testStreamURL = "http://gateway.local/api/provisioning/sessions/s1/events"

func newStream(loop eventloop.Loop, opener *transporttest.Opener, mutate func(*StreamConfig)) *StreamController {
	cfg := StreamConfig{
		URL:     testStreamURL,
		Enabled: true,
		Retry:   testPolicy(3),
	}

	if mutate != nil {
		mutate(&cfg)
	}

	return NewStreamController(loop, opener, cfg, logger.NewTestLogger())
}

func TestStream_ForwardsEventsVerbatim(t *testing.T) {
	loop := eventloop.NewManual(time.Unix(0, 0))
	opener := &transporttest.Opener{OnOpen: func(s *transporttest.Stream) { s.Open() }}

	var events []StreamEvent

	c := newStream(loop, opener, func(cfg *StreamConfig) {
		cfg.OnEvent = func(ev StreamEvent) { events = append(events, ev) }
	})

	c.Start()
	loop.Drain()
	require.Equal(t, models.StateConnected, c.State())

	s := opener.Last()
	s.EmitJSON("", map[string]string{"type": "heartbeat"})
	s.Emit(transport.Event{Type: "connected", ID: "7"})
	s.EmitJSON("message", map[string]interface{}{"type": "device_discovered", "data": map[string]string{"id": "AA"}})
	s.EmitJSON("session_status", map[string]string{"status": "active"})
	loop.Drain()

	require.Len(t, events, 4)
	assert.Equal(t, "heartbeat", events[0].Type)
	assert.Equal(t, "connected", events[1].Type)
	assert.Equal(t, "7", events[1].ID)
	assert.Nil(t, events[1].Payload)
	assert.Equal(t, "device_discovered", events[2].Type, "payload type wins over transport name")
	assert.JSONEq(t, `{"type":"device_discovered","data":{"id":"AA"}}`, string(events[2].Payload))
	assert.Equal(t, "session_status", events[3].Type)
}

func TestStream_MalformedEventsAreDropped(t *testing.T) {
	loop := eventloop.NewManual(time.Unix(0, 0))
	opener := &transporttest.Opener{OnOpen: func(s *transporttest.Stream) { s.Open() }}

	var events []StreamEvent

	c := newStream(loop, opener, func(cfg *StreamConfig) {
		cfg.OnEvent = func(ev StreamEvent) { events = append(events, ev) }
	})

	c.Start()
	loop.Drain()

	s := opener.Last()
	s.Emit(transport.Event{Data: []byte("{{{")})
	s.Emit(transport.Event{})
	s.EmitJSON("", map[string]string{"type": "network_status"})
	loop.Drain()

	require.Len(t, events, 1)
	assert.Equal(t, "network_status", events[0].Type)
	assert.Equal(t, models.StateConnected, c.State())
}

func TestStream_ExhaustsRetries(t *testing.T) {
	loop := eventloop.NewManual(time.Unix(0, 0))
	opener := &transporttest.Opener{OnOpen: func(s *transporttest.Stream) { s.Fail() }}

	var states []models.ConnectionState

	c := newStream(loop, opener, func(cfg *StreamConfig) {
		cfg.OnStateChange = func(s models.ConnectionState) { states = append(states, s) }
	})

	c.Start()
	loop.Advance(time.Minute)

	assert.Equal(t, models.StateError, c.State())
	assert.Equal(t, 4, opener.Count())
	assert.ErrorIs(t, c.LastError(), ErrRetriesExhausted)
	assert.Equal(t, models.StateError, states[len(states)-1])
	assert.Equal(t, 0, loop.Pending())
}

func TestStream_CloseSuppressesReconnect(t *testing.T) {
	loop := eventloop.NewManual(time.Unix(0, 0))
	opener := &transporttest.Opener{OnOpen: func(s *transporttest.Stream) { s.Open() }}
	c := newStream(loop, opener, nil)

	c.Start()
	loop.Drain()

	s := opener.Last()
	c.Close()
	assert.True(t, s.Closed())

	s.Fail()
	loop.Advance(time.Hour)

	assert.Equal(t, models.StateDisconnected, c.State())
	assert.Equal(t, 1, opener.Count())
}

func TestStream_ReconnectsAfterAbnormalEnd(t *testing.T) {
	loop := eventloop.NewManual(time.Unix(0, 0))
	opener := &transporttest.Opener{OnOpen: func(s *transporttest.Stream) { s.Open() }}
	c := newStream(loop, opener, nil)

	c.Start()
	loop.Drain()

	opener.Last().Fail()
	loop.Drain()
	assert.Equal(t, models.StateReconnecting, c.State())
	assert.Equal(t, 1, c.Attempt())

	loop.Advance(time.Second)
	assert.Equal(t, models.StateConnected, c.State())
	assert.Equal(t, 0, c.Attempt())
	assert.Equal(t, 2, opener.Count())
}

func TestStream_UpdateTargetReopens(t *testing.T) {
	loop := eventloop.NewManual(time.Unix(0, 0))
	opener := &transporttest.Opener{OnOpen: func(s *transporttest.Stream) { s.Open() }}

	var events []StreamEvent

	c := newStream(loop, opener, func(cfg *StreamConfig) {
		cfg.OnEvent = func(ev StreamEvent) { events = append(events, ev) }
	})

	c.Start()
	loop.Drain()
	old := opener.Last()

	c.Update(StreamConfig{
		URL:     "http://gateway.local/api/provisioning/sessions/s2/events",
		Enabled: true,
		Retry:   testPolicy(3),
		OnEvent: func(ev StreamEvent) { events = append(events, ev) },
	})
	loop.Drain()

	assert.True(t, old.Closed())
	assert.Equal(t, 2, opener.Count())
	assert.Contains(t, opener.Last().URL, "/s2/")

	old.EmitJSON("", map[string]string{"type": "device_discovered"})
	loop.Drain()
	assert.Empty(t, events)
}
