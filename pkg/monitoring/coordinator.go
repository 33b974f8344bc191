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

// Package monitoring keeps a MonitoringSnapshot up to date from the gateway, preferring
// the websocket push feed and falling back to interval polling of the REST API.
package monitoring

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/carverauto/fleetwatch/pkg/eventloop"
	"github.com/carverauto/fleetwatch/pkg/logger"
	"github.com/carverauto/fleetwatch/pkg/models"
	"github.com/carverauto/fleetwatch/pkg/realtime"
	"github.com/carverauto/fleetwatch/pkg/transport"
)

const (
	defaultFallbackDelay  = 3 * time.Second
	defaultPollInterval   = 30 * time.Second
	defaultRequestTimeout = 10 * time.Second

	reasonFallbackTimeout   = "fallback_timeout"
	reasonRetriesExhausted  = "retries_exhausted"
	reasonRealtimeConnected = "realtime_connected"
	reasonManual            = "manual"
	reasonStopped           = "stopped"
	reasonPollingOnly       = "polling_only"
)

var (
	// ErrCoordinatorDisabled is returned by manual transport operations while the
	// coordinator is disabled.
	ErrCoordinatorDisabled = errors.New("monitoring coordinator is disabled")
	// ErrRealtimeUnavailable is returned by SwitchToRealtime when no push target is configured.
	ErrRealtimeUnavailable = errors.New("realtime transport not configured")
)

// Config configures a Coordinator. Realtime carries the push target, retry policy and
// heartbeat settings; its callbacks are owned by the coordinator and ignored.
type Config struct {
	Enabled        bool
	PreferRealtime bool
	FallbackDelay  time.Duration
	PollInterval   time.Duration
	RequestTimeout time.Duration
	Realtime       realtime.DuplexConfig
	// Initial seeds the snapshot before any transport delivers data.
	Initial *models.MonitoringSnapshot
}

func (c Config) withDefaults() Config {
	if c.FallbackDelay <= 0 {
		c.FallbackDelay = defaultFallbackDelay
	}

	if c.PollInterval <= 0 {
		c.PollInterval = defaultPollInterval
	}

	if c.RequestTimeout <= 0 {
		c.RequestTimeout = defaultRequestTimeout
	}

	return c
}

// Status is the loading/refreshing/error triple of the active transport.
type Status struct {
	Loading    bool   `json:"loading"`
	Refreshing bool   `json:"refreshing"`
	Error      string `json:"error,omitempty"`
}

// View is a point-in-time copy of the coordinator's public state.
type View struct {
	Snapshot      *models.MonitoringSnapshot `json:"snapshot"`
	Mode          models.TransportMode       `json:"transport_mode"`
	RealtimeState models.ConnectionState     `json:"realtime_state"`
	Status
}

// Coordinator produces one continuously updated MonitoringSnapshot. Only one transport
// feeds the snapshot at a time. All methods must be called on the event loop.
type Coordinator struct {
	loop    eventloop.Loop
	fetcher Fetcher
	cfg     Config
	logger  logger.Logger

	duplex *realtime.DuplexController

	enabled  bool
	mode     models.TransportMode
	snapshot *models.MonitoringSnapshot

	fallbackTimer eventloop.Timer
	// expectFull marks the next push message of the current connection as a full snapshot.
	expectFull bool

	pollTimer   eventloop.Timer
	fetching    bool
	fetchGen    uint64
	cancelFetch context.CancelFunc
	pollErr     error

	listeners []func(View)
}

// NewCoordinator builds an inactive coordinator. Call Start to activate it.
func NewCoordinator(loop eventloop.Loop, dialer transport.Dialer, fetcher Fetcher, cfg Config, log logger.Logger) *Coordinator {
	cfg = cfg.withDefaults()

	c := &Coordinator{
		loop:     loop,
		fetcher:  fetcher,
		cfg:      cfg,
		logger:   log.WithComponent("monitoring"),
		mode:     models.TransportNone,
		snapshot: cfg.Initial,
	}

	dcfg := cfg.Realtime
	dcfg.OnStateChange = c.handleRealtimeState
	dcfg.OnOpen = c.handleRealtimeOpen
	dcfg.OnMessage = c.handleRealtimeMessage
	dcfg.OnClose = nil
	dcfg.OnError = nil

	c.duplex = realtime.NewDuplexController(loop, dialer, dcfg, log)

	return c
}

// OnUpdate registers fn to be called with a fresh View after every change.
func (c *Coordinator) OnUpdate(fn func(View)) {
	c.listeners = append(c.listeners, fn)
}

// Start activates the coordinator if it is enabled.
func (c *Coordinator) Start() {
	c.enabled = c.cfg.Enabled
	if !c.enabled {
		return
	}

	c.activate()
}

// Stop deactivates both transports. The last snapshot is kept. Manual operations
// report ErrCoordinatorDisabled until Start or SetEnabled(true).
func (c *Coordinator) Stop() {
	c.enabled = false
	c.deactivate(reasonStopped)
}

// SetEnabled suspends (false) or resumes (true) the coordinator, e.g. while the
// dashboard is not visible. Resuming starts over with the preferred transport.
func (c *Coordinator) SetEnabled(enabled bool) {
	if enabled == c.enabled {
		return
	}

	c.enabled = enabled

	if !enabled {
		c.deactivate(reasonStopped)
		return
	}

	c.activate()
}

// Enabled reports whether the coordinator is active.
func (c *Coordinator) Enabled() bool {
	return c.enabled
}

// Mode returns the active transport.
func (c *Coordinator) Mode() models.TransportMode {
	return c.mode
}

// Snapshot returns the current snapshot. Callers must treat it as read-only.
func (c *Coordinator) Snapshot() *models.MonitoringSnapshot {
	return c.snapshot
}

// Status derives the loading/refreshing/error triple from the active transport.
func (c *Coordinator) Status() Status {
	var s Status

	switch c.mode {
	case models.TransportRealtime:
		s.Loading = c.snapshot == nil
		s.Refreshing = c.snapshot != nil && c.duplex.State() != models.StateConnected

		if err := c.duplex.LastError(); err != nil {
			s.Error = err.Error()
		}
	case models.TransportPolling:
		s.Loading = c.fetching && c.snapshot == nil
		s.Refreshing = c.fetching && c.snapshot != nil

		if c.pollErr != nil {
			s.Error = c.pollErr.Error()
		}
	case models.TransportNone:
		s.Loading = c.fallbackTimer != nil && c.snapshot == nil
	}

	return s
}

// View returns a copy of the public state.
func (c *Coordinator) View() View {
	return View{
		Snapshot:      c.snapshot,
		Mode:          c.mode,
		RealtimeState: c.duplex.State(),
		Status:        c.Status(),
	}
}

// Refresh delegates to the active transport: the push connection is re-established,
// the polling path fetches immediately.
func (c *Coordinator) Refresh() error {
	if !c.enabled {
		return ErrCoordinatorDisabled
	}

	switch c.mode {
	case models.TransportPolling:
		c.stopPollTimer()
		c.poll()
	case models.TransportRealtime, models.TransportNone:
		c.duplex.Reconnect()
	}

	return nil
}

// SwitchToPolling abandons the push transport and starts polling.
func (c *Coordinator) SwitchToPolling() error {
	if !c.enabled {
		return ErrCoordinatorDisabled
	}

	if c.mode == models.TransportPolling {
		return nil
	}

	c.startPolling(reasonManual)

	return nil
}

// SwitchToRealtime stops polling and retries the push transport, falling back again if
// it does not connect within the fallback delay.
func (c *Coordinator) SwitchToRealtime() error {
	if !c.enabled {
		return ErrCoordinatorDisabled
	}

	if !c.realtimeConfigured() {
		return ErrRealtimeUnavailable
	}

	if c.mode == models.TransportRealtime {
		return nil
	}

	c.stopPolling()
	c.startRealtime()

	return nil
}

func (c *Coordinator) realtimeConfigured() bool {
	return c.cfg.Realtime.Enabled && c.cfg.Realtime.URL != ""
}

func (c *Coordinator) activate() {
	if c.cfg.PreferRealtime && c.realtimeConfigured() {
		c.startRealtime()
		return
	}

	c.startPolling(reasonPollingOnly)
}

func (c *Coordinator) deactivate(reason string) {
	c.cancelFallback()
	c.duplex.Stop()
	c.stopPolling()
	c.setMode(models.TransportNone, reason)
	c.notify()
}

// startRealtime dials the push transport and arms the fallback timer. The mode stays
// none until the connection opens.
func (c *Coordinator) startRealtime() {
	c.cancelFallback()
	c.setMode(models.TransportNone, reasonManual)

	c.fallbackTimer = c.loop.AfterFunc(c.cfg.FallbackDelay, c.fallbackExpired)
	c.duplex.Reconnect()

	c.notify()
}

func (c *Coordinator) fallbackExpired() {
	c.fallbackTimer = nil

	if c.mode != models.TransportNone || !c.enabled {
		return
	}

	c.logger.Warn().
		Dur("fallback_delay", c.cfg.FallbackDelay).
		Str("realtime_state", string(c.duplex.State())).
		Msg("Realtime feed did not connect in time, falling back to polling")

	c.startPolling(reasonFallbackTimeout)
}

func (c *Coordinator) cancelFallback() {
	if c.fallbackTimer != nil {
		c.fallbackTimer.Stop()
		c.fallbackTimer = nil
	}
}

func (c *Coordinator) handleRealtimeState(state models.ConnectionState) {
	switch state {
	case models.StateConnected:
		if c.mode == models.TransportNone && c.enabled {
			c.cancelFallback()
			c.setMode(models.TransportRealtime, reasonRealtimeConnected)
		}
	case models.StateError:
		if c.mode == models.TransportPolling || !c.enabled {
			break
		}

		// defer the switch until the controller has finished reporting the failure
		c.loop.Post(func() {
			if c.mode == models.TransportPolling || !c.enabled || c.duplex.State() != models.StateError {
				return
			}

			c.logger.Warn().Err(c.duplex.LastError()).Msg("Realtime feed gave up, falling back to polling")
			c.startPolling(reasonRetriesExhausted)
		})
	case models.StateDisconnected, models.StateConnecting, models.StateReconnecting:
	}

	c.notify()
}

func (c *Coordinator) handleRealtimeOpen() {
	c.expectFull = true
}

func (c *Coordinator) handleRealtimeMessage(msg realtime.Message) {
	if c.mode != models.TransportRealtime {
		return
	}

	var m models.MonitoringMessage
	if err := json.Unmarshal(msg.Payload, &m); err != nil {
		c.logger.Warn().Err(err).Str("message_type", msg.Type).Msg("Dropping undecodable monitoring message")
		return
	}

	if m.Type != models.MonitoringMessageSnapshot && !m.IsPartial() {
		c.logger.Debug().Str("message_type", m.Type).Msg("Ignoring monitoring message")
		return
	}

	if len(m.Data) == 0 {
		c.logger.Warn().Str("message_type", m.Type).Msg("Dropping monitoring message without data")
		return
	}

	var data models.MonitoringSnapshot
	if err := json.Unmarshal(m.Data, &data); err != nil {
		c.logger.Warn().Err(err).Str("message_type", m.Type).Msg("Dropping malformed monitoring snapshot")
		return
	}

	if data.UpdatedAt.IsZero() {
		data.UpdatedAt = m.Timestamp
	}

	if data.UpdatedAt.IsZero() {
		data.UpdatedAt = c.loop.Now()
	}

	if c.expectFull || !m.IsPartial() {
		c.expectFull = false
		c.snapshot = &data
	} else {
		c.snapshot = c.snapshot.Merge(&data)
	}

	c.notify()
}

func (c *Coordinator) startPolling(reason string) {
	c.cancelFallback()
	c.duplex.Stop()
	c.stopPolling()
	c.pollErr = nil
	c.setMode(models.TransportPolling, reason)
	c.poll()
}

// poll starts a fetch unless one is in flight. The next poll is scheduled once the
// fetch completes.
func (c *Coordinator) poll() {
	c.pollTimer = nil

	if c.mode != models.TransportPolling || c.fetching {
		return
	}

	c.fetchGen++
	gen := c.fetchGen

	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.RequestTimeout)
	c.cancelFetch = cancel
	c.fetching = true

	fetcher := c.fetcher

	c.loop.Background(func() {
		snapshot, err := fetcher.Fetch(ctx)
		cancel()

		c.loop.Post(func() {
			c.fetched(gen, snapshot, err)
		})
	})

	c.notify()
}

func (c *Coordinator) fetched(gen uint64, snapshot *models.MonitoringSnapshot, err error) {
	if gen != c.fetchGen || c.mode != models.TransportPolling {
		return
	}

	c.fetching = false
	c.cancelFetch = nil

	switch {
	case err != nil:
		c.pollErr = err
		recordPollFailure()
		c.logger.Warn().Err(err).Msg("Snapshot poll failed")
	case snapshot == nil:
		c.pollErr = ErrEmptySnapshot
		recordPollFailure()
	default:
		c.pollErr = nil

		next := *snapshot
		if next.UpdatedAt.IsZero() {
			next.UpdatedAt = c.loop.Now()
		}

		c.snapshot = &next
	}

	c.pollTimer = c.loop.AfterFunc(c.cfg.PollInterval, c.poll)

	c.notify()
}

func (c *Coordinator) stopPollTimer() {
	if c.pollTimer != nil {
		c.pollTimer.Stop()
		c.pollTimer = nil
	}
}

func (c *Coordinator) stopPolling() {
	c.stopPollTimer()

	c.fetchGen++

	if c.cancelFetch != nil {
		c.cancelFetch()
		c.cancelFetch = nil
	}

	c.fetching = false
}

func (c *Coordinator) setMode(mode models.TransportMode, reason string) {
	if c.mode == mode {
		return
	}

	c.logger.Info().
		Str("from", string(c.mode)).
		Str("to", string(mode)).
		Str("reason", reason).
		Msg("Monitoring transport changed")

	c.mode = mode
	recordTransportSwitch(string(mode), reason)
}

func (c *Coordinator) notify() {
	if len(c.listeners) == 0 {
		return
	}

	v := c.View()
	for _, fn := range c.listeners {
		fn(v)
	}
}
