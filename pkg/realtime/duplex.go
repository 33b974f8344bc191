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
	"time"

	"github.com/google/uuid"

	"github.com/carverauto/fleetwatch/pkg/eventloop"
	"github.com/carverauto/fleetwatch/pkg/logger"
	"github.com/carverauto/fleetwatch/pkg/models"
	"github.com/carverauto/fleetwatch/pkg/transport"
)

const (
	defaultHeartbeatInterval = 30 * time.Second
	defaultPongTimeout       = 5 * time.Second

	messageTypePing = "ping"
	messageTypePong = "pong"
)

// HeartbeatConfig controls the ping/pong liveness probe of a duplex connection.
type HeartbeatConfig struct {
	Enabled     bool
	Interval    time.Duration
	PongTimeout time.Duration
}

func (h HeartbeatConfig) withDefaults() HeartbeatConfig {
	if h.Interval <= 0 {
		h.Interval = defaultHeartbeatInterval
	}

	if h.PongTimeout <= 0 {
		h.PongTimeout = defaultPongTimeout
	}

	return h
}

// Message is a parsed inbound duplex message.
type Message struct {
	Type    string
	ID      string
	Payload json.RawMessage
}

type envelope struct {
	Type string `json:"type"`
	ID   string `json:"id,omitempty"`
}

type pingMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
}

// DuplexConfig configures a DuplexController. An empty URL or Enabled=false keeps the
// controller idle.
type DuplexConfig struct {
	URL       string
	Enabled   bool
	Retry     RetryPolicy
	Heartbeat HeartbeatConfig

	OnMessage     func(Message)
	OnOpen        func()
	OnClose       func(models.CloseInfo)
	OnError       func(error)
	OnStateChange func(models.ConnectionState)
}

// DuplexController owns one logical bidirectional push connection.
type DuplexController struct {
	lifecycle

	dialer transport.Dialer
	cfg    DuplexConfig
	conn   transport.DuplexConn
	connID string

	heartbeatTimer eventloop.Timer
	pongTimer      eventloop.Timer
	pendingPing    string
}

// NewDuplexController builds an idle controller. Call Start to connect.
func NewDuplexController(loop eventloop.Loop, dialer transport.Dialer, cfg DuplexConfig, log logger.Logger) *DuplexController {
	c := &DuplexController{
		lifecycle: newLifecycle(loop, log.WithComponent("duplex"), kindDuplex, cfg.Retry),
		dialer:    dialer,
	}

	c.apply(cfg)

	return c
}

func (c *DuplexController) apply(cfg DuplexConfig) {
	cfg.Heartbeat = cfg.Heartbeat.withDefaults()
	c.cfg = cfg
	c.policy = cfg.Retry
	c.onStateChange = cfg.OnStateChange
	c.onError = cfg.OnError
	c.connect.Set(c.dial)
}

// Start connects if the controller is enabled and has a target.
func (c *DuplexController) Start() {
	if c.cfg.Enabled && c.cfg.URL != "" {
		c.dial()
	}
}

// Connect opens the connection unless one is already open or opening, and lifts a
// previous manual close.
func (c *DuplexController) Connect() error {
	if c.cfg.URL == "" {
		return ErrNoTarget
	}

	if !c.cfg.Enabled {
		return ErrDisabled
	}

	c.manuallyClosed = false

	if c.state == models.StateConnected || c.state == models.StateConnecting {
		return nil
	}

	c.dial()

	return nil
}

// Send marshals payload (raw bytes are sent as-is) and writes it to the connection.
// It returns false when the controller is not connected or the write fails.
func (c *DuplexController) Send(payload interface{}) bool {
	if c.state != models.StateConnected || c.conn == nil {
		return false
	}

	var data []byte

	switch p := payload.(type) {
	case []byte:
		data = p
	case json.RawMessage:
		data = p
	case string:
		data = []byte(p)
	default:
		b, err := json.Marshal(p)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Failed to encode outbound message")
			return false
		}

		data = b
	}

	if err := c.conn.Send(data); err != nil {
		c.logger.Warn().Err(err).Str("conn_id", c.connID).Msg("Failed to send message")
		return false
	}

	return true
}

// Close closes the connection and suppresses automatic reconnection until Connect
// or Reconnect is called.
func (c *DuplexController) Close() {
	c.manuallyClosed = true
	c.cancelRetry()
	c.stopHeartbeat()
	c.dropConn(models.CloseNormal, "client closed")
	c.resetRetries()
	c.setState(models.StateDisconnected)
}

// Reconnect resets the retry counter and starts a fresh connection regardless of
// the current state.
func (c *DuplexController) Reconnect() {
	c.manuallyClosed = false
	c.cancelRetry()
	c.stopHeartbeat()
	c.dropConn(models.CloseNormal, "reconnect requested")
	c.resetRetries()

	if !c.cfg.Enabled || c.cfg.URL == "" {
		c.setState(models.StateDisconnected)
		return
	}

	c.dial()
}

// Update applies a new configuration. A changed URL or Enabled flag tears the current
// connection down and, when still enabled, connects to the new target. A changed
// heartbeat restarts the liveness check of an open connection. Other changes apply
// to the next retry or connection.
func (c *DuplexController) Update(cfg DuplexConfig) {
	restart := cfg.URL != c.cfg.URL || cfg.Enabled != c.cfg.Enabled
	heartbeat := cfg.Heartbeat.withDefaults() != c.cfg.Heartbeat

	c.apply(cfg)

	if !restart {
		if heartbeat && c.state == models.StateConnected {
			c.stopHeartbeat()
			c.startHeartbeat()
		}

		return
	}

	c.teardown()
	c.Start()
}

// Stop tears the controller down: timers first, then the connection, then the manual
// close flag. The controller can be started again.
func (c *DuplexController) Stop() {
	c.teardown()
}

// Config returns the active configuration.
func (c *DuplexController) Config() DuplexConfig {
	return c.cfg
}

func (c *DuplexController) teardown() {
	c.cancelRetry()
	c.stopHeartbeat()
	c.dropConn(models.CloseGoingAway, "controller stopped")
	c.manuallyClosed = false
	c.resetRetries()
	c.setState(models.StateDisconnected)
}

func (c *DuplexController) dial() {
	if !c.cfg.Enabled || c.cfg.URL == "" {
		return
	}

	c.cancelRetry()
	c.stopHeartbeat()
	c.dropConn(models.CloseNormal, "superseded")

	c.gen++
	c.connID = uuid.NewString()
	c.setState(models.StateConnecting)
	recordConnectionAttempt(kindDuplex)

	c.logger.Debug().
		Str("url", c.cfg.URL).
		Str("conn_id", c.connID).
		Int("attempt", c.attempt).
		Msg("Dialing")

	c.conn = c.dialer.Dial(c.cfg.URL, &duplexHandler{c: c, gen: c.gen})
}

// dropConn closes the current connection and invalidates its pending callbacks.
func (c *DuplexController) dropConn(code int, reason string) {
	c.gen++

	if c.conn == nil {
		return
	}

	conn := c.conn
	c.conn = nil
	conn.Close(code, reason)
}

func (c *DuplexController) handleOpen() {
	c.logger.Info().Str("url", c.cfg.URL).Str("conn_id", c.connID).Msg("Connected")
	c.opened()
	c.startHeartbeat()

	if c.cfg.OnOpen != nil {
		c.cfg.OnOpen()
	}
}

func (c *DuplexController) handleMessage(data []byte) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		recordDroppedMessage(kindDuplex, dropReasonMalformed)
		c.logger.Warn().Err(err).Int("bytes", len(data)).Msg("Dropping malformed message")

		return
	}

	if env.Type == messageTypePong {
		c.handlePong(env.ID)
		return
	}

	if c.cfg.OnMessage != nil {
		c.cfg.OnMessage(Message{Type: env.Type, ID: env.ID, Payload: json.RawMessage(data)})
	}
}

func (c *DuplexController) handleClose(info models.CloseInfo) {
	c.conn = nil
	c.stopHeartbeat()

	if c.cfg.OnClose != nil {
		c.cfg.OnClose(info)
	}

	c.closed(info)
}

func (c *DuplexController) startHeartbeat() {
	if !c.cfg.Heartbeat.Enabled {
		return
	}

	c.heartbeatTimer = c.loop.AfterFunc(c.cfg.Heartbeat.Interval, c.heartbeatTick)
}

func (c *DuplexController) stopHeartbeat() {
	if c.heartbeatTimer != nil {
		c.heartbeatTimer.Stop()
		c.heartbeatTimer = nil
	}

	if c.pongTimer != nil {
		c.pongTimer.Stop()
		c.pongTimer = nil
	}

	c.pendingPing = ""
}

func (c *DuplexController) heartbeatTick() {
	c.heartbeatTimer = nil

	if c.state != models.StateConnected {
		return
	}

	if !c.cfg.Heartbeat.Enabled {
		c.stopHeartbeat()
		return
	}

	id := uuid.NewString()
	ping := pingMessage{Type: messageTypePing, ID: id, Timestamp: c.loop.Now().UnixMilli()}

	// an outstanding deadline is kept so a silent peer is detected on schedule
	if c.Send(ping) && c.pongTimer == nil {
		c.pendingPing = id
		c.pongTimer = c.loop.AfterFunc(c.cfg.Heartbeat.PongTimeout, c.pongDeadline)
	}

	c.heartbeatTimer = c.loop.AfterFunc(c.cfg.Heartbeat.Interval, c.heartbeatTick)
}

func (c *DuplexController) handlePong(id string) {
	if c.pongTimer == nil {
		return
	}

	if id != "" && id != c.pendingPing {
		c.logger.Debug().Str("pong_id", id).Str("ping_id", c.pendingPing).Msg("Pong id mismatch")
	}

	c.pongTimer.Stop()
	c.pongTimer = nil
	c.pendingPing = ""
}

func (c *DuplexController) pongDeadline() {
	c.pongTimer = nil

	recordHeartbeatTimeout()
	c.logger.Warn().
		Str("conn_id", c.connID).
		Str("ping_id", c.pendingPing).
		Dur("timeout", c.cfg.Heartbeat.PongTimeout).
		Msg("Pong not received, forcing reconnect")

	c.stopHeartbeat()
	c.dropConn(models.CloseHeartbeatTimeout, "heartbeat timeout")
	c.handleClose(models.CloseInfo{Code: models.CloseHeartbeatTimeout, Reason: "heartbeat timeout"})
}

// duplexHandler moves transport callbacks onto the loop and filters out callbacks
// from superseded connections.
type duplexHandler struct {
	c   *DuplexController
	gen uint64
}

func (h *duplexHandler) OnOpen() {
	h.c.loop.Post(func() {
		if h.gen == h.c.gen {
			h.c.handleOpen()
		}
	})
}

func (h *duplexHandler) OnMessage(data []byte) {
	h.c.loop.Post(func() {
		if h.gen == h.c.gen {
			h.c.handleMessage(data)
		}
	})
}

func (h *duplexHandler) OnClose(info models.CloseInfo) {
	h.c.loop.Post(func() {
		if h.gen == h.c.gen {
			h.c.handleClose(info)
		}
	})
}
