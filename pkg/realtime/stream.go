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

	"github.com/google/uuid"

	"github.com/carverauto/fleetwatch/pkg/eventloop"
	"github.com/carverauto/fleetwatch/pkg/logger"
	"github.com/carverauto/fleetwatch/pkg/models"
	"github.com/carverauto/fleetwatch/pkg/transport"
)

// StreamEvent is a parsed server-pushed event. Type comes from the payload's "type"
// field, or from the transport event name when the payload has none.
type StreamEvent struct {
	Type    string
	ID      string
	Payload json.RawMessage
}

// StreamConfig configures a StreamController.
type StreamConfig struct {
	URL     string
	Enabled bool
	Retry   RetryPolicy

	OnEvent       func(StreamEvent)
	OnOpen        func()
	OnClose       func(models.CloseInfo)
	OnError       func(error)
	OnStateChange func(models.ConnectionState)
}

// StreamController owns one logical server-push-only connection. Server heartbeats
// are forwarded like any other event.
type StreamController struct {
	lifecycle

	opener transport.StreamOpener
	cfg    StreamConfig
	conn   transport.StreamConn
	connID string
}

// NewStreamController builds an idle controller. Call Start to connect.
func NewStreamController(loop eventloop.Loop, opener transport.StreamOpener, cfg StreamConfig, log logger.Logger) *StreamController {
	c := &StreamController{
		lifecycle: newLifecycle(loop, log.WithComponent("stream"), kindStream, cfg.Retry),
		opener:    opener,
	}

	c.apply(cfg)

	return c
}

func (c *StreamController) apply(cfg StreamConfig) {
	c.cfg = cfg
	c.policy = cfg.Retry
	c.onStateChange = cfg.OnStateChange
	c.onError = cfg.OnError
	c.connect.Set(c.open)
}

// Start connects if the controller is enabled and has a target.
func (c *StreamController) Start() {
	if c.cfg.Enabled && c.cfg.URL != "" {
		c.open()
	}
}

// Connect opens the stream unless it is already open or opening.
func (c *StreamController) Connect() error {
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

	c.open()

	return nil
}

// Close closes the stream and suppresses automatic reconnection.
func (c *StreamController) Close() {
	c.manuallyClosed = true
	c.cancelRetry()
	c.dropConn()
	c.resetRetries()
	c.setState(models.StateDisconnected)
}

// Reconnect resets the retry counter and opens a fresh stream.
func (c *StreamController) Reconnect() {
	c.manuallyClosed = false
	c.cancelRetry()
	c.dropConn()
	c.resetRetries()

	if !c.cfg.Enabled || c.cfg.URL == "" {
		c.setState(models.StateDisconnected)
		return
	}

	c.open()
}

// Update applies a new configuration, reopening the stream when the URL or Enabled
// flag changed.
func (c *StreamController) Update(cfg StreamConfig) {
	restart := cfg.URL != c.cfg.URL || cfg.Enabled != c.cfg.Enabled

	c.apply(cfg)

	if !restart {
		return
	}

	c.teardown()
	c.Start()
}

// Stop tears the controller down.
func (c *StreamController) Stop() {
	c.teardown()
}

func (c *StreamController) teardown() {
	c.cancelRetry()
	c.dropConn()
	c.manuallyClosed = false
	c.resetRetries()
	c.setState(models.StateDisconnected)
}

func (c *StreamController) open() {
	if !c.cfg.Enabled || c.cfg.URL == "" {
		return
	}

	c.cancelRetry()
	c.dropConn()

	c.gen++
	c.connID = uuid.NewString()
	c.setState(models.StateConnecting)
	recordConnectionAttempt(kindStream)

	c.logger.Debug().
		Str("url", c.cfg.URL).
		Str("conn_id", c.connID).
		Int("attempt", c.attempt).
		Msg("Opening stream")

	c.conn = c.opener.Open(c.cfg.URL, &streamHandler{c: c, gen: c.gen})
}

func (c *StreamController) dropConn() {
	c.gen++

	if c.conn == nil {
		return
	}

	conn := c.conn
	c.conn = nil
	conn.Close()
}

func (c *StreamController) handleOpen() {
	c.logger.Info().Str("url", c.cfg.URL).Str("conn_id", c.connID).Msg("Stream open")
	c.opened()

	if c.cfg.OnOpen != nil {
		c.cfg.OnOpen()
	}
}

func (c *StreamController) handleEvent(ev transport.Event) {
	out := StreamEvent{Type: ev.Type, ID: ev.ID}

	if len(ev.Data) > 0 {
		var env envelope
		if err := json.Unmarshal(ev.Data, &env); err != nil {
			recordDroppedMessage(kindStream, dropReasonMalformed)
			c.logger.Warn().
				Err(err).
				Str("event_type", ev.Type).
				Int("bytes", len(ev.Data)).
				Msg("Dropping malformed event")

			return
		}

		if env.Type != "" {
			out.Type = env.Type
		}

		out.Payload = json.RawMessage(ev.Data)
	}

	if out.Type == "" && out.Payload == nil {
		recordDroppedMessage(kindStream, dropReasonEmptyEventFrame)
		return
	}

	if c.cfg.OnEvent != nil {
		c.cfg.OnEvent(out)
	}
}

func (c *StreamController) handleClose(info models.CloseInfo) {
	c.conn = nil

	if c.cfg.OnClose != nil {
		c.cfg.OnClose(info)
	}

	c.closed(info)
}

type streamHandler struct {
	c   *StreamController
	gen uint64
}

func (h *streamHandler) OnOpen() {
	h.c.loop.Post(func() {
		if h.gen == h.c.gen {
			h.c.handleOpen()
		}
	})
}

func (h *streamHandler) OnEvent(ev transport.Event) {
	h.c.loop.Post(func() {
		if h.gen == h.c.gen {
			h.c.handleEvent(ev)
		}
	})
}

func (h *streamHandler) OnClose(info models.CloseInfo) {
	h.c.loop.Post(func() {
		if h.gen == h.c.gen {
			h.c.handleClose(info)
		}
	})
}
