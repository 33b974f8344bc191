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

package transport

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/carverauto/fleetwatch/pkg/logger"
	"github.com/carverauto/fleetwatch/pkg/models"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultWriteTimeout     = 10 * time.Second
	defaultSendBuffer       = 64
	closeGracePeriod        = time.Second
)

var (
	// ErrNotConnected is returned by Send before the websocket handshake completes.
	ErrNotConnected = errors.New("websocket not connected")
	// ErrSendBufferFull is returned by Send while the peer is not draining writes.
	ErrSendBufferFull = errors.New("websocket send buffer full")
)

// WebSocketDialer dials gorilla/websocket connections. Writes are queued on a
// per-connection buffer of SendBuffer frames and flushed by a writer goroutine.
type WebSocketDialer struct {
	Dialer       *websocket.Dialer
	Header       http.Header
	WriteTimeout time.Duration
	SendBuffer   int
	Logger       logger.Logger
}

var _ Dialer = (*WebSocketDialer)(nil)

// NewWebSocketDialer returns a dialer with default timeouts. header is sent with
// every handshake (API keys, auth tokens).
func NewWebSocketDialer(header http.Header, log logger.Logger) *WebSocketDialer {
	return &WebSocketDialer{
		Dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: defaultHandshakeTimeout,
		},
		Header:       header,
		WriteTimeout: defaultWriteTimeout,
		SendBuffer:   defaultSendBuffer,
		Logger:       log,
	}
}

func (d *WebSocketDialer) Dial(url string, h DuplexHandler) DuplexConn {
	ctx, cancel := context.WithCancel(context.Background())

	log := d.Logger
	if log == nil {
		log = logger.NewTestLogger()
	}

	c := &wsConn{
		cancel:       cancel,
		writeTimeout: d.WriteTimeout,
		logger:       log,
	}

	if c.writeTimeout <= 0 {
		c.writeTimeout = defaultWriteTimeout
	}

	size := d.SendBuffer
	if size <= 0 {
		size = defaultSendBuffer
	}

	c.outbound = make(chan []byte, size)

	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	go c.run(ctx, dialer, url, d.Header.Clone(), h)

	return c
}

type wsConn struct {
	cancel       context.CancelFunc
	writeTimeout time.Duration
	logger       logger.Logger

	mu     sync.Mutex
	conn   *websocket.Conn
	closed bool
	// code sent by our own Close, reported back as a clean closure
	localCode int

	outbound chan []byte
}

func (c *wsConn) run(ctx context.Context, dialer *websocket.Dialer, url string, header http.Header, h DuplexHandler) {
	conn, resp, err := dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	if err != nil {
		if ctx.Err() != nil {
			h.OnClose(c.localClose())
			return
		}

		reason := err.Error()
		if resp != nil {
			reason = resp.Status + ": " + reason
		}

		h.OnClose(models.CloseInfo{Code: models.CloseAbnormal, Reason: reason})

		return
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		_ = conn.Close()
		h.OnClose(c.localClose())

		return
	}

	c.conn = conn
	c.mu.Unlock()

	go c.writeLoop(ctx, conn)

	h.OnOpen()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			c.cancel()
			h.OnClose(c.classify(err))
			_ = conn.Close()

			return
		}

		h.OnMessage(data)
	}
}

func (c *wsConn) localClose() models.CloseInfo {
	c.mu.Lock()
	defer c.mu.Unlock()

	return models.CloseInfo{Code: c.localCode, Reason: "closed locally", Clean: c.localCode == models.CloseNormal}
}

func (c *wsConn) classify(err error) models.CloseInfo {
	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()

	if closed {
		return c.localClose()
	}

	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return models.CloseInfo{
			Code:   ce.Code,
			Reason: ce.Text,
			Clean:  ce.Code == websocket.CloseNormalClosure,
		}
	}

	c.logger.Debug().Err(err).Msg("Websocket read failed")

	return models.CloseInfo{Code: models.CloseAbnormal, Reason: err.Error()}
}

func (c *wsConn) Send(data []byte) error {
	c.mu.Lock()
	conn, closed := c.conn, c.closed
	c.mu.Unlock()

	if closed {
		return ErrConnClosed
	}

	if conn == nil {
		return ErrNotConnected
	}

	select {
	case c.outbound <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// writeLoop is the only writer of data frames. A failed write closes the socket,
// which ends the read loop and reports the closure.
func (c *wsConn) writeLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		case data := <-c.outbound:
			if err := c.write(conn, data); err != nil {
				c.logger.Debug().Err(err).Msg("Websocket write failed")
				_ = conn.Close()

				return
			}
		}
	}
}

func (c *wsConn) write(conn *websocket.Conn, data []byte) error {
	if err := conn.SetWriteDeadline(time.Now().Add(c.writeTimeout)); err != nil {
		return err
	}

	return conn.WriteMessage(websocket.TextMessage, data)
}

func (c *wsConn) Close(code int, reason string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}

	c.closed = true
	c.localCode = code
	conn := c.conn
	c.mu.Unlock()

	c.cancel()

	if conn == nil {
		return
	}

	msg := websocket.FormatCloseMessage(code, reason)
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod)); err != nil {
		c.logger.Debug().Err(err).Msg("Failed to write close frame")
	}

	_ = conn.Close()
}
