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

// Package transporttest provides scriptable in-memory transports. Every handler
// callback is invoked synchronously from the method that triggers it.
package transporttest

import (
	"encoding/json"
	"sync"

	"github.com/carverauto/fleetwatch/pkg/models"
	"github.com/carverauto/fleetwatch/pkg/transport"
)

// Dialer records every dial and hands out fake duplex connections.
type Dialer struct {
	// OnDial, when set, runs against each new connection before Dial returns.
	OnDial func(c *DuplexConn)

	mu    sync.Mutex
	conns []*DuplexConn
}

var _ transport.Dialer = (*Dialer)(nil)

func (d *Dialer) Dial(url string, h transport.DuplexHandler) transport.DuplexConn {
	c := &DuplexConn{URL: url, handler: h}

	d.mu.Lock()
	d.conns = append(d.conns, c)
	d.mu.Unlock()

	if d.OnDial != nil {
		d.OnDial(c)
	}

	return c
}

// Count returns the number of dials so far.
func (d *Dialer) Count() int {
	d.mu.Lock()
	defer d.mu.Unlock()

	return len(d.conns)
}

// Last returns the most recent connection, or nil.
func (d *Dialer) Last() *DuplexConn {
	d.mu.Lock()
	defer d.mu.Unlock()

	if len(d.conns) == 0 {
		return nil
	}

	return d.conns[len(d.conns)-1]
}

// DuplexConn is a fake duplex connection driven by the test.
type DuplexConn struct {
	URL string

	handler     transport.DuplexHandler
	mu          sync.Mutex
	sent        [][]byte
	closed      bool
	closeCode   int
	closeReason string
}

var _ transport.DuplexConn = (*DuplexConn)(nil)

// Open reports the connection as established.
func (c *DuplexConn) Open() {
	c.handler.OnOpen()
}

// Receive delivers a raw inbound frame.
func (c *DuplexConn) Receive(data []byte) {
	c.handler.OnMessage(data)
}

// ReceiveJSON delivers v encoded as JSON.
func (c *DuplexConn) ReceiveJSON(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}

	c.handler.OnMessage(data)
}

// Fail reports an abnormal closure.
func (c *DuplexConn) Fail() {
	c.markClosed(models.CloseAbnormal, "connection refused")
	c.handler.OnClose(models.CloseInfo{Code: models.CloseAbnormal, Reason: "connection refused"})
}

// Shutdown reports a clean closure initiated by the server.
func (c *DuplexConn) Shutdown() {
	c.markClosed(models.CloseNormal, "server shutdown")
	c.handler.OnClose(models.CloseInfo{Code: models.CloseNormal, Reason: "server shutdown", Clean: true})
}

func (c *DuplexConn) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return transport.ErrConnClosed
	}

	c.sent = append(c.sent, append([]byte(nil), data...))

	return nil
}

// Close marks the connection closed and, like a real socket, reports the closure
// back through the handler.
func (c *DuplexConn) Close(code int, reason string) {
	if !c.markClosed(code, reason) {
		return
	}

	c.handler.OnClose(models.CloseInfo{Code: code, Reason: reason, Clean: code == models.CloseNormal})
}

func (c *DuplexConn) markClosed(code int, reason string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}

	c.closed = true
	c.closeCode = code
	c.closeReason = reason

	return true
}

// Sent returns a copy of every frame written so far.
func (c *DuplexConn) Sent() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	return append([][]byte(nil), c.sent...)
}

// Closed reports whether the connection was closed and with which code.
func (c *DuplexConn) Closed() (bool, int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.closed, c.closeCode
}

// Opener records every open and hands out fake streams.
type Opener struct {
	OnOpen func(s *Stream)

	mu      sync.Mutex
	streams []*Stream
}

var _ transport.StreamOpener = (*Opener)(nil)

func (o *Opener) Open(url string, h transport.StreamHandler) transport.StreamConn {
	s := &Stream{URL: url, handler: h}

	o.mu.Lock()
	o.streams = append(o.streams, s)
	o.mu.Unlock()

	if o.OnOpen != nil {
		o.OnOpen(s)
	}

	return s
}

// Count returns the number of opens so far.
func (o *Opener) Count() int {
	o.mu.Lock()
	defer o.mu.Unlock()

	return len(o.streams)
}

// Last returns the most recent stream, or nil.
func (o *Opener) Last() *Stream {
	o.mu.Lock()
	defer o.mu.Unlock()

	if len(o.streams) == 0 {
		return nil
	}

	return o.streams[len(o.streams)-1]
}

// Stream is a fake server-push stream driven by the test.
type Stream struct {
	URL string

	handler transport.StreamHandler
	mu      sync.Mutex
	closed  bool
}

var _ transport.StreamConn = (*Stream)(nil)

// Open reports the stream as established.
func (s *Stream) Open() {
	s.handler.OnOpen()
}

// Emit delivers a raw event.
func (s *Stream) Emit(ev transport.Event) {
	s.handler.OnEvent(ev)
}

// EmitJSON delivers an event whose data is v encoded as JSON.
func (s *Stream) EmitJSON(eventType string, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}

	s.handler.OnEvent(transport.Event{Type: eventType, Data: data})
}

// Fail reports an abnormal end of stream.
func (s *Stream) Fail() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	s.handler.OnClose(models.CloseInfo{Code: models.CloseAbnormal, Reason: "stream ended"})
}

func (s *Stream) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.closed = true
}

// Closed reports whether the stream was closed.
func (s *Stream) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed
}
