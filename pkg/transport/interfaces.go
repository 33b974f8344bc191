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

// Package transport adapts concrete push transports (websocket, server-sent events,
// NATS subjects) to the callback contract the realtime controllers consume.
//
// Dial and Open never block. The outcome of a connection attempt is reported through
// the handler: OnOpen once the connection is usable, then zero or more messages, then
// exactly one OnClose. A connection that fails before opening reports only OnClose.
// Handler methods may be invoked from any goroutine; callers that need serialization
// must provide it.
package transport

import (
	"errors"

	"github.com/carverauto/fleetwatch/pkg/models"
)

var (
	// ErrConnClosed is returned by Send after the connection has closed.
	ErrConnClosed = errors.New("connection closed")
	// ErrUnsupportedScheme indicates the target URL scheme is not served by the transport.
	ErrUnsupportedScheme = errors.New("unsupported url scheme")
)

// DuplexHandler receives the lifecycle of a duplex connection.
type DuplexHandler interface {
	OnOpen()
	OnMessage(data []byte)
	OnClose(info models.CloseInfo)
}

// DuplexConn is a live bidirectional connection.
type DuplexConn interface {
	// Send writes one text frame.
	Send(data []byte) error
	// Close terminates the connection. It is safe to call more than once.
	Close(code int, reason string)
}

// Dialer starts duplex connections.
type Dialer interface {
	Dial(url string, h DuplexHandler) DuplexConn
}

// Event is one server-pushed event.
type Event struct {
	// Type is the transport-level event name (SSE "event:" field or NATS subject
	// suffix). It may be empty.
	Type string
	ID   string
	Data []byte
}

// StreamHandler receives the lifecycle of a unidirectional stream.
type StreamHandler interface {
	OnOpen()
	OnEvent(ev Event)
	OnClose(info models.CloseInfo)
}

// StreamConn is a live server-push stream.
type StreamConn interface {
	Close()
}

// StreamOpener starts unidirectional streams.
type StreamOpener interface {
	Open(url string, h StreamHandler) StreamConn
}
