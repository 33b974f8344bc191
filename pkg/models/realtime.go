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

package models

// ConnectionState is the lifecycle state of a push connection controller.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
	StateError        ConnectionState = "error"
)

// TransportMode names the data source currently feeding a monitoring snapshot.
type TransportMode string

const (
	TransportRealtime TransportMode = "realtime"
	TransportPolling  TransportMode = "polling"
	TransportNone     TransportMode = "none"
)

// ParseTransportMode returns the mode for s and whether s named a known mode.
func ParseTransportMode(s string) (TransportMode, bool) {
	switch TransportMode(s) {
	case TransportRealtime, TransportPolling, TransportNone:
		return TransportMode(s), true
	default:
		return TransportNone, false
	}
}

// CloseInfo describes how a push connection ended.
type CloseInfo struct {
	Code   int    `json:"code"`
	Reason string `json:"reason,omitempty"`
	// Clean is true for an orderly close initiated by either side. Anything else is
	// treated as a transient failure and retried.
	Clean bool `json:"clean"`
}

// Close codes shared by the websocket, SSE and NATS transports.
const (
	CloseNormal           = 1000
	CloseGoingAway        = 1001
	CloseAbnormal         = 1006
	CloseHeartbeatTimeout = 4000
)
