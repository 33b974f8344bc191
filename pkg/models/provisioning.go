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

import "time"

// DeviceState is the provisioning lifecycle of a device within a session.
type DeviceState string

const (
	DeviceDiscovered   DeviceState = "discovered"
	DeviceProvisioning DeviceState = "provisioning"
	DeviceProvisioned  DeviceState = "provisioned"
	DeviceVerifying    DeviceState = "verifying"
	DeviceVerified     DeviceState = "verified"
	DeviceFailed       DeviceState = "failed"
)

// DeviceStates lists every state in lifecycle order.
var DeviceStates = []DeviceState{
	DeviceDiscovered,
	DeviceProvisioning,
	DeviceProvisioned,
	DeviceVerifying,
	DeviceVerified,
	DeviceFailed,
}

// Valid reports whether s is a known device state.
func (s DeviceState) Valid() bool {
	for _, known := range DeviceStates {
		if s == known {
			return true
		}
	}

	return false
}

// DeviceProjection is the materialized state of one device, keyed by its hardware id (MAC).
type DeviceProjection struct {
	ID              string      `json:"id"`
	IP              string      `json:"ip,omitempty"`
	State           DeviceState `json:"state"`
	Signal          *int        `json:"signal,omitempty"`
	FirmwareVersion string      `json:"firmware_version,omitempty"`
	DiscoveredAt    time.Time   `json:"discovered_at"`
	ProvisionedAt   *time.Time  `json:"provisioned_at,omitempty"`
	VerifiedAt      *time.Time  `json:"verified_at,omitempty"`
	RetryCount      int         `json:"retry_count"`
	ErrorMessage    string      `json:"error_message,omitempty"`
}

// SessionProjection is the last reported status of a provisioning session.
type SessionProjection struct {
	ID           string    `json:"id"`
	Status       string    `json:"status"`
	Network      string    `json:"network,omitempty"`
	TotalDevices int       `json:"total_devices"`
	StartedAt    time.Time `json:"started_at,omitempty"`
	UpdatedAt    time.Time `json:"updated_at,omitempty"`
}

// NetworkStatus is the provisioning network (SSID) the session hosts.
type NetworkStatus struct {
	SSID                 string `json:"ssid"`
	IsActive             bool   `json:"is_active"`
	ConnectedDeviceCount int    `json:"connected_device_count"`
}

// Provisioning event kinds emitted by the gateway on a session stream.
const (
	EventConnected          = "connected"
	EventHeartbeat          = "heartbeat"
	EventSessionStatus      = "session_status"
	EventDeviceDiscovered   = "device_discovered"
	EventDeviceStateChanged = "device_state_changed"
	EventNetworkStatus      = "network_status"
	EventError              = "error"
)

// DeviceDiscoveredEvent announces a device seen on the provisioning network.
type DeviceDiscoveredEvent struct {
	ID              string    `json:"id"`
	IP              string    `json:"ip,omitempty"`
	Signal          *int      `json:"signal,omitempty"`
	FirmwareVersion string    `json:"firmware_version,omitempty"`
	Timestamp       time.Time `json:"timestamp,omitempty"`
}

// DeviceStateChangedEvent moves a known device to a new state.
type DeviceStateChangedEvent struct {
	ID              string      `json:"id"`
	PreviousState   DeviceState `json:"previous_state,omitempty"`
	NewState        DeviceState `json:"new_state"`
	IP              string      `json:"ip,omitempty"`
	FirmwareVersion string      `json:"firmware_version,omitempty"`
	RetryCount      *int        `json:"retry_count,omitempty"`
	ErrorMessage    string      `json:"error_message,omitempty"`
	Timestamp       time.Time   `json:"timestamp,omitempty"`
}

// StreamErrorEvent is an error reported in-band by the gateway.
type StreamErrorEvent struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

// CloudEvent represents a CloudEvents v1.0 compliant event.
type CloudEvent struct {
	SpecVersion     string      `json:"specversion"`
	ID              string      `json:"id"`
	Source          string      `json:"source"`
	Type            string      `json:"type"`
	DataContentType string      `json:"datacontenttype"`
	Subject         string      `json:"subject,omitempty"`
	Time            *time.Time  `json:"time,omitempty"`
	Data            interface{} `json:"data,omitempty"`
}
