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

import (
	"encoding/json"
	"time"
)

// MonitoringSnapshot is the dashboard view of a gateway. Each section is updated
// independently; a nil section means "no data" in a snapshot and "unchanged" in a
// partial update.
type MonitoringSnapshot struct {
	Health    *HealthSection       `json:"health,omitempty"`
	Security  *SecuritySection     `json:"security,omitempty"`
	Services  *ServiceSection      `json:"services,omitempty"`
	Network   *NetworkSection      `json:"network,omitempty"`
	Devices   *DeviceStatusSection `json:"devices,omitempty"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// Merge returns a new snapshot where every section present in partial replaces the
// corresponding section of s. Sections absent from partial are shared with s, untouched.
func (s *MonitoringSnapshot) Merge(partial *MonitoringSnapshot) *MonitoringSnapshot {
	var merged MonitoringSnapshot
	if s != nil {
		merged = *s
	}

	if partial == nil {
		return &merged
	}

	if partial.Health != nil {
		merged.Health = partial.Health
	}

	if partial.Security != nil {
		merged.Security = partial.Security
	}

	if partial.Services != nil {
		merged.Services = partial.Services
	}

	if partial.Network != nil {
		merged.Network = partial.Network
	}

	if partial.Devices != nil {
		merged.Devices = partial.Devices
	}

	if !partial.UpdatedAt.IsZero() {
		merged.UpdatedAt = partial.UpdatedAt
	}

	return &merged
}

type HealthSection struct {
	Status        string   `json:"status"` // healthy, degraded, critical
	CPUPercent    float64  `json:"cpu_percent"`
	MemoryPercent float64  `json:"memory_percent"`
	DiskPercent   float64  `json:"disk_percent"`
	UptimeSeconds int64    `json:"uptime_seconds"`
	Issues        []string `json:"issues,omitempty"`
}

type SecuritySection struct {
	Cameras CameraSummary   `json:"cameras"`
	Doors   DoorSummary     `json:"doors"`
	Alerts  []SecurityAlert `json:"alerts,omitempty"`
}

type CameraSummary struct {
	Total     int `json:"total"`
	Online    int `json:"online"`
	Recording int `json:"recording"`
}

type DoorSummary struct {
	Total  int `json:"total"`
	Locked int `json:"locked"`
	Open   int `json:"open"`
	Alarms int `json:"alarms"`
}

type SecurityAlert struct {
	ID       string    `json:"id"`
	Severity string    `json:"severity"`
	Message  string    `json:"message"`
	DeviceID string    `json:"device_id,omitempty"`
	RaisedAt time.Time `json:"raised_at"`
}

type ServiceSection struct {
	Services []ServiceStatus `json:"services"`
}

type ServiceStatus struct {
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	Healthy   bool      `json:"healthy"`
	Message   string    `json:"message,omitempty"`
	LastCheck time.Time `json:"last_check"`
}

type NetworkSection struct {
	WAN     InterfaceStatus `json:"wan"`
	Radios  []RadioStatus   `json:"radios,omitempty"`
	Clients int             `json:"clients"`
}

type InterfaceStatus struct {
	Name   string `json:"name"`
	Up     bool   `json:"up"`
	IP     string `json:"ip,omitempty"`
	RxBps  int64  `json:"rx_bps"`
	TxBps  int64  `json:"tx_bps"`
	Uplink string `json:"uplink,omitempty"`
}

type RadioStatus struct {
	ID      string `json:"id"`
	SSID    string `json:"ssid"`
	Band    string `json:"band"`
	Channel int    `json:"channel"`
	Clients int    `json:"clients"`
	Enabled bool   `json:"enabled"`
}

type DeviceStatusSection struct {
	Total    int            `json:"total"`
	Online   int            `json:"online"`
	Offline  int            `json:"offline"`
	Alerting int            `json:"alerting"`
	Devices  []DeviceStatus `json:"devices,omitempty"`
}

type DeviceStatus struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Kind     string    `json:"kind"`   // camera, door, radio
	Status   string    `json:"status"` // online, alerting, offline, dormant
	Firmware string    `json:"firmware,omitempty"`
	LastSeen time.Time `json:"last_seen"`
}

// Monitoring message kinds sent by the gateway over the duplex transport.
const (
	MonitoringMessageSnapshot = "snapshot"
	MonitoringMessageUpdate   = "update"
)

// MonitoringMessage is the envelope of a push message on the monitoring feed.
type MonitoringMessage struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

// IsPartial reports whether the message carries a section-wise update.
func (m *MonitoringMessage) IsPartial() bool {
	return m.Type == MonitoringMessageUpdate || m.Type == "partial"
}
