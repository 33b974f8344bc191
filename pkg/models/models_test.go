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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDuration_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected Duration
		wantErr  bool
	}{
		{name: "string duration", input: `"3s"`, expected: Duration(3 * time.Second)},
		{name: "numeric nanoseconds", input: `5000000000`, expected: Duration(5 * time.Second)},
		{name: "compound", input: `"1m30s"`, expected: Duration(90 * time.Second)},
		{name: "invalid string", input: `"soon"`, wantErr: true},
		{name: "invalid type", input: `true`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var d Duration

			err := json.Unmarshal([]byte(tt.input), &d)
			if tt.wantErr {
				require.Error(t, err)
				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expected, d)
		})
	}
}

func TestDuration_MarshalJSON(t *testing.T) {
	out, err := json.Marshal(Duration(1500 * time.Millisecond))
	require.NoError(t, err)
	assert.JSONEq(t, `"1.5s"`, string(out))
}

func TestMonitoringSnapshot_MergeReplacesOnlyPresentSections(t *testing.T) {
	base := &MonitoringSnapshot{
		Health:   &HealthSection{Status: "healthy", CPUPercent: 12},
		Security: &SecuritySection{Cameras: CameraSummary{Total: 4, Online: 4}},
		Network:  &NetworkSection{Clients: 3},
	}

	before, err := json.Marshal(base.Health)
	require.NoError(t, err)

	merged := base.Merge(&MonitoringSnapshot{Network: &NetworkSection{Clients: 9}})

	after, err := json.Marshal(merged.Health)
	require.NoError(t, err)

	assert.Equal(t, before, after)
	assert.Same(t, base.Security, merged.Security)
	assert.Equal(t, 9, merged.Network.Clients)
	assert.Equal(t, 3, base.Network.Clients, "merge must not mutate the receiver")
}

func TestMonitoringSnapshot_MergeOnNil(t *testing.T) {
	var base *MonitoringSnapshot

	merged := base.Merge(&MonitoringSnapshot{Health: &HealthSection{Status: "degraded"}})
	require.NotNil(t, merged)
	assert.Equal(t, "degraded", merged.Health.Status)
	assert.Nil(t, merged.Network)
}

func TestMonitoringMessage_IsPartial(t *testing.T) {
	assert.True(t, (&MonitoringMessage{Type: MonitoringMessageUpdate}).IsPartial())
	assert.True(t, (&MonitoringMessage{Type: "partial"}).IsPartial())
	assert.False(t, (&MonitoringMessage{Type: MonitoringMessageSnapshot}).IsPartial())
}

func TestParseTransportMode(t *testing.T) {
	mode, ok := ParseTransportMode("polling")
	assert.True(t, ok)
	assert.Equal(t, TransportPolling, mode)

	mode, ok = ParseTransportMode("carrier-pigeon")
	assert.False(t, ok)
	assert.Equal(t, TransportNone, mode)
}

func TestDeviceState_Valid(t *testing.T) {
	for _, s := range DeviceStates {
		assert.True(t, s.Valid(), s)
	}

	assert.False(t, DeviceState("exploded").Valid())
}
