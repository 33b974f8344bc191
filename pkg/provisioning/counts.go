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

package provisioning

import "github.com/carverauto/fleetwatch/pkg/models"

// Progress summarizes how far a session has come.
type Progress struct {
	Total     int     `json:"total"`
	Verified  int     `json:"verified"`
	Failed    int     `json:"failed"`
	InFlight  int     `json:"in_flight"`
	Completed int     `json:"completed"`
	Percent   float64 `json:"percent"`
}

// CountByState tallies devices per state. Every known state is present in the result.
func CountByState(devices []models.DeviceProjection) map[models.DeviceState]int {
	counts := make(map[models.DeviceState]int, len(models.DeviceStates))
	for _, s := range models.DeviceStates {
		counts[s] = 0
	}

	for i := range devices {
		counts[devices[i].State]++
	}

	return counts
}

// ComputeProgress derives session progress from the device list. Verified and failed
// devices are complete.
func ComputeProgress(devices []models.DeviceProjection) Progress {
	counts := CountByState(devices)

	p := Progress{
		Total:    len(devices),
		Verified: counts[models.DeviceVerified],
		Failed:   counts[models.DeviceFailed],
	}

	p.Completed = p.Verified + p.Failed
	p.InFlight = p.Total - p.Completed

	if p.Total > 0 {
		p.Percent = float64(p.Completed) * 100 / float64(p.Total)
	}

	return p
}
