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

package api

//go:generate mockgen -destination=mock_api.go -package=api github.com/carverauto/fleetwatch/pkg/api Runner,Monitoring,Provisioning

import (
	"context"

	"github.com/carverauto/fleetwatch/pkg/models"
	"github.com/carverauto/fleetwatch/pkg/monitoring"
	"github.com/carverauto/fleetwatch/pkg/provisioning"
)

// Runner executes fn on the goroutine that owns the coordinator and projector.
type Runner interface {
	Do(ctx context.Context, fn func()) error
}

// Monitoring is the part of monitoring.Coordinator the API exposes.
type Monitoring interface {
	View() monitoring.View
	Refresh() error
	SwitchToPolling() error
	SwitchToRealtime() error
}

// Provisioning is the part of provisioning.Projector the API exposes.
type Provisioning interface {
	Devices() []models.DeviceProjection
	Device(id string) (models.DeviceProjection, bool)
	Summary() provisioning.Summary
	Reconnect()
}
