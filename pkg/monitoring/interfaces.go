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

package monitoring

//go:generate mockgen -destination=mock_monitoring.go -package=monitoring github.com/carverauto/fleetwatch/pkg/monitoring Fetcher

import (
	"context"

	"github.com/carverauto/fleetwatch/pkg/models"
)

// Fetcher pulls a full monitoring snapshot. Implementations may block; the
// coordinator always calls Fetch off the event loop.
type Fetcher interface {
	Fetch(ctx context.Context) (*models.MonitoringSnapshot, error)
}
