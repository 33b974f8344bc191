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

import (
	"fmt"
	"net/url"
	"strings"
)

const realtimePath = "/ws/monitoring"

// RealtimeURL derives the websocket address of the monitoring feed from the gateway's
// REST base URL (http becomes ws, https becomes wss). An empty base yields an empty
// address, which leaves the push path disabled.
func RealtimeURL(gatewayURL string) (string, error) {
	if gatewayURL == "" {
		return "", nil
	}

	u, err := url.Parse(gatewayURL)
	if err != nil {
		return "", fmt.Errorf("invalid gateway url %q: %w", gatewayURL, err)
	}

	switch u.Scheme {
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("invalid gateway url %q: unsupported scheme %q", gatewayURL, u.Scheme)
	}

	u.Path = strings.TrimSuffix(u.Path, "/") + realtimePath

	return u.String(), nil
}

func joinURL(base, path string) string {
	return strings.TrimSuffix(base, "/") + path
}
