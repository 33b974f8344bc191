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

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrMissingSession indicates a stream URL was requested without a session id.
var ErrMissingSession = errors.New("session id is required")

// StreamURL returns the server-sent events address of a session on the gateway.
func StreamURL(gatewayURL, sessionID string) (string, error) {
	if sessionID == "" {
		return "", ErrMissingSession
	}

	u, err := url.Parse(gatewayURL)
	if err != nil {
		return "", fmt.Errorf("invalid gateway url %q: %w", gatewayURL, err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("invalid gateway url %q: unsupported scheme %q", gatewayURL, u.Scheme)
	}

	return strings.TrimSuffix(u.String(), "/") + "/api/provisioning/sessions/" + url.PathEscape(sessionID) + "/events", nil
}

// NATSStreamURL returns the NATS stream address covering every event of a session,
// e.g. nats://broker:4222/provisioning.sessions.s1.>.
func NATSStreamURL(natsURL, subjectPrefix, sessionID string) (string, error) {
	if sessionID == "" {
		return "", ErrMissingSession
	}

	if _, err := url.Parse(natsURL); err != nil {
		return "", fmt.Errorf("invalid nats url %q: %w", natsURL, err)
	}

	return strings.TrimSuffix(natsURL, "/") + "/" + SessionSubject(subjectPrefix, sessionID, ">"), nil
}

// SessionSubject joins the subject prefix, the session id and a final token.
func SessionSubject(prefix, sessionID, token string) string {
	return strings.TrimSuffix(prefix, ".") + "." + sessionID + "." + token
}
