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

// Package realtime implements the connection lifecycle controllers for push
// transports: a duplex controller with heartbeat probing and a unidirectional stream
// controller. Both share one reconnection policy and state machine.
//
// Controllers are not safe for concurrent use. Every method must be called from the
// eventloop.Loop the controller was built with, and all callbacks run on that loop.
package realtime

import "errors"

var (
	// ErrRetriesExhausted is the terminal error after maxRetries consecutive abnormal closures.
	ErrRetriesExhausted = errors.New("retries exhausted")
	// ErrNoTarget indicates the controller has no target address configured.
	ErrNoTarget = errors.New("no target address configured")
	// ErrDisabled indicates the controller is disabled.
	ErrDisabled = errors.New("controller disabled")
)
