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

// Package eventloop provides the single-threaded cooperative scheduler that every
// realtime component runs on. State owned by controllers, coordinators and projectors
// is only ever touched from callbacks executed by a Loop, so none of them take locks.
package eventloop

import "time"

// Loop abstracts the scheduler that serializes all callbacks of a subsystem.
type Loop interface {
	// Now returns the loop's notion of the current time.
	Now() time.Time
	// Post queues fn to run on the loop. Safe to call from any goroutine.
	Post(fn func())
	// AfterFunc runs fn on the loop once d has elapsed. Must be called on the loop.
	AfterFunc(d time.Duration, fn func()) Timer
	// Background runs blocking work off the loop. The work must use Post to hand
	// results back.
	Background(work func())
}

// Timer is a pending AfterFunc callback.
type Timer interface {
	// Stop cancels the timer. Once Stop returns, the callback is guaranteed not to run.
	// It reports whether the timer was still pending.
	Stop() bool
}
