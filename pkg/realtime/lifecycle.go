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

package realtime

import (
	"fmt"
	"time"

	"github.com/carverauto/fleetwatch/pkg/eventloop"
	"github.com/carverauto/fleetwatch/pkg/logger"
	"github.com/carverauto/fleetwatch/pkg/models"
)

// funcRef is a mutable cell holding the latest implementation of an operation.
// Timers call through the cell so a pending retry always runs the current code path
// with the current configuration.
type funcRef struct {
	fn func()
}

func (r *funcRef) Set(fn func()) {
	r.fn = fn
}

func (r *funcRef) Call() {
	if r.fn != nil {
		r.fn()
	}
}

// lifecycle is the connection state machine and retry bookkeeping shared by the
// duplex and stream controllers.
type lifecycle struct {
	loop   eventloop.Loop
	logger logger.Logger
	kind   string

	policy  RetryPolicy
	state   models.ConnectionState
	attempt int
	delay   time.Duration
	lastErr error

	manuallyClosed bool
	retryTimer     eventloop.Timer
	connect        funcRef

	// gen identifies the current connection. Callbacks tagged with an older
	// generation belong to a superseded connection and are ignored.
	gen uint64

	onStateChange func(models.ConnectionState)
	onError       func(error)
}

func newLifecycle(loop eventloop.Loop, log logger.Logger, kind string, policy RetryPolicy) lifecycle {
	return lifecycle{
		loop:   loop,
		logger: log,
		kind:   kind,
		policy: policy,
		state:  models.StateDisconnected,
	}
}

// State returns the current connection state.
func (l *lifecycle) State() models.ConnectionState {
	return l.state
}

// Attempt returns the number of consecutive abnormal closures since the last open.
func (l *lifecycle) Attempt() int {
	return l.attempt
}

// NextDelay returns the delay of the pending (or last scheduled) retry.
func (l *lifecycle) NextDelay() time.Duration {
	return l.delay
}

// LastError returns the terminal error once retries are exhausted, nil otherwise.
func (l *lifecycle) LastError() error {
	return l.lastErr
}

func (l *lifecycle) setState(s models.ConnectionState) {
	if l.state == s {
		return
	}

	prev := l.state
	l.state = s

	l.logger.Debug().
		Str("from", string(prev)).
		Str("to", string(s)).
		Int("attempt", l.attempt).
		Msg("Connection state changed")

	if l.onStateChange != nil {
		l.onStateChange(s)
	}
}

func (l *lifecycle) cancelRetry() {
	if l.retryTimer != nil {
		l.retryTimer.Stop()
		l.retryTimer = nil
	}
}

func (l *lifecycle) resetRetries() {
	l.attempt = 0
	l.delay = 0
	l.lastErr = nil
}

func (l *lifecycle) opened() {
	l.cancelRetry()
	l.resetRetries()
	l.setState(models.StateConnected)
}

// closed applies the reconnection policy to a closure of the current connection.
func (l *lifecycle) closed(info models.CloseInfo) {
	if l.manuallyClosed || info.Clean {
		l.setState(models.StateDisconnected)
		return
	}

	if l.attempt >= l.policy.MaxRetries {
		err := fmt.Errorf("failed to connect after %d attempts: %w", l.policy.MaxRetries, ErrRetriesExhausted)
		l.lastErr = err

		l.logger.Error().
			Err(err).
			Int("code", info.Code).
			Str("reason", info.Reason).
			Msg("Giving up on connection")

		recordRetriesExhausted(l.kind)
		l.setState(models.StateError)

		// the state callback may already have torn the controller down
		if l.onError != nil {
			l.onError(err)
		}

		return
	}

	l.attempt++
	l.delay = l.policy.Delay(l.attempt)

	l.logger.Info().
		Int("code", info.Code).
		Str("reason", info.Reason).
		Int("attempt", l.attempt).
		Dur("delay", l.delay).
		Msg("Connection lost, scheduling reconnect")

	recordReconnect(l.kind)
	l.setState(models.StateReconnecting)

	l.retryTimer = l.loop.AfterFunc(l.delay, func() {
		l.retryTimer = nil
		l.connect.Call()
	})
}
