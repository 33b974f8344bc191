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

package eventloop

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/carverauto/fleetwatch/pkg/logger"
)

var (
	// ErrLoopStopped is returned by Do when the loop exits before running the function.
	ErrLoopStopped = errors.New("event loop stopped")
	// ErrLoopRunning is returned when Run is called on a loop that is already running.
	ErrLoopRunning = errors.New("event loop already running")
)

// EventLoop is the production Loop: a single goroutine draining an unbounded queue.
type EventLoop struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	done    chan struct{}
	running bool
	logger  logger.Logger
}

var _ Loop = (*EventLoop)(nil)

// New creates an EventLoop. Call Run to start processing.
func New(log logger.Logger) *EventLoop {
	return &EventLoop{
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: log,
	}
}

// Run executes queued callbacks until ctx is canceled.
func (l *EventLoop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.running {
		l.mu.Unlock()
		return ErrLoopRunning
	}

	l.running = true
	l.mu.Unlock()

	defer close(l.done)

	l.logger.Debug().Msg("Event loop started")

	for {
		select {
		case <-ctx.Done():
			l.logger.Debug().Msg("Event loop stopping due to context cancellation")
			return ctx.Err()
		case <-l.wake:
		}

		for {
			batch := l.take()
			if len(batch) == 0 {
				break
			}

			for _, fn := range batch {
				l.invoke(fn)
			}
		}
	}
}

// Done is closed once Run has returned.
func (l *EventLoop) Done() <-chan struct{} {
	return l.done
}

func (l *EventLoop) take() []func() {
	l.mu.Lock()
	defer l.mu.Unlock()

	batch := l.queue
	l.queue = nil

	return batch
}

func (l *EventLoop) invoke(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error().
				Str("panic", fmt.Sprint(r)).
				Msg("Recovered panic in event loop callback")
		}
	}()

	fn()
}

// Now implements Loop.
func (*EventLoop) Now() time.Time {
	return time.Now()
}

// Post implements Loop.
func (l *EventLoop) Post(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Background implements Loop.
func (*EventLoop) Background(work func()) {
	go work()
}

// AfterFunc implements Loop. The runtime timer only posts; the stopped flag is checked
// on the loop, so a Stop that races with the runtime firing still wins.
func (l *EventLoop) AfterFunc(d time.Duration, fn func()) Timer {
	t := &loopTimer{}
	t.timer = time.AfterFunc(d, func() {
		l.Post(func() {
			if t.stopped {
				return
			}

			t.fired = true
			fn()
		})
	})

	return t
}

// Do runs fn on the loop and waits for it to finish. It is the way goroutines outside
// the loop (HTTP handlers, signal handlers) read or mutate loop-owned state.
func (l *EventLoop) Do(ctx context.Context, fn func()) error {
	finished := make(chan struct{})

	l.Post(func() {
		defer close(finished)
		fn()
	})

	select {
	case <-finished:
		return nil
	case <-l.done:
		return ErrLoopStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

type loopTimer struct {
	timer   *time.Timer
	stopped bool
	fired   bool
}

func (t *loopTimer) Stop() bool {
	if t.stopped || t.fired {
		return false
	}

	t.stopped = true
	t.timer.Stop()

	return true
}
