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
	"sort"
	"sync"
	"time"
)

// Manual is a virtual-time Loop for tests. Nothing runs until the test calls Drain or
// Advance, and timers fire in due order as virtual time moves forward.
type Manual struct {
	mu     sync.Mutex
	now    time.Time
	queue  []func()
	timers []*manualTimer
	seq    uint64
}

var _ Loop = (*Manual)(nil)

// NewManual returns a Manual loop whose clock starts at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start}
}

// Now implements Loop.
func (m *Manual) Now() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.now
}

// Post implements Loop.
func (m *Manual) Post(fn func()) {
	m.mu.Lock()
	m.queue = append(m.queue, fn)
	m.mu.Unlock()
}

// Background implements Loop. Work is queued and executed inline by Drain.
func (m *Manual) Background(work func()) {
	m.Post(work)
}

// AfterFunc implements Loop.
func (m *Manual) AfterFunc(d time.Duration, fn func()) Timer {
	if d < 0 {
		d = 0
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.seq++
	t := &manualTimer{owner: m, due: m.now.Add(d), seq: m.seq, fn: fn}
	m.timers = append(m.timers, t)

	return t
}

// Drain runs queued callbacks, including ones queued while draining.
func (m *Manual) Drain() {
	for {
		m.mu.Lock()
		if len(m.queue) == 0 {
			m.mu.Unlock()
			return
		}

		fn := m.queue[0]
		m.queue = m.queue[1:]
		m.mu.Unlock()

		fn()
	}
}

// Advance moves virtual time forward by d, firing every timer that falls due on the way.
func (m *Manual) Advance(d time.Duration) {
	m.mu.Lock()
	target := m.now.Add(d)
	m.mu.Unlock()

	for {
		m.Drain()

		t := m.popDue(target)
		if t == nil {
			break
		}

		t.fn()
	}

	m.mu.Lock()
	m.now = target
	m.mu.Unlock()

	m.Drain()
}

func (m *Manual) popDue(target time.Time) *manualTimer {
	m.mu.Lock()
	defer m.mu.Unlock()

	sort.SliceStable(m.timers, func(i, j int) bool {
		if m.timers[i].due.Equal(m.timers[j].due) {
			return m.timers[i].seq < m.timers[j].seq
		}

		return m.timers[i].due.Before(m.timers[j].due)
	})

	if len(m.timers) == 0 || m.timers[0].due.After(target) {
		return nil
	}

	t := m.timers[0]
	m.timers = m.timers[1:]
	t.fired = true

	if t.due.After(m.now) {
		m.now = t.due
	}

	return t
}

// Pending reports the number of timers that have neither fired nor been stopped.
func (m *Manual) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.timers)
}

// NextDue reports the delay until the earliest pending timer.
func (m *Manual) NextDue() (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.timers) == 0 {
		return 0, false
	}

	next := m.timers[0].due
	for _, t := range m.timers[1:] {
		if t.due.Before(next) {
			next = t.due
		}
	}

	return next.Sub(m.now), true
}

type manualTimer struct {
	owner *Manual
	due   time.Time
	seq   uint64
	fn    func()
	fired bool
}

func (t *manualTimer) Stop() bool {
	m := t.owner

	m.mu.Lock()
	defer m.mu.Unlock()

	for i, pending := range m.timers {
		if pending == t {
			m.timers = append(m.timers[:i], m.timers[i+1:]...)
			return true
		}
	}

	return false
}
