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
	"math/rand/v2"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestRetryPolicy_Delay(t *testing.T) {
	p := RetryPolicy{BaseDelay: time.Second, MaxDelay: 10 * time.Second, Rand: noJitter}

	tests := []struct {
		attempt  int
		expected time.Duration
	}{
		{attempt: 0, expected: time.Second},
		{attempt: 1, expected: time.Second},
		{attempt: 2, expected: 2 * time.Second},
		{attempt: 3, expected: 4 * time.Second},
		{attempt: 4, expected: 8 * time.Second},
		{attempt: 5, expected: 10 * time.Second},
		{attempt: 200, expected: 10 * time.Second},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.expected, p.Delay(tt.attempt), "attempt %d", tt.attempt)
	}
}

func TestRetryPolicy_JitterBounds(t *testing.T) {
	p := RetryPolicy{
		BaseDelay:    time.Second,
		MaxDelay:     time.Minute,
		JitterFactor: 0.1,
		Rand:         func() float64 { return 0.999 },
	}

	d := p.Delay(2)
	assert.Greater(t, d, 2*time.Second)
	assert.LessOrEqual(t, d, 2200*time.Millisecond)
}

func TestRetryPolicy_NonDecreasingWithJitter(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))

	for _, factor := range []float64{0, 0.1, 0.5, 1, 3} {
		p := RetryPolicy{
			BaseDelay:    250 * time.Millisecond,
			MaxDelay:     20 * time.Second,
			JitterFactor: factor,
			Rand:         rng.Float64,
		}

		prev := time.Duration(0)

		for attempt := 1; attempt <= 20; attempt++ {
			d := p.Delay(attempt)
			assert.GreaterOrEqual(t, d, prev, "factor %v attempt %d", factor, attempt)
			assert.LessOrEqual(t, d, p.MaxDelay)
			prev = d
		}

		assert.Equal(t, p.MaxDelay, prev)
	}
}

func TestDefaultRetryPolicy(t *testing.T) {
	p := DefaultRetryPolicy()

	assert.Equal(t, defaultMaxRetries, p.MaxRetries)
	assert.Equal(t, defaultBaseDelay, p.BaseDelay)
	assert.Equal(t, defaultMaxDelay, p.MaxDelay)
}
