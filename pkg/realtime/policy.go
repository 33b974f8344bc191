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
	"math"
	"math/rand/v2"
	"time"
)

const (
	defaultMaxRetries   = 5
	defaultBaseDelay    = 1 * time.Second
	defaultMaxDelay     = 30 * time.Second
	defaultJitterFactor = 0.1
)

// RetryPolicy computes reconnection delays with exponential backoff and proportional jitter.
type RetryPolicy struct {
	// MaxRetries is the number of consecutive abnormal closures tolerated before the
	// controller gives up and enters the error state.
	MaxRetries int
	BaseDelay  time.Duration
	// MaxDelay caps every computed delay, jitter included.
	MaxDelay time.Duration
	// JitterFactor scales the random offset relative to the exponential delay. Values
	// are clamped to [0, 1] so delays never decrease between attempts.
	JitterFactor float64
	// Rand returns a value in [0, 1). Defaults to math/rand/v2.
	Rand func() float64
}

// DefaultRetryPolicy returns the policy used when none is configured.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxRetries:   defaultMaxRetries,
		BaseDelay:    defaultBaseDelay,
		MaxDelay:     defaultMaxDelay,
		JitterFactor: defaultJitterFactor,
	}
}

// Delay returns the wait before the given attempt (1-based):
// min(base * 2^(attempt-1) + jitter, max).
func (p RetryPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}

	base := p.BaseDelay
	if base <= 0 {
		base = defaultBaseDelay
	}

	maxDelay := p.MaxDelay
	if maxDelay <= 0 {
		maxDelay = defaultMaxDelay
	}

	exp := float64(base) * math.Pow(2, float64(attempt-1))
	if exp >= float64(maxDelay) {
		return maxDelay
	}

	factor := math.Min(math.Max(p.JitterFactor, 0), 1)

	rnd := rand.Float64
	if p.Rand != nil {
		rnd = p.Rand
	}

	delay := exp + rnd()*factor*exp

	return time.Duration(math.Min(delay, float64(maxDelay)))
}
