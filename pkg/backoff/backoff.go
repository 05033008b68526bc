// Copyright 2022 The jackal Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package backoff

import (
	"math"
	"math/rand"
	"time"
)

// Policy defines exponential backoff parameters.
type Policy struct {
	// NumErrorsToIgnore is the number of initial consecutive errors that don't trigger backoff.
	NumErrorsToIgnore int `fig:"num_errors_to_ignore"`

	// InitialDelay is the delay applied after the first counted failure.
	InitialDelay time.Duration `fig:"initial_delay" default:"30s"`

	// MultiplyFactor is the factor applied to the delay on every further failure.
	MultiplyFactor float64 `fig:"multiply_factor" default:"2"`

	// JitterFactor spreads the computed delay randomly in [1-JitterFactor, 1+JitterFactor].
	JitterFactor float64 `fig:"jitter_factor" default:"0.33"`

	// MaximumBackoff caps the computed delay before jitter is applied.
	MaximumBackoff time.Duration `fig:"maximum_backoff" default:"10m"`
}

// DefaultPolicy returns the connection backoff policy.
func DefaultPolicy() Policy {
	return Policy{
		InitialDelay:   time.Second * 30,
		MultiplyFactor: 2,
		JitterFactor:   0.33,
		MaximumBackoff: time.Minute * 10,
	}
}

// Entry keeps track of consecutive request failures and the time at which
// the next request is allowed.
type Entry struct {
	policy       Policy
	failureCount int
	releaseTime  time.Time

	nowFn  func() time.Time
	randFn func() float64
}

// Option defines an entry configuration option.
type Option func(e *Entry)

// WithClock sets the time source used by the entry.
func WithClock(nowFn func() time.Time) Option {
	return func(e *Entry) { e.nowFn = nowFn }
}

// WithRand sets the random source used to compute jitter. fn must return values in [0, 1).
func WithRand(fn func() float64) Option {
	return func(e *Entry) { e.randFn = fn }
}

// NewEntry returns a new backoff entry.
func NewEntry(policy Policy, opts ...Option) *Entry {
	e := &Entry{
		policy: policy,
		nowFn:  time.Now,
		randFn: rand.Float64,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// InformOfRequest updates entry state with the outcome of a request.
// A success only decrements the failure count, so that interleaved
// successes don't reset a long run of failures.
func (e *Entry) InformOfRequest(succeeded bool) {
	if !succeeded {
		e.failureCount++
		e.releaseTime = e.calculateReleaseTime()
		return
	}
	if e.failureCount > 0 {
		e.failureCount--
	}
	if now := e.nowFn(); now.After(e.releaseTime) {
		e.releaseTime = now
	}
}

// ShouldRejectRequest tells whether a request issued now would be too early.
func (e *Entry) ShouldRejectRequest() bool {
	return e.releaseTime.After(e.nowFn())
}

// TimeUntilRelease returns the time to wait before the next request.
func (e *Entry) TimeUntilRelease() time.Duration {
	d := e.releaseTime.Sub(e.nowFn())
	if d < 0 {
		return 0
	}
	return d
}

// ReleaseTime returns the time at which the next request is allowed.
func (e *Entry) ReleaseTime() time.Time {
	return e.releaseTime
}

// FailureCount returns current failure count.
func (e *Entry) FailureCount() int {
	return e.failureCount
}

// Reset clears entry state.
func (e *Entry) Reset() {
	e.failureCount = 0
	e.releaseTime = time.Time{}
}

func (e *Entry) calculateReleaseTime() time.Time {
	now := e.nowFn()

	failures := e.failureCount - e.policy.NumErrorsToIgnore
	if failures <= 0 {
		return now
	}
	// n-th counted failure waits InitialDelay*MultiplyFactor^(n-1)
	delay := float64(e.policy.InitialDelay) * math.Pow(e.policy.MultiplyFactor, float64(failures-1))
	if maxDelay := float64(e.policy.MaximumBackoff); maxDelay > 0 && delay > maxDelay {
		delay = maxDelay
	}
	delay *= 1 + e.policy.JitterFactor*(2*e.randFn()-1)
	if delay < 0 {
		delay = 0
	}
	return now.Add(time.Duration(delay))
}
