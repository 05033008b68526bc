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

package taskrunner

import (
	"context"
	"sync"
	"time"

	"github.com/jackal-xmpp/runqueue/v2"
)

// TaskRunner executes posted tasks sequentially.
type TaskRunner interface {
	// PostTask schedules fn to be run as soon as possible.
	PostTask(fn func())

	// PostDelayedTask schedules fn to be run after delay has elapsed.
	PostDelayedTask(fn func(), delay time.Duration)
}

// RunQueue is a TaskRunner backed by a serial run queue.
type RunQueue struct {
	name string

	mu      sync.Mutex
	rq      *runqueue.RunQueue
	timers  map[*time.Timer]struct{}
	stopped bool
}

// New returns a new RunQueue task runner.
func New(name string) *RunQueue {
	return &RunQueue{
		name:   name,
		rq:     runqueue.New(name),
		timers: make(map[*time.Timer]struct{}),
	}
}

// PostTask satisfies TaskRunner interface.
func (r *RunQueue) PostTask(fn func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	r.rq.Run(fn)
}

// PostDelayedTask satisfies TaskRunner interface.
func (r *RunQueue) PostDelayedTask(fn func(), delay time.Duration) {
	if delay <= 0 {
		r.PostTask(fn)
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	var tm *time.Timer
	tm = time.AfterFunc(delay, func() {
		r.mu.Lock()
		delete(r.timers, tm)
		stopped := r.stopped
		r.mu.Unlock()

		if !stopped {
			r.rq.Run(fn)
		}
	})
	r.timers[tm] = struct{}{}
}

// Start satisfies application starter interface.
func (r *RunQueue) Start(_ context.Context) error {
	return nil
}

// Stop cancels all pending delayed tasks and waits until the queue has been drained.
func (r *RunQueue) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	for tm := range r.timers {
		tm.Stop()
	}
	r.timers = nil
	r.mu.Unlock()

	doneCh := make(chan struct{})
	r.rq.Stop(func() { close(doneCh) })

	select {
	case <-doneCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
