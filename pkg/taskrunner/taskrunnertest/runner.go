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

// Package taskrunnertest provides a deterministic task runner driven by a virtual clock.
package taskrunnertest

import (
	"sort"
	"sync"
	"time"
)

type task struct {
	fn  func()
	at  time.Duration
	seq uint64
}

// Runner is a manually driven TaskRunner.
// Tasks only run when RunUntilIdle or Advance are invoked.
type Runner struct {
	mu    sync.Mutex
	now   time.Duration
	seq   uint64
	tasks []task
}

// NewRunner returns a new fake runner whose clock starts at zero.
func NewRunner() *Runner {
	return &Runner{}
}

// PostTask satisfies taskrunner.TaskRunner interface.
func (r *Runner) PostTask(fn func()) {
	r.PostDelayedTask(fn, 0)
}

// PostDelayedTask satisfies taskrunner.TaskRunner interface.
func (r *Runner) PostDelayedTask(fn func(), delay time.Duration) {
	if delay < 0 {
		delay = 0
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	r.seq++
	r.tasks = append(r.tasks, task{fn: fn, at: r.now + delay, seq: r.seq})
}

// Now returns current virtual time.
func (r *Runner) Now() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return time.Unix(0, 0).Add(r.now)
}

// Elapsed returns the virtual time elapsed since the runner was created.
func (r *Runner) Elapsed() time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.now
}

// PendingTasks returns the number of scheduled tasks.
func (r *Runner) PendingTasks() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}

// NextTaskDelay returns the delay until the next scheduled task.
func (r *Runner) NextTaskDelay() (time.Duration, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.tasks) == 0 {
		return 0, false
	}
	r.sortTasks()
	return r.tasks[0].at - r.now, true
}

// RunUntilIdle runs every task that is due at current virtual time,
// including those posted while running.
func (r *Runner) RunUntilIdle() {
	for r.runNext(r.Elapsed()) {
	}
}

// Advance moves the clock forward by d running due tasks in order.
func (r *Runner) Advance(d time.Duration) {
	target := r.Elapsed() + d
	for r.runNext(target) {
	}
	r.mu.Lock()
	r.now = target
	r.mu.Unlock()
}

func (r *Runner) runNext(limit time.Duration) bool {
	r.mu.Lock()
	if len(r.tasks) == 0 {
		r.mu.Unlock()
		return false
	}
	r.sortTasks()
	next := r.tasks[0]
	if next.at > limit {
		r.mu.Unlock()
		return false
	}
	r.tasks = r.tasks[1:]
	if next.at > r.now {
		r.now = next.at
	}
	r.mu.Unlock()

	next.fn()
	return true
}

func (r *Runner) sortTasks() {
	sort.Slice(r.tasks, func(i, j int) bool {
		if r.tasks[i].at == r.tasks[j].at {
			return r.tasks[i].seq < r.tasks[j].seq
		}
		return r.tasks[i].at < r.tasks[j].at
	})
}
