// Copyright (c) 2024 Uber Technologies, Inc.
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN
// THE SOFTWARE.

// Package threadpool provides the worker pools that run handler callbacks
// and service methods off the I/O goroutines. The pool kind is a typed enum
// selected by URL parameter; a saturated pool rejects with
// CodeLimitExceeded, which the server answers with the
// thread-pool-exhausted wire status.
package threadpool

import (
	"sync"
	"time"

	"go.uber.org/courier/couriererrors"
	"go.uber.org/courier/url"
)

// Kind names a worker pool policy.
type Kind int

const (
	// Fixed runs a constant number of workers over a bounded queue.
	Fixed Kind = iota

	// Cached spawns workers on demand and reaps them after an idle period.
	Cached

	// Limited grows up to a maximum and never shrinks.
	Limited

	// Eager grows to the maximum before queueing while active < max.
	Eager
)

var kindNames = map[string]Kind{
	"fixed":   Fixed,
	"cached":  Cached,
	"limited": Limited,
	"eager":   Eager,
}

// ParseKind resolves a pool kind by name.
func ParseKind(name string) (Kind, error) {
	if k, ok := kindNames[name]; ok {
		return k, nil
	}
	return 0, couriererrors.InternalErrorf("unknown threadpool %q", name)
}

// Defaults used when the URL does not specify a value.
const (
	DefaultThreads = 200
	DefaultQueues  = 0
	DefaultAlive   = time.Minute
	DefaultKind    = "fixed"
)

// Pool runs submitted tasks on managed workers.
type Pool interface {
	// Submit schedules task. Returns CodeLimitExceeded when the pool and
	// its queue are saturated, CodeDestroyed after Shutdown.
	Submit(task func()) error

	// Active returns the number of busy workers.
	Active() int

	// Shutdown stops accepting work. Queued tasks still run; idempotent.
	Shutdown()
}

// New builds the pool described by the URL parameters threadpool, threads,
// corethreads, queues, and alive.
func New(u *url.URL) (Pool, error) {
	kind, err := ParseKind(u.Param(url.KeyThreadPool, DefaultKind))
	if err != nil {
		return nil, err
	}
	threads := u.ParamInt(url.KeyThreads, DefaultThreads)
	queues := u.ParamInt(url.KeyQueues, DefaultQueues)
	alive := u.ParamDuration(url.KeyAlive, DefaultAlive)

	switch kind {
	case Fixed:
		return newPool(threads, threads, queues, 0, false), nil
	case Cached:
		return newPool(0, threads, queues, alive, false), nil
	case Limited:
		return newPool(u.ParamInt(url.KeyCorethreads, 0), threads, queues, 0, false), nil
	case Eager:
		return newPool(u.ParamInt(url.KeyCorethreads, 0), threads, queues, alive, true), nil
	default:
		return nil, couriererrors.InternalErrorf("unknown threadpool kind %d", kind)
	}
}

type pool struct {
	core  int
	max   int
	alive time.Duration
	eager bool

	mu       sync.Mutex
	queue    chan func()
	workers  int
	active   int
	shutdown bool
}

func newPool(core, max, queues int, alive time.Duration, eager bool) *pool {
	if max <= 0 {
		max = DefaultThreads
	}
	if core > max {
		core = max
	}
	return &pool{
		core:  core,
		max:   max,
		alive: alive,
		eager: eager,
		queue: make(chan func(), queues),
	}
}

func (p *pool) Submit(task func()) error {
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return couriererrors.DestroyedErrorf("threadpool is shut down")
	}

	// Below core, always grow.
	if p.workers < p.core {
		p.spawnLocked(task)
		p.mu.Unlock()
		return nil
	}
	// Eager pools grow to max before queueing while active < max.
	if p.eager && p.active < p.max && p.workers < p.max {
		p.spawnLocked(task)
		p.mu.Unlock()
		return nil
	}

	select {
	case p.queue <- task:
		// A pool whose workers were all reaped, or a cached pool that never
		// grew, has nobody parked on the queue; the task would sit there
		// until the next spawn. Start a worker to drain it.
		if p.workers == 0 {
			p.workers++
			go p.drain()
		}
		p.mu.Unlock()
		return nil
	default:
	}

	if p.workers < p.max {
		p.spawnLocked(task)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()
	return couriererrors.LimitExceededErrorf(
		"threadpool exhausted: %d workers busy, queue full", p.max)
}

// drain is a worker started without a seed task; it pulls its first task
// from the queue like any idle worker.
func (p *pool) drain() {
	task, ok := p.next()
	if !ok {
		return
	}
	p.mu.Lock()
	p.active++
	p.mu.Unlock()
	p.work(task)
}

// spawnLocked starts a worker seeded with task. Caller holds p.mu.
func (p *pool) spawnLocked(task func()) {
	p.workers++
	p.active++
	go p.work(task)
}

func (p *pool) work(task func()) {
	for {
		task()

		p.mu.Lock()
		p.active--
		p.mu.Unlock()

		var ok bool
		if task, ok = p.next(); !ok {
			return
		}

		p.mu.Lock()
		p.active++
		p.mu.Unlock()
	}
}

// next blocks for more work, subject to the idle reaping policy. A false
// return means the worker exits.
func (p *pool) next() (func(), bool) {
	if p.alive <= 0 {
		// Permanent workers park on the queue until shutdown.
		task, ok := <-p.queue
		if !ok {
			p.exit()
			return nil, false
		}
		return task, true
	}

	timer := time.NewTimer(p.alive)
	defer timer.Stop()
	select {
	case task, ok := <-p.queue:
		if !ok {
			p.exit()
			return nil, false
		}
		return task, true
	case <-timer.C:
		p.mu.Lock()
		// Keep core workers alive regardless of idleness.
		if p.workers <= p.core {
			p.mu.Unlock()
			return p.next()
		}
		p.workers--
		p.mu.Unlock()
		return nil, false
	}
}

func (p *pool) exit() {
	p.mu.Lock()
	p.workers--
	p.mu.Unlock()
}

func (p *pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

func (p *pool) Shutdown() {
	p.mu.Lock()
	if p.shutdown {
		p.mu.Unlock()
		return
	}
	p.shutdown = true
	close(p.queue)
	p.mu.Unlock()
}
