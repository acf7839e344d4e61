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

package rpc

import (
	"sync"
	"time"

	"go.uber.org/atomic"

	"go.uber.org/courier/url"
)

// Status accumulates per-endpoint call counters. The leastactive balancer
// and the limit filters read them; the invocation path updates them around
// every call.
type Status struct {
	active           atomic.Int32
	total            atomic.Int64
	failed           atomic.Int64
	succeededElapsed atomic.Int64
	failedElapsed    atomic.Int64
}

// Active returns the number of in-flight calls.
func (s *Status) Active() int32 { return s.active.Load() }

// Total returns the number of completed calls.
func (s *Status) Total() int64 { return s.total.Load() }

// Failed returns the number of failed calls.
func (s *Status) Failed() int64 { return s.failed.Load() }

// SucceededElapsed returns the cumulative latency of successful calls.
func (s *Status) SucceededElapsed() time.Duration {
	return time.Duration(s.succeededElapsed.Load())
}

// FailedElapsed returns the cumulative latency of failed calls.
func (s *Status) FailedElapsed() time.Duration {
	return time.Duration(s.failedElapsed.Load())
}

// StatusRegistry tracks Status per URL and per (URL, method).
type StatusRegistry struct {
	mu       sync.RWMutex
	services map[string]*Status
	methods  map[string]*Status
}

// NewStatusRegistry returns an empty registry. Tests take a fresh one; the
// production wiring shares GlobalStatus.
func NewStatusRegistry() *StatusRegistry {
	return &StatusRegistry{
		services: make(map[string]*Status),
		methods:  make(map[string]*Status),
	}
}

// GlobalStatus is the process-wide status registry.
var GlobalStatus = NewStatusRegistry()

func (r *StatusRegistry) service(u *url.URL) *Status {
	key := u.Address() + "/" + u.ServiceKey()
	r.mu.RLock()
	s, ok := r.services[key]
	r.mu.RUnlock()
	if ok {
		return s
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok = r.services[key]; ok {
		return s
	}
	s = &Status{}
	r.services[key] = s
	return s
}

// Of returns the Status for (url, method), creating it on first use.
func (r *StatusRegistry) Of(u *url.URL, method string) *Status {
	key := u.Address() + "/" + u.ServiceKey() + "#" + method
	r.mu.RLock()
	s, ok := r.methods[key]
	r.mu.RUnlock()
	if ok {
		return s
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok = r.methods[key]; ok {
		return s
	}
	s = &Status{}
	r.methods[key] = s
	return s
}

// BeginCount marks a call started on both the service-level and the
// method-level Status.
func (r *StatusRegistry) BeginCount(u *url.URL, method string) {
	r.service(u).active.Inc()
	r.Of(u, method).active.Inc()
}

// EndCount marks a call finished with the given elapsed time and outcome.
func (r *StatusRegistry) EndCount(u *url.URL, method string, elapsed time.Duration, succeeded bool) {
	for _, s := range []*Status{r.service(u), r.Of(u, method)} {
		s.active.Dec()
		s.total.Inc()
		if succeeded {
			s.succeededElapsed.Add(int64(elapsed))
		} else {
			s.failed.Inc()
			s.failedElapsed.Add(int64(elapsed))
		}
	}
}
