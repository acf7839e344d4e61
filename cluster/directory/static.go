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

// Package directory supplies candidate invokers to a cluster: a fixed list,
// or a live view fed by registry notifications.
package directory

import (
	"sort"

	"go.uber.org/atomic"

	"go.uber.org/courier/api/rpc"
	"go.uber.org/courier/cluster"
	"go.uber.org/courier/couriererrors"
	"go.uber.org/courier/url"
)

// Static serves a fixed invoker list, optionally behind routers. Used for
// point-to-point references and tests.
type Static struct {
	u         *url.URL
	invokers  []rpc.Invoker
	routers   []cluster.Router
	destroyed atomic.Bool
}

// StaticOption configures a Static directory.
type StaticOption func(*Static)

// WithRouters installs routers applied on every List.
func WithRouters(routers ...cluster.Router) StaticOption {
	return func(s *Static) {
		s.routers = append(s.routers, routers...)
	}
}

// NewStatic builds a directory over a fixed invoker list.
func NewStatic(u *url.URL, invokers []rpc.Invoker, opts ...StaticOption) *Static {
	s := &Static{u: u, invokers: invokers}
	for _, opt := range opts {
		opt(s)
	}
	sortRouters(s.routers)
	return s
}

// URL returns the directory's descriptor.
func (s *Static) URL() *url.URL { return s.u }

// List returns the routed invokers.
func (s *Static) List(inv rpc.Invocation) ([]rpc.Invoker, error) {
	if s.destroyed.Load() {
		return nil, couriererrors.DestroyedErrorf("directory for %s is destroyed", s.u.ServiceKey())
	}
	return route(s.routers, s.invokers, s.u, inv), nil
}

// IsAvailable reports whether any invoker can serve.
func (s *Static) IsAvailable() bool {
	if s.destroyed.Load() {
		return false
	}
	for _, invoker := range s.invokers {
		if invoker.IsAvailable() {
			return true
		}
	}
	return false
}

// Destroy destroys every invoker. Idempotent.
func (s *Static) Destroy() {
	if !s.destroyed.CompareAndSwap(false, true) {
		return
	}
	for _, invoker := range s.invokers {
		invoker.Destroy()
	}
}

func sortRouters(routers []cluster.Router) {
	sort.SliceStable(routers, func(i, j int) bool {
		return routers[i].Priority() < routers[j].Priority()
	})
}

func route(routers []cluster.Router, invokers []rpc.Invoker, consumer *url.URL, inv rpc.Invocation) []rpc.Invoker {
	out := invokers
	for _, r := range routers {
		out = r.Route(out, consumer, inv)
		if len(out) == 0 {
			break
		}
	}
	return out
}
