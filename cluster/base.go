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

package cluster

import (
	"sync"

	"go.uber.org/atomic"

	"go.uber.org/courier/api/rpc"
	"go.uber.org/courier/couriererrors"
	"go.uber.org/courier/extension"
	"go.uber.org/courier/url"
)

// DefaultLoadBalance is the balancer used when the URL names none.
const DefaultLoadBalance = "random"

// base carries what every policy invoker shares: the directory, candidate
// listing, balancer resolution, and sticky selection.
type base struct {
	dir       Directory
	ext       *extension.Registry
	destroyed atomic.Bool

	stickyMu sync.Mutex
	sticky   rpc.Invoker
}

func newBase(dir Directory, ext *extension.Registry) base {
	if ext == nil {
		ext = extension.Default
	}
	return base{dir: dir, ext: ext}
}

func (b *base) URL() *url.URL { return b.dir.URL() }

func (b *base) Interface() string { return b.dir.URL().Interface() }

func (b *base) IsAvailable() bool {
	return !b.destroyed.Load() && b.dir.IsAvailable()
}

func (b *base) Destroy() {
	if b.destroyed.CompareAndSwap(false, true) {
		b.dir.Destroy()
	}
}

// list returns the routed candidates, failing with Forbidden when none
// remain so the caller can tell "no provider" from "call failed".
func (b *base) list(inv rpc.Invocation) ([]rpc.Invoker, error) {
	if b.destroyed.Load() {
		return nil, couriererrors.DestroyedErrorf(
			"cluster invoker for %s is destroyed", b.dir.URL().ServiceKey())
	}
	invokers, err := b.dir.List(inv)
	if err != nil {
		return nil, err
	}
	if len(invokers) == 0 {
		return nil, couriererrors.ForbiddenErrorf(
			"no provider available for %s from %s",
			b.dir.URL().ServiceKey(), b.dir.URL().Address())
	}
	return invokers, nil
}

// loadBalance resolves the balancer for this invocation: method parameter
// first, then the service parameter, then the default.
func (b *base) loadBalance(inv rpc.Invocation) (LoadBalance, error) {
	u := b.dir.URL()
	name := u.MethodParam(inv.MethodName(), url.KeyLoadBalance,
		u.Param(url.KeyLoadBalance, ""))
	p := b.ext.Point(extension.PointLoadBalance, DefaultLoadBalance)
	if name == "" {
		name = p.DefaultName()
	}
	v, err := p.Get(name)
	if err != nil {
		return nil, err
	}
	lb, ok := v.(LoadBalance)
	if !ok {
		return nil, couriererrors.InternalErrorf("extension %q is %T, not a load balancer", name, v)
	}
	return lb, nil
}

// pick selects one candidate, skipping already-tried and unavailable
// invokers when alternatives exist. With sticky enabled the previous pick is
// reused as long as it is still listed and alive.
func (b *base) pick(lb LoadBalance, inv rpc.Invocation, invokers, tried []rpc.Invoker) rpc.Invoker {
	u := b.dir.URL()
	sticky := u.MethodParam(inv.MethodName(), url.KeySticky, u.Param(url.KeySticky, "false")) == "true"

	if sticky {
		b.stickyMu.Lock()
		last := b.sticky
		b.stickyMu.Unlock()
		if last != nil && last.IsAvailable() && contains(invokers, last) && !contains(tried, last) {
			return last
		}
	}

	candidates := filter(invokers, func(i rpc.Invoker) bool {
		return i.IsAvailable() && !contains(tried, i)
	})
	if len(candidates) == 0 {
		candidates = filter(invokers, func(i rpc.Invoker) bool {
			return !contains(tried, i)
		})
	}
	if len(candidates) == 0 {
		candidates = invokers
	}

	var picked rpc.Invoker
	if len(candidates) == 1 {
		picked = candidates[0]
	} else {
		picked = lb.Select(candidates, u, inv)
	}
	if sticky && picked != nil {
		b.stickyMu.Lock()
		b.sticky = picked
		b.stickyMu.Unlock()
	}
	return picked
}

func contains(invokers []rpc.Invoker, target rpc.Invoker) bool {
	for _, i := range invokers {
		if i == target {
			return true
		}
	}
	return false
}

func filter(invokers []rpc.Invoker, keep func(rpc.Invoker) bool) []rpc.Invoker {
	var out []rpc.Invoker
	for _, i := range invokers {
		if keep(i) {
			out = append(out, i)
		}
	}
	return out
}
