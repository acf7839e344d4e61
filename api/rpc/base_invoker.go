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
	"context"

	"go.uber.org/atomic"

	"go.uber.org/courier/couriererrors"
	"go.uber.org/courier/url"
)

// BaseInvoker carries the URL, availability, and idempotent destruction
// shared by every concrete invoker. Embedders override Invoke and may
// override Destroy, calling the embedded one first.
type BaseInvoker struct {
	u         *url.URL
	available atomic.Bool
	destroyed atomic.Bool
}

// NewBaseInvoker returns an available invoker for the URL.
func NewBaseInvoker(u *url.URL) *BaseInvoker {
	b := &BaseInvoker{u: u}
	b.available.Store(true)
	return b
}

// Interface returns the service interface name from the URL.
func (b *BaseInvoker) Interface() string { return b.u.Interface() }

// URL returns the invoker's descriptor.
func (b *BaseInvoker) URL() *url.URL { return b.u }

// IsAvailable reports availability; false once destroyed.
func (b *BaseInvoker) IsAvailable() bool {
	return b.available.Load() && !b.destroyed.Load()
}

// SetAvailable flips availability without destroying.
func (b *BaseInvoker) SetAvailable(ok bool) { b.available.Store(ok) }

// IsDestroyed reports whether Destroy ran.
func (b *BaseInvoker) IsDestroyed() bool { return b.destroyed.Load() }

// Destroy marks the invoker destroyed. Idempotent; DestroyOnce tells the
// embedder whether this call was the first.
func (b *BaseInvoker) Destroy() {
	b.destroyed.Store(true)
	b.available.Store(false)
}

// DestroyOnce marks the invoker destroyed and reports whether this call did
// the marking. Embedders gate their own teardown on it.
func (b *BaseInvoker) DestroyOnce() bool {
	first := b.destroyed.CompareAndSwap(false, true)
	if first {
		b.available.Store(false)
	}
	return first
}

// Invoke fails: BaseInvoker is not callable on its own.
func (b *BaseInvoker) Invoke(context.Context, Invocation) *Result {
	return NewErrorResult(couriererrors.InternalErrorf(
		"invoker for %s does not implement Invoke", b.u.ServiceKey()))
}

// DestroyedResult is the permanent answer of a destroyed invoker.
func DestroyedResult(u *url.URL, inv Invocation) *Result {
	return NewErrorResult(couriererrors.DestroyedErrorf(
		"invoker for %s already destroyed, cannot invoke %s", u.ServiceKey(), inv.MethodName()))
}
