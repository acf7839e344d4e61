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

// Package filter holds the invocation interceptors and the chain builder
// that wraps them around an invoker. Filters activate by URL side and
// parameters through the extension registry; the filter parameter adds,
// orders, and suppresses them per service.
package filter

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"go.uber.org/courier/api/rpc"
	"go.uber.org/courier/couriererrors"
	"go.uber.org/courier/extension"
	"go.uber.org/courier/url"
)

var (
	loggerMu sync.RWMutex
	logger   = zap.NewNop()
)

// SetLogger installs the logger the logging filters write to. The default
// is a nop logger.
func SetLogger(l *zap.Logger) {
	loggerMu.Lock()
	defer loggerMu.Unlock()
	logger = l
}

func log() *zap.Logger {
	loggerMu.RLock()
	defer loggerMu.RUnlock()
	return logger
}

// BuildChain wraps invoker with the filters activated for u on the given
// side (url.SideProvider or url.SideConsumer). The first activated filter
// sees the invocation first.
func BuildChain(invoker rpc.Invoker, u *url.URL, reg *extension.Registry, side string) (rpc.Invoker, error) {
	point := reg.Point(extension.PointFilter, "")
	activated, err := point.Activate(u, url.KeyFilter, side)
	if err != nil {
		return nil, err
	}

	chained := invoker
	for i := len(activated) - 1; i >= 0; i-- {
		f, ok := activated[i].(rpc.Filter)
		if !ok {
			return nil, couriererrors.InternalErrorf(
				"extension %T at point %q is not a filter", activated[i], extension.PointFilter)
		}
		chained = &filterInvoker{next: chained, filter: f, tail: invoker}
	}
	return chained, nil
}

// filterInvoker is one link of a chain: it runs its filter with the rest of
// the chain as the continuation.
type filterInvoker struct {
	next   rpc.Invoker
	filter rpc.Filter
	tail   rpc.Invoker
}

var _ rpc.Invoker = (*filterInvoker)(nil)

func (f *filterInvoker) Interface() string { return f.tail.Interface() }

func (f *filterInvoker) URL() *url.URL { return f.tail.URL() }

func (f *filterInvoker) IsAvailable() bool { return f.tail.IsAvailable() }

func (f *filterInvoker) Destroy() { f.tail.Destroy() }

func (f *filterInvoker) Invoke(ctx context.Context, inv rpc.Invocation) *rpc.Result {
	return f.filter.Invoke(ctx, f.next, inv)
}
