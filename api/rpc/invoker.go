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

// Package rpc defines the invocation model every layer of the framework
// speaks: Invoker as the callable capability, Invocation as one call,
// Result as its outcome, and Protocol as the factory binding invokers to
// transports.
package rpc

import (
	"context"

	"go.uber.org/courier/url"
)

// Invoker is a callable endpoint, local or remote. Invokers are owned by
// the component that created them; Destroy cascades through wrappers and is
// idempotent. After Destroy, Invoke answers every call with a Result whose
// error has CodeDestroyed.
type Invoker interface {
	// Interface returns the service interface name this invoker serves.
	Interface() string

	// URL returns the descriptor this invoker was built from.
	URL() *url.URL

	// IsAvailable reports whether the invoker can currently serve calls.
	IsAvailable() bool

	// Invoke performs one call. The error channel of the outcome travels
	// inside the Result; Invoke itself never returns a Go error so that
	// cluster policies can pattern-match on the Result's error code.
	Invoke(ctx context.Context, inv Invocation) *Result

	// Destroy releases the invoker's resources. Idempotent.
	Destroy()
}

// Exporter is the lifetime handle of an exported service; Unexport reverses
// the export.
type Exporter interface {
	// Invoker returns the invoker bound by the export.
	Invoker() Invoker

	// Unexport unbinds the service. Idempotent.
	Unexport()
}

// Protocol binds service invokers to servers and builds remote invokers for
// consumers.
type Protocol interface {
	// DefaultPort returns the port used when a URL carries none.
	DefaultPort() int

	// Export binds the invoker to a server at its URL's address.
	Export(invoker Invoker) (Exporter, error)

	// Refer builds an invoker for the remote service described by the URL.
	Refer(u *url.URL) (Invoker, error)

	// Destroy releases every server and client the protocol holds.
	Destroy()
}

// Filter intercepts invocations around an invoker on one side of the call.
// A filter may short-circuit by returning its own Result, rewrite the
// invocation, or post-process the result.
type Filter interface {
	Invoke(ctx context.Context, next Invoker, inv Invocation) *Result
}

// FilterFunc adapts a function to the Filter interface.
type FilterFunc func(ctx context.Context, next Invoker, inv Invocation) *Result

// Invoke calls f.
func (f FilterFunc) Invoke(ctx context.Context, next Invoker, inv Invocation) *Result {
	return f(ctx, next, inv)
}

// ExportListener observes exporter lifetimes.
type ExportListener interface {
	Exported(Exporter)
	Unexported(Exporter)
}

// ReferListener observes referred invoker lifetimes.
type ReferListener interface {
	Referred(Invoker)
	Destroyed(Invoker)
}
