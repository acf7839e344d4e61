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

// Package cluster turns a set of candidate invokers into one virtual
// invoker: a directory supplies and routes the candidates, a load balancer
// picks one, and a fault policy decides what happens when a pick fails.
package cluster

import (
	"go.uber.org/courier/api/rpc"
	"go.uber.org/courier/url"
)

// Directory is a live view of a service's candidate invokers. List returns
// the candidates after routing; the slice must be treated as read-only.
type Directory interface {
	URL() *url.URL
	List(inv rpc.Invocation) ([]rpc.Invoker, error)
	IsAvailable() bool
	Destroy()
}

// Router narrows a candidate list for one invocation.
type Router interface {
	// Route filters invokers. consumer is the subscriber-side URL.
	Route(invokers []rpc.Invoker, consumer *url.URL, inv rpc.Invocation) []rpc.Invoker

	// URL returns the rule URL the router was built from.
	URL() *url.URL

	// Priority orders routers; lower runs first.
	Priority() int
}

// RouterFactory builds a Router from a rule URL.
type RouterFactory interface {
	NewRouter(u *url.URL) (Router, error)
}

// LoadBalance picks one invoker from a non-empty candidate list.
type LoadBalance interface {
	Select(invokers []rpc.Invoker, consumer *url.URL, inv rpc.Invocation) rpc.Invoker
}

// Cluster joins a directory into a single invoker implementing one fault
// policy.
type Cluster interface {
	Join(dir Directory) rpc.Invoker
}
