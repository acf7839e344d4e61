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
	"context"

	"go.uber.org/courier/api/rpc"
	"go.uber.org/courier/extension"
	"go.uber.org/courier/url"
)

// DefaultForks is how many providers a forking call races when the URL sets
// no forks parameter.
const DefaultForks = 2

func init() {
	p := extension.Default.Point(extension.PointCluster, "failover")
	p.MustRegister("forking", func(ext *extension.Registry) (interface{}, error) {
		var c Cluster = &forkingCluster{ext: ext}
		return c, nil
	})
}

// forkingCluster races the call on several providers at once and returns
// the first success. Trades resources for tail latency.
type forkingCluster struct{ ext *extension.Registry }

func (c *forkingCluster) Join(dir Directory) rpc.Invoker {
	return &forkingInvoker{base: newBase(dir, c.ext)}
}

type forkingInvoker struct{ base }

func (f *forkingInvoker) Invoke(ctx context.Context, inv rpc.Invocation) *rpc.Result {
	invokers, err := f.list(inv)
	if err != nil {
		return rpc.NewErrorResult(err)
	}
	lb, err := f.loadBalance(inv)
	if err != nil {
		return rpc.NewErrorResult(err)
	}

	forks := f.URL().ParamInt(url.KeyForks, DefaultForks)
	if forks <= 0 || forks > len(invokers) {
		forks = len(invokers)
	}

	var selected []rpc.Invoker
	for len(selected) < forks {
		selected = append(selected, f.pick(lb, inv, invokers, selected))
	}

	results := make(chan *rpc.Result, len(selected))
	for _, picked := range selected {
		picked := picked
		go func() {
			results <- picked.Invoke(ctx, inv)
		}()
	}

	var last *rpc.Result
	for range selected {
		result := <-results
		if result.Error() == nil {
			return result
		}
		last = result
	}
	return last
}
