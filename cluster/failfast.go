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
)

func init() {
	p := extension.Default.Point(extension.PointCluster, "failover")
	p.MustRegister("failfast", func(ext *extension.Registry) (interface{}, error) {
		var c Cluster = &failfastCluster{ext: ext}
		return c, nil
	})
}

// failfastCluster makes exactly one attempt and surfaces its outcome.
type failfastCluster struct{ ext *extension.Registry }

func (c *failfastCluster) Join(dir Directory) rpc.Invoker {
	return &failfastInvoker{base: newBase(dir, c.ext)}
}

type failfastInvoker struct{ base }

func (f *failfastInvoker) Invoke(ctx context.Context, inv rpc.Invocation) *rpc.Result {
	invokers, err := f.list(inv)
	if err != nil {
		return rpc.NewErrorResult(err)
	}
	lb, err := f.loadBalance(inv)
	if err != nil {
		return rpc.NewErrorResult(err)
	}
	return f.pick(lb, inv, invokers, nil).Invoke(ctx, inv)
}
