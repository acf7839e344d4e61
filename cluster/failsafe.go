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

	"go.uber.org/zap"

	"go.uber.org/courier/api/rpc"
	"go.uber.org/courier/extension"
)

func init() {
	p := extension.Default.Point(extension.PointCluster, "failover")
	p.MustRegister("failsafe", func(ext *extension.Registry) (interface{}, error) {
		var c Cluster = &failsafeCluster{ext: ext}
		return c, nil
	})
}

// failsafeCluster swallows failures: the caller always gets an empty
// successful result, the error only reaches the log. For telemetry-grade
// calls that must never hurt the caller.
type failsafeCluster struct{ ext *extension.Registry }

func (c *failsafeCluster) Join(dir Directory) rpc.Invoker {
	return &failsafeInvoker{base: newBase(dir, c.ext)}
}

type failsafeInvoker struct{ base }

func (f *failsafeInvoker) Invoke(ctx context.Context, inv rpc.Invocation) *rpc.Result {
	result := func() *rpc.Result {
		invokers, err := f.list(inv)
		if err != nil {
			return rpc.NewErrorResult(err)
		}
		lb, err := f.loadBalance(inv)
		if err != nil {
			return rpc.NewErrorResult(err)
		}
		return f.pick(lb, inv, invokers, nil).Invoke(ctx, inv)
	}()

	if err := result.Error(); err != nil {
		log().Warn("failsafe call failed, ignoring",
			zap.String("service", f.URL().ServiceKey()),
			zap.String("method", inv.MethodName()),
			zap.Error(err))
		return rpc.NewResult(nil)
	}
	return result
}
