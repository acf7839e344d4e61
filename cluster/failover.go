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
	"go.uber.org/courier/couriererrors"
	"go.uber.org/courier/extension"
	"go.uber.org/courier/url"
)

// DefaultRetries is the failover retry count when the URL sets none: two
// retries, three attempts total.
const DefaultRetries = 2

func init() {
	p := extension.Default.Point(extension.PointCluster, "failover")
	p.MustRegister("failover", func(ext *extension.Registry) (interface{}, error) {
		var c Cluster = &failoverCluster{ext: ext}
		return c, nil
	})
}

// failoverCluster retries failed calls on other providers. Business errors
// came from the service itself and are never retried.
type failoverCluster struct{ ext *extension.Registry }

func (c *failoverCluster) Join(dir Directory) rpc.Invoker {
	return &failoverInvoker{base: newBase(dir, c.ext)}
}

type failoverInvoker struct{ base }

func (f *failoverInvoker) Invoke(ctx context.Context, inv rpc.Invocation) *rpc.Result {
	invokers, err := f.list(inv)
	if err != nil {
		return rpc.NewErrorResult(err)
	}
	lb, err := f.loadBalance(inv)
	if err != nil {
		return rpc.NewErrorResult(err)
	}

	u := f.URL()
	retries := u.MethodParamInt(inv.MethodName(), url.KeyRetries,
		u.ParamInt(url.KeyRetries, DefaultRetries))
	if retries < 0 {
		retries = 0
	}

	var (
		last  *rpc.Result
		tried []rpc.Invoker
	)
	for attempt := 0; attempt <= retries; attempt++ {
		if attempt > 0 {
			// the provider set may have changed since the last attempt
			if fresh, err := f.list(inv); err == nil {
				invokers = fresh
			}
		}
		picked := f.pick(lb, inv, invokers, tried)
		if picked == nil {
			break
		}
		tried = append(tried, picked)

		result := picked.Invoke(ctx, inv)
		if result.Error() == nil || couriererrors.IsBiz(result.Error()) {
			return result
		}
		last = result
		log().Warn("failover attempt failed",
			zap.String("service", u.ServiceKey()),
			zap.String("method", inv.MethodName()),
			zap.String("provider", picked.URL().Address()),
			zap.Int("attempt", attempt+1),
			zap.Error(result.Error()))
	}

	if last == nil {
		return rpc.NewErrorResult(couriererrors.ForbiddenErrorf(
			"no provider available for %s after routing", u.ServiceKey()))
	}
	return last
}
