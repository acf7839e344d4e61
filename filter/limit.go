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

package filter

import (
	"context"
	"time"

	"go.uber.org/courier/api/rpc"
	"go.uber.org/courier/couriererrors"
	"go.uber.org/courier/extension"
	"go.uber.org/courier/url"
)

func init() {
	p := extension.Default.Point(extension.PointFilter, "")
	p.MustRegister("activelimit",
		func(*extension.Registry) (interface{}, error) {
			var f rpc.Filter = &concurrencyLimit{
				key:    url.KeyActives,
				status: rpc.GlobalStatus,
			}
			return f, nil
		},
		extension.WithActivation(extension.Activation{
			Group: url.SideConsumer,
			Keys:  []string{url.KeyActives},
			Order: 70,
		}))
	p.MustRegister("executelimit",
		func(*extension.Registry) (interface{}, error) {
			var f rpc.Filter = &concurrencyLimit{
				key:    url.KeyExecutes,
				status: rpc.GlobalStatus,
			}
			return f, nil
		},
		extension.WithActivation(extension.Activation{
			Group: url.SideProvider,
			Keys:  []string{url.KeyExecutes},
			Order: 70,
		}))
}

// concurrencyLimit caps in-flight calls per method. The consumer variant
// reads the actives parameter, the provider variant executes; both count
// through the shared status registry so the leastactive balancer sees the
// same numbers.
type concurrencyLimit struct {
	key    string
	status *rpc.StatusRegistry
}

func (c *concurrencyLimit) Invoke(ctx context.Context, next rpc.Invoker, inv rpc.Invocation) *rpc.Result {
	u := next.URL()
	method := inv.MethodName()
	limit := u.MethodParamInt(method, c.key, u.ParamInt(c.key, 0))

	if limit > 0 && int(c.status.Of(u, method).Active()) >= limit {
		return rpc.NewErrorResult(couriererrors.LimitExceededErrorf(
			"%s.%s has %d concurrent calls, limit %d by %s",
			u.ServiceKey(), method, c.status.Of(u, method).Active(), limit, c.key))
	}

	c.status.BeginCount(u, method)
	start := time.Now()
	result := next.Invoke(ctx, inv)
	c.status.EndCount(u, method, time.Since(start), !result.Failed())
	return result
}
