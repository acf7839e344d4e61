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

package loadbalance

import (
	"math/rand"
	"time"

	"go.uber.org/courier/api/rpc"
	"go.uber.org/courier/cluster"
	"go.uber.org/courier/extension"
	"go.uber.org/courier/url"
)

func init() {
	p := extension.Default.Point(extension.PointLoadBalance, "random")
	p.MustRegister("leastactive", func(*extension.Registry) (interface{}, error) {
		var lb cluster.LoadBalance = &leastActive{status: rpc.GlobalStatus}
		return lb, nil
	})
}

// leastActive narrows the candidates to those with the fewest in-flight
// calls for this method, then picks among the survivors by weight. Slow
// providers accumulate active calls and naturally receive less traffic.
type leastActive struct {
	status *rpc.StatusRegistry
}

func (l *leastActive) Select(invokers []rpc.Invoker, _ *url.URL, inv rpc.Invocation) rpc.Invoker {
	if len(invokers) == 0 {
		return nil
	}
	now := time.Now()

	least := int32(-1)
	var (
		candidates  []int
		weights     []int
		totalWeight int
		uniform     = true
	)
	for i, invoker := range invokers {
		active := l.status.Of(invoker.URL(), inv.MethodName()).Active()
		if least == -1 || active < least {
			least = active
			candidates = candidates[:0]
			weights = weights[:0]
			totalWeight = 0
			uniform = true
		}
		if active == least {
			w := Weight(invoker.URL(), now)
			if len(weights) > 0 && w != weights[0] {
				uniform = false
			}
			candidates = append(candidates, i)
			weights = append(weights, w)
			totalWeight += w
		}
	}

	if len(candidates) == 1 {
		return invokers[candidates[0]]
	}
	if !uniform && totalWeight > 0 {
		offset := rand.Intn(totalWeight)
		for i, w := range weights {
			offset -= w
			if offset < 0 {
				return invokers[candidates[i]]
			}
		}
	}
	return invokers[candidates[rand.Intn(len(candidates))]]
}
