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
	p.MustRegister("random", func(*extension.Registry) (interface{}, error) {
		var lb cluster.LoadBalance = &random{}
		return lb, nil
	})
}

// random picks proportionally to effective weight; with uniform weights it
// degenerates to a plain uniform pick without summing anything twice.
type random struct{}

func (r *random) Select(invokers []rpc.Invoker, _ *url.URL, _ rpc.Invocation) rpc.Invoker {
	if len(invokers) == 0 {
		return nil
	}
	now := time.Now()
	weights := make([]int, len(invokers))
	total := 0
	uniform := true
	for i, invoker := range invokers {
		w := Weight(invoker.URL(), now)
		weights[i] = w
		total += w
		if i > 0 && w != weights[0] {
			uniform = false
		}
	}

	if !uniform && total > 0 {
		offset := rand.Intn(total)
		for i, w := range weights {
			offset -= w
			if offset < 0 {
				return invokers[i]
			}
		}
	}
	return invokers[rand.Intn(len(invokers))]
}
