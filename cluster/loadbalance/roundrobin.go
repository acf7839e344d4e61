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
	"sync"
	"time"

	"go.uber.org/courier/api/rpc"
	"go.uber.org/courier/cluster"
	"go.uber.org/courier/extension"
	"go.uber.org/courier/url"
)

func init() {
	p := extension.Default.Point(extension.PointLoadBalance, "random")
	p.MustRegister("roundrobin", func(*extension.Registry) (interface{}, error) {
		var lb cluster.LoadBalance = newRoundRobin()
		return lb, nil
	})
}

// roundRobin is smooth weighted round-robin: each pick adds every
// provider's effective weight to its running current value, takes the
// largest, and subtracts the total from the winner. Weighted fairness
// without bursts to the heaviest provider.
type roundRobin struct {
	mu     sync.Mutex
	rounds map[string]map[string]*wrr // service::method → provider identity → state
}

type wrr struct {
	current int
}

func newRoundRobin() *roundRobin {
	return &roundRobin{rounds: make(map[string]map[string]*wrr)}
}

func (r *roundRobin) Select(invokers []rpc.Invoker, consumer *url.URL, inv rpc.Invocation) rpc.Invoker {
	if len(invokers) == 0 {
		return nil
	}
	key := consumer.ServiceKey() + "::" + inv.MethodName()
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()
	round, ok := r.rounds[key]
	if !ok {
		round = make(map[string]*wrr)
		r.rounds[key] = round
	}

	total := 0
	var (
		best        rpc.Invoker
		bestState   *wrr
		bestCurrent int
	)
	for _, invoker := range invokers {
		id := invoker.URL().Identity()
		state, ok := round[id]
		if !ok {
			state = &wrr{}
			round[id] = state
		}
		w := Weight(invoker.URL(), now)
		state.current += w
		total += w
		if best == nil || state.current > bestCurrent {
			best = invoker
			bestState = state
			bestCurrent = state.current
		}
	}
	bestState.current -= total
	return best
}
