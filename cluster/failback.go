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
	"sync"
	"time"

	"go.uber.org/zap"

	"go.uber.org/courier/api/rpc"
	"go.uber.org/courier/extension"
)

// Failback retry schedule.
const (
	DefaultFailbackTries  = 3
	DefaultFailbackPeriod = 5 * time.Second
)

func init() {
	p := extension.Default.Point(extension.PointCluster, "failover")
	p.MustRegister("failback", func(ext *extension.Registry) (interface{}, error) {
		var c Cluster = &failbackCluster{ext: ext}
		return c, nil
	})
}

// failbackCluster acknowledges failed calls immediately and replays them in
// background until they succeed or run out of tries. Fire-and-forget
// semantics for notification-style traffic.
type failbackCluster struct{ ext *extension.Registry }

func (c *failbackCluster) Join(dir Directory) rpc.Invoker {
	return &failbackInvoker{base: newBase(dir, c.ext), stop: make(chan struct{})}
}

type failbackInvoker struct {
	base

	mu      sync.Mutex
	pending []*failbackTask
	started bool
	stop    chan struct{}
}

type failbackTask struct {
	inv  rpc.Invocation
	left int
}

func (f *failbackInvoker) Invoke(ctx context.Context, inv rpc.Invocation) *rpc.Result {
	result := f.once(ctx, inv)
	if err := result.Error(); err != nil {
		log().Warn("failback call failed, scheduling retry",
			zap.String("service", f.URL().ServiceKey()),
			zap.String("method", inv.MethodName()),
			zap.Error(err))
		f.schedule(inv)
		return rpc.NewResult(nil)
	}
	return result
}

func (f *failbackInvoker) once(ctx context.Context, inv rpc.Invocation) *rpc.Result {
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

func (f *failbackInvoker) schedule(inv rpc.Invocation) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pending = append(f.pending, &failbackTask{inv: inv, left: DefaultFailbackTries})
	if !f.started {
		f.started = true
		go f.retryLoop()
	}
}

func (f *failbackInvoker) retryLoop() {
	ticker := time.NewTicker(DefaultFailbackPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-f.stop:
			return
		case <-ticker.C:
		}

		f.mu.Lock()
		tasks := f.pending
		f.pending = nil
		f.mu.Unlock()

		for _, task := range tasks {
			if f.once(context.Background(), task.inv).Error() == nil {
				continue
			}
			task.left--
			if task.left <= 0 {
				log().Error("failback retries exhausted, dropping call",
					zap.String("service", f.URL().ServiceKey()),
					zap.String("method", task.inv.MethodName()))
				continue
			}
			f.mu.Lock()
			f.pending = append(f.pending, task)
			f.mu.Unlock()
		}
	}
}

func (f *failbackInvoker) Destroy() {
	f.mu.Lock()
	if f.started {
		f.started = false
		close(f.stop)
	}
	f.pending = nil
	f.mu.Unlock()
	f.base.Destroy()
}
