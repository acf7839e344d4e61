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
	"sync"
	"time"

	"go.uber.org/net/metrics"
	"go.uber.org/net/metrics/bucket"
	"go.uber.org/zap"

	"go.uber.org/courier/api/rpc"
	"go.uber.org/courier/couriererrors"
	"go.uber.org/courier/extension"
	"go.uber.org/courier/url"
)

var (
	metricsOnce sync.Once
	metricsRoot *metrics.Root
)

// MetricsRoot returns the process-wide metrics registry the metrics filter
// reports into; callers mount its pages on their own mux.
func MetricsRoot() *metrics.Root {
	metricsOnce.Do(func() { metricsRoot = metrics.New() })
	return metricsRoot
}

func init() {
	p := extension.Default.Point(extension.PointFilter, "")
	p.MustRegister("metrics",
		func(*extension.Registry) (interface{}, error) {
			return newMetricsFilter(MetricsRoot().Scope()), nil
		},
		extension.WithActivation(extension.Activation{
			Group: url.SideConsumer + "," + url.SideProvider,
			Order: 20,
		}))
}

// metricsFilter counts calls, failures by error code, and latency per
// (service, method).
type metricsFilter struct {
	calls     *metrics.CounterVector
	failures  *metrics.CounterVector
	latencies *metrics.HistogramVector
}

func newMetricsFilter(meter *metrics.Scope) rpc.Filter {
	calls, err := meter.CounterVector(metrics.Spec{
		Name:    "calls",
		Help:    "Total number of RPCs.",
		VarTags: []string{"service", "method"},
	})
	if err != nil {
		log().Error("Failed to create calls counter.", zap.Error(err))
	}
	failures, err := meter.CounterVector(metrics.Spec{
		Name:    "failures",
		Help:    "Number of failed RPCs.",
		VarTags: []string{"service", "method", "error"},
	})
	if err != nil {
		log().Error("Failed to create failures counter.", zap.Error(err))
	}
	latencies, err := meter.HistogramVector(metrics.HistogramSpec{
		Spec: metrics.Spec{
			Name:    "latency_ms",
			Help:    "Latency distribution of RPCs.",
			VarTags: []string{"service", "method"},
		},
		Unit:    time.Millisecond,
		Buckets: bucket.NewRPCLatency(),
	})
	if err != nil {
		log().Error("Failed to create latency distribution.", zap.Error(err))
	}
	return &metricsFilter{calls: calls, failures: failures, latencies: latencies}
}

func (m *metricsFilter) Invoke(ctx context.Context, next rpc.Invoker, inv rpc.Invocation) *rpc.Result {
	service := next.URL().ServiceKey()
	method := inv.MethodName()

	start := time.Now()
	result := next.Invoke(ctx, inv)
	elapsed := time.Since(start)

	if m.calls != nil {
		m.calls.MustGet("service", service, "method", method).Inc()
	}
	if m.latencies != nil {
		m.latencies.MustGet("service", service, "method", method).Observe(elapsed)
	}
	if err := result.Error(); err != nil && m.failures != nil {
		m.failures.MustGet("service", service, "method", method,
			"error", couriererrors.FromError(err).Code().String()).Inc()
	}
	return result
}
