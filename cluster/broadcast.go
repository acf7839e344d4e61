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
	p.MustRegister("broadcast", func(ext *extension.Registry) (interface{}, error) {
		var c Cluster = &broadcastCluster{ext: ext}
		return c, nil
	})
}

// broadcastCluster calls every provider. No provider is skipped because an
// earlier one failed; the first error is what the caller sees at the end.
// For cache-invalidation style fan-out.
type broadcastCluster struct{ ext *extension.Registry }

func (c *broadcastCluster) Join(dir Directory) rpc.Invoker {
	return &broadcastInvoker{base: newBase(dir, c.ext)}
}

type broadcastInvoker struct{ base }

func (b *broadcastInvoker) Invoke(ctx context.Context, inv rpc.Invocation) *rpc.Result {
	invokers, err := b.list(inv)
	if err != nil {
		return rpc.NewErrorResult(err)
	}

	var (
		firstErr error
		last     *rpc.Result
	)
	for _, invoker := range invokers {
		result := invoker.Invoke(ctx, inv)
		last = result
		if err := result.Error(); err != nil && firstErr == nil {
			firstErr = err
			log().Warn("broadcast call failed on provider",
				zap.String("service", b.URL().ServiceKey()),
				zap.String("provider", invoker.URL().Address()),
				zap.Error(err))
		}
	}
	if firstErr != nil {
		return rpc.NewErrorResult(firstErr)
	}
	return last
}
