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

	"go.uber.org/zap"

	"go.uber.org/courier/api/rpc"
	"go.uber.org/courier/extension"
	"go.uber.org/courier/url"
)

func init() {
	p := extension.Default.Point(extension.PointFilter, "")
	p.MustRegister("accesslog",
		func(*extension.Registry) (interface{}, error) {
			var f rpc.Filter = accessLogFilter{}
			return f, nil
		},
		extension.WithActivation(extension.Activation{
			Group: url.SideProvider,
			Keys:  []string{url.KeyAccessLog},
			Order: 40,
		}))
}

// accessLogFilter writes one structured log line per served call.
type accessLogFilter struct{}

func (accessLogFilter) Invoke(ctx context.Context, next rpc.Invoker, inv rpc.Invocation) *rpc.Result {
	start := time.Now()
	result := next.Invoke(ctx, inv)

	fields := []zap.Field{
		zap.String("service", next.URL().ServiceKey()),
		zap.String("method", inv.MethodName()),
		zap.String("remote", inv.Attachment(rpc.AttachmentInterface, "")),
		zap.Duration("elapsed", time.Since(start)),
	}
	if err := result.Error(); err != nil {
		log().Warn("call failed", append(fields, zap.Error(err))...)
	} else {
		log().Info("call served", fields...)
	}
	return result
}
