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

	"go.uber.org/zap"

	"go.uber.org/courier/api/rpc"
	"go.uber.org/courier/couriererrors"
	"go.uber.org/courier/extension"
	"go.uber.org/courier/url"
)

func init() {
	p := extension.Default.Point(extension.PointFilter, "")
	p.MustRegister("exception",
		func(*extension.Registry) (interface{}, error) {
			var f rpc.Filter = exceptionFilter{}
			return f, nil
		},
		extension.WithActivation(extension.Activation{
			Group: url.SideProvider,
			Order: 90,
		}))
}

// exceptionFilter runs last on the provider side: it recovers panics in the
// service and stamps uncoded errors as business failures so the wire layer
// has a status for them.
type exceptionFilter struct{}

func (exceptionFilter) Invoke(ctx context.Context, next rpc.Invoker, inv rpc.Invocation) (result *rpc.Result) {
	defer func() {
		if r := recover(); r != nil {
			log().Error("service panicked",
				zap.String("service", next.URL().ServiceKey()),
				zap.String("method", inv.MethodName()),
				zap.Any("panic", r))
			result = rpc.NewErrorResult(couriererrors.InternalErrorf(
				"%s.%s panicked: %v", next.URL().ServiceKey(), inv.MethodName(), r))
		}
	}()

	result = next.Invoke(ctx, inv)
	if err := result.Error(); err != nil && !couriererrors.IsStatus(err) {
		return rpc.NewErrorResult(couriererrors.BizErrorf("%s", err.Error())).
			SetAttachments(result.Attachments())
	}
	return result
}
