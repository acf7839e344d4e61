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

	"github.com/opentracing/opentracing-go"
	"github.com/opentracing/opentracing-go/ext"

	"go.uber.org/courier/api/rpc"
	"go.uber.org/courier/extension"
	"go.uber.org/courier/url"
)

func init() {
	p := extension.Default.Point(extension.PointFilter, "")
	p.MustRegister("tracing",
		func(*extension.Registry) (interface{}, error) {
			var f rpc.Filter = tracingFilter{}
			return f, nil
		},
		extension.WithActivation(extension.Activation{
			Group: url.SideConsumer + "," + url.SideProvider,
			Order: 30,
		}))
}

// tracingFilter spans every call with the global opentracing tracer. The
// consumer side injects the span context into the invocation attachments;
// the provider side extracts it and continues the trace.
type tracingFilter struct{}

func (tracingFilter) Invoke(ctx context.Context, next rpc.Invoker, inv rpc.Invocation) *rpc.Result {
	tracer := opentracing.GlobalTracer()
	operation := next.URL().ServiceKey() + "::" + inv.MethodName()
	tags := opentracing.Tags{
		"rpc.service": next.URL().ServiceKey(),
		"rpc.method":  inv.MethodName(),
	}

	var span opentracing.Span
	if next.URL().Param(url.KeySide, url.SideConsumer) == url.SideConsumer {
		var parent opentracing.SpanContext
		if parentSpan := opentracing.SpanFromContext(ctx); parentSpan != nil {
			parent = parentSpan.Context()
		}
		span = tracer.StartSpan(operation, opentracing.ChildOf(parent), tags)
		ext.SpanKindRPCClient.Set(span)

		carrier := opentracing.TextMapCarrier(map[string]string{})
		if err := tracer.Inject(span.Context(), opentracing.TextMap, carrier); err == nil {
			for k, v := range carrier {
				inv.SetAttachment(k, v)
			}
		}
	} else {
		carrier := opentracing.TextMapCarrier(inv.Attachments())
		// parent may be nil, RPCServerOption handles a nil parent
		parent, _ := tracer.Extract(opentracing.TextMap, carrier)
		span = tracer.StartSpan(operation, ext.RPCServerOption(parent), tags)
	}
	defer span.Finish()

	result := next.Invoke(opentracing.ContextWithSpan(ctx, span), inv)
	if err := result.Error(); err != nil {
		ext.Error.Set(span, true)
		span.LogKV("event", "error", "message", err.Error())
	}
	return result
}
