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

	"go.uber.org/courier/api/rpc"
	"go.uber.org/courier/extension"
	"go.uber.org/courier/url"
)

func init() {
	p := extension.Default.Point(extension.PointFilter, "")
	p.MustRegister("context",
		func(*extension.Registry) (interface{}, error) {
			var f rpc.Filter = contextFilter{}
			return f, nil
		},
		extension.WithActivation(extension.Activation{
			Group: url.SideConsumer + "," + url.SideProvider,
			Order: 0,
		}))
}

// contextFilter bridges context attachments and invocation attachments.
// On the consumer side it copies caller context attachments onto the
// invocation; on the provider side it exposes the invocation's attachments
// through the handler's context.
type contextFilter struct{}

func (contextFilter) Invoke(ctx context.Context, next rpc.Invoker, inv rpc.Invocation) *rpc.Result {
	if next.URL().Param(url.KeySide, url.SideConsumer) == url.SideConsumer {
		for k, v := range rpc.ContextAttachments(ctx) {
			if inv.Attachment(k, "") == "" {
				inv.SetAttachment(k, v)
			}
		}
		return next.Invoke(ctx, inv)
	}
	return next.Invoke(rpc.WithAttachments(ctx, inv.Attachments()), inv)
}
