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
	"crypto/subtle"

	"go.uber.org/courier/api/rpc"
	"go.uber.org/courier/couriererrors"
	"go.uber.org/courier/extension"
	"go.uber.org/courier/url"
)

func init() {
	p := extension.Default.Point(extension.PointFilter, "")
	p.MustRegister("token",
		func(*extension.Registry) (interface{}, error) {
			var f rpc.Filter = tokenFilter{}
			return f, nil
		},
		extension.WithActivation(extension.Activation{
			Group: url.SideProvider,
			Keys:  []string{url.KeyToken},
			Order: 50,
		}))
}

// tokenFilter refuses calls whose token attachment does not match the
// exported URL's token parameter. Providers hand the token to consumers
// through the registry; a caller that bypassed the registry does not have
// it.
type tokenFilter struct{}

func (tokenFilter) Invoke(ctx context.Context, next rpc.Invoker, inv rpc.Invocation) *rpc.Result {
	want := next.URL().Param(url.KeyToken, "")
	if want == "" {
		return next.Invoke(ctx, inv)
	}
	got := inv.Attachment(rpc.AttachmentToken, "")
	if subtle.ConstantTimeCompare([]byte(want), []byte(got)) != 1 {
		return rpc.NewErrorResult(couriererrors.ForbiddenErrorf(
			"invalid token for %s.%s", next.URL().ServiceKey(), inv.MethodName()))
	}
	return next.Invoke(ctx, inv)
}
