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
	"go.uber.org/courier/couriererrors"
	"go.uber.org/courier/extension"
	"go.uber.org/courier/url"
)

// GenericMethod is the umbrella method name of generic invocations: its
// three arguments are the real method, the type descriptors, and the
// argument list.
const GenericMethod = "$invoke"

func init() {
	p := extension.Default.Point(extension.PointFilter, "")
	p.MustRegister("generic",
		func(*extension.Registry) (interface{}, error) {
			var f rpc.Filter = genericFilter{}
			return f, nil
		},
		extension.WithActivation(extension.Activation{
			Group: url.SideConsumer,
			Keys:  []string{url.KeyGeneric},
			Order: 10,
		}))
}

// genericFilter unwraps $invoke(method, types, args) into a plain
// invocation so a consumer without compiled stubs can call any service.
type genericFilter struct{}

func (genericFilter) Invoke(ctx context.Context, next rpc.Invoker, inv rpc.Invocation) *rpc.Result {
	if inv.MethodName() != GenericMethod {
		return next.Invoke(ctx, inv)
	}
	args := inv.Arguments()
	if len(args) != 3 {
		return rpc.NewErrorResult(couriererrors.BizErrorf(
			"%s takes (method, types, args), got %d arguments", GenericMethod, len(args)))
	}

	method, ok := args[0].(string)
	if !ok || method == "" {
		return rpc.NewErrorResult(couriererrors.BizErrorf(
			"%s: first argument must be the method name", GenericMethod))
	}
	types, err := stringSlice(args[1])
	if err != nil {
		return rpc.NewErrorResult(couriererrors.BizErrorf(
			"%s: second argument must be the type descriptors: %v", GenericMethod, err))
	}
	callArgs, err := valueSlice(args[2])
	if err != nil {
		return rpc.NewErrorResult(couriererrors.BizErrorf(
			"%s: third argument must be the argument list: %v", GenericMethod, err))
	}

	unwrapped := rpc.NewInvocation(method, types, callArgs)
	unwrapped.SetAttachments(inv.Attachments())
	unwrapped.SetAttachment(url.KeyGeneric, "true")
	return next.Invoke(ctx, unwrapped)
}

func stringSlice(v interface{}) ([]string, error) {
	switch s := v.(type) {
	case nil:
		return nil, nil
	case []string:
		return s, nil
	case []interface{}:
		out := make([]string, len(s))
		for i, e := range s {
			str, ok := e.(string)
			if !ok {
				return nil, couriererrors.BizErrorf("element %d is %T, not string", i, e)
			}
			out[i] = str
		}
		return out, nil
	default:
		return nil, couriererrors.BizErrorf("got %T", v)
	}
}

func valueSlice(v interface{}) ([]interface{}, error) {
	switch s := v.(type) {
	case nil:
		return nil, nil
	case []interface{}:
		return s, nil
	default:
		return nil, couriererrors.BizErrorf("got %T", v)
	}
}
