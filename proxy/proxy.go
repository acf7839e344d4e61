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

// Package proxy bridges Go values and the invoker plane. NewInvoker turns a
// service implementation into an Invoker that dispatches by method name,
// Implement fills a typed client stub from an Invoker, and Generic calls any
// method without compiled types.
//
// Dispatch is reflective. Methods may take a leading context.Context and
// must return at most one value plus an optional trailing error.
package proxy

import (
	"context"
	"reflect"
	"unicode"
	"unicode/utf8"

	"go.uber.org/courier/api/rpc"
	"go.uber.org/courier/couriererrors"
	"go.uber.org/courier/filter"
	"go.uber.org/courier/url"
)

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// Invoker dispatches invocations to the methods of a Go value.
type Invoker struct {
	*rpc.BaseInvoker
	methods map[string]reflect.Value
}

var _ rpc.Invoker = (*Invoker)(nil)

// NewInvoker wraps impl, exposing its exported methods at u. Method names
// match case-insensitively on the first letter, so the wire name "echo"
// reaches the Go method Echo.
func NewInvoker(impl interface{}, u *url.URL) *Invoker {
	v := reflect.ValueOf(impl)
	t := v.Type()
	methods := make(map[string]reflect.Value, t.NumMethod())
	for i := 0; i < t.NumMethod(); i++ {
		m := t.Method(i)
		methods[m.Name] = v.Method(i)
		if lowered := lowerFirst(m.Name); lowered != m.Name {
			if _, taken := methods[lowered]; !taken {
				methods[lowered] = v.Method(i)
			}
		}
	}
	return &Invoker{BaseInvoker: rpc.NewBaseInvoker(u), methods: methods}
}

// Invoke dispatches the invocation to the matching method. A generic
// $invoke call is unwrapped first, so generic consumers reach providers
// whose chain never activated the generic filter.
func (p *Invoker) Invoke(ctx context.Context, inv rpc.Invocation) *rpc.Result {
	if inv.MethodName() == filter.GenericMethod {
		return p.invokeGeneric(ctx, inv)
	}
	method, ok := p.methods[inv.MethodName()]
	if !ok {
		return rpc.NewErrorResult(couriererrors.BizErrorf(
			"no method %q on service %s", inv.MethodName(), p.URL().ServiceKey()))
	}
	in, err := buildArguments(ctx, method.Type(), inv.Arguments())
	if err != nil {
		return rpc.NewErrorResult(err)
	}
	return collectReturns(method.Call(in))
}

func (p *Invoker) invokeGeneric(ctx context.Context, inv rpc.Invocation) *rpc.Result {
	args := inv.Arguments()
	if len(args) != 3 {
		return rpc.NewErrorResult(couriererrors.BizErrorf(
			"%s takes (method, types, args), got %d arguments", filter.GenericMethod, len(args)))
	}
	method, ok := args[0].(string)
	if !ok || method == "" {
		return rpc.NewErrorResult(couriererrors.BizErrorf(
			"%s: first argument must be the method name", filter.GenericMethod))
	}
	callArgs, _ := args[2].([]interface{})
	unwrapped := rpc.NewInvocation(method, nil, callArgs)
	unwrapped.SetAttachments(inv.Attachments())
	return p.Invoke(ctx, unwrapped)
}

// buildArguments lines the invocation arguments up against the method
// signature, feeding ctx to a leading context.Context parameter.
func buildArguments(ctx context.Context, t reflect.Type, args []interface{}) ([]reflect.Value, error) {
	in := make([]reflect.Value, 0, t.NumIn())
	next := 0
	if t.NumIn() > 0 && t.In(0) == contextType {
		in = append(in, reflect.ValueOf(ctx))
		next = 1
	}

	want := t.NumIn() - next
	if t.IsVariadic() {
		if len(args) < want-1 {
			return nil, couriererrors.BizErrorf("method wants at least %d arguments, got %d", want-1, len(args))
		}
	} else if len(args) != want {
		return nil, couriererrors.BizErrorf("method wants %d arguments, got %d", want, len(args))
	}

	for i, arg := range args {
		pos := next + i
		pt := t.In(min(pos, t.NumIn()-1))
		if t.IsVariadic() && pos >= t.NumIn()-1 {
			pt = t.In(t.NumIn() - 1).Elem()
		}
		v, err := fitValue(arg, pt)
		if err != nil {
			return nil, couriererrors.BizErrorf("argument %d: %v", i, err)
		}
		in = append(in, v)
	}
	return in, nil
}

// collectReturns maps a method's return values onto a Result: a trailing
// error becomes the failure, the remaining value (if any) the payload.
func collectReturns(outs []reflect.Value) *rpc.Result {
	if n := len(outs); n > 0 && outs[n-1].Type().Implements(errorType) {
		if !outs[n-1].IsNil() {
			return rpc.NewErrorResult(outs[n-1].Interface().(error))
		}
		outs = outs[:n-1]
	}
	switch len(outs) {
	case 0:
		return rpc.NewResult(nil)
	case 1:
		return rpc.NewResult(outs[0].Interface())
	default:
		return rpc.NewErrorResult(couriererrors.BizErrorf(
			"method returns %d values, want at most one plus error", len(outs)))
	}
}

// fitValue adapts arg to the target type, converting compatible kinds.
func fitValue(arg interface{}, t reflect.Type) (reflect.Value, error) {
	if arg == nil {
		return reflect.Zero(t), nil
	}
	v := reflect.ValueOf(arg)
	if v.Type().AssignableTo(t) {
		return v, nil
	}
	if v.Type().ConvertibleTo(t) {
		return v.Convert(t), nil
	}
	return reflect.Value{}, couriererrors.BizErrorf("%T does not fit %s", arg, t)
}

func lowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToLower(r)) + s[size:]
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
