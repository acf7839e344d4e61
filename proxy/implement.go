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

package proxy

import (
	"context"
	"reflect"

	"go.uber.org/courier/api/rpc"
	"go.uber.org/courier/couriererrors"
)

// Implement fills the exported func fields of the struct stub points to with
// implementations that call through invoker. The wire method name is the
// field name with its first letter lowered, overridable with a
// `courier:"name"` tag; `courier:"-"` skips the field.
//
// Each func field may take a leading context.Context and must end with an
// error return. A stub field of the wrong shape fails the whole call.
func Implement(stub interface{}, invoker rpc.Invoker) error {
	v := reflect.ValueOf(stub)
	if v.Kind() != reflect.Ptr || v.IsNil() || v.Elem().Kind() != reflect.Struct {
		return couriererrors.BizErrorf("stub must be a non-nil pointer to struct, got %T", stub)
	}
	s := v.Elem()
	t := s.Type()

	for i := 0; i < t.NumField(); i++ {
		field := t.Field(i)
		if field.PkgPath != "" || field.Type.Kind() != reflect.Func {
			continue
		}
		method := field.Tag.Get("courier")
		if method == "-" {
			continue
		}
		if method == "" {
			method = lowerFirst(field.Name)
		}
		fn, err := makeCall(field.Type, method, invoker)
		if err != nil {
			return couriererrors.BizErrorf("field %s: %v", field.Name, err)
		}
		s.Field(i).Set(fn)
	}
	return nil
}

// makeCall builds the func value for one stub field.
func makeCall(t reflect.Type, method string, invoker rpc.Invoker) (reflect.Value, error) {
	hasCtx := t.NumIn() > 0 && t.In(0) == contextType

	n := t.NumOut()
	if n == 0 || n > 2 || t.Out(n-1) != errorType {
		return reflect.Value{}, couriererrors.BizErrorf(
			"func must return (error) or (value, error), has %d returns", n)
	}
	var valueType reflect.Type
	if n == 2 {
		valueType = t.Out(0)
	}

	fn := reflect.MakeFunc(t, func(in []reflect.Value) []reflect.Value {
		ctx := context.Background()
		if hasCtx {
			ctx = in[0].Interface().(context.Context)
			in = in[1:]
		}
		args := make([]interface{}, len(in))
		for i, a := range in {
			args[i] = a.Interface()
		}
		result := invoker.Invoke(ctx, rpc.NewInvocation(method, nil, args))

		outs := make([]reflect.Value, 0, n)
		if valueType != nil {
			value, err := fitReturn(result, valueType)
			if err != nil {
				return []reflect.Value{reflect.Zero(valueType), reflect.ValueOf(err)}
			}
			outs = append(outs, value)
		}
		if err := result.Error(); err != nil {
			outs = append(outs, reflect.ValueOf(err))
		} else {
			outs = append(outs, reflect.Zero(errorType))
		}
		return outs
	})
	return fn, nil
}

func fitReturn(result *rpc.Result, t reflect.Type) (reflect.Value, error) {
	if result.Error() != nil || result.Value() == nil {
		return reflect.Zero(t), nil
	}
	v, err := fitValue(result.Value(), t)
	if err != nil {
		return reflect.Value{}, couriererrors.SerializationErrorf("response: %v", err)
	}
	return v, nil
}
