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

	"go.uber.org/courier/api/rpc"
	"go.uber.org/courier/filter"
	"go.uber.org/courier/url"
)

// GenericService calls any method of a service without compiled stubs.
type GenericService struct {
	invoker rpc.Invoker
}

// Generic wraps invoker for untyped invocation.
func Generic(invoker rpc.Invoker) *GenericService {
	return &GenericService{invoker: invoker}
}

// Invoke calls method with the given wire type descriptors and arguments.
func (g *GenericService) Invoke(ctx context.Context, method string, types []string, args []interface{}) (interface{}, error) {
	inv := rpc.NewInvocation(filter.GenericMethod, nil,
		[]interface{}{method, types, args})
	inv.SetAttachment(url.KeyGeneric, "true")
	result := g.invoker.Invoke(ctx, inv)
	if result.Error() != nil {
		return nil, result.Error()
	}
	return result.Value(), nil
}
