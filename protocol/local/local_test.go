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

package local

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.uber.org/courier/api/rpc"
	"go.uber.org/courier/couriererrors"
	"go.uber.org/courier/url"
)

type upperInvoker struct {
	*rpc.BaseInvoker
}

func (u *upperInvoker) Invoke(_ context.Context, inv rpc.Invocation) *rpc.Result {
	s := inv.Arguments()[0].(string)
	out := make([]rune, 0, len(s))
	for _, r := range s {
		if 'a' <= r && r <= 'z' {
			r -= 'a' - 'A'
		}
		out = append(out, r)
	}
	return rpc.NewResult(string(out))
}

func localURL() *url.URL {
	return url.New(Name, "", 0, "com.uber.Upper",
		url.WithParam(url.KeyInterface, "com.uber.Upper"))
}

func TestLocalRoundTrip(t *testing.T) {
	p := New()
	defer p.Destroy()
	u := localURL()

	_, err := p.Export(&upperInvoker{BaseInvoker: rpc.NewBaseInvoker(u)})
	require.NoError(t, err)

	invoker, err := p.Refer(u)
	require.NoError(t, err)
	require.True(t, invoker.IsAvailable())

	result := invoker.Invoke(context.Background(),
		rpc.NewInvocation("upper", nil, []interface{}{"hello"}))
	require.NoError(t, result.Error())
	assert.Equal(t, "HELLO", result.Value())
}

func TestReferBeforeExport(t *testing.T) {
	p := New()
	defer p.Destroy()
	u := localURL()

	invoker, err := p.Refer(u)
	require.NoError(t, err)
	assert.False(t, invoker.IsAvailable(), "nothing exported yet")

	result := invoker.Invoke(context.Background(),
		rpc.NewInvocation("upper", nil, []interface{}{"x"}))
	require.Error(t, result.Error())
	assert.True(t, couriererrors.IsForbidden(result.Error()))

	_, err = p.Export(&upperInvoker{BaseInvoker: rpc.NewBaseInvoker(u)})
	require.NoError(t, err)

	result = invoker.Invoke(context.Background(),
		rpc.NewInvocation("upper", nil, []interface{}{"x"}))
	require.NoError(t, result.Error())
	assert.Equal(t, "X", result.Value())
}

func TestUnexportRemovesService(t *testing.T) {
	p := New()
	defer p.Destroy()
	u := localURL()

	exp, err := p.Export(&upperInvoker{BaseInvoker: rpc.NewBaseInvoker(u)})
	require.NoError(t, err)

	invoker, err := p.Refer(u)
	require.NoError(t, err)
	require.True(t, invoker.IsAvailable())

	exp.Unexport()
	assert.False(t, invoker.IsAvailable())
}

func TestExportAfterDestroyFails(t *testing.T) {
	p := New()
	p.Destroy()
	p.Destroy() // idempotent

	_, err := p.Export(&upperInvoker{BaseInvoker: rpc.NewBaseInvoker(localURL())})
	require.Error(t, err)
	assert.True(t, couriererrors.IsDestroyed(err))
}
