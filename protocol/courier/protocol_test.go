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

package courier

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.uber.org/courier/api/rpc"
	"go.uber.org/courier/couriererrors"
	"go.uber.org/courier/url"
)

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())
	return port
}

// echoInvoker is the exported service side of the tests.
type echoInvoker struct {
	*rpc.BaseInvoker

	mu       sync.Mutex
	received []rpc.Invocation
}

func newEchoInvoker(u *url.URL) *echoInvoker {
	return &echoInvoker{BaseInvoker: rpc.NewBaseInvoker(u)}
}

func (e *echoInvoker) Invoke(_ context.Context, inv rpc.Invocation) *rpc.Result {
	e.mu.Lock()
	e.received = append(e.received, inv)
	e.mu.Unlock()

	switch inv.MethodName() {
	case "echo":
		return rpc.NewResult(inv.Arguments()[0]).SetAttachment("served-by", "echo")
	case "fail":
		return rpc.NewErrorResult(couriererrors.BizErrorf("echo says no"))
	case "crash":
		return rpc.NewErrorResult(couriererrors.InternalErrorf("handler broke"))
	default:
		return rpc.NewResult(nil)
	}
}

func (e *echoInvoker) calls() []rpc.Invocation {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]rpc.Invocation, len(e.received))
	copy(out, e.received)
	return out
}

func serviceURL(port int, params ...url.Option) *url.URL {
	base := []url.Option{
		url.WithParam(url.KeyInterface, "com.uber.Echo"),
		url.WithParam(url.KeyTimeout, "2000"),
	}
	return url.New(Name, "127.0.0.1", port, "com.uber.Echo", append(base, params...)...)
}

func startEcho(t *testing.T, u *url.URL) (*Protocol, *echoInvoker) {
	t.Helper()
	p := New()
	t.Cleanup(p.Destroy)
	invoker := newEchoInvoker(u)
	_, err := p.Export(invoker)
	require.NoError(t, err)
	return p, invoker
}

func TestExportReferInvoke(t *testing.T) {
	u := serviceURL(freePort(t))
	_, provider := startEcho(t, u)

	consumer := New()
	defer consumer.Destroy()
	invoker, err := consumer.Refer(u)
	require.NoError(t, err)
	require.True(t, invoker.IsAvailable())

	inv := rpc.NewInvocation("echo", nil, []interface{}{"hello"})
	result := invoker.Invoke(context.Background(), inv)
	require.NoError(t, result.Error())
	assert.Equal(t, "hello", result.Value())
	assert.Equal(t, "echo", result.Attachment("served-by", ""))

	calls := provider.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "echo", calls[0].MethodName())
	assert.Equal(t, "com.uber.Echo", calls[0].Attachment(rpc.AttachmentPath, ""))
}

func TestBizErrorCrossesTheWire(t *testing.T) {
	u := serviceURL(freePort(t))
	startEcho(t, u)

	consumer := New()
	defer consumer.Destroy()
	invoker, err := consumer.Refer(u)
	require.NoError(t, err)

	result := invoker.Invoke(context.Background(),
		rpc.NewInvocation("fail", nil, nil))
	require.Error(t, result.Error())
	assert.True(t, couriererrors.IsBiz(result.Error()), "got %v", result.Error())
	assert.Contains(t, result.Error().Error(), "echo says no")
}

func TestFrameworkErrorCrossesTheWire(t *testing.T) {
	u := serviceURL(freePort(t))
	startEcho(t, u)

	consumer := New()
	defer consumer.Destroy()
	invoker, err := consumer.Refer(u)
	require.NoError(t, err)

	result := invoker.Invoke(context.Background(),
		rpc.NewInvocation("crash", nil, nil))
	require.Error(t, result.Error())
	assert.Contains(t, result.Error().Error(), "handler broke")
}

func TestServiceNotFound(t *testing.T) {
	u := serviceURL(freePort(t))
	startEcho(t, u)

	other := u.WithPath("com.uber.Missing").
		AddParam(url.KeyInterface, "com.uber.Missing")

	consumer := New()
	defer consumer.Destroy()
	invoker, err := consumer.Refer(other)
	require.NoError(t, err)

	result := invoker.Invoke(context.Background(),
		rpc.NewInvocation("echo", nil, []interface{}{"x"}))
	require.Error(t, result.Error())
	assert.True(t, couriererrors.IsForbidden(result.Error()), "got %v", result.Error())
}

func TestOnewaySkipsResponse(t *testing.T) {
	u := serviceURL(freePort(t))
	_, provider := startEcho(t, u)

	consumer := New()
	defer consumer.Destroy()
	invoker, err := consumer.Refer(u.AddParam("echo."+url.KeyOneway, "true"))
	require.NoError(t, err)

	result := invoker.Invoke(context.Background(),
		rpc.NewInvocation("echo", nil, []interface{}{"fire"}))
	require.NoError(t, result.Error())
	assert.Nil(t, result.Value())

	assert.Eventually(t, func() bool { return len(provider.calls()) == 1 },
		2*time.Second, 10*time.Millisecond)
}

func TestAsyncDeliversToCallback(t *testing.T) {
	u := serviceURL(freePort(t))
	startEcho(t, u)

	consumer := New()
	defer consumer.Destroy()
	invoker, err := consumer.Refer(u.AddParam(url.KeyAsync, "true"))
	require.NoError(t, err)

	done := make(chan *rpc.Result, 1)
	inv := rpc.NewInvocation("echo", nil, []interface{}{"later"})
	inv.SetCallback(func(r *rpc.Result) { done <- r })

	result := invoker.Invoke(context.Background(), inv)
	require.NoError(t, result.Error())
	assert.Nil(t, result.Value(), "async returns before the response")

	select {
	case r := <-done:
		require.NoError(t, r.Error())
		assert.Equal(t, "later", r.Value())
	case <-time.After(2 * time.Second):
		t.Fatal("callback never ran")
	}
}

func TestDestroyedInvokerRefusesCalls(t *testing.T) {
	u := serviceURL(freePort(t))
	startEcho(t, u)

	consumer := New()
	defer consumer.Destroy()
	invoker, err := consumer.Refer(u)
	require.NoError(t, err)

	invoker.Destroy()
	assert.False(t, invoker.IsAvailable())

	result := invoker.Invoke(context.Background(),
		rpc.NewInvocation("echo", nil, []interface{}{"x"}))
	require.Error(t, result.Error())
	assert.True(t, couriererrors.IsDestroyed(result.Error()))
}

func TestDoubleExportFails(t *testing.T) {
	u := serviceURL(freePort(t))
	p, _ := startEcho(t, u)

	_, err := p.Export(newEchoInvoker(u))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exported")
}

func TestUnexportClosesLastServer(t *testing.T) {
	u := serviceURL(freePort(t))
	p := New()
	defer p.Destroy()

	exp, err := p.Export(newEchoInvoker(u))
	require.NoError(t, err)

	exp.Unexport()
	exp.Unexport() // idempotent

	p.mu.Lock()
	servers := len(p.servers)
	p.mu.Unlock()
	assert.Zero(t, servers)
}
