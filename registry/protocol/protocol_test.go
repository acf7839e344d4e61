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

package protocol

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.uber.org/courier/api/rpc"
	"go.uber.org/courier/couriererrors"
	"go.uber.org/courier/url"

	// extension points exercised end to end
	_ "go.uber.org/courier/cluster/loadbalance"
	_ "go.uber.org/courier/protocol/local"
	_ "go.uber.org/courier/registry/memory"
)

// echoInvoker carries the registry URL the protocol needs and answers
// calls with their first argument.
type echoInvoker struct {
	*rpc.BaseInvoker
}

func newEchoInvoker(u *url.URL) *echoInvoker {
	return &echoInvoker{BaseInvoker: rpc.NewBaseInvoker(u)}
}

func (e *echoInvoker) Invoke(_ context.Context, inv rpc.Invocation) *rpc.Result {
	if len(inv.Arguments()) == 0 {
		return rpc.NewErrorResult(couriererrors.BizErrorf("no argument"))
	}
	return rpc.NewResult(inv.Arguments()[0])
}

// registryURL builds a registry:// URL over the in-process backend. port
// isolates the backend instance between tests.
func registryURL(t *testing.T, port int, key, embedded string) *url.URL {
	t.Helper()
	return url.New(url.ProtocolRegistry, "127.0.0.1", port, "com.uber.Echo",
		url.WithParam(url.KeyRegistry, "memory"),
		url.WithParam(url.KeyFile, filepath.Join(t.TempDir(), "registry.cache")),
		url.WithParam(url.KeySaveFileSync, "true"),
		url.WithParam(key, url.Encode(embedded)))
}

func providerURL() *url.URL {
	return url.New("local", "127.0.0.1", 0, "com.uber.Echo",
		url.WithParam(url.KeyInterface, "com.uber.Echo"))
}

func consumerURL() *url.URL {
	return url.New("consumer", "127.0.0.1", 0, "com.uber.Echo",
		url.WithParam(url.KeyInterface, "com.uber.Echo"))
}

func call(t *testing.T, invoker rpc.Invoker, args ...interface{}) *rpc.Result {
	t.Helper()
	return invoker.Invoke(context.Background(), rpc.NewInvocation("echo", nil, args))
}

func TestExportReferRoundTrip(t *testing.T) {
	p := New(nil, nil)
	defer p.Destroy()

	exp, err := p.Export(newEchoInvoker(
		registryURL(t, 3001, url.KeyExport, providerURL().String())))
	require.NoError(t, err)
	defer exp.Unexport()

	consumer, err := p.Refer(registryURL(t, 3001, url.KeyRefer, consumerURL().String()))
	require.NoError(t, err)
	defer consumer.Destroy()

	result := call(t, consumer, "hello")
	require.NoError(t, result.Error())
	assert.Equal(t, "hello", result.Value())
}

func TestUnexportWithdrawsProvider(t *testing.T) {
	p := New(nil, nil)
	defer p.Destroy()

	exp, err := p.Export(newEchoInvoker(
		registryURL(t, 3002, url.KeyExport, providerURL().String())))
	require.NoError(t, err)

	consumer, err := p.Refer(registryURL(t, 3002, url.KeyRefer, consumerURL().String()))
	require.NoError(t, err)
	defer consumer.Destroy()

	require.NoError(t, call(t, consumer, "hello").Error())

	exp.Unexport()
	exp.Unexport() // idempotent

	result := call(t, consumer, "hello")
	require.Error(t, result.Error())
	assert.True(t, couriererrors.IsForbidden(result.Error()), "got %v", result.Error())
}

func TestBizErrorsCrossTheChain(t *testing.T) {
	p := New(nil, nil)
	defer p.Destroy()

	exp, err := p.Export(newEchoInvoker(
		registryURL(t, 3003, url.KeyExport, providerURL().String())))
	require.NoError(t, err)
	defer exp.Unexport()

	consumer, err := p.Refer(registryURL(t, 3003, url.KeyRefer, consumerURL().String()))
	require.NoError(t, err)
	defer consumer.Destroy()

	result := call(t, consumer) // no argument → biz error, not retried
	require.Error(t, result.Error())
	assert.True(t, couriererrors.IsBiz(result.Error()))
}

func TestReferMissingEmbeddedURL(t *testing.T) {
	p := New(nil, nil)
	defer p.Destroy()

	_, err := p.Refer(url.New(url.ProtocolRegistry, "127.0.0.1", 3004, "com.uber.Echo",
		url.WithParam(url.KeyRegistry, "memory")))
	require.Error(t, err)
}

func TestDestroyedProtocolRefusesWork(t *testing.T) {
	p := New(nil, nil)
	p.Destroy()
	p.Destroy() // idempotent

	_, err := p.Refer(registryURL(t, 3005, url.KeyRefer, consumerURL().String()))
	require.Error(t, err)
	assert.True(t, couriererrors.IsDestroyed(err))

	_, err = p.Export(rpc.NewBaseInvoker(
		registryURL(t, 3005, url.KeyExport, providerURL().String())))
	require.Error(t, err)
	assert.True(t, couriererrors.IsDestroyed(err))
}
