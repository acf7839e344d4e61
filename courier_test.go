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
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.uber.org/courier/couriererrors"
	"go.uber.org/courier/internal/netutil"
	"go.uber.org/courier/url"
)

type greeter struct{}

func (greeter) Greet(name string) (string, error) {
	return "hello " + name, nil
}

type greeterClient struct {
	Greet func(ctx context.Context, name string) (string, error)
}

func memoryRegistryURL(t *testing.T, port int) *url.URL {
	t.Helper()
	return url.New("memory", "127.0.0.1", port, "",
		url.WithParam(url.KeyFile, filepath.Join(t.TempDir(), "registry.cache")),
		url.WithParam(url.KeySaveFileSync, "true"))
}

func TestLocalExportAndRefer(t *testing.T) {
	svc := NewService("com.uber.GreetLocal", greeter{}, WithScope(url.ScopeLocal))
	require.NoError(t, svc.Export())
	defer svc.Unexport()

	ref := NewReference("com.uber.GreetLocal", WithScope(url.ScopeLocal))
	defer ref.Destroy()

	var client greeterClient
	require.NoError(t, ref.Implement(&client))

	out, err := client.Greet(context.Background(), "world")
	require.NoError(t, err)
	assert.Equal(t, "hello world", out)
}

func TestRemoteExportAndReferViaRegistry(t *testing.T) {
	port, err := netutil.FreePort()
	require.NoError(t, err)
	reg := memoryRegistryURL(t, 4001)

	svc := NewService("com.uber.GreetRemote", greeter{},
		WithScope(url.ScopeRemote),
		WithRegistry(reg),
		WithPort(port))
	require.NoError(t, svc.Export())
	defer svc.Unexport()

	require.NotNil(t, svc.URL())
	assert.Equal(t, url.ProtocolDefault, svc.URL().Protocol())
	assert.Equal(t, port, svc.URL().Port())

	ref := NewReference("com.uber.GreetRemote", WithRegistry(reg))
	defer ref.Destroy()

	var client greeterClient
	require.NoError(t, ref.Implement(&client))

	out, err := client.Greet(context.Background(), "wire")
	require.NoError(t, err)
	assert.Equal(t, "hello wire", out)
}

func TestGenericRefer(t *testing.T) {
	svc := NewService("com.uber.GreetGeneric", greeter{}, WithScope(url.ScopeLocal))
	require.NoError(t, svc.Export())
	defer svc.Unexport()

	ref := NewReference("com.uber.GreetGeneric", WithScope(url.ScopeLocal), WithGeneric())
	defer ref.Destroy()

	g, err := ref.Generic()
	require.NoError(t, err)
	out, err := g.Invoke(context.Background(), "greet", nil, []interface{}{"generic"})
	require.NoError(t, err)
	assert.Equal(t, "hello generic", out)
}

func TestScopeNoneExportsNothing(t *testing.T) {
	svc := NewService("com.uber.GreetNone", greeter{}, WithScope(url.ScopeNone))
	require.NoError(t, svc.Export())
	defer svc.Unexport()
	assert.Nil(t, svc.URL())
}

func TestDelayedExport(t *testing.T) {
	svc := NewService("com.uber.GreetDelayed", greeter{},
		WithScope(url.ScopeLocal),
		WithDelay(20*time.Millisecond))
	require.NoError(t, svc.Export())
	defer svc.Unexport()

	assert.Nil(t, svc.URL(), "export must wait for the delay")
	require.Eventually(t, func() bool { return svc.URL() != nil },
		time.Second, 5*time.Millisecond)
}

func TestUnexportCancelsDelayedExport(t *testing.T) {
	svc := NewService("com.uber.GreetCancelled", greeter{},
		WithScope(url.ScopeLocal),
		WithDelay(time.Hour))
	require.NoError(t, svc.Export())
	svc.Unexport()
	assert.Nil(t, svc.URL())
}

func TestReferDirectURL(t *testing.T) {
	svc := NewService("com.uber.GreetDirect", greeter{}, WithScope(url.ScopeLocal))
	require.NoError(t, svc.Export())
	defer svc.Unexport()

	ref := NewReference("com.uber.GreetDirect",
		WithURL(url.New("local", "127.0.0.1", 0, "com.uber.GreetDirect")))
	defer ref.Destroy()

	var client greeterClient
	require.NoError(t, ref.Implement(&client))
	out, err := client.Greet(context.Background(), "direct")
	require.NoError(t, err)
	assert.Equal(t, "hello direct", out)
}

func TestReferenceWithoutTarget(t *testing.T) {
	ref := NewReference("com.uber.GreetNowhere")
	_, err := ref.Refer()
	require.Error(t, err)
}

func TestReferenceDestroyed(t *testing.T) {
	ref := NewReference("com.uber.GreetGone", WithScope(url.ScopeLocal))
	ref.Destroy()
	_, err := ref.Refer()
	require.Error(t, err)
	assert.True(t, couriererrors.IsDestroyed(err))
}

func TestProviderURLCarriesMetadata(t *testing.T) {
	svc := NewService("com.uber.GreetMeta", greeter{},
		WithScope(url.ScopeLocal),
		WithGroup("blue"),
		WithVersion("1.0.0"),
		WithApplication("greeting-app"),
		WithToken("true"),
		WithMethodParam("greet", url.KeyRetries, "0"))
	require.NoError(t, svc.Export())
	defer svc.Unexport()

	u := svc.URL()
	require.NotNil(t, u)
	assert.Equal(t, "blue", u.Group())
	assert.Equal(t, "1.0.0", u.Version())
	assert.Equal(t, "greeting-app", u.Param(url.KeyApplication, ""))
	assert.Equal(t, "greet", u.Param(url.KeyMethods, ""))
	assert.Equal(t, "0", u.MethodParam("greet", url.KeyRetries, ""))
	assert.NotEmpty(t, u.Param(url.KeyToken, ""))
	assert.NotEqual(t, "true", u.Param(url.KeyToken, ""), "a requested token is minted")
}

func TestRegisterHostLadder(t *testing.T) {
	t.Run("environment wins", func(t *testing.T) {
		t.Setenv(EnvIPToRegistry, "10.9.8.7")
		assert.Equal(t, "10.9.8.7", registerHost(newConfig(nil)))
	})
	t.Run("configured host", func(t *testing.T) {
		assert.Equal(t, "10.0.0.5", registerHost(newConfig([]Option{WithHost("10.0.0.5")})))
	})
	t.Run("loopback is never configured", func(t *testing.T) {
		host := registerHost(newConfig([]Option{WithHost("127.0.0.1")}))
		assert.NotEqual(t, "0.0.0.0", host)
		assert.NotEmpty(t, host)
	})
}

func TestRegisterPort(t *testing.T) {
	t.Run("environment wins", func(t *testing.T) {
		t.Setenv(EnvPortToRegistry, "12345")
		port, err := registerPort(newConfig(nil), 20880)
		require.NoError(t, err)
		assert.Equal(t, 12345, port)
	})
	t.Run("configured port", func(t *testing.T) {
		port, err := registerPort(newConfig([]Option{WithPort(7777)}), 20880)
		require.NoError(t, err)
		assert.Equal(t, 7777, port)
	})
	t.Run("protocol default", func(t *testing.T) {
		port, err := registerPort(newConfig(nil), 20880)
		require.NoError(t, err)
		assert.Equal(t, 20880, port)
	})
	t.Run("random fallback", func(t *testing.T) {
		port, err := registerPort(newConfig(nil), 0)
		require.NoError(t, err)
		assert.Greater(t, port, 0)
	})
}

func TestMethodNames(t *testing.T) {
	assert.Equal(t, "greet", methodNames(greeter{}))
	assert.True(t, strings.Contains(methodNames(&greeter{}), "greet"))
	assert.Equal(t, "", methodNames(nil))
}
