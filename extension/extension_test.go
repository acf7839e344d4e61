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

package extension

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.uber.org/courier/url"
)

type greeter interface{ Greet() string }

type plainGreeter struct{ name string }

func (g *plainGreeter) Greet() string { return g.name }

type wrappedGreeter struct{ inner greeter }

func (g *wrappedGreeter) Greet() string { return "wrapped:" + g.inner.Greet() }

func factoryOf(name string) Factory {
	return func(*Registry) (interface{}, error) {
		return &plainGreeter{name: name}, nil
	}
}

func TestGetCachesSingleton(t *testing.T) {
	reg := NewRegistry()
	p := reg.Point("greeter", "a")
	require.NoError(t, p.Register("a", factoryOf("a")))

	first, err := p.Get("a")
	require.NoError(t, err)
	second, err := p.Get("a")
	require.NoError(t, err)
	assert.Same(t, first, second, "at most one instance per (point, name)")
}

func TestGetUnknownName(t *testing.T) {
	reg := NewRegistry()
	p := reg.Point("greeter", "")
	_, err := p.Get("nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `no extension named "nope" for "greeter"`)
}

func TestDuplicateRegistration(t *testing.T) {
	reg := NewRegistry()
	p := reg.Point("greeter", "")
	require.NoError(t, p.Register("a", factoryOf("a")))
	assert.Error(t, p.Register("a", factoryOf("a")))
}

func TestWrappersApplyInOrder(t *testing.T) {
	reg := NewRegistry()
	p := reg.Point("greeter", "a")
	require.NoError(t, p.Register("a", factoryOf("a")))
	p.RegisterWrapper(func(inner interface{}) interface{} {
		return &wrappedGreeter{inner: inner.(greeter)}
	})
	p.RegisterWrapper(func(inner interface{}) interface{} {
		return &wrappedGreeter{inner: inner.(greeter)}
	})

	inst, err := p.Get("a")
	require.NoError(t, err)
	assert.Equal(t, "wrapped:wrapped:a", inst.(greeter).Greet())
}

func TestAdaptiveName(t *testing.T) {
	reg := NewRegistry()
	p := reg.Point("loadbalance", "random")
	require.NoError(t, p.Register("random", factoryOf("random")))
	require.NoError(t, p.Register("roundrobin", factoryOf("roundrobin")))

	tests := []struct {
		msg     string
		give    *url.URL
		keys    []string
		want    string
		wantErr bool
	}{
		{
			msg:  "explicit parameter",
			give: url.New("courier", "h", 1, "p", url.WithParam("loadbalance", "roundrobin")),
			keys: []string{"loadbalance"},
			want: "roundrobin",
		},
		{
			msg:  "fallback to default",
			give: url.New("courier", "h", 1, "p"),
			keys: []string{"loadbalance"},
			want: "random",
		},
		{
			msg:  "first non-empty key wins",
			give: url.New("courier", "h", 1, "p", url.WithParam("method.loadbalance", "roundrobin")),
			keys: []string{"method.loadbalance", "loadbalance"},
			want: "roundrobin",
		},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			got, err := p.AdaptiveName(tt.give, tt.keys...)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAdaptiveNoDefault(t *testing.T) {
	reg := NewRegistry()
	p := reg.Point("registry", "")
	_, err := p.Adaptive(url.New("courier", "h", 1, "p"), "registry")
	assert.Error(t, err)
}

func TestActivate(t *testing.T) {
	newPoint := func() *Point {
		reg := NewRegistry()
		p := reg.Point("filter", "")
		p.MustRegister("token", factoryOf("token"),
			WithActivation(Activation{Group: "provider", Keys: []string{"token"}, Order: 10}))
		p.MustRegister("accesslog", factoryOf("accesslog"),
			WithActivation(Activation{Group: "provider", Keys: []string{"accesslog"}, Order: 20}))
		p.MustRegister("context", factoryOf("context"),
			WithActivation(Activation{Order: 0}))
		p.MustRegister("custom", factoryOf("custom"))
		return p
	}

	names := func(insts []interface{}) []string {
		var out []string
		for _, i := range insts {
			out = append(out, i.(greeter).Greet())
		}
		return out
	}

	t.Run("group and key matching", func(t *testing.T) {
		p := newPoint()
		u := url.New("courier", "h", 1, "p",
			url.WithParam("token", "secret"))
		got, err := p.Activate(u, "service.filter", "provider")
		require.NoError(t, err)
		assert.Equal(t, []string{"context", "token"}, names(got))
	})

	t.Run("explicit names append after activated", func(t *testing.T) {
		p := newPoint()
		u := url.New("courier", "h", 1, "p",
			url.WithParam("service.filter", "custom"))
		got, err := p.Activate(u, "service.filter", "provider")
		require.NoError(t, err)
		assert.Equal(t, []string{"context", "custom"}, names(got))
	})

	t.Run("minus suppresses one", func(t *testing.T) {
		p := newPoint()
		u := url.New("courier", "h", 1, "p",
			url.WithParam("token", "secret"),
			url.WithParam("service.filter", "-token"))
		got, err := p.Activate(u, "service.filter", "provider")
		require.NoError(t, err)
		assert.Equal(t, []string{"context"}, names(got))
	})

	t.Run("minus default suppresses activation set", func(t *testing.T) {
		p := newPoint()
		u := url.New("courier", "h", 1, "p",
			url.WithParam("token", "secret"),
			url.WithParam("service.filter", "-default,custom"))
		got, err := p.Activate(u, "service.filter", "provider")
		require.NoError(t, err)
		assert.Equal(t, []string{"custom"}, names(got))
	})

	t.Run("unknown explicit name errors", func(t *testing.T) {
		p := newPoint()
		u := url.New("courier", "h", 1, "p",
			url.WithParam("service.filter", "ghost"))
		_, err := p.Activate(u, "service.filter", "provider")
		assert.Error(t, err)
	})
}
