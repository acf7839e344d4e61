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

package router

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.uber.org/courier/api/rpc"
	"go.uber.org/courier/url"
)

func provider(host string, params ...url.Option) rpc.Invoker {
	base := []url.Option{url.WithParam(url.KeyInterface, "com.uber.Echo")}
	return rpc.NewBaseInvoker(url.New("courier", host, 20880, "com.uber.Echo", append(base, params...)...))
}

func consumerAt(host string, params ...url.Option) *url.URL {
	base := []url.Option{url.WithParam(url.KeyInterface, "com.uber.Echo")}
	return url.New("consumer", host, 0, "com.uber.Echo", append(base, params...)...)
}

func ruleURL(rule string, params ...url.Option) *url.URL {
	base := []url.Option{url.WithParam(url.KeyRule, rule)}
	return url.New("condition", "0.0.0.0", 0, "com.uber.Echo", append(base, params...)...)
}

func addresses(invokers []rpc.Invoker) []string {
	var out []string
	for _, i := range invokers {
		out = append(out, i.URL().Host())
	}
	return out
}

func TestConditionRouterHostRule(t *testing.T) {
	r, err := newConditionRouter(ruleURL("host = 10.20.153.10 => host = 10.0.0.1"))
	require.NoError(t, err)

	invokers := []rpc.Invoker{provider("10.0.0.1"), provider("10.0.0.2")}
	inv := rpc.NewInvocation("echo", nil, nil)

	routed := r.Route(invokers, consumerAt("10.20.153.10"), inv)
	assert.Equal(t, []string{"10.0.0.1"}, addresses(routed))

	routed = r.Route(invokers, consumerAt("10.20.153.99"), inv)
	assert.Len(t, routed, 2, "non-matching consumers are untouched")
}

func TestConditionRouterMethodWildcard(t *testing.T) {
	r, err := newConditionRouter(ruleURL("method = find*,get* => host = 10.0.0.2"))
	require.NoError(t, err)

	invokers := []rpc.Invoker{provider("10.0.0.1"), provider("10.0.0.2")}
	consumer := consumerAt("10.20.153.10")

	routed := r.Route(invokers, consumer, rpc.NewInvocation("findUser", nil, nil))
	assert.Equal(t, []string{"10.0.0.2"}, addresses(routed))

	routed = r.Route(invokers, consumer, rpc.NewInvocation("deleteUser", nil, nil))
	assert.Len(t, routed, 2)
}

func TestConditionRouterNegation(t *testing.T) {
	r, err := newConditionRouter(ruleURL("=> host != 10.0.0.1"))
	require.NoError(t, err)

	invokers := []rpc.Invoker{provider("10.0.0.1"), provider("10.0.0.2")}
	routed := r.Route(invokers, consumerAt("10.20.153.10"), rpc.NewInvocation("echo", nil, nil))
	assert.Equal(t, []string{"10.0.0.2"}, addresses(routed))
}

func TestConditionRouterBlacklist(t *testing.T) {
	r, err := newConditionRouter(ruleURL("host = 10.20.153.10 =>"))
	require.NoError(t, err)

	invokers := []rpc.Invoker{provider("10.0.0.1")}
	routed := r.Route(invokers, consumerAt("10.20.153.10"), rpc.NewInvocation("echo", nil, nil))
	assert.Empty(t, routed, "empty then half blacklists matched consumers")
}

func TestConditionRouterForce(t *testing.T) {
	invokers := []rpc.Invoker{provider("10.0.0.1")}
	inv := rpc.NewInvocation("echo", nil, nil)

	soft, err := newConditionRouter(ruleURL("=> host = 10.9.9.9"))
	require.NoError(t, err)
	assert.Len(t, soft.Route(invokers, consumerAt("10.20.153.10"), inv), 1,
		"without force an empty result falls back to all")

	hard, err := newConditionRouter(ruleURL("=> host = 10.9.9.9",
		url.WithParam(url.KeyForce, "true")))
	require.NoError(t, err)
	assert.Empty(t, hard.Route(invokers, consumerAt("10.20.153.10"), inv))
}

func TestConditionRouterDisabled(t *testing.T) {
	r, err := newConditionRouter(ruleURL("=> host = 10.9.9.9",
		url.WithParam(url.KeyEnabled, "false"),
		url.WithParam(url.KeyForce, "true")))
	require.NoError(t, err)

	invokers := []rpc.Invoker{provider("10.0.0.1")}
	assert.Len(t, r.Route(invokers, consumerAt("10.20.153.10"), rpc.NewInvocation("echo", nil, nil)), 1)
}

func TestConditionRouterRejectsBadRules(t *testing.T) {
	for _, rule := range []string{"", "host = 10.0.0.1", "host 10.0.0.1 => ", "= x => host = y"} {
		_, err := newConditionRouter(ruleURL(rule))
		assert.Error(t, err, "rule %q", rule)
	}
}

func TestTagRouter(t *testing.T) {
	r, err := tagFactory{}.NewRouter(ruleURL(""))
	require.NoError(t, err)

	canary := provider("10.0.0.1", url.WithParam(url.KeyTag, "canary"))
	plain := provider("10.0.0.2")
	invokers := []rpc.Invoker{canary, plain}

	inv := rpc.NewInvocation("echo", nil, nil)
	inv.SetAttachment(url.KeyTag, "canary")
	assert.Equal(t, []string{"10.0.0.1"}, addresses(r.Route(invokers, consumerAt("10.0.0.9"), inv)))

	assert.Equal(t, []string{"10.0.0.2"},
		addresses(r.Route(invokers, consumerAt("10.0.0.9"), rpc.NewInvocation("echo", nil, nil))),
		"untagged calls only see untagged providers")
}

func TestTagRouterFallback(t *testing.T) {
	plain := provider("10.0.0.2")
	invokers := []rpc.Invoker{plain}

	inv := rpc.NewInvocation("echo", nil, nil)
	inv.SetAttachment(url.KeyTag, "canary")

	soft, err := tagFactory{}.NewRouter(ruleURL(""))
	require.NoError(t, err)
	assert.Len(t, soft.Route(invokers, consumerAt("10.0.0.9"), inv), 1,
		"missing tag falls back to untagged providers")

	hard, err := tagFactory{}.NewRouter(ruleURL("", url.WithParam(url.KeyForce, "true")))
	require.NoError(t, err)
	assert.Empty(t, hard.Route(invokers, consumerAt("10.0.0.9"), inv))
}

func TestScriptRouter(t *testing.T) {
	r, err := newScriptRouter(ruleURL("provider_host != '10.0.0.1' && weight >= 100"))
	require.NoError(t, err)

	invokers := []rpc.Invoker{
		provider("10.0.0.1"),
		provider("10.0.0.2"),
		provider("10.0.0.3", url.WithParam(url.KeyWeight, "10")),
	}
	routed := r.Route(invokers, consumerAt("10.0.0.9"), rpc.NewInvocation("echo", nil, nil))
	assert.Equal(t, []string{"10.0.0.2"}, addresses(routed))
}

func TestScriptRouterRejectsBadExpression(t *testing.T) {
	_, err := newScriptRouter(ruleURL("&& nope"))
	assert.Error(t, err)
}
