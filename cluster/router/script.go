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
	"github.com/Knetic/govaluate"

	"go.uber.org/courier/api/rpc"
	"go.uber.org/courier/cluster"
	"go.uber.org/courier/couriererrors"
	"go.uber.org/courier/extension"
	"go.uber.org/courier/url"
)

func init() {
	p := extension.Default.Point(extension.PointRouter, "condition")
	p.MustRegister("script", func(*extension.Registry) (interface{}, error) {
		var f cluster.RouterFactory = scriptFactory{}
		return f, nil
	})
}

type scriptFactory struct{}

func (scriptFactory) NewRouter(u *url.URL) (cluster.Router, error) {
	return newScriptRouter(u)
}

// scriptRouter evaluates a boolean expression per provider; providers the
// expression rejects are dropped. The expression sees these variables:
//
//	provider_host, provider_port, consumer_host, method,
//	weight, group, version, application
//
// Example rule: provider_host != '10.20.3.3' && weight > 50
type scriptRouter struct {
	shared
	expr *govaluate.EvaluableExpression
}

func newScriptRouter(u *url.URL) (*scriptRouter, error) {
	rule := u.Param(url.KeyRule, "")
	if rule == "" {
		return nil, couriererrors.InternalErrorf("script router needs a rule parameter")
	}
	expr, err := govaluate.NewEvaluableExpression(rule)
	if err != nil {
		return nil, couriererrors.InternalErrorf("script rule %q: %v", rule, err)
	}
	return &scriptRouter{shared: newShared(u), expr: expr}, nil
}

func (r *scriptRouter) Route(invokers []rpc.Invoker, consumer *url.URL, inv rpc.Invocation) []rpc.Invoker {
	if !r.enabled || len(invokers) == 0 {
		return invokers
	}

	var out []rpc.Invoker
	for _, invoker := range invokers {
		p := invoker.URL()
		params := map[string]interface{}{
			"provider_host": p.Host(),
			"provider_port": float64(p.Port()),
			"consumer_host": consumer.Host(),
			"method":        inv.MethodName(),
			"weight":        float64(p.ParamInt(url.KeyWeight, 100)),
			"group":         p.Param(url.KeyGroup, ""),
			"version":       p.Param(url.KeyVersion, ""),
			"application":   p.Param(url.KeyApplication, ""),
		}
		keep, err := r.expr.Evaluate(params)
		if err != nil {
			// a broken rule must not black-hole traffic
			return invokers
		}
		if ok, isBool := keep.(bool); isBool && ok {
			out = append(out, invoker)
		}
	}
	if len(out) == 0 && !r.force {
		return invokers
	}
	return out
}
