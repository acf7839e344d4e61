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
	"strings"

	"go.uber.org/courier/api/rpc"
	"go.uber.org/courier/cluster"
	"go.uber.org/courier/couriererrors"
	"go.uber.org/courier/extension"
	"go.uber.org/courier/url"
)

func init() {
	p := extension.Default.Point(extension.PointRouter, "condition")
	p.MustRegister("condition", func(*extension.Registry) (interface{}, error) {
		var f cluster.RouterFactory = conditionFactory{}
		return f, nil
	})
}

type conditionFactory struct{}

func (conditionFactory) NewRouter(u *url.URL) (cluster.Router, error) {
	return newConditionRouter(u)
}

// conditionRouter implements "when => then" rules: consumers matching the
// when half are restricted to providers matching the then half.
//
//	host = 10.20.153.10 => host = 10.20.153.11
//	method = find*,get* => host = 10.20.153.11,10.20.153.12
//	host = 10.20.153.10 =>
//
// An empty when half matches every consumer; an empty then half blacklists
// the matched consumers. Values are comma lists and may carry a leading or
// trailing wildcard.
type conditionRouter struct {
	shared
	when []condition
	then []condition
	// thenEmpty distinguishes "no then half" (blacklist) from an
	// unparseable rule
	thenEmpty bool
}

type condition struct {
	key    string
	negate bool
	values []string
}

func newConditionRouter(u *url.URL) (*conditionRouter, error) {
	rule := strings.TrimSpace(u.Param(url.KeyRule, ""))
	if rule == "" {
		return nil, couriererrors.InternalErrorf("condition router needs a rule parameter")
	}
	whenRaw, thenRaw, found := strings.Cut(rule, "=>")
	if !found {
		return nil, couriererrors.InternalErrorf("condition rule %q has no \"=>\"", rule)
	}

	when, err := parseConditions(whenRaw)
	if err != nil {
		return nil, err
	}
	then, err := parseConditions(thenRaw)
	if err != nil {
		return nil, err
	}
	return &conditionRouter{
		shared:    newShared(u),
		when:      when,
		then:      then,
		thenEmpty: len(then) == 0,
	}, nil
}

func parseConditions(raw string) ([]condition, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var out []condition
	for _, clause := range strings.Split(raw, "&") {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}

		negate := false
		key, value, found := strings.Cut(clause, "!=")
		if found {
			negate = true
		} else {
			key, value, found = strings.Cut(clause, "=")
			if !found {
				return nil, couriererrors.InternalErrorf("condition clause %q has no operator", clause)
			}
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		if key == "" || value == "" {
			return nil, couriererrors.InternalErrorf("condition clause %q is incomplete", clause)
		}

		var values []string
		for _, v := range strings.Split(value, ",") {
			if v = strings.TrimSpace(v); v != "" {
				values = append(values, v)
			}
		}
		out = append(out, condition{key: key, negate: negate, values: values})
	}
	return out, nil
}

func (r *conditionRouter) Route(invokers []rpc.Invoker, consumer *url.URL, inv rpc.Invocation) []rpc.Invoker {
	if !r.enabled || len(invokers) == 0 {
		return invokers
	}
	if !r.matchWhen(consumer, inv) {
		return invokers
	}
	if r.thenEmpty {
		// blacklist rule
		return nil
	}

	var out []rpc.Invoker
	for _, invoker := range invokers {
		if r.matchThen(invoker.URL()) {
			out = append(out, invoker)
		}
	}
	if len(out) == 0 && !r.force {
		return invokers
	}
	return out
}

func (r *conditionRouter) matchWhen(consumer *url.URL, inv rpc.Invocation) bool {
	for _, c := range r.when {
		var actual string
		switch c.key {
		case "host":
			actual = consumer.Host()
		case "method":
			actual = inv.MethodName()
		default:
			actual = consumer.Param(c.key, "")
		}
		if !c.matches(actual) {
			return false
		}
	}
	return true
}

func (r *conditionRouter) matchThen(provider *url.URL) bool {
	for _, c := range r.then {
		var actual string
		switch c.key {
		case "host":
			actual = provider.Host()
		default:
			actual = provider.Param(c.key, "")
		}
		if !c.matches(actual) {
			return false
		}
	}
	return true
}

func (c condition) matches(actual string) bool {
	matched := false
	for _, v := range c.values {
		if matchValue(v, actual) {
			matched = true
			break
		}
	}
	if c.negate {
		return !matched
	}
	return matched
}

// matchValue supports exact values, "*", and a single leading or trailing
// wildcard like "10.20.*" or "*.uber.internal".
func matchValue(pattern, actual string) bool {
	switch {
	case pattern == "*":
		return actual != ""
	case strings.HasPrefix(pattern, "*"):
		return strings.HasSuffix(actual, pattern[1:])
	case strings.HasSuffix(pattern, "*"):
		return strings.HasPrefix(actual, pattern[:len(pattern)-1])
	default:
		return pattern == actual
	}
}
