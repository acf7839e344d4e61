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
	"go.uber.org/courier/api/rpc"
	"go.uber.org/courier/cluster"
	"go.uber.org/courier/extension"
	"go.uber.org/courier/url"
)

func init() {
	p := extension.Default.Point(extension.PointRouter, "condition")
	p.MustRegister("tag", func(*extension.Registry) (interface{}, error) {
		var f cluster.RouterFactory = tagFactory{}
		return f, nil
	})
}

type tagFactory struct{}

func (tagFactory) NewRouter(u *url.URL) (cluster.Router, error) {
	return &tagRouter{shared: newShared(u)}, nil
}

// tagRouter keeps tagged traffic inside its tag. The call's tag comes from
// the invocation attachment first, the consumer URL second. Untagged calls
// only see untagged providers; tagged calls fall back to untagged providers
// unless the rule carries force=true.
type tagRouter struct {
	shared
}

func (r *tagRouter) Route(invokers []rpc.Invoker, consumer *url.URL, inv rpc.Invocation) []rpc.Invoker {
	if !r.enabled || len(invokers) == 0 {
		return invokers
	}
	tag := inv.Attachment(url.KeyTag, consumer.Param(url.KeyTag, ""))

	if tag == "" {
		return filterByTag(invokers, "")
	}

	tagged := filterByTag(invokers, tag)
	if len(tagged) > 0 {
		return tagged
	}
	if r.force {
		return nil
	}
	return filterByTag(invokers, "")
}

func filterByTag(invokers []rpc.Invoker, tag string) []rpc.Invoker {
	var out []rpc.Invoker
	for _, invoker := range invokers {
		if invoker.URL().Param(url.KeyTag, "") == tag {
			out = append(out, invoker)
		}
	}
	return out
}
