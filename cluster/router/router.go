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

// Package router narrows candidate provider lists by rule. Rules arrive as
// URLs, usually through the registry's routers category; each kind of rule
// has a factory at the router extension point.
package router

import (
	"go.uber.org/courier/url"
)

// shared carries what every rule router reads from its rule URL.
type shared struct {
	u        *url.URL
	priority int
	force    bool
	enabled  bool
}

func newShared(u *url.URL) shared {
	return shared{
		u:        u,
		priority: u.ParamInt(url.KeyPriority, 0),
		force:    u.ParamBool(url.KeyForce, false),
		enabled:  u.ParamBool(url.KeyEnabled, true),
	}
}

func (s *shared) URL() *url.URL { return s.u }

func (s *shared) Priority() int { return s.priority }
