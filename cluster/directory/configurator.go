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

package directory

import (
	"go.uber.org/courier/url"
)

// anyHost in a configurator matches every provider.
const anyHost = "0.0.0.0"

// applyConfigurators rewrites a provider URL with every matching override,
// in notification order, so a later override wins a conflicting key.
// Bookkeeping keys of the override URL itself never transfer.
func applyConfigurators(provider *url.URL, configurators []*url.URL) *url.URL {
	out := provider
	for _, c := range configurators {
		if !configuratorMatches(c, provider) {
			continue
		}
		params := make(map[string]string)
		for key, value := range c.Params() {
			switch key {
			case url.KeyCategory, url.KeyDynamic, url.KeyCheck, url.KeyInterface:
				continue
			}
			params[key] = value
		}
		out = out.AddParams(params)
	}
	return out
}

func configuratorMatches(c, provider *url.URL) bool {
	if c.Host() != anyHost && c.Host() != provider.Host() {
		return false
	}
	if c.Port() != 0 && c.Port() != provider.Port() {
		return false
	}
	if c.Interface() != url.CategoryAll && c.Interface() != provider.Interface() {
		return false
	}
	return true
}
