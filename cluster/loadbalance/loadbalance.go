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

// Package loadbalance picks one invoker from a candidate list. All
// strategies honor warm-up: a freshly started provider carries a reduced
// effective weight that ramps to its configured weight over the warm-up
// window.
package loadbalance

import (
	"time"

	"go.uber.org/courier/url"
)

// Weight defaults.
const (
	DefaultWeight = 100
	DefaultWarmup = 10 * time.Minute
)

// Weight returns the effective weight of a provider URL at now: the
// configured weight scaled by how far the provider is into its warm-up
// window, never below 1 while warming.
func Weight(u *url.URL, now time.Time) int {
	weight := u.ParamInt(url.KeyWeight, DefaultWeight)
	if weight <= 0 {
		return 0
	}

	startedMillis := int64(u.ParamInt(url.KeyTimestamp, 0))
	if startedMillis <= 0 {
		return weight
	}
	uptime := now.Sub(time.UnixMilli(startedMillis))
	if uptime <= 0 {
		return 1
	}
	warmup := u.ParamDuration(url.KeyWarmup, DefaultWarmup)
	if uptime >= warmup {
		return weight
	}

	scaled := int(float64(weight) * float64(uptime) / float64(warmup))
	if scaled < 1 {
		return 1
	}
	return scaled
}
