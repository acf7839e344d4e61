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

package filter

import (
	"context"
	"sync"
	"time"

	"go.uber.org/courier/api/rpc"
	"go.uber.org/courier/couriererrors"
	"go.uber.org/courier/extension"
	"go.uber.org/courier/url"
)

// DefaultTPSInterval is the token refill window when the URL names none.
const DefaultTPSInterval = time.Minute

func init() {
	p := extension.Default.Point(extension.PointFilter, "")
	p.MustRegister("tpslimit",
		func(*extension.Registry) (interface{}, error) {
			var f rpc.Filter = &tpsLimit{buckets: make(map[string]*tokenBucket)}
			return f, nil
		},
		extension.WithActivation(extension.Activation{
			Group: url.SideProvider,
			Keys:  []string{url.KeyTPSLimitRate},
			Order: 60,
		}))
}

// tpsLimit rejects calls past a per-service rate over a fixed window.
type tpsLimit struct {
	mu      sync.Mutex
	buckets map[string]*tokenBucket
}

func (t *tpsLimit) Invoke(ctx context.Context, next rpc.Invoker, inv rpc.Invocation) *rpc.Result {
	u := next.URL()
	rate := u.ParamInt(url.KeyTPSLimitRate, 0)
	if rate <= 0 {
		return next.Invoke(ctx, inv)
	}
	interval := u.ParamDuration(url.KeyTPSInterval, DefaultTPSInterval)

	t.mu.Lock()
	bucket, ok := t.buckets[u.ServiceKey()]
	if !ok {
		bucket = &tokenBucket{rate: int64(rate), interval: interval, tokens: int64(rate), last: time.Now()}
		t.buckets[u.ServiceKey()] = bucket
	}
	t.mu.Unlock()

	if !bucket.take() {
		return rpc.NewErrorResult(couriererrors.LimitExceededErrorf(
			"%s over %d calls per %v", u.ServiceKey(), rate, interval))
	}
	return next.Invoke(ctx, inv)
}

// tokenBucket refills rate tokens every interval; take consumes one.
type tokenBucket struct {
	mu       sync.Mutex
	rate     int64
	interval time.Duration
	tokens   int64
	last     time.Time
}

func (b *tokenBucket) take() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := time.Now()
	if now.Sub(b.last) >= b.interval {
		b.tokens = b.rate
		b.last = now
	}
	if b.tokens <= 0 {
		return false
	}
	b.tokens--
	return true
}
