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

// Package backoff implements the full-jitter exponential backoff used by the
// registry client's reconnect loop.
package backoff

import (
	"errors"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/multierr"
)

// Option configures an exponential backoff strategy.
type Option func(*options)

type options struct {
	base, min, max time.Duration
	rand           *rand.Rand
}

func (o options) validate() (err error) {
	if o.base <= 0 {
		err = multierr.Append(err, errors.New("backoff base must be greater than zero"))
	}
	if o.min < 0 {
		err = multierr.Append(err, errors.New("backoff min must not be negative"))
	}
	if o.max < o.min {
		err = multierr.Append(err, errors.New("backoff max must not be less than min"))
	}
	return err
}

var defaultOptions = options{
	base: 10 * time.Millisecond,
	max:  30 * time.Second,
}

// Base sets the first jump of the strategy.
func Base(d time.Duration) Option {
	return func(o *options) { o.base = d }
}

// Min sets the smallest duration ever returned.
func Min(d time.Duration) Option {
	return func(o *options) { o.min = d }
}

// Max sets the ceiling; no backoff ever exceeds it.
func Max(d time.Duration) Option {
	return func(o *options) { o.max = d }
}

// withRand overrides the random source for deterministic tests.
func withRand(r *rand.Rand) Option {
	return func(o *options) { o.rand = r }
}

// Exponential is a full-jitter exponential backoff strategy: attempt n draws
// uniformly from [min, min + min(2^n * base, max-min)]. Stateless and safe
// for concurrent use.
type Exponential struct {
	opts       options
	minMaxDiff int64

	mu   sync.Mutex
	rand *rand.Rand
}

// NewExponential returns a new strategy or a validation error.
func NewExponential(opts ...Option) (*Exponential, error) {
	options := defaultOptions
	for _, opt := range opts {
		opt(&options)
	}
	if err := options.validate(); err != nil {
		return nil, err
	}
	r := options.rand
	if r == nil {
		r = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Exponential{
		opts:       options,
		minMaxDiff: options.max.Nanoseconds() - options.min.Nanoseconds(),
		rand:       r,
	}, nil
}

// Duration returns how long to wait before the given attempt, counted from
// zero.
func (e *Exponential) Duration(attempt uint) time.Duration {
	spread := (1 << attempt) * e.opts.base.Nanoseconds()
	// Overflowed the shift or passed the ceiling: saturate.
	if spread > e.minMaxDiff || spread <= 0 {
		spread = e.minMaxDiff
	}
	e.mu.Lock()
	jitter := e.rand.Int63n(spread + 1)
	e.mu.Unlock()
	return e.opts.min + time.Duration(jitter)
}
