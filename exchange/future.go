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

package exchange

import (
	"context"
	"sync"
	"time"

	"go.uber.org/courier/couriererrors"
)

// Future is the one-shot result slot of a two-way request. Completion sets
// a response or an error exactly once and wakes every waiter; listeners
// added after completion run inline on the adding goroutine.
type Future struct {
	id      int64
	created time.Time
	timeout time.Duration

	mu        sync.Mutex
	done      chan struct{}
	response  *Response
	err       error
	listeners []func(*Response, error)
}

// NewFuture returns an incomplete future for the given request id.
func NewFuture(id int64, timeout time.Duration) *Future {
	return &Future{
		id:      id,
		created: time.Now(),
		timeout: timeout,
		done:    make(chan struct{}),
	}
}

// ID returns the correlated request id.
func (f *Future) ID() int64 { return f.id }

// Timeout returns the deadline budget the future was created with.
func (f *Future) Timeout() time.Duration { return f.timeout }

// Done returns a channel closed on completion.
func (f *Future) Done() <-chan struct{} { return f.done }

// IsDone reports whether the future completed.
func (f *Future) IsDone() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// complete sets the outcome. Only the first call wins; later completions
// (late responses after a timeout or cancel) are dropped.
func (f *Future) complete(resp *Response, err error) bool {
	f.mu.Lock()
	select {
	case <-f.done:
		f.mu.Unlock()
		return false
	default:
	}
	f.response = resp
	f.err = err
	listeners := f.listeners
	f.listeners = nil
	close(f.done)
	f.mu.Unlock()

	for _, l := range listeners {
		l(resp, err)
	}
	return true
}

// Cancel completes the future with CodeCancelled. Late responses for the id
// are dropped by the pending table.
func (f *Future) Cancel() {
	f.complete(nil, couriererrors.CancelledErrorf("request %d cancelled by caller", f.id))
}

// AddListener registers a completion callback. If the future is already
// done the listener runs inline on the calling goroutine; otherwise it runs
// on the completing goroutine.
func (f *Future) AddListener(l func(*Response, error)) {
	f.mu.Lock()
	select {
	case <-f.done:
		resp, err := f.response, f.err
		f.mu.Unlock()
		l(resp, err)
		return
	default:
	}
	f.listeners = append(f.listeners, l)
	f.mu.Unlock()
}

// Get waits for completion, the future's own timeout, or ctx expiry,
// whichever comes first.
func (f *Future) Get(ctx context.Context) (*Response, error) {
	var timeoutCh <-chan time.Time
	if f.timeout > 0 {
		timer := time.NewTimer(f.timeout)
		defer timer.Stop()
		timeoutCh = timer.C
	}

	select {
	case <-f.done:
		return f.outcome()
	case <-timeoutCh:
		f.complete(nil, couriererrors.TimeoutErrorf(
			"waiting client-side for request %d timed out after %v", f.id, f.timeout))
		return f.outcome()
	case <-ctx.Done():
		f.complete(nil, couriererrors.TimeoutErrorf(
			"context ended waiting for request %d: %v", f.id, ctx.Err()))
		return f.outcome()
	}
}

func (f *Future) outcome() (*Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.response, f.err
}

// pending is the id → future table of one endpoint.
type pending struct {
	mu      sync.Mutex
	futures map[int64]*Future
}

func newPending() *pending {
	return &pending{futures: make(map[int64]*Future)}
}

func (p *pending) add(f *Future) {
	p.mu.Lock()
	p.futures[f.id] = f
	p.mu.Unlock()

	// Whatever completes the future first also clears its slot, so a late
	// response finds nothing and is dropped.
	f.AddListener(func(*Response, error) { p.remove(f.id) })

	// The deadline fires even with nobody blocked in Get: an abandoned
	// async future must not pin its slot until the peer answers.
	if f.timeout > 0 {
		timer := time.AfterFunc(f.timeout, func() {
			f.complete(nil, couriererrors.TimeoutErrorf(
				"waiting client-side for request %d timed out after %v", f.id, f.timeout))
		})
		f.AddListener(func(*Response, error) { timer.Stop() })
	}
}

func (p *pending) remove(id int64) *Future {
	p.mu.Lock()
	defer p.mu.Unlock()
	f := p.futures[id]
	delete(p.futures, id)
	return f
}

func (p *pending) get(id int64) *Future {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.futures[id]
}

// failAll completes every pending future with err. Used when the
// connection drops: every in-flight request on it fails with CodeNetwork.
func (p *pending) failAll(err error) {
	p.mu.Lock()
	futures := make([]*Future, 0, len(p.futures))
	for _, f := range p.futures {
		futures = append(futures, f)
	}
	p.futures = make(map[int64]*Future)
	p.mu.Unlock()

	for _, f := range futures {
		f.complete(nil, err)
	}
}
