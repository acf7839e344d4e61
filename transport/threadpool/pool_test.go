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

package threadpool

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.uber.org/courier/couriererrors"
	"go.uber.org/courier/url"
)

func poolURL(params ...url.Option) *url.URL {
	return url.New("courier", "127.0.0.1", 20880, "svc", params...)
}

func TestParseKind(t *testing.T) {
	for name, want := range map[string]Kind{
		"fixed": Fixed, "cached": Cached, "limited": Limited, "eager": Eager,
	} {
		got, err := ParseKind(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
	_, err := ParseKind("forkjoin")
	assert.Error(t, err)
}

func TestFixedRunsTasks(t *testing.T) {
	p, err := New(poolURL(
		url.WithParam(url.KeyThreadPool, "fixed"),
		url.WithParam(url.KeyThreads, "4"),
		url.WithParam(url.KeyQueues, "16"),
	))
	require.NoError(t, err)
	defer p.Shutdown()

	var wg sync.WaitGroup
	var mu sync.Mutex
	ran := 0
	for i := 0; i < 32; i++ {
		wg.Add(1)
		require.NoError(t, p.Submit(func() {
			defer wg.Done()
			mu.Lock()
			ran++
			mu.Unlock()
		}))
	}
	wg.Wait()
	assert.Equal(t, 32, ran)
}

func TestSaturationRejects(t *testing.T) {
	p, err := New(poolURL(
		url.WithParam(url.KeyThreadPool, "fixed"),
		url.WithParam(url.KeyThreads, "1"),
		url.WithParam(url.KeyQueues, "0"),
	))
	require.NoError(t, err)
	defer p.Shutdown()

	block := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Submit(func() {
		close(started)
		<-block
	}))
	<-started

	err = p.Submit(func() {})
	assert.True(t, couriererrors.IsLimitExceeded(err), "got %v", err)
	close(block)
}

func TestEagerGrowsBeforeQueueing(t *testing.T) {
	p := newPool(0, 3, 100, time.Minute, true)
	defer p.Shutdown()

	block := make(chan struct{})
	var started sync.WaitGroup
	for i := 0; i < 3; i++ {
		started.Add(1)
		require.NoError(t, p.Submit(func() {
			started.Done()
			<-block
		}))
	}
	started.Wait()

	// All workers busy: with room in the queue this must now enqueue, not
	// reject, even though active == max.
	assert.Equal(t, 3, p.Active())
	require.NoError(t, p.Submit(func() {}))
	close(block)
}

func TestSubmitAfterShutdown(t *testing.T) {
	p := newPool(1, 1, 0, 0, false)
	p.Shutdown()
	p.Shutdown() // idempotent

	err := p.Submit(func() {})
	assert.True(t, couriererrors.IsDestroyed(err))
}

func TestCachedPoolDrainsQueueFromIdle(t *testing.T) {
	// core=0 with a buffered queue: the first Submit lands in the queue
	// before any worker exists, and must still run.
	p := newPool(0, 2, 4, 20*time.Millisecond, false)
	defer p.Shutdown()

	done := make(chan struct{})
	require.NoError(t, p.Submit(func() { close(done) }))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("queued task never ran with zero workers")
	}

	// After the idle reap takes the worker away, the pool must recover.
	require.Eventually(t, func() bool {
		p.mu.Lock()
		defer p.mu.Unlock()
		return p.workers == 0
	}, 2*time.Second, 5*time.Millisecond)

	again := make(chan struct{})
	require.NoError(t, p.Submit(func() { close(again) }))
	select {
	case <-again:
	case <-time.After(2 * time.Second):
		t.Fatal("queued task never ran after the workers were reaped")
	}
}

func TestQueuedTasksRunAfterBusy(t *testing.T) {
	p := newPool(1, 1, 8, 0, false)
	defer p.Shutdown()

	block := make(chan struct{})
	started := make(chan struct{})
	require.NoError(t, p.Submit(func() {
		close(started)
		<-block
	}))
	<-started

	done := make(chan struct{})
	require.NoError(t, p.Submit(func() { close(done) }))
	close(block)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("queued task never ran")
	}
}
