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

package lifecycle

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/atomic"
)

func TestStartRunsOnce(t *testing.T) {
	once := NewOnce()
	var calls atomic.Int32

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, once.Start(func() error {
				calls.Inc()
				return nil
			}))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, Running, once.State())
}

func TestStopRunsOnce(t *testing.T) {
	once := NewOnce()
	assert.NoError(t, once.Start(nil))

	var calls atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, once.Stop(func() error {
				calls.Inc()
				return nil
			}))
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, Stopped, once.State())
}

func TestStopBeforeStartSkipsBoth(t *testing.T) {
	once := NewOnce()
	stopCalled := false
	assert.NoError(t, once.Stop(func() error {
		stopCalled = true
		return nil
	}))
	assert.False(t, stopCalled)
	assert.Equal(t, Stopped, once.State())

	startCalled := false
	assert.NoError(t, once.Start(func() error {
		startCalled = true
		return nil
	}))
	assert.False(t, startCalled, "start after stop must not run")
}

func TestStartErrorSticks(t *testing.T) {
	once := NewOnce()
	boom := errors.New("boom")
	assert.Equal(t, boom, once.Start(func() error { return boom }))
	assert.Equal(t, boom, once.Start(nil), "subsequent starts return the first error")
	assert.Equal(t, Errored, once.State())
}

func TestStateNames(t *testing.T) {
	assert.Equal(t, "idle", Idle.String())
	assert.Equal(t, "running", Running.String())
	assert.Equal(t, "unknown", State(42).String())
}
