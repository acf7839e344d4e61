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

// Package lifecycle provides an at-most-once start/stop state machine for
// components that bind resources, such as the exchange server. It backs the
// guarantee that closing is idempotent and that a closed component fails
// fast.
package lifecycle

import (
	syncatomic "sync/atomic"

	"go.uber.org/atomic"
)

// State is a point in the monotonic lifecycle progression.
type State int32

const (
	// Idle indicates the lifecycle has not been operated on yet.
	Idle State = iota

	// Starting indicates Start has begun but not finished.
	Starting

	// Running indicates the component started successfully.
	Running

	// Stopping indicates Stop has begun but not finished.
	Stopping

	// Stopped indicates the component stopped (or was stopped before ever
	// starting).
	Stopped

	// Errored indicates Start or Stop failed; the state is terminal.
	Errored
)

var stateToName = map[State]string{
	Idle:     "idle",
	Starting: "starting",
	Running:  "running",
	Stopping: "stopping",
	Stopped:  "stopped",
	Errored:  "errored",
}

// String returns the lower-case name of the state.
func (s State) String() string {
	if name, ok := stateToName[s]; ok {
		return name
	}
	return "unknown"
}

// Once drives an object through Idle → Running → Stopped with at-most-once
// start and stop functions. The observable state only moves forward.
type Once struct {
	// startCh closes once the state is >= Running.
	startCh chan struct{}
	// stopCh closes once the state is >= Stopped.
	stopCh chan struct{}
	// err holds the error from the first failing Start or Stop; immutable
	// once the corresponding channel closes.
	err   syncatomic.Value
	state atomic.Int32
}

// NewOnce returns a lifecycle controller in the Idle state.
func NewOnce() *Once {
	return &Once{
		startCh: make(chan struct{}),
		stopCh:  make(chan struct{}),
	}
}

// Start runs f at most once. Concurrent and subsequent calls block until the
// first completes and return its error. A nil f transitions state only.
func (o *Once) Start(f func() error) error {
	if o.state.CompareAndSwap(int32(Idle), int32(Starting)) {
		var err error
		if f != nil {
			err = f()
		}
		if err != nil {
			o.err.Store(err)
			o.state.Store(int32(Errored))
			close(o.stopCh)
		} else {
			o.state.Store(int32(Running))
		}
		close(o.startCh)
		return err
	}

	<-o.startCh
	return o.loadError()
}

// Stop runs f at most once, after Start has settled. Stopping an Idle
// lifecycle skips f entirely and settles in Stopped.
func (o *Once) Stop(f func() error) error {
	if o.state.CompareAndSwap(int32(Idle), int32(Stopped)) {
		close(o.startCh)
		close(o.stopCh)
		return nil
	}

	<-o.startCh

	if o.state.CompareAndSwap(int32(Running), int32(Stopping)) {
		var err error
		if f != nil {
			err = f()
		}
		if err != nil {
			o.err.Store(err)
			o.state.Store(int32(Errored))
		} else {
			o.state.Store(int32(Stopped))
		}
		close(o.stopCh)
		return err
	}

	<-o.stopCh
	return o.loadError()
}

// State returns the current state.
func (o *Once) State() State { return State(o.state.Load()) }

// Running reports whether the state is exactly Running.
func (o *Once) Running() bool { return o.State() == Running }

// Stopped reports whether the lifecycle has ended or is ending.
func (o *Once) Stopped() bool { return o.State() >= Stopping }

// Started returns a channel that closes when Start settles.
func (o *Once) Started() <-chan struct{} { return o.startCh }

// StopChan returns a channel that closes when Stop settles.
func (o *Once) StopChan() <-chan struct{} { return o.stopCh }

func (o *Once) loadError() error {
	if v := o.err.Load(); v != nil {
		if err, ok := v.(error); ok {
			return err
		}
	}
	return nil
}
