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

// Package exchange frames a request/response conversation above the
// transport: id allocation, future correlation, timeouts, and heartbeats.
package exchange

import (
	"go.uber.org/atomic"

	"go.uber.org/courier/couriererrors"
)

// Response status bytes on the wire.
const (
	StatusOK                 byte = 20
	StatusClientTimeout      byte = 30
	StatusServerTimeout      byte = 31
	StatusBadRequest         byte = 40
	StatusBadResponse        byte = 50
	StatusServiceNotFound    byte = 60
	StatusServiceError       byte = 70
	StatusServerError        byte = 80
	StatusClientError        byte = 90
	StatusThreadPoolExhausted byte = 100
)

// Request is one outbound frame from a client.
type Request struct {
	// ID correlates the response; monotonic per endpoint. Wraparound is
	// fine as long as fewer than 2^63 requests are simultaneously open.
	ID int64

	// TwoWay requests expect a response; oneway requests reserve no id
	// slot and register no future.
	TwoWay bool

	// Event marks control frames (heartbeat). Event bodies are nil.
	Event bool

	// SerializationID names the body format on the wire.
	SerializationID byte

	// Data is the body: a codec request payload, or nil for events.
	Data interface{}

	// Broken marks a frame that arrived but could not be decoded; Err
	// says why. The connection survives; only this frame is poisoned.
	Broken bool
	Err    error
}

// Response is one inbound frame answering a Request.
type Response struct {
	ID              int64
	Status          byte
	Event           bool
	SerializationID byte

	// Data is the decoded body when Status is StatusOK.
	Data interface{}

	// ErrorMsg carries the peer's message for non-OK statuses.
	ErrorMsg string
}

// OK reports whether the response carries a successful status.
func (r *Response) OK() bool { return r.Status == StatusOK }

// StatusError translates a non-OK wire status into the stable error kinds.
func (r *Response) StatusError() error {
	switch r.Status {
	case StatusOK:
		return nil
	case StatusClientTimeout, StatusServerTimeout:
		return couriererrors.TimeoutErrorf("request %d timed out at peer: %s", r.ID, r.ErrorMsg)
	case StatusBadRequest, StatusBadResponse:
		return couriererrors.SerializationErrorf("request %d malformed: %s", r.ID, r.ErrorMsg)
	case StatusServiceNotFound:
		return couriererrors.ForbiddenErrorf("request %d: service not found: %s", r.ID, r.ErrorMsg)
	case StatusServiceError:
		return couriererrors.BizErrorf("%s", r.ErrorMsg)
	case StatusThreadPoolExhausted:
		return couriererrors.LimitExceededErrorf("request %d rejected: %s", r.ID, r.ErrorMsg)
	default:
		return couriererrors.UnknownErrorf("request %d failed with status %d: %s", r.ID, r.Status, r.ErrorMsg)
	}
}

// idSequence allocates per-endpoint request ids.
type idSequence struct {
	next atomic.Int64
}

// Next returns the next id. Ids may wrap; correlation is by equality over
// the open window, so reuse only matters past 2^63 concurrently open slots.
func (s *idSequence) Next() int64 { return s.next.Add(1) }
