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

package rpc

// Result is the outcome of one invocation: exactly one of value and error is
// set, plus response attachments.
type Result struct {
	value       interface{}
	err         error
	attachments map[string]string
}

// NewResult returns a successful Result carrying value.
func NewResult(value interface{}) *Result {
	return &Result{value: value}
}

// NewErrorResult returns a failed Result carrying err. The error should
// carry a couriererrors code; errors without one read as CodeUnknown.
func NewErrorResult(err error) *Result {
	return &Result{err: err}
}

// Value returns the success value, or nil on failure.
func (r *Result) Value() interface{} { return r.value }

// Error returns the failure, or nil on success.
func (r *Result) Error() error { return r.err }

// Failed reports whether the result carries an error.
func (r *Result) Failed() bool { return r.err != nil }

// Attachments returns the response attachments; may be nil.
func (r *Result) Attachments() map[string]string { return r.attachments }

// Attachment returns the response attachment at key, or def.
func (r *Result) Attachment(key, def string) string {
	if v, ok := r.attachments[key]; ok && v != "" {
		return v
	}
	return def
}

// SetAttachment sets one response attachment and returns the Result for
// chaining in filters.
func (r *Result) SetAttachment(key, value string) *Result {
	if r.attachments == nil {
		r.attachments = make(map[string]string)
	}
	r.attachments[key] = value
	return r
}

// SetAttachments replaces the response attachments wholesale.
func (r *Result) SetAttachments(attachments map[string]string) *Result {
	r.attachments = attachments
	return r
}
