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

package couriererrors

import "fmt"

// Code classifies an error for callers, filters, and cluster policies.
type Code int

const (
	// CodeOK means no error; it is the code of a nil Status.
	CodeOK Code = iota

	// CodeTimeout means a response or queue deadline expired.
	CodeTimeout

	// CodeNetwork means the connection was lost, a write failed, or the
	// peer spoke a different framing.
	CodeNetwork

	// CodeSerialization means a body failed to encode or decode.
	CodeSerialization

	// CodeBiz means the remote service implementation returned an error;
	// the payload is preserved verbatim.
	CodeBiz

	// CodeUnknown means the peer reported a server error with no further
	// classification.
	CodeUnknown

	// CodeForbidden means no provider was available or no invoker matched
	// the routers.
	CodeForbidden

	// CodeLimitExceeded means a worker pool or rate-limit filter rejected
	// the invocation.
	CodeLimitExceeded

	// CodeDestroyed means the invoker was destroyed before the call.
	CodeDestroyed

	// CodeCancelled means the caller cancelled the pending future.
	CodeCancelled

	// CodeInternal means a framework-side invariant was violated.
	CodeInternal
)

var codeToString = map[Code]string{
	CodeOK:            "ok",
	CodeTimeout:       "timeout",
	CodeNetwork:       "network",
	CodeSerialization: "serialization",
	CodeBiz:           "biz",
	CodeUnknown:       "unknown",
	CodeForbidden:     "forbidden",
	CodeLimitExceeded: "limit-exceeded",
	CodeDestroyed:     "destroyed",
	CodeCancelled:     "cancelled",
	CodeInternal:      "internal",
}

// String returns the lower-case name of the code.
func (c Code) String() string {
	if s, ok := codeToString[c]; ok {
		return s
	}
	return fmt.Sprintf("code(%d)", int(c))
}
