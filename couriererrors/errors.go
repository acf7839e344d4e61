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

// Package couriererrors defines the stable error kinds surfaced by the
// courier framework. Every error that crosses a package boundary carries a
// Code; cluster policies, filters, and callers branch on the Code rather
// than on concrete error types.
package couriererrors

import (
	"errors"
	"fmt"
)

// Newf returns a new Status with the given code.
//
// The code should never be CodeOK; if it is, this returns nil.
func Newf(code Code, format string, args ...interface{}) *Status {
	if code == CodeOK {
		return nil
	}

	var err error
	if len(args) == 0 {
		err = errors.New(format)
	} else {
		err = fmt.Errorf(format, args...)
	}

	return &Status{
		code: code,
		err:  err,
	}
}

// Wrap attaches a code to an existing error, keeping the cause reachable
// through errors.Unwrap.
//
// If err is nil, Wrap returns nil. If err already carries a Status, its
// message is preserved and only the code is replaced.
func Wrap(code Code, err error) *Status {
	if err == nil {
		return nil
	}
	return &Status{
		code: code,
		err:  err,
	}
}

// FromError returns the Status for the provided error.
//
// If the error is nil this returns nil. If the error is not a Status (even
// through wrapping), it is given CodeUnknown.
func FromError(err error) *Status {
	if err == nil {
		return nil
	}
	var st *Status
	if errors.As(err, &st) {
		return st
	}
	return &Status{
		code: CodeUnknown,
		err:  err,
	}
}

// IsStatus returns whether the provided error carries a Status, including
// through wrapping. This is false if the error is nil.
func IsStatus(err error) bool {
	var st *Status
	return errors.As(err, &st)
}

// Status is a courier error: a stable Code plus an underlying cause.
type Status struct {
	code Code
	err  error
}

// Code returns the error code for this Status. A nil Status has CodeOK.
func (s *Status) Code() Code {
	if s == nil {
		return CodeOK
	}
	return s.code
}

// Message returns the error message for this Status.
func (s *Status) Message() string {
	if s == nil || s.err == nil {
		return ""
	}
	return s.err.Error()
}

// Error implements the error interface.
func (s *Status) Error() string {
	return fmt.Sprintf("code:%s message:%s", s.code.String(), s.Message())
}

// Unwrap supports errors.Unwrap.
func (s *Status) Unwrap() error {
	if s == nil {
		return nil
	}
	return s.err
}

// TimeoutErrorf returns an error with CodeTimeout.
func TimeoutErrorf(format string, args ...interface{}) error {
	return Newf(CodeTimeout, format, args...)
}

// NetworkErrorf returns an error with CodeNetwork.
func NetworkErrorf(format string, args ...interface{}) error {
	return Newf(CodeNetwork, format, args...)
}

// SerializationErrorf returns an error with CodeSerialization.
func SerializationErrorf(format string, args ...interface{}) error {
	return Newf(CodeSerialization, format, args...)
}

// BizErrorf returns an error with CodeBiz. The message is the remote
// service's own error payload, preserved verbatim.
func BizErrorf(format string, args ...interface{}) error {
	return Newf(CodeBiz, format, args...)
}

// UnknownErrorf returns an error with CodeUnknown.
func UnknownErrorf(format string, args ...interface{}) error {
	return Newf(CodeUnknown, format, args...)
}

// ForbiddenErrorf returns an error with CodeForbidden.
func ForbiddenErrorf(format string, args ...interface{}) error {
	return Newf(CodeForbidden, format, args...)
}

// LimitExceededErrorf returns an error with CodeLimitExceeded.
func LimitExceededErrorf(format string, args ...interface{}) error {
	return Newf(CodeLimitExceeded, format, args...)
}

// DestroyedErrorf returns an error with CodeDestroyed.
func DestroyedErrorf(format string, args ...interface{}) error {
	return Newf(CodeDestroyed, format, args...)
}

// InternalErrorf returns an error with CodeInternal.
func InternalErrorf(format string, args ...interface{}) error {
	return Newf(CodeInternal, format, args...)
}

// CancelledErrorf returns an error with CodeCancelled.
func CancelledErrorf(format string, args ...interface{}) error {
	return Newf(CodeCancelled, format, args...)
}

// IsTimeout returns true if FromError(err).Code() is CodeTimeout.
func IsTimeout(err error) bool { return FromError(err).Code() == CodeTimeout }

// IsNetwork returns true if FromError(err).Code() is CodeNetwork.
func IsNetwork(err error) bool { return FromError(err).Code() == CodeNetwork }

// IsSerialization returns true if FromError(err).Code() is CodeSerialization.
func IsSerialization(err error) bool { return FromError(err).Code() == CodeSerialization }

// IsBiz returns true if FromError(err).Code() is CodeBiz.
func IsBiz(err error) bool { return FromError(err).Code() == CodeBiz }

// IsForbidden returns true if FromError(err).Code() is CodeForbidden.
func IsForbidden(err error) bool { return FromError(err).Code() == CodeForbidden }

// IsLimitExceeded returns true if FromError(err).Code() is CodeLimitExceeded.
func IsLimitExceeded(err error) bool { return FromError(err).Code() == CodeLimitExceeded }

// IsDestroyed returns true if FromError(err).Code() is CodeDestroyed.
func IsDestroyed(err error) bool { return FromError(err).Code() == CodeDestroyed }

// IsCancelled returns true if FromError(err).Code() is CodeCancelled.
func IsCancelled(err error) bool { return FromError(err).Code() == CodeCancelled }

// Retryable reports whether a cluster policy may retry an invocation that
// failed with this error on a different endpoint. Biz errors are the remote
// implementation speaking; retrying them is never safe.
func Retryable(err error) bool {
	switch FromError(err).Code() {
	case CodeTimeout, CodeNetwork, CodeForbidden, CodeLimitExceeded:
		return true
	default:
		return false
	}
}
