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

import "context"

type attachmentsKey struct{}

// WithAttachments returns a context carrying caller attachments; the context
// filter copies them onto every outgoing invocation.
func WithAttachments(ctx context.Context, attachments map[string]string) context.Context {
	merged := make(map[string]string, len(attachments))
	for k, v := range ContextAttachments(ctx) {
		merged[k] = v
	}
	for k, v := range attachments {
		merged[k] = v
	}
	return context.WithValue(ctx, attachmentsKey{}, merged)
}

// ContextAttachments returns the attachments carried by the context, or nil.
func ContextAttachments(ctx context.Context) map[string]string {
	if m, ok := ctx.Value(attachmentsKey{}).(map[string]string); ok {
		return m
	}
	return nil
}

// Well-known attachment keys carried across the wire with each invocation.
const (
	AttachmentPath      = "path"
	AttachmentGroup     = "group"
	AttachmentVersion   = "version"
	AttachmentInterface = "interface"
	AttachmentToken     = "token"
	AttachmentTimeout   = "timeout"
)
