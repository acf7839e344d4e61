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

import "sync"

// Invocation is one call: a method, its arguments, and caller-set
// attachments. Implementations are immutable to everything but the caller
// and the filters acting on the caller's behalf; retries clone a fresh
// Invocation so attachments from a failed attempt never leak into the next.
type Invocation interface {
	// MethodName returns the invoked method.
	MethodName() string

	// ParameterTypes returns the wire descriptors of the parameter types.
	ParameterTypes() []string

	// Arguments returns the argument values.
	Arguments() []interface{}

	// Attachments returns a copy of the attachment map.
	Attachments() map[string]string

	// Attachment returns the value at key, or def.
	Attachment(key, def string) string

	// SetAttachment sets a single attachment. Only the caller side of the
	// chain may use it.
	SetAttachment(key, value string)

	// Invoker returns the target invoker, set by the cluster before
	// dispatch. Nil until selection.
	Invoker() Invoker

	// SetInvoker records the selected target.
	SetInvoker(Invoker)
}

// CallInvocation is the concrete Invocation used throughout the framework.
type CallInvocation struct {
	method string
	types  []string
	args   []interface{}

	mu          sync.RWMutex
	attachments map[string]string
	invoker     Invoker
	callback    func(*Result)
}

// CallbackCarrier is implemented by invocations that carry an asynchronous
// completion callback. Protocols deliver the result there instead of
// blocking when the call is asynchronous.
type CallbackCarrier interface {
	Callback() func(*Result)
}

var _ Invocation = (*CallInvocation)(nil)

// NewInvocation builds an invocation for method with the given wire type
// descriptors and arguments.
func NewInvocation(method string, types []string, args []interface{}) *CallInvocation {
	return &CallInvocation{
		method:      method,
		types:       types,
		args:        args,
		attachments: make(map[string]string),
	}
}

// MethodName returns the invoked method.
func (c *CallInvocation) MethodName() string { return c.method }

// ParameterTypes returns the wire descriptors of the parameter types.
func (c *CallInvocation) ParameterTypes() []string { return c.types }

// Arguments returns the argument values.
func (c *CallInvocation) Arguments() []interface{} { return c.args }

// Attachments returns a copy of the attachment map.
func (c *CallInvocation) Attachments() map[string]string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]string, len(c.attachments))
	for k, v := range c.attachments {
		out[k] = v
	}
	return out
}

// Attachment returns the value at key, or def when absent or empty.
func (c *CallInvocation) Attachment(key, def string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if v, ok := c.attachments[key]; ok && v != "" {
		return v
	}
	return def
}

// SetAttachment sets one attachment.
func (c *CallInvocation) SetAttachment(key, value string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.attachments[key] = value
}

// SetAttachments merges the given attachments.
func (c *CallInvocation) SetAttachments(attachments map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k, v := range attachments {
		c.attachments[k] = v
	}
}

// SetCallback registers an asynchronous completion callback.
func (c *CallInvocation) SetCallback(cb func(*Result)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callback = cb
}

// Callback returns the asynchronous completion callback, or nil.
func (c *CallInvocation) Callback() func(*Result) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.callback
}

// Invoker returns the selected target invoker.
func (c *CallInvocation) Invoker() Invoker {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.invoker
}

// SetInvoker records the selected target.
func (c *CallInvocation) SetInvoker(inv Invoker) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.invoker = inv
}

// Clone returns an independent copy with the same method, types, arguments,
// and a snapshot of the attachments. Retries work on clones.
func (c *CallInvocation) Clone() *CallInvocation {
	clone := NewInvocation(c.method, c.types, c.args)
	clone.SetAttachments(c.Attachments())
	clone.SetCallback(c.Callback())
	return clone
}
