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

package courier

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/courier/api/rpc"
	"go.uber.org/courier/codec"
	"go.uber.org/courier/couriererrors"
	"go.uber.org/courier/exchange"
	"go.uber.org/courier/url"
)

// DefaultTimeout bounds a call when neither the URL nor the invocation
// names one.
const DefaultTimeout = time.Second

// remoteInvoker turns invocations into framed requests on a shared client.
type remoteInvoker struct {
	*rpc.BaseInvoker
	client  *exchange.Client
	release func()
}

func newRemoteInvoker(u *url.URL, client *exchange.Client, release func()) *remoteInvoker {
	return &remoteInvoker{
		BaseInvoker: rpc.NewBaseInvoker(u),
		client:      client,
		release:     release,
	}
}

var _ rpc.Invoker = (*remoteInvoker)(nil)

// IsAvailable reports whether the shared client can carry a call.
func (r *remoteInvoker) IsAvailable() bool {
	return !r.IsDestroyed() && r.client.IsAvailable()
}

// Destroy releases the invoker's share of the client. Idempotent.
func (r *remoteInvoker) Destroy() {
	if r.DestroyOnce() {
		r.release()
	}
}

// Invoke performs one remote call. The mode is sync by default; the oneway
// parameter skips the response entirely and async delivers it to the
// invocation's callback.
func (r *remoteInvoker) Invoke(ctx context.Context, inv rpc.Invocation) *rpc.Result {
	if r.IsDestroyed() {
		return rpc.DestroyedResult(r.URL(), inv)
	}

	u := r.URL()
	method := inv.MethodName()
	payload := r.payloadFor(ctx, inv)
	timeout := r.timeoutFor(ctx, inv)

	if r.isOneway(inv) {
		if err := r.client.Oneway(payload); err != nil {
			return rpc.NewErrorResult(err)
		}
		return rpc.NewResult(nil)
	}

	future, err := r.client.Request(payload, timeout)
	if err != nil {
		return rpc.NewErrorResult(err)
	}

	if u.MethodParam(method, url.KeyAsync, u.Param(url.KeyAsync, "")) == "true" {
		cb := callbackOf(inv)
		future.AddListener(func(resp *exchange.Response, err error) {
			if cb != nil {
				cb(resultFor(resp, err))
			}
		})
		return rpc.NewResult(nil)
	}

	return resultFor(future.Get(ctx))
}

// payloadFor assembles the request body. Implicit attachments carry the
// routing identity so the provider can rebuild the service key.
func (r *remoteInvoker) payloadFor(ctx context.Context, inv rpc.Invocation) *codec.RequestPayload {
	u := r.URL()

	attachments := make(map[string]string)
	for k, v := range rpc.ContextAttachments(ctx) {
		attachments[k] = v
	}
	for k, v := range inv.Attachments() {
		attachments[k] = v
	}
	attachments[rpc.AttachmentPath] = u.Path()
	attachments[rpc.AttachmentInterface] = u.Interface()
	if group := u.Param(url.KeyGroup, ""); group != "" {
		attachments[rpc.AttachmentGroup] = group
	}
	if version := u.Param(url.KeyVersion, ""); version != "" {
		attachments[rpc.AttachmentVersion] = version
	}
	attachments[rpc.AttachmentTimeout] =
		strconv.Itoa(int(r.timeoutFor(ctx, inv) / time.Millisecond))

	types := inv.ParameterTypes()
	if len(types) == 0 && len(inv.Arguments()) > 0 {
		types = codec.DescriptorsOf(inv.Arguments())
	}

	return &codec.RequestPayload{
		FrameworkVersion: codec.ProtocolVersion,
		Path:             u.Path(),
		Version:          u.Param(url.KeyVersion, ""),
		Method:           inv.MethodName(),
		TypeDescriptors:  types,
		Args:             inv.Arguments(),
		Attachments:      attachments,
	}
}

// timeoutFor resolves the call budget: invocation attachment, then the
// method parameter, then the service parameter, then the default.
func (r *remoteInvoker) timeoutFor(ctx context.Context, inv rpc.Invocation) time.Duration {
	if v := inv.Attachment(rpc.AttachmentTimeout, ""); v != "" {
		if ms, err := strconv.Atoi(v); err == nil && ms > 0 {
			return time.Duration(ms) * time.Millisecond
		}
	}
	u := r.URL()
	ms := u.MethodParamInt(inv.MethodName(), url.KeyTimeout,
		u.ParamInt(url.KeyTimeout, int(DefaultTimeout/time.Millisecond)))
	if ms <= 0 {
		return DefaultTimeout
	}
	timeout := time.Duration(ms) * time.Millisecond
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			return remaining
		}
	}
	return timeout
}

func (r *remoteInvoker) isOneway(inv rpc.Invocation) bool {
	u := r.URL()
	method := inv.MethodName()
	if u.MethodParam(method, url.KeyReturn, u.Param(url.KeyReturn, "true")) == "false" {
		return true
	}
	return u.MethodParam(method, url.KeyOneway,
		inv.Attachment(url.KeyOneway, u.Param(url.KeyOneway, ""))) == "true"
}

func callbackOf(inv rpc.Invocation) func(*rpc.Result) {
	if c, ok := inv.(rpc.CallbackCarrier); ok {
		return c.Callback()
	}
	return nil
}

// resultFor translates a wire response into an invocation result.
func resultFor(resp *exchange.Response, err error) *rpc.Result {
	if err != nil {
		return rpc.NewErrorResult(err)
	}
	if !resp.OK() {
		return rpc.NewErrorResult(resp.StatusError())
	}
	payload, ok := resp.Data.(*codec.ResponsePayload)
	if !ok || payload == nil {
		return rpc.NewErrorResult(couriererrors.SerializationErrorf(
			"response %d carried no payload", resp.ID))
	}
	if payload.Exception != "" {
		return rpc.NewErrorResult(couriererrors.BizErrorf("%s", payload.Exception)).
			SetAttachments(payload.Attachments)
	}
	return rpc.NewResult(payload.Value).SetAttachments(payload.Attachments)
}
