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

// Package dispatcher decides which channel events leave the I/O goroutine
// for the worker pool. I/O goroutines must never block on user code; the
// dispatch policy trades ordering guarantees against pool pressure.
package dispatcher

import (
	"sync"

	"go.uber.org/zap"

	"go.uber.org/courier/api/transport"
	"go.uber.org/courier/couriererrors"
	"go.uber.org/courier/exchange"
	"go.uber.org/courier/transport/threadpool"
)

// DefaultName is the policy used when the URL names none.
const DefaultName = "all"

// Wrap decorates handler so that the events selected by the named policy
// run on the pool:
//
//	all        every event on the pool
//	direct     every event on the I/O goroutine
//	message    only received messages on the pool
//	execution  only received requests on the pool
//	connection connect/disconnect serialized on one queue, messages on the pool
//
// The connection policy runs a drain goroutine; its handler implements
// Close() and the owner must call it on shutdown.
func Wrap(name string, handler transport.Handler, pool threadpool.Pool, logger *zap.Logger) (transport.Handler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch name {
	case "all":
		return &pooledHandler{next: handler, pool: pool, logger: logger,
			poolConnections: true, poolMessages: poolAllMessages}, nil
	case "direct":
		return handler, nil
	case "message":
		return &pooledHandler{next: handler, pool: pool, logger: logger,
			poolMessages: poolAllMessages}, nil
	case "execution":
		return &pooledHandler{next: handler, pool: pool, logger: logger,
			poolMessages: poolRequestsOnly}, nil
	case "connection":
		h := &pooledHandler{next: handler, pool: pool, logger: logger,
			poolMessages: poolAllMessages}
		h.connectionQueue = make(chan func(), 1024)
		h.stop = make(chan struct{})
		go h.drainConnectionQueue()
		return h, nil
	default:
		return nil, couriererrors.InternalErrorf("unknown dispatcher %q", name)
	}
}

type messagePolicy int

const (
	poolNoMessages messagePolicy = iota
	poolAllMessages
	poolRequestsOnly
)

type pooledHandler struct {
	next   transport.Handler
	pool   threadpool.Pool
	logger *zap.Logger

	poolConnections bool
	poolMessages    messagePolicy
	connectionQueue chan func()
	stop            chan struct{}
	closeOnce       sync.Once
}

// Close stops the connection-event drain goroutine. Policies without one
// have nothing to stop; events arriving after Close run inline.
func (h *pooledHandler) Close() {
	if h.stop == nil {
		return
	}
	h.closeOnce.Do(func() { close(h.stop) })
}

func (h *pooledHandler) Connected(ch transport.Channel) {
	h.dispatchConnection(func() { h.next.Connected(ch) })
}

func (h *pooledHandler) Disconnected(ch transport.Channel) {
	h.dispatchConnection(func() { h.next.Disconnected(ch) })
}

func (h *pooledHandler) dispatchConnection(event func()) {
	if h.connectionQueue != nil {
		select {
		case <-h.stop:
			event()
			return
		default:
		}
		// Serialized: connect and disconnect keep their relative order.
		select {
		case h.connectionQueue <- event:
		default:
			h.logger.Warn("connection event queue full, running inline")
			event()
		}
		return
	}
	if !h.poolConnections {
		event()
		return
	}
	if err := h.pool.Submit(event); err != nil {
		h.logger.Warn("worker pool rejected connection event, running inline", zap.Error(err))
		event()
	}
}

func (h *pooledHandler) drainConnectionQueue() {
	for {
		select {
		case event := <-h.connectionQueue:
			event()
		case <-h.stop:
			return
		}
	}
}

func (h *pooledHandler) Received(ch transport.Channel, msg interface{}) {
	pooled := false
	switch h.poolMessages {
	case poolAllMessages:
		pooled = true
	case poolRequestsOnly:
		_, pooled = msg.(*exchange.Request)
	}
	if !pooled {
		h.next.Received(ch, msg)
		return
	}

	if err := h.pool.Submit(func() { h.next.Received(ch, msg) }); err != nil {
		// A saturated provider must still answer two-way requests, or the
		// caller waits out its full timeout for nothing.
		if req, ok := msg.(*exchange.Request); ok && req.TwoWay && !req.Event {
			sendErr := ch.Send(&exchange.Response{
				ID:       req.ID,
				Status:   exchange.StatusThreadPoolExhausted,
				ErrorMsg: err.Error(),
			})
			if sendErr != nil {
				h.logger.Warn("failed to answer rejected request", zap.Error(sendErr))
			}
			return
		}
		h.next.Caught(ch, err)
	}
}

func (h *pooledHandler) Caught(ch transport.Channel, err error) {
	if !h.poolConnections {
		h.next.Caught(ch, err)
		return
	}
	if submitErr := h.pool.Submit(func() { h.next.Caught(ch, err) }); submitErr != nil {
		h.next.Caught(ch, err)
	}
}
