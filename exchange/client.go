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

package exchange

import (
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"go.uber.org/courier/api/transport"
	"go.uber.org/courier/couriererrors"
	"go.uber.org/courier/url"
)

// DefaultHeartbeat is the idle interval before a heartbeat event is sent.
const DefaultHeartbeat = time.Minute

// missedHeartbeats is the number of silent intervals tolerated before the
// client reconnects and the server closes.
const missedHeartbeats = 3

// Client is the caller side of an exchange: it allocates request ids,
// correlates responses through futures, and keeps the connection alive with
// heartbeats.
type Client struct {
	u       *url.URL
	conn    transport.Client
	logger  *zap.Logger
	ids     idSequence
	pending *pending

	heartbeat time.Duration
	stop      chan struct{}
	closed    atomic.Bool
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// ClientLogger sets the client's logger; defaults to a nop logger.
func ClientLogger(logger *zap.Logger) ClientOption {
	return func(c *Client) { c.logger = logger }
}

// NewClient connects to the URL's address over the transport and starts the
// heartbeat loop.
func NewClient(u *url.URL, trans transport.Transport, codec transport.CodecFactory, opts ...ClientOption) (*Client, error) {
	c := &Client{
		u:         u,
		logger:    zap.NewNop(),
		pending:   newPending(),
		heartbeat: u.ParamDuration(url.KeyHeartbeat, DefaultHeartbeat),
		stop:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("remote", u.Address()))

	conn, err := trans.Connect(u, codec, &clientHandler{client: c})
	if err != nil {
		return nil, err
	}
	c.conn = conn

	if c.heartbeat > 0 {
		go c.heartbeatLoop()
	}
	return c, nil
}

// URL returns the connect descriptor.
func (c *Client) URL() *url.URL { return c.u }

// IsAvailable reports whether the client can carry requests.
func (c *Client) IsAvailable() bool {
	return !c.closed.Load() && !c.conn.IsClosed()
}

// Request sends a two-way request and returns its future. data is the
// request body handed to the codec. Send failures complete nothing; the
// future is only registered once the frame is on its way.
func (c *Client) Request(data interface{}, timeout time.Duration) (*Future, error) {
	if c.closed.Load() {
		return nil, couriererrors.DestroyedErrorf("client for %s is closed", c.u.Address())
	}
	req := &Request{
		ID:              c.ids.Next(),
		TwoWay:          true,
		SerializationID: c.serializationID(),
		Data:            data,
	}
	f := NewFuture(req.ID, timeout)
	c.pending.add(f)

	if err := c.conn.Send(req); err != nil {
		c.pending.remove(req.ID)
		return nil, err
	}
	return f, nil
}

// Oneway fires a request that expects no response. No id slot is reserved
// and no future is registered; the only failure mode is the local send.
func (c *Client) Oneway(data interface{}) error {
	if c.closed.Load() {
		return couriererrors.DestroyedErrorf("client for %s is closed", c.u.Address())
	}
	return c.conn.Send(&Request{
		TwoWay:          false,
		SerializationID: c.serializationID(),
		Data:            data,
	})
}

// Close stops the heartbeat loop, tears the connection down, and fails
// every in-flight request.
func (c *Client) Close() {
	if !c.closed.CompareAndSwap(false, true) {
		return
	}
	close(c.stop)
	c.conn.Close()
	c.pending.failAll(couriererrors.DestroyedErrorf(
		"client for %s closed with requests in flight", c.u.Address()))
}

func (c *Client) serializationID() byte {
	return serializationIDFor(c.u)
}

func (c *Client) heartbeatLoop() {
	ticker := time.NewTicker(c.heartbeat)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case now := <-ticker.C:
			c.checkIdle(now)
		}
	}
}

func (c *Client) checkIdle(now time.Time) {
	lastRead := c.conn.LastRead()
	lastWrite := c.conn.LastWrite()

	if now.Sub(lastRead) >= time.Duration(missedHeartbeats)*c.heartbeat {
		c.logger.Warn("peer silent past heartbeat deadline, reconnecting",
			zap.Time("lastRead", lastRead))
		c.pending.failAll(couriererrors.NetworkErrorf(
			"connection to %s lost: no reads since %v", c.u.Address(), lastRead))
		if err := c.conn.Reconnect(); err != nil {
			c.logger.Warn("reconnect failed", zap.Error(err))
		}
		return
	}

	idle := lastRead
	if lastWrite.After(idle) {
		idle = lastWrite
	}
	if now.Sub(idle) < c.heartbeat {
		return
	}
	err := c.conn.Send(&Request{
		ID:              c.ids.Next(),
		TwoWay:          true,
		Event:           true,
		SerializationID: c.serializationID(),
	})
	if err != nil {
		c.logger.Warn("heartbeat send failed", zap.Error(err))
	}
}

// clientHandler routes channel events back into the client.
type clientHandler struct {
	client *Client
}

func (h *clientHandler) Connected(transport.Channel) {}

func (h *clientHandler) Disconnected(ch transport.Channel) {
	h.client.pending.failAll(couriererrors.NetworkErrorf(
		"connection to %s closed with requests in flight", ch.RemoteAddr()))
}

func (h *clientHandler) Received(ch transport.Channel, msg interface{}) {
	switch m := msg.(type) {
	case *Response:
		if m.Event {
			// Heartbeat ack; receiving it already refreshed LastRead.
			return
		}
		if f := h.client.pending.get(m.ID); f != nil {
			f.complete(m, nil)
		} else {
			h.client.logger.Debug("dropping late response", zap.Int64("id", m.ID))
		}
	case *Request:
		// Servers only push events at clients; answer heartbeats, drop the rest.
		if m.Event && m.TwoWay {
			err := ch.Send(&Response{
				ID:              m.ID,
				Status:          StatusOK,
				Event:           true,
				SerializationID: m.SerializationID,
			})
			if err != nil {
				h.client.logger.Warn("heartbeat reply failed", zap.Error(err))
			}
		}
	}
}

func (h *clientHandler) Caught(ch transport.Channel, err error) {
	h.client.logger.Warn("channel error", zap.Error(err))
}
