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

// Package tcp is the stream transport: one goroutine reads and deframes per
// connection, sends are serialized by a mutex, and the handler sees
// connected/disconnected/received/caught events.
package tcp

import (
	"net"
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"go.uber.org/courier/api/transport"
	"go.uber.org/courier/couriererrors"
	"go.uber.org/courier/internal/buffer"
	"go.uber.org/courier/url"
)

const (
	readChunkSize         = 16 * 1024
	defaultConnectTimeout = 3 * time.Second
)

// Transport creates TCP servers and clients.
type Transport struct {
	logger *zap.Logger
}

// Option configures a Transport.
type Option func(*Transport)

// Logger sets the transport's logger; defaults to a nop logger.
func Logger(logger *zap.Logger) Option {
	return func(t *Transport) { t.logger = logger }
}

// New returns a TCP transport.
func New(opts ...Option) *Transport {
	t := &Transport{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

var _ transport.Transport = (*Transport)(nil)

// Bind listens at the URL's address and serves inbound channels.
func (t *Transport) Bind(u *url.URL, codec transport.CodecFactory, handler transport.Handler) (transport.Server, error) {
	listener, err := net.Listen("tcp", u.Address())
	if err != nil {
		return nil, couriererrors.NetworkErrorf("bind %s: %v", u.Address(), err)
	}
	s := &server{
		u:        u,
		listener: listener,
		codec:    codec,
		handler:  handler,
		logger:   t.logger.With(zap.String("bind", u.Address())),
		channels: make(map[*channel]struct{}),
	}
	go s.acceptLoop()
	return s, nil
}

// Connect dials the URL's address.
func (t *Transport) Connect(u *url.URL, codec transport.CodecFactory, handler transport.Handler) (transport.Client, error) {
	c := &client{
		u:       u,
		codec:   codec,
		handler: handler,
		logger:  t.logger.With(zap.String("remote", u.Address())),
	}
	if err := c.dial(); err != nil {
		return nil, err
	}
	return c, nil
}

type server struct {
	u        *url.URL
	listener net.Listener
	codec    transport.CodecFactory
	handler  transport.Handler
	logger   *zap.Logger

	mu       sync.Mutex
	channels map[*channel]struct{}
	closed   atomic.Bool
}

func (s *server) acceptLoop() {
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			if !s.closed.Load() {
				s.logger.Warn("accept failed", zap.Error(err))
			}
			return
		}
		ch := newChannel(conn, s.u, s.codec(s.u), s.handler, s.logger)
		s.mu.Lock()
		if s.closed.Load() {
			s.mu.Unlock()
			ch.Close()
			continue
		}
		s.channels[ch] = struct{}{}
		s.mu.Unlock()

		ch.onClose = func() {
			s.mu.Lock()
			delete(s.channels, ch)
			s.mu.Unlock()
		}
		s.handler.Connected(ch)
		go ch.readLoop()
	}
}

func (s *server) URL() *url.URL { return s.u }

func (s *server) IsBound() bool { return !s.closed.Load() }

func (s *server) Channels() []transport.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]transport.Channel, 0, len(s.channels))
	for ch := range s.channels {
		out = append(out, ch)
	}
	return out
}

func (s *server) Close() {
	if !s.closed.CompareAndSwap(false, true) {
		return
	}
	_ = s.listener.Close()
	for _, ch := range s.Channels() {
		ch.Close()
	}
}

type client struct {
	u       *url.URL
	codec   transport.CodecFactory
	handler transport.Handler
	logger  *zap.Logger

	mu        sync.Mutex
	ch        *channel
	destroyed bool
}

func (c *client) dial() error {
	timeout := c.u.ParamDuration(url.KeyConnectTimeout, defaultConnectTimeout)
	conn, err := net.DialTimeout("tcp", c.u.Address(), timeout)
	if err != nil {
		return couriererrors.NetworkErrorf("connect %s: %v", c.u.Address(), err)
	}
	ch := newChannel(conn, c.u, c.codec(c.u), c.handler, c.logger)

	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		ch.Close()
		return couriererrors.DestroyedErrorf("client for %s already closed", c.u.Address())
	}
	c.ch = ch
	c.mu.Unlock()

	c.handler.Connected(ch)
	go ch.readLoop()
	return nil
}

func (c *client) current() *channel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ch
}

func (c *client) URL() *url.URL { return c.u }

func (c *client) LocalAddr() string {
	if ch := c.current(); ch != nil {
		return ch.LocalAddr()
	}
	return ""
}

func (c *client) RemoteAddr() string { return c.u.Address() }

func (c *client) Send(msg interface{}) error {
	ch := c.current()
	if ch == nil || ch.IsClosed() {
		return couriererrors.NetworkErrorf("connection to %s is down", c.u.Address())
	}
	return ch.Send(msg)
}

func (c *client) Close() {
	c.mu.Lock()
	c.destroyed = true
	ch := c.ch
	c.mu.Unlock()
	if ch != nil {
		ch.Close()
	}
}

func (c *client) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroyed || c.ch == nil || c.ch.IsClosed()
}

func (c *client) LastRead() time.Time {
	if ch := c.current(); ch != nil {
		return ch.LastRead()
	}
	return time.Time{}
}

func (c *client) LastWrite() time.Time {
	if ch := c.current(); ch != nil {
		return ch.LastWrite()
	}
	return time.Time{}
}

// Reconnect drops the current connection and dials again.
func (c *client) Reconnect() error {
	c.mu.Lock()
	if c.destroyed {
		c.mu.Unlock()
		return couriererrors.DestroyedErrorf("client for %s already closed", c.u.Address())
	}
	old := c.ch
	c.ch = nil
	c.mu.Unlock()

	if old != nil {
		old.Close()
	}
	return c.dial()
}

type channel struct {
	conn    net.Conn
	u       *url.URL
	codec   transport.Codec
	handler transport.Handler
	logger  *zap.Logger
	onClose func()

	sendMu    sync.Mutex
	closed    atomic.Bool
	lastRead  atomic.Int64
	lastWrite atomic.Int64
}

func newChannel(conn net.Conn, u *url.URL, codec transport.Codec, handler transport.Handler, logger *zap.Logger) *channel {
	ch := &channel{
		conn:    conn,
		u:       u,
		codec:   codec,
		handler: handler,
		logger:  logger,
	}
	now := time.Now().UnixNano()
	ch.lastRead.Store(now)
	ch.lastWrite.Store(now)
	return ch
}

func (ch *channel) URL() *url.URL { return ch.u }

func (ch *channel) LocalAddr() string { return ch.conn.LocalAddr().String() }

func (ch *channel) RemoteAddr() string { return ch.conn.RemoteAddr().String() }

func (ch *channel) LastRead() time.Time { return time.Unix(0, ch.lastRead.Load()) }

func (ch *channel) LastWrite() time.Time { return time.Unix(0, ch.lastWrite.Load()) }

func (ch *channel) Send(msg interface{}) error {
	if ch.closed.Load() {
		return couriererrors.NetworkErrorf("channel to %s is closed", ch.RemoteAddr())
	}

	out := buffer.NewDynamic(256)
	if err := ch.codec.Encode(out, msg); err != nil {
		return err
	}

	ch.sendMu.Lock()
	defer ch.sendMu.Unlock()
	if _, err := out.WriteTo(ch.conn); err != nil {
		ch.Close()
		return couriererrors.NetworkErrorf("write to %s: %v", ch.RemoteAddr(), err)
	}
	ch.lastWrite.Store(time.Now().UnixNano())
	return nil
}

func (ch *channel) Close() {
	if !ch.closed.CompareAndSwap(false, true) {
		return
	}
	_ = ch.conn.Close()
	if ch.onClose != nil {
		ch.onClose()
	}
	ch.handler.Disconnected(ch)
}

func (ch *channel) IsClosed() bool { return ch.closed.Load() }

// readLoop is the channel's I/O goroutine: it deframes the stream and hands
// every message to the handler. It must never run user code that blocks;
// the dispatcher moves work to the pool.
func (ch *channel) readLoop() {
	buf := buffer.NewDynamic(readChunkSize)
	chunk := make([]byte, readChunkSize)
	for {
		n, err := ch.conn.Read(chunk)
		if n > 0 {
			ch.lastRead.Store(time.Now().UnixNano())
			if werr := buf.WriteBytes(chunk[:n]); werr != nil {
				ch.handler.Caught(ch, werr)
				ch.Close()
				return
			}
			for {
				msg, derr := ch.codec.Decode(buf)
				if derr != nil {
					ch.handler.Caught(ch, derr)
					ch.Close()
					return
				}
				if msg == nil {
					break
				}
				ch.handler.Received(ch, msg)
			}
			buf.DiscardReadBytes()
		}
		if err != nil {
			if !ch.closed.Load() {
				ch.handler.Caught(ch, couriererrors.NetworkErrorf(
					"read from %s: %v", ch.RemoteAddr(), err))
			}
			ch.Close()
			return
		}
	}
}
