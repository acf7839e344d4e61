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
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"go.uber.org/courier/api/transport"
	"go.uber.org/courier/couriererrors"
	"go.uber.org/courier/url"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func exchangeURL(params ...url.Option) *url.URL {
	return url.New("courier", "127.0.0.1", 20880, "com.uber.Echo", params...)
}

// fakeNetwork is an in-memory transport: Connect pairs a channel with the
// server bound at the same address and delivers messages without a codec.
type fakeNetwork struct {
	mu      sync.Mutex
	servers map[string]*fakeServer
}

func newFakeNetwork() *fakeNetwork {
	return &fakeNetwork{servers: make(map[string]*fakeServer)}
}

func (n *fakeNetwork) Bind(u *url.URL, _ transport.CodecFactory, handler transport.Handler) (transport.Server, error) {
	s := &fakeServer{u: u, handler: handler}
	n.mu.Lock()
	n.servers[u.Address()] = s
	n.mu.Unlock()
	return s, nil
}

func (n *fakeNetwork) Connect(u *url.URL, _ transport.CodecFactory, handler transport.Handler) (transport.Client, error) {
	n.mu.Lock()
	s := n.servers[u.Address()]
	n.mu.Unlock()
	if s == nil {
		return nil, couriererrors.NetworkErrorf("connect %s: no listener", u.Address())
	}

	clientEnd := newFakeChannel(u, handler)
	serverEnd := newFakeChannel(u, s.handler)
	clientEnd.peer, serverEnd.peer = serverEnd, clientEnd

	s.mu.Lock()
	s.channels = append(s.channels, serverEnd)
	s.mu.Unlock()

	s.handler.Connected(serverEnd)
	handler.Connected(clientEnd)
	return &fakeClient{network: n, u: u, handler: handler, ch: clientEnd}, nil
}

type fakeServer struct {
	u       *url.URL
	handler transport.Handler

	mu       sync.Mutex
	channels []*fakeChannel
	closed   bool
}

func (s *fakeServer) URL() *url.URL { return s.u }

func (s *fakeServer) IsBound() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

func (s *fakeServer) Channels() []transport.Channel {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]transport.Channel, 0, len(s.channels))
	for _, ch := range s.channels {
		if !ch.IsClosed() {
			out = append(out, ch)
		}
	}
	return out
}

func (s *fakeServer) Close() {
	s.mu.Lock()
	s.closed = true
	channels := s.channels
	s.mu.Unlock()
	for _, ch := range channels {
		ch.Close()
	}
}

type fakeChannel struct {
	u       *url.URL
	handler transport.Handler
	peer    *fakeChannel

	mu        sync.Mutex
	closed    bool
	lastRead  time.Time
	lastWrite time.Time

	sent []interface{}
}

func newFakeChannel(u *url.URL, handler transport.Handler) *fakeChannel {
	now := time.Now()
	return &fakeChannel{u: u, handler: handler, lastRead: now, lastWrite: now}
}

func (ch *fakeChannel) URL() *url.URL      { return ch.u }
func (ch *fakeChannel) LocalAddr() string  { return "local" }
func (ch *fakeChannel) RemoteAddr() string { return ch.u.Address() }

func (ch *fakeChannel) LastRead() time.Time {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.lastRead
}

func (ch *fakeChannel) LastWrite() time.Time {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.lastWrite
}

func (ch *fakeChannel) Send(msg interface{}) error {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return couriererrors.NetworkErrorf("channel closed")
	}
	ch.lastWrite = time.Now()
	ch.sent = append(ch.sent, msg)
	peer := ch.peer
	ch.mu.Unlock()

	if peer != nil {
		peer.mu.Lock()
		peer.lastRead = time.Now()
		peer.mu.Unlock()
		peer.handler.Received(peer, msg)
	}
	return nil
}

func (ch *fakeChannel) sentMessages() []interface{} {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	out := make([]interface{}, len(ch.sent))
	copy(out, ch.sent)
	return out
}

func (ch *fakeChannel) Close() {
	ch.mu.Lock()
	if ch.closed {
		ch.mu.Unlock()
		return
	}
	ch.closed = true
	peer := ch.peer
	ch.mu.Unlock()

	ch.handler.Disconnected(ch)
	if peer != nil {
		peer.Close()
	}
}

func (ch *fakeChannel) IsClosed() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.closed
}

type fakeClient struct {
	network *fakeNetwork
	u       *url.URL
	handler transport.Handler

	mu sync.Mutex
	ch *fakeChannel
}

func (c *fakeClient) current() *fakeChannel {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ch
}

func (c *fakeClient) URL() *url.URL            { return c.u }
func (c *fakeClient) LocalAddr() string        { return c.current().LocalAddr() }
func (c *fakeClient) RemoteAddr() string       { return c.u.Address() }
func (c *fakeClient) Send(msg interface{}) error { return c.current().Send(msg) }
func (c *fakeClient) Close()                   { c.current().Close() }
func (c *fakeClient) IsClosed() bool           { return c.current().IsClosed() }
func (c *fakeClient) LastRead() time.Time      { return c.current().LastRead() }
func (c *fakeClient) LastWrite() time.Time     { return c.current().LastWrite() }

func (c *fakeClient) Reconnect() error {
	c.current().Close()
	next, err := c.network.Connect(c.u, nil, c.handler)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.ch = next.(*fakeClient).current()
	c.mu.Unlock()
	return nil
}

func echoHandler() Handler {
	return HandlerFunc(func(_ transport.Channel, req *Request) *Response {
		return &Response{Status: StatusOK, Data: req.Data}
	})
}

func TestRequestResponse(t *testing.T) {
	network := newFakeNetwork()
	u := exchangeURL()

	server, err := NewServer(u, network, nil, echoHandler(), nil)
	require.NoError(t, err)
	defer server.Close()

	client, err := NewClient(u, network, nil)
	require.NoError(t, err)
	defer client.Close()

	f, err := client.Request("ping", time.Second)
	require.NoError(t, err)

	resp, err := f.Get(context.Background())
	require.NoError(t, err)
	require.True(t, resp.OK())
	assert.Equal(t, "ping", resp.Data)
	assert.Equal(t, f.ID(), resp.ID)
}

func TestConcurrentRequestsCorrelate(t *testing.T) {
	network := newFakeNetwork()
	u := exchangeURL()

	server, err := NewServer(u, network, nil, echoHandler(), nil)
	require.NoError(t, err)
	defer server.Close()

	client, err := NewClient(u, network, nil)
	require.NoError(t, err)
	defer client.Close()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			f, err := client.Request(i, time.Second)
			if !assert.NoError(t, err) {
				return
			}
			resp, err := f.Get(context.Background())
			if assert.NoError(t, err) {
				assert.Equal(t, i, resp.Data)
			}
		}()
	}
	wg.Wait()
}

func TestOnewayRegistersNoFuture(t *testing.T) {
	network := newFakeNetwork()
	u := exchangeURL()

	var mu sync.Mutex
	var got []*Request
	handler := HandlerFunc(func(_ transport.Channel, req *Request) *Response {
		mu.Lock()
		got = append(got, req)
		mu.Unlock()
		return nil
	})

	server, err := NewServer(u, network, nil, handler, nil)
	require.NoError(t, err)
	defer server.Close()

	client, err := NewClient(u, network, nil)
	require.NoError(t, err)
	defer client.Close()

	require.NoError(t, client.Oneway("fire"))

	mu.Lock()
	require.Len(t, got, 1)
	req := got[0]
	mu.Unlock()

	assert.False(t, req.TwoWay)
	assert.Zero(t, req.ID, "oneway must not reserve an id")

	client.pending.mu.Lock()
	assert.Empty(t, client.pending.futures, "oneway must not register a future")
	client.pending.mu.Unlock()
}

func TestDisconnectFailsPending(t *testing.T) {
	network := newFakeNetwork()
	u := exchangeURL()

	// Never replies.
	server, err := NewServer(u, network, nil,
		HandlerFunc(func(transport.Channel, *Request) *Response { return nil }), nil)
	require.NoError(t, err)
	defer server.Close()

	client, err := NewClient(u, network, nil)
	require.NoError(t, err)
	defer client.Close()

	f, err := client.Request("stranded", 5*time.Second)
	require.NoError(t, err)

	client.conn.Close()

	resp, err := f.Get(context.Background())
	assert.Nil(t, resp)
	assert.True(t, couriererrors.IsNetwork(err), "got %v", err)
}

func TestFutureTimesOut(t *testing.T) {
	network := newFakeNetwork()
	u := exchangeURL()

	server, err := NewServer(u, network, nil,
		HandlerFunc(func(transport.Channel, *Request) *Response { return nil }), nil)
	require.NoError(t, err)
	defer server.Close()

	client, err := NewClient(u, network, nil)
	require.NoError(t, err)
	defer client.Close()

	f, err := client.Request("slow", 20*time.Millisecond)
	require.NoError(t, err)

	_, err = f.Get(context.Background())
	assert.True(t, couriererrors.IsTimeout(err), "got %v", err)

	// A late completion for the same id must be dropped.
	assert.Nil(t, client.pending.get(f.ID()))
}

func TestAbandonedFutureExpires(t *testing.T) {
	network := newFakeNetwork()
	u := exchangeURL()

	server, err := NewServer(u, network, nil,
		HandlerFunc(func(transport.Channel, *Request) *Response { return nil }), nil)
	require.NoError(t, err)
	defer server.Close()

	client, err := NewClient(u, network, nil)
	require.NoError(t, err)
	defer client.Close()

	// Listener path only: nobody ever calls Get.
	f, err := client.Request("forgotten", 20*time.Millisecond)
	require.NoError(t, err)
	done := make(chan error, 1)
	f.AddListener(func(_ *Response, err error) { done <- err })

	select {
	case err := <-done:
		assert.True(t, couriererrors.IsTimeout(err), "got %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("abandoned future never expired")
	}
	assert.Nil(t, client.pending.get(f.ID()), "the expired future must free its slot")
}

func TestServerAnswersHeartbeat(t *testing.T) {
	u := exchangeURL()
	s := &Server{u: u, handler: echoHandler(), logger: zap.NewNop()}
	h := &serverHandler{server: s}

	ch := newFakeChannel(u, nopHandler{})
	h.Received(ch, &Request{ID: 7, TwoWay: true, Event: true, SerializationID: 2})

	sent := ch.sentMessages()
	require.Len(t, sent, 1)
	resp := sent[0].(*Response)
	assert.Equal(t, int64(7), resp.ID)
	assert.True(t, resp.Event)
	assert.Equal(t, StatusOK, resp.Status)
}

func TestServerAnswersBrokenFrame(t *testing.T) {
	u := exchangeURL()
	s := &Server{u: u, handler: echoHandler(), logger: zap.NewNop()}
	h := &serverHandler{server: s}

	ch := newFakeChannel(u, nopHandler{})
	h.Received(ch, &Request{
		ID:     9,
		TwoWay: true,
		Broken: true,
		Err:    couriererrors.SerializationErrorf("body undecodable"),
	})

	sent := ch.sentMessages()
	require.Len(t, sent, 1)
	resp := sent[0].(*Response)
	assert.Equal(t, int64(9), resp.ID)
	assert.Equal(t, StatusBadRequest, resp.Status)
	assert.Contains(t, resp.ErrorMsg, "body undecodable")
}

func TestClientAnswersServerHeartbeat(t *testing.T) {
	u := exchangeURL()
	c := &Client{u: u, logger: zap.NewNop(), pending: newPending()}
	h := &clientHandler{client: c}

	ch := newFakeChannel(u, nopHandler{})
	h.Received(ch, &Request{ID: 3, TwoWay: true, Event: true, SerializationID: 2})

	sent := ch.sentMessages()
	require.Len(t, sent, 1)
	resp := sent[0].(*Response)
	assert.Equal(t, int64(3), resp.ID)
	assert.True(t, resp.Event)
}

func TestStatusError(t *testing.T) {
	tests := []struct {
		status byte
		check  func(error) bool
	}{
		{StatusClientTimeout, couriererrors.IsTimeout},
		{StatusServerTimeout, couriererrors.IsTimeout},
		{StatusBadRequest, couriererrors.IsSerialization},
		{StatusServiceNotFound, couriererrors.IsForbidden},
		{StatusServiceError, couriererrors.IsBiz},
		{StatusThreadPoolExhausted, couriererrors.IsLimitExceeded},
		{StatusServerError, func(err error) bool {
			return couriererrors.FromError(err).Code() == couriererrors.CodeUnknown
		}},
	}
	for _, tt := range tests {
		resp := &Response{ID: 1, Status: tt.status, ErrorMsg: "boom"}
		assert.True(t, tt.check(resp.StatusError()), "status %d", tt.status)
	}
	assert.NoError(t, (&Response{Status: StatusOK}).StatusError())
}

type nopHandler struct{}

func (nopHandler) Connected(transport.Channel)             {}
func (nopHandler) Disconnected(transport.Channel)          {}
func (nopHandler) Received(transport.Channel, interface{}) {}
func (nopHandler) Caught(transport.Channel, error)         {}
