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

	"go.uber.org/zap"

	"go.uber.org/courier/api/transport"
	"go.uber.org/courier/couriererrors"
	"go.uber.org/courier/pkg/lifecycle"
	"go.uber.org/courier/serialize"
	"go.uber.org/courier/url"
)

// Handler answers decoded requests at the server side of an exchange.
type Handler interface {
	// Reply answers one request. The response carries the wire status and
	// body; it is sent back only for two-way requests.
	Reply(ch transport.Channel, req *Request) *Response
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ch transport.Channel, req *Request) *Response

// Reply calls f.
func (f HandlerFunc) Reply(ch transport.Channel, req *Request) *Response {
	return f(ch, req)
}

// Server is the provider side of an exchange: it answers requests and
// heartbeats, and closes connections whose peer has gone silent.
type Server struct {
	u       *url.URL
	handler Handler
	logger  *zap.Logger

	server    transport.Server
	heartbeat time.Duration
	life      *lifecycle.Once
}

// ServerOption configures a Server.
type ServerOption func(*Server)

// ServerLogger sets the server's logger; defaults to a nop logger.
func ServerLogger(logger *zap.Logger) ServerOption {
	return func(s *Server) { s.logger = logger }
}

// NewServer binds at the URL's address over the transport. wrap decorates
// the raw channel handler before binding, which is where the dispatcher
// moves work onto the thread pool; pass nil to serve on the I/O goroutines.
func NewServer(
	u *url.URL,
	trans transport.Transport,
	codec transport.CodecFactory,
	handler Handler,
	wrap func(transport.Handler) (transport.Handler, error),
	opts ...ServerOption,
) (*Server, error) {
	s := &Server{
		u:         u,
		handler:   handler,
		logger:    zap.NewNop(),
		heartbeat: u.ParamDuration(url.KeyHeartbeat, DefaultHeartbeat),
		life:      lifecycle.NewOnce(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("bind", u.Address()))

	var chHandler transport.Handler = &serverHandler{server: s}
	if wrap != nil {
		wrapped, err := wrap(chHandler)
		if err != nil {
			return nil, err
		}
		chHandler = wrapped
	}

	err := s.life.Start(func() error {
		bound, err := trans.Bind(u, codec, chHandler)
		if err != nil {
			return err
		}
		s.server = bound
		return nil
	})
	if err != nil {
		return nil, err
	}

	if s.heartbeat > 0 {
		go s.idleLoop()
	}
	return s, nil
}

// URL returns the bind descriptor.
func (s *Server) URL() *url.URL { return s.u }

// IsBound reports whether the server is accepting connections.
func (s *Server) IsBound() bool { return s.life.Running() && s.server.IsBound() }

// Channels snapshots the live inbound channels.
func (s *Server) Channels() []transport.Channel { return s.server.Channels() }

// Close stops accepting, closes every channel, and stops the idle scan.
func (s *Server) Close() {
	s.life.Stop(func() error {
		s.server.Close()
		return nil
	})
}

// idleLoop closes connections whose peer missed its heartbeat deadline.
func (s *Server) idleLoop() {
	ticker := time.NewTicker(s.heartbeat)
	defer ticker.Stop()
	deadline := time.Duration(missedHeartbeats) * s.heartbeat
	for {
		select {
		case <-s.life.StopChan():
			return
		case now := <-ticker.C:
			for _, ch := range s.server.Channels() {
				if now.Sub(ch.LastRead()) >= deadline {
					s.logger.Warn("closing silent channel",
						zap.String("remote", ch.RemoteAddr()),
						zap.Time("lastRead", ch.LastRead()))
					ch.Close()
				}
			}
		}
	}
}

// serverHandler routes channel events into the exchange server.
type serverHandler struct {
	server *Server
}

func (h *serverHandler) Connected(ch transport.Channel) {
	h.server.logger.Debug("channel connected", zap.String("remote", ch.RemoteAddr()))
}

func (h *serverHandler) Disconnected(ch transport.Channel) {
	h.server.logger.Debug("channel disconnected", zap.String("remote", ch.RemoteAddr()))
}

func (h *serverHandler) Received(ch transport.Channel, msg interface{}) {
	req, ok := msg.(*Request)
	if !ok {
		// Responses land here when a client reuses the connection oddly;
		// a provider has nothing pending, so drop them.
		return
	}

	switch {
	case req.Event:
		if req.TwoWay {
			h.send(ch, &Response{
				ID:              req.ID,
				Status:          StatusOK,
				Event:           true,
				SerializationID: req.SerializationID,
			})
		}
	case req.Broken:
		// Only this frame is poisoned; tell the caller instead of letting
		// it wait out the timeout.
		if req.TwoWay {
			h.send(ch, &Response{
				ID:              req.ID,
				Status:          StatusBadRequest,
				SerializationID: req.SerializationID,
				ErrorMsg:        req.Err.Error(),
			})
		}
	default:
		resp := h.server.handler.Reply(ch, req)
		if req.TwoWay && resp != nil {
			resp.ID = req.ID
			if resp.SerializationID == 0 {
				resp.SerializationID = req.SerializationID
			}
			h.send(ch, resp)
		}
	}
}

func (h *serverHandler) send(ch transport.Channel, resp *Response) {
	if err := ch.Send(resp); err != nil {
		h.server.logger.Warn("response send failed",
			zap.String("remote", ch.RemoteAddr()), zap.Error(err))
	}
}

func (h *serverHandler) Caught(ch transport.Channel, err error) {
	if couriererrors.IsNetwork(err) {
		h.server.logger.Debug("channel error", zap.Error(err))
		return
	}
	h.server.logger.Warn("channel error", zap.Error(err))
}

// serializationIDFor resolves the wire serialization id named by the URL,
// falling back to the default when the name is unknown.
func serializationIDFor(u *url.URL) byte {
	name := u.Param(url.KeySerialization, serialize.DefaultName)
	if s, err := serialize.ByName(name); err == nil {
		return s.ID()
	}
	s, _ := serialize.ByName(serialize.DefaultName)
	return s.ID()
}
