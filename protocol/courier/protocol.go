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

// Package courier is the native binary protocol: exported services share
// one server per listen address, referred services share one client per
// remote address, and every call travels as a framed request with a
// correlated future.
package courier

import (
	"context"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"go.uber.org/courier/api/rpc"
	"go.uber.org/courier/api/transport"
	"go.uber.org/courier/codec"
	"go.uber.org/courier/couriererrors"
	"go.uber.org/courier/exchange"
	"go.uber.org/courier/extension"
	"go.uber.org/courier/transport/dispatcher"
	"go.uber.org/courier/transport/tcp"
	"go.uber.org/courier/transport/threadpool"
	"go.uber.org/courier/url"
)

// Name is the protocol's registered extension name.
const Name = "courier"

// DefaultPort is used when an export or refer URL carries no port.
const DefaultPort = 20880

func init() {
	extension.Default.Point(extension.PointProtocol, url.ProtocolDefault).MustRegister(Name,
		func(*extension.Registry) (interface{}, error) {
			var p rpc.Protocol = New()
			return p, nil
		})
}

// Protocol implements rpc.Protocol over the courier wire format.
type Protocol struct {
	trans  transport.Transport
	logger *zap.Logger

	mu        sync.Mutex
	exporters map[string]*exporter     // service key → export
	servers   map[string]*sharedServer // listen address → server
	clients   map[string]*sharedClient // remote address → client
	destroyed bool
}

// Option configures a Protocol.
type Option func(*Protocol)

// WithTransport overrides the TCP transport, mainly for tests.
func WithTransport(t transport.Transport) Option {
	return func(p *Protocol) { p.trans = t }
}

// WithLogger sets the protocol's logger; defaults to a nop logger.
func WithLogger(logger *zap.Logger) Option {
	return func(p *Protocol) { p.logger = logger }
}

// New returns a courier protocol.
func New(opts ...Option) *Protocol {
	p := &Protocol{
		logger:    zap.NewNop(),
		exporters: make(map[string]*exporter),
		servers:   make(map[string]*sharedServer),
		clients:   make(map[string]*sharedClient),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.trans == nil {
		p.trans = tcp.New(tcp.Logger(p.logger))
	}
	return p
}

var _ rpc.Protocol = (*Protocol)(nil)

// DefaultPort returns the protocol's default listen port.
func (p *Protocol) DefaultPort() int { return DefaultPort }

type sharedServer struct {
	server  *exchange.Server
	pool    threadpool.Pool
	handler transport.Handler
	refs    int
}

// close tears the server down: stop accepting, then the dispatcher's drain
// goroutine if the policy runs one, then the worker pool.
func (s *sharedServer) close() {
	s.server.Close()
	if c, ok := s.handler.(interface{ Close() }); ok {
		c.Close()
	}
	s.pool.Shutdown()
}

type sharedClient struct {
	client *exchange.Client
	refs   int
}

// Export binds the invoker's service key at its URL's address. Exports to
// the same address share one server.
func (p *Protocol) Export(invoker rpc.Invoker) (rpc.Exporter, error) {
	u := invoker.URL()
	key := u.ServiceKey()

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return nil, couriererrors.DestroyedErrorf("protocol %s is destroyed", Name)
	}
	if _, ok := p.exporters[key]; ok {
		return nil, couriererrors.InternalErrorf("service %s already exported", key)
	}

	srv, err := p.serverLocked(u)
	if err != nil {
		return nil, err
	}
	srv.refs++

	exp := &exporter{protocol: p, invoker: invoker, key: key, address: u.Address()}
	p.exporters[key] = exp
	p.logger.Info("service exported",
		zap.String("service", key), zap.String("address", u.Address()))
	return exp, nil
}

// serverLocked returns the server bound at u's address, creating it on
// first use. Caller holds p.mu.
func (p *Protocol) serverLocked(u *url.URL) (*sharedServer, error) {
	if srv, ok := p.servers[u.Address()]; ok {
		return srv, nil
	}

	pool, err := threadpool.New(u)
	if err != nil {
		return nil, err
	}
	var wrapped transport.Handler
	wrap := func(h transport.Handler) (transport.Handler, error) {
		w, err := dispatcher.Wrap(
			u.Param(url.KeyDispatcher, dispatcher.DefaultName), h, pool, p.logger)
		if err != nil {
			return nil, err
		}
		wrapped = w
		return w, nil
	}
	server, err := exchange.NewServer(u, p.trans, codecFactory, exchange.HandlerFunc(p.reply),
		wrap, exchange.ServerLogger(p.logger))
	if err != nil {
		if c, ok := wrapped.(interface{ Close() }); ok {
			c.Close()
		}
		pool.Shutdown()
		return nil, err
	}
	srv := &sharedServer{server: server, pool: pool, handler: wrapped}
	p.servers[u.Address()] = srv
	return srv, nil
}

// Refer builds a remote invoker for u. Refers to the same address share
// one client and its heartbeat loop.
func (p *Protocol) Refer(u *url.URL) (rpc.Invoker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return nil, couriererrors.DestroyedErrorf("protocol %s is destroyed", Name)
	}

	sc, ok := p.clients[u.Address()]
	if !ok {
		client, err := exchange.NewClient(u, p.trans, codecFactory,
			exchange.ClientLogger(p.logger))
		if err != nil {
			return nil, err
		}
		sc = &sharedClient{client: client}
		p.clients[u.Address()] = sc
	}
	sc.refs++

	p.logger.Info("service referred",
		zap.String("service", u.ServiceKey()), zap.String("address", u.Address()))
	return newRemoteInvoker(u, sc.client, func() { p.releaseClient(u.Address()) }), nil
}

func (p *Protocol) releaseClient(address string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	sc, ok := p.clients[address]
	if !ok {
		return
	}
	sc.refs--
	if sc.refs <= 0 {
		delete(p.clients, address)
		sc.client.Close()
	}
}

func (p *Protocol) unexport(exp *exporter) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.exporters[exp.key]; !ok {
		return
	}
	delete(p.exporters, exp.key)

	srv, ok := p.servers[exp.address]
	if !ok {
		return
	}
	srv.refs--
	if srv.refs <= 0 {
		delete(p.servers, exp.address)
		srv.close()
	}
}

// Destroy closes every server and client. Exported invokers are destroyed;
// referred invokers fail their next call with CodeDestroyed.
func (p *Protocol) Destroy() {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	p.destroyed = true
	exporters := p.exporters
	servers := p.servers
	clients := p.clients
	p.exporters = make(map[string]*exporter)
	p.servers = make(map[string]*sharedServer)
	p.clients = make(map[string]*sharedClient)
	p.mu.Unlock()

	for _, srv := range servers {
		srv.close()
	}
	for _, sc := range clients {
		sc.client.Close()
	}
	for _, exp := range exporters {
		exp.invoker.Destroy()
	}
}

// reply serves one inbound request frame: it routes by service key, runs
// the exported invoker, and translates the result to a wire response.
func (p *Protocol) reply(ch transport.Channel, req *exchange.Request) *exchange.Response {
	payload, ok := req.Data.(*codec.RequestPayload)
	if !ok || payload == nil {
		return &exchange.Response{
			Status:   exchange.StatusBadRequest,
			ErrorMsg: "request carried no payload",
		}
	}

	key := url.BuildServiceKey(
		payload.Path, payload.Attachments[rpc.AttachmentGroup], payload.Version)
	p.mu.Lock()
	exp := p.exporters[key]
	p.mu.Unlock()
	if exp == nil {
		return &exchange.Response{
			Status:   exchange.StatusServiceNotFound,
			ErrorMsg: "no exported service " + key,
		}
	}

	inv := rpc.NewInvocation(payload.Method, payload.TypeDescriptors, payload.Args)
	inv.SetAttachments(payload.Attachments)

	ctx := context.Background()
	if ms, err := strconv.Atoi(payload.Attachments[rpc.AttachmentTimeout]); err == nil && ms > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(ms)*time.Millisecond)
		defer cancel()
	}

	result := exp.invoker.Invoke(ctx, inv)
	if !req.TwoWay {
		return nil
	}
	return responseFor(result)
}

// responseFor maps an invocation result onto the wire. Service errors ride
// inside an OK frame as an exception payload; framework failures get a
// non-OK status so the caller can tell the two apart.
func responseFor(result *rpc.Result) *exchange.Response {
	if err := result.Error(); err != nil {
		if couriererrors.IsBiz(err) {
			return &exchange.Response{
				Status: exchange.StatusOK,
				Data: &codec.ResponsePayload{
					Exception:   err.Error(),
					Attachments: result.Attachments(),
				},
			}
		}
		status := exchange.StatusServiceError
		switch {
		case couriererrors.IsTimeout(err):
			status = exchange.StatusServerTimeout
		case couriererrors.IsLimitExceeded(err):
			status = exchange.StatusThreadPoolExhausted
		case couriererrors.IsForbidden(err):
			status = exchange.StatusServiceNotFound
		}
		return &exchange.Response{Status: status, ErrorMsg: err.Error()}
	}
	return &exchange.Response{
		Status: exchange.StatusOK,
		Data: &codec.ResponsePayload{
			Value:       result.Value(),
			Attachments: result.Attachments(),
		},
	}
}

func codecFactory(u *url.URL) transport.Codec { return codec.New(u) }

// exporter is the lifetime handle of one export.
type exporter struct {
	protocol *Protocol
	invoker  rpc.Invoker
	key      string
	address  string
	once     sync.Once
}

var _ rpc.Exporter = (*exporter)(nil)

// Invoker returns the exported invoker.
func (e *exporter) Invoker() rpc.Invoker { return e.invoker }

// Unexport unbinds the service and closes the shared server when it was
// the last export at its address.
func (e *exporter) Unexport() {
	e.once.Do(func() {
		e.protocol.unexport(e)
		e.invoker.Destroy()
	})
}
