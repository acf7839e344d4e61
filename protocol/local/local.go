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

// Package local is the in-process protocol: exports and refers meet in a
// table keyed by service key, with no serialization and no sockets. It
// serves scope=local references and tests.
package local

import (
	"context"
	"sync"

	"go.uber.org/courier/api/rpc"
	"go.uber.org/courier/couriererrors"
	"go.uber.org/courier/extension"
	"go.uber.org/courier/url"
)

// Name is the protocol's registered extension name.
const Name = "local"

func init() {
	extension.Default.Point(extension.PointProtocol, url.ProtocolDefault).MustRegister(Name,
		func(*extension.Registry) (interface{}, error) {
			var p rpc.Protocol = New()
			return p, nil
		})
}

// Protocol implements rpc.Protocol inside one process.
type Protocol struct {
	mu        sync.Mutex
	exporters map[string]*exporter
	destroyed bool
}

// New returns a local protocol.
func New() *Protocol {
	return &Protocol{exporters: make(map[string]*exporter)}
}

var _ rpc.Protocol = (*Protocol)(nil)

// DefaultPort returns 0: local URLs have no network address.
func (p *Protocol) DefaultPort() int { return 0 }

// Export registers the invoker under its service key.
func (p *Protocol) Export(invoker rpc.Invoker) (rpc.Exporter, error) {
	key := invoker.URL().ServiceKey()
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return nil, couriererrors.DestroyedErrorf("protocol %s is destroyed", Name)
	}
	if _, ok := p.exporters[key]; ok {
		return nil, couriererrors.InternalErrorf("service %s already exported", key)
	}
	exp := &exporter{protocol: p, invoker: invoker, key: key}
	p.exporters[key] = exp
	return exp, nil
}

// Refer returns an invoker that resolves the export at call time, so a
// consumer may refer before the provider side exports.
func (p *Protocol) Refer(u *url.URL) (rpc.Invoker, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.destroyed {
		return nil, couriererrors.DestroyedErrorf("protocol %s is destroyed", Name)
	}
	return &localInvoker{BaseInvoker: rpc.NewBaseInvoker(u), protocol: p}, nil
}

// Destroy unexports everything.
func (p *Protocol) Destroy() {
	p.mu.Lock()
	if p.destroyed {
		p.mu.Unlock()
		return
	}
	p.destroyed = true
	exporters := p.exporters
	p.exporters = make(map[string]*exporter)
	p.mu.Unlock()

	for _, exp := range exporters {
		exp.invoker.Destroy()
	}
}

func (p *Protocol) lookup(key string) *exporter {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exporters[key]
}

type exporter struct {
	protocol *Protocol
	invoker  rpc.Invoker
	key      string
	once     sync.Once
}

var _ rpc.Exporter = (*exporter)(nil)

func (e *exporter) Invoker() rpc.Invoker { return e.invoker }

func (e *exporter) Unexport() {
	e.once.Do(func() {
		e.protocol.mu.Lock()
		delete(e.protocol.exporters, e.key)
		e.protocol.mu.Unlock()
		e.invoker.Destroy()
	})
}

type localInvoker struct {
	*rpc.BaseInvoker
	protocol *Protocol
}

var _ rpc.Invoker = (*localInvoker)(nil)

func (l *localInvoker) IsAvailable() bool {
	return !l.IsDestroyed() && l.protocol.lookup(l.URL().ServiceKey()) != nil
}

func (l *localInvoker) Invoke(ctx context.Context, inv rpc.Invocation) *rpc.Result {
	if l.IsDestroyed() {
		return rpc.DestroyedResult(l.URL(), inv)
	}
	key := l.URL().ServiceKey()
	exp := l.protocol.lookup(key)
	if exp == nil {
		return rpc.NewErrorResult(couriererrors.ForbiddenErrorf(
			"no local service %s", key))
	}
	return exp.invoker.Invoke(ctx, inv)
}
