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

// Package protocol implements the registry protocol: a registry:// URL
// stands in for the real endpoint. Export publishes the service through the
// backing wire protocol and registers it; Refer subscribes a live directory
// and joins it under a cluster policy. Filter chains wrap both sides here,
// so every registry-mediated call runs the activated filters.
package protocol

import (
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"go.uber.org/courier/api/rpc"
	"go.uber.org/courier/cluster"
	"go.uber.org/courier/cluster/directory"
	"go.uber.org/courier/couriererrors"
	"go.uber.org/courier/extension"
	"go.uber.org/courier/filter"
	"go.uber.org/courier/registry"
	"go.uber.org/courier/url"
)

// DefaultCluster is the policy used when the consumer URL names none.
const DefaultCluster = "failover"

func init() {
	p := extension.Default.Point(extension.PointProtocol, url.ProtocolDefault)
	p.MustRegister(url.ProtocolRegistry, func(ext *extension.Registry) (interface{}, error) {
		var proto rpc.Protocol = New(ext, nil)
		return proto, nil
	})
}

// Protocol mediates between registry URLs and real endpoints.
type Protocol struct {
	ext    *extension.Registry
	logger *zap.Logger

	mu         sync.Mutex
	registries map[string]registry.Registry
	destroyed  atomic.Bool
}

// New builds a registry protocol over ext. A nil logger means no logging.
func New(ext *extension.Registry, logger *zap.Logger) *Protocol {
	if ext == nil {
		ext = extension.Default
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Protocol{
		ext:        ext,
		logger:     logger,
		registries: make(map[string]registry.Registry),
	}
}

// DefaultPort returns 0: registry URLs carry the backend's port already.
func (p *Protocol) DefaultPort() int { return 0 }

// registryFor resolves the backend named by the registry parameter and
// returns a shared session for the URL's address.
func (p *Protocol) registryFor(u *url.URL) (registry.Registry, error) {
	kind := u.Param(url.KeyRegistry, url.RegistryDefault)
	backendURL := u.WithProtocol(kind).RemoveParam(url.KeyRegistry).
		RemoveParam(url.KeyExport).RemoveParam(url.KeyRefer)
	key := kind + "://" + backendURL.Address()

	p.mu.Lock()
	defer p.mu.Unlock()
	if reg, ok := p.registries[key]; ok && reg.IsAvailable() {
		return reg, nil
	}

	point := p.ext.Point(extension.PointRegistry, url.RegistryDefault)
	v, err := point.Get(kind)
	if err != nil {
		return nil, err
	}
	factory, ok := v.(registry.Factory)
	if !ok {
		return nil, couriererrors.InternalErrorf("extension %q is %T, not a registry factory", kind, v)
	}
	reg, err := factory.Create(backendURL)
	if err != nil {
		return nil, err
	}
	p.registries[key] = reg
	return reg, nil
}

func (p *Protocol) protocolFor(name string) (rpc.Protocol, error) {
	point := p.ext.Point(extension.PointProtocol, url.ProtocolDefault)
	v, err := point.Get(name)
	if err != nil {
		return nil, err
	}
	proto, ok := v.(rpc.Protocol)
	if !ok {
		return nil, couriererrors.InternalErrorf("extension %q is %T, not a protocol", name, v)
	}
	return proto, nil
}

// embeddedURL decodes the provider or consumer URL carried in a registry
// URL's export/refer parameter.
func embeddedURL(u *url.URL, key string) (*url.URL, error) {
	encoded := u.Param(key, "")
	if encoded == "" {
		return nil, couriererrors.InternalErrorf("registry URL misses the %s parameter", key)
	}
	raw, err := url.Decode(encoded)
	if err != nil {
		return nil, couriererrors.InternalErrorf("registry URL %s parameter: %v", key, err)
	}
	return url.Parse(raw)
}

// Export publishes the provider through its wire protocol, wraps it in the
// provider filter chain, and registers the provider URL.
func (p *Protocol) Export(invoker rpc.Invoker) (rpc.Exporter, error) {
	if p.destroyed.Load() {
		return nil, couriererrors.DestroyedErrorf("registry protocol is destroyed")
	}
	providerURL, err := embeddedURL(invoker.URL(), url.KeyExport)
	if err != nil {
		return nil, err
	}

	chained, err := filter.BuildChain(invoker, providerURL, p.ext, url.SideProvider)
	if err != nil {
		return nil, err
	}
	proto, err := p.protocolFor(providerURL.Protocol())
	if err != nil {
		return nil, err
	}
	inner, err := proto.Export(&exportInvoker{Invoker: chained, u: providerURL})
	if err != nil {
		return nil, err
	}

	reg, err := p.registryFor(invoker.URL())
	if err != nil {
		inner.Unexport()
		return nil, err
	}
	registered := providerURL.
		AddParamIfAbsent(url.KeyCategory, url.CategoryProviders).
		AddParamIfAbsent(url.KeySide, url.SideProvider)
	if err := reg.Register(registered); err != nil {
		inner.Unexport()
		return nil, err
	}
	p.logger.Info("service exported and registered",
		zap.String("service", providerURL.ServiceKey()),
		zap.String("address", providerURL.Address()))

	return &exporter{
		inner: inner,
		unregister: func() {
			if err := reg.Unregister(registered); err != nil {
				p.logger.Warn("unregister on unexport failed",
					zap.String("service", providerURL.ServiceKey()), zap.Error(err))
			}
		},
	}, nil
}

// Refer subscribes a live directory for the consumer, joins it under the
// configured cluster policy, and wraps the result in the consumer filter
// chain. The consumer itself is registered under the consumers category so
// operators can see who calls what.
func (p *Protocol) Refer(u *url.URL) (rpc.Invoker, error) {
	if p.destroyed.Load() {
		return nil, couriererrors.DestroyedErrorf("registry protocol is destroyed")
	}
	consumerURL, err := embeddedURL(u, url.KeyRefer)
	if err != nil {
		return nil, err
	}
	reg, err := p.registryFor(u)
	if err != nil {
		return nil, err
	}

	// visibility only, a failure here must not break the reference
	observed := consumerURL.
		AddParams(map[string]string{
			url.KeyCategory: url.CategoryConsumers,
			url.KeyCheck:    "false",
		}).
		AddParamIfAbsent(url.KeySide, url.SideConsumer)
	if err := reg.Register(observed); err != nil {
		p.logger.Warn("consumer registration failed",
			zap.String("service", consumerURL.ServiceKey()), zap.Error(err))
	}

	dir, err := directory.NewRegistry(consumerURL, reg, p.ext, p.logger)
	if err != nil {
		return nil, err
	}

	clusterName := consumerURL.Param(url.KeyCluster, DefaultCluster)
	point := p.ext.Point(extension.PointCluster, DefaultCluster)
	v, err := point.Get(clusterName)
	if err != nil {
		dir.Destroy()
		return nil, err
	}
	c, ok := v.(cluster.Cluster)
	if !ok {
		dir.Destroy()
		return nil, couriererrors.InternalErrorf("extension %q is %T, not a cluster", clusterName, v)
	}

	joined := c.Join(dir)
	chained, err := filter.BuildChain(joined, consumerURL, p.ext, url.SideConsumer)
	if err != nil {
		dir.Destroy()
		return nil, err
	}
	return &referInvoker{
		Invoker: chained,
		unregister: func() {
			if err := reg.Unregister(observed); err != nil {
				p.logger.Warn("consumer unregistration failed",
					zap.String("service", consumerURL.ServiceKey()), zap.Error(err))
			}
		},
	}, nil
}

// Destroy tears down every registry session this protocol created.
func (p *Protocol) Destroy() {
	if !p.destroyed.CompareAndSwap(false, true) {
		return
	}
	p.mu.Lock()
	registries := p.registries
	p.registries = make(map[string]registry.Registry)
	p.mu.Unlock()
	for _, reg := range registries {
		reg.Destroy()
	}
}

// exportInvoker re-homes the chained invoker at the provider URL so the
// wire protocol binds the right address.
type exportInvoker struct {
	rpc.Invoker
	u *url.URL
}

func (e *exportInvoker) URL() *url.URL { return e.u }

type exporter struct {
	inner      rpc.Exporter
	unregister func()
	once       sync.Once
}

func (e *exporter) Invoker() rpc.Invoker { return e.inner.Invoker() }

func (e *exporter) Unexport() {
	e.once.Do(func() {
		e.unregister()
		e.inner.Unexport()
	})
}

// referInvoker withdraws the consumer registration when destroyed.
type referInvoker struct {
	rpc.Invoker
	unregister func()
	once       sync.Once
}

func (r *referInvoker) Destroy() {
	r.once.Do(r.unregister)
	r.Invoker.Destroy()
}
