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
	"sync"

	"go.uber.org/courier/api/rpc"
	"go.uber.org/courier/cluster"
	"go.uber.org/courier/cluster/directory"
	"go.uber.org/courier/couriererrors"
	"go.uber.org/courier/extension"
	"go.uber.org/courier/filter"
	"go.uber.org/courier/protocol/local"
	"go.uber.org/courier/proxy"
	"go.uber.org/courier/url"
)

// Reference is a consumer-side handle on a remote (or local) service. Refer
// resolves it into an invoker; Implement and Generic wrap that invoker for
// typed and untyped calls.
type Reference struct {
	iface string
	cfg   *config

	mu        sync.Mutex
	invoker   rpc.Invoker
	destroyed bool
}

// NewReference prepares a reference to iface. Nothing connects until Refer.
func NewReference(iface string, opts ...Option) *Reference {
	return &Reference{iface: iface, cfg: newConfig(opts)}
}

// Refer resolves the reference, caching the invoker for subsequent calls.
// Resolution order: local scope, direct URLs, then registries.
func (r *Reference) Refer() (rpc.Invoker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.destroyed {
		return nil, couriererrors.DestroyedErrorf("reference to %s is destroyed", r.iface)
	}
	if r.invoker != nil {
		return r.invoker, nil
	}

	invoker, err := r.resolve()
	if err != nil {
		return nil, err
	}
	r.invoker = invoker
	return invoker, nil
}

func (r *Reference) resolve() (rpc.Invoker, error) {
	consumer := r.consumerURL()

	switch {
	case r.cfg.scope == url.ScopeLocal:
		return r.referLocal(consumer)
	case len(r.cfg.urls) > 0:
		return r.referDirect(consumer)
	case len(r.cfg.registries) > 0:
		return r.referRegistries(consumer)
	default:
		return nil, couriererrors.InternalErrorf(
			"reference to %s needs a registry, a direct URL, or local scope", r.iface)
	}
}

func (r *Reference) referLocal(consumer *url.URL) (rpc.Invoker, error) {
	proto, err := protocolFor(r.cfg.ext, local.Name)
	if err != nil {
		return nil, err
	}
	invoker, err := proto.Refer(consumer.WithProtocol(local.Name))
	if err != nil {
		return nil, err
	}
	return filter.BuildChain(invoker, consumer, r.cfg.ext, url.SideConsumer)
}

// referDirect connects to fixed peers, joining several under the configured
// cluster policy.
func (r *Reference) referDirect(consumer *url.URL) (rpc.Invoker, error) {
	invokers := make([]rpc.Invoker, 0, len(r.cfg.urls))
	for _, peer := range r.cfg.urls {
		merged := peer.
			AddParamIfAbsent(url.KeyInterface, r.iface).
			AddParams(map[string]string{url.KeySide: url.SideConsumer})
		proto, err := protocolFor(r.cfg.ext, peer.Protocol())
		if err != nil {
			destroyAll(invokers)
			return nil, err
		}
		invoker, err := proto.Refer(merged)
		if err != nil {
			destroyAll(invokers)
			return nil, err
		}
		invokers = append(invokers, invoker)
	}

	joined := invokers[0]
	if len(invokers) > 1 {
		clusterName := consumer.Param(url.KeyCluster, "failover")
		c, err := clusterFor(r.cfg.ext, clusterName)
		if err != nil {
			destroyAll(invokers)
			return nil, err
		}
		joined = c.Join(directory.NewStatic(consumer, invokers))
	}
	return filter.BuildChain(joined, consumer, r.cfg.ext, url.SideConsumer)
}

// referRegistries resolves through each registry; several registries are
// joined by availability, each carrying its own cluster underneath.
func (r *Reference) referRegistries(consumer *url.URL) (rpc.Invoker, error) {
	regProto, err := protocolFor(r.cfg.ext, url.ProtocolRegistry)
	if err != nil {
		return nil, err
	}

	invokers := make([]rpc.Invoker, 0, len(r.cfg.registries))
	for _, reg := range r.cfg.registries {
		invoker, err := regProto.Refer(registryURL(reg, r.iface, url.KeyRefer, consumer.String()))
		if err != nil {
			destroyAll(invokers)
			return nil, err
		}
		invokers = append(invokers, invoker)
	}
	if len(invokers) == 1 {
		return invokers[0], nil
	}

	c, err := clusterFor(r.cfg.ext, "available")
	if err != nil {
		destroyAll(invokers)
		return nil, err
	}
	return c.Join(directory.NewStatic(consumer, invokers)), nil
}

// Implement fills the func fields of stub with calls through this
// reference.
func (r *Reference) Implement(stub interface{}) error {
	invoker, err := r.Refer()
	if err != nil {
		return err
	}
	return proxy.Implement(stub, invoker)
}

// Generic returns the untyped invocation surface of this reference.
func (r *Reference) Generic() (*proxy.GenericService, error) {
	invoker, err := r.Refer()
	if err != nil {
		return nil, err
	}
	return proxy.Generic(invoker), nil
}

// Destroy releases the invoker. The reference cannot be reused.
func (r *Reference) Destroy() {
	r.mu.Lock()
	invoker := r.invoker
	r.invoker = nil
	r.destroyed = true
	r.mu.Unlock()
	if invoker != nil {
		invoker.Destroy()
	}
}

// consumerURL describes this consumer: its own host, no port, and the
// merged call parameters.
func (r *Reference) consumerURL() *url.URL {
	return url.New("consumer", bindHost(r.cfg), 0, r.iface,
		url.WithParams(r.cfg.baseParams(r.iface, url.SideConsumer)))
}

func clusterFor(ext *extension.Registry, name string) (cluster.Cluster, error) {
	v, err := ext.Point(extension.PointCluster, "failover").Get(name)
	if err != nil {
		return nil, err
	}
	c, ok := v.(cluster.Cluster)
	if !ok {
		return nil, couriererrors.InternalErrorf("extension %q is %T, not a cluster", name, v)
	}
	return c, nil
}

func destroyAll(invokers []rpc.Invoker) {
	for _, invoker := range invokers {
		invoker.Destroy()
	}
}
