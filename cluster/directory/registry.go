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

package directory

import (
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"go.uber.org/courier/api/rpc"
	"go.uber.org/courier/cluster"
	"go.uber.org/courier/couriererrors"
	"go.uber.org/courier/extension"
	"go.uber.org/courier/registry"
	"go.uber.org/courier/url"
)

// Registry is a live directory fed by registry notifications. Providers
// become invokers through their protocol; configurators rewrite provider
// URLs before referring; router rules rebuild the router chain. Invoker
// turnover is incremental: an unchanged provider URL keeps its connected
// invoker across notifications.
type Registry struct {
	consumer  *url.URL
	subscribe *url.URL
	reg       registry.Registry
	ext       *extension.Registry
	logger    *zap.Logger

	mu            sync.Mutex
	providers     []*url.URL
	configurators []*url.URL
	invokers      map[string]rpc.Invoker
	routers       []cluster.Router

	snapshot  atomic.Value // []rpc.Invoker
	forbidden atomic.Bool
	destroyed atomic.Bool
}

var _ cluster.Directory = (*Registry)(nil)
var _ registry.NotifyListener = (*Registry)(nil)

// NewRegistry subscribes to the consumer's service and keeps the invoker
// set current until Destroy.
func NewRegistry(consumer *url.URL, reg registry.Registry, ext *extension.Registry, logger *zap.Logger) (*Registry, error) {
	if ext == nil {
		ext = extension.Default
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Registry{
		consumer:  consumer,
		subscribe: consumer.AddParamIfAbsent(url.KeyCategory, url.DefaultCategories),
		reg:       reg,
		ext:       ext,
		logger:    logger,
		invokers:  make(map[string]rpc.Invoker),
	}
	d.snapshot.Store([]rpc.Invoker{})
	if err := reg.Subscribe(d.subscribe, d); err != nil {
		return nil, err
	}
	return d, nil
}

// URL returns the consumer descriptor.
func (d *Registry) URL() *url.URL { return d.consumer }

// Notify ingests one category's full state.
func (d *Registry) Notify(urls []*url.URL) {
	if d.destroyed.Load() || len(urls) == 0 {
		return
	}
	category := urls[0].Category()

	cleaned := make([]*url.URL, 0, len(urls))
	for _, u := range urls {
		if u.Protocol() != url.ProtocolEmpty {
			cleaned = append(cleaned, u)
		}
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	switch category {
	case url.CategoryProviders:
		d.providers = cleaned
		d.rebuildLocked()
	case url.CategoryConfigurators:
		d.configurators = cleaned
		d.rebuildLocked()
	case url.CategoryRouters:
		d.rebuildRoutersLocked(cleaned)
	}
}

// rebuildLocked diffs the configured provider set against the live
// invokers: unchanged URLs keep their invoker, new ones are referred,
// dropped ones are destroyed.
func (d *Registry) rebuildLocked() {
	next := make(map[string]rpc.Invoker, len(d.providers))
	var list []rpc.Invoker

	for _, provider := range d.providers {
		merged := applyConfigurators(provider, d.configurators)
		if !merged.ParamBool(url.KeyEnabled, true) {
			continue
		}
		key := merged.Identity()
		if invoker, ok := d.invokers[key]; ok {
			next[key] = invoker
			list = append(list, invoker)
			continue
		}
		invoker, err := d.refer(merged)
		if err != nil {
			d.logger.Warn("cannot refer provider, skipping",
				zap.String("provider", merged.Address()), zap.Error(err))
			continue
		}
		next[key] = invoker
		list = append(list, invoker)
	}

	for key, invoker := range d.invokers {
		if _, kept := next[key]; !kept {
			invoker.Destroy()
		}
	}
	d.invokers = next
	d.snapshot.Store(list)
	d.forbidden.Store(len(d.providers) == 0)
}

func (d *Registry) refer(provider *url.URL) (rpc.Invoker, error) {
	p := d.ext.Point(extension.PointProtocol, url.ProtocolDefault)
	v, err := p.Get(provider.Protocol())
	if err != nil {
		return nil, err
	}
	proto, ok := v.(rpc.Protocol)
	if !ok {
		return nil, couriererrors.InternalErrorf(
			"extension %q is %T, not a protocol", provider.Protocol(), v)
	}
	return proto.Refer(provider)
}

func (d *Registry) rebuildRoutersLocked(rules []*url.URL) {
	var routers []cluster.Router
	point := d.ext.Point(extension.PointRouter, "condition")
	for _, rule := range rules {
		name := rule.Param(url.KeyRouter, rule.Protocol())
		v, err := point.Get(name)
		if err != nil {
			d.logger.Warn("unknown router rule kind, skipping",
				zap.String("kind", name), zap.Error(err))
			continue
		}
		factory, ok := v.(cluster.RouterFactory)
		if !ok {
			d.logger.Warn("router extension has wrong type, skipping",
				zap.String("kind", name))
			continue
		}
		router, err := factory.NewRouter(rule)
		if err != nil {
			d.logger.Warn("broken router rule, skipping",
				zap.String("rule", rule.String()), zap.Error(err))
			continue
		}
		routers = append(routers, router)
	}
	sortRouters(routers)
	d.routers = routers
}

// List returns the routed snapshot. A registry that explicitly emptied the
// provider list forbids calls rather than failing them as network errors.
func (d *Registry) List(inv rpc.Invocation) ([]rpc.Invoker, error) {
	if d.destroyed.Load() {
		return nil, couriererrors.DestroyedErrorf(
			"directory for %s is destroyed", d.consumer.ServiceKey())
	}
	if d.forbidden.Load() {
		return nil, couriererrors.ForbiddenErrorf(
			"no provider registered for %s", d.consumer.ServiceKey())
	}
	invokers := d.snapshot.Load().([]rpc.Invoker)

	d.mu.Lock()
	routers := make([]cluster.Router, len(d.routers))
	copy(routers, d.routers)
	d.mu.Unlock()

	return route(routers, invokers, d.consumer, inv), nil
}

// IsAvailable reports whether any live invoker can serve.
func (d *Registry) IsAvailable() bool {
	if d.destroyed.Load() {
		return false
	}
	for _, invoker := range d.snapshot.Load().([]rpc.Invoker) {
		if invoker.IsAvailable() {
			return true
		}
	}
	return false
}

// Destroy unsubscribes and destroys every invoker. Idempotent.
func (d *Registry) Destroy() {
	if !d.destroyed.CompareAndSwap(false, true) {
		return
	}
	if err := d.reg.Unsubscribe(d.subscribe, d); err != nil {
		d.logger.Warn("unsubscribe on destroy failed", zap.Error(err))
	}

	d.mu.Lock()
	invokers := d.invokers
	d.invokers = make(map[string]rpc.Invoker)
	d.snapshot.Store([]rpc.Invoker{})
	d.mu.Unlock()

	for _, invoker := range invokers {
		invoker.Destroy()
	}
}
