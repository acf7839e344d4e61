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

// Package memory is an in-process discovery backend. It exists for tests
// and single-process deployments: full contract semantics, no network.
package memory

import (
	"errors"
	"sync"

	"go.uber.org/zap"

	"go.uber.org/courier/extension"
	"go.uber.org/courier/registry"
	"go.uber.org/courier/url"
)

func init() {
	p := extension.Default.Point(extension.PointRegistry, url.RegistryDefault)
	p.MustRegister("memory", func(*extension.Registry) (interface{}, error) {
		var f registry.Factory = NewFactory(nil)
		return f, nil
	})
}

// errDown reports a backend forced offline with SetAvailable(false).
var errDown = errors.New("memory registry is unavailable")

// Factory builds memory registries, one shared instance per address.
type Factory struct {
	logger *zap.Logger

	mu    sync.Mutex
	cache map[string]*Registry
}

// NewFactory returns a Factory. A nil logger means no logging.
func NewFactory(logger *zap.Logger) *Factory {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Factory{logger: logger, cache: make(map[string]*Registry)}
}

// Create returns the registry for u's address, building it on first use.
func (f *Factory) Create(u *url.URL) (registry.Registry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.cache[u.Address()]; ok && !r.Destroyed() {
		return r, nil
	}
	r := New(u, f.logger)
	f.cache[u.Address()] = r
	return r, nil
}

// Registry keeps the discovery state in process memory.
type Registry struct {
	*registry.Failback
	b *backend
}

// New builds a memory registry for u.
func New(u *url.URL, logger *zap.Logger) *Registry {
	b := &backend{
		urls: make(map[string]*url.URL),
		subs: make(map[string]*watch),
	}
	r := &Registry{b: b}
	r.Failback = registry.NewFailback(u, logger, b)
	b.base = r.Failback
	return r
}

// IsAvailable reports whether the backend accepts operations.
func (r *Registry) IsAvailable() bool {
	return !r.Destroyed() && !r.b.isDown()
}

// SetAvailable toggles the simulated backend connection. Flipping back to
// available replays pending state like a real reconnect.
func (r *Registry) SetAvailable(up bool) {
	r.b.setDown(!up)
	if up {
		r.Recover()
	}
}

type watch struct {
	u         *url.URL
	listeners map[registry.NotifyListener]struct{}
}

type backend struct {
	base *registry.Failback

	mu   sync.Mutex
	down bool
	urls map[string]*url.URL
	subs map[string]*watch
}

func (b *backend) isDown() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.down
}

func (b *backend) setDown(down bool) {
	b.mu.Lock()
	b.down = down
	b.mu.Unlock()
}

func (b *backend) DoRegister(u *url.URL) error {
	b.mu.Lock()
	if b.down {
		b.mu.Unlock()
		return errDown
	}
	b.urls[u.String()] = u
	watches := b.watchesLocked()
	b.mu.Unlock()

	b.broadcast(watches)
	return nil
}

func (b *backend) DoUnregister(u *url.URL) error {
	b.mu.Lock()
	if b.down {
		b.mu.Unlock()
		return errDown
	}
	delete(b.urls, u.String())
	watches := b.watchesLocked()
	b.mu.Unlock()

	b.broadcast(watches)
	return nil
}

func (b *backend) DoSubscribe(u *url.URL, listener registry.NotifyListener) error {
	b.mu.Lock()
	if b.down {
		b.mu.Unlock()
		return errDown
	}
	w, ok := b.subs[u.String()]
	if !ok {
		w = &watch{u: u, listeners: make(map[registry.NotifyListener]struct{})}
		b.subs[u.String()] = w
	}
	w.listeners[listener] = struct{}{}
	state := b.stateLocked(u)
	b.mu.Unlock()

	b.base.Notify(u, listener, state)
	return nil
}

func (b *backend) DoUnsubscribe(u *url.URL, listener registry.NotifyListener) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return errDown
	}
	if w, ok := b.subs[u.String()]; ok {
		delete(w.listeners, listener)
		if len(w.listeners) == 0 {
			delete(b.subs, u.String())
		}
	}
	return nil
}

func (b *backend) DoLookup(u *url.URL) ([]*url.URL, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.down {
		return nil, errDown
	}
	var out []*url.URL
	for _, candidate := range b.urls {
		if registry.Matches(u, candidate) {
			out = append(out, candidate)
		}
	}
	return out, nil
}

func (b *backend) watchesLocked() []*watch {
	out := make([]*watch, 0, len(b.subs))
	for _, w := range b.subs {
		out = append(out, w)
	}
	return out
}

// stateLocked builds the full state for sub: the matching URLs per requested
// category, with an empty-protocol placeholder for each empty category.
func (b *backend) stateLocked(sub *url.URL) []*url.URL {
	var out []*url.URL
	for _, category := range registry.Categories(sub) {
		found := false
		for _, candidate := range b.urls {
			if candidate.Param(url.KeyCategory, url.CategoryProviders) != category {
				continue
			}
			if registry.Matches(sub, candidate) {
				out = append(out, candidate)
				found = true
			}
		}
		if !found {
			out = append(out, registry.EmptyURL(sub, category))
		}
	}
	return out
}

func (b *backend) broadcast(watches []*watch) {
	for _, w := range watches {
		b.mu.Lock()
		state := b.stateLocked(w.u)
		b.mu.Unlock()
		b.base.Notify(w.u, nil, state)
	}
}
