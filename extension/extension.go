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

// Package extension is the plug-in plane of the framework: a registry of
// named implementations per extension point, with decorating wrappers,
// URL-driven adaptive selection, and conditional activation.
//
// Registration is explicit (an init function or wiring code calls Register)
// rather than discovered from resources. The package-level Default registry
// serves production wiring; tests construct a fresh Registry.
package extension

import (
	"sort"
	"strings"
	"sync"

	"go.uber.org/courier/couriererrors"
	"go.uber.org/courier/url"
)

// Factory builds one extension instance. The registry is passed so factories
// can resolve other points lazily at call time, which keeps mutually
// dependent extensions from deadlocking at construction.
type Factory func(reg *Registry) (interface{}, error)

// Wrapper decorates every instance of a point after construction; wrappers
// apply in registration order, first registered innermost.
type Wrapper func(inner interface{}) interface{}

// Activation describes when Activate should include an extension without it
// being named explicitly.
type Activation struct {
	// Group restricts activation to URLs whose side matches; empty matches
	// every group.
	Group string
	// Keys activate the extension only when at least one of these URL
	// parameters is present and non-empty. Empty Keys always activate
	// within the group.
	Keys []string
	// Order sorts activated extensions; lower runs earlier.
	Order int
}

// Registry holds every extension point in one process-wide (or per-test)
// scope.
type Registry struct {
	mu     sync.RWMutex
	points map[string]*Point
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{points: make(map[string]*Point)}
}

// Default is the process-wide registry used by production wiring.
var Default = NewRegistry()

// Point returns the extension point with the given interface name, creating
// it with the given default extension name on first use. A later call with a
// different default keeps the first.
func (r *Registry) Point(iface, defaultName string) *Point {
	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.points[iface]; ok {
		return p
	}
	p := &Point{
		registry:    r,
		iface:       iface,
		defaultName: defaultName,
		factories:   make(map[string]*registration),
		instances:   make(map[string]interface{}),
	}
	r.points[iface] = p
	return p
}

// LookupPoint returns an existing point, or nil.
func (r *Registry) LookupPoint(iface string) *Point {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.points[iface]
}

type registration struct {
	factory    Factory
	activation *Activation
	order      int // registration sequence, tie-breaker
}

// Point is the registry of named implementations for one interface.
type Point struct {
	registry    *Registry
	iface       string
	defaultName string

	mu        sync.Mutex
	seq       int
	factories map[string]*registration
	wrappers  []Wrapper
	instances map[string]interface{}
	building  map[string]bool
}

// RegisterOption customizes a registration.
type RegisterOption func(*registration)

// WithActivation attaches activation metadata, making the extension eligible
// for Activate without being named.
func WithActivation(a Activation) RegisterOption {
	return func(reg *registration) { reg.activation = &a }
}

// Interface returns the point's interface name.
func (p *Point) Interface() string { return p.iface }

// DefaultName returns the point's default extension name, or "".
func (p *Point) DefaultName() string { return p.defaultName }

// Register adds a named factory. Registering a name twice is an error; at
// most one instance per (point, name) ever exists.
func (p *Point) Register(name string, factory Factory, opts ...RegisterOption) error {
	if name == "" || factory == nil {
		return couriererrors.InternalErrorf("extension registration for %q needs a name and a factory", p.iface)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.factories[name]; ok {
		return couriererrors.InternalErrorf("extension %q already registered for %q", name, p.iface)
	}
	reg := &registration{factory: factory, order: p.seq}
	p.seq++
	for _, opt := range opts {
		opt(reg)
	}
	p.factories[name] = reg
	return nil
}

// MustRegister is Register, panicking on error. For init-time wiring.
func (p *Point) MustRegister(name string, factory Factory, opts ...RegisterOption) {
	if err := p.Register(name, factory, opts...); err != nil {
		panic(err)
	}
}

// RegisterWrapper adds a decorator applied to every instance of this point.
func (p *Point) RegisterWrapper(w Wrapper) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.wrappers = append(p.wrappers, w)
}

// Names returns the registered names in registration order.
func (p *Point) Names() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	names := make([]string, 0, len(p.factories))
	for name := range p.factories {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return p.factories[names[i]].order < p.factories[names[j]].order
	})
	return names
}

// Has reports whether name is registered.
func (p *Point) Has(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.factories[name]
	return ok
}

// Get returns the cached singleton for name, constructing and wrapping it on
// first use.
func (p *Point) Get(name string) (interface{}, error) {
	p.mu.Lock()
	if inst, ok := p.instances[name]; ok {
		p.mu.Unlock()
		return inst, nil
	}
	reg, ok := p.factories[name]
	if !ok {
		p.mu.Unlock()
		return nil, couriererrors.InternalErrorf("no extension named %q for %q", name, p.iface)
	}
	if p.building == nil {
		p.building = make(map[string]bool)
	}
	if p.building[name] {
		p.mu.Unlock()
		return nil, couriererrors.InternalErrorf("cycle constructing extension %q for %q", name, p.iface)
	}
	p.building[name] = true
	wrappers := append([]Wrapper(nil), p.wrappers...)
	p.mu.Unlock()

	inst, err := reg.factory(p.registry)

	p.mu.Lock()
	delete(p.building, name)
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}
	// Lost a race: keep the first instance.
	if cached, ok := p.instances[name]; ok {
		p.mu.Unlock()
		return cached, nil
	}
	for _, w := range wrappers {
		inst = w(inst)
	}
	p.instances[name] = inst
	p.mu.Unlock()
	return inst, nil
}

// Instances returns a snapshot of the instances constructed so far, in no
// particular order. Extensions never Get are absent, so teardown loops do
// not instantiate what nothing used.
func (p *Point) Instances() []interface{} {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]interface{}, 0, len(p.instances))
	for _, inst := range p.instances {
		out = append(out, inst)
	}
	return out
}

// GetDefault returns the instance for the point's default name.
func (p *Point) GetDefault() (interface{}, error) {
	if p.defaultName == "" {
		return nil, couriererrors.InternalErrorf("no default extension for %q", p.iface)
	}
	return p.Get(p.defaultName)
}

// AdaptiveName resolves the extension name from the first non-empty URL
// parameter among keys, falling back to the point default.
func (p *Point) AdaptiveName(u *url.URL, keys ...string) (string, error) {
	for _, key := range keys {
		if v := u.Param(key, ""); v != "" {
			return v, nil
		}
	}
	if p.defaultName != "" {
		return p.defaultName, nil
	}
	return "", couriererrors.InternalErrorf(
		"no extension named by %v on %s and no default for %q", keys, u.Address(), p.iface)
}

// Adaptive resolves and constructs the extension selected by the URL. This
// is the tagged-dispatch rendition of adaptive extensions: the choice is
// deferred to the call that holds a URL.
func (p *Point) Adaptive(u *url.URL, keys ...string) (interface{}, error) {
	name, err := p.AdaptiveName(u, keys...)
	if err != nil {
		return nil, err
	}
	inst, err := p.Get(name)
	if err != nil {
		return nil, couriererrors.InternalErrorf("no extension named %q for %q", name, p.iface)
	}
	return inst, nil
}

// Activate returns the ordered extensions enabled for the URL: those named
// in the comma list at u[key] (in list order) plus every registration whose
// Activation matches the group and URL, sorted by Activation.Order. A list
// entry "-name" suppresses name entirely; "-default" suppresses the whole
// activation-matched set.
func (p *Point) Activate(u *url.URL, key, group string) ([]interface{}, error) {
	var names []string
	if v := u.Param(key, ""); v != "" {
		names = strings.Split(v, ",")
	}

	suppressed := make(map[string]bool)
	var explicit []string
	for _, raw := range names {
		name := strings.TrimSpace(raw)
		if name == "" {
			continue
		}
		if strings.HasPrefix(name, "-") {
			suppressed[name[1:]] = true
			continue
		}
		explicit = append(explicit, name)
	}

	type activated struct {
		name  string
		act   *Activation
		order int
	}
	var auto []activated
	if !suppressed["default"] {
		p.mu.Lock()
		for name, reg := range p.factories {
			if reg.activation == nil || suppressed[name] {
				continue
			}
			if !matchesActivation(reg.activation, u, group) {
				continue
			}
			auto = append(auto, activated{name: name, act: reg.activation, order: reg.order})
		}
		p.mu.Unlock()
		sort.Slice(auto, func(i, j int) bool {
			if auto[i].act.Order != auto[j].act.Order {
				return auto[i].act.Order < auto[j].act.Order
			}
			return auto[i].order < auto[j].order
		})
	}

	seen := make(map[string]bool)
	var out []interface{}
	appendByName := func(name string) error {
		if seen[name] || suppressed[name] {
			return nil
		}
		seen[name] = true
		inst, err := p.Get(name)
		if err != nil {
			return err
		}
		out = append(out, inst)
		return nil
	}

	for _, a := range auto {
		if err := appendByName(a.name); err != nil {
			return nil, err
		}
	}
	for _, name := range explicit {
		if err := appendByName(name); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func matchesActivation(a *Activation, u *url.URL, group string) bool {
	if a.Group != "" && !groupMatches(a.Group, group) {
		return false
	}
	if len(a.Keys) == 0 {
		return true
	}
	for _, key := range a.Keys {
		if u.Param(key, "") != "" {
			return true
		}
	}
	return false
}

// groupMatches reports whether group is one of the comma-separated names in
// spec.
func groupMatches(spec, group string) bool {
	for _, g := range strings.Split(spec, ",") {
		if strings.TrimSpace(g) == group {
			return true
		}
	}
	return false
}
