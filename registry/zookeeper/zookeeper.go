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

// Package zookeeper stores the discovery state in ZooKeeper.
//
// Layout: /<root>/<service key>/<category>/<percent-escaped URL>. Provider
// nodes are ephemeral unless the URL carries dynamic=false, so a crashed
// process disappears with its session. Child watches drive full-state
// notifications; a re-established session replays everything through the
// failback layer.
package zookeeper

import (
	"strings"
	"sync"
	"time"

	"github.com/go-zookeeper/zk"
	"go.uber.org/zap"

	"go.uber.org/courier/extension"
	"go.uber.org/courier/internal/backoff"
	"go.uber.org/courier/registry"
	"go.uber.org/courier/url"
)

// DefaultRoot is the namespace node all registry state lives under.
const DefaultRoot = "courier"

// DefaultSessionTimeout is the ZooKeeper session timeout when the registry
// URL does not set one.
const DefaultSessionTimeout = 30 * time.Second

func init() {
	p := extension.Default.Point(extension.PointRegistry, url.RegistryDefault)
	p.MustRegister("zookeeper", func(*extension.Registry) (interface{}, error) {
		var f registry.Factory = NewFactory(nil)
		return f, nil
	})
}

// Factory builds zookeeper registries, one shared session per address.
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

// Create returns the registry for u's address, connecting on first use.
func (f *Factory) Create(u *url.URL) (registry.Registry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.cache[u.Address()]; ok && !r.Destroyed() {
		return r, nil
	}
	r, err := New(u, f.logger)
	if err != nil {
		return nil, err
	}
	f.cache[u.Address()] = r
	return r, nil
}

// Registry is one ZooKeeper session.
type Registry struct {
	*registry.Failback
	b *backend
}

// New connects to the ensemble named by u: its address plus any backup
// parameter entries.
func New(u *url.URL, logger *zap.Logger) (*Registry, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	servers := []string{u.Address()}
	for _, s := range strings.Split(u.Param(url.KeyBackup, ""), ",") {
		if s = strings.TrimSpace(s); s != "" {
			servers = append(servers, s)
		}
	}

	conn, events, err := zk.Connect(servers, u.ParamDuration(url.KeySessionTimeout, DefaultSessionTimeout),
		zk.WithLogInfo(false))
	if err != nil {
		return nil, err
	}

	b := &backend{
		conn:    conn,
		root:    "/" + strings.Trim(u.Param(url.KeyRegistryGroup, DefaultRoot), "/"),
		logger:  logger,
		stop:    make(chan struct{}),
		watches: make(map[string]*subWatch),
	}
	r := &Registry{b: b}
	r.Failback = registry.NewFailback(u, logger, b)
	b.base = r.Failback

	go b.sessionLoop(events)
	return r, nil
}

// IsAvailable reports whether the session is live.
func (r *Registry) IsAvailable() bool {
	return !r.Destroyed() && r.b.hasSession()
}

// Destroy withdraws registrations, drops watches, and closes the session.
func (r *Registry) Destroy() {
	if r.Destroyed() {
		return
	}
	r.Failback.Destroy()
	r.b.close()
}

type subWatch struct {
	refs int
	stop chan struct{}
}

type backend struct {
	base   *registry.Failback
	conn   *zk.Conn
	root   string
	logger *zap.Logger
	stop   chan struct{}

	mu        sync.Mutex
	connected bool
	closed    bool
	watches   map[string]*subWatch // subscribe URL string → watch
}

// sessionLoop tracks session state. The zk client reconnects on its own;
// regaining a session after having had one means ephemerals and watches may
// be gone, so the failback layer replays everything.
func (b *backend) sessionLoop(events <-chan zk.Event) {
	hadSession := false
	for {
		select {
		case <-b.stop:
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Type != zk.EventSession {
				continue
			}
			switch ev.State {
			case zk.StateHasSession:
				b.setConnected(true)
				if hadSession {
					b.logger.Info("zookeeper session re-established, recovering")
					go b.base.Recover()
				}
				hadSession = true
			case zk.StateDisconnected, zk.StateExpired:
				b.setConnected(false)
			}
		}
	}
}

func (b *backend) setConnected(up bool) {
	b.mu.Lock()
	b.connected = up
	b.mu.Unlock()
}

func (b *backend) hasSession() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connected
}

func (b *backend) close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	close(b.stop)
	for _, w := range b.watches {
		close(w.stop)
	}
	b.watches = make(map[string]*subWatch)
	b.mu.Unlock()
	b.conn.Close()
}

func (b *backend) categoryPath(u *url.URL, category string) string {
	return b.root + "/" + url.Encode(u.ServiceKey()) + "/" + category
}

func (b *backend) nodePath(u *url.URL) string {
	category := u.Param(url.KeyCategory, url.CategoryProviders)
	return b.categoryPath(u, category) + "/" + url.Encode(u.String())
}

// ensurePath creates every missing segment as a persistent node.
func (b *backend) ensurePath(path string) error {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	current := ""
	for _, segment := range segments {
		current += "/" + segment
		_, err := b.conn.Create(current, nil, 0, zk.WorldACL(zk.PermAll))
		if err != nil && err != zk.ErrNodeExists {
			return err
		}
	}
	return nil
}

func (b *backend) DoRegister(u *url.URL) error {
	category := u.Param(url.KeyCategory, url.CategoryProviders)
	if err := b.ensurePath(b.categoryPath(u, category)); err != nil {
		return err
	}

	path := b.nodePath(u)
	var flags int32
	if u.ParamBool(url.KeyDynamic, true) {
		flags = zk.FlagEphemeral
	}
	_, err := b.conn.Create(path, nil, flags, zk.WorldACL(zk.PermAll))
	if err == zk.ErrNodeExists && flags == zk.FlagEphemeral {
		// a stale ephemeral from a previous session, take it over
		if err := b.conn.Delete(path, -1); err != nil && err != zk.ErrNoNode {
			return err
		}
		_, err = b.conn.Create(path, nil, flags, zk.WorldACL(zk.PermAll))
	}
	if err != nil && err != zk.ErrNodeExists {
		return err
	}
	return nil
}

func (b *backend) DoUnregister(u *url.URL) error {
	err := b.conn.Delete(b.nodePath(u), -1)
	if err == zk.ErrNoNode {
		return nil
	}
	return err
}

func (b *backend) DoSubscribe(u *url.URL, listener registry.NotifyListener) error {
	categories := registry.Categories(u)

	// first full state across all categories, before the watches go live
	var state []*url.URL
	for _, category := range categories {
		path := b.categoryPath(u, category)
		if err := b.ensurePath(path); err != nil {
			return err
		}
		urls, _, err := b.childrenState(u, category, false)
		if err != nil {
			return err
		}
		state = append(state, urls...)
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return zk.ErrClosing
	}
	w, ok := b.watches[u.String()]
	if !ok {
		w = &subWatch{stop: make(chan struct{})}
		b.watches[u.String()] = w
		for _, category := range categories {
			go b.watchLoop(u, category, w.stop)
		}
	}
	w.refs++
	b.mu.Unlock()

	b.base.Notify(u, listener, state)
	return nil
}

func (b *backend) DoUnsubscribe(u *url.URL, _ registry.NotifyListener) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	w, ok := b.watches[u.String()]
	if !ok {
		return nil
	}
	w.refs--
	if w.refs <= 0 {
		close(w.stop)
		delete(b.watches, u.String())
	}
	return nil
}

func (b *backend) DoLookup(u *url.URL) ([]*url.URL, error) {
	var out []*url.URL
	for _, category := range registry.Categories(u) {
		children, _, err := b.conn.Children(b.categoryPath(u, category))
		if err == zk.ErrNoNode {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, decodeChildren(children, category)...)
	}
	return out, nil
}

// childrenState reads one category's children, optionally arming a watch.
// An empty category comes back as a single empty-protocol URL.
func (b *backend) childrenState(u *url.URL, category string, watch bool) ([]*url.URL, <-chan zk.Event, error) {
	path := b.categoryPath(u, category)
	var (
		children []string
		events   <-chan zk.Event
		err      error
	)
	if watch {
		children, _, events, err = b.conn.ChildrenW(path)
	} else {
		children, _, err = b.conn.Children(path)
	}
	if err != nil {
		return nil, nil, err
	}

	urls := decodeChildren(children, category)
	if len(urls) == 0 {
		urls = []*url.URL{registry.EmptyURL(u, category)}
	}
	return urls, events, nil
}

func decodeChildren(children []string, category string) []*url.URL {
	var out []*url.URL
	for _, child := range children {
		raw, err := url.Decode(child)
		if err != nil {
			continue
		}
		u, err := url.Parse(raw)
		if err != nil {
			continue
		}
		u = u.AddParamIfAbsent(url.KeyCategory, category)
		out = append(out, u)
	}
	return out
}

// watchLoop re-arms a child watch on one category and pushes full-state
// notifications on every change. Watch setup failures back off until the
// session returns.
func (b *backend) watchLoop(u *url.URL, category string, stop <-chan struct{}) {
	retry, _ := backoff.NewExponential(
		backoff.Base(100*time.Millisecond),
		backoff.Max(DefaultSessionTimeout))
	attempt := uint(0)
	for {
		urls, events, err := b.childrenState(u, category, true)
		if err != nil {
			select {
			case <-stop:
				return
			case <-b.stop:
				return
			case <-time.After(retry.Duration(attempt)):
				attempt++
				continue
			}
		}
		attempt = 0
		b.base.Notify(u, nil, urls)

		select {
		case <-stop:
			return
		case <-b.stop:
			return
		case <-events:
		}
	}
}
