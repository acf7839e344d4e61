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

package registry

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"go.uber.org/courier/url"
)

// Base carries the backend-independent registry state: the registered set,
// the subscription table with per-subscription serialization, the notified
// snapshots, and the disk cache that bridges backend outages.
type Base struct {
	u        *url.URL
	logger   *zap.Logger
	file     string
	syncSave bool

	// version orders cache snapshots; a background writer that lost the
	// race to a newer one gives up. saveMu serializes the disk writes.
	version atomic.Int64
	saveMu  sync.Mutex

	mu         sync.Mutex
	registered map[string]*url.URL
	subs       map[string]*subscription
	cache      map[string]string // service key → encoded URL list
}

type subscription struct {
	u *url.URL

	// notifyMu serializes listener delivery for this subscribe URL.
	notifyMu  sync.Mutex
	mu        sync.Mutex
	listeners map[NotifyListener]struct{}
	notified  map[string][]*url.URL // category → last full state
}

// NewBase builds the shared registry state for u. The file parameter names
// the disk cache; empty disables it.
func NewBase(u *url.URL, logger *zap.Logger) *Base {
	if logger == nil {
		logger = zap.NewNop()
	}
	b := &Base{
		u:          u,
		logger:     logger,
		file:       cacheFile(u),
		syncSave:   u.ParamBool(url.KeySaveFileSync, false),
		registered: make(map[string]*url.URL),
		subs:       make(map[string]*subscription),
		cache:      make(map[string]string),
	}
	b.loadCache()
	return b
}

func cacheFile(u *url.URL) string {
	if f := u.Param(url.KeyFile, ""); f != "" {
		return f
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	name := "courier-registry-" + strings.ReplaceAll(u.Address(), ":", "_") + ".cache"
	return filepath.Join(home, ".courier", name)
}

// URL returns the registry descriptor.
func (b *Base) URL() *url.URL { return b.u }

// Logger returns the registry's logger.
func (b *Base) Logger() *zap.Logger { return b.logger }

// AddRegistered records u in the registered set.
func (b *Base) AddRegistered(u *url.URL) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.registered[u.String()] = u
}

// RemoveRegistered drops u from the registered set.
func (b *Base) RemoveRegistered(u *url.URL) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.registered, u.String())
}

// Registered snapshots the registered URLs.
func (b *Base) Registered() []*url.URL {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*url.URL, 0, len(b.registered))
	for _, u := range b.registered {
		out = append(out, u)
	}
	return out
}

func (b *Base) subscription(u *url.URL, create bool) *subscription {
	key := u.String()
	b.mu.Lock()
	defer b.mu.Unlock()
	s, ok := b.subs[key]
	if !ok && create {
		s = &subscription{
			u:         u,
			listeners: make(map[NotifyListener]struct{}),
			notified:  make(map[string][]*url.URL),
		}
		b.subs[key] = s
	}
	return s
}

// AddSubscribed attaches a listener to u's subscription.
func (b *Base) AddSubscribed(u *url.URL, listener NotifyListener) {
	s := b.subscription(u, true)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners[listener] = struct{}{}
}

// RemoveSubscribed detaches a listener; the subscription survives so the
// notified snapshot stays available for lookups.
func (b *Base) RemoveSubscribed(u *url.URL, listener NotifyListener) {
	s := b.subscription(u, false)
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.listeners, listener)
}

// Subscribed snapshots the subscribe URLs and their listeners.
func (b *Base) Subscribed() map[*url.URL][]NotifyListener {
	b.mu.Lock()
	subs := make([]*subscription, 0, len(b.subs))
	for _, s := range b.subs {
		subs = append(subs, s)
	}
	b.mu.Unlock()

	out := make(map[*url.URL][]NotifyListener, len(subs))
	for _, s := range subs {
		s.mu.Lock()
		listeners := make([]NotifyListener, 0, len(s.listeners))
		for l := range s.listeners {
			listeners = append(listeners, l)
		}
		s.mu.Unlock()
		out[s.u] = listeners
	}
	return out
}

// Notify delivers a full-state notification for sub to the given listener,
// or to every listener of sub when listener is nil. The incoming URLs are
// matched against the subscription, split by category, and each touched
// category replaces the previous state. Deliveries for one subscribe URL
// never interleave.
func (b *Base) Notify(sub *url.URL, listener NotifyListener, urls []*url.URL) {
	s := b.subscription(sub, true)

	matched := make(map[string][]*url.URL)
	for _, u := range urls {
		if !Matches(sub, u) {
			continue
		}
		category := u.Param(url.KeyCategory, url.CategoryProviders)
		matched[category] = append(matched[category], u)
	}
	if len(matched) == 0 {
		return
	}

	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	for category, categoryURLs := range matched {
		s.mu.Lock()
		s.notified[category] = categoryURLs
		listeners := make([]NotifyListener, 0, len(s.listeners))
		if listener != nil {
			listeners = append(listeners, listener)
		} else {
			for l := range s.listeners {
				listeners = append(listeners, l)
			}
		}
		s.mu.Unlock()

		for _, l := range listeners {
			l.Notify(categoryURLs)
		}
	}
	b.saveCache(sub, s)
}

// Notified returns the last full state per category for sub, or nil.
func (b *Base) Notified(sub *url.URL) map[string][]*url.URL {
	s := b.subscription(sub, false)
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string][]*url.URL, len(s.notified))
	for category, urls := range s.notified {
		out[category] = append([]*url.URL(nil), urls...)
	}
	return out
}

// CacheLookup returns the remembered state for sub: the live notified
// snapshot when one exists, otherwise the disk cache. Empty-protocol
// placeholders are filtered out.
func (b *Base) CacheLookup(sub *url.URL) []*url.URL {
	var out []*url.URL
	for _, urls := range b.Notified(sub) {
		for _, u := range urls {
			if u.Protocol() != url.ProtocolEmpty {
				out = append(out, u)
			}
		}
	}
	if out != nil {
		return out
	}

	b.mu.Lock()
	line := b.cache[sub.ServiceKey()]
	b.mu.Unlock()
	for _, field := range strings.Fields(line) {
		decoded, err := url.Decode(field)
		if err != nil {
			continue
		}
		u, err := url.Parse(decoded)
		if err != nil || u.Protocol() == url.ProtocolEmpty {
			continue
		}
		out = append(out, u)
	}
	return out
}

// saveCache folds sub's full state into the in-memory cache and persists
// it, on a background goroutine unless save.file=true asks for a
// synchronous write. A slow disk therefore cannot stall the notify path.
func (b *Base) saveCache(sub *url.URL, s *subscription) {
	if b.file == "" {
		return
	}

	s.mu.Lock()
	var encoded []string
	for _, urls := range s.notified {
		for _, u := range urls {
			encoded = append(encoded, url.Encode(u.String()))
		}
	}
	s.mu.Unlock()
	sort.Strings(encoded)

	b.mu.Lock()
	b.cache[sub.ServiceKey()] = strings.Join(encoded, " ")
	b.mu.Unlock()

	version := b.version.Inc()
	if b.syncSave {
		b.saveFile(version)
		return
	}
	go b.saveFile(version)
}

// saveFile writes the full cache with an atomic tmp+rename. A writer whose
// snapshot is already stale skips the write; the newer one carries it.
func (b *Base) saveFile(version int64) {
	b.saveMu.Lock()
	defer b.saveMu.Unlock()
	if version < b.version.Load() {
		return
	}

	b.mu.Lock()
	var lines []string
	for key, value := range b.cache {
		lines = append(lines, key+"="+value)
	}
	b.mu.Unlock()
	sort.Strings(lines)
	content := strings.Join(lines, "\n") + "\n"

	if err := os.MkdirAll(filepath.Dir(b.file), 0o755); err != nil {
		b.logger.Warn("registry cache dir failed", zap.Error(err))
		return
	}
	tmp := b.file + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		b.logger.Warn("registry cache write failed", zap.Error(err))
		return
	}
	if err := os.Rename(tmp, b.file); err != nil {
		b.logger.Warn("registry cache rename failed", zap.Error(err))
	}
}

func (b *Base) loadCache() {
	if b.file == "" {
		return
	}
	content, err := os.ReadFile(b.file)
	if err != nil {
		return
	}
	for _, line := range strings.Split(string(content), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		b.cache[key] = value
	}
}

// EmptyURL encodes "this category is now empty" for a subscription.
func EmptyURL(sub *url.URL, category string) *url.URL {
	return url.New(url.ProtocolEmpty, sub.Host(), sub.Port(), sub.Path(),
		url.WithParam(url.KeyInterface, sub.Interface()),
		url.WithParam(url.KeyCategory, category))
}

// Categories returns the category list sub asks for; * expands to every
// standard category.
func Categories(sub *url.URL) []string {
	raw := sub.Param(url.KeyCategory, url.CategoryProviders)
	if raw == url.CategoryAll {
		raw = url.DefaultCategories
	}
	var out []string
	for _, c := range strings.Split(raw, ",") {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

// Matches reports whether provider answers sub: interface, group, version,
// and category must line up, with * as wildcard. Empty-protocol URLs match
// by interface and category so emptiness reaches the right listeners.
func Matches(sub, provider *url.URL) bool {
	subIface := sub.Interface()
	if subIface != url.CategoryAll && subIface != provider.Interface() {
		return false
	}

	category := provider.Param(url.KeyCategory, url.CategoryProviders)
	categoryOK := false
	for _, c := range Categories(sub) {
		if c == category {
			categoryOK = true
			break
		}
	}
	if !categoryOK {
		return false
	}
	if provider.Protocol() == url.ProtocolEmpty {
		return true
	}

	return wildcardEq(sub.Param(url.KeyGroup, ""), provider.Param(url.KeyGroup, "")) &&
		wildcardEq(sub.Param(url.KeyVersion, ""), provider.Param(url.KeyVersion, ""))
}

func wildcardEq(want, got string) bool {
	return want == "" || want == "*" || want == got
}
