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
	"sync"
	"time"

	"go.uber.org/atomic"
	"go.uber.org/zap"

	"go.uber.org/courier/url"
)

// DefaultRetryPeriod is how often failed backend operations are replayed.
const DefaultRetryPeriod = 5 * time.Second

// Backend is the storage half of a registry: it talks to one discovery
// backend and surfaces every failure. Retry, check semantics, caching, and
// notification bookkeeping live in Failback.
type Backend interface {
	DoRegister(u *url.URL) error
	DoUnregister(u *url.URL) error

	// DoSubscribe installs the watch and delivers the first full-state
	// notification before returning.
	DoSubscribe(u *url.URL, listener NotifyListener) error
	DoUnsubscribe(u *url.URL, listener NotifyListener) error

	// DoLookup reads the current state without installing a watch.
	DoLookup(u *url.URL) ([]*url.URL, error)
}

// Failback wraps a Backend with the registry contract: check=false swallows
// failures and a background ticker replays them until they stick, and a lost
// session is replayed wholesale through Recover.
type Failback struct {
	*Base
	backend Backend

	stop      chan struct{}
	destroyed atomic.Bool

	mu               sync.Mutex
	failedRegister   map[string]*url.URL
	failedUnregister map[string]*url.URL
	failedSubscribe  map[string]*failedSub
	failedUnsub      map[string]*failedSub
}

type failedSub struct {
	u         *url.URL
	listeners map[NotifyListener]struct{}
}

// NewFailback wires backend to the shared registry state and starts the
// retry loop.
func NewFailback(u *url.URL, logger *zap.Logger, backend Backend) *Failback {
	f := &Failback{
		Base:             NewBase(u, logger),
		backend:          backend,
		stop:             make(chan struct{}),
		failedRegister:   make(map[string]*url.URL),
		failedUnregister: make(map[string]*url.URL),
		failedSubscribe:  make(map[string]*failedSub),
		failedUnsub:      make(map[string]*failedSub),
	}
	go f.retryLoop(u.ParamDuration(url.KeyRetryPeriod, DefaultRetryPeriod))
	return f
}

func (f *Failback) check(u *url.URL) bool {
	return u.ParamBool(url.KeyCheck, f.URL().ParamBool(url.KeyCheck, true))
}

// Register publishes u through the backend. With check=false a failure is
// swallowed and retried in background.
func (f *Failback) Register(u *url.URL) error {
	f.AddRegistered(u)
	f.removeFailedRegister(u)

	err := f.backend.DoRegister(u)
	if err == nil {
		return nil
	}
	if f.check(u) {
		return err
	}
	f.Logger().Warn("register failed, will retry",
		zap.String("url", u.String()), zap.Error(err))
	f.mu.Lock()
	f.failedRegister[u.String()] = u
	f.mu.Unlock()
	return nil
}

// Unregister withdraws u.
func (f *Failback) Unregister(u *url.URL) error {
	f.RemoveRegistered(u)
	f.removeFailedRegister(u)

	err := f.backend.DoUnregister(u)
	if err == nil {
		return nil
	}
	if f.check(u) {
		return err
	}
	f.Logger().Warn("unregister failed, will retry",
		zap.String("url", u.String()), zap.Error(err))
	f.mu.Lock()
	f.failedUnregister[u.String()] = u
	f.mu.Unlock()
	return nil
}

// Subscribe installs the listener. When the backend is down, a remembered
// state (live or disk cache) substitutes for the first notification and the
// subscription is retried; with nothing remembered and check=true the
// failure surfaces.
func (f *Failback) Subscribe(u *url.URL, listener NotifyListener) error {
	f.AddSubscribed(u, listener)
	f.removeFailedSub(f.failedSubscribe, u, listener)

	err := f.backend.DoSubscribe(u, listener)
	if err == nil {
		return nil
	}

	if cached := f.CacheLookup(u); len(cached) > 0 {
		f.Logger().Warn("subscribe failed, serving cached state",
			zap.String("url", u.String()), zap.Int("cached", len(cached)), zap.Error(err))
		f.Notify(u, listener, cached)
	} else if f.check(u) {
		f.RemoveSubscribed(u, listener)
		return err
	} else {
		f.Logger().Warn("subscribe failed, will retry",
			zap.String("url", u.String()), zap.Error(err))
	}
	f.addFailedSub(f.failedSubscribe, u, listener)
	return nil
}

// Unsubscribe detaches the listener.
func (f *Failback) Unsubscribe(u *url.URL, listener NotifyListener) error {
	f.RemoveSubscribed(u, listener)
	f.removeFailedSub(f.failedSubscribe, u, listener)

	err := f.backend.DoUnsubscribe(u, listener)
	if err == nil {
		return nil
	}
	if f.check(u) {
		return err
	}
	f.Logger().Warn("unsubscribe failed, will retry",
		zap.String("url", u.String()), zap.Error(err))
	f.addFailedSub(f.failedUnsub, u, listener)
	return nil
}

// Lookup reads the current state from the backend, falling back to the
// remembered state when the backend is unreachable.
func (f *Failback) Lookup(u *url.URL) ([]*url.URL, error) {
	urls, err := f.backend.DoLookup(u)
	if err == nil {
		return urls, nil
	}
	if cached := f.CacheLookup(u); len(cached) > 0 {
		f.Logger().Warn("lookup failed, serving cached state",
			zap.String("url", u.String()), zap.Error(err))
		return cached, nil
	}
	return nil, err
}

// Recover replays the registered set and every subscription against a fresh
// backend session. Re-subscribing delivers a fresh full-state notification.
func (f *Failback) Recover() {
	for _, u := range f.Registered() {
		if err := f.backend.DoRegister(u); err != nil {
			f.Logger().Warn("recover register failed, will retry",
				zap.String("url", u.String()), zap.Error(err))
			f.mu.Lock()
			f.failedRegister[u.String()] = u
			f.mu.Unlock()
		}
	}
	for u, listeners := range f.Subscribed() {
		for _, l := range listeners {
			if err := f.backend.DoSubscribe(u, l); err != nil {
				f.Logger().Warn("recover subscribe failed, will retry",
					zap.String("url", u.String()), zap.Error(err))
				f.addFailedSub(f.failedSubscribe, u, l)
			}
		}
	}
}

// Destroy withdraws every dynamically registered URL, drops all
// subscriptions, and stops the retry loop. Idempotent.
func (f *Failback) Destroy() {
	if !f.destroyed.CompareAndSwap(false, true) {
		return
	}
	close(f.stop)

	for _, u := range f.Registered() {
		if !u.ParamBool(url.KeyDynamic, true) {
			continue
		}
		if err := f.backend.DoUnregister(u); err != nil {
			f.Logger().Warn("destroy unregister failed",
				zap.String("url", u.String()), zap.Error(err))
		}
	}
	for u, listeners := range f.Subscribed() {
		for _, l := range listeners {
			if err := f.backend.DoUnsubscribe(u, l); err != nil {
				f.Logger().Warn("destroy unsubscribe failed",
					zap.String("url", u.String()), zap.Error(err))
			}
		}
	}
}

// Destroyed reports whether Destroy has run.
func (f *Failback) Destroyed() bool { return f.destroyed.Load() }

func (f *Failback) retryLoop(period time.Duration) {
	if period <= 0 {
		period = DefaultRetryPeriod
	}
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-f.stop:
			return
		case <-ticker.C:
			f.retry()
		}
	}
}

func (f *Failback) retry() {
	f.mu.Lock()
	registers := snapshotURLs(f.failedRegister)
	unregisters := snapshotURLs(f.failedUnregister)
	subscribes := snapshotSubs(f.failedSubscribe)
	unsubs := snapshotSubs(f.failedUnsub)
	f.mu.Unlock()

	for _, u := range registers {
		if err := f.backend.DoRegister(u); err != nil {
			continue
		}
		f.removeFailedRegister(u)
	}
	for _, u := range unregisters {
		if err := f.backend.DoUnregister(u); err != nil {
			continue
		}
		f.mu.Lock()
		delete(f.failedUnregister, u.String())
		f.mu.Unlock()
	}
	for _, s := range subscribes {
		for l := range s.listeners {
			if err := f.backend.DoSubscribe(s.u, l); err != nil {
				continue
			}
			f.removeFailedSub(f.failedSubscribe, s.u, l)
		}
	}
	for _, s := range unsubs {
		for l := range s.listeners {
			if err := f.backend.DoUnsubscribe(s.u, l); err != nil {
				continue
			}
			f.removeFailedSub(f.failedUnsub, s.u, l)
		}
	}
}

func (f *Failback) removeFailedRegister(u *url.URL) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.failedRegister, u.String())
}

func (f *Failback) addFailedSub(set map[string]*failedSub, u *url.URL, listener NotifyListener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := set[u.String()]
	if !ok {
		s = &failedSub{u: u, listeners: make(map[NotifyListener]struct{})}
		set[u.String()] = s
	}
	s.listeners[listener] = struct{}{}
}

func (f *Failback) removeFailedSub(set map[string]*failedSub, u *url.URL, listener NotifyListener) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := set[u.String()]
	if !ok {
		return
	}
	delete(s.listeners, listener)
	if len(s.listeners) == 0 {
		delete(set, u.String())
	}
}

func snapshotURLs(set map[string]*url.URL) []*url.URL {
	out := make([]*url.URL, 0, len(set))
	for _, u := range set {
		out = append(out, u)
	}
	return out
}

func snapshotSubs(set map[string]*failedSub) []*failedSub {
	out := make([]*failedSub, 0, len(set))
	for _, s := range set {
		listeners := make(map[NotifyListener]struct{}, len(s.listeners))
		for l := range s.listeners {
			listeners[l] = struct{}{}
		}
		out = append(out, &failedSub{u: s.u, listeners: listeners})
	}
	return out
}
