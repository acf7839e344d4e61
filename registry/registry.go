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

// Package registry is the service discovery plane: providers register their
// URLs, consumers subscribe to full-state notifications per category, and a
// disk cache bridges backend outages.
package registry

import (
	"go.uber.org/courier/url"
)

// NotifyListener receives full-state notifications for one category of one
// subscription: the URL list always replaces the previous state wholesale.
// An empty category arrives as a single URL with the empty protocol.
type NotifyListener interface {
	Notify(urls []*url.URL)
}

// NotifyFunc adapts a function to NotifyListener.
type NotifyFunc func(urls []*url.URL)

// Notify calls f.
func (f NotifyFunc) Notify(urls []*url.URL) { f(urls) }

// Registry is one connection to a discovery backend.
type Registry interface {
	// URL returns the registry descriptor the instance was created from.
	URL() *url.URL

	// Register publishes u. Failures surface unless u carries check=false,
	// in which case they are swallowed and retried in background.
	Register(u *url.URL) error

	// Unregister withdraws u.
	Unregister(u *url.URL) error

	// Subscribe delivers one full notification per subscribed category
	// immediately, then again on every change. Listener calls for the same
	// subscribe URL are serialized.
	Subscribe(u *url.URL, listener NotifyListener) error

	// Unsubscribe detaches the listener.
	Unsubscribe(u *url.URL, listener NotifyListener) error

	// Lookup returns the current URLs for u across its categories, falling
	// back to the disk cache when the backend is unreachable.
	Lookup(u *url.URL) ([]*url.URL, error)

	// IsAvailable reports whether the backend session is live.
	IsAvailable() bool

	// Destroy unregisters everything registered dynamic and closes the
	// backend session. Idempotent.
	Destroy()
}

// Factory creates registries for one backend kind. Factories cache by
// registry address: two URLs naming the same backend share a session.
type Factory interface {
	Create(u *url.URL) (Registry, error)
}
