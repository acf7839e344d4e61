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
	"strconv"
	"time"

	"go.uber.org/zap"

	"go.uber.org/courier/extension"
	"go.uber.org/courier/url"
)

// Option configures a Service or a Reference. Options that only make sense
// on one side are ignored by the other.
type Option func(*config)

type config struct {
	protocol    string
	host        string
	port        int
	group       string
	version     string
	application string
	scope       string
	token       string
	delay       time.Duration

	registries []*url.URL
	urls       []*url.URL

	params       map[string]string
	methodParams map[string]map[string]string

	ext    *extension.Registry
	logger *zap.Logger
}

func newConfig(opts []Option) *config {
	cfg := &config{
		params:       make(map[string]string),
		methodParams: make(map[string]map[string]string),
		ext:          extension.Default,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithProtocol selects the wire protocol extension; the default is the
// framework's native protocol.
func WithProtocol(name string) Option {
	return func(cfg *config) { cfg.protocol = name }
}

// WithHost fixes the advertised host instead of detecting one.
func WithHost(host string) Option {
	return func(cfg *config) { cfg.host = host }
}

// WithPort fixes the port instead of the protocol default.
func WithPort(port int) Option {
	return func(cfg *config) { cfg.port = port }
}

// WithGroup sets the service group.
func WithGroup(group string) Option {
	return func(cfg *config) { cfg.group = group }
}

// WithVersion sets the service version.
func WithVersion(version string) Option {
	return func(cfg *config) { cfg.version = version }
}

// WithApplication names the owning application in registered URLs.
func WithApplication(name string) Option {
	return func(cfg *config) { cfg.application = name }
}

// WithRegistry adds a discovery backend, addressed by its own URL, for
// example zookeeper://zk1:2181. Repeatable.
func WithRegistry(u *url.URL) Option {
	return func(cfg *config) { cfg.registries = append(cfg.registries, u) }
}

// WithURL adds a direct peer address on the consumer side, bypassing
// discovery. Repeatable.
func WithURL(u *url.URL) Option {
	return func(cfg *config) { cfg.urls = append(cfg.urls, u) }
}

// WithScope limits where the service is exported: local, remote, none, or
// empty for both.
func WithScope(scope string) Option {
	return func(cfg *config) { cfg.scope = scope }
}

// WithDelay postpones the remote export after Export returns.
func WithDelay(d time.Duration) Option {
	return func(cfg *config) { cfg.delay = d }
}

// WithToken requires consumers to present token. The value "true" mints a
// random one at export.
func WithToken(token string) Option {
	return func(cfg *config) { cfg.token = token }
}

// WithCluster selects the consumer's fault-tolerance policy.
func WithCluster(name string) Option {
	return WithParam(url.KeyCluster, name)
}

// WithLoadBalance selects the consumer's load balancer.
func WithLoadBalance(name string) Option {
	return WithParam(url.KeyLoadBalance, name)
}

// WithRetries sets the failover retry count.
func WithRetries(n int) Option {
	return WithParam(url.KeyRetries, strconv.Itoa(n))
}

// WithCheck controls whether registration failures surface or are retried
// in the background.
func WithCheck(check bool) Option {
	return WithParam(url.KeyCheck, strconv.FormatBool(check))
}

// WithGeneric enables the untyped invocation path on a reference.
func WithGeneric() Option {
	return WithParam(url.KeyGeneric, "true")
}

// WithTimeout bounds each call.
func WithTimeout(d time.Duration) Option {
	return WithParam(url.KeyTimeout, d.String())
}

// WithParam sets a raw URL parameter.
func WithParam(key, value string) Option {
	return func(cfg *config) { cfg.params[key] = value }
}

// WithMethodParam sets a parameter scoped to one method, overriding the
// service-level value for that method only.
func WithMethodParam(method, key, value string) Option {
	return func(cfg *config) {
		if cfg.methodParams[method] == nil {
			cfg.methodParams[method] = make(map[string]string)
		}
		cfg.methodParams[method][key] = value
	}
}

// WithExtensions swaps the extension registry; tests isolate themselves
// with a fresh one.
func WithExtensions(ext *extension.Registry) Option {
	return func(cfg *config) { cfg.ext = ext }
}

// WithLogger sets the logger; the default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(cfg *config) { cfg.logger = logger }
}

// baseParams renders the config's parameters onto a URL parameter map,
// method-scoped values under "method.key".
func (cfg *config) baseParams(iface, side string) map[string]string {
	params := map[string]string{
		url.KeyInterface: iface,
		url.KeySide:      side,
		url.KeyTimestamp: strconv.FormatInt(time.Now().UnixMilli(), 10),
	}
	if cfg.group != "" {
		params[url.KeyGroup] = cfg.group
	}
	if cfg.version != "" {
		params[url.KeyVersion] = cfg.version
	}
	if cfg.application != "" {
		params[url.KeyApplication] = cfg.application
	}
	for k, v := range cfg.params {
		params[k] = v
	}
	for method, mp := range cfg.methodParams {
		for k, v := range mp {
			params[method+"."+k] = v
		}
	}
	return params
}
