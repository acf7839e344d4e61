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

// Package url provides the universal descriptor carried through every layer
// of the framework: a structured address with a protocol, an endpoint, a
// path, and a parameter map.
//
// A URL is immutable. Mutating operations return a new URL; the textual form
// and the service key are computed once and cached.
package url

import (
	"fmt"
	neturl "net/url"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// URL is an immutable structured address.
//
// The zero value is not useful; construct with New or Parse.
type URL struct {
	protocol string
	username string
	password string
	host     string
	port     int
	path     string
	params   map[string]string

	full       string
	serviceKey string
	once       sync.Once
}

// Option configures a URL under construction.
type Option func(*URL)

// WithUsername sets the username.
func WithUsername(username string) Option {
	return func(u *URL) { u.username = username }
}

// WithPassword sets the password.
func WithPassword(password string) Option {
	return func(u *URL) { u.password = password }
}

// WithParams merges the given parameters into the URL under construction.
func WithParams(params map[string]string) Option {
	return func(u *URL) {
		for k, v := range params {
			u.params[k] = v
		}
	}
}

// WithParam sets a single parameter.
func WithParam(key, value string) Option {
	return func(u *URL) { u.params[key] = value }
}

// New builds a URL from its parts.
func New(protocol, host string, port int, path string, opts ...Option) *URL {
	u := &URL{
		protocol: protocol,
		host:     host,
		port:     port,
		path:     strings.TrimPrefix(path, "/"),
		params:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Parse parses the textual form
// scheme://[user[:pass]@]host[:port][/path][?k=v&...] into a URL.
func Parse(raw string) (*URL, error) {
	if raw == "" {
		return nil, fmt.Errorf("url: empty input")
	}
	parsed, err := neturl.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("url: malformed %q: %v", raw, err)
	}
	if parsed.Scheme == "" {
		return nil, fmt.Errorf("url: missing scheme in %q", raw)
	}

	port := 0
	if p := parsed.Port(); p != "" {
		port, err = strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("url: bad port in %q: %v", raw, err)
		}
	}

	u := New(parsed.Scheme, parsed.Hostname(), port, parsed.EscapedPath())
	if parsed.User != nil {
		u.username = parsed.User.Username()
		u.password, _ = parsed.User.Password()
	}
	query, err := neturl.ParseQuery(parsed.RawQuery)
	if err != nil {
		return nil, fmt.Errorf("url: bad query in %q: %v", raw, err)
	}
	for k, vs := range query {
		if len(vs) > 1 {
			return nil, fmt.Errorf("url: duplicate parameter %q in %q", k, raw)
		}
		u.params[k] = vs[0]
	}
	return u, nil
}

// MustParse parses raw and panics on error. Use for constants in tests and
// configuration defaults.
func MustParse(raw string) *URL {
	u, err := Parse(raw)
	if err != nil {
		panic(err)
	}
	return u
}

// Protocol returns the scheme.
func (u *URL) Protocol() string { return u.protocol }

// Username returns the username, or "".
func (u *URL) Username() string { return u.username }

// Password returns the password, or "".
func (u *URL) Password() string { return u.password }

// Host returns the host without the port.
func (u *URL) Host() string { return u.host }

// Port returns the port, or 0 if unset.
func (u *URL) Port() int { return u.port }

// Path returns the path without a leading slash.
func (u *URL) Path() string { return u.path }

// Address returns host:port, or just the host when the port is unset.
func (u *URL) Address() string {
	if u.port <= 0 {
		return u.host
	}
	return fmt.Sprintf("%s:%d", u.host, u.port)
}

// Param returns the value at key, or def when absent or empty.
func (u *URL) Param(key, def string) string {
	if v, ok := u.params[key]; ok && v != "" {
		return v
	}
	return def
}

// HasParam returns whether key is present, even if empty.
func (u *URL) HasParam(key string) bool {
	_, ok := u.params[key]
	return ok
}

// ParamInt returns the integer value at key, or def when absent or
// unparseable.
func (u *URL) ParamInt(key string, def int) int {
	v, ok := u.params[key]
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// ParamBool returns the boolean value at key, or def when absent or
// unparseable.
func (u *URL) ParamBool(key string, def bool) bool {
	v, ok := u.params[key]
	if !ok || v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

// ParamDuration interprets the integer value at key as milliseconds,
// returning def when absent or unparseable.
func (u *URL) ParamDuration(key string, def time.Duration) time.Duration {
	v, ok := u.params[key]
	if !ok || v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return time.Duration(n) * time.Millisecond
}

// MethodParam returns the parameter value at "<method>.<key>", falling back
// to the bare key, then to def. Method-level configuration overrides
// service-level configuration.
func (u *URL) MethodParam(method, key, def string) string {
	if v, ok := u.params[method+"."+key]; ok && v != "" {
		return v
	}
	return u.Param(key, def)
}

// MethodParamInt is MethodParam for integer values.
func (u *URL) MethodParamInt(method, key string, def int) int {
	if v, ok := u.params[method+"."+key]; ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return u.ParamInt(key, def)
}

// Params returns a copy of the parameter map.
func (u *URL) Params() map[string]string {
	out := make(map[string]string, len(u.params))
	for k, v := range u.params {
		out[k] = v
	}
	return out
}

// AddParam returns a new URL with key set to value.
func (u *URL) AddParam(key, value string) *URL {
	if v, ok := u.params[key]; ok && v == value {
		return u
	}
	return u.derive(func(n *URL) { n.params[key] = value })
}

// AddParams returns a new URL with all given parameters set.
func (u *URL) AddParams(params map[string]string) *URL {
	if len(params) == 0 {
		return u
	}
	return u.derive(func(n *URL) {
		for k, v := range params {
			n.params[k] = v
		}
	})
}

// AddParamIfAbsent returns a new URL with key set to value only if key is
// currently unset or empty.
func (u *URL) AddParamIfAbsent(key, value string) *URL {
	if v, ok := u.params[key]; ok && v != "" {
		return u
	}
	return u.AddParam(key, value)
}

// RemoveParam returns a new URL without key.
func (u *URL) RemoveParam(key string) *URL {
	if _, ok := u.params[key]; !ok {
		return u
	}
	return u.derive(func(n *URL) { delete(n.params, key) })
}

// WithProtocol returns a new URL with the given scheme.
func (u *URL) WithProtocol(protocol string) *URL {
	if u.protocol == protocol {
		return u
	}
	return u.derive(func(n *URL) { n.protocol = protocol })
}

// WithAddress returns a new URL pointing at host:port.
func (u *URL) WithAddress(host string, port int) *URL {
	return u.derive(func(n *URL) {
		n.host = host
		n.port = port
	})
}

// WithPath returns a new URL with the given path.
func (u *URL) WithPath(path string) *URL {
	return u.derive(func(n *URL) { n.path = strings.TrimPrefix(path, "/") })
}

func (u *URL) derive(mutate func(*URL)) *URL {
	n := &URL{
		protocol: u.protocol,
		username: u.username,
		password: u.password,
		host:     u.host,
		port:     u.port,
		path:     u.path,
		params:   make(map[string]string, len(u.params)+1),
	}
	for k, v := range u.params {
		n.params[k] = v
	}
	mutate(n)
	return n
}

// Interface returns the service interface name: the "interface" parameter
// when present, the path otherwise.
func (u *URL) Interface() string {
	return u.Param(KeyInterface, u.path)
}

// Group returns the service group, or "".
func (u *URL) Group() string { return u.Param(KeyGroup, "") }

// Version returns the service version, or "".
func (u *URL) Version() string { return u.Param(KeyVersion, "") }

// Category returns the registry category, defaulting to providers.
func (u *URL) Category() string { return u.Param(KeyCategory, CategoryProviders) }

// ServiceKey returns "[group/]interface[:version]", the addressing unit at
// the registry. Cached with the full string.
func (u *URL) ServiceKey() string {
	u.compute()
	return u.serviceKey
}

// String returns the cached full textual form, including every parameter in
// sorted key order.
func (u *URL) String() string {
	u.compute()
	return u.full
}

func (u *URL) compute() {
	u.once.Do(func() {
		u.serviceKey = BuildServiceKey(u.Interface(), u.Group(), u.Version())

		var b strings.Builder
		b.WriteString(u.protocol)
		b.WriteString("://")
		if u.username != "" {
			b.WriteString(neturl.QueryEscape(u.username))
			if u.password != "" {
				b.WriteByte(':')
				b.WriteString(neturl.QueryEscape(u.password))
			}
			b.WriteByte('@')
		}
		b.WriteString(u.Address())
		if u.path != "" {
			b.WriteByte('/')
			b.WriteString(u.path)
		}
		if len(u.params) > 0 {
			keys := make([]string, 0, len(u.params))
			for k := range u.params {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			sep := byte('?')
			for _, k := range keys {
				b.WriteByte(sep)
				sep = '&'
				b.WriteString(neturl.QueryEscape(k))
				b.WriteByte('=')
				b.WriteString(neturl.QueryEscape(u.params[k]))
			}
		}
		u.full = b.String()
	})
}

// Identity returns the canonical string form used for equality and map keys.
func (u *URL) Identity() string { return u.String() }

// Equal reports structural equality on every field and parameter.
func (u *URL) Equal(o *URL) bool {
	if u == o {
		return true
	}
	if u == nil || o == nil {
		return false
	}
	if u.protocol != o.protocol || u.username != o.username ||
		u.password != o.password || u.host != o.host ||
		u.port != o.port || u.path != o.path ||
		len(u.params) != len(o.params) {
		return false
	}
	for k, v := range u.params {
		if ov, ok := o.params[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// BuildServiceKey assembles "[group/]interface[:version]".
func BuildServiceKey(iface, group, version string) string {
	var b strings.Builder
	if group != "" {
		b.WriteString(group)
		b.WriteByte('/')
	}
	b.WriteString(iface)
	if version != "" {
		b.WriteByte(':')
		b.WriteString(version)
	}
	return b.String()
}

// Encode percent-escapes a full URL string so it can be embedded as a
// parameter value of another URL or as a registry node name.
func Encode(raw string) string { return neturl.QueryEscape(raw) }

// Decode reverses Encode.
func Decode(escaped string) (string, error) { return neturl.QueryUnescape(escaped) }
