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

package courierconfig

import (
	"fmt"
	"net"
	"strconv"
	"time"

	"go.uber.org/courier"
	"go.uber.org/courier/url"
)

// NewService builds the named service over impl. The configuration entry's
// key doubles as the interface name unless the entry sets one. extra options
// apply after the configured ones, so code can override configuration.
func (c *Config) NewService(name string, impl interface{}, extra ...courier.Option) (*courier.Service, error) {
	sc, ok := c.Services[name]
	if !ok {
		return nil, fmt.Errorf("no service %q configured", name)
	}
	iface := sc.Interface
	if iface == "" {
		iface = name
	}

	opts, err := c.commonOptions(sc.Group, sc.Version, sc.Registries)
	if err != nil {
		return nil, fmt.Errorf("service %q: %v", name, err)
	}
	if sc.Protocol != "" {
		opts = append(opts, courier.WithProtocol(sc.Protocol))
	}
	if sc.Host != "" {
		opts = append(opts, courier.WithHost(sc.Host))
	}
	if sc.Port != 0 {
		opts = append(opts, courier.WithPort(sc.Port))
	}
	if sc.Scope != "" {
		opts = append(opts, courier.WithScope(sc.Scope))
	}
	if sc.Delay != 0 {
		opts = append(opts, courier.WithDelay(time.Duration(sc.Delay)))
	}
	if sc.Token != "" {
		opts = append(opts, courier.WithToken(sc.Token))
	}
	for k, v := range sc.Params {
		opts = append(opts, courier.WithParam(k, v))
	}
	for method, params := range sc.Methods {
		for k, v := range params {
			opts = append(opts, courier.WithMethodParam(method, k, v))
		}
	}
	opts = append(opts, extra...)
	return courier.NewService(iface, impl, opts...), nil
}

// NewReference builds the named reference.
func (c *Config) NewReference(name string, extra ...courier.Option) (*courier.Reference, error) {
	rc, ok := c.References[name]
	if !ok {
		return nil, fmt.Errorf("no reference %q configured", name)
	}
	iface := rc.Interface
	if iface == "" {
		iface = name
	}

	opts, err := c.commonOptions(rc.Group, rc.Version, rc.Registries)
	if err != nil {
		return nil, fmt.Errorf("reference %q: %v", name, err)
	}
	if rc.Cluster != "" {
		opts = append(opts, courier.WithCluster(rc.Cluster))
	}
	if rc.LoadBalance != "" {
		opts = append(opts, courier.WithLoadBalance(rc.LoadBalance))
	}
	if rc.Retries != nil {
		opts = append(opts, courier.WithRetries(*rc.Retries))
	}
	if rc.Check != nil {
		opts = append(opts, courier.WithCheck(*rc.Check))
	}
	if rc.Timeout != 0 {
		opts = append(opts, courier.WithTimeout(time.Duration(rc.Timeout)))
	}
	if rc.Generic {
		opts = append(opts, courier.WithGeneric())
	}
	if rc.Scope != "" {
		opts = append(opts, courier.WithScope(rc.Scope))
	}
	for _, raw := range rc.URLs {
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("reference %q: url %q: %v", name, raw, err)
		}
		opts = append(opts, courier.WithURL(u))
	}
	for k, v := range rc.Params {
		opts = append(opts, courier.WithParam(k, v))
	}
	opts = append(opts, extra...)
	return courier.NewReference(iface, opts...), nil
}

func (c *Config) commonOptions(group, version string, registries []string) ([]courier.Option, error) {
	var opts []courier.Option
	if c.Application != "" {
		opts = append(opts, courier.WithApplication(c.Application))
	}
	if group != "" {
		opts = append(opts, courier.WithGroup(group))
	}
	if version != "" {
		opts = append(opts, courier.WithVersion(version))
	}
	for _, regName := range registries {
		u, err := c.registryURL(regName)
		if err != nil {
			return nil, err
		}
		opts = append(opts, courier.WithRegistry(u))
	}
	return opts, nil
}

// registryURL renders a named registry entry into its backend URL.
func (c *Config) registryURL(name string) (*url.URL, error) {
	rc, ok := c.Registries[name]
	if !ok {
		return nil, fmt.Errorf("no registry %q configured", name)
	}
	if rc.Address == "" {
		return nil, fmt.Errorf("registry %q has no address", name)
	}

	protocol := rc.Protocol
	if protocol == "" {
		protocol = url.RegistryDefault
	}
	host, port := splitAddress(rc.Address)

	var opts []url.Option
	if rc.Group != "" {
		opts = append(opts, url.WithParam(url.KeyRegistryGroup, rc.Group))
	}
	if rc.Timeout != 0 {
		opts = append(opts, url.WithParam(url.KeySessionTimeout, time.Duration(rc.Timeout).String()))
	}
	for k, v := range rc.Params {
		opts = append(opts, url.WithParam(k, v))
	}
	return url.New(protocol, host, port, "", opts...), nil
}

func splitAddress(address string) (string, int) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return address, 0
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return address, 0
	}
	return host, port
}
