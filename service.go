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
	"crypto/rand"
	"encoding/hex"
	"os"
	"reflect"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"go.uber.org/courier/api/rpc"
	"go.uber.org/courier/couriererrors"
	"go.uber.org/courier/extension"
	"go.uber.org/courier/filter"
	"go.uber.org/courier/internal/netutil"
	"go.uber.org/courier/protocol/local"
	"go.uber.org/courier/proxy"
	"go.uber.org/courier/url"
)

// Environment overrides for address resolution. The *_TO_REGISTRY pair lets
// the advertised address differ from the bound one, as behind NAT.
const (
	EnvIPToBind       = "COURIER_IP_TO_BIND"
	EnvIPToRegistry   = "COURIER_IP_TO_REGISTRY"
	EnvPortToBind     = "COURIER_PORT_TO_BIND"
	EnvPortToRegistry = "COURIER_PORT_TO_REGISTRY"
)

// Service exports one implementation under a service interface name.
type Service struct {
	iface string
	impl  interface{}
	cfg   *config

	mu        sync.Mutex
	exported  bool
	timer     *time.Timer
	exporters []rpc.Exporter
	provider  *url.URL
}

// NewService prepares an export of impl as iface. Nothing happens until
// Export.
func NewService(iface string, impl interface{}, opts ...Option) *Service {
	return &Service{iface: iface, impl: impl, cfg: newConfig(opts)}
}

// Export publishes the service. With a delay configured the remote export
// happens in the background after the delay; errors are then logged rather
// than returned. Exporting twice is a no-op.
func (s *Service) Export() error {
	s.mu.Lock()
	if s.exported {
		s.mu.Unlock()
		return nil
	}
	s.exported = true
	if s.cfg.scope == url.ScopeNone {
		s.mu.Unlock()
		return nil
	}
	if s.cfg.delay > 0 {
		s.timer = time.AfterFunc(s.cfg.delay, func() {
			if err := s.export(); err != nil {
				s.cfg.logger.Error("delayed export failed",
					zap.String("interface", s.iface), zap.Error(err))
			}
		})
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()
	return s.export()
}

func (s *Service) export() error {
	provider, err := s.providerURL()
	if err != nil {
		return err
	}

	var exporters []rpc.Exporter
	rollback := func() {
		for _, exp := range exporters {
			exp.Unexport()
		}
	}

	if s.cfg.scope != url.ScopeRemote {
		exp, err := s.exportLocal(provider)
		if err != nil {
			return err
		}
		exporters = append(exporters, exp)
	}
	if s.cfg.scope != url.ScopeLocal {
		remote, err := s.exportRemote(provider)
		if err != nil {
			rollback()
			return err
		}
		exporters = append(exporters, remote...)
	}

	s.mu.Lock()
	s.exporters = exporters
	s.provider = provider
	s.mu.Unlock()
	s.cfg.logger.Info("service exported",
		zap.String("interface", s.iface),
		zap.String("address", provider.Address()),
		zap.String("scope", s.cfg.scope))
	return nil
}

func (s *Service) exportLocal(provider *url.URL) (rpc.Exporter, error) {
	localURL := provider.WithProtocol(local.Name)
	proto, err := protocolFor(s.cfg.ext, local.Name)
	if err != nil {
		return nil, err
	}
	chained, err := filter.BuildChain(
		proxy.NewInvoker(s.impl, localURL), localURL, s.cfg.ext, url.SideProvider)
	if err != nil {
		return nil, err
	}
	return proto.Export(chained)
}

func (s *Service) exportRemote(provider *url.URL) ([]rpc.Exporter, error) {
	// without a registry the service is reachable but undiscoverable
	if len(s.cfg.registries) == 0 {
		proto, err := protocolFor(s.cfg.ext, provider.Protocol())
		if err != nil {
			return nil, err
		}
		chained, err := filter.BuildChain(
			proxy.NewInvoker(s.impl, provider), provider, s.cfg.ext, url.SideProvider)
		if err != nil {
			return nil, err
		}
		exp, err := proto.Export(chained)
		if err != nil {
			return nil, err
		}
		return []rpc.Exporter{exp}, nil
	}

	regProto, err := protocolFor(s.cfg.ext, url.ProtocolRegistry)
	if err != nil {
		return nil, err
	}
	var exporters []rpc.Exporter
	for _, reg := range s.cfg.registries {
		regURL := registryURL(reg, s.iface, url.KeyExport, provider.String())
		exp, err := regProto.Export(proxy.NewInvoker(s.impl, regURL))
		if err != nil {
			for _, done := range exporters {
				done.Unexport()
			}
			return nil, err
		}
		exporters = append(exporters, exp)
	}
	return exporters, nil
}

// Unexport withdraws the service everywhere it was exported and cancels a
// pending delayed export.
func (s *Service) Unexport() {
	s.mu.Lock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	exporters := s.exporters
	s.exporters = nil
	s.exported = false
	s.provider = nil
	s.mu.Unlock()

	for _, exp := range exporters {
		exp.Unexport()
	}
}

// URL returns the provider URL, or nil before Export completes.
func (s *Service) URL() *url.URL {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.provider
}

// providerURL builds the URL the service advertises: protocol, resolved
// address, and the merged parameters.
func (s *Service) providerURL() (*url.URL, error) {
	protoName := s.cfg.protocol
	if protoName == "" {
		protoName = url.ProtocolDefault
	}
	proto, err := protocolFor(s.cfg.ext, protoName)
	if err != nil {
		return nil, err
	}
	host := registerHost(s.cfg)
	port, err := registerPort(s.cfg, proto.DefaultPort())
	if err != nil {
		return nil, err
	}

	params := s.cfg.baseParams(s.iface, url.SideProvider)
	if methods := methodNames(s.impl); methods != "" {
		params[url.KeyMethods] = methods
	}
	if s.cfg.token != "" {
		params[url.KeyToken] = mintToken(s.cfg.token)
	}
	return url.New(protoName, host, port, s.iface, url.WithParams(params)), nil
}

// registerHost resolves the advertised host:
// COURIER_IP_TO_REGISTRY, then the bind ladder.
func registerHost(cfg *config) string {
	if h := os.Getenv(EnvIPToRegistry); netutil.IsValidHost(h) {
		return h
	}
	return bindHost(cfg)
}

// bindHost walks COURIER_IP_TO_BIND, the configured host, the detected
// non-loopback address, a socket probe toward each registry, and finally
// loopback.
func bindHost(cfg *config) string {
	if h := os.Getenv(EnvIPToBind); netutil.IsValidHost(h) {
		return h
	}
	if netutil.IsValidHost(cfg.host) {
		return cfg.host
	}
	if h := netutil.LocalIP(); h != "" {
		return h
	}
	for _, reg := range cfg.registries {
		if h := netutil.ProbeIP(reg.Address(), time.Second); netutil.IsValidHost(h) {
			return h
		}
	}
	return netutil.Loopback
}

// registerPort resolves the port: environment, configuration, the
// protocol's default, then a random free one.
func registerPort(cfg *config, protocolDefault int) (int, error) {
	for _, env := range []string{EnvPortToRegistry, EnvPortToBind} {
		if p, err := strconv.Atoi(os.Getenv(env)); err == nil && p > 0 {
			return p, nil
		}
	}
	if cfg.port > 0 {
		return cfg.port, nil
	}
	if protocolDefault > 0 {
		return protocolDefault, nil
	}
	return netutil.FreePort()
}

// registryURL rewrites a backend URL into a registry:// URL carrying the
// embedded provider or consumer URL.
func registryURL(reg *url.URL, iface, key, embedded string) *url.URL {
	return url.New(url.ProtocolRegistry, reg.Host(), reg.Port(), iface,
		url.WithParams(reg.Params()),
		url.WithParam(url.KeyRegistry, reg.Protocol()),
		url.WithParam(key, url.Encode(embedded)))
}

func protocolFor(ext *extension.Registry, name string) (rpc.Protocol, error) {
	v, err := ext.Point(extension.PointProtocol, url.ProtocolDefault).Get(name)
	if err != nil {
		return nil, err
	}
	proto, ok := v.(rpc.Protocol)
	if !ok {
		return nil, couriererrors.InternalErrorf("extension %q is %T, not a protocol", name, v)
	}
	return proto, nil
}

// methodNames lists the wire names of impl's exported methods.
func methodNames(impl interface{}) string {
	t := reflect.TypeOf(impl)
	if t == nil {
		return ""
	}
	names := make([]string, 0, t.NumMethod())
	for i := 0; i < t.NumMethod(); i++ {
		r, size := utf8.DecodeRuneInString(t.Method(i).Name)
		names = append(names, string(unicode.ToLower(r))+t.Method(i).Name[size:])
	}
	return strings.Join(names, ",")
}

// mintToken passes a literal token through and replaces "true" with a
// random one.
func mintToken(token string) string {
	if token != "true" {
		return token
	}
	raw := make([]byte, 16)
	if _, err := rand.Read(raw); err != nil {
		return token
	}
	return hex.EncodeToString(raw)
}
