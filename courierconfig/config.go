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

// Package courierconfig builds Services and References from YAML.
//
// A configuration names registries once and wires services and references
// to them by name:
//
//	application: greeting-app
//	registries:
//	  main:
//	    protocol: zookeeper
//	    address: zk1:2181
//	services:
//	  com.uber.Echo:
//	    registries: [main]
//	references:
//	  com.uber.Echo:
//	    registries: [main]
//	    cluster: failover
package courierconfig

import (
	"fmt"
	"io"
	"io/ioutil"
	"time"

	"github.com/uber-go/mapdecode"
	"gopkg.in/yaml.v2"
)

const _tagName = "config"

// Config is a decoded configuration document.
type Config struct {
	Application string               `config:"application"`
	Registries  map[string]Registry  `config:"registries"`
	Services    map[string]Service   `config:"services"`
	References  map[string]Reference `config:"references"`
}

// Registry describes one discovery backend.
type Registry struct {
	Protocol string            `config:"protocol"`
	Address  string            `config:"address"`
	Group    string            `config:"group"`
	Timeout  duration          `config:"timeout"`
	Params   map[string]string `config:"params"`
}

// Service describes one export.
type Service struct {
	Interface  string                       `config:"interface"`
	Group      string                       `config:"group"`
	Version    string                       `config:"version"`
	Protocol   string                       `config:"protocol"`
	Host       string                       `config:"host"`
	Port       int                          `config:"port"`
	Scope      string                       `config:"scope"`
	Delay      duration                     `config:"delay"`
	Token      string                       `config:"token"`
	Registries []string                     `config:"registries"`
	Params     map[string]string            `config:"params"`
	Methods    map[string]map[string]string `config:"methods"`
}

// Reference describes one consumer-side handle.
type Reference struct {
	Interface   string            `config:"interface"`
	Group       string            `config:"group"`
	Version     string            `config:"version"`
	Cluster     string            `config:"cluster"`
	LoadBalance string            `config:"loadbalance"`
	Retries     *int              `config:"retries"`
	Check       *bool             `config:"check"`
	Timeout     duration          `config:"timeout"`
	Generic     bool              `config:"generic"`
	Scope       string            `config:"scope"`
	Registries  []string          `config:"registries"`
	URLs        []string          `config:"urls"`
	Params      map[string]string `config:"params"`
}

// FromYAML reads and decodes a configuration document.
func FromYAML(r io.Reader) (*Config, error) {
	b, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var data map[string]interface{}
	if err := yaml.Unmarshal(b, &data); err != nil {
		return nil, fmt.Errorf("parse configuration: %v", err)
	}
	return FromMap(data)
}

// FromMap decodes a configuration from an already-parsed
// map[string]interface{} or map[interface{}]interface{}.
func FromMap(data interface{}) (*Config, error) {
	var cfg Config
	if err := mapdecode.Decode(&cfg, data, mapdecode.TagName(_tagName)); err != nil {
		return nil, fmt.Errorf("decode configuration: %v", err)
	}
	return &cfg, nil
}

// duration decodes either a YAML duration string ("30s") or a bare number
// of nanoseconds. mapdecode has no TextUnmarshaler support, so we decode by
// hand.
type duration time.Duration

func (d *duration) Decode(into mapdecode.Into) error {
	var s string
	if err := into(&s); err == nil {
		parsed, err := time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %v", s, err)
		}
		*d = duration(parsed)
		return nil
	}
	var n int64
	if err := into(&n); err != nil {
		return err
	}
	*d = duration(n)
	return nil
}
