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
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.uber.org/courier/url"
)

const document = `
application: greeting-app
registries:
  main:
    protocol: zookeeper
    address: zk1.example.com:2181
    group: blue
    timeout: 45s
    params:
      backup: zk2.example.com:2181
services:
  com.uber.Echo:
    group: blue
    version: 1.0.0
    port: 20881
    token: "true"
    registries: [main]
    methods:
      echo:
        retries: "0"
references:
  com.uber.Echo:
    cluster: failfast
    loadbalance: roundrobin
    retries: 1
    check: false
    timeout: 2s
    registries: [main]
  echo-direct:
    interface: com.uber.Echo
    urls:
      - courier://10.0.0.1:20880/com.uber.Echo
`

func TestFromYAML(t *testing.T) {
	cfg, err := FromYAML(strings.NewReader(document))
	require.NoError(t, err)

	assert.Equal(t, "greeting-app", cfg.Application)
	require.Contains(t, cfg.Registries, "main")
	assert.Equal(t, 45*time.Second, time.Duration(cfg.Registries["main"].Timeout))

	require.Contains(t, cfg.Services, "com.uber.Echo")
	assert.Equal(t, "0", cfg.Services["com.uber.Echo"].Methods["echo"]["retries"])

	ref := cfg.References["com.uber.Echo"]
	require.NotNil(t, ref.Retries)
	assert.Equal(t, 1, *ref.Retries)
	require.NotNil(t, ref.Check)
	assert.False(t, *ref.Check)
}

func TestFromYAMLRejectsGarbage(t *testing.T) {
	_, err := FromYAML(strings.NewReader(":\nnot yaml"))
	require.Error(t, err)

	_, err = FromYAML(strings.NewReader("registries: [not, a, map]"))
	require.Error(t, err)
}

func TestRegistryURL(t *testing.T) {
	cfg, err := FromYAML(strings.NewReader(document))
	require.NoError(t, err)

	u, err := cfg.registryURL("main")
	require.NoError(t, err)
	assert.Equal(t, "zookeeper", u.Protocol())
	assert.Equal(t, "zk1.example.com", u.Host())
	assert.Equal(t, 2181, u.Port())
	assert.Equal(t, "blue", u.Param(url.KeyRegistryGroup, ""))
	assert.Equal(t, "45s", u.Param(url.KeySessionTimeout, ""))
	assert.Equal(t, "zk2.example.com:2181", u.Param(url.KeyBackup, ""))

	_, err = cfg.registryURL("missing")
	require.Error(t, err)
}

func TestBuildersRejectUnknownNames(t *testing.T) {
	cfg, err := FromYAML(strings.NewReader(document))
	require.NoError(t, err)

	_, err = cfg.NewService("com.uber.Nope", struct{}{})
	require.Error(t, err)
	_, err = cfg.NewReference("nope")
	require.Error(t, err)
}

func TestBuildersRejectUnknownRegistry(t *testing.T) {
	cfg, err := FromYAML(strings.NewReader(`
services:
  com.uber.Echo:
    registries: [ghost]
`))
	require.NoError(t, err)
	_, err = cfg.NewService("com.uber.Echo", struct{}{})
	require.Error(t, err)
}

type echoImpl struct{}

func (echoImpl) Echo(msg string) (string, error) { return msg, nil }

type echoClient struct {
	Echo func(ctx context.Context, msg string) (string, error)
}

// round trip through local scope, overriding configured registries with code
func TestConfiguredServiceAndReference(t *testing.T) {
	cfg, err := FromYAML(strings.NewReader(`
application: greeting-app
services:
  com.uber.ConfigEcho:
    scope: local
references:
  com.uber.ConfigEcho:
    scope: local
`))
	require.NoError(t, err)

	svc, err := cfg.NewService("com.uber.ConfigEcho", echoImpl{})
	require.NoError(t, err)
	require.NoError(t, svc.Export())
	defer svc.Unexport()

	ref, err := cfg.NewReference("com.uber.ConfigEcho")
	require.NoError(t, err)
	defer ref.Destroy()

	var client echoClient
	require.NoError(t, ref.Implement(&client))
	out, err := client.Echo(context.Background(), "configured")
	require.NoError(t, err)
	assert.Equal(t, "configured", out)
}

func TestDurationDecode(t *testing.T) {
	cfg, err := FromMap(map[string]interface{}{
		"registries": map[string]interface{}{
			"a": map[string]interface{}{"address": "h:1", "timeout": "250ms"},
			"b": map[string]interface{}{"address": "h:1", "timeout": 1000000000},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 250*time.Millisecond, time.Duration(cfg.Registries["a"].Timeout))
	assert.Equal(t, time.Second, time.Duration(cfg.Registries["b"].Timeout))

	_, err = FromMap(map[string]interface{}{
		"registries": map[string]interface{}{
			"a": map[string]interface{}{"address": "h:1", "timeout": "soon"},
		},
	})
	require.Error(t, err)
}
