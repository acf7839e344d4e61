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

package zookeeper

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.uber.org/courier/url"
)

func TestNodePathLayout(t *testing.T) {
	b := &backend{root: "/courier"}
	p := url.New("courier", "10.0.0.1", 20880, "com.uber.Echo",
		url.WithParam(url.KeyInterface, "com.uber.Echo"),
		url.WithParam(url.KeyGroup, "blue"),
		url.WithParam(url.KeyVersion, "1.0.0"))

	path := b.nodePath(p)
	assert.Equal(t, "/courier/"+url.Encode("blue/com.uber.Echo:1.0.0")+"/providers/"+url.Encode(p.String()), path)
	assert.Equal(t, "/courier/"+url.Encode("blue/com.uber.Echo:1.0.0")+"/routers", b.categoryPath(p, url.CategoryRouters))
}

func TestDecodeChildren(t *testing.T) {
	p := url.New("courier", "10.0.0.1", 20880, "com.uber.Echo",
		url.WithParam(url.KeyInterface, "com.uber.Echo"))

	urls := decodeChildren([]string{
		url.Encode(p.String()),
		"%zz-not-an-escape",
	}, url.CategoryProviders)

	require.Len(t, urls, 1, "undecodable children are skipped")
	assert.Equal(t, "10.0.0.1:20880", urls[0].Address())
	assert.Equal(t, url.CategoryProviders, urls[0].Param(url.KeyCategory, ""))
}
