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

package loadbalance

import (
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/courier/api/rpc"
	"go.uber.org/courier/cluster"
	"go.uber.org/courier/extension"
	"go.uber.org/courier/url"
)

// DefaultHashNodes is the virtual node count per provider on the hash ring.
const DefaultHashNodes = 160

func init() {
	p := extension.Default.Point(extension.PointLoadBalance, "random")
	p.MustRegister("consistenthash", func(*extension.Registry) (interface{}, error) {
		var lb cluster.LoadBalance = newConsistentHash()
		return lb, nil
	})
}

// consistentHash maps calls with the same hashed arguments to the same
// provider. Each provider claims hash.nodes virtual points on a ring; a
// provider change only remaps the keys that hashed to its points.
type consistentHash struct {
	mu    sync.Mutex
	rings map[string]*ring // service::method → ring
}

func newConsistentHash() *consistentHash {
	return &consistentHash{rings: make(map[string]*ring)}
}

func (c *consistentHash) Select(invokers []rpc.Invoker, consumer *url.URL, inv rpc.Invocation) rpc.Invoker {
	if len(invokers) == 0 {
		return nil
	}
	key := consumer.ServiceKey() + "::" + inv.MethodName()
	identity := ringIdentity(invokers)

	c.mu.Lock()
	r, ok := c.rings[key]
	if !ok || r.identity != identity {
		r = newRing(invokers, consumer, inv.MethodName(), identity)
		c.rings[key] = r
	}
	c.mu.Unlock()

	return r.pick(hashArguments(consumer, inv))
}

// ringIdentity changes whenever the candidate set changes, invalidating the
// cached ring.
func ringIdentity(invokers []rpc.Invoker) string {
	addresses := make([]string, len(invokers))
	for i, invoker := range invokers {
		addresses[i] = invoker.URL().Address()
	}
	sort.Strings(addresses)
	return strings.Join(addresses, ",")
}

type ring struct {
	identity string
	points   []uint32
	byPoint  map[uint32]rpc.Invoker
}

func newRing(invokers []rpc.Invoker, consumer *url.URL, method string, identity string) *ring {
	replicas := consumer.MethodParamInt(method, url.KeyHashNodes,
		consumer.ParamInt(url.KeyHashNodes, DefaultHashNodes))
	if replicas <= 0 {
		replicas = DefaultHashNodes
	}

	r := &ring{identity: identity, byPoint: make(map[uint32]rpc.Invoker)}
	for _, invoker := range invokers {
		address := invoker.URL().Address()
		for i := 0; i < replicas; i++ {
			point := hash(address + ":" + strconv.Itoa(i))
			if _, taken := r.byPoint[point]; taken {
				continue
			}
			r.byPoint[point] = invoker
			r.points = append(r.points, point)
		}
	}
	sort.Slice(r.points, func(i, j int) bool { return r.points[i] < r.points[j] })
	return r
}

// pick finds the first ring point at or after the key's hash, wrapping at
// the top.
func (r *ring) pick(key string) rpc.Invoker {
	if len(r.points) == 0 {
		return nil
	}
	h := hash(key)
	i := sort.Search(len(r.points), func(i int) bool { return r.points[i] >= h })
	if i == len(r.points) {
		i = 0
	}
	return r.byPoint[r.points[i]]
}

// hashArguments builds the ring key from the argument positions named by
// hash.arguments (default: the first argument).
func hashArguments(consumer *url.URL, inv rpc.Invocation) string {
	spec := consumer.MethodParam(inv.MethodName(), url.KeyHashArguments,
		consumer.Param(url.KeyHashArguments, "0"))
	args := inv.Arguments()

	var b strings.Builder
	for _, field := range strings.Split(spec, ",") {
		index, err := strconv.Atoi(strings.TrimSpace(field))
		if err != nil || index < 0 || index >= len(args) {
			continue
		}
		fmt.Fprintf(&b, "%v,", args[index])
	}
	return b.String()
}

func hash(s string) uint32 {
	sum := md5.Sum([]byte(s))
	return binary.BigEndian.Uint32(sum[:4])
}
