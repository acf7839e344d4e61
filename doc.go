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

// Package courier is an RPC framework with pluggable protocols, service
// discovery, and cluster fault-tolerance policies.
//
// A provider exports an implementation under a service interface name:
//
//	svc := courier.NewService("com.uber.Echo", &echoImpl{},
//		courier.WithRegistry(url.MustParse("zookeeper://zk1:2181")))
//	if err := svc.Export(); err != nil {
//		// ...
//	}
//	defer svc.Unexport()
//
// A consumer refers to the same interface and calls through a typed stub or
// the generic path:
//
//	ref := courier.NewReference("com.uber.Echo",
//		courier.WithRegistry(url.MustParse("zookeeper://zk1:2181")))
//	var client struct {
//		Echo func(ctx context.Context, msg string) (string, error)
//	}
//	if err := ref.Implement(&client); err != nil {
//		// ...
//	}
//	defer ref.Destroy()
//
// Every moving part — wire protocol, registry backend, cluster policy, load
// balancer, router, filter — is an extension resolved by name from URL
// parameters; see the extension package.
package courier
