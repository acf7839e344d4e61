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
	"go.uber.org/atomic"
	"go.uber.org/zap"

	"go.uber.org/courier/api/rpc"
	"go.uber.org/courier/extension"
	regprotocol "go.uber.org/courier/registry/protocol"
	"go.uber.org/courier/url"
)

// ShutdownHook tears a process down in dependency order: registries first,
// so discovery stops routing new traffic here, then the wire protocols,
// which drain their servers. Shutdown runs at most once per hook; tests use
// a fresh hook over a fresh extension registry.
type ShutdownHook struct {
	ext    *extension.Registry
	logger *zap.Logger
	done   atomic.Bool
}

// NewShutdownHook builds a hook over ext; nil means the process defaults.
func NewShutdownHook(ext *extension.Registry, logger *zap.Logger) *ShutdownHook {
	if ext == nil {
		ext = extension.Default
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ShutdownHook{ext: ext, logger: logger}
}

// Shutdown destroys every protocol instance the process constructed.
// Subsequent calls are no-ops.
func (h *ShutdownHook) Shutdown() {
	if !h.done.CompareAndSwap(false, true) {
		return
	}
	instances := h.ext.Point(extension.PointProtocol, url.ProtocolDefault).Instances()

	for _, inst := range instances {
		if rp, ok := inst.(*regprotocol.Protocol); ok {
			rp.Destroy()
		}
	}
	for _, inst := range instances {
		if _, isRegistry := inst.(*regprotocol.Protocol); isRegistry {
			continue
		}
		if proto, ok := inst.(rpc.Protocol); ok {
			proto.Destroy()
		}
	}
	h.logger.Info("shutdown complete")
}
