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

// Package transport defines the endpoint abstractions the exchange layer
// runs on: servers and clients exchanging framed messages over channels,
// with a codec translating frames and a handler receiving channel events.
package transport

import (
	"time"

	"go.uber.org/courier/internal/buffer"
	"go.uber.org/courier/url"
)

// Channel is one live connection. Implementations are safe for concurrent
// sends.
type Channel interface {
	// URL returns the descriptor the channel was opened with.
	URL() *url.URL

	// LocalAddr returns the local endpoint as host:port.
	LocalAddr() string

	// RemoteAddr returns the remote endpoint as host:port.
	RemoteAddr() string

	// Send writes one message through the codec. Returns CodeNetwork on a
	// closed or failing connection.
	Send(msg interface{}) error

	// Close tears the connection down. Idempotent.
	Close()

	// IsClosed reports whether the channel is unusable.
	IsClosed() bool

	// LastRead returns the time of the last inbound frame.
	LastRead() time.Time

	// LastWrite returns the time of the last outbound frame.
	LastWrite() time.Time
}

// Handler receives channel events. Each method is a separate capability;
// the dispatcher decides which of them leave the I/O goroutine.
type Handler interface {
	// Connected fires once per established channel.
	Connected(ch Channel)

	// Disconnected fires once when the channel closes, however it closes.
	Disconnected(ch Channel)

	// Received fires for every decoded inbound message.
	Received(ch Channel, msg interface{})

	// Caught fires for transport or codec errors on the channel.
	Caught(ch Channel, err error)
}

// Codec translates between the byte stream and messages. One instance
// serves one channel; instances may keep per-connection decode state.
type Codec interface {
	// Encode appends the wire form of msg to buf.
	Encode(buf *buffer.Buffer, msg interface{}) error

	// Decode consumes at most one message from buf. A nil message with a
	// nil error means more bytes are needed. A non-nil error is fatal to
	// the connection.
	Decode(buf *buffer.Buffer) (interface{}, error)
}

// CodecFactory builds a codec for one channel of the given URL.
type CodecFactory func(u *url.URL) Codec

// Server accepts inbound channels.
type Server interface {
	// URL returns the bind descriptor.
	URL() *url.URL

	// IsBound reports whether the listener is accepting.
	IsBound() bool

	// Channels snapshots the live inbound channels.
	Channels() []Channel

	// Close stops accepting and closes every channel. Idempotent.
	Close()
}

// Client is an outbound channel that can re-establish itself.
type Client interface {
	Channel

	// Reconnect tears down the current connection and dials again.
	Reconnect() error
}

// Transport creates servers and clients.
type Transport interface {
	// Bind listens at the URL's address and serves inbound channels.
	Bind(u *url.URL, codec CodecFactory, handler Handler) (Server, error)

	// Connect dials the URL's address.
	Connect(u *url.URL, codec CodecFactory, handler Handler) (Client, error)
}
