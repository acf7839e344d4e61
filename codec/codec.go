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

// Package codec implements the binary wire protocol: a fixed 16-byte header
// followed by a serialized body.
//
//	offset 0  2 bytes  magic 0xDABB
//	offset 2  1 byte   flags: bit7 request, bit6 two-way, bit5 event,
//	                   bits 4-0 serialization id
//	offset 3  1 byte   status (responses only)
//	offset 4  8 bytes  request id, big-endian
//	offset 12 4 bytes  body length, big-endian
//
// A body longer than the payload limit poisons only that frame: the codec
// swallows the bytes and surfaces a broken message, the connection lives.
package codec

import (
	"go.uber.org/courier/couriererrors"
	"go.uber.org/courier/exchange"
	"go.uber.org/courier/internal/buffer"
	"go.uber.org/courier/serialize"
	"go.uber.org/courier/url"
)

// Magic identifies courier frames on the wire.
const Magic uint16 = 0xDABB

// Header layout.
const (
	HeaderLength = 16

	flagRequest byte = 0x80
	flagTwoWay  byte = 0x40
	flagEvent   byte = 0x20

	serializationMask byte = 0x1F
)

// Response body variants.
const (
	responseException                byte = 0
	responseValue                    byte = 1
	responseNullValue                byte = 2
	responseExceptionWithAttachments byte = 3
	responseValueWithAttachments     byte = 4
	responseNullWithAttachments      byte = 5
)

// DefaultPayloadLimit bounds body length at 8 MiB unless the URL overrides
// it with the payload parameter.
const DefaultPayloadLimit = 8 * 1024 * 1024

// ProtocolVersion travels in every request body.
const ProtocolVersion = "1.0.0"

// RequestPayload is the decoded body of a two-way request.
type RequestPayload struct {
	FrameworkVersion string
	Path             string
	Version          string
	Method           string
	TypeDescriptors  []string
	Args             []interface{}
	Attachments      map[string]string
}

// ResponsePayload is the decoded body of a successful response.
type ResponsePayload struct {
	// Exception carries the remote error payload verbatim; empty means
	// success.
	Exception   string
	Value       interface{}
	Attachments map[string]string
}

// Codec frames and deframes exchange messages for one channel.
type Codec struct {
	serialization serialize.Serialization
	payloadLimit  int

	// Oversize skip state: bytes of the current frame still to discard,
	// and the broken message to surface once they are gone.
	skipRemaining int
	skipped       interface{}
}

// New returns a codec for one channel of u. The URL picks the
// serialization (default hessian2) and the payload limit.
func New(u *url.URL) *Codec {
	name := u.Param(url.KeySerialization, serialize.DefaultName)
	s, err := serialize.ByName(name)
	if err != nil {
		// Unknown names fall back to the default rather than killing the
		// connection; the sender's id still rules on decode.
		s, _ = serialize.ByName(serialize.DefaultName)
	}
	return &Codec{
		serialization: s,
		payloadLimit:  u.ParamInt(url.KeyPayload, DefaultPayloadLimit),
	}
}

// Serialization returns the codec's outbound serialization.
func (c *Codec) Serialization() serialize.Serialization { return c.serialization }

// Encode appends one frame for msg, which must be an *exchange.Request or
// *exchange.Response.
func (c *Codec) Encode(buf *buffer.Buffer, msg interface{}) error {
	switch m := msg.(type) {
	case *exchange.Request:
		return c.encodeRequest(buf, m)
	case *exchange.Response:
		return c.encodeResponse(buf, m)
	default:
		return couriererrors.InternalErrorf("codec cannot encode %T", msg)
	}
}

func (c *Codec) encodeRequest(buf *buffer.Buffer, req *exchange.Request) error {
	s := c.serialization
	out := s.NewOutput()

	if req.Event {
		if err := out.WriteObject(nil); err != nil {
			return err
		}
	} else {
		payload, ok := req.Data.(*RequestPayload)
		if !ok {
			return couriererrors.InternalErrorf("request %d body is %T, want *RequestPayload", req.ID, req.Data)
		}
		for _, v := range []interface{}{
			ProtocolVersion, payload.Path, payload.Version, payload.Method,
			JoinDescriptors(payload.TypeDescriptors),
		} {
			if err := out.WriteObject(v); err != nil {
				return err
			}
		}
		for _, arg := range payload.Args {
			if err := out.WriteObject(arg); err != nil {
				return err
			}
		}
		if err := out.WriteObject(payload.Attachments); err != nil {
			return err
		}
	}

	flags := flagRequest | (s.ID() & serializationMask)
	if req.TwoWay {
		flags |= flagTwoWay
	}
	if req.Event {
		flags |= flagEvent
	}
	return c.writeFrame(buf, flags, 0, req.ID, out.Bytes())
}

func (c *Codec) encodeResponse(buf *buffer.Buffer, resp *exchange.Response) error {
	s := c.serialization
	out := s.NewOutput()

	switch {
	case resp.Event:
		if err := out.WriteObject(nil); err != nil {
			return err
		}
	case resp.Status != exchange.StatusOK:
		if err := out.WriteObject(resp.ErrorMsg); err != nil {
			return err
		}
	default:
		payload, ok := resp.Data.(*ResponsePayload)
		if !ok {
			return couriererrors.InternalErrorf("response %d body is %T, want *ResponsePayload", resp.ID, resp.Data)
		}
		var variant byte
		switch {
		case payload.Exception != "":
			variant = responseExceptionWithAttachments
		case payload.Value == nil:
			variant = responseNullWithAttachments
		default:
			variant = responseValueWithAttachments
		}
		if err := out.WriteObject(int32(variant)); err != nil {
			return err
		}
		if variant == responseExceptionWithAttachments {
			if err := out.WriteObject(payload.Exception); err != nil {
				return err
			}
		} else if variant == responseValueWithAttachments {
			if err := out.WriteObject(payload.Value); err != nil {
				return err
			}
		}
		if err := out.WriteObject(payload.Attachments); err != nil {
			return err
		}
	}

	flags := s.ID() & serializationMask
	if resp.Event {
		flags |= flagEvent
	}
	status := resp.Status
	if status == 0 {
		status = exchange.StatusOK
	}
	return c.writeFrame(buf, flags, status, resp.ID, out.Bytes())
}

func (c *Codec) writeFrame(buf *buffer.Buffer, flags, status byte, id int64, body []byte) error {
	if len(body) > c.payloadLimit {
		return couriererrors.SerializationErrorf(
			"frame body %d bytes exceeds payload limit %d", len(body), c.payloadLimit)
	}
	if err := buf.WriteUint16(Magic); err != nil {
		return err
	}
	if err := buf.WriteByte(flags); err != nil {
		return err
	}
	if err := buf.WriteByte(status); err != nil {
		return err
	}
	if err := buf.WriteUint64(uint64(id)); err != nil {
		return err
	}
	if err := buf.WriteUint32(uint32(len(body))); err != nil {
		return err
	}
	return buf.WriteBytes(body)
}

// Decode consumes at most one frame. A (nil, nil) return means the buffer
// does not yet hold a full frame. A non-nil error means the stream is not
// speaking this protocol and the connection must close.
func (c *Codec) Decode(buf *buffer.Buffer) (interface{}, error) {
	if c.skipRemaining > 0 {
		n := c.skipRemaining
		if r := buf.Readable(); r < n {
			n = r
		}
		if err := buf.Skip(n); err != nil {
			return nil, err
		}
		c.skipRemaining -= n
		if c.skipRemaining > 0 {
			return nil, nil
		}
		msg := c.skipped
		c.skipped = nil
		return msg, nil
	}

	if buf.Readable() < HeaderLength {
		return nil, nil
	}
	header, err := buf.PeekBytes(HeaderLength)
	if err != nil {
		return nil, err
	}
	if uint16(header[0])<<8|uint16(header[1]) != Magic {
		return nil, couriererrors.NetworkErrorf(
			"bad magic 0x%02X%02X: peer is not speaking the courier protocol", header[0], header[1])
	}

	flags := header[2]
	status := header[3]
	id := int64(uint64(header[4])<<56 | uint64(header[5])<<48 | uint64(header[6])<<40 |
		uint64(header[7])<<32 | uint64(header[8])<<24 | uint64(header[9])<<16 |
		uint64(header[10])<<8 | uint64(header[11]))
	bodyLen := int(uint32(header[12])<<24 | uint32(header[13])<<16 |
		uint32(header[14])<<8 | uint32(header[15]))

	if bodyLen > c.payloadLimit {
		// Consume the header now and swallow the body as it streams in.
		if err := buf.Skip(HeaderLength); err != nil {
			return nil, err
		}
		c.skipRemaining = bodyLen
		c.skipped = c.brokenMessage(flags, id, couriererrors.SerializationErrorf(
			"frame body %d bytes exceeds payload limit %d", bodyLen, c.payloadLimit))
		return c.Decode(buf)
	}

	if buf.Readable() < HeaderLength+bodyLen {
		return nil, nil
	}
	if err := buf.Skip(HeaderLength); err != nil {
		return nil, err
	}
	body, err := buf.ReadBytes(bodyLen)
	if err != nil {
		return nil, err
	}

	s, serr := serialize.ByID(flags & serializationMask)
	if serr != nil {
		return c.brokenMessage(flags, id, serr), nil
	}

	if flags&flagRequest != 0 {
		return c.decodeRequest(flags, id, s, body), nil
	}
	return c.decodeResponse(flags, status, id, s, body), nil
}

func (c *Codec) brokenMessage(flags byte, id int64, err error) interface{} {
	if flags&flagRequest != 0 {
		return &exchange.Request{
			ID:              id,
			TwoWay:          flags&flagTwoWay != 0,
			Event:           flags&flagEvent != 0,
			SerializationID: flags & serializationMask,
			Broken:          true,
			Err:             err,
		}
	}
	return &exchange.Response{
		ID:              id,
		Status:          exchange.StatusBadResponse,
		Event:           flags&flagEvent != 0,
		SerializationID: flags & serializationMask,
		ErrorMsg:        err.Error(),
	}
}

func (c *Codec) decodeRequest(flags byte, id int64, s serialize.Serialization, body []byte) *exchange.Request {
	req := &exchange.Request{
		ID:              id,
		TwoWay:          flags&flagTwoWay != 0,
		Event:           flags&flagEvent != 0,
		SerializationID: s.ID(),
	}
	if req.Event {
		return req
	}

	in := s.NewInput(body)
	payload := &RequestPayload{}
	var err error
	if payload.FrameworkVersion, err = in.ReadString(); err == nil {
		if payload.Path, err = in.ReadString(); err == nil {
			if payload.Version, err = in.ReadString(); err == nil {
				payload.Method, err = in.ReadString()
			}
		}
	}
	if err != nil {
		req.Broken, req.Err = true, err
		return req
	}

	descriptor, err := in.ReadString()
	if err != nil {
		req.Broken, req.Err = true, err
		return req
	}
	payload.TypeDescriptors, err = SplitDescriptors(descriptor)
	if err != nil {
		req.Broken, req.Err = true, err
		return req
	}

	payload.Args = make([]interface{}, len(payload.TypeDescriptors))
	for i := range payload.Args {
		if payload.Args[i], err = in.ReadObject(); err != nil {
			req.Broken, req.Err = true, err
			return req
		}
	}
	if payload.Attachments, err = in.ReadAttachments(); err != nil {
		req.Broken, req.Err = true, err
		return req
	}
	req.Data = payload
	return req
}

func (c *Codec) decodeResponse(flags, status byte, id int64, s serialize.Serialization, body []byte) *exchange.Response {
	resp := &exchange.Response{
		ID:              id,
		Status:          status,
		Event:           flags&flagEvent != 0,
		SerializationID: s.ID(),
	}
	if resp.Event {
		return resp
	}

	in := s.NewInput(body)
	if status != exchange.StatusOK {
		msg, err := in.ReadString()
		if err != nil {
			resp.Status = exchange.StatusBadResponse
			resp.ErrorMsg = err.Error()
			return resp
		}
		resp.ErrorMsg = msg
		return resp
	}

	variantValue, err := in.ReadObject()
	if err != nil {
		resp.Status = exchange.StatusBadResponse
		resp.ErrorMsg = err.Error()
		return resp
	}
	variant, ok := asByte(variantValue)
	if !ok {
		resp.Status = exchange.StatusBadResponse
		resp.ErrorMsg = couriererrors.SerializationErrorf("bad response variant %v", variantValue).Error()
		return resp
	}

	payload := &ResponsePayload{}
	switch variant {
	case responseNullValue, responseNullWithAttachments:
	case responseValue, responseValueWithAttachments:
		if payload.Value, err = in.ReadObject(); err != nil {
			resp.Status = exchange.StatusBadResponse
			resp.ErrorMsg = err.Error()
			return resp
		}
	case responseException, responseExceptionWithAttachments:
		if payload.Exception, err = in.ReadString(); err != nil {
			resp.Status = exchange.StatusBadResponse
			resp.ErrorMsg = err.Error()
			return resp
		}
	default:
		resp.Status = exchange.StatusBadResponse
		resp.ErrorMsg = couriererrors.SerializationErrorf("bad response variant %d", variant).Error()
		return resp
	}
	if variant >= responseExceptionWithAttachments {
		if payload.Attachments, err = in.ReadAttachments(); err != nil {
			resp.Status = exchange.StatusBadResponse
			resp.ErrorMsg = err.Error()
			return resp
		}
	}
	resp.Data = payload
	return resp
}

func asByte(v interface{}) (byte, bool) {
	switch n := v.(type) {
	case int8:
		return byte(n), true
	case int32:
		return byte(n), true
	case int64:
		return byte(n), true
	case int:
		return byte(n), true
	case float64:
		return byte(int(n)), true
	default:
		return 0, false
	}
}
