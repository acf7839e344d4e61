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

package codec

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.uber.org/courier/couriererrors"
	"go.uber.org/courier/exchange"
	"go.uber.org/courier/internal/buffer"
	"go.uber.org/courier/url"
)

func testURL(params ...url.Option) *url.URL {
	return url.New("courier", "127.0.0.1", 20880, "com.example.Hello", params...)
}

func encodeToWire(t *testing.T, c *Codec, msg interface{}) *buffer.Buffer {
	t.Helper()
	buf := buffer.NewDynamic(256)
	require.NoError(t, c.Encode(buf, msg))
	return buf
}

func TestRequestRoundTrip(t *testing.T) {
	c := New(testURL())
	req := &exchange.Request{
		ID:     7,
		TwoWay: true,
		Data: &RequestPayload{
			Path:            "com.example.Hello",
			Version:         "1.0",
			Method:          "greet",
			TypeDescriptors: []string{DescriptorString},
			Args:            []interface{}{"x"},
			Attachments:     map[string]string{"group": "g"},
		},
	}

	buf := encodeToWire(t, c, req)
	decoded, err := New(testURL()).Decode(buf)
	require.NoError(t, err)

	got, ok := decoded.(*exchange.Request)
	require.True(t, ok, "decoded %T", decoded)
	assert.Equal(t, int64(7), got.ID)
	assert.True(t, got.TwoWay)
	assert.False(t, got.Event)
	assert.False(t, got.Broken)

	payload := got.Data.(*RequestPayload)
	assert.Equal(t, ProtocolVersion, payload.FrameworkVersion)
	assert.Equal(t, "com.example.Hello", payload.Path)
	assert.Equal(t, "greet", payload.Method)
	assert.Equal(t, []string{DescriptorString}, payload.TypeDescriptors)
	assert.Equal(t, []interface{}{"x"}, payload.Args)
	assert.Equal(t, map[string]string{"group": "g"}, payload.Attachments)
}

func TestResponseRoundTrip(t *testing.T) {
	tests := []struct {
		msg  string
		give *ResponsePayload
	}{
		{
			msg:  "value",
			give: &ResponsePayload{Value: "hello x", Attachments: map[string]string{"elapsed": "3"}},
		},
		{
			msg:  "null value",
			give: &ResponsePayload{Attachments: map[string]string{}},
		},
		{
			msg:  "exception preserved verbatim",
			give: &ResponsePayload{Exception: "IllegalArgumentException: no", Attachments: map[string]string{}},
		},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			c := New(testURL())
			buf := encodeToWire(t, c, &exchange.Response{ID: 9, Status: exchange.StatusOK, Data: tt.give})

			decoded, err := New(testURL()).Decode(buf)
			require.NoError(t, err)
			got := decoded.(*exchange.Response)
			assert.Equal(t, int64(9), got.ID)
			require.True(t, got.OK(), "status %d: %s", got.Status, got.ErrorMsg)

			payload := got.Data.(*ResponsePayload)
			assert.Equal(t, tt.give.Exception, payload.Exception)
			assert.Equal(t, tt.give.Value, payload.Value)
		})
	}
}

func TestErrorStatusResponse(t *testing.T) {
	c := New(testURL())
	buf := encodeToWire(t, c, &exchange.Response{
		ID:       3,
		Status:   exchange.StatusServiceNotFound,
		ErrorMsg: "no such service",
	})

	decoded, err := New(testURL()).Decode(buf)
	require.NoError(t, err)
	got := decoded.(*exchange.Response)
	assert.Equal(t, exchange.StatusServiceNotFound, got.Status)
	assert.Equal(t, "no such service", got.ErrorMsg)
	assert.True(t, couriererrors.IsForbidden(got.StatusError()))
}

func TestHeartbeatRoundTrip(t *testing.T) {
	c := New(testURL())
	buf := encodeToWire(t, c, &exchange.Request{ID: 11, TwoWay: true, Event: true})

	decoded, err := New(testURL()).Decode(buf)
	require.NoError(t, err)
	got := decoded.(*exchange.Request)
	assert.True(t, got.Event)
	assert.Nil(t, got.Data)

	buf = encodeToWire(t, c, &exchange.Response{ID: 11, Status: exchange.StatusOK, Event: true})
	decoded, err = New(testURL()).Decode(buf)
	require.NoError(t, err)
	gotResp := decoded.(*exchange.Response)
	assert.True(t, gotResp.Event)
	assert.Equal(t, int64(11), gotResp.ID)
}

func TestPartialFrame(t *testing.T) {
	c := New(testURL())
	full := encodeToWire(t, c, &exchange.Request{ID: 1, TwoWay: true, Event: true})
	wire := append([]byte(nil), full.ReadableSlice()...)

	d := New(testURL())
	buf := buffer.NewDynamic(64)
	for i, b := range wire {
		require.NoError(t, buf.WriteByte(b))
		msg, err := d.Decode(buf)
		require.NoError(t, err)
		if i < len(wire)-1 {
			assert.Nil(t, msg, "frame complete too early at byte %d", i)
		} else {
			assert.NotNil(t, msg, "frame not complete after last byte")
		}
	}
}

func TestBadMagicIsFatal(t *testing.T) {
	d := New(testURL())
	buf := buffer.Wrap(make([]byte, HeaderLength))
	_, err := d.Decode(buf)
	assert.True(t, couriererrors.IsNetwork(err))
}

func TestOversizeBodyPoisonsFrameOnly(t *testing.T) {
	// Tiny payload limit on the reader; the writer uses the default.
	writer := New(testURL())
	first := encodeToWire(t, writer, &exchange.Request{
		ID:     21,
		TwoWay: true,
		Data: &RequestPayload{
			Path:            "com.example.Hello",
			Method:          "greet",
			TypeDescriptors: []string{DescriptorString},
			Args:            []interface{}{"a long enough argument to exceed a 16 byte limit"},
			Attachments:     map[string]string{},
		},
	})
	second := encodeToWire(t, writer, &exchange.Request{ID: 22, TwoWay: true, Event: true})

	reader := New(testURL(url.WithParam(url.KeyPayload, "16")))
	buf := buffer.NewDynamic(512)
	require.NoError(t, buf.WriteBytes(first.ReadableSlice()))
	require.NoError(t, buf.WriteBytes(second.ReadableSlice()))

	msg, err := reader.Decode(buf)
	require.NoError(t, err, "oversize must not kill the connection")
	broken := msg.(*exchange.Request)
	assert.True(t, broken.Broken)
	assert.Equal(t, int64(21), broken.ID)
	assert.True(t, couriererrors.IsSerialization(broken.Err))

	msg, err = reader.Decode(buf)
	require.NoError(t, err)
	next := msg.(*exchange.Request)
	assert.Equal(t, int64(22), next.ID, "following frame must decode cleanly")
	assert.False(t, next.Broken)
}

func TestIDWraparound(t *testing.T) {
	c := New(testURL())
	buf := encodeToWire(t, c, &exchange.Request{ID: -9223372036854775808, TwoWay: true, Event: true})
	decoded, err := New(testURL()).Decode(buf)
	require.NoError(t, err)
	assert.Equal(t, int64(-9223372036854775808), decoded.(*exchange.Request).ID)
}

func TestSplitDescriptors(t *testing.T) {
	tests := []struct {
		msg     string
		give    string
		want    []string
		wantErr bool
	}{
		{msg: "empty", give: "", want: nil},
		{msg: "single object", give: DescriptorString, want: []string{DescriptorString}},
		{
			msg:  "mixed",
			give: "Ljava/lang/String;I[JZ[Ljava/lang/Object;",
			want: []string{"Ljava/lang/String;", "I", "[J", "Z", "[Ljava/lang/Object;"},
		},
		{msg: "unterminated object", give: "Ljava/lang/String", wantErr: true},
		{msg: "dangling array", give: "[", wantErr: true},
		{msg: "unknown primitive", give: "Q", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			got, err := SplitDescriptors(tt.give)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDescriptorOf(t *testing.T) {
	assert.Equal(t, DescriptorString, DescriptorOf("s"))
	assert.Equal(t, DescriptorLong, DescriptorOf(7))
	assert.Equal(t, DescriptorBool, DescriptorOf(true))
	assert.Equal(t, DescriptorBytes, DescriptorOf([]byte{1}))
	assert.Equal(t, DescriptorMap, DescriptorOf(map[string]string{}))
	assert.Equal(t, DescriptorObject, DescriptorOf(struct{}{}))
}
