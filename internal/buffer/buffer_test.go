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

package buffer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// checkInvariant asserts 0 <= readerIndex <= writerIndex <= capacity.
func checkInvariant(t *testing.T, b *Buffer) {
	t.Helper()
	assert.True(t, 0 <= b.ReaderIndex(), "readerIndex negative")
	assert.True(t, b.ReaderIndex() <= b.WriterIndex(), "readerIndex > writerIndex")
	assert.True(t, b.WriterIndex() <= b.Capacity(), "writerIndex > capacity")
}

func TestReadWrite(t *testing.T) {
	b := NewDynamic(4)
	require.NoError(t, b.WriteBytes([]byte{1, 2, 3}))
	require.NoError(t, b.WriteUint16(0xDABB))
	checkInvariant(t, b)

	got, err := b.ReadBytes(3)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, got)

	magic, err := b.ReadUint16()
	require.NoError(t, err)
	assert.Equal(t, uint16(0xDABB), magic)
	assert.Equal(t, 0, b.Readable())
	checkInvariant(t, b)
}

func TestDynamicGrowth(t *testing.T) {
	b := NewDynamic(2)
	payload := make([]byte, 1000)
	for i := range payload {
		payload[i] = byte(i)
	}
	require.NoError(t, b.WriteBytes(payload))
	checkInvariant(t, b)

	got, err := b.ReadBytes(1000)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestFixedOutOfBounds(t *testing.T) {
	b := NewFixed(4)
	require.NoError(t, b.WriteUint32(7))
	assert.ErrorIs(t, b.WriteByte(1), ErrOutOfBounds)

	_, err := b.ReadBytes(5)
	assert.ErrorIs(t, err, ErrOutOfBounds)
	assert.ErrorIs(t, b.Skip(5), ErrOutOfBounds)
	checkInvariant(t, b)
}

func TestDiscardReadBytesPreservesReadable(t *testing.T) {
	b := NewDynamic(16)
	require.NoError(t, b.WriteBytes([]byte{0, 1, 2, 3, 4, 5, 6, 7}))
	require.NoError(t, b.Skip(3))

	before := append([]byte(nil), b.ReadableSlice()...)
	b.DiscardReadBytes()
	checkInvariant(t, b)

	assert.Equal(t, 0, b.ReaderIndex())
	assert.Equal(t, len(before), b.Readable())
	assert.Equal(t, before, b.ReadableSlice(), "discard must preserve readable bytes bitwise")
}

func TestClearKeepsContent(t *testing.T) {
	b := NewDynamic(8)
	require.NoError(t, b.WriteBytes([]byte{9, 8, 7}))
	b.Clear()
	assert.Equal(t, 0, b.ReaderIndex())
	assert.Equal(t, 0, b.WriterIndex())

	c, err := b.GetByte(0)
	assert.ErrorIs(t, err, ErrOutOfBounds, "content beyond writerIndex is unreadable")
	_ = c
}

func TestMarkReset(t *testing.T) {
	b := Wrap([]byte{1, 2, 3, 4})
	b.MarkReader()
	_, err := b.ReadBytes(2)
	require.NoError(t, err)
	require.NoError(t, b.ResetReader())
	assert.Equal(t, 4, b.Readable())

	got, err := b.ReadBytes(4)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3, 4}, got)
}

func TestResetReaderPastWriterRejected(t *testing.T) {
	b := NewDynamic(16)
	require.NoError(t, b.WriteBytes([]byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}))
	require.NoError(t, b.Skip(5))
	b.MarkReader()

	b.Clear()
	assert.ErrorIs(t, b.ResetReader(), ErrOutOfBounds)
	checkInvariant(t, b)
	assert.Empty(t, b.ReadableSlice())
}

func TestMarkResetAfterDiscard(t *testing.T) {
	b := NewDynamic(16)
	require.NoError(t, b.WriteBytes([]byte{0, 1, 2, 3, 4, 5, 6, 7}))
	require.NoError(t, b.Skip(3))
	b.MarkReader()
	require.NoError(t, b.Skip(2))

	// Discard shifts both indices and the mark by the read offset.
	b.DiscardReadBytes()
	require.NoError(t, b.ResetReader())
	checkInvariant(t, b)
	got, err := b.ReadBytes(b.Readable())
	require.NoError(t, err)
	assert.Equal(t, []byte{5, 6, 7}, got)
}

func TestMarkWriterReset(t *testing.T) {
	b := NewDynamic(8)
	require.NoError(t, b.WriteBytes([]byte{1, 2}))
	b.MarkWriter()
	require.NoError(t, b.WriteBytes([]byte{3, 4}))
	require.NoError(t, b.ResetWriter())
	assert.Equal(t, 2, b.Readable())
}

func TestSetIndices(t *testing.T) {
	b := NewFixed(8)
	assert.ErrorIs(t, b.SetIndices(3, 2), ErrOutOfBounds)
	assert.ErrorIs(t, b.SetIndices(-1, 2), ErrOutOfBounds)
	assert.ErrorIs(t, b.SetIndices(0, 9), ErrOutOfBounds)
	assert.NoError(t, b.SetIndices(2, 6))
	checkInvariant(t, b)
}

func TestPeekDoesNotConsume(t *testing.T) {
	b := Wrap([]byte{0xDA, 0xBB, 1, 2})
	head, err := b.PeekBytes(2)
	require.NoError(t, err)
	assert.Equal(t, []byte{0xDA, 0xBB}, head)
	assert.Equal(t, 4, b.Readable())
}

func TestUint64RoundTrip(t *testing.T) {
	b := NewDynamic(8)
	require.NoError(t, b.WriteUint64(0xDEADBEEFCAFEF00D))
	v, err := b.ReadUint64()
	require.NoError(t, err)
	assert.Equal(t, uint64(0xDEADBEEFCAFEF00D), v)
}
