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

// Package buffer implements the index-separated byte buffer underlying the
// wire codec. A Buffer keeps independent reader and writer indices over one
// backing array:
//
//	0 <= readerIndex <= writerIndex <= capacity
//
// Reads advance readerIndex, writes advance writerIndex. Dynamic buffers
// grow geometrically on demand; fixed buffers fail with ErrOutOfBounds.
package buffer

import (
	"encoding/binary"
	"errors"
	"io"
)

// ErrOutOfBounds is returned by any operation that would violate the index
// invariant or exceed a fixed buffer's capacity.
var ErrOutOfBounds = errors.New("buffer: index out of bounds")

const minGrowth = 64

// Buffer is an index-separated byte buffer. It is not safe for concurrent
// use; each connection owns its own.
type Buffer struct {
	buf          []byte
	readerIndex  int
	writerIndex  int
	markedReader int
	markedWriter int
	dynamic      bool
}

// NewDynamic returns a growable buffer with the given initial capacity.
func NewDynamic(capacity int) *Buffer {
	if capacity < 0 {
		capacity = 0
	}
	return &Buffer{buf: make([]byte, capacity), dynamic: true}
}

// NewFixed returns a fixed-capacity buffer; writes beyond capacity fail with
// ErrOutOfBounds.
func NewFixed(capacity int) *Buffer {
	if capacity < 0 {
		capacity = 0
	}
	return &Buffer{buf: make([]byte, capacity)}
}

// Wrap returns a fixed buffer over b with writerIndex = len(b), ready for
// reading. The buffer takes ownership of b.
func Wrap(b []byte) *Buffer {
	return &Buffer{buf: b, writerIndex: len(b)}
}

// Capacity returns the size of the backing array.
func (b *Buffer) Capacity() int { return len(b.buf) }

// ReaderIndex returns the current reader index.
func (b *Buffer) ReaderIndex() int { return b.readerIndex }

// WriterIndex returns the current writer index.
func (b *Buffer) WriterIndex() int { return b.writerIndex }

// Readable returns the number of unread bytes.
func (b *Buffer) Readable() int { return b.writerIndex - b.readerIndex }

// Writable returns the bytes writable without growing.
func (b *Buffer) Writable() int { return len(b.buf) - b.writerIndex }

// SetIndices sets both indices at once, validating the invariant.
func (b *Buffer) SetIndices(reader, writer int) error {
	if reader < 0 || reader > writer || writer > len(b.buf) {
		return ErrOutOfBounds
	}
	b.readerIndex = reader
	b.writerIndex = writer
	return nil
}

// MarkReader saves the reader index for a later ResetReader. One slot; a
// second mark overwrites the first.
func (b *Buffer) MarkReader() { b.markedReader = b.readerIndex }

// ResetReader restores the reader index saved by MarkReader. A mark beyond
// the current writer index, as after a Clear, is rejected.
func (b *Buffer) ResetReader() error {
	if b.markedReader > b.writerIndex {
		return ErrOutOfBounds
	}
	b.readerIndex = b.markedReader
	return nil
}

// MarkWriter saves the writer index for a later ResetWriter.
func (b *Buffer) MarkWriter() { b.markedWriter = b.writerIndex }

// ResetWriter restores the writer index saved by MarkWriter.
func (b *Buffer) ResetWriter() error {
	if b.markedWriter < b.readerIndex {
		return ErrOutOfBounds
	}
	b.writerIndex = b.markedWriter
	return nil
}

// Clear zeroes both indices. Content is untouched.
func (b *Buffer) Clear() {
	b.readerIndex = 0
	b.writerIndex = 0
}

// DiscardReadBytes drops [0, readerIndex), moving the readable bytes to
// index 0. Marks are adjusted by the same offset, clamping at 0.
func (b *Buffer) DiscardReadBytes() {
	if b.readerIndex == 0 {
		return
	}
	copy(b.buf, b.buf[b.readerIndex:b.writerIndex])
	off := b.readerIndex
	b.writerIndex -= off
	b.readerIndex = 0
	b.markedReader = max(0, b.markedReader-off)
	b.markedWriter = max(0, b.markedWriter-off)
}

// EnsureWritable guarantees room for n more bytes, growing geometrically for
// dynamic buffers. Fixed buffers fail with ErrOutOfBounds.
func (b *Buffer) EnsureWritable(n int) error {
	if n < 0 {
		return ErrOutOfBounds
	}
	if b.Writable() >= n {
		return nil
	}
	if !b.dynamic {
		return ErrOutOfBounds
	}
	capacity := len(b.buf)
	if capacity < minGrowth {
		capacity = minGrowth
	}
	for capacity-b.writerIndex < n {
		capacity <<= 1
	}
	grown := make([]byte, capacity)
	copy(grown, b.buf[:b.writerIndex])
	b.buf = grown
	return nil
}

// WriteBytes appends p, growing if dynamic.
func (b *Buffer) WriteBytes(p []byte) error {
	if err := b.EnsureWritable(len(p)); err != nil {
		return err
	}
	copy(b.buf[b.writerIndex:], p)
	b.writerIndex += len(p)
	return nil
}

// WriteByte appends one byte.
func (b *Buffer) WriteByte(c byte) error {
	if err := b.EnsureWritable(1); err != nil {
		return err
	}
	b.buf[b.writerIndex] = c
	b.writerIndex++
	return nil
}

// WriteUint16 appends v big-endian.
func (b *Buffer) WriteUint16(v uint16) error {
	if err := b.EnsureWritable(2); err != nil {
		return err
	}
	binary.BigEndian.PutUint16(b.buf[b.writerIndex:], v)
	b.writerIndex += 2
	return nil
}

// WriteUint32 appends v big-endian.
func (b *Buffer) WriteUint32(v uint32) error {
	if err := b.EnsureWritable(4); err != nil {
		return err
	}
	binary.BigEndian.PutUint32(b.buf[b.writerIndex:], v)
	b.writerIndex += 4
	return nil
}

// WriteUint64 appends v big-endian.
func (b *Buffer) WriteUint64(v uint64) error {
	if err := b.EnsureWritable(8); err != nil {
		return err
	}
	binary.BigEndian.PutUint64(b.buf[b.writerIndex:], v)
	b.writerIndex += 8
	return nil
}

// ReadByte consumes and returns one byte.
func (b *Buffer) ReadByte() (byte, error) {
	if b.Readable() < 1 {
		return 0, ErrOutOfBounds
	}
	c := b.buf[b.readerIndex]
	b.readerIndex++
	return c, nil
}

// ReadBytes consumes n bytes and returns them in a fresh slice.
func (b *Buffer) ReadBytes(n int) ([]byte, error) {
	if n < 0 || b.Readable() < n {
		return nil, ErrOutOfBounds
	}
	out := make([]byte, n)
	copy(out, b.buf[b.readerIndex:])
	b.readerIndex += n
	return out, nil
}

// ReadUint16 consumes a big-endian uint16.
func (b *Buffer) ReadUint16() (uint16, error) {
	if b.Readable() < 2 {
		return 0, ErrOutOfBounds
	}
	v := binary.BigEndian.Uint16(b.buf[b.readerIndex:])
	b.readerIndex += 2
	return v, nil
}

// ReadUint32 consumes a big-endian uint32.
func (b *Buffer) ReadUint32() (uint32, error) {
	if b.Readable() < 4 {
		return 0, ErrOutOfBounds
	}
	v := binary.BigEndian.Uint32(b.buf[b.readerIndex:])
	b.readerIndex += 4
	return v, nil
}

// ReadUint64 consumes a big-endian uint64.
func (b *Buffer) ReadUint64() (uint64, error) {
	if b.Readable() < 8 {
		return 0, ErrOutOfBounds
	}
	v := binary.BigEndian.Uint64(b.buf[b.readerIndex:])
	b.readerIndex += 8
	return v, nil
}

// Skip advances the reader index by n without copying.
func (b *Buffer) Skip(n int) error {
	if n < 0 || b.Readable() < n {
		return ErrOutOfBounds
	}
	b.readerIndex += n
	return nil
}

// GetByte returns the byte at absolute index i without moving indices.
func (b *Buffer) GetByte(i int) (byte, error) {
	if i < 0 || i >= b.writerIndex {
		return 0, ErrOutOfBounds
	}
	return b.buf[i], nil
}

// PeekBytes returns n bytes starting at the reader index without consuming
// them. The returned slice aliases the backing array.
func (b *Buffer) PeekBytes(n int) ([]byte, error) {
	if n < 0 || b.Readable() < n {
		return nil, ErrOutOfBounds
	}
	return b.buf[b.readerIndex : b.readerIndex+n], nil
}

// ReadableSlice returns the unread bytes without consuming them. The slice
// aliases the backing array and is invalidated by any write or discard.
func (b *Buffer) ReadableSlice() []byte {
	return b.buf[b.readerIndex:b.writerIndex]
}

// WriteTo drains every readable byte into w, consuming them.
func (b *Buffer) WriteTo(w io.Writer) (int64, error) {
	n, err := w.Write(b.ReadableSlice())
	b.readerIndex += n
	return int64(n), err
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
