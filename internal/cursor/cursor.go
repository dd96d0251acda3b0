// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package cursor reads fixed-width little-endian fields out of an in-memory buffer.
//
// A Cursor never panics on a short buffer. The first out-of-range read sets a
// sticky error, returns zero values, and every later read is a no-op, so a run
// of field reads needs only one error check at the end.
package cursor

import (
	"encoding/binary"
	"errors"
	"fmt"
)

var ErrShort = errors.New("cursor: read past end of buffer")

type Cursor struct {
	buf []byte
	off int
	err error
}

func New(buf []byte) *Cursor {
	return &Cursor{buf: buf}
}

// At returns a cursor over buf positioned at off.
func At(buf []byte, off int64) *Cursor {
	c := New(buf)
	c.Seek(off)
	return c
}

func (c *Cursor) Err() error     { return c.err }
func (c *Cursor) Offset() int64  { return int64(c.off) }
func (c *Cursor) Len() int64     { return int64(len(c.buf)) }
func (c *Cursor) Remaining() int { return len(c.buf) - c.off }

// Seek moves to an absolute offset.
func (c *Cursor) Seek(off int64) {
	if c.err != nil {
		return
	}
	if off < 0 || off > int64(len(c.buf)) {
		c.fail(off)
		return
	}
	c.off = int(off)
}

// Skip advances by n bytes, which must stay inside the buffer.
func (c *Cursor) Skip(n int64) {
	if c.err != nil {
		return
	}
	if n < 0 || n > int64(c.Remaining()) {
		c.fail(int64(c.off) + n)
		return
	}
	c.off += int(n)
}

// Bytes returns the next n bytes without copying them.
func (c *Cursor) Bytes(n int64) []byte {
	if c.err != nil {
		return nil
	}
	if n < 0 || n > int64(c.Remaining()) {
		c.fail(int64(c.off) + n)
		return nil
	}
	b := c.buf[c.off:][:n:n]
	c.off += int(n)
	return b
}

// Peek is like Bytes but does not advance.
func (c *Cursor) Peek(n int) []byte {
	if c.err != nil || n < 0 || n > c.Remaining() {
		return nil
	}
	return c.buf[c.off:][:n:n]
}

// Sub consumes n bytes and returns a cursor over just those bytes.
func (c *Cursor) Sub(n int64) *Cursor {
	b := c.Bytes(n)
	sub := New(b)
	sub.err = c.err
	return sub
}

func (c *Cursor) Uint8() uint8 {
	b := c.Bytes(1)
	if b == nil {
		return 0
	}
	return b[0]
}

func (c *Cursor) Uint16() uint16 {
	b := c.Bytes(2)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint16(b)
}

func (c *Cursor) Uint32() uint32 {
	b := c.Bytes(4)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint32(b)
}

func (c *Cursor) Uint64() uint64 {
	b := c.Bytes(8)
	if b == nil {
		return 0
	}
	return binary.LittleEndian.Uint64(b)
}

// Uint reads an unsigned little-endian integer of 1 to 8 bytes.
func (c *Cursor) Uint(width int) uint64 {
	b := c.Bytes(int64(width))
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func (c *Cursor) fail(want int64) {
	c.err = fmt.Errorf("%w: offset %d of %d", ErrShort, want, len(c.buf))
}
