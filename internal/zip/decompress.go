// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package zip

import (
	"bytes"
	"compress/bzip2"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/elliotnunn/containercodec/internal/cursor"
	"github.com/klauspost/compress/flate"
	"github.com/klauspost/compress/zstd"
	"github.com/therootcompany/xz"
	"github.com/ulikunitz/xz/lzma"
)

// A Decompressor expands the compressed bytes of one entry.
// size is the uncompressed size from the central directory and flags are the
// general purpose flags. consumed is how many bytes of src the stream used,
// or -1 if the decompressor cannot tell.
type Decompressor func(src []byte, size int64, flags uint16) (data []byte, consumed int, err error)

// Methods is the default dispatch table, keyed by compression method.
// Replace entries at start of day, or pass a different table in [Options].
var Methods = map[uint16]Decompressor{
	methodStore:   Store,
	methodDeflate: Deflate,
	methodBZip2:   BZip2,
	methodLZMA:    LZMA,
	methodZstd:    Zstd,
	methodXZ:      XZ,
}

// maxPrealloc caps the buffer allocated up front from a declared size.
const maxPrealloc = 64 << 20

var errTooLong = fmt.Errorf("%w: stream longer than declared", ErrWrongSize)

// readAllSized reads r to the end, failing early once it produces more than
// size bytes.
func readAllSized(r io.Reader, size int64) ([]byte, error) {
	size = min(max(size, 0), math.MaxInt64-1)
	buf := bytes.NewBuffer(make([]byte, 0, min(size, maxPrealloc)+bytes.MinRead))
	if _, err := buf.ReadFrom(io.LimitReader(r, size+1)); err != nil {
		return nil, err
	}
	if int64(buf.Len()) > size {
		return nil, errTooLong
	}
	return buf.Bytes(), nil
}

// Store returns the payload itself, without copying.
func Store(src []byte, size int64, _ uint16) ([]byte, int, error) {
	n := int(min(int64(len(src)), max(size, 0)))
	return src[:n:n], n, nil
}

func Deflate(src []byte, size int64, _ uint16) ([]byte, int, error) {
	br := bytes.NewReader(src)
	r := flate.NewReader(br)
	defer r.Close()
	data, err := readAllSized(r, size)
	if err != nil {
		return nil, 0, err
	}
	return data, len(src) - br.Len(), nil
}

func BZip2(src []byte, size int64, _ uint16) ([]byte, int, error) {
	data, err := readAllSized(bzip2.NewReader(bytes.NewReader(src)), size)
	return data, -1, err
}

// lzmaEOS is the general purpose flag saying the stream ends with a marker
// instead of at a known size.
const lzmaEOS = 1

// LZMA decodes the PKWARE framing: a 2-byte encoder version, a 2-byte
// properties length, then the properties and the raw stream.
func LZMA(src []byte, size int64, flags uint16) ([]byte, int, error) {
	c := cursor.New(src)
	c.Skip(2) // encoder version
	propsLen := c.Uint16()
	props := c.Bytes(int64(propsLen))
	if c.Err() != nil {
		return nil, 0, fmt.Errorf("lzma header: %w", c.Err())
	}
	if propsLen != 5 {
		return nil, 0, fmt.Errorf("lzma header: %d bytes of properties", propsLen)
	}

	// Rebuild the classic .lzma header the decoder expects.
	hdr := make([]byte, 13)
	copy(hdr, props)
	unpacked := uint64(size)
	if cursor.Bits(flags).Has(lzmaEOS) {
		unpacked = math.MaxUint64
	}
	binary.LittleEndian.PutUint64(hdr[5:], unpacked)

	r, err := lzma.NewReader(io.MultiReader(bytes.NewReader(hdr), bytes.NewReader(src[c.Offset():])))
	if err != nil {
		return nil, 0, err
	}
	data, err := readAllSized(r, size)
	return data, -1, err
}

func Zstd(src []byte, size int64, _ uint16) ([]byte, int, error) {
	r, err := zstd.NewReader(bytes.NewReader(src), zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, 0, err
	}
	defer r.Close()
	data, err := readAllSized(r, size)
	return data, -1, err
}

func XZ(src []byte, size int64, _ uint16) ([]byte, int, error) {
	r, err := xz.NewReader(bytes.NewReader(src), xz.DefaultDictMax)
	if err != nil {
		return nil, 0, err
	}
	data, err := readAllSized(r, size)
	return data, -1, err
}
