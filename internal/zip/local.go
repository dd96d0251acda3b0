// Copyright Elliot Nunn. Portions copyright 2010 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zip

import (
	"fmt"

	"github.com/elliotnunn/containercodec/internal/cursor"
	"github.com/elliotnunn/containercodec/internal/entry"
)

// maxReaderVersion is the highest "version needed to extract" accepted (6.3).
const maxReaderVersion = 63

type localHeader struct {
	readerVersion  uint16
	flags          uint16
	method         uint16
	modTime        uint16
	modDate        uint16
	crc32          uint32
	compressedSize uint64
	size           uint64
	name           []byte
	fields         []entry.Field
	zip64          bool
	dataOffset     int64
}

func readLocalHeader(buf []byte, off int64, reg *Registry) (*localHeader, error) {
	if off < 0 || off > int64(len(buf))-localLen {
		return nil, fmt.Errorf("%w: local header at %d is outside the archive", ErrHeader, off)
	}
	c := cursor.At(buf, off)
	if string(c.Bytes(4)) != sigLocal {
		return nil, fmt.Errorf("%w: local header at %d", ErrWrongSignature, off)
	}
	lh := &localHeader{
		readerVersion:  c.Uint16(),
		flags:          c.Uint16(),
		method:         c.Uint16(),
		modTime:        c.Uint16(),
		modDate:        c.Uint16(),
		crc32:          c.Uint32(),
		compressedSize: uint64(c.Uint32()),
		size:           uint64(c.Uint32()),
	}
	nameLen := int64(c.Uint16())
	extraLen := int64(c.Uint16())
	lh.name = c.Bytes(nameLen)
	extra := c.Bytes(extraLen)
	if c.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrHeader, c.Err())
	}
	lh.dataOffset = c.Offset()

	want := zip64Want{
		size:           lh.size == 0xffffffff,
		compressedSize: lh.compressedSize == 0xffffffff,
	}
	fields, z64, err := parseExtra(extra, Local, want, reg)
	if err != nil {
		return nil, err
	}
	lh.fields = fields
	if z64 != nil {
		lh.zip64 = true
		if want.size {
			lh.size = z64.Size
		}
		if want.compressedSize {
			lh.compressedSize = z64.CompressedSize
		}
	}
	return lh, nil
}

// validate rejects features that are not supported and checks the fields
// that must agree between the two copies of the header.
func (lh *localHeader) validate(cr *centralRecord) error {
	if v := max(lh.readerVersion&0xff, cr.readerVersion&0xff); v > maxReaderVersion {
		return fmt.Errorf("%w: %d.%d", ErrVersion, v/10, v%10)
	}
	flags := cursor.Bits(cr.flags)
	if flags.Has(flagEncrypted) || flags.Has(flagStrongEncrypted) || flags.Has(flagMaskedDirectory) {
		return ErrEncrypted
	}
	if flags.Has(flagPatch) {
		return ErrPatch
	}
	switch {
	case lh.flags != cr.flags:
		return fmt.Errorf("%w: flags %#04x vs %#04x", ErrInconsistentHeader, lh.flags, cr.flags)
	case lh.method != cr.method:
		return fmt.Errorf("%w: method %d vs %d", ErrInconsistentHeader, lh.method, cr.method)
	case lh.modTime != cr.modTime || lh.modDate != cr.modDate:
		return fmt.Errorf("%w: modification time", ErrInconsistentHeader)
	}

	// With a data descriptor the local CRC and sizes are placeholders.
	if flags.Has(flagDataDescriptor) {
		return nil
	}
	switch {
	case lh.crc32 != cr.crc32:
		return fmt.Errorf("%w: crc %08x vs %08x", ErrInconsistentHeader, lh.crc32, cr.crc32)
	case lh.compressedSize != cr.compressedSize:
		return fmt.Errorf("%w: compressed size %d vs %d", ErrInconsistentHeader, lh.compressedSize, cr.compressedSize)
	case lh.size != cr.size:
		return fmt.Errorf("%w: size %d vs %d", ErrInconsistentHeader, lh.size, cr.size)
	}
	return nil
}

// dataDescriptor trails the payload when flag bit 3 is set.
type dataDescriptor struct {
	crc32          uint32
	compressedSize uint64
	size           uint64
}

// readDataDescriptor reads the descriptor at off. Its signature is optional,
// and its sizes are 64-bit when the entry used Zip64.
func readDataDescriptor(buf []byte, off int64, zip64 bool) (*dataDescriptor, error) {
	c := cursor.At(buf, off)
	if string(c.Peek(4)) == sigDataDescriptor {
		c.Skip(4)
	}
	dd := &dataDescriptor{crc32: c.Uint32()}
	if zip64 {
		dd.compressedSize = c.Uint64()
		dd.size = c.Uint64()
	} else {
		dd.compressedSize = uint64(c.Uint32())
		dd.size = uint64(c.Uint32())
	}
	if c.Err() != nil {
		return nil, fmt.Errorf("%w at offset %d", ErrDataDescriptor, off)
	}
	return dd, nil
}

// check compares the descriptor with the authoritative central record.
func (dd *dataDescriptor) check(cr *centralRecord) error {
	switch {
	case dd.crc32 != cr.crc32:
		return fmt.Errorf("%w: data descriptor says %08x, directory says %08x", ErrWrongCRC, dd.crc32, cr.crc32)
	case dd.compressedSize != cr.compressedSize:
		return fmt.Errorf("%w: data descriptor says %d, directory says %d", ErrWrongCompressedSize, dd.compressedSize, cr.compressedSize)
	case dd.size != cr.size:
		return fmt.Errorf("%w: data descriptor says %d, directory says %d", ErrWrongSize, dd.size, cr.size)
	}
	return nil
}
