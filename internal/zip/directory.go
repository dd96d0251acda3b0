// Copyright Elliot Nunn. Portions copyright 2010 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package zip

import (
	"bytes"
	"fmt"
	"log/slog"

	"github.com/elliotnunn/containercodec/internal/cursor"
	"github.com/elliotnunn/containercodec/internal/entry"
)

const (
	sigLocal          = "PK\x03\x04"
	sigCentral        = "PK\x01\x02"
	sigEOCD           = "PK\x05\x06"
	sigZip64Locator   = "PK\x06\x07"
	sigZip64EOCD      = "PK\x06\x06"
	sigDataDescriptor = "PK\x07\x08"

	localLen        = 30
	centralLen      = 46
	eocdLen         = 22
	zip64LocatorLen = 20
	zip64EOCDLen    = 56
	maxCommentLen   = 0xffff
)

const (
	flagEncrypted       = 0
	flagDataDescriptor  = 3
	flagPatch           = 5
	flagStrongEncrypted = 6
	flagUTF8            = 11
	flagMaskedDirectory = 13
)

const (
	methodStore   = 0
	methodDeflate = 8
	methodBZip2   = 12
	methodLZMA    = 14
	methodZstd    = 93
	methodXZ      = 95
)

// directoryEnd is the resolved end of central directory,
// with any Zip64 record already applied.
type directoryEnd struct {
	offset   int64 // of the classic EOCD record
	records  uint64
	dirSize  uint64
	dirStart uint64
	comment  []byte
	zip64    bool

	// base is added to every stored offset. It is non-zero when the archive
	// has been appended to other data, such as a self-extractor stub.
	base int64
}

// findDirectoryEnd scans backward for the EOCD signature.
// The scan covers every possible archive comment length.
func findDirectoryEnd(buf []byte) (*directoryEnd, error) {
	if len(buf) < eocdLen {
		return nil, fmt.Errorf("%w: %d bytes is too short", ErrNotFoundCentralDirectoryEnd, len(buf))
	}
	lowest := max(0, len(buf)-eocdLen-maxCommentLen)
	off := -1
	for i := len(buf) - eocdLen; i >= lowest; i-- {
		if string(buf[i:i+4]) != sigEOCD {
			continue
		}
		commentLen := int(buf[i+20]) | int(buf[i+21])<<8
		if i+eocdLen+commentLen <= len(buf) {
			off = i
			break
		}
	}
	if off < 0 {
		return nil, ErrNotFoundCentralDirectoryEnd
	}

	c := cursor.At(buf, int64(off)+4)
	thisDisk := uint32(c.Uint16())
	centralDisk := uint32(c.Uint16())
	recordsThisDisk := uint64(c.Uint16())
	recordsTotal := uint64(c.Uint16())
	dirSize := uint64(c.Uint32())
	dirStart := uint64(c.Uint32())
	comment := c.Bytes(int64(c.Uint16()))
	if c.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotFoundCentralDirectoryEnd, c.Err())
	}

	end := &directoryEnd{
		offset:   int64(off),
		records:  recordsTotal,
		dirSize:  dirSize,
		dirStart: dirStart,
		comment:  comment,
	}

	sixtyFour := thisDisk == 0xffff || centralDisk == 0xffff ||
		recordsThisDisk == 0xffff || recordsTotal == 0xffff ||
		dirSize == 0xffffffff || dirStart == 0xffffffff
	if sixtyFour {
		found, err := end.readZip64(buf, &thisDisk, &centralDisk)
		if err != nil {
			return nil, err
		}
		if !found {
			// Sentinel values without a locator are taken at face value.
			slog.Debug("zipNoZip64Locator", "eocdOffset", off)
		}
	}
	if thisDisk != 0 || centralDisk != 0 {
		return nil, fmt.Errorf("%w: disk %d of %d", ErrMultiVolume, centralDisk, thisDisk)
	}

	if !end.zip64 {
		end.base = end.offset - int64(end.dirSize) - int64(end.dirStart)
		if end.base < 0 {
			return nil, fmt.Errorf("%w: directory of %d bytes at %d overlaps the end record at %d",
				ErrCentralDirectory, end.dirSize, end.dirStart, end.offset)
		}
	}
	return end, nil
}

// readZip64 applies the Zip64 end record, if a locator precedes the EOCD.
func (end *directoryEnd) readZip64(buf []byte, thisDisk, centralDisk *uint32) (bool, error) {
	at := end.offset - zip64LocatorLen
	if at < 0 || string(buf[at:at+4]) != sigZip64Locator {
		return false, nil
	}
	c := cursor.At(buf, at+4)
	recordDisk := c.Uint32()
	recordOffset := c.Uint64()
	totalDisks := c.Uint32()
	if recordDisk != 0 || totalDisks > 1 {
		return false, fmt.Errorf("%w: %d disks", ErrMultiVolume, totalDisks)
	}

	if recordOffset > uint64(at) {
		return false, fmt.Errorf("%w: Zip64 end record at %d", ErrCentralDirectory, recordOffset)
	}
	c = cursor.At(buf, int64(recordOffset))
	if !bytes.Equal(c.Bytes(4), []byte(sigZip64EOCD)) {
		return false, fmt.Errorf("%w: Zip64 end record at %d", ErrWrongSignature, recordOffset)
	}
	c.Skip(8 + 2 + 2) // record size, version made by, version needed
	*thisDisk = c.Uint32()
	*centralDisk = c.Uint32()
	c.Skip(8) // records on this disk
	end.records = c.Uint64()
	end.dirSize = c.Uint64()
	end.dirStart = c.Uint64()
	if c.Err() != nil {
		return false, fmt.Errorf("%w: Zip64 end record: %v", ErrHeader, c.Err())
	}
	end.zip64 = true
	return true, nil
}

// centralRecord is one central directory file header.
type centralRecord struct {
	creatorVersion uint16
	readerVersion  uint16
	flags          uint16
	method         uint16
	modTime        uint16
	modDate        uint16
	crc32          uint32
	compressedSize uint64
	size           uint64
	disk           uint32
	internalAttrs  uint16
	externalAttrs  uint32
	headerOffset   uint64
	name           []byte
	comment        []byte
	fields         []entry.Field

	zip64      bool // any field was taken from a Zip64 extra field
	zip64Sizes bool // the sizes were
}

// readCentralDirectory reads records until the signature stops matching,
// then checks the count against the end record.
func readCentralDirectory(buf []byte, end *directoryEnd, reg *Registry) ([]*centralRecord, error) {
	start := end.base + int64(end.dirStart)
	if end.dirStart > uint64(len(buf)) || start > end.offset {
		return nil, fmt.Errorf("%w: directory at %d beyond end record at %d", ErrCentralDirectory, start, end.offset)
	}
	c := cursor.At(buf[:end.offset], start)

	// The stated record count is a hint only.
	var records []*centralRecord
	for c.Remaining() >= centralLen && string(c.Peek(4)) == sigCentral {
		cr, err := readCentralRecord(c, reg)
		if err != nil {
			return nil, fmt.Errorf("%w (central record %d at offset %d)", err, len(records), c.Offset())
		}
		if cr.disk != 0 && cr.disk != 0xffff {
			return nil, fmt.Errorf("%w: record on disk %d", ErrMultiVolume, cr.disk)
		}
		records = append(records, cr)
	}
	if uint16(end.records) != uint16(len(records)) {
		return nil, fmt.Errorf("%w: end record counts %d entries, directory has %d",
			ErrCentralDirectory, end.records, len(records))
	}
	return records, nil
}

func readCentralRecord(c *cursor.Cursor, reg *Registry) (*centralRecord, error) {
	c.Skip(4)
	cr := &centralRecord{
		creatorVersion: c.Uint16(),
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
	commentLen := int64(c.Uint16())
	cr.disk = uint32(c.Uint16())
	cr.internalAttrs = c.Uint16()
	cr.externalAttrs = c.Uint32()
	cr.headerOffset = uint64(c.Uint32())
	cr.name = c.Bytes(nameLen)
	extra := c.Bytes(extraLen)
	cr.comment = c.Bytes(commentLen)
	if c.Err() != nil {
		return nil, fmt.Errorf("%w: %v", ErrHeader, c.Err())
	}

	want := zip64Want{
		size:           cr.size == 0xffffffff,
		compressedSize: cr.compressedSize == 0xffffffff,
		headerOffset:   cr.headerOffset == 0xffffffff,
		disk:           cr.disk == 0xffff,
	}
	fields, z64, err := parseExtra(extra, Central, want, reg)
	if err != nil {
		return nil, err
	}
	cr.fields = fields
	if z64 != nil {
		cr.zip64 = true
		if want.size {
			cr.size = z64.Size
			cr.zip64Sizes = true
		}
		if want.compressedSize {
			cr.compressedSize = z64.CompressedSize
			cr.zip64Sizes = true
		}
		if want.headerOffset {
			cr.headerOffset = z64.HeaderOffset
		}
		if want.disk {
			cr.disk = z64.Disk
		}
	}
	return cr, nil
}
