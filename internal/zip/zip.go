// Copyright Elliot Nunn. Portions copyright 2010 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package zip reads Zip archives held entirely in memory.
//   - locates the central directory from the end, including Zip64 and prepended data
//   - cross-checks every local header against its central record
//   - decodes extra fields, with a registry for vendor fields
//   - decompresses through a replaceable method table and verifies sizes and CRC-32
package zip

import (
	"errors"
	"fmt"
	"io/fs"
	"slices"
	"strings"

	"github.com/elliotnunn/containercodec/internal/cursor"
	"github.com/elliotnunn/containercodec/internal/entry"
)

var (
	ErrWrongSignature              = entry.NewError(entry.ErrFormat, "zip: wrong signature")
	ErrNotFoundCentralDirectoryEnd = entry.NewError(entry.ErrFormat, "zip: end of central directory not found")
	ErrCentralDirectory            = entry.NewError(entry.ErrFormat, "zip: central directory out of bounds")
	ErrHeader                      = entry.NewError(entry.ErrCorruptHeader, "zip: truncated header")
	ErrInconsistentHeader          = entry.NewError(entry.ErrCorruptHeader, "zip: local header disagrees with central directory")
	ErrMultiVolume                 = entry.NewError(entry.ErrUnsupported, "zip: spanned archives not supported")
	ErrVersion                     = entry.NewError(entry.ErrUnsupported, "zip: version needed to extract not supported")
	ErrEncrypted                   = entry.NewError(entry.ErrUnsupported, "zip: encrypted entries not supported")
	ErrPatch                       = entry.NewError(entry.ErrUnsupported, "zip: patch data not supported")
	ErrCompressionNotSupported     = entry.NewError(entry.ErrUnsupported, "zip: unsupported compression algorithm")
	ErrWrongCRC                    = entry.NewError(entry.ErrSizeMismatch, "zip: checksum error")
	ErrWrongSize                   = entry.NewError(entry.ErrSizeMismatch, "zip: uncompressed size mismatch")
	ErrWrongCompressedSize         = entry.NewError(entry.ErrSizeMismatch, "zip: compressed size mismatch")
	ErrDataDescriptor              = entry.NewError(entry.ErrSizeMismatch, "zip: data descriptor missing")
	ErrCorruptData                 = entry.NewError(entry.ErrSizeMismatch, "zip: compressed data is corrupt")
)

// Options adjust a single call. A nil *Options uses the defaults.
type Options struct {
	Registry *Registry                // nil means DefaultRegistry
	Methods  map[uint16]Decompressor // nil means Methods
}

func (o *Options) registry() *Registry {
	if o == nil || o.Registry == nil {
		return DefaultRegistry
	}
	return o.Registry
}

func (o *Options) methods() map[uint16]Decompressor {
	if o == nil || o.Methods == nil {
		return Methods
	}
	return o.Methods
}

// Info lists the entries in central directory order. Every local header is
// still read and checked. The only payloads decompressed are symlink
// targets, so that Linkname matches what Open reports.
// Any error discards the whole listing.
func Info(buf []byte, opts *Options) ([]entry.Descriptor, error) {
	members, err := readDirectory(buf, opts.registry())
	if err != nil {
		return nil, err
	}
	list := make([]entry.Descriptor, 0, len(members))
	for _, m := range members {
		d := m.Descriptor
		if d.Kind == entry.Symlink {
			e, err := m.open(buf, opts.methods())
			if err != nil {
				return nil, &entry.MismatchError{Name: m.Name, Err: err}
			}
			d.Linkname = e.Linkname
		}
		list = append(list, d)
	}
	return list, nil
}

// Open decompresses and verifies every entry.
// A damaged directory fails the whole call. A payload that fails to
// decompress or verify stops the read: the entries before it are returned
// together with an [*entry.MismatchError] naming the bad one.
func Open(buf []byte, opts *Options) ([]entry.Entry, error) {
	members, err := readDirectory(buf, opts.registry())
	if err != nil {
		return nil, err
	}
	methods := opts.methods()
	list := make([]entry.Entry, 0, len(members))
	for _, m := range members {
		e, err := m.open(buf, methods)
		if err != nil {
			return list, &entry.MismatchError{Name: m.Name, Err: err}
		}
		list = append(list, e)
	}
	return list, nil
}

// member joins a central record to its local header.
type member struct {
	entry.Descriptor
	central *centralRecord
	local   *localHeader
}

func readDirectory(buf []byte, reg *Registry) ([]member, error) {
	end, err := findDirectoryEnd(buf)
	if err != nil {
		return nil, err
	}
	records, err := readCentralDirectory(buf, end, reg)
	if err != nil {
		return nil, err
	}

	members := make([]member, 0, len(records))
	for _, cr := range records {
		lh, err := readLocalHeader(buf, end.base+int64(cr.headerOffset), reg)
		if err != nil {
			return nil, fmt.Errorf("%w (local header of %q)", err, cr.name)
		}
		if err := lh.validate(cr); err != nil {
			return nil, fmt.Errorf("%w (%q)", err, cr.name)
		}
		members = append(members, member{
			Descriptor: describe(cr, lh, end),
			central:    cr,
			local:      lh,
		})
	}
	return members, nil
}

var methodKinds = map[uint16]entry.Method{
	methodStore: entry.Store, methodDeflate: entry.Deflate,
	methodBZip2: entry.BZip2, methodLZMA: entry.LZMA,
}

// describe merges the central record, local header and extra fields.
// Sizes and CRC always come from the central record.
func describe(cr *centralRecord, lh *localHeader, end *directoryEnd) entry.Descriptor {
	isUTF8 := cursor.Bits(cr.flags).Has(flagUTF8)
	d := entry.Descriptor{
		Name:           decodeText(cr.name, isUTF8),
		Comment:        decodeText(cr.comment, isUTF8),
		Size:           int64(cr.size),
		CompressedSize: int64(cr.compressedSize),
		Checksum:       cr.crc32,
		MethodCode:     cr.method,
		Method:         entry.Other,
		ModTime:        msDosTimeToTime(cr.modDate, cr.modTime),
		Format:         entry.FormatZip,
		HeaderOffset:   end.base + int64(cr.headerOffset),
		DataOffset:     lh.dataOffset,
		Fields:         slices.Concat(lh.fields, cr.fields),
	}
	if m, ok := methodKinds[cr.method]; ok {
		d.Method = m
	}
	if end.zip64 || cr.zip64 || lh.zip64 {
		d.Format = entry.FormatZip64
	}
	applyFields(&d, cr.name)
	d.Kind, d.Mode = fileMode(cr, d.Name)
	d.Normalize()
	return d
}

func (m *member) open(buf []byte, methods map[uint16]Decompressor) (entry.Entry, error) {
	e := entry.Entry{Descriptor: m.Descriptor}
	if m.Kind == entry.Directory {
		return e, nil
	}

	decompress, ok := methods[m.MethodCode]
	if !ok {
		return e, fmt.Errorf("%w: %d", ErrCompressionNotSupported, m.MethodCode)
	}
	start, end := m.DataOffset, m.DataOffset+m.CompressedSize
	if m.CompressedSize < 0 || end < start || end > int64(len(buf)) {
		return e, fmt.Errorf("%w: %d bytes at offset %d overrun the archive", ErrWrongCompressedSize, m.CompressedSize, start)
	}

	data, consumed, err := decompress(buf[start:end], m.Size, m.local.flags)
	if errors.Is(err, ErrWrongSize) {
		return e, err
	} else if err != nil {
		return e, fmt.Errorf("%w: %v", ErrCorruptData, err)
	}
	if int64(len(data)) != m.Size {
		return e, fmt.Errorf("%w: got %d, want %d", ErrWrongSize, len(data), m.Size)
	}
	if consumed >= 0 && int64(consumed) != m.CompressedSize {
		return e, fmt.Errorf("%w: stream ended after %d of %d bytes", ErrWrongCompressedSize, consumed, m.CompressedSize)
	}
	if cursor.Bits(m.local.flags).Has(flagDataDescriptor) {
		dd, err := readDataDescriptor(buf, end, m.local.zip64 || m.central.zip64Sizes)
		if err != nil {
			return e, err
		}
		if err := dd.check(m.central); err != nil {
			return e, err
		}
	}
	if err := verifyChecksum(data, m.Checksum); err != nil {
		return e, err
	}

	if m.Kind == entry.Symlink {
		e.Linkname = string(data)
		return e, nil
	}
	e.Data = data
	return e, nil
}

const (
	// Unix constants. APPNOTE.TXT does not mention them,
	// but these seem to be the values agreed on by tools.
	s_IFMT   = 0xf000
	s_IFSOCK = 0xc000
	s_IFLNK  = 0xa000
	s_IFREG  = 0x8000
	s_IFBLK  = 0x6000
	s_IFDIR  = 0x4000
	s_IFCHR  = 0x2000
	s_IFIFO  = 0x1000
	s_ISUID  = 0x800
	s_ISGID  = 0x400
	s_ISVTX  = 0x200

	msdosDir      = 0x10
	msdosReadOnly = 0x01
)

// Upper byte of the "version made by" field.
const (
	creatorFAT    = 0
	creatorUnix   = 3
	creatorNTFS   = 11
	creatorVFAT   = 14
	creatorMacOSX = 19
)

// fileMode works out the kind and permissions from the external attributes.
// A trailing slash always means a directory.
func fileMode(cr *centralRecord, name string) (entry.Kind, fs.FileMode) {
	isDir := strings.HasSuffix(name, "/")
	switch cr.creatorVersion >> 8 {
	case creatorUnix, creatorMacOSX:
		kind, mode := unixModeToFileMode(cr.externalAttrs >> 16)
		if isDir {
			kind = entry.Directory
		}
		return kind, mode
	case creatorFAT, creatorNTFS, creatorVFAT:
		return msdosModeToFileMode(cr.externalAttrs, isDir)
	}
	if isDir {
		return entry.Directory, 0
	}
	return entry.Regular, 0
}

func msdosModeToFileMode(m uint32, isDir bool) (entry.Kind, fs.FileMode) {
	kind := entry.Regular
	if isDir || m&msdosDir != 0 {
		kind = entry.Directory
	}
	mode := entry.DefaultMode(kind)
	if m&msdosReadOnly != 0 {
		mode &^= 0222
	}
	return kind, mode
}

var unixKinds = map[uint32]entry.Kind{
	s_IFBLK: entry.BlockDevice, s_IFCHR: entry.CharDevice, s_IFDIR: entry.Directory,
	s_IFIFO: entry.FIFO, s_IFLNK: entry.Symlink, s_IFREG: entry.Regular,
	s_IFSOCK: entry.Socket,
}

func unixModeToFileMode(m uint32) (entry.Kind, fs.FileMode) {
	kind, ok := unixKinds[m&s_IFMT]
	if !ok {
		kind = entry.Regular
	}
	mode := fs.FileMode(m & 0777)
	if m&s_ISGID != 0 {
		mode |= fs.ModeSetgid
	}
	if m&s_ISUID != 0 {
		mode |= fs.ModeSetuid
	}
	if m&s_ISVTX != 0 {
		mode |= fs.ModeSticky
	}
	return kind, mode
}
