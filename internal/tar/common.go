// Copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package tar reads and writes tar archives held entirely in memory.
//
// It descends from the standard [archive/tar] package, but it works on a byte
// slice rather than a stream: headers are decoded into [entry.Descriptor]
// values and payloads are returned as sub-slices of the input.
// Pre-POSIX (V7), USTAR, GNU and PAX dialects are understood,
// including GNU long names and links, PAX global headers, and GNU sparse files.
package tar

import (
	"io/fs"
	"math"

	"github.com/elliotnunn/containercodec/internal/entry"
)

var (
	ErrTooSmall     = entry.NewError(entry.ErrFormat, "tar: archive shorter than one block")
	ErrHeader       = entry.NewError(entry.ErrCorruptHeader, "tar: invalid tar header")
	ErrChecksum     = entry.NewError(entry.ErrCorruptHeader, "tar: header checksum mismatch")
	ErrFieldTooLong = entry.NewError(entry.ErrCorruptHeader, "tar: header field too long")
	ErrTruncated    = entry.NewError(entry.ErrSizeMismatch, "tar: payload extends past end of archive")
	ErrMultiVolume  = entry.NewError(entry.ErrUnsupported, "tar: multi-volume archives not supported")
	ErrEncoding     = entry.NewError(entry.ErrEncoding, "tar: cannot encode header")
	errMissData     = entry.NewError(entry.ErrCorruptHeader, "tar: sparse file references non-existent data")
	errUnrefData    = entry.NewError(entry.ErrCorruptHeader, "tar: sparse file contains unreferenced data")
)

// Type flags for the typeflag header field.
const (
	TypeReg  = '0'
	TypeRegA = '\x00' // pre-POSIX regular file, or a directory if the name ends in a slash

	TypeLink    = '1'
	TypeSymlink = '2'
	TypeChar    = '3'
	TypeBlock   = '4'
	TypeDir     = '5'
	TypeFifo    = '6'
	TypeCont    = '7'

	// PAX records for the next entry only, or for all later entries.
	TypeXHeader        = 'x'
	TypeXGlobalHeader  = 'g'
	TypeSolarisXHeader = 'X'

	TypeGNUSparse   = 'S'
	TypeGNULongName = 'L'
	TypeGNULongLink = 'K'
	TypeGNUVolume   = 'V'
	TypeGNUMulti    = 'M'
)

// Keywords for PAX extended header records.
const (
	paxPath     = "path"
	paxLinkpath = "linkpath"
	paxSize     = "size"
	paxUid      = "uid"
	paxGid      = "gid"
	paxUname    = "uname"
	paxGname    = "gname"
	paxMtime    = "mtime"
	paxAtime    = "atime"
	paxCtime    = "ctime" // Removed from later revision of PAX spec, but was valid
	paxCharset  = "charset"
	paxComment  = "comment"

	paxSchilyXattr = "SCHILY.xattr."

	// Keywords for GNU sparse files in a PAX extended header.
	paxGNUSparse          = "GNU.sparse."
	paxGNUSparseNumBlocks = "GNU.sparse.numblocks"
	paxGNUSparseOffset    = "GNU.sparse.offset"
	paxGNUSparseNumBytes  = "GNU.sparse.numbytes"
	paxGNUSparseMap       = "GNU.sparse.map"
	paxGNUSparseName      = "GNU.sparse.name"
	paxGNUSparseMajor     = "GNU.sparse.major"
	paxGNUSparseMinor     = "GNU.sparse.minor"
	paxGNUSparseSize      = "GNU.sparse.size"
	paxGNUSparseRealSize  = "GNU.sparse.realsize"
)

// basicKeys are the PAX keys that map onto a Descriptor field.
// Everything else is passed through in Descriptor.Records.
var basicKeys = map[string]bool{
	paxPath: true, paxLinkpath: true, paxSize: true, paxUid: true, paxGid: true,
	paxUname: true, paxGname: true, paxMtime: true, paxAtime: true, paxCtime: true,
	paxCharset: true, paxComment: true,
}

// Special files (PAX headers, GNU long names) are read whole, so cap them.
const maxSpecialFileSize = 1 << 20

// sparseEntry represents a Length-sized fragment at Offset in the file.
type sparseEntry struct{ Offset, Length int64 }

func (s sparseEntry) endOffset() int64 { return s.Offset + s.Length }

// sparseDatas lists the fragments of a sparse file that hold data.
// Everything outside them reads as zero bytes.
type sparseDatas []sparseEntry

// validateSparseEntries reports whether sp is a valid sparse map.
func validateSparseEntries(sp []sparseEntry, size int64) bool {
	// These are the same checks as performed by the BSD tar utility.
	if size < 0 {
		return false
	}
	var pre sparseEntry
	for _, cur := range sp {
		switch {
		case cur.Offset < 0 || cur.Length < 0:
			return false // Negative values are never okay
		case cur.Offset > math.MaxInt64-cur.Length:
			return false // Integer overflow with large length
		case cur.endOffset() > size:
			return false // Region extends beyond the actual size
		case pre.endOffset() > cur.Offset:
			return false // Regions cannot overlap and must be in order
		}
		pre = cur
	}
	return true
}

const (
	// Mode constants from the USTAR spec:
	// See http://pubs.opengroup.org/onlinepubs/9699919799/utilities/pax.html#tag_20_92_13_06
	c_ISUID = 04000 // Set uid
	c_ISGID = 02000 // Set gid
	c_ISVTX = 01000 // Save text (sticky bit)
)

// modeFromTar converts the mode field to permission and special bits.
// The file type comes from the typeflag, never from the mode field.
func modeFromTar(m int64) fs.FileMode {
	mode := fs.FileMode(m).Perm()
	if m&c_ISUID != 0 {
		mode |= fs.ModeSetuid
	}
	if m&c_ISGID != 0 {
		mode |= fs.ModeSetgid
	}
	if m&c_ISVTX != 0 {
		mode |= fs.ModeSticky
	}
	return mode
}

func modeToTar(mode fs.FileMode) int64 {
	m := int64(mode.Perm())
	if mode&fs.ModeSetuid != 0 {
		m |= c_ISUID
	}
	if mode&fs.ModeSetgid != 0 {
		m |= c_ISGID
	}
	if mode&fs.ModeSticky != 0 {
		m |= c_ISVTX
	}
	return m
}

var kindFlags = map[byte]entry.Kind{
	TypeReg: entry.Regular, TypeRegA: entry.Regular, TypeGNUSparse: entry.Regular,
	TypeLink: entry.Hardlink, TypeSymlink: entry.Symlink,
	TypeChar: entry.CharDevice, TypeBlock: entry.BlockDevice,
	TypeDir: entry.Directory, TypeFifo: entry.FIFO, TypeCont: entry.Contiguous,
}

func kindOf(flag byte) entry.Kind {
	if k, ok := kindFlags[flag]; ok {
		return k
	}
	return entry.Unknown
}

// isHeaderOnlyType checks if the given type flag is of the type that has no
// data section even if a size is specified.
func isHeaderOnlyType(flag byte) bool {
	switch flag {
	case TypeLink, TypeSymlink, TypeChar, TypeBlock, TypeDir, TypeFifo:
		return true
	default:
		return false
	}
}

func isASCII(s string) bool {
	for _, c := range s {
		if c >= 0x80 || c == 0x00 {
			return false
		}
	}
	return true
}
