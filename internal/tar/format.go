// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tar

import (
	"log/slog"

	"github.com/elliotnunn/containercodec/internal/entry"
)

// magic identifies the header layout of a single block.
type magic int

const (
	magicNone  magic = iota // pre-POSIX, or a writer that left the field empty
	magicUSTAR              // also used by PAX
	magicGNU
	magicSTAR
)

// Magics used to identify various formats.
const (
	magicGNUStr, versionGNU     = "ustar ", " \x00"
	magicUSTARStr, versionUSTAR = "ustar\x00", "00"
	trailerSTAR                 = "tar\x00"
)

// Size constants from various tar specifications.
const (
	blockSize  = 512 // Size of each block in a tar stream
	nameSize   = 100 // Max length of the name field in USTAR format
	prefixSize = 155 // Max length of the prefix field in USTAR format

	// Largest value each numeric field holds in octal.
	maxOctalSize = 1<<33 - 1 // 12-byte fields
	maxOctalID   = 1<<21 - 1 // 8-byte fields
)

// blockPadding computes the number of bytes needed to pad offset up to the
// nearest block edge where 0 <= n < blockSize.
func blockPadding(offset int64) (n int64) {
	return -offset & (blockSize - 1)
}

var zeroBlock block

type block [blockSize]byte

// Convert block to any number of formats.
func (b *block) toV7() *headerV7       { return (*headerV7)(b) }
func (b *block) toGNU() *headerGNU     { return (*headerGNU)(b) }
func (b *block) toSTAR() *headerSTAR   { return (*headerSTAR)(b) }
func (b *block) toUSTAR() *headerUSTAR { return (*headerUSTAR)(b) }
func (b *block) toSparse() sparseArray { return sparseArray(b[:]) }

// getMagic verifies the checksum and then classifies the block by its magic.
func (b *block) getMagic() (magic, error) {
	if err := b.verifyChecksum(); err != nil {
		return magicNone, err
	}
	m := string(b.toUSTAR().magic())
	v := string(b.toUSTAR().version())
	trailer := string(b.toSTAR().trailer())
	switch {
	case m == magicUSTARStr && trailer == trailerSTAR:
		return magicSTAR, nil
	case m == magicUSTARStr:
		return magicUSTAR, nil
	case m == magicGNUStr && v == versionGNU:
		return magicGNU, nil
	default:
		return magicNone, nil
	}
}

// verifyChecksum accepts either the POSIX unsigned sum or the signed sum
// written by old Sun tar. Only when both disagree is the header corrupt.
func (b *block) verifyChecksum() error {
	var p parser
	value := p.parseOctal(b.toV7().chksum())
	unsigned, signed := b.computeChecksum()
	switch {
	case p.err != nil:
		return ErrChecksum
	case value == unsigned:
		return nil
	case value == signed:
		slog.Debug("tarSignedChecksum", "sum", value)
		return nil
	}
	return ErrChecksum
}

// setFormat writes the magic values and then the checksum.
func (b *block) setFormat(m magic) {
	switch m {
	case magicGNU:
		copy(b.toGNU().magic(), magicGNUStr)
		copy(b.toGNU().version(), versionGNU)
	case magicUSTAR:
		copy(b.toUSTAR().magic(), magicUSTARStr)
		copy(b.toUSTAR().version(), versionUSTAR)
	}

	// This field is special in that it is terminated by a NULL then space.
	var f formatter
	field := b.toV7().chksum()
	chksum, _ := b.computeChecksum() // Possible values are 256..128776
	f.formatOctal(field[:7], chksum) // Never fails since 128776 < 262143
	field[7] = ' '
}

// computeChecksum computes the checksum for the header block.
// POSIX specifies a sum of the unsigned byte values, but the Sun tar used
// signed byte values.
// We compute and return both.
func (b *block) computeChecksum() (unsigned, signed int64) {
	for i, c := range b {
		if 148 <= i && i < 156 {
			c = ' ' // Treat the checksum field itself as all spaces.
		}
		unsigned += int64(c)
		signed += int64(int8(c))
	}
	return unsigned, signed
}

// inferDialect guesses the dialect of a block that carries no magic.
// The GNU access/change times overlap the USTAR prefix, so numeric times
// mean GNU and a textual prefix means USTAR.
func (b *block) inferDialect() entry.Format {
	var p parser
	atime := p.parseNumeric(b.toGNU().accessTime())
	ctime := p.parseNumeric(b.toGNU().changeTime())
	if p.err == nil && (atime != 0 || ctime != 0) {
		return entry.FormatGNU
	}
	if prefix := p.parseString(b.toUSTAR().prefix()); prefix != "" && isASCII(prefix) {
		return entry.FormatUSTAR
	}
	return entry.FormatPrePOSIX
}

type headerV7 [blockSize]byte

func (h *headerV7) name() []byte     { return h[000:][:100] }
func (h *headerV7) mode() []byte     { return h[100:][:8] }
func (h *headerV7) uid() []byte      { return h[108:][:8] }
func (h *headerV7) gid() []byte      { return h[116:][:8] }
func (h *headerV7) size() []byte     { return h[124:][:12] }
func (h *headerV7) modTime() []byte  { return h[136:][:12] }
func (h *headerV7) chksum() []byte   { return h[148:][:8] }
func (h *headerV7) typeFlag() []byte { return h[156:][:1] }
func (h *headerV7) linkName() []byte { return h[157:][:100] }

type headerGNU [blockSize]byte

func (h *headerGNU) v7() *headerV7       { return (*headerV7)(h) }
func (h *headerGNU) magic() []byte       { return h[257:][:6] }
func (h *headerGNU) version() []byte     { return h[263:][:2] }
func (h *headerGNU) userName() []byte    { return h[265:][:32] }
func (h *headerGNU) groupName() []byte   { return h[297:][:32] }
func (h *headerGNU) devMajor() []byte    { return h[329:][:8] }
func (h *headerGNU) devMinor() []byte    { return h[337:][:8] }
func (h *headerGNU) accessTime() []byte  { return h[345:][:12] }
func (h *headerGNU) changeTime() []byte  { return h[357:][:12] }
func (h *headerGNU) sparse() sparseArray { return sparseArray(h[386:][:24*4+1]) }
func (h *headerGNU) realSize() []byte    { return h[483:][:12] }

type headerSTAR [blockSize]byte

func (h *headerSTAR) v7() *headerV7      { return (*headerV7)(h) }
func (h *headerSTAR) magic() []byte      { return h[257:][:6] }
func (h *headerSTAR) version() []byte    { return h[263:][:2] }
func (h *headerSTAR) userName() []byte   { return h[265:][:32] }
func (h *headerSTAR) groupName() []byte  { return h[297:][:32] }
func (h *headerSTAR) devMajor() []byte   { return h[329:][:8] }
func (h *headerSTAR) devMinor() []byte   { return h[337:][:8] }
func (h *headerSTAR) prefix() []byte     { return h[345:][:131] }
func (h *headerSTAR) accessTime() []byte { return h[476:][:12] }
func (h *headerSTAR) changeTime() []byte { return h[488:][:12] }
func (h *headerSTAR) trailer() []byte    { return h[508:][:4] }

type headerUSTAR [blockSize]byte

func (h *headerUSTAR) v7() *headerV7     { return (*headerV7)(h) }
func (h *headerUSTAR) magic() []byte     { return h[257:][:6] }
func (h *headerUSTAR) version() []byte   { return h[263:][:2] }
func (h *headerUSTAR) userName() []byte  { return h[265:][:32] }
func (h *headerUSTAR) groupName() []byte { return h[297:][:32] }
func (h *headerUSTAR) devMajor() []byte  { return h[329:][:8] }
func (h *headerUSTAR) devMinor() []byte  { return h[337:][:8] }
func (h *headerUSTAR) prefix() []byte    { return h[345:][:155] }

type sparseArray []byte

func (s sparseArray) entry(i int) sparseElem { return sparseElem(s[i*24:]) }
func (s sparseArray) isExtended() []byte     { return s[24*s.maxEntries():][:1] }
func (s sparseArray) maxEntries() int        { return len(s) / 24 }

type sparseElem []byte

func (s sparseElem) offset() []byte { return s[00:][:12] }
func (s sparseElem) length() []byte { return s[12:][:12] }
