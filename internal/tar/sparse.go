// Copyright Elliot Nunn. Portions copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tar

import (
	"bytes"
	"strconv"
	"strings"

	"github.com/elliotnunn/containercodec/internal/entry"
)

// readOldGNUSparseMap reads the sparse map from the old GNU sparse format.
// The sparse map is stored in the tar header if it's small enough.
// If it's larger than four entries, then one or more extension headers are used
// to store the rest of the sparse map.
//
// The extension headers sit between the header and the data, so they are
// consumed from the scanner. d.Size becomes the logical size.
func (s *scanner) readOldGNUSparseMap(blk *block, hdr *rawHeader, d *entry.Descriptor) (sparseDatas, error) {
	// Make sure that the input format is GNU.
	// Unfortunately, the STAR format also has a sparse header format that uses
	// the same type flag but has a completely different layout.
	if hdr.magic != magicGNU {
		return nil, ErrHeader
	}

	var p parser
	d.Size = p.parseNumeric(blk.toGNU().realSize())
	if p.err != nil {
		return nil, p.err
	}
	sa := blk.toGNU().sparse()
	spd := make(sparseDatas, 0, sa.maxEntries())
	for {
		for i := 0; i < sa.maxEntries(); i++ {
			// This termination condition is identical to GNU and BSD tar.
			if sa.entry(i).offset()[0] == 0x00 {
				break // Don't return, need to process extended headers (even if empty)
			}
			offset := p.parseNumeric(sa.entry(i).offset())
			length := p.parseNumeric(sa.entry(i).length())
			if p.err != nil {
				return nil, p.err
			}
			spd = append(spd, sparseEntry{Offset: offset, Length: length})
		}

		if sa.isExtended()[0] == 0 {
			return spd, nil
		}
		if s.c.Remaining() < blockSize {
			return nil, ErrTruncated
		}
		var ext block
		copy(ext[:], s.c.Bytes(blockSize))
		sa = ext.toSparse()
	}
}

// readGNUSparsePAXHeaders checks the PAX records for GNU sparse headers and
// applies the name and logical size they carry to d.
// Format 0.x keeps the map in the records, which this function returns.
// Format 1.0 keeps it at the start of the data, reported by is1x0.
// This assumes that 0.0 headers have already been converted to 0.1 headers
// by the PAX header parsing logic.
func readGNUSparsePAXHeaders(d *entry.Descriptor, recs map[string]string) (spd sparseDatas, is1x0 bool, err error) {
	// Identify the version of GNU headers.
	major, minor := recs[paxGNUSparseMajor], recs[paxGNUSparseMinor]
	switch {
	case major == "0" && (minor == "0" || minor == "1"):
		is1x0 = false
	case major == "1" && minor == "0":
		is1x0 = true
	case major != "" || minor != "":
		return nil, false, nil // Unknown GNU sparse PAX version
	case recs[paxGNUSparseMap] != "":
		is1x0 = false // 0.0 and 0.1 did not have explicit version records, so guess
	default:
		return nil, false, nil // Not a PAX format GNU sparse file.
	}

	if name := recs[paxGNUSparseName]; name != "" {
		d.Name = name
	}
	size := recs[paxGNUSparseSize]
	if size == "" {
		size = recs[paxGNUSparseRealSize]
	}
	if size != "" {
		n, err := strconv.ParseInt(size, 10, 64)
		if err != nil || n < 0 {
			return nil, false, ErrHeader
		}
		d.Size = n
	}

	if is1x0 {
		return nil, true, nil
	}
	spd, err = readGNUSparseMap0x1(recs)
	return spd, false, err
}

// readGNUSparseMap1x0 reads the sparse map as stored in GNU's PAX sparse format
// version 1.0. The format of the sparse map consists of a series of
// newline-terminated numeric fields. The first field is the number of entries
// and is always present. Following this are the entries, consisting of two
// fields (offset, length). The map occupies whole blocks, so mapLen is the
// end of the block containing the last newline.
//
// Note that the GNU manual says that numeric values should be encoded in octal
// format. However, the GNU tar utility itself outputs these values in decimal.
// As such, this library treats values as being encoded in decimal.
func readGNUSparseMap1x0(data []byte) (spd sparseDatas, mapLen int64, err error) {
	pos := 0
	nextToken := func() (int64, bool) {
		i := bytes.IndexByte(data[pos:], '\n')
		if i < 0 {
			return 0, false
		}
		n, err := strconv.ParseInt(string(data[pos:pos+i]), 10, 64)
		pos += i + 1
		return n, err == nil
	}

	// Use integer overflow resistant math to check this.
	numEntries, ok := nextToken()
	if !ok || numEntries < 0 || int(2*numEntries) < int(numEntries) {
		return nil, 0, ErrHeader
	}

	// Each entry takes at least four bytes, which bounds the allocation.
	spd = make(sparseDatas, 0, min(numEntries, int64(len(data)/4)))
	for range numEntries {
		offset, ok1 := nextToken()
		length, ok2 := nextToken()
		if !ok1 || !ok2 {
			return nil, 0, ErrHeader
		}
		spd = append(spd, sparseEntry{Offset: offset, Length: length})
	}

	mapLen = int64(pos) + blockPadding(int64(pos))
	if mapLen > int64(len(data)) {
		return nil, 0, ErrHeader
	}
	return spd, mapLen, nil
}

// readGNUSparseMap0x1 reads the sparse map as stored in GNU's PAX sparse format
// version 0.1. The sparse map is stored in the PAX headers.
func readGNUSparseMap0x1(paxHdrs map[string]string) (sparseDatas, error) {
	// Get number of entries.
	// Use integer overflow resistant math to check this.
	numEntriesStr := paxHdrs[paxGNUSparseNumBlocks]
	numEntries, err := strconv.ParseInt(numEntriesStr, 10, 0) // Intentionally parse as native int
	if err != nil || numEntries < 0 || int(2*numEntries) < int(numEntries) {
		return nil, ErrHeader
	}

	// There should be two numbers in sparseMap for each entry.
	sparseMap := strings.Split(paxHdrs[paxGNUSparseMap], ",")
	if len(sparseMap) == 1 && sparseMap[0] == "" {
		sparseMap = sparseMap[:0]
	}
	if int64(len(sparseMap)) != 2*numEntries {
		return nil, ErrHeader
	}

	// Loop through the entries in the sparse map.
	// numEntries is trusted now.
	spd := make(sparseDatas, 0, numEntries)
	for len(sparseMap) >= 2 {
		offset, err1 := strconv.ParseInt(sparseMap[0], 10, 64)
		length, err2 := strconv.ParseInt(sparseMap[1], 10, 64)
		if err1 != nil || err2 != nil {
			return nil, ErrHeader
		}
		spd = append(spd, sparseEntry{Offset: offset, Length: length})
		sparseMap = sparseMap[2:]
	}
	return spd, nil
}

// checkSparse validates the map against the logical size and
// the number of physical bytes stored in the archive.
func checkSparse(spd sparseDatas, size, physSize int64) error {
	if !validateSparseEntries(spd, size) {
		return ErrHeader
	}
	var sum int64
	for _, s := range spd {
		sum += s.Length
	}
	switch {
	case sum > physSize:
		return errMissData
	case sum < physSize:
		return errUnrefData
	}
	return nil
}

// expandSparse lays out the physical fragments at their logical offsets.
// Holes read as zero bytes. The map must have passed checkSparse.
func expandSparse(phys []byte, spd sparseDatas, size int64) []byte {
	out := make([]byte, size)
	for _, s := range spd {
		n := copy(out[s.Offset:s.endOffset()], phys)
		phys = phys[n:]
	}
	return out
}
