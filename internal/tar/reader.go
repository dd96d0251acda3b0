// Copyright Elliot Nunn. Portions copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tar

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"strconv"
	"strings"

	"github.com/elliotnunn/containercodec/internal/cursor"
	"github.com/elliotnunn/containercodec/internal/entry"
)

// FormatOf classifies the whole archive by the most specific dialect seen.
// Any PAX header makes it PAX; otherwise any GNU header makes it GNU;
// otherwise any USTAR header makes it USTAR; otherwise it is pre-POSIX.
func FormatOf(buf []byte) (entry.Format, error) {
	s, err := newScanner(buf)
	if err != nil {
		return entry.FormatUnknown, err
	}
	for {
		_, err := s.next(false)
		if s.sawPAX {
			return entry.FormatPAX, nil
		}
		if err == io.EOF {
			break
		} else if err != nil {
			return entry.FormatUnknown, err
		}
	}
	switch {
	case s.sawGNU:
		return entry.FormatGNU, nil
	case s.sawUSTAR:
		return entry.FormatUSTAR, nil
	default:
		return entry.FormatPrePOSIX, nil
	}
}

// Info lists the entries of the archive without touching their payloads.
// Any error discards the whole listing.
func Info(buf []byte) ([]entry.Descriptor, error) {
	s, err := newScanner(buf)
	if err != nil {
		return nil, err
	}
	var list []entry.Descriptor
	for {
		m, err := s.next(false)
		if err == io.EOF {
			return list, nil
		} else if err != nil {
			return nil, err
		}
		list = append(list, m.Descriptor)
	}
}

// Open returns every entry with its payload, in archive order.
// Payloads are sub-slices of buf, except for sparse files which are expanded.
//
// A damaged header fails the whole call. A payload that runs past the end of
// buf is reported as an [*entry.MismatchError] alongside the entries before it.
func Open(buf []byte) ([]entry.Entry, error) {
	s, err := newScanner(buf)
	if err != nil {
		return nil, err
	}
	var list []entry.Entry
	for {
		m, err := s.next(true)
		if err == io.EOF {
			return list, nil
		} else if errors.Is(err, ErrTruncated) && m != nil {
			return list, &entry.MismatchError{Name: m.Name, Err: err}
		} else if err != nil {
			return nil, err
		}

		e := entry.Entry{Descriptor: m.Descriptor}
		switch {
		case isHeaderOnlyType(m.typeflag), m.Kind == entry.Directory:
		case m.sparse != nil:
			e.Data = expandSparse(m.data, m.sparse, m.Size)
		default:
			e.Data = m.data
		}
		list = append(list, e)
	}
}

type scanner struct {
	c *cursor.Cursor
	o overrides

	sawPAX, sawGNU, sawUSTAR bool
}

// member is a user-visible entry as found in the archive.
type member struct {
	entry.Descriptor
	typeflag byte
	data     []byte      // physical payload
	sparse   sparseDatas // nil unless a sparse file
}

func newScanner(buf []byte) (*scanner, error) {
	if len(buf) < blockSize {
		return nil, ErrTooSmall
	}
	return &scanner{c: cursor.New(buf)}, nil
}

// next returns the next user-visible entry, consuming any PAX or GNU
// meta entries before it. It returns io.EOF at a zero block or when fewer
// than one block remains. The payload is only sliced when wantData is set.
func (s *scanner) next(wantData bool) (*member, error) {
	for {
		if s.c.Remaining() < blockSize {
			return nil, io.EOF
		}
		off := s.c.Offset()
		var blk block
		copy(blk[:], s.c.Bytes(blockSize))
		if blk == zeroBlock {
			return nil, io.EOF
		}

		hdr, err := readHeader(&blk)
		if err != nil {
			return nil, fmt.Errorf("%w (header at offset %d)", err, off)
		}
		s.note(hdr)

		// Check for PAX/GNU special headers and files.
		switch hdr.typeflag {
		case TypeXHeader, TypeSolarisXHeader, TypeXGlobalHeader:
			data, err := s.special(hdr.size)
			if err != nil {
				return nil, err
			}
			recs, err := parsePAX(data)
			if err != nil {
				return nil, err
			}
			if hdr.typeflag == TypeXGlobalHeader {
				if s.o.global == nil {
					s.o.global = make(map[string]string)
				}
				maps.Copy(s.o.global, recs)
			} else {
				s.o.local = recs
			}
		case TypeGNULongName, TypeGNULongLink:
			data, err := s.special(hdr.size)
			if err != nil {
				return nil, err
			}
			var p parser
			if hdr.typeflag == TypeGNULongName {
				s.o.longName = p.parseString(data)
			} else {
				s.o.longLink = p.parseString(data)
			}
		case TypeGNUMulti:
			return nil, ErrMultiVolume
		case TypeGNUVolume:
			if _, err := s.payload(hdr.size); err != nil {
				return nil, err
			}
		default:
			return s.member(&blk, hdr, off, wantData)
		}
	}
}

func (s *scanner) note(hdr *rawHeader) {
	switch hdr.typeflag {
	case TypeXHeader, TypeSolarisXHeader, TypeXGlobalHeader:
		s.sawPAX = true
	case TypeGNULongName, TypeGNULongLink, TypeGNUSparse:
		s.sawGNU = true
	}
	switch hdr.dialect {
	case entry.FormatGNU:
		s.sawGNU = true
	case entry.FormatUSTAR:
		s.sawUSTAR = true
	}
}

// special reads the payload of a meta entry, which must be small.
func (s *scanner) special(size int64) ([]byte, error) {
	if size > maxSpecialFileSize {
		return nil, ErrFieldTooLong
	}
	return s.payload(size)
}

// payload consumes size bytes plus padding. The final padding may be
// missing if the archive ends right after the payload.
func (s *scanner) payload(size int64) ([]byte, error) {
	if size > int64(s.c.Remaining()) {
		return nil, ErrTruncated
	}
	data := s.c.Bytes(size)
	s.c.Skip(min(blockPadding(size), int64(s.c.Remaining())))
	return data, nil
}

func (s *scanner) member(blk *block, hdr *rawHeader, off int64, wantData bool) (*member, error) {
	defer s.o.reset()

	physSize := s.o.num(paxSize, hdr.size)
	if isHeaderOnlyType(hdr.typeflag) {
		physSize = 0
	}
	m := &member{Descriptor: s.o.finalize(hdr, off), typeflag: hdr.typeflag}

	// The old GNU sparse format keeps extra map blocks between header and data.
	var err error
	is1x0 := false
	if hdr.typeflag == TypeGNUSparse {
		m.sparse, err = s.readOldGNUSparseMap(blk, hdr, &m.Descriptor)
	} else if recs := s.o.records(); recs != nil {
		m.sparse, is1x0, err = readGNUSparsePAXHeaders(&m.Descriptor, recs)
	}
	if err != nil {
		return nil, err
	}

	m.DataOffset = s.c.Offset()
	data, err := s.payload(physSize)
	if err != nil {
		return m, err
	}

	if is1x0 {
		var mapLen int64
		m.sparse, mapLen, err = readGNUSparseMap1x0(data)
		if err != nil {
			return nil, err
		}
		data = data[mapLen:]
		m.DataOffset += mapLen
	}
	if m.sparse != nil {
		if err := checkSparse(m.sparse, m.Size, int64(len(data))); err != nil {
			return nil, err
		}
	}
	if wantData {
		m.data = data
	}
	return m, nil
}

// parsePAX parses the records of an extended header.
// Records for fields with a fixed meaning are checked for syntax here,
// so that applying them later cannot fail.
func parsePAX(buf []byte) (map[string]string, error) {
	sbuf := string(buf)

	// For GNU PAX sparse format 0.0 support.
	// This function transforms the sparse format 0.0 headers into format 0.1
	// headers since 0.0 headers were not PAX compliant.
	var sparseMap []string

	paxHdrs := make(map[string]string)
	for len(sbuf) > 0 {
		key, value, residual, err := parsePAXRecord(sbuf)
		if err != nil {
			return nil, ErrHeader
		}
		sbuf = residual

		switch key {
		case paxGNUSparseOffset, paxGNUSparseNumBytes:
			// Validate sparse header order and value.
			if (len(sparseMap)%2 == 0 && key != paxGNUSparseOffset) ||
				(len(sparseMap)%2 == 1 && key != paxGNUSparseNumBytes) ||
				strings.Contains(value, ",") {
				return nil, ErrHeader
			}
			sparseMap = append(sparseMap, value)
		case paxSize, paxUid, paxGid:
			if n, err := strconv.ParseInt(value, 10, 64); value != "" && (err != nil || n < 0) {
				return nil, ErrHeader
			}
			paxHdrs[key] = value
		case paxMtime, paxAtime, paxCtime:
			if _, err := parsePAXTime(value); value != "" && err != nil {
				return nil, ErrHeader
			}
			paxHdrs[key] = value
		default:
			paxHdrs[key] = value
		}
	}
	if len(sparseMap) > 0 {
		paxHdrs[paxGNUSparseMap] = strings.Join(sparseMap, ",")
	}
	return paxHdrs, nil
}
