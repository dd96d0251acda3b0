// Copyright Elliot Nunn. Portions copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tar

import (
	"maps"
	"strconv"
	"strings"
	"time"

	"github.com/elliotnunn/containercodec/internal/entry"
)

// rawHeader holds the classic fields of one header block,
// before any PAX or GNU overrides are applied.
type rawHeader struct {
	typeflag byte
	name     string
	linkname string
	size     int64
	mode     int64
	uid, gid int64
	mtime    time.Time
	atime    time.Time // GNU and STAR only
	ctime    time.Time // GNU and STAR only
	uname    string
	gname    string
	devmajor int64
	devminor int64
	checksum int64
	magic    magic
	dialect  entry.Format
}

// readHeader decodes one block. The checksum is verified first, so any
// damage to the block is reported as ErrChecksum.
func readHeader(blk *block) (*rawHeader, error) {
	m, err := blk.getMagic()
	if err != nil {
		return nil, err
	}

	var p parser
	hdr := &rawHeader{magic: m}

	// Unpack the V7 header.
	v7 := blk.toV7()
	hdr.typeflag = v7.typeFlag()[0]
	hdr.name = p.parseString(v7.name())
	hdr.linkname = p.parseString(v7.linkName())
	hdr.size = p.parseNumeric(v7.size())
	hdr.mode = p.parseNumeric(v7.mode())
	hdr.uid = p.parseNumeric(v7.uid())
	hdr.gid = p.parseNumeric(v7.gid())
	hdr.mtime = time.Unix(p.parseNumeric(v7.modTime()), 0)
	hdr.checksum = p.parseOctal(v7.chksum())

	switch m {
	case magicUSTAR:
		hdr.dialect = entry.FormatUSTAR
	case magicGNU:
		hdr.dialect = entry.FormatGNU
	case magicSTAR:
		hdr.dialect = entry.FormatUSTAR
	default:
		hdr.dialect = blk.inferDialect()
	}

	// Unpack format specific fields.
	if hdr.dialect != entry.FormatPrePOSIX {
		ustar := blk.toUSTAR()
		hdr.uname = p.parseString(ustar.userName())
		hdr.gname = p.parseString(ustar.groupName())
		hdr.devmajor = p.parseNumeric(ustar.devMajor())
		hdr.devminor = p.parseNumeric(ustar.devMinor())

		var prefix string
		switch {
		case m == magicSTAR:
			star := blk.toSTAR()
			prefix = p.parseString(star.prefix())
			hdr.atime = unixOrZero(p.parseNumeric(star.accessTime()))
			hdr.ctime = unixOrZero(p.parseNumeric(star.changeTime()))
		case hdr.dialect == entry.FormatUSTAR:
			prefix = p.parseString(ustar.prefix())
		case hdr.dialect == entry.FormatGNU:
			var p2 parser
			gnu := blk.toGNU()
			if b := gnu.accessTime(); b[0] != 0 {
				hdr.atime = time.Unix(p2.parseNumeric(b), 0)
			}
			if b := gnu.changeTime(); b[0] != 0 {
				hdr.ctime = time.Unix(p2.parseNumeric(b), 0)
			}

			// Old Go writers put a USTAR prefix where GNU keeps its times.
			// If the times do not parse but the field reads as text, use it as a prefix.
			if p2.err != nil {
				hdr.atime, hdr.ctime = time.Time{}, time.Time{}
				if s := p.parseString(ustar.prefix()); isASCII(s) {
					prefix = s
				}
			}
		}
		if len(prefix) > 0 {
			hdr.name = prefix + "/" + hdr.name
		}
	}
	if p.err != nil {
		return nil, p.err
	}
	if hdr.size < 0 {
		return nil, ErrHeader
	}
	return hdr, nil
}

func unixOrZero(secs int64) time.Time {
	if secs == 0 {
		return time.Time{}
	}
	return time.Unix(secs, 0)
}

// A source yields a field value, or reports that it has none.
type source[T any] func() (T, bool)

// resolve returns the value of the first source that has one.
// Sources are listed from highest to lowest precedence.
func resolve[T any](sources ...source[T]) T {
	for _, s := range sources {
		if v, ok := s(); ok {
			return v
		}
	}
	var zero T
	return zero
}

// given is a source that has a value unless it is the zero value.
func given[T comparable](v T) source[T] {
	return func() (T, bool) {
		var zero T
		return v, v != zero
	}
}

func always[T any](v T) source[T] {
	return func() (T, bool) { return v, true }
}

// An empty PAX value keeps the value from the next source down.
func paxString(recs map[string]string, key string) source[string] {
	return func() (string, bool) {
		v, ok := recs[key]
		return v, ok && v != ""
	}
}

func paxInt(recs map[string]string, key string) source[int64] {
	return func() (int64, bool) {
		v, ok := recs[key]
		if !ok || v == "" {
			return 0, false
		}
		n, err := strconv.ParseInt(v, 10, 64)
		return n, err == nil
	}
}

func paxTime(recs map[string]string, key string) source[time.Time] {
	return func() (time.Time, bool) {
		v, ok := recs[key]
		if !ok || v == "" {
			return time.Time{}, false
		}
		t, err := parsePAXTime(v)
		return t, err == nil
	}
}

// overrides are the pending PAX and GNU values that apply to the next entry.
type overrides struct {
	local    map[string]string // 'x' header, next entry only
	global   map[string]string // 'g' headers, all later entries
	longName string            // 'L'
	longLink string            // 'K'
}

func (o *overrides) reset() {
	o.local, o.longName, o.longLink = nil, "", ""
}

func (o *overrides) str(key, gnu, classic string) string {
	return resolve(paxString(o.local, key), paxString(o.global, key), given(gnu), always(classic))
}

func (o *overrides) num(key string, classic int64) int64 {
	return resolve(paxInt(o.local, key), paxInt(o.global, key), always(classic))
}

func (o *overrides) time(key string, classic time.Time) time.Time {
	return resolve(paxTime(o.local, key), paxTime(o.global, key), always(classic))
}

// records merges global and local PAX records; local wins.
func (o *overrides) records() map[string]string {
	if len(o.local) == 0 && len(o.global) == 0 {
		return nil
	}
	m := maps.Clone(o.global)
	if m == nil {
		m = make(map[string]string)
	}
	maps.Copy(m, o.local)
	return m
}

// finalize applies the overrides to hdr and produces the Descriptor.
// It does not handle sparse files, which need the payload.
func (o *overrides) finalize(hdr *rawHeader, offset int64) entry.Descriptor {
	d := entry.Descriptor{
		Name:         o.str(paxPath, o.longName, hdr.name),
		Linkname:     o.str(paxLinkpath, o.longLink, hdr.linkname),
		Size:         o.num(paxSize, hdr.size),
		Mode:         modeFromTar(hdr.mode),
		ModTime:      o.time(paxMtime, hdr.mtime),
		AccessTime:   o.time(paxAtime, hdr.atime),
		CreationTime: o.time(paxCtime, hdr.ctime),
		UID:          int(o.num(paxUid, hdr.uid)), // Integer overflow possible
		GID:          int(o.num(paxGid, hdr.gid)),
		User:         o.str(paxUname, "", hdr.uname),
		Group:        o.str(paxGname, "", hdr.gname),
		Charset:      o.str(paxCharset, "", ""),
		Comment:      o.str(paxComment, "", ""),
		Devmajor:     hdr.devmajor,
		Devminor:     hdr.devminor,
		Checksum:     uint32(hdr.checksum),
		Kind:         kindOf(hdr.typeflag),
		Method:       entry.Store,
		Format:       hdr.dialect,
		HeaderOffset: offset,
	}

	recs := o.records()
	for k, v := range recs {
		if basicKeys[k] || strings.HasPrefix(k, paxGNUSparse) {
			continue
		}
		if d.Records == nil {
			d.Records = make(map[string]string)
		}
		d.Records[k] = v
	}
	switch {
	case recs != nil:
		d.Format = entry.FormatPAX
	case o.longName != "" || o.longLink != "":
		d.Format = entry.FormatGNU
	}

	if hdr.typeflag == TypeRegA && strings.HasSuffix(d.Name, "/") {
		d.Kind = entry.Directory // Legacy archives use trailing slash for directories
	}
	d.Normalize()
	return d
}
