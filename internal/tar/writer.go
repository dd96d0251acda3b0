// Copyright Elliot Nunn. Portions copyright 2009 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tar

import (
	"fmt"
	"log/slog"
	"maps"
	"path"
	"slices"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/elliotnunn/containercodec/internal/entry"
)

// Create serializes entries as a USTAR archive, followed by two zero blocks.
// An entry whose metadata does not fit the USTAR fields gets a PAX extended
// header in front of it. The payload size is len(Data); header-only kinds
// write no payload. Modification times are stored in whole seconds.
func Create(entries []entry.Entry) ([]byte, error) {
	var w writer
	for i := range entries {
		if err := w.add(&entries[i]); err != nil {
			return nil, fmt.Errorf("%w: %q", err, entries[i].Name)
		}
	}
	w.buf = append(w.buf, make([]byte, 2*blockSize)...)
	return w.buf, nil
}

type writer struct {
	buf  []byte
	npax int
}

var flagKinds = map[entry.Kind]byte{
	entry.Regular: TypeReg, entry.Directory: TypeDir,
	entry.Symlink: TypeSymlink, entry.Hardlink: TypeLink,
	entry.CharDevice: TypeChar, entry.BlockDevice: TypeBlock,
	entry.FIFO: TypeFifo, entry.Contiguous: TypeCont,
}

func (w *writer) add(e *entry.Entry) error {
	flag, ok := flagKinds[e.Kind]
	if !ok {
		return ErrEncoding
	}
	if e.Name == "" || !validString(e.Name) || !validString(e.Linkname) ||
		!validString(e.User) || !validString(e.Group) {
		return ErrEncoding
	}
	if e.UID < 0 || e.GID < 0 {
		return ErrEncoding
	}

	hdr := &rawHeader{
		typeflag: flag,
		name:     e.Name,
		linkname: e.Linkname,
		mode:     modeToTar(e.Mode),
		uid:      int64(e.UID),
		gid:      int64(e.GID),
		uname:    e.User,
		gname:    e.Group,
		devmajor: e.Devmajor,
		devminor: e.Devminor,
	}
	var data []byte
	if !isHeaderOnlyType(flag) {
		data = e.Data
		hdr.size = int64(len(data))
	}
	if !e.ModTime.IsZero() {
		hdr.mtime = e.ModTime.Truncate(time.Second)
	}

	recs := paxRecords(e, hdr)
	var prefix string
	if len(hdr.name) > nameSize || !isASCII(hdr.name) {
		if p, s, ok := splitUSTARPath(hdr.name); ok && len(recs) == 0 {
			prefix, hdr.name = p, s
		} else {
			recs[paxPath] = hdr.name
			hdr.name = toASCII(hdr.name)
		}
	}

	if len(recs) > 0 {
		if err := w.writePAX(e.Name, recs); err != nil {
			return err
		}
	}
	if err := w.writeHeader(hdr, prefix); err != nil {
		return err
	}
	w.buf = append(w.buf, data...)
	w.buf = append(w.buf, make([]byte, blockPadding(int64(len(data))))...)
	return nil
}

// paxRecords collects every value that the USTAR fields cannot hold,
// and blanks those fields in hdr. The name is left to the caller.
func paxRecords(e *entry.Entry, hdr *rawHeader) map[string]string {
	recs := make(map[string]string)
	for k, v := range e.Records {
		if !basicKeys[k] {
			recs[k] = v
		}
	}

	str := func(key string, field *string, size int) {
		if len(*field) > size || !isASCII(*field) {
			recs[key] = *field
			*field = toASCII(*field)
		}
	}
	str(paxLinkpath, &hdr.linkname, nameSize)
	str(paxUname, &hdr.uname, 32)
	str(paxGname, &hdr.gname, 32)

	num := func(key string, field *int64, limit int64) {
		if *field > limit {
			recs[key] = strconv.FormatInt(*field, 10)
			*field = 0
		}
	}
	num(paxSize, &hdr.size, maxOctalSize)
	num(paxUid, &hdr.uid, maxOctalID)
	num(paxGid, &hdr.gid, maxOctalID)

	if secs := hdr.mtime.Unix(); !hdr.mtime.IsZero() && (secs < 0 || secs > maxOctalSize) {
		recs[paxMtime] = formatPAXTime(hdr.mtime)
		hdr.mtime = time.Time{}
	}
	if !e.AccessTime.IsZero() {
		recs[paxAtime] = formatPAXTime(e.AccessTime)
	}
	if !e.CreationTime.IsZero() {
		recs[paxCtime] = formatPAXTime(e.CreationTime)
	}
	if e.Charset != "" {
		recs[paxCharset] = e.Charset
	}
	if e.Comment != "" {
		recs[paxComment] = e.Comment
	}
	return recs
}

// writePAX emits an 'x' header and its records, in sorted key order.
func (w *writer) writePAX(name string, recs map[string]string) error {
	var body strings.Builder
	for _, k := range slices.Sorted(maps.Keys(recs)) {
		rec, err := formatPAXRecord(k, recs[k])
		if err != nil {
			return err
		}
		body.WriteString(rec)
	}

	paxName := fmt.Sprintf("PaxHeaders.%d/%s", w.npax, path.Base(strings.TrimSuffix(name, "/")))
	w.npax++
	paxName = toASCII(paxName)
	if len(paxName) > nameSize {
		paxName = paxName[:nameSize]
	}

	hdr := &rawHeader{
		typeflag: TypeXHeader,
		name:     paxName,
		mode:     0o644,
		size:     int64(body.Len()),
	}
	if err := w.writeHeader(hdr, ""); err != nil {
		return err
	}
	slog.Debug("tarPAXHeader", "name", name, "records", len(recs))
	w.buf = append(w.buf, body.String()...)
	w.buf = append(w.buf, make([]byte, blockPadding(int64(body.Len())))...)
	return nil
}

func (w *writer) writeHeader(hdr *rawHeader, prefix string) error {
	var blk block
	var f formatter

	v7 := blk.toV7()
	f.formatString(v7.name(), hdr.name)
	f.formatOctal(v7.mode(), hdr.mode)
	f.formatNumeric(v7.uid(), hdr.uid)
	f.formatNumeric(v7.gid(), hdr.gid)
	f.formatNumeric(v7.size(), hdr.size)
	var mtime int64
	if !hdr.mtime.IsZero() {
		mtime = hdr.mtime.Unix()
	}
	f.formatNumeric(v7.modTime(), mtime)
	v7.typeFlag()[0] = hdr.typeflag
	f.formatString(v7.linkName(), hdr.linkname)

	ustar := blk.toUSTAR()
	f.formatString(ustar.userName(), hdr.uname)
	f.formatString(ustar.groupName(), hdr.gname)
	f.formatNumeric(ustar.devMajor(), hdr.devmajor)
	f.formatNumeric(ustar.devMinor(), hdr.devminor)
	f.formatString(ustar.prefix(), prefix)

	if f.err != nil {
		return ErrEncoding
	}
	blk.setFormat(magicUSTAR)
	w.buf = append(w.buf, blk[:]...)
	return nil
}

// splitUSTARPath splits a path according to USTAR prefix and suffix rules.
// If the path is not splittable, then it will return ("", "", false).
func splitUSTARPath(name string) (prefix, suffix string, ok bool) {
	length := len(name)
	if length <= nameSize || !isASCII(name) {
		return "", "", false
	} else if length > prefixSize+1 {
		length = prefixSize + 1
	} else if name[length-1] == '/' {
		length--
	}

	i := strings.LastIndex(name[:length], "/")
	nlen := len(name) - i - 1 // nlen is length of suffix
	plen := i                 // plen is length of prefix
	if i <= 0 || nlen > nameSize || nlen == 0 || plen > prefixSize {
		return "", "", false
	}
	return name[:i], name[i+1:], true
}

// validString reports whether s can be stored in a header at all.
func validString(s string) bool {
	return utf8.ValidString(s) && !hasNUL(s)
}

// toASCII replaces every non-ASCII byte with an underscore, for the
// classic field that sits beside a PAX record.
func toASCII(s string) string {
	if isASCII(s) {
		return s
	}
	b := []byte(s)
	for i, c := range b {
		if c >= 0x80 {
			b[i] = '_'
		}
	}
	return string(b)
}
