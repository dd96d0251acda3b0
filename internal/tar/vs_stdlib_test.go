// Copyright Elliot Nunn. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Compare this package against the canonical go one

package tar

import (
	gotar "archive/tar"
	"bytes"
	"fmt"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/elliotnunn/containercodec/internal/entry"
)

type stdFile struct {
	hdr  gotar.Header
	body string
}

func stdlibTar(t *testing.T, format gotar.Format, files []stdFile) []byte {
	t.Helper()
	var buf bytes.Buffer
	tw := gotar.NewWriter(&buf)
	for _, f := range files {
		hdr := f.hdr
		hdr.Format = format
		hdr.Size = int64(len(f.body))
		if err := tw.WriteHeader(&hdr); err != nil {
			t.Fatalf("stdlib WriteHeader %q: %v", hdr.Name, err)
		}
		if _, err := io.WriteString(tw, f.body); err != nil {
			t.Fatal(err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

var stdlibCases = []struct {
	name   string
	format gotar.Format
	want   entry.Format
	files  []stdFile
}{
	{"ustar", gotar.FormatUSTAR, entry.FormatUSTAR, []stdFile{
		{gotar.Header{Typeflag: gotar.TypeDir, Name: "dir/", Mode: 0o755, ModTime: time.Unix(1700000000, 0)}, ""},
		{gotar.Header{Typeflag: gotar.TypeReg, Name: "dir/file.txt", Mode: 0o640, Uid: 501, Gid: 20,
			Uname: "elliot", Gname: "staff", ModTime: time.Unix(1700000001, 0)}, "hello, world\n"},
		{gotar.Header{Typeflag: gotar.TypeSymlink, Name: "dir/link", Linkname: "file.txt", Mode: 0o777,
			ModTime: time.Unix(1700000002, 0)}, ""},
		{gotar.Header{Typeflag: gotar.TypeReg, Name: strings.Repeat("long/", 30) + "x", Mode: 0o600,
			ModTime: time.Unix(1700000003, 0)}, strings.Repeat("0123456789", 100)},
		{gotar.Header{Typeflag: gotar.TypeChar, Name: "dev/null", Mode: 0o666, Devmajor: 1, Devminor: 3,
			ModTime: time.Unix(1700000004, 0)}, ""},
		{gotar.Header{Typeflag: gotar.TypeFifo, Name: "fifo", Mode: 0o644, ModTime: time.Unix(1700000005, 0)}, ""},
	}},
	{"pax", gotar.FormatPAX, entry.FormatPAX, []stdFile{
		{gotar.Header{Typeflag: gotar.TypeReg, Name: "héllo.txt", Mode: 0o644, Uid: 1 << 22,
			ModTime: time.Unix(1700000000, 500)}, "bonjour"},
		{gotar.Header{Typeflag: gotar.TypeSymlink, Name: "far", Linkname: strings.Repeat("t", 150), Mode: 0o777,
			ModTime: time.Unix(1700000000, 0)}, ""},
		{gotar.Header{Typeflag: gotar.TypeReg, Name: "xattr", Mode: 0o644, ModTime: time.Unix(1700000000, 0),
			PAXRecords: map[string]string{"SCHILY.xattr.user.colour": "blue"}}, "x"},
		{gotar.Header{Typeflag: gotar.TypeReg, Name: "empty", Mode: 0o644, ModTime: time.Unix(1700000000, 0)}, ""},
	}},
	{"gnu", gotar.FormatGNU, entry.FormatGNU, []stdFile{
		{gotar.Header{Typeflag: gotar.TypeReg, Name: strings.Repeat("a", 120), Mode: 0o644,
			ModTime: time.Unix(1700000000, 0), AccessTime: time.Unix(1700000100, 0),
			ChangeTime: time.Unix(1700000200, 0)}, "long"},
		{gotar.Header{Typeflag: gotar.TypeReg, Name: "bigid", Mode: 0o644, Uid: 1 << 22, Gid: 1 << 23,
			ModTime: time.Unix(1700000000, 0)}, "id"},
		{gotar.Header{Typeflag: gotar.TypeLink, Name: "hard", Linkname: strings.Repeat("b", 110), Mode: 0o644,
			ModTime: time.Unix(1700000000, 0)}, ""},
	}},
}

func TestVsStandardLibrary(t *testing.T) {
	for _, tc := range stdlibCases {
		t.Run(tc.name, func(t *testing.T) {
			buf := stdlibTar(t, tc.format, tc.files)

			ourFiles, err := dumpOurImplementation(buf)
			if err != nil {
				t.Fatal(err)
			}
			theirFiles, err := dumpStdlibImplementation(buf)
			if err != nil {
				t.Fatal(err)
			}
			if len(ourFiles) != len(theirFiles) {
				t.Fatalf("expected %d entries, got %d", len(theirFiles), len(ourFiles))
			}
			for i, theirValue := range theirFiles {
				if ourValue := ourFiles[i]; theirValue != ourValue {
					t.Errorf("difference in entry %d\nexpect: %s\n   got: %s", i, truncate(theirValue), truncate(ourValue))
				}
			}

			got, err := FormatOf(buf)
			if err != nil {
				t.Fatal(err)
			}
			if got != tc.want {
				t.Errorf("FormatOf: expected %v, got %v", tc.want, got)
			}
		})
	}
}

func truncate(s string) string {
	if len(s) > 200 {
		return s[:200] + "..."
	}
	return s
}

func dumpOurImplementation(buf []byte) ([]string, error) {
	list, err := Open(buf)
	if err != nil {
		return nil, err
	}
	var ret []string
	for _, e := range list {
		ret = append(ret, describe(e.Name, e.Linkname, e.Kind, e.Mode.Perm(),
			e.UID, e.GID, e.User, e.Group, e.Devmajor, e.Devminor,
			e.ModTime, e.AccessTime, e.CreationTime, e.Records["SCHILY.xattr.user.colour"], e.Data))
	}
	return ret, nil
}

func dumpStdlibImplementation(buf []byte) ([]string, error) {
	tr := gotar.NewReader(bytes.NewReader(buf))
	var ret []string
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			return ret, nil
		} else if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return nil, err
		}
		ret = append(ret, describe(hdr.Name, hdr.Linkname, kindOf(hdr.Typeflag), modeFromTar(hdr.Mode).Perm(),
			hdr.Uid, hdr.Gid, hdr.Uname, hdr.Gname, hdr.Devmajor, hdr.Devminor,
			hdr.ModTime, hdr.AccessTime, hdr.ChangeTime, hdr.PAXRecords["SCHILY.xattr.user.colour"], data))
	}
}

func describe(name, link string, kind entry.Kind, perm any, uid, gid int, uname, gname string,
	major, minor int64, mtime, atime, ctime time.Time, xattr string, data []byte) string {
	return fmt.Sprintf("name=%q link=%q kind=%v perm=%v uid=%d gid=%d user=%q group=%q dev=%d,%d mtime=%d atime=%d ctime=%d xattr=%q data=%q",
		name, link, kind, perm, uid, gid, uname, gname, major, minor,
		unixNano(mtime), unixNano(atime), unixNano(ctime), xattr, data)
}

func unixNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func TestGlobalAndLocalPAX(t *testing.T) {
	buf := stdlibTar(t, gotar.FormatPAX, []stdFile{
		{gotar.Header{Typeflag: gotar.TypeXGlobalHeader, Name: "global",
			PAXRecords: map[string]string{"comment": "from global", "uname": "everyone"}}, ""},
		{gotar.Header{Typeflag: gotar.TypeReg, Name: "first", Mode: 0o644, ModTime: time.Unix(1700000000, 0)}, "1"},
		{gotar.Header{Typeflag: gotar.TypeReg, Name: "second", Mode: 0o644, ModTime: time.Unix(1700000000, 0),
			PAXRecords: map[string]string{"comment": "from local"}}, "2"},
		{gotar.Header{Typeflag: gotar.TypeReg, Name: "third", Mode: 0o644, ModTime: time.Unix(1700000000, 0)}, "3"},
	})

	list, err := Info(buf)
	if err != nil {
		t.Fatal(err)
	}
	want := []struct{ name, comment string }{
		{"first", "from global"},
		{"second", "from local"},
		{"third", "from global"},
	}
	if len(list) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(list))
	}
	for i, w := range want {
		d := list[i]
		if d.Name != w.name || d.Comment != w.comment {
			t.Errorf("entry %d: expected %q/%q, got %q/%q", i, w.name, w.comment, d.Name, d.Comment)
		}
		if d.User != "everyone" {
			t.Errorf("entry %d: global uname not applied, got %q", i, d.User)
		}
		if d.Format != entry.FormatPAX {
			t.Errorf("entry %d: expected PAX format, got %v", i, d.Format)
		}
	}
}
