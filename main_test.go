// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package main

import (
	gozip "archive/zip"
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/elliotnunn/containercodec/internal/entry"
	"github.com/elliotnunn/containercodec/internal/tar"
	"github.com/klauspost/compress/gzip"
)

var stamp = time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)

func sampleTar(t *testing.T) []byte {
	t.Helper()
	buf, err := tar.Create([]entry.Entry{
		{Descriptor: entry.Descriptor{Name: "dir/", Kind: entry.Directory, ModTime: stamp}},
		{Descriptor: entry.Descriptor{Name: "dir/hello.txt", Kind: entry.Regular, ModTime: stamp}, Data: []byte("hello\n")},
		{Descriptor: entry.Descriptor{Name: "dir/link", Kind: entry.Symlink, Linkname: "hello.txt", ModTime: stamp}},
	})
	if err != nil {
		t.Fatal(err)
	}
	return buf
}

func sampleZip(t *testing.T, prefix string) []byte {
	t.Helper()
	var buf bytes.Buffer
	buf.WriteString(prefix)
	w := gozip.NewWriter(&buf)
	w.SetOffset(int64(len(prefix)))
	fw, err := w.CreateHeader(&gozip.FileHeader{Name: "a.txt", Method: gozip.Deflate, Modified: stamp})
	if err != nil {
		t.Fatal(err)
	}
	io.WriteString(fw, "zipped")
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func gzipped(t *testing.T, b []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	w.Write(b)
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestChangeSuffix(t *testing.T) {
	for _, tc := range []struct{ in, rules, want string }{
		{"x.tgz", ".gz .gzip .tgz=.tar", "x.tar"},
		{"x.tar.gz", ".gz .gzip .tgz=.tar", "x.tar"},
		{".gz", ".gz .gzip .tgz=.tar", ".gz"},
		{"x.tb2", ".bz .bz2 .bzip2 .tbz=.tar .tb2=.tar", "x.tar"},
		{"plain", ".xz .txz=.tar", "plain"},
	} {
		if got := changeSuffix(tc.in, tc.rules); got != tc.want {
			t.Errorf("changeSuffix(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestSniff(t *testing.T) {
	for _, tc := range []struct {
		name string
		buf  []byte
		want container
	}{
		{"tar", sampleTar(t), tarArchive},
		{"zip", sampleZip(t, ""), zipArchive},
		{"self-extractor", sampleZip(t, strings.Repeat("MZ stub ", 40)), zipArchive},
		{"text", []byte(strings.Repeat("not an archive\n", 100)), notArchive},
		{"empty", nil, notArchive},
	} {
		if got := sniff(tc.buf); got != tc.want {
			t.Errorf("%s: sniffed %v, want %v", tc.name, got, tc.want)
		}
	}
}

func TestUnwrap(t *testing.T) {
	plain := sampleTar(t)
	name, buf, err := unwrap("x.tgz", gzipped(t, gzipped(t, plain)))
	if err != nil {
		t.Fatal(err)
	}
	if name != "x.tar" || !bytes.Equal(buf, plain) {
		t.Errorf("unwrapped to %q (%d bytes)", name, len(buf))
	}

	name, buf, err = unwrap("x.tar", plain)
	if err != nil || name != "x.tar" || !bytes.Equal(buf, plain) {
		t.Errorf("an unwrapped file should pass through, got %q %v", name, err)
	}

	if _, _, err := unwrap("x.gz", []byte("\x1f\x8bnonsense")); err == nil {
		t.Error("a broken gzip stream should fail")
	}
}

func TestUnwrapLimit(t *testing.T) {
	saved := memLimit
	defer func() { memLimit = saved }()
	memLimit = 100
	if _, _, err := unwrap("x.gz", gzipped(t, make([]byte, 101))); !errors.Is(err, errTooBig) {
		t.Errorf("expected errTooBig, got %v", err)
	}
}

func TestMatcher(t *testing.T) {
	match, err := matcher("dir/**/*.txt")
	if err != nil {
		t.Fatal(err)
	}
	for name, want := range map[string]bool{
		"dir/hello.txt":   true,
		"dir/a/b/c.txt":   true,
		"dir/link":        false,
		"other/hello.txt": false,
	} {
		if match(name) != want {
			t.Errorf("match(%q) != %v", name, want)
		}
	}

	dirs, _ := matcher("dir")
	if !dirs("dir/") {
		t.Error("a directory entry should match without its slash")
	}
	if _, err := matcher("[unclosed"); err == nil {
		t.Error("expected an error for a bad pattern")
	}
}

func TestListingCache(t *testing.T) {
	dir := t.TempDir()
	buf := sampleTar(t)
	want := []row{{Name: "dir/", Kind: "directory"}, {Name: "dir/hello.txt", Kind: "regular", Size: 6}}

	calls := 0
	compute := func() ([]row, error) {
		calls++
		return want, nil
	}

	c, err := openCache(dir)
	if err != nil {
		t.Fatal(err)
	}
	for range 3 {
		if rows, err := c.listing(buf, compute); err != nil || len(rows) != 2 {
			t.Fatalf("got %v %v", rows, err)
		}
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Errorf("computed %d times, want 1", calls)
	}

	c, err = openCache(dir)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	rows, err := c.listing(buf, compute)
	if err != nil {
		t.Fatal(err)
	}
	if calls != 1 {
		t.Error("the listing should come back from disk")
	}
	if len(rows) != 2 || rows[1] != want[1] {
		t.Errorf("got %+v", rows)
	}
}

func TestListingCacheError(t *testing.T) {
	c, err := openCache("")
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	boom := errors.New("boom")
	if _, err := c.listing([]byte("x"), func() ([]row, error) { return nil, boom }); err != boom {
		t.Errorf("expected the compute error, got %v", err)
	}
	rows, err := c.listing([]byte("x"), func() ([]row, error) { return []row{{Name: "x"}}, nil })
	if err != nil || len(rows) != 1 {
		t.Errorf("a failure should not be cached, got %v %v", rows, err)
	}
}

func TestVerifyReport(t *testing.T) {
	list := []entry.Entry{
		{Descriptor: entry.Descriptor{Name: "d/", Kind: entry.Directory}},
		{Descriptor: entry.Descriptor{Name: "d/f", Kind: entry.Regular}, Data: []byte("hello\n")},
	}
	mismatch := &entry.MismatchError{Name: "d/g", Err: entry.ErrSizeMismatch}

	var out bytes.Buffer
	err := verifyReport(&out, list, mismatch, func(string) bool { return true })
	if err != mismatch {
		t.Errorf("the error should pass through, got %v", err)
	}
	const helloDigest = "sha256:5891b5b522d5df086d0ff0b110fbd9d21bb4fc7163af34d08286a2e846f6be03"
	for _, want := range []string{"directory", helloDigest + "  d/f\n", "MISMATCH", "  d/g\n"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("report lacks %q:\n%s", want, out.String())
		}
	}
}

func TestCollect(t *testing.T) {
	dir := t.TempDir()
	os.Mkdir(filepath.Join(dir, "sub"), 0o750)
	os.WriteFile(filepath.Join(dir, "a.txt"), []byte("alpha"), 0o640)
	os.WriteFile(filepath.Join(dir, "sub", "b.txt"), []byte("beta"), 0o600)
	if err := os.Symlink("a.txt", filepath.Join(dir, "link")); err != nil {
		t.Skip("no symlinks:", err)
	}

	list, err := collect(dir)
	if err != nil {
		t.Fatal(err)
	}
	buf, err := tar.Create(list)
	if err != nil {
		t.Fatal(err)
	}
	opened, err := tar.Open(buf)
	if err != nil {
		t.Fatal(err)
	}

	want := []struct {
		name string
		kind entry.Kind
		data string
	}{
		{"a.txt", entry.Regular, "alpha"},
		{"link", entry.Symlink, ""},
		{"sub/", entry.Directory, ""},
		{"sub/b.txt", entry.Regular, "beta"},
	}
	if len(opened) != len(want) {
		t.Fatalf("expected %d entries, got %d", len(want), len(opened))
	}
	for i, w := range want {
		e := opened[i]
		if e.Name != w.name || e.Kind != w.kind || string(e.Data) != w.data {
			t.Errorf("entry %d: got %q %v %q", i, e.Name, e.Kind, e.Data)
		}
	}
	if opened[0].Mode != 0o640 || opened[2].Mode != 0o750 {
		t.Errorf("modes %v %v", opened[0].Mode, opened[2].Mode)
	}
	if opened[1].Linkname != "a.txt" {
		t.Errorf("link target %q", opened[1].Linkname)
	}
}

func TestEachArchive(t *testing.T) {
	dir := t.TempDir()
	good := filepath.Join(dir, "good.tgz")
	bad := filepath.Join(dir, "bad.bin")
	os.WriteFile(good, gzipped(t, sampleTar(t)), 0o644)
	os.WriteFile(bad, []byte(strings.Repeat("junk", 200)), 0o644)

	var out bytes.Buffer
	err := eachArchive(&out, []string{good, bad}, 2, func(w io.Writer, a *archive) error {
		f, err := a.format()
		if err != nil {
			return err
		}
		io.WriteString(w, a.name+" "+f+"\n")
		return nil
	})
	if err == nil {
		t.Error("expected the junk file to fail")
	}
	if want := "== " + good + "\ngood.tar tar (ustar)\n== " + bad + "\n"; out.String() != want {
		t.Errorf("got %q want %q", out.String(), want)
	}
}
