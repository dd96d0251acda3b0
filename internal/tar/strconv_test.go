// Copyright 2016 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package tar

import (
	"errors"
	"testing"
	"time"
)

func TestNumericBoundary(t *testing.T) {
	vectors := []struct {
		width  int
		in     int64
		binary bool
	}{
		{12, 0, false},
		{12, maxOctalSize, false},
		{12, maxOctalSize + 1, true},
		{12, -1, true},
		{8, maxOctalID, false},
		{8, maxOctalID + 1, true},
		{8, 1<<56 - 1, true},
	}
	for _, v := range vectors {
		b := make([]byte, v.width)
		var f formatter
		f.formatNumeric(b, v.in)
		if f.err != nil {
			t.Errorf("formatNumeric(%d, %d): %v", v.width, v.in, f.err)
			continue
		}
		if got := b[0]&0x80 != 0; got != v.binary {
			t.Errorf("formatNumeric(%d, %d): binary=%v, want %v", v.width, v.in, got, v.binary)
		}
		var p parser
		if got := p.parseNumeric(b); got != v.in || p.err != nil {
			t.Errorf("parseNumeric(%x) = %d, %v; want %d", b, got, p.err, v.in)
		}
	}

	var f formatter
	f.formatNumeric(make([]byte, 8), 1<<56)
	if !errors.Is(f.err, ErrFieldTooLong) {
		t.Errorf("expected ErrFieldTooLong, got %v", f.err)
	}
}

func TestParseOctalPadding(t *testing.T) {
	for in, want := range map[string]int64{
		"0000644\x00":   0o644,
		"  644 \x00":    0o644,
		"\x00\x00\x00":  0,
		"00000000017 ": 0o17,
	} {
		var p parser
		if got := p.parseOctal([]byte(in)); got != want || p.err != nil {
			t.Errorf("parseOctal(%q) = %d, %v; want %d", in, got, p.err, want)
		}
	}
	var p parser
	p.parseOctal([]byte("0x1F"))
	if p.err == nil {
		t.Error("expected an error for a non-octal field")
	}
}

func TestPAXRecord(t *testing.T) {
	rec, err := formatPAXRecord("path", "x")
	if err != nil || rec != "9 path=x\n" {
		t.Errorf("formatPAXRecord = %q, %v", rec, err)
	}
	// The length prefix counts its own digits.
	rec, err = formatPAXRecord("k", "12345")
	if err != nil || rec != "11 k=12345\n" {
		t.Errorf("formatPAXRecord = %q, %v", rec, err)
	}

	k, v, rest, err := parsePAXRecord("9 path=x\n12 uid=1000\n")
	if err != nil || k != "path" || v != "x" || rest != "12 uid=1000\n" {
		t.Errorf("parsePAXRecord = %q %q %q %v", k, v, rest, err)
	}

	for _, bad := range []string{"", "9 path=x", "3 a=\n", "9 pathx\n", "99 path=x\n", "8 =abcd\n"} {
		if _, _, _, err := parsePAXRecord(bad); err == nil {
			t.Errorf("parsePAXRecord(%q) should fail", bad)
		}
	}
	for _, key := range []string{"", "a=b"} {
		if _, err := formatPAXRecord(key, "v"); !errors.Is(err, ErrEncoding) {
			t.Errorf("formatPAXRecord(%q) should fail, got %v", key, err)
		}
	}
}

func TestPAXTime(t *testing.T) {
	for in, want := range map[string]time.Time{
		"1350244992":            time.Unix(1350244992, 0),
		"1350244992.02398":      time.Unix(1350244992, 23980000),
		"1350244992.3":          time.Unix(1350244992, 300000000),
		"-1.000000001":          time.Unix(-1, -1e0),
		"1350244992.1234567891": time.Unix(1350244992, 123456789),
	} {
		got, err := parsePAXTime(in)
		if err != nil || !got.Equal(want) {
			t.Errorf("parsePAXTime(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := parsePAXTime("1.x"); err == nil {
		t.Error("expected an error for a bad fraction")
	}
	if got := formatPAXTime(time.Unix(1350244992, 23980000)); got != "1350244992.02398" {
		t.Errorf("formatPAXTime = %q", got)
	}
}
