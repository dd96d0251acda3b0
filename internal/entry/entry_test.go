// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package entry

import (
	"errors"
	"fmt"
	"io/fs"
	"testing"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		in       Descriptor
		wantSize int64
		wantMode fs.FileMode
	}{
		{Descriptor{Kind: Directory, Size: 99}, 0, 0o755},
		{Descriptor{Kind: Regular, Size: 5}, 5, 0o644},
		{Descriptor{Kind: Regular, Size: 5, Mode: 0o600}, 5, 0o600},
		{Descriptor{Kind: Regular, Size: -1}, 0, 0o644},
		{Descriptor{Kind: Regular, Mode: fs.ModeSetuid}, 0, fs.ModeSetuid},
	}
	for _, c := range cases {
		d := c.in
		d.Normalize()
		if d.Size != c.wantSize || d.Mode != c.wantMode {
			t.Errorf("%+v: got size=%d mode=%v", c.in, d.Size, d.Mode)
		}
	}
}

func TestFileMode(t *testing.T) {
	d := Descriptor{Kind: Symlink, Mode: 0o777}
	if d.FileMode() != fs.ModeSymlink|0o777 {
		t.Errorf("got %v", d.FileMode())
	}
	d = Descriptor{Kind: CharDevice, Mode: 0o600}
	if d.FileMode().Type() != fs.ModeDevice|fs.ModeCharDevice {
		t.Errorf("got %v", d.FileMode())
	}
}

func TestMismatchError(t *testing.T) {
	specific := fmt.Errorf("%w: crc", ErrSizeMismatch)
	err := error(&MismatchError{Name: "a.bin", Err: specific})
	if !errors.Is(err, specific) || !errors.Is(err, ErrSizeMismatch) {
		t.Error("MismatchError must unwrap to both levels")
	}
	var me *MismatchError
	if !errors.As(err, &me) || me.Name != "a.bin" {
		t.Error("errors.As failed")
	}
}

func TestStrings(t *testing.T) {
	if Hardlink.String() != "hardlink" || Kind(200).String() != "unknown" {
		t.Error("Kind.String")
	}
	if LZMA.String() != "lzma" || FormatPAX.String() != "PAX" {
		t.Error("Method or Format String")
	}
}

func TestNewError(t *testing.T) {
	err := NewError(ErrCorruptHeader, "tar: invalid checksum")
	if err.Error() != "tar: invalid checksum" {
		t.Errorf("message: %q", err.Error())
	}
	if !errors.Is(err, ErrCorruptHeader) || errors.Is(err, ErrFormat) {
		t.Error("category matching is wrong")
	}
	wrapped := fmt.Errorf("%w: field mode", err)
	if !errors.Is(wrapped, err) || !errors.Is(wrapped, ErrCorruptHeader) {
		t.Error("wrapping loses the chain")
	}
}
