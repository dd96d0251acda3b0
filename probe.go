// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package main

import (
	"bytes"
	"compress/bzip2"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/elliotnunn/containercodec/internal/tar"
	"github.com/elliotnunn/containercodec/internal/zip"
	"github.com/klauspost/compress/gzip"
	"github.com/therootcompany/xz"
)

type container int

const (
	notArchive container = iota
	tarArchive
	zipArchive
)

func (c container) String() string {
	return [...]string{"unknown", "tar", "zip"}[c]
}

var errTooBig = errors.New("unwrapped archive exceeds the memory limit (set CCGB)")

// A wrapper is a whole-file compression layer around an archive.
type wrapper struct {
	magic    string
	suffixes string
	open     func(io.Reader) (io.Reader, error)
}

var wrappers = []wrapper{
	{"\x1f\x8b", ".gz .gzip .tgz=.tar", func(r io.Reader) (io.Reader, error) {
		return gzip.NewReader(r)
	}},
	{"BZh", ".bz .bz2 .bzip2 .tbz=.tar .tb2=.tar", func(r io.Reader) (io.Reader, error) {
		return bzip2.NewReader(r), nil
	}},
	{"\xfd7zXZ\x00", ".xz .txz=.tar", func(r io.Reader) (io.Reader, error) {
		return xz.NewReader(r, xz.DefaultDictMax)
	}},
}

func matchAt(buf []byte, s string, offset int) bool {
	return len(buf) >= offset+len(s) && string(buf[offset:][:len(s)]) == s
}

// unwrap strips compression layers until none is recognised,
// renaming the file the way the layer's suffix implies.
func unwrap(name string, buf []byte) (string, []byte, error) {
	for {
		var w *wrapper
		for i := range wrappers {
			if matchAt(buf, wrappers[i].magic, 0) {
				w = &wrappers[i]
			}
		}
		if w == nil {
			return name, buf, nil
		}

		r, err := w.open(bytes.NewReader(buf))
		if err != nil {
			return "", nil, fmt.Errorf("%s: %w", name, err)
		}
		inner, err := io.ReadAll(io.LimitReader(r, memLimit+1))
		if err != nil {
			return "", nil, fmt.Errorf("%s: %w", name, err)
		} else if int64(len(inner)) > memLimit {
			return "", nil, errTooBig
		}
		innerName := changeSuffix(name, w.suffixes)
		slog.Debug("archiveUnwrapped", "from", name, "to", innerName, "size", len(inner))
		name, buf = innerName, inner
	}
}

// sniff recognises an archive by its magic numbers, falling back on a full
// parse for old tar headers and self-extracting zips.
func sniff(buf []byte) container {
	switch {
	case matchAt(buf, "PK\x03\x04", 0), matchAt(buf, "PK\x05\x06", 0):
		return zipArchive
	case matchAt(buf, "ustar\x0000", 257), matchAt(buf, "ustar  \x00", 257):
		return tarArchive
	}
	if _, err := tar.FormatOf(buf); err == nil {
		return tarArchive
	}
	if _, err := zip.Info(buf, nil); err == nil {
		return zipArchive
	}
	return notArchive
}

func changeSuffix(s string, suffixes string) string {
	for _, rule := range strings.Split(suffixes, " ") {
		from, to, _ := strings.Cut(rule, "=")
		if strings.HasSuffix(s, from) && len(s) > len(from) {
			return s[:len(s)-len(from)] + to
		}
	}
	return s
}
