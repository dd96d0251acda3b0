// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/elliotnunn/containercodec/internal/entry"
	"github.com/elliotnunn/containercodec/internal/tar"
	"github.com/elliotnunn/containercodec/internal/zip"
)

var errNotArchive = errors.New("not a tar or zip archive")

// An archive is a file loaded into memory and stripped of compression.
// Entries opened from it may alias buf, so they must not outlive release.
type archive struct {
	name    string // after unwrapping, so "x.tgz" becomes "x.tar"
	kind    container
	buf     []byte
	release func()
}

func loadArchive(path string) (*archive, error) {
	buf, release, err := mapFile(path)
	if err != nil {
		return nil, err
	}
	name, inner, err := unwrap(filepath.Base(path), buf)
	if err != nil {
		release()
		return nil, err
	}
	kind := sniff(inner)
	if kind == notArchive {
		release()
		return nil, errNotArchive
	}
	return &archive{name: name, kind: kind, buf: inner, release: release}, nil
}

func readFile(f *os.File) ([]byte, func(), error) {
	buf, err := io.ReadAll(f)
	if err != nil {
		return nil, nil, err
	}
	return buf, func() {}, nil
}

func (a *archive) info() ([]entry.Descriptor, error) {
	switch a.kind {
	case tarArchive:
		return tar.Info(a.buf)
	case zipArchive:
		return zip.Info(a.buf, nil)
	}
	return nil, errNotArchive
}

func (a *archive) open() ([]entry.Entry, error) {
	switch a.kind {
	case tarArchive:
		return tar.Open(a.buf)
	case zipArchive:
		return zip.Open(a.buf, nil)
	}
	return nil, errNotArchive
}

// format names the dialect of the whole archive.
func (a *archive) format() (string, error) {
	switch a.kind {
	case tarArchive:
		f, err := tar.FormatOf(a.buf)
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("tar (%s)", f), nil
	case zipArchive:
		list, err := zip.Info(a.buf, nil)
		if err != nil {
			return "", err
		}
		f := entry.FormatZip
		for _, d := range list {
			f = max(f, d.Format)
		}
		return fmt.Sprintf("zip (%s)", f), nil
	}
	return "", errNotArchive
}
