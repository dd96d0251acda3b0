// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package main

import (
	"errors"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/elliotnunn/containercodec/internal/entry"
	"github.com/elliotnunn/containercodec/internal/tar"
)

const permBits = fs.ModePerm | fs.ModeSetuid | fs.ModeSetgid | fs.ModeSticky

// collect reads a directory tree into entries, parents before children.
// Special files that tar cannot represent are skipped.
func collect(dir string) ([]entry.Entry, error) {
	fsys := os.DirFS(dir)
	var list []entry.Entry
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p == "." {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}

		e := entry.Entry{Descriptor: entry.Descriptor{
			Name:    p,
			Mode:    info.Mode() & permBits,
			ModTime: info.ModTime(),
		}}
		switch t := info.Mode().Type(); {
		case t == 0:
			e.Kind = entry.Regular
			e.Data, err = fs.ReadFile(fsys, p)
			if err != nil {
				return err
			}
		case t == fs.ModeDir:
			e.Kind = entry.Directory
			e.Name += "/"
		case t == fs.ModeSymlink:
			e.Kind = entry.Symlink
			e.Linkname, err = os.Readlink(filepath.Join(dir, filepath.FromSlash(p)))
			if err != nil {
				return err
			}
		case t == fs.ModeNamedPipe:
			e.Kind = entry.FIFO
		default:
			slog.Warn("packSkipped", "path", p, "mode", info.Mode())
			return nil
		}
		list = append(list, e)
		return nil
	})
	return list, err
}

func cmdPack(args []string) error {
	opts, dirs, err := parseFlags("pack", args, "o")
	if err != nil {
		return err
	}
	if len(dirs) != 1 || opts.out == "" {
		return errors.New("pack needs -o OUT.tar and exactly one directory")
	}

	list, err := collect(dirs[0])
	if err != nil {
		return err
	}
	buf, err := tar.Create(list)
	if err != nil {
		return err
	}
	if err := os.WriteFile(opts.out, buf, 0o644); err != nil {
		return err
	}
	slog.Info("packDone", "dir", dirs[0], "entries", len(list), "size", len(buf))
	return nil
}
