// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/elliotnunn/containercodec/internal/entry"
	"github.com/opencontainers/go-digest"
)

const tfmt = "2006-01-02T15:04:05"

// matcher reports whether an entry name passes the -match glob.
func matcher(pattern string) (func(string) bool, error) {
	if pattern == "" {
		return func(string) bool { return true }, nil
	}
	if !doublestar.ValidatePattern(pattern) {
		return nil, fmt.Errorf("bad -match pattern %q", pattern)
	}
	return func(name string) bool {
		ok, _ := doublestar.Match(pattern, strings.TrimSuffix(name, "/"))
		return ok
	}, nil
}

func dumpRow(w io.Writer, r *row) {
	fmt.Fprintf(w, "%#v\n", r.Name)
	fmt.Fprintf(w, "    %v size=%d modtime=%s format=%s",
		r.Mode, r.Size, r.ModTime.UTC().Format(tfmt), r.Format)
	if r.Method != "" {
		fmt.Fprintf(w, " method=%s", r.Method)
	}
	fmt.Fprintln(w)
	if r.Linkname != "" {
		fmt.Fprintf(w, "    -> %s\n", r.Linkname)
	}
}

func cmdList(args []string) error {
	opts, paths, err := parseFlags("list", args, "match", "cache")
	if err != nil {
		return err
	}
	match, err := matcher(opts.match)
	if err != nil {
		return err
	}
	cache, err := openCache(opts.cache)
	if err != nil {
		return err
	}
	defer cache.Close()

	return eachArchive(os.Stdout, paths, opts.jobs, func(w io.Writer, a *archive) error {
		rows, err := cache.listing(a.buf, func() ([]row, error) {
			list, err := a.info()
			if err != nil {
				return nil, err
			}
			rows := make([]row, len(list))
			for i := range list {
				rows[i] = rowOf(&list[i])
			}
			return rows, nil
		})
		if err != nil {
			return err
		}
		for i := range rows {
			if match(rows[i].Name) {
				dumpRow(w, &rows[i])
			}
		}
		return nil
	})
}

// verifyReport prints a digest for every payload that checked out,
// then the entry that did not, if any.
func verifyReport(w io.Writer, list []entry.Entry, err error, match func(string) bool) error {
	for i := range list {
		e := &list[i]
		if !match(e.Name) {
			continue
		}
		switch {
		case e.Kind == entry.Symlink || e.Kind == entry.Hardlink:
			fmt.Fprintf(w, "%-71s  %s -> %s\n", e.Kind, e.Name, e.Linkname)
		case e.Kind.HeaderOnly():
			fmt.Fprintf(w, "%-71s  %s\n", e.Kind, e.Name)
		default:
			fmt.Fprintf(w, "%-71s  %s\n", digest.FromBytes(e.Data), e.Name)
		}
	}
	var mismatch *entry.MismatchError
	if errors.As(err, &mismatch) {
		fmt.Fprintf(w, "%-71s  %s\n", "MISMATCH", mismatch.Name)
	}
	return err
}

func cmdVerify(args []string) error {
	opts, paths, err := parseFlags("verify", args, "match")
	if err != nil {
		return err
	}
	match, err := matcher(opts.match)
	if err != nil {
		return err
	}
	return eachArchive(os.Stdout, paths, opts.jobs, func(w io.Writer, a *archive) error {
		list, err := a.open()
		return verifyReport(w, list, err, match)
	})
}

func cmdFormat(args []string) error {
	opts, paths, err := parseFlags("format", args)
	if err != nil {
		return err
	}
	return eachArchive(os.Stdout, paths, opts.jobs, func(w io.Writer, a *archive) error {
		f, err := a.format()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s: %s\n", a.name, f)
		return nil
	})
}
