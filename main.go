// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Command containercodec lists, verifies and creates tar and zip archives.
//
//	containercodec list [-match GLOB] [-cache DIR] ARCHIVE...
//	containercodec verify [-match GLOB] ARCHIVE...
//	containercodec format ARCHIVE...
//	containercodec pack -o OUT.tar DIR
//
// Archives wrapped in gzip, bzip2 or xz are unwrapped first.
package main

import (
	"bytes"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"

	"golang.org/x/sync/errgroup"
)

const usageText = `usage:
	containercodec list [-match GLOB] [-cache DIR] ARCHIVE...
	containercodec verify [-match GLOB] ARCHIVE...
	containercodec format ARCHIVE...
	containercodec pack -o OUT.tar DIR
`

var commands = map[string]func(args []string) error{
	"list":   cmdList,
	"verify": cmdVerify,
	"format": cmdFormat,
	"pack":   cmdPack,
}

func main() {
	if len(os.Args) < 2 || commands[os.Args[1]] == nil {
		fmt.Fprint(os.Stderr, usageText)
		os.Exit(2)
	}
	name := os.Args[1]
	if err := commands[name](os.Args[2:]); err != nil {
		slog.Error("commandFailed", "cmd", name, "err", err)
		os.Exit(1)
	}
}

type options struct {
	verbose bool
	jobs    int
	match   string
	cache   string
	out     string
}

// parseFlags registers the flags common to every command plus any the
// command asks for by name.
func parseFlags(cmd string, args []string, extra ...string) (*options, []string, error) {
	opts := new(options)
	fset := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fset.BoolVar(&opts.verbose, "v", false, "log debug messages")
	fset.IntVar(&opts.jobs, "j", runtime.GOMAXPROCS(0), "archives to process at once")
	for _, name := range extra {
		switch name {
		case "match":
			fset.StringVar(&opts.match, "match", "", "only show entries whose name matches this glob")
		case "cache":
			fset.StringVar(&opts.cache, "cache", "", "keep listings in this directory")
		case "o":
			fset.StringVar(&opts.out, "o", "", "output file")
		}
	}
	if err := fset.Parse(args); err != nil {
		return nil, nil, err
	}
	setupLogging(opts.verbose)
	return opts, fset.Args(), nil
}

func setupLogging(verbose bool) {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// eachArchive runs fn over every path with at most jobs in flight, then
// prints the reports in argument order. A failed archive is logged and does
// not stop the others.
func eachArchive(w io.Writer, paths []string, jobs int, fn func(w io.Writer, a *archive) error) error {
	reports := make([]bytes.Buffer, len(paths))
	failed := make([]bool, len(paths))

	var g errgroup.Group
	g.SetLimit(max(jobs, 1))
	for i, p := range paths {
		g.Go(func() error {
			a, err := loadArchive(p)
			if err == nil {
				err = fn(&reports[i], a)
				a.release()
			}
			if err != nil {
				slog.Warn("archiveError", "path", p, "err", err)
				failed[i] = true
			}
			return nil
		})
	}
	g.Wait()

	nfail := 0
	for i := range reports {
		if len(paths) > 1 {
			fmt.Fprintf(w, "== %s\n", paths[i])
		}
		reports[i].WriteTo(w)
		if failed[i] {
			nfail++
		}
	}
	if nfail > 0 {
		return fmt.Errorf("%d of %d archives failed", nfail, len(paths))
	}
	return nil
}
