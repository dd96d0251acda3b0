//go:build unix

package main

import (
	"log/slog"
	"os"

	"golang.org/x/sys/unix"
)

// mapFile maps a regular file read-only. Anything else is read into memory.
func mapFile(name string) (buf []byte, release func(), err error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, nil, err
	}
	if !stat.Mode().IsRegular() || stat.Size() == 0 || stat.Size() > int64(^uint(0)>>1) {
		return readFile(f)
	}

	buf, err = unix.Mmap(int(f.Fd()), 0, int(stat.Size()), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		slog.Debug("mmapFailed", "path", name, "err", err)
		return readFile(f)
	}
	return buf, func() { unix.Munmap(buf) }, nil
}
