// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package main

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"io/fs"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/cockroachdb/pebble/v2"
	"github.com/dgryski/go-tinylfu"
	"github.com/elliotnunn/containercodec/internal/entry"
	"golang.org/x/sync/singleflight"
)

// A row is one entry of a listing, in the form the cache keeps it.
type row struct {
	Name     string      `json:"name"`
	Kind     string      `json:"kind"`
	Mode     fs.FileMode `json:"mode"`
	Size     int64       `json:"size"`
	ModTime  time.Time   `json:"mtime"`
	Linkname string      `json:"link,omitempty"`
	Method   string      `json:"method,omitempty"`
	Format   string      `json:"format"`
}

func rowOf(d *entry.Descriptor) row {
	r := row{
		Name:     d.Name,
		Kind:     d.Kind.String(),
		Mode:     d.FileMode(),
		Size:     d.Size,
		ModTime:  d.ModTime,
		Linkname: d.Linkname,
		Format:   d.Format.String(),
	}
	if d.Format == entry.FormatZip || d.Format == entry.FormatZip64 {
		r.Method = d.Method.String()
	}
	return r
}

const memListings = 64

// listingCache remembers listings by the hash of the archive bytes,
// in memory and optionally in a pebble database on disk.
type listingCache struct {
	db    *pebble.DB // nil unless a directory was given
	mu    sync.Mutex // guards mem
	mem   *tinylfu.T[uint64, []row]
	group singleflight.Group
}

func openCache(dir string) (*listingCache, error) {
	c := &listingCache{
		mem: tinylfu.New[uint64, []row](memListings, memListings*10, func(k uint64) uint64 { return k }),
	}
	if dir != "" {
		db, err := pebble.Open(dir, &pebble.Options{})
		if err != nil {
			return nil, err
		}
		c.db = db
	}
	return c, nil
}

func (c *listingCache) Close() error {
	if c.db == nil {
		return nil
	}
	return c.db.Close()
}

func contentKey(buf []byte) uint64 {
	return xxhash.Sum64(buf)
}

// listing returns the cached rows for buf, calling compute at most once
// per distinct content even when asked concurrently.
func (c *listingCache) listing(buf []byte, compute func() ([]row, error)) ([]row, error) {
	key := contentKey(buf)
	if rows, ok := c.getMem(key); ok {
		return rows, nil
	}
	v, err, _ := c.group.Do(strconv.FormatUint(key, 16), func() (any, error) {
		if rows, ok := c.getMem(key); ok {
			return rows, nil
		}
		if rows, ok := c.getDisk(key); ok {
			c.addMem(key, rows)
			return rows, nil
		}
		rows, err := compute()
		if err != nil {
			return nil, err
		}
		c.addMem(key, rows)
		c.putDisk(key, rows)
		return rows, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]row), nil
}

func (c *listingCache) getMem(key uint64) ([]row, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mem.Get(key)
}

func (c *listingCache) addMem(key uint64, rows []row) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.mem.Add(key, rows)
}

func dbKey(key uint64) []byte {
	return binary.BigEndian.AppendUint64([]byte("list/"), key)
}

func (c *listingCache) getDisk(key uint64) ([]row, bool) {
	if c.db == nil {
		return nil, false
	}
	val, closer, err := c.db.Get(dbKey(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false
	} else if err != nil {
		slog.Warn("cacheReadError", "key", key, "err", err)
		return nil, false
	}
	defer closer.Close()

	var rows []row
	if err := json.Unmarshal(val, &rows); err != nil {
		slog.Warn("cacheCorrupt", "key", key, "err", err)
		return nil, false
	}
	return rows, true
}

func (c *listingCache) putDisk(key uint64, rows []row) {
	if c.db == nil {
		return
	}
	val, err := json.Marshal(rows)
	if err != nil {
		panic(err)
	}
	if err := c.db.Set(dbKey(key), val, pebble.Sync); err != nil {
		slog.Warn("cacheWriteError", "key", key, "err", err)
	}
}
