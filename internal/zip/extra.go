// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package zip

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/elliotnunn/containercodec/internal/cursor"
	"github.com/elliotnunn/containercodec/internal/entry"
)

// Location says which header an extra field was found in.
type Location uint8

const (
	Local Location = 1 << iota
	Central
	Anywhere = Local | Central
)

func (l Location) String() string {
	switch l {
	case Local:
		return "local"
	case Central:
		return "central"
	case Anywhere:
		return "anywhere"
	}
	return "nowhere"
}

// A FieldDecoder decodes the payload of one extra field.
// It must consume the cursor exactly: reading past the end, or leaving bytes
// unread, is a programming error and panics the parse.
type FieldDecoder func(c *cursor.Cursor, loc Location) entry.Field

type registration struct {
	where  Location
	decode FieldDecoder
}

// A Registry maps extra field IDs to decoders for vendor fields.
// The fields this package understands natively cannot be overridden.
//
// Register everything before the first parse. The lock only keeps the race
// detector quiet; a registry that changes under a running parse gives
// whichever answer it gives.
type Registry struct {
	mu       sync.RWMutex
	decoders map[uint16]registration
}

// DefaultRegistry is used when [Options] names no other.
var DefaultRegistry = NewRegistry()

func NewRegistry() *Registry {
	return &Registry{decoders: make(map[uint16]registration)}
}

// Register installs a decoder for fields with the given ID found at where.
// It panics if id belongs to a built-in field.
func (r *Registry) Register(id uint16, where Location, dec FieldDecoder) {
	if _, ok := builtinFields[id]; ok {
		panic(fmt.Sprintf("zip: extra field %#04x is built in", id))
	}
	if dec == nil || where&Anywhere == 0 {
		panic(fmt.Sprintf("zip: bad registration for extra field %#04x", id))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.decoders[id] = registration{where, dec}
}

func (r *Registry) lookup(id uint16) (registration, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	reg, ok := r.decoders[id]
	return reg, ok
}

// zip64Want says which header values held a sentinel and must come from
// the Zip64 field, in the order that field stores them.
type zip64Want struct {
	size, compressedSize, headerOffset, disk bool
}

func (w zip64Want) any() bool {
	return w.size || w.compressedSize || w.headerOffset || w.disk
}

// parseExtra walks the (ID, length, payload) triples of an extra area.
// A truncated trailing triple ends the walk.
func parseExtra(extra []byte, loc Location, want zip64Want, reg *Registry) ([]entry.Field, *Zip64, error) {
	var (
		fields []entry.Field
		z64    *Zip64
	)
	c := cursor.New(extra)
	for c.Remaining() >= 4 {
		id := c.Uint16()
		size := int64(c.Uint16())
		if size > int64(c.Remaining()) {
			slog.Debug("zipExtraTruncated", "id", id, "size", size, "remaining", c.Remaining())
			break
		}
		body := c.Sub(size)

		if id == zip64ExtraID {
			f, err := decodeZip64(body, loc, want)
			if err != nil {
				return nil, nil, err
			}
			z64 = f
			fields = append(fields, f)
			continue
		}
		if decode, ok := builtinFields[id]; ok {
			if f := decode(body, loc); f != nil {
				fields = append(fields, f)
			} else {
				slog.Debug("zipExtraMalformed", "id", id, "size", size, "location", loc)
			}
			continue
		}

		r, ok := reg.lookup(id)
		if !ok || r.where&loc == 0 {
			slog.Debug("zipExtraSkipped", "id", id, "size", size, "location", loc)
			continue
		}
		f := r.decode(body, loc)
		if body.Err() != nil || body.Remaining() != 0 {
			panic(fmt.Sprintf("zip: decoder for extra field %#04x consumed %d of %d bytes",
				id, body.Offset(), size))
		}
		if f != nil {
			fields = append(fields, f)
		}
	}

	if z64 == nil && want.any() {
		return nil, nil, fmt.Errorf("%w: Zip64 extra field required but absent", ErrHeader)
	}
	return fields, z64, nil
}
