// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package zip

import (
	"fmt"
	"time"

	"github.com/elliotnunn/containercodec/internal/cursor"
	"github.com/elliotnunn/containercodec/internal/entry"
)

const (
	zip64ExtraID       = 0x0001
	ntfsExtraID        = 0x000a
	extTimeExtraID     = 0x5455
	infoZipUnixExtraID = 0x5855
	unixOwnerExtraID   = 0x7855
	newUnixExtraID     = 0x7875
	unicodePathExtraID = 0x7075
)

// builtinFields decode the fields this package understands.
// A nil result means the payload was malformed and the field is ignored.
// Zip64 is handled separately because its layout depends on the header.
var builtinFields = map[uint16]func(*cursor.Cursor, Location) entry.Field{
	zip64ExtraID:       nil,
	ntfsExtraID:        decodeNTFS,
	extTimeExtraID:     decodeExtendedTimestamp,
	infoZipUnixExtraID: decodeInfoZIPUnix,
	unixOwnerExtraID:   decodeUnixOwner,
	newUnixExtraID:     decodeNewUnix,
	unicodePathExtraID: decodeUnicodePath,
}

// Zip64 holds the 64-bit values that replace sentinels in the fixed header.
// Only the values the header asked for are present; the rest are zero.
type Zip64 struct {
	Size           uint64
	CompressedSize uint64
	HeaderOffset   uint64
	Disk           uint32
}

func (*Zip64) FieldID() uint16 { return zip64ExtraID }

// decodeZip64 reads only the values whose fixed-header counterpart was a
// sentinel, in their fixed order. A local header that has room for both
// sizes always stores both.
func decodeZip64(c *cursor.Cursor, loc Location, want zip64Want) (*Zip64, error) {
	if loc == Local && c.Remaining() >= 16 {
		want.size, want.compressedSize = true, true
	}
	f := new(Zip64)
	if want.size {
		f.Size = c.Uint64()
	}
	if want.compressedSize {
		f.CompressedSize = c.Uint64()
	}
	if want.headerOffset {
		f.HeaderOffset = c.Uint64()
	}
	if want.disk {
		f.Disk = c.Uint32()
	}
	if c.Err() != nil {
		return nil, fmt.Errorf("%w: Zip64 extra field has %d bytes, too few for %+v", ErrHeader, c.Len(), want)
	}
	return f, nil
}

// ExtendedTimestamp is the Info-ZIP "UT" field.
// Central copies usually carry only the modification time.
type ExtendedTimestamp struct {
	ModTime, AccessTime, CreationTime time.Time
}

func (*ExtendedTimestamp) FieldID() uint16 { return extTimeExtraID }

func decodeExtendedTimestamp(c *cursor.Cursor, _ Location) entry.Field {
	flags := cursor.Bits(c.Uint8())
	if c.Err() != nil {
		return nil
	}
	f := new(ExtendedTimestamp)
	for bit, t := range []*time.Time{&f.ModTime, &f.AccessTime, &f.CreationTime} {
		if flags.Has(uint(bit)) && c.Remaining() >= 4 {
			*t = time.Unix(int64(int32(c.Uint32())), 0)
		}
	}
	return f
}

// NTFSTimes is the PKWARE NTFS field, with 100ns resolution.
type NTFSTimes struct {
	ModTime, AccessTime, CreationTime time.Time
}

func (*NTFSTimes) FieldID() uint16 { return ntfsExtraID }

func decodeNTFS(c *cursor.Cursor, _ Location) entry.Field {
	c.Skip(4) // reserved
	for c.Err() == nil && c.Remaining() >= 4 {
		tag := c.Uint16()
		body := c.Sub(int64(c.Uint16()))
		if tag != 1 {
			continue
		}
		f := &NTFSTimes{
			ModTime:      ntfsTime(body.Uint64()),
			AccessTime:   ntfsTime(body.Uint64()),
			CreationTime: ntfsTime(body.Uint64()),
		}
		if body.Err() != nil {
			return nil
		}
		return f
	}
	return nil
}

// InfoZIPUnix is the old Info-ZIP Unix field. Only the local copy may carry
// the owner.
type InfoZIPUnix struct {
	AccessTime, ModTime time.Time
	UID, GID            int
	HasOwner            bool
}

func (*InfoZIPUnix) FieldID() uint16 { return infoZipUnixExtraID }

func decodeInfoZIPUnix(c *cursor.Cursor, _ Location) entry.Field {
	f := &InfoZIPUnix{
		AccessTime: time.Unix(int64(int32(c.Uint32())), 0),
		ModTime:    time.Unix(int64(int32(c.Uint32())), 0),
	}
	if c.Err() != nil {
		return nil
	}
	if c.Remaining() >= 4 {
		f.UID, f.GID, f.HasOwner = int(c.Uint16()), int(c.Uint16()), true
	}
	return f
}

// UnixOwner is the Info-ZIP "Ux" field with 16-bit IDs.
// The central copy is empty.
type UnixOwner struct {
	UID, GID int
	HasOwner bool
}

func (*UnixOwner) FieldID() uint16 { return unixOwnerExtraID }

func decodeUnixOwner(c *cursor.Cursor, _ Location) entry.Field {
	if c.Remaining() == 0 {
		return new(UnixOwner)
	}
	f := &UnixOwner{UID: int(c.Uint16()), GID: int(c.Uint16()), HasOwner: true}
	if c.Err() != nil {
		return nil
	}
	return f
}

// NewUnix is the Info-ZIP "ux" field with variable-width IDs.
type NewUnix struct {
	UID, GID int
}

func (*NewUnix) FieldID() uint16 { return newUnixExtraID }

func decodeNewUnix(c *cursor.Cursor, _ Location) entry.Field {
	if c.Uint8() != 1 {
		return nil
	}
	var ids [2]uint64
	for i := range ids {
		width := int(c.Uint8())
		if width > 8 {
			return nil
		}
		ids[i] = c.Uint(width)
	}
	if c.Err() != nil {
		return nil
	}
	return &NewUnix{UID: int(ids[0]), GID: int(ids[1])}
}

// UnicodePath is the Info-ZIP "up" field. It is only trusted while NameCRC
// still matches the name in the fixed header.
type UnicodePath struct {
	NameCRC uint32
	Name    string
}

func (*UnicodePath) FieldID() uint16 { return unicodePathExtraID }

func decodeUnicodePath(c *cursor.Cursor, _ Location) entry.Field {
	if c.Uint8() != 1 {
		return nil
	}
	f := &UnicodePath{NameCRC: c.Uint32()}
	f.Name = string(c.Bytes(int64(c.Remaining())))
	if c.Err() != nil {
		return nil
	}
	return f
}

// ranked records the strength of the source a value was last taken from.
type ranked int

func (r *ranked) take(rank int, ok bool) bool {
	if ok && rank > int(*r) {
		*r = ranked(rank)
		return true
	}
	return false
}

// applyFields lets extra fields override the fixed header.
// Local fields come first in d.Fields, so they win ties.
func applyFields(d *entry.Descriptor, rawName []byte) {
	var mtime, atime, ctime, owner ranked
	setTimes := func(rank int, m, a, c time.Time) {
		if mtime.take(rank, !m.IsZero()) {
			d.ModTime = m
		}
		if atime.take(rank, !a.IsZero()) {
			d.AccessTime = a
		}
		if ctime.take(rank, !c.IsZero()) {
			d.CreationTime = c
		}
	}
	setOwner := func(rank, uid, gid int) {
		if owner.take(rank, true) {
			d.UID, d.GID = uid, gid
		}
	}

	for _, f := range d.Fields {
		switch f := f.(type) {
		case *NTFSTimes:
			setTimes(3, f.ModTime, f.AccessTime, f.CreationTime)
		case *ExtendedTimestamp:
			setTimes(2, f.ModTime, f.AccessTime, f.CreationTime)
		case *InfoZIPUnix:
			setTimes(1, f.ModTime, f.AccessTime, time.Time{})
			if f.HasOwner {
				setOwner(1, f.UID, f.GID)
			}
		case *UnixOwner:
			if f.HasOwner {
				setOwner(2, f.UID, f.GID)
			}
		case *NewUnix:
			setOwner(3, f.UID, f.GID)
		case *UnicodePath:
			if f.NameCRC == checksum(rawName) {
				d.Name = f.Name
			}
		}
	}
}
