// Copyright (c) Elliot Nunn
// Licensed under the MIT license

// Package entry is the format-neutral model shared by the tar and zip codecs.
package entry

import (
	"io/fs"
	"time"
)

type Kind uint8

const (
	Regular Kind = iota
	Directory
	Symlink
	Hardlink
	CharDevice
	BlockDevice
	FIFO
	Contiguous
	Socket
	Unknown
)

var kindNames = [...]string{"regular", "directory", "symlink", "hardlink",
	"char-special", "block-special", "fifo", "contiguous", "socket", "unknown"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// HeaderOnly reports whether entries of this kind never carry a payload.
func (k Kind) HeaderOnly() bool {
	switch k {
	case Directory, Symlink, Hardlink, CharDevice, BlockDevice, FIFO, Socket:
		return true
	}
	return false
}

type Method uint8

const (
	Store Method = iota
	Deflate
	BZip2
	LZMA
	Other
)

var methodNames = [...]string{"store", "deflate", "bzip2", "lzma", "other"}

func (m Method) String() string {
	if int(m) < len(methodNames) {
		return methodNames[m]
	}
	return "other"
}

// Format is the container dialect an entry was read from or written as.
type Format uint8

const (
	FormatUnknown Format = iota
	FormatPrePOSIX
	FormatUSTAR
	FormatGNU
	FormatPAX
	FormatZip
	FormatZip64
)

var formatNames = [...]string{"unknown", "pre-POSIX", "ustar", "GNU", "PAX", "zip", "zip64"}

func (f Format) String() string {
	if int(f) < len(formatNames) {
		return formatNames[f]
	}
	return "unknown"
}

// Field is a decoded Zip extra field attached to an entry.
type Field interface {
	FieldID() uint16
}

// A Descriptor is the metadata of one archive member.
// Fields that a format cannot express are left at their zero value.
type Descriptor struct {
	Name     string
	Linkname string // target of Symlink or Hardlink
	Kind     Kind
	Size     int64 // uncompressed; always zero for directories
	Mode     fs.FileMode

	ModTime      time.Time
	AccessTime   time.Time
	CreationTime time.Time

	UID, GID    int
	User, Group string

	Devmajor, Devminor int64

	Method         Method
	MethodCode     uint16
	CompressedSize int64
	Checksum       uint32 // tar header checksum, or zip CRC-32

	Format       Format
	HeaderOffset int64
	DataOffset   int64

	Charset string
	Comment string
	Records map[string]string // extended records not mapped to another field
	Fields  []Field
}

// An Entry is a Descriptor with its payload.
// Data is nil for entries that have none, such as directories.
type Entry struct {
	Descriptor
	Data []byte
}

// DefaultMode returns the permission bits assumed when an archive records none.
func DefaultMode(k Kind) fs.FileMode {
	if k == Directory {
		return 0o755
	}
	return 0o644
}

// Normalize applies the invariants every finalized Descriptor satisfies.
func (d *Descriptor) Normalize() {
	if d.Kind == Directory || d.Size < 0 {
		d.Size = 0
	}
	if d.Mode.Perm() == 0 && d.Mode&(fs.ModeSetuid|fs.ModeSetgid|fs.ModeSticky) == 0 {
		d.Mode |= DefaultMode(d.Kind)
	}
}

// FileMode combines the permission bits with the type bits implied by Kind.
func (d *Descriptor) FileMode() fs.FileMode {
	mode := d.Mode
	switch d.Kind {
	case Directory:
		mode |= fs.ModeDir
	case Symlink:
		mode |= fs.ModeSymlink
	case CharDevice:
		mode |= fs.ModeDevice | fs.ModeCharDevice
	case BlockDevice:
		mode |= fs.ModeDevice
	case FIFO:
		mode |= fs.ModeNamedPipe
	case Socket:
		mode |= fs.ModeSocket
	}
	return mode
}
