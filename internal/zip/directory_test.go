// Copyright (c) Elliot Nunn
// Licensed under the MIT license

package zip

import (
	"bytes"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"testing"

	"github.com/elliotnunn/containercodec/internal/entry"
)

// rawEntry is one member of a hand-assembled archive.
type rawEntry struct {
	name          string
	data          []byte
	flags         uint16
	method        uint16
	readerVersion uint16
	localExtra    []byte
	centralExtra  []byte
	zip64Local    bool   // sentinel sizes in the local header, real ones in a Zip64 field
	localTimeSkew uint16 // added to the local modification time only
}

const (
	rawDosTime = 12 << 11         // 12:00:00
	rawDosDate = 40<<9 | 1<<5 | 2 // 2020-01-02
	rawAttrs   = (s_IFREG | 0o644) << 16
)

func le(b *bytes.Buffer, vals ...any) {
	for _, v := range vals {
		switch v := v.(type) {
		case string:
			b.WriteString(v)
		case []byte:
			b.Write(v)
		default:
			if err := binary.Write(b, binary.LittleEndian, v); err != nil {
				panic(err)
			}
		}
	}
}

func extraField(id uint16, body ...any) []byte {
	var b bytes.Buffer
	le(&b, body...)
	var f bytes.Buffer
	le(&f, id, uint16(b.Len()), b.Bytes())
	return f.Bytes()
}

// buildZip writes prefix, then an archive whose offsets are relative to
// the end of prefix, as a self-extractor stub would produce.
func buildZip(prefix []byte, zip64End bool, entries ...rawEntry) []byte {
	var b bytes.Buffer
	b.Write(prefix)
	base := len(prefix)

	offsets := make([]uint32, len(entries))
	for i, e := range entries {
		offsets[i] = uint32(b.Len() - base)
		size := uint32(len(e.data))
		extra := e.localExtra
		if e.zip64Local {
			size = 0xffffffff
			extra = append(extraField(zip64ExtraID, uint64(len(e.data)), uint64(len(e.data))), extra...)
		}
		version := e.readerVersion
		if version == 0 {
			version = 20
		}
		le(&b, sigLocal, version, e.flags, e.method, uint16(rawDosTime+e.localTimeSkew), uint16(rawDosDate),
			crc32.ChecksumIEEE(e.data), size, size, uint16(len(e.name)), uint16(len(extra)), e.name, extra, e.data)
	}

	dirStart := b.Len() - base
	for i, e := range entries {
		version := e.readerVersion
		if version == 0 {
			version = 20
		}
		le(&b, sigCentral, uint16(creatorUnix<<8|20), version, e.flags, e.method, uint16(rawDosTime), uint16(rawDosDate),
			crc32.ChecksumIEEE(e.data), uint32(len(e.data)), uint32(len(e.data)),
			uint16(len(e.name)), uint16(len(e.centralExtra)), uint16(0), uint16(0), uint16(0), uint32(rawAttrs),
			offsets[i], e.name, e.centralExtra)
	}
	dirSize := b.Len() - base - dirStart

	n := len(entries)
	if zip64End {
		recordAt := b.Len() - base
		le(&b, sigZip64EOCD, uint64(zip64EOCDLen-12), uint16(45), uint16(45), uint32(0), uint32(0),
			uint64(n), uint64(n), uint64(dirSize), uint64(dirStart))
		le(&b, sigZip64Locator, uint32(0), uint64(recordAt), uint32(1))
		le(&b, sigEOCD, uint16(0), uint16(0), uint16(0xffff), uint16(0xffff),
			uint32(0xffffffff), uint32(0xffffffff), uint16(0))
	} else {
		le(&b, sigEOCD, uint16(0), uint16(0), uint16(n), uint16(n), uint32(dirSize), uint32(dirStart), uint16(0))
	}
	return b.Bytes()
}

func TestZip64LocalHeader(t *testing.T) {
	buf := buildZip(nil, false,
		rawEntry{name: "small", data: []byte("tiny")},
		rawEntry{name: "big", data: []byte("pretend this is four gigabytes"), readerVersion: 45, zip64Local: true},
	)
	list, err := Open(buf, nil)
	if err != nil {
		t.Fatal(err)
	}
	if list[0].Format != entry.FormatZip || list[1].Format != entry.FormatZip64 {
		t.Errorf("expected zip then zip64, got %v %v", list[0].Format, list[1].Format)
	}
	big := list[1]
	if string(big.Data) != "pretend this is four gigabytes" || big.Checksum != crc32.ChecksumIEEE(big.Data) {
		t.Errorf("bad payload %q", big.Data)
	}
	if len(big.Fields) != 1 || big.Fields[0].FieldID() != zip64ExtraID {
		t.Errorf("expected the Zip64 field to be surfaced, got %v", big.Fields)
	}
	if want := big.HeaderOffset + localLen + 3 + 20; big.DataOffset != want {
		t.Errorf("data offset %d, want %d", big.DataOffset, want)
	}
}

func TestZip64EndRecord(t *testing.T) {
	buf := buildZip(nil, true, rawEntry{name: "a", data: []byte("alpha")}, rawEntry{name: "b", data: []byte("beta")})
	list, err := Open(buf, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 || string(list[1].Data) != "beta" {
		t.Fatalf("bad listing %v", list)
	}
	for _, e := range list {
		if e.Format != entry.FormatZip64 {
			t.Errorf("%q: expected zip64, got %v", e.Name, e.Format)
		}
	}

	buf[bytes.Index(buf, []byte(sigZip64EOCD))+1] = 'X'
	if _, err := Info(buf, nil); !errors.Is(err, ErrWrongSignature) {
		t.Errorf("expected ErrWrongSignature, got %v", err)
	}
}

func TestPrependedData(t *testing.T) {
	stub := bytes.Repeat([]byte("MZ self-extractor "), 100)
	buf := buildZip(stub, false, rawEntry{name: "inner", data: []byte("payload")})
	list, err := Open(buf, nil)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 1 || string(list[0].Data) != "payload" {
		t.Fatalf("bad listing %v", list)
	}
	if list[0].HeaderOffset != int64(len(stub)) {
		t.Errorf("header offset %d, want %d", list[0].HeaderOffset, len(stub))
	}
}

func TestMultiVolume(t *testing.T) {
	buf := buildZip(nil, false, rawEntry{name: "a", data: []byte("a")})
	buf[len(buf)-eocdLen+4] = 1 // number of this disk
	list, err := Info(buf, nil)
	if !errors.Is(err, ErrMultiVolume) || !errors.Is(err, entry.ErrUnsupported) || list != nil {
		t.Errorf("expected ErrMultiVolume, got %v %v", list, err)
	}
}

func TestEntryCountMismatch(t *testing.T) {
	buf := buildZip(nil, false, rawEntry{name: "a", data: []byte("a")})
	buf[len(buf)-eocdLen+10] = 2 // total entries
	if _, err := Info(buf, nil); !errors.Is(err, ErrCentralDirectory) {
		t.Errorf("expected ErrCentralDirectory, got %v", err)
	}
}

func TestUnsupportedFeatures(t *testing.T) {
	for _, tc := range []struct {
		name string
		e    rawEntry
		want error
	}{
		{"encrypted", rawEntry{flags: 1 << flagEncrypted}, ErrEncrypted},
		{"strong", rawEntry{flags: 1 << flagStrongEncrypted}, ErrEncrypted},
		{"masked", rawEntry{flags: 1 << flagMaskedDirectory}, ErrEncrypted},
		{"patch", rawEntry{flags: 1 << flagPatch}, ErrPatch},
		{"version", rawEntry{readerVersion: 64}, ErrVersion},
	} {
		t.Run(tc.name, func(t *testing.T) {
			tc.e.name, tc.e.data = "x", []byte("secret")
			buf := buildZip(nil, false, tc.e)
			list, err := Info(buf, nil)
			if !errors.Is(err, tc.want) || !errors.Is(err, entry.ErrUnsupported) || list != nil {
				t.Errorf("expected %v, got %v %v", tc.want, list, err)
			}
		})
	}
}

func TestInconsistentHeader(t *testing.T) {
	buf := buildZip(nil, false,
		rawEntry{name: "ok", data: []byte("fine")},
		rawEntry{name: "skewed", data: []byte("liar"), localTimeSkew: 1},
	)
	list, err := Info(buf, nil)
	if !errors.Is(err, ErrInconsistentHeader) || !errors.Is(err, entry.ErrCorruptHeader) || list != nil {
		t.Errorf("expected ErrInconsistentHeader, got %v %v", list, err)
	}
}

func TestLocalHeaderDisagrees(t *testing.T) {
	const extraAt = localLen + len("big") // the Zip64 field comes first
	for _, tc := range []struct {
		name   string
		damage func(b []byte)
		want   error
	}{
		{"zip64 size", func(b []byte) { binary.LittleEndian.PutUint64(b[extraAt+4:], 0xdeadbeef) }, ErrInconsistentHeader},
		{"zip64 compressed size", func(b []byte) { binary.LittleEndian.PutUint64(b[extraAt+12:], 0xdeadbeef) }, ErrInconsistentHeader},
		{"crc", func(b []byte) { b[14] ^= 1 }, ErrInconsistentHeader},
		{"version", func(b []byte) { b[4] = 64 }, ErrVersion},
	} {
		t.Run(tc.name, func(t *testing.T) {
			buf := buildZip(nil, false, rawEntry{name: "big", data: []byte("sixty-four bits"), readerVersion: 45, zip64Local: true})
			if list, err := Open(buf, nil); err != nil || list[0].Size != int64(len("sixty-four bits")) {
				t.Fatalf("undamaged archive: %v %v", list, err)
			}
			tc.damage(buf)
			list, err := Info(buf, nil)
			if !errors.Is(err, tc.want) || list != nil {
				t.Errorf("expected %v, got %v %v", tc.want, list, err)
			}
		})
	}
}

func TestLocalPlaceholdersWithDataDescriptor(t *testing.T) {
	buf := buildZip(nil, false, rawEntry{name: "a", data: []byte("a"), flags: 1 << flagDataDescriptor})
	binary.LittleEndian.PutUint32(buf[14:], 0) // crc
	binary.LittleEndian.PutUint32(buf[18:], 0) // compressed size
	binary.LittleEndian.PutUint32(buf[22:], 0) // size
	if _, err := Info(buf, nil); err != nil {
		t.Errorf("placeholder sizes are allowed before a data descriptor, got %v", err)
	}
}

func TestWrongLocalSignature(t *testing.T) {
	buf := buildZip(nil, false, rawEntry{name: "a", data: []byte("a")})
	buf[2] = 0
	if _, err := Open(buf, nil); !errors.Is(err, ErrWrongSignature) {
		t.Errorf("expected ErrWrongSignature, got %v", err)
	}
}

func TestUnsupportedMethod(t *testing.T) {
	buf := buildZip(nil, false,
		rawEntry{name: "plain", data: []byte("plain")},
		rawEntry{name: "exotic", data: []byte("????"), method: 99},
	)
	list, err := Info(buf, nil)
	if err != nil || list[1].Method != entry.Other || list[1].MethodCode != 99 {
		t.Fatalf("Info should list unknown methods: %v %v", list, err)
	}
	opened, err := Open(buf, nil)
	if !errors.Is(err, ErrCompressionNotSupported) || len(opened) != 1 {
		t.Errorf("expected ErrCompressionNotSupported after one entry, got %d %v", len(opened), err)
	}
}

func TestNameEncoding(t *testing.T) {
	for _, tc := range []struct {
		raw   string
		flags uint16
		want  string
	}{
		{"plain.txt", 0, "plain.txt"},
		{"\x81ber \x9b", 0, "über ¢"},
		{"über", 1 << flagUTF8, "über"},
		{"bad\xff%", 1 << flagUTF8, "bad%ff%25"},
	} {
		buf := buildZip(nil, false, rawEntry{name: tc.raw, flags: tc.flags})
		list, err := Info(buf, nil)
		if err != nil {
			t.Fatal(err)
		}
		if list[0].Name != tc.want {
			t.Errorf("name %q: expect %q got %q", tc.raw, tc.want, list[0].Name)
		}
	}
}

func TestMsDosTime(t *testing.T) {
	got := msDosTimeToTime(rawDosDate, rawDosTime|23<<5|59>>1)
	if got.Format("2006-01-02 15:04:05") != "2020-01-02 12:23:58" {
		t.Errorf("got %v", got)
	}
}
