// Package manifest reads the binary directory of named tensors inside the
// weight blob.
//
// Layout, all integers little-endian:
//
//	0   4  magic "N64W"
//	4   2  format version (1 or 2)
//	6   2  alignment
//	8   4  entry count
//	12  -  entries: u16 name length, name bytes (UTF-8), u32 offset, u32 size,
//	       and a u32 checksum when the version is 2 or later
package manifest

import (
	"encoding/binary"
	"errors"
	"unicode/utf8"
	"unsafe"
)

const (
	Magic = "N64W"

	VersionV1 uint16 = 1
	VersionV2 uint16 = 2

	HeaderSize = 12
)

var (
	ErrBadMagic    = errors.New("manifest: bad magic")
	ErrBadVersion  = errors.New("manifest: unsupported version")
	ErrTruncated   = errors.New("manifest: truncated")
	ErrInvalidText = errors.New("manifest: entry name is not valid UTF-8")
)

// Entry is one named byte range of the weight blob. Offset is relative to
// the start of the blob.
type Entry struct {
	Name   string
	Offset uint32
	Size   uint32

	// Checksum is the CRC-32 (IEEE) of the entry bytes. Only version 2
	// manifests carry one.
	Checksum    uint32
	HasChecksum bool
}

// End is the blob-relative offset one past the entry's last byte.
func (e Entry) End() uint64 {
	return uint64(e.Offset) + uint64(e.Size)
}

// View is a parsed header over the raw manifest bytes. Entries are decoded on
// demand by ForEach; nothing is copied. The bytes must not be modified while
// the view or any Entry name taken from it is in use.
type View struct {
	b []byte

	version   uint16
	alignment uint16
	count     uint32
}

// Parse checks the header of b and returns a view over it.
func Parse(b []byte) (*View, error) {
	if len(b) < HeaderSize {
		return nil, ErrTruncated
	}

	if string(b[:4]) != Magic {
		return nil, ErrBadMagic
	}

	v := &View{
		b:         b,
		version:   binary.LittleEndian.Uint16(b[4:6]),
		alignment: binary.LittleEndian.Uint16(b[6:8]),
		count:     binary.LittleEndian.Uint32(b[8:12]),
	}

	if v.version != VersionV1 && v.version != VersionV2 {
		return nil, ErrBadVersion
	}

	return v, nil
}

func (v *View) Version() uint16    { return v.version }
func (v *View) Alignment() uint16  { return v.alignment }
func (v *View) EntryCount() uint32 { return v.count }

// ForEach decodes entries in order and calls fn for each until fn returns
// false. A decode error stops the walk; entries already visited stay visited.
func (v *View) ForEach(fn func(Entry) bool) error {
	i := HeaderSize
	for range v.count {
		if i+2 > len(v.b) {
			return ErrTruncated
		}

		n := int(binary.LittleEndian.Uint16(v.b[i:]))
		i += 2

		if i+n+8 > len(v.b) {
			return ErrTruncated
		}

		name := v.b[i : i+n]
		i += n

		var e Entry
		e.Offset = binary.LittleEndian.Uint32(v.b[i:])
		e.Size = binary.LittleEndian.Uint32(v.b[i+4:])
		i += 8

		if v.version >= VersionV2 {
			if i+4 > len(v.b) {
				return ErrTruncated
			}

			e.Checksum = binary.LittleEndian.Uint32(v.b[i:])
			e.HasChecksum = true
			i += 4
		}

		if !utf8.Valid(name) {
			return ErrInvalidText
		}

		if n > 0 {
			e.Name = unsafe.String(unsafe.SliceData(name), n)
		}

		if !fn(e) {
			break
		}
	}

	return nil
}

// Find returns the first entry called name. Decode errors are reported as
// not found.
func (v *View) Find(name string) (Entry, bool) {
	var found Entry
	var ok bool
	_ = v.ForEach(func(e Entry) bool {
		if e.Name == name {
			found, ok = e, true
			return false
		}
		return true
	})
	return found, ok
}

// Entries decodes every entry into a slice.
func (v *View) Entries() ([]Entry, error) {
	entries := make([]Entry, 0, min(v.count, 1024))
	err := v.ForEach(func(e Entry) bool {
		entries = append(entries, e)
		return true
	})
	if err != nil {
		return nil, err
	}

	return entries, nil
}
