package manifest

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"unicode/utf8"
)

// Encode writes a manifest in the given version. Checksums are emitted for
// version 2 and later and ignored otherwise.
func Encode(version, alignment uint16, entries []Entry) ([]byte, error) {
	if version != VersionV1 && version != VersionV2 {
		return nil, ErrBadVersion
	}

	if uint64(len(entries)) > math.MaxUint32 {
		return nil, fmt.Errorf("manifest: too many entries: %d", len(entries))
	}

	var b bytes.Buffer
	b.WriteString(Magic)
	b.Write(binary.LittleEndian.AppendUint16(nil, version))
	b.Write(binary.LittleEndian.AppendUint16(nil, alignment))
	b.Write(binary.LittleEndian.AppendUint32(nil, uint32(len(entries))))

	for _, e := range entries {
		if len(e.Name) > math.MaxUint16 {
			return nil, fmt.Errorf("manifest: name too long: %d bytes", len(e.Name))
		}

		if !utf8.ValidString(e.Name) {
			return nil, ErrInvalidText
		}

		var rec []byte
		rec = binary.LittleEndian.AppendUint16(rec, uint16(len(e.Name)))
		rec = append(rec, e.Name...)
		rec = binary.LittleEndian.AppendUint32(rec, e.Offset)
		rec = binary.LittleEndian.AppendUint32(rec, e.Size)
		if version >= VersionV2 {
			rec = binary.LittleEndian.AppendUint32(rec, e.Checksum)
		}
		b.Write(rec)
	}

	return b.Bytes(), nil
}
