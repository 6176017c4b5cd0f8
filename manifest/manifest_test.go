package manifest

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleEntries() []Entry {
	return []Entry{
		{Name: "tok_embeddings", Offset: 0, Size: 4096},
		{Name: "pos_embeddings", Offset: 4096, Size: 1024},
		{Name: "layer0.ln1.weight", Offset: 5120, Size: 64},
		{Name: "", Offset: 5184, Size: 0},
		{Name: "lm_head", Offset: 5184, Size: 8192},
	}
}

func TestRoundTrip(t *testing.T) {
	cases := []struct {
		name    string
		version uint16
	}{
		{"v1", VersionV1},
		{"v2", VersionV2},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			want := sampleEntries()
			if tt.version >= VersionV2 {
				for i := range want {
					want[i].Checksum = uint32(0xdead0000 + i)
					want[i].HasChecksum = true
				}
			}

			b, err := Encode(tt.version, 64, want)
			require.NoError(t, err)

			v, err := Parse(b)
			require.NoError(t, err)
			assert.Equal(t, tt.version, v.Version())
			assert.Equal(t, uint16(64), v.Alignment())
			assert.Equal(t, uint32(len(want)), v.EntryCount())

			got, err := v.Entries()
			require.NoError(t, err)
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("entries mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEncodeV1DropsChecksum(t *testing.T) {
	b, err := Encode(VersionV1, 1, []Entry{{Name: "a", Size: 1, Checksum: 7, HasChecksum: true}})
	require.NoError(t, err)
	assert.Len(t, b, HeaderSize+2+1+8)

	v, err := Parse(b)
	require.NoError(t, err)
	e, ok := v.Find("a")
	require.True(t, ok)
	assert.False(t, e.HasChecksum)
	assert.Zero(t, e.Checksum)
}

func TestParseErrors(t *testing.T) {
	good, err := Encode(VersionV2, 64, sampleEntries())
	require.NoError(t, err)

	badVersion := append([]byte(nil), good...)
	binary.LittleEndian.PutUint16(badVersion[4:], 3)

	cases := []struct {
		name string
		b    []byte
		want error
	}{
		{"empty", nil, ErrTruncated},
		{"short header", good[:HeaderSize-1], ErrTruncated},
		{"magic", append([]byte("N64X"), good[4:]...), ErrBadMagic},
		{"version", badVersion, ErrBadVersion},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.b)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestForEachTruncated(t *testing.T) {
	good, err := Encode(VersionV2, 64, sampleEntries())
	require.NoError(t, err)

	// every cut inside the entry table must fail, never panic
	for n := HeaderSize; n < len(good); n++ {
		v, err := Parse(good[:n])
		require.NoError(t, err)

		_, err = v.Entries()
		assert.ErrorIs(t, err, ErrTruncated, "cut at %d", n)
	}
}

func TestForEachChecksumTruncated(t *testing.T) {
	b, err := Encode(VersionV2, 1, []Entry{{Name: "x", Size: 1}})
	require.NoError(t, err)

	// name and offset/size present, checksum missing
	v, err := Parse(b[:len(b)-4])
	require.NoError(t, err)

	var calls int
	err = v.ForEach(func(Entry) bool { calls++; return true })
	assert.ErrorIs(t, err, ErrTruncated)
	assert.Zero(t, calls)
}

func TestForEachInvalidText(t *testing.T) {
	b, err := Encode(VersionV1, 1, []Entry{{Name: "ab", Size: 1}})
	require.NoError(t, err)
	b[HeaderSize+2] = 0xff

	v, err := Parse(b)
	require.NoError(t, err)

	_, err = v.Entries()
	assert.ErrorIs(t, err, ErrInvalidText)
}

func TestForEachStops(t *testing.T) {
	b, err := Encode(VersionV2, 64, sampleEntries())
	require.NoError(t, err)

	v, err := Parse(b)
	require.NoError(t, err)

	var seen []string
	require.NoError(t, v.ForEach(func(e Entry) bool {
		seen = append(seen, e.Name)
		return len(seen) < 2
	}))
	assert.Equal(t, []string{"tok_embeddings", "pos_embeddings"}, seen)
}

func TestFind(t *testing.T) {
	entries := sampleEntries()
	entries = append(entries, Entry{Name: "tok_embeddings", Offset: 9999, Size: 1})

	b, err := Encode(VersionV1, 1, entries)
	require.NoError(t, err)
	v, err := Parse(b)
	require.NoError(t, err)

	e, ok := v.Find("tok_embeddings")
	require.True(t, ok)
	assert.Equal(t, uint32(0), e.Offset, "first match wins")

	e, ok = v.Find("lm_head")
	require.True(t, ok)
	assert.Equal(t, uint64(5184+8192), e.End())

	_, ok = v.Find("missing")
	assert.False(t, ok)
}

func TestFindAfterCorruptEntry(t *testing.T) {
	b, err := Encode(VersionV1, 1, []Entry{{Name: "a"}, {Name: "b"}})
	require.NoError(t, err)

	// cut the second entry short
	v, err := Parse(b[:len(b)-3])
	require.NoError(t, err)

	_, ok := v.Find("a")
	assert.True(t, ok)
	_, ok = v.Find("b")
	assert.False(t, ok)
}

func TestEncodeErrors(t *testing.T) {
	_, err := Encode(9, 1, nil)
	assert.ErrorIs(t, err, ErrBadVersion)

	_, err = Encode(VersionV1, 1, []Entry{{Name: string([]byte{0xc3, 0x28})}})
	assert.ErrorIs(t, err, ErrInvalidText)

	_, err = Encode(VersionV1, 1, []Entry{{Name: string(make([]byte, 1<<16))}})
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		align   uint16
		entries []Entry
		size    uint64
		reasons int
	}{
		{"ok", 64, sampleEntries()[:3], 8192, 0},
		{"unaligned", 64, []Entry{{Name: "a", Offset: 3, Size: 1}}, 64, 1},
		{"out of order", 1, []Entry{{Name: "a", Offset: 8, Size: 1}, {Name: "b", Offset: 4, Size: 1}}, 64, 1},
		{"past end", 1, []Entry{{Name: "a", Offset: 60, Size: 8}}, 64, 1},
		{"everything", 16, []Entry{{Name: "a", Offset: 32}, {Name: "b", Offset: 17, Size: 100}}, 64, 3},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			b, err := Encode(VersionV1, tt.align, tt.entries)
			require.NoError(t, err)
			v, err := Parse(b)
			require.NoError(t, err)

			err = Validate(v, tt.size)
			if tt.reasons == 0 {
				assert.NoError(t, err)
				return
			}

			require.Error(t, err)
			joined, ok := err.(interface{ Unwrap() []error })
			require.True(t, ok)
			assert.Len(t, joined.Unwrap(), tt.reasons)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.NotEmpty(t, verr.Reason)
		})
	}
}
