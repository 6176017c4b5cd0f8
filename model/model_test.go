package model

import (
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwiedeman/N64Soul/manifest"
	"github.com/jwiedeman/N64Soul/rom"
)

func TestParseLayerName(t *testing.T) {
	cases := []struct {
		name  string
		index int
		field string
		ok    bool
	}{
		{"layer0.ln1.weight", 0, "ln1.weight", true},
		{"layer12.attn.qkv.bias", 12, "attn.qkv.bias", true},
		{"layer.ln1.weight", 0, "", false},
		{"layer-1.ln1.weight", 0, "", false},
		{"layer+1.ln1.weight", 0, "", false},
		{"layer3", 0, "", false},
		{"layer3.", 0, "", false},
		{"lm_head", 0, "", false},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			index, field, ok := ParseLayerName(tt.name)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.index, index)
			assert.Equal(t, tt.field, field)
		})
	}
}

func TestRoles(t *testing.T) {
	for r := range NumRoles {
		got, ok := RoleForField(r.String())
		require.True(t, ok, r.String())
		assert.Equal(t, r, got)

		n, field, ok := ParseLayerName(LayerName(7, r))
		require.True(t, ok)
		assert.Equal(t, 7, n)
		assert.Equal(t, r.String(), field)
	}

	_, ok := RoleForField("attn.qkv")
	assert.False(t, ok)
	assert.Equal(t, "Role(12)", NumRoles.String())
}

func TestHeadDim(t *testing.T) {
	d := Dims{DModel: 8, NHead: 2}
	hd, err := d.HeadDim()
	require.NoError(t, err)
	assert.Equal(t, uint32(4), hd)

	_, err = Dims{DModel: 8, NHead: 3}.HeadDim()
	assert.ErrorIs(t, err, ErrHeadSplit)

	_, err = Dims{DModel: 8}.HeadDim()
	assert.ErrorIs(t, err, ErrHeadSplit)
}

func TestMetaRoundTrip(t *testing.T) {
	want := Dims{DModel: 4, Vocab: 5, NLayer: 1, NHead: 2, NPositions: 8, DFF: 8}
	b := want.MarshalMeta()
	require.Len(t, b, MetaSize)
	assert.Equal(t, uint32(0x4D455441), binary.LittleEndian.Uint32(b))

	got, err := UnmarshalMeta(b)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

type blob struct {
	entries []manifest.Entry
	data    []byte
}

func (b *blob) add(name string, p []byte) {
	off := len(b.data)
	b.entries = append(b.entries, manifest.Entry{Name: name, Offset: uint32(off), Size: uint32(len(p))})
	b.data = append(b.data, p...)
}

func (b *blob) view(t *testing.T) *manifest.View {
	t.Helper()
	m, err := manifest.Encode(manifest.VersionV1, 1, b.entries)
	require.NoError(t, err)
	v, err := manifest.Parse(m)
	require.NoError(t, err)
	return v
}

func TestLoadDims(t *testing.T) {
	good := Dims{DModel: 4, Vocab: 5, NLayer: 1, NHead: 2, NPositions: 8, DFF: 8}

	badMagic := good.MarshalMeta()
	badMagic[0] ^= 0xff

	badVersion := good.MarshalMeta()
	binary.LittleEndian.PutUint32(badVersion[4:], 2)

	zero := Dims{DModel: 4}.MarshalMeta()

	cases := []struct {
		name   string
		meta   []byte
		want   Dims
		source DimsSource
	}{
		{"meta", good.MarshalMeta(), good, DimsFromMeta},
		{"padded", append(good.MarshalMeta(), 0, 0, 0, 0), good, DimsFromMeta},
		{"missing", nil, FallbackDims(), DimsFromFallback},
		{"short", good.MarshalMeta()[:31], FallbackDims(), DimsFromFallback},
		{"magic", badMagic, FallbackDims(), DimsFromFallback},
		{"version", badVersion, FallbackDims(), DimsFromFallback},
		{"zero dims", zero, FallbackDims(), DimsFromFallback},
	}

	for _, tt := range cases {
		t.Run(tt.name, func(t *testing.T) {
			var b blob
			b.add(TokEmbeddings, make([]byte, 16))
			if tt.meta != nil {
				b.add(Meta, tt.meta)
			}

			dims, source := LoadDims(rom.MemReader(b.data), b.view(t))
			assert.Equal(t, tt.want, dims)
			assert.Equal(t, tt.source, source)
		})
	}
}

func TestLoadDimsUnreadable(t *testing.T) {
	var b blob
	b.add(Meta, Dims{DModel: 4, Vocab: 5, NLayer: 1, NHead: 2, NPositions: 8, DFF: 8}.MarshalMeta())

	dims, source := LoadDims(rom.MemReader(b.data[:16]), b.view(t))
	assert.Equal(t, FallbackDims(), dims)
	assert.Equal(t, DimsFromFallback, source)
}

func addLayer(b *blob, n int, skip ...Role) {
	for r := range NumRoles {
		if !containsRole(skip, r) {
			b.add(LayerName(n, r), []byte{byte(n), byte(r), 0, 0})
		}
	}
}

func containsRole(rs []Role, r Role) bool {
	for _, x := range rs {
		if x == r {
			return true
		}
	}
	return false
}

func TestBuildPlan(t *testing.T) {
	var b blob
	b.add(TokEmbeddings, make([]byte, 4))
	addLayer(&b, 10)
	addLayer(&b, 2)
	addLayer(&b, 5, QKVBias, FFNOutWeight)
	b.add("layer2.unknown", make([]byte, 4))
	b.add("misc", make([]byte, 4))
	addLayer(&b, 1)
	b.add(LMHead, make([]byte, 4))

	p, err := BuildPlan(b.view(t))
	require.NoError(t, err)

	var order []int
	for _, l := range p.Layers {
		order = append(order, l.Index)
		for r := range NumRoles {
			tensor := l.Get(r)
			assert.Equal(t, LayerName(l.Index, r), tensor.Name)
			assert.Equal(t, b.entries[tensor.Index], tensor.Entry)
		}
	}
	assert.Equal(t, []int{1, 2, 10}, order)

	if diff := cmp.Diff([]DroppedLayer{{Index: 5, Missing: []Role{QKVBias, FFNOutWeight}}}, p.Dropped); diff != "" {
		t.Errorf("dropped mismatch (-want +got):\n%s", diff)
	}

	tok, ok := p.Fixed(TokEmbeddings)
	require.True(t, ok)
	assert.Equal(t, 0, tok.Index)

	head, ok := p.Fixed(LMHead)
	require.True(t, ok)
	assert.Equal(t, len(b.entries)-1, head.Index)

	_, ok = p.Fixed(FinalNormWeight)
	assert.False(t, ok)
}

func TestBuildPlanEmpty(t *testing.T) {
	var b blob
	b.add("something", make([]byte, 4))

	p, err := BuildPlan(b.view(t))
	require.NoError(t, err)
	assert.Empty(t, p.Layers)
	assert.Empty(t, p.Dropped)
}

func TestBuildPlanFirstWins(t *testing.T) {
	var b blob
	addLayer(&b, 0)
	b.add(LayerName(0, LN1Weight), make([]byte, 8))
	b.add(LMHead, make([]byte, 4))
	b.add(LMHead, make([]byte, 8))

	p, err := BuildPlan(b.view(t))
	require.NoError(t, err)
	require.Len(t, p.Layers, 1)
	assert.Equal(t, uint32(4), p.Layers[0].Get(LN1Weight).Size)

	head, _ := p.Fixed(LMHead)
	assert.Equal(t, uint32(4), head.Size)
}

func TestBuildPlanTruncated(t *testing.T) {
	var b blob
	addLayer(&b, 0)
	m, err := manifest.Encode(manifest.VersionV1, 1, b.entries)
	require.NoError(t, err)

	v, err := manifest.Parse(m[:len(m)-1])
	require.NoError(t, err)

	_, err = BuildPlan(v)
	assert.ErrorIs(t, err, manifest.ErrTruncated)
}
