package model

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jwiedeman/N64Soul/manifest"
	"github.com/jwiedeman/N64Soul/rom"
)

const (
	metaMagic   uint32 = 0x4D45_5441
	metaVersion uint32 = 1

	MetaSize = 32
)

// Dims are the model hyperparameters.
type Dims struct {
	DModel     uint32
	Vocab      uint32
	NLayer     uint32
	NHead      uint32
	NPositions uint32
	DFF        uint32
}

// FallbackDims is used when the manifest carries no usable model_meta.
func FallbackDims() Dims {
	return Dims{
		DModel:     768,
		Vocab:      50257,
		NLayer:     6,
		NHead:      12,
		NPositions: 1024,
		DFF:        3072,
	}
}

var ErrHeadSplit = errors.New("model: d_model is not divisible by n_head")

// HeadDim is the width of one attention head.
func (d Dims) HeadDim() (uint32, error) {
	if d.NHead == 0 || d.DModel%d.NHead != 0 {
		return 0, fmt.Errorf("%w: d_model=%d n_head=%d", ErrHeadSplit, d.DModel, d.NHead)
	}
	return d.DModel / d.NHead, nil
}

// Validate rejects zero dimensions.
func (d Dims) Validate() error {
	var errs []error
	for _, f := range []struct {
		name string
		v    uint32
	}{
		{"d_model", d.DModel},
		{"vocab_size", d.Vocab},
		{"n_layer", d.NLayer},
		{"n_head", d.NHead},
		{"n_positions", d.NPositions},
		{"d_ff", d.DFF},
	} {
		if f.v == 0 {
			errs = append(errs, fmt.Errorf("model: %s must be positive", f.name))
		}
	}
	return errors.Join(errs...)
}

func (d Dims) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Any("d_model", d.DModel),
		slog.Any("vocab", d.Vocab),
		slog.Any("n_layer", d.NLayer),
		slog.Any("n_head", d.NHead),
		slog.Any("n_positions", d.NPositions),
		slog.Any("d_ff", d.DFF),
	)
}

// MarshalMeta encodes d as a model_meta record.
func (d Dims) MarshalMeta() []byte {
	b := make([]byte, 0, MetaSize)
	for _, v := range []uint32{metaMagic, metaVersion, d.DModel, d.Vocab, d.NLayer, d.NHead, d.NPositions, d.DFF} {
		b = binary.LittleEndian.AppendUint32(b, v)
	}
	return b
}

var (
	errMetaMagic   = errors.New("model: bad model_meta magic")
	errMetaVersion = errors.New("model: unsupported model_meta version")
)

// UnmarshalMeta decodes a model_meta record.
func UnmarshalMeta(b []byte) (Dims, error) {
	if len(b) < MetaSize {
		return Dims{}, fmt.Errorf("model: model_meta is %d bytes, want %d", len(b), MetaSize)
	}

	u := func(i int) uint32 { return binary.LittleEndian.Uint32(b[i*4:]) }
	if u(0) != metaMagic {
		return Dims{}, errMetaMagic
	}

	if u(1) != metaVersion {
		return Dims{}, errMetaVersion
	}

	return Dims{
		DModel:     u(2),
		Vocab:      u(3),
		NLayer:     u(4),
		NHead:      u(5),
		NPositions: u(6),
		DFF:        u(7),
	}, nil
}

type DimsSource string

const (
	DimsFromMeta     DimsSource = "model_meta"
	DimsFromFallback DimsSource = "fallback"
)

// LoadDims reads model_meta through src, which takes blob-relative offsets.
// Any problem with the record yields FallbackDims.
func LoadDims(src rom.Reader, v *manifest.View) (Dims, DimsSource) {
	e, ok := v.Find(Meta)
	if !ok {
		return FallbackDims(), DimsFromFallback
	}

	if e.Size < MetaSize {
		slog.Warn("model_meta too short, using fallback dims", "size", e.Size)
		return FallbackDims(), DimsFromFallback
	}

	var buf [MetaSize]byte
	if err := src.Fetch(uint64(e.Offset), buf[:]); err != nil {
		slog.Warn("model_meta unreadable, using fallback dims", "error", err)
		return FallbackDims(), DimsFromFallback
	}

	d, err := UnmarshalMeta(buf[:])
	if err == nil {
		err = d.Validate()
	}

	if err != nil {
		slog.Warn("model_meta rejected, using fallback dims", "error", err)
		return FallbackDims(), DimsFromFallback
	}

	return d, DimsFromMeta
}
