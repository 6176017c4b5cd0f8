package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAlignUp(t *testing.T) {
	cases := []struct {
		v, align, want uint64
	}{
		{0, 64, 0},
		{1, 64, 64},
		{63, 64, 64},
		{64, 64, 64},
		{65, 64, 128},
		{7, 0, 7},
		{7, 1, 7},
		{7, 3, 9},
	}

	for _, tt := range cases {
		assert.Equal(t, tt.want, AlignUp(tt.v, tt.align), "AlignUp(%d, %d)", tt.v, tt.align)
	}
}

func TestAlignDown(t *testing.T) {
	assert.Equal(t, uint32(128), AlignDown(uint32(130), 64))
	assert.Equal(t, uint32(130), AlignDown(uint32(130), 1))
	assert.Equal(t, uintptr(2), AlignDown(uintptr(3), 2))
}

func TestIsAligned(t *testing.T) {
	assert.True(t, IsAligned(uint16(128), 64))
	assert.False(t, IsAligned(uint16(130), 64))
	assert.True(t, IsAligned(uint16(130), 0))
}
