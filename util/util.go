package util

import "golang.org/x/exp/constraints"

// AlignUp rounds v up to the next multiple of align. An align of zero or one
// leaves v unchanged. The caller is responsible for overflow.
func AlignUp[T constraints.Unsigned](v, align T) T {
	if align <= 1 {
		return v
	}

	if r := v % align; r != 0 {
		v += align - r
	}

	return v
}

// AlignDown rounds v down to a multiple of align.
func AlignDown[T constraints.Unsigned](v, align T) T {
	if align <= 1 {
		return v
	}

	return v - v%align
}

// IsAligned reports whether v is a multiple of align.
func IsAligned[T constraints.Unsigned](v, align T) bool {
	return align <= 1 || v%align == 0
}
