package sample

import (
	"errors"

	"gonum.org/v1/gonum/floats"
)

var ErrEmpty = errors.New("sample: no logits")

// Sampler picks a token id from a probability or logit vector.
type Sampler interface {
	Sample([]float64) (uint32, error)
}

type greedy struct{}

func Greedy() Sampler {
	return greedy{}
}

// Sample returns the index of the largest value. Ties go to the lowest
// index.
func (greedy) Sample(t []float64) (uint32, error) {
	if len(t) == 0 {
		return 0, ErrEmpty
	}
	return uint32(floats.MaxIdx(t)), nil
}
