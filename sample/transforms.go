package sample

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
)

var ErrDegenerate = errors.New("sample: softmax denominator is not positive")

// Softmax replaces logits with probabilities in place.
func Softmax(logits []float64) error {
	if len(logits) == 0 {
		return ErrEmpty
	}

	// subtracting max logit to avoid under/overflow
	floats.AddConst(-floats.Max(logits), logits)
	for i, v := range logits {
		logits[i] = math.Exp(v)
	}

	sum := floats.Sum(logits)
	if !(sum > 0) || math.IsInf(sum, 0) {
		return ErrDegenerate
	}

	floats.Scale(1/sum, logits)
	return nil
}
