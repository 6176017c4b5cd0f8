package engine

import (
	"encoding/binary"
	"math"

	"github.com/chewxy/math32"
)

const layerNormEps = 1e-5

func f32(b []byte) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(b))
}

// layerNorm normalizes x in place to zero mean and unit variance, then
// applies gamma and beta.
func layerNorm(x, gamma, beta []float32) {
	n := float32(len(x))

	var mean float32
	for _, v := range x {
		mean += v
	}
	mean /= n

	var variance float32
	for _, v := range x {
		d := v - mean
		variance += d * d
	}
	variance /= n

	inv := 1 / math32.Sqrt(variance+layerNormEps)
	for i, v := range x {
		x[i] = (v-mean)*inv*gamma[i] + beta[i]
	}
}

// expApprox is a four term Taylor series for e^x. The argument is halved
// until |x| <= 0.5 and the result squared back up.
func expApprox(x float32) float32 {
	if x > 88 {
		return math32.Inf(1)
	}
	if x < -88 {
		return 0
	}

	var k int
	for math32.Abs(x) > 0.5 {
		x /= 2
		k++
	}

	y := 1 + x + x*x/2 + x*x*x/6 + x*x*x*x/24
	for range k {
		y *= y
	}
	return y
}

func tanhApprox(x float32) float32 {
	switch {
	case x > 9:
		return 1
	case x < -9:
		return -1
	}

	e := expApprox(2 * x)
	return (e - 1) / (e + 1)
}

var sqrt2OverPi = math32.Sqrt(2 / math.Pi)

func gelu(x float32) float32 {
	return 0.5 * x * (1 + tanhApprox(sqrt2OverPi*(x+0.044715*x*x*x)))
}

// softmax32 normalizes x in place. It reports false when the denominator
// is not a positive finite number.
func softmax32(x []float32) bool {
	m := math32.Inf(-1)
	for _, v := range x {
		m = max(m, v)
	}

	var sum float32
	for i, v := range x {
		x[i] = expApprox(v - m)
		sum += x[i]
	}

	if !(sum > 0) || math32.IsInf(sum, 0) {
		return false
	}

	for i := range x {
		x[i] /= sum
	}
	return true
}
