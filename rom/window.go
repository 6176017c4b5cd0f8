package rom

import "fmt"

// Window places the weight blob on the bus. Everything above the rom package
// works in blob-relative offsets; CartOffset is the only conversion.
type Window struct {
	// Base is the bus address of the first blob byte.
	Base uint64

	// Size is the blob length in bytes.
	Size uint64
}

func (w Window) CartOffset(rel uint64) uint64 {
	return w.Base + rel
}

func (w Window) Contains(rel, n uint64) bool {
	end := rel + n
	return end >= rel && end <= w.Size
}

// Bind returns a reader that takes blob-relative offsets.
func (w Window) Bind(r Reader) *Weights {
	return &Weights{w: w, r: Async(r)}
}

// Weights reads the blob through a Window.
type Weights struct {
	w Window
	r AsyncReader
}

func (b *Weights) Window() Window { return b.w }

func (b *Weights) Size() uint64 { return b.w.Size }

func (b *Weights) Fetch(rel uint64, dst []byte) error {
	if !b.w.Contains(rel, uint64(len(dst))) {
		return b.rangeErr(rel, len(dst))
	}

	return b.r.Fetch(b.w.CartOffset(rel), dst)
}

func (b *Weights) Start(rel uint64, dst []byte) error {
	if !b.w.Contains(rel, uint64(len(dst))) {
		return b.rangeErr(rel, len(dst))
	}

	return b.r.Start(b.w.CartOffset(rel), dst)
}

func (b *Weights) Wait() error {
	return b.r.Wait()
}

func (b *Weights) rangeErr(rel uint64, n int) error {
	return fmt.Errorf("%w: blob range [%d, %d) of %d", ErrOutOfRange, rel, rel+uint64(n), b.w.Size)
}
