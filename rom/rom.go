// Package rom reads bytes from the read-only cartridge medium.
//
// Offsets passed to a Reader are absolute cart-bus offsets unless a Window
// has bound the reader to the weight blob, in which case they are relative to
// the blob start.
package rom

import (
	"errors"
	"fmt"
)

const (
	// CartBase is where the cartridge is mapped on the PI bus.
	CartBase uint64 = 0x1000_0000

	// DefaultLimit is the highest cart offset reads may touch.
	DefaultLimit uint64 = 480 << 20

	DefaultBurst   = 32 << 10
	DefaultGranule = 2
)

var (
	ErrOutOfRange = errors.New("rom: read beyond address ceiling")
	ErrTransfer   = errors.New("rom: transfer failed")
	ErrMisaligned = errors.New("rom: misaligned transfer")
)

// Reader fills dst with the bytes at off. It blocks until the transfer has
// completed.
type Reader interface {
	Fetch(off uint64, dst []byte) error
}

// AsyncReader can issue a transfer and collect its result later. At most one
// transfer is outstanding; Start on a busy reader waits for the previous one.
// dst must not be touched between Start and Wait.
type AsyncReader interface {
	Reader
	Start(off uint64, dst []byte) error
	Wait() error
}

// MemReader serves reads from a byte slice. Offsets are indexes into the
// slice.
type MemReader []byte

func (m MemReader) Fetch(off uint64, dst []byte) error {
	end := off + uint64(len(dst))
	if end < off || end > uint64(len(m)) {
		return fmt.Errorf("%w: [%d, %d) of %d", ErrOutOfRange, off, end, len(m))
	}

	copy(dst, m[off:end])
	return nil
}

// Async returns r itself if it can already overlap transfers, and otherwise
// an adapter that performs the whole read in Start.
func Async(r Reader) AsyncReader {
	if ar, ok := r.(AsyncReader); ok {
		return ar
	}

	return &syncReader{Reader: r}
}

type syncReader struct {
	Reader
	err error
}

func (s *syncReader) Start(off uint64, dst []byte) error {
	s.err = s.Fetch(off, dst)
	return nil
}

func (s *syncReader) Wait() error {
	err := s.err
	s.err = nil
	return err
}
