package rom

import (
	"errors"
	"fmt"
	"io"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sync/errgroup"

	"github.com/jwiedeman/N64Soul/util"
)

// Bus issues single DMA transfers on the cartridge bus. Start must be given a
// cart offset and destination that are both multiples of the bus granule and
// at most one burst long. Only one transfer may be in flight.
type Bus interface {
	Start(cartOff uint64, dst []byte) error
	Wait() error
}

// SimBus emulates the PI bus over a ROM image. Cart offset Base maps to image
// offset zero.
type SimBus struct {
	Image io.ReaderAt
	Base  uint64

	// Size is the number of addressable bytes. Reads past the end of Image
	// but inside Size return zeros; the real bus returns open-bus values.
	Size uint64

	Granule  int
	MaxBurst int

	// Latency is added to every transfer.
	Latency time.Duration

	transfers atomic.Uint64
	bytes     atomic.Uint64

	inflight *errgroup.Group
}

// NewSimBus maps image at CartBase with the default granule and burst size.
func NewSimBus(image []byte) *SimBus {
	return &SimBus{
		Image:    readerAt(image),
		Base:     CartBase,
		Size:     uint64(len(image)),
		Granule:  DefaultGranule,
		MaxBurst: DefaultBurst,
	}
}

type readerAt []byte

func (b readerAt) ReadAt(p []byte, off int64) (int, error) {
	if off >= int64(len(b)) {
		return 0, io.EOF
	}

	n := copy(p, b[off:])
	if n < len(p) {
		return n, io.EOF
	}

	return n, nil
}

func (s *SimBus) Start(cartOff uint64, dst []byte) error {
	if err := s.Wait(); err != nil {
		return err
	}

	if len(dst) == 0 {
		return nil
	}

	g := uint64(max(s.Granule, 1))
	if !util.IsAligned(cartOff, g) || !util.IsAligned(uint64(uintptr(unsafe.Pointer(&dst[0]))), g) {
		return fmt.Errorf("%w: offset %#x", ErrMisaligned, cartOff)
	}

	if s.MaxBurst > 0 && len(dst) > s.MaxBurst {
		return fmt.Errorf("%w: %d byte burst exceeds %d", ErrTransfer, len(dst), s.MaxBurst)
	}

	if cartOff < s.Base || cartOff-s.Base+uint64(len(dst)) > util.AlignUp(s.Size, g) {
		return fmt.Errorf("%w: cart offset %#x", ErrOutOfRange, cartOff)
	}

	off := int64(cartOff - s.Base)
	s.inflight = new(errgroup.Group)
	s.inflight.Go(func() error {
		if s.Latency > 0 {
			time.Sleep(s.Latency)
		}

		n, err := s.Image.ReadAt(dst, off)
		if errors.Is(err, io.EOF) {
			clear(dst[n:])
			err = nil
		}

		if err != nil {
			return err
		}

		s.transfers.Add(1)
		s.bytes.Add(uint64(len(dst)))
		return nil
	})

	return nil
}

func (s *SimBus) Wait() error {
	if s.inflight == nil {
		return nil
	}

	err := s.inflight.Wait()
	s.inflight = nil
	if err != nil {
		return fmt.Errorf("%w: %w", ErrTransfer, err)
	}

	return nil
}

// Transfers is the number of completed transfers.
func (s *SimBus) Transfers() uint64 { return s.transfers.Load() }

// Bytes is the number of bytes moved by completed transfers.
func (s *SimBus) Bytes() uint64 { return s.bytes.Load() }
