package rom

import (
	"fmt"
	"log/slog"
	"unsafe"

	"golang.org/x/sync/errgroup"

	"github.com/jwiedeman/N64Soul/logutil"
	"github.com/jwiedeman/N64Soul/util"
)

type BusOptions struct {
	// Granule is the bus's minimum transfer alignment in bytes.
	Granule int

	// MaxBurst caps a single bus transfer.
	MaxBurst int

	// Limit is the bus address one past the last readable byte.
	Limit uint64

	// ScratchSize is the bounce buffer used for misaligned requests. It is
	// rounded up to a multiple of Granule.
	ScratchSize int
}

func (o *BusOptions) setDefaults() {
	if o.Granule <= 0 {
		o.Granule = DefaultGranule
	}

	if o.MaxBurst <= 0 {
		o.MaxBurst = DefaultBurst
	}

	if o.Limit == 0 {
		o.Limit = CartBase + DefaultLimit
	}

	if o.ScratchSize <= 0 {
		o.ScratchSize = 512
	}

	o.ScratchSize = int(util.AlignUp(uint(max(o.ScratchSize, 2*o.Granule)), uint(o.Granule)))
	o.MaxBurst = max(int(util.AlignDown(uint(o.MaxBurst), uint(o.Granule))), o.Granule)
}

// BusReader splits reads into bus bursts. Requests whose offset or
// destination is not granule aligned go through a scratch buffer one aligned
// window at a time. Offsets are bus addresses.
type BusReader struct {
	bus  Bus
	opts BusOptions

	scratch []byte
	pending *errgroup.Group
}

func NewBusReader(bus Bus, opts BusOptions) *BusReader {
	opts.setDefaults()
	return &BusReader{
		bus:     bus,
		opts:    opts,
		scratch: make([]byte, opts.ScratchSize),
	}
}

func (r *BusReader) Options() BusOptions { return r.opts }

func (r *BusReader) Fetch(off uint64, dst []byte) error {
	if err := r.Wait(); err != nil {
		return err
	}

	return r.fetch(off, dst)
}

// Start begins reading dst in the background. dst belongs to the reader
// until Wait returns.
func (r *BusReader) Start(off uint64, dst []byte) error {
	if err := r.Wait(); err != nil {
		return err
	}

	if err := r.check(off, len(dst)); err != nil {
		return err
	}

	r.pending = new(errgroup.Group)
	r.pending.Go(func() error {
		return r.fetch(off, dst)
	})

	return nil
}

func (r *BusReader) Wait() error {
	if r.pending == nil {
		return nil
	}

	err := r.pending.Wait()
	r.pending = nil
	return err
}

func (r *BusReader) check(off uint64, n int) error {
	end := off + uint64(n)
	if end < off || end > r.opts.Limit {
		return fmt.Errorf("%w: [%#x, %#x) limit %#x", ErrOutOfRange, off, end, r.opts.Limit)
	}

	return nil
}

func (r *BusReader) aligned(off uint64, dst []byte) bool {
	g := uint64(r.opts.Granule)
	return util.IsAligned(off, g) && util.IsAligned(uint64(uintptr(unsafe.Pointer(&dst[0]))), g)
}

func (r *BusReader) fetch(off uint64, dst []byte) error {
	if len(dst) == 0 {
		return nil
	}

	if err := r.check(off, len(dst)); err != nil {
		return err
	}

	g := uint64(r.opts.Granule)
	for len(dst) > 0 {
		var n int
		if r.aligned(off, dst) && len(dst) >= r.opts.Granule {
			n = int(util.AlignDown(uint64(min(len(dst), r.opts.MaxBurst)), g))
			if err := r.transfer(off, dst[:n]); err != nil {
				return err
			}
		} else {
			base := util.AlignDown(off, g)
			skip := int(off - base)
			n = min(len(dst), len(r.scratch)-skip)
			span := int(util.AlignUp(uint64(skip+n), g))
			logutil.Trace("rom: bounce", "off", off, "base", base, "span", span)
			if err := r.transfer(base, r.scratch[:span]); err != nil {
				return err
			}

			copy(dst[:n], r.scratch[skip:skip+n])
		}

		off += uint64(n)
		dst = dst[n:]
	}

	return nil
}

func (r *BusReader) transfer(off uint64, dst []byte) error {
	for len(dst) > 0 {
		n := min(len(dst), r.opts.MaxBurst)
		if err := r.bus.Start(off, dst[:n]); err != nil {
			slog.Debug("rom: burst start failed", "off", off, "len", n, "error", err)
			return err
		}

		if err := r.bus.Wait(); err != nil {
			return err
		}

		off += uint64(n)
		dst = dst[n:]
	}

	return nil
}
