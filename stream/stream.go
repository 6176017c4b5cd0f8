package stream

import (
	"errors"
	"hash/crc32"
	"io"
	"log/slog"
	"time"

	"github.com/jwiedeman/N64Soul/arena"
	"github.com/jwiedeman/N64Soul/format"
	"github.com/jwiedeman/N64Soul/logutil"
	"github.com/jwiedeman/N64Soul/manifest"
	"github.com/jwiedeman/N64Soul/rom"
)

// Stats describes one streamed range.
type Stats struct {
	Bytes  uint64
	Bursts uint32

	// Transfer is time spent waiting on the bus, Compute time spent in the
	// consumer.
	Transfer time.Duration
	Compute  time.Duration
}

func (s *Stats) Add(o Stats) {
	s.Bytes += o.Bytes
	s.Bursts += o.Bursts
	s.Transfer += o.Transfer
	s.Compute += o.Compute
}

// Bandwidth is bytes per second of transfer time.
func (s Stats) Bandwidth() float64 {
	if s.Transfer <= 0 {
		return 0
	}
	return float64(s.Bytes) / s.Transfer.Seconds()
}

// TransferShare is the percentage of total time spent on transfers.
func (s Stats) TransferShare() uint64 {
	return format.Percent(uint64(s.Transfer), uint64(s.Transfer+s.Compute))
}

func (s Stats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.String("bytes", format.HumanBytes2(s.Bytes)),
		slog.Any("bursts", s.Bursts),
		slog.Duration("transfer", s.Transfer),
		slog.Duration("compute", s.Compute),
	)
}

type Options struct {
	// BurstsPerRefresh is how many bursts pass between Progress calls.
	BurstsPerRefresh int

	// Progress, when set, is called with the bytes consumed so far. It is
	// always called once after the final burst.
	Progress func(done, total uint64)
}

// Entry streams [start, start+length) through a and b, calling fn with each
// block in order. The transfer of block N+1 is started before fn sees block
// N. Streaming stops at the first error from the source or from fn.
func Entry(src rom.AsyncReader, start, length uint64, a, b []byte, fn func([]byte) error) (Stats, error) {
	return Layer(src, start, length, a, b, Options{}, fn)
}

// Layer is Entry with progress reporting.
func Layer(src rom.AsyncReader, start, length uint64, a, b []byte, opts Options, fn func([]byte) error) (stats Stats, err error) {
	t0 := time.Now()
	p, err := NewPrefetcher(src, start, length, a, b)
	stats.Transfer += time.Since(t0)
	if err != nil {
		return stats, err
	}
	defer func() {
		if cerr := p.Close(); err == nil {
			err = cerr
		}
	}()

	every := max(opts.BurstsPerRefresh, 1)
	for {
		t0 := time.Now()
		block, err := p.Next()
		stats.Transfer += time.Since(t0)
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return stats, err
		}

		t0 = time.Now()
		err = fn(block)
		stats.Compute += time.Since(t0)
		if err != nil {
			return stats, err
		}

		stats.Bytes += uint64(len(block))
		stats.Bursts++
		logutil.Trace("stream: burst", "n", stats.Bursts, "len", len(block))

		if opts.Progress != nil && stats.Bursts%uint32(every) == 0 && stats.Bytes < length {
			opts.Progress(stats.Bytes, length)
		}
	}

	if opts.Progress != nil {
		opts.Progress(stats.Bytes, length)
	}

	return stats, nil
}

// AllocBuffers carves a stream buffer pair of size bytes each from a.
func AllocBuffers(a *arena.Arena, size int) ([]byte, []byte, error) {
	x, err := a.Alloc(size, 16)
	if err != nil {
		return nil, nil, err
	}

	y, err := a.Alloc(size, 16)
	if err != nil {
		return nil, nil, err
	}

	return x, y, nil
}

// Checksum computes the CRC-32 (IEEE) of one manifest entry.
func Checksum(src rom.AsyncReader, e manifest.Entry, a, b []byte) (uint32, Stats, error) {
	var crc uint32
	stats, err := Entry(src, uint64(e.Offset), uint64(e.Size), a, b, func(p []byte) error {
		crc = crc32.Update(crc, crc32.IEEETable, p)
		return nil
	})
	return crc, stats, err
}

// ChecksumAll computes one CRC-32 over the bytes of every entry, in manifest
// order.
func ChecksumAll(src rom.AsyncReader, v *manifest.View, a, b []byte) (uint32, Stats, error) {
	var crc uint32
	var total Stats
	var serr error
	err := v.ForEach(func(e manifest.Entry) bool {
		stats, err := Entry(src, uint64(e.Offset), uint64(e.Size), a, b, func(p []byte) error {
			crc = crc32.Update(crc, crc32.IEEETable, p)
			return nil
		})
		total.Add(stats)
		if err != nil {
			serr = err
			return false
		}
		return true
	})

	return crc, total, errors.Join(err, serr)
}
