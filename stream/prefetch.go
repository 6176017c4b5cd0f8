// Package stream moves byte ranges off the cartridge through a pair of
// buffers, so that one buffer is being filled while the other is consumed.
package stream

import (
	"errors"
	"io"

	"github.com/jwiedeman/N64Soul/rom"
)

var ErrBuffers = errors.New("stream: buffers must be non-empty and the same size")

// Prefetcher hands out consecutive blocks of [start, start+length). Each
// call to Next starts the transfer of the following block before returning,
// so the caller's work on one block overlaps the transfer of the next.
//
// A block returned by Next is valid until the following call to Next or
// Close.
type Prefetcher struct {
	src  rom.AsyncReader
	bufs [2][]byte
	cur  int

	// ready bytes in bufs[cur], inflight bytes headed for bufs[cur^1]
	ready, inflight int

	off  uint64
	left uint64

	err error
}

// NewPrefetcher fills a synchronously with the first block.
func NewPrefetcher(src rom.AsyncReader, start, length uint64, a, b []byte) (*Prefetcher, error) {
	if len(a) == 0 || len(a) != len(b) {
		return nil, ErrBuffers
	}

	p := &Prefetcher{
		src:  src,
		bufs: [2][]byte{a, b},
		off:  start,
		left: length,
	}

	if n := p.take(len(a)); n > 0 {
		if err := src.Fetch(start, a[:n]); err != nil {
			return nil, err
		}
		p.ready = n
	}

	return p, nil
}

// take reserves up to limit bytes of the unissued range.
func (p *Prefetcher) take(limit int) int {
	n := int(min(p.left, uint64(limit)))
	p.off += uint64(n)
	p.left -= uint64(n)
	return n
}

// Next returns the next block, or io.EOF once every byte has been
// delivered. After a transfer error every call returns that error.
func (p *Prefetcher) Next() ([]byte, error) {
	if p.err != nil {
		return nil, p.err
	}

	if p.ready == 0 {
		if p.inflight == 0 {
			return nil, io.EOF
		}

		if err := p.src.Wait(); err != nil {
			p.inflight = 0
			p.err = err
			return nil, err
		}

		p.cur ^= 1
		p.ready, p.inflight = p.inflight, 0
	}

	if p.left > 0 {
		next := p.bufs[p.cur^1]
		start := p.off
		n := p.take(len(next))
		if err := p.src.Start(start, next[:n]); err != nil {
			p.err = err
			return nil, err
		}
		p.inflight = n
	}

	block := p.bufs[p.cur][:p.ready]
	p.ready = 0
	return block, nil
}

// Remaining is the number of bytes not yet returned by Next, including
// bytes whose transfer is still in flight.
func (p *Prefetcher) Remaining() uint64 {
	return p.left + uint64(p.inflight) + uint64(p.ready)
}

// Close waits for any outstanding transfer so both buffers can be reused.
func (p *Prefetcher) Close() error {
	if p.inflight == 0 {
		return nil
	}

	p.inflight = 0
	return p.src.Wait()
}
