package stream

import (
	"bytes"
	"errors"
	"hash/crc32"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwiedeman/N64Soul/arena"
	"github.com/jwiedeman/N64Soul/manifest"
	"github.com/jwiedeman/N64Soul/rom"
)

func sequence(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(i ^ i>>8)
	}
	return b
}

func busReader(img []byte) rom.AsyncReader {
	return rom.Window{Base: rom.CartBase, Size: uint64(len(img))}.Bind(rom.NewBusReader(rom.NewSimBus(img), rom.BusOptions{}))
}

func TestPrefetcherCompleteness(t *testing.T) {
	data := sequence(20_000)

	sources := map[string]func() rom.AsyncReader{
		"mem": func() rom.AsyncReader { return rom.Async(rom.MemReader(data)) },
		"bus": func() rom.AsyncReader { return busReader(data) },
	}

	for name, src := range sources {
		for _, burst := range []int{1, 3, 64, 1000, 8192, 19_999, 20_000, 65536} {
			for _, start := range []uint64{0, 7} {
				length := uint64(len(data)) - start

				p, err := NewPrefetcher(src(), start, length, make([]byte, burst), make([]byte, burst))
				require.NoError(t, err)
				assert.Equal(t, length, p.Remaining())

				var got []byte
				for {
					block, err := p.Next()
					if errors.Is(err, io.EOF) {
						break
					}
					require.NoError(t, err)
					require.LessOrEqual(t, len(block), burst)
					got = append(got, block...)
					assert.Equal(t, length-uint64(len(got)), p.Remaining())
				}

				require.Equal(t, data[start:], got, "%s burst=%d start=%d", name, burst, start)
				assert.Zero(t, p.Remaining())
				assert.NoError(t, p.Close())

				_, err = p.Next()
				assert.ErrorIs(t, err, io.EOF)
			}
		}
	}
}

func TestPrefetcherEmpty(t *testing.T) {
	p, err := NewPrefetcher(rom.Async(rom.MemReader(nil)), 0, 0, make([]byte, 4), make([]byte, 4))
	require.NoError(t, err)
	assert.Zero(t, p.Remaining())

	_, err = p.Next()
	assert.ErrorIs(t, err, io.EOF)
}

func TestPrefetcherBuffers(t *testing.T) {
	src := rom.Async(rom.MemReader(sequence(8)))
	_, err := NewPrefetcher(src, 0, 8, nil, nil)
	assert.ErrorIs(t, err, ErrBuffers)

	_, err = NewPrefetcher(src, 0, 8, make([]byte, 4), make([]byte, 2))
	assert.ErrorIs(t, err, ErrBuffers)
}

func TestPrefetcherReadError(t *testing.T) {
	src := rom.Async(rom.MemReader(sequence(10)))

	_, err := NewPrefetcher(src, 8, 4, make([]byte, 4), make([]byte, 4))
	assert.ErrorIs(t, err, rom.ErrOutOfRange)

	p, err := NewPrefetcher(src, 0, 16, make([]byte, 4), make([]byte, 4))
	require.NoError(t, err)

	var n int
	for {
		block, err := p.Next()
		if err != nil {
			assert.ErrorIs(t, err, rom.ErrOutOfRange)
			break
		}
		n += len(block)
	}
	assert.Equal(t, 8, n)

	_, err = p.Next()
	assert.ErrorIs(t, err, rom.ErrOutOfRange, "error is sticky")
}

func TestEntry(t *testing.T) {
	data := sequence(10_000)

	var got bytes.Buffer
	stats, err := Entry(busReader(data), 100, 9000, make([]byte, 4096), make([]byte, 4096), func(p []byte) error {
		got.Write(p)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, data[100:9100], got.Bytes())
	assert.Equal(t, uint64(9000), stats.Bytes)
	assert.Equal(t, uint32(3), stats.Bursts)
	assert.LessOrEqual(t, stats.TransferShare(), uint64(100))
}

func TestEntryZeroLength(t *testing.T) {
	var calls int
	stats, err := Entry(rom.Async(rom.MemReader(sequence(4))), 0, 0, make([]byte, 4), make([]byte, 4), func([]byte) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Zero(t, calls)
	assert.Zero(t, stats.Bytes)
	assert.Zero(t, stats.Bursts)
	assert.Zero(t, stats.Bandwidth())
}

func TestEntryConsumerError(t *testing.T) {
	boom := errors.New("boom")

	var calls int
	stats, err := Entry(busReader(sequence(1000)), 0, 1000, make([]byte, 100), make([]byte, 100), func([]byte) error {
		calls++
		if calls == 3 {
			return boom
		}
		return nil
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 3, calls)
	assert.Equal(t, uint32(2), stats.Bursts)
}

func TestEntryReadError(t *testing.T) {
	_, err := Entry(rom.Async(rom.MemReader(sequence(100))), 0, 150, make([]byte, 64), make([]byte, 64), func([]byte) error { return nil })
	assert.ErrorIs(t, err, rom.ErrOutOfRange)
}

func TestLayerProgress(t *testing.T) {
	data := sequence(1000)

	var calls [][2]uint64
	stats, err := Layer(busReader(data), 0, 1000, make([]byte, 100), make([]byte, 100), Options{
		BurstsPerRefresh: 4,
		Progress: func(done, total uint64) {
			calls = append(calls, [2]uint64{done, total})
		},
	}, func([]byte) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, uint32(10), stats.Bursts)
	assert.Equal(t, [][2]uint64{{400, 1000}, {800, 1000}, {1000, 1000}}, calls)
}

func TestChecksum(t *testing.T) {
	data := sequence(4096)
	entries := []manifest.Entry{
		{Name: "a", Offset: 0, Size: 1000},
		{Name: "b", Offset: 1024, Size: 3000},
	}

	b, err := manifest.Encode(manifest.VersionV2, 64, entries)
	require.NoError(t, err)
	v, err := manifest.Parse(b)
	require.NoError(t, err)

	src := busReader(data)
	x, y := make([]byte, 512), make([]byte, 512)

	crc, stats, err := Checksum(src, entries[1], x, y)
	require.NoError(t, err)
	assert.Equal(t, crc32.ChecksumIEEE(data[1024:4024]), crc)
	assert.Equal(t, uint64(3000), stats.Bytes)

	all, total, err := ChecksumAll(src, v, x, y)
	require.NoError(t, err)
	want := crc32.ChecksumIEEE(append(append([]byte(nil), data[:1000]...), data[1024:4024]...))
	assert.Equal(t, want, all)
	assert.Equal(t, uint64(4000), total.Bytes)
}

func TestAllocBuffers(t *testing.T) {
	a := arena.New(1 << 10)
	x, y, err := AllocBuffers(a, 256)
	require.NoError(t, err)
	assert.Len(t, x, 256)
	assert.Len(t, y, 256)

	_, _, err = AllocBuffers(a, 512)
	assert.ErrorIs(t, err, arena.ErrOutOfMemory)
}
