// Package diag holds the boot-time checks run against the cartridge before
// or instead of inference. Every check writes human-readable lines to Out;
// none of them change how inference behaves.
package diag

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"

	"github.com/jwiedeman/N64Soul/arena"
	"github.com/jwiedeman/N64Soul/format"
	"github.com/jwiedeman/N64Soul/manifest"
	"github.com/jwiedeman/N64Soul/rom"
	"github.com/jwiedeman/N64Soul/stream"
)

// ProbeOffsets are the cart offsets Probe reads when none are given.
var ProbeOffsets = []uint64{16 << 20, 256 << 20, 480 << 20}

type Env struct {
	Out io.Writer

	// Weights reads the blob with blob-relative offsets.
	Weights *rom.Weights

	// Bus reads raw bus addresses. Probe uses it.
	Bus rom.Reader

	Manifest []byte
	Arena    *arena.Arena

	BurstBytes       int
	BurstsPerRefresh int

	// Align is the alignment the exporter was configured with. ManifestCheck
	// reports a manifest declaring anything else. Zero skips the comparison.
	Align int

	// BenchMaxBytes caps how much of each entry StreamBench reads. Zero
	// reads everything.
	BenchMaxBytes uint64

	// Progress, when set, receives byte progress from EmuSmoke.
	Progress func(done, total uint64)
}

func (e *Env) printf(format string, args ...any) {
	fmt.Fprintf(e.Out, format+"\n", args...)
}

func (e *Env) view() (*manifest.View, error) {
	v, err := manifest.Parse(e.Manifest)
	if err != nil {
		e.printf("Manifest parse ERR: %v", err)
		return nil, err
	}
	return v, nil
}

// withBuffers runs fn with a stream buffer pair carved from the arena.
func (e *Env) withBuffers(fn func(a, b []byte) error) error {
	burst := e.BurstBytes
	if burst <= 0 {
		burst = rom.DefaultBurst
	}

	return e.Arena.Scope(func() error {
		a, b, err := stream.AllocBuffers(e.Arena, burst)
		if err != nil {
			return err
		}
		return fn(a, b)
	})
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetNoWhiteSpace(true)
	table.SetTablePadding("  ")
	table.SetAutoWrapText(false)
	return table
}

func hex8(b []byte) string {
	return fmt.Sprintf("% X", b[:min(len(b), 8)])
}

// WeightsInfo prints where the blob lives and its first and last bytes.
func (e *Env) WeightsInfo() error {
	w := e.Weights.Window()
	var buf [64]byte

	e.printf("=== WEIGHTS INFO ===")
	e.printf("base=0x%08X size=%d bytes (%s, %s scalars)", w.Base, w.Size, format.HumanBytes2(w.Size), format.HumanNumber(w.Size/4))

	n := min(w.Size, uint64(len(buf)))
	if err := e.Weights.Fetch(0, buf[:n]); err != nil {
		e.printf("FIRST READ: ERR")
		return err
	}
	e.printf("first[0..8]: %s", hex8(buf[:n]))

	if w.Size >= uint64(len(buf)) {
		off := w.Size - uint64(len(buf))
		if err := e.Weights.Fetch(off, buf[:]); err != nil {
			e.printf("LAST READ: ERR")
			return err
		}
		e.printf("last@+0x%08X..: %s", off, hex8(buf[:]))
	}

	return nil
}

type ProbeResult struct {
	Offset uint64
	OK     bool
	Head   [8]byte
}

// Probe reads 64 bytes at each cart offset, relative to CartBase, to show
// how much of the address space the bus serves.
func (e *Env) Probe(offsets ...uint64) []ProbeResult {
	if len(offsets) == 0 {
		offsets = ProbeOffsets
	}

	e.printf("=== ROM PROBE ===")
	results := make([]ProbeResult, 0, len(offsets))
	for _, off := range offsets {
		var buf [64]byte
		r := ProbeResult{Offset: off, OK: e.Bus.Fetch(rom.CartBase+off, buf[:]) == nil}
		copy(r.Head[:], buf[:])
		results = append(results, r)

		if r.OK {
			e.printf("probe +%s: OK %s", format.HumanBytes2(off), hex8(r.Head[:]))
		} else {
			e.printf("probe +%s: X", format.HumanBytes2(off))
		}
	}
	return results
}
