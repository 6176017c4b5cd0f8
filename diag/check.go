package diag

import (
	"errors"
	"fmt"
	"hash/adler32"
	"hash/crc32"
	"io"
	"strconv"

	"github.com/jwiedeman/N64Soul/format"
	"github.com/jwiedeman/N64Soul/manifest"
	"github.com/jwiedeman/N64Soul/stream"
	"github.com/jwiedeman/N64Soul/util"
)

// ManifestCheck verifies every entry is in bounds, aligned and readable,
// then runs the load-time layout validation. It reports whether the
// manifest is safe to run inference from.
func (e *Env) ManifestCheck() (bool, error) {
	e.printf("=== MANIFEST CHECK ===")
	v, err := e.view()
	if err != nil {
		return false, err
	}

	size := e.Weights.Size()
	align := uint32(v.Alignment())
	ok := true

	if e.Align > 0 && int(align) != e.Align {
		e.printf("Manifest alignment %d differs from expected %d", align, e.Align)
	}

	table := newTable(e.Out, "#", "NAME", "OFFSET", "SIZE", "BOUNDS", "READ")
	var i int
	err = v.ForEach(func(m manifest.Entry) bool {
		inBounds := m.End() <= size && util.IsAligned(m.Offset, align)

		var buf [32]byte
		readOK := true
		if n := min(uint32(len(buf)), m.Size); n > 0 {
			readOK = e.Weights.Fetch(uint64(m.Offset), buf[:n]) == nil
		}

		table.Append([]string{
			fmt.Sprintf("%02d", i),
			m.Name,
			strconv.FormatUint(uint64(m.Offset), 10),
			strconv.FormatUint(uint64(m.Size), 10),
			pick(inBounds, "BND", "OOB"),
			pick(readOK, "RD", "ERR"),
		})

		ok = ok && inBounds && readOK
		i++
		return true
	})
	table.Render()
	if err != nil {
		e.printf("Manifest: ERR (%v)", err)
		return false, err
	}

	verr := manifest.Validate(v, size)
	if verr != nil {
		ok = false
		for _, err := range unjoin(verr) {
			e.printf("  %v", err)
		}
	}

	e.printf("Manifest check: %s", pick(ok, "OK", "FAIL"))
	return ok, nil
}

func pick(cond bool, yes, no string) string {
	if cond {
		return yes
	}
	return no
}

func unjoin(err error) []error {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		return j.Unwrap()
	}
	return []error{err}
}

type CRCStatus string

const (
	CRCVerified CRCStatus = "verified"
	CRCMismatch CRCStatus = "mismatch"
	CRCNoRef    CRCStatus = "no ref"
	CRCReadErr  CRCStatus = "read error"
)

type CRCResult struct {
	Name   string
	CRC    uint32
	Status CRCStatus
}

type CRCReport struct {
	Entries []CRCResult
	Final   uint32
}

// StreamCRC streams every entry and compares it against the manifest
// checksum when the manifest has one. Mismatches are reported, not
// returned as errors; a read error fails the final CRC.
func (e *Env) StreamCRC() (CRCReport, error) {
	e.printf("=== STREAM CRC ===")
	var report CRCReport

	v, err := e.view()
	if err != nil {
		return report, err
	}

	err = e.withBuffers(func(a, b []byte) error {
		table := newTable(e.Out, "#", "NAME", "CRC32", "STATUS")
		err := v.ForEach(func(m manifest.Entry) bool {
			crc, _, err := stream.Checksum(e.Weights, m, a, b)

			r := CRCResult{Name: m.Name, CRC: crc}
			switch {
			case err != nil:
				r.Status = CRCReadErr
			case !m.HasChecksum:
				r.Status = CRCNoRef
			case m.Checksum == crc:
				r.Status = CRCVerified
			default:
				r.Status = CRCMismatch
			}

			status := string(r.Status)
			if r.Status == CRCMismatch {
				status = fmt.Sprintf("%s expected=%08X", status, m.Checksum)
			}

			table.Append([]string{fmt.Sprintf("%02d", len(report.Entries)), m.Name, fmt.Sprintf("%08X", crc), status})
			report.Entries = append(report.Entries, r)
			return true
		})
		table.Render()
		if err != nil {
			return err
		}

		report.Final, _, err = stream.ChecksumAll(e.Weights, v, a, b)
		return err
	})
	if err != nil {
		e.printf("Final CRC32 ERR: %v", err)
		return report, err
	}

	e.printf("Final CRC32 %08X", report.Final)
	return report, nil
}

type BenchResult struct {
	Name  string
	Stats stream.Stats

	// Adler is the Adler-32 of the bytes read, standing in for compute.
	Adler uint32
	Err   error
}

// StreamBench streams each entry, capped at BenchMaxBytes, and reports
// transfer and consume timings.
func (e *Env) StreamBench() ([]BenchResult, error) {
	e.printf("=== STREAM BENCH ===")
	v, err := e.view()
	if err != nil {
		return nil, err
	}

	var results []BenchResult
	err = e.withBuffers(func(a, b []byte) error {
		table := newTable(e.Out, "#", "NAME", "READ", "BURSTS", "DMA", "CMP", "BW", "DMA%", "A32")
		defer table.Render()

		return v.ForEach(func(m manifest.Entry) bool {
			n := uint64(m.Size)
			if e.BenchMaxBytes > 0 {
				n = min(n, e.BenchMaxBytes)
			}

			h := adler32.New()
			r := BenchResult{Name: m.Name}
			if uint64(m.Offset)+n > e.Weights.Size() {
				r.Err = fmt.Errorf("entry %s out of bounds", m.Name)
			} else {
				r.Stats, r.Err = stream.Entry(e.Weights, uint64(m.Offset), n, a, b, func(p []byte) error {
					_, err := h.Write(p)
					return err
				})
			}
			r.Adler = h.Sum32()

			idx := fmt.Sprintf("%02d", len(results))
			if r.Err != nil {
				table.Append([]string{idx, m.Name, "FAIL", "", "", "", "", "", ""})
			} else {
				st := r.Stats
				table.Append([]string{
					idx,
					m.Name,
					format.HumanBytes2(st.Bytes),
					strconv.FormatUint(uint64(st.Bursts), 10),
					strconv.FormatInt(st.Transfer.Milliseconds(), 10) + "ms",
					strconv.FormatInt(st.Compute.Milliseconds(), 10) + "ms",
					fmt.Sprintf("%d KiB/s", format.KiBPerSecond(st.Bytes, st.Transfer)),
					strconv.FormatUint(st.TransferShare(), 10),
					fmt.Sprintf("%04X:%04X", r.Adler&0xffff, r.Adler>>16),
				})
			}

			results = append(results, r)
			return true
		})
	})
	return results, err
}

// EmuSmoke streams every entry through a Prefetcher and prints a running
// CRC, the way the emulator smoke test on the target does.
func (e *Env) EmuSmoke() (uint32, error) {
	v, err := e.view()
	if err != nil {
		return 0, err
	}

	var total uint64
	if err := v.ForEach(func(m manifest.Entry) bool {
		total += uint64(m.Size)
		return true
	}); err != nil {
		return 0, err
	}

	e.printf("EMU SMOKE: streaming all layers")

	var crc uint32
	var done uint64
	every := uint64(max(e.BurstsPerRefresh, 1))

	err = e.withBuffers(func(a, b []byte) error {
		var serr error
		i := 0
		err := v.ForEach(func(m manifest.Entry) bool {
			p, err := stream.NewPrefetcher(e.Weights, uint64(m.Offset), uint64(m.Size), a, b)
			if err != nil {
				serr = err
				return false
			}
			defer p.Close()

			for bursts := uint64(1); ; bursts++ {
				block, err := p.Next()
				if errors.Is(err, io.EOF) {
					break
				} else if err != nil {
					serr = err
					return false
				}

				crc = crc32.Update(crc, crc32.IEEETable, block)
				done += uint64(len(block))
				if e.Progress != nil && bursts%every == 0 {
					e.Progress(done, total)
				}
			}

			e.printf("Layer %d OK", i)
			i++
			return true
		})
		return errors.Join(err, serr)
	})

	if e.Progress != nil {
		e.Progress(done, total)
	}

	if err != nil {
		e.printf("EMU SMOKE failed: %v", err)
		return crc, err
	}

	e.printf("EMU SMOKE done, CRC32 = 0x%08X", crc)
	return crc, nil
}
