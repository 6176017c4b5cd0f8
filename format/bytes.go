package format

import (
	"fmt"
	"time"
)

const (
	Byte = 1

	KibiByte = Byte * 1024
	MebiByte = KibiByte * 1024
	GibiByte = MebiByte * 1024
)

// HumanBytes2 formats b with binary units. Arena and ROM sizes are powers of
// two so this is what the diagnostics print.
func HumanBytes2(b uint64) string {
	switch {
	case b >= GibiByte:
		return fmt.Sprintf("%.1f GiB", float64(b)/GibiByte)
	case b >= MebiByte:
		return fmt.Sprintf("%.1f MiB", float64(b)/MebiByte)
	case b >= KibiByte:
		return fmt.Sprintf("%.1f KiB", float64(b)/KibiByte)
	default:
		return fmt.Sprintf("%d B", b)
	}
}

// KiBPerSecond returns the transfer rate of n bytes over d in KiB/s, or zero
// when d is not positive.
func KiBPerSecond(n uint64, d time.Duration) uint64 {
	if d <= 0 {
		return 0
	}

	return uint64(float64(n) / d.Seconds() / KibiByte)
}
