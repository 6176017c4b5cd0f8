package envconfig

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/jwiedeman/N64Soul/logutil"
)

var (
	// Set via N64_DEBUG in the environment
	LogLevel slog.Level
	// Set via N64_BURST_BYTES in the environment
	BurstBytes int
	// Set via N64_ROM_ALIGN in the environment
	RomAlign int
	// Set via N64_BUS_GRANULE in the environment
	BusGranule int
	// Set via N64_ROM_LIMIT in the environment
	RomLimit uint64
	// Set via N64_ARENA_BYTES in the environment
	ArenaBytes int
	// Set via N64_BURSTS_PER_REFRESH in the environment
	BurstsPerRefresh int
	// Set via N64_BENCH_MAX_BYTES in the environment
	BenchMaxBytes uint64
)

type EnvVar struct {
	Name        string
	Value       any
	Description string
}

func AsMap() map[string]EnvVar {
	return map[string]EnvVar{
		"N64_DEBUG":              {"N64_DEBUG", LogLevel, "Show additional debug information (1 = debug, 2 = trace)"},
		"N64_BURST_BYTES":        {"N64_BURST_BYTES", BurstBytes, "Bytes per streamed burst (default 32768)"},
		"N64_ROM_ALIGN":          {"N64_ROM_ALIGN", RomAlign, "Alignment expected of manifest entries (default 64)"},
		"N64_BUS_GRANULE":        {"N64_BUS_GRANULE", BusGranule, "Minimum bus transfer alignment (default 2)"},
		"N64_ROM_LIMIT":          {"N64_ROM_LIMIT", RomLimit, "Highest readable ROM offset in bytes (default 480 MiB)"},
		"N64_ARENA_BYTES":        {"N64_ARENA_BYTES", ArenaBytes, "Working memory available to the arena (default 4 MiB)"},
		"N64_BURSTS_PER_REFRESH": {"N64_BURSTS_PER_REFRESH", BurstsPerRefresh, "Bursts between progress updates (default 4)"},
		"N64_BENCH_MAX_BYTES":    {"N64_BENCH_MAX_BYTES", BenchMaxBytes, "Per-entry cap for the stream bench, 0 for none"},
	}
}

func Values() map[string]string {
	vals := make(map[string]string)
	for k, v := range AsMap() {
		vals[k] = fmt.Sprintf("%v", v.Value)
	}
	return vals
}

// Clean quotes and spaces from the value
func clean(key string) string {
	return strings.Trim(os.Getenv(key), "\"' ")
}

func init() {
	LoadConfig()
}

func defaults() {
	LogLevel = slog.LevelInfo
	BurstBytes = 32 << 10
	RomAlign = 64
	BusGranule = 2
	RomLimit = 480 << 20
	ArenaBytes = 4 << 20
	BurstsPerRefresh = 4
	BenchMaxBytes = 0
}

func LoadConfig() {
	defaults()

	LogLevel = logutil.ParseLevel(clean("N64_DEBUG"))

	positive := func(key string, dst *int) {
		s := clean(key)
		if s == "" {
			return
		}

		v, err := strconv.Atoi(s)
		if err != nil || v <= 0 {
			slog.Error("invalid setting must be greater than zero", key, s, "error", err)
			return
		}

		*dst = v
	}

	positive("N64_BURST_BYTES", &BurstBytes)
	positive("N64_ROM_ALIGN", &RomAlign)
	positive("N64_BUS_GRANULE", &BusGranule)
	positive("N64_ARENA_BYTES", &ArenaBytes)
	positive("N64_BURSTS_PER_REFRESH", &BurstsPerRefresh)

	if s := clean("N64_ROM_LIMIT"); s != "" {
		v, err := strconv.ParseUint(s, 0, 64)
		if err != nil || v == 0 {
			slog.Error("invalid setting, ignoring", "N64_ROM_LIMIT", s, "error", err)
		} else {
			RomLimit = v
		}
	}

	if s := clean("N64_BENCH_MAX_BYTES"); s != "" {
		v, err := strconv.ParseUint(s, 0, 64)
		if err != nil {
			slog.Error("invalid setting, ignoring", "N64_BENCH_MAX_BYTES", s, "error", err)
		} else {
			BenchMaxBytes = v
		}
	}
}
