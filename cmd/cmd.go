package cmd

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jwiedeman/N64Soul/arena"
	"github.com/jwiedeman/N64Soul/diag"
	"github.com/jwiedeman/N64Soul/envconfig"
	"github.com/jwiedeman/N64Soul/format"
	"github.com/jwiedeman/N64Soul/logutil"
	"github.com/jwiedeman/N64Soul/manifest"
	"github.com/jwiedeman/N64Soul/rom"
)

var errNoManifest = errors.New("--manifest is required for this command")

// harness maps a host ROM image onto a simulated cartridge bus.
type harness struct {
	file     *os.File
	sim      *rom.SimBus
	bus      *rom.BusReader
	weights  *rom.Weights
	manifest []byte
	arena    *arena.Arena
	burst    int
}

func openHarness(cmd *cobra.Command) (*harness, error) {
	flags := cmd.Flags()

	path, err := flags.GetString("rom")
	if err != nil {
		return nil, err
	} else if path == "" {
		return nil, errors.New("--rom is required")
	}

	base, err := flags.GetUint64("weights-base")
	if err != nil {
		return nil, err
	}

	size, err := flags.GetUint64("weights-size")
	if err != nil {
		return nil, err
	}

	burst, err := flags.GetInt("burst")
	if err != nil {
		return nil, err
	}

	arenaBytes, err := flags.GetInt("arena")
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	fi, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}

	image := uint64(fi.Size())
	if base > image {
		f.Close()
		return nil, fmt.Errorf("weights base %#x is past the end of %s (%d bytes)", base, path, image)
	}

	if size == 0 {
		size = image - base
	} else if base+size > image {
		f.Close()
		return nil, fmt.Errorf("weights range %#x+%d is past the end of %s", base, size, path)
	}

	sim := &rom.SimBus{
		Image:    f,
		Base:     rom.CartBase,
		Size:     image,
		Granule:  envconfig.BusGranule,
		MaxBurst: burst,
	}

	bus := rom.NewBusReader(sim, rom.BusOptions{
		Granule:  envconfig.BusGranule,
		MaxBurst: burst,
		Limit:    rom.CartBase + envconfig.RomLimit,
	})

	w := rom.Window{Base: rom.CartBase + base, Size: size}
	h := &harness{
		file:    f,
		sim:     sim,
		bus:     bus,
		weights: w.Bind(bus),
		arena:   arena.New(arenaBytes),
		burst:   burst,
	}

	if mpath, _ := flags.GetString("manifest"); mpath != "" {
		if h.manifest, err = os.ReadFile(mpath); err != nil {
			f.Close()
			return nil, err
		}
	}

	slog.Debug("rom image", "path", path, "size", format.HumanBytes2(image), "weights_base", fmt.Sprintf("%#x", w.Base), "weights_size", size)
	return h, nil
}

func (h *harness) view() (*manifest.View, error) {
	if h.manifest == nil {
		return nil, errNoManifest
	}
	return manifest.Parse(h.manifest)
}

func (h *harness) env(cmd *cobra.Command) *diag.Env {
	return &diag.Env{
		Out:              cmd.OutOrStdout(),
		Weights:          h.weights,
		Bus:              h.bus,
		Manifest:         h.manifest,
		Arena:            h.arena,
		BurstBytes:       h.burst,
		BurstsPerRefresh: envconfig.BurstsPerRefresh,
		Align:            envconfig.RomAlign,
		BenchMaxBytes:    envconfig.BenchMaxBytes,
	}
}

func (h *harness) Close() error {
	slog.Debug("bus totals", "transfers", h.sim.Transfers(), "bytes", h.sim.Bytes())
	return h.file.Close()
}

// withHarness opens the image for the duration of fn.
func withHarness(needManifest bool, fn func(*cobra.Command, []string, *harness) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		h, err := openHarness(cmd)
		if err != nil {
			return err
		}
		defer h.Close()

		if needManifest && h.manifest == nil {
			return errNoManifest
		}

		return fn(cmd, args, h)
	}
}

func NewCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "n64soul",
		Short: "Stream transformer weights from an N64 cartridge image",
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd: true,
		},
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			// Disable usage printing on errors
			cmd.SilenceUsage = true
			logutil.Install(cmd.ErrOrStderr(), envconfig.LogLevel)
		},
	}

	flags := rootCmd.PersistentFlags()
	flags.String("rom", "", "Path to the ROM image")
	flags.String("manifest", "", "Path to the weights manifest")
	flags.Uint64("weights-base", 0, "Offset of the weight blob inside the ROM image")
	flags.Uint64("weights-size", 0, "Size of the weight blob, 0 for the rest of the image")
	flags.Int("burst", envconfig.BurstBytes, "Bytes per streamed burst")
	flags.Int("arena", envconfig.ArenaBytes, "Arena capacity in bytes")

	cobra.EnableCommandSorting = false

	infoCmd := &cobra.Command{
		Use:   "info",
		Short: "Show where the weight blob lives",
		Args:  cobra.NoArgs,
		RunE:  withHarness(false, infoHandler),
	}

	probeCmd := &cobra.Command{
		Use:   "probe [OFFSET...]",
		Short: "Read a few bytes at cart offsets",
		RunE:  withHarness(false, probeHandler),
	}

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Check manifest entries against the weight blob",
		Args:  cobra.NoArgs,
		RunE:  withHarness(true, checkHandler),
	}

	crcCmd := &cobra.Command{
		Use:   "crc",
		Short: "Stream every entry and verify its checksum",
		Args:  cobra.NoArgs,
		RunE:  withHarness(true, crcHandler),
	}

	benchCmd := &cobra.Command{
		Use:   "bench",
		Short: "Measure streaming throughput per entry",
		Args:  cobra.NoArgs,
		RunE:  withHarness(true, benchHandler),
	}

	decodeCmd := &cobra.Command{
		Use:   "decode",
		Short: "Project one token embedding straight through the output head",
		Args:  cobra.NoArgs,
		RunE:  withHarness(true, decodeHandler),
	}
	decodeCmd.Flags().Uint32("token", 0, "Seed token id")

	smokeCmd := &cobra.Command{
		Use:   "smoke",
		Short: "Stream the whole blob through the prefetcher",
		Args:  cobra.NoArgs,
		RunE:  withHarness(true, smokeHandler),
	}

	predictCmd := &cobra.Command{
		Use:   "predict PROMPT",
		Short: "Run the forward pass over a prompt",
		Args:  cobra.ExactArgs(1),
		RunE:  withHarness(true, predictHandler),
	}
	predictCmd.Flags().IntP("num", "n", 1, "Number of tokens to generate")

	envCmd := &cobra.Command{
		Use:   "env",
		Short: "Show configuration environment variables",
		Args:  cobra.NoArgs,
		RunE:  envHandler,
	}

	rootCmd.AddCommand(
		infoCmd,
		probeCmd,
		checkCmd,
		crcCmd,
		benchCmd,
		decodeCmd,
		smokeCmd,
		predictCmd,
		envCmd,
	)

	return rootCmd
}
