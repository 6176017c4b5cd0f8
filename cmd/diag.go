package cmd

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/jwiedeman/N64Soul/engine"
	"github.com/jwiedeman/N64Soul/progress"
	"github.com/jwiedeman/N64Soul/tokenizer"
)

func infoHandler(cmd *cobra.Command, args []string, h *harness) error {
	if err := h.env(cmd).WeightsInfo(); err != nil {
		return err
	}

	if h.manifest == nil {
		return nil
	}

	v, err := h.view()
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "manifest: version=%d alignment=%d entries=%d\n", v.Version(), v.Alignment(), v.EntryCount())
	return nil
}

func probeHandler(cmd *cobra.Command, args []string, h *harness) error {
	offsets := make([]uint64, 0, len(args))
	for _, arg := range args {
		off, err := strconv.ParseUint(arg, 0, 64)
		if err != nil {
			return fmt.Errorf("invalid offset %q: %w", arg, err)
		}
		offsets = append(offsets, off)
	}

	h.env(cmd).Probe(offsets...)
	return nil
}

func checkHandler(cmd *cobra.Command, args []string, h *harness) error {
	ok, err := h.env(cmd).ManifestCheck()
	if err != nil {
		return err
	} else if !ok {
		return errors.New("manifest check failed")
	}
	return nil
}

func crcHandler(cmd *cobra.Command, args []string, h *harness) error {
	_, err := h.env(cmd).StreamCRC()
	return err
}

func benchHandler(cmd *cobra.Command, args []string, h *harness) error {
	results, err := h.env(cmd).StreamBench()
	if err != nil {
		return err
	}

	var errs []error
	for _, r := range results {
		errs = append(errs, r.Err)
	}
	return errors.Join(errs...)
}

func decodeHandler(cmd *cobra.Command, args []string, h *harness) error {
	token, err := cmd.Flags().GetUint32("token")
	if err != nil {
		return err
	}

	_, err = h.env(cmd).DecodeOnce(token)
	return err
}

func smokeHandler(cmd *cobra.Command, args []string, h *harness) error {
	env := h.env(cmd)

	if progress.IsTerminal(os.Stderr) {
		p := progress.NewProgress(os.Stderr)
		defer p.Stop()

		bar := progress.NewBar("streaming", 0)
		p.Add(bar)
		env.Progress = bar.Update
	}

	_, err := env.EmuSmoke()
	return err
}

func predictHandler(cmd *cobra.Command, args []string, h *harness) error {
	n, err := cmd.Flags().GetInt("num")
	if err != nil {
		return err
	}

	v, err := h.view()
	if err != nil {
		return err
	}

	eng, err := engine.Load(h.weights, h.arena, v, engine.Options{BurstBytes: h.burst})
	if err != nil {
		return err
	}

	s := engine.Session{
		Engine: eng,
		Text:   tokenizer.Bytes{Vocab: eng.Dims().Vocab},
	}

	out, err := s.Complete(args[0], n)
	if err != nil {
		return err
	}

	fmt.Fprintln(cmd.OutOrStdout(), out)
	return nil
}
