// Package engine runs the transformer forward pass over weights streamed
// from the cartridge.
//
// Nothing larger than one activation matrix is ever resident: weight
// matrices are consumed as byte streams and each scalar is folded into the
// output accumulators as soon as it arrives.
package engine

import (
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/jwiedeman/N64Soul/arena"
	"github.com/jwiedeman/N64Soul/manifest"
	"github.com/jwiedeman/N64Soul/model"
	"github.com/jwiedeman/N64Soul/rom"
	"github.com/jwiedeman/N64Soul/sample"
	"github.com/jwiedeman/N64Soul/stream"
)

const DefaultBurst = 32 << 10

type Options struct {
	// BurstBytes is the size of each stream buffer.
	BurstBytes int

	Sampler sample.Sampler

	// BlobSize bounds manifest entries at load. Zero takes the size from
	// src when it reports one, otherwise only ordering and alignment are
	// checked.
	BlobSize uint64
}

// blobSize is the bound entries are validated against.
func blobSize(src rom.Reader, opts Options) uint64 {
	if opts.BlobSize > 0 {
		return opts.BlobSize
	}

	if s, ok := src.(interface{ Size() uint64 }); ok {
		return s.Size()
	}

	return math.MaxUint64
}

// Engine holds a loaded model. It is not safe for concurrent use; the
// arena it was given belongs to it for the duration of every call.
type Engine struct {
	src   rom.AsyncReader
	arena *arena.Arena
	plan  *model.Plan
	dims  model.Dims

	burst   int
	sampler sample.Sampler
}

// New builds an engine for the manifest v. src takes blob-relative offsets.
// A manifest whose layout fails manifest.Validate is rejected.
func New(src rom.Reader, a *arena.Arena, v *manifest.View, dims model.Dims, opts Options) (*Engine, error) {
	if err := manifest.Validate(v, blobSize(src, opts)); err != nil {
		return nil, err
	}

	plan, err := model.BuildPlan(v)
	if err != nil {
		return nil, err
	}

	if opts.BurstBytes <= 0 {
		opts.BurstBytes = DefaultBurst
	}

	if opts.Sampler == nil {
		opts.Sampler = sample.Greedy()
	}

	slog.Info("model loaded", "dims", dims, "plan", plan)
	if len(plan.Layers) != int(dims.NLayer) {
		slog.Warn("layer count differs from model dims", "plan", len(plan.Layers), "n_layer", dims.NLayer)
	}

	return &Engine{
		src:     rom.Async(src),
		arena:   a,
		plan:    plan,
		dims:    dims,
		burst:   opts.BurstBytes,
		sampler: opts.Sampler,
	}, nil
}

// Load reads the model dimensions from the manifest, falling back to the
// built-in defaults, and builds an engine.
func Load(src rom.Reader, a *arena.Arena, v *manifest.View, opts Options) (*Engine, error) {
	dims, source := model.LoadDims(src, v)
	slog.Debug("model dims", "source", source)
	return New(src, a, v, dims, opts)
}

func (e *Engine) Dims() model.Dims  { return e.dims }
func (e *Engine) Plan() *model.Plan { return e.plan }

// Predict runs one forward pass over tokens and returns the most likely
// next token. The arena is left exactly as it was found, on success and on
// failure.
func (e *Engine) Predict(tokens []uint32) (uint32, error) {
	if len(tokens) == 0 {
		return 0, computation("predict", "empty sequence")
	}

	var next uint32
	err := e.run("predict", func(p *pass) error {
		hidden, err := p.embed(tokens)
		if err != nil {
			return err
		}

		for i := range e.plan.Layers {
			l := &e.plan.Layers[i]
			if err := p.block(l, hidden, len(tokens)); err != nil {
				return err
			}
			logProgress(i+1, len(e.plan.Layers)+1)
		}

		next, err = p.output(hidden, len(tokens))
		return err
	})

	return next, err
}

// DecodeOnce gathers the embedding of a single token and projects it
// straight through the output head, skipping every transformer layer.
func (e *Engine) DecodeOnce(token uint32) (uint32, error) {
	var next uint32
	err := e.run("decode", func(p *pass) error {
		hidden, err := p.embed([]uint32{token})
		if err != nil {
			return err
		}

		next, err = p.logits(hidden, 1)
		return err
	})
	return next, err
}

func logProgress(done, total int) {
	slog.Debug("forward pass", "step", done, "of", total)
}

func (e *Engine) run(op string, fn func(*pass) error) error {
	p := &pass{
		e:   e,
		a:   e.arena,
		log: slog.With("request", uuid.NewString()),
	}

	start := time.Now()
	err := e.arena.Scope(func() error {
		var err error
		p.bufA, p.bufB, err = stream.AllocBuffers(p.a, e.burst)
		if err != nil {
			return classify(op, "", err)
		}

		p.a.LogUsage(op + ": start")
		return fn(p)
	})
	err = classify(op, "", err)

	if err != nil {
		p.log.Debug(op+" failed", "error", err, "elapsed", time.Since(start))
		return err
	}

	p.log.Debug(op+" done", "elapsed", time.Since(start), "stream", p.stats)
	return nil
}
