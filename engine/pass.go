package engine

import (
	"fmt"
	"log/slog"
	"strconv"

	"github.com/chewxy/math32"

	"github.com/jwiedeman/N64Soul/arena"
	"github.com/jwiedeman/N64Soul/model"
	"github.com/jwiedeman/N64Soul/sample"
	"github.com/jwiedeman/N64Soul/stream"
)

// pass is the state of one inference call.
type pass struct {
	e *Engine
	a *arena.Arena

	bufA, bufB []byte
	stats      stream.Stats

	log *slog.Logger
}

func (p *pass) fixed(name string) (model.Tensor, error) {
	t, ok := p.e.plan.Fixed(name)
	if !ok {
		return model.Tensor{}, missing(name)
	}
	return t, nil
}

func f32s(a *arena.Arena, n int) ([]float32, error) {
	x, err := arena.Slice[float32](a, n)
	return x, classify("alloc", "", err)
}

// scalars streams size bytes at off and calls fn with every little-endian
// float32 in order. Values that straddle two blocks are reassembled.
func (p *pass) scalars(name string, off, size uint64, fn func(k int, w float32)) error {
	var carry [4]byte
	var nc, k int

	stats, err := stream.Entry(p.e.src, off, size, p.bufA, p.bufB, func(b []byte) error {
		if nc > 0 {
			m := copy(carry[nc:], b)
			nc += m
			b = b[m:]
			if nc < 4 {
				return nil
			}
			fn(k, f32(carry[:]))
			k++
			nc = 0
		}

		for ; len(b) >= 4; b = b[4:] {
			fn(k, f32(b))
			k++
		}

		nc = copy(carry[:], b)
		return nil
	})
	p.stats.Add(stats)
	return classify("stream", name, err)
}

func expectSize(t model.Tensor, n int) error {
	if uint64(t.Size) != uint64(n)*4 {
		return computation("shape", "%s is %d bytes, want %d", t.Name, t.Size, n*4)
	}
	return nil
}

// vector loads a whole tensor of n floats into the arena.
func (p *pass) vector(t model.Tensor, n int) ([]float32, error) {
	if err := expectSize(t, n); err != nil {
		return nil, err
	}

	x, err := f32s(p.a, n)
	if err != nil {
		return nil, err
	}

	err = p.scalars(t.Name, uint64(t.Offset), uint64(t.Size), func(k int, w float32) {
		x[k] = w
	})
	return x, err
}

// matmul accumulates y[s] += x[s] · W for seq rows, where W is stored
// [in, out] row major and is never resident.
func (p *pass) matmul(t model.Tensor, x []float32, in int, y []float32, out, seq int) error {
	if err := expectSize(t, in*out); err != nil {
		return err
	}

	return p.scalars(t.Name, uint64(t.Offset), uint64(t.Size), func(k int, w float32) {
		if w == 0 {
			return
		}

		r, c := k/out, k%out
		for s := range seq {
			y[s*out+c] += w * x[s*in+r]
		}
	})
}

// linear is matmul followed by a bias add.
func (p *pass) linear(l *model.LayerSpec, weight, bias model.Role, x []float32, in int, y []float32, out, seq int) error {
	return p.a.Scope(func() error {
		b, err := p.vector(l.Get(bias), out)
		if err != nil {
			return err
		}

		for s := range seq {
			copy(y[s*out:(s+1)*out], b)
		}

		return p.matmul(l.Get(weight), x, in, y, out, seq)
	})
}

func (p *pass) norm(gamma, beta model.Tensor, x []float32, seq int) error {
	d := int(p.e.dims.DModel)
	return p.a.Scope(func() error {
		g, err := p.vector(gamma, d)
		if err != nil {
			return err
		}

		b, err := p.vector(beta, d)
		if err != nil {
			return err
		}

		for s := range seq {
			layerNorm(x[s*d:(s+1)*d], g, b)
		}
		return nil
	})
}

// embed allocates the hidden state and fills it with token plus position
// embeddings. The hidden state outlives the call; everything else it
// allocates does not.
func (p *pass) embed(tokens []uint32) ([]float32, error) {
	dims := p.e.dims
	d := int(dims.DModel)

	tok, err := p.fixed(model.TokEmbeddings)
	if err != nil {
		return nil, err
	}

	pos, err := p.fixed(model.PosEmbeddings)
	if err != nil {
		return nil, err
	}

	hidden, err := f32s(p.a, len(tokens)*d)
	if err != nil {
		return nil, err
	}

	row := func(t model.Tensor, i uint32, dst []float32) error {
		off := uint64(i) * uint64(d) * 4
		if off+uint64(d)*4 > uint64(t.Size) {
			return &Error{Kind: MemoryError, Role: t.Name, Op: "embed", Err: fmt.Errorf("row %d out of range", i)}
		}

		return p.scalars(t.Name, uint64(t.Offset)+off, uint64(d)*4, func(k int, w float32) {
			dst[k] += w
		})
	}

	for i, id := range tokens {
		if id >= dims.Vocab {
			return nil, computation("embed", "token %d outside vocabulary of %d", id, dims.Vocab)
		}

		h := hidden[i*d : (i+1)*d]
		if err := row(tok, id, h); err != nil {
			return nil, err
		}

		position := min(uint32(i), dims.NPositions-1)
		if err := row(pos, position, h); err != nil {
			return nil, err
		}
	}

	p.a.LogUsage("embed")
	return hidden, nil
}

// block runs one transformer layer over hidden in place.
func (p *pass) block(l *model.LayerSpec, hidden []float32, seq int) error {
	d := int(p.e.dims.DModel)

	return p.a.Scope(func() error {
		resid, err := f32s(p.a, seq*d)
		if err != nil {
			return err
		}

		copy(resid, hidden)
		if err := p.norm(l.Get(model.LN1Weight), l.Get(model.LN1Bias), hidden, seq); err != nil {
			return err
		}

		if err := p.attention(l, hidden, seq); err != nil {
			return err
		}

		for i := range hidden {
			hidden[i] += resid[i]
		}

		copy(resid, hidden)
		if err := p.norm(l.Get(model.LN2Weight), l.Get(model.LN2Bias), hidden, seq); err != nil {
			return err
		}

		if err := p.feedForward(l, hidden, seq); err != nil {
			return err
		}

		for i := range hidden {
			hidden[i] += resid[i]
		}

		p.a.LogUsage("layer " + strconv.Itoa(l.Index))
		return nil
	})
}

// attention replaces x with the projected multi-head attention output.
// Every query attends to every key.
func (p *pass) attention(l *model.LayerSpec, x []float32, seq int) error {
	d := int(p.e.dims.DModel)
	hd32, err := p.e.dims.HeadDim()
	if err != nil {
		return computation("attention", "%w", err)
	}
	hd := int(hd32)

	return p.a.Scope(func() error {
		qkv, err := f32s(p.a, seq*3*d)
		if err != nil {
			return err
		}

		if err := p.linear(l, model.QKVWeight, model.QKVBias, x, d, qkv, 3*d, seq); err != nil {
			return err
		}

		ctx, err := f32s(p.a, seq*d)
		if err != nil {
			return err
		}

		scores, err := f32s(p.a, seq)
		if err != nil {
			return err
		}

		scale := 1 / math32.Sqrt(float32(hd))
		for h := range int(p.e.dims.NHead) {
			for i := range seq {
				q := qkv[i*3*d+h*hd:][:hd]
				for j := range seq {
					k := qkv[j*3*d+d+h*hd:][:hd]
					var dot float32
					for c := range hd {
						dot += q[c] * k[c]
					}
					scores[j] = dot * scale
				}

				if !softmax32(scores) {
					return computation("attention", "softmax denominator vanished in head %d", h)
				}

				out := ctx[i*d+h*hd:][:hd]
				for j := range seq {
					v := qkv[j*3*d+2*d+h*hd:][:hd]
					for c := range hd {
						out[c] += scores[j] * v[c]
					}
				}
			}
		}

		return p.linear(l, model.ProjWeight, model.ProjBias, ctx, d, x, d, seq)
	})
}

// feedForward replaces x with W2 · gelu(W1 · x).
func (p *pass) feedForward(l *model.LayerSpec, x []float32, seq int) error {
	d, ff := int(p.e.dims.DModel), int(p.e.dims.DFF)

	return p.a.Scope(func() error {
		mid, err := f32s(p.a, seq*ff)
		if err != nil {
			return err
		}

		if err := p.linear(l, model.FFNInWeight, model.FFNInBias, x, d, mid, ff, seq); err != nil {
			return err
		}

		for i, v := range mid {
			mid[i] = gelu(v)
		}

		return p.linear(l, model.FFNOutWeight, model.FFNOutBias, mid, ff, x, d, seq)
	})
}

// output applies the final norm and picks the next token from the last
// position.
func (p *pass) output(hidden []float32, seq int) (uint32, error) {
	gamma, err := p.fixed(model.FinalNormWeight)
	if err != nil {
		return 0, err
	}

	beta, err := p.fixed(model.FinalNormBias)
	if err != nil {
		return 0, err
	}

	if err := p.norm(gamma, beta, hidden, seq); err != nil {
		return 0, err
	}

	return p.logits(hidden, seq)
}

// logits projects the last position through lm_head, which is stored
// [vocab, d_model], and samples from the softmax.
func (p *pass) logits(hidden []float32, seq int) (uint32, error) {
	head, err := p.fixed(model.LMHead)
	if err != nil {
		return 0, err
	}

	d, vocab := int(p.e.dims.DModel), int(p.e.dims.Vocab)
	if err := expectSize(head, vocab*d); err != nil {
		return 0, err
	}

	last := hidden[(seq-1)*d:][:d]

	var next uint32
	err = p.a.Scope(func() error {
		logits, err := arena.Slice[float64](p.a, vocab)
		if err != nil {
			return classify("alloc", "", err)
		}

		if err := p.scalars(head.Name, uint64(head.Offset), uint64(head.Size), func(k int, w float32) {
			logits[k/d] += float64(w * last[k%d])
		}); err != nil {
			return err
		}

		if err := sample.Softmax(logits); err != nil {
			return computation("output", "%w", err)
		}

		next, err = p.e.sampler.Sample(logits)
		if err != nil {
			return computation("output", "%w", err)
		}

		p.a.LogUsage("output")
		return nil
	})
	return next, err
}
