package diag

import (
	"github.com/jwiedeman/N64Soul/engine"
	"github.com/jwiedeman/N64Soul/manifest"
)

// DecodeOnce loads the model and runs a single embed-to-logits step from
// seed, printing the dimensions and the chosen token.
func (e *Env) DecodeOnce(seed uint32) (uint32, error) {
	e.printf("=== DECODE ONCE ===")
	v, err := manifest.Parse(e.Manifest)
	if err != nil {
		e.printf("Manifest parse ERR: %v", err)
		return 0, err
	}

	eng, err := engine.Load(e.Weights, e.Arena, v, engine.Options{BurstBytes: e.BurstBytes})
	if err != nil {
		e.printf("Load ERR: %v", err)
		return 0, err
	}

	d := eng.Dims()
	e.printf("dims: d_model=%d vocab=%d layers=%d heads=%d n_positions=%d d_ff=%d",
		d.DModel, d.Vocab, d.NLayer, d.NHead, d.NPositions, d.DFF)

	next, err := eng.DecodeOnce(seed)
	if err != nil {
		e.printf("decode ERR: %v", err)
		return 0, err
	}

	e.printf("next_token=%d", next)
	return next, nil
}
