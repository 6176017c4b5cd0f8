package engine

import (
	"fmt"

	"github.com/jwiedeman/N64Soul/model"
)

// Generate calls Predict n times, feeding each prediction back in. Only the
// last n_positions tokens of the growing sequence are passed to Predict.
// fn, when set, sees every new token and can stop the loop by returning
// false.
func (e *Engine) Generate(tokens []uint32, n int, fn func(uint32) bool) ([]uint32, error) {
	seq := append([]uint32(nil), tokens...)
	window := int(max(e.dims.NPositions, 1))

	var out []uint32
	for range n {
		next, err := e.Predict(seq[max(0, len(seq)-window):])
		if err != nil {
			return out, err
		}

		out = append(out, next)
		seq = append(seq, next)
		if fn != nil && !fn(next) {
			break
		}
	}

	return out, nil
}

// Session pairs an engine with the tokenizer that feeds it.
type Session struct {
	Engine *Engine
	Text   model.TextProcessor
}

// Reply encodes prompt, predicts one token and decodes it.
func (s *Session) Reply(prompt string) (string, error) {
	tokens, err := s.Text.Encode(prompt)
	if err != nil {
		return "", fmt.Errorf("encode: %w", err)
	}

	next, err := s.Engine.Predict(tokens)
	if err != nil {
		return "", err
	}

	return s.Text.Decode([]uint32{next})
}

// Complete is Reply repeated n times.
func (s *Session) Complete(prompt string, n int) (string, error) {
	tokens, err := s.Text.Encode(prompt)
	if err != nil {
		return "", fmt.Errorf("encode: %w", err)
	}

	out, err := s.Engine.Generate(tokens, n, nil)
	if err != nil {
		return "", err
	}

	return s.Text.Decode(out)
}
