// Package tokenizer provides the byte-level text processor used by the host
// tools. Each byte of UTF-8 input is one token.
package tokenizer

import (
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownToken = errors.New("tokenizer: token has no byte value")

type Bytes struct {
	// Vocab bounds the ids Encode may produce. Zero means 256.
	Vocab uint32
}

func (b Bytes) limit() uint32 {
	if b.Vocab == 0 {
		return 256
	}
	return min(b.Vocab, 256)
}

func (b Bytes) Encode(s string) ([]uint32, error) {
	ids := make([]uint32, len(s))
	for i := range len(s) {
		id := uint32(s[i])
		if id >= b.limit() {
			return nil, fmt.Errorf("tokenizer: byte %#x at %d exceeds vocabulary of %d", s[i], i, b.limit())
		}
		ids[i] = id
	}
	return ids, nil
}

func (b Bytes) Decode(ids []uint32) (string, error) {
	var sb strings.Builder
	sb.Grow(len(ids))
	for _, id := range ids {
		if id > 0xff {
			return sb.String(), fmt.Errorf("%w: %d", ErrUnknownToken, id)
		}
		sb.WriteByte(byte(id))
	}
	return sb.String(), nil
}
