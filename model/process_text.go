package model

// TextProcessor turns text into token ids and back. The BPE tokenizer used
// on the target lives outside this module and satisfies it.
type TextProcessor interface {
	Encode(string) ([]uint32, error)
	Decode([]uint32) (string, error)
}
