package model

import (
	"fmt"
	"strconv"
	"strings"
)

// Fixed manifest entry names.
const (
	TokEmbeddings   = "tok_embeddings"
	PosEmbeddings   = "pos_embeddings"
	LMHead          = "lm_head"
	FinalNormWeight = "ln_f.weight"
	FinalNormBias   = "ln_f.bias"
	Meta            = "model_meta"
	TokenizerModel  = "tokenizer.model"
)

// Role is a weight's job inside one transformer block.
type Role int

const (
	LN1Weight Role = iota
	LN1Bias
	QKVWeight
	QKVBias
	ProjWeight
	ProjBias
	LN2Weight
	LN2Bias
	FFNInWeight
	FFNInBias
	FFNOutWeight
	FFNOutBias

	NumRoles
)

var roleFields = [NumRoles]string{
	LN1Weight:    "ln1.weight",
	LN1Bias:      "ln1.bias",
	QKVWeight:    "attn.qkv.weight",
	QKVBias:      "attn.qkv.bias",
	ProjWeight:   "attn.proj.weight",
	ProjBias:     "attn.proj.bias",
	LN2Weight:    "ln2.weight",
	LN2Bias:      "ln2.bias",
	FFNInWeight:  "ffn.in.weight",
	FFNInBias:    "ffn.in.bias",
	FFNOutWeight: "ffn.out.weight",
	FFNOutBias:   "ffn.out.bias",
}

// String is the field suffix used in manifest names.
func (r Role) String() string {
	if r < 0 || r >= NumRoles {
		return "Role(" + strconv.Itoa(int(r)) + ")"
	}
	return roleFields[r]
}

func RoleForField(field string) (Role, bool) {
	for r, f := range roleFields {
		if f == field {
			return Role(r), true
		}
	}
	return 0, false
}

// LayerName is the manifest name of role r in layer i.
func LayerName(i int, r Role) string {
	return fmt.Sprintf("layer%d.%s", i, r)
}

// ParseLayerName splits "layer<N>.<field>". N must be plain decimal digits.
func ParseLayerName(name string) (index int, field string, ok bool) {
	rest, ok := strings.CutPrefix(name, "layer")
	if !ok {
		return 0, "", false
	}

	digits, field, ok := strings.Cut(rest, ".")
	if !ok || digits == "" || field == "" {
		return 0, "", false
	}

	for _, c := range digits {
		if c < '0' || c > '9' {
			return 0, "", false
		}
	}

	index, err := strconv.Atoi(digits)
	if err != nil {
		return 0, "", false
	}

	return index, field, true
}
