package model

import (
	"log/slog"

	"github.com/emirpasic/gods/maps/treemap"

	"github.com/jwiedeman/N64Soul/manifest"
)

// Tensor is a manifest entry together with its position in the manifest.
type Tensor struct {
	Index int
	manifest.Entry
}

// LayerSpec holds every weight of one transformer block.
type LayerSpec struct {
	Index   int
	Tensors [NumRoles]Tensor
}

func (l *LayerSpec) Get(r Role) Tensor { return l.Tensors[r] }

// DroppedLayer is a layer group that was missing at least one role.
type DroppedLayer struct {
	Index   int
	Missing []Role
}

// Plan maps manifest entries to the weights the forward pass needs.
type Plan struct {
	// Layers are the complete layer groups in ascending index order.
	Layers  []LayerSpec
	Dropped []DroppedLayer

	fixed map[string]Tensor
}

var fixedNames = []string{TokEmbeddings, PosEmbeddings, FinalNormWeight, FinalNormBias, LMHead, Meta, TokenizerModel}

type partial struct {
	tensors [NumRoles]Tensor
	have    [NumRoles]bool
}

// BuildPlan walks the manifest once. Only complete layer groups make it into
// the plan; the rest are recorded in Dropped. A manifest without any layers
// gives an empty plan. When a name appears twice the first entry wins.
func BuildPlan(v *manifest.View) (*Plan, error) {
	p := &Plan{fixed: make(map[string]Tensor)}
	groups := treemap.NewWithIntComparator()

	var i int
	err := v.ForEach(func(e manifest.Entry) bool {
		defer func() { i++ }()

		for _, name := range fixedNames {
			if e.Name == name {
				if _, ok := p.fixed[name]; !ok {
					p.fixed[name] = Tensor{Index: i, Entry: e}
				}
				return true
			}
		}

		n, field, ok := ParseLayerName(e.Name)
		if !ok {
			return true
		}

		role, ok := RoleForField(field)
		if !ok {
			return true
		}

		var g *partial
		if found, ok := groups.Get(n); ok {
			g = found.(*partial)
		} else {
			g = &partial{}
			groups.Put(n, g)
		}

		if !g.have[role] {
			g.tensors[role] = Tensor{Index: i, Entry: e}
			g.have[role] = true
		}
		return true
	})
	if err != nil {
		return nil, err
	}

	it := groups.Iterator()
	for it.Next() {
		n, g := it.Key().(int), it.Value().(*partial)

		var missing []Role
		for r := range NumRoles {
			if !g.have[r] {
				missing = append(missing, r)
			}
		}

		if len(missing) > 0 {
			p.Dropped = append(p.Dropped, DroppedLayer{Index: n, Missing: missing})
			continue
		}

		p.Layers = append(p.Layers, LayerSpec{Index: n, Tensors: g.tensors})
	}

	if len(p.Dropped) > 0 {
		slog.Warn("incomplete layer groups dropped from plan", "count", len(p.Dropped), "first", p.Dropped[0].Index)
	}

	return p, nil
}

// Fixed returns the tensor recorded under one of the fixed names.
func (p *Plan) Fixed(name string) (Tensor, bool) {
	t, ok := p.fixed[name]
	return t, ok
}

func (p *Plan) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.Int("layers", len(p.Layers)),
		slog.Int("dropped", len(p.Dropped)),
	}
	for _, name := range fixedNames {
		_, ok := p.fixed[name]
		attrs = append(attrs, slog.Bool(name, ok))
	}
	return slog.GroupValue(attrs...)
}
