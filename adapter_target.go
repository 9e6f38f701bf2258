package llm_adapter

import (
	"fmt"
	"strings"
)

// _LoRATargetModules are the default LoRA targets of each architecture,
// in both Hugging Face and GGUF naming.
var _LoRATargetModules = map[string][]string{
	"llama": {"q_proj", "v_proj", "attn_q", "attn_v"},
	"bloom": {"query_key_value", "attn_qkv"},
	"gpt2":  {"c_attn", "attn_qkv"},
	"opt":   {"q_proj", "v_proj", "attn_q", "attn_v"},
}

// _IA3TargetModules are the default (IA)^3 targets of each architecture.
var _IA3TargetModules = map[string][]string{
	"llama": {"k_proj", "v_proj", "down_proj", "attn_k", "attn_v", "ffn_down"},
	"bloom": {"query_key_value", "dense_4h_to_h", "attn_qkv", "ffn_down"},
	"gpt2":  {"c_attn", "mlp.c_proj", "attn_qkv", "ffn_down"},
	"opt":   {"k_proj", "v_proj", "fc2", "attn_k", "attn_v", "ffn_down"},
}

// _AttachTarget is a base linear module to adapt.
type _AttachTarget struct {
	Path   string
	Module *Module
	Weight *Parameter
	// Out and In are the features of the weight.
	Out, In uint64
}

// hidden returns the hidden size from the width of the input embeddings.
func (c *_AttachContext) hidden() (uint64, error) {
	e := c.Model.InputEmbeddings()
	if e == nil {
		return 0, fmt.Errorf("%w: input embeddings not found", ErrNoAdaptableModules)
	}
	w := e.Parameter("weight")
	if w == nil || len(w.Value.Shape) != 2 {
		return 0, fmt.Errorf("%w: input embeddings without a 2-D weight", ErrNoAdaptableModules)
	}
	return w.Value.Shape[1], nil
}

// blocks returns the repeated blocks of the model in traversal order.
func (c *_AttachContext) blocks() ([]*Module, error) {
	bt := c.Units.BlockType()
	var bs []*Module
	c.Root.Walk(func(_ string, m *Module) bool {
		if m.Adapter != "" {
			return false
		}
		if m.Type == bt || c.Units.Contains(m.Type) {
			bs = append(bs, m)
			return false
		}
		return true
	})
	if len(bs) == 0 {
		return nil, fmt.Errorf("%w: no %s blocks found", ErrNoAdaptableModules, bt)
	}
	return bs, nil
}

// targets returns the base modules with a 2-D weight matching any of the given names,
// a name matches the last segments of the module path.
//
// Empty names select the given defaults of the architecture.
func (c *_AttachContext) targets(names []string, defaults map[string][]string, fanInFanOut bool) ([]_AttachTarget, error) {
	if len(names) == 0 {
		names = defaults[c.Units.Architecture]
		if len(names) == 0 {
			return nil, fmt.Errorf("%w: target_modules is required for architecture %q",
				ErrInvalidAdapterOptions, c.Units.Architecture)
		}
	}

	var ts []_AttachTarget
	c.Root.Walk(func(path string, m *Module) bool {
		if m.Adapter != "" {
			return false
		}
		if !matchTarget(path, names) {
			return true
		}
		w := m.Parameter("weight")
		if w == nil || len(w.Value.Shape) != 2 {
			return true
		}
		t := _AttachTarget{Path: path, Module: m, Weight: w, Out: w.Value.Shape[0], In: w.Value.Shape[1]}
		if fanInFanOut {
			t.Out, t.In = t.In, t.Out
		}
		ts = append(ts, t)
		return true
	})
	if len(ts) == 0 {
		return nil, fmt.Errorf("%w: no module matches %v", ErrNoAdaptableModules, names)
	}
	return ts, nil
}

func matchTarget(path string, names []string) bool {
	for _, n := range names {
		if path == n || strings.HasSuffix(path, "."+n) {
			return true
		}
	}
	return false
}
