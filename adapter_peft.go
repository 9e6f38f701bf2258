package llm_adapter

import (
	"fmt"
)

func planPEFTLoRA(c *_AttachContext, opts map[string]any) (*_AttachPlan, error) {
	cfg := DefaultLoRAConfig()
	if err := cfg.decode(opts); err != nil {
		return nil, err
	}
	ts, err := c.targets(cfg.TargetModules, _LoRATargetModules, cfg.FanInFanOut)
	if err != nil {
		return nil, err
	}

	var p _AttachPlan
	r := uint64(cfg.R)
	for _, t := range ts {
		a := c.linear(c.Name, r, t.In, false)
		b := c.module(c.Name, "Linear")
		b.AddParameter("weight", c.zeros(t.Out, r), true)
		p.Insert(t.Module, a, "lora_A")
		p.Insert(t.Module, b, "lora_B")
		if cfg.Bias == "lora_only" {
			if bp := t.Module.Parameter("bias"); bp != nil {
				p.KeepTrainable(bp)
			}
		}
	}
	if cfg.Bias == "all" {
		for _, np := range c.Root.NamedParameters() {
			if np.Adapter == "" && np.Parameter.Name == "bias" {
				p.KeepTrainable(np.Parameter)
			}
		}
	}
	return &p, nil
}

// prefixEncoder returns the prompt encoder container of peft.
func (c *_AttachContext) prefixEncoder(typ string) *Module {
	return c.module(c.Name, typ)
}

func planPEFTPrefixTuning(c *_AttachContext, opts map[string]any) (*_AttachPlan, error) {
	var cfg PrefixTuningConfig
	if err := cfg.decode(opts); err != nil {
		return nil, err
	}
	h, err := c.hidden()
	if err != nil {
		return nil, err
	}
	bs, err := c.blocks()
	if err != nil {
		return nil, err
	}

	n, kv := uint64(cfg.NumVirtualTokens), uint64(len(bs))*2*h
	pe := c.prefixEncoder("PrefixEncoder")
	if !cfg.PrefixProjection {
		pe.AddChild(c.embedding("embedding", n, kv))
	} else {
		eh := h
		if cfg.EncoderHiddenSize > 0 {
			eh = uint64(cfg.EncoderHiddenSize)
		}
		pe.AddChild(c.embedding("embedding", n, h))
		pe.AddChild(c.sequential("transform", map[int]*Module{
			0: c.linear("", eh, h, true),
			2: c.linear("", kv, eh, true),
		}))
	}

	var p _AttachPlan
	p.Insert(c.Root, pe, "prompt_encoder")
	return &p, nil
}

func planPEFTPromptTuning(c *_AttachContext, opts map[string]any) (*_AttachPlan, error) {
	var cfg PromptTuningConfig
	if err := cfg.decode(opts); err != nil {
		return nil, err
	}
	h, err := c.hidden()
	if err != nil {
		return nil, err
	}

	n := uint64(cfg.NumVirtualTokens)
	e := c.embedding("embedding", n, h)
	if cfg.PromptTuningInit == "TEXT" {
		if err = c.initFromInputEmbeddings(e.Parameter("weight").Value, cfg.PromptTuningInitTokenIDs); err != nil {
			return nil, err
		}
	}
	pe := c.prefixEncoder("PromptEmbedding")
	pe.AddChild(e)

	var p _AttachPlan
	p.Insert(c.Root, pe, "prompt_encoder")
	return &p, nil
}

// initFromInputEmbeddings copies the input embedding rows of the given tokens into dst,
// repeating the tokens until every row of dst is filled.
func (c *_AttachContext) initFromInputEmbeddings(dst *Tensor, ids []int) error {
	w := c.Model.InputEmbeddings().Parameter("weight").Value
	src, err := w.Float32s()
	if err != nil {
		return fmt.Errorf("%w: read input embeddings: %v", ErrInvalidAdapterOptions, err)
	}
	vocab, h := w.Shape[0], w.Shape[1]

	vs := make([]float32, dst.Elements())
	for r := uint64(0); r < dst.Shape[0]; r++ {
		id := ids[r%uint64(len(ids))]
		if id < 0 || uint64(id) >= vocab {
			return fmt.Errorf("%w: token %d out of vocabulary %d", ErrInvalidAdapterOptions, id, vocab)
		}
		copy(vs[r*h:(r+1)*h], src[uint64(id)*h:(uint64(id)+1)*h])
	}
	return dst.SetFloat32s(vs)
}

func planPEFTPromptEncoder(c *_AttachContext, opts map[string]any) (*_AttachPlan, error) {
	var cfg PromptEncoderConfig
	if err := cfg.decode(opts); err != nil {
		return nil, err
	}
	h, err := c.hidden()
	if err != nil {
		return nil, err
	}

	n, eh := uint64(cfg.NumVirtualTokens), h
	if cfg.EncoderHiddenSize > 0 {
		eh = uint64(cfg.EncoderHiddenSize)
	}
	pe := c.prefixEncoder("PromptEncoder")
	pe.AddChild(c.embedding("embedding", n, h))
	switch cfg.EncoderReparameterizationType {
	case "MLP":
		pe.AddChild(c.sequential("mlp_head", map[int]*Module{
			0: c.linear("", eh, h, true),
			2: c.linear("", eh, eh, true),
			4: c.linear("", h, eh, true),
		}))
	case "LSTM":
		lstm := c.module("lstm_head", "LSTM")
		in := h
		for l := 0; l < cfg.EncoderNumLayers; l++ {
			for _, sfx := range []string{"", "_reverse"} {
				lstm.AddParameter(fmt.Sprintf("weight_ih_l%d%s", l, sfx), c.kaiming(4*eh, in), true)
				lstm.AddParameter(fmt.Sprintf("weight_hh_l%d%s", l, sfx), c.kaiming(4*eh, eh), true)
				lstm.AddParameter(fmt.Sprintf("bias_ih_l%d%s", l, sfx), c.zeros(4*eh), true)
				lstm.AddParameter(fmt.Sprintf("bias_hh_l%d%s", l, sfx), c.zeros(4*eh), true)
			}
			in = 2 * eh
		}
		pe.AddChild(lstm)
		pe.AddChild(c.sequential("mlp_head", map[int]*Module{
			0: c.linear("", 2*eh, 2*eh, true),
			2: c.linear("", h, 2*eh, true),
		}))
	}

	var p _AttachPlan
	p.Insert(c.Root, pe, "prompt_encoder")
	return &p, nil
}
