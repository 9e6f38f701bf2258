package llm_adapter

import (
	"fmt"
)

// The AdapterHub methods attach with fixed configurations.
const (
	_HubLoRARank              = 8
	_HubBottleneckReduction   = 16
	_HubPrefixLength          = 30
	_HubPrefixBottleneck      = 512
	_HubMAMPrefixBottleneck   = 800
	_HubParallelReduction     = 2
	_HubUnionOutputReduction  = 2
	_HubCompacterReduction    = 32
	_HubCompacterPHMDimension = 4
	_HubInvertibleReduction   = 2
)

// ignoreOptions logs the options passed to a method with a fixed configuration.
func (c *_AttachContext) ignoreOptions(opts map[string]any) {
	if len(opts) != 0 {
		c.Logger.V(1).Info("ignored options of fixed adapter configuration", "name", c.Name, "options", opts)
	}
}

// bottleneck returns a down-up projection adapter of the given hidden size and reduction.
func (c *_AttachContext) bottleneck(typ string, h uint64, reduction int) (*Module, error) {
	w := h / uint64(reduction)
	if w == 0 {
		return nil, fmt.Errorf("%w: hidden size %d below reduction factor %d", ErrNoAdaptableModules, h, reduction)
	}
	m := c.module(c.Name, typ)
	m.AddChild(c.sequential("adapter_down", map[int]*Module{0: c.linear("", w, h, true)}))
	up := c.module("adapter_up", "Linear")
	up.AddParameter("weight", c.zeros(h, w), true)
	up.AddParameter("bias", c.zeros(h), true)
	m.AddChild(up)
	return m, nil
}

// blockAdapters plans a bottleneck adapter at the given location of every block,
// location is "attention_adapters" or "output_adapters".
func blockAdapters(location, typ string, reduction int) func(*_AttachContext) (*_AttachPlan, error) {
	return func(c *_AttachContext) (*_AttachPlan, error) {
		h, err := c.hidden()
		if err != nil {
			return nil, err
		}
		bs, err := c.blocks()
		if err != nil {
			return nil, err
		}
		var p _AttachPlan
		for _, b := range bs {
			a, err := c.bottleneck(typ, h, reduction)
			if err != nil {
				return nil, err
			}
			p.Insert(b, a, location, "adapters")
		}
		return &p, nil
	}
}

// prefixTuning plans the prefix of every block with the given bottleneck.
func prefixTuning(bottleneck uint64) func(*_AttachContext) (*_AttachPlan, error) {
	return func(c *_AttachContext) (*_AttachPlan, error) {
		h, err := c.hidden()
		if err != nil {
			return nil, err
		}
		bs, err := c.blocks()
		if err != nil {
			return nil, err
		}
		pt := c.module(c.Name, "PrefixTuning")
		pt.AddChild(c.embedding("wte", _HubPrefixLength, h))
		pt.AddChild(c.sequential("control_trans", map[int]*Module{
			0: c.linear("", bottleneck, h, true),
			2: c.linear("", uint64(len(bs))*2*h, bottleneck, true),
		}))
		var p _AttachPlan
		p.Insert(c.Root, pt, "prefix_tunings")
		return &p, nil
	}
}

// scalingLoRA plans the low-rank or scaling update of the matched targets.
func scalingLoRA(defaults map[string][]string, rank uint64, scale bool) func(*_AttachContext) (*_AttachPlan, error) {
	return func(c *_AttachContext) (*_AttachPlan, error) {
		ts, err := c.targets(nil, defaults, false)
		if err != nil {
			return nil, err
		}
		var p _AttachPlan
		for _, t := range ts {
			l := c.module(c.Name, "LoRA")
			if scale {
				l.AddParameter("lora_B", c.ones(t.Out, 1), true)
			} else {
				l.AddParameter("lora_A", c.kaiming(rank, t.In), true)
				l.AddParameter("lora_B", c.zeros(t.Out, rank), true)
			}
			p.Insert(t.Module, l, "loras")
		}
		return &p, nil
	}
}

func planHubLoRA(c *_AttachContext, opts map[string]any) (*_AttachPlan, error) {
	c.ignoreOptions(opts)
	return planAll(c, scalingLoRA(_LoRATargetModules, _HubLoRARank, false))
}

func planHubBottleneck(c *_AttachContext, opts map[string]any) (*_AttachPlan, error) {
	c.ignoreOptions(opts)
	return planAll(c,
		blockAdapters("attention_adapters", "Adapter", _HubBottleneckReduction),
		blockAdapters("output_adapters", "Adapter", _HubBottleneckReduction))
}

func planHubLanguage(c *_AttachContext, opts map[string]any) (*_AttachPlan, error) {
	c.ignoreOptions(opts)
	return planAll(c,
		blockAdapters("output_adapters", "Adapter", _HubBottleneckReduction),
		planHubInvertible)
}

// planHubInvertible plans the invertible adapter on the input embeddings,
// a NICE coupling block of two sub-networks over the halves of the hidden state.
func planHubInvertible(c *_AttachContext) (*_AttachPlan, error) {
	h, err := c.hidden()
	if err != nil {
		return nil, err
	}
	half := h / 2
	w := half / _HubInvertibleReduction
	if w == 0 {
		return nil, fmt.Errorf("%w: hidden size %d too small for invertible adapter", ErrNoAdaptableModules, h)
	}
	inv := c.module(c.Name, "NICECouplingBlock")
	for _, n := range []string{"F", "G"} {
		inv.AddChild(c.sequential(n, map[int]*Module{
			0: c.linear("", w, half, true),
			2: c.linear("", half, w, true),
		}))
	}
	var p _AttachPlan
	p.Insert(c.Root, inv, "invertible_adapters")
	return &p, nil
}

func planHubPrefixTuning(c *_AttachContext, opts map[string]any) (*_AttachPlan, error) {
	c.ignoreOptions(opts)
	return planAll(c, prefixTuning(_HubPrefixBottleneck))
}

func planHubCompacter(c *_AttachContext, opts map[string]any) (*_AttachPlan, error) {
	c.ignoreOptions(opts)
	return planAll(c, planHubCompacterLayers)
}

// planHubCompacterLayers plans the parameterized hypercomplex output adapters of every block,
// the PHM rule is shared across blocks.
func planHubCompacterLayers(c *_AttachContext) (*_AttachPlan, error) {
	h, err := c.hidden()
	if err != nil {
		return nil, err
	}
	bs, err := c.blocks()
	if err != nil {
		return nil, err
	}
	const n = _HubCompacterPHMDimension
	w := h / _HubCompacterReduction
	if w == 0 || w%n != 0 || h%n != 0 {
		return nil, fmt.Errorf("%w: hidden size %d not divisible for compacter of dimension %d",
			ErrNoAdaptableModules, h, n)
	}

	phm := func(name string, in, out uint64) *Module {
		m := c.module(name, "PHMLayer")
		m.AddParameter("W_left", c.normal(0.01, n, in/n, 1), true)
		m.AddParameter("W_right", c.normal(0.01, n, 1, out/n), true)
		m.AddParameter("b", c.zeros(out), true)
		return m
	}

	var p _AttachPlan
	for _, b := range bs {
		a := c.module(c.Name, "Adapter")
		a.AddChild(c.sequential("adapter_down", map[int]*Module{0: phm("", h, w)}))
		a.AddChild(phm("adapter_up", w, h))
		p.Insert(b, a, "output_adapters", "adapters")
	}
	shared := c.module(c.Name, "SharedParameters")
	shared.AddParameter("phm_rule", c.normal(0.01, n, n, n), true)
	p.Insert(c.Root, shared, "shared_parameters")
	return &p, nil
}

func planHubIA3(c *_AttachContext, opts map[string]any) (*_AttachPlan, error) {
	c.ignoreOptions(opts)
	return planAll(c, scalingLoRA(_IA3TargetModules, 1, true))
}

func planHubUnion(c *_AttachContext, opts map[string]any) (*_AttachPlan, error) {
	c.ignoreOptions(opts)
	return planAll(c,
		blockAdapters("attention_adapters", "Adapter", _HubBottleneckReduction),
		blockAdapters("output_adapters", "Adapter", _HubUnionOutputReduction))
}

func planHubMAM(c *_AttachContext, opts map[string]any) (*_AttachPlan, error) {
	c.ignoreOptions(opts)
	return planAll(c,
		prefixTuning(_HubMAMPrefixBottleneck),
		blockAdapters("output_adapters", "ParallelAdapter", _HubParallelReduction))
}
