package llm_adapter

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/hashicorp/go-multierror"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/gpustack/llm-adapter-go/util/anyx"
)

// Option records of the configurable methods.
type (
	// LoRAConfig configures the low-rank adaptation of peft.
	LoRAConfig struct {
		// R is the rank of the update matrices.
		R int `json:"r" yaml:"r"`
		// Alpha is the scaling numerator of the update.
		Alpha int `json:"lora_alpha" yaml:"lora_alpha"`
		// Dropout is the dropout probability of the adapter input.
		Dropout float64 `json:"lora_dropout" yaml:"lora_dropout"`
		// TargetModules are the module names to adapt,
		// default to the attention projections of the architecture.
		TargetModules []string `json:"target_modules,omitempty" yaml:"target_modules,omitempty"`
		// Bias selects the trainable biases, "none", "all" or "lora_only".
		Bias string `json:"bias" yaml:"bias"`
		// FanInFanOut is true if the target weights are stored as [in, out].
		FanInFanOut bool `json:"fan_in_fan_out" yaml:"fan_in_fan_out"`
	}

	// PrefixTuningConfig configures the prefix tuning of peft.
	PrefixTuningConfig struct {
		NumVirtualTokens int `json:"num_virtual_tokens" yaml:"num_virtual_tokens"`
		// PrefixProjection reparameterizes the prefix through a two-layer projection.
		PrefixProjection  bool `json:"prefix_projection" yaml:"prefix_projection"`
		EncoderHiddenSize int  `json:"encoder_hidden_size,omitempty" yaml:"encoder_hidden_size,omitempty"`
	}

	// PromptTuningConfig configures the prompt tuning of peft.
	PromptTuningConfig struct {
		NumVirtualTokens int `json:"num_virtual_tokens" yaml:"num_virtual_tokens"`
		// PromptTuningInit is "RANDOM" or "TEXT".
		PromptTuningInit string `json:"prompt_tuning_init" yaml:"prompt_tuning_init"`
		// PromptTuningInitTokenIDs are the tokens whose input embeddings initialize the prompt,
		// repeated to fill the virtual tokens, required by "TEXT".
		PromptTuningInitTokenIDs []int `json:"prompt_tuning_init_token_ids,omitempty" yaml:"prompt_tuning_init_token_ids,omitempty"`
	}

	// PromptEncoderConfig configures the p-tuning of peft.
	PromptEncoderConfig struct {
		NumVirtualTokens int `json:"num_virtual_tokens" yaml:"num_virtual_tokens"`
		// EncoderReparameterizationType is "MLP" or "LSTM".
		EncoderReparameterizationType string  `json:"encoder_reparameterization_type" yaml:"encoder_reparameterization_type"`
		EncoderHiddenSize             int     `json:"encoder_hidden_size,omitempty" yaml:"encoder_hidden_size,omitempty"`
		EncoderNumLayers              int     `json:"encoder_num_layers" yaml:"encoder_num_layers"`
		EncoderDropout                float64 `json:"encoder_dropout" yaml:"encoder_dropout"`
	}
)

// DefaultLoRAConfig returns the LoRAConfig with the peft defaults.
func DefaultLoRAConfig() LoRAConfig {
	return LoRAConfig{R: 8, Alpha: 8, Bias: "none"}
}

func (c *LoRAConfig) decode(opts map[string]any) error {
	err := decodeOptions(opts, map[string]_OptionSetter{
		"r":              intOption(&c.R),
		"lora_alpha":     intOption(&c.Alpha),
		"lora_dropout":   floatOption(&c.Dropout),
		"target_modules": stringsOption(&c.TargetModules),
		"bias":           stringOption(&c.Bias),
		"fan_in_fan_out": boolOption(&c.FanInFanOut),
	})
	if err != nil {
		return err
	}
	switch {
	case c.R <= 0:
		return fmt.Errorf("%w: r must be positive, got %d", ErrInvalidAdapterOptions, c.R)
	case c.Alpha <= 0:
		return fmt.Errorf("%w: lora_alpha must be positive, got %d", ErrInvalidAdapterOptions, c.Alpha)
	case c.Dropout < 0 || c.Dropout >= 1:
		return fmt.Errorf("%w: lora_dropout must be in [0, 1), got %v", ErrInvalidAdapterOptions, c.Dropout)
	}
	switch c.Bias {
	case "none", "all", "lora_only":
	default:
		return fmt.Errorf("%w: bias must be one of none, all, lora_only, got %q", ErrInvalidAdapterOptions, c.Bias)
	}
	return nil
}

// Scaling returns the multiplier of the low-rank update.
func (c LoRAConfig) Scaling() float64 {
	return float64(c.Alpha) / float64(c.R)
}

func (c *PrefixTuningConfig) decode(opts map[string]any) error {
	c.NumVirtualTokens = 20
	err := decodeOptions(opts, map[string]_OptionSetter{
		"num_virtual_tokens":  intOption(&c.NumVirtualTokens),
		"prefix_projection":   boolOption(&c.PrefixProjection),
		"encoder_hidden_size": intOption(&c.EncoderHiddenSize),
	})
	if err != nil {
		return err
	}
	return positive("num_virtual_tokens", c.NumVirtualTokens)
}

func (c *PromptTuningConfig) decode(opts map[string]any) error {
	c.NumVirtualTokens, c.PromptTuningInit = 20, "RANDOM"
	err := decodeOptions(opts, map[string]_OptionSetter{
		"num_virtual_tokens":           intOption(&c.NumVirtualTokens),
		"prompt_tuning_init":           stringOption(&c.PromptTuningInit),
		"prompt_tuning_init_token_ids": intsOption(&c.PromptTuningInitTokenIDs),
	})
	if err != nil {
		return err
	}
	if err = positive("num_virtual_tokens", c.NumVirtualTokens); err != nil {
		return err
	}
	c.PromptTuningInit = strings.ToUpper(c.PromptTuningInit)
	switch c.PromptTuningInit {
	case "RANDOM":
	case "TEXT":
		if len(c.PromptTuningInitTokenIDs) == 0 {
			return fmt.Errorf("%w: prompt_tuning_init TEXT requires prompt_tuning_init_token_ids", ErrInvalidAdapterOptions)
		}
	default:
		return fmt.Errorf("%w: prompt_tuning_init must be RANDOM or TEXT, got %q", ErrInvalidAdapterOptions, c.PromptTuningInit)
	}
	return nil
}

func (c *PromptEncoderConfig) decode(opts map[string]any) error {
	c.NumVirtualTokens, c.EncoderReparameterizationType, c.EncoderNumLayers = 20, "MLP", 2
	err := decodeOptions(opts, map[string]_OptionSetter{
		"num_virtual_tokens":              intOption(&c.NumVirtualTokens),
		"encoder_reparameterization_type": stringOption(&c.EncoderReparameterizationType),
		"encoder_hidden_size":             intOption(&c.EncoderHiddenSize),
		"encoder_num_layers":              intOption(&c.EncoderNumLayers),
		"encoder_dropout":                 floatOption(&c.EncoderDropout),
	})
	if err != nil {
		return err
	}
	if err = positive("num_virtual_tokens", c.NumVirtualTokens); err != nil {
		return err
	}
	c.EncoderReparameterizationType = strings.ToUpper(c.EncoderReparameterizationType)
	switch c.EncoderReparameterizationType {
	case "MLP":
	case "LSTM":
		if err = positive("encoder_num_layers", c.EncoderNumLayers); err != nil {
			return err
		}
	default:
		return fmt.Errorf("%w: encoder_reparameterization_type must be MLP or LSTM, got %q",
			ErrInvalidAdapterOptions, c.EncoderReparameterizationType)
	}
	return nil
}

func positive(key string, v int) error {
	if v <= 0 {
		return fmt.Errorf("%w: %s must be positive, got %d", ErrInvalidAdapterOptions, key, v)
	}
	return nil
}

// _IgnoredOptions are accepted by every configurable method without effect.
var _IgnoredOptions = []string{"task_type", "inference_mode"}

type _OptionSetter func(v any) error

// decodeOptions applies the given options through the setters,
// unknown keys and malformed values are reported together.
func decodeOptions(opts map[string]any, setters map[string]_OptionSetter) error {
	ks := make([]string, 0, len(opts))
	for k := range opts {
		ks = append(ks, k)
	}
	slices.Sort(ks)

	var errs *multierror.Error
	for _, k := range ks {
		if slices.Contains(_IgnoredOptions, k) {
			continue
		}
		set, ok := setters[k]
		if !ok {
			errs = multierror.Append(errs, fmt.Errorf("%w: unknown option %q", ErrInvalidAdapterOptions, k))
			continue
		}
		if err := set(opts[k]); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("%w: option %q: %v", ErrInvalidAdapterOptions, k, err))
		}
	}
	return errs.ErrorOrNil()
}

func intOption(dst *int) _OptionSetter {
	return func(v any) error {
		if !anyx.IsNumber(v) {
			return fmt.Errorf("%v is not a number", v)
		}
		*dst = anyx.Number[int](v)
		return nil
	}
}

func floatOption(dst *float64) _OptionSetter {
	return func(v any) error {
		if !anyx.IsNumber(v) {
			return fmt.Errorf("%v is not a number", v)
		}
		*dst = anyx.Number[float64](v)
		return nil
	}
}

func boolOption(dst *bool) _OptionSetter {
	return func(v any) error {
		*dst = anyx.Bool(v)
		return nil
	}
}

func stringOption(dst *string) _OptionSetter {
	return func(v any) error {
		*dst = anyx.String(v)
		return nil
	}
}

func stringsOption(dst *[]string) _OptionSetter {
	return func(v any) error {
		*dst = anyx.Strings(v)
		return nil
	}
}

func intsOption(dst *[]int) _OptionSetter {
	return func(v any) error {
		ss := anyx.Strings(v)
		is := make([]int, 0, len(ss))
		for i := range ss {
			if !anyx.IsNumber(ss[i]) {
				return fmt.Errorf("%v is not a number", ss[i])
			}
			is = append(is, anyx.Number[int](ss[i]))
		}
		*dst = is
		return nil
	}
}

// Weight initializers.

func (c *_AttachContext) zeros(shape ...uint64) *Tensor {
	return NewTensor(GGMLTypeF32, shape...)
}

func (c *_AttachContext) ones(shape ...uint64) *Tensor {
	return c.fill(func() float64 { return 1 }, shape...)
}

func (c *_AttachContext) uniform(bound float64, shape ...uint64) *Tensor {
	d := distuv.Uniform{Min: -bound, Max: bound, Src: c.src}
	return c.fill(d.Rand, shape...)
}

func (c *_AttachContext) normal(std float64, shape ...uint64) *Tensor {
	d := distuv.Normal{Mu: 0, Sigma: std, Src: c.src}
	return c.fill(d.Rand, shape...)
}

// kaiming returns the uniform initialization of a linear weight of shape [out, in].
func (c *_AttachContext) kaiming(out, in uint64) *Tensor {
	return c.uniform(1/math.Sqrt(float64(in)), out, in)
}

func (c *_AttachContext) fill(gen func() float64, shape ...uint64) *Tensor {
	t := NewTensor(GGMLTypeF32, shape...)
	vs := make([]float32, t.Elements())
	for i := range vs {
		vs[i] = float32(gen())
	}
	_ = t.SetFloat32s(vs)
	return t
}

// Module builders, every built module belongs to the attaching adapter.

func (c *_AttachContext) module(name, typ string) *Module {
	m := NewModule(name, typ)
	m.Adapter = c.Name
	return m
}

// linear returns a Linear module mapping in to out features.
func (c *_AttachContext) linear(name string, out, in uint64, bias bool) *Module {
	m := c.module(name, "Linear")
	m.AddParameter("weight", c.kaiming(out, in), true)
	if bias {
		m.AddParameter("bias", c.zeros(out), true)
	}
	return m
}

// embedding returns an Embedding module of n rows with the given width.
func (c *_AttachContext) embedding(name string, n, width uint64) *Module {
	m := c.module(name, "Embedding")
	m.AddParameter("weight", c.normal(1, n, width), true)
	return m
}

// sequential returns a Sequential module holding the given layers,
// each layer is named by its index.
func (c *_AttachContext) sequential(name string, layers map[int]*Module) *Module {
	m := c.module(name, "Sequential")
	is := make([]int, 0, len(layers))
	for i := range layers {
		is = append(is, i)
	}
	slices.Sort(is)
	for _, i := range is {
		l := layers[i]
		l.Name = fmt.Sprint(i)
		m.AddChild(l)
	}
	return m
}
