package llm_adapter

import (
	"context"
	"errors"
	"slices"
)

var (
	ErrModelNotRunnable = errors.New("model is not runnable")
	// ErrSamplingPrecisionIncompatible is returned by a generation provider
	// when sampling can not run under the reduced precision of the model.
	ErrSamplingPrecisionIncompatible = errors.New("sampling is incompatible with reduced precision")
)

// Model is a capability-bearing language model.
//
// The structural tree returned by Root is owned by the model,
// Forward and Generate compute through the active parameters of the tree.
type Model interface {
	// Architecture returns the architecture identifier, e.g. "llama".
	Architecture() string
	// Root returns the root module of the structural tree.
	Root() *Module
	// InputEmbeddings returns the input embedding module, or nil.
	InputEmbeddings() *Module
	// Forward runs a forward pass.
	Forward(ctx context.Context, in *Input) (*Output, error)
	// Generate runs autoregressive generation.
	Generate(ctx context.Context, in *Input, opts GenerateOptions) (*Output, error)
}

// Input is a batch of token sequences, one row per sample.
type Input struct {
	InputIDs      [][]int32 `json:"input_ids"`
	AttentionMask [][]int32 `json:"attention_mask,omitempty"`
	Labels        [][]int32 `json:"labels,omitempty"`
}

// Rows returns the number of samples of the batch.
func (in *Input) Rows() int {
	if in == nil {
		return 0
	}
	return len(in.InputIDs)
}

// Slice returns the samples in [i, j) of the batch, the rows are shared.
func (in *Input) Slice(i, j int) *Input {
	sl := func(s [][]int32) [][]int32 {
		if len(s) < j {
			return nil
		}
		return s[i:j:j]
	}
	return &Input{
		InputIDs:      sl(in.InputIDs),
		AttentionMask: sl(in.AttentionMask),
		Labels:        sl(in.Labels),
	}
}

// Output is the result of a forward pass or a generation.
type Output struct {
	// Logits holds one row per sample.
	Logits [][]float32 `json:"logits,omitempty"`
	// Sequences holds the generated tokens, one row per sample.
	Sequences [][]int32 `json:"sequences,omitempty"`
	// Loss is the mean loss over the batch, zero without labels.
	Loss float32 `json:"loss"`
}

// GenerateOptions controls the generation.
type GenerateOptions struct {
	MaxNewTokens int `json:"max_new_tokens,omitempty"`
	// DoSample enables sampling, nil leaves the decision to the model.
	DoSample    *bool   `json:"do_sample,omitempty"`
	Temperature float32 `json:"temperature,omitempty"`
	TopK        int     `json:"top_k,omitempty"`
	TopP        float32 `json:"top_p,omitempty"`
	NumBeams    int     `json:"num_beams,omitempty"`
}

type (
	// ForwardFunc computes a forward pass through the given parameters.
	ForwardFunc func(ctx context.Context, params []NamedParameter, in *Input) (*Output, error)
	// GenerateFunc computes a generation through the given parameters.
	GenerateFunc func(ctx context.Context, params []NamedParameter, in *Input, opts GenerateOptions) (*Output, error)
)

// BaseModel is a Model over a structural tree,
// the numeric computation is delegated to ForwardFunc and GenerateFunc.
//
// ForwardFunc and GenerateFunc must be safe for concurrent use
// if the model is replicated by DataParallel.
type BaseModel struct {
	// Arch is the architecture identifier.
	Arch string
	// Module is the root module.
	Module *Module
	// EmbeddingsPath is the dotted path of the input embedding module.
	EmbeddingsPath string
	// Metadata holds the descriptive key-values of the model, e.g. "general.name".
	Metadata map[string]any

	ForwardFunc  ForwardFunc
	GenerateFunc GenerateFunc
}

// NewBaseModel returns a BaseModel of the given architecture with an empty root module.
func NewBaseModel(arch string) *BaseModel {
	return &BaseModel{
		Arch:   arch,
		Module: NewModule("", "CausalLM"),
	}
}

func (m *BaseModel) Architecture() string {
	return m.Arch
}

func (m *BaseModel) Root() *Module {
	return m.Module
}

func (m *BaseModel) InputEmbeddings() *Module {
	if m.EmbeddingsPath == "" {
		return nil
	}
	return m.Module.Find(m.EmbeddingsPath)
}

func (m *BaseModel) Forward(ctx context.Context, in *Input) (*Output, error) {
	if m.ForwardFunc == nil {
		return nil, ErrModelNotRunnable
	}
	return m.ForwardFunc(ctx, m.Module.ActiveParameters(), in)
}

func (m *BaseModel) Generate(ctx context.Context, in *Input, opts GenerateOptions) (*Output, error) {
	if m.GenerateFunc == nil {
		return nil, ErrModelNotRunnable
	}
	return m.GenerateFunc(ctx, m.Module.ActiveParameters(), in, opts)
}

// Config returns the descriptive key-values of the model.
func (m *BaseModel) Config() map[string]any {
	return m.Metadata
}

// Clone returns a deep copy of the model,
// the numeric functions are shared.
func (m *BaseModel) Clone() *BaseModel {
	c := *m
	c.Module = m.Module.Clone()
	if m.Metadata != nil {
		c.Metadata = make(map[string]any, len(m.Metadata))
		for k, v := range m.Metadata {
			c.Metadata[k] = v
		}
	}
	return &c
}

// Clone returns a deep copy of the module tree.
func (m *Module) Clone() *Module {
	if m == nil {
		return nil
	}
	c := *m
	if m.Parameters != nil {
		c.Parameters = make([]*Parameter, len(m.Parameters))
		for i := range m.Parameters {
			p := *m.Parameters[i]
			p.Value = p.Value.Clone()
			c.Parameters[i] = &p
		}
	}
	if m.Children != nil {
		c.Children = make([]*Module, len(m.Children))
		for i := range m.Children {
			c.Children[i] = m.Children[i].Clone()
		}
	}
	return &c
}

type _DeviceContextKey struct{}

// WithDevice returns a context carrying the device identifier a replica runs on.
func WithDevice(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, _DeviceContextKey{}, id)
}

// DeviceFromContext returns the device identifier carried by the context.
func DeviceFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(_DeviceContextKey{}).(string)
	return id, ok
}

// BoolPtr returns a pointer of the given bool.
func BoolPtr(b bool) *bool {
	return &b
}

// ParameterNames returns the names of the given parameters.
func ParameterNames(nps []NamedParameter) []string {
	ns := make([]string, len(nps))
	for i := range nps {
		ns[i] = nps[i].Name
	}
	return slices.Clip(ns)
}
