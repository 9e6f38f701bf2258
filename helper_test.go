package llm_adapter

import (
	"context"
	"fmt"
	"sync"
)

const (
	testHidden = 128
	testFFN    = 256
	testVocab  = 64
)

// newTestLlama returns a llama-like BaseModel with zero-filled F32 tensors,
// every block holds 9 parameters.
func newTestLlama(blocks int) *BaseModel {
	m := NewBaseModel("llama")
	m.EmbeddingsPath = "token_embd"

	linear := func(name string, out, in uint64) *Module {
		l := NewModule(name, "Linear")
		l.AddParameter("weight", NewTensor(GGMLTypeF32, out, in), true)
		return l
	}
	norm := func(name string) *Module {
		n := NewModule(name, "Norm")
		n.AddParameter("weight", NewTensor(GGMLTypeF32, testHidden), true)
		return n
	}

	emb := m.Module.AddChild(NewModule("token_embd", "Embedding"))
	emb.AddParameter("weight", NewTensor(GGMLTypeF32, testVocab, testHidden), true)

	blk := m.Module.AddChild(NewModule("blk", "ModuleList"))
	for i := 0; i < blocks; i++ {
		b := blk.AddChild(NewModule(fmt.Sprint(i), "LlamaDecoderLayer"))
		b.AddChild(norm("attn_norm"))
		b.AddChild(linear("attn_q", testHidden, testHidden))
		b.AddChild(linear("attn_k", testHidden, testHidden))
		b.AddChild(linear("attn_v", testHidden, testHidden))
		b.AddChild(linear("attn_output", testHidden, testHidden))
		b.AddChild(norm("ffn_norm"))
		b.AddChild(linear("ffn_gate", testFFN, testHidden))
		b.AddChild(linear("ffn_up", testFFN, testHidden))
		b.AddChild(linear("ffn_down", testHidden, testFFN))
	}

	m.Module.AddChild(norm("output_norm"))
	m.Module.AddChild(linear("output", testVocab, testHidden))
	return m
}

// testRecorder implements a ForwardFunc and a GenerateFunc recording the calls.
type testRecorder struct {
	mu      sync.Mutex
	devices []string
	params  []int

	// generate returns the error of the i-th generation.
	generate func(i int, opts GenerateOptions) error
	calls    int
}

// Forward returns one logit row per sample holding the number of active parameters,
// the loss is the mean of the first token of each row.
func (r *testRecorder) Forward(ctx context.Context, params []NamedParameter, in *Input) (*Output, error) {
	r.mu.Lock()
	if d, ok := DeviceFromContext(ctx); ok {
		r.devices = append(r.devices, d)
	}
	r.params = append(r.params, len(params))
	r.mu.Unlock()

	out := &Output{Logits: make([][]float32, in.Rows())}
	var sum float32
	for i, row := range in.InputIDs {
		out.Logits[i] = []float32{float32(len(params)), float32(row[0])}
		sum += float32(row[0])
	}
	if in.Rows() != 0 {
		out.Loss = sum / float32(in.Rows())
	}
	return out, nil
}

func (r *testRecorder) Generate(_ context.Context, params []NamedParameter, in *Input, opts GenerateOptions) (*Output, error) {
	r.mu.Lock()
	i := r.calls
	r.calls++
	r.params = append(r.params, len(params))
	r.mu.Unlock()

	if r.generate != nil {
		if err := r.generate(i, opts); err != nil {
			return nil, err
		}
	}
	out := &Output{Sequences: make([][]int32, in.Rows())}
	for j := range out.Sequences {
		out.Sequences[j] = append(in.InputIDs[j][:len(in.InputIDs[j]):len(in.InputIDs[j])], 1)
	}
	return out, nil
}

func newTestRunnableLlama(blocks int, r *testRecorder) *BaseModel {
	m := newTestLlama(blocks)
	m.ForwardFunc = r.Forward
	m.GenerateFunc = r.Generate
	return m
}

// newTestBlocks returns a layout-only model of the given architecture
// holding n blocks of the given block type, each with one F32 weight of the given elements.
func newTestBlocks(arch, typ string, n int, elements uint64) *BaseModel {
	m := NewBaseModel(arch)
	blk := m.Module.AddChild(NewModule("blk", "ModuleList"))
	for i := 0; i < n; i++ {
		b := blk.AddChild(NewModule(fmt.Sprint(i), typ))
		l := b.AddChild(NewModule("attn_q", "Linear"))
		l.AddParameter("weight", &Tensor{Type: GGMLTypeF32, Shape: []uint64{elements / 2, 2}}, true)
		l.AddParameter("bias", &Tensor{Type: GGMLTypeF32, Shape: []uint64{1}}, true)
	}
	return m
}

func testInput(rows int) *Input {
	in := &Input{InputIDs: make([][]int32, rows)}
	for i := range in.InputIDs {
		in.InputIDs[i] = []int32{int32(i), 7, 9}
	}
	return in
}
