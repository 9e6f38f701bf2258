package llm_adapter

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttach_LoRA(t *testing.T) {
	m := newTestLlama(10)
	for _, n := range []string{"rope_freqs", "rope_factors_long", "rope_factors_short"} {
		m.Module.AddParameter(n, NewTensor(GGMLTypeF32, 64), true)
	}
	require.Len(t, m.Module.NamedParameters(), 96)

	am, err := Attach(m, AdaptationSpec{
		Method: "LoRA",
		Options: map[string]any{
			"r":              8,
			"target_modules": []any{"blk.0.attn_q", "blk.0.attn_v"},
		},
	}, AttachWithSeed(1))
	require.NoError(t, err)

	assert.Equal(t, AdaptationSpec{Backend: BackendPEFT, Method: MethodLoRA, Options: am.Spec().Options}, am.Spec())
	assert.Equal(t, "default", am.AdapterName())
	assert.True(t, am.SupportsBypass())

	trainable := StateDictOf(m.Module, true)
	assert.Equal(t, 4, trainable.Len())
	assert.Equal(t, []string{
		"blk.0.attn_q.lora_A.default.weight",
		"blk.0.attn_q.lora_B.default.weight",
		"blk.0.attn_v.lora_A.default.weight",
		"blk.0.attn_v.lora_B.default.weight",
	}, trainable.Keys())
	assert.Equal(t, 100, StateDictOf(m.Module, false).Len())

	a, _ := trainable.Get("blk.0.attn_q.lora_A.default.weight")
	assert.Equal(t, []uint64{8, testHidden}, a.Shape)
	b, _ := trainable.Get("blk.0.attn_q.lora_B.default.weight")
	assert.Equal(t, []uint64{testHidden, 8}, b.Shape)
	vs, err := b.Float32s()
	require.NoError(t, err)
	for _, v := range vs {
		if v != 0 {
			t.Fatalf("lora_B is not zero-initialized: %v", v)
		}
	}
}

func TestAttach_Partition(t *testing.T) {
	for _, backend := range []Backend{BackendPEFT, BackendAdapterHub} {
		for _, method := range SupportedMethods(backend) {
			t.Run(string(backend)+"/"+string(method), func(t *testing.T) {
				m := newTestLlama(2)
				base := len(m.Module.NamedParameters())

				am, err := Attach(m, AdaptationSpec{Backend: backend, Method: method}, AttachWithSeed(7))
				require.NoError(t, err)

				nps := m.Module.NamedParameters()
				require.Greater(t, len(nps), base, "no adapter parameter injected")

				var trainable, adapter int
				for _, np := range nps {
					if np.Adapter != "" {
						adapter++
						assert.Equal(t, am.AdapterName(), np.Adapter, np.Name)
						assert.True(t, np.Trainable, "adapter parameter %s is frozen", np.Name)
					} else {
						assert.False(t, np.Trainable, "base parameter %s is trainable", np.Name)
					}
					if np.Trainable {
						trainable++
					}
				}
				assert.Equal(t, adapter, trainable)
				assert.Equal(t, len(nps)-base, adapter)

				s := am.TrainableSummary()
				assert.NotZero(t, s.Trainable)
				assert.Less(t, s.Trainable, s.All)
			})
		}
	}
}

func TestAttach_Unsupported(t *testing.T) {
	testCases := []struct {
		name     string
		given    AdaptationSpec
		expected error
	}{
		{"unknown backend", AdaptationSpec{Backend: "deepspeed"}, ErrUnsupportedBackend},
		{"unknown method", AdaptationSpec{Method: "qlora"}, ErrUnsupportedMethod},
		{"hub only method", AdaptationSpec{Method: MethodCompacter}, ErrUnsupportedMethod},
		{"peft only method", AdaptationSpec{Backend: BackendAdapterHub, Method: MethodPTuning}, ErrUnsupportedMethod},
		{"invalid rank", AdaptationSpec{Options: map[string]any{"r": 0}}, ErrInvalidAdapterOptions},
		{"unknown option", AdaptationSpec{Options: map[string]any{"rank": 8}}, ErrInvalidAdapterOptions},
		{"no match", AdaptationSpec{Options: map[string]any{"target_modules": "wq"}}, ErrNoAdaptableModules},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			m := newTestLlama(1)
			before := m.Module.Clone()

			_, err := Attach(m, tc.given)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.expected)

			var ce *ConfigurationError
			if assert.True(t, errors.As(err, &ce)) {
				assert.Equal(t, tc.given.Normalize().Backend, ce.Backend)
			}
			assert.Empty(t, cmp.Diff(before, m.Module))
		})
	}
}

func TestAttach_Atomic(t *testing.T) {
	m := newTestLlama(2)
	// Shrink the hidden size so that only the output adapters fit.
	m.InputEmbeddings().Parameter("weight").Value = NewTensor(GGMLTypeF32, testVocab, 8)
	before := m.Module.Clone()

	_, err := Attach(m, AdaptationSpec{Backend: BackendAdapterHub, Method: MethodUnion})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoAdaptableModules)
	assert.Empty(t, cmp.Diff(before, m.Module))
}

func TestAttach_Twice(t *testing.T) {
	m := newTestLlama(1)
	_, err := Attach(m, AdaptationSpec{})
	require.NoError(t, err)

	_, err = Attach(m, AdaptationSpec{})
	assert.ErrorIs(t, err, ErrAdapterAttached)
}

func TestAttach_Seed(t *testing.T) {
	attach := func() *StateDict {
		m := newTestLlama(1)
		_, err := Attach(m, AdaptationSpec{}, AttachWithSeed(42))
		require.NoError(t, err)
		return StateDictOf(m.Module, true)
	}
	assert.True(t, attach().Equal(attach()))
}

func TestAttach_PromptTuningText(t *testing.T) {
	m := newTestLlama(1)
	emb := make([]float32, testVocab*testHidden)
	for i := range emb {
		emb[i] = float32(i / testHidden)
	}
	m.InputEmbeddings().Parameter("weight").Value = NewTensorF32(emb, testVocab, testHidden)

	_, err := Attach(m, AdaptationSpec{
		Method: MethodPromptTuning,
		Options: map[string]any{
			"num_virtual_tokens":           3,
			"prompt_tuning_init":           "text",
			"prompt_tuning_init_token_ids": []any{5, 9},
		},
	})
	require.NoError(t, err)

	w := m.Module.Lookup("prompt_encoder.default.embedding.weight")
	require.NotNil(t, w)
	vs, err := w.Value.Float32s()
	require.NoError(t, err)
	assert.Equal(t, float32(5), vs[0])
	assert.Equal(t, float32(9), vs[testHidden])
	assert.Equal(t, float32(5), vs[2*testHidden])
}

func TestAdaptedModel_DisableAdapter(t *testing.T) {
	m := newTestLlama(1)
	am, err := Attach(m, AdaptationSpec{})
	require.NoError(t, err)

	all := len(m.Module.ActiveParameters())
	base := all - 4

	r1 := am.DisableAdapter()
	r2 := am.DisableAdapter()
	assert.Len(t, m.Module.ActiveParameters(), base)
	r2()
	r2()
	assert.Len(t, m.Module.ActiveParameters(), base, "nested restore re-enabled the adapter")
	r1()
	assert.Len(t, m.Module.ActiveParameters(), all)
}

func TestAdaptedModel_DisableAdapter_NoBypass(t *testing.T) {
	m := newTestLlama(1)
	am, err := Attach(m, AdaptationSpec{Backend: BackendAdapterHub, Method: MethodLoRA})
	require.NoError(t, err)
	assert.False(t, am.SupportsBypass())

	all := len(m.Module.ActiveParameters())
	restore := am.DisableAdapter()
	assert.Len(t, m.Module.ActiveParameters(), all)
	restore()
}

func TestTrainableSummary_String(t *testing.T) {
	s := TrainableSummary{Trainable: 1, All: 400}
	assert.Equal(t, "trainable params: 1 || all params: 400 || trainable%: 0.2500", s.String())
	assert.Zero(t, TrainableSummary{}.Percentage())
}
