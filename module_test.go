package llm_adapter

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
)

func TestModule_Find(t *testing.T) {
	m := newTestLlama(2)

	assert.Same(t, m.Module, m.Module.Find(""))
	assert.Equal(t, "LlamaDecoderLayer", m.Module.Find("blk.1").Type)
	assert.Nil(t, m.Module.Find("blk.2"))
	assert.Nil(t, m.Module.Find("blk.1.attn_qkv"))

	assert.NotNil(t, m.Module.Lookup("blk.1.attn_q.weight"))
	assert.Nil(t, m.Module.Lookup("blk.1.attn_q.bias"))
	assert.Nil(t, m.Module.Lookup("weight"))
}

func TestModule_NamedParameters(t *testing.T) {
	root := NewModule("", "CausalLM")
	root.AddParameter("scale", NewTensor(GGMLTypeF32, 1), true)
	a := root.AddChild(NewModule("a", "Linear"))
	a.AddParameter("weight", NewTensor(GGMLTypeF32, 2, 2), true)
	a.AddParameter("bias", NewTensor(GGMLTypeF32, 2), true)
	ad := NewModule("default", "Linear")
	ad.Adapter = "default"
	a.AddChild(NewModule("lora_A", "ModuleDict", ad))
	ad.AddParameter("weight", NewTensor(GGMLTypeF32, 1, 2), true)
	root.AddChild(NewModule("b", "Norm")).AddParameter("weight", NewTensor(GGMLTypeF32, 2), true)

	assert.Equal(t, []string{"scale", "a.weight", "a.bias", "a.lora_A.default.weight", "b.weight"},
		ParameterNames(root.NamedParameters()))
	assert.Equal(t, "default", root.Lookup("a.lora_A.default.weight").Adapter)

	root.SetAdapterDisabled("other", true)
	assert.Len(t, root.ActiveParameters(), 5)
	root.SetAdapterDisabled("default", true)
	assert.Equal(t, []string{"scale", "a.weight", "a.bias", "b.weight"},
		ParameterNames(root.ActiveParameters()))
	root.SetAdapterDisabled("", false)
	assert.Len(t, root.ActiveParameters(), 5)

	assert.Equal(t, BytesScalar(4*(1+4+2+2+2)), root.Size())
	assert.Equal(t, ParametersScalar(1+4+2+2+2), root.Elements())
}

func TestModule_Clone(t *testing.T) {
	m := newTestLlama(1)
	c := m.Clone()

	c.Module.Lookup("output.weight").Trainable = false
	c.Module.Find("blk.0").Name = "renamed"
	c.Metadata = map[string]any{"general.name": "clone"}

	assert.True(t, m.Module.Lookup("output.weight").Trainable)
	assert.NotNil(t, m.Module.Find("blk.0"))
	assert.Nil(t, m.Metadata)
}

func TestModule_Clone_Equal(t *testing.T) {
	m := newTestLlama(1)
	m.Module.AddChild(NewModule("empty", "Identity"))

	c := m.Module.Clone()
	assert.Empty(t, cmp.Diff(m.Module, c))
	assert.Nil(t, c.Find("empty").Parameters)
	assert.Nil(t, c.Find("empty").Children)
	assert.Nil(t, c.Find("blk.0.attn_q").Children)
}

func TestJoinPath(t *testing.T) {
	assert.Equal(t, "a", JoinPath("", "a"))
	assert.Equal(t, "a", JoinPath("a", ""))
	assert.Equal(t, "a.b", JoinPath("a", "b"))
}
