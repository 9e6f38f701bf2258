package llm_adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gpustack/llm-adapter-go/util/json"
)

func TestStateDictOf(t *testing.T) {
	m := newTestLlama(1)
	m.Module.Lookup("token_embd.weight").Trainable = false

	all := StateDictOf(m.Module, false)
	assert.Equal(t, ParameterNames(m.Module.NamedParameters()), all.Keys())
	assert.Equal(t, m.Module.Size(), all.Size())

	trainable := StateDictOf(m.Module, true)
	assert.Equal(t, all.Len()-1, trainable.Len())
	_, ok := trainable.Get("token_embd.weight")
	assert.False(t, ok)

	v, _ := all.Get("output.weight")
	assert.Same(t, m.Module.Lookup("output.weight").Value, v, "StateDictOf must alias the parameters")
}

func TestStateDict_Order(t *testing.T) {
	sd := NewStateDict()
	sd.Set("b", NewTensor(GGMLTypeF32, 1))
	sd.Set("a", NewTensor(GGMLTypeF32, 1))
	sd.Set("b", NewTensor(GGMLTypeF32, 2))
	assert.Equal(t, []string{"b", "a"}, sd.Keys())

	var visited []string
	sd.Range(func(name string, _ *Tensor) bool {
		visited = append(visited, name)
		return false
	})
	assert.Equal(t, []string{"b"}, visited)

	c := sd.Clone()
	assert.True(t, sd.Equal(c))
	v, _ := c.Get("b")
	v.Data[0] = 1
	assert.False(t, sd.Equal(c))

	var nsd *StateDict
	assert.Zero(t, nsd.Len())
	assert.Nil(t, nsd.Keys())
}

func TestStateDict_JSON(t *testing.T) {
	sd := NewStateDict()
	sd.Set("z.weight", NewTensor(GGMLTypeF16, 2, 3))
	sd.Set("a.weight", NewTensor(GGMLTypeF32, 4))

	bs, err := json.Marshal(sd)
	require.NoError(t, err)
	assert.JSONEq(t, `{"z.weight":{"type":1,"shape":[2,3]},"a.weight":{"type":0,"shape":[4]}}`, string(bs))

	var actual StateDict
	require.NoError(t, json.Unmarshal(bs, &actual))
	assert.Equal(t, []string{"z.weight", "a.weight"}, actual.Keys())
	v, _ := actual.Get("z.weight")
	assert.Equal(t, []uint64{2, 3}, v.Shape)
}

func TestLoadStateDict(t *testing.T) {
	m := newTestLlama(1)
	sd := NewStateDict()
	sd.Set("output_norm.weight", NewTensorF32(make([]float32, testHidden), testHidden))
	sd.Set("lm_head.weight", NewTensor(GGMLTypeF32, 1))

	r, err := LoadStateDict(m.Module, sd)
	require.NoError(t, err)
	assert.Equal(t, []string{"lm_head.weight"}, r.UnexpectedKeys)
	assert.Len(t, r.MissingKeys, len(m.Module.NamedParameters())-1)
	assert.NotContains(t, r.MissingKeys, "output_norm.weight")

	v, _ := sd.Get("output_norm.weight")
	assert.NotSame(t, v, m.Module.Lookup("output_norm.weight").Value)

	r, err = LoadStateDict(m.Module, NewStateDict())
	require.NoError(t, err)
	assert.Empty(t, r.UnexpectedKeys)
}

func TestLoadStateDict_DataMissing(t *testing.T) {
	m := newTestLlama(1)
	before := StateDictOf(m.Module, false).Clone()

	// The JSON form carries layouts only.
	bs, err := json.Marshal(StateDictOf(m.Module, false))
	require.NoError(t, err)
	var layouts StateDict
	require.NoError(t, json.Unmarshal(bs, &layouts))

	_, err = LoadStateDict(m.Module, &layouts)
	assert.ErrorIs(t, err, ErrStateMismatch)
	assert.True(t, before.Equal(StateDictOf(m.Module, false)))
	assert.True(t, m.Module.Lookup("token_embd.weight").Value.HasData())

	short := NewStateDict()
	short.Set("output_norm.weight", &Tensor{Type: GGMLTypeF32, Shape: []uint64{testHidden}, Data: make([]byte, 3)})
	_, err = LoadStateDict(m.Module, short)
	assert.ErrorIs(t, err, ErrStateMismatch)
	assert.Len(t, m.Module.Lookup("output_norm.weight").Value.Data, 4*testHidden)
}
