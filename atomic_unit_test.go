package llm_adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLookupAtomicUnits(t *testing.T) {
	testCases := []struct {
		given    string
		expected AtomicUnits
	}{
		{"llama", AtomicUnits{Architecture: "llama", Types: []string{"LlamaDecoderLayer"}}},
		{"LlamaForCausalLM", AtomicUnits{Architecture: "llama", Types: []string{"LlamaDecoderLayer"}}},
		{"BloomForCausalLM", AtomicUnits{Architecture: "bloom", Types: []string{"BloomBlock"}}},
		{"GPT2LMHeadModel", AtomicUnits{Architecture: "gpt2", Types: []string{"GPT2Block"}}},
		{" opt ", AtomicUnits{Architecture: "opt", Types: []string{"OPTDecoderLayer"}}},
		{"mamba", AtomicUnits{Architecture: "mamba"}},
	}
	for _, tc := range testCases {
		t.Run(tc.given, func(t *testing.T) {
			actual := LookupAtomicUnits(tc.given)
			assert.Equal(t, tc.expected, actual)
		})
	}

	u := LookupAtomicUnits("mamba")
	assert.True(t, u.Unconstrained())
	assert.Equal(t, "Block", u.BlockType())
	assert.Equal(t, "mamba: unconstrained", u.String())

	u = LookupAtomicUnits("llama")
	assert.True(t, u.Contains("LlamaDecoderLayer"))
	assert.False(t, u.Contains("Linear"))

	// The registry must not be mutated through the result.
	u.Types[0] = "Linear"
	assert.Equal(t, "LlamaDecoderLayer", LookupAtomicUnits("llama").BlockType())
}
