//go:build !stdjson

package json

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUnmarshal_Any(t *testing.T) {
	var opts map[string]any
	require.NoError(t, Unmarshal([]byte(`{"r":8,"alpha":0.5,"targets":["q_proj"],"bias":"none"}`), &opts))

	assert.Equal(t, int64(8), opts["r"])
	assert.Equal(t, 0.5, opts["alpha"])
	assert.Equal(t, []any{"q_proj"}, opts["targets"])
	assert.Equal(t, "none", opts["bias"])
}
