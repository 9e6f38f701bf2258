package llm_adapter

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAdapterConfig_Spec(t *testing.T) {
	c := AdapterConfig{
		Use: true,
		Args: []map[string]any{{
			"adapter_package": "PEFT",
			"adapter_method":  "LoRA",
			"r":               8,
			"lora_alpha":      16,
		}},
	}
	assert.Equal(t, AdaptationSpec{
		Backend: BackendPEFT,
		Method:  MethodLoRA,
		Options: map[string]any{"r": 8, "lora_alpha": 16},
	}, c.Spec())
	assert.Len(t, c.Args[0], 4, "Spec must not mutate the arguments")

	assert.Equal(t, AdaptationSpec{Backend: BackendPEFT, Method: MethodLoRA}, AdapterConfig{}.Spec())
}

func TestParseAdapterConfigFile(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		p := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
		return p
	}

	testCases := []struct {
		name  string
		given string
	}{
		{"adapter.yaml", `
use: true
args:
  - adapter_package: adapterhub
    adapter_method: mam
    ignored: 1
`},
		{"adapter.json", `{"use": true, "args": [{"adapter_package": "adapterhub", "adapter_method": "mam", "ignored": 1}]}`},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			c, err := ParseAdapterConfigFile(write(tc.name, tc.given))
			require.NoError(t, err)
			assert.True(t, c.Use)
			s := c.Spec()
			assert.Equal(t, BackendAdapterHub, s.Backend)
			assert.Equal(t, MethodMAM, s.Method)
			assert.Contains(t, s.Options, "ignored")
		})
	}

	_, err := ParseAdapterConfigFile(write("empty.yaml", "\n"))
	assert.Error(t, err)
	_, err = ParseAdapterConfigFile(write("broken.json", "{"))
	assert.Error(t, err)
	_, err = ParseAdapterConfigFile(filepath.Join(dir, "absent.yaml"))
	assert.Error(t, err)
}
