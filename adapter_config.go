package llm_adapter

import (
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/gpustack/llm-adapter-go/util/anyx"
	"github.com/gpustack/llm-adapter-go/util/json"
	"github.com/gpustack/llm-adapter-go/util/osx"
)

// AdapterConfig is the adapter section of a federated training configuration,
// e.g.
//
//	use: true
//	args:
//	  - adapter_package: peft
//	    adapter_method: lora
//	    r: 8
//	    lora_alpha: 16
type AdapterConfig struct {
	// Use enables the adapter.
	Use bool `json:"use" yaml:"use"`
	// Args holds the adaptation arguments, only the first item is used.
	Args []map[string]any `json:"args,omitempty" yaml:"args,omitempty"`
}

// Spec returns the AdaptationSpec of the configuration,
// "adapter_package" and "adapter_method" select the backend and the method,
// the remaining keys become the options.
func (c AdapterConfig) Spec() AdaptationSpec {
	var s AdaptationSpec
	if len(c.Args) == 0 {
		return s.Normalize()
	}

	opts := maps.Clone(c.Args[0])
	if v, ok := opts["adapter_package"]; ok {
		s.Backend = Backend(anyx.String(v))
		delete(opts, "adapter_package")
	}
	if v, ok := opts["adapter_method"]; ok {
		s.Method = Method(anyx.String(v))
		delete(opts, "adapter_method")
	}
	if len(opts) != 0 {
		s.Options = opts
	}
	return s.Normalize()
}

// ParseAdapterConfigFile parses the AdapterConfig from the given YAML or JSON file,
// a file with the ".json" extension is parsed as JSON.
func ParseAdapterConfigFile(path string) (*AdapterConfig, error) {
	bs, err := os.ReadFile(osx.InlineTilde(path))
	if err != nil {
		return nil, fmt.Errorf("read adapter config: %w", err)
	}
	if len(strings.TrimSpace(string(bs))) == 0 {
		return nil, errors.New("empty adapter config")
	}

	var c AdapterConfig
	if strings.EqualFold(filepath.Ext(path), ".json") {
		err = json.Unmarshal(bs, &c)
	} else {
		err = yaml.Unmarshal(bs, &c)
	}
	if err != nil {
		return nil, fmt.Errorf("parse adapter config %s: %w", path, err)
	}
	return &c, nil
}
