package llm_adapter

import (
	"slices"
	"strings"
)

// AtomicUnits holds the structural block types of an architecture,
// which must reside wholly on one device.
type AtomicUnits struct {
	// Architecture is the normalized architecture identifier.
	Architecture string `json:"architecture"`
	// Types are the block types, empty means unconstrained placement.
	Types []string `json:"types,omitempty"`
}

// _AtomicUnitMap maps the architecture to its non-splittable block types.
var _AtomicUnitMap = map[string][]string{
	"llama": {"LlamaDecoderLayer"},
	"bloom": {"BloomBlock"},
	"gpt2":  {"GPT2Block"},
	"opt":   {"OPTDecoderLayer"},
}

// _ArchitectureAliases maps the causal-LM class names to the architecture.
var _ArchitectureAliases = map[string]string{
	"llamaforcausallm": "llama",
	"bloomforcausallm": "bloom",
	"gpt2lmheadmodel":  "gpt2",
	"optforcausallm":   "opt",
}

// LookupAtomicUnits returns the AtomicUnits of the given architecture,
// which accepts the GGUF architecture (e.g. "llama") or the class name (e.g. "LlamaForCausalLM").
//
// An unknown architecture returns the unconstrained AtomicUnits.
func LookupAtomicUnits(arch string) AtomicUnits {
	a := strings.ToLower(strings.TrimSpace(arch))
	if v, ok := _ArchitectureAliases[a]; ok {
		a = v
	}
	return AtomicUnits{
		Architecture: a,
		Types:        slices.Clone(_AtomicUnitMap[a]),
	}
}

// Unconstrained returns true if no block type is known for the architecture.
func (u AtomicUnits) Unconstrained() bool {
	return len(u.Types) == 0
}

// Contains returns true if the given module type is an atomic unit.
func (u AtomicUnits) Contains(typ string) bool {
	return slices.Contains(u.Types, typ)
}

// BlockType returns the type used for the repeated blocks of the architecture,
// "Block" for unconstrained architectures.
func (u AtomicUnits) BlockType() string {
	if u.Unconstrained() {
		return "Block"
	}
	return u.Types[0]
}

func (u AtomicUnits) String() string {
	if u.Unconstrained() {
		return u.Architecture + ": unconstrained"
	}
	return u.Architecture + ": " + strings.Join(u.Types, ", ")
}
