package llm_adapter

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/gpustack/llm-adapter-go/util/osx"
	"github.com/gpustack/llm-adapter-go/util/stringx"
)

// _BlockListNames are the module names holding the repeated blocks.
var _BlockListNames = []string{"blk", "layers", "h", "blocks"}

// Model builds a layout-only BaseModel from the tensor infos,
// the dotted tensor names become the module tree.
//
// The numeric children of "blk" (or "layers", "h", "blocks") are typed
// by the block type of the architecture,
// the modules owning parameters are typed "Embedding", "Norm" or "Linear".
func (gf *GGUFFile) Model() *BaseModel {
	arch := gf.Architecture()
	m := NewBaseModel(arch)
	m.Metadata = make(map[string]any, len(gf.Header.MetadataKV))
	for _, kv := range gf.Header.MetadataKV {
		if kv.ValueType == GGUFMetadataValueTypeArray {
			continue
		}
		m.Metadata[kv.Key] = kv.Value
	}

	for _, ti := range gf.TensorInfos {
		path, name, _ := stringx.CutFromRight(ti.Name, ".")
		if name == "" {
			path, name = "", ti.Name
		}
		mod := ensureModule(m.Module, path)
		mod.AddParameter(name, &Tensor{Type: ti.Type, Shape: ti.Shape()}, true)
	}

	units := LookupAtomicUnits(arch)
	m.Module.Walk(func(path string, o *Module) bool {
		if path == "" {
			return true
		}
		o.Type = moduleTypeOf(o)
		if o.Type == "Embedding" && m.EmbeddingsPath == "" && isInputEmbedding(o.Name) {
			m.EmbeddingsPath = path
		}
		if o.Type == "ModuleList" {
			for _, c := range o.Children {
				c.Type = units.BlockType()
			}
		}
		return true
	})
	return m
}

func ensureModule(root *Module, path string) *Module {
	if path == "" {
		return root
	}
	o := root
	for _, n := range strings.Split(path, ".") {
		c := o.Child(n)
		if c == nil {
			c = o.AddChild(NewModule(n, "Module"))
		}
		o = c
	}
	return o
}

func isBlockList(m *Module) bool {
	if len(m.Children) == 0 || len(m.Parameters) != 0 {
		return false
	}
	found := false
	for _, n := range _BlockListNames {
		if m.Name == n {
			found = true
			break
		}
	}
	if !found {
		return false
	}
	for _, c := range m.Children {
		if _, err := strconv.Atoi(c.Name); err != nil {
			return false
		}
	}
	return true
}

func isInputEmbedding(name string) bool {
	return name == "token_embd" || name == "wte" || name == "embed_tokens" || name == "word_embeddings"
}

func moduleTypeOf(m *Module) string {
	switch {
	case m.Type != "Module":
		// Typed by its parent.
		return m.Type
	case isBlockList(m):
		return "ModuleList"
	case len(m.Parameters) == 0:
		return "Module"
	case strings.Contains(m.Name, "norm"):
		return "Norm"
	case isInputEmbedding(m.Name) || strings.Contains(m.Name, "embd") || strings.Contains(m.Name, "embed"):
		return "Embedding"
	}
	return "Linear"
}

// ParseModelFile parses a GGUF model file from the local given path,
// and returns a BaseModel holding the tensor data,
// or a layout-only BaseModel if SkipTensorData is given.
func ParseModelFile(path string, opts ...GGUFReadOption) (*BaseModel, error) {
	var o _GGUFReadOptions
	for _, opt := range opts {
		opt(&o)
	}

	f, s, closer, err := openGGUFFile(path, o)
	if err != nil {
		return nil, err
	}
	defer osx.Close(closer)

	gf, err := parseGGUFFile(s, newSectionReader(f, s), o)
	if err != nil {
		return nil, fmt.Errorf("parse model: %w", err)
	}

	m := gf.Model()
	if o.SkipTensorData {
		return m, nil
	}

	for _, ti := range gf.TensorInfos {
		t, err := gf.ReadTensor(f, ti)
		if err != nil {
			return nil, fmt.Errorf("parse model: %w", err)
		}
		p := m.Module.Lookup(ti.Name)
		if p == nil {
			return nil, fmt.Errorf("parse model: tensor %s not in tree", ti.Name)
		}
		p.Value = t
	}
	return m, nil
}
