package llm_adapter

import (
	"strings"
)

// Types for the structural tree of a model.
type (
	// Module is a node of the structural tree of a model,
	// e.g. a decoder layer, an attention projection or an embedding table.
	Module struct {
		// Name is the local name of the module below its parent,
		// the root module has an empty name.
		Name string `json:"name"`
		// Type is the structural type of the module,
		// e.g. "LlamaDecoderLayer", "Linear", "Embedding".
		//
		// Types listed by the atomic-unit registry are never split across devices.
		Type string `json:"type"`
		// Parameters are the parameters owned directly by the module.
		Parameters []*Parameter `json:"parameters,omitempty"`
		// Children are the sub-modules in traversal order.
		Children []*Module `json:"children,omitempty"`
		// Adapter is the name of the adapter which injected the module,
		// empty for base modules.
		Adapter string `json:"adapter,omitempty"`
		// Disabled excludes the module and its descendants from ActiveParameters,
		// only adapter modules are disabled.
		Disabled bool `json:"-"`
	}

	// Parameter is a named tensor of a Module.
	Parameter struct {
		// Name is the local name of the parameter below its module, e.g. "weight".
		Name string `json:"name"`
		// Value is the tensor of the parameter.
		Value *Tensor `json:"value"`
		// Trainable is the gradient-tracking flag of the parameter.
		Trainable bool `json:"trainable"`
		// Device is the identifier of the device where the parameter resides,
		// empty before any placement.
		Device string `json:"device,omitempty"`
		// Adapter is the name of the adapter which injected the parameter,
		// empty for base parameters.
		Adapter string `json:"adapter,omitempty"`
	}

	// NamedParameter pairs a Parameter with its full dotted path.
	NamedParameter struct {
		Name string
		*Parameter
	}
)

// NewModule returns a module with the given name and type.
func NewModule(name, typ string, children ...*Module) *Module {
	return &Module{Name: name, Type: typ, Children: children}
}

// JoinPath joins a dotted module path with a local name.
func JoinPath(prefix, name string) string {
	switch {
	case prefix == "":
		return name
	case name == "":
		return prefix
	}
	return prefix + "." + name
}

// AddChild appends the given child and returns it.
func (m *Module) AddChild(c *Module) *Module {
	m.Children = append(m.Children, c)
	return c
}

// AddParameter appends a parameter with the given local name and value, and returns it.
func (m *Module) AddParameter(name string, value *Tensor, trainable bool) *Parameter {
	p := &Parameter{Name: name, Value: value, Trainable: trainable, Adapter: m.Adapter}
	m.Parameters = append(m.Parameters, p)
	return p
}

// Child returns the direct child with the given local name, or nil.
func (m *Module) Child(name string) *Module {
	for i := range m.Children {
		if m.Children[i].Name == name {
			return m.Children[i]
		}
	}
	return nil
}

// Parameter returns the direct parameter with the given local name, or nil.
func (m *Module) Parameter(name string) *Parameter {
	for i := range m.Parameters {
		if m.Parameters[i].Name == name {
			return m.Parameters[i]
		}
	}
	return nil
}

// Find returns the descendant module at the given dotted path, or nil.
//
// An empty path returns the module itself.
func (m *Module) Find(path string) *Module {
	if path == "" {
		return m
	}
	c := m
	for _, n := range strings.Split(path, ".") {
		if c = c.Child(n); c == nil {
			return nil
		}
	}
	return c
}

// Lookup returns the parameter at the given full dotted name, or nil.
func (m *Module) Lookup(name string) *Parameter {
	i := strings.LastIndexByte(name, '.')
	if i < 0 {
		return m.Parameter(name)
	}
	o := m.Find(name[:i])
	if o == nil {
		return nil
	}
	return o.Parameter(name[i+1:])
}

// Walk visits the module and all descendants in pre-order,
// fn receives the dotted path of each module,
// returning false skips the descendants of the visited module.
func (m *Module) Walk(fn func(path string, m *Module) bool) {
	m.walk("", fn)
}

func (m *Module) walk(path string, fn func(string, *Module) bool) {
	if !fn(path, m) {
		return
	}
	for i := range m.Children {
		m.Children[i].walk(JoinPath(path, m.Children[i].Name), fn)
	}
}

// NamedParameters returns all parameters below the module in traversal order,
// a module lists its own parameters before descending into its children.
func (m *Module) NamedParameters() []NamedParameter {
	return m.namedParameters(false)
}

// ActiveParameters is similar to NamedParameters,
// but skips the parameters of disabled adapter modules.
func (m *Module) ActiveParameters() []NamedParameter {
	return m.namedParameters(true)
}

func (m *Module) namedParameters(active bool) (nps []NamedParameter) {
	m.Walk(func(path string, o *Module) bool {
		if active && o.Disabled {
			return false
		}
		for i := range o.Parameters {
			nps = append(nps, NamedParameter{Name: JoinPath(path, o.Parameters[i].Name), Parameter: o.Parameters[i]})
		}
		return true
	})
	return nps
}

// Size returns the bytes of all parameters below the module.
func (m *Module) Size() BytesScalar {
	var s BytesScalar
	m.Walk(func(_ string, o *Module) bool {
		for i := range o.Parameters {
			s += BytesScalar(o.Parameters[i].Value.Bytes())
		}
		return true
	})
	return s
}

// Elements returns the number of scalar parameters below the module.
func (m *Module) Elements() ParametersScalar {
	var s ParametersScalar
	m.Walk(func(_ string, o *Module) bool {
		for i := range o.Parameters {
			s += ParametersScalar(o.Parameters[i].Value.Elements())
		}
		return true
	})
	return s
}

// SetAdapterDisabled toggles the modules injected by the given adapter,
// an empty adapter name toggles every adapter module,
// base modules are left unchanged.
func (m *Module) SetAdapterDisabled(adapter string, disabled bool) {
	m.Walk(func(_ string, o *Module) bool {
		if o.Adapter != "" && (adapter == "" || o.Adapter == adapter) {
			o.Disabled = disabled
		}
		return true
	})
}
