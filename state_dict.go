package llm_adapter

import (
	"fmt"

	"github.com/hashicorp/go-multierror"
	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// StateDict is an ordered mapping from the full parameter name to its tensor.
//
// The tensors of a StateDict built from a module tree alias the parameters,
// use Clone to take a detached snapshot.
type StateDict struct {
	om *orderedmap.OrderedMap[string, *Tensor]
}

// NewStateDict returns an empty StateDict.
func NewStateDict() *StateDict {
	return &StateDict{om: orderedmap.New[string, *Tensor]()}
}

// StateDictOf returns the StateDict of the given module tree in traversal order,
// restricted to the trainable parameters if trainableOnly is true.
func StateDictOf(root *Module, trainableOnly bool) *StateDict {
	sd := NewStateDict()
	for _, np := range root.NamedParameters() {
		if trainableOnly && !np.Trainable {
			continue
		}
		sd.Set(np.Name, np.Value)
	}
	return sd
}

// Set sets the tensor of the given name, keeping the position of an existing name.
func (sd *StateDict) Set(name string, t *Tensor) {
	sd.om.Set(name, t)
}

// Get returns the tensor of the given name.
func (sd *StateDict) Get(name string) (*Tensor, bool) {
	if sd == nil {
		return nil, false
	}
	return sd.om.Get(name)
}

// Len returns the number of entries.
func (sd *StateDict) Len() int {
	if sd == nil {
		return 0
	}
	return sd.om.Len()
}

// Keys returns the names in order.
func (sd *StateDict) Keys() []string {
	if sd == nil {
		return nil
	}
	ks := make([]string, 0, sd.om.Len())
	for p := sd.om.Oldest(); p != nil; p = p.Next() {
		ks = append(ks, p.Key)
	}
	return ks
}

// Range calls fn for each entry in order until fn returns false.
func (sd *StateDict) Range(fn func(name string, t *Tensor) bool) {
	if sd == nil {
		return
	}
	for p := sd.om.Oldest(); p != nil; p = p.Next() {
		if !fn(p.Key, p.Value) {
			return
		}
	}
}

// Clone returns a deep copy of the StateDict.
func (sd *StateDict) Clone() *StateDict {
	c := NewStateDict()
	sd.Range(func(name string, t *Tensor) bool {
		c.Set(name, t.Clone())
		return true
	})
	return c
}

// Equal returns true if both StateDicts have the same names in the same order
// with equal tensors.
func (sd *StateDict) Equal(o *StateDict) bool {
	if sd.Len() != o.Len() {
		return false
	}
	p, q := sd.om.Oldest(), o.om.Oldest()
	for ; p != nil; p, q = p.Next(), q.Next() {
		if p.Key != q.Key || !p.Value.Equal(q.Value) {
			return false
		}
	}
	return true
}

// Size returns the bytes of all tensors.
func (sd *StateDict) Size() BytesScalar {
	var s BytesScalar
	sd.Range(func(_ string, t *Tensor) bool {
		s += BytesScalar(t.Bytes())
		return true
	})
	return s
}

// LoadResult reports the names which did not align during a non-strict load.
type LoadResult struct {
	// MissingKeys are the parameters of the module tree absent from the StateDict,
	// they keep their current values.
	MissingKeys []string `json:"missingKeys,omitempty"`
	// UnexpectedKeys are the names of the StateDict without a parameter,
	// they are ignored.
	UnexpectedKeys []string `json:"unexpectedKeys,omitempty"`
}

// LoadStateDict copies the tensors of the StateDict into the matching parameters of the module tree.
//
// The load is non-strict, missing and unexpected names are reported by the LoadResult.
// A matching name whose tensor differs in type or shape, or lacks its data,
// fails the whole load, in which case no parameter is changed.
func LoadStateDict(root *Module, sd *StateDict) (LoadResult, error) {
	var (
		r    LoadResult
		errs *multierror.Error
		seen = make(map[string]struct{}, sd.Len())
	)

	type assign struct {
		p *Parameter
		t *Tensor
	}
	as := make([]assign, 0, sd.Len())
	for _, np := range root.NamedParameters() {
		t, ok := sd.Get(np.Name)
		if !ok {
			r.MissingKeys = append(r.MissingKeys, np.Name)
			continue
		}
		seen[np.Name] = struct{}{}
		if !np.Value.SameLayout(t) {
			errs = multierror.Append(errs,
				fmt.Errorf("%w: %s expects %s, got %s", ErrStateMismatch, np.Name, np.Value, t))
			continue
		}
		if !t.HasData() || uint64(len(t.Data)) != t.Bytes() {
			errs = multierror.Append(errs,
				fmt.Errorf("%w: %s carries %d of %d bytes", ErrStateMismatch, np.Name, len(t.Data), t.Bytes()))
			continue
		}
		as = append(as, assign{p: np.Parameter, t: t})
	}
	sd.Range(func(name string, _ *Tensor) bool {
		if _, ok := seen[name]; !ok {
			r.UnexpectedKeys = append(r.UnexpectedKeys, name)
		}
		return true
	})
	if err := errs.ErrorOrNil(); err != nil {
		return r, err
	}

	for i := range as {
		as[i].p.Value = as[i].t.Clone()
	}
	return r, nil
}

func (sd *StateDict) MarshalJSON() ([]byte, error) {
	return sd.om.MarshalJSON()
}

func (sd *StateDict) UnmarshalJSON(data []byte) error {
	sd.om = orderedmap.New[string, *Tensor]()
	return sd.om.UnmarshalJSON(data)
}
