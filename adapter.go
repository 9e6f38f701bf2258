package llm_adapter

import (
	"fmt"
	"slices"
	"strings"
	"sync"

	"github.com/go-logr/logr"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/exp/rand"
)

// Backend is the identifier of an adaptation library.
type Backend string

// Backend constants.
const (
	BackendPEFT       Backend = "peft"
	BackendAdapterHub Backend = "adapterhub"
)

// Method is the identifier of an adaptation method.
type Method string

// Method constants.
const (
	MethodLoRA         Method = "lora"
	MethodPrefixTuning Method = "prefix"
	MethodPromptTuning Method = "prompt"
	MethodPTuning      Method = "p-tuning"
	MethodBottleneck   Method = "bottleneck"
	MethodLanguage     Method = "lang"
	MethodCompacter    Method = "compacter"
	MethodIA3          Method = "ia_3"
	MethodUnion        Method = "union"
	MethodMAM          Method = "mam"
)

// AdaptationSpec identifies the adaptation to attach to a model.
type AdaptationSpec struct {
	// Backend is the adaptation library, default is BackendPEFT.
	Backend Backend `json:"adapter_package,omitempty" yaml:"adapter_package,omitempty"`
	// Method is the adaptation method of the Backend, default is MethodLoRA.
	Method Method `json:"adapter_method,omitempty" yaml:"adapter_method,omitempty"`
	// Options are the method-specific options,
	// methods with a fixed configuration ignore them.
	Options map[string]any `json:"options,omitempty" yaml:"options,omitempty"`
}

// Normalize returns the spec with defaults applied and the identifiers lower-cased.
func (s AdaptationSpec) Normalize() AdaptationSpec {
	s.Backend = Backend(strings.ToLower(strings.TrimSpace(string(s.Backend))))
	if s.Backend == "" {
		s.Backend = BackendPEFT
	}
	s.Method = Method(strings.ToLower(strings.TrimSpace(string(s.Method))))
	if s.Method == "" {
		s.Method = MethodLoRA
	}
	return s
}

func (s AdaptationSpec) String() string {
	return string(s.Backend) + "/" + string(s.Method)
}

type (
	// _AdapterBuilder plans the attachment of a method.
	_AdapterBuilder struct {
		// Name is the adapter name the method attaches under.
		Name string
		// Plan plans the attachment without mutating the model.
		Plan func(c *_AttachContext, opts map[string]any) (*_AttachPlan, error)
	}

	_AdapterBackend struct {
		// Bypass is true if the adapter of the backend can be disabled per call.
		Bypass   bool
		Builders map[Method]_AdapterBuilder
	}
)

// _AdapterBackends is the dispatch table of backend to method to builder.
var _AdapterBackends = map[Backend]_AdapterBackend{
	BackendPEFT: {
		Bypass: true,
		Builders: map[Method]_AdapterBuilder{
			MethodLoRA:         {Name: "default", Plan: planPEFTLoRA},
			MethodPrefixTuning: {Name: "default", Plan: planPEFTPrefixTuning},
			MethodPromptTuning: {Name: "default", Plan: planPEFTPromptTuning},
			MethodPTuning:      {Name: "default", Plan: planPEFTPromptEncoder},
		},
	},
	BackendAdapterHub: {
		Bypass: false,
		Builders: map[Method]_AdapterBuilder{
			MethodLoRA:         {Name: "lora_adapter", Plan: planHubLoRA},
			MethodBottleneck:   {Name: "bottleneck_adapter", Plan: planHubBottleneck},
			MethodLanguage:     {Name: "lang_adapter", Plan: planHubLanguage},
			MethodPrefixTuning: {Name: "prefix_tuning", Plan: planHubPrefixTuning},
			MethodCompacter:    {Name: "dummy", Plan: planHubCompacter},
			MethodIA3:          {Name: "ia3_adapter", Plan: planHubIA3},
			MethodUnion:        {Name: "union_adapter", Plan: planHubUnion},
			MethodMAM:          {Name: "mam_adapter", Plan: planHubMAM},
		},
	},
}

// SupportedMethods returns the sorted methods of the given backend.
func SupportedMethods(b Backend) []Method {
	be, ok := _AdapterBackends[b]
	if !ok {
		return nil
	}
	ms := make([]Method, 0, len(be.Builders))
	for m := range be.Builders {
		ms = append(ms, m)
	}
	slices.Sort(ms)
	return ms
}

// AdaptedModel is a Model with an attached adapter.
//
// The structural tree of the underlying Model holds the adapter modules,
// so Forward and Generate run through the adapter unless it is disabled.
type AdaptedModel struct {
	Model

	spec   AdaptationSpec
	name   string
	bypass bool

	mu       sync.Mutex
	disabled int
}

// Spec returns the normalized AdaptationSpec of the adapter.
func (m *AdaptedModel) Spec() AdaptationSpec {
	return m.spec
}

// AdapterName returns the name the adapter modules are registered under.
func (m *AdaptedModel) AdapterName() string {
	return m.name
}

// SupportsBypass returns true if the adapter can be disabled per call.
func (m *AdaptedModel) SupportsBypass() bool {
	return m.bypass
}

// DisableAdapter excludes the adapter modules from computation until the returned restore is called,
// nested calls are counted.
//
// DisableAdapter does nothing if the adapter does not support bypass.
func (m *AdaptedModel) DisableAdapter() (restore func()) {
	if !m.bypass {
		return func() {}
	}

	m.mu.Lock()
	if m.disabled == 0 {
		m.Root().SetAdapterDisabled(m.name, true)
	}
	m.disabled++
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			m.disabled--
			if m.disabled == 0 {
				m.Root().SetAdapterDisabled(m.name, false)
			}
		})
	}
}

// TrainableSummary returns the trainable summary of the model.
func (m *AdaptedModel) TrainableSummary() TrainableSummary {
	return SummarizeTrainable(m.Root())
}

// TrainableSummary counts the trainable scalar parameters of a model.
type TrainableSummary struct {
	Trainable ParametersScalar `json:"trainable"`
	All       ParametersScalar `json:"all"`
}

// SummarizeTrainable returns the TrainableSummary of the given module tree.
func SummarizeTrainable(root *Module) (s TrainableSummary) {
	for _, np := range root.NamedParameters() {
		n := ParametersScalar(np.Value.Elements())
		s.All += n
		if np.Trainable {
			s.Trainable += n
		}
	}
	return s
}

// Percentage returns the trainable percentage.
func (s TrainableSummary) Percentage() float64 {
	if s.All == 0 {
		return 0
	}
	return 100 * float64(s.Trainable) / float64(s.All)
}

func (s TrainableSummary) String() string {
	return fmt.Sprintf("trainable params: %d || all params: %d || trainable%%: %.4f",
		uint64(s.Trainable), uint64(s.All), s.Percentage())
}

type (
	_AttachOptions struct {
		Logger logr.Logger
		Seed   *uint64
	}
	AttachOption func(*_AttachOptions)
)

// AttachWithLogger logs the attachment with the given logger.
func AttachWithLogger(l logr.Logger) AttachOption {
	return func(o *_AttachOptions) {
		o.Logger = l
	}
}

// AttachWithSeed initializes the adapter weights deterministically.
func AttachWithSeed(seed uint64) AttachOption {
	return func(o *_AttachOptions) {
		o.Seed = &seed
	}
}

// Attach attaches the adaptation of the given spec to the model,
// freezes the base parameters and marks the adapter parameters trainable.
//
// An unsupported backend or method fails with a *ConfigurationError,
// which wraps ErrUnsupportedBackend or ErrUnsupportedMethod.
// The attachment is planned first and applied only if every part of it is valid,
// a failed Attach leaves the model unchanged.
func Attach(m Model, spec AdaptationSpec, opts ...AttachOption) (*AdaptedModel, error) {
	o := _AttachOptions{Logger: logr.Discard()}
	for _, opt := range opts {
		opt(&o)
	}

	spec = spec.Normalize()
	be, ok := _AdapterBackends[spec.Backend]
	if !ok {
		return nil, &ConfigurationError{Backend: spec.Backend, Err: ErrUnsupportedBackend}
	}
	bd, ok := be.Builders[spec.Method]
	if !ok {
		return nil, &ConfigurationError{Backend: spec.Backend, Method: spec.Method, Err: ErrUnsupportedMethod}
	}
	cfgErr := func(err error) error {
		return &ConfigurationError{Backend: spec.Backend, Method: spec.Method, Err: err}
	}

	root := m.Root()
	if root == nil {
		return nil, cfgErr(fmt.Errorf("%w: model has no module tree", ErrNoAdaptableModules))
	}
	if attachedAdapter(root, bd.Name) {
		return nil, cfgErr(fmt.Errorf("%w: %s", ErrAdapterAttached, bd.Name))
	}

	c := newAttachContext(m, bd.Name, o)
	p, err := bd.Plan(c, spec.Options)
	if err != nil {
		return nil, cfgErr(err)
	}
	p.commit(root)

	am := &AdaptedModel{
		Model:  m,
		spec:   spec,
		name:   bd.Name,
		bypass: be.Bypass,
	}
	o.Logger.Info("attached adapter",
		"adapter", spec.String(), "name", bd.Name, "summary", am.TrainableSummary().String())
	return am, nil
}

func attachedAdapter(root *Module, name string) (found bool) {
	root.Walk(func(_ string, m *Module) bool {
		if m.Adapter == name {
			found = true
		}
		return !found
	})
	return found
}

type (
	// _AttachContext is the view of the model during planning.
	_AttachContext struct {
		Model  Model
		Root   *Module
		Units  AtomicUnits
		Name   string
		Logger logr.Logger

		src rand.Source
	}

	// _AttachPlan is the pending mutation of an attachment.
	_AttachPlan struct {
		inserts   []_AttachInsert
		trainable []*Parameter
	}

	// _AttachInsert places Child below the containers of Path under Parent,
	// missing containers are created on commit.
	_AttachInsert struct {
		Parent *Module
		Path   []string
		Child  *Module
	}
)

func newAttachContext(m Model, name string, o _AttachOptions) *_AttachContext {
	c := &_AttachContext{
		Model:  m,
		Root:   m.Root(),
		Units:  LookupAtomicUnits(m.Architecture()),
		Name:   name,
		Logger: o.Logger,
	}
	if o.Seed != nil {
		c.src = rand.NewSource(*o.Seed)
	}
	return c
}

// Insert plans the placement of child below parent.
func (p *_AttachPlan) Insert(parent *Module, child *Module, path ...string) {
	p.inserts = append(p.inserts, _AttachInsert{Parent: parent, Path: path, Child: child})
}

// KeepTrainable plans to keep the given base parameter trainable.
func (p *_AttachPlan) KeepTrainable(ps ...*Parameter) {
	p.trainable = append(p.trainable, ps...)
}

// Merge appends the mutations of the other plan.
func (p *_AttachPlan) Merge(o *_AttachPlan) {
	p.inserts = append(p.inserts, o.inserts...)
	p.trainable = append(p.trainable, o.trainable...)
}

func (p *_AttachPlan) commit(root *Module) {
	for _, np := range root.NamedParameters() {
		np.Trainable = false
	}
	for _, in := range p.inserts {
		parent := in.Parent
		for _, n := range in.Path {
			c := parent.Child(n)
			if c == nil {
				c = parent.AddChild(NewModule(n, "ModuleDict"))
			}
			parent = c
		}
		parent.AddChild(in.Child)
		for _, np := range in.Child.NamedParameters() {
			np.Trainable = true
		}
	}
	for _, bp := range p.trainable {
		bp.Trainable = true
	}
}

// planAll merges the plans of all planners,
// failing with every planner error if any fails.
func planAll(c *_AttachContext, planners ...func(*_AttachContext) (*_AttachPlan, error)) (*_AttachPlan, error) {
	var (
		merged _AttachPlan
		errs   *multierror.Error
	)
	for i := range planners {
		p, err := planners[i](c)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		merged.Merge(p)
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	return &merged, nil
}
