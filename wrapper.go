package llm_adapter

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-logr/logr"
)

// AdapterModel owns a model, optionally augmented by an adapter,
// and exposes a uniform surface to the federated training loop.
//
// AdapterModel is driven by a single caller,
// Shard must not run concurrently with Forward or Generate.
type AdapterModel struct {
	model   Model
	adapted *AdaptedModel
	units   AtomicUnits
	devices []Device
	log     logr.Logger

	state     PlacementState
	deviceMap DeviceMap
}

// NewAdapterModel wraps the given model,
// attaching an adapter if WithAdapter or an enabled WithAdapterConfig is given.
//
// The attachment failure is returned as-is, see Attach.
func NewAdapterModel(m Model, opts ...AdapterModelOption) (*AdapterModel, error) {
	if m == nil {
		return nil, errors.New("nil model")
	}

	o := _AdapterModelOptions{Logger: logr.Discard()}
	for _, opt := range opts {
		opt(&o)
	}

	if o.Devices == nil {
		ds, err := DevicesFromEnv()
		if err != nil {
			return nil, err
		}
		o.Devices = ds
	}

	a := &AdapterModel{
		model:   m,
		units:   LookupAtomicUnits(m.Architecture()),
		devices: o.Devices,
		log:     o.Logger,
	}

	if o.UseAdapter {
		aopts := []AttachOption{AttachWithLogger(o.Logger)}
		if o.Seed != nil {
			aopts = append(aopts, AttachWithSeed(*o.Seed))
		}
		am, err := Attach(m, o.Spec, aopts...)
		if err != nil {
			return nil, err
		}
		a.model, a.adapted = am, am
	}
	return a, nil
}

// Model returns the owned model, which is the AdaptedModel if an adapter is attached.
func (a *AdapterModel) Model() Model {
	return a.model
}

// Adapted returns the AdaptedModel, or nil if no adapter is attached.
func (a *AdapterModel) Adapted() *AdaptedModel {
	return a.adapted
}

// Architecture returns the architecture of the owned model.
func (a *AdapterModel) Architecture() string {
	return a.model.Architecture()
}

// Config returns the descriptive key-values of the base model,
// or nil if the base model carries none.
func (a *AdapterModel) Config() map[string]any {
	m := a.model
	if am, ok := m.(*AdaptedModel); ok {
		m = am.Model
	}
	if c, ok := m.(interface{ Config() map[string]any }); ok {
		return c.Config()
	}
	return nil
}

// AtomicUnits returns the atomic units resolved for the owned model.
func (a *AdapterModel) AtomicUnits() AtomicUnits {
	return a.units
}

// Devices returns the devices the model shards over.
func (a *AdapterModel) Devices() []Device {
	return a.devices
}

// InputEmbeddings returns the input embedding module of the owned model.
func (a *AdapterModel) InputEmbeddings() *Module {
	return a.model.InputEmbeddings()
}

// TrainableSummary returns the trainable summary of the owned model.
func (a *AdapterModel) TrainableSummary() TrainableSummary {
	return SummarizeTrainable(a.model.Root())
}

// bypass disables the adapter if requested and supported,
// the returned restore must be called when the call completes.
func (a *AdapterModel) bypass(disable bool) (restore func()) {
	switch {
	case !disable:
	case a.adapted == nil:
		a.log.V(1).Info("no adapter attached, ignored disabling")
	case !a.adapted.SupportsBypass():
		a.log.V(1).Info("adapter does not support bypass, ignored disabling",
			"adapter", a.adapted.Spec().String())
	default:
		return a.adapted.DisableAdapter()
	}
	return func() {}
}

// Forward runs the owned model on the given input,
// with the adapter disabled for the duration of the call if disableAdapter is true and bypass is supported.
func (a *AdapterModel) Forward(ctx context.Context, disableAdapter bool, in *Input) (*Output, error) {
	restore := a.bypass(disableAdapter)
	defer restore()

	return a.model.Forward(ctx, in)
}

// Generate is similar to Forward, but generates sequences.
//
// If the generation fails with ErrSamplingPrecisionIncompatible and the options set DoSample,
// the generation is retried once without DoSample within the same bypass scope.
// Other failures are returned unchanged.
func (a *AdapterModel) Generate(ctx context.Context, disableAdapter bool, in *Input, opts GenerateOptions) (*Output, error) {
	restore := a.bypass(disableAdapter)
	defer restore()

	out, err := a.model.Generate(ctx, in, opts)
	if err == nil || opts.DoSample == nil || !errors.Is(err, ErrSamplingPrecisionIncompatible) {
		return out, err
	}

	a.log.V(1).Info("retry generating without sampling", "cause", err.Error())
	opts.DoSample = nil
	return a.model.Generate(ctx, in, opts)
}

// StateDict returns the parameters of the owned model,
// the trainable subset if returnTrainable is true.
//
// The values of the StateDict alias the live parameters.
func (a *AdapterModel) StateDict(returnTrainable bool) *StateDict {
	return StateDictOf(a.model.Root(), returnTrainable)
}

// LoadStateDict loads the given StateDict into the owned model non-strictly,
// see LoadStateDict.
func (a *AdapterModel) LoadStateDict(sd *StateDict) (LoadResult, error) {
	r, err := LoadStateDict(a.model.Root(), sd)
	if err != nil {
		return r, err
	}
	if len(r.MissingKeys)+len(r.UnexpectedKeys) != 0 {
		a.log.V(1).Info("loaded state dict partially",
			"missing", len(r.MissingKeys), "unexpected", len(r.UnexpectedKeys))
	}
	return r, nil
}

// SaveModel saves the full state of the owned model with the given round to the given path.
func (a *AdapterModel) SaveModel(path string, round uint64) error {
	ckpt := Checkpoint{
		Architecture: a.model.Architecture(),
		Round:        round,
		State:        a.StateDict(false),
	}
	if a.adapted != nil {
		s := a.adapted.Spec()
		ckpt.Adapter = &s
	}
	if err := SaveCheckpoint(path, ckpt); err != nil {
		return err
	}
	a.log.Info("saved model", "path", path, "round", round, "size", ckpt.State.Size().String())
	return nil
}

// LoadModel loads the checkpoint of the given path into the owned model non-strictly,
// and returns the round of the checkpoint.
func (a *AdapterModel) LoadModel(path string) (uint64, error) {
	ckpt, err := LoadCheckpoint(path)
	if err != nil {
		return 0, err
	}
	if ckpt.Architecture != "" && ckpt.Architecture != a.model.Architecture() {
		return 0, fmt.Errorf("load model: architecture %q does not match %q: %w",
			ckpt.Architecture, a.model.Architecture(), ErrStateMismatch)
	}
	if _, err = a.LoadStateDict(ckpt.State); err != nil {
		return 0, fmt.Errorf("load model: %w", err)
	}
	return ckpt.Round, nil
}

// PlacementState returns the placement state of the owned model.
func (a *AdapterModel) PlacementState() PlacementState {
	return a.state
}

// DeviceMap returns the cached DeviceMap, or nil if not sharded.
func (a *AdapterModel) DeviceMap() DeviceMap {
	return a.deviceMap
}

// Shard places the owned model over the devices,
// keeping every atomic unit on one device.
//
// The first successful call computes and caches the DeviceMap,
// subsequent calls dispatch the cached map again.
// A failure leaves the placement unchanged,
// the capacity failure is a *CapacityError.
func (a *AdapterModel) Shard() error {
	root := a.model.Root()
	if a.state == PlacementStateSharded {
		return DispatchModel(root, a.deviceMap)
	}

	if len(a.devices) == 0 {
		return ErrNoDevices
	}

	budget, err := BalancedMemory(root, a.devices)
	if err != nil {
		return err
	}
	dm, err := InferDeviceMap(root, a.units, a.devices, budget)
	if err != nil {
		return fmt.Errorf("shard: %w", err)
	}
	if err = DispatchModel(root, dm); err != nil {
		return fmt.Errorf("shard: %w", err)
	}

	a.deviceMap, a.state = dm, PlacementStateSharded
	a.log.Info("sharded model", "devices", dm.Devices(), "assignments", len(dm))
	return nil
}

// PrintModelMap prints the device of every parameter to stderr.
func (a *AdapterModel) PrintModelMap() {
	_ = a.FprintModelMap(os.Stderr)
}

// FprintModelMap writes the device of every parameter to the given writer.
func (a *AdapterModel) FprintModelMap(w io.Writer) error {
	return FprintModelMap(w, a.model.Root())
}
