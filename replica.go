package llm_adapter

import (
	"context"
	"fmt"
	"slices"

	"github.com/go-logr/logr"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"github.com/gpustack/llm-adapter-go/util/slicex"
)

type (
	_DataParallelOptions struct {
		DeviceIDs []string
		Logger    *logr.Logger
	}
	DataParallelOption func(*_DataParallelOptions)
)

// WithReplicaDevices replicates the forward pass over the given device identifiers,
// default is the devices of the wrapped AdapterModel.
func WithReplicaDevices(ids ...string) DataParallelOption {
	return func(o *_DataParallelOptions) {
		o.DeviceIDs = slices.Clone(ids)
	}
}

// WithReplicaLogger logs with the given logger,
// default is the logger of the wrapped AdapterModel.
func WithReplicaLogger(l logr.Logger) DataParallelOption {
	return func(o *_DataParallelOptions) {
		o.Logger = &l
	}
}

// DataParallel replicates the forward pass of an AdapterModel over devices,
// the other operations are forwarded to the wrapped AdapterModel.
type DataParallel struct {
	model   *AdapterModel
	devices []string
	log     logr.Logger
}

// NewDataParallel wraps the given AdapterModel,
// the absence of an AdapterModel fails with ErrNotAdapterModel.
func NewDataParallel(m *AdapterModel, opts ...DataParallelOption) (*DataParallel, error) {
	if m == nil || m.model == nil {
		return nil, ErrNotAdapterModel
	}

	var o _DataParallelOptions
	for _, opt := range opts {
		opt(&o)
	}

	dp := &DataParallel{
		model:   m,
		devices: o.DeviceIDs,
		log:     m.log,
	}
	if dp.devices == nil {
		dp.devices = DeviceIDs(m.devices)
	}
	if o.Logger != nil {
		dp.log = *o.Logger
	}
	return dp, nil
}

// Module returns the wrapped AdapterModel.
func (dp *DataParallel) Module() *AdapterModel {
	return dp.model
}

// DeviceIDs returns the replica devices.
func (dp *DataParallel) DeviceIDs() []string {
	return dp.devices
}

// scatter splits n rows into contiguous chunks of ceil(n/k) rows,
// and returns the chunk boundaries, trailing empty chunks are dropped.
func scatter(n, k int) []int {
	if n == 0 || k <= 1 {
		return []int{0, n}
	}

	size := (n + k - 1) / k
	starts := make([]int, k)
	for i := range starts {
		starts[i] = i * size
	}
	used := slicex.UpperBound(starts, n-1)

	bounds := make([]int, used+1)
	for i := 0; i < used; i++ {
		bounds[i] = starts[i]
	}
	bounds[used] = n
	return bounds
}

// Forward splits the batch by rows over the replica devices,
// runs the chunks concurrently and gathers the outputs in row order.
//
// The loss is the row-weighted mean of the chunk losses.
// Any chunk failure fails the whole call.
func (dp *DataParallel) Forward(ctx context.Context, disableAdapter bool, in *Input) (*Output, error) {
	n := in.Rows()
	bounds := scatter(n, len(dp.devices))
	if len(bounds) <= 2 {
		if len(dp.devices) != 0 {
			ctx = WithDevice(ctx, dp.devices[0])
		}
		return dp.model.Forward(ctx, disableAdapter, in)
	}

	restore := dp.model.bypass(disableAdapter)
	defer restore()

	chunks := len(bounds) - 1
	outs := make([]*Output, chunks)
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < chunks; i++ {
		i := i
		g.Go(func() error {
			out, err := dp.model.model.Forward(WithDevice(gctx, dp.devices[i]), in.Slice(bounds[i], bounds[i+1]))
			if err != nil {
				return fmt.Errorf("replica %s: %w", dp.devices[i], err)
			}
			outs[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var (
		ret     Output
		losses  = make([]float64, chunks)
		weights = make([]float64, chunks)
	)
	for i, out := range outs {
		if out == nil {
			return nil, fmt.Errorf("replica %s: nil output", dp.devices[i])
		}
		ret.Logits = append(ret.Logits, out.Logits...)
		ret.Sequences = append(ret.Sequences, out.Sequences...)
		losses[i] = float64(out.Loss)
		weights[i] = float64(bounds[i+1] - bounds[i])
	}
	ret.Loss = float32(floats.Dot(losses, weights) / float64(n))

	dp.log.V(1).Info("gathered replicas", "replicas", chunks, "rows", n)
	return &ret, nil
}

// Generate forwards to the wrapped AdapterModel.
func (dp *DataParallel) Generate(ctx context.Context, disableAdapter bool, in *Input, opts GenerateOptions) (*Output, error) {
	return dp.model.Generate(ctx, disableAdapter, in, opts)
}

// StateDict forwards to the wrapped AdapterModel.
func (dp *DataParallel) StateDict(returnTrainable bool) *StateDict {
	return dp.model.StateDict(returnTrainable)
}

// LoadStateDict forwards to the wrapped AdapterModel.
func (dp *DataParallel) LoadStateDict(sd *StateDict) (LoadResult, error) {
	return dp.model.LoadStateDict(sd)
}

// SaveModel forwards to the wrapped AdapterModel.
func (dp *DataParallel) SaveModel(path string, round uint64) error {
	return dp.model.SaveModel(path, round)
}

// LoadModel forwards to the wrapped AdapterModel.
func (dp *DataParallel) LoadModel(path string) (uint64, error) {
	return dp.model.LoadModel(path)
}

// Config returns the descriptive key-values of the wrapped model.
func (dp *DataParallel) Config() map[string]any {
	return dp.model.Config()
}

// InputEmbeddings forwards to the wrapped AdapterModel.
func (dp *DataParallel) InputEmbeddings() *Module {
	return dp.model.InputEmbeddings()
}
