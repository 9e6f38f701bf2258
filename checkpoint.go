package llm_adapter

import (
	"errors"
	"fmt"

	"github.com/gpustack/llm-adapter-go/util/json"
	"github.com/gpustack/llm-adapter-go/util/osx"
)

// Metadata keys of a checkpoint file.
const (
	CheckpointTypeKey    = "general.type"
	CheckpointRoundKey   = "checkpoint.cur_round"
	CheckpointAdapterKey = "checkpoint.adapter"

	checkpointType = "checkpoint"
)

var ErrNotCheckpoint = errors.New("not a checkpoint file")

// Checkpoint is the persisted state of a federated round.
type Checkpoint struct {
	// Architecture is the model architecture.
	Architecture string
	// Round is the federated round the state belongs to.
	Round uint64
	// Adapter is the adaptation spec of the saved model, nil for a plain model.
	Adapter *AdaptationSpec
	// State is the saved parameters.
	State *StateDict
}

// SaveCheckpoint writes the checkpoint as a GGUF file to the given path.
func SaveCheckpoint(path string, ckpt Checkpoint) error {
	if ckpt.State == nil {
		return errors.New("nil state")
	}

	kvs := GGUFMetadataKVs{
		{Key: "general.architecture", ValueType: GGUFMetadataValueTypeString, Value: ckpt.Architecture},
		{Key: CheckpointTypeKey, ValueType: GGUFMetadataValueTypeString, Value: checkpointType},
		{Key: CheckpointRoundKey, ValueType: GGUFMetadataValueTypeUint64, Value: ckpt.Round},
	}
	if ckpt.Adapter != nil {
		bs, err := json.Marshal(ckpt.Adapter)
		if err != nil {
			return fmt.Errorf("marshal adapter: %w", err)
		}
		kvs = append(kvs, GGUFMetadataKV{Key: CheckpointAdapterKey, ValueType: GGUFMetadataValueTypeString, Value: string(bs)})
	}

	ts := make([]GGUFTensor, 0, ckpt.State.Len())
	ckpt.State.Range(func(name string, t *Tensor) bool {
		ts = append(ts, GGUFTensor{Name: name, Tensor: t})
		return true
	})

	if err := WriteGGUFFile(path, kvs, ts); err != nil {
		return fmt.Errorf("save checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint reads the checkpoint from the given GGUF file.
func LoadCheckpoint(path string, opts ...GGUFReadOption) (*Checkpoint, error) {
	var o _GGUFReadOptions
	for _, opt := range opts {
		opt(&o)
	}

	f, s, closer, err := openGGUFFile(path, o)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}
	defer osx.Close(closer)

	gf, err := parseGGUFFile(s, newSectionReader(f, s), o)
	if err != nil {
		return nil, fmt.Errorf("load checkpoint: %w", err)
	}

	if v, ok := gf.Header.MetadataKV.Get(CheckpointTypeKey); !ok ||
		v.ValueType != GGUFMetadataValueTypeString || v.ValueString() != checkpointType {
		return nil, fmt.Errorf("load checkpoint %s: %w", path, ErrNotCheckpoint)
	}

	ckpt := Checkpoint{
		Architecture: gf.Architecture(),
		State:        NewStateDict(),
	}
	if v, ok := gf.Header.MetadataKV.Get(CheckpointRoundKey); ok {
		switch v.ValueType {
		case GGUFMetadataValueTypeUint8, GGUFMetadataValueTypeUint16,
			GGUFMetadataValueTypeUint32, GGUFMetadataValueTypeUint64:
			ckpt.Round = ValueNumeric[uint64](v)
		case GGUFMetadataValueTypeInt8, GGUFMetadataValueTypeInt16,
			GGUFMetadataValueTypeInt32, GGUFMetadataValueTypeInt64:
			r := ValueNumeric[int64](v)
			if r < 0 {
				return nil, fmt.Errorf("load checkpoint %s: negative %s %d: %w", path, CheckpointRoundKey, r, ErrNotCheckpoint)
			}
			ckpt.Round = uint64(r)
		default:
			return nil, fmt.Errorf("load checkpoint %s: %s holds %s: %w", path, CheckpointRoundKey, v.ValueType, ErrNotCheckpoint)
		}
	}
	if v, ok := gf.Header.MetadataKV.Get(CheckpointAdapterKey); ok {
		if v.ValueType != GGUFMetadataValueTypeString {
			return nil, fmt.Errorf("load checkpoint %s: %s holds %s: %w", path, CheckpointAdapterKey, v.ValueType, ErrNotCheckpoint)
		}
		var as AdaptationSpec
		if err = json.Unmarshal([]byte(v.ValueString()), &as); err != nil {
			return nil, fmt.Errorf("load checkpoint: unmarshal adapter: %w", err)
		}
		ckpt.Adapter = &as
	}

	for _, ti := range gf.TensorInfos {
		t, err := gf.ReadTensor(f, ti)
		if err != nil {
			return nil, fmt.Errorf("load checkpoint: %w", err)
		}
		ckpt.State.Set(ti.Name, t)
	}
	return &ckpt, nil
}
