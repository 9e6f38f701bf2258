package llm_adapter

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"slices"

	"github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
)

var (
	ErrTensorDataMissing  = errors.New("tensor data missing")
	ErrTensorTypeNotFloat = errors.New("tensor type is not a float type")
)

// Tensor is the value of a parameter.
//
// Shape is in row-major order, the outermost dimension first,
// i.e. a linear weight mapping 4096 inputs to 1024 outputs has shape [1024, 4096].
//
// Data holds the little-endian encoded elements in the layout of Type,
// it may be nil if the tensor was loaded for layout inspection only.
type Tensor struct {
	// Type is the storage type of the tensor.
	Type GGMLType `json:"type"`
	// Shape is the shape of the tensor.
	Shape []uint64 `json:"shape"`
	// Data is the encoded elements of the tensor.
	Data []byte `json:"-"`
}

// NewTensor returns a zero-filled tensor of the given type and shape.
func NewTensor(typ GGMLType, shape ...uint64) *Tensor {
	t := &Tensor{Type: typ, Shape: slices.Clone(shape)}
	t.Data = make([]byte, t.Bytes())
	return t
}

// NewTensorF32 returns a F32 tensor holding the given values,
// the number of values must match the shape.
func NewTensorF32(values []float32, shape ...uint64) *Tensor {
	t := &Tensor{Type: GGMLTypeF32, Shape: slices.Clone(shape)}
	if uint64(len(values)) != t.Elements() {
		panic(fmt.Errorf("values %d do not match shape %v", len(values), shape))
	}
	t.Data = make([]byte, 4*len(values))
	for i := range values {
		binary.LittleEndian.PutUint32(t.Data[4*i:], math.Float32bits(values[i]))
	}
	return t
}

// Elements returns the number of elements of the tensor.
func (t *Tensor) Elements() uint64 {
	if t == nil || len(t.Shape) == 0 {
		return 0
	}
	ret := uint64(1)
	for i := range t.Shape {
		ret *= t.Shape[i]
	}
	return ret
}

// Bytes returns the number of bytes of the tensor according to its GGMLType.
func (t *Tensor) Bytes() uint64 {
	if t == nil || len(t.Shape) == 0 {
		return 0
	}
	return t.Type.RowSizeOf(t.Dimensions())
}

// Dimensions returns the shape in GGML order, the innermost dimension first.
func (t *Tensor) Dimensions() []uint64 {
	ds := slices.Clone(t.Shape)
	slices.Reverse(ds)
	return ds
}

// HasData returns true if the tensor carries encoded elements.
func (t *Tensor) HasData() bool {
	return t != nil && t.Data != nil
}

// Clone returns a deep copy of the tensor.
func (t *Tensor) Clone() *Tensor {
	if t == nil {
		return nil
	}
	return &Tensor{
		Type:  t.Type,
		Shape: slices.Clone(t.Shape),
		Data:  slices.Clone(t.Data),
	}
}

// SameLayout returns true if both tensors have the same type and shape.
func (t *Tensor) SameLayout(o *Tensor) bool {
	if t == nil || o == nil {
		return t == o
	}
	return t.Type == o.Type && slices.Equal(t.Shape, o.Shape)
}

// Equal returns true if both tensors have the same layout and data.
func (t *Tensor) Equal(o *Tensor) bool {
	return t.SameLayout(o) && (t == nil || bytes.Equal(t.Data, o.Data))
}

// Float32s decodes the elements of a F32, F16 or BF16 tensor.
func (t *Tensor) Float32s() ([]float32, error) {
	if !t.HasData() {
		return nil, ErrTensorDataMissing
	}

	n := t.Elements()
	ret := make([]float32, n)
	switch t.Type {
	case GGMLTypeF32:
		for i := uint64(0); i < n; i++ {
			ret[i] = math.Float32frombits(binary.LittleEndian.Uint32(t.Data[4*i:]))
		}
	case GGMLTypeF16:
		for i := uint64(0); i < n; i++ {
			ret[i] = float16.Frombits(binary.LittleEndian.Uint16(t.Data[2*i:])).Float32()
		}
	case GGMLTypeBF16:
		copy(ret, bfloat16.DecodeFloat32(t.Data[:2*n]))
	default:
		return nil, fmt.Errorf("decode %s: %w", t.Type, ErrTensorTypeNotFloat)
	}
	return ret, nil
}

// SetFloat32s encodes the given values into the tensor according to its type,
// the number of values must match the elements of the tensor.
func (t *Tensor) SetFloat32s(values []float32) error {
	if uint64(len(values)) != t.Elements() {
		return fmt.Errorf("values %d do not match elements %d", len(values), t.Elements())
	}

	switch t.Type {
	case GGMLTypeF32:
		t.Data = make([]byte, 4*len(values))
		for i := range values {
			binary.LittleEndian.PutUint32(t.Data[4*i:], math.Float32bits(values[i]))
		}
	case GGMLTypeF16:
		t.Data = make([]byte, 2*len(values))
		for i := range values {
			binary.LittleEndian.PutUint16(t.Data[2*i:], float16.Fromfloat32(values[i]).Bits())
		}
	case GGMLTypeBF16:
		t.Data = bfloat16.EncodeFloat32(values)
	default:
		return fmt.Errorf("encode %s: %w", t.Type, ErrTensorTypeNotFloat)
	}
	return nil
}

func (t *Tensor) String() string {
	if t == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s%v", t.Type, t.Shape)
}
