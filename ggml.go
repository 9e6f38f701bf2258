package llm_adapter

import (
	"errors"
	"fmt"
	"strconv"
)

// Types for GGMLType.
type (
	// GGMLType is the storage type of a tensor,
	// see https://github.com/ggml-org/llama.cpp/blob/fd1234cb468935ea087d6929b2487926c3afff4b/ggml/include/ggml.h#L368-L410.
	GGMLType uint32

	// GGMLTypeTrait holds the trait of a GGMLType,
	// see https://github.com/ggml-org/llama.cpp/blob/fd1234cb468935ea087d6929b2487926c3afff4b/ggml/src/ggml.c#L586-L876.
	GGMLTypeTrait struct {
		Name      string
		BlockSize uint64 // Original is int, in order to reduce conversion, here we use uint64.
		TypeSize  uint64 // Original is uint32, in order to reduce conversion, here we use uint64.
		Quantized bool
	}
)

// GGMLType constants.
//
// GGMLTypeQ4_2, GGMLTypeQ4_3 are deprecated.
const (
	GGMLTypeF32 GGMLType = iota
	GGMLTypeF16
	GGMLTypeQ4_0
	GGMLTypeQ4_1
	GGMLTypeQ4_2
	GGMLTypeQ4_3
	GGMLTypeQ5_0
	GGMLTypeQ5_1
	GGMLTypeQ8_0
	GGMLTypeQ8_1
	GGMLTypeQ2_K
	GGMLTypeQ3_K
	GGMLTypeQ4_K
	GGMLTypeQ5_K
	GGMLTypeQ6_K
	GGMLTypeQ8_K
	GGMLTypeIQ2_XXS
	GGMLTypeIQ2_XS
	GGMLTypeIQ3_XXS
	GGMLTypeIQ1_S
	GGMLTypeIQ4_NL
	GGMLTypeIQ3_S
	GGMLTypeIQ2_S
	GGMLTypeIQ4_XS
	GGMLTypeI8
	GGMLTypeI16
	GGMLTypeI32
	GGMLTypeI64
	GGMLTypeF64
	GGMLTypeIQ1_M
	GGMLTypeBF16
	_GGMLTypeCount // Unknown
)

// _GGMLTypeTraits is a table of GGMLTypeTrait for GGMLType.
var _GGMLTypeTraits = map[GGMLType]GGMLTypeTrait{
	GGMLTypeF32:     {Name: "F32", BlockSize: 1, TypeSize: 4},
	GGMLTypeF16:     {Name: "F16", BlockSize: 1, TypeSize: 2},
	GGMLTypeQ4_0:    {Name: "Q4_0", BlockSize: 32, TypeSize: 18, Quantized: true},
	GGMLTypeQ4_1:    {Name: "Q4_1", BlockSize: 32, TypeSize: 20, Quantized: true},
	GGMLTypeQ5_0:    {Name: "Q5_0", BlockSize: 32, TypeSize: 22, Quantized: true},
	GGMLTypeQ5_1:    {Name: "Q5_1", BlockSize: 32, TypeSize: 24, Quantized: true},
	GGMLTypeQ8_0:    {Name: "Q8_0", BlockSize: 32, TypeSize: 34, Quantized: true},
	GGMLTypeQ8_1:    {Name: "Q8_1", BlockSize: 32, TypeSize: 36, Quantized: true},
	GGMLTypeQ2_K:    {Name: "Q2_K", BlockSize: 256, TypeSize: 84, Quantized: true},
	GGMLTypeQ3_K:    {Name: "Q3_K", BlockSize: 256, TypeSize: 110, Quantized: true},
	GGMLTypeQ4_K:    {Name: "Q4_K", BlockSize: 256, TypeSize: 144, Quantized: true},
	GGMLTypeQ5_K:    {Name: "Q5_K", BlockSize: 256, TypeSize: 176, Quantized: true},
	GGMLTypeQ6_K:    {Name: "Q6_K", BlockSize: 256, TypeSize: 210, Quantized: true},
	GGMLTypeQ8_K:    {Name: "Q8_K", BlockSize: 256, TypeSize: 292, Quantized: true},
	GGMLTypeIQ2_XXS: {Name: "IQ2_XXS", BlockSize: 256, TypeSize: 66, Quantized: true},
	GGMLTypeIQ2_XS:  {Name: "IQ2_XS", BlockSize: 256, TypeSize: 74, Quantized: true},
	GGMLTypeIQ3_XXS: {Name: "IQ3_XXS", BlockSize: 256, TypeSize: 98, Quantized: true},
	GGMLTypeIQ1_S:   {Name: "IQ1_S", BlockSize: 256, TypeSize: 50, Quantized: true},
	GGMLTypeIQ4_NL:  {Name: "IQ4_NL", BlockSize: 32, TypeSize: 18, Quantized: true},
	GGMLTypeIQ3_S:   {Name: "IQ3_S", BlockSize: 256, TypeSize: 110, Quantized: true},
	GGMLTypeIQ2_S:   {Name: "IQ2_S", BlockSize: 256, TypeSize: 82, Quantized: true},
	GGMLTypeIQ4_XS:  {Name: "IQ4_XS", BlockSize: 256, TypeSize: 136, Quantized: true},
	GGMLTypeI8:      {Name: "I8", BlockSize: 1, TypeSize: 1},
	GGMLTypeI16:     {Name: "I16", BlockSize: 1, TypeSize: 2},
	GGMLTypeI32:     {Name: "I32", BlockSize: 1, TypeSize: 4},
	GGMLTypeI64:     {Name: "I64", BlockSize: 1, TypeSize: 8},
	GGMLTypeF64:     {Name: "F64", BlockSize: 1, TypeSize: 8},
	GGMLTypeIQ1_M:   {Name: "IQ1_M", BlockSize: 256, TypeSize: 56, Quantized: true},
	GGMLTypeBF16:    {Name: "BF16", BlockSize: 1, TypeSize: 2},
}

// Trait returns the GGMLTypeTrait of the GGMLType.
func (t GGMLType) Trait() (GGMLTypeTrait, bool) {
	tt, ok := _GGMLTypeTraits[t]
	return tt, ok
}

// IsQuantized returns whether the GGMLType is quantized.
func (t GGMLType) IsQuantized() bool {
	tt, ok := t.Trait()
	if !ok {
		return false
	}
	return tt.Quantized
}

func (t GGMLType) String() string {
	if tt, ok := t.Trait(); ok {
		return tt.Name
	}
	return "GGMLType(" + strconv.FormatUint(uint64(t), 10) + ")"
}

// RowSizeOf returns the size of the given dimensions according to the GGMLType's GGMLTypeTrait,
// which is inspired by
// https://github.com/ggerganov/ggml/blob/0cbb7c0e053f5419cfbebb46fbf4d4ed60182cf5/src/ggml.c#L3142-L3145.
//
// The given dimensions are in GGML order,
// i.e. 0 is the innermost (contiguous) dimension.
func (t GGMLType) RowSizeOf(dimensions []uint64) uint64 {
	if len(dimensions) == 0 {
		panic(errors.New("no dimensions"))
	}

	tt, ok := t.Trait()
	if !ok {
		panic(fmt.Errorf("invalid type: %v", t))
	}

	ds := tt.TypeSize * dimensions[0] / tt.BlockSize // Row size
	for i := 1; i < len(dimensions); i++ {
		ds *= dimensions[i]
	}
	return ds
}

// GGMLPadding returns the padded size of the given size according to given align,
// see https://github.com/ggerganov/ggml/blob/0cbb7c0e053f5419cfbebb46fbf4d4ed60182cf5/include/ggml/ggml.h#L255.
func GGMLPadding(size, align uint64) uint64 {
	return (size + align - 1) &^ (align - 1)
}
