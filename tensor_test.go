package llm_adapter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTensor_Float32s(t *testing.T) {
	given := []float32{0, 1, -2.5, 0.125, 1024}
	for _, typ := range []GGMLType{GGMLTypeF32, GGMLTypeF16, GGMLTypeBF16} {
		t.Run(typ.String(), func(t *testing.T) {
			tt := NewTensor(typ, 5)
			require.Len(t, tt.Data, int(tt.Bytes()))
			require.NoError(t, tt.SetFloat32s(given))
			assert.Len(t, tt.Data, int(tt.Bytes()))

			actual, err := tt.Float32s()
			require.NoError(t, err)
			assert.Equal(t, given, actual)
		})
	}
}

func TestTensor_Float32s_Invalid(t *testing.T) {
	_, err := (&Tensor{Type: GGMLTypeF32, Shape: []uint64{2}}).Float32s()
	assert.ErrorIs(t, err, ErrTensorDataMissing)

	q := NewTensor(GGMLTypeQ8_0, 32)
	_, err = q.Float32s()
	assert.ErrorIs(t, err, ErrTensorTypeNotFloat)
	assert.ErrorIs(t, q.SetFloat32s(make([]float32, 32)), ErrTensorTypeNotFloat)

	assert.Error(t, NewTensor(GGMLTypeF32, 2, 2).SetFloat32s([]float32{1}))
}

func TestTensor_Layout(t *testing.T) {
	w := NewTensor(GGMLTypeF32, 1024, 4096)
	assert.Equal(t, uint64(1024*4096), w.Elements())
	assert.Equal(t, uint64(4*1024*4096), w.Bytes())
	assert.Equal(t, []uint64{4096, 1024}, w.Dimensions())
	assert.Equal(t, "F32[1024 4096]", w.String())

	q := &Tensor{Type: GGMLTypeQ4_K, Shape: []uint64{32, 256}}
	assert.Equal(t, uint64(32*144), q.Bytes())
	assert.False(t, q.HasData())

	var nt *Tensor
	assert.Zero(t, nt.Elements())
	assert.Nil(t, nt.Clone())
	assert.Equal(t, "<nil>", nt.String())
}

func TestTensor_Clone(t *testing.T) {
	a := NewTensorF32([]float32{1, 2, 3, 4}, 2, 2)
	b := a.Clone()
	assert.True(t, a.Equal(b))

	b.Data[0] = 0xff
	assert.False(t, a.Equal(b))
	assert.True(t, a.SameLayout(b))
	assert.False(t, a.SameLayout(NewTensor(GGMLTypeF32, 4)))
}

func TestGGMLPadding(t *testing.T) {
	assert.Equal(t, uint64(0), GGMLPadding(0, 32))
	assert.Equal(t, uint64(32), GGMLPadding(1, 32))
	assert.Equal(t, uint64(32), GGMLPadding(32, 32))
	assert.Equal(t, uint64(64), GGMLPadding(33, 32))
}
