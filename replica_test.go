package llm_adapter

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScatter(t *testing.T) {
	testCases := []struct {
		n, k     int
		expected []int
	}{
		{0, 4, []int{0, 0}},
		{3, 1, []int{0, 3}},
		{2, 4, []int{0, 1, 2}},
		{5, 4, []int{0, 2, 4, 5}},
		{8, 4, []int{0, 2, 4, 6, 8}},
		{10, 3, []int{0, 4, 8, 10}},
	}
	for _, tc := range testCases {
		t.Run(fmt.Sprintf("%d/%d", tc.n, tc.k), func(t *testing.T) {
			assert.Equal(t, tc.expected, scatter(tc.n, tc.k))
		})
	}
}

func TestNewDataParallel(t *testing.T) {
	_, err := NewDataParallel(nil)
	assert.ErrorIs(t, err, ErrNotAdapterModel)
	_, err = NewDataParallel(&AdapterModel{})
	assert.ErrorIs(t, err, ErrNotAdapterModel)

	a := newTestAdapterModel(t, &testRecorder{})
	dp, err := NewDataParallel(a)
	require.NoError(t, err)
	assert.Same(t, a, dp.Module())
	assert.Equal(t, []string{"cuda:0"}, dp.DeviceIDs())
	assert.Same(t, a.InputEmbeddings(), dp.InputEmbeddings())
	assert.Equal(t, a.Config(), dp.Config())
}

func TestDataParallel_Forward(t *testing.T) {
	var r testRecorder
	a := newTestAdapterModel(t, &r, WithAdapter(AdaptationSpec{}))
	dp, err := NewDataParallel(a, WithReplicaDevices("cuda:0", "cuda:1", "cuda:2", "cuda:3"))
	require.NoError(t, err)

	out, err := dp.Forward(context.Background(), true, testInput(5))
	require.NoError(t, err)

	require.Len(t, out.Logits, 5)
	for i := range out.Logits {
		assert.Equal(t, float32(i), out.Logits[i][1], "row %d out of order", i)
	}
	assert.InDelta(t, 2.0, out.Loss, 1e-6)
	assert.ElementsMatch(t, []string{"cuda:0", "cuda:1", "cuda:2"}, r.devices)

	all := len(a.Model().Root().NamedParameters())
	base := all - a.StateDict(true).Len()
	assert.Equal(t, []int{base, base, base}, r.params)
	assert.Len(t, a.Model().Root().ActiveParameters(), all, "bypass is not restored")
}

func TestDataParallel_Forward_Single(t *testing.T) {
	var r testRecorder
	a := newTestAdapterModel(t, &r)
	dp, err := NewDataParallel(a, WithReplicaDevices("cuda:1", "cuda:2"))
	require.NoError(t, err)

	out, err := dp.Forward(context.Background(), false, testInput(1))
	require.NoError(t, err)
	assert.Len(t, out.Logits, 1)
	assert.Equal(t, []string{"cuda:1"}, r.devices)
}

func TestDataParallel_Forward_Failure(t *testing.T) {
	boom := errors.New("illegal memory access")
	m := newTestLlama(1)
	m.ForwardFunc = func(ctx context.Context, _ []NamedParameter, in *Input) (*Output, error) {
		if d, _ := DeviceFromContext(ctx); d == "cuda:1" {
			return nil, boom
		}
		return &Output{Logits: make([][]float32, in.Rows())}, nil
	}
	a, err := NewAdapterModel(m, WithDevices(
		Device{ID: "cuda:0", Memory: 1 * _Gi},
		Device{ID: "cuda:1", Memory: 1 * _Gi}))
	require.NoError(t, err)
	dp, err := NewDataParallel(a)
	require.NoError(t, err)

	_, err = dp.Forward(context.Background(), false, testInput(4))
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "cuda:1")
}

func TestDataParallel_Delegation(t *testing.T) {
	var r testRecorder
	a := newTestAdapterModel(t, &r, WithAdapter(AdaptationSpec{}))
	dp, err := NewDataParallel(a)
	require.NoError(t, err)

	out, err := dp.Generate(context.Background(), false, testInput(2), GenerateOptions{MaxNewTokens: 1})
	require.NoError(t, err)
	assert.Len(t, out.Sequences, 2)

	assert.Equal(t, a.StateDict(true).Keys(), dp.StateDict(true).Keys())
	assert.Equal(t, 8, dp.StateDict(true).Len())
	_, err = dp.LoadStateDict(dp.StateDict(true).Clone())
	require.NoError(t, err)

	path := t.TempDir() + "/ckpt.gguf"
	require.NoError(t, dp.SaveModel(path, 2))
	round, err := dp.LoadModel(path)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), round)
}
