package llm_adapter

import (
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestTwoLinearBlocks returns a layout-only model holding n blocks of two 1KiB linear modules.
func newTestTwoLinearBlocks(arch, typ string, n int) *BaseModel {
	m := NewBaseModel(arch)
	blk := m.Module.AddChild(NewModule("blk", "ModuleList"))
	for i := 0; i < n; i++ {
		b := blk.AddChild(NewModule(fmt.Sprint(i), typ))
		for _, l := range []string{"a", "b"} {
			b.AddChild(NewModule(l, "Linear")).
				AddParameter("weight", &Tensor{Type: GGMLTypeF32, Shape: []uint64{16, 16}}, true)
		}
	}
	return m
}

func TestDeviceMap_Lookup(t *testing.T) {
	dm := DeviceMap{
		{Module: "token_embd", Device: "cuda:0"},
		{Module: "blk.1", Device: "cuda:0"},
		{Module: "blk.10", Device: "cuda:1"},
		{Module: "blk.1.ffn_down.weight", Device: "cuda:2"},
	}
	testCases := []struct {
		given    string
		expected string
		found    bool
	}{
		{"token_embd.weight", "cuda:0", true},
		{"blk.1.attn_q.weight", "cuda:0", true},
		{"blk.10.attn_q.weight", "cuda:1", true},
		{"blk.1.ffn_down.weight", "cuda:2", true},
		{"blk.2.attn_q.weight", "", false},
		{"token_embd_norm.weight", "", false},
	}
	for _, tc := range testCases {
		t.Run(tc.given, func(t *testing.T) {
			actual, found := dm.Lookup(tc.given)
			assert.Equal(t, tc.found, found)
			assert.Equal(t, tc.expected, actual)
		})
	}

	d, ok := DeviceMap{{Module: "", Device: "cpu"}}.Lookup("anything.weight")
	assert.True(t, ok)
	assert.Equal(t, "cpu", d)
	assert.Equal(t, []string{"cuda:0", "cuda:1", "cuda:2"}, dm.Devices())
}

func TestBalancedMemory(t *testing.T) {
	root := NewModule("", "CausalLM")
	root.AddParameter("weight", &Tensor{Type: GGMLTypeI8, Shape: []uint64{3001}}, false)

	actual, err := BalancedMemory(root, []Device{
		{ID: "cuda:0", Memory: 1000},
		{ID: "cuda:1", Memory: 5000},
		{ID: "cuda:2", Memory: 5000},
	})
	require.NoError(t, err)
	assert.Equal(t, []BytesScalar{1000, 1001, 5000}, actual)

	_, err = BalancedMemory(root, nil)
	assert.ErrorIs(t, err, ErrNoDevices)
}

func TestInferDeviceMap_Even(t *testing.T) {
	m := newTestBlocks("llama", "LlamaDecoderLayer", 10, 256)
	ds := []Device{{ID: "cuda:0", Memory: 8 * _Ki}, {ID: "cuda:1", Memory: 8 * _Ki}}
	budget, err := BalancedMemory(m.Module, ds)
	require.NoError(t, err)
	// Half of 10 blocks of 1028 bytes, without headroom for one more block.
	assert.Equal(t, []BytesScalar{5140, 8 * _Ki}, budget)

	dm, err := InferDeviceMap(m.Module, LookupAtomicUnits("llama"), ds, budget)
	require.NoError(t, err)
	require.Len(t, dm, 10)
	for i, a := range dm {
		assert.Equal(t, fmt.Sprintf("blk.%d", i), a.Module)
		if i < 5 {
			assert.Equal(t, "cuda:0", a.Device, a.Module)
		} else {
			assert.Equal(t, "cuda:1", a.Device, a.Module)
		}
	}
}

func TestInferDeviceMap_Atomic(t *testing.T) {
	ds := []Device{{ID: "cuda:0", Memory: 4 * _Ki}, {ID: "cuda:1", Memory: 4 * _Ki}}

	t.Run("atomic", func(t *testing.T) {
		m := newTestTwoLinearBlocks("llama", "LlamaDecoderLayer", 3)
		budget, err := BalancedMemory(m.Module, ds)
		require.NoError(t, err)
		dm, err := InferDeviceMap(m.Module, LookupAtomicUnits("llama"), ds, budget)
		require.NoError(t, err)
		assert.Equal(t, DeviceMap{
			{Module: "blk.0", Device: "cuda:0"},
			{Module: "blk.1", Device: "cuda:1"},
			{Module: "blk.2", Device: "cuda:1"},
		}, dm)
	})

	t.Run("unconstrained", func(t *testing.T) {
		m := newTestTwoLinearBlocks("mystery", "Block", 3)
		budget, err := BalancedMemory(m.Module, ds)
		require.NoError(t, err)
		dm, err := InferDeviceMap(m.Module, LookupAtomicUnits("mystery"), ds, budget)
		require.NoError(t, err)
		assert.Equal(t, DeviceMap{
			{Module: "blk.0", Device: "cuda:0"},
			{Module: "blk.1.a", Device: "cuda:0"},
			{Module: "blk.1.b.weight", Device: "cuda:1"},
			{Module: "blk.2", Device: "cuda:1"},
		}, dm)
	})
}

func TestInferDeviceMap_Capacity(t *testing.T) {
	t.Run("fragmented", func(t *testing.T) {
		m := newTestBlocks("llama", "LlamaDecoderLayer", 3, 256)
		unit := m.Module.Find("blk.0").Size()
		ds := []Device{{ID: "cuda:0", Memory: unit * 3 / 2}, {ID: "cuda:1", Memory: unit * 3 / 2}}
		budget, err := BalancedMemory(m.Module, ds)
		require.NoError(t, err)

		_, err = InferDeviceMap(m.Module, LookupAtomicUnits("llama"), ds, budget)
		require.Error(t, err)
		assert.ErrorIs(t, err, ErrInsufficientCapacity)
		var ce *CapacityError
		require.True(t, errors.As(err, &ce))
		assert.Equal(t, "blk.2", ce.Module)
		assert.Equal(t, unit, ce.Shortfall)
	})

	t.Run("oversized", func(t *testing.T) {
		m := newTestBlocks("llama", "LlamaDecoderLayer", 4, 256)
		ds := []Device{{ID: "cuda:0", Memory: 1 * _Ki}}
		_, err := InferDeviceMap(m.Module, LookupAtomicUnits("llama"), ds, []BytesScalar{1 * _Ki})
		var ce *CapacityError
		require.True(t, errors.As(err, &ce))
		assert.Empty(t, ce.Module)
		assert.Equal(t, m.Module.Size(), ce.Required)
		assert.Equal(t, BytesScalar(1*_Ki), ce.Available)
		assert.Equal(t, ce.Required-ce.Available, ce.Shortfall)
	})
}

func TestDispatchModel(t *testing.T) {
	m := newTestBlocks("llama", "LlamaDecoderLayer", 2, 256)

	err := DispatchModel(m.Module, DeviceMap{{Module: "blk.0", Device: "cuda:0"}})
	assert.Error(t, err)
	for _, np := range m.Module.NamedParameters() {
		assert.Empty(t, np.Device, np.Name)
	}

	err = DispatchModel(m.Module, DeviceMap{{Module: "blk.0", Device: "cuda:0"}, {Module: "blk.1", Device: "cuda:1"}})
	require.NoError(t, err)
	assert.Equal(t, "cuda:0", m.Module.Lookup("blk.0.attn_q.bias").Device)
	assert.Equal(t, "cuda:1", m.Module.Lookup("blk.1.attn_q.weight").Device)
}

func TestAdapterModel_Shard(t *testing.T) {
	ds := []Device{{ID: "cuda:0", Memory: 8 * _Ki}, {ID: "cuda:1", Memory: 8 * _Ki}}
	a, err := NewAdapterModel(newTestBlocks("LlamaForCausalLM", "LlamaDecoderLayer", 10, 256), WithDevices(ds...))
	require.NoError(t, err)
	assert.Equal(t, PlacementStateUnsharded, a.PlacementState())
	assert.Nil(t, a.DeviceMap())

	require.NoError(t, a.Shard())
	assert.Equal(t, PlacementStateSharded, a.PlacementState())
	first := a.DeviceMap()
	assert.Equal(t, []string{"cuda:0", "cuda:1"}, first.Devices())

	require.NoError(t, a.Shard())
	assert.True(t, first.Equal(a.DeviceMap()))
	for _, np := range a.Model().Root().NamedParameters() {
		d, _ := first.Lookup(np.Name)
		assert.Equal(t, d, np.Device, np.Name)
	}
}

func TestAdapterModel_Shard_Adapter(t *testing.T) {
	ds := []Device{{ID: "cuda:0", Memory: 1 * _Gi}, {ID: "cuda:1", Memory: 1 * _Gi}}
	a, err := NewAdapterModel(newTestLlama(2), WithAdapter(AdaptationSpec{}), WithDevices(ds...))
	require.NoError(t, err)
	require.NoError(t, a.Shard())

	root := a.Model().Root()
	for _, np := range root.NamedParameters() {
		require.NotEmpty(t, np.Device, np.Name)
		if !strings.HasPrefix(np.Name, "blk.") {
			continue
		}
		blk := strings.Join(strings.SplitN(np.Name, ".", 3)[:2], ".")
		assert.Equal(t, root.Lookup(blk+".attn_norm.weight").Device, np.Device,
			"%s is split from its block", np.Name)
	}

	var buf bytes.Buffer
	require.NoError(t, a.FprintModelMap(&buf))
	assert.Contains(t, buf.String(), "blk.0.attn_q.lora_A.default.weight")
	assert.Contains(t, buf.String(), "cuda:")
}

func TestAdapterModel_Shard_Failure(t *testing.T) {
	m := newTestBlocks("llama", "LlamaDecoderLayer", 3, 256)
	unit := m.Module.Find("blk.0").Size()
	ds := []Device{{ID: "cuda:0", Memory: unit * 3 / 2}, {ID: "cuda:1", Memory: unit * 3 / 2}}
	a, err := NewAdapterModel(m, WithDevices(ds...))
	require.NoError(t, err)

	err = a.Shard()
	assert.ErrorIs(t, err, ErrInsufficientCapacity)
	assert.Equal(t, PlacementStateUnsharded, a.PlacementState())
	for _, np := range m.Module.NamedParameters() {
		assert.Empty(t, np.Device, np.Name)
	}
}

func TestAdapterModel_Shard_NoDevices(t *testing.T) {
	t.Setenv(DevicesEnv, "")

	a, err := NewAdapterModel(newTestBlocks("llama", "LlamaDecoderLayer", 1, 256))
	require.NoError(t, err)
	assert.ErrorIs(t, a.Shard(), ErrNoDevices)
	assert.Equal(t, PlacementStateUnsharded, a.PlacementState())
}

func TestFprintModelMap_Unsharded(t *testing.T) {
	m := newTestBlocks("llama", "LlamaDecoderLayer", 1, 256)

	var buf bytes.Buffer
	require.NoError(t, FprintModelMap(&buf, m.Module))
	assert.Contains(t, buf.String(), "blk.0.attn_q.weight")
	assert.Contains(t, buf.String(), "F32[128 2]")
	assert.Contains(t, buf.String(), " - ")
	assert.Error(t, FprintModelMap(nil, m.Module))
}

func TestPlacementState_String(t *testing.T) {
	assert.Equal(t, "Unsharded", PlacementStateUnsharded.String())
	assert.Equal(t, "Sharded", PlacementStateSharded.String())
}
