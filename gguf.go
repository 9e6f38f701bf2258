package llm_adapter

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"slices"

	"golang.org/x/exp/constraints"

	"github.com/gpustack/llm-adapter-go/util/anyx"
	"github.com/gpustack/llm-adapter-go/util/bytex"
	"github.com/gpustack/llm-adapter-go/util/osx"
)

// GGUFFile represents a GGUF file,
// see https://github.com/ggerganov/ggml/blob/master/docs/gguf.md#file-structure.
//
// Compared with the complete GGUF file,
// this structure lacks the tensor data part.
type GGUFFile struct {
	// Header is the header of the GGUF file.
	Header GGUFHeader `json:"header"`
	// TensorInfos are the tensor infos of the GGUF file,
	// the size of TensorInfos is equal to `Header.TensorCount`.
	TensorInfos GGUFTensorInfos `json:"tensorInfos"`
	// Padding is the padding size of the GGUF file,
	// which is used to split Header and TensorInfos from tensor data.
	Padding int64 `json:"padding"`
	// TensorDataStartOffset is the offset in bytes of the tensor data in this file.
	//
	// The offset is the start of the file.
	TensorDataStartOffset int64 `json:"tensorDataStartOffset"`

	// Size is the bytes of all tensors.
	Size BytesScalar `json:"size"`
	// Parameters is the number of all tensor elements.
	Parameters ParametersScalar `json:"parameters"`
}

// GGUFMagic is a magic number of GGUF file,
// see https://github.com/ggerganov/ggml/blob/master/docs/gguf.md#historical-state-of-affairs.
type GGUFMagic uint32

// GGUFMagic constants.
const (
	GGUFMagicGGML   GGUFMagic = 0x67676d6c
	GGUFMagicGGMF   GGUFMagic = 0x67676d66
	GGUFMagicGGJT   GGUFMagic = 0x67676a74
	GGUFMagicGGUFLe GGUFMagic = 0x46554747 // GGUF
	GGUFMagicGGUFBe GGUFMagic = 0x47475546 // GGUF
)

// GGUFVersion is a version of GGUF file format,
// see https://github.com/ggerganov/ggml/blob/master/docs/gguf.md#version-history.
type GGUFVersion uint32

// GGUFVersion constants.
const (
	GGUFVersionV1 GGUFVersion = iota + 1
	GGUFVersionV2
	GGUFVersionV3
)

// GGUFHeader represents the header of a GGUF file.
type GGUFHeader struct {
	// Magic is a magic number that announces that this is a GGUF file.
	Magic GGUFMagic `json:"magic"`
	// Version is a version of the GGUF file format.
	Version GGUFVersion `json:"version"`
	// TensorCount is the number of tensors in the file.
	TensorCount uint64 `json:"tensorCount"`
	// MetadataKVCount is the number of key-value pairs in the metadata.
	MetadataKVCount uint64 `json:"metadataKVCount"`
	// MetadataKV are the key-value pairs in the metadata,
	MetadataKV GGUFMetadataKVs `json:"metadataKV"`
}

// GGUFMetadataValueType is a type of GGUF metadata value,
// see https://github.com/ggerganov/ggml/blob/master/docs/gguf.md#file-structure.
type GGUFMetadataValueType uint32

// GGUFMetadataValueType constants.
const (
	GGUFMetadataValueTypeUint8 GGUFMetadataValueType = iota
	GGUFMetadataValueTypeInt8
	GGUFMetadataValueTypeUint16
	GGUFMetadataValueTypeInt16
	GGUFMetadataValueTypeUint32
	GGUFMetadataValueTypeInt32
	GGUFMetadataValueTypeFloat32
	GGUFMetadataValueTypeBool
	GGUFMetadataValueTypeString
	GGUFMetadataValueTypeArray
	GGUFMetadataValueTypeUint64
	GGUFMetadataValueTypeInt64
	GGUFMetadataValueTypeFloat64
	_GGUFMetadataValueTypeCount // Unknown
)

// Types for GGUFMetadataKV.
type (
	// GGUFMetadataKV is a key-value pair in the metadata of a GGUF file.
	GGUFMetadataKV struct {
		// Key is the key of the metadata key-value pair,
		// which is no larger than 64 bytes long.
		Key string `json:"key"`
		// ValueType is the type of the metadata value.
		ValueType GGUFMetadataValueType `json:"valueType"`
		// Value is the value of the metadata key-value pair.
		Value any `json:"value"`
	}

	// GGUFMetadataKVArrayValue is a value of a GGUFMetadataKV with type GGUFMetadataValueTypeArray.
	GGUFMetadataKVArrayValue struct {
		// Type is the type of the array item.
		Type GGUFMetadataValueType `json:"type"`
		// Len is the length of the array.
		Len uint64 `json:"len"`
		// Array holds all array items.
		Array []any `json:"array,omitempty"`
	}

	// GGUFMetadataKVs is a list of GGUFMetadataKV.
	GGUFMetadataKVs []GGUFMetadataKV
)

// Types for GGUFTensorInfo.
type (
	// GGUFTensorInfo represents a tensor info in a GGUF file.
	GGUFTensorInfo struct {
		// Name is the name of the tensor,
		// which is no larger than 64 bytes long.
		Name string `json:"name"`
		// NDimensions is the number of dimensions of the tensor.
		NDimensions uint32 `json:"nDimensions"`
		// Dimensions is the dimensions of the tensor in GGML order,
		// the length is NDimensions.
		Dimensions []uint64 `json:"dimensions"`
		// Type is the type of the tensor.
		Type GGMLType `json:"type"`
		// Offset is the offset in bytes of the tensor's data in this file.
		//
		// The offset is relative to tensor data, not to the start of the file.
		Offset uint64 `json:"offset"`
	}

	// GGUFTensorInfos is a list of GGUFTensorInfo.
	GGUFTensorInfos []GGUFTensorInfo
)

// GGUFDefaultAlignment is the alignment assumed when "general.alignment" is absent.
const GGUFDefaultAlignment = 32

var ErrGGUFFileInvalidFormat = errors.New("invalid GGUF format")

// ParseGGUFFile parses a GGUF file from the local given path,
// and returns the GGUFFile, or an error if any.
func ParseGGUFFile(path string, opts ...GGUFReadOption) (*GGUFFile, error) {
	var o _GGUFReadOptions
	for _, opt := range opts {
		opt(&o)
	}

	f, s, closer, err := openGGUFFile(path, o)
	if err != nil {
		return nil, err
	}
	defer osx.Close(closer)

	return parseGGUFFile(s, newSectionReader(f, s), o)
}

func newSectionReader(f io.ReaderAt, s int64) io.ReadSeeker {
	return io.NewSectionReader(f, 0, s)
}

func openGGUFFile(path string, o _GGUFReadOptions) (io.ReaderAt, int64, io.Closer, error) {
	if o.MMap {
		mf, err := osx.OpenMmapFile(path)
		if err != nil {
			return nil, 0, nil, fmt.Errorf("open mmap file: %w", err)
		}
		return mf, mf.Len(), mf, nil
	}

	ff, err := osx.Open(path)
	if err != nil {
		return nil, 0, nil, fmt.Errorf("open file: %w", err)
	}
	st, err := ff.Stat()
	if err != nil {
		osx.Close(ff)
		return nil, 0, nil, fmt.Errorf("stat file: %w", err)
	}
	return ff, st.Size(), ff, nil
}

func parseGGUFFile(s int64, f io.ReadSeeker, o _GGUFReadOptions) (_ *GGUFFile, err error) {
	var gf GGUFFile
	rd := _GGUFReader{f: f}

	// Only little-endian GGUF v2+ is read,
	// which is all llama.cpp has written since August 2023.
	if gf.Header.Magic, err = readNumber[GGUFMagic](rd); err != nil {
		return nil, fmt.Errorf("read magic: %w", err)
	}
	switch gf.Header.Magic {
	case GGUFMagicGGUFLe:
	case GGUFMagicGGML, GGUFMagicGGMF, GGUFMagicGGJT, GGUFMagicGGUFBe:
		return nil, fmt.Errorf("unsupported format %s: %w", gf.Header.Magic, ErrGGUFFileInvalidFormat)
	default:
		return nil, ErrGGUFFileInvalidFormat
	}
	if gf.Header.Version, err = readNumber[GGUFVersion](rd); err != nil {
		return nil, fmt.Errorf("read version: %w", err)
	}
	if gf.Header.Version < GGUFVersionV2 {
		return nil, fmt.Errorf("unsupported version %s: %w", gf.Header.Version, ErrGGUFFileInvalidFormat)
	}

	if gf.Header.TensorCount, err = readNumber[uint64](rd); err != nil {
		return nil, fmt.Errorf("read tensor count: %w", err)
	}
	if gf.Header.MetadataKVCount, err = readNumber[uint64](rd); err != nil {
		return nil, fmt.Errorf("read metadata kv count: %w", err)
	}
	if gf.Header.TensorCount > uint64(s) || gf.Header.MetadataKVCount > uint64(s) {
		return nil, fmt.Errorf("counts exceed file size: %w", ErrGGUFFileInvalidFormat)
	}

	gf.Header.MetadataKV = make(GGUFMetadataKVs, gf.Header.MetadataKVCount)
	for i := range gf.Header.MetadataKV {
		if gf.Header.MetadataKV[i], err = rd.ReadMetadataKV(); err != nil {
			return nil, fmt.Errorf("read metadata kv %d: %w", i, err)
		}
	}

	gf.TensorInfos = make(GGUFTensorInfos, gf.Header.TensorCount)
	for i := range gf.TensorInfos {
		if gf.TensorInfos[i], err = rd.ReadTensorInfo(); err != nil {
			return nil, fmt.Errorf("read tensor info %d: %w", i, err)
		}
	}

	pds, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return nil, fmt.Errorf("seek padding start: %w", err)
	}
	gf.Padding = int64(GGMLPadding(uint64(pds), gf.Alignment())) - pds
	gf.TensorDataStartOffset = pds + gf.Padding

	for i := range gf.TensorInfos {
		ti := gf.TensorInfos[i]
		gf.Size += BytesScalar(ti.Bytes())
		gf.Parameters += ParametersScalar(ti.Elements())
		if end := gf.TensorDataStartOffset + int64(ti.Offset+ti.Bytes()); end > s {
			return nil, fmt.Errorf("tensor %s exceeds file size: %w", ti.Name, ErrGGUFFileInvalidFormat)
		}
	}

	return &gf, nil
}

// Alignment returns the alignment of the tensor data.
func (gf *GGUFFile) Alignment() uint64 {
	if v, ok := gf.Header.MetadataKV.Get("general.alignment"); ok {
		if ag := ValueNumeric[uint64](v); ag != 0 {
			return ag
		}
	}
	return GGUFDefaultAlignment
}

// Architecture returns the value of "general.architecture", or empty string.
func (gf *GGUFFile) Architecture() string {
	if v, ok := gf.Header.MetadataKV.Get("general.architecture"); ok && v.ValueType == GGUFMetadataValueTypeString {
		return v.ValueString()
	}
	return ""
}

// ReadTensor reads the data of the given tensor info from r,
// which must be the source of the GGUFFile.
func (gf *GGUFFile) ReadTensor(r io.ReaderAt, ti GGUFTensorInfo) (*Tensor, error) {
	t := &Tensor{Type: ti.Type, Shape: ti.Shape()}
	t.Data = make([]byte, ti.Bytes())
	off := gf.TensorDataStartOffset + int64(ti.Offset)
	if _, err := r.ReadAt(t.Data, off); err != nil {
		return nil, fmt.Errorf("read tensor %s: %w", ti.Name, err)
	}
	return t, nil
}

func (kv GGUFMetadataKV) ValueUint32() uint32 {
	if kv.ValueType != GGUFMetadataValueTypeUint32 {
		panic(fmt.Errorf("invalid type: %v", kv.ValueType))
	}
	return anyx.Number[uint32](kv.Value)
}

func (kv GGUFMetadataKV) ValueBool() bool {
	if kv.ValueType != GGUFMetadataValueTypeBool {
		panic(fmt.Errorf("invalid type: %v", kv.ValueType))
	}
	return anyx.Bool(kv.Value)
}

func (kv GGUFMetadataKV) ValueString() string {
	if kv.ValueType != GGUFMetadataValueTypeString {
		panic(fmt.Errorf("invalid type: %v", kv.ValueType))
	}
	return kv.Value.(string)
}

func (kv GGUFMetadataKV) ValueArray() GGUFMetadataKVArrayValue {
	if kv.ValueType != GGUFMetadataValueTypeArray {
		panic(fmt.Errorf("invalid type: %v", kv.ValueType))
	}
	switch v := kv.Value.(type) {
	case GGUFMetadataKVArrayValue:
		return v
	case map[string]any:
		// Decoded from cache.
		return GGUFMetadataKVArrayValue{
			Type:  GGUFMetadataValueType(anyx.Number[uint32](v["type"])),
			Len:   anyx.Number[uint64](v["len"]),
			Array: anyx.Slice(v["array"]),
		}
	}
	panic(fmt.Errorf("invalid array value: %T", kv.Value))
}

// ValueNumeric returns the numeric values of the GGUFMetadataKV,
// and panics if the value type is not numeric.
//
// ValueNumeric is a generic function, and the type T must be constraints.Integer or constraints.Float.
//
// Compare to the GGUFMetadataKV's Value* functions,
// ValueNumeric will cast the original value to the target type.
func ValueNumeric[T constraints.Integer | constraints.Float](kv GGUFMetadataKV) T {
	switch kv.ValueType {
	case GGUFMetadataValueTypeUint8, GGUFMetadataValueTypeInt8,
		GGUFMetadataValueTypeUint16, GGUFMetadataValueTypeInt16,
		GGUFMetadataValueTypeUint32, GGUFMetadataValueTypeInt32,
		GGUFMetadataValueTypeUint64, GGUFMetadataValueTypeInt64,
		GGUFMetadataValueTypeFloat32, GGUFMetadataValueTypeFloat64:
		return anyx.Number[T](kv.Value)
	default:
	}
	panic(fmt.Errorf("invalid type: %v", kv.ValueType))
}

func (av GGUFMetadataKVArrayValue) ValuesString() []string {
	if av.Type != GGUFMetadataValueTypeString {
		panic(fmt.Errorf("invalid type: %v", av.Type))
	}
	v := make([]string, av.Len)
	for i := uint64(0); i < av.Len; i++ {
		v[i] = av.Array[i].(string)
	}
	return v
}

// Get returns the GGUFMetadataKV with the given key,
// and true if found, and false otherwise.
func (kvs GGUFMetadataKVs) Get(key string) (value GGUFMetadataKV, found bool) {
	for i := range kvs {
		if kvs[i].Key == key {
			return kvs[i], true
		}
	}
	return GGUFMetadataKV{}, false
}

// Elements returns the number of elements of the GGUFTensorInfo,
// which is inspired by
// https://github.com/ggerganov/ggml/blob/a10a8b880c059b3b29356eb9a9f8df72f03cdb6a/src/ggml.c#L2597-L2601.
func (ti GGUFTensorInfo) Elements() uint64 {
	if ti.NDimensions == 0 {
		return 0
	}

	ret := uint64(1)
	for i := uint32(0); i < ti.NDimensions; i++ {
		ret *= ti.Dimensions[i]
	}
	return ret
}

// Bytes returns the number of bytes of the GGUFTensorInfo.
func (ti GGUFTensorInfo) Bytes() uint64 {
	if ti.NDimensions == 0 {
		return 0
	}
	return ti.Type.RowSizeOf(ti.Dimensions)
}

// Shape returns the dimensions in row-major order.
func (ti GGUFTensorInfo) Shape() []uint64 {
	s := slices.Clone(ti.Dimensions)
	slices.Reverse(s)
	return s
}

// Get returns the GGUFTensorInfo with the given name,
// and true if found, and false otherwise.
func (tis GGUFTensorInfos) Get(name string) (info GGUFTensorInfo, found bool) {
	for i := range tis {
		if tis[i].Name == name {
			return tis[i], true
		}
	}
	return GGUFTensorInfo{}, false
}

// _GGUFReader reads the little-endian values of a GGUF v2+ file.
type _GGUFReader struct {
	f io.ReadSeeker
}

func readNumber[T constraints.Integer | constraints.Float](rd _GGUFReader) (v T, err error) {
	if err = binary.Read(rd.f, binary.LittleEndian, &v); err != nil {
		return v, fmt.Errorf("read %T: %w", v, err)
	}
	return v, nil
}

func (rd _GGUFReader) ReadString() (string, error) {
	l, err := readNumber[uint64](rd)
	if err != nil {
		return "", fmt.Errorf("read string length: %w", err)
	}

	b := bytex.GetBytes(l)
	defer bytex.Put(b)
	if _, err = io.ReadFull(rd.f, b); err != nil {
		return "", fmt.Errorf("read string: %w", err)
	}
	return string(b), nil
}

func (rd _GGUFReader) ReadValueType() (GGUFMetadataValueType, error) {
	vt, err := readNumber[GGUFMetadataValueType](rd)
	if err != nil {
		return vt, err
	}
	if vt >= _GGUFMetadataValueTypeCount {
		return vt, fmt.Errorf("invalid value type: %v", vt)
	}
	return vt, nil
}

func (rd _GGUFReader) ReadArray() (v GGUFMetadataKVArrayValue, err error) {
	if v.Type, err = rd.ReadValueType(); err != nil {
		return v, fmt.Errorf("read array item type: %w", err)
	}
	if v.Len, err = readNumber[uint64](rd); err != nil {
		return v, fmt.Errorf("read array length: %w", err)
	}

	v.Array = make([]any, 0, min(v.Len, 1<<16))
	for i := uint64(0); i < v.Len; i++ {
		item, err := rd.ReadValue(v.Type)
		if err != nil {
			return v, fmt.Errorf("read array item %d: %w", i, err)
		}
		v.Array = append(v.Array, item)
	}
	return v, nil
}

func (rd _GGUFReader) ReadValue(vt GGUFMetadataValueType) (any, error) {
	switch vt {
	case GGUFMetadataValueTypeUint8:
		return readNumber[uint8](rd)
	case GGUFMetadataValueTypeInt8:
		return readNumber[int8](rd)
	case GGUFMetadataValueTypeUint16:
		return readNumber[uint16](rd)
	case GGUFMetadataValueTypeInt16:
		return readNumber[int16](rd)
	case GGUFMetadataValueTypeUint32:
		return readNumber[uint32](rd)
	case GGUFMetadataValueTypeInt32:
		return readNumber[int32](rd)
	case GGUFMetadataValueTypeFloat32:
		return readNumber[float32](rd)
	case GGUFMetadataValueTypeBool:
		b, err := readNumber[uint8](rd)
		return b != 0, err
	case GGUFMetadataValueTypeString:
		return rd.ReadString()
	case GGUFMetadataValueTypeArray:
		return rd.ReadArray()
	case GGUFMetadataValueTypeUint64:
		return readNumber[uint64](rd)
	case GGUFMetadataValueTypeInt64:
		return readNumber[int64](rd)
	case GGUFMetadataValueTypeFloat64:
		return readNumber[float64](rd)
	}
	return nil, fmt.Errorf("invalid type: %v", vt)
}

func (rd _GGUFReader) ReadMetadataKV() (kv GGUFMetadataKV, err error) {
	if kv.Key, err = rd.ReadString(); err != nil {
		return kv, fmt.Errorf("read key: %w", err)
	}
	if kv.ValueType, err = rd.ReadValueType(); err != nil {
		return kv, fmt.Errorf("read %s value type: %w", kv.Key, err)
	}
	if kv.Value, err = rd.ReadValue(kv.ValueType); err != nil {
		return kv, fmt.Errorf("read %s value: %w", kv.Key, err)
	}
	return kv, nil
}

func (rd _GGUFReader) ReadTensorInfo() (ti GGUFTensorInfo, err error) {
	if ti.Name, err = rd.ReadString(); err != nil {
		return ti, fmt.Errorf("read name: %w", err)
	}
	if ti.NDimensions, err = readNumber[uint32](rd); err != nil {
		return ti, fmt.Errorf("read %s dimensions: %w", ti.Name, err)
	}
	if ti.NDimensions > 4 {
		return ti, fmt.Errorf("%s has %d dimensions: %w", ti.Name, ti.NDimensions, ErrGGUFFileInvalidFormat)
	}
	ti.Dimensions = make([]uint64, ti.NDimensions)
	for i := range ti.Dimensions {
		if ti.Dimensions[i], err = readNumber[uint64](rd); err != nil {
			return ti, fmt.Errorf("read %s dimension %d: %w", ti.Name, i, err)
		}
	}
	if ti.Type, err = readNumber[GGMLType](rd); err != nil {
		return ti, fmt.Errorf("read %s type: %w", ti.Name, err)
	}
	if _, ok := ti.Type.Trait(); !ok {
		return ti, fmt.Errorf("%s has unknown type %v: %w", ti.Name, ti.Type, ErrGGUFFileInvalidFormat)
	}
	if ti.Offset, err = readNumber[uint64](rd); err != nil {
		return ti, fmt.Errorf("read %s offset: %w", ti.Name, err)
	}
	return ti, nil
}
