package llm_adapter

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/gpustack/llm-adapter-go/util/osx"
)

// GGUFTensor is a named tensor to write into a GGUF file.
type GGUFTensor struct {
	Name string
	*Tensor
}

// WriteGGUFFile writes a GGUF v3 file with the given metadata and tensors to the given path,
// tensors are laid out in the given order.
//
// The alignment is taken from "general.alignment" if present, otherwise GGUFDefaultAlignment.
func WriteGGUFFile(path string, kvs GGUFMetadataKVs, ts []GGUFTensor) error {
	var ag uint64 = GGUFDefaultAlignment
	if v, ok := kvs.Get("general.alignment"); ok {
		if ag = ValueNumeric[uint64](v); ag == 0 || ag%8 != 0 {
			return fmt.Errorf("invalid alignment %d", ag)
		}
	}

	for i := range ts {
		if ts[i].Tensor == nil || !ts[i].HasData() {
			return fmt.Errorf("write tensor %s: %w", ts[i].Name, ErrTensorDataMissing)
		}
		if uint64(len(ts[i].Data)) != ts[i].Bytes() {
			return fmt.Errorf("write tensor %s: data %d does not match layout %s",
				ts[i].Name, len(ts[i].Data), BytesScalar(ts[i].Bytes()))
		}
	}

	var (
		buf  bytes.Buffer
		offs = make([]uint64, len(ts))
	)
	{
		w := _GGUFWriter{w: &buf}
		w.Write(GGUFMagicGGUFLe)
		w.Write(GGUFVersionV3)
		w.Write(uint64(len(ts)))
		w.Write(uint64(len(kvs)))
		for i := range kvs {
			w.WriteKV(kvs[i])
		}
		var s uint64
		for i := range ts {
			offs[i] = s
			w.WriteTensorInfo(ts[i], s)
			s = GGMLPadding(s+ts[i].Bytes(), ag)
		}
		if w.err != nil {
			return fmt.Errorf("write header: %w", w.err)
		}
	}

	f, err := osx.CreateFile(path, 0o600)
	if err != nil {
		return fmt.Errorf("create file: %w", err)
	}
	defer osx.Close(f)

	if _, err = f.Write(buf.Bytes()); err != nil {
		return fmt.Errorf("write header: %w", err)
	}
	start := int64(GGMLPadding(uint64(buf.Len()), ag))

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range ts {
		w := io.NewOffsetWriter(f, start+int64(offs[i]))
		t := ts[i]
		g.Go(func() error {
			if _, err := w.Write(t.Data); err != nil {
				return fmt.Errorf("write tensor %s: %w", t.Name, err)
			}
			return nil
		})
	}
	if err = g.Wait(); err != nil {
		return err
	}

	return f.Sync()
}

// _GGUFWriter writes little-endian values,
// keeping the first error.
type _GGUFWriter struct {
	w   io.Writer
	err error
}

func (w *_GGUFWriter) Write(v any) {
	if w.err != nil {
		return
	}
	w.err = binary.Write(w.w, binary.LittleEndian, v)
}

func (w *_GGUFWriter) WriteString(s string) {
	w.Write(uint64(len(s)))
	w.Write([]byte(s))
}

func (w *_GGUFWriter) WriteKV(kv GGUFMetadataKV) {
	w.WriteString(kv.Key)
	w.Write(uint32(kv.ValueType))
	w.WriteValue(kv.ValueType, kv.Value)
}

func (w *_GGUFWriter) WriteValue(vt GGUFMetadataValueType, v any) {
	if w.err != nil {
		return
	}
	switch vt {
	case GGUFMetadataValueTypeUint8:
		w.Write(ValueNumeric[uint8](GGUFMetadataKV{ValueType: vt, Value: v}))
	case GGUFMetadataValueTypeInt8:
		w.Write(ValueNumeric[int8](GGUFMetadataKV{ValueType: vt, Value: v}))
	case GGUFMetadataValueTypeUint16:
		w.Write(ValueNumeric[uint16](GGUFMetadataKV{ValueType: vt, Value: v}))
	case GGUFMetadataValueTypeInt16:
		w.Write(ValueNumeric[int16](GGUFMetadataKV{ValueType: vt, Value: v}))
	case GGUFMetadataValueTypeUint32:
		w.Write(ValueNumeric[uint32](GGUFMetadataKV{ValueType: vt, Value: v}))
	case GGUFMetadataValueTypeInt32:
		w.Write(ValueNumeric[int32](GGUFMetadataKV{ValueType: vt, Value: v}))
	case GGUFMetadataValueTypeFloat32:
		w.Write(ValueNumeric[float32](GGUFMetadataKV{ValueType: vt, Value: v}))
	case GGUFMetadataValueTypeUint64:
		w.Write(ValueNumeric[uint64](GGUFMetadataKV{ValueType: vt, Value: v}))
	case GGUFMetadataValueTypeInt64:
		w.Write(ValueNumeric[int64](GGUFMetadataKV{ValueType: vt, Value: v}))
	case GGUFMetadataValueTypeFloat64:
		w.Write(ValueNumeric[float64](GGUFMetadataKV{ValueType: vt, Value: v}))
	case GGUFMetadataValueTypeBool:
		var b uint8
		if vv, ok := v.(bool); ok && vv {
			b = 1
		}
		w.Write(b)
	case GGUFMetadataValueTypeString:
		s, ok := v.(string)
		if !ok {
			w.err = fmt.Errorf("invalid string value: %T", v)
			return
		}
		w.WriteString(s)
	case GGUFMetadataValueTypeArray:
		av, ok := v.(GGUFMetadataKVArrayValue)
		if !ok {
			w.err = fmt.Errorf("invalid array value: %T", v)
			return
		}
		w.Write(uint32(av.Type))
		w.Write(uint64(len(av.Array)))
		for i := range av.Array {
			w.WriteValue(av.Type, av.Array[i])
		}
	default:
		w.err = fmt.Errorf("invalid type: %v", vt)
	}
}

func (w *_GGUFWriter) WriteTensorInfo(t GGUFTensor, offset uint64) {
	w.WriteString(t.Name)
	ds := t.Dimensions()
	w.Write(uint32(len(ds)))
	for i := range ds {
		w.Write(ds[i])
	}
	w.Write(uint32(t.Type))
	w.Write(offset)
}
