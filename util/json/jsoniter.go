//go:build !stdjson

package json

import (
	stdjson "encoding/json"
	"strconv"
	"unsafe"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

func init() {
	// Integral numbers decoded into any stay int64, e.g. adapter ranks.
	decodeAny := func(ptr unsafe.Pointer, iter *jsoniter.Iterator) {
		if iter.WhatIsNext() != jsoniter.NumberValue {
			*(*any)(ptr) = iter.Read()
			return
		}
		var n stdjson.Number
		iter.ReadVal(&n)
		if i, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
			*(*any)(ptr) = i
		} else if f, err := strconv.ParseFloat(n.String(), 64); err == nil {
			*(*any)(ptr) = f
		}
	}
	jsoniter.RegisterTypeDecoderFunc("interface {}", decodeAny)
	jsoniter.RegisterTypeDecoderFunc("any", decodeAny)
}

var (
	Marshal    = json.Marshal
	Unmarshal  = json.Unmarshal
	NewEncoder = json.NewEncoder
)
