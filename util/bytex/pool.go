package bytex

import (
	"sync"
)

const defaultSize = 32 * 1024

type Bytes = []byte

var gp = sync.Pool{
	New: func() any {
		buf := make(Bytes, defaultSize)
		return &buf
	},
}

// GetBytes gets a bytes buffer from the pool,
// which can specify with a size,
// default is 32k.
func GetBytes(size ...uint64) Bytes {
	buf := *(gp.Get().(*Bytes))

	s := defaultSize
	if len(size) != 0 && size[0] != 0 {
		s = int(size[0])
	}
	if cap(buf) >= s {
		return buf[:s]
	}

	gp.Put(&buf)
	return make(Bytes, s, max(s, defaultSize))
}

// WithBytes relies on GetBytes to get a buffer,
// calls the function with the buffer,
// finally, puts it back to the pool after the function returns.
func WithBytes(fn func(Bytes) error, size ...uint64) error {
	if fn == nil {
		return nil
	}

	buf := GetBytes(size...)
	defer Put(buf)
	return fn(buf)
}

// Put puts the buffer back to the pool.
func Put(buf Bytes) {
	gp.Put(&buf)
}
