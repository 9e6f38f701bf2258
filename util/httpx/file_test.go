package httpx

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSeekerFile_ReadAt(t *testing.T) {
	data := make([]byte, 200*1024)
	for i := range data {
		data[i] = byte(i * 7)
	}
	var gets atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			gets.Add(1)
		}
		http.ServeContent(w, r, "blob", time.Time{}, bytes.NewReader(data))
	}))
	defer srv.Close()

	req, err := NewGetRequestWithContext(context.Background(), srv.URL)
	require.NoError(t, err)
	f, err := OpenSeekerFile(Client(), req, SeekerFileOptions().WithBufferSize(32*1024))
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	assert.Equal(t, int64(len(data)), f.Len())

	testCases := []struct {
		name string
		off  int64
		size int
	}{
		{"head", 0, 10},
		{"forward in buffer", 100, 10},
		{"forward after refill", 32*1024 - 50, 100},
		{"beyond buffer", 100 * 1024, 10},
		{"drained", 100*1024 + 10, 10},
		{"backward", 5, 10},
		{"larger than buffer", 1000, 64 * 1024},
		{"tail", int64(len(data)) - 3, 3},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			p := make([]byte, tc.size)
			n, err := f.ReadAt(p, tc.off)
			require.NoError(t, err)
			assert.Equal(t, tc.size, n)
			assert.Equal(t, data[tc.off:tc.off+int64(tc.size)], p)
		})
	}
	assert.Less(t, int(gets.Load()), len(testCases))

	_, err = f.ReadAt(make([]byte, 1), f.Len())
	assert.ErrorIs(t, err, io.EOF)
}

func TestOpenSeekerFile_NoRange(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("GGUF"))
	}))
	defer srv.Close()

	req, err := NewGetRequestWithContext(context.Background(), srv.URL)
	require.NoError(t, err)

	_, err = OpenSeekerFile(Client(), req)
	assert.ErrorContains(t, err, "not support range download")

	f, err := OpenSeekerFile(Client(), req, SeekerFileOptions().WithoutRangeDownloadDetect())
	require.NoError(t, err)
	p := make([]byte, 4)
	_, err = f.ReadAt(p, 0)
	require.NoError(t, err)
	assert.Equal(t, "GGUF", string(p))
}
