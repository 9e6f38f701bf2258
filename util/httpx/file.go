package httpx

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"syscall"

	"github.com/smallnest/ringbuffer"

	"github.com/gpustack/llm-adapter-go/util/bytex"
)

// SeekerFile reads a remote file by HTTP range requests,
// buffering forward reads in a ring buffer.
type SeekerFile struct {
	cli *http.Client
	req *http.Request
	b   *ringbuffer.RingBuffer
	c   int64
	l   int64
}

func OpenSeekerFile(cli *http.Client, req *http.Request, opts ...*SeekerFileOption) (*SeekerFile, error) {
	if cli == nil {
		return nil, errors.New("client is nil")
	}
	if req == nil {
		return nil, errors.New("request is nil")
	}
	if req.Method != http.MethodGet {
		return nil, errors.New("request method is not GET")
	}

	var o *SeekerFileOption
	if len(opts) > 0 {
		o = opts[0]
	} else {
		o = SeekerFileOptions()
	}

	var l int64
	{
		req := req.Clone(req.Context())
		if !o.skipRangeDownloadDetect {
			req.Method = http.MethodHead
		}
		err := Do(cli, req, func(resp *http.Response) error {
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("stat: status code %d", resp.StatusCode)
			}
			if !o.skipRangeDownloadDetect && !strings.EqualFold(resp.Header.Get("Accept-Ranges"), "bytes") {
				return errors.New("stat: not support range download")
			}
			l = resp.ContentLength
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("stat: %w", err)
		}
		switch sz := int64(o.size); {
		case sz > l:
			return nil, fmt.Errorf("size %d is greater than limit %d", o.size, l)
		case sz <= 0:
		default:
			l = sz
		}
	}

	b := ringbuffer.New(o.bufSize).WithCancel(req.Context())
	return &SeekerFile{cli: cli, req: req, b: b, c: 1<<63 - 1, l: l}, nil
}

func (f *SeekerFile) Close() error {
	if f.b != nil {
		f.b.CloseWriter()
	}
	return nil
}

func (f *SeekerFile) Len() int64 {
	return f.l
}

func (f *SeekerFile) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, syscall.EINVAL
	}
	if off >= f.Len() {
		return 0, io.EOF
	}

	// Refill from the offset if moving backward or drained.
	if f.c > off || f.b.IsEmpty() {
		if err := f.sync(off, true); err != nil {
			return 0, err
		}
	}

	var (
		remain   = int64(f.b.Length())
		capacity = int64(f.b.Capacity())
		need     = int64(len(p))
	)

	switch {
	case f.c+remain >= off+need:
		if err := f.skip(off - f.c); err != nil {
			return 0, err
		}
		return f.read(p)
	case f.c+capacity >= off+need:
		if err := f.sync(f.c+remain, false); err != nil {
			return 0, err
		}
		if err := f.skip(off - f.c); err != nil {
			return 0, err
		}
		return f.read(p)
	}

	// Larger than the buffer, read directly.
	f.b.Reset()
	f.c = off

	resp, err := f.rangeGet(off, off+need-1)
	if err != nil {
		return 0, err
	}
	defer Close(resp)
	n, err := io.ReadFull(resp.Body, p)
	f.c += int64(n)
	return n, err
}

func (f *SeekerFile) read(p []byte) (int, error) {
	n, err := f.b.Read(p)
	f.c += int64(n)
	return n, err
}

func (f *SeekerFile) rangeGet(start, end int64) (*http.Response, error) {
	if end >= f.Len() {
		end = f.Len() - 1
	}
	req := f.req.Clone(f.req.Context())
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))
	resp, err := f.cli.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusPartialContent && resp.StatusCode != http.StatusOK {
		Close(resp)
		return nil, errors.New(resp.Status)
	}
	return resp, nil
}

func (f *SeekerFile) sync(off int64, reset bool) error {
	if reset {
		f.b.Reset()
		f.c = off
	}

	free := int64(f.b.Free())
	if free <= 0 || off >= f.Len() {
		return nil
	}
	resp, err := f.rangeGet(off, off+free-1)
	if err != nil {
		return err
	}
	defer Close(resp)

	// Hide ReadFrom of the ring buffer, which refuses non-blocking mode,
	// and bound the copy in case the server ignores the range.
	w := struct{ io.Writer }{f.b}
	return bytex.WithBytes(func(buf bytex.Bytes) error {
		_, err := io.CopyBuffer(w, io.LimitReader(resp.Body, free), buf)
		return err
	})
}

func (f *SeekerFile) skip(dif int64) error {
	if dif <= 0 {
		return nil
	}

	return bytex.WithBytes(func(buf bytex.Bytes) error {
		n, err := f.b.Read(buf)
		f.c += int64(n)
		return err
	}, uint64(dif))
}
