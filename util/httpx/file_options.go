package httpx

type SeekerFileOption struct {
	bufSize                 int
	size                    int
	skipRangeDownloadDetect bool
}

func SeekerFileOptions() *SeekerFileOption {
	return &SeekerFileOption{
		bufSize: 4 * 1024 * 1024, // 4mb
	}
}

// WithBufferSize sets the size of the ring buffer, default is 4MiB,
// sizes below 32KiB are raised to 32KiB.
func (o *SeekerFileOption) WithBufferSize(bufSize int) *SeekerFileOption {
	if o == nil || bufSize <= 0 {
		return o
	}
	o.bufSize = max(bufSize, 32*1024)
	return o
}

// WithSize limits the readable size of the file,
// a size greater than the content size fails OpenSeekerFile.
func (o *SeekerFileOption) WithSize(size int) *SeekerFileOption {
	if o == nil || size <= 0 {
		return o
	}
	o.size = size
	return o
}

// WithoutRangeDownloadDetect stats the file by a GET request
// and skips checking the "Accept-Ranges" header,
// for servers rejecting HEAD requests.
func (o *SeekerFileOption) WithoutRangeDownloadDetect() *SeekerFileOption {
	if o == nil {
		return o
	}
	o.skipRangeDownloadDetect = true
	return o
}

// If is a conditional option,
// which receives a boolean condition to trigger the given function or not.
func (o *SeekerFileOption) If(condition bool, then func(*SeekerFileOption) *SeekerFileOption) *SeekerFileOption {
	if condition {
		return then(o)
	}
	return o
}
