package llm_adapter

import (
	"net/url"
	"path/filepath"
	"time"

	"github.com/gpustack/llm-adapter-go/util/osx"
)

type (
	_GGUFReadOptions struct {
		Debug          bool
		SkipTensorData bool

		// Local.
		MMap bool

		// Remote.
		BearerAuthToken            string
		ProxyURL                   *url.URL
		SkipProxy                  bool
		SkipTLSVerification        bool
		SkipDNSCache               bool
		BufferSize                 int
		SkipRangeDownloadDetection bool
		CachePath                  string
		CacheExpiration            time.Duration
	}
	GGUFReadOption func(o *_GGUFReadOptions)
)

// UseDebug uses debug mode to read the file.
func UseDebug() GGUFReadOption {
	return func(o *_GGUFReadOptions) {
		o.Debug = true
	}
}

// SkipTensorData skips loading the tensor data in ParseModelFile,
// the resulting model is layout-only.
func SkipTensorData() GGUFReadOption {
	return func(o *_GGUFReadOptions) {
		o.SkipTensorData = true
	}
}

// UseMMap uses mmap to read the local file.
func UseMMap() GGUFReadOption {
	return func(o *_GGUFReadOptions) {
		o.MMap = true
	}
}

// UseBearerAuth uses the given token as a bearer auth when reading from a remote URL.
func UseBearerAuth(token string) GGUFReadOption {
	return func(o *_GGUFReadOptions) {
		o.BearerAuthToken = token
	}
}

// UseProxy uses the given url as a proxy when reading from a remote URL.
func UseProxy(url *url.URL) GGUFReadOption {
	return func(o *_GGUFReadOptions) {
		o.ProxyURL = url
	}
}

// SkipProxy skips the proxy when reading from a remote URL.
func SkipProxy() GGUFReadOption {
	return func(o *_GGUFReadOptions) {
		o.SkipProxy = true
	}
}

// SkipTLSVerification skips the TLS verification when reading from a remote URL.
func SkipTLSVerification() GGUFReadOption {
	return func(o *_GGUFReadOptions) {
		o.SkipTLSVerification = true
	}
}

// SkipDNSCache skips the DNS cache when reading from a remote URL.
func SkipDNSCache() GGUFReadOption {
	return func(o *_GGUFReadOptions) {
		o.SkipDNSCache = true
	}
}

// UseBufferSize sets the buffer size when reading from a remote URL.
func UseBufferSize(size int) GGUFReadOption {
	const minSize = 32 * 1024
	if size < minSize {
		size = minSize
	}
	return func(o *_GGUFReadOptions) {
		o.BufferSize = size
	}
}

// SkipRangeDownloadDetection skips the range download detection when reading from a remote URL.
func SkipRangeDownloadDetection() GGUFReadOption {
	return func(o *_GGUFReadOptions) {
		o.SkipRangeDownloadDetection = true
	}
}

// UseCache caches the remote reading result below the default cache path.
func UseCache() GGUFReadOption {
	return func(o *_GGUFReadOptions) {
		o.CachePath = DefaultCachePath()
	}
}

// UseCachePath caches the remote reading result below the given path.
func UseCachePath(path string) GGUFReadOption {
	path = osx.InlineTilde(path)
	return func(o *_GGUFReadOptions) {
		o.CachePath = path
	}
}

// UseCacheExpiration sets the expiration of the cached result,
// zero means never expire.
func UseCacheExpiration(exp time.Duration) GGUFReadOption {
	if exp < 0 {
		exp = 0
	}
	return func(o *_GGUFReadOptions) {
		o.CacheExpiration = exp
	}
}

// SkipCache disables the cache.
func SkipCache() GGUFReadOption {
	return func(o *_GGUFReadOptions) {
		o.CachePath = ""
	}
}

// DefaultCachePath returns the default cache path.
func DefaultCachePath() string {
	return filepath.Join(osx.UserHomeDir(), ".cache", "llm-adapter")
}
