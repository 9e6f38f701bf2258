package llm_adapter

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gpustack/llm-adapter-go/util/json"
	"github.com/gpustack/llm-adapter-go/util/osx"
	"github.com/gpustack/llm-adapter-go/util/stringx"
)

var (
	ErrGGUFFileCacheDisabled  = errors.New("GGUF file cache disabled")
	ErrGGUFFileCacheMissed    = errors.New("GGUF file cache missed")
	ErrGGUFFileCacheCorrupted = errors.New("GGUF file cache corrupted")
)

// GGUFFileCache is a directory caching parsed GGUFFile headers as JSON,
// an empty GGUFFileCache is disabled.
type GGUFFileCache string

func (c GGUFFileCache) keyPath(key string) string {
	k := stringx.SumByFNV64a(key)
	return filepath.Join(string(c), k[:1], k)
}

// Get returns the cached GGUFFile of the given key,
// the entry older than exp is a miss unless exp is zero.
func (c GGUFFileCache) Get(key string, exp time.Duration) (*GGUFFile, error) {
	if c == "" {
		return nil, ErrGGUFFileCacheDisabled
	}

	if key == "" {
		return nil, ErrGGUFFileCacheMissed
	}

	p := c.keyPath(key)
	if !osx.Exists(p, func(stat os.FileInfo) bool {
		if !stat.Mode().IsRegular() {
			return false
		}
		return exp == 0 || time.Since(stat.ModTime()) < exp
	}) {
		return nil, ErrGGUFFileCacheMissed
	}

	var gf GGUFFile
	{
		bs, err := os.ReadFile(p)
		if err != nil {
			return nil, fmt.Errorf("GGUF file cache get: %w", err)
		}
		if err = json.Unmarshal(bs, &gf); err != nil {
			_ = os.Remove(p)
			return nil, fmt.Errorf("GGUF file cache get: %w: %w", ErrGGUFFileCacheCorrupted, err)
		}
	}

	if uint64(len(gf.TensorInfos)) != gf.Header.TensorCount ||
		uint64(len(gf.Header.MetadataKV)) != gf.Header.MetadataKVCount {
		_ = os.Remove(p)
		return nil, ErrGGUFFileCacheCorrupted
	}

	return &gf, nil
}

// Put caches the given GGUFFile under the given key.
func (c GGUFFileCache) Put(key string, gf *GGUFFile) error {
	if c == "" {
		return ErrGGUFFileCacheDisabled
	}

	if key == "" || gf == nil {
		return nil
	}

	bs, err := json.Marshal(gf)
	if err != nil {
		return fmt.Errorf("GGUF file cache put: %w", err)
	}

	if err = osx.WriteFile(c.keyPath(key), bs, 0o600); err != nil {
		return fmt.Errorf("GGUF file cache put: %w", err)
	}
	return nil
}

// Delete removes the cached entry of the given key.
func (c GGUFFileCache) Delete(key string) error {
	if c == "" {
		return ErrGGUFFileCacheDisabled
	}

	if key == "" {
		return ErrGGUFFileCacheMissed
	}

	p := c.keyPath(key)
	if !osx.ExistsFile(p) {
		return ErrGGUFFileCacheMissed
	}

	if err := os.Remove(p); err != nil {
		return fmt.Errorf("GGUF file cache delete: %w", err)
	}
	return nil
}
