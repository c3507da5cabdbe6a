// Package diskv implements a storage backend for the run history subsystem backed by diskv.
package diskv

import (
	"path/filepath"

	"github.com/micromdm/nanouem/subsystem/history/storage/kv"

	"github.com/micromdm/nanolib/storage/kv/kvdiskv"
	"github.com/peterbourgon/diskv/v3"
)

// DefaultCacheSizeMax is the default in-memory cache size in bytes.
const DefaultCacheSizeMax = 1024 * 1024

// Diskv is a run history storage backend that uses an on-disk key-value store.
type Diskv struct {
	*kv.KV
}

type config struct {
	cacheSizeMax uint64
}

// Option configures the diskv store.
type Option func(*config)

// WithCacheSizeMax sets the in-memory cache size in bytes.
// Zero disables the cache.
func WithCacheSizeMax(n uint64) Option {
	return func(c *config) {
		c.cacheSizeMax = n
	}
}

// New creates a new run history store on disk at path.
func New(path string, opts ...Option) *Diskv {
	c := &config{cacheSizeMax: DefaultCacheSizeMax}
	for _, opt := range opts {
		opt(c)
	}
	return &Diskv{
		KV: kv.New(kvdiskv.New(diskv.New(diskv.Options{
			BasePath:     filepath.Join(path, "history"),
			Transform:    kvdiskv.FlatTransform,
			CacheSizeMax: c.cacheSizeMax,
		}))),
	}
}
