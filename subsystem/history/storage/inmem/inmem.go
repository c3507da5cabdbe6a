// Package inmem implements an in-memory storage backend for the run history subsystem.
package inmem

import (
	"github.com/micromdm/nanouem/subsystem/history/storage/kv"

	"github.com/micromdm/nanolib/storage/kv/kvmap"
)

// InMem is a run history storage backend using an in-memory key-value store.
type InMem struct {
	*kv.KV
}

func New() *InMem {
	return &InMem{KV: kv.New(kvmap.New())}
}
