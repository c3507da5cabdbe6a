// Package kv implements a run history storage backend using key-value storage.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/micromdm/nanouem/subsystem/history/storage"

	"github.com/micromdm/nanolib/storage/kv"
)

const keyPfxRun = "run."

// KV is a run history storage backend using key-value storage.
type KV struct {
	b kv.Bucket
}

func New(b kv.Bucket) *KV {
	return &KV{b: b}
}

// RetrieveRuns returns the runs in the key-value store by ID.
// Will return all runs if no IDs are given.
func (s *KV) RetrieveRuns(ctx context.Context, ids []string) (map[string]storage.Run, error) {
	if len(ids) < 1 {
		for _, k := range kv.AllKeysPrefix(ctx, s.b, keyPfxRun) {
			ids = append(ids, strings.TrimPrefix(k, keyPfxRun))
		}
	}

	r := make(map[string]storage.Run)
	for _, id := range ids {
		b, err := s.b.Get(ctx, keyPfxRun+id)
		if errors.Is(err, kv.ErrKeyNotFound) {
			return r, fmt.Errorf("%w: %s: %v", storage.ErrRunNotFound, id, err)
		} else if err != nil {
			return r, err
		}
		var run storage.Run
		if err = json.Unmarshal(b, &run); err != nil {
			return r, fmt.Errorf("unmarshal run %s: %w", id, err)
		}
		r[id] = run
	}
	return r, nil
}

// StoreRun stores a run in the key-value store.
func (s *KV) StoreRun(ctx context.Context, run *storage.Run) error {
	if !run.Valid() {
		return storage.ErrInvalidRun
	}
	b, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run: %w", err)
	}
	return s.b.Set(ctx, keyPfxRun+run.ID, b)
}

// DeleteRun deletes a run from the key-value store by ID.
func (s *KV) DeleteRun(ctx context.Context, id string) error {
	found, err := s.b.Has(ctx, keyPfxRun+id)
	if err != nil {
		return err
	} else if !found {
		return fmt.Errorf("%w: %s", storage.ErrRunNotFound, id)
	}
	return kv.DeleteSlice(ctx, s.b, []string{keyPfxRun + id})
}
