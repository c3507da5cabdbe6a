// Package storage defines types and methods for an action run history storage backend.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	ErrRunNotFound = errors.New("run not found")
	ErrInvalidRun  = errors.New("invalid run")
)

// Run is the record of a single action run.
type Run struct {
	ID       string `json:"id"`
	Action   string `json:"action"`
	BundleID string `json:"bundle_id,omitempty"`

	Started  time.Time `json:"started"`
	Finished time.Time `json:"finished"`

	// Error is the error message of a failed run.
	Error string `json:"error,omitempty"`

	// Result is the JSON encoded result of the action.
	Result json.RawMessage `json:"result,omitempty"`
}

// Valid checks the validity of the run.
func (r *Run) Valid() bool {
	if r == nil || r.ID == "" || r.Action == "" || r.Started.IsZero() {
		return false
	}
	return true
}

type ReadStorage interface {
	// RetrieveRuns returns the runs by ID.
	// All runs are returned if no IDs are provided.
	// ErrRunNotFound is returned for any ID that hasn't been stored.
	RetrieveRuns(ctx context.Context, ids []string) (map[string]Run, error)
}

type Storage interface {
	ReadStorage

	// StoreRun stores a run, replacing any run with the same ID.
	// ErrInvalidRun is returned if the run is not valid.
	StoreRun(ctx context.Context, run *Run) error

	// DeleteRun deletes a run by ID.
	// ErrRunNotFound is returned for an ID that hasn't been stored.
	DeleteRun(ctx context.Context, id string) error
}
