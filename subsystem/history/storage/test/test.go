// Package test provides a shared test suite for run history storage backends.
package test

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/micromdm/nanouem/subsystem/history/storage"
)

func testRun(id string) *storage.Run {
	started := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	return &storage.Run{
		ID:       id,
		Action:   "retire-previous-versions",
		BundleID: "com.example.app",
		Started:  started,
		Finished: started.Add(1500 * time.Millisecond),
		Result:   json.RawMessage(`{"items":[{"version_id":1,"success":true}]}`),
	}
}

func equalRun(t *testing.T, have, want storage.Run) {
	t.Helper()
	if have.ID != want.ID || have.Action != want.Action || have.BundleID != want.BundleID || have.Error != want.Error {
		t.Errorf("have: %+v, want: %+v", have, want)
	}
	if !have.Started.Equal(want.Started) {
		t.Errorf("started: have: %v, want: %v", have.Started, want.Started)
	}
	if !have.Finished.Equal(want.Finished) {
		t.Errorf("finished: have: %v, want: %v", have.Finished, want.Finished)
	}
	if have, want := string(have.Result), string(want.Result); have != want {
		t.Errorf("result: have: %v, want: %v", have, want)
	}
}

func TestRunStorage(t *testing.T, newStorage func() storage.Storage) {
	s := newStorage()
	ctx := context.Background()

	run := testRun("AAAA-1111")
	err := s.StoreRun(ctx, run)
	if err != nil {
		t.Fatal(err)
	}

	runs, err := s.RetrieveRuns(ctx, []string{run.ID})
	if err != nil {
		t.Fatal(err)
	}
	run2, ok := runs[run.ID]
	if !ok {
		t.Fatal("run not found after retrieval")
	}
	equalRun(t, run2, *run)

	// replacing a run
	run.Error = "1 of 1 batch items failed"
	if err = s.StoreRun(ctx, run); err != nil {
		t.Fatal(err)
	}

	other := testRun("BBBB-2222")
	other.Result = nil
	if err = s.StoreRun(ctx, other); err != nil {
		t.Fatal(err)
	}

	// test with no IDs (should return all)
	runs, err = s.RetrieveRuns(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := len(runs), 2; have != want {
		t.Fatalf("have: %v, want: %v", have, want)
	}
	equalRun(t, runs[run.ID], *run)
	equalRun(t, runs[other.ID], *other)

	if err = s.StoreRun(ctx, &storage.Run{ID: "CCCC-3333"}); !errors.Is(err, storage.ErrInvalidRun) {
		t.Errorf("expected ErrInvalidRun, have: %v", err)
	}

	if err = s.DeleteRun(ctx, run.ID); err != nil {
		t.Fatal(err)
	}

	_, err = s.RetrieveRuns(ctx, []string{run.ID})
	if !errors.Is(err, storage.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound, have: %v", err)
	}

	if err = s.DeleteRun(ctx, run.ID); !errors.Is(err, storage.ErrRunNotFound) {
		t.Errorf("expected ErrRunNotFound, have: %v", err)
	}

	// cleanup for persistent backends
	if err = s.DeleteRun(ctx, other.ID); err != nil {
		t.Fatal(err)
	}
}
