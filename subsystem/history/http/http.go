// Package http provides HTTP handlers for the run history subsystem.
package http

import (
	"errors"
	"net/http"

	"github.com/micromdm/nanouem/http/api"
	"github.com/micromdm/nanouem/log/logkeys"
	"github.com/micromdm/nanouem/subsystem/history/storage"

	"github.com/alexedwards/flow"
	"github.com/micromdm/nanolib/log"
	"github.com/micromdm/nanolib/log/ctxlog"
)

var ErrEmptyID = errors.New("empty id")

func errStatus(err error) int {
	if errors.Is(err, storage.ErrRunNotFound) {
		return http.StatusNotFound
	}
	return 0
}

// GetRunsHandler returns an HTTP handler that returns runs.
// All runs are returned unless IDs are given with the "id" query parameter.
func GetRunsHandler(store storage.ReadStorage, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.Logger(r.Context(), logger)
		runs, err := store.RetrieveRuns(r.Context(), r.URL.Query()["id"])
		if err != nil {
			logger.Info(logkeys.Message, "retrieve runs", logkeys.Error, err)
			api.JSONError(w, err, errStatus(err))
			return
		}
		logger.Debug(logkeys.Message, "retrieve runs", logkeys.GenericCount, len(runs))
		if err = api.JSON(w, runs, 0); err != nil {
			logger.Info(logkeys.Message, "encoding json", logkeys.Error, err)
		}
	}
}

// DeleteRunHandler returns an HTTP handler that deletes a run.
func DeleteRunHandler(store storage.Storage, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.Logger(r.Context(), logger)
		id := flow.Param(r.Context(), "id")
		if id == "" {
			logger.Info(logkeys.Message, "id check", logkeys.Error, ErrEmptyID)
			api.JSONError(w, ErrEmptyID, http.StatusBadRequest)
			return
		}
		logger = logger.With(logkeys.RunID, id)
		if err := store.DeleteRun(r.Context(), id); err != nil {
			logger.Info(logkeys.Message, "delete run", logkeys.Error, err)
			api.JSONError(w, err, errStatus(err))
			return
		}
		logger.Debug(logkeys.Message, "deleted run")
		w.WriteHeader(http.StatusNoContent)
	}
}
