package http

import (
	"net/http"

	"github.com/micromdm/nanouem/subsystem/history/storage"

	"github.com/micromdm/nanolib/log"
)

// Mux can register HTTP handlers.
type Mux interface {
	// Handle registers the handler for the given pattern.
	Handle(pattern string, handler http.Handler, methods ...string)
}

// HandleAPIv1 registers the history API handlers into mux.
// API endpoint paths are prepended with prefix.
func HandleAPIv1(prefix string, mux Mux, logger log.Logger, s storage.Storage) {
	mux.Handle(
		prefix+"/history",
		GetRunsHandler(s, logger.With("handler", "get runs")),
		"GET",
	)

	mux.Handle(
		prefix+"/history/:id",
		DeleteRunHandler(s, logger.With("handler", "delete run")),
		"DELETE",
	)
}
