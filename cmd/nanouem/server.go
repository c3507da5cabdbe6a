package main

import (
	"crypto/rand"
	"fmt"
	"net/http"
	"os"

	actionhttp "github.com/micromdm/nanouem/action/http"
	httpuem "github.com/micromdm/nanouem/http"
	"github.com/micromdm/nanouem/log/logkeys"
	"github.com/micromdm/nanouem/subsystem/history/storage"
	historyhttp "github.com/micromdm/nanouem/subsystem/history/http"

	"github.com/alexedwards/flow"
	nanohttp "github.com/micromdm/nanolib/http"
	"github.com/micromdm/nanolib/http/trace"
	"github.com/micromdm/nanolib/log"
)

const (
	apiUsername = "nanouem"
	apiRealm    = "nanouem"
)

// runServer serves the action and history APIs until the listener fails.
// The API endpoints are only registered when an API key is configured.
func runServer(cfg *config, logger log.Logger, runner actionhttp.Runner, store storage.Storage, dump bool) error {
	if err := cfg.creds.Validate(); err != nil {
		return err
	}

	mux := flow.New()

	mux.Handle("/version", nanohttp.NewJSONVersionHandler(version))

	if cfg.apiKey != "" {
		mux.Group(func(mux *flow.Mux) {
			mux.Use(func(h http.Handler) http.Handler {
				if dump {
					h = httpuem.DumpHandler(h, os.Stdout)
				}
				return nanohttp.NewSimpleBasicAuthHandler(h, apiUsername, cfg.apiKey, apiRealm)
			})

			actionhttp.HandleAPIv1("/v1", mux, logger, runner, cfg.creds, cfg.tmpDir)
			historyhttp.HandleAPIv1("/v1", mux, logger, store)
		})
	} else {
		logger.Info(logkeys.Message, "no API key configured: API endpoints disabled")
	}

	logger.Info(logkeys.Message, "starting server", "listen", cfg.listen)
	return http.ListenAndServe(cfg.listen, trace.NewTraceLoggingHandler(mux, logger.With("handler", "log"), newTraceID))
}

// newTraceID generates a new HTTP trace ID for context logging.
func newTraceID(_ *http.Request) string {
	b := make([]byte, 8)
	rand.Read(b)
	return fmt.Sprintf("%x", b)
}
