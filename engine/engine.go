// Package engine implements the NanoUEM app version lifecycle engine.
//
// The engine fetches the versions of an app from the console, filters
// and orders them, and applies lifecycle actions (delete, retire,
// unretire, smart group assignment) to the selected versions.
package engine

import (
	"github.com/micromdm/nanouem/uem/console"

	"github.com/micromdm/nanolib/log"
)

// Engine queries and acts on app versions through a console gateway.
// It holds no per-request state: credentials are passed into each call.
type Engine struct {
	gw     console.Gateway
	logger log.Logger
}

// Option configures the engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(logger log.Logger) Option {
	return func(e *Engine) {
		e.logger = logger
	}
}

// New creates a new engine that talks to the console with gw.
func New(gw console.Gateway, opts ...Option) *Engine {
	engine := &Engine{
		gw:     gw,
		logger: log.NopLogger,
	}
	for _, opt := range opts {
		opt(engine)
	}
	return engine
}
