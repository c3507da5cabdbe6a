package http

import (
	"net/http"

	"github.com/micromdm/nanouem/uem"

	"github.com/micromdm/nanolib/log"
)

// Runner runs every action exposed by the API.
type Runner interface {
	VersionLister
	LifecycleRunner
	Assigner
	Deployer
}

// Mux can register HTTP handlers.
// Ostensibly this supports flow router.
type Mux interface {
	// Handle registers the handler for the given pattern.
	Handle(pattern string, handler http.Handler, methods ...string)
}

// HandleAPIv1 registers the action API handlers into mux.
// API endpoint paths are prepended with prefix.
// Every action runs against the console with creds.
// Deployment packages are spooled into tmpDir.
// The logger is adorned with a "handler" key of the endpoint name.
func HandleAPIv1(prefix string, mux Mux, logger log.Logger, r Runner, creds *uem.Credentials, tmpDir string) {
	// versions

	mux.Handle(
		prefix+"/apps/:bundleid/versions",
		VersionsHandler(r, creds, logger.With("handler", "versions")),
		"GET",
	)

	mux.Handle(
		prefix+"/apps/:bundleid/latest",
		LatestVersionHandler(r, creds, logger.With("handler", "latest version")),
		"GET",
	)

	// lifecycle

	mux.Handle(
		prefix+"/apps/:bundleid/delete",
		DeleteHandler(r, creds, logger.With("handler", "delete versions")),
		"POST",
	)

	mux.Handle(
		prefix+"/apps/:bundleid/retire",
		RetireHandler(r, creds, logger.With("handler", "retire versions")),
		"POST",
	)

	mux.Handle(
		prefix+"/apps/:bundleid/unretire",
		UnretireHandler(r, creds, logger.With("handler", "unretire versions")),
		"POST",
	)

	// assignments

	mux.Handle(
		prefix+"/apps/:bundleid/assignments",
		AssignmentsHandler(r, creds, logger.With("handler", "assignments")),
		"PUT",
	)

	// deploy

	mux.Handle(
		prefix+"/deploy",
		DeployHandler(r, creds, tmpDir, logger.With("handler", "deploy")),
		"POST",
	)
}
