// Package http contains HTTP handlers that run NanoUEM actions.
package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/micromdm/nanouem/action"
	"github.com/micromdm/nanouem/deploy"
	"github.com/micromdm/nanouem/engine"
	httpuem "github.com/micromdm/nanouem/http"
	"github.com/micromdm/nanouem/http/api"
	"github.com/micromdm/nanouem/log/logkeys"
	"github.com/micromdm/nanouem/uem"

	"github.com/alexedwards/flow"
	"github.com/goccy/go-yaml"
	"github.com/micromdm/nanolib/log"
	"github.com/micromdm/nanolib/log/ctxlog"
)

var (
	ErrEmptyBundleID    = errors.New("empty bundle id")
	ErrNoSmartGroups    = errors.New("no smart groups")
	ErrEmptyBody        = errors.New("empty body")
	ErrNoFileName       = errors.New("no file name")
	ErrInvalidCarryOver = errors.New("invalid carry_over")
)

type VersionLister interface {
	Versions(ctx context.Context, creds *uem.Credentials, bundleID string, filter uem.StatusFilter) ([]uem.VersionRecord, error)
	LatestVersion(ctx context.Context, creds *uem.Credentials, bundleID string) (*action.VersionsReport, error)
}

type LifecycleRunner interface {
	DeletePreviousVersions(ctx context.Context, creds *uem.Credentials, bundleID string, keep int, policy engine.KeepPolicy) (*action.LifecycleReport, error)
	RetirePreviousVersions(ctx context.Context, creds *uem.Credentials, bundleID string, keep int, policy engine.KeepPolicy) (*action.LifecycleReport, error)
	UnretireAllVersions(ctx context.Context, creds *uem.Credentials, bundleID string) (*action.LifecycleReport, error)
}

type Assigner interface {
	AddOrUpdateAssignments(ctx context.Context, creds *uem.Credentials, bundleID string, names []string, params map[string]interface{}) (*action.AssignmentReport, error)
}

type Deployer interface {
	DeployBuild(ctx context.Context, creds *uem.Credentials, req *deploy.Request) (*action.DeployReport, error)
}

// StatusCode maps an action error to an HTTP status code.
// Zero is returned for errors without a specific status.
func StatusCode(err error) int {
	var pbf *uem.PartialBatchFailure
	var tErr *uem.TransportError
	switch {
	case errors.Is(err, uem.ErrConfiguration):
		return http.StatusBadRequest
	case errors.Is(err, uem.ErrNotFound):
		return http.StatusNotFound
	case errors.As(err, &pbf):
		return http.StatusMultiStatus
	case errors.As(err, &tErr):
		return http.StatusBadGateway
	}
	return 0
}

// writeReport writes report as JSON, or err if it is not a partial failure.
// Partial failures include the report with a 207 Multi-Status.
func writeReport(w http.ResponseWriter, logger log.Logger, report interface{}, err error) {
	status := StatusCode(err)
	if err != nil && status != http.StatusMultiStatus {
		api.JSONError(w, err, status)
		return
	}
	if err = api.JSON(w, report, status); err != nil {
		logger.Info(logkeys.Message, "encoding json", logkeys.Error, err)
	}
}

func bundleID(w http.ResponseWriter, r *http.Request, logger log.Logger) (string, log.Logger, bool) {
	id := flow.Param(r.Context(), "bundleid")
	if id == "" {
		logger.Info(logkeys.Message, "bundle id check", logkeys.Error, ErrEmptyBundleID)
		api.JSONError(w, ErrEmptyBundleID, http.StatusBadRequest)
		return "", logger, false
	}
	return id, logger.With(logkeys.BundleID, id), true
}

// VersionsHandler returns an HTTP handler that lists app versions.
// The "status" query parameter filters by any, active or retired.
func VersionsHandler(lister VersionLister, creds *uem.Credentials, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.Logger(r.Context(), logger)
		id, logger, ok := bundleID(w, r, logger)
		if !ok {
			return
		}
		filter, err := uem.ParseStatusFilter(r.URL.Query().Get("status"))
		if err != nil {
			logger.Info(logkeys.Message, "parse status", logkeys.Error, err)
			api.JSONError(w, err, http.StatusBadRequest)
			return
		}
		versions, err := lister.Versions(r.Context(), creds, id, filter)
		if err != nil {
			logger.Info(logkeys.Message, "retrieve versions", logkeys.Error, err)
			api.JSONError(w, err, StatusCode(err))
			return
		}
		logger.Debug(logkeys.Message, "retrieve versions", logkeys.GenericCount, len(versions))
		writeReport(w, logger, versions, nil)
	}
}

// LatestVersionHandler returns an HTTP handler that reports the latest app version.
func LatestVersionHandler(lister VersionLister, creds *uem.Credentials, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.Logger(r.Context(), logger)
		id, logger, ok := bundleID(w, r, logger)
		if !ok {
			return
		}
		report, err := lister.LatestVersion(r.Context(), creds, id)
		if err != nil {
			logger.Info(logkeys.Message, "latest version", logkeys.Error, err)
		}
		writeReport(w, logger, report, err)
	}
}

// parseKeep parses the "keep" and "policy" query parameters.
func parseKeep(r *http.Request, keep int, policy engine.KeepPolicy) (int, engine.KeepPolicy, error) {
	var err error
	if s := r.URL.Query().Get("keep"); s != "" {
		if keep, err = strconv.Atoi(s); err != nil {
			return keep, policy, fmt.Errorf("%w: invalid keep: %v", uem.ErrConfiguration, err)
		}
	}
	if s := r.URL.Query().Get("policy"); s != "" {
		if policy, err = engine.ParseKeepPolicy(s); err != nil {
			return keep, policy, err
		}
	}
	return keep, policy, nil
}

type keepFunc func(ctx context.Context, creds *uem.Credentials, bundleID string, keep int, policy engine.KeepPolicy) (*action.LifecycleReport, error)

func keepHandler(f keepFunc, keep int, policy engine.KeepPolicy, creds *uem.Credentials, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.Logger(r.Context(), logger)
		id, logger, ok := bundleID(w, r, logger)
		if !ok {
			return
		}
		keep, policy, err := parseKeep(r, keep, policy)
		if err != nil {
			logger.Info(logkeys.Message, "parse parameters", logkeys.Error, err)
			api.JSONError(w, err, http.StatusBadRequest)
			return
		}
		report, err := f(r.Context(), creds, id, keep, policy)
		if err != nil {
			logger.Info(logkeys.Message, "run action", logkeys.Error, err)
		}
		writeReport(w, logger, report, err)
	}
}

// DeleteHandler returns an HTTP handler that deletes previous app versions.
func DeleteHandler(runner LifecycleRunner, creds *uem.Credentials, logger log.Logger) http.HandlerFunc {
	return keepHandler(runner.DeletePreviousVersions, action.DefaultDeleteKeep, action.DefaultDeletePolicy, creds, logger)
}

// RetireHandler returns an HTTP handler that retires previous active app versions.
func RetireHandler(runner LifecycleRunner, creds *uem.Credentials, logger log.Logger) http.HandlerFunc {
	return keepHandler(runner.RetirePreviousVersions, action.DefaultRetireKeep, action.DefaultRetirePolicy, creds, logger)
}

// UnretireHandler returns an HTTP handler that unretires all retired app versions.
func UnretireHandler(runner LifecycleRunner, creds *uem.Credentials, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.Logger(r.Context(), logger)
		id, logger, ok := bundleID(w, r, logger)
		if !ok {
			return
		}
		report, err := runner.UnretireAllVersions(r.Context(), creds, id)
		if err != nil {
			logger.Info(logkeys.Message, "unretire versions", logkeys.Error, err)
		}
		writeReport(w, logger, report, err)
	}
}

// AssignmentsRequest is the body of an assignments request.
// It may be JSON or YAML.
type AssignmentsRequest struct {
	SmartGroups          []string               `json:"smart_groups" yaml:"smart_groups"`
	DeploymentParameters map[string]interface{} `json:"deployment_parameters" yaml:"deployment_parameters"`
}

// AssignmentsHandler returns an HTTP handler that adds or updates smart
// group assignments of the most recent app version.
func AssignmentsHandler(assigner Assigner, creds *uem.Credentials, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.Logger(r.Context(), logger)
		id, logger, ok := bundleID(w, r, logger)
		if !ok {
			return
		}
		body, err := io.ReadAll(r.Body)
		if err != nil {
			logger.Info(logkeys.Message, "reading body", logkeys.Error, err)
			api.JSONError(w, err, 0)
			return
		}
		if len(body) < 1 {
			logger.Info(logkeys.Message, "body check", logkeys.Error, ErrEmptyBody)
			api.JSONError(w, ErrEmptyBody, http.StatusBadRequest)
			return
		}
		req := new(AssignmentsRequest)
		// YAML is a superset of JSON
		if err = yaml.Unmarshal(body, req); err != nil {
			logger.Info(logkeys.Message, "decoding body", logkeys.Error, err)
			api.JSONError(w, err, http.StatusBadRequest)
			return
		}
		if len(req.SmartGroups) < 1 {
			logger.Info(logkeys.Message, "smart groups check", logkeys.Error, ErrNoSmartGroups)
			api.JSONError(w, ErrNoSmartGroups, http.StatusBadRequest)
			return
		}
		logger = logger.With(logkeys.GenericCount, len(req.SmartGroups))
		report, err := assigner.AddOrUpdateAssignments(r.Context(), creds, id, req.SmartGroups, req.DeploymentParameters)
		if err != nil {
			logger.Info(logkeys.Message, "assign smart groups", logkeys.Error, err)
		}
		writeReport(w, logger, report, err)
	}
}

// DeployHandler returns an HTTP handler that deploys the app package in
// the request body. The package is spooled to a temporary file in tmpDir
// (the default temporary directory if empty) for the duration of the request.
func DeployHandler(deployer Deployer, creds *uem.Credentials, tmpDir string, logger log.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		logger := ctxlog.Logger(r.Context(), logger)
		q := r.URL.Query()
		fileName := filepath.Base(q.Get("file_name"))
		if q.Get("file_name") == "" {
			logger.Info(logkeys.Message, "file name check", logkeys.Error, ErrNoFileName)
			api.JSONError(w, ErrNoFileName, http.StatusBadRequest)
			return
		}
		// reject unknown package types before reading the body
		if _, err := deploy.DetectDeviceType(fileName); err != nil {
			logger.Info(logkeys.Message, "device type", logkeys.Error, err)
			api.JSONError(w, err, http.StatusBadRequest)
			return
		}
		req := &deploy.Request{
			AppName:  q.Get("app_name"),
			FileName: fileName,
			Version:  q.Get("version"),
			PushMode: q.Get("push_mode"),
		}
		if req.PushMode == "" {
			req.PushMode = deploy.PushModeAuto
		}
		if s := q.Get("carry_over"); s != "" {
			var err error
			if req.CarryOverAssignments, err = strconv.ParseBool(s); err != nil {
				logger.Info(logkeys.Message, "parse carry_over", logkeys.Error, err)
				api.JSONError(w, ErrInvalidCarryOver, http.StatusBadRequest)
				return
			}
		}
		logger = logger.With("app_name", req.AppName, "file_name", fileName)

		path, n, err := httpuem.SpoolBody(r, tmpDir, "nanouem-*-"+fileName)
		if err != nil {
			logger.Info(logkeys.Message, "spool body", logkeys.Error, err)
			api.JSONError(w, err, 0)
			return
		}
		defer os.Remove(path)
		if n < 1 {
			logger.Info(logkeys.Message, "body check", logkeys.Error, ErrEmptyBody)
			api.JSONError(w, ErrEmptyBody, http.StatusBadRequest)
			return
		}
		req.FilePath = path

		report, err := deployer.DeployBuild(r.Context(), creds, req)
		if err != nil {
			logger.Info(logkeys.Message, "deploy build", logkeys.Error, err)
		}
		writeReport(w, logger, report, err)
	}
}
