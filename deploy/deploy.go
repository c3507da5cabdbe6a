// Package deploy uploads and registers new internal app versions.
//
// A deployment uploads the app package as a blob and then registers the
// blob as a new internal app version. If registration fails the uploaded
// blob is deleted.
package deploy

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/micromdm/nanouem/log/logkeys"
	"github.com/micromdm/nanouem/uem"
	"github.com/micromdm/nanouem/uem/console"
	"github.com/micromdm/nanouem/utils/appinfo"
	"github.com/micromdm/nanouem/utils/uuid"

	"github.com/micromdm/nanolib/log"
	"github.com/micromdm/nanolib/log/ctxlog"
)

var ErrMalformedResponse = errors.New("malformed console response")

// DefaultCompensateTimeout bounds the compensating blob delete.
const DefaultCompensateTimeout = 30 * time.Second

// PushMode is the console app delivery mode.
const (
	PushModeAuto     = "Auto"
	PushModeOnDemand = "On Demand"
)

// DetectDeviceType determines the device type from the package file extension.
func DetectDeviceType(fileName string) (uem.DeviceType, error) {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".ipa":
		return uem.DeviceTypeApple, nil
	case ".apk":
		return uem.DeviceTypeAndroid, nil
	}
	return "", fmt.Errorf("%w: unable to determine device type for file %q: expected .ipa or .apk", uem.ErrConfiguration, fileName)
}

// ModelsForFamily returns the console device models for an iOS app family.
func ModelsForFamily(f appinfo.Family) []uem.DeviceModel {
	switch f {
	case appinfo.FamilyUniversal:
		return []uem.DeviceModel{uem.ModeliPhone, uem.ModeliPad, uem.ModeliPodTouch}
	case appinfo.FamilyIPad:
		return []uem.DeviceModel{uem.ModeliPad}
	default:
		return []uem.DeviceModel{uem.ModeliPhone, uem.ModeliPodTouch}
	}
}

// Request describes a build to deploy.
type Request struct {
	// AppName is the console application name.
	AppName string `json:"app_name"`

	// FilePath is the local path of the app package.
	FilePath string `json:"file_path"`

	// FileName is the uploaded file name. Defaults to the base name of FilePath.
	FileName string `json:"file_name,omitempty"`

	// Version is the app version label. Omitted from registration when empty.
	Version string `json:"version,omitempty"`

	PushMode             string `json:"push_mode"`
	CarryOverAssignments bool   `json:"carry_over_assignments"`
}

func (r *Request) fileName() string {
	if r.FileName != "" {
		return r.FileName
	}
	return filepath.Base(r.FilePath)
}

// Validate checks for required fields.
func (r *Request) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: empty deploy request", uem.ErrConfiguration)
	}
	var missing []string
	if r.AppName == "" {
		missing = append(missing, "app name")
	}
	if r.FilePath == "" {
		missing = append(missing, "file path")
	}
	if r.PushMode == "" {
		missing = append(missing, "push mode")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", uem.ErrConfiguration, strings.Join(missing, ", "))
	}
	return nil
}

// Result is a completed deployment.
type Result struct {
	BlobID     int               `json:"blob_id"`
	AppID      int               `json:"app_id"`
	UUID       string            `json:"uuid"`
	DeviceType uem.DeviceType    `json:"device_type"`
	Models     []uem.DeviceModel `json:"models"`
}

// InspectFunc inspects an iOS app package.
type InspectFunc func(path string) (*appinfo.IPA, error)

// Deployer deploys builds to a console.
type Deployer struct {
	gw      console.Gateway
	inspect InspectFunc
	logger  log.Logger

	compensateTimeout time.Duration
}

// Option configures a Deployer.
type Option func(*Deployer)

// WithLogger sets the deployer logger.
func WithLogger(logger log.Logger) Option {
	return func(d *Deployer) {
		d.logger = logger
	}
}

// WithInspector sets the iOS app package inspector.
func WithInspector(inspect InspectFunc) Option {
	return func(d *Deployer) {
		d.inspect = inspect
	}
}

// WithCompensateTimeout sets the timeout of the compensating blob delete.
func WithCompensateTimeout(timeout time.Duration) Option {
	return func(d *Deployer) {
		d.compensateTimeout = timeout
	}
}

// New creates a new deployer that talks to the console with gw.
func New(gw console.Gateway, opts ...Option) *Deployer {
	d := &Deployer{
		gw:      gw,
		inspect: appinfo.InspectIPA,
		logger:  log.NopLogger,

		compensateTimeout: DefaultCompensateTimeout,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// resolveModels determines the device models the package supports.
func (d *Deployer) resolveModels(ctx context.Context, deviceType uem.DeviceType, path string) ([]uem.DeviceModel, error) {
	if deviceType == uem.DeviceTypeAndroid {
		return []uem.DeviceModel{uem.ModelAndroid}, nil
	}
	ipa, err := d.inspect(path)
	if err != nil {
		return nil, fmt.Errorf("%w: inspecting ipa: %v", uem.ErrConfiguration, err)
	}
	logger := ctxlog.Logger(ctx, d.logger)
	family := ipa.Info.Family()
	logger.Debug(
		logkeys.Message, "inspected ipa",
		logkeys.BundleID, ipa.Info.CFBundleIdentifier,
		logkeys.Version, ipa.Info.CFBundleShortVersionString,
		"family", family,
	)
	if p := ipa.Provision; p != nil {
		logger.Info(
			logkeys.Message, "provisioning profile",
			"name", p.Name,
			"team", p.TeamName,
			"expiration", p.ExpirationDate.Format(time.RFC3339),
			"all_devices", p.ProvisionsAllDevices,
		)
		if p.Expired(time.Now()) {
			logger.Info(logkeys.Message, "provisioning profile has expired", "name", p.Name)
		}
	}
	return ModelsForFamily(family), nil
}

type blobUploadResponse struct {
	Value *int `json:"Value"`
}

func (d *Deployer) uploadBlob(ctx context.Context, creds *uem.Credentials, path, fileName string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return 0, err
	}

	req := &console.Request{
		Method:         http.MethodPost,
		Path:           console.PathUploadBlob,
		Query:          console.UploadBlobQuery(fileName, creds.OrgGroupID),
		Body:           f,
		ContentType:    console.ContentTypeOctet,
		ContentLength:  fi.Size(),
		ExpectContinue: true,
	}
	resp, err := d.gw.Do(ctx, creds, req)
	if err != nil {
		return 0, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, uem.NewHTTPError("upload blob", resp.StatusCode, resp.Body)
	}
	blob := new(blobUploadResponse)
	if err = json.Unmarshal(resp.Body, blob); err != nil {
		return 0, fmt.Errorf("%w: upload blob: %v", ErrMalformedResponse, err)
	}
	if blob.Value == nil {
		return 0, fmt.Errorf("%w: upload blob: missing blob id", ErrMalformedResponse)
	}
	return *blob.Value, nil
}

type supportedModels struct {
	Model []uem.DeviceModel `json:"Model"`
}

type beginInstall struct {
	BlobID               string          `json:"BlobId"`
	DeviceType           uem.DeviceType  `json:"DeviceType"`
	ApplicationName      string          `json:"ApplicationName"`
	AppVersion           string          `json:"AppVersion,omitempty"`
	SupportedModels      supportedModels `json:"SupportedModels"`
	PushMode             string          `json:"PushMode"`
	LocationGroupID      string          `json:"LocationGroupId"`
	CarryOverAssignments bool            `json:"CarryOverAssignments"`
}

type beginInstallResponse struct {
	ID *struct {
		Value int `json:"Value"`
	} `json:"Id"`
	UUID string `json:"Uuid"`
}

// errRegistration marks a registration failure that leaves an orphaned blob.
type errRegistration struct {
	err error
}

func (e *errRegistration) Error() string { return e.err.Error() }
func (e *errRegistration) Unwrap() error { return e.err }

func (d *Deployer) register(ctx context.Context, creds *uem.Credentials, body *beginInstall) (*beginInstallResponse, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	resp, err := d.gw.Do(ctx, creds, &console.Request{
		Method:      http.MethodPost,
		Path:        console.PathBeginInstall,
		Body:        bytes.NewReader(b),
		ContentType: console.ContentTypeJSON,
	})
	if err != nil {
		return nil, &errRegistration{err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &errRegistration{err: uem.NewHTTPError("register app", resp.StatusCode, resp.Body)}
	}
	r := new(beginInstallResponse)
	if err = json.Unmarshal(resp.Body, r); err != nil {
		return nil, fmt.Errorf("%w: register app: %v", ErrMalformedResponse, err)
	}
	if r.ID == nil {
		return nil, fmt.Errorf("%w: register app: missing app id", ErrMalformedResponse)
	}
	if r.UUID, err = uuid.Canonical(r.UUID); err != nil {
		return nil, fmt.Errorf("%w: register app: %v", ErrMalformedResponse, err)
	}
	return r, nil
}

// deleteBlob removes an uploaded blob. Failures are only logged.
// The delete is sent even if ctx is already cancelled.
func (d *Deployer) deleteBlob(ctx context.Context, creds *uem.Credentials, blobID int) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.compensateTimeout)
	defer cancel()
	logger := ctxlog.Logger(ctx, d.logger).With(logkeys.BlobID, blobID)
	resp, err := d.gw.Do(ctx, creds, &console.Request{
		Method: http.MethodDelete,
		Path:   console.BlobPath(blobID),
	})
	if err == nil && resp.StatusCode != http.StatusOK {
		err = uem.NewHTTPError("delete blob", resp.StatusCode, resp.Body)
	}
	if err != nil {
		logger.Info(logkeys.Message, "deleting uploaded blob", logkeys.Error, err)
		return
	}
	logger.Debug(logkeys.Message, "deleted uploaded blob")
}

// Deploy uploads and registers the build described by req.
// All input is validated before any request is sent to the console.
// If registration fails the uploaded blob is deleted and the
// registration error is returned.
func (d *Deployer) Deploy(ctx context.Context, creds *uem.Credentials, req *Request) (*Result, error) {
	if err := creds.RequireOrgGroup(); err != nil {
		return nil, err
	}
	if err := req.Validate(); err != nil {
		return nil, err
	}
	fileName := req.fileName()
	deviceType, err := DetectDeviceType(fileName)
	if err != nil {
		return nil, err
	}
	if _, err = os.Stat(req.FilePath); err != nil {
		return nil, fmt.Errorf("%w: %v", uem.ErrConfiguration, err)
	}
	logger := ctxlog.Logger(ctx, d.logger).With(
		"app_name", req.AppName,
		logkeys.DeviceType, deviceType,
	)

	models, err := d.resolveModels(ctx, deviceType, req.FilePath)
	if err != nil {
		return nil, err
	}

	logger.Info(logkeys.Message, "uploading blob", "file_name", fileName)
	blobID, err := d.uploadBlob(ctx, creds, req.FilePath, fileName)
	if err != nil {
		return nil, fmt.Errorf("uploading blob: %w", err)
	}
	logger = logger.With(logkeys.BlobID, blobID)
	logger.Debug(logkeys.Message, "uploaded blob")

	body := &beginInstall{
		BlobID:               strconv.Itoa(blobID),
		DeviceType:           deviceType,
		ApplicationName:      req.AppName,
		AppVersion:           req.Version,
		SupportedModels:      supportedModels{Model: models},
		PushMode:             req.PushMode,
		LocationGroupID:      creds.OrgGroupID,
		CarryOverAssignments: req.CarryOverAssignments,
	}
	r, err := d.register(ctx, creds, body)
	if err != nil {
		var regErr *errRegistration
		if errors.As(err, &regErr) {
			logger.Info(logkeys.Message, "registering app", logkeys.Error, err)
			d.deleteBlob(ctx, creds, blobID)
			err = regErr.err
		}
		return nil, fmt.Errorf("registering app: %w", err)
	}
	logger.Info(
		logkeys.Message, "registered app",
		logkeys.VersionID, r.ID.Value,
		"uuid", r.UUID,
	)
	return &Result{
		BlobID:     blobID,
		AppID:      r.ID.Value,
		UUID:       r.UUID,
		DeviceType: deviceType,
		Models:     models,
	}, nil
}
