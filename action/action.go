// Package action runs the NanoUEM app lifecycle actions.
//
// Each action composes the engine and the deployer for a single bundle
// identifier. Mutating actions are given a run ID and, if a history
// store is configured, are recorded there when they finish.
package action

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/micromdm/nanouem/deploy"
	"github.com/micromdm/nanouem/engine"
	"github.com/micromdm/nanouem/log/logkeys"
	"github.com/micromdm/nanouem/subsystem/history/storage"
	"github.com/micromdm/nanouem/uem"
	"github.com/micromdm/nanouem/uem/console"
	"github.com/micromdm/nanouem/utils/uuid"

	"github.com/micromdm/nanolib/log"
	"github.com/micromdm/nanolib/log/ctxlog"
)

// Action names.
const (
	LatestVersion          = "latest-version"
	DeletePreviousVersions = "delete-previous-versions"
	RetirePreviousVersions = "retire-previous-versions"
	UnretireAllVersions    = "unretire-all-versions"
	AddOrUpdateAssignments = "add-or-update-assignments"
	DeployBuild            = "deploy-build"
)

// Default keep counts and policies.
const (
	DefaultDeleteKeep   = 0
	DefaultDeletePolicy = engine.TreatAsAll

	// Retiring always keeps the most recent active version by default.
	DefaultRetireKeep   = 1
	DefaultRetirePolicy = engine.ClampToZero
)

// Runner runs actions against a console.
type Runner struct {
	engine   *engine.Engine
	deployer *deploy.Deployer

	store  storage.Storage
	ider   uuid.IDer
	logger log.Logger
	now    func() time.Time

	deployOpts []deploy.Option
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the runner logger.
// The logger is also used by the engine and deployer.
func WithLogger(logger log.Logger) Option {
	return func(r *Runner) {
		r.logger = logger
	}
}

// WithHistory records mutating action runs to store.
func WithHistory(store storage.Storage) Option {
	return func(r *Runner) {
		r.store = store
	}
}

// WithIDer sets the run ID generator.
func WithIDer(ider uuid.IDer) Option {
	return func(r *Runner) {
		r.ider = ider
	}
}

// WithDeployOptions passes opts to the deployer.
func WithDeployOptions(opts ...deploy.Option) Option {
	return func(r *Runner) {
		r.deployOpts = append(r.deployOpts, opts...)
	}
}

// New creates a new runner that talks to the console with gw.
func New(gw console.Gateway, opts ...Option) *Runner {
	r := &Runner{
		ider:   uuid.NewRandom(),
		logger: log.NopLogger,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.engine = engine.New(gw, engine.WithLogger(r.logger.With("service", "engine")))
	r.deployer = deploy.New(gw, append(
		[]deploy.Option{deploy.WithLogger(r.logger.With("service", "deploy"))},
		r.deployOpts...,
	)...)
	return r
}

// run tracks a single mutating action run.
type run struct {
	*storage.Run
	logger log.Logger
}

func (r *Runner) start(ctx context.Context, action, bundleID string) *run {
	sr := &storage.Run{
		ID:       r.ider.ID(),
		Action:   action,
		BundleID: bundleID,
		Started:  r.now(),
	}
	logger := ctxlog.Logger(ctx, r.logger).With(
		logkeys.RunID, sr.ID,
		logkeys.Action, action,
	)
	if bundleID != "" {
		logger = logger.With(logkeys.BundleID, bundleID)
	}
	logger.Debug(logkeys.Message, "starting action")
	return &run{Run: sr, logger: logger}
}

// finish records the run result and error in the history store.
// History failures are logged and do not fail the action.
func (r *Runner) finish(ctx context.Context, rn *run, result interface{}, err error) {
	rn.Finished = r.now()
	if err != nil {
		rn.Error = err.Error()
		rn.logger.Info(logkeys.Message, "action finished", logkeys.Error, err)
	} else {
		rn.logger.Info(logkeys.Message, "action finished")
	}
	if r.store == nil {
		return
	}
	if result != nil {
		b, mErr := json.Marshal(result)
		if mErr != nil {
			rn.logger.Info(logkeys.Message, "marshal run result", logkeys.Error, mErr)
		} else {
			rn.Result = b
		}
	}
	if sErr := r.store.StoreRun(ctx, rn.Run); sErr != nil {
		rn.logger.Info(logkeys.Message, "storing run", logkeys.Error, sErr)
	}
}

// VersionsReport lists the versions of an app by status.
type VersionsReport struct {
	BundleID string   `json:"bundle_id"`
	Versions []string `json:"versions"`
	Active   []string `json:"active"`
	Retired  []string `json:"retired"`

	// Latest is the version label of the most recent version.
	Latest string `json:"latest"`
}

// Versions returns the versions of bundleID matching filter, ascending by ID.
func (r *Runner) Versions(ctx context.Context, creds *uem.Credentials, bundleID string, filter uem.StatusFilter) ([]uem.VersionRecord, error) {
	return r.engine.FetchFiltered(ctx, creds, bundleID, engine.Scope{}, filter)
}

// LatestVersion reports the version labels of the internal app bundleID
// in the credentials' organization group.
func (r *Runner) LatestVersion(ctx context.Context, creds *uem.Credentials, bundleID string) (*VersionsReport, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	catalog, err := r.engine.Fetch(ctx, creds, bundleID, engine.Scope{
		OrgGroupID:   creds.OrgGroupID,
		InternalOnly: true,
	})
	if err != nil {
		return nil, err
	}
	report := &VersionsReport{
		BundleID: bundleID,
		Versions: engine.Labels(engine.Filter(catalog, uem.FilterAny)),
		Active:   engine.Labels(engine.Filter(catalog, uem.FilterActive)),
		Retired:  engine.Labels(engine.Filter(catalog, uem.FilterRetired)),
	}
	if latest, ok := engine.Latest(catalog); ok {
		report.Latest = latest.Version
	}
	ctxlog.Logger(ctx, r.logger).Info(
		logkeys.Message, "found app versions",
		logkeys.BundleID, bundleID,
		logkeys.GenericCount, len(report.Versions),
		logkeys.Version, report.Latest,
	)
	return report, nil
}

// Selection is how lifecycle versions were selected.
type Selection struct {
	Keep   int               `json:"keep"`
	Policy engine.KeepPolicy `json:"policy"`
}

// LifecycleReport is the outcome of a delete, retire or unretire run.
type LifecycleReport struct {
	RunID     string              `json:"run_id"`
	BundleID  string              `json:"bundle_id"`
	Selection *Selection          `json:"selection,omitempty"`
	Batch     *engine.BatchResult `json:"batch"`
	Warning   string              `json:"warning,omitempty"`
}

// Err returns a *uem.PartialBatchFailure if any item failed.
func (r *LifecycleReport) Err() error {
	if r == nil || r.Batch == nil {
		return nil
	}
	return r.Batch.Err()
}

// lifecycle fetches the versions of bundleID matching filter, selects all
// but the keep most recent and applies action to them.
func (r *Runner) lifecycle(ctx context.Context, creds *uem.Credentials, name string, bundleID string, filter uem.StatusFilter, sel *Selection, action engine.Action) (report *LifecycleReport, err error) {
	rn := r.start(ctx, name, bundleID)
	report = &LifecycleReport{RunID: rn.ID, BundleID: bundleID, Selection: sel}
	defer func() { r.finish(ctx, rn, report, err) }()

	if sel != nil && sel.Keep < 0 {
		return report, fmt.Errorf("%w: number of versions to keep can not be negative", uem.ErrConfiguration)
	}
	versions, err := r.engine.FetchFiltered(ctx, creds, bundleID, engine.Scope{}, filter)
	if err != nil {
		return report, err
	}
	rn.logger.Info(
		logkeys.Message, "found app versions",
		"filter", filter.String(),
		logkeys.GenericCount, len(versions),
	)

	selected := versions
	if sel != nil {
		if sel.Keep > 0 && sel.Keep >= len(versions) {
			report.Warning = keepWarning(sel, len(versions))
			rn.logger.Info(logkeys.Message, report.Warning, "policy", sel.Policy.String())
		}
		if selected, err = engine.AllButMostRecent(versions, sel.Keep, sel.Policy); err != nil {
			return report, err
		}
	} else if len(versions) < 1 {
		report.Warning = fmt.Sprintf("no %s app versions found for bundle identifier %s", filter, bundleID)
		rn.logger.Info(logkeys.Message, report.Warning)
	}

	report.Batch, err = r.engine.ApplyAll(ctx, creds, action, selected)
	if err != nil {
		return report, err
	}
	return report, report.Err()
}

// keepWarning describes what policy did when keep covers every version found.
func keepWarning(sel *Selection, found int) string {
	outcome := "none of them"
	if sel.Policy == engine.TreatAsAll {
		outcome = "all of them"
	}
	return fmt.Sprintf(
		"number of versions to keep (%d) is not less than the number of versions found (%d): keep policy %q acts on %s",
		sel.Keep, found, sel.Policy.String(), outcome,
	)
}

// DeletePreviousVersions deletes all but the keep most recent versions of bundleID.
func (r *Runner) DeletePreviousVersions(ctx context.Context, creds *uem.Credentials, bundleID string, keep int, policy engine.KeepPolicy) (*LifecycleReport, error) {
	return r.lifecycle(ctx, creds, DeletePreviousVersions, bundleID, uem.FilterAny, &Selection{Keep: keep, Policy: policy}, engine.ActionDelete)
}

// RetirePreviousVersions retires all but the keep most recent active versions of bundleID.
func (r *Runner) RetirePreviousVersions(ctx context.Context, creds *uem.Credentials, bundleID string, keep int, policy engine.KeepPolicy) (*LifecycleReport, error) {
	return r.lifecycle(ctx, creds, RetirePreviousVersions, bundleID, uem.FilterActive, &Selection{Keep: keep, Policy: policy}, engine.ActionRetire)
}

// UnretireAllVersions unretires every retired version of bundleID.
// Finding no retired versions is not an error: the report carries a warning.
func (r *Runner) UnretireAllVersions(ctx context.Context, creds *uem.Credentials, bundleID string) (*LifecycleReport, error) {
	return r.lifecycle(ctx, creds, UnretireAllVersions, bundleID, uem.FilterRetired, nil, engine.ActionUnretire)
}

// AssignmentReport is the outcome of a smart group assignment run.
type AssignmentReport struct {
	RunID    string                   `json:"run_id"`
	BundleID string                   `json:"bundle_id"`
	Result   *engine.AssignmentResult `json:"result,omitempty"`
}

// AddOrUpdateAssignments assigns the most recent version of bundleID to
// the named smart groups with params as the deployment parameters.
func (r *Runner) AddOrUpdateAssignments(ctx context.Context, creds *uem.Credentials, bundleID string, names []string, params map[string]interface{}) (report *AssignmentReport, err error) {
	rn := r.start(ctx, AddOrUpdateAssignments, bundleID)
	report = &AssignmentReport{RunID: rn.ID, BundleID: bundleID}
	defer func() { r.finish(ctx, rn, report, err) }()

	report.Result, err = r.engine.AssignSmartGroups(ctx, creds, bundleID, names, params)
	if err != nil {
		return report, err
	}
	return report, report.Result.Err()
}

// DeployReport is the outcome of a deploy run.
type DeployReport struct {
	RunID   string         `json:"run_id"`
	AppName string         `json:"app_name"`
	Result  *deploy.Result `json:"result,omitempty"`
}

// DeployBuild uploads and registers a new app version.
func (r *Runner) DeployBuild(ctx context.Context, creds *uem.Credentials, req *deploy.Request) (report *DeployReport, err error) {
	rn := r.start(ctx, DeployBuild, "")
	report = &DeployReport{RunID: rn.ID}
	if req != nil {
		report.AppName = req.AppName
	}
	defer func() { r.finish(ctx, rn, report, err) }()

	report.Result, err = r.deployer.Deploy(ctx, creds, req)
	return report, err
}
