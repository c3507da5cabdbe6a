package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/micromdm/nanouem/log/logkeys"
	"github.com/micromdm/nanouem/uem"
	"github.com/micromdm/nanouem/uem/console"

	"github.com/micromdm/nanolib/log/ctxlog"
)

type smartGroupSearchResult struct {
	SmartGroupID int    `json:"SmartGroupID"`
	Name         string `json:"Name"`
}

type smartGroupSearchResponse struct {
	SmartGroups []smartGroupSearchResult `json:"SmartGroups"`
}

// AssignmentResult is the outcome of a smart group assignment.
type AssignmentResult struct {
	// AppVersionID is the most recent app version the assignments were made to.
	AppVersionID int `json:"app_version_id"`

	// Updated are the smart groups already assigned to the app.
	Updated []uem.SmartGroupAssignment `json:"updated,omitempty"`

	// Added are the smart groups newly assigned to the app.
	Added []uem.SmartGroupAssignment `json:"added,omitempty"`

	// Unresolved are the requested names not found on the console.
	Unresolved []string `json:"unresolved,omitempty"`

	UpdateErr error `json:"-"`
	AddErr    error `json:"-"`
}

// MarshalJSON includes the update and add error messages, if any.
func (r AssignmentResult) MarshalJSON() ([]byte, error) {
	type assignmentResult AssignmentResult
	out := &struct {
		assignmentResult
		UpdateError string `json:"update_error,omitempty"`
		AddError    string `json:"add_error,omitempty"`
	}{assignmentResult: assignmentResult(r)}
	if r.UpdateErr != nil {
		out.UpdateError = r.UpdateErr.Error()
	}
	if r.AddErr != nil {
		out.AddError = r.AddErr.Error()
	}
	return json.Marshal(out)
}

// Err returns a *uem.PartialBatchFailure if the update or add request failed.
func (r *AssignmentResult) Err() error {
	if r == nil {
		return nil
	}
	var failed, total int
	if len(r.Updated) > 0 {
		total++
		if r.UpdateErr != nil {
			failed++
		}
	}
	if len(r.Added) > 0 {
		total++
		if r.AddErr != nil {
			failed++
		}
	}
	if failed > 0 {
		return &uem.PartialBatchFailure{Failed: failed, Total: total}
	}
	return nil
}

// ResolveSmartGroup looks up the ID of the smart group called name in
// the credentials' organization group. ok is false if it is not found.
// An exact (case-insensitive) name match is preferred over other results.
func (e *Engine) ResolveSmartGroup(ctx context.Context, creds *uem.Credentials, name string) (id int, ok bool, err error) {
	resp, err := e.gw.Do(ctx, creds, &console.Request{
		Method: http.MethodGet,
		Path:   console.PathSmartGroupSearch,
		Query:  console.SmartGroupSearchQuery(name, creds.OrgGroupID),
	})
	if err != nil {
		return 0, false, err
	}
	if resp.StatusCode != http.StatusOK {
		if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusNotFound {
			return 0, false, nil
		}
		return 0, false, uem.NewHTTPError("search smart groups", resp.StatusCode, resp.Body)
	}
	sgs := new(smartGroupSearchResponse)
	if err = json.Unmarshal(resp.Body, sgs); err != nil {
		return 0, false, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(sgs.SmartGroups) < 1 {
		return 0, false, nil
	}
	for _, sg := range sgs.SmartGroups {
		if strings.EqualFold(sg.Name, name) {
			return sg.SmartGroupID, true, nil
		}
	}
	return sgs.SmartGroups[len(sgs.SmartGroups)-1].SmartGroupID, true, nil
}

func (e *Engine) submitAssignments(ctx context.Context, creds *uem.Credentials, method string, appID int, groups []uem.SmartGroupAssignment, params map[string]interface{}) error {
	ids := make([]int, 0, len(groups))
	for _, g := range groups {
		ids = append(ids, g.SmartGroupID)
	}
	if params == nil {
		params = map[string]interface{}{}
	}
	body, err := json.Marshal(&struct {
		SmartGroupIDs        []int                  `json:"SmartGroupIds"`
		DeploymentParameters map[string]interface{} `json:"DeploymentParameters"`
	}{
		SmartGroupIDs:        ids,
		DeploymentParameters: params,
	})
	if err != nil {
		return err
	}
	resp, err := e.gw.Do(ctx, creds, &console.Request{
		Method:      method,
		Path:        console.AssignmentsPath(appID),
		Body:        bytes.NewReader(body),
		ContentType: console.ContentTypeJSON,
	})
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return uem.NewHTTPError(strings.ToLower(method)+" assignments", resp.StatusCode, resp.Body)
	}
	return nil
}

// AssignSmartGroups assigns the smart groups named in names to the most
// recent version of the app identified by bundleID. Groups already
// assigned to that version are updated, others are added, each in a
// single request carrying params. Names that do not resolve are skipped.
func (e *Engine) AssignSmartGroups(ctx context.Context, creds *uem.Credentials, bundleID string, names []string, params map[string]interface{}) (*AssignmentResult, error) {
	if err := creds.RequireOrgGroup(); err != nil {
		return nil, err
	}
	if len(names) < 1 {
		return nil, fmt.Errorf("%w: no smart groups to assign", uem.ErrConfiguration)
	}
	logger := ctxlog.Logger(ctx, e.logger).With(logkeys.BundleID, bundleID)

	versions, err := e.Fetch(ctx, creds, bundleID, Scope{})
	if err != nil {
		return nil, err
	}
	latest, _ := Latest(versions)
	result := &AssignmentResult{AppVersionID: latest.ID}
	logger.Debug(
		logkeys.Message, "found app smart groups",
		logkeys.VersionID, latest.ID,
		logkeys.GenericCount, len(latest.SmartGroups),
	)

	assigned := make(map[int]bool)
	for _, id := range latest.SmartGroupIDs() {
		assigned[id] = true
	}

	seen := make(map[int]bool)
	for _, name := range names {
		id, ok, err := e.ResolveSmartGroup(ctx, creds, name)
		if err != nil {
			logger.Info(logkeys.Message, "fetching smart group details", logkeys.SmartGroup, name, logkeys.Error, err)
		}
		if !ok {
			logger.Info(logkeys.Message, "could not find smart group in the organization group: skipping assignment", logkeys.SmartGroup, name)
			result.Unresolved = append(result.Unresolved, name)
			continue
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		sga := uem.SmartGroupAssignment{SmartGroupID: id, SmartGroupName: name, DeploymentParameters: params}
		if assigned[id] {
			logger.Debug(logkeys.Message, "assignment needs to be updated", logkeys.SmartGroup, name)
			result.Updated = append(result.Updated, sga)
		} else {
			logger.Debug(logkeys.Message, "assignment needs to be added", logkeys.SmartGroup, name)
			result.Added = append(result.Added, sga)
		}
	}

	if len(result.Updated) > 0 {
		result.UpdateErr = e.submitAssignments(ctx, creds, http.MethodPut, latest.ID, result.Updated, params)
		if result.UpdateErr != nil {
			logger.Info(logkeys.Message, "updating assignments", logkeys.Error, result.UpdateErr)
		} else {
			logger.Info(logkeys.Message, "updated assignments", logkeys.GenericCount, len(result.Updated))
		}
	}
	if len(result.Added) > 0 {
		result.AddErr = e.submitAssignments(ctx, creds, http.MethodPost, latest.ID, result.Added, params)
		if result.AddErr != nil {
			logger.Info(logkeys.Message, "adding assignments", logkeys.Error, result.AddErr)
		} else {
			logger.Info(logkeys.Message, "added assignments", logkeys.GenericCount, len(result.Added))
		}
	}
	return result, nil
}
