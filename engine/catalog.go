package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/micromdm/nanouem/log/logkeys"
	"github.com/micromdm/nanouem/uem"
	"github.com/micromdm/nanouem/uem/console"

	"github.com/micromdm/nanolib/log/ctxlog"
)

// ErrMalformedResponse is returned when a console response cannot be parsed.
var ErrMalformedResponse = errors.New("malformed console response")

// Scope narrows a catalog fetch.
// The zero value searches by bundle identifier only.
type Scope struct {
	// OrgGroupID restricts the search to a single organization group.
	OrgGroupID string

	// InternalOnly restricts the search to internal apps.
	InternalOnly bool
}

type appID struct {
	Value *int `json:"Value"`
}

type appSmartGroup struct {
	ID   int    `json:"Id"`
	Name string `json:"Name"`
}

type application struct {
	ID              *appID          `json:"Id"`
	AppVersion      string          `json:"AppVersion"`
	Status          string          `json:"Status"`
	BundleID        string          `json:"BundleId"`
	ApplicationName string          `json:"ApplicationName"`
	SmartGroups     []appSmartGroup `json:"SmartGroups"`
}

type appSearchResponse struct {
	Application []application `json:"Application"`
}

// ParseCatalog parses an app search response body into version records.
// Unrecognized statuses become uem.StatusUnknown. Records are returned
// in response order.
func ParseCatalog(body []byte) ([]uem.VersionRecord, error) {
	resp := new(appSearchResponse)
	if err := json.Unmarshal(body, resp); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	versions := make([]uem.VersionRecord, 0, len(resp.Application))
	for i, app := range resp.Application {
		if app.ID == nil || app.ID.Value == nil {
			return nil, fmt.Errorf("%w: application %d: missing Id", ErrMalformedResponse, i)
		}
		v := uem.VersionRecord{
			ID:              *app.ID.Value,
			Version:         app.AppVersion,
			Status:          uem.ParseStatus(app.Status),
			BundleID:        app.BundleID,
			ApplicationName: app.ApplicationName,
		}
		for _, sg := range app.SmartGroups {
			v.SmartGroups = append(v.SmartGroups, uem.SmartGroupRef{ID: sg.ID, Name: sg.Name})
		}
		versions = append(versions, v)
	}
	return versions, nil
}

// Fetch retrieves every version of the app identified by bundleID.
// uem.ErrNotFound is returned if the console has no versions for bundleID.
func (e *Engine) Fetch(ctx context.Context, creds *uem.Credentials, bundleID string, scope Scope) ([]uem.VersionRecord, error) {
	if bundleID == "" {
		return nil, fmt.Errorf("%w: no app identifier given", uem.ErrConfiguration)
	}
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	logger := ctxlog.Logger(ctx, e.logger).With(logkeys.BundleID, bundleID)

	resp, err := e.gw.Do(ctx, creds, &console.Request{
		Method: http.MethodGet,
		Path:   console.PathAppSearch,
		Query:  console.AppSearchQuery(bundleID, scope.OrgGroupID, scope.InternalOnly),
	})
	if err != nil {
		return nil, fmt.Errorf("finding app versions: %w", err)
	}
	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNoContent:
		return nil, fmt.Errorf("%w: no app found on the console having bundle identifier: %s", uem.ErrNotFound, bundleID)
	default:
		return nil, fmt.Errorf(
			"finding app versions (an app with bundle identifier %s may not exist on the console): %w",
			bundleID,
			uem.NewHTTPError("search apps", resp.StatusCode, resp.Body),
		)
	}

	versions, err := ParseCatalog(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("finding app versions: %w", err)
	}
	if len(versions) < 1 {
		return nil, fmt.Errorf("%w: no app found on the console having bundle identifier: %s", uem.ErrNotFound, bundleID)
	}
	logger.Debug(logkeys.Message, "found app versions", logkeys.GenericCount, len(versions))
	return versions, nil
}

// FetchFiltered retrieves the versions of an app that match filter,
// ordered ascending by ID.
func (e *Engine) FetchFiltered(ctx context.Context, creds *uem.Credentials, bundleID string, scope Scope, filter uem.StatusFilter) ([]uem.VersionRecord, error) {
	versions, err := e.Fetch(ctx, creds, bundleID, scope)
	if err != nil {
		return nil, err
	}
	return Filter(versions, filter), nil
}
