package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/micromdm/nanouem/log/logkeys"
	"github.com/micromdm/nanouem/uem"
	"github.com/micromdm/nanouem/uem/console"

	"github.com/micromdm/nanolib/log/ctxlog"
)

// Action is a lifecycle state transition for a single app version.
type Action int

const (
	ActionDelete Action = iota
	ActionRetire
	ActionUnretire
)

func (a Action) String() string {
	switch a {
	case ActionDelete:
		return "delete"
	case ActionRetire:
		return "retire"
	case ActionUnretire:
		return "unretire"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// MarshalText encodes the action name.
func (a Action) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// successCode is the only HTTP status the console returns when the action succeeds.
func (a Action) successCode() int {
	if a == ActionDelete {
		return http.StatusNoContent
	}
	return http.StatusAccepted
}

func (a Action) request(id int) (*console.Request, error) {
	switch a {
	case ActionDelete:
		return &console.Request{Method: http.MethodDelete, Path: console.InternalAppPath(id)}, nil
	case ActionRetire, ActionUnretire:
		body, err := json.Marshal(&struct {
			ApplicationID int `json:"applicationid"`
		}{ApplicationID: id})
		if err != nil {
			return nil, err
		}
		path := console.RetirePath(id)
		if a == ActionUnretire {
			path = console.UnretirePath(id)
		}
		return &console.Request{
			Method:      http.MethodPost,
			Path:        path,
			Body:        bytes.NewReader(body),
			ContentType: console.ContentTypeJSON,
		}, nil
	}
	return nil, fmt.Errorf("%w: unknown action: %s", uem.ErrConfiguration, a)
}

// ItemResult is the outcome of an action on a single app version.
type ItemResult struct {
	VersionID  int    `json:"version_id"`
	Version    string `json:"version"`
	Action     Action `json:"action"`
	StatusCode int    `json:"status_code,omitempty"`
	Body       []byte `json:"-"`
	Err        error  `json:"-"`
}

// Success reports whether the action was applied.
func (r *ItemResult) Success() bool {
	return r.Err == nil
}

// MarshalJSON includes the error message, if any.
func (r ItemResult) MarshalJSON() ([]byte, error) {
	type itemResult ItemResult
	out := &struct {
		itemResult
		Success bool   `json:"success"`
		Error   string `json:"error,omitempty"`
	}{itemResult: itemResult(r), Success: r.Err == nil}
	if r.Err != nil {
		out.Error = r.Err.Error()
	}
	return json.Marshal(out)
}

// BatchResult is the outcome of an action applied to several app versions.
type BatchResult struct {
	Action Action       `json:"action"`
	Items  []ItemResult `json:"items"`
}

// Failed returns the items that failed.
func (b *BatchResult) Failed() (failed []ItemResult) {
	for _, item := range b.Items {
		if !item.Success() {
			failed = append(failed, item)
		}
	}
	return
}

// Err returns a *uem.PartialBatchFailure if any item failed.
func (b *BatchResult) Err() error {
	if b == nil {
		return nil
	}
	if n := len(b.Failed()); n > 0 {
		return &uem.PartialBatchFailure{Failed: n, Total: len(b.Items)}
	}
	return nil
}

// Apply performs action on a single app version, addressed by its ID.
// Failures are reported in the result, never returned.
func (e *Engine) Apply(ctx context.Context, creds *uem.Credentials, action Action, version uem.VersionRecord) ItemResult {
	result := ItemResult{VersionID: version.ID, Version: version.Version, Action: action}
	logger := ctxlog.Logger(ctx, e.logger).With(
		logkeys.Action, action.String(),
		logkeys.VersionID, version.ID,
		logkeys.Version, version.Version,
	)

	req, err := action.request(version.ID)
	if err != nil {
		result.Err = err
		return result
	}
	logger.Debug(logkeys.Message, "applying action")
	resp, err := e.gw.Do(ctx, creds, req)
	if err != nil {
		result.Err = err
		logger.Info(logkeys.Message, "failed to "+action.String()+" app version", logkeys.Error, err)
		return result
	}
	result.StatusCode = resp.StatusCode
	result.Body = resp.Body
	if resp.StatusCode != action.successCode() {
		result.Err = uem.NewHTTPError(action.String()+" app version", resp.StatusCode, resp.Body)
		logger.Info(logkeys.Message, "failed to "+action.String()+" app version", logkeys.Error, result.Err)
		return result
	}
	logger.Info(logkeys.Message, "successfully applied action")
	return result
}

// ApplyAll performs action on each version in order. Every version is
// attempted regardless of earlier failures and nothing is rolled back.
func (e *Engine) ApplyAll(ctx context.Context, creds *uem.Credentials, action Action, versions []uem.VersionRecord) (*BatchResult, error) {
	if err := creds.Validate(); err != nil {
		return nil, err
	}
	batch := &BatchResult{Action: action, Items: make([]ItemResult, 0, len(versions))}
	for _, v := range versions {
		batch.Items = append(batch.Items, e.Apply(ctx, creds, action, v))
	}
	if failed := len(batch.Failed()); failed > 0 {
		ctxlog.Logger(ctx, e.logger).Info(
			logkeys.Message, "batch completed with failures",
			logkeys.Action, action.String(),
			logkeys.GenericCount, len(batch.Items),
			"failed", failed,
		)
	}
	return batch, nil
}
