// Package uem defines types for Workspace ONE UEM (formerly AirWatch) app management.
package uem

import (
	"fmt"
	"net/url"
	"strings"
)

// Credentials is the request context for talking to a UEM console.
// It is read-only input that is passed explicitly into every call.
type Credentials struct {
	// BaseURL is the console API host, i.e. https://as123.awmdm.com.
	BaseURL string

	// TenantCode is sent as the aw-tenant-code header.
	TenantCode string

	// Auth is the base64-encoded "username:password" basic auth string.
	Auth string

	// OrgGroupID is the numeric organization group (location group) ID.
	// Not every operation requires it.
	OrgGroupID string
}

// Validate checks that the credentials are usable for any request.
func (c *Credentials) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: empty credentials", ErrConfiguration)
	}
	if c.BaseURL == "" {
		return fmt.Errorf("%w: no console host URL given", ErrConfiguration)
	}
	u, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("%w: parsing host URL: %v", ErrConfiguration, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%w: host URL must be absolute: %s", ErrConfiguration, c.BaseURL)
	}
	if c.TenantCode == "" {
		return fmt.Errorf("%w: tenant code is missing", ErrConfiguration)
	}
	if c.Auth == "" {
		return fmt.Errorf("%w: basic auth string is empty", ErrConfiguration)
	}
	return nil
}

// RequireOrgGroup validates c and additionally requires an organization group ID.
func (c *Credentials) RequireOrgGroup() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if c.OrgGroupID == "" {
		return fmt.Errorf("%w: no organization group ID given", ErrConfiguration)
	}
	return nil
}

// Status is the lifecycle status of an app version on the console.
type Status int

const (
	StatusUnknown Status = iota
	StatusActive
	StatusRetired
)

// ParseStatus converts a console status string to a Status.
// Unrecognized values (including empty) map to StatusUnknown.
func ParseStatus(s string) Status {
	switch s {
	case "Active":
		return StatusActive
	case "Retired":
		return StatusRetired
	default:
		return StatusUnknown
	}
}

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "Active"
	case StatusRetired:
		return "Retired"
	default:
		return "Unknown"
	}
}

// MarshalText encodes the status as its string form.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status string.
func (s *Status) UnmarshalText(b []byte) error {
	*s = ParseStatus(string(b))
	return nil
}

// StatusFilter selects app versions by lifecycle status.
type StatusFilter int

const (
	FilterAny StatusFilter = iota
	FilterActive
	FilterRetired
)

// ParseStatusFilter parses user input into a StatusFilter.
// An empty string is FilterAny.
func ParseStatusFilter(s string) (StatusFilter, error) {
	switch strings.ToLower(s) {
	case "", "any", "all":
		return FilterAny, nil
	case "active":
		return FilterActive, nil
	case "retired":
		return FilterRetired, nil
	}
	return FilterAny, fmt.Errorf("%w: invalid status filter: %s", ErrConfiguration, s)
}

// Match reports whether status s passes the filter.
// Unknown statuses only pass FilterAny.
func (f StatusFilter) Match(s Status) bool {
	switch f {
	case FilterActive:
		return s == StatusActive
	case FilterRetired:
		return s == StatusRetired
	default:
		return true
	}
}

func (f StatusFilter) String() string {
	switch f {
	case FilterActive:
		return "active"
	case FilterRetired:
		return "retired"
	default:
		return "any"
	}
}

// SmartGroupRef is a smart group as referenced by an app version.
type SmartGroupRef struct {
	ID   int    `json:"id"`
	Name string `json:"name,omitempty"`
}

// VersionRecord is a single version of an internal app on the console.
// Records are built from catalog responses only and are never updated
// in place: re-fetch the catalog to observe console changes.
type VersionRecord struct {
	// ID is the console's numeric identifier for this version.
	// All actions target versions by ID.
	ID int `json:"id"`

	// Version is the human-readable version label.
	// It is neither unique nor guaranteed to sort.
	Version string `json:"version"`

	Status          Status          `json:"status"`
	BundleID        string          `json:"bundle_id,omitempty"`
	ApplicationName string          `json:"application_name,omitempty"`
	SmartGroups     []SmartGroupRef `json:"smart_groups,omitempty"`
}

// SmartGroupIDs returns the IDs of the smart groups assigned to v.
func (v VersionRecord) SmartGroupIDs() []int {
	ids := make([]int, 0, len(v.SmartGroups))
	for _, sg := range v.SmartGroups {
		ids = append(ids, sg.ID)
	}
	return ids
}

// SmartGroupAssignment is a resolved smart group to be assigned to an app.
type SmartGroupAssignment struct {
	SmartGroupID   int    `json:"smart_group_id"`
	SmartGroupName string `json:"smart_group_name"`

	// DeploymentParameters are forwarded to the console verbatim.
	DeploymentParameters map[string]interface{} `json:"deployment_parameters,omitempty"`
}

// DeviceType is the platform of an app package.
type DeviceType string

const (
	DeviceTypeApple   DeviceType = "Apple"
	DeviceTypeAndroid DeviceType = "Android"
)

// DeviceModel is a console device model descriptor.
type DeviceModel struct {
	ModelID   int    `json:"ModelId"`
	ModelName string `json:"ModelName"`
}

// Fixed console device models.
var (
	ModeliPhone    = DeviceModel{ModelID: 1, ModelName: "iPhone"}
	ModeliPad      = DeviceModel{ModelID: 2, ModelName: "iPad"}
	ModeliPodTouch = DeviceModel{ModelID: 3, ModelName: "iPod Touch"}
	ModelAndroid   = DeviceModel{ModelID: 5, ModelName: "Android"}
)
