package console

import (
	"net/url"
	"strconv"
)

const (
	PathAppSearch        = "/API/mam/apps/search"
	PathSmartGroupSearch = "/API/mdm/smartgroups/search"
	PathUploadBlob       = "/API/mam/blobs/uploadblob"
	PathBeginInstall     = "/API/mam/apps/internal/begininstall"
)

// InternalAppPath is the path of a single internal app version.
func InternalAppPath(id int) string {
	return "/API/mam/apps/internal/" + strconv.Itoa(id)
}

// RetirePath is the path to retire an internal app version.
func RetirePath(id int) string {
	return InternalAppPath(id) + "/retire"
}

// UnretirePath is the path to unretire an internal app version.
func UnretirePath(id int) string {
	return InternalAppPath(id) + "/unretire"
}

// AssignmentsPath is the path of the smart group assignments of an internal app.
func AssignmentsPath(id int) string {
	return InternalAppPath(id) + "/assignments"
}

// BlobPath is the path of an uploaded blob.
func BlobPath(blobID int) string {
	return "/API/mam/blobs/blob/" + strconv.Itoa(blobID)
}

// AppSearchQuery builds the app search query for a bundle identifier.
// A non-empty orgGroupID restricts the search to that organization group
// only (excluding parent and child groups). internalOnly restricts the
// search to internal apps.
func AppSearchQuery(bundleID, orgGroupID string, internalOnly bool) url.Values {
	q := url.Values{"bundleid": {bundleID}}
	if internalOnly {
		q.Set("applicationtype", "Internal")
	}
	if orgGroupID != "" {
		q.Set("locationgroupid", orgGroupID)
		q.Set("includeAppsFromChildOgs", "false")
		q.Set("IncludeAppsFromParentOgs", "false")
	}
	return q
}

// SmartGroupSearchQuery builds the smart group search query.
func SmartGroupSearchQuery(name, orgGroupID string) url.Values {
	return url.Values{
		"name":                {name},
		"organizationgroupid": {orgGroupID},
	}
}

// UploadBlobQuery builds the blob upload query.
func UploadBlobQuery(fileName, orgGroupID string) url.Values {
	return url.Values{
		"fileName":            {fileName},
		"organizationGroupId": {orgGroupID},
	}
}
