// Package logkeys defines some static logging keys for consistent structured logging output.
// Mostly exists as a mental aid when drafting log messages.
package logkeys

const (
	Message = "msg"
	Error   = "err"

	// an app bundle identifier, i.e. com.example.app
	BundleID = "bundle_id"

	// the console's numeric identifier for a single app version.
	VersionID = "version_id"

	// the human-readable version label of an app version.
	Version = "version"

	Action     = "action"
	RunID      = "run_id"
	StatusCode = "status_code"

	BlobID     = "blob_id"
	DeviceType = "device_type"

	SmartGroup = "smart_group"

	// a context-dependent numerical count/length of something
	GenericCount = "count"
)
