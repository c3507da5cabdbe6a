package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/micromdm/nanouem/uem"
)

// KeepPolicy decides what "keep the N most recent versions" selects
// for action when N is at least the number of versions available.
type KeepPolicy int

const (
	// ClampToZero acts on no versions when N covers all of them.
	ClampToZero KeepPolicy = iota

	// TreatAsAll acts on every version when N covers all of them.
	TreatAsAll
)

// ParseKeepPolicy parses user input into a KeepPolicy.
func ParseKeepPolicy(s string) (KeepPolicy, error) {
	switch strings.ToLower(s) {
	case "clamp", "clamp-to-zero", "none":
		return ClampToZero, nil
	case "all", "treat-as-all":
		return TreatAsAll, nil
	}
	return ClampToZero, fmt.Errorf("%w: invalid keep policy: %s", uem.ErrConfiguration, s)
}

func (p KeepPolicy) String() string {
	if p == TreatAsAll {
		return "all"
	}
	return "clamp"
}

func (p KeepPolicy) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Sort returns a copy of versions ordered ascending by ID.
// The most recent version is the one with the highest ID.
func Sort(versions []uem.VersionRecord) []uem.VersionRecord {
	sorted := append([]uem.VersionRecord(nil), versions...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].ID < sorted[j].ID
	})
	return sorted
}

// Filter returns the versions whose status matches filter, ordered ascending by ID.
func Filter(versions []uem.VersionRecord, filter uem.StatusFilter) []uem.VersionRecord {
	filtered := make([]uem.VersionRecord, 0, len(versions))
	for _, v := range versions {
		if filter.Match(v.Status) {
			filtered = append(filtered, v)
		}
	}
	return Sort(filtered)
}

// Latest returns the most recent version (highest ID).
// ok is false if versions is empty.
func Latest(versions []uem.VersionRecord) (latest uem.VersionRecord, ok bool) {
	if len(versions) < 1 {
		return
	}
	sorted := Sort(versions)
	return sorted[len(sorted)-1], true
}

// MostRecent returns the n most recent versions, ordered ascending by ID.
func MostRecent(versions []uem.VersionRecord, n int) []uem.VersionRecord {
	sorted := Sort(versions)
	if n <= 0 {
		return []uem.VersionRecord{}
	}
	if n >= len(sorted) {
		return sorted
	}
	return sorted[len(sorted)-n:]
}

// AllButMostRecent returns the versions remaining after setting aside
// the keep most recent, ordered ascending by ID. When keep is at least
// the number of versions the result depends on policy.
func AllButMostRecent(versions []uem.VersionRecord, keep int, policy KeepPolicy) ([]uem.VersionRecord, error) {
	if keep < 0 {
		return nil, fmt.Errorf("%w: the number of latest versions to keep can not be negative", uem.ErrConfiguration)
	}
	sorted := Sort(versions)
	if keep >= len(sorted) {
		if policy == TreatAsAll {
			return sorted, nil
		}
		return []uem.VersionRecord{}, nil
	}
	return sorted[:len(sorted)-keep], nil
}

// Labels returns the version labels of versions, in order.
func Labels(versions []uem.VersionRecord) []string {
	labels := make([]string, 0, len(versions))
	for _, v := range versions {
		labels = append(labels, v.Version)
	}
	return labels
}
