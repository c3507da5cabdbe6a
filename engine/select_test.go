package engine

import (
	"errors"
	"reflect"
	"testing"

	"github.com/micromdm/nanouem/uem"
)

func testVersions() []uem.VersionRecord {
	return []uem.VersionRecord{
		{ID: 30, Version: "1.2", Status: uem.StatusActive},
		{ID: 10, Version: "1.0", Status: uem.StatusRetired},
		{ID: 20, Version: "1.10", Status: uem.StatusActive},
		{ID: 25, Version: "1.1", Status: uem.StatusRetired},
		{ID: 35, Version: "2.0-beta", Status: uem.StatusUnknown},
	}
}

func ids(versions []uem.VersionRecord) []int {
	r := make([]int, 0, len(versions))
	for _, v := range versions {
		r = append(r, v.ID)
	}
	return r
}

func TestFilter(t *testing.T) {
	tests := []struct {
		filter uem.StatusFilter
		want   []int
	}{
		{uem.FilterAny, []int{10, 20, 25, 30, 35}},
		{uem.FilterActive, []int{20, 30}},
		{uem.FilterRetired, []int{10, 25}},
	}
	for _, test := range tests {
		t.Run(test.filter.String(), func(t *testing.T) {
			filtered := Filter(testVersions(), test.filter)
			if have, want := ids(filtered), test.want; !reflect.DeepEqual(have, want) {
				t.Errorf("have: %v, want: %v", have, want)
			}
			for _, v := range filtered {
				if !test.filter.Match(v.Status) {
					t.Errorf("version %d does not match filter", v.ID)
				}
			}
		})
	}
}

func TestFilterDoesNotModifyInput(t *testing.T) {
	in := testVersions()
	Filter(in, uem.FilterAny)
	if have, want := ids(in), []int{30, 10, 20, 25, 35}; !reflect.DeepEqual(have, want) {
		t.Errorf("have: %v, want: %v", have, want)
	}
}

func TestLatest(t *testing.T) {
	latest, ok := Latest(testVersions())
	if !ok {
		t.Fatal("expected latest")
	}
	// highest ID, not highest version label
	if have, want := latest.ID, 35; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}

	sorted := Filter(testVersions(), uem.FilterAny)
	if have, want := latest, sorted[len(sorted)-1]; !reflect.DeepEqual(have, want) {
		t.Errorf("have: %v, want: %v", have, want)
	}

	if _, ok = Latest(nil); ok {
		t.Error("expected no latest for empty catalog")
	}
}

func TestMostRecent(t *testing.T) {
	for _, test := range []struct {
		n    int
		want []int
	}{
		{0, []int{}},
		{2, []int{30, 35}},
		{5, []int{10, 20, 25, 30, 35}},
		{9, []int{10, 20, 25, 30, 35}},
	} {
		if have, want := ids(MostRecent(testVersions(), test.n)), test.want; !reflect.DeepEqual(have, want) {
			t.Errorf("n=%d: have: %v, want: %v", test.n, have, want)
		}
	}
}

func TestAllButMostRecent(t *testing.T) {
	tests := []struct {
		name   string
		keep   int
		policy KeepPolicy
		want   []int
	}{
		{"keep none clamp", 0, ClampToZero, []int{10, 20, 25, 30, 35}},
		{"keep none all", 0, TreatAsAll, []int{10, 20, 25, 30, 35}},
		{"keep two clamp", 2, ClampToZero, []int{10, 20, 25}},
		{"keep two all", 2, TreatAsAll, []int{10, 20, 25}},
		{"keep exactly all clamp", 5, ClampToZero, []int{}},
		{"keep exactly all treat as all", 5, TreatAsAll, []int{10, 20, 25, 30, 35}},
		{"keep more clamp", 8, ClampToZero, []int{}},
		{"keep more treat as all", 8, TreatAsAll, []int{10, 20, 25, 30, 35}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			selected, err := AllButMostRecent(testVersions(), test.keep, test.policy)
			if err != nil {
				t.Fatal(err)
			}
			if have, want := ids(selected), test.want; !reflect.DeepEqual(have, want) {
				t.Errorf("have: %v, want: %v", have, want)
			}
		})
	}
}

func TestAllButMostRecentEmpty(t *testing.T) {
	for _, policy := range []KeepPolicy{ClampToZero, TreatAsAll} {
		selected, err := AllButMostRecent(nil, 1, policy)
		if err != nil {
			t.Fatal(err)
		}
		if have, want := len(selected), 0; have != want {
			t.Errorf("%s: have: %v, want: %v", policy, have, want)
		}
	}
}

func TestAllButMostRecentNegative(t *testing.T) {
	_, err := AllButMostRecent(testVersions(), -1, ClampToZero)
	if !errors.Is(err, uem.ErrConfiguration) {
		t.Errorf("expected ErrConfiguration, have: %v", err)
	}
}

func TestParseKeepPolicy(t *testing.T) {
	p, err := ParseKeepPolicy("all")
	if err != nil {
		t.Fatal(err)
	}
	if have, want := p, TreatAsAll; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if _, err = ParseKeepPolicy("most"); !errors.Is(err, uem.ErrConfiguration) {
		t.Errorf("expected ErrConfiguration, have: %v", err)
	}
}
