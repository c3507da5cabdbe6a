package uem

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestParseStatus(t *testing.T) {
	for _, test := range []struct {
		in   string
		want Status
	}{
		{"Active", StatusActive},
		{"Retired", StatusRetired},
		{"", StatusUnknown},
		{"active", StatusUnknown},
		{"Pending", StatusUnknown},
	} {
		if have, want := ParseStatus(test.in), test.want; have != want {
			t.Errorf("%q: have: %v, want: %v", test.in, have, want)
		}
	}
}

func TestStatusFilterMatch(t *testing.T) {
	tests := []struct {
		filter StatusFilter
		status Status
		want   bool
	}{
		{FilterAny, StatusActive, true},
		{FilterAny, StatusRetired, true},
		{FilterAny, StatusUnknown, true},
		{FilterActive, StatusActive, true},
		{FilterActive, StatusRetired, false},
		{FilterActive, StatusUnknown, false},
		{FilterRetired, StatusRetired, true},
		{FilterRetired, StatusActive, false},
		{FilterRetired, StatusUnknown, false},
	}
	for _, test := range tests {
		if have, want := test.filter.Match(test.status), test.want; have != want {
			t.Errorf("%s/%s: have: %v, want: %v", test.filter, test.status, have, want)
		}
	}
}

func TestParseStatusFilter(t *testing.T) {
	f, err := ParseStatusFilter("Retired")
	if err != nil {
		t.Fatal(err)
	}
	if have, want := f, FilterRetired; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	for _, s := range []string{"pending", "none"} {
		if _, err = ParseStatusFilter(s); !errors.Is(err, ErrConfiguration) {
			t.Errorf("%s: expected ErrConfiguration, have: %v", s, err)
		}
	}
	if f, err = ParseStatusFilter(""); err != nil || f != FilterAny {
		t.Errorf("have: %v, %v, want: %v", f, err, FilterAny)
	}
}

func TestCredentialsValidate(t *testing.T) {
	tests := []struct {
		name  string
		creds *Credentials
		valid bool
	}{
		{"valid", &Credentials{BaseURL: "https://as1.example.com", TenantCode: "T", Auth: "QQ=="}, true},
		{"nil", nil, false},
		{"no host", &Credentials{TenantCode: "T", Auth: "QQ=="}, false},
		{"relative host", &Credentials{BaseURL: "as1.example.com", TenantCode: "T", Auth: "QQ=="}, false},
		{"no tenant", &Credentials{BaseURL: "https://as1.example.com", Auth: "QQ=="}, false},
		{"no auth", &Credentials{BaseURL: "https://as1.example.com", TenantCode: "T"}, false},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := test.creds.Validate()
			if test.valid && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
			if !test.valid && !errors.Is(err, ErrConfiguration) {
				t.Errorf("expected ErrConfiguration, have: %v", err)
			}
		})
	}

	c := &Credentials{BaseURL: "https://as1.example.com", TenantCode: "T", Auth: "QQ=="}
	if err := c.RequireOrgGroup(); !errors.Is(err, ErrConfiguration) {
		t.Errorf("expected ErrConfiguration, have: %v", err)
	}
	c.OrgGroupID = "570"
	if err := c.RequireOrgGroup(); err != nil {
		t.Error(err)
	}
}

func TestVersionRecordJSON(t *testing.T) {
	v := VersionRecord{ID: 12, Version: "1.0.3", Status: StatusRetired}
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := string(b), `{"id":12,"version":"1.0.3","status":"Retired"}`; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
}

func TestTransportError(t *testing.T) {
	netErr := errors.New("connection refused")
	err := error(&TransportError{Op: "delete app", Err: netErr})
	if !errors.Is(err, netErr) {
		t.Error("expected wrapped network error")
	}
	var tErr *TransportError
	if !errors.As(NewHTTPError("retire app", 404, []byte("gone")), &tErr) {
		t.Fatal("expected TransportError")
	}
	if have, want := tErr.StatusCode, 404; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
}
