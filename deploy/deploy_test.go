package deploy

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"sync/atomic"
	"testing"
	"time"

	"github.com/micromdm/nanouem/uem"
	"github.com/micromdm/nanouem/uem/console"
	"github.com/micromdm/nanouem/uem/console/test"
	"github.com/micromdm/nanouem/utils/appinfo"
)

var testCreds = &uem.Credentials{
	BaseURL:    "https://as1.example.com",
	TenantCode: "TENANT",
	Auth:       "dXNlcjpwYXNz",
	OrgGroupID: "570",
}

const testUUID = "0ba7c5f4-66b1-4bb7-9d25-8a1f0f7b8b3e"

func writePackage(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("package bytes"), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func inspectFamily(f appinfo.Family) InspectFunc {
	var families []int
	switch f {
	case appinfo.FamilyIPad:
		families = []int{2}
	case appinfo.FamilyUniversal:
		families = []int{1, 2}
	}
	return func(_ string) (*appinfo.IPA, error) {
		return &appinfo.IPA{Info: appinfo.InfoPlist{UIDeviceFamily: families}}, nil
	}
}

func newDeployConsole() *test.Console {
	c := test.New()
	c.Respond(http.MethodPost, console.PathUploadBlob, http.StatusOK, `{"Value":42}`)
	c.Respond(http.MethodPost, console.PathBeginInstall, http.StatusOK, `{"Id":{"Value":101},"Uuid":"`+testUUID+`"}`)
	c.Respond(http.MethodDelete, console.BlobPath(42), http.StatusOK, "")
	return c
}

func TestDetectDeviceType(t *testing.T) {
	for _, test := range []struct {
		name string
		want uem.DeviceType
		err  bool
	}{
		{"App.ipa", uem.DeviceTypeApple, false},
		{"App.IPA", uem.DeviceTypeApple, false},
		{"app-release.apk", uem.DeviceTypeAndroid, false},
		{"app.txt", "", true},
		{"ipa", "", true},
	} {
		have, err := DetectDeviceType(test.name)
		if test.err {
			if !errors.Is(err, uem.ErrConfiguration) {
				t.Errorf("%s: expected ErrConfiguration, have: %v", test.name, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("%s: %v", test.name, err)
		}
		if have != test.want {
			t.Errorf("%s: have: %v, want: %v", test.name, have, test.want)
		}
	}
}

func TestModelsForFamily(t *testing.T) {
	for _, test := range []struct {
		family appinfo.Family
		want   []int
	}{
		{appinfo.FamilyUniversal, []int{1, 2, 3}},
		{appinfo.FamilyIPhone, []int{1, 3}},
		{appinfo.FamilyIPad, []int{2}},
	} {
		var have []int
		for _, m := range ModelsForFamily(test.family) {
			have = append(have, m.ModelID)
		}
		if !reflect.DeepEqual(have, test.want) {
			t.Errorf("%s: have: %v, want: %v", test.family, have, test.want)
		}
	}
}

func TestDeploy(t *testing.T) {
	c := newDeployConsole()
	d := New(c, WithInspector(inspectFamily(appinfo.FamilyUniversal)))
	req := &Request{
		AppName:  "Example",
		FilePath: writePackage(t, "Example.ipa"),
		PushMode: PushModeOnDemand,
	}
	r, err := d.Deploy(context.Background(), testCreds, req)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := r.AppID, 101; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if have, want := r.UUID, testUUID; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if have, want := r.DeviceType, uem.DeviceTypeApple; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}

	uploads := c.CallsTo(http.MethodPost, console.PathUploadBlob)
	if have, want := len(uploads), 1; have != want {
		t.Fatalf("have: %v, want: %v", have, want)
	}
	upload := uploads[0]
	if have, want := string(upload.Body), "package bytes"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if have, want := upload.ContentType, console.ContentTypeOctet; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if !upload.ExpectContinue {
		t.Error("expected Expect: 100-continue")
	}
	if have, want := upload.Query.Get("fileName"), "Example.ipa"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}

	installs := c.CallsTo(http.MethodPost, console.PathBeginInstall)
	if have, want := len(installs), 1; have != want {
		t.Fatalf("have: %v, want: %v", have, want)
	}
	body := make(map[string]interface{})
	if err = json.Unmarshal(installs[0].Body, &body); err != nil {
		t.Fatal(err)
	}
	if have, want := body["BlobId"], "42"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if have, want := body["LocationGroupId"], "570"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if have, want := body["PushMode"], PushModeOnDemand; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if _, ok := body["AppVersion"]; ok {
		t.Error("empty AppVersion should be omitted")
	}
	models := body["SupportedModels"].(map[string]interface{})["Model"].([]interface{})
	if have, want := len(models), 3; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}

	if have, want := len(c.CallsTo(http.MethodDelete, console.BlobPath(42))), 0; have != want {
		t.Errorf("unexpected blob delete: have: %v, want: %v", have, want)
	}
}

func TestDeployAndroid(t *testing.T) {
	c := newDeployConsole()
	d := New(c, WithInspector(func(string) (*appinfo.IPA, error) {
		t.Fatal("android packages are not inspected")
		return nil, nil
	}))
	_, err := d.Deploy(context.Background(), testCreds, &Request{
		AppName:  "Example",
		FilePath: writePackage(t, "app-release.apk"),
		Version:  "2.0",
		PushMode: PushModeAuto,
	})
	if err != nil {
		t.Fatal(err)
	}
	installs := c.CallsTo(http.MethodPost, console.PathBeginInstall)
	if have, want := len(installs), 1; have != want {
		t.Fatalf("have: %v, want: %v", have, want)
	}
	body := new(beginInstall)
	if err = json.Unmarshal(installs[0].Body, body); err != nil {
		t.Fatal(err)
	}
	if have, want := body.SupportedModels.Model, []uem.DeviceModel{uem.ModelAndroid}; !reflect.DeepEqual(have, want) {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if have, want := body.AppVersion, "2.0"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if have, want := body.DeviceType, uem.DeviceTypeAndroid; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
}

func TestDeployCompensatesFailedRegistration(t *testing.T) {
	for _, tc := range []struct {
		name string
		fail func(c *test.Console)
	}{
		{"http error", func(c *test.Console) {
			c.Respond(http.MethodPost, console.PathBeginInstall, http.StatusBadRequest, `{"message":"bad blob"}`)
		}},
		{"network error", func(c *test.Console) {
			c.Fail(http.MethodPost, console.PathBeginInstall)
		}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c := newDeployConsole()
			tc.fail(c)
			d := New(c, WithInspector(inspectFamily(appinfo.FamilyIPhone)))
			_, err := d.Deploy(context.Background(), testCreds, &Request{
				AppName:  "Example",
				FilePath: writePackage(t, "Example.ipa"),
				PushMode: PushModeAuto,
			})
			var tErr *uem.TransportError
			if !errors.As(err, &tErr) {
				t.Fatalf("expected TransportError, have: %v", err)
			}
			// the surfaced error is the registration failure
			if have, want := tErr.Op, "register app"; tc.name == "http error" && have != want {
				t.Errorf("have: %v, want: %v", have, want)
			}
			if have, want := len(c.CallsTo(http.MethodDelete, console.BlobPath(42))), 1; have != want {
				t.Errorf("blob deletes: have: %v, want: %v", have, want)
			}
		})
	}
}

func TestDeployCompensationFailureKeepsRegistrationError(t *testing.T) {
	c := newDeployConsole()
	c.Respond(http.MethodPost, console.PathBeginInstall, http.StatusInternalServerError, "")
	c.Respond(http.MethodDelete, console.BlobPath(42), http.StatusInternalServerError, "")
	d := New(c, WithInspector(inspectFamily(appinfo.FamilyIPad)))
	_, err := d.Deploy(context.Background(), testCreds, &Request{
		AppName:  "Example",
		FilePath: writePackage(t, "Example.ipa"),
		PushMode: PushModeAuto,
	})
	var tErr *uem.TransportError
	if !errors.As(err, &tErr) {
		t.Fatalf("expected TransportError, have: %v", err)
	}
	if have, want := tErr.StatusCode, http.StatusInternalServerError; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if have, want := tErr.Op, "register app"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if have, want := len(c.CallsTo(http.MethodDelete, console.BlobPath(42))), 1; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
}

func TestDeployUploadFailureNoCompensation(t *testing.T) {
	c := newDeployConsole()
	c.Respond(http.MethodPost, console.PathUploadBlob, http.StatusRequestEntityTooLarge, "")
	d := New(c, WithInspector(inspectFamily(appinfo.FamilyIPhone)))
	_, err := d.Deploy(context.Background(), testCreds, &Request{
		AppName:  "Example",
		FilePath: writePackage(t, "Example.ipa"),
		PushMode: PushModeAuto,
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if have, want := len(c.CallsTo(http.MethodPost, console.PathBeginInstall)), 0; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if have, want := len(c.CallsTo(http.MethodDelete, console.BlobPath(42))), 0; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
}

func TestDeployConfiguration(t *testing.T) {
	noOrg := *testCreds
	noOrg.OrgGroupID = ""
	for _, test := range []struct {
		name  string
		creds *uem.Credentials
		req   *Request
	}{
		{"unknown extension", testCreds, &Request{AppName: "Example", FilePath: writePackage(t, "app.txt"), PushMode: PushModeAuto}},
		{"no app name", testCreds, &Request{FilePath: writePackage(t, "App.ipa"), PushMode: PushModeAuto}},
		{"no push mode", testCreds, &Request{AppName: "Example", FilePath: writePackage(t, "App.ipa")}},
		{"missing file", testCreds, &Request{AppName: "Example", FilePath: "/nonexistent/App.ipa", PushMode: PushModeAuto}},
		{"no org group", &noOrg, &Request{AppName: "Example", FilePath: writePackage(t, "App.ipa"), PushMode: PushModeAuto}},
		{"nil request", testCreds, nil},
	} {
		t.Run(test.name, func(t *testing.T) {
			c := newDeployConsole()
			d := New(c, WithInspector(inspectFamily(appinfo.FamilyIPhone)))
			_, err := d.Deploy(context.Background(), test.creds, test.req)
			if !errors.Is(err, uem.ErrConfiguration) {
				t.Errorf("expected ErrConfiguration, have: %v", err)
			}
			if have, want := len(c.Calls()), 0; have != want {
				t.Errorf("network calls: have: %v, want: %v", have, want)
			}
		})
	}
}

func TestDeployInvalidUUID(t *testing.T) {
	c := newDeployConsole()
	c.Respond(http.MethodPost, console.PathBeginInstall, http.StatusOK, `{"Id":{"Value":101},"Uuid":"nope"}`)
	d := New(c, WithInspector(inspectFamily(appinfo.FamilyIPhone)))
	_, err := d.Deploy(context.Background(), testCreds, &Request{
		AppName:  "Example",
		FilePath: writePackage(t, "Example.ipa"),
		PushMode: PushModeAuto,
	})
	if !errors.Is(err, ErrMalformedResponse) {
		t.Errorf("expected ErrMalformedResponse, have: %v", err)
	}
	// the app was registered: the blob is in use
	if have, want := len(c.CallsTo(http.MethodDelete, console.BlobPath(42))), 0; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
}

func TestDeployCompensatesCancelledRegistration(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var deletes int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == console.PathUploadBlob:
			w.Write([]byte(`{"Value":42}`))
		case r.Method == http.MethodPost && r.URL.Path == console.PathBeginInstall:
			// the caller goes away while the app is registering
			cancel()
			w.WriteHeader(http.StatusInternalServerError)
		case r.Method == http.MethodDelete && r.URL.Path == console.BlobPath(42):
			atomic.AddInt32(&deletes, 1)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	creds := *testCreds
	creds.BaseURL = srv.URL
	d := New(console.New(), WithCompensateTimeout(5*time.Second))
	_, err := d.Deploy(ctx, &creds, &Request{
		AppName:  "Example",
		FilePath: writePackage(t, "app-release.apk"),
		PushMode: PushModeAuto,
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if have, want := atomic.LoadInt32(&deletes), int32(1); have != want {
		t.Errorf("blob deletes: have: %v, want: %v", have, want)
	}
}
