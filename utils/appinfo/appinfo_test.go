package appinfo

import (
	"archive/zip"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"crypto/x509/pkix"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/groob/plist"
	"github.com/smallstep/pkcs7"
)

func signProvision(t *testing.T, p *Provision) []byte {
	t.Helper()
	content, err := plist.Marshal(p)
	if err != nil {
		t.Fatal(err)
	}
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		t.Fatal(err)
	}
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "Test Signer"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	if err != nil {
		t.Fatal(err)
	}
	cert, err := x509.ParseCertificate(der)
	if err != nil {
		t.Fatal(err)
	}
	sd, err := pkcs7.NewSignedData(content)
	if err != nil {
		t.Fatal(err)
	}
	if err = sd.AddSigner(cert, key, pkcs7.SignerInfoConfig{}); err != nil {
		t.Fatal(err)
	}
	b, err := sd.Finish()
	if err != nil {
		t.Fatal(err)
	}
	return b
}

// writeIPA writes a zip file with the given entries to a temporary directory.
func writeIPA(t *testing.T, files map[string][]byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "App.ipa")
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	zw := zip.NewWriter(f)
	for name, content := range files {
		w, err := zw.Create(name)
		if err != nil {
			t.Fatal(err)
		}
		if _, err = w.Write(content); err != nil {
			t.Fatal(err)
		}
	}
	if err = zw.Close(); err != nil {
		t.Fatal(err)
	}
	return path
}

func marshalInfo(t *testing.T, info *InfoPlist) []byte {
	t.Helper()
	b, err := plist.Marshal(info)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

func TestFamily(t *testing.T) {
	for _, test := range []struct {
		families []int
		want     Family
	}{
		{nil, FamilyIPhone},
		{[]int{1}, FamilyIPhone},
		{[]int{2}, FamilyIPad},
		{[]int{1, 2}, FamilyUniversal},
		{[]int{2, 1, 4}, FamilyUniversal},
		{[]int{3}, FamilyIPhone},
	} {
		info := &InfoPlist{UIDeviceFamily: test.families}
		if have, want := info.Family(), test.want; have != want {
			t.Errorf("%v: have: %v, want: %v", test.families, have, want)
		}
	}
}

func TestInspectIPA(t *testing.T) {
	expires := time.Now().Add(-24 * time.Hour).UTC().Truncate(time.Second)
	path := writeIPA(t, map[string][]byte{
		"Payload/Example.app/Info.plist": marshalInfo(t, &InfoPlist{
			CFBundleIdentifier:         "com.example.app",
			CFBundleShortVersionString: "1.3",
			UIDeviceFamily:             []int{1, 2},
		}),
		"Payload/Example.app/embedded.mobileprovision": signProvision(t, &Provision{
			Name:                 "Example Enterprise",
			TeamName:             "Example Inc.",
			ExpirationDate:       expires,
			ProvisionsAllDevices: true,
		}),
		// nested bundles must not be mistaken for the app's Info.plist
		"Payload/Example.app/PlugIns/Ext.appex/Info.plist": marshalInfo(t, &InfoPlist{
			CFBundleIdentifier: "com.example.app.ext",
		}),
	})

	ipa, err := InspectIPA(path)
	if err != nil {
		t.Fatal(err)
	}
	if have, want := ipa.Info.CFBundleIdentifier, "com.example.app"; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if have, want := ipa.Info.Family(), FamilyUniversal; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if ipa.Provision == nil {
		t.Fatal("expected provisioning profile")
	}
	if have, want := ipa.Provision.TeamName, "Example Inc."; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
	if !ipa.Provision.ProvisionsAllDevices {
		t.Error("expected ProvisionsAllDevices")
	}
	if !ipa.Provision.Expired(time.Now()) {
		t.Error("expected expired profile")
	}
}

func TestInspectIPANoProvision(t *testing.T) {
	path := writeIPA(t, map[string][]byte{
		"Payload/Example.app/Info.plist": marshalInfo(t, &InfoPlist{CFBundleIdentifier: "com.example.app"}),
	})
	ipa, err := InspectIPA(path)
	if err != nil {
		t.Fatal(err)
	}
	if ipa.Provision != nil {
		t.Error("expected no provisioning profile")
	}
	if have, want := ipa.Info.Family(), FamilyIPhone; have != want {
		t.Errorf("have: %v, want: %v", have, want)
	}
}

func TestInspectIPAInvalid(t *testing.T) {
	path := writeIPA(t, map[string][]byte{"README": []byte("hello")})
	if _, err := InspectIPA(path); !errors.Is(err, ErrNoInfoPlist) {
		t.Errorf("expected ErrNoInfoPlist, have: %v", err)
	}

	path = filepath.Join(t.TempDir(), "bad.ipa")
	if err := os.WriteFile(path, []byte("not a zip"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := InspectIPA(path); !errors.Is(err, ErrInvalidIPA) {
		t.Errorf("expected ErrInvalidIPA, have: %v", err)
	}
}
