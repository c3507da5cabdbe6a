// Package appinfo inspects iOS app packages for basic information.
package appinfo

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/groob/plist"
	"github.com/smallstep/pkcs7"
)

var (
	ErrNoInfoPlist = errors.New("no app Info.plist in package")
	ErrInvalidIPA  = errors.New("invalid ipa")
)

// Family classifies the devices an iOS app supports.
type Family int

const (
	// FamilyIPhone apps run on iPhone and iPod touch.
	FamilyIPhone Family = iota
	FamilyIPad
	FamilyUniversal
)

func (f Family) String() string {
	switch f {
	case FamilyIPad:
		return "iPad"
	case FamilyUniversal:
		return "universal"
	default:
		return "iPhone"
	}
}

// InfoPlist is some of the information in an app bundle's Info.plist.
// See https://developer.apple.com/documentation/bundleresources/information_property_list
type InfoPlist struct {
	CFBundleIdentifier         string `plist:",omitempty"`
	CFBundleName               string `plist:",omitempty"`
	CFBundleShortVersionString string `plist:",omitempty"`
	CFBundleVersion            string `plist:",omitempty"`
	UIDeviceFamily             []int  `plist:",omitempty"`
}

// Family classifies the app by its UIDeviceFamily values.
// Apps without UIDeviceFamily are iPhone apps.
func (i *InfoPlist) Family() Family {
	var iPhone, iPad bool
	for _, f := range i.UIDeviceFamily {
		switch f {
		case 1:
			iPhone = true
		case 2:
			iPad = true
		}
	}
	switch {
	case iPhone && iPad:
		return FamilyUniversal
	case iPad:
		return FamilyIPad
	default:
		return FamilyIPhone
	}
}

// Provision is some of the information in an embedded provisioning profile.
type Provision struct {
	AppIDName            string    `plist:",omitempty"`
	Name                 string    `plist:",omitempty"`
	TeamName             string    `plist:",omitempty"`
	TeamIdentifier       []string  `plist:",omitempty"`
	CreationDate         time.Time `plist:",omitempty"`
	ExpirationDate       time.Time `plist:",omitempty"`
	ProvisionsAllDevices bool      `plist:",omitempty"`
	ProvisionedDevices   []string  `plist:",omitempty"`
}

// Expired reports whether the profile has expired at t.
func (p *Provision) Expired(t time.Time) bool {
	if p == nil || p.ExpirationDate.IsZero() {
		return false
	}
	return t.After(p.ExpirationDate)
}

// ParseProvision parses a signed (CMS) provisioning profile.
// The signature is not verified.
func ParseProvision(b []byte) (*Provision, error) {
	p7, err := pkcs7.Parse(b)
	if err != nil {
		return nil, fmt.Errorf("parsing pkcs7: %w", err)
	}
	p := new(Provision)
	if err = plist.Unmarshal(p7.Content, p); err != nil {
		return nil, fmt.Errorf("unmarshal provisioning profile plist: %w", err)
	}
	return p, nil
}

// IPA is the information extracted from an iOS app package.
type IPA struct {
	Info InfoPlist

	// Provision is nil if the package has no embedded provisioning profile.
	Provision *Provision
}

// isAppBundleFile reports whether name is the file base directly
// inside the top-level app bundle, i.e. Payload/Name.app/base.
func isAppBundleFile(name, base string) bool {
	parts := strings.Split(name, "/")
	return len(parts) == 3 &&
		parts[0] == "Payload" &&
		strings.HasSuffix(parts[1], ".app") &&
		parts[2] == base
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// ReadIPA inspects the iOS app package in r.
func ReadIPA(r io.ReaderAt, size int64) (*IPA, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidIPA, err)
	}
	ipa := new(IPA)
	var foundInfo bool
	for _, f := range zr.File {
		switch {
		case isAppBundleFile(f.Name, "Info.plist"):
			b, err := readZipFile(f)
			if err != nil {
				return nil, fmt.Errorf("reading %s: %w", f.Name, err)
			}
			if err = plist.Unmarshal(b, &ipa.Info); err != nil {
				return nil, fmt.Errorf("unmarshal %s: %w", f.Name, err)
			}
			foundInfo = true
		case isAppBundleFile(f.Name, "embedded.mobileprovision"):
			b, err := readZipFile(f)
			if err != nil {
				return nil, fmt.Errorf("reading %s: %w", f.Name, err)
			}
			if ipa.Provision, err = ParseProvision(b); err != nil {
				return nil, fmt.Errorf("%s: %w", f.Name, err)
			}
		}
	}
	if !foundInfo {
		return nil, ErrNoInfoPlist
	}
	return ipa, nil
}

// InspectIPA inspects the iOS app package at path.
func InspectIPA(path string) (*IPA, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	fi, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return ReadIPA(f, fi.Size())
}
