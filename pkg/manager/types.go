// Package manager provides the package model shared by the engine and the
// native backends, along with the capability interfaces a backend implements.
package manager

import (
	"fmt"
	"strings"
	"time"
)

// Origins that are not repository ids.
const (
	OriginInstalled   = "installed"
	OriginLocal       = "local"
	OriginCommandline = "commandline"
)

// Install reasons recorded for installed packages.
const (
	ReasonUser       = "user"
	ReasonDependency = "dependency"
)

// Package describes one occurrence of a package: an installed copy, a copy
// available in a repository, or an ad-hoc local file.
type Package struct {
	Name   string `json:"name" yaml:"name"`
	EVR    string `json:"evr" yaml:"evr"`
	Arch   string `json:"arch" yaml:"arch"`
	Origin string `json:"origin" yaml:"origin"`

	Installed   bool      `json:"installed" yaml:"installed"`
	InstallTime time.Time `json:"install_time,omitempty" yaml:"install_time,omitempty"`
	Reason      string    `json:"reason,omitempty" yaml:"reason,omitempty"`       // ReasonUser or ReasonDependency
	FromRepo    string    `json:"from_repo,omitempty" yaml:"from_repo,omitempty"` // Repository an installed package came from

	DownloadSize uint64 `json:"download_size" yaml:"download_size"`
	InstallSize  uint64 `json:"install_size" yaml:"install_size"`

	Summary     string `json:"summary" yaml:"summary"`
	Description string `json:"description" yaml:"description"`
	License     string `json:"license" yaml:"license"`
	URL         string `json:"url" yaml:"url"`
	Group       string `json:"group,omitempty" yaml:"group,omitempty"`

	Files     []string `json:"files,omitempty" yaml:"files,omitempty"`
	Provides  []string `json:"provides,omitempty" yaml:"provides,omitempty"`
	Requires  []string `json:"requires,omitempty" yaml:"requires,omitempty"`
	Obsoletes []string `json:"obsoletes,omitempty" yaml:"obsoletes,omitempty"`
	Conflicts []string `json:"conflicts,omitempty" yaml:"conflicts,omitempty"`

	// Local is true when the package payload is already present on disk.
	Local     bool   `json:"local,omitempty" yaml:"local,omitempty"`
	LocalPath string `json:"local_path,omitempty" yaml:"local_path,omitempty"`
}

// ID returns the canonical package id, name;evr;arch;origin.
func (p Package) ID() string {
	return p.Name + ";" + p.EVR + ";" + p.Arch + ";" + p.Origin
}

// String implements fmt.Stringer.
func (p Package) String() string {
	return p.Name + "-" + p.EVR + "." + p.Arch
}

// ProvidesCapability reports whether the package provides cap, matching on
// capability name. The package name is always an implicit provide.
func (p Package) ProvidesCapability(capability string) bool {
	name := CapabilityName(capability)
	if p.Name == name {
		return true
	}
	for _, prov := range p.Provides {
		if CapabilityName(prov) == name {
			return true
		}
	}
	return false
}

// RequiresCapability reports whether any requirement of p names capability.
func (p Package) RequiresCapability(capability string) bool {
	name := CapabilityName(capability)
	for _, req := range p.Requires {
		if CapabilityName(req) == name {
			return true
		}
	}
	return false
}

// CapabilityName strips a version constraint from a capability string, so
// "libfoo.so.1 >= 1.2" becomes "libfoo.so.1".
func CapabilityName(capability string) string {
	capability = strings.TrimSpace(capability)
	if i := strings.IndexAny(capability, " <>="); i > 0 {
		return capability[:i]
	}
	return capability
}

// PackageID is a parsed canonical package id.
type PackageID struct {
	Name string
	EVR  string
	Arch string
	Data string // origin
}

// ParseID parses a name;evr;arch;origin string. A string without any ';' is
// accepted as a bare name.
func ParseID(s string) (PackageID, error) {
	if s == "" {
		return PackageID{}, fmt.Errorf("empty package id")
	}
	if !strings.Contains(s, ";") {
		return PackageID{Name: s}, nil
	}
	parts := strings.Split(s, ";")
	if len(parts) != 4 || parts[0] == "" || parts[1] == "" {
		return PackageID{}, fmt.Errorf("invalid package id %q", s)
	}
	return PackageID{Name: parts[0], EVR: parts[1], Arch: parts[2], Data: parts[3]}, nil
}

// IsName reports whether the id only carries a package name.
func (id PackageID) IsName() bool {
	return id.EVR == ""
}

// String implements fmt.Stringer.
func (id PackageID) String() string {
	if id.IsName() {
		return id.Name
	}
	return id.Name + ";" + id.EVR + ";" + id.Arch + ";" + id.Data
}

// Matches reports whether p is the occurrence the id names. The origin
// matches either the installed marker or the repository id.
func (id PackageID) Matches(p Package) bool {
	if id.IsName() {
		return p.Name == id.Name
	}
	if p.Name != id.Name || p.EVR != id.EVR || p.Arch != id.Arch {
		return false
	}
	if id.Data == OriginInstalled {
		return p.Installed
	}
	return p.Origin == id.Data || (p.Installed && p.FromRepo == id.Data)
}

// Repo describes a configured repository.
type Repo struct {
	ID       string            `json:"id" yaml:"id"`
	Name     string            `json:"name" yaml:"name"`
	Enabled  bool              `json:"enabled" yaml:"enabled"`
	File     string            `json:"file,omitempty" yaml:"file,omitempty"`
	Internal bool              `json:"internal,omitempty" yaml:"internal,omitempty"` // @System, @commandline
	Data     map[string]string `json:"data,omitempty" yaml:"data,omitempty"`
}

// Advisory kinds.
const (
	AdvisorySecurity    = "security"
	AdvisoryBugfix      = "bugfix"
	AdvisoryEnhancement = "enhancement"
	AdvisoryNewPackage  = "newpackage"
)

// Reference types used by advisories.
const (
	ReferenceBugzilla = "bugzilla"
	ReferenceCVE      = "cve"
	ReferenceVendor   = "vendor"
)

// Advisory is update metadata for one package version.
type Advisory struct {
	ID          string      `json:"id" yaml:"id"`
	Kind        string      `json:"kind" yaml:"kind"`
	Severity    string      `json:"severity,omitempty" yaml:"severity,omitempty"`
	Title       string      `json:"title,omitempty" yaml:"title,omitempty"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
	Status      string      `json:"status,omitempty" yaml:"status,omitempty"`
	Issued      time.Time   `json:"issued,omitempty" yaml:"issued,omitempty"`
	Updated     time.Time   `json:"updated,omitempty" yaml:"updated,omitempty"`
	References  []Reference `json:"references,omitempty" yaml:"references,omitempty"`
	Reboot      bool        `json:"reboot,omitempty" yaml:"reboot,omitempty"`
	Restart     bool        `json:"restart,omitempty" yaml:"restart,omitempty"`
	Relogin     bool        `json:"relogin,omitempty" yaml:"relogin,omitempty"`
	Packages    []string    `json:"packages,omitempty" yaml:"packages,omitempty"` // name-evr.arch
}

// Reference links an advisory to an external tracker.
type Reference struct {
	Type  string `json:"type" yaml:"type"`
	URL   string `json:"url" yaml:"url"`
	Title string `json:"title,omitempty" yaml:"title,omitempty"`
}

// Group is a named set of packages (comps group or environment).
type Group struct {
	ID        string   `json:"id" yaml:"id"`
	Name      string   `json:"name" yaml:"name"`
	Installed bool     `json:"installed" yaml:"installed"`
	Packages  []string `json:"packages" yaml:"packages"`
}
