// Package memory implements a package backend over a YAML catalog held in
// memory. It carries its own resolver and is used for tests, demos and as
// the default when no native package manager is configured.
package memory

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"pkengine/pkg/manager"
)

// Catalog is the persisted state of a memory backend.
type Catalog struct {
	Arch       string             `yaml:"arch,omitempty"`
	Repos      []manager.Repo     `yaml:"repos"`
	Packages   []manager.Package  `yaml:"packages"`  // available; Origin is the repo id
	Installed  []manager.Package  `yaml:"installed"` // FromRepo records where each came from
	Groups     []manager.Group    `yaml:"groups,omitempty"`
	Advisories []manager.Advisory `yaml:"advisories,omitempty"`

	// Protected packages are never removed.
	Protected []string `yaml:"protected,omitempty"`

	// Failure injection, by package name.
	FailDownload []string `yaml:"fail_download,omitempty"`
	FailCommit   []string `yaml:"fail_commit,omitempty"`
	FailRefresh  bool     `yaml:"fail_refresh,omitempty"`
}

// LoadCatalog reads a catalog file.
func LoadCatalog(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read catalog: %w", err)
	}
	cat := &Catalog{}
	if err := yaml.Unmarshal(data, cat); err != nil {
		return nil, fmt.Errorf("failed to parse catalog %s: %w", path, err)
	}
	cat.normalize()
	return cat, nil
}

// Save writes the catalog to path.
func (c *Catalog) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode catalog: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create catalog directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return fmt.Errorf("failed to write catalog: %w", err)
	}
	return os.Rename(tmp, path)
}

// normalize fills in the fields the catalog format lets authors omit.
func (c *Catalog) normalize() {
	for i := range c.Packages {
		p := &c.Packages[i]
		p.Installed = false
		if p.Arch == "" {
			p.Arch = "noarch"
		}
	}
	for i := range c.Installed {
		p := &c.Installed[i]
		p.Installed = true
		p.Origin = manager.OriginInstalled
		if p.Arch == "" {
			p.Arch = "noarch"
		}
		if p.Reason == "" {
			p.Reason = manager.ReasonUser
		}
	}
}

func (c *Catalog) clone() *Catalog {
	out := *c
	out.Repos = cloneRepos(c.Repos)
	out.Packages = append([]manager.Package(nil), c.Packages...)
	out.Installed = append([]manager.Package(nil), c.Installed...)
	out.Groups = append([]manager.Group(nil), c.Groups...)
	out.Advisories = append([]manager.Advisory(nil), c.Advisories...)
	return &out
}

func cloneRepos(repos []manager.Repo) []manager.Repo {
	out := make([]manager.Repo, len(repos))
	for i, r := range repos {
		out[i] = r
		if r.Data != nil {
			out[i].Data = make(map[string]string, len(r.Data))
			for k, v := range r.Data {
				out[i].Data[k] = v
			}
		}
	}
	return out
}

// Manifest is the on-disk form of a downloaded or local package file.
type Manifest struct {
	Package manager.Package `yaml:"package"`
}

// WriteManifest writes pkg as a package file at path.
func WriteManifest(path string, pkg manager.Package) error {
	data, err := yaml.Marshal(Manifest{Package: pkg})
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// ReadManifest reads a package file written by WriteManifest.
func ReadManifest(path string) (manager.Package, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return manager.Package{}, err
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return manager.Package{}, fmt.Errorf("%s is not a package file: %w", path, err)
	}
	if m.Package.Name == "" || m.Package.EVR == "" {
		return manager.Package{}, fmt.Errorf("%s is not a package file: missing name or evr", path)
	}
	return m.Package, nil
}
