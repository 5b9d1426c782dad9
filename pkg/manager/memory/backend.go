package memory

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"pkengine/pkg/manager"
)

// Internal repository ids, never listed to callers.
const (
	RepoSystem      = "@System"
	RepoCommandline = "@commandline"
)

const lockFileName = "db.lck"

// ErrRefresh is returned by Refresh when the catalog asks for a failure.
var ErrRefresh = errors.New("repository metadata could not be downloaded")

// Backend serves a Catalog. All methods are safe for concurrent use.
type Backend struct {
	mu      sync.RWMutex
	cat     *Catalog
	path    string // empty for catalogs built in code
	arch    string
	workers int
	state   string // directory holding the lock file
	log     zerolog.Logger

	refreshes int
}

// Option configures a Backend.
type Option func(*Backend)

// WithArch sets the native architecture, overriding the catalog's.
func WithArch(arch string) Option {
	return func(b *Backend) {
		if arch != "" {
			b.arch = arch
		}
	}
}

// WithWorkers bounds parallel downloads.
func WithWorkers(n int) Option {
	return func(b *Backend) {
		if n > 0 {
			b.workers = n
		}
	}
}

// WithStateDir sets the directory the database lock file lives in.
func WithStateDir(dir string) Option {
	return func(b *Backend) { b.state = dir }
}

// WithLogger sets the logger.
func WithLogger(log zerolog.Logger) Option {
	return func(b *Backend) { b.log = log.With().Str("backend", "memory").Logger() }
}

// New creates a Backend over cat. The catalog is copied.
func New(cat *Catalog, opts ...Option) *Backend {
	if cat == nil {
		cat = &Catalog{}
	}
	c := cat.clone()
	c.normalize()

	b := &Backend{
		cat:     c,
		arch:    c.Arch,
		workers: 4,
		log:     zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.arch == "" {
		b.arch = "x86_64"
	}
	return b
}

// Open loads the catalog at path. Committed changes are saved back to it.
func Open(path string, opts ...Option) (*Backend, error) {
	cat, err := LoadCatalog(path)
	if err != nil {
		return nil, err
	}
	b := New(cat, opts...)
	b.path = path
	if b.state == "" {
		b.state = filepath.Dir(path)
	}
	return b, nil
}

// Name returns the short identifier for this backend.
func (b *Backend) Name() string {
	return "memory"
}

// DisplayName returns the human-readable name.
func (b *Backend) DisplayName() string {
	return "In-memory catalog"
}

// Arch returns the native architecture.
func (b *Backend) Arch() string {
	return b.arch
}

// SupportedArches returns the installable architectures.
func (b *Backend) SupportedArches() []string {
	switch b.arch {
	case "x86_64":
		return []string{"x86_64", "i686", "noarch"}
	case "noarch":
		return []string{"noarch"}
	default:
		return []string{b.arch, "noarch"}
	}
}

// Catalog returns a copy of the current state.
func (b *Backend) Catalog() *Catalog {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cat.clone()
}

// Refreshes returns how many times repository metadata was refreshed.
func (b *Backend) Refreshes() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.refreshes
}

// Packages returns installed packages and those in enabled repositories.
func (b *Backend) Packages(ctx context.Context) ([]manager.Package, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.packagesLocked(), nil
}

func (b *Backend) packagesLocked() []manager.Package {
	out := append([]manager.Package(nil), b.cat.Installed...)
	return append(out, b.availableLocked()...)
}

func (b *Backend) availableLocked() []manager.Package {
	enabled := make(map[string]bool, len(b.cat.Repos))
	for _, r := range b.cat.Repos {
		enabled[r.ID] = r.Enabled
	}
	var out []manager.Package
	for _, p := range b.cat.Packages {
		if enabled[p.Origin] {
			out = append(out, p)
		}
	}
	return out
}

// WhatProvides returns packages whose name, provides or files satisfy capability.
func (b *Backend) WhatProvides(ctx context.Context, capability string) ([]manager.Package, error) {
	pkgs, err := b.Packages(ctx)
	if err != nil {
		return nil, err
	}
	var out []manager.Package
	for _, p := range pkgs {
		if provides(p, capability) {
			out = append(out, p)
		}
	}
	return out, nil
}

// WhatRequires returns packages requiring capability.
func (b *Backend) WhatRequires(ctx context.Context, capability string) ([]manager.Package, error) {
	pkgs, err := b.Packages(ctx)
	if err != nil {
		return nil, err
	}
	var out []manager.Package
	for _, p := range pkgs {
		if p.RequiresCapability(capability) {
			out = append(out, p)
		}
	}
	return out, nil
}

func provides(p manager.Package, capability string) bool {
	if p.ProvidesCapability(capability) {
		return true
	}
	if strings.HasPrefix(capability, "/") {
		for _, f := range p.Files {
			if f == capability {
				return true
			}
		}
	}
	return false
}

// Advisories returns the advisories that cover pkgs, keyed by package id.
func (b *Backend) Advisories(ctx context.Context, pkgs []manager.Package) (map[string]manager.Advisory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	byNEVRA := make(map[string]manager.Advisory)
	for _, a := range b.cat.Advisories {
		for _, nevra := range a.Packages {
			byNEVRA[nevra] = a
		}
	}
	out := make(map[string]manager.Advisory)
	for _, p := range pkgs {
		if a, ok := byNEVRA[p.String()]; ok {
			out[p.ID()] = a
		}
	}
	return out, nil
}

// Groups returns the catalog's package groups.
func (b *Backend) Groups(ctx context.Context) ([]manager.Group, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]manager.Group(nil), b.cat.Groups...), nil
}

// OpenLocal reads package files into a snapshot that does not touch the
// backend's state.
func (b *Backend) OpenLocal(ctx context.Context, paths []string) (manager.Querier, error) {
	snap := &snapshot{}
	for _, path := range paths {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		p, err := ReadManifest(path)
		if err != nil {
			return nil, err
		}
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		p.Origin = manager.OriginLocal
		p.Installed = false
		p.Local = true
		p.LocalPath = abs
		snap.pkgs = append(snap.pkgs, p)
	}
	return snap, nil
}

// Repos returns the configured repositories plus the internal ones.
func (b *Backend) Repos(ctx context.Context) ([]manager.Repo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := cloneRepos(b.cat.Repos)
	out = append(out,
		manager.Repo{ID: RepoSystem, Name: "Installed packages", Enabled: true, Internal: true},
		manager.Repo{ID: RepoCommandline, Name: "Command line", Enabled: true, Internal: true},
	)
	return out, nil
}

// SetRepoEnabled enables or disables a repository.
func (b *Backend) SetRepoEnabled(ctx context.Context, id string, enabled bool) error {
	return b.updateRepo(ctx, id, func(r *manager.Repo) {
		r.Enabled = enabled
	})
}

// SetRepoData sets a repository key. "name" renames the repository.
func (b *Backend) SetRepoData(ctx context.Context, id, key, value string) error {
	return b.updateRepo(ctx, id, func(r *manager.Repo) {
		if key == "name" {
			r.Name = value
			return
		}
		if r.Data == nil {
			r.Data = make(map[string]string)
		}
		r.Data[key] = value
	})
}

func (b *Backend) updateRepo(ctx context.Context, id string, fn func(*manager.Repo)) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.cat.Repos {
		if b.cat.Repos[i].ID == id {
			fn(&b.cat.Repos[i])
			return b.saveLocked()
		}
	}
	return fmt.Errorf("repository %s not found", id)
}

// RepoFileOwners returns installed packages shipping the repo's file and
// the repositories defined in that file.
func (b *Backend) RepoFileOwners(ctx context.Context, id string) ([]manager.Package, []string, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()

	var file string
	for _, r := range b.cat.Repos {
		if r.ID == id {
			file = r.File
		}
	}
	if file == "" {
		return nil, nil, fmt.Errorf("repository %s has no definition file", id)
	}

	var siblings []string
	for _, r := range b.cat.Repos {
		if r.File == file {
			siblings = append(siblings, r.ID)
		}
	}
	var owners []manager.Package
	for _, p := range b.cat.Installed {
		for _, f := range p.Files {
			if f == file {
				owners = append(owners, p)
				break
			}
		}
	}
	sort.Strings(siblings)
	return owners, siblings, nil
}

// Refresh re-reads repository metadata from the catalog file.
func (b *Backend) Refresh(ctx context.Context, force bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.cat.FailRefresh {
		return ErrRefresh
	}
	b.refreshes++
	b.log.Debug().Bool("force", force).Msg("refreshing metadata")
	if b.path == "" {
		return nil
	}
	cat, err := LoadCatalog(b.path)
	if err != nil {
		return err
	}
	// Only repository metadata is refreshed; installed state stays.
	b.cat.Repos = cat.Repos
	b.cat.Packages = cat.Packages
	b.cat.Advisories = cat.Advisories
	b.cat.Groups = cat.Groups
	return nil
}

// Reload re-reads the whole catalog from disk when it has a path.
func (b *Backend) Reload(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.path == "" {
		return nil
	}
	cat, err := LoadCatalog(b.path)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.cat = cat
	b.mu.Unlock()
	return nil
}

// Repair removes a stale database lock left by an interrupted transaction.
func (b *Backend) Repair(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if b.state == "" {
		return nil
	}
	lock := filepath.Join(b.state, lockFileName)
	if err := os.Remove(lock); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s: %w", lock, err)
	}
	b.log.Info().Str("path", lock).Msg("removed stale database lock")
	return nil
}

func (b *Backend) saveLocked() error {
	if b.path == "" {
		return nil
	}
	return b.cat.Save(b.path)
}

// snapshot is a read-only Querier over a fixed package list.
type snapshot struct {
	pkgs []manager.Package
}

func (s *snapshot) Packages(ctx context.Context) ([]manager.Package, error) {
	return append([]manager.Package(nil), s.pkgs...), ctx.Err()
}

func (s *snapshot) WhatProvides(_ context.Context, capability string) ([]manager.Package, error) {
	var out []manager.Package
	for _, p := range s.pkgs {
		if provides(p, capability) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *snapshot) WhatRequires(_ context.Context, capability string) ([]manager.Package, error) {
	var out []manager.Package
	for _, p := range s.pkgs {
		if p.RequiresCapability(capability) {
			out = append(out, p)
		}
	}
	return out, nil
}
