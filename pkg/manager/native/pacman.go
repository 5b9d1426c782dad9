package native

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

	"pkengine/internal/executor"
	"pkengine/pkg/manager"
)

const (
	defaultConfig = "/etc/pacman.conf"
	defaultDBPath = "/var/lib/pacman"
	lockFileName  = "db.lck"
)

// PacmanOptions configures the pacman backend. Empty fields take the
// distribution defaults.
type PacmanOptions struct {
	Binary     string // pacman
	ConfBinary string // pacman-conf
	Config     string // /etc/pacman.conf
	DBPath     string // /var/lib/pacman
	Arch       string
	Logger     zerolog.Logger
}

// Pacman is the Backend for Arch Linux's pacman. Queries parse pacman's
// info output; transactions are computed with --print and applied with
// -S, -U and -R.
type Pacman struct {
	*BaseManager
	confBinary string
	config     string
	dbPath     string
	arch       string

	mu       sync.Mutex
	cur      *pacmanState
	payloads map[string]string // package id to downloaded file
}

var (
	_ manager.Backend     = (*Pacman)(nil)
	_ manager.LocalOpener = (*Pacman)(nil)
	_ manager.Repairer    = (*Pacman)(nil)
	_ manager.GroupLister = (*Pacman)(nil)
)

// pacmanState is one read of the local and sync databases.
type pacmanState struct {
	installed []manager.Package
	available []manager.Package
	groups    map[string][]string // group id to member names
}

// NewPacman creates a pacman backend that runs commands with run.
func NewPacman(run executor.Runner, opts PacmanOptions) *Pacman {
	if opts.Binary == "" {
		opts.Binary = "pacman"
	}
	if opts.ConfBinary == "" {
		opts.ConfBinary = "pacman-conf"
	}
	if opts.Config == "" {
		opts.Config = defaultConfig
	}
	if opts.DBPath == "" {
		opts.DBPath = defaultDBPath
	}
	if opts.Arch == "" {
		opts.Arch = "x86_64"
	}
	return &Pacman{
		BaseManager: NewBaseManager("pacman", "Pacman (Arch Linux)", opts.Binary, run, opts.Logger),
		confBinary:  opts.ConfBinary,
		config:      opts.Config,
		dbPath:      opts.DBPath,
		arch:        opts.Arch,
	}
}

// Arch returns the native architecture.
func (p *Pacman) Arch() string {
	return p.arch
}

// SupportedArches returns the native architecture and "any".
func (p *Pacman) SupportedArches() []string {
	return []string{p.arch, "any"}
}

// state returns the cached database read, loading it when needed.
func (p *Pacman) state(ctx context.Context) (*pacmanState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cur != nil {
		return p.cur, nil
	}
	st, err := p.load(ctx)
	if err != nil {
		return nil, err
	}
	p.cur = st
	return st, nil
}

func (p *Pacman) invalidate() {
	p.mu.Lock()
	p.cur = nil
	p.mu.Unlock()
}

func (p *Pacman) load(ctx context.Context) (*pacmanState, error) {
	local, err := p.query(ctx, "-Qi")
	if err != nil {
		return nil, fmt.Errorf("pacman: cannot read local database: %w", err)
	}
	fileList, err := p.query(ctx, "-Ql")
	if err != nil {
		return nil, fmt.Errorf("pacman: cannot list installed files: %w", err)
	}
	remote, err := p.query(ctx, "-Si")
	if err != nil {
		return nil, fmt.Errorf("pacman: cannot read sync databases: %w", err)
	}

	st := &pacmanState{groups: make(map[string][]string)}
	firstRepo := make(map[string]string)
	for _, b := range parseInfoBlocks(remote) {
		pkg := b.pkg("")
		st.available = append(st.available, pkg)
		if _, ok := firstRepo[pkg.Name]; !ok {
			firstRepo[pkg.Name] = pkg.Origin
		}
		for _, g := range b.list("Groups") {
			st.addGroupMember(g, pkg.Name)
		}
	}

	files := parseFileList(fileList)
	for _, b := range parseInfoBlocks(local) {
		pkg := b.pkg("")
		pkg.Origin = manager.OriginInstalled
		pkg.Installed = true
		pkg.FromRepo = firstRepo[pkg.Name]
		pkg.Files = files[pkg.Name]
		if pkg.Reason == "" {
			pkg.Reason = manager.ReasonUser
		}
		st.installed = append(st.installed, pkg)
		for _, g := range b.list("Groups") {
			st.addGroupMember(g, pkg.Name)
		}
	}

	p.log.Debug().Int("installed", len(st.installed)).Int("available", len(st.available)).Msg("loaded databases")
	return st, nil
}

func (s *pacmanState) addGroupMember(group, name string) {
	for _, n := range s.groups[group] {
		if n == name {
			return
		}
	}
	s.groups[group] = append(s.groups[group], name)
}

func (s *pacmanState) installedByName(name string) *manager.Package {
	for i := range s.installed {
		if s.installed[i].Name == name {
			return &s.installed[i]
		}
	}
	return nil
}

// newestAvailable returns the available record of name from the first
// repository carrying it, which is the one pacman installs.
func (s *pacmanState) newestAvailable(name string) *manager.Package {
	for i := range s.available {
		if s.available[i].Name == name {
			return &s.available[i]
		}
	}
	return nil
}

func (s *pacmanState) availableRecord(name, evr, repo string) *manager.Package {
	for i := range s.available {
		a := &s.available[i]
		if a.Name == name && a.EVR == evr && (repo == "" || a.Origin == repo) {
			return a
		}
	}
	return nil
}

// Packages returns installed packages and those in the sync databases.
func (p *Pacman) Packages(ctx context.Context) ([]manager.Package, error) {
	st, err := p.state(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]manager.Package, 0, len(st.installed)+len(st.available))
	out = append(out, st.installed...)
	return append(out, st.available...), nil
}

// WhatProvides returns packages whose name, provides or files satisfy capability.
func (p *Pacman) WhatProvides(ctx context.Context, capability string) ([]manager.Package, error) {
	pkgs, err := p.Packages(ctx)
	if err != nil {
		return nil, err
	}
	var out []manager.Package
	for _, pkg := range pkgs {
		if provides(pkg, capability) {
			out = append(out, pkg)
		}
	}
	return out, nil
}

// WhatRequires returns packages depending on capability.
func (p *Pacman) WhatRequires(ctx context.Context, capability string) ([]manager.Package, error) {
	pkgs, err := p.Packages(ctx)
	if err != nil {
		return nil, err
	}
	var out []manager.Package
	for _, pkg := range pkgs {
		if pkg.RequiresCapability(capability) {
			out = append(out, pkg)
		}
	}
	return out, nil
}

func provides(pkg manager.Package, capability string) bool {
	if pkg.ProvidesCapability(capability) {
		return true
	}
	if strings.HasPrefix(capability, "/") {
		for _, f := range pkg.Files {
			if f == capability {
				return true
			}
		}
	}
	return false
}

// Groups returns the package groups.
func (p *Pacman) Groups(ctx context.Context) ([]manager.Group, error) {
	st, err := p.state(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]manager.Group, 0, len(st.groups))
	for id, members := range st.groups {
		g := manager.Group{ID: id, Name: id, Packages: append([]string(nil), members...)}
		for _, m := range members {
			if st.installedByName(m) != nil {
				g.Installed = true
				break
			}
		}
		out = append(out, g)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// OpenLocal reads package files with `pacman -Qpi` and `-Qpl`.
func (p *Pacman) OpenLocal(ctx context.Context, paths []string) (manager.Querier, error) {
	snap := &localSnapshot{}
	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			abs = path
		}
		info, err := p.query(ctx, "-Qpi", abs)
		if err != nil {
			return nil, fmt.Errorf("pacman: cannot read %s: %w", path, err)
		}
		blocks := parseInfoBlocks(info)
		if len(blocks) == 0 {
			return nil, fmt.Errorf("pacman: %s is not a package file", path)
		}
		pkg := blocks[0].pkg(manager.OriginLocal)
		pkg.Local = true
		pkg.LocalPath = abs

		if list, err := p.query(ctx, "-Qpl", abs); err == nil {
			pkg.Files = parseFileList(list)[pkg.Name]
		}
		snap.pkgs = append(snap.pkgs, pkg)
	}
	return snap, nil
}

// Repos lists the repositories configured in pacman.conf. pacman has no
// disabled repositories.
func (p *Pacman) Repos(ctx context.Context) ([]manager.Repo, error) {
	out, err := p.run.Output(ctx, p.confBinary, "--config", p.config, "--repo-list")
	if err != nil {
		return nil, fmt.Errorf("pacman: cannot list repositories: %w", err)
	}
	var repos []manager.Repo
	for _, name := range parseLines(out) {
		repos = append(repos, manager.Repo{ID: name, Name: name, Enabled: true, File: p.config})
	}
	return repos, nil
}

// SetRepoEnabled is not supported; repositories are edited in pacman.conf.
func (p *Pacman) SetRepoEnabled(context.Context, string, bool) error {
	return p.repoMutation()
}

// SetRepoData is not supported.
func (p *Pacman) SetRepoData(context.Context, string, string, string) error {
	return p.repoMutation()
}

// RepoFileOwners is not supported: every repository lives in pacman.conf,
// which the pacman package itself owns.
func (p *Pacman) RepoFileOwners(context.Context, string) ([]manager.Package, []string, error) {
	return nil, nil, p.repoMutation()
}

func (p *Pacman) repoMutation() error {
	return fmt.Errorf("pacman: repositories are configured in %s: %w", p.config, manager.ErrNotSupported)
}

// Refresh downloads fresh sync databases; force downloads them even when
// they are up to date.
func (p *Pacman) Refresh(ctx context.Context, force bool) error {
	args := []string{"-Sy"}
	if force {
		args = []string{"-Syy"}
	}
	defer p.invalidate()
	res, err := p.privileged(ctx, args...)
	if err != nil {
		return p.runError(res, err)
	}
	return nil
}

// Reload drops the cached database read.
func (p *Pacman) Reload(ctx context.Context) error {
	p.invalidate()
	return ctx.Err()
}

// Repair removes a stale database lock left by an interrupted pacman.
func (p *Pacman) Repair(ctx context.Context) error {
	lock := filepath.Join(p.dbPath, lockFileName)
	if _, err := os.Stat(lock); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if _, err := p.run.RunPrivileged(ctx, "rm", "-f", lock); err != nil {
		return fmt.Errorf("failed to remove %s: %w", lock, err)
	}
	p.log.Info().Str("path", lock).Msg("removed stale database lock")
	p.invalidate()
	return nil
}

// runError classifies a failed command, keeping cancellation intact.
func (p *Pacman) runError(res executor.Result, err error) error {
	var xerr *executor.ExitError
	if !errors.As(err, &xerr) {
		return err
	}
	if pacErr := ParsePacmanError(res.Stderr, err); pacErr != nil {
		return pacErr
	}
	return err
}

// localSnapshot is a read-only Querier over opened package files.
type localSnapshot struct {
	pkgs []manager.Package
}

func (s *localSnapshot) Packages(ctx context.Context) ([]manager.Package, error) {
	return append([]manager.Package(nil), s.pkgs...), ctx.Err()
}

func (s *localSnapshot) WhatProvides(_ context.Context, capability string) ([]manager.Package, error) {
	var out []manager.Package
	for _, pkg := range s.pkgs {
		if provides(pkg, capability) {
			out = append(out, pkg)
		}
	}
	return out, nil
}

func (s *localSnapshot) WhatRequires(_ context.Context, capability string) ([]manager.Package, error) {
	var out []manager.Package
	for _, pkg := range s.pkgs {
		if pkg.RequiresCapability(capability) {
			out = append(out, pkg)
		}
	}
	return out, nil
}
