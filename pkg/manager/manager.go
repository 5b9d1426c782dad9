package manager

import (
	"context"
	"errors"
)

// ErrNotSupported is returned by backends for operations they cannot perform.
var ErrNotSupported = errors.New("operation not supported by this backend")

// Querier exposes a package snapshot.
type Querier interface {
	// Packages returns every installed and available package.
	Packages(ctx context.Context) ([]Package, error)

	// WhatProvides returns packages providing the capability.
	WhatProvides(ctx context.Context, capability string) ([]Package, error)

	// WhatRequires returns packages requiring the capability.
	WhatRequires(ctx context.Context, capability string) ([]Package, error)
}

// Resolver turns a goal into concrete changes using the native solver.
type Resolver interface {
	Resolve(ctx context.Context, goal *Goal) (*Resolution, error)
}

// DownloadProgress receives per-item download progress. Implementations must
// be safe for concurrent use; backends may download in parallel.
type DownloadProgress interface {
	Add(key string, size uint64)
	Update(key string, downloaded uint64)
	Done(key string)
}

// Downloader fetches package payloads into dir and returns the local paths.
type Downloader interface {
	Download(ctx context.Context, pkgs []Package, dir string, progress DownloadProgress) ([]string, error)
}

// CommitProgress receives progress while a transaction is applied.
type CommitProgress interface {
	Begin(total int)
	ItemStart(item Item)
	ItemProgress(item Item, amount, total uint64)
	ItemDone(item Item)
}

// Committer applies resolved changes. A non-empty problem list means the
// commit failed; the package database may be partially changed.
type Committer interface {
	Commit(ctx context.Context, items []Item, progress CommitProgress) ([]string, error)
}

// RepoManager manages repository configuration.
type RepoManager interface {
	Repos(ctx context.Context) ([]Repo, error)
	SetRepoEnabled(ctx context.Context, id string, enabled bool) error
	SetRepoData(ctx context.Context, id, key, value string) error

	// RepoFileOwners returns the installed packages owning the file that
	// defines repo id, and the ids of all repositories defined in that file.
	RepoFileOwners(ctx context.Context, id string) ([]Package, []string, error)
}

// Refresher refreshes repository metadata.
type Refresher interface {
	Refresh(ctx context.Context, force bool) error
}

// Reloader re-opens the package database so later queries see committed changes.
type Reloader interface {
	Reload(ctx context.Context) error
}

// Backend is the native package-manager capability the engine drives.
type Backend interface {
	// Name returns the short identifier for this backend (e.g., "memory", "pacman").
	Name() string

	// DisplayName returns a human-readable name.
	DisplayName() string

	// Arch returns the native architecture (e.g., "x86_64").
	Arch() string

	// SupportedArches returns every architecture installable on this system.
	SupportedArches() []string

	Querier
	Resolver
	Downloader
	Committer
	RepoManager
	Refresher
	Reloader
}

// Advisor is implemented by backends that carry update advisories.
// The returned map is keyed by canonical package id.
type Advisor interface {
	Advisories(ctx context.Context, pkgs []Package) (map[string]Advisory, error)
}

// LocalOpener is implemented by backends that can read local package files
// into a throwaway snapshot, independent of the main package database.
type LocalOpener interface {
	OpenLocal(ctx context.Context, paths []string) (Querier, error)
}

// Repairer is implemented by backends that can repair a broken package database.
type Repairer interface {
	Repair(ctx context.Context) error
}

// GroupLister is implemented by backends with package groups.
type GroupLister interface {
	Groups(ctx context.Context) ([]Group, error)
}

// VersionComparer is implemented by backends with their own version collation.
type VersionComparer interface {
	CompareEVR(a, b string) int
}
