package memory

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"pkengine/pkg/manager"
)

// Commit applies items one at a time. An injected failure stops the
// transaction at that item; earlier items stay applied and the database
// lock is left behind, as an interrupted native transaction would.
func (b *Backend) Commit(_ context.Context, items []manager.Item, progress manager.CommitProgress) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	lock, err := b.lockLocked()
	if err != nil {
		return nil, err
	}

	fail := nameSet(b.cat.FailCommit)
	progress.Begin(len(items))
	for _, it := range items {
		progress.ItemStart(it)
		if fail[it.Package.Name] {
			if err := b.saveLocked(); err != nil {
				b.log.Warn().Err(err).Msg("failed to save partial transaction")
			}
			return []string{fmt.Sprintf("error during %s of %s: scriptlet failed", it.Action, it.Package)}, nil
		}

		total := it.Package.InstallSize
		if total == 0 {
			total = 1
		}
		progress.ItemProgress(it, 0, total)
		b.apply(it)
		progress.ItemProgress(it, total, total)
		progress.ItemDone(it)
	}

	if err := b.saveLocked(); err != nil {
		return nil, err
	}
	if lock != "" {
		if err := os.Remove(lock); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to release database lock: %w", err)
		}
	}
	return nil, nil
}

// lockLocked creates the database lock file, failing if one is present.
func (b *Backend) lockLocked() (string, error) {
	if b.state == "" {
		return "", nil
	}
	if err := os.MkdirAll(b.state, 0755); err != nil {
		return "", err
	}
	path := filepath.Join(b.state, lockFileName)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		if os.IsExist(err) {
			return "", fmt.Errorf("unable to lock database: %s exists", path)
		}
		return "", err
	}
	f.Close()
	return path, nil
}

func (b *Backend) apply(it manager.Item) {
	p := it.Package
	switch it.Action {
	case manager.ActionInstall, manager.ActionUpgrade, manager.ActionDowngrade:
		b.cat.Installed = append(b.cat.Installed, installedRecord(p))
	case manager.ActionReinstall:
		b.dropInstalled(p)
		b.cat.Installed = append(b.cat.Installed, installedRecord(p))
	case manager.ActionRemove, manager.ActionReplaced:
		b.dropInstalled(p)
	}
}

func installedRecord(p manager.Package) manager.Package {
	rec := p
	rec.Installed = true
	rec.FromRepo = p.Origin
	if p.Origin == manager.OriginLocal {
		rec.FromRepo = RepoCommandline
	}
	rec.Origin = manager.OriginInstalled
	rec.InstallTime = time.Now().UTC().Truncate(time.Second)
	rec.Local = false
	rec.LocalPath = ""
	if rec.Reason == "" {
		rec.Reason = manager.ReasonUser
	}
	return rec
}

func (b *Backend) dropInstalled(p manager.Package) {
	out := b.cat.Installed[:0]
	for _, q := range b.cat.Installed {
		if q.Name == p.Name && q.EVR == p.EVR && q.Arch == p.Arch {
			continue
		}
		out = append(out, q)
	}
	b.cat.Installed = out
}
