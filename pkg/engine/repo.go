package engine

import (
	"fmt"
	"strings"

	"pkengine/pkg/manager"
)

func handleRepoEnable(t *task) error {
	return t.setRepoEnabled(t.job.Params.RepoID, t.job.Params.Enabled)
}

func handleRepoSetData(t *task) error {
	p := t.job.Params
	if p.Key == "enabled" {
		enabled, err := parseBool(p.Value)
		if err != nil {
			return err
		}
		return t.setRepoEnabled(p.RepoID, enabled)
	}

	if _, err := t.findRepo(p.RepoID); err != nil {
		return err
	}
	t.job.setStatus(StatusSetup)
	if err := t.backend.SetRepoData(t.ctx, p.RepoID, p.Key, p.Value); err != nil {
		return t.nativeError("cannot set repository data", err)
	}
	return t.reload()
}

func (t *task) setRepoEnabled(id string, enabled bool) error {
	repo, err := t.findRepo(id)
	if err != nil {
		return err
	}
	if repo.Enabled == enabled {
		return NewError(CodeRepoAlreadySet, "Repo already in state")
	}
	if err := t.backend.SetRepoEnabled(t.ctx, id, enabled); err != nil {
		return t.nativeError("cannot change repository state", err)
	}
	return t.reload()
}

func (t *task) findRepo(id string) (manager.Repo, error) {
	t.job.setStatus(StatusQuery)
	repos, err := t.backend.Repos(t.ctx)
	if err != nil {
		return manager.Repo{}, t.nativeError("cannot list repositories", err)
	}
	for _, r := range repos {
		if r.ID == id && !r.Internal {
			return r, nil
		}
	}
	return manager.Repo{}, NewError(CodeRepoNotFound, fmt.Sprintf("Repo %s not found", id))
}

func handleRepoRemove(t *task) error {
	p := t.job.Params
	if _, err := t.findRepo(p.RepoID); err != nil {
		return err
	}
	owners, siblings, err := t.backend.RepoFileOwners(t.ctx, p.RepoID)
	if err != nil {
		return t.nativeError("cannot find repository file owners", err)
	}
	if len(owners) == 0 {
		return NewError(CodePackageNotFound, fmt.Sprintf("No package owns the file defining repo %s", p.RepoID))
	}

	goal := &manager.Goal{}
	for _, o := range owners {
		goal.Remove(o)
	}
	if p.Autoremove {
		goal.CleanDeps = true
		snapshot, err := t.snapshot()
		if err != nil {
			return err
		}
		from := make(map[string]struct{}, len(siblings))
		for _, s := range siblings {
			from[s] = struct{}{}
		}
		for _, pkg := range snapshot {
			if _, ok := from[pkg.FromRepo]; ok && pkg.Installed {
				goal.Remove(pkg)
			}
		}
	}
	return t.transact(goal, nil)
}

func handleRefreshCache(t *task) error {
	t.job.setStatus(StatusRefreshCache)
	if err := t.backend.Refresh(t.ctx, t.job.Params.Force); err != nil {
		if cerr := t.job.checkCancel(); cerr != nil {
			return cerr
		}
		return WrapError(CodeInternalError, "failed to refresh repository metadata", err)
	}
	t.job.setProgress(100)
	return t.reload()
}

func handleCancel(t *task) error {
	if t.job.Params.JobID == "" {
		return NewError(CodeInternalError, "no job id to cancel")
	}
	return t.engine.Cancel(t.job.Params.JobID)
}

func parseBool(s string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "true", "yes", "on":
		return true, nil
	case "0", "false", "no", "off":
		return false, nil
	}
	return false, NewError(CodeInternalError, fmt.Sprintf("invalid boolean %q", s))
}
