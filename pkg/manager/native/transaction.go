package native

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"pkengine/internal/executor"
	"pkengine/pkg/manager"
)

// pacman's --ask bit that answers yes to removing conflicting packages.
const askRemoveConflicts = "--ask=4"

// Resolve asks pacman which packages a goal touches with --print and
// classifies them against the installed versions.
func (p *Pacman) Resolve(ctx context.Context, goal *manager.Goal) (*manager.Resolution, error) {
	st, err := p.state(ctx)
	if err != nil {
		return nil, err
	}
	r := newPlan(st, goal)
	for _, op := range goal.Operations {
		r.add(op)
	}
	if len(r.problems) > 0 {
		return &manager.Resolution{Problems: r.problems}, nil
	}

	if len(r.sync) > 0 || r.sysupgrade > 0 {
		args := []string{"-S", "--print", "--print-format", printFormat}
		for i := 0; i < r.sysupgrade; i++ {
			args = append(args, "-u")
		}
		if goal.AllowErasing {
			args = append(args, askRemoveConflicts)
		}
		out, err := p.query(ctx, append(args, r.sync...)...)
		if err != nil {
			return p.resolveFailed(err)
		}
		for _, line := range parsePrinted(out) {
			r.inboundLine(line, false)
		}
	}

	if len(r.files) > 0 {
		args := []string{"-U", "--print", "--print-format", printFormat}
		if goal.AllowErasing {
			args = append(args, askRemoveConflicts)
		}
		out, err := p.query(ctx, append(args, r.files...)...)
		if err != nil {
			return p.resolveFailed(err)
		}
		for _, line := range parsePrinted(out) {
			r.inboundLine(line, true)
		}
	}

	if len(r.remove) > 0 {
		args := []string{"-R", "--print", "--print-format", printFormat, "--cascade"}
		if goal.CleanDeps {
			args = append(args, "--recursive")
		}
		out, err := p.query(ctx, append(args, r.remove...)...)
		if err != nil {
			return p.resolveFailed(err)
		}
		for _, line := range parsePrinted(out) {
			if old := st.installedByName(line.Name); old != nil {
				r.addRemoval(*old, manager.ActionRemove)
			}
		}
	}

	r.replacements()
	return r.resolution(), nil
}

// resolveFailed turns a failed --print run into resolution problems.
func (p *Pacman) resolveFailed(err error) (*manager.Resolution, error) {
	var xerr *executor.ExitError
	if !errors.As(err, &xerr) {
		return nil, err
	}
	return &manager.Resolution{Problems: problemsOf(xerr.Stderr, err)}, nil
}

// plan collects pacman targets for a goal and the classified changes.
type plan struct {
	st   *pacmanState
	goal *manager.Goal

	sync       []string // repo/name targets for -S
	files      []string // package files for -U
	remove     []string
	sysupgrade int // number of -u flags
	explicit   map[string]bool
	local      map[string]manager.Package // by name

	inbound  map[string]bool
	items    []manager.Item
	removing map[string]bool
	removals []manager.Item
	problems []string
}

func newPlan(st *pacmanState, goal *manager.Goal) *plan {
	return &plan{
		st:       st,
		goal:     goal,
		explicit: make(map[string]bool),
		local:    make(map[string]manager.Package),
		inbound:  make(map[string]bool),
		removing: make(map[string]bool),
	}
}

func (r *plan) problem(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	for _, p := range r.problems {
		if p == msg {
			return
		}
	}
	r.problems = append(r.problems, msg)
}

func (r *plan) add(op manager.Operation) {
	pkg := op.Package
	switch op.Kind {
	case manager.GoalInstall:
		r.explicit[pkg.Name] = true
		switch {
		case pkg.Local:
			r.local[pkg.Name] = pkg
			r.files = append(r.files, pkg.LocalPath)
		case pkg.Installed:
			if pkg.FromRepo == "" {
				r.problem("Installed package %s is not available for reinstall", pkg)
				return
			}
			r.sync = append(r.sync, pkg.FromRepo+"/"+pkg.Name)
		default:
			r.sync = append(r.sync, pkg.Origin+"/"+pkg.Name)
		}
	case manager.GoalRemove:
		if r.st.installedByName(pkg.Name) == nil {
			r.problem("Package %s is not installed", pkg.Name)
			return
		}
		r.remove = append(r.remove, pkg.Name)
	case manager.GoalUpgrade:
		r.upgrade(pkg)
	case manager.GoalUpgradeAll:
		r.sysupgrade = max(r.sysupgrade, 1)
	case manager.GoalDistroSync:
		// -uu also downgrades packages newer than the repositories.
		r.sysupgrade = 2
	case manager.GoalGroupUpgrade:
		members, ok := r.st.groups[op.Group]
		if !ok {
			r.problem("Group %s not found", op.Group)
			return
		}
		for _, name := range members {
			if old := r.st.installedByName(name); old != nil {
				r.upgrade(*old)
			}
		}
	}
}

func (r *plan) upgrade(pkg manager.Package) {
	old := r.st.installedByName(pkg.Name)
	if old == nil {
		r.problem("Package %s is not installed", pkg.Name)
		return
	}
	target := pkg
	if pkg.Installed {
		t := r.st.newestAvailable(pkg.Name)
		if t == nil {
			return
		}
		target = *t
	}
	if manager.CompareEVR(target.EVR, old.EVR) > 0 {
		r.sync = append(r.sync, target.Origin+"/"+target.Name)
	}
}

// inboundLine classifies one package pacman would install.
func (r *plan) inboundLine(line printed, fromFile bool) {
	var pkg manager.Package
	switch rec, ok := r.local[line.Name]; {
	case fromFile && ok:
		pkg = rec
	default:
		if a := r.st.availableRecord(line.Name, line.EVR, line.Repo); a != nil {
			pkg = *a
		} else {
			pkg = manager.Package{Name: line.Name, EVR: line.EVR, Arch: line.Arch, Origin: line.Repo, DownloadSize: line.Size}
		}
	}
	r.change(pkg)
}

func (r *plan) change(pkg manager.Package) {
	if r.inbound[pkg.Name] {
		return
	}
	r.inbound[pkg.Name] = true

	old := r.st.installedByName(pkg.Name)
	if old == nil {
		pkg.Reason = manager.ReasonDependency
		if r.explicit[pkg.Name] {
			pkg.Reason = manager.ReasonUser
		}
		r.items = append(r.items, manager.Item{Package: pkg, Action: manager.ActionInstall})
		return
	}

	pkg.Reason = old.Reason
	switch c := manager.CompareEVR(pkg.EVR, old.EVR); {
	case c == 0:
		r.items = append(r.items, manager.Item{Package: pkg, Action: manager.ActionReinstall})
	case c > 0:
		r.items = append(r.items, manager.Item{Package: pkg, Action: manager.ActionUpgrade})
		r.addRemoval(*old, manager.ActionReplaced)
	default:
		r.items = append(r.items, manager.Item{Package: pkg, Action: manager.ActionDowngrade})
		r.addRemoval(*old, manager.ActionReplaced)
	}
}

func (r *plan) addRemoval(pkg manager.Package, action manager.Action) {
	if r.removing[pkg.Name] {
		return
	}
	r.removing[pkg.Name] = true
	r.removals = append(r.removals, manager.Item{Package: pkg, Action: action})
}

// replacements marks installed packages that inbound packages replace or
// conflict with. pacman removes both during the same -S run.
func (r *plan) replacements() {
	for _, it := range r.items {
		for _, rep := range it.Package.Obsoletes {
			name := manager.CapabilityName(rep)
			if old := r.st.installedByName(name); old != nil && name != it.Package.Name {
				r.addRemoval(*old, manager.ActionReplaced)
			}
		}
	}
	for _, it := range r.items {
		for _, c := range it.Package.Conflicts {
			for _, inst := range r.st.installed {
				if inst.Name == it.Package.Name || r.removing[inst.Name] || r.inbound[inst.Name] {
					continue
				}
				if !inst.ProvidesCapability(c) {
					continue
				}
				if !r.goal.AllowErasing {
					r.problem("%s conflicts with installed %s", it.Package, inst)
					continue
				}
				r.addRemoval(inst, manager.ActionRemove)
			}
		}
	}
}

func (r *plan) resolution() *manager.Resolution {
	if len(r.problems) > 0 {
		return &manager.Resolution{Problems: r.problems}
	}
	items := make([]manager.Item, 0, len(r.items)+len(r.removals))
	items = append(items, r.items...)
	return &manager.Resolution{Items: append(items, r.removals...)}
}

// Download fetches payloads into dir with `pacman -Sw --cachedir`.
func (p *Pacman) Download(ctx context.Context, pkgs []manager.Package, dir string, progress manager.DownloadProgress) ([]string, error) {
	if len(pkgs) == 0 {
		return nil, nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create download directory: %w", err)
	}

	args := []string{"-Sw", "--noconfirm", "--cachedir", dir}
	for _, pkg := range pkgs {
		progress.Add(pkg.ID(), pkg.DownloadSize)
		args = append(args, pkg.Origin+"/"+pkg.Name)
	}
	res, err := p.privileged(ctx, args...)
	if err != nil {
		return nil, p.runError(res, err)
	}

	paths := make([]string, 0, len(pkgs))
	for _, pkg := range pkgs {
		path, err := findPayload(dir, pkg)
		if err != nil {
			return nil, err
		}
		progress.Update(pkg.ID(), pkg.DownloadSize)
		progress.Done(pkg.ID())
		paths = append(paths, path)
	}

	p.mu.Lock()
	if p.payloads == nil {
		p.payloads = make(map[string]string)
	}
	for i, pkg := range pkgs {
		p.payloads[pkg.ID()] = paths[i]
	}
	p.mu.Unlock()
	return paths, nil
}

// findPayload locates name-evr-arch.pkg.tar.* in dir, skipping signatures.
func findPayload(dir string, pkg manager.Package) (string, error) {
	pattern := filepath.Join(dir, fmt.Sprintf("%s-%s-%s.pkg.tar*", pkg.Name, pkg.EVR, pkg.Arch))
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return "", err
	}
	for _, m := range matches {
		if !strings.HasSuffix(m, ".sig") {
			return m, nil
		}
	}
	return "", fmt.Errorf("payload for %s not found in %s", pkg, dir)
}

// commitStep is one pacman run and the items it applies.
type commitStep struct {
	args  []string
	items []manager.Item
}

// Commit applies items: package files and downloaded payloads with -U,
// other repository packages with -S, then plain removals with -R.
// Dependencies are marked with -D afterwards.
func (p *Pacman) Commit(ctx context.Context, items []manager.Item, progress manager.CommitProgress) ([]string, error) {
	p.mu.Lock()
	payloads := p.payloads
	p.payloads = nil
	p.mu.Unlock()
	defer p.invalidate()
	progress.Begin(len(items))

	displaced := make(map[string]bool)
	for _, it := range items {
		if !it.Action.Inbound() {
			continue
		}
		for _, c := range append(append([]string(nil), it.Package.Conflicts...), it.Package.Obsoletes...) {
			displaced[manager.CapabilityName(c)] = true
		}
	}

	files := commitStep{args: []string{"-U", "--noconfirm"}}
	repo := commitStep{args: []string{"-S", "--noconfirm"}}
	remove := commitStep{args: []string{"-R", "--noconfirm"}}
	var implicit []manager.Item
	var deps []string
	for _, it := range items {
		pkg := it.Package
		path := payloads[pkg.ID()]
		if pkg.Local {
			path = pkg.LocalPath
		}
		switch {
		case it.Action.Inbound() && path != "":
			files.args = append(files.args, path)
			files.items = append(files.items, it)
		case it.Action.Inbound():
			repo.args = append(repo.args, pkg.Origin+"/"+pkg.Name)
			repo.items = append(repo.items, it)
		case it.Action == manager.ActionReplaced || displaced[pkg.Name]:
			implicit = append(implicit, it)
		default:
			remove.args = append(remove.args, pkg.Name)
			remove.items = append(remove.items, it)
		}
		if it.Action == manager.ActionInstall && pkg.Reason == manager.ReasonDependency {
			deps = append(deps, pkg.Name)
		}
	}
	if len(implicit) > 0 {
		files.args = append(files.args, askRemoveConflicts)
		repo.args = append(repo.args, askRemoveConflicts)
	}

	for _, step := range []commitStep{files, repo, remove} {
		if len(step.items) == 0 {
			continue
		}
		if problems, err := p.commitStep(ctx, step, progress); problems != nil || err != nil {
			return problems, err
		}
	}
	for _, it := range implicit {
		progress.ItemStart(it)
		progress.ItemDone(it)
	}

	if len(deps) > 0 {
		res, err := p.privileged(ctx, append([]string{"-D", "--asdeps"}, deps...)...)
		if err != nil {
			return p.commitFailed(res, err)
		}
	}
	return nil, nil
}

func (p *Pacman) commitStep(ctx context.Context, step commitStep, progress manager.CommitProgress) ([]string, error) {
	for _, it := range step.items {
		progress.ItemStart(it)
	}
	res, err := p.privileged(ctx, step.args...)
	if err != nil {
		return p.commitFailed(res, err)
	}
	for _, it := range step.items {
		progress.ItemProgress(it, 1, 1)
		progress.ItemDone(it)
	}
	return nil, nil
}

// commitFailed reports a failed run as problems when pacman said why.
func (p *Pacman) commitFailed(res executor.Result, err error) ([]string, error) {
	var xerr *executor.ExitError
	if !errors.As(err, &xerr) {
		return nil, err
	}
	return problemsOf(res.Stderr, err), nil
}
