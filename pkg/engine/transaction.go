package engine

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"pkengine/pkg/manager"
)

func handleInstallPackages(t *task) error {
	pkgs, err := t.resolveAllIDs(t.job.Params.PackageIDs, false)
	if err != nil {
		return err
	}
	goal := &manager.Goal{}
	for _, p := range pkgs {
		goal.Install(p)
	}
	return t.transact(goal, t.checkReinstall)
}

func handleUpdatePackages(t *task) error {
	goal := &manager.Goal{}
	if len(t.job.Params.PackageIDs) == 0 {
		if t.engine.opts.DistroSync {
			goal.DistroSync()
			goal.AllowDowngrade = true
		} else {
			goal.UpgradeAll()
		}
		return t.transact(goal, nil)
	}

	pkgs, err := t.resolveAllIDs(t.job.Params.PackageIDs, false)
	if err != nil {
		return err
	}
	for _, p := range pkgs {
		goal.Upgrade(p)
	}
	return t.transact(goal, nil)
}

func handleRemovePackages(t *task) error {
	pkgs, err := t.resolveAllIDs(t.job.Params.PackageIDs, true)
	if err != nil {
		return err
	}
	requested := make(map[string]struct{}, len(pkgs))
	goal := &manager.Goal{CleanDeps: t.job.Params.Autoremove}
	for _, p := range pkgs {
		if !p.Installed {
			return NewError(CodePackageNotFound, fmt.Sprintf("Package %s is not installed", p))
		}
		requested[p.ID()] = struct{}{}
		goal.Remove(p)
	}

	return t.transact(goal, func(plan *Plan) error {
		if t.job.Params.AllowDeps {
			return nil
		}
		var extra []string
		for _, it := range plan.Items {
			if it.Action != manager.ActionRemove {
				continue
			}
			if _, ok := requested[it.Package.ID()]; ok {
				continue
			}
			if goal.CleanDeps && it.Package.Reason == manager.ReasonDependency {
				continue
			}
			extra = append(extra, it.Package.String())
		}
		if len(extra) == 0 {
			return nil
		}
		sort.Strings(extra)
		return NewError(CodeDepResolutionFailed,
			"The following packages would have to be removed: "+strings.Join(extra, ", "))
	})
}

func handleInstallFiles(t *task) error {
	pkgs, err := t.openLocal()
	if err != nil {
		return err
	}
	goal := &manager.Goal{}
	for _, p := range pkgs {
		goal.Install(p)
	}
	return t.transact(goal, t.checkReinstall)
}

func handleUpgradeSystem(t *task) error {
	goal := &manager.Goal{AllowErasing: true, AllowDowngrade: true}
	goal.DistroSync()

	if lister, ok := t.backend.(manager.GroupLister); ok {
		groups, err := lister.Groups(t.ctx)
		if err != nil {
			return t.nativeError("cannot list groups", err)
		}
		sort.Slice(groups, func(i, j int) bool { return groups[i].ID < groups[j].ID })
		for _, g := range groups {
			if g.Installed {
				goal.GroupUpgrade(g.ID)
			}
		}
	}
	t.job.log.Info().Str("distro", t.job.Params.DistroID).Int("operations", len(goal.Operations)).Msg("system upgrade")
	return t.transact(goal, nil)
}

func handleRepairSystem(t *task) error {
	if t.job.Params.Flags.Has(FlagSimulate) {
		return nil
	}
	repairer, ok := t.backend.(manager.Repairer)
	if !ok {
		return notSupported(t.job.Role, t.backend.Name())
	}
	t.job.setStatus(StatusRepair)
	if err := repairer.Repair(t.ctx); err != nil {
		return t.nativeError("repair failed", err)
	}
	return t.reload()
}

// checkReinstall refuses reinstalls unless the Job allows them.
func (t *task) checkReinstall(plan *Plan) error {
	if t.job.Params.Flags.Has(FlagAllowReinstall) {
		return nil
	}
	var already []string
	for _, it := range plan.Items {
		if it.Action == manager.ActionReinstall {
			already = append(already, it.Package.String())
		}
	}
	if len(already) == 0 {
		return nil
	}
	return NewError(CodeDepResolutionFailed, "Already installed: "+strings.Join(already, ", "))
}

// transact resolves goal and, unless simulating, downloads and commits the
// plan. check may reject a resolved plan before anything runs.
func (t *task) transact(goal *manager.Goal, check func(*Plan) error) error {
	flags := t.job.Params.Flags
	if flags.Has(FlagAllowDowngrade) {
		goal.AllowDowngrade = true
	}

	t.job.setStatus(StatusDepResolve)
	plan, err := Planner{Resolver: t.backend}.Resolve(t.ctx, goal)
	if err != nil {
		return err
	}
	if plan.Failed() {
		return plan.Err()
	}
	if check != nil {
		if err := check(plan); err != nil {
			return err
		}
	}
	t.job.log.Debug().Int("items", len(plan.Items)).Msg("plan resolved")

	if flags.Has(FlagSimulate) {
		t.emitPlan(plan)
		return nil
	}
	if len(plan.Items) == 0 {
		return nil
	}
	if flags.Has(FlagOnlyDownload) {
		t.emitPlan(plan)
	}

	x := &Executor{Backend: t.backend, Job: t.job, Dir: t.downloadDir()}
	runErr := x.Run(t.ctx, plan, flags)
	t.committed = x.Committed
	if flags.Has(FlagOnlyDownload) {
		return runErr
	}
	if runErr != nil && CodeOf(runErr) != CodeTransactionError {
		return runErr
	}

	for _, it := range plan.Items {
		t.engine.opts.Metrics.RecordTransactionItem(it.Action.String())
	}
	// The database may be partially changed even when the commit failed.
	if err := t.reload(); err != nil {
		if runErr != nil {
			t.job.log.Warn().Err(err).Msg("reload after failed commit")
			return runErr
		}
		return err
	}
	if runErr != nil {
		return runErr
	}
	if !t.engine.opts.KeepCache {
		t.removePayloads(x.Downloaded)
	}
	return nil
}

// emitPlan reports the plan's surfaced items in package order.
func (t *task) emitPlan(plan *Plan) {
	items := plan.Surfaced()
	sort.SliceStable(items, func(i, j int) bool {
		return manager.Less(items[i].Package, items[j].Package, t.compare)
	})
	for _, it := range items {
		t.job.emitPackage(it.Info, it.Package)
	}
}

func (t *task) reload() error {
	t.job.setStatus(StatusCleanup)
	if err := t.backend.Reload(context.WithoutCancel(t.ctx)); err != nil {
		return WrapError(CodeInternalError, "cannot reload package database", err)
	}
	return nil
}

func (t *task) removePayloads(paths []string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			t.job.log.Debug().Err(err).Str("path", p).Msg("cannot remove payload")
		}
	}
}
