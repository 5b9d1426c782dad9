package engine

import (
	"fmt"
	"path"
	"sort"
	"strings"

	"pkengine/pkg/manager"
)

// capabilityWrappers are the namespaced provides a what-provides term also
// matches, e.g. "font(sans)" for the term "sans".
var capabilityWrappers = []string{
	"gstreamer0.10",
	"gstreamer1",
	"font",
	"mimehandler",
	"postscriptdriver",
	"plasma4",
	"plasma5",
	"language",
}

// dsyncCapability, when provided by an installed package, switches update
// listings to distro-sync.
const dsyncCapability = "system-upgrade(dsync)"

const unknown = "unknown"

func handleSearchName(t *task) error {
	terms := lowered(t.job.Params.Values)
	return t.search(func(p manager.Package) bool {
		name := strings.ToLower(p.Name)
		for _, term := range terms {
			if strings.Contains(name, term) {
				return true
			}
		}
		return false
	})
}

func handleSearchDetails(t *task) error {
	terms := lowered(t.job.Params.Values)
	return t.search(func(p manager.Package) bool {
		text := strings.ToLower(p.Name + "\n" + p.Summary + "\n" + p.Description + "\n" + p.URL)
		for _, term := range terms {
			if strings.Contains(text, term) {
				return true
			}
		}
		return false
	})
}

func handleSearchFile(t *task) error {
	terms := t.job.Params.Values
	return t.search(func(p manager.Package) bool {
		for _, f := range p.Files {
			for _, term := range terms {
				if f == term || (!strings.Contains(term, "/") && path.Base(f) == term) {
					return true
				}
			}
		}
		return false
	})
}

func handleResolve(t *task) error {
	names := make(map[string]struct{}, len(t.job.Params.Values))
	for _, v := range t.job.Params.Values {
		names[v] = struct{}{}
	}
	return t.search(func(p manager.Package) bool {
		_, ok := names[p.Name]
		return ok
	})
}

func handleGetPackages(t *task) error {
	return t.search(func(manager.Package) bool { return true })
}

func handleWhatProvides(t *task) error {
	t.job.setStatus(StatusQuery)
	var found []manager.Package
	for _, term := range t.job.Params.Values {
		for _, capability := range expandCapability(term) {
			if err := t.job.checkCancel(); err != nil {
				return err
			}
			pkgs, err := t.backend.WhatProvides(t.ctx, capability)
			if err != nil {
				return t.nativeError("what-provides query failed", err)
			}
			found = append(found, pkgs...)
		}
	}
	t.emitPackages(found)
	return nil
}

// expandCapability returns term followed by every namespaced form of it.
func expandCapability(term string) []string {
	out := []string{term}
	if strings.ContainsAny(term, "()") {
		return out
	}
	for _, w := range capabilityWrappers {
		out = append(out, w+"("+term+")")
	}
	return out
}

func handleDependsOn(t *task) error {
	return t.walk(DependsOn)
}

func handleRequiredBy(t *task) error {
	return t.walk(RequiredBy)
}

func (t *task) walk(dir Direction) error {
	t.job.setStatus(StatusQuery)
	start, err := t.resolveIDs(t.job.Params.PackageIDs, false)
	if err != nil {
		return err
	}

	t.job.setStatus(StatusDepResolve)
	resolver := &DependencyResolver{
		Querier: t.backend,
		Arches:  t.backend.SupportedArches(),
		Compare: t.compare,
	}
	var found []manager.Package
	for _, p := range start {
		deps, err := resolver.Resolve(t.ctx, p, dir, t.job.Params.Recursive)
		if err != nil {
			if cerr := t.job.checkCancel(); cerr != nil {
				return cerr
			}
			return t.nativeError(dir.String()+" query failed", err)
		}
		found = append(found, deps...)
	}
	t.emitPackages(found)
	return nil
}

func handleGetUpdates(t *task) error {
	t.job.setStatus(StatusQuery)
	updates, err := t.updates()
	if err != nil {
		return err
	}

	byID := make(map[string]Update, len(updates))
	pkgs := make([]manager.Package, 0, len(updates))
	for _, u := range updates {
		byID[u.Package.ID()] = u
		pkgs = append(pkgs, u.Package)
	}
	for _, p := range t.filtered(pkgs) {
		t.job.emitPackage(byID[p.ID()].Info, p)
	}
	return nil
}

// updates returns the unfiltered update list, from the cache when valid.
func (t *task) updates() ([]Update, error) {
	cache := t.engine.cache
	if cached, ok := cache.Get(t.backend.Name()); ok {
		t.engine.opts.Metrics.RecordCacheLookup(true)
		t.job.log.Debug().Int("updates", len(cached)).Msg("update cache hit")
		return cached, nil
	}
	t.engine.opts.Metrics.RecordCacheLookup(false)

	snapshot, err := t.snapshot()
	if err != nil {
		return nil, err
	}
	goal := &manager.Goal{}
	if t.engine.opts.DistroSync || providedByInstalled(snapshot, dsyncCapability) {
		goal.DistroSync()
		goal.AllowDowngrade = true
	} else {
		goal.UpgradeAll()
	}

	t.job.setStatus(StatusDepResolve)
	plan, err := Planner{Resolver: t.backend}.Resolve(t.ctx, goal)
	if err != nil {
		return nil, err
	}
	if plan.Failed() {
		return nil, plan.Err()
	}

	var inbound []manager.Package
	for _, it := range plan.Items {
		if it.Action == manager.ActionUpgrade || it.Action == manager.ActionInstall {
			inbound = append(inbound, it.Package)
		}
	}
	advisories, err := t.advisories(inbound)
	if err != nil {
		return nil, err
	}

	installed := installedByName(snapshot, t.compare)
	updates := make([]Update, 0, len(inbound))
	for _, p := range inbound {
		u := Update{Package: p, Info: InfoNormal}
		if adv, ok := advisories[p.ID()]; ok {
			u.Info = advisoryInfo(adv)
		}
		if old := installed[p.Name+"."+p.Arch]; old != nil {
			replaced := *old
			u.Replaces = &replaced
		}
		updates = append(updates, u)
	}
	cache.Set(t.backend.Name(), updates)
	return updates, nil
}

// advisoryInfo maps an advisory to the update info: kind first, then severity.
func advisoryInfo(a manager.Advisory) Info {
	switch a.Kind {
	case manager.AdvisorySecurity:
		return InfoSecurity
	case manager.AdvisoryBugfix:
		return InfoBugfix
	case manager.AdvisoryEnhancement:
		return InfoEnhancement
	case manager.AdvisoryNewPackage:
		return InfoNormal
	}
	switch strings.ToLower(a.Severity) {
	case "low":
		return InfoLow
	case "moderate":
		return InfoNormal
	case "important":
		return InfoImportant
	case "critical":
		return InfoCritical
	}
	return InfoNormal
}

func handleGetDetails(t *task) error {
	t.job.setStatus(StatusQuery)
	pkgs, err := t.resolveIDs(t.job.Params.PackageIDs, false)
	if err != nil {
		return err
	}
	for _, p := range manager.SortedUnique(pkgs, t.compare) {
		t.job.emit(detailsOf(p))
	}
	return nil
}

func detailsOf(p manager.Package) DetailsEvent {
	ev := DetailsEvent{
		PackageID:    p.ID(),
		Summary:      p.Summary,
		License:      p.License,
		Group:        p.Group,
		Description:  p.Description,
		URL:          p.URL,
		InstallSize:  p.InstallSize,
		DownloadSize: p.DownloadSize,
	}
	if ev.License == "" {
		ev.License = unknown
	}
	if ev.Group == "" {
		ev.Group = unknown
	}
	if p.Installed {
		ev.DownloadSize = 0
	}
	return ev
}

func handleGetFiles(t *task) error {
	t.job.setStatus(StatusQuery)
	pkgs, err := t.resolveIDs(t.job.Params.PackageIDs, false)
	if err != nil {
		return err
	}
	for _, p := range manager.SortedUnique(pkgs, t.compare) {
		t.job.emit(FilesEvent{PackageID: p.ID(), Paths: sortedCopy(p.Files)})
	}
	return nil
}

func handleDownloadPackages(t *task) error {
	t.job.setStatus(StatusQuery)
	pkgs, err := t.resolveIDs(t.job.Params.PackageIDs, false)
	if err != nil {
		return err
	}
	pkgs = manager.SortedUnique(pkgs, t.compare)

	var local []string
	for _, p := range pkgs {
		t.job.emitPackage(InfoDownloading, p)
		if p.Local && p.LocalPath != "" {
			local = append(local, p.LocalPath)
		}
	}

	x := &Executor{Backend: t.backend, Job: t.job, Dir: t.downloadDir()}
	paths, err := x.Download(t.ctx, pkgs)
	if err != nil {
		return err
	}
	t.job.setProgress(100)
	t.job.emit(FilesEvent{Paths: append(local, paths...)})
	return nil
}

func handleGetUpdateDetail(t *task) error {
	t.job.setStatus(StatusQuery)
	pkgs, err := t.resolveIDs(t.job.Params.PackageIDs, false)
	if err != nil {
		return err
	}
	pkgs = manager.SortedUnique(pkgs, t.compare)

	snapshot, err := t.snapshot()
	if err != nil {
		return err
	}
	advisories, err := t.advisories(pkgs)
	if err != nil {
		return err
	}
	installed := installedByName(snapshot, t.compare)

	for _, p := range pkgs {
		ev := UpdateDetailEvent{PackageID: p.ID()}
		if old := installed[p.Name+"."+p.Arch]; old != nil && old.ID() != p.ID() {
			ev.Updates = []string{old.ID()}
		}
		for _, o := range p.Obsoletes {
			name := manager.CapabilityName(o)
			for _, q := range snapshot {
				if q.Installed && q.Name == name {
					ev.Obsoletes = append(ev.Obsoletes, q.ID())
				}
			}
		}
		if adv, ok := advisories[p.ID()]; ok {
			fillAdvisory(&ev, adv)
		}
		t.job.emit(ev)
	}
	return nil
}

const advisoryDateLayout = "2006-01-02"

func fillAdvisory(ev *UpdateDetailEvent, a manager.Advisory) {
	for _, ref := range a.References {
		switch ref.Type {
		case manager.ReferenceBugzilla:
			ev.BugzillaURLs = append(ev.BugzillaURLs, ref.URL)
		case manager.ReferenceCVE:
			ev.CVEURLs = append(ev.CVEURLs, ref.URL)
		case manager.ReferenceVendor:
			ev.VendorURLs = append(ev.VendorURLs, ref.URL)
		}
	}
	switch {
	case a.Reboot:
		ev.Restart = RestartSystem
	case a.Restart:
		ev.Restart = RestartApplication
	case a.Relogin:
		ev.Restart = RestartSession
	default:
		ev.Restart = RestartNone
	}
	ev.Text = a.Description
	if ev.Text == "" {
		ev.Text = a.Title
	}
	ev.State = a.Status
	if !a.Issued.IsZero() {
		ev.Issued = a.Issued.Format(advisoryDateLayout)
	}
	if !a.Updated.IsZero() {
		ev.Updated = a.Updated.Format(advisoryDateLayout)
	}
}

func handleGetDetailsLocal(t *task) error {
	pkgs, err := t.openLocal()
	if err != nil {
		return err
	}
	for _, p := range pkgs {
		t.job.emit(detailsOf(p))
	}
	return nil
}

func handleGetFilesLocal(t *task) error {
	pkgs, err := t.openLocal()
	if err != nil {
		return err
	}
	for _, p := range pkgs {
		t.job.emit(FilesEvent{PackageID: p.ID(), Paths: sortedCopy(p.Files)})
	}
	return nil
}

// openLocal reads the Job's files into a throwaway snapshot.
func (t *task) openLocal() ([]manager.Package, error) {
	opener, ok := t.backend.(manager.LocalOpener)
	if !ok {
		return nil, notSupported(t.job.Role, t.backend.Name())
	}
	if len(t.job.Params.Files) == 0 {
		return nil, NewError(CodePackageNotFound, "No files given")
	}
	t.job.setStatus(StatusQuery)
	q, err := opener.OpenLocal(t.ctx, t.job.Params.Files)
	if err != nil {
		return nil, WrapError(CodeInternalError, "cannot open local packages", err)
	}
	pkgs, err := q.Packages(t.ctx)
	if err != nil {
		return nil, WrapError(CodeInternalError, "cannot read local packages", err)
	}
	if len(pkgs) == 0 {
		return nil, NewError(CodePackageNotFound, "No packages found")
	}
	return manager.SortedUnique(pkgs, t.compare), nil
}

func handleGetRepoList(t *task) error {
	t.job.setStatus(StatusQuery)
	repos, err := t.backend.Repos(t.ctx)
	if err != nil {
		return t.nativeError("cannot list repositories", err)
	}
	sort.Slice(repos, func(i, j int) bool { return repos[i].ID < repos[j].ID })
	for _, r := range repos {
		if r.Internal || strings.HasPrefix(r.ID, "@") {
			continue
		}
		if !t.pipeline.RepoMatches(r, t.job.Params.Filter) {
			continue
		}
		name := r.Name
		if name == "" {
			name = r.ID
		}
		t.job.emit(RepoDetailEvent{RepoID: r.ID, Name: name, Enabled: r.Enabled})
	}
	return nil
}

func handleGetOldTransactions(t *task) error {
	store := t.engine.opts.History
	if store == nil {
		return NewError(CodeNotSupported, "transaction history is disabled")
	}
	entries, err := store.List(t.job.Params.Limit)
	if err != nil {
		return WrapError(CodeInternalError, "cannot read transaction history", err)
	}
	for _, e := range entries {
		t.job.emit(TransactionEvent{
			ID:        e.ID,
			Timestamp: e.Timestamp,
			Succeeded: e.Success,
			Role:      e.Role,
			Duration:  e.Duration,
			Data:      strings.Join(e.Packages, "\n"),
		})
	}
	return nil
}

// search selects matching packages from the snapshot, then filters, sorts
// and emits them.
func (t *task) search(match func(manager.Package) bool) error {
	t.job.setStatus(StatusQuery)
	snapshot, err := t.snapshot()
	if err != nil {
		return err
	}
	var found []manager.Package
	for _, p := range snapshot {
		if match(p) {
			found = append(found, p)
		}
	}
	t.emitPackages(found)
	return nil
}

// filtered runs the role's filter stages and returns the packages in
// emission order.
func (t *task) filtered(pkgs []manager.Package) []manager.Package {
	out := t.pipeline.ApplyStages(pkgs, t.job.Params.Filter, t.stages)
	return manager.SortedUnique(out, t.compare)
}

func (t *task) emitPackages(pkgs []manager.Package) {
	for _, p := range t.filtered(pkgs) {
		info := InfoAvailable
		if p.Installed {
			info = InfoInstalled
		}
		t.job.emitPackage(info, p)
	}
}

func (t *task) snapshot() ([]manager.Package, error) {
	if err := t.job.checkCancel(); err != nil {
		return nil, err
	}
	pkgs, err := t.backend.Packages(t.ctx)
	if err != nil {
		return nil, t.nativeError("cannot read package database", err)
	}
	return pkgs, nil
}

func (t *task) advisories(pkgs []manager.Package) (map[string]manager.Advisory, error) {
	advisor, ok := t.backend.(manager.Advisor)
	if !ok || len(pkgs) == 0 {
		return nil, nil
	}
	adv, err := advisor.Advisories(t.ctx, pkgs)
	if err != nil {
		return nil, t.nativeError("cannot read advisories", err)
	}
	return adv, nil
}

// resolveIDs turns package ids or plain names into records. A plain name
// picks the newest available record of a supported arch; with
// preferInstalled, the installed record wins instead. Fails when nothing
// resolves; ids that do not resolve are otherwise skipped.
func (t *task) resolveIDs(ids []string, preferInstalled bool) ([]manager.Package, error) {
	pkgs, missing, err := t.lookup(ids, preferInstalled)
	if err != nil {
		return nil, err
	}
	if len(pkgs) == 0 {
		return nil, NewError(CodePackageNotFound, "No packages found")
	}
	for _, m := range missing {
		t.job.log.Debug().Str("package", m).Msg("package not found")
	}
	return pkgs, nil
}

// resolveAllIDs is resolveIDs but fails if any id does not resolve.
func (t *task) resolveAllIDs(ids []string, preferInstalled bool) ([]manager.Package, error) {
	pkgs, missing, err := t.lookup(ids, preferInstalled)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		return nil, NewError(CodePackageNotFound, fmt.Sprintf("Package not found: %s", strings.Join(missing, ", ")))
	}
	if len(pkgs) == 0 {
		return nil, NewError(CodePackageNotFound, "No packages found")
	}
	return pkgs, nil
}

func (t *task) lookup(ids []string, preferInstalled bool) ([]manager.Package, []string, error) {
	parsed := make([]manager.PackageID, 0, len(ids))
	for _, s := range ids {
		id, err := manager.ParseID(s)
		if err != nil {
			return nil, nil, WrapError(CodePackageIDInvalid, fmt.Sprintf("invalid package id %q", s), err)
		}
		parsed = append(parsed, id)
	}

	snapshot, err := t.snapshot()
	if err != nil {
		return nil, nil, err
	}
	arches := make(map[string]struct{})
	for _, a := range t.backend.SupportedArches() {
		arches[a] = struct{}{}
	}

	var (
		found   []manager.Package
		missing []string
	)
	for _, id := range parsed {
		var match *manager.Package
		if id.IsName() {
			match = t.byName(snapshot, id.Name, arches, preferInstalled)
		} else {
			for i := range snapshot {
				if id.Matches(snapshot[i]) {
					match = &snapshot[i]
					break
				}
			}
		}
		if match == nil {
			missing = append(missing, id.String())
			continue
		}
		found = append(found, *match)
	}
	return found, missing, nil
}

func (t *task) byName(snapshot []manager.Package, name string, arches map[string]struct{}, preferInstalled bool) *manager.Package {
	var available, installed []manager.Package
	for _, p := range snapshot {
		if p.Name != name {
			continue
		}
		if p.Installed {
			installed = append(installed, p)
			continue
		}
		if _, ok := arches[p.Arch]; ok || len(arches) == 0 {
			available = append(available, p)
		}
	}
	order := [][]manager.Package{available, installed}
	if preferInstalled {
		order[0], order[1] = installed, available
	}
	for _, set := range order {
		if best, ok := manager.Newest(set, t.compare); ok {
			return &best
		}
	}
	return nil
}

// nativeError classifies a backend failure.
func (t *task) nativeError(msg string, err error) error {
	if cerr := t.job.checkCancel(); cerr != nil {
		return cerr
	}
	if CodeOf(err) != CodeInternalError {
		return err
	}
	return WrapError(CodeInternalError, msg, err)
}

func providedByInstalled(pkgs []manager.Package, capability string) bool {
	for _, p := range pkgs {
		if p.Installed && p.ProvidesCapability(capability) {
			return true
		}
	}
	return false
}

// installedByName indexes the newest installed record per name.arch.
func installedByName(pkgs []manager.Package, cmp manager.EVRCompareFunc) map[string]*manager.Package {
	if cmp == nil {
		cmp = manager.CompareEVR
	}
	out := make(map[string]*manager.Package)
	for i := range pkgs {
		p := &pkgs[i]
		if !p.Installed {
			continue
		}
		key := p.Name + "." + p.Arch
		if cur, ok := out[key]; !ok || cmp(p.EVR, cur.EVR) > 0 {
			out[key] = p
		}
	}
	return out
}

func lowered(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, strings.ToLower(v))
		}
	}
	return out
}

func sortedCopy(s []string) []string {
	out := append([]string(nil), s...)
	sort.Strings(out)
	return out
}
