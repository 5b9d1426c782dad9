package engine

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"pkengine/internal/history"
	"pkengine/pkg/manager"
	"pkengine/pkg/manager/memory"
)

const repoFile = "/etc/yum.repos.d/fedora.repo"

func testCatalog() *memory.Catalog {
	foo := p("foo", "1.0-1", "x86_64", "base")
	foo.Requires = []string{"libbar.so.1"}
	foo.Summary = "Foo tool"
	foo.License = "MIT"
	foo.Files = []string{"/usr/share/doc/foo/README", "/usr/bin/foo"}
	foo.DownloadSize = 2048

	bar := p("bar", "2.0-1", "x86_64", "base")
	bar.Provides = []string{"libbar.so.1"}
	bar.DownloadSize = 1024

	vim := p("vim", "9.1-1", "x86_64", "updates")
	vim.DownloadSize = 4096
	nano := p("nano", "7-1", "x86_64", "base")
	nano.DownloadSize = 512

	vimOld := installed("vim", "9.0-1", "x86_64", "base")
	vimOld.DownloadSize = 4000
	repos := installed("fedora-repos", "40-1", "noarch", "base")
	repos.Files = []string{repoFile}
	app := installed("app", "1-1", "x86_64", "extra")
	app.Requires = []string{"libold"}
	libold := installed("libold", "1-1", "x86_64", "extra")
	libold.Reason = manager.ReasonDependency

	return &memory.Catalog{
		Arch: "x86_64",
		Repos: []manager.Repo{
			{ID: "base", Name: "Fedora", Enabled: true, File: repoFile},
			{ID: "updates", Name: "Fedora Updates", Enabled: true, File: repoFile},
			{ID: "extra", Name: "Extra", Enabled: false, File: "/etc/yum.repos.d/extra.repo"},
		},
		Packages:  []manager.Package{foo, bar, vim, nano},
		Installed: []manager.Package{vimOld, repos, app, libold},
		Groups:    []manager.Group{{ID: "editors", Name: "Editors", Installed: true, Packages: []string{"vim", "nano"}}},
		Advisories: []manager.Advisory{{
			ID:      "FEDORA-2024-1",
			Kind:    manager.AdvisorySecurity,
			Title:   "vim security update",
			Status:  "stable",
			Issued:  time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
			Restart: true,
			References: []manager.Reference{
				{Type: manager.ReferenceCVE, URL: "https://www.cve.org/CVERecord?id=CVE-2024-0001"},
				{Type: manager.ReferenceBugzilla, URL: "https://bugzilla.redhat.com/1"},
			},
			Packages: []string{"vim-9.1-1.x86_64"},
		}},
	}
}

type harness struct {
	engine  *Engine
	backend *memory.Backend
	history *history.Store
	state   string
	cache   string
}

func newHarness(t *testing.T, cat *memory.Catalog, wrap func(*memory.Backend) manager.Backend, opts ...func(*Options)) *harness {
	t.Helper()
	h := &harness{state: t.TempDir(), cache: t.TempDir()}
	h.backend = memory.New(cat, memory.WithStateDir(h.state))

	store, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("history.Open() error: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	h.history = store

	reg := manager.NewRegistry()
	if wrap != nil {
		reg.Register(wrap(h.backend))
	} else {
		reg.Register(h.backend)
	}

	o := Options{Registry: reg, History: store, CacheDir: h.cache, Logger: zerolog.Nop()}
	for _, fn := range opts {
		fn(&o)
	}
	h.engine = New(o)
	return h
}

func (h *harness) run(t *testing.T, role Role, params Params) (*Collector, error) {
	t.Helper()
	sink := &Collector{}
	err := h.engine.Run(context.Background(), Request{Role: role, Params: params, Sink: sink})
	if n := countTerminal(sink.Events()); n != 1 {
		t.Fatalf("%s delivered %d terminal events", role, n)
	}
	return sink, err
}

func (h *harness) mustRun(t *testing.T, role Role, params Params) *Collector {
	t.Helper()
	sink, err := h.run(t, role, params)
	if err != nil {
		t.Fatalf("%s failed: %v", role, err)
	}
	if _, ok := sink.Terminal().(FinishedEvent); !ok {
		t.Fatalf("%s terminal = %T", role, sink.Terminal())
	}
	return sink
}

func (h *harness) isInstalled(name string) bool {
	for _, pkg := range h.backend.Catalog().Installed {
		if pkg.Name == name {
			return true
		}
	}
	return false
}

func packageLines(sink *Collector) []string {
	var out []string
	for _, ev := range sink.Packages() {
		out = append(out, ev.Info.String()+" "+ev.PackageID)
	}
	return out
}

func expectCode(t *testing.T, err error, code ErrorCode, msg string) {
	t.Helper()
	if CodeOf(err) != code {
		t.Fatalf("error = %v, want %s", err, code)
	}
	if msg != "" && !strings.Contains(MessageOf(err), msg) {
		t.Errorf("message %q does not contain %q", MessageOf(err), msg)
	}
}

func TestSimulateIsSideEffectFree(t *testing.T) {
	h := newHarness(t, testCatalog(), nil)
	h.engine.Cache().Set("memory", nil)

	sink := h.mustRun(t, RoleInstallPackages, Params{PackageIDs: []string{"nano"}, Flags: FlagSimulate})

	if got := packageLines(sink); !equalStrings(got, []string{"installing nano;7-1;x86_64;base"}) {
		t.Errorf("package events = %v", got)
	}
	if h.isInstalled("nano") {
		t.Error("simulate must not install")
	}
	if entries, _ := h.history.List(0); len(entries) != 0 {
		t.Errorf("simulate must not write history, got %d entries", len(entries))
	}
	if !h.engine.Cache().Valid() {
		t.Error("simulate must not invalidate the update cache")
	}
	if files, _ := os.ReadDir(filepath.Join(h.cache, "memory")); len(files) != 0 {
		t.Error("simulate must not download")
	}
}

func TestSimulateWithDependencies(t *testing.T) {
	h := newHarness(t, testCatalog(), nil)
	sink := h.mustRun(t, RoleInstallPackages, Params{PackageIDs: []string{"foo;1.0-1;x86_64;base"}, Flags: FlagSimulate})

	want := []string{"installing bar;2.0-1;x86_64;base", "installing foo;1.0-1;x86_64;base"}
	if got := packageLines(sink); !equalStrings(got, want) {
		t.Errorf("package events = %v, want %v", got, want)
	}
}

func TestInstallCommits(t *testing.T) {
	h := newHarness(t, testCatalog(), nil)
	sink := h.mustRun(t, RoleInstallPackages, Params{PackageIDs: []string{"foo"}})

	if !h.isInstalled("foo") || !h.isInstalled("bar") {
		t.Fatal("foo and its dependency should be installed")
	}
	got := packageLines(sink)
	want := []string{"installing foo;1.0-1;x86_64;base", "installing bar;2.0-1;x86_64;base"}
	if !equalStrings(got, want) {
		t.Errorf("commit events = %v, want %v", got, want)
	}
	if progress := progressOf(sink.Events()); len(progress) == 0 || progress[len(progress)-1] != 100 {
		t.Errorf("progress should end at 100, got %v", progress)
	}

	entries, err := h.history.List(0)
	if err != nil || len(entries) != 1 {
		t.Fatalf("history = %v, %v", entries, err)
	}
	if !entries[0].Success || entries[0].Role != "install-packages" || len(entries[0].Packages) != 2 {
		t.Errorf("history entry = %+v", entries[0])
	}

	installedSink := h.mustRun(t, RoleGetPackages, Params{Filter: FilterInstalled})
	found := false
	for _, ev := range installedSink.Packages() {
		found = found || ev.PackageID == "foo;1.0-1;x86_64;installed"
	}
	if !found {
		t.Error("a later query should see the committed package")
	}
}

func TestInstallPayloadCleanup(t *testing.T) {
	h := newHarness(t, testCatalog(), nil)
	h.mustRun(t, RoleInstallPackages, Params{PackageIDs: []string{"nano"}})
	if files, _ := os.ReadDir(filepath.Join(h.cache, "memory")); len(files) != 0 {
		t.Errorf("payloads should be removed after commit, found %d", len(files))
	}

	h = newHarness(t, testCatalog(), nil, func(o *Options) { o.KeepCache = true })
	h.mustRun(t, RoleInstallPackages, Params{PackageIDs: []string{"nano"}})
	if _, err := os.Stat(filepath.Join(h.cache, "memory", "nano-7-1.x86_64.pkg")); err != nil {
		t.Errorf("KeepCache should keep the payload: %v", err)
	}
}

func TestInstallOnlyDownload(t *testing.T) {
	h := newHarness(t, testCatalog(), nil)
	sink := h.mustRun(t, RoleInstallPackages, Params{PackageIDs: []string{"nano"}, Flags: FlagOnlyDownload})

	if h.isInstalled("nano") {
		t.Error("only-download must not commit")
	}
	if _, err := os.Stat(filepath.Join(h.cache, "memory", "nano-7-1.x86_64.pkg")); err != nil {
		t.Errorf("payload should be downloaded: %v", err)
	}
	if got := packageLines(sink); !equalStrings(got, []string{"installing nano;7-1;x86_64;base"}) {
		t.Errorf("package events = %v", got)
	}
}

func TestInstallErrors(t *testing.T) {
	h := newHarness(t, testCatalog(), nil)

	_, err := h.run(t, RoleInstallPackages, Params{PackageIDs: []string{"nano", "nope"}})
	expectCode(t, err, CodePackageNotFound, "Package not found: nope")

	_, err = h.run(t, RoleInstallPackages, Params{PackageIDs: []string{"bad;id"}})
	expectCode(t, err, CodePackageIDInvalid, "")

	if h.isInstalled("nano") {
		t.Error("a failed lookup must not install anything")
	}
}

func TestInstallReinstallNeedsFlag(t *testing.T) {
	cat := testCatalog()
	cat.Packages = append(cat.Packages, p("vim", "9.0-1", "x86_64", "base"))
	h := newHarness(t, cat, nil)
	id := "vim;9.0-1;x86_64;installed"

	_, err := h.run(t, RoleInstallPackages, Params{PackageIDs: []string{id}, Flags: FlagSimulate})
	expectCode(t, err, CodeDepResolutionFailed, "Already installed: vim-9.0-1.x86_64")

	sink := h.mustRun(t, RoleInstallPackages, Params{PackageIDs: []string{id}, Flags: FlagSimulate | FlagAllowReinstall})
	if got := packageLines(sink); !equalStrings(got, []string{"reinstalling vim;9.0-1;x86_64;base"}) {
		t.Errorf("package events = %v", got)
	}
}

func TestInstallUnresolvable(t *testing.T) {
	cat := testCatalog()
	broken := p("broken", "1-1", "x86_64", "base")
	broken.Requires = []string{"libmissing.so"}
	cat.Packages = append(cat.Packages, broken)
	h := newHarness(t, cat, nil)

	_, err := h.run(t, RoleInstallPackages, Params{PackageIDs: []string{"broken"}})
	expectCode(t, err, CodeDepResolutionFailed, "nothing provides libmissing.so")
}

func TestRemoveNeedsAllowDeps(t *testing.T) {
	h := newHarness(t, testCatalog(), nil)

	_, err := h.run(t, RoleRemovePackages, Params{PackageIDs: []string{"libold"}})
	expectCode(t, err, CodeDepResolutionFailed, "The following packages would have to be removed: app-1-1.x86_64")
	if !h.isInstalled("libold") {
		t.Fatal("a rejected removal must not remove anything")
	}

	h.mustRun(t, RoleRemovePackages, Params{PackageIDs: []string{"libold"}, AllowDeps: true})
	if h.isInstalled("libold") || h.isInstalled("app") {
		t.Error("AllowDeps should remove libold and app")
	}
}

func TestRemoveAutoremove(t *testing.T) {
	h := newHarness(t, testCatalog(), nil)
	sink := h.mustRun(t, RoleRemovePackages, Params{PackageIDs: []string{"app"}, Autoremove: true, Flags: FlagSimulate})

	want := []string{"removing app;1-1;x86_64;installed", "removing libold;1-1;x86_64;installed"}
	if got := packageLines(sink); !equalStrings(got, want) {
		t.Errorf("package events = %v, want %v", got, want)
	}
}

func TestRemoveNotInstalled(t *testing.T) {
	h := newHarness(t, testCatalog(), nil)
	_, err := h.run(t, RoleRemovePackages, Params{PackageIDs: []string{"nano"}})
	expectCode(t, err, CodePackageNotFound, "is not installed")
}

func TestGetUpdatesCache(t *testing.T) {
	h := newHarness(t, testCatalog(), nil)

	first := h.mustRun(t, RoleGetUpdates, Params{})
	want := []string{"security vim;9.1-1;x86_64;updates"}
	if got := packageLines(first); !equalStrings(got, want) {
		t.Fatalf("updates = %v, want %v", got, want)
	}
	if !h.engine.Cache().Valid() {
		t.Fatal("GetUpdates should fill the cache")
	}

	// The cache answers even when the backend changed underneath it.
	h.backend.SetRepoEnabled(context.Background(), "updates", false)
	second := h.mustRun(t, RoleGetUpdates, Params{})
	if got := packageLines(second); !equalStrings(got, want) {
		t.Errorf("cached updates = %v", got)
	}

	h.mustRun(t, RoleRefreshCache, Params{Force: true})
	if h.engine.Cache().Valid() {
		t.Fatal("RefreshCache should invalidate the cache")
	}
	third := h.mustRun(t, RoleGetUpdates, Params{})
	if got := packageLines(third); len(got) != 0 {
		t.Errorf("after invalidation the backend should be asked again, got %v", got)
	}
}

func TestGetUpdatesFiltered(t *testing.T) {
	h := newHarness(t, testCatalog(), nil)
	h.mustRun(t, RoleGetUpdates, Params{})

	sink := h.mustRun(t, RoleGetUpdates, Params{Filter: FilterInstalled})
	if got := packageLines(sink); len(got) != 0 {
		t.Errorf("installed filter over updates = %v", got)
	}
}

func TestUpdateInvalidatesCache(t *testing.T) {
	h := newHarness(t, testCatalog(), nil)
	h.mustRun(t, RoleGetUpdates, Params{})
	h.mustRun(t, RoleUpdatePackages, Params{})

	if h.engine.Cache().Valid() {
		t.Error("UpdatePackages should invalidate the cache")
	}
	if got := packageLines(h.mustRun(t, RoleGetUpdates, Params{})); len(got) != 0 {
		t.Errorf("no updates should be left, got %v", got)
	}
}

func TestUpdateCommitFailure(t *testing.T) {
	cat := testCatalog()
	cat.FailCommit = []string{"vim"}
	h := newHarness(t, cat, nil)
	h.mustRun(t, RoleGetUpdates, Params{})

	_, err := h.run(t, RoleUpdatePackages, Params{PackageIDs: []string{"vim"}})
	expectCode(t, err, CodeTransactionError, "error during upgrade of vim-9.1-1.x86_64")

	if h.engine.Cache().Valid() {
		t.Error("a transaction error should invalidate the cache")
	}
	entries, _ := h.history.List(0)
	if len(entries) != 1 || entries[0].Success || entries[0].Error == "" {
		t.Errorf("failed transaction should be recorded, got %+v", entries)
	}
	if _, err := os.Stat(filepath.Join(h.state, "db.lck")); err != nil {
		t.Fatalf("interrupted commit should leave the database lock: %v", err)
	}

	h.mustRun(t, RoleRepairSystem, Params{})
	if _, err := os.Stat(filepath.Join(h.state, "db.lck")); !os.IsNotExist(err) {
		t.Error("RepairSystem should remove the stale lock")
	}
}

func TestDownloadFailure(t *testing.T) {
	cat := testCatalog()
	cat.FailDownload = []string{"nano"}
	h := newHarness(t, cat, nil)

	_, err := h.run(t, RoleInstallPackages, Params{PackageIDs: []string{"nano"}})
	expectCode(t, err, CodePackageDownloadFailed, "")
	if h.isInstalled("nano") {
		t.Error("nothing should be committed after a failed download")
	}
}

func TestDowngradeNeedsFlag(t *testing.T) {
	old := p("vim", "8.2-1", "x86_64", "base")
	cat := testCatalog()
	cat.Packages = append(cat.Packages, old)
	h := newHarness(t, cat, nil)

	_, err := h.run(t, RoleInstallPackages, Params{PackageIDs: []string{old.ID()}, Flags: FlagSimulate})
	expectCode(t, err, CodeDepResolutionFailed, "downgrade of vim-8.2-1.x86_64 not allowed")

	sink := h.mustRun(t, RoleInstallPackages, Params{PackageIDs: []string{old.ID()}, Flags: FlagSimulate | FlagAllowDowngrade})
	if got := packageLines(sink); !equalStrings(got, []string{"downgrading vim;8.2-1;x86_64;base"}) {
		t.Errorf("package events = %v", got)
	}
}

func TestUpgradeSystem(t *testing.T) {
	h := newHarness(t, testCatalog(), nil)
	sink := h.mustRun(t, RoleUpgradeSystem, Params{DistroID: "fedora-41", Flags: FlagSimulate})

	want := []string{"installing nano;7-1;x86_64;base", "updating vim;9.1-1;x86_64;updates"}
	if got := packageLines(sink); !equalStrings(got, want) {
		t.Errorf("package events = %v, want %v", got, want)
	}
}

func TestQueries(t *testing.T) {
	h := newHarness(t, testCatalog(), nil)

	tests := []struct {
		name   string
		role   Role
		params Params
		want   []string
	}{
		{"search name", RoleSearchName, Params{Values: []string{"FO", "ban"}}, []string{
			"available foo;1.0-1;x86_64;base"}},
		{"search name many", RoleSearchName, Params{Values: []string{"ap", "re"}}, []string{
			"installed app;1-1;x86_64;installed", "installed fedora-repos;40-1;noarch;installed"}},
		{"search details", RoleSearchDetails, Params{Values: []string{"foo tool"}}, []string{
			"available foo;1.0-1;x86_64;base"}},
		{"search file path", RoleSearchFile, Params{Values: []string{"/usr/bin/foo"}}, []string{
			"available foo;1.0-1;x86_64;base"}},
		{"search file basename", RoleSearchFile, Params{Values: []string{"fedora.repo"}}, []string{
			"installed fedora-repos;40-1;noarch;installed"}},
		{"resolve newest", RoleResolve, Params{Values: []string{"vim"}, Filter: FilterNewest}, []string{
			"installed vim;9.0-1;x86_64;installed", "available vim;9.1-1;x86_64;updates"}},
		{"resolve installed", RoleResolve, Params{Values: []string{"vim", "nope"}, Filter: FilterInstalled}, []string{
			"installed vim;9.0-1;x86_64;installed"}},
		{"what provides", RoleWhatProvides, Params{Values: []string{"libbar.so.1"}}, []string{
			"available bar;2.0-1;x86_64;base"}},
		{"depends on", RoleDependsOn, Params{PackageIDs: []string{"foo"}}, []string{
			"available bar;2.0-1;x86_64;base"}},
		{"required by", RoleRequiredBy, Params{PackageIDs: []string{"bar"}}, []string{
			"available foo;1.0-1;x86_64;base"}},
		{"get packages not installed", RoleGetPackages, Params{Filter: FilterNotInstalled | FilterNewest}, []string{
			"available bar;2.0-1;x86_64;base", "available foo;1.0-1;x86_64;base",
			"available nano;7-1;x86_64;base", "available vim;9.1-1;x86_64;updates"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sink := h.mustRun(t, tt.role, tt.params)
			if got := packageLines(sink); !equalStrings(got, tt.want) {
				t.Errorf("events = %v\nwant %v", got, tt.want)
			}
		})
	}
}

func TestQueryNotFound(t *testing.T) {
	h := newHarness(t, testCatalog(), nil)
	_, err := h.run(t, RoleGetDetails, Params{PackageIDs: []string{"nope"}})
	expectCode(t, err, CodePackageNotFound, "No packages found")
}

func TestGetDetailsAndFiles(t *testing.T) {
	h := newHarness(t, testCatalog(), nil)
	sink := h.mustRun(t, RoleGetDetails, Params{PackageIDs: []string{"vim;9.0-1;x86_64;installed", "foo"}})

	var details []DetailsEvent
	for _, ev := range sink.Events() {
		if d, ok := ev.(DetailsEvent); ok {
			details = append(details, d)
		}
	}
	if len(details) != 2 {
		t.Fatalf("details = %+v", details)
	}
	// Installed records sort first.
	if details[0].PackageID != "vim;9.0-1;x86_64;installed" || details[0].DownloadSize != 0 || details[0].License != "unknown" {
		t.Errorf("installed details = %+v", details[0])
	}
	if details[1].License != "MIT" || details[1].DownloadSize != 2048 || details[1].Group != "unknown" {
		t.Errorf("available details = %+v", details[1])
	}

	files := h.mustRun(t, RoleGetFiles, Params{PackageIDs: []string{"foo"}})
	for _, ev := range files.Events() {
		if f, ok := ev.(FilesEvent); ok {
			if !equalStrings(f.Paths, []string{"/usr/bin/foo", "/usr/share/doc/foo/README"}) {
				t.Errorf("files = %v", f.Paths)
			}
			return
		}
	}
	t.Error("no Files event")
}

func TestGetUpdateDetail(t *testing.T) {
	h := newHarness(t, testCatalog(), nil)
	sink := h.mustRun(t, RoleGetUpdateDetail, Params{PackageIDs: []string{"vim;9.1-1;x86_64;updates"}})

	var ev *UpdateDetailEvent
	for _, e := range sink.Events() {
		if d, ok := e.(UpdateDetailEvent); ok {
			ev = &d
		}
	}
	if ev == nil {
		t.Fatal("no UpdateDetail event")
	}
	if !equalStrings(ev.Updates, []string{"vim;9.0-1;x86_64;installed"}) {
		t.Errorf("Updates = %v", ev.Updates)
	}
	if len(ev.CVEURLs) != 1 || len(ev.BugzillaURLs) != 1 || len(ev.VendorURLs) != 0 {
		t.Errorf("urls = %v %v %v", ev.CVEURLs, ev.BugzillaURLs, ev.VendorURLs)
	}
	if ev.Restart != RestartApplication || ev.Issued != "2024-03-01" || ev.State != "stable" || ev.Text != "vim security update" {
		t.Errorf("detail = %+v", ev)
	}
}

func TestDownloadPackages(t *testing.T) {
	h := newHarness(t, testCatalog(), nil)
	dir := t.TempDir()
	sink := h.mustRun(t, RoleDownloadPackages, Params{PackageIDs: []string{"nano", "foo"}, Directory: dir})

	want := []string{"downloading foo;1.0-1;x86_64;base", "downloading nano;7-1;x86_64;base"}
	if got := packageLines(sink); !equalStrings(got, want) {
		t.Errorf("package events = %v, want %v", got, want)
	}
	var paths []string
	for _, ev := range sink.Events() {
		if f, ok := ev.(FilesEvent); ok && f.PackageID == "" {
			paths = f.Paths
		}
	}
	if len(paths) != 2 {
		t.Fatalf("downloaded paths = %v", paths)
	}
	for _, path := range paths {
		if filepath.Dir(path) != dir {
			t.Errorf("%s is outside the requested directory", path)
		}
	}
}

func TestLocalFiles(t *testing.T) {
	h := newHarness(t, testCatalog(), nil)
	path := filepath.Join(t.TempDir(), "tool.pkg")
	tool := p("tool", "0.3-1", "x86_64", "")
	tool.Files = []string{"/usr/bin/tool"}
	if err := memory.WriteManifest(path, tool); err != nil {
		t.Fatal(err)
	}

	sink := h.mustRun(t, RoleGetDetailsLocal, Params{Files: []string{path}})
	var found bool
	for _, ev := range sink.Events() {
		if d, ok := ev.(DetailsEvent); ok {
			found = d.PackageID == "tool;0.3-1;x86_64;local" && d.License == "unknown"
		}
	}
	if !found {
		t.Errorf("local details missing: %+v", sink.Events())
	}

	h.mustRun(t, RoleInstallFiles, Params{Files: []string{path}})
	if !h.isInstalled("tool") {
		t.Fatal("InstallFiles should install the local package")
	}
	if _, err := os.Stat(path); err != nil {
		t.Error("the local package file must be left alone")
	}

	_, err := h.run(t, RoleInstallFiles, Params{})
	expectCode(t, err, CodePackageNotFound, "No files given")
}

func TestRepoRoles(t *testing.T) {
	h := newHarness(t, testCatalog(), nil)

	_, err := h.run(t, RoleRepoEnable, Params{RepoID: "extra", Enabled: false})
	expectCode(t, err, CodeRepoAlreadySet, "Repo already in state")

	_, err = h.run(t, RoleRepoEnable, Params{RepoID: "nope", Enabled: true})
	expectCode(t, err, CodeRepoNotFound, "Repo nope not found")

	h.mustRun(t, RoleRepoEnable, Params{RepoID: "extra", Enabled: true})
	list := h.mustRun(t, RoleGetRepoList, Params{})
	var ids []string
	for _, ev := range list.Events() {
		if r, ok := ev.(RepoDetailEvent); ok {
			ids = append(ids, r.RepoID)
		}
	}
	if !equalStrings(ids, []string{"base", "extra", "updates"}) {
		t.Errorf("repo list = %v", ids)
	}

	h.mustRun(t, RoleRepoSetData, Params{RepoID: "extra", Key: "enabled", Value: "no"})
	list = h.mustRun(t, RoleGetRepoList, Params{Filter: FilterInstalled})
	ids = nil
	for _, ev := range list.Events() {
		if r, ok := ev.(RepoDetailEvent); ok {
			ids = append(ids, r.RepoID)
		}
	}
	if !equalStrings(ids, []string{"base", "updates"}) {
		t.Errorf("enabled repo list = %v", ids)
	}

	h.mustRun(t, RoleRepoSetData, Params{RepoID: "base", Key: "name", Value: "Fedora 41"})
	if got := h.backend.Catalog().Repos[0].Name; got != "Fedora 41" {
		t.Errorf("repo name = %q", got)
	}

	_, err = h.run(t, RoleRepoSetData, Params{RepoID: "base", Key: "enabled", Value: "maybe"})
	expectCode(t, err, CodeInternalError, "invalid boolean")
}

func TestRepoRemove(t *testing.T) {
	h := newHarness(t, testCatalog(), nil)

	sink := h.mustRun(t, RoleRepoRemove, Params{RepoID: "updates", Flags: FlagSimulate})
	if got := packageLines(sink); !equalStrings(got, []string{"removing fedora-repos;40-1;noarch;installed"}) {
		t.Errorf("package events = %v", got)
	}

	sink = h.mustRun(t, RoleRepoRemove, Params{RepoID: "updates", Autoremove: true, Flags: FlagSimulate})
	want := []string{"removing fedora-repos;40-1;noarch;installed", "removing vim;9.0-1;x86_64;installed"}
	if got := packageLines(sink); !equalStrings(got, want) {
		t.Errorf("autoremove events = %v, want %v", got, want)
	}

	_, err := h.run(t, RoleRepoRemove, Params{RepoID: "extra"})
	expectCode(t, err, CodePackageNotFound, "No package owns")
}

func TestRefreshCacheFailure(t *testing.T) {
	cat := testCatalog()
	cat.FailRefresh = true
	h := newHarness(t, cat, nil)
	_, err := h.run(t, RoleRefreshCache, Params{})
	expectCode(t, err, CodeInternalError, "failed to refresh")
}

func TestGetOldTransactions(t *testing.T) {
	h := newHarness(t, testCatalog(), nil)
	h.mustRun(t, RoleInstallPackages, Params{PackageIDs: []string{"nano"}})
	h.mustRun(t, RoleRemovePackages, Params{PackageIDs: []string{"nano"}})

	sink := h.mustRun(t, RoleGetOldTransactions, Params{Limit: 1})
	var txs []TransactionEvent
	for _, ev := range sink.Events() {
		if tx, ok := ev.(TransactionEvent); ok {
			txs = append(txs, tx)
		}
	}
	if len(txs) != 1 || txs[0].Role != "remove-packages" || !txs[0].Succeeded {
		t.Errorf("transactions = %+v", txs)
	}
	if txs[0].Data != "nano;7-1;x86_64;installed" {
		t.Errorf("Data = %q", txs[0].Data)
	}
}

func TestGetOldTransactionsWithoutHistory(t *testing.T) {
	h := newHarness(t, testCatalog(), nil, func(o *Options) { o.History = nil })
	_, err := h.run(t, RoleGetOldTransactions, Params{})
	expectCode(t, err, CodeNotSupported, "")
}

func TestUnknownRole(t *testing.T) {
	h := newHarness(t, testCatalog(), nil)
	if _, err := h.engine.Submit(context.Background(), Request{Role: Role(999)}); CodeOf(err) != CodeRoleUnknown {
		t.Errorf("Submit() = %v, want role-unknown", err)
	}
	if _, err := h.engine.Submit(context.Background(), Request{Role: RoleGetPackages, Backend: "apt"}); CodeOf(err) != CodeInternalError {
		t.Errorf("Submit() with unknown backend = %v", err)
	}
}

func TestBackendPanicIsInternalError(t *testing.T) {
	h := newHarness(t, testCatalog(), func(b *memory.Backend) manager.Backend {
		return &panickingBackend{Backend: b}
	})
	_, err := h.run(t, RoleGetPackages, Params{})
	expectCode(t, err, CodeInternalError, "backend panic")

	// The lock was released.
	_, err = h.run(t, RoleGetPackages, Params{})
	expectCode(t, err, CodeInternalError, "backend panic")
}

type panickingBackend struct {
	*memory.Backend
}

func (b *panickingBackend) Packages(context.Context) ([]manager.Package, error) {
	panic("database corrupted")
}

// overlapBackend records whether two calls ever ran at once.
type overlapBackend struct {
	*memory.Backend
	active  atomic.Int32
	overlap atomic.Bool
}

func (b *overlapBackend) enter() func() {
	if b.active.Add(1) > 1 {
		b.overlap.Store(true)
	}
	time.Sleep(2 * time.Millisecond)
	return func() { b.active.Add(-1) }
}

func (b *overlapBackend) Packages(ctx context.Context) ([]manager.Package, error) {
	defer b.enter()()
	return b.Backend.Packages(ctx)
}

func (b *overlapBackend) Resolve(ctx context.Context, goal *manager.Goal) (*manager.Resolution, error) {
	defer b.enter()()
	return b.Backend.Resolve(ctx, goal)
}

func (b *overlapBackend) Repos(ctx context.Context) ([]manager.Repo, error) {
	defer b.enter()()
	return b.Backend.Repos(ctx)
}

func TestJobsSerializedPerBackend(t *testing.T) {
	var ob *overlapBackend
	h := newHarness(t, testCatalog(), func(b *memory.Backend) manager.Backend {
		ob = &overlapBackend{Backend: b}
		return ob
	})

	requests := []Request{
		{Role: RoleGetPackages},
		{Role: RoleSearchName, Params: Params{Values: []string{"vim"}}},
		{Role: RoleGetUpdates},
		{Role: RoleInstallPackages, Params: Params{PackageIDs: []string{"nano"}, Flags: FlagSimulate}},
		{Role: RoleGetRepoList},
		{Role: RoleResolve, Params: Params{Values: []string{"foo"}}},
		{Role: RoleGetPackages, Params: Params{Filter: FilterInstalled}},
		{Role: RoleRemovePackages, Params: Params{PackageIDs: []string{"app"}, Autoremove: true, Flags: FlagSimulate}},
	}

	var wg sync.WaitGroup
	errs := make(chan error, len(requests))
	for _, req := range requests {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- h.engine.Run(context.Background(), req)
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("job failed: %v", err)
		}
	}
	if ob.overlap.Load() {
		t.Error("two Jobs ran against the backend at once")
	}
	h.engine.Wait()
	if len(h.engine.Jobs()) != 0 {
		t.Errorf("finished jobs still listed: %v", h.engine.Jobs())
	}
}

// blockingBackend pauses inside Download or Commit until released.
type blockingBackend struct {
	*memory.Backend
	inDownload bool
	started    chan struct{}
	release    chan struct{}
	once       sync.Once
}

func newBlocking(inDownload bool) func(*memory.Backend) manager.Backend {
	return func(b *memory.Backend) manager.Backend {
		return &blockingBackend{
			Backend:    b,
			inDownload: inDownload,
			started:    make(chan struct{}),
			release:    make(chan struct{}),
		}
	}
}

func (b *blockingBackend) Download(ctx context.Context, pkgs []manager.Package, dir string, progress manager.DownloadProgress) ([]string, error) {
	if b.inDownload {
		b.once.Do(func() { close(b.started) })
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-b.release:
		}
	}
	return b.Backend.Download(ctx, pkgs, dir, progress)
}

func (b *blockingBackend) Commit(ctx context.Context, items []manager.Item, progress manager.CommitProgress) ([]string, error) {
	if !b.inDownload {
		b.once.Do(func() { close(b.started) })
		<-b.release
		if ctx.Err() != nil {
			return nil, errors.New("commit context was cancelled")
		}
	}
	return b.Backend.Commit(ctx, items, progress)
}

func blocking(t *testing.T, h *harness) *blockingBackend {
	t.Helper()
	b, err := h.engine.opts.Registry.Lookup("")
	if err != nil {
		t.Fatal(err)
	}
	return b.(*blockingBackend)
}

func TestCancelDuringCommitRefused(t *testing.T) {
	h := newHarness(t, testCatalog(), newBlocking(false))
	bb := blocking(t, h)

	sink := &Collector{}
	job, err := h.engine.Submit(context.Background(), Request{Role: RoleInstallPackages, Params: Params{PackageIDs: []string{"nano"}}, Sink: sink})
	if err != nil {
		t.Fatal(err)
	}
	<-bb.started

	if err := job.Cancel(); !errors.Is(err, ErrCannotCancel) {
		t.Errorf("Cancel() during commit = %v", err)
	}
	_, err = h.run(t, RoleCancel, Params{JobID: job.ID})
	expectCode(t, err, CodeCannotCancel, "")

	close(bb.release)
	if err := job.Wait(); err != nil {
		t.Fatalf("job should finish despite the cancel attempts: %v", err)
	}
	if !h.isInstalled("nano") {
		t.Error("commit should complete")
	}

	var allow []bool
	for _, ev := range sink.Events() {
		if a, ok := ev.(AllowCancelEvent); ok {
			allow = append(allow, a.Allowed)
		}
	}
	if len(allow) != 2 || allow[0] || !allow[1] {
		t.Errorf("allow-cancel events = %v", allow)
	}
}

func TestCancelDuringDownload(t *testing.T) {
	h := newHarness(t, testCatalog(), newBlocking(true))
	bb := blocking(t, h)

	job, err := h.engine.Submit(context.Background(), Request{Role: RoleInstallPackages, Params: Params{PackageIDs: []string{"nano"}}})
	if err != nil {
		t.Fatal(err)
	}
	<-bb.started

	h.mustRun(t, RoleCancel, Params{JobID: job.ID})
	if err := job.Wait(); CodeOf(err) != CodeCancelled {
		t.Errorf("job error = %v, want transaction-cancelled", err)
	}
	if h.isInstalled("nano") {
		t.Error("a cancelled job must not commit")
	}
	close(bb.release)

	// The backend is usable again.
	h.mustRun(t, RoleGetPackages, Params{})
}

func TestCancelUnknownJob(t *testing.T) {
	h := newHarness(t, testCatalog(), nil)
	_, err := h.run(t, RoleCancel, Params{JobID: "nope"})
	expectCode(t, err, CodeInternalError, "no job with id nope")
}

func TestCancelWhileWaitingForLock(t *testing.T) {
	h := newHarness(t, testCatalog(), newBlocking(false))
	bb := blocking(t, h)

	holder, _ := h.engine.Submit(context.Background(), Request{Role: RoleInstallPackages, Params: Params{PackageIDs: []string{"nano"}}})
	<-bb.started

	ctx, cancel := context.WithCancel(context.Background())
	sink := &Collector{}
	waiter, _ := h.engine.Submit(ctx, Request{Role: RoleGetPackages, Sink: sink})
	cancel()
	if err := waiter.Wait(); CodeOf(err) != CodeCancelled {
		t.Errorf("waiting job error = %v", err)
	}
	if len(sink.Packages()) != 0 {
		t.Error("a job cancelled while waiting must not emit results")
	}

	close(bb.release)
	if err := holder.Wait(); err != nil {
		t.Errorf("holder error = %v", err)
	}
	h.engine.Wait()
}

// reloadHook runs hook before every Reload of the wrapped backend.
type reloadHook struct {
	*memory.Backend
	hook func() error
}

func (b *reloadHook) Reload(ctx context.Context) error {
	if b.hook != nil {
		if err := b.hook(); err != nil {
			return err
		}
	}
	return b.Backend.Reload(ctx)
}

func withReloadHook(b *memory.Backend) manager.Backend {
	return &reloadHook{Backend: b}
}

func reloadHooked(t *testing.T, h *harness) *reloadHook {
	t.Helper()
	b, err := h.engine.opts.Registry.Lookup("")
	if err != nil {
		t.Fatal(err)
	}
	return b.(*reloadHook)
}

func TestCancelAfterCommitKeepsResult(t *testing.T) {
	h := newHarness(t, testCatalog(), withReloadHook)
	var accepted atomic.Int32
	reloadHooked(t, h).hook = func() error {
		for _, id := range h.engine.Jobs() {
			if h.engine.Cancel(id) == nil {
				accepted.Add(1)
			}
		}
		return nil
	}

	h.mustRun(t, RoleGetUpdates, Params{})
	h.mustRun(t, RoleUpdatePackages, Params{PackageIDs: []string{"vim"}})
	if accepted.Load() == 0 {
		t.Fatal("the cancel after commit was not delivered")
	}

	if h.engine.Cache().Valid() {
		t.Error("a committed update should invalidate the cache")
	}
	if got := packageLines(h.mustRun(t, RoleGetUpdates, Params{})); len(got) != 0 {
		t.Errorf("committed update still listed: %v", got)
	}
}

func TestReloadFailureInvalidatesCache(t *testing.T) {
	h := newHarness(t, testCatalog(), withReloadHook)
	reloadHooked(t, h).hook = func() error { return errors.New("database vanished") }

	h.mustRun(t, RoleGetUpdates, Params{})
	_, err := h.run(t, RoleUpdatePackages, Params{PackageIDs: []string{"vim"}})
	expectCode(t, err, CodeInternalError, "cannot reload package database")

	if h.engine.Cache().Valid() {
		t.Error("the cache must be invalidated once the commit ran")
	}
}

// renamed serves a memory backend under another name.
type renamed struct {
	*memory.Backend
	name string
}

func (b *renamed) Name() string { return b.name }

func TestGetUpdatesCachePerBackend(t *testing.T) {
	other := &memory.Catalog{
		Arch:      "x86_64",
		Repos:     []manager.Repo{{ID: "base", Name: "Base", Enabled: true}},
		Installed: []manager.Package{installed("zsh", "5.9-1", "x86_64", "base")},
	}
	reg := manager.NewRegistry()
	reg.Register(memory.New(testCatalog()))
	reg.Register(&renamed{Backend: memory.New(other), name: "other"})
	eng := New(Options{Registry: reg, CacheDir: t.TempDir(), Logger: zerolog.Nop()})

	updates := func(backend string) []string {
		t.Helper()
		sink := &Collector{}
		if err := eng.Run(context.Background(), Request{Role: RoleGetUpdates, Backend: backend, Sink: sink}); err != nil {
			t.Fatalf("GetUpdates(%s) error: %v", backend, err)
		}
		return packageLines(sink)
	}

	want := []string{"security vim;9.1-1;x86_64;updates"}
	if got := updates("memory"); !equalStrings(got, want) {
		t.Fatalf("memory updates = %v, want %v", got, want)
	}
	if got := updates("other"); len(got) != 0 {
		t.Errorf("other backend reported %v from the memory cache", got)
	}
	if got := updates("memory"); !equalStrings(got, want) {
		t.Errorf("memory updates after other = %v, want %v", got, want)
	}
}
