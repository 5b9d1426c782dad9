package memory

import (
	"context"
	"reflect"
	"strings"
	"testing"

	"pkengine/pkg/manager"
)

func resolve(t *testing.T, b *Backend, goal *manager.Goal) *manager.Resolution {
	t.Helper()
	res, err := b.Resolve(context.Background(), goal)
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	return res
}

func summarize(items []manager.Item) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = it.Action.String() + " " + it.Package.String()
	}
	return out
}

func installedPkg(t *testing.T, b *Backend, name string) manager.Package {
	t.Helper()
	for _, p := range b.Catalog().Installed {
		if p.Name == name {
			return p
		}
	}
	t.Fatalf("%s is not installed", name)
	return manager.Package{}
}

func expectItems(t *testing.T, res *manager.Resolution, want ...string) {
	t.Helper()
	if len(res.Problems) > 0 {
		t.Fatalf("unexpected problems: %v", res.Problems)
	}
	got := summarize(res.Items)
	if len(got) == 0 && len(want) == 0 {
		return
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("items = %v\nwant %v", got, want)
	}
}

func expectProblem(t *testing.T, res *manager.Resolution, want string) {
	t.Helper()
	if len(res.Items) != 0 {
		t.Errorf("a failed resolution should carry no items, got %v", summarize(res.Items))
	}
	for _, p := range res.Problems {
		if strings.Contains(p, want) {
			return
		}
	}
	t.Errorf("problems %v do not mention %q", res.Problems, want)
}

func TestResolveInstallPullsDependencies(t *testing.T) {
	b := New(testCatalog())
	goal := &manager.Goal{}
	goal.Install(pkg("foo", "1.0-1", "x86_64", "base", requires("libbar.so.1")))

	res := resolve(t, b, goal)
	expectItems(t, res, "install foo-1.0-1.x86_64", "install bar-2.0-1.x86_64")
	if res.Items[0].Package.Reason != manager.ReasonUser {
		t.Errorf("requested package reason = %q, want user", res.Items[0].Package.Reason)
	}
	if res.Items[1].Package.Reason != manager.ReasonDependency {
		t.Errorf("dependency reason = %q, want dependency", res.Items[1].Package.Reason)
	}
}

func TestResolvePrefersRequirerArch(t *testing.T) {
	cat := testCatalog()
	cat.Packages = append(cat.Packages, pkg("wine", "9-1", "i686", "base", requires("libbar.so.1")))
	b := New(cat)

	goal := &manager.Goal{}
	goal.Install(pkg("wine", "9-1", "i686", "base", requires("libbar.so.1")))
	expectItems(t, resolve(t, b, goal), "install wine-9-1.i686", "install bar-2.0-1.i686")
}

func TestResolveNothingProvides(t *testing.T) {
	b := New(testCatalog())
	goal := &manager.Goal{}
	goal.Install(pkg("broken", "1-1", "x86_64", "base", requires("libmissing.so")))

	expectProblem(t, resolve(t, b, goal), "nothing provides libmissing.so needed by broken-1-1.x86_64")
}

func TestResolveUpgrade(t *testing.T) {
	b := New(testCatalog())
	goal := &manager.Goal{}
	goal.Upgrade(installedPkg(t, b, "vim"))

	res := resolve(t, b, goal)
	expectItems(t, res, "upgrade vim-9.1-1.x86_64", "replaced vim-9.0-1.x86_64")
	if !res.Items[1].Package.Installed {
		t.Error("replaced item should be the installed copy")
	}
}

func TestResolveUpgradeAll(t *testing.T) {
	b := New(testCatalog())
	goal := &manager.Goal{}
	goal.UpgradeAll()
	expectItems(t, resolve(t, b, goal), "upgrade vim-9.1-1.x86_64", "replaced vim-9.0-1.x86_64")
}

func TestResolveUpgradeNotInstalled(t *testing.T) {
	b := New(testCatalog())
	goal := &manager.Goal{}
	goal.Upgrade(pkg("foo", "1.0-1", "x86_64", "base"))
	expectProblem(t, resolve(t, b, goal), "Package foo is not installed")
}

func TestResolveReinstall(t *testing.T) {
	cat := testCatalog()
	cat.Packages = append(cat.Packages, pkg("vim", "9.0-1", "x86_64", "base"))
	b := New(cat)

	goal := &manager.Goal{}
	goal.Install(installedPkg(t, b, "vim"))
	expectItems(t, resolve(t, b, goal), "reinstall vim-9.0-1.x86_64")

	b = New(testCatalog())
	goal = &manager.Goal{}
	goal.Install(installedPkg(t, b, "vim"))
	expectProblem(t, resolve(t, b, goal), "not available for reinstall")
}

func TestResolveObsoletes(t *testing.T) {
	cat := &Catalog{
		Repos:     []manager.Repo{{ID: "base", Enabled: true}},
		Packages:  []manager.Package{pkg("newlib", "2-1", "x86_64", "base", obsoletes("oldlib < 2"))},
		Installed: []manager.Package{inst("oldlib", "1-1", "x86_64", "base")},
	}
	b := New(cat)

	goal := &manager.Goal{}
	goal.UpgradeAll()
	expectItems(t, resolve(t, b, goal), "install newlib-2-1.x86_64", "replaced oldlib-1-1.x86_64")
}

func TestResolveConflicts(t *testing.T) {
	cat := &Catalog{
		Repos:     []manager.Repo{{ID: "base", Enabled: true}},
		Packages:  []manager.Package{pkg("postfix", "3-1", "x86_64", "base", conflicts("sendmail"))},
		Installed: []manager.Package{inst("sendmail", "8-1", "x86_64", "base")},
	}
	b := New(cat)
	postfix := cat.Packages[0]

	goal := &manager.Goal{}
	goal.Install(postfix)
	expectProblem(t, resolve(t, b, goal), "package postfix-3-1.x86_64 conflicts with installed sendmail-8-1.x86_64")

	goal = &manager.Goal{AllowErasing: true}
	goal.Install(postfix)
	expectItems(t, resolve(t, b, goal), "install postfix-3-1.x86_64", "remove sendmail-8-1.x86_64")
}

func depCatalog() *Catalog {
	return &Catalog{
		Repos: []manager.Repo{{ID: "base", Enabled: true}},
		Packages: []manager.Package{
			pkg("bar", "3.0-1", "x86_64", "base", providesCaps("libbar.so.2")),
		},
		Installed: []manager.Package{
			inst("foo", "1.0-1", "x86_64", "base", requires("libbar.so.1")),
			inst("bar", "2.0-1", "x86_64", "base", providesCaps("libbar.so.1"), dependency),
			inst("kernel", "6.1-1", "x86_64", "base"),
		},
		Protected: []string{"kernel"},
	}
}

func TestResolveRemoveCascades(t *testing.T) {
	b := New(depCatalog())
	goal := &manager.Goal{}
	goal.Remove(installedPkg(t, b, "bar"))
	expectItems(t, resolve(t, b, goal), "remove bar-2.0-1.x86_64", "remove foo-1.0-1.x86_64")
}

func TestResolveUpgradeWouldBreak(t *testing.T) {
	b := New(depCatalog())
	goal := &manager.Goal{}
	goal.UpgradeAll()
	expectProblem(t, resolve(t, b, goal), "foo-1.0-1.x86_64 requires libbar.so.1, which would be removed")
}

func TestResolveCleanDeps(t *testing.T) {
	b := New(depCatalog())

	goal := &manager.Goal{}
	goal.Remove(installedPkg(t, b, "foo"))
	expectItems(t, resolve(t, b, goal), "remove foo-1.0-1.x86_64")

	goal = &manager.Goal{CleanDeps: true}
	goal.Remove(installedPkg(t, b, "foo"))
	expectItems(t, resolve(t, b, goal), "remove foo-1.0-1.x86_64", "remove bar-2.0-1.x86_64")
}

func TestResolveProtected(t *testing.T) {
	b := New(depCatalog())
	goal := &manager.Goal{}
	goal.Remove(installedPkg(t, b, "kernel"))
	expectProblem(t, resolve(t, b, goal), "removing the protected package kernel")
}

func TestResolveRemoveNotInstalled(t *testing.T) {
	b := New(depCatalog())
	goal := &manager.Goal{}
	goal.Remove(pkg("bar", "3.0-1", "x86_64", "base"))
	expectProblem(t, resolve(t, b, goal), "is not installed")
}

func TestResolveDistroSync(t *testing.T) {
	cat := testCatalog()
	cat.Installed[0] = inst("vim", "9.2-1", "x86_64", "updates")
	b := New(cat)

	goal := &manager.Goal{}
	goal.UpgradeAll()
	expectItems(t, resolve(t, b, goal))

	goal = &manager.Goal{}
	goal.DistroSync()
	expectItems(t, resolve(t, b, goal), "downgrade vim-9.1-1.x86_64", "replaced vim-9.2-1.x86_64")
}

func TestResolveGroupUpgrade(t *testing.T) {
	cat := testCatalog()
	cat.Packages = append(cat.Packages, pkg("nano", "7-1", "x86_64", "base"))
	cat.Groups = []manager.Group{{ID: "editors", Name: "Editors", Installed: true, Packages: []string{"vim", "nano"}}}
	b := New(cat)

	goal := &manager.Goal{}
	goal.GroupUpgrade("editors")
	expectItems(t, resolve(t, b, goal),
		"upgrade vim-9.1-1.x86_64", "install nano-7-1.x86_64", "replaced vim-9.0-1.x86_64")

	goal = &manager.Goal{}
	goal.GroupUpgrade("nope")
	expectProblem(t, resolve(t, b, goal), "Group nope not found")
}

func TestResolveProblemsDeduplicated(t *testing.T) {
	b := New(testCatalog())
	goal := &manager.Goal{}
	goal.Upgrade(pkg("foo", "1.0-1", "x86_64", "base"))
	goal.Upgrade(pkg("foo", "1.0-1", "x86_64", "base"))

	res := resolve(t, b, goal)
	if len(res.Problems) != 1 {
		t.Errorf("expected one problem, got %v", res.Problems)
	}
}

func TestResolveCancelled(t *testing.T) {
	b := New(testCatalog())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := b.Resolve(ctx, &manager.Goal{}); err == nil {
		t.Error("expected an error for a cancelled context")
	}
}
