package manager

import (
	"testing"
)

func TestPackageID(t *testing.T) {
	pkg := Package{Name: "foo", EVR: "1.0-1", Arch: "x86_64", Origin: "repoA"}
	if got := pkg.ID(); got != "foo;1.0-1;x86_64;repoA" {
		t.Errorf("ID() = %q", got)
	}
}

func TestParseID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    PackageID
		wantErr bool
	}{
		{"full", "foo;1.0-1;x86_64;repoA", PackageID{"foo", "1.0-1", "x86_64", "repoA"}, false},
		{"bare name", "foo", PackageID{Name: "foo"}, false},
		{"empty arch", "foo;1.0;;installed", PackageID{"foo", "1.0", "", "installed"}, false},
		{"empty", "", PackageID{}, true},
		{"too few", "foo;1.0", PackageID{}, true},
		{"no evr", "foo;;x86_64;repoA", PackageID{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseID(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseID(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseID(%q) = %+v, want %+v", tt.input, got, tt.want)
			}
		})
	}
}

func TestPackageIDMatches(t *testing.T) {
	installed := Package{Name: "foo", EVR: "1.0-1", Arch: "x86_64", Origin: OriginInstalled, Installed: true, FromRepo: "repoA"}
	available := Package{Name: "foo", EVR: "1.0-1", Arch: "x86_64", Origin: "repoA"}

	id, _ := ParseID("foo;1.0-1;x86_64;installed")
	if !id.Matches(installed) {
		t.Error("installed id should match installed record")
	}
	if id.Matches(available) {
		t.Error("installed id should not match available record")
	}

	id, _ = ParseID("foo;1.0-1;x86_64;repoA")
	if !id.Matches(available) {
		t.Error("repo id should match available record")
	}
	if !id.Matches(installed) {
		t.Error("repo id should match record installed from that repo")
	}

	id, _ = ParseID("foo;1.0-2;x86_64;repoA")
	if id.Matches(available) {
		t.Error("different evr should not match")
	}
}

func TestCapabilityName(t *testing.T) {
	tests := map[string]string{
		"libfoo.so.1":         "libfoo.so.1",
		"libfoo.so.1 >= 1.2":  "libfoo.so.1",
		"bar=2.0":             "bar",
		"  python3(requests)": "python3(requests)",
	}
	for in, want := range tests {
		if got := CapabilityName(in); got != want {
			t.Errorf("CapabilityName(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestProvidesCapability(t *testing.T) {
	pkg := Package{Name: "foo", Provides: []string{"libfoo.so.1 = 1.0", "font(sans)"}}

	for _, c := range []string{"foo", "libfoo.so.1", "font(sans)", "libfoo.so.1 >= 0.9"} {
		if !pkg.ProvidesCapability(c) {
			t.Errorf("expected %q to be provided", c)
		}
	}
	if pkg.ProvidesCapability("bar") {
		t.Error("bar should not be provided")
	}
}

func TestGoal(t *testing.T) {
	var g Goal
	if !g.Empty() {
		t.Error("new goal should be empty")
	}

	g.Install(Package{Name: "foo"})
	g.UpgradeAll()
	g.GroupUpgrade("core")

	if len(g.Operations) != 3 {
		t.Fatalf("expected 3 operations, got %d", len(g.Operations))
	}
	if g.Operations[0].Kind != GoalInstall || g.Operations[0].Package.Name != "foo" {
		t.Errorf("unexpected first operation %+v", g.Operations[0])
	}
	if g.Operations[2].Kind.String() != "group-upgrade" {
		t.Errorf("unexpected kind %s", g.Operations[2].Kind)
	}
}

func TestActionInbound(t *testing.T) {
	tests := []struct {
		action Action
		want   bool
	}{
		{ActionInstall, true},
		{ActionUpgrade, true},
		{ActionReinstall, true},
		{ActionDowngrade, true},
		{ActionRemove, false},
		{ActionReplaced, false},
	}
	for _, tt := range tests {
		t.Run(tt.action.String(), func(t *testing.T) {
			if got := tt.action.Inbound(); got != tt.want {
				t.Errorf("Inbound() = %v, want %v", got, tt.want)
			}
		})
	}
}
