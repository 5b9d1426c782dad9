package engine

import (
	"context"
	"errors"
	"strings"
	"testing"

	"pkengine/pkg/manager"
)

type fakeResolver struct {
	res *manager.Resolution
	err error
}

func (f *fakeResolver) Resolve(ctx context.Context, _ *manager.Goal) (*manager.Resolution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return f.res, f.err
}

func item(pkg manager.Package, action manager.Action) manager.Item {
	return manager.Item{Package: pkg, Action: action}
}

func TestPlannerOrdersInboundFirst(t *testing.T) {
	res := &manager.Resolution{Items: []manager.Item{
		item(installed("old", "1-1", "x86_64", "base"), manager.ActionRemove),
		item(p("new", "1-1", "x86_64", "base"), manager.ActionInstall),
		item(installed("vim", "9.0-1", "x86_64", "base"), manager.ActionReplaced),
		item(p("vim", "9.1-1", "x86_64", "base"), manager.ActionUpgrade),
	}}
	plan, err := Planner{Resolver: &fakeResolver{res: res}}.Resolve(context.Background(), &manager.Goal{})
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}

	var got []string
	for _, it := range plan.Items {
		got = append(got, it.Action.String()+" "+it.Package.Name)
	}
	want := []string{"install new", "upgrade vim", "remove old", "replaced vim"}
	if !equalStrings(got, want) {
		t.Errorf("items = %v, want %v", got, want)
	}
	if len(plan.Inbound()) != 2 || len(plan.Removed()) != 2 {
		t.Errorf("Inbound() = %d, Removed() = %d", len(plan.Inbound()), len(plan.Removed()))
	}
}

func TestPlannerRejectsDowngrade(t *testing.T) {
	res := &manager.Resolution{Items: []manager.Item{
		item(p("vim", "9.0-1", "x86_64", "base"), manager.ActionDowngrade),
		item(installed("vim", "9.1-1", "x86_64", "base"), manager.ActionReplaced),
	}}
	pl := Planner{Resolver: &fakeResolver{res: res}}

	plan, err := pl.Resolve(context.Background(), &manager.Goal{})
	if err != nil {
		t.Fatalf("Resolve() error: %v", err)
	}
	if !plan.Failed() || len(plan.Items) != 0 {
		t.Fatalf("downgrade should fail the plan, got %+v", plan)
	}
	if CodeOf(plan.Err()) != CodeDepResolutionFailed || !strings.Contains(MessageOf(plan.Err()), "downgrade of vim-9.0-1.x86_64 not allowed") {
		t.Errorf("Err() = %v", plan.Err())
	}

	plan, _ = pl.Resolve(context.Background(), &manager.Goal{AllowDowngrade: true})
	if plan.Failed() {
		t.Errorf("AllowDowngrade should accept the plan: %v", plan.Problems)
	}
}

func TestPlannerProblems(t *testing.T) {
	res := &manager.Resolution{Problems: []string{"nothing provides x", "nothing provides y"}}
	plan, _ := Planner{Resolver: &fakeResolver{res: res}}.Resolve(context.Background(), &manager.Goal{})
	if got := MessageOf(plan.Err()); got != "nothing provides x; nothing provides y" {
		t.Errorf("Err() message = %q", got)
	}
	if (&Plan{}).Err() != nil {
		t.Error("a plan without problems has no error")
	}
}

func TestPlannerNativeFailure(t *testing.T) {
	pl := Planner{Resolver: &fakeResolver{err: errors.New("solver crashed")}}
	if _, err := pl.Resolve(context.Background(), &manager.Goal{}); CodeOf(err) != CodeInternalError {
		t.Errorf("native failure = %v, want internal-error", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := pl.Resolve(ctx, &manager.Goal{}); CodeOf(err) != CodeCancelled {
		t.Errorf("cancelled resolution = %v, want transaction-cancelled", err)
	}
}

func TestSurfacedObsoleting(t *testing.T) {
	plan := &Plan{Items: []manager.Item{
		item(p("vim", "9.1-1", "x86_64", "updates"), manager.ActionUpgrade),
		item(p("newlib", "2-1", "x86_64", "base"), manager.ActionInstall),
		item(installed("vim", "9.0-1", "x86_64", "base"), manager.ActionReplaced),
		item(installed("oldlib", "1-1", "x86_64", "base"), manager.ActionReplaced),
		item(installed("junk", "1-1", "x86_64", "base"), manager.ActionRemove),
	}}

	var got []string
	for _, s := range plan.Surfaced() {
		got = append(got, s.Info.String()+" "+s.Package.Name)
	}
	want := []string{"updating vim", "installing newlib", "obsoleting oldlib", "removing junk"}
	if !equalStrings(got, want) {
		t.Errorf("Surfaced() = %v, want %v", got, want)
	}
}

func TestActionInfoMappings(t *testing.T) {
	tests := []struct {
		action   manager.Action
		simulate Info
		execute  Info
	}{
		{manager.ActionInstall, InfoInstalling, InfoInstalling},
		{manager.ActionUpgrade, InfoUpdating, InfoUpdating},
		{manager.ActionRemove, InfoRemoving, InfoRemoving},
		{manager.ActionReinstall, InfoReinstalling, InfoInstalling},
		{manager.ActionDowngrade, InfoDowngrading, InfoUpdating},
		{manager.ActionReplaced, InfoObsoleting, InfoCleanup},
	}
	for _, tt := range tests {
		if got := simulateInfo(tt.action); got != tt.simulate {
			t.Errorf("simulateInfo(%s) = %s, want %s", tt.action, got, tt.simulate)
		}
		if got := executeInfo(tt.action); got != tt.execute {
			t.Errorf("executeInfo(%s) = %s, want %s", tt.action, got, tt.execute)
		}
	}
}
