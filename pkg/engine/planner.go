package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"pkengine/pkg/manager"
)

// Plan is a resolved transaction. A plan with problems must not be executed.
type Plan struct {
	Items    []manager.Item
	Problems []string
}

// Failed reports whether resolution left problems.
func (p *Plan) Failed() bool {
	return len(p.Problems) > 0
}

// Err returns the DepResolutionFailed error for a failed plan, or nil.
func (p *Plan) Err() error {
	if !p.Failed() {
		return nil
	}
	return NewError(CodeDepResolutionFailed, strings.Join(p.Problems, "; "))
}

// Inbound returns the packages the plan brings onto the system.
func (p *Plan) Inbound() []manager.Package {
	var out []manager.Package
	for _, it := range p.Items {
		if it.Action.Inbound() {
			out = append(out, it.Package)
		}
	}
	return out
}

// Removed returns the packages the plan takes off the system, replaced
// ones included.
func (p *Plan) Removed() []manager.Package {
	var out []manager.Package
	for _, it := range p.Items {
		if !it.Action.Inbound() {
			out = append(out, it.Package)
		}
	}
	return out
}

// SurfacedItem is a plan item as callers see it.
type SurfacedItem struct {
	Package manager.Package
	Info    Info
}

// Surfaced maps items to caller-visible infos. A Replaced item is reported
// as Obsoleting only when no Upgrade, Downgrade or Reinstall of the same
// name is in the plan; otherwise the version change already accounts for
// it and it is left out.
func (p *Plan) Surfaced() []SurfacedItem {
	continuing := make(map[string]struct{})
	for _, it := range p.Items {
		switch it.Action {
		case manager.ActionUpgrade, manager.ActionDowngrade, manager.ActionReinstall:
			continuing[it.Package.Name] = struct{}{}
		}
	}

	out := make([]SurfacedItem, 0, len(p.Items))
	for _, it := range p.Items {
		if it.Action == manager.ActionReplaced {
			if _, ok := continuing[it.Package.Name]; ok {
				continue
			}
			out = append(out, SurfacedItem{Package: it.Package, Info: InfoObsoleting})
			continue
		}
		out = append(out, SurfacedItem{Package: it.Package, Info: simulateInfo(it.Action)})
	}
	return out
}

// simulateInfo is the action to info mapping used when reporting a plan.
func simulateInfo(a manager.Action) Info {
	switch a {
	case manager.ActionInstall:
		return InfoInstalling
	case manager.ActionUpgrade:
		return InfoUpdating
	case manager.ActionRemove:
		return InfoRemoving
	case manager.ActionReinstall:
		return InfoReinstalling
	case manager.ActionDowngrade:
		return InfoDowngrading
	case manager.ActionReplaced:
		return InfoObsoleting
	}
	return InfoUnknown
}

// executeInfo is the mapping used when an item starts during commit.
func executeInfo(a manager.Action) Info {
	switch a {
	case manager.ActionInstall, manager.ActionReinstall:
		return InfoInstalling
	case manager.ActionUpgrade, manager.ActionDowngrade:
		return InfoUpdating
	case manager.ActionRemove:
		return InfoRemoving
	case manager.ActionReplaced:
		return InfoCleanup
	}
	return InfoUnknown
}

// Planner resolves goals through the backend's native resolver and
// classifies the outcome.
type Planner struct {
	Resolver manager.Resolver
}

// Resolve computes the plan for goal. Native errors are returned as
// InternalError; unsatisfiable goals come back as a plan with problems and
// no items.
func (pl Planner) Resolve(ctx context.Context, goal *manager.Goal) (*Plan, error) {
	res, err := pl.Resolver.Resolve(ctx, goal)
	if err != nil {
		if ctx.Err() != nil {
			return nil, WrapError(CodeCancelled, "resolution cancelled", err)
		}
		return nil, WrapError(CodeInternalError, "native resolver failed", err)
	}

	problems := append([]string(nil), res.Problems...)
	if !goal.AllowDowngrade {
		for _, it := range res.Items {
			if it.Action == manager.ActionDowngrade {
				problems = append(problems, fmt.Sprintf("downgrade of %s not allowed", it.Package))
			}
		}
	}
	if len(problems) > 0 {
		return &Plan{Problems: problems}, nil
	}

	items := append([]manager.Item(nil), res.Items...)
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Action.Inbound() && !items[j].Action.Inbound()
	})
	return &Plan{Items: items}, nil
}
