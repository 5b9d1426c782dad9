package engine

import (
	"context"

	"pkengine/pkg/manager"
)

// Direction selects which edge of the dependency graph is followed.
type Direction int

const (
	// DependsOn follows requires to the packages providing them.
	DependsOn Direction = iota
	// RequiredBy follows provides to the packages requiring them.
	RequiredBy
)

func (d Direction) String() string {
	if d == RequiredBy {
		return "required-by"
	}
	return "depends-on"
}

// DependencyResolver walks the requires/provides graph breadth first.
type DependencyResolver struct {
	Querier manager.Querier

	// Arches bounds candidates to installable architectures. Empty means any.
	Arches []string

	Compare manager.EVRCompareFunc
}

// Resolve returns the packages reachable from start in direction. Without
// recursive only direct neighbours are returned. Each package appears once
// and start itself never does. Results are in discovery order.
func (r *DependencyResolver) Resolve(ctx context.Context, start manager.Package, dir Direction, recursive bool) ([]manager.Package, error) {
	visited := map[string]struct{}{start.ID(): {}}
	queue := []manager.Package{start}
	var result []manager.Package

	for len(queue) > 0 {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		current := queue[0]
		queue = queue[1:]

		for _, capability := range r.edges(current, dir) {
			candidates, err := r.candidates(ctx, capability, dir)
			if err != nil {
				return nil, err
			}
			for _, c := range candidates {
				id := c.ID()
				if _, seen := visited[id]; seen {
					continue
				}
				visited[id] = struct{}{}
				result = append(result, c)
				if recursive {
					queue = append(queue, c)
				}
			}
		}
	}
	return result, nil
}

func (r *DependencyResolver) edges(pkg manager.Package, dir Direction) []string {
	if dir == DependsOn {
		return pkg.Requires
	}
	caps := make([]string, 0, len(pkg.Provides)+1)
	caps = append(caps, pkg.Name)
	for _, p := range pkg.Provides {
		if manager.CapabilityName(p) != pkg.Name {
			caps = append(caps, p)
		}
	}
	return caps
}

func (r *DependencyResolver) candidates(ctx context.Context, capability string, dir Direction) ([]manager.Package, error) {
	var (
		pkgs []manager.Package
		err  error
	)
	if dir == DependsOn {
		pkgs, err = r.Querier.WhatProvides(ctx, capability)
	} else {
		pkgs, err = r.Querier.WhatRequires(ctx, capability)
	}
	if err != nil {
		return nil, err
	}
	return r.latestPerName(r.supportedArch(pkgs)), nil
}

func (r *DependencyResolver) supportedArch(pkgs []manager.Package) []manager.Package {
	if len(r.Arches) == 0 {
		return pkgs
	}
	out := pkgs[:0:0]
	for _, p := range pkgs {
		for _, a := range r.Arches {
			if p.Arch == a {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

// latestPerName keeps one record per name: the highest EVR, preferring the
// installed copy on a tie.
func (r *DependencyResolver) latestPerName(pkgs []manager.Package) []manager.Package {
	cmp := r.Compare
	if cmp == nil {
		cmp = manager.CompareEVR
	}

	index := make(map[string]int)
	var out []manager.Package
	for _, p := range pkgs {
		i, ok := index[p.Name]
		if !ok {
			index[p.Name] = len(out)
			out = append(out, p)
			continue
		}
		c := cmp(p.EVR, out[i].EVR)
		if c > 0 || (c == 0 && p.Installed && !out[i].Installed) {
			out[i] = p
		}
	}
	return out
}
