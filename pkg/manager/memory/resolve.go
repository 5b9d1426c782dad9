package memory

import (
	"context"
	"fmt"
	"sort"

	"pkengine/pkg/manager"
)

// Resolve computes the changes for goal against the current state.
func (b *Backend) Resolve(ctx context.Context, goal *manager.Goal) (*manager.Resolution, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.RLock()
	s := newSolver(b, goal)
	b.mu.RUnlock()

	s.run()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.resolution(), nil
}

// solver works on a private copy of the backend state.
type solver struct {
	goal      *manager.Goal
	cmp       manager.EVRCompareFunc
	arch      string
	arches    map[string]bool
	installed []manager.Package
	available []manager.Package
	groups    []manager.Group
	protected map[string]bool

	inbound  map[string]manager.Item // by name.arch
	inOrder  []string
	removing map[string]manager.Item // by installed id
	rmOrder  []string
	queue    []manager.Package
	problems []string
	reported map[string]bool
}

func newSolver(b *Backend, goal *manager.Goal) *solver {
	s := &solver{
		goal:      goal,
		cmp:       manager.CompareEVR,
		arch:      b.arch,
		arches:    make(map[string]bool),
		installed: append([]manager.Package(nil), b.cat.Installed...),
		available: b.availableLocked(),
		groups:    append([]manager.Group(nil), b.cat.Groups...),
		protected: make(map[string]bool),
		inbound:   make(map[string]manager.Item),
		removing:  make(map[string]manager.Item),
		reported:  make(map[string]bool),
	}
	for _, a := range b.SupportedArches() {
		s.arches[a] = true
	}
	for _, name := range b.cat.Protected {
		s.protected[name] = true
	}
	return s
}

func (s *solver) run() {
	for _, op := range s.goal.Operations {
		switch op.Kind {
		case manager.GoalInstall:
			s.installOp(op.Package)
		case manager.GoalRemove:
			s.removeOp(op.Package)
		case manager.GoalUpgrade:
			s.upgradeOp(op.Package)
		case manager.GoalUpgradeAll:
			s.syncAll(false)
		case manager.GoalDistroSync:
			s.syncAll(true)
		case manager.GoalGroupUpgrade:
			s.groupOp(op.Group)
		}
	}
	s.closure()
	s.obsoletes()
	s.conflicts()
	s.settle()
	if s.goal.CleanDeps {
		s.cleanDeps()
	}
	s.checkProtected()
}

func (s *solver) resolution() *manager.Resolution {
	if len(s.problems) > 0 {
		return &manager.Resolution{Problems: s.problems}
	}
	items := make([]manager.Item, 0, len(s.inOrder)+len(s.rmOrder))
	for _, k := range s.inOrder {
		items = append(items, s.inbound[k])
	}
	for _, k := range s.rmOrder {
		items = append(items, s.removing[k])
	}
	return &manager.Resolution{Items: items}
}

func (s *solver) problem(format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if s.reported[msg] {
		return
	}
	s.reported[msg] = true
	s.problems = append(s.problems, msg)
}

func key(p manager.Package) string {
	return p.Name + "." + p.Arch
}

// installedNA returns the newest installed record of name.arch.
func (s *solver) installedNA(name, arch string) *manager.Package {
	var best *manager.Package
	for i := range s.installed {
		p := &s.installed[i]
		if p.Name == name && p.Arch == arch && (best == nil || s.cmp(p.EVR, best.EVR) > 0) {
			best = p
		}
	}
	return best
}

// newestAvailable returns the newest available record of name.arch.
func (s *solver) newestAvailable(name, arch string) *manager.Package {
	var best *manager.Package
	for i := range s.available {
		p := &s.available[i]
		if p.Name == name && p.Arch == arch && (best == nil || s.cmp(p.EVR, best.EVR) > 0) {
			best = p
		}
	}
	return best
}

// newestByName picks the newest available record of name, preferring the
// native arch, then noarch.
func (s *solver) newestByName(name string) *manager.Package {
	var cands []manager.Package
	for _, p := range s.available {
		if p.Name == name && s.arches[p.Arch] {
			cands = append(cands, p)
		}
	}
	return s.best(cands, s.arch)
}

func (s *solver) best(cands []manager.Package, arch string) *manager.Package {
	if len(cands) == 0 {
		return nil
	}
	rank := func(p manager.Package) int {
		switch p.Arch {
		case arch:
			return 0
		case "noarch":
			return 1
		}
		return 2
	}
	sort.SliceStable(cands, func(i, j int) bool {
		a, b := cands[i], cands[j]
		if rank(a) != rank(b) {
			return rank(a) < rank(b)
		}
		if c := s.cmp(a.EVR, b.EVR); c != 0 {
			return c > 0
		}
		return a.Name < b.Name
	})
	return &cands[0]
}

func (s *solver) removed(p manager.Package) bool {
	_, ok := s.removing[p.ID()]
	return ok
}

func (s *solver) addInbound(p manager.Package, action manager.Action) {
	k := key(p)
	if _, ok := s.inbound[k]; ok {
		return
	}
	s.inbound[k] = manager.Item{Package: p, Action: action}
	s.inOrder = append(s.inOrder, k)
	s.queue = append(s.queue, p)
}

func (s *solver) addRemoval(p manager.Package, action manager.Action) {
	id := p.ID()
	if _, ok := s.removing[id]; ok {
		return
	}
	s.removing[id] = manager.Item{Package: p, Action: action}
	s.rmOrder = append(s.rmOrder, id)
}

// change brings p in over whatever is installed for its name.arch.
func (s *solver) change(p manager.Package, reason string) {
	if _, ok := s.inbound[key(p)]; ok {
		return
	}
	old := s.installedNA(p.Name, p.Arch)
	if old == nil {
		p.Reason = reason
		s.addInbound(p, manager.ActionInstall)
		return
	}

	p.Reason = old.Reason
	switch c := s.cmp(p.EVR, old.EVR); {
	case c == 0:
		s.addInbound(p, manager.ActionReinstall)
	case c > 0:
		s.addInbound(p, manager.ActionUpgrade)
		s.addRemoval(*old, manager.ActionReplaced)
	default:
		s.addInbound(p, manager.ActionDowngrade)
		s.addRemoval(*old, manager.ActionReplaced)
	}
}

func (s *solver) installOp(p manager.Package) {
	if p.Installed {
		avail := s.availableCopy(p)
		if avail == nil {
			s.problem("Installed package %s is not available for reinstall", p)
			return
		}
		p = *avail
	}
	s.change(p, manager.ReasonUser)
}

func (s *solver) availableCopy(p manager.Package) *manager.Package {
	for i := range s.available {
		a := &s.available[i]
		if a.Name == p.Name && a.EVR == p.EVR && a.Arch == p.Arch {
			if p.FromRepo == "" || a.Origin == p.FromRepo {
				return a
			}
		}
	}
	return nil
}

func (s *solver) upgradeOp(p manager.Package) {
	old := s.installedNA(p.Name, p.Arch)
	if old == nil {
		s.problem("Package %s is not installed", p.Name)
		return
	}
	target := p
	if p.Installed {
		t := s.newestAvailable(p.Name, p.Arch)
		if t == nil {
			return
		}
		target = *t
	}
	if s.cmp(target.EVR, old.EVR) > 0 {
		s.change(target, old.Reason)
	}
}

// syncAll upgrades every installed package to the newest available one;
// with distro set it also downgrades to match the repositories.
func (s *solver) syncAll(distro bool) {
	seen := make(map[string]bool)
	for _, old := range s.installed {
		k := key(old)
		if seen[k] {
			continue
		}
		seen[k] = true
		target := s.newestAvailable(old.Name, old.Arch)
		if target == nil {
			continue
		}
		cur := s.installedNA(old.Name, old.Arch)
		c := s.cmp(target.EVR, cur.EVR)
		if c > 0 || (distro && c < 0) {
			s.change(*target, cur.Reason)
		}
	}

	// Packages obsoleting something installed come in as replacements.
	installedNames := make(map[string]manager.Package)
	for _, p := range s.installed {
		installedNames[p.Name] = p
	}
	for _, p := range s.available {
		if _, ok := installedNames[p.Name]; ok || !s.arches[p.Arch] {
			continue
		}
		for _, obs := range p.Obsoletes {
			if old, ok := installedNames[manager.CapabilityName(obs)]; ok {
				if best := s.newestByName(p.Name); best != nil && best.ID() == p.ID() {
					s.change(p, old.Reason)
				}
				break
			}
		}
	}
}

func (s *solver) groupOp(id string) {
	var group *manager.Group
	for i := range s.groups {
		if s.groups[i].ID == id {
			group = &s.groups[i]
		}
	}
	if group == nil {
		s.problem("Group %s not found", id)
		return
	}
	for _, name := range group.Packages {
		best := s.newestByName(name)
		if best == nil {
			continue
		}
		old := s.installedNA(best.Name, best.Arch)
		if old == nil || s.cmp(best.EVR, old.EVR) > 0 {
			s.change(*best, manager.ReasonUser)
		}
	}
}

func (s *solver) removeOp(p manager.Package) {
	for _, q := range s.installed {
		if q.Name == p.Name && q.EVR == p.EVR && q.Arch == p.Arch {
			s.addRemoval(q, manager.ActionRemove)
			return
		}
	}
	s.problem("Package %s is not installed", p)
}

// satisfied reports whether something that stays or comes in provides req.
func (s *solver) satisfied(req string) bool {
	for _, it := range s.inbound {
		if provides(it.Package, req) {
			return true
		}
	}
	for _, p := range s.installed {
		if !s.removed(p) && provides(p, req) {
			return true
		}
	}
	return false
}

// closure pulls in providers for the requirements of inbound packages.
func (s *solver) closure() {
	for len(s.queue) > 0 {
		p := s.queue[0]
		s.queue = s.queue[1:]
		for _, req := range p.Requires {
			if s.satisfied(req) {
				continue
			}
			var cands []manager.Package
			for _, a := range s.available {
				if s.arches[a.Arch] && provides(a, req) {
					cands = append(cands, a)
				}
			}
			prov := s.best(cands, p.Arch)
			if prov == nil {
				s.problem("nothing provides %s needed by %s", req, p)
				continue
			}
			s.change(*prov, manager.ReasonDependency)
		}
	}
}

func (s *solver) obsoletes() {
	for _, k := range s.inOrder {
		p := s.inbound[k].Package
		for _, obs := range p.Obsoletes {
			name := manager.CapabilityName(obs)
			for _, q := range s.installed {
				if q.Name == name && q.Name != p.Name && !s.removed(q) {
					s.addRemoval(q, manager.ActionReplaced)
				}
			}
		}
	}
}

func (s *solver) conflicts() {
	for _, k := range s.inOrder {
		p := s.inbound[k].Package
		for _, q := range s.installed {
			if q.Name == p.Name || s.removed(q) {
				continue
			}
			if !conflict(p, q) && !conflict(q, p) {
				continue
			}
			if s.goal.AllowErasing {
				s.addRemoval(q, manager.ActionRemove)
				continue
			}
			s.problem("package %s conflicts with installed %s", p, q)
		}
	}
}

func conflict(a, b manager.Package) bool {
	for _, c := range a.Conflicts {
		if b.ProvidesCapability(c) {
			return true
		}
	}
	return false
}

// settle removes installed packages whose requirements would break, or
// reports them when the goal does not allow removals.
func (s *solver) settle() {
	cascade := s.goal.AllowErasing
	for _, op := range s.goal.Operations {
		if op.Kind == manager.GoalRemove {
			cascade = true
		}
	}

	for changed := true; changed; {
		changed = false
		for _, p := range s.installed {
			if s.removed(p) {
				continue
			}
			if _, replaced := s.inbound[key(p)]; replaced {
				continue
			}
			for _, req := range p.Requires {
				if s.satisfied(req) {
					continue
				}
				if cascade {
					s.addRemoval(p, manager.ActionRemove)
					changed = true
				} else {
					s.problem("%s requires %s, which would be removed", p, req)
				}
				break
			}
		}
	}
}

// cleanDeps removes dependency-reason packages nothing needs any more.
func (s *solver) cleanDeps() {
	for changed := true; changed; {
		changed = false
		for _, p := range s.installed {
			if s.removed(p) || p.Reason != manager.ReasonDependency {
				continue
			}
			if _, replaced := s.inbound[key(p)]; replaced {
				continue
			}
			if !s.neededByRemoved(p) || s.needed(p) {
				continue
			}
			s.addRemoval(p, manager.ActionRemove)
			changed = true
		}
	}
}

// neededByRemoved reports whether a package being removed required p.
func (s *solver) neededByRemoved(p manager.Package) bool {
	for _, it := range s.removing {
		if it.Action != manager.ActionRemove {
			continue
		}
		for _, req := range it.Package.Requires {
			if provides(p, req) {
				return true
			}
		}
	}
	return false
}

// needed reports whether anything staying or coming in requires p.
func (s *solver) needed(p manager.Package) bool {
	check := func(q manager.Package) bool {
		if q.ID() == p.ID() {
			return false
		}
		for _, req := range q.Requires {
			if provides(p, req) {
				return true
			}
		}
		return false
	}
	for _, it := range s.inbound {
		if check(it.Package) {
			return true
		}
	}
	for _, q := range s.installed {
		if !s.removed(q) && check(q) {
			return true
		}
	}
	return false
}

func (s *solver) checkProtected() {
	for _, id := range s.rmOrder {
		it := s.removing[id]
		if it.Action == manager.ActionRemove && s.protected[it.Package.Name] {
			s.problem("The operation would result in removing the protected package %s", it.Package.Name)
		}
	}
}
