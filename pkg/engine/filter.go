package engine

import (
	"fmt"
	"strings"

	"pkengine/pkg/manager"
)

// Filter is a set of package predicates. Each dimension is a pair; asking for
// both members of a pair matches nothing.
type Filter uint32

const (
	FilterInstalled Filter = 1 << iota
	FilterNotInstalled
	FilterNewest
	FilterDevel
	FilterNotDevel
	FilterGui
	FilterNotGui
	FilterArch
	FilterNotArch
	FilterSource
	FilterNotSource
	FilterSupported
	FilterNotSupported
	FilterDownloaded
	FilterNotDownloaded
	FilterFree
	FilterNotFree

	FilterNone Filter = 0
)

var filterNames = []struct {
	bit  Filter
	name string
}{
	{FilterInstalled, "installed"},
	{FilterNotInstalled, "~installed"},
	{FilterNewest, "newest"},
	{FilterDevel, "devel"},
	{FilterNotDevel, "~devel"},
	{FilterGui, "gui"},
	{FilterNotGui, "~gui"},
	{FilterArch, "arch"},
	{FilterNotArch, "~arch"},
	{FilterSource, "source"},
	{FilterNotSource, "~source"},
	{FilterSupported, "supported"},
	{FilterNotSupported, "~supported"},
	{FilterDownloaded, "downloaded"},
	{FilterNotDownloaded, "~downloaded"},
	{FilterFree, "free"},
	{FilterNotFree, "~free"},
}

// ParseFilter parses a ';' separated filter list such as "installed;~devel".
// Both "" and "none" are the empty filter.
func ParseFilter(s string) (Filter, error) {
	var f Filter
	for _, part := range strings.Split(s, ";") {
		part = strings.TrimSpace(part)
		if part == "" || part == "none" {
			continue
		}
		bit, ok := lookupFilter(part)
		if !ok {
			return 0, NewError(CodeFilterInvalid, fmt.Sprintf("unknown filter %q", part))
		}
		f |= bit
	}
	return f, nil
}

func lookupFilter(name string) (Filter, bool) {
	for _, fn := range filterNames {
		if fn.name == name {
			return fn.bit, true
		}
	}
	return 0, false
}

// Has reports whether every bit of bits is set.
func (f Filter) Has(bits Filter) bool {
	return f&bits == bits
}

func (f Filter) String() string {
	if f == FilterNone {
		return "none"
	}
	var parts []string
	for _, fn := range filterNames {
		if f.Has(fn.bit) {
			parts = append(parts, fn.name)
		}
	}
	return strings.Join(parts, ";")
}

// Stages selects which parts of the pipeline run.
type Stages int

const (
	// StagesAll runs installed, arch, newest and the per-record predicates.
	StagesAll Stages = iota
	// StagesNoRecord stops after newest. Resolve uses this: its exact-name
	// identity filter already settles the record-level dimensions.
	StagesNoRecord
)

// Pipeline applies a Filter to candidate packages.
type Pipeline struct {
	// Arch is the native architecture; "noarch" always counts as native.
	Arch string

	// SupportedRepos lists the repositories treated as supported. An empty
	// list treats every repository as supported.
	SupportedRepos []string

	Compare manager.EVRCompareFunc
}

// Apply runs every stage.
func (p *Pipeline) Apply(candidates []manager.Package, f Filter) []manager.Package {
	return p.ApplyStages(candidates, f, StagesAll)
}

// ApplyStages filters candidates in fixed order: installed state, arch,
// newest, then the independent per-record predicates.
func (p *Pipeline) ApplyStages(candidates []manager.Package, f Filter, stages Stages) []manager.Package {
	out := p.keep(candidates, f, FilterInstalled, FilterNotInstalled, func(pkg manager.Package) bool {
		return pkg.Installed
	})
	out = p.keep(out, f, FilterArch, FilterNotArch, p.nativeArch)

	if f.Has(FilterNewest) {
		out = p.newest(out)
	}
	if stages == StagesNoRecord {
		return out
	}

	out = p.keep(out, f, FilterDevel, FilterNotDevel, isDevel)
	out = p.keep(out, f, FilterGui, FilterNotGui, isGui)
	out = p.keep(out, f, FilterSource, FilterNotSource, isSource)
	out = p.keep(out, f, FilterSupported, FilterNotSupported, p.supported)
	out = p.keep(out, f, FilterDownloaded, FilterNotDownloaded, func(pkg manager.Package) bool {
		return pkg.Local
	})
	out = p.keep(out, f, FilterFree, FilterNotFree, func(pkg manager.Package) bool {
		return IsFreeLicense(pkg.License)
	})
	return out
}

// keep applies one predicate pair.
func (p *Pipeline) keep(pkgs []manager.Package, f, yes, no Filter, pred func(manager.Package) bool) []manager.Package {
	wantYes, wantNo := f.Has(yes), f.Has(no)
	switch {
	case wantYes && wantNo:
		return nil
	case !wantYes && !wantNo:
		return pkgs
	}

	out := make([]manager.Package, 0, len(pkgs))
	for _, pkg := range pkgs {
		if pred(pkg) == wantYes {
			out = append(out, pkg)
		}
	}
	return out
}

// newest keeps the highest-EVR record of every (name, arch) group and every
// installed record, so an installed older copy stays next to its update.
func (p *Pipeline) newest(pkgs []manager.Package) []manager.Package {
	cmp := p.Compare
	if cmp == nil {
		cmp = manager.CompareEVR
	}

	best := make(map[string]int, len(pkgs))
	for i, pkg := range pkgs {
		key := pkg.Name + "." + pkg.Arch
		j, ok := best[key]
		if !ok || cmp(pkg.EVR, pkgs[j].EVR) > 0 {
			best[key] = i
		}
	}

	out := make([]manager.Package, 0, len(best))
	for i, pkg := range pkgs {
		if best[pkg.Name+"."+pkg.Arch] == i || pkg.Installed {
			out = append(out, pkg)
		}
	}
	return out
}

func (p *Pipeline) nativeArch(pkg manager.Package) bool {
	return pkg.Arch == "noarch" || pkg.Arch == "any" || pkg.Arch == p.Arch
}

func (p *Pipeline) supported(pkg manager.Package) bool {
	if len(p.SupportedRepos) == 0 {
		return true
	}
	repo := pkg.Origin
	if pkg.Installed {
		if pkg.FromRepo == "" {
			return true
		}
		repo = pkg.FromRepo
	}
	for _, r := range p.SupportedRepos {
		if r == repo {
			return true
		}
	}
	return false
}

var develSuffixes = []string{"-devel", "-debuginfo", "-debugsource", "-dbg", "-dev", "-headers"}

func isDevel(pkg manager.Package) bool {
	return IsDevelRepo(pkg.Origin) || IsDevelRepo(pkg.FromRepo) || hasAnySuffix(pkg.Name, develSuffixes)
}

// IsDevelRepo reports whether a repository id names a debug or devel repository.
func IsDevelRepo(id string) bool {
	return hasAnySuffix(id, []string{"-debuginfo", "-debugsource", "-devel"})
}

// IsSourceRepo reports whether a repository id names a source repository.
func IsSourceRepo(id string) bool {
	return strings.HasSuffix(id, "-source")
}

func isGui(pkg manager.Package) bool {
	for _, prov := range pkg.Provides {
		if strings.HasPrefix(prov, "application(") {
			return true
		}
	}
	return false
}

func isSource(pkg manager.Package) bool {
	return pkg.Arch == "src" || pkg.Arch == "nosrc" || IsSourceRepo(pkg.Origin)
}

func hasAnySuffix(s string, suffixes []string) bool {
	if s == "" {
		return false
	}
	for _, suf := range suffixes {
		if strings.HasSuffix(s, suf) {
			return true
		}
	}
	return false
}

// freeLicenses are license identifier prefixes considered free software.
var freeLicenses = []string{
	"AGPL", "Apache", "Artistic", "BSD", "BSL", "Boost", "CC0", "CC-BY", "CDDL",
	"EPL", "EUPL", "GFDL", "GPL", "ISC", "LGPL", "LPPL", "MIT", "MPL", "OFL",
	"OpenSSL", "PHP", "PSF", "PostgreSQL", "Public Domain", "Python", "Ruby",
	"Unicode", "Unlicense", "UPL", "Vim", "W3C", "WTFPL", "X11", "Zlib", "ZPL",
	"zlib", "custom:OFL", "LicenseRef-Fedora-Public-Domain",
}

// IsFreeLicense reports whether a license expression is free. For "or"
// expressions one free alternative is enough; "and" terms must all be free.
func IsFreeLicense(expr string) bool {
	expr = strings.TrimSpace(expr)
	if expr == "" || strings.EqualFold(expr, "unknown") {
		return false
	}
	expr = strings.NewReplacer("(", " ", ")", " ", " OR ", " or ", " AND ", " and ").Replace(expr)

	for _, alt := range strings.Split(expr, " or ") {
		free := true
		for _, term := range strings.Split(alt, " and ") {
			if !isFreeTerm(term) {
				free = false
				break
			}
		}
		if free {
			return true
		}
	}
	return false
}

func isFreeTerm(term string) bool {
	term = strings.TrimSpace(term)
	if i := strings.Index(term, " WITH "); i > 0 {
		term = term[:i]
	}
	if term == "" {
		return false
	}
	for _, lic := range freeLicenses {
		if strings.HasPrefix(term, lic) {
			return true
		}
	}
	return false
}

// RepoMatches applies the repository-level dimensions of f to a repo.
// Installed/NotInstalled select enabled and disabled repositories.
func (p *Pipeline) RepoMatches(r manager.Repo, f Filter) bool {
	check := func(yes, no Filter, v bool) bool {
		wantYes, wantNo := f.Has(yes), f.Has(no)
		switch {
		case wantYes && wantNo:
			return false
		case wantYes:
			return v
		case wantNo:
			return !v
		}
		return true
	}

	supported := len(p.SupportedRepos) == 0
	for _, id := range p.SupportedRepos {
		if id == r.ID {
			supported = true
		}
	}

	return check(FilterInstalled, FilterNotInstalled, r.Enabled) &&
		check(FilterDevel, FilterNotDevel, IsDevelRepo(r.ID)) &&
		check(FilterSource, FilterNotSource, IsSourceRepo(r.ID)) &&
		check(FilterSupported, FilterNotSupported, supported)
}
