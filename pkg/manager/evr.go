package manager

import (
	"sort"
	"strings"

	rpmutils "github.com/sassoftware/go-rpmutils"
)

// EVRCompareFunc orders two epoch:version-release strings.
type EVRCompareFunc func(a, b string) int

// SplitEVR splits an epoch:version-release string. A missing epoch is "0" and
// a missing release is empty.
func SplitEVR(evr string) (epoch, version, release string) {
	epoch = "0"
	if i := strings.Index(evr, ":"); i >= 0 {
		if i > 0 {
			epoch = evr[:i]
		}
		evr = evr[i+1:]
	}
	version = evr
	if i := strings.LastIndex(evr, "-"); i >= 0 {
		version, release = evr[:i], evr[i+1:]
	}
	return epoch, version, release
}

// CompareEVR compares two EVR strings the way rpm and pacman do: epoch, then
// version, then release, each with rpm's segment-wise vercmp. A tilde sorts
// before anything, so 1.2~rc1 < 1.2.
func CompareEVR(a, b string) int {
	if a == b {
		return 0
	}
	ea, va, ra := SplitEVR(a)
	eb, vb, rb := SplitEVR(b)
	if c := rpmutils.Vercmp(ea, eb); c != 0 {
		return c
	}
	if c := rpmutils.Vercmp(va, vb); c != 0 {
		return c
	}
	if ra == "" || rb == "" {
		return 0
	}
	return rpmutils.Vercmp(ra, rb)
}

// ComparerFor returns the backend's own version collation when it has one.
func ComparerFor(b any) EVRCompareFunc {
	if vc, ok := b.(VersionComparer); ok {
		return vc.CompareEVR
	}
	return CompareEVR
}

// Less is the package total order: installed before available, then name,
// then arch, then EVR.
func Less(a, b Package, cmp EVRCompareFunc) bool {
	if a.Installed != b.Installed {
		return a.Installed
	}
	if a.Name != b.Name {
		return a.Name < b.Name
	}
	if a.Arch != b.Arch {
		return a.Arch < b.Arch
	}
	if c := cmp(a.EVR, b.EVR); c != 0 {
		return c < 0
	}
	return a.Origin < b.Origin
}

// Sort orders pkgs in place by Less.
func Sort(pkgs []Package, cmp EVRCompareFunc) {
	if cmp == nil {
		cmp = CompareEVR
	}
	sort.SliceStable(pkgs, func(i, j int) bool {
		return Less(pkgs[i], pkgs[j], cmp)
	})
}

// Dedup drops records whose canonical id was already seen, keeping the
// first occurrence.
func Dedup(pkgs []Package) []Package {
	seen := make(map[string]struct{}, len(pkgs))
	out := pkgs[:0:0]
	for _, p := range pkgs {
		id := p.ID()
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, p)
	}
	return out
}

// SortedUnique dedups and sorts, the form every package listing is emitted in.
func SortedUnique(pkgs []Package, cmp EVRCompareFunc) []Package {
	out := Dedup(pkgs)
	Sort(out, cmp)
	return out
}

// Newest returns the highest-EVR package in pkgs, or false when empty.
func Newest(pkgs []Package, cmp EVRCompareFunc) (Package, bool) {
	if len(pkgs) == 0 {
		return Package{}, false
	}
	if cmp == nil {
		cmp = CompareEVR
	}
	best := pkgs[0]
	for _, p := range pkgs[1:] {
		if cmp(p.EVR, best.EVR) > 0 {
			best = p
		}
	}
	return best, true
}
