// Package detector handles OS, distribution and architecture detection.
package detector

import (
	"runtime"
)

// OSType represents the detected operating system type.
type OSType string

const (
	OSLinux   OSType = "linux"
	OSUnknown OSType = "unknown"
)

// Backend names the detector can recommend.
const (
	BackendPacman = "pacman"
	BackendMemory = "memory"
)

// SystemInfo contains information about the detected system.
type SystemInfo struct {
	OS           OSType
	Arch         string   // native package architecture (e.g., "x86_64")
	Distribution string   // Linux distribution ID (e.g., "arch")
	DistroFamily []string // Related distributions (from ID_LIKE)
	PrettyName   string   // Human-readable name
	VersionID    string   // Distribution version
}

// Detect detects the current system's OS and distribution.
func Detect() (*SystemInfo, error) {
	return DetectRoot("/")
}

// DetectRoot detects the system installed under root. Release files are
// read relative to it, so a chroot or test fixture can be inspected.
func DetectRoot(root string) (*SystemInfo, error) {
	info := &SystemInfo{
		Arch: NativeArch(runtime.GOARCH),
	}

	if runtime.GOOS != "linux" {
		info.OS = OSUnknown
		return info, nil
	}

	info.OS = OSLinux
	linuxInfo, err := DetectLinux(root)
	if err != nil {
		return info, err
	}
	info.Distribution = linuxInfo.ID
	info.DistroFamily = linuxInfo.IDLike
	info.PrettyName = linuxInfo.PrettyName
	info.VersionID = linuxInfo.VersionID
	return info, nil
}

// MatchesDistro checks if the system matches any of the given distribution identifiers.
// It checks both the direct distribution ID and the ID_LIKE family.
func (s *SystemInfo) MatchesDistro(distros ...string) bool {
	for _, d := range distros {
		// Direct match
		if s.Distribution == d {
			return true
		}
		// Family match
		for _, family := range s.DistroFamily {
			if family == d {
				return true
			}
		}
	}
	return false
}

// IsLinux returns true if the system is running Linux.
func (s *SystemInfo) IsLinux() bool {
	return s.OS == OSLinux
}

// DefaultBackend returns the backend that manages packages on this system.
// Systems without a supported native manager get the memory backend.
func (s *SystemInfo) DefaultBackend() string {
	if s.IsLinux() {
		if mgr := GetNativeManagerForFamily(s.Distribution, s.DistroFamily); mgr != "" {
			return mgr
		}
	}
	return BackendMemory
}

// goArches maps GOARCH values to package architecture names.
var goArches = map[string]string{
	"amd64":   "x86_64",
	"386":     "i686",
	"arm64":   "aarch64",
	"arm":     "armv7h",
	"riscv64": "riscv64",
	"ppc64le": "ppc64le",
	"s390x":   "s390x",
	"loong64": "loong64",
}

// NativeArch returns the package architecture for a GOARCH value.
// Unknown values are returned unchanged.
func NativeArch(goarch string) string {
	if arch, ok := goArches[goarch]; ok {
		return arch
	}
	return goarch
}
