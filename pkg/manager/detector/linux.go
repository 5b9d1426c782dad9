package detector

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"
)

// LinuxInfo contains information parsed from os-release.
type LinuxInfo struct {
	ID         string   // Distribution ID (e.g., "arch", "manjaro")
	IDLike     []string // Related distributions
	VersionID  string   // Version number, empty on rolling releases
	PrettyName string   // Human-readable name
	Name       string   // Distribution name
}

// DetectLinux detects the Linux distribution installed under root.
// It reads /etc/os-release, then /usr/lib/os-release, then falls back to
// distribution-specific release files.
func DetectLinux(root string) (*LinuxInfo, error) {
	info := &LinuxInfo{}

	for _, path := range []string{"etc/os-release", "usr/lib/os-release"} {
		if err := parseOSRelease(filepath.Join(root, path), info); err == nil && info.ID != "" {
			return info, nil
		}
	}

	if err := parseReleaseFiles(root, info); err == nil {
		return info, nil
	}

	info.ID = "unknown"
	info.PrettyName = "Unknown Linux"
	return info, nil
}

// parseOSRelease parses an os-release file.
func parseOSRelease(path string, info *LinuxInfo) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}

		key := strings.TrimSpace(parts[0])
		value := strings.Trim(strings.TrimSpace(parts[1]), `"'`)

		switch key {
		case "ID":
			info.ID = value
		case "ID_LIKE":
			info.IDLike = strings.Fields(value)
		case "VERSION_ID":
			info.VersionID = value
		case "PRETTY_NAME":
			info.PrettyName = value
		case "NAME":
			info.Name = value
		}
	}

	return scanner.Err()
}

// parseReleaseFiles checks distribution-specific release files.
func parseReleaseFiles(root string, info *LinuxInfo) error {
	releaseFiles := []struct {
		path   string
		distro string
		pretty string
	}{
		{"etc/arch-release", "arch", "Arch Linux"},
		{"etc/manjaro-release", "manjaro", "Manjaro Linux"},
		{"etc/artix-release", "artix", "Artix Linux"},
		{"etc/debian_version", "debian", "Debian"},
		{"etc/fedora-release", "fedora", "Fedora"},
	}

	for _, rf := range releaseFiles {
		if _, err := os.Stat(filepath.Join(root, rf.path)); err == nil {
			info.ID = rf.distro
			info.PrettyName = rf.pretty
			return nil
		}
	}

	return os.ErrNotExist
}

// distroManagerMap maps distribution IDs to the backend that manages them.
var distroManagerMap = map[string]string{
	"arch":        BackendPacman,
	"archarm":     BackendPacman,
	"manjaro":     BackendPacman,
	"endeavouros": BackendPacman,
	"garuda":      BackendPacman,
	"arcolinux":   BackendPacman,
	"artix":       BackendPacman,
	"cachyos":     BackendPacman,
	"steamos":     BackendPacman,
}

// GetNativeManager returns the native backend for a distribution ID.
func GetNativeManager(distroID string) string {
	if mgr, ok := distroManagerMap[distroID]; ok {
		return mgr
	}
	return ""
}

// GetNativeManagerForFamily checks the distribution ID and its family for a native backend.
func GetNativeManagerForFamily(distroID string, idLike []string) string {
	// Check direct ID first
	if mgr := GetNativeManager(distroID); mgr != "" {
		return mgr
	}

	// Check ID_LIKE family
	for _, family := range idLike {
		if mgr := GetNativeManager(family); mgr != "" {
			return mgr
		}
	}

	return ""
}
