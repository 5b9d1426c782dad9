package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestDirsContainAppName(t *testing.T) {
	dirs := map[string]string{
		"ConfigDir": ConfigDir(),
		"DataDir":   DataDir(),
		"CacheDir":  CacheDir(),
	}
	for name, dir := range dirs {
		if dir == "" {
			t.Errorf("%s() returned empty string", name)
		}
		if !strings.Contains(dir, "pkengine") {
			t.Errorf("%s() should contain 'pkengine': %s", name, dir)
		}
	}
}

func TestConfigDirPlatform(t *testing.T) {
	dir := ConfigDir()
	switch runtime.GOOS {
	case "darwin":
		if !strings.Contains(dir, "Library/Application Support") {
			t.Errorf("macOS ConfigDir() should be in Library/Application Support: %s", dir)
		}
	case "windows":
		if !strings.Contains(strings.ToLower(dir), "appdata") {
			t.Errorf("Windows ConfigDir() should be in APPDATA: %s", dir)
		}
	default:
		if !strings.Contains(dir, ".config") && os.Getenv("XDG_CONFIG_HOME") == "" {
			t.Errorf("Linux ConfigDir() should be in .config: %s", dir)
		}
	}
}

func TestFilePaths(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		suffix string
	}{
		{"ConfigPath", ConfigPath(), "config.toml"},
		{"HistoryPath", HistoryPath(), "history.db"},
		{"CatalogPath", CatalogPath(), "catalog.yaml"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !strings.HasSuffix(tt.path, tt.suffix) {
				t.Errorf("%s() should end with %q: %s", tt.name, tt.suffix, tt.path)
			}
		})
	}
}

func TestEnsureDirs(t *testing.T) {
	if runtime.GOOS == "windows" || runtime.GOOS == "darwin" {
		t.Skip("XDG not used on this platform")
	}
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_DATA_HOME", t.TempDir())

	if err := EnsureConfigDir(); err != nil {
		t.Fatalf("EnsureConfigDir() error: %v", err)
	}
	if err := EnsureDataDir(); err != nil {
		t.Fatalf("EnsureDataDir() error: %v", err)
	}
	for _, dir := range []string{ConfigDir(), DataDir()} {
		info, err := os.Stat(dir)
		if err != nil {
			t.Fatalf("directory not created: %v", err)
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", dir)
		}
	}
}

func TestXDGOverride(t *testing.T) {
	if runtime.GOOS == "windows" || runtime.GOOS == "darwin" {
		t.Skip("XDG not used on this platform")
	}

	tmpDir := t.TempDir()
	overrides := []struct {
		env string
		fn  func() string
	}{
		{"XDG_CONFIG_HOME", ConfigDir},
		{"XDG_DATA_HOME", DataDir},
		{"XDG_CACHE_HOME", CacheDir},
	}
	for _, o := range overrides {
		custom := filepath.Join(tmpDir, strings.ToLower(o.env))
		t.Setenv(o.env, custom)
		if got := o.fn(); got != filepath.Join(custom, "pkengine") {
			t.Errorf("%s override: got %s", o.env, got)
		}
	}
}
