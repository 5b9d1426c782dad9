package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

// Config represents the complete pkengine configuration.
type Config struct {
	Engine   EngineConfig   `toml:"engine"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Tracing  TracingConfig  `toml:"tracing"`
	History  HistoryConfig  `toml:"history"`
	Output   OutputConfig   `toml:"output"`
	Backends BackendsConfig `toml:"backends"`
}

// EngineConfig contains settings shared by every Job.
type EngineConfig struct {
	// DefaultBackend selects the backend used when none is named.
	// Empty means detect from os-release.
	DefaultBackend string `toml:"default_backend" validate:"omitempty,oneof=memory pacman"`

	// Arch overrides the detected native architecture.
	Arch string `toml:"arch"`

	// CacheDir is the root directory downloaded payloads go to.
	CacheDir string `toml:"cache_dir"`

	// DownloadWorkers bounds parallel downloads.
	DownloadWorkers int `toml:"download_workers" validate:"min=1,max=64"`

	// KeepCache keeps payloads after a successful commit.
	KeepCache bool `toml:"keep_cache"`

	// SupportedRepos lists the repositories the supported filter accepts.
	SupportedRepos []string `toml:"supported_repos" validate:"dive,required"`

	// DistroSync makes update listings and update-all use distro-sync.
	DistroSync bool `toml:"distro_sync"`
}

// LogConfig configures the zerolog logger.
type LogConfig struct {
	Level  string `toml:"level" validate:"oneof=trace debug info warn error"`
	Format string `toml:"format" validate:"oneof=console json"`
	// Output is "stderr", "stdout" or a file path.
	Output string `toml:"output" validate:"required"`
	Caller bool   `toml:"caller"`
}

// MetricsConfig configures the Prometheus registry and endpoint.
type MetricsConfig struct {
	Enabled   bool   `toml:"enabled"`
	Listen    string `toml:"listen" validate:"omitempty,hostname_port"`
	Namespace string `toml:"namespace" validate:"required"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled    bool    `toml:"enabled"`
	Exporter   string  `toml:"exporter" validate:"oneof=stdout none"`
	SampleRate float64 `toml:"sample_rate" validate:"min=0,max=1"`
}

// HistoryConfig configures the transaction history store.
type HistoryConfig struct {
	Enabled bool `toml:"enabled"`
	// Path defaults to DataDir()/history.db.
	Path   string   `toml:"path"`
	MaxAge Duration `toml:"max_age"`
}

// OutputConfig contains output formatting settings.
type OutputConfig struct {
	// Color enables colored output (respects NO_COLOR env var).
	Color bool `toml:"color"`

	// Unicode enables unicode symbols in output.
	Unicode bool `toml:"unicode"`

	// Verbose enables detailed output.
	Verbose bool `toml:"verbose"`
}

// BackendsConfig holds per-backend settings.
type BackendsConfig struct {
	Memory MemoryConfig `toml:"memory"`
	Pacman PacmanConfig `toml:"pacman"`
}

// MemoryConfig configures the catalog-driven backend.
type MemoryConfig struct {
	// Catalog is the YAML catalog path. Defaults to CatalogPath().
	Catalog string `toml:"catalog"`
}

// PacmanConfig configures the pacman backend.
type PacmanConfig struct {
	Binary string `toml:"binary" validate:"required"`
	// DBPath is the pacman database directory, used for lock repair.
	DBPath string `toml:"db_path"`
}

// Duration is a time.Duration written as a string ("720h") in TOML.
type Duration struct {
	time.Duration
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	if v < 0 {
		return fmt.Errorf("invalid duration %q: negative", text)
	}
	d.Duration = v
	return nil
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Engine: EngineConfig{
			DefaultBackend:  "",
			DownloadWorkers: 4,
			SupportedRepos:  []string{"core", "extra", "fedora", "updates"},
		},
		Log: LogConfig{
			Level:  "warn",
			Format: "console",
			Output: "stderr",
		},
		Metrics: MetricsConfig{
			Enabled:   false,
			Listen:    "127.0.0.1:9464",
			Namespace: "pkengine",
		},
		Tracing: TracingConfig{
			Enabled:    false,
			Exporter:   "stdout",
			SampleRate: 1,
		},
		History: HistoryConfig{
			Enabled: true,
			MaxAge:  Duration{90 * 24 * time.Hour},
		},
		Output: OutputConfig{
			Color:   true,
			Unicode: true,
			Verbose: false,
		},
		Backends: BackendsConfig{
			Pacman: PacmanConfig{
				Binary: "pacman",
				DBPath: "/var/lib/pacman",
			},
		},
	}
}

// Load loads the configuration from the default path.
// If the config file doesn't exist, it returns the default configuration.
func Load() (*Config, error) {
	return LoadFrom(ConfigPath())
}

// LoadFrom loads and validates the configuration at path.
// If the config file doesn't exist, it returns the default configuration.
func LoadFrom(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, fmt.Errorf("unknown keys in %s: %s", path, strings.Join(keys, ", "))
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	err := validator.New().Struct(c)
	if err == nil {
		if c.Metrics.Enabled && c.Metrics.Listen == "" {
			return errors.New("invalid configuration: metrics.listen is required when metrics are enabled")
		}
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
	}
	return fmt.Errorf("invalid configuration: %s", strings.Join(msgs, "; "))
}

// Save writes the configuration to the default path.
func (c *Config) Save() error {
	return c.SaveTo(ConfigPath())
}

// SaveTo writes the configuration to a specific path.
func (c *Config) SaveTo(path string) error {
	if err := EnsureConfigDir(); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	encoder := toml.NewEncoder(f)
	return encoder.Encode(c)
}

// HistoryPath returns the configured history database path.
func (c *Config) HistoryPath() string {
	if c.History.Path != "" {
		return c.History.Path
	}
	return HistoryPath()
}

// CatalogPath returns the configured memory backend catalog path.
func (c *Config) CatalogPath() string {
	if c.Backends.Memory.Catalog != "" {
		return c.Backends.Memory.Catalog
	}
	return CatalogPath()
}

// DownloadDir returns the root directory for downloaded payloads.
func (c *Config) DownloadDir() string {
	if c.Engine.CacheDir != "" {
		return c.Engine.CacheDir
	}
	return CacheDir()
}

// ShouldUseColor returns true if colored output should be used.
// Respects the NO_COLOR environment variable.
func (c *Config) ShouldUseColor() bool {
	if os.Getenv("NO_COLOR") != "" {
		return false
	}
	return c.Output.Color
}
