// Package cli implements the command-line interface for pkengine.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"pkengine/internal/config"
	"pkengine/internal/executor"
	"pkengine/internal/history"
	"pkengine/internal/telemetry"
	"pkengine/internal/ui"
	"pkengine/pkg/engine"
	"pkengine/pkg/manager"
	"pkengine/pkg/manager/detector"
	"pkengine/pkg/manager/memory"
	"pkengine/pkg/manager/native"
)

var (
	// Global flags
	cfgFile     string
	backendName string
	filterFlag  string
	dryRun      bool
	yes         bool
	verbose     bool
	noColor     bool

	// Global state
	cfg          *config.Config
	sys          *detector.SystemInfo
	registry     *manager.Registry
	eng          *engine.Engine
	metrics      *telemetry.Metrics
	historyStore *history.Store
	logger       zerolog.Logger
	shutdowns    []func(context.Context) error
)

// Build metadata - set at build time via ldflags
var (
	Version   = "0.1.0-dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "pkengine",
	Short: "Package transactions over interchangeable backends",
	Long: `pkengine runs package queries and transactions through one uniform
Job protocol. Each command submits a Job to the engine, which serializes
it against the selected backend and streams typed events back.

Backends:
  pacman   Arch Linux and derivatives, driven through the pacman CLI
  memory   a YAML catalog served in-process

Examples:
  pkengine search name vim             # Search package names
  pkengine install vim                 # Simulate, confirm, then install
  pkengine install -n vim              # Show the plan only
  pkengine get-updates                 # List available updates
  pkengine -b memory get-packages      # Query the catalog backend`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initializeApp(cmd)
	},
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file path")
	rootCmd.PersistentFlags().StringVarP(&backendName, "backend", "b", "", "backend to use (pacman, memory)")
	rootCmd.PersistentFlags().StringVarP(&filterFlag, "filter", "f", "", "package filter (e.g. installed;~devel;newest)")
	rootCmd.PersistentFlags().BoolVarP(&dryRun, "dry-run", "n", false, "simulate transactions without executing them")
	rootCmd.PersistentFlags().BoolVarP(&yes, "yes", "y", false, "assume yes to all prompts")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(backendsCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(serveMetricsCmd)
	addQueryCommands(rootCmd)
	addRepoCommands(rootCmd)
	addTransactionCommands(rootCmd)
}

// Execute runs the root command. An interrupt cancels the running Job.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return execute(ctx)
}

func execute(ctx context.Context) error {
	err := rootCmd.ExecuteContext(ctx)
	if serr := shutdownApp(context.WithoutCancel(ctx)); serr != nil && err == nil {
		err = serr
	}
	return err
}

// initializeApp loads configuration and builds the engine with its
// backends, telemetry and history.
func initializeApp(cmd *cobra.Command) error {
	var err error
	if cfgFile != "" {
		cfg, err = config.LoadFrom(cfgFile)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}

	// Apply global flag overrides
	if verbose {
		cfg.Output.Verbose = true
		cfg.Log.Level = "debug"
	}
	if noColor {
		cfg.Output.Color = false
	}
	if cmd == serveMetricsCmd {
		cfg.Metrics.Enabled = true
	}
	ui.Init(cfg.ShouldUseColor(), cfg.Output.Unicode)
	ui.AssumeYes = yes

	log, closer, err := telemetry.NewLogger(cfg.Log)
	if err != nil {
		return fmt.Errorf("failed to open log output: %w", err)
	}
	logger = log
	shutdowns = append(shutdowns, func(context.Context) error { return closer.Close() })

	sys, err = detector.Detect()
	if err != nil {
		logger.Warn().Err(err).Msg("system detection failed")
	}
	arch := cfg.Engine.Arch
	if arch == "" {
		arch = sys.Arch
	}

	metrics = telemetry.NewMetrics(cfg.Metrics)

	tracer, err := telemetry.NewTracer(cfg.Tracing, "pkengine", Version, os.Stderr)
	if err != nil {
		return err
	}
	shutdowns = append(shutdowns, tracer.Shutdown)

	registry = manager.NewRegistry()
	if err := registerBackends(arch); err != nil {
		return err
	}

	opts := engine.Options{
		Registry:       registry,
		Logger:         logger,
		Metrics:        metrics,
		Tracer:         tracer.Tracer(),
		CacheDir:       cfg.DownloadDir(),
		SupportedRepos: cfg.Engine.SupportedRepos,
		DistroSync:     cfg.Engine.DistroSync,
		KeepCache:      cfg.Engine.KeepCache,
	}
	if cfg.History.Enabled {
		store, err := openHistory()
		if err != nil {
			logger.Warn().Err(err).Msg("history disabled")
		} else {
			opts.History = store
			historyStore = store
			shutdowns = append(shutdowns, func(context.Context) error { return store.Close() })
		}
	}
	eng = engine.New(opts)
	return nil
}

// registerBackends registers every backend that can run here and selects
// the default one.
func registerBackends(arch string) error {
	def := cfg.Engine.DefaultBackend
	if def == "" {
		def = sys.DefaultBackend()
	}

	pacman := native.NewPacman(
		executor.New(executor.Options{DryRun: dryRun, Logger: logger}),
		native.PacmanOptions{
			Binary: cfg.Backends.Pacman.Binary,
			DBPath: cfg.Backends.Pacman.DBPath,
			Arch:   arch,
			Logger: logger,
		},
	)
	if pacman.IsAvailable() {
		registry.Register(pacman)
	} else if def == detector.BackendPacman {
		logger.Warn().Str("binary", pacman.Binary()).Msg("pacman not found, falling back to memory")
		def = detector.BackendMemory
	}

	mem, err := memory.Open(cfg.CatalogPath(),
		memory.WithArch(arch),
		memory.WithWorkers(cfg.Engine.DownloadWorkers),
		memory.WithLogger(logger),
	)
	switch {
	case err == nil:
		registry.Register(mem)
	case errors.Is(err, os.ErrNotExist):
		logger.Debug().Str("catalog", cfg.CatalogPath()).Msg("no catalog, memory backend uses an empty one")
		registry.Register(memory.New(nil,
			memory.WithArch(arch),
			memory.WithWorkers(cfg.Engine.DownloadWorkers),
			memory.WithLogger(logger),
		))
	default:
		return fmt.Errorf("failed to load catalog: %w", err)
	}

	if backendName != "" {
		def = backendName
	}
	if err := registry.SetDefault(def); err != nil {
		return fmt.Errorf("%w: %s", ErrNoBackend, def)
	}
	return nil
}

// openHistory opens the history store and prunes entries past max age.
func openHistory() (*history.Store, error) {
	store, err := history.Open(cfg.HistoryPath())
	if err != nil {
		return nil, err
	}
	if maxAge := cfg.History.MaxAge.Duration; maxAge > 0 {
		if n, err := store.Prune(maxAge); err != nil {
			logger.Warn().Err(err).Msg("failed to prune history")
		} else if n > 0 {
			logger.Debug().Int("entries", n).Msg("pruned history")
		}
	}
	return store, nil
}

// shutdownApp flushes telemetry and closes stores, newest first.
func shutdownApp(ctx context.Context) error {
	if eng != nil {
		eng.Wait()
	}
	var errs []error
	for i := len(shutdowns) - 1; i >= 0; i-- {
		if err := shutdowns[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	shutdowns = nil
	eng = nil
	historyStore = nil
	return errors.Join(errs...)
}

// out is where command results are printed.
var out io.Writer = os.Stdout

// Version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print pkengine version",
	Run: func(cmd *cobra.Command, args []string) {
		ui.InfoMsg("pkengine version %s", Version)
		if Commit != "unknown" {
			ui.MutedMsg("  Commit: %s", Commit)
		}
		if BuildTime != "unknown" {
			ui.MutedMsg("  Built:  %s", BuildTime)
		}
	},
}

var backendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "Show the detected system and registered backends",
	Run: func(cmd *cobra.Command, args []string) {
		name := sys.PrettyName
		if name == "" {
			name = string(sys.OS)
		}
		ui.PrintSystemInfo(out, name, registry.Default().Arch(), registry.Default().Name(), registry.Names())
	},
}
