package cli

import (
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"pkengine/internal/config"
	"pkengine/internal/executor"
	"pkengine/internal/ui"
	"pkengine/pkg/engine"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Diagnose system issues",
	Long: `Check the detected system, the registered backends, privilege
elevation and the package database lock.

Examples:
  pkengine doctor               # Run diagnostics`,
	Args: cobra.NoArgs,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	issues := 0

	ui.HeaderMsg("Running diagnostics...")

	if sys.PrettyName != "" {
		ui.SuccessMsg("System detected: %s (%s)", sys.PrettyName, sys.Arch)
	} else {
		ui.WarningMsg("System not recognized, using %s", registry.Default().Name())
	}

	def := registry.Default()
	ui.SuccessMsg("Default backend: %s", def.DisplayName())
	for _, name := range registry.Names() {
		b, _ := registry.Get(name)
		ui.MutedMsg("  - %s: %s", name, b.DisplayName())
	}

	ui.HeaderMsg("Privileges")
	switch {
	case executor.IsRoot():
		ui.SuccessMsg("Running as root")
	case executor.HasSudo():
		ui.SuccessMsg("Transactions will run through sudo")
	default:
		ui.WarningMsg("Not root and sudo not found: transactions on native backends will fail")
		issues++
	}

	ui.HeaderMsg("Configuration")
	if _, err := os.Stat(config.ConfigPath()); err == nil {
		ui.SuccessMsg("Config file: %s", config.ConfigPath())
	} else {
		ui.MutedMsg("No config file at %s, using defaults", config.ConfigPath())
	}
	if historyStore != nil {
		ui.SuccessMsg("History: %s", cfg.HistoryPath())
		if last, err := historyStore.Last(); err != nil {
			ui.WarningMsg("History unreadable: %s", err)
			issues++
		} else if last != nil {
			ui.MutedMsg("  Last transaction: %s", last.Summary())
		}
	} else if cfg.History.Enabled {
		ui.WarningMsg("History enabled but %s could not be opened", cfg.HistoryPath())
		issues++
	}

	if def.Name() == "pacman" {
		lock := filepath.Join(cfg.Backends.Pacman.DBPath, "db.lck")
		if _, err := os.Stat(lock); err == nil {
			ui.WarningMsg("Stale database lock %s, run 'pkengine repair' if pacman is not running", lock)
			issues++
		}
	}

	ui.HeaderMsg("Testing Operations")
	r, err := runQuietJob(cmd.Context(), engine.RoleGetRepoList, engine.Params{})
	if err != nil {
		ui.ErrorMsg("Repository listing failed: %s", engine.MessageOf(err))
		issues++
	} else {
		repos := 0
		for _, ev := range r.Events() {
			if _, ok := ev.(engine.RepoDetailEvent); ok {
				repos++
			}
		}
		ui.SuccessMsg("Repository listing works (%d repositories)", repos)
	}

	ui.HeaderMsg("Summary")
	if issues == 0 {
		ui.SuccessMsg("No issues found! pkengine is ready to use.")
	} else {
		ui.WarningMsg("Found %d issue(s). Some features may not work correctly.", issues)
	}

	return nil
}
