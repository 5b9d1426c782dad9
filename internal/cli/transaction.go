package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"pkengine/internal/ui"
	"pkengine/pkg/engine"
	"pkengine/pkg/manager"
)

var (
	allowReinstall bool
	allowDowngrade bool
	onlyDownload   bool
	allowDeps      bool
	autoremove     bool
)

// transactionFlags returns the flags set on the command line.
func transactionFlags() engine.TransactionFlags {
	var f engine.TransactionFlags
	if allowReinstall {
		f |= engine.FlagAllowReinstall
	}
	if allowDowngrade {
		f |= engine.FlagAllowDowngrade
	}
	if onlyDownload {
		f |= engine.FlagOnlyDownload
	}
	return f
}

// transact simulates a mutating Job, shows its plan, asks for confirmation
// and then runs it for real. With --dry-run it stops after the plan.
func transact(ctx context.Context, role engine.Role, params engine.Params, verb string) error {
	params.Flags |= engine.FlagSimulate
	r, err := runJob(ctx, role, params)
	if err != nil {
		return err
	}

	plan := r.Packages()
	if len(plan) == 0 {
		return ErrNothingToDo
	}
	ui.HeaderMsg("Transaction plan")
	ui.PrintPackages(out, plan)

	ui.Println("")
	if dryRun {
		ui.MutedMsg("Dry run: no changes made")
		return nil
	}

	confirmed, err := ui.Confirm(fmt.Sprintf("Proceed with %s?", verb), true)
	if err != nil {
		return err
	}
	if !confirmed {
		return ErrAborted
	}

	params.Flags &^= engine.FlagSimulate
	if _, err := runJob(ctx, role, params); err != nil {
		return err
	}
	if params.Flags.Has(engine.FlagOnlyDownload) {
		ui.SuccessMsg("Downloaded %d packages", len(plan))
	} else {
		ui.SuccessMsg("%s complete", capitalize(verb))
	}
	return nil
}

// choosePackages resolves plain names to one package id each, asking the
// user when a name matches several candidates. Full ids pass through.
func choosePackages(ctx context.Context, args []string) ([]string, error) {
	var ids, names []string
	for _, arg := range args {
		if strings.Contains(arg, ";") {
			ids = append(ids, arg)
		} else {
			names = append(names, arg)
		}
	}
	if len(names) == 0 {
		return ids, nil
	}

	r, err := runQuietJob(ctx, engine.RoleResolve, engine.Params{
		Values: names,
		Filter: engine.FilterNotInstalled | engine.FilterNewest | engine.FilterArch,
	})
	if err != nil {
		// Installed names and unknown names are left to the install Job.
		if engine.CodeOf(err) == engine.CodePackageNotFound {
			return args, nil
		}
		return nil, err
	}

	byName := make(map[string][]manager.Package)
	for _, ev := range r.Packages() {
		id, err := manager.ParseID(ev.PackageID)
		if err != nil {
			continue
		}
		byName[id.Name] = append(byName[id.Name], manager.Package{
			Name:    id.Name,
			EVR:     id.EVR,
			Arch:    id.Arch,
			Origin:  id.Data,
			Summary: ev.Summary,
		})
	}

	for _, name := range names {
		candidates := byName[name]
		if len(candidates) <= 1 {
			ids = append(ids, name)
			continue
		}
		pkg, err := ui.SelectPackage(candidates, fmt.Sprintf("Several packages provide %s", name))
		if err != nil {
			return nil, ErrAborted
		}
		ids = append(ids, pkg.ID())
	}
	return ids, nil
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

var installCmd = &cobra.Command{
	Use:   "install <packages...>",
	Short: "Install packages",
	Long: `Install packages by name or package id. The transaction is
simulated first and its plan shown for confirmation.

Examples:
  pkengine install vim git             # Install the newest vim and git
  pkengine install "vim;9.1-1;x86_64;extra"
  pkengine install -n vim              # Show the plan only
  pkengine install --allow-reinstall vim`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ids, err := choosePackages(cmd.Context(), args)
		if err != nil {
			return err
		}
		return transact(cmd.Context(), engine.RoleInstallPackages, engine.Params{
			PackageIDs: ids,
			Flags:      transactionFlags(),
		}, "installation")
	},
}

var installLocalCmd = &cobra.Command{
	Use:   "install-local <files...>",
	Short: "Install local package files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return transact(cmd.Context(), engine.RoleInstallFiles, engine.Params{
			Files: args,
			Flags: transactionFlags(),
		}, "installation")
	},
}

var updateCmd = &cobra.Command{
	Use:   "update [packages...]",
	Short: "Update packages, or every package when none are given",
	RunE: func(cmd *cobra.Command, args []string) error {
		return transact(cmd.Context(), engine.RoleUpdatePackages, engine.Params{
			PackageIDs: args,
			Flags:      transactionFlags(),
		}, "update")
	},
}

var removeCmd = &cobra.Command{
	Use:     "remove <packages...>",
	Aliases: []string{"uninstall"},
	Short:   "Remove installed packages",
	Long: `Remove installed packages. Packages that depend on them are only
removed with --allow-deps; --autoremove also removes dependencies nothing
else needs.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return transact(cmd.Context(), engine.RoleRemovePackages, engine.Params{
			PackageIDs: args,
			AllowDeps:  allowDeps,
			Autoremove: autoremove,
			Flags:      transactionFlags(),
		}, "removal")
	},
}

var upgradeSystemCmd = &cobra.Command{
	Use:   "upgrade-system [distro]",
	Short: "Synchronize the system with its repositories",
	Long: `Upgrade the whole system with a distro-sync: conflicting packages
may be erased, downgrades are allowed and installed groups are upgraded.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		params := engine.Params{Flags: transactionFlags()}
		if len(args) == 1 {
			params.DistroID = args[0]
		}
		return transact(cmd.Context(), engine.RoleUpgradeSystem, params, "system upgrade")
	},
}

var repairCmd = &cobra.Command{
	Use:   "repair",
	Short: "Repair a broken package database",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		params := engine.Params{}
		if dryRun {
			params.Flags |= engine.FlagSimulate
		} else {
			confirmed, err := ui.Confirm("Repair the package database?", false)
			if err != nil {
				return err
			}
			if !confirmed {
				return ErrAborted
			}
		}
		if _, err := runJob(cmd.Context(), engine.RoleRepairSystem, params); err != nil {
			return err
		}
		ui.SuccessMsg("Repair complete")
		return nil
	},
}

func addTransactionCommands(root *cobra.Command) {
	for _, cmd := range []*cobra.Command{installCmd, installLocalCmd, updateCmd, upgradeSystemCmd} {
		cmd.Flags().BoolVar(&allowReinstall, "allow-reinstall", false, "allow reinstalling installed packages")
		cmd.Flags().BoolVar(&allowDowngrade, "allow-downgrade", false, "allow downgrading packages")
		cmd.Flags().BoolVar(&onlyDownload, "only-download", false, "download packages without installing them")
	}
	removeCmd.Flags().BoolVar(&allowDeps, "allow-deps", false, "also remove packages that depend on the targets")
	removeCmd.Flags().BoolVar(&autoremove, "autoremove", false, "also remove unneeded dependencies")

	root.AddCommand(installCmd, installLocalCmd, updateCmd, removeCmd, upgradeSystemCmd, repairCmd)
}
