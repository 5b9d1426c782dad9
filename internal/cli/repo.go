package cli

import (
	"github.com/spf13/cobra"

	"pkengine/internal/ui"
	"pkengine/pkg/engine"
)

var forceRefresh bool

var repoListCmd = &cobra.Command{
	Use:   "repo-list",
	Short: "List repositories",
	Long: `List configured repositories. The installed filter selects enabled
repositories, ~installed disabled ones.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		r, err := runJob(cmd.Context(), engine.RoleGetRepoList, engine.Params{})
		if err != nil {
			return err
		}
		printResults(r, "No repositories found")
		return nil
	},
}

// repoToggleCommand builds repo-enable and repo-disable.
func repoToggleCommand(use, short string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <repo-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := runJob(cmd.Context(), engine.RoleRepoEnable, engine.Params{
				RepoID:  args[0],
				Enabled: enabled,
			}); err != nil {
				return err
			}
			state := "disabled"
			if enabled {
				state = "enabled"
			}
			ui.SuccessMsg("Repository %s %s", args[0], state)
			return nil
		},
	}
}

var repoSetDataCmd = &cobra.Command{
	Use:   "repo-set-data <repo-id> <key> <value>",
	Short: "Set a repository parameter",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := runJob(cmd.Context(), engine.RoleRepoSetData, engine.Params{
			RepoID: args[0],
			Key:    args[1],
			Value:  args[2],
		}); err != nil {
			return err
		}
		ui.SuccessMsg("Set %s=%s on %s", args[1], args[2], args[0])
		return nil
	},
}

var repoRemoveCmd = &cobra.Command{
	Use:   "repo-remove <repo-id>",
	Short: "Remove a repository by removing the packages that define it",
	Long: `Remove the packages owning the file that defines a repository.
With --autoremove, packages installed from the repositories in that file
are removed too.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return transact(cmd.Context(), engine.RoleRepoRemove, engine.Params{
			RepoID:     args[0],
			Autoremove: autoremove,
		}, "repository removal")
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Refresh repository metadata",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		sp := ui.NewSpinner("Refreshing repository metadata")
		sp.Start()
		r := ui.NewRenderer(ui.Output, true).WithSpinner(sp)
		err := submitTo(cmd.Context(), engine.RoleRefreshCache, engine.Params{Force: forceRefresh}, r)
		if err != nil {
			sp.Stop()
			return err
		}
		sp.Success("Repository metadata is up to date")
		return nil
	},
}

func addRepoCommands(root *cobra.Command) {
	repoRemoveCmd.Flags().BoolVar(&autoremove, "autoremove", false, "also remove packages installed from the repository")
	refreshCmd.Flags().BoolVar(&forceRefresh, "force", false, "download metadata even if it is current")

	root.AddCommand(
		repoListCmd,
		repoToggleCommand("repo-enable", "Enable a repository", true),
		repoToggleCommand("repo-disable", "Disable a repository", false),
		repoSetDataCmd,
		repoRemoveCmd,
		refreshCmd,
	)
}
