package cli

import (
	"github.com/spf13/cobra"

	"pkengine/pkg/engine"
)

var (
	recursive   bool
	downloadDir string
)

// queryCommand builds a command that runs one read-only role and prints
// its events.
func queryCommand(use, short, long string, role engine.Role, args cobra.PositionalArgs, params func([]string) engine.Params) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Long:  long,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := runJob(cmd.Context(), role, params(args))
			if err != nil {
				return err
			}
			printResults(r, "No packages found")
			return nil
		},
	}
}

func values(args []string) engine.Params { return engine.Params{Values: args} }

func packageIDs(args []string) engine.Params { return engine.Params{PackageIDs: args} }

func localFiles(args []string) engine.Params { return engine.Params{Files: args} }

func none([]string) engine.Params { return engine.Params{} }

func addQueryCommands(root *cobra.Command) {
	searchCmd := &cobra.Command{
		Use:   "search",
		Short: "Search packages by name, details or file",
		Long: `Search packages. Terms match case-insensitively.

Examples:
  pkengine search name vim                 # Names containing "vim"
  pkengine search details "text editor"    # Summaries and descriptions
  pkengine search file /usr/bin/vim        # Packages owning a file
  pkengine search file vim                 # Any file named "vim"`,
	}
	searchCmd.AddCommand(
		queryCommand("name <terms...>", "Search package names", "", engine.RoleSearchName, cobra.MinimumNArgs(1), values),
		queryCommand("details <terms...>", "Search summaries and descriptions", "", engine.RoleSearchDetails, cobra.MinimumNArgs(1), values),
		queryCommand("file <paths...>", "Search packages owning files", "", engine.RoleSearchFile, cobra.MinimumNArgs(1), values),
	)

	dependsOnCmd := queryCommand("depends-on <package-ids...>", "List the dependencies of packages", "",
		engine.RoleDependsOn, cobra.MinimumNArgs(1), func(args []string) engine.Params {
			return engine.Params{PackageIDs: args, Recursive: recursive}
		})
	dependsOnCmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "follow dependencies recursively")

	requiredByCmd := queryCommand("required-by <package-ids...>", "List the packages requiring packages", "",
		engine.RoleRequiredBy, cobra.MinimumNArgs(1), func(args []string) engine.Params {
			return engine.Params{PackageIDs: args, Recursive: recursive}
		})
	requiredByCmd.Flags().BoolVarP(&recursive, "recursive", "r", false, "follow reverse dependencies recursively")

	downloadCmd := queryCommand("download <package-ids...>", "Download packages without installing them", "",
		engine.RoleDownloadPackages, cobra.MinimumNArgs(1), func(args []string) engine.Params {
			return engine.Params{PackageIDs: args, Directory: downloadDir}
		})
	downloadCmd.Flags().StringVarP(&downloadDir, "directory", "d", "", "destination directory (default: the cache directory)")

	root.AddCommand(
		searchCmd,
		queryCommand("resolve <names...>", "Resolve package names to package ids",
			`Resolve names to package ids. With the newest filter only the
newest version of each name is shown.`,
			engine.RoleResolve, cobra.MinimumNArgs(1), values),
		queryCommand("what-provides <capabilities...>", "List packages providing capabilities", "",
			engine.RoleWhatProvides, cobra.MinimumNArgs(1), values),
		dependsOnCmd,
		requiredByCmd,
		queryCommand("get-packages", "List packages", `List every package passing the filter.

Examples:
  pkengine get-packages -f installed          # Installed packages
  pkengine get-packages -f ~installed;newest  # Newest available packages`,
			engine.RoleGetPackages, cobra.NoArgs, none),
		queryCommand("get-updates", "List available updates", "",
			engine.RoleGetUpdates, cobra.NoArgs, none),
		queryCommand("get-details <package-ids...>", "Show package details", "",
			engine.RoleGetDetails, cobra.MinimumNArgs(1), packageIDs),
		queryCommand("get-files <package-ids...>", "List the files of packages", "",
			engine.RoleGetFiles, cobra.MinimumNArgs(1), packageIDs),
		queryCommand("get-update-detail <package-ids...>", "Show update advisories", "",
			engine.RoleGetUpdateDetail, cobra.MinimumNArgs(1), packageIDs),
		downloadCmd,
		queryCommand("get-details-local <files...>", "Show details of local package files", "",
			engine.RoleGetDetailsLocal, cobra.MinimumNArgs(1), localFiles),
		queryCommand("get-files-local <files...>", "List the files of local package files", "",
			engine.RoleGetFilesLocal, cobra.MinimumNArgs(1), localFiles),
	)
}
