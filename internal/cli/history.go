package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"pkengine/internal/ui"
	"pkengine/pkg/engine"
)

var (
	historyLimit int
	historyCount bool
	historyClear bool
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show transaction history",
	Long: `Display the transactions pkengine has run, newest first.

Examples:
  pkengine history              # Show recent history
  pkengine history -l 20        # Show last 20 transactions
  pkengine history --count      # Count recorded transactions
  pkengine history --clear      # Forget every recorded transaction`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "l", 10, "number of entries to show")
	historyCmd.Flags().BoolVar(&historyCount, "count", false, "print the number of recorded transactions")
	historyCmd.Flags().BoolVar(&historyClear, "clear", false, "remove every recorded transaction")
}

func runHistory(cmd *cobra.Command, args []string) error {
	if historyCount || historyClear {
		if historyStore == nil {
			return ErrNoHistory
		}
	}

	switch {
	case historyCount:
		n, err := historyStore.Count()
		if err != nil {
			return fmt.Errorf("failed to count history: %w", err)
		}
		fmt.Fprintf(out, "%d recorded transactions\n", n)
		return nil

	case historyClear:
		confirmed, err := ui.Confirm("Clear the transaction history?", false)
		if err != nil {
			return err
		}
		if !confirmed {
			return ErrAborted
		}
		if err := historyStore.Clear(); err != nil {
			return fmt.Errorf("failed to clear history: %w", err)
		}
		ui.SuccessMsg("History cleared")
		return nil
	}

	r, err := runQuietJob(cmd.Context(), engine.RoleGetOldTransactions, engine.Params{Limit: historyLimit})
	if err != nil {
		return err
	}
	printResults(r, "No transactions recorded")
	return nil
}
