package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(statusCmd)
}

var statusCmd = &cobra.Command{
	Use:   "status <task-id>",
	Short: "Query the ledger and execution status of a task",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

func runStatus(cmd *cobra.Command, args []string) error {
	ctx, app, closeApp, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer closeApp()

	st, err := app.Gateway.QueryStatus(ctx, args[0])
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "ledger=%s execution=%s\n", st.Ledger, st.Execution)
	return nil
}
