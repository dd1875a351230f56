package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve task snapshots, progress events and metrics over HTTP",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx, app, closeApp, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer closeApp()
	return app.Run(ctx)
}
