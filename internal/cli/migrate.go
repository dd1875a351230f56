package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/R3E-Network/confidential_tasks/internal/platform/migrations"
)

var databaseURL string

func init() {
	migrateCmd.PersistentFlags().StringVar(&databaseURL, "database-url", "", "postgres URL (overrides DATABASE_URL)")
	migrateCmd.AddCommand(migrateUpCmd, migrateDownCmd)
	rootCmd.AddCommand(migrateCmd)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the task history schema",
}

var migrateUpCmd = &cobra.Command{
	Use:   "up",
	Short: "Apply all pending migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		url, err := migrationURL()
		if err != nil {
			return err
		}
		if err := migrations.Up(url); err != nil {
			return err
		}
		NewPrinter(cmd.ErrOrStderr()).Success("history schema is up to date")
		return nil
	},
}

var migrateDownCmd = &cobra.Command{
	Use:   "down",
	Short: "Revert all migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		url, err := migrationURL()
		if err != nil {
			return err
		}
		if err := migrations.Down(url); err != nil {
			return err
		}
		NewPrinter(cmd.ErrOrStderr()).Success("history schema removed")
		return nil
	},
}

func migrationURL() (string, error) {
	if databaseURL != "" {
		return databaseURL, nil
	}
	cfg, _, err := loadConfig()
	if err != nil {
		return "", err
	}
	if cfg.Database.DSN == "" {
		return "", fmt.Errorf("no database configured: set DATABASE_URL or --database-url")
	}
	return cfg.Database.DSN, nil
}
