// Package cli implements the tasks command-line interface using Cobra.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/R3E-Network/confidential_tasks/internal/app/runtime"
	"github.com/R3E-Network/confidential_tasks/internal/config"
	"github.com/R3E-Network/confidential_tasks/internal/logging"
)

var (
	configPath string
	logLevel   string
	logFormat  string
)

var rootCmd = &cobra.Command{
	Use:   "tasks",
	Short: "Confidential compute task lifecycle",
	Long: `tasks submits confidential compute tasks, follows them through ledger
anchoring and execution, and decrypts their results.

SGX_MODE=SW runs against an in-process simulated network; SGX_MODE=HW talks
to the configured ledger node and compute worker.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides config)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: text or json (overrides config)")
}

// Execute runs the root command. Called from main.go.
func Execute(version string) {
	rootCmd.Version = version

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

// loadConfig reads the config file and environment and applies flag overrides.
func loadConfig() (*config.Config, *logging.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}
	return cfg, logging.New("tasks", cfg.Log.Level, cfg.Log.Format), nil
}

// openApp builds the application for a command. The returned context is
// cancelled on SIGINT or SIGTERM.
func openApp(cmd *cobra.Command) (context.Context, *runtime.Application, func(), error) {
	cfg, log, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	app, err := runtime.New(ctx, cfg, log)
	if err != nil {
		stop()
		return nil, nil, nil, err
	}
	return ctx, app, func() {
		app.Close()
		stop()
	}, nil
}
