package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"cost-anomaly-engine/internal/anomaly"
	"cost-anomaly-engine/internal/app"
	"cost-anomaly-engine/internal/config"
	"cost-anomaly-engine/internal/logging"
)

var (
	cfgFile   string
	logLevel  string
	appHandle *app.App
)

var rootCmd = &cobra.Command{
	Use:           "anomalyd",
	Short:         "Detect and triage daily cloud cost anomalies",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if appHandle != nil {
			return nil
		}

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		if logLevel != "" {
			cfg.Logging.Level = logLevel
		}
		// keep stdout clean for tables and JSON
		if cmd.Name() != "run" && cfg.Logging.Output == "" {
			cfg.Logging.Output = "stderr"
		}

		logger := logging.NewLogger(cfg.Logging)
		appHandle = app.NewApp(cfg, logger)
		return nil
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log level defined in config")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(backfillCmd)
	rootCmd.AddCommand(anomaliesCmd)
	rootCmd.AddCommand(investigateCmd)
	rootCmd.AddCommand(resolveCmd)
	rootCmd.AddCommand(reopenCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(versionCmd)
}

func getApp() *app.App {
	if appHandle == nil {
		panic("application not initialized; PersistentPreRunE not executed")
	}
	return appHandle
}

// parseDay parses a YYYY-MM-DD flag value as a UTC day.
func parseDay(flag, value string) (time.Time, error) {
	t, err := time.Parse(anomaly.DateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid --%s value %q (want YYYY-MM-DD): %w", flag, value, err)
	}
	return t, nil
}

func parseOptionalDay(flag, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	t, err := parseDay(flag, value)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
