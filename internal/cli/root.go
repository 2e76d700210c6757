package cli

import (
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/spf13/cobra"
)

var isDebug bool

var rootCmd = &cobra.Command{
	Use:   "reconciler",
	Short: "Push-endpoint reconciliation service",
	Long: `Reconciler walks a table of registered push-notification endpoints,
checks (or deletes) each one against SNS, and records the outcome durably
so interrupted runs can be resumed without reprocessing.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		_ = godotenv.Load()
		initLogging()
	},
}

// Execute runs the CLI. Exit code is non-zero on any command failure.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&isDebug, "debug", false, "enable debug logging")
	cobra.EnableCommandSorting = false
	rootCmd.SilenceUsage = true
}

func initLogging() {
	level := slog.LevelInfo
	if isDebug {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
	})))
}
