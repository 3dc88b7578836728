package cmd

import (
	"os"

	"github.com/ConnorShore/conveyor/internal/logging"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	logLevel string
	logFile  string

	logger *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "conveyor",
	Short: "Declarative sequential build pipeline executor",
	Long: `Conveyor runs a declarative, multi-stage build pipeline: stages in
order, steps in order, first failure aborts the rest. One run at a time,
bounded by a global timeout, with success/failure/always lifecycle scripts
and artifact collection on success.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logger = logging.New(logLevel, logFile)
	},
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug|info|warn|error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "optional rotated log file path")
}
