// Package main is the tangram daemon entry point: the cobra command tree
// (serve/clean/version), grounded on the teacher's cmd/nerd/main.go
// rootCmd/PersistentPreRunE/init() shape, generalized from an interactive
// chat CLI to a daemon with no subcommand state of its own beyond flags.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"tangram/internal/logging"
)

var (
	configPath string
	verbose    bool

	log *zap.Logger
)

var rootCmd = &cobra.Command{
	Use:   "tangramd",
	Short: "tangramd is the daemon half of the tangram build engine",
	Long: `tangramd evaluates hermetic build graphs: it hosts the content-addressed
object store, the script runtime that executes target definitions, and the
task sandbox that runs their resolved commands.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		log, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("build logger: %w", err)
		}
		return logging.Init(verbose)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if log != nil {
			_ = log.Sync()
		}
		logging.Sync()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the daemon config file (default: built-in defaults + TANGRAM_* env overrides)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	serveCmd.Flags().Duration("shutdown-timeout", 10*time.Second, "grace period for in-flight requests on SIGTERM")

	rootCmd.AddCommand(serveCmd, cleanCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
