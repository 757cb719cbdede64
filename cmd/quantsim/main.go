// Command quantsim runs event-driven portfolio backtests over daily bars
// and fetches those bars from Alpaca.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"quantsim/internal/config"
	"quantsim/internal/util"
)

const version = "0.1.0"

var (
	configPath string
	logFile    string
)

var rootCmd = &cobra.Command{
	Use:           "quantsim",
	Short:         "Event-driven portfolio backtester",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the quantsim version",
	Run: func(cmd *cobra.Command, _ []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "quantsim %s\n", version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.Path(), "path to the YAML configuration")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "also append logs to this file")
	rootCmd.AddCommand(versionCmd, runCmd, fetchCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// setup loads the configuration and installs the default logger. The
// returned closer releases the log file, if any.
func setup() (*config.Config, *slog.Logger, func(), error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("loading config %s: %w", configPath, err)
	}

	var w io.Writer = os.Stdout
	closer := func() {}
	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("opening log file: %w", err)
		}
		w = io.MultiWriter(os.Stdout, f)
		closer = func() { f.Close() }
	}

	logger := util.NewLoggerTo(w, cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)
	return cfg, logger, closer, nil
}
