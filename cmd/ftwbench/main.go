package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/studiowebux/ftwbench/internal/config"
	"github.com/studiowebux/ftwbench/internal/harness"
	"github.com/studiowebux/ftwbench/internal/logging"
	"github.com/studiowebux/ftwbench/internal/metrics"
	"github.com/studiowebux/ftwbench/internal/runner"
	"github.com/studiowebux/ftwbench/internal/store"
)

var (
	version = "0.1.0"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		var exitErr *runner.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ftwbench",
	Short: "Run FTW regression tests through wb and check the results",
	Long: `ftwbench replays FTW test catalogs against a web application firewall
through wb, then attributes the captured traffic and the firewall's log to
each test using marker requests sent before and after it.

Examples:
  ftwbench run http://localhost:80/ tests/          # Full run, prompts before starting wb
  ftwbench run --yes --log-file /var/log/error.log http://waf/ tests/
  ftwbench load tests/ && ftwbench packets -o run.pkt
  ftwbench rule                                     # Print the marker detection rule
  ftwbench logs --log-stdin --reverse < error.log   # Attach a log to the last run
  ftwbench check --failed-only                      # Evaluate stored results`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup(cmd)
	},
}

// Global flags
var (
	flagDB        string
	flagLogLevel  string
	flagLogPretty bool
	flagConfig    string
)

// Process-wide state built by setup
var (
	settings config.Settings
	logger   zerolog.Logger
)

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDB, "db", "", "SQLite database (default ~/.ftwbench/ftwbench.db)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "", "Log level (debug/info/warn/error)")
	rootCmd.PersistentFlags().BoolVar(&flagLogPretty, "log-pretty", false, "Human readable log output")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "Settings file (default ~/.ftwbench/config.yaml)")

	rootCmd.AddCommand(loadCmd)
	rootCmd.AddCommand(ruleCmd)
	rootCmd.AddCommand(packetsCmd)
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(logsCmd)
	rootCmd.AddCommand(checkCmd)
}

// setup initializes configuration and logging. Flags override settings.
func setup(cmd *cobra.Command) error {
	if err := config.Initialize(); err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	path := flagConfig
	if path == "" {
		path = config.SettingsFile
	}
	path, err := config.ExpandPath(path)
	if err != nil {
		return err
	}
	s, err := config.LoadSettings(path)
	if err != nil {
		return err
	}

	flags := cmd.Flags()
	if flags.Changed("db") {
		s.Database = flagDB
	}
	if flags.Changed("log-level") {
		s.LogLevel = flagLogLevel
	}
	if flags.Changed("log-pretty") {
		s.LogPretty = flagLogPretty
	}
	if s.Database, err = config.ExpandPath(s.Database); err != nil {
		return err
	}

	settings = s
	logger = logging.Init(logging.Options{Level: s.LogLevel, Pretty: s.LogPretty})
	logger.Debug().Str("settings", path).Str("db", s.Database).Msg("Configuration loaded")
	return nil
}

// openHarness opens the store and returns a harness over it
func openHarness(m *metrics.Metrics) (*harness.Harness, *store.Manager, error) {
	s, err := store.NewManager(settings.Database)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}
	h := harness.New(harness.Options{
		Store:    s,
		Metrics:  m,
		Logger:   logger,
		Progress: os.Stderr,
	})
	return h, s, nil
}

// writeMetrics exports m when a metrics file is configured
func writeMetrics(m *metrics.Metrics, path string) {
	if path == "" {
		path = settings.MetricsFile
	}
	if path == "" {
		return
	}
	if err := m.WriteFile(path); err != nil {
		logger.Warn().Err(err).Str("file", path).Msg("Failed to write metrics")
		return
	}
	logger.Debug().Str("file", path).Msg("Metrics written")
}
