package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/charmbracelet/x/term"
	"github.com/spf13/cobra"

	"github.com/studiowebux/ftwbench/internal/config"
	"github.com/studiowebux/ftwbench/internal/correlate"
	"github.com/studiowebux/ftwbench/internal/delimiter"
	"github.com/studiowebux/ftwbench/internal/harness"
	"github.com/studiowebux/ftwbench/internal/logsource"
	"github.com/studiowebux/ftwbench/internal/metrics"
	"github.com/studiowebux/ftwbench/internal/report"
	"github.com/studiowebux/ftwbench/internal/runner"
	"github.com/studiowebux/ftwbench/internal/types"
)

var loadCmd = &cobra.Command{
	Use:   "load <paths...>",
	Short: "Parse FTW catalogs into the database, replacing the stored catalog",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		h, s, err := openHarness(nil)
		if err != nil {
			return err
		}
		defer s.Close()

		n, err := h.Load(cmd.Context(), harness.LoadOptions{Paths: args, Workers: settings.ParseWorkers})
		if err != nil {
			return err
		}
		fmt.Printf("Loaded %d test(s)\n", n)
		return nil
	},
}

var ruleCmd = &cobra.Command{
	Use:   "rule",
	Short: "Print the rule that logs marker requests on the target",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		h, s, err := openHarness(nil)
		if err != nil {
			return err
		}
		defer s.Close()

		run, err := h.CurrentRun()
		if err != nil {
			return err
		}
		rule, err := renderRule(h, run)
		if err != nil {
			return err
		}
		fmt.Println(rule)
		return nil
	},
}

var packetsCmd = &cobra.Command{
	Use:   "packets",
	Short: "Write the wb packet file for the stored catalog",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		h, s, err := openHarness(nil)
		if err != nil {
			return err
		}
		defer s.Close()

		run, err := h.CurrentRun()
		if err != nil {
			return err
		}
		path := packetsOutput
		if path == "" {
			path = config.DefaultPacketFile()
		}
		n, err := h.WritePackets(run, path)
		if err != nil {
			return err
		}
		fmt.Printf("Wrote %d test(s) to %s\n", n, path)
		return nil
	},
}

var runCmd = &cobra.Command{
	Use:   "run [server] <paths...>",
	Short: "Load catalogs, run them through wb and check the results",
	Long: `Run loads the catalogs, writes the packet file and prints the rule the
target needs to log marker requests. Once confirmed, wb replays every test
and the traffic is stored per test. With a log source the target's log is
correlated too, then the results are evaluated.

The server may be left out when one is set in the settings.
The exit code is wb's when it fails.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		server, paths, err := runTarget(args, settings.Server)
		if err != nil {
			return err
		}
		var answers io.Reader = os.Stdin
		if !runYes {
			in, closeIn, err := promptInput(os.Stdin, logStdin)
			if err != nil {
				return err
			}
			defer closeIn()
			answers = in
		}

		m := metrics.New()
		defer writeMetrics(m, flagMetricsFile)

		h, s, err := openHarness(m)
		if err != nil {
			return err
		}
		defer s.Close()

		if _, err := h.Load(ctx, harness.LoadOptions{Paths: paths, Workers: settings.ParseWorkers}); err != nil {
			return err
		}

		run, err := h.NewRun()
		if err != nil {
			return err
		}
		pkt := filepath.Join(config.PacketDir, "run-"+strconv.FormatInt(run.ID, 10)+".pkt")
		if _, err := h.WritePackets(run, pkt); err != nil {
			return err
		}

		rule, err := renderRule(h, run)
		if err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "Install this rule on the target before continuing:\n\n%s\n\n", rule)
		if !runYes {
			if err := harness.Confirm(answers, os.Stderr, "Start wb? [Y/n]: "); err != nil {
				return err
			}
		}

		wbOpts := runner.Options{
			Path:      settings.WBPath,
			Server:    server,
			ExtraArgs: append(append([]string{}, settings.WBArgs...), runWBArgs...),
		}
		if runEcho {
			wbOpts.Echo = os.Stdout
		}
		if err := h.CollectTraffic(ctx, run, wbOpts); err != nil {
			return err
		}

		if logFlagsSet() {
			if _, err := h.IngestLogs(ctx, run, logOptions()); err != nil {
				return err
			}
		}

		return printReport(ctx, h, checkFlags{format: "table"})
	},
}

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Attribute the target's log to the tests of the last run",
	Long: `Logs reads one log source and stores the lines between the two marker
lines of every test. Use --reverse when the log is newest first.

Interrupting interactive standard input ends it; a test left open is reported.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if !logFlagsSet() {
			return errors.New("a log source is required (--log-file, --log-s3 or --log-stdin)")
		}
		h, s, err := openHarness(nil)
		if err != nil {
			return err
		}
		defer s.Close()

		run, err := h.CurrentRun()
		if err != nil {
			return err
		}
		res, err := h.IngestLogs(cmd.Context(), run, logOptions())
		if err != nil {
			return err
		}
		fmt.Printf("Stored log for %d test(s), skipped %d unknown\n", res.Committed, res.Skipped)
		if res.Unclosed != nil {
			fmt.Fprintf(os.Stderr, "Warning: %v\n", res.Unclosed)
		}
		return nil
	},
}

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Evaluate stored results and print a report",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		m := metrics.New()
		defer writeMetrics(m, flagMetricsFile)

		h, s, err := openHarness(m)
		if err != nil {
			return err
		}
		defer s.Close()

		return printReport(cmd.Context(), h, checkFlags{
			format:     checkFormat,
			query:      checkQuery,
			failedOnly: checkFailedOnly,
			width:      checkWidth,
		})
	},
}

// Command flags
var (
	packetsOutput string

	runYes    bool
	runWBArgs []string
	runEcho   bool

	logFile    string
	logS3      string
	logStdin   bool
	logTail    int
	logReverse bool

	checkFormat     string
	checkQuery      string
	checkFailedOnly bool
	checkWidth      int

	flagMetricsFile string
)

func init() {
	packetsCmd.Flags().StringVarP(&packetsOutput, "output", "o", "", "Packet file (default ~/.ftwbench/packets/ftwbench.pkt)")

	runCmd.Flags().BoolVarP(&runYes, "yes", "y", false, "Do not wait for confirmation before starting wb")
	runCmd.Flags().StringArrayVar(&runWBArgs, "wb-arg", []string{}, "Extra wb argument, can be repeated")
	runCmd.Flags().BoolVar(&runEcho, "echo", false, "Echo wb output to stdout")
	runCmd.Flags().StringVar(&flagMetricsFile, "metrics-file", "", "Write Prometheus textfile metrics")

	for _, c := range []*cobra.Command{runCmd, logsCmd} {
		c.Flags().StringVar(&logFile, "log-file", "", "Target log file (plain or gzip)")
		c.Flags().StringVar(&logS3, "log-s3", "", "Target log object (s3://bucket/key)")
		c.Flags().BoolVar(&logStdin, "log-stdin", false, "Read the target log from stdin")
		c.Flags().IntVar(&logTail, "tail", 0, "Read only the last N lines of --log-file")
		c.Flags().BoolVar(&logReverse, "reverse", false, "Log lines are newest first")
	}

	checkCmd.Flags().StringVar(&checkFormat, "format", "table", "Output format (table/json)")
	checkCmd.Flags().StringVarP(&checkQuery, "query", "q", "", "JMESPath query or $(command) over the JSON report")
	checkCmd.Flags().BoolVar(&checkFailedOnly, "failed-only", false, "Only show failed and missing tests")
	checkCmd.Flags().IntVar(&checkWidth, "width", 0, "Table width (default terminal width)")
	checkCmd.Flags().StringVar(&flagMetricsFile, "metrics-file", "", "Write Prometheus textfile metrics")
}

func logFlagsSet() bool {
	return logFile != "" || logS3 != "" || logStdin
}

func logOptions() harness.LogOptions {
	order := correlate.Forward
	if logReverse {
		order = correlate.Reverse
	}
	return harness.LogOptions{
		Source: logsource.Options{
			File:   logFile,
			S3URI:  logS3,
			Stdin:  logStdin,
			Tail:   logTail,
			Region: settings.S3Region,
		},
		Order: order,
	}
}

func renderRule(h *harness.Harness, run *types.Run) (string, error) {
	opts := delimiter.RuleOptions{RuleID: settings.RuleID}
	if settings.RuleTemplate != "" {
		path, err := config.ExpandPath(settings.RuleTemplate)
		if err != nil {
			return "", err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("failed to read rule template: %w", err)
		}
		opts.Template = string(data)
	}
	return h.Rule(run, opts)
}

type checkFlags struct {
	format     string
	query      string
	failedOnly bool
	width      int
}

// printReport evaluates and prints. Failed tests make the command fail.
func printReport(ctx context.Context, h *harness.Harness, f checkFlags) error {
	start := time.Now()
	r, err := h.Check()
	if err != nil {
		return err
	}
	logger.Debug().Dur("took", time.Since(start)).Int("tests", r.Summary.Total).Msg("Evaluated")

	if f.query != "" {
		if err := report.ValidateQuery(f.query); err != nil {
			return err
		}
		out, err := report.Query(ctx, r, f.query)
		if err != nil {
			return err
		}
		fmt.Println(out)
	} else {
		opts := report.Options{Width: f.width, FailedOnly: f.failedOnly}
		switch f.format {
		case "json":
			err = report.WriteJSON(os.Stdout, r, opts)
		case "table", "":
			if opts.Width == 0 {
				opts.Width = terminalWidth()
			}
			err = report.WriteTable(os.Stdout, r, opts)
		default:
			return fmt.Errorf("unknown format %q (use table or json)", f.format)
		}
		if err != nil {
			return err
		}
	}

	if !r.Summary.OK() {
		return fmt.Errorf("%d test(s) failed", r.Summary.Failed)
	}
	return nil
}

func terminalWidth() int {
	if settings.ReportWidth > 0 {
		return settings.ReportWidth
	}
	if w, _, err := term.GetSize(os.Stdout.Fd()); err == nil && w > 0 {
		return w
	}
	return report.DefaultWidth
}
