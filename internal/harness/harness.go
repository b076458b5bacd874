// Package harness runs the benchmarking flow: load a catalog, write the
// packet file, drive wb, correlate traffic and logs, then evaluate.
package harness

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/studiowebux/ftwbench/internal/catalog"
	"github.com/studiowebux/ftwbench/internal/correlate"
	"github.com/studiowebux/ftwbench/internal/delimiter"
	"github.com/studiowebux/ftwbench/internal/evaluate"
	"github.com/studiowebux/ftwbench/internal/frame"
	"github.com/studiowebux/ftwbench/internal/logsource"
	"github.com/studiowebux/ftwbench/internal/metrics"
	"github.com/studiowebux/ftwbench/internal/packet"
	"github.com/studiowebux/ftwbench/internal/report"
	"github.com/studiowebux/ftwbench/internal/runner"
	"github.com/studiowebux/ftwbench/internal/store"
	"github.com/studiowebux/ftwbench/internal/types"
)

// Harness holds what every step of a run shares
type Harness struct {
	store    *store.Manager
	metrics  *metrics.Metrics
	logger   zerolog.Logger
	progress io.Writer
	builder  packet.Builder
}

// Options configures a Harness
type Options struct {
	Store *store.Manager
	// Metrics may be nil
	Metrics *metrics.Metrics
	Logger  zerolog.Logger
	// Progress receives the committed counter while wb runs; nil disables it
	Progress io.Writer
	// Builder turns stage inputs into wire bytes; nil uses packet.DefaultBuilder
	Builder packet.Builder
}

// New creates a Harness
func New(opts Options) *Harness {
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}
	b := opts.Builder
	if b == nil {
		b = packet.DefaultBuilder
	}
	return &Harness{
		store:    opts.Store,
		metrics:  m,
		logger:   opts.Logger,
		progress: opts.Progress,
		builder:  b,
	}
}

// Metrics returns the metrics the harness updates
func (h *Harness) Metrics() *metrics.Metrics {
	return h.metrics
}

// LoadOptions selects the catalog
type LoadOptions struct {
	Paths   []string
	Workers int
}

// Load parses the catalog, builds every request and replaces the stored
// catalog. It returns the number of test cases stored.
func (h *Harness) Load(ctx context.Context, opts LoadOptions) (int, error) {
	cases, err := catalog.Load(ctx, opts.Paths, catalog.Options{
		Workers: opts.Workers,
		Logger:  h.logger,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to load catalog: %w", err)
	}

	for i := range cases {
		req, err := h.builder.Build(cases[i].Input)
		if err != nil {
			return 0, fmt.Errorf("failed to build request for %q: %w", cases[i].Title, err)
		}
		cases[i].Request = req
	}

	if err := h.store.ReplaceCatalog(cases); err != nil {
		return 0, err
	}
	h.metrics.TestCases.Set(float64(len(cases)))
	h.logger.Info().Int("tests", len(cases)).Msg("Catalog loaded")
	return len(cases), nil
}

// NewRun records a run with a fresh magic
func (h *Harness) NewRun() (*types.Run, error) {
	run := &types.Run{Magic: delimiter.NewMagic()}
	if err := h.store.CreateRun(run); err != nil {
		return nil, err
	}
	h.logger.Debug().Int64("run", run.ID).Str("magic", run.Magic).Msg("Run created")
	return run, nil
}

// CurrentRun returns the latest run, creating one when none exists
func (h *Harness) CurrentRun() (*types.Run, error) {
	run, err := h.store.LatestRun()
	if errors.Is(err, store.ErrNoRun) {
		return h.NewRun()
	}
	return run, err
}

// Rule renders the detection rule for run
func (h *Harness) Rule(run *types.Run, opts delimiter.RuleOptions) (string, error) {
	return delimiter.NewMarker(run.Magic).DetectionRule(opts)
}

// WritePackets writes the packet file for run, probes around every test
func (h *Harness) WritePackets(run *types.Run, path string) (int, error) {
	n, err := packet.WriteFile(path, h.store, delimiter.NewMarker(run.Magic), h.builder)
	if err != nil {
		return n, err
	}
	run.PacketFile = path
	if err := h.store.UpdateRun(run); err != nil {
		return n, err
	}
	h.logger.Info().Str("file", path).Int("tests", n).Msg("Packet file written")
	return n, nil
}

// CollectTraffic runs wb over the packet file of run and stores the traffic
// of every test. Prior traffic is replaced only when wb exits zero.
func (h *Harness) CollectTraffic(ctx context.Context, run *types.Run, opts runner.Options) (err error) {
	if opts.PacketFile == "" {
		opts.PacketFile = run.PacketFile
	}
	if opts.PacketFile == "" {
		return errors.New("run has no packet file")
	}
	opts.Logger = h.logger

	total, err := h.store.Count()
	if err != nil {
		return err
	}

	if err := h.store.Begin(); err != nil {
		return err
	}
	defer func() {
		if err != nil {
			if rbErr := h.store.Rollback(); rbErr != nil {
				h.logger.Error().Err(rbErr).Msg("Rollback failed")
			}
			run.Status = types.RunFailed
			var exitErr *runner.ExitError
			if errors.As(err, &exitErr) {
				run.ExitCode = exitErr.Code
			}
			if upErr := h.store.UpdateRun(run); upErr != nil {
				h.logger.Error().Err(upErr).Msg("Failed to record run status")
			}
		}
	}()

	if err := h.store.ClearTraffic(); err != nil {
		return err
	}

	var progress *report.Progress
	if h.progress != nil {
		progress = report.NewProgress(h.progress)
	}
	hooks := correlate.Hooks{
		OnCommit: func(rec types.TrafficRecord) {
			h.metrics.CommitsTotal.WithLabelValues("traffic").Inc()
		},
	}
	if progress != nil {
		hooks.OnProgress = progress.Update
	}

	pair := frame.NewPair(frame.WBPatterns())
	corr := correlate.NewTrafficCorrelator(delimiter.NewMarker(run.Magic), h.store, correlate.TrafficOptions{
		Total:  total,
		Hooks:  hooks,
		Logger: h.logger,
	})

	start := time.Now()
	runErr := runner.Run(ctx, opts, func(line string) error {
		h.metrics.WBLinesTotal.Inc()
		ex, ok, err := pair.Feed(line)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		h.metrics.ExchangesTotal.Inc()
		return corr.Feed(ex.Request, ex.Response)
	})
	h.metrics.RunDuration.Set(time.Since(start).Seconds())
	if progress != nil {
		progress.Done()
	}
	if runErr != nil {
		return runErr
	}

	if closeErr := corr.Close(); closeErr != nil {
		h.logger.Warn().Err(closeErr).Msg("Traffic ended inside a test window")
	}

	run.Status = types.RunCompleted
	run.ExitCode = 0
	if err := h.store.UpdateRun(run); err != nil {
		return err
	}
	if err := h.store.Commit(); err != nil {
		return err
	}
	h.logger.Info().Int("committed", corr.Committed()).Int("tests", total).Msg("Traffic collected")
	return nil
}

// LogOptions configures log ingestion
type LogOptions struct {
	Source logsource.Options
	Order  correlate.Order
}

// LogResult counts what log ingestion stored
type LogResult struct {
	Committed int
	Skipped   int
	// Unclosed is set when input ended inside a window
	Unclosed error
}

// IngestLogs reads the target log and stores the lines of every test of run.
// Prior logs are replaced. Interrupting interactive input ends it normally.
func (h *Harness) IngestLogs(ctx context.Context, run *types.Run, opts LogOptions) (LogResult, error) {
	var res LogResult

	srcOpts := opts.Source
	srcOpts.Logger = h.logger
	src, err := logsource.Open(ctx, srcOpts)
	if err != nil {
		return res, err
	}
	defer src.Close()

	if err := h.store.Begin(); err != nil {
		return res, err
	}
	if err := h.store.ClearLogs(); err != nil {
		_ = h.store.Rollback()
		return res, err
	}

	corr := correlate.NewLogCorrelator(delimiter.NewMarker(run.Magic), h.store, correlate.LogOptions{
		Order:  opts.Order,
		Logger: h.logger,
		OnLog: func(rec types.LogRecord, stored bool) {
			if stored {
				h.metrics.CommitsTotal.WithLabelValues("log").Inc()
			} else {
				h.metrics.SkippedTotal.WithLabelValues("log").Inc()
			}
		},
	})

	h.logger.Info().Str("source", src.Name()).Stringer("order", opts.Order).Msg("Reading log")
	err = src.Each(ctx, corr.Feed)
	if errors.Is(err, context.Canceled) && src.Interactive() {
		h.logger.Debug().Msg("Interactive log input interrupted")
		err = nil
	}
	if err != nil {
		_ = h.store.Rollback()
		return res, fmt.Errorf("failed to ingest log: %w", err)
	}

	res.Committed = corr.Committed()
	res.Skipped = corr.Skipped()
	if res.Unclosed = corr.Close(); res.Unclosed != nil {
		h.logger.Warn().Err(res.Unclosed).Msg("Log ended inside a test window")
	}

	if err := h.store.Commit(); err != nil {
		return res, err
	}
	h.logger.Info().Int("committed", res.Committed).Int("skipped", res.Skipped).Msg("Log ingested")
	return res, nil
}

// Check evaluates every stored artifact against its expected output
func (h *Harness) Check() (report.Report, error) {
	run, err := h.store.LatestRun()
	if err != nil && !errors.Is(err, store.ErrNoRun) {
		return report.Report{}, err
	}

	artifacts, err := h.store.Artifacts()
	if err != nil {
		return report.Report{}, err
	}

	verdicts, summary := evaluate.New().EvaluateAll(artifacts)
	h.metrics.VerdictsTotal.WithLabelValues("passed").Add(float64(summary.Passed))
	h.metrics.VerdictsTotal.WithLabelValues("failed").Add(float64(summary.Failed))
	h.metrics.VerdictsTotal.WithLabelValues("missing").Add(float64(summary.Missing))

	return report.New(run, verdicts, summary), nil
}

// Confirm prints msg and waits for a line on in. Any answer other than
// empty, y or yes cancels.
func Confirm(in io.Reader, out io.Writer, msg string) error {
	fmt.Fprint(out, msg)
	answer, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("failed to read answer: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "", "y", "yes":
		return nil
	}
	return errors.New("cancelled by user")
}
