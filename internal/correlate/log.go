package correlate

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/studiowebux/ftwbench/internal/types"
)

// Order is the accumulation order of log lines inside a window
type Order int

const (
	// Forward appends each line, for logs read oldest first
	Forward Order = iota
	// Reverse prepends each line, for logs read newest first
	Reverse
)

func (o Order) String() string {
	if o == Reverse {
		return "reverse"
	}
	return "forward"
}

// LogStore persists log lines for a test case.
// It returns the number of rows updated.
type LogStore interface {
	UpdateLog(rec types.LogRecord) (int64, error)
}

// LogCorrelator attributes target log lines to test keys
type LogCorrelator struct {
	keys    KeyExtractor
	store   LogStore
	order   Order
	logger  zerolog.Logger
	onLog   func(rec types.LogRecord, stored bool)
	win     window
	done    int
	skipped int
}

// LogOptions configures a LogCorrelator
type LogOptions struct {
	Order  Order
	Logger zerolog.Logger
	// OnLog fires for every closed window; stored is false when no row matched
	OnLog func(rec types.LogRecord, stored bool)
}

// NewLogCorrelator creates a LogCorrelator
func NewLogCorrelator(keys KeyExtractor, store LogStore, opts LogOptions) *LogCorrelator {
	return &LogCorrelator{
		keys:   keys,
		store:  store,
		order:  opts.Order,
		logger: opts.Logger,
		onLog:  opts.OnLog,
	}
}

// Feed consumes one log line. Empty lines are ignored.
func (c *LogCorrelator) Feed(line string) error {
	if line == "" {
		return nil
	}

	key, ok := c.keys.ExtractKey(line)
	if !ok {
		if c.win.open {
			c.win.lines = append(c.win.lines, line)
		}
		return nil
	}

	if !c.win.open {
		c.win.begin(key)
		return nil
	}

	if key != c.win.key {
		return &FramingViolationError{Open: c.win.key, Got: key}
	}

	rec := types.LogRecord{Key: key, RawLog: c.win.text(c.order)}
	c.win.reset()

	rows, err := c.store.UpdateLog(rec)
	if err != nil {
		return fmt.Errorf("failed to commit log for %s: %w", key, err)
	}
	if rows > 1 {
		return &AmbiguousKeyError{Key: key, Rows: rows}
	}

	if rows == 0 {
		c.skipped++
		c.logger.Debug().Str("key", key).Msg("Log window matches no test case, skipping")
	} else {
		c.done++
	}
	if c.onLog != nil {
		c.onLog(rec, rows == 1)
	}
	return nil
}

// Committed returns the number of windows stored
func (c *LogCorrelator) Committed() int {
	return c.done
}

// Skipped returns the number of windows that matched no test case
func (c *LogCorrelator) Skipped() int {
	return c.skipped
}

// Close reports a window left open at end of input
func (c *LogCorrelator) Close() error {
	if !c.win.open {
		return nil
	}
	key := c.win.key
	c.win.reset()
	return &UnclosedWindowError{Keys: []string{key}}
}
