// Package correlate reassembles per-test artifacts from streams delimited by
// marker traffic.
//
// Every test's traffic is surrounded by two probe requests that carry the
// same marker key. The first marker opens a window, the second one closes it
// and commits everything seen in between under that key. A correlator holds
// at most one open window.
package correlate

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/studiowebux/ftwbench/internal/types"
)

// KeyExtractor finds a marker key in text
type KeyExtractor interface {
	ExtractKey(text string) (string, bool)
}

// TrafficStore persists raw traffic for a registered test case.
// It returns the number of rows updated.
type TrafficStore interface {
	UpdateTraffic(rec types.TrafficRecord) (int64, error)
}

// Hooks are optional callbacks fired by the traffic correlator
type Hooks struct {
	OnCommit   func(rec types.TrafficRecord)
	OnProgress func(done, total int)
}

// TrafficCorrelator attributes request/response exchanges to test keys
type TrafficCorrelator struct {
	keys   KeyExtractor
	store  TrafficStore
	hooks  Hooks
	logger zerolog.Logger
	total  int
	done   int
	win    window
}

// TrafficOptions configures a TrafficCorrelator
type TrafficOptions struct {
	// Total is the number of test cases expected, reported through OnProgress
	Total  int
	Hooks  Hooks
	Logger zerolog.Logger
}

// NewTrafficCorrelator creates a TrafficCorrelator
func NewTrafficCorrelator(keys KeyExtractor, store TrafficStore, opts TrafficOptions) *TrafficCorrelator {
	return &TrafficCorrelator{
		keys:   keys,
		store:  store,
		hooks:  opts.Hooks,
		logger: opts.Logger,
		total:  opts.Total,
	}
}

// Feed consumes one finished exchange
func (c *TrafficCorrelator) Feed(request, response string) error {
	key, ok := c.keys.ExtractKey(request)
	if !ok {
		if !c.win.open {
			c.logger.Debug().Int("bytes", len(request)).Msg("Discarding traffic outside of any window")
			return nil
		}
		c.win.request.WriteString(request)
		c.win.response.WriteString(response)
		return nil
	}

	if !c.win.open {
		c.win.begin(key)
		c.logger.Debug().Str("key", key).Msg("Opened traffic window")
		return nil
	}

	if key != c.win.key {
		return &FramingViolationError{Open: c.win.key, Got: key}
	}

	rec := types.TrafficRecord{
		Key:         key,
		RawRequest:  c.win.request.String(),
		RawResponse: c.win.response.String(),
	}
	c.win.reset()

	rows, err := c.store.UpdateTraffic(rec)
	if err != nil {
		return fmt.Errorf("failed to commit traffic for %s: %w", key, err)
	}
	switch {
	case rows == 0:
		return &UnregisteredKeyError{Key: key}
	case rows > 1:
		return &AmbiguousKeyError{Key: key, Rows: rows}
	}

	c.done++
	c.logger.Debug().Str("key", key).Int("request_bytes", len(rec.RawRequest)).Int("response_bytes", len(rec.RawResponse)).Msg("Committed traffic")
	if c.hooks.OnCommit != nil {
		c.hooks.OnCommit(rec)
	}
	if c.hooks.OnProgress != nil {
		c.hooks.OnProgress(c.done, c.total)
	}
	return nil
}

// Committed returns the number of windows committed so far
func (c *TrafficCorrelator) Committed() int {
	return c.done
}

// Open returns the key of the open window, if any
func (c *TrafficCorrelator) Open() (string, bool) {
	return c.win.key, c.win.open
}

// Close reports a window left open at end of input
func (c *TrafficCorrelator) Close() error {
	if !c.win.open {
		return nil
	}
	key := c.win.key
	c.win.reset()
	return &UnclosedWindowError{Keys: []string{key}}
}
