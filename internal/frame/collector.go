// Package frame extracts length-announced buffers from a line stream.
//
// A frame starts on a line matching a start pattern whose first capture
// group is a byte count. Exactly that many bytes are collected, however the
// stream is split into lines, and the frame is emitted once a line matching
// the end pattern follows.
package frame

import (
	"regexp"
	"strconv"
	"strings"
)

// State is the collection state of a Collector
type State int

const (
	// Idle waits for a start line
	Idle State = iota
	// Collecting consumes announced bytes
	Collecting
	// Paused holds a complete buffer until the end line
	Paused
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Collecting:
		return "collecting"
	case Paused:
		return "paused"
	default:
		return "State(" + strconv.Itoa(int(s)) + ")"
	}
}

// Collector accumulates one frame at a time. Not safe for concurrent use.
type Collector struct {
	start     *regexp.Regexp
	end       *regexp.Regexp
	state     State
	remaining int
	buf       strings.Builder
	dropped   string
	hasDrop   bool
}

// NewCollector creates a collector. start must have a capture group holding
// the decimal byte count of the frame.
func NewCollector(start, end *regexp.Regexp) *Collector {
	return &Collector{start: start, end: end}
}

// State returns the current state
func (c *Collector) State() State {
	return c.state
}

// Remaining returns the number of announced bytes not yet consumed
func (c *Collector) Remaining() int {
	return c.remaining
}

// Feed consumes one line (or any chunk of one) and returns the finished frame
// when the line completes it. A start line restarts a Paused collector; the
// frame it held is kept for Dropped.
func (c *Collector) Feed(line string) (string, bool) {
	if c.state != Collecting {
		if m := c.start.FindStringSubmatchIndex(line); m != nil && len(m) >= 4 && m[2] >= 0 {
			if n, err := strconv.Atoi(line[m[2]:m[3]]); err == nil && n >= 0 {
				if c.state == Paused {
					c.dropped, c.hasDrop = c.buf.String(), true
				}
				c.buf.Reset()
				c.remaining = n
				c.state = Collecting
				if n == 0 {
					c.state = Paused
				}
				line = line[m[1]:]
			}
		}
	}

	if c.state == Collecting && c.remaining > 0 {
		take := min(len(line), c.remaining)
		c.buf.WriteString(line[:take])
		c.remaining -= take
		line = line[take:]
		if c.remaining == 0 {
			c.state = Paused
			if line == "" {
				return "", false
			}
		}
	}

	if c.state == Paused && c.end.MatchString(line) {
		out := c.buf.String()
		c.reset()
		return out, true
	}
	return "", false
}

// Dropped returns the complete frame discarded by the last restart, once
func (c *Collector) Dropped() (string, bool) {
	if !c.hasDrop {
		return "", false
	}
	out := c.dropped
	c.dropped, c.hasDrop = "", false
	return out, true
}

// Reset drops any partial frame and returns to Idle
func (c *Collector) Reset() {
	c.reset()
	c.dropped, c.hasDrop = "", false
}

func (c *Collector) reset() {
	c.buf.Reset()
	c.remaining = 0
	c.state = Idle
}
