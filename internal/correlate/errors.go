package correlate

import (
	"fmt"
	"strings"
)

// FramingViolationError is returned when a marker for a different key shows
// up while a window is open
type FramingViolationError struct {
	Open string
	Got  string
}

func (e *FramingViolationError) Error() string {
	return fmt.Sprintf("framing violation: marker for %q while window for %q is open", e.Got, e.Open)
}

// UnregisteredKeyError is returned when a closed traffic window matches no catalog row
type UnregisteredKeyError struct {
	Key string
}

func (e *UnregisteredKeyError) Error() string {
	return fmt.Sprintf("no test case registered for key %q", e.Key)
}

// AmbiguousKeyError is returned when a closed window updated more than one row
type AmbiguousKeyError struct {
	Key  string
	Rows int64
}

func (e *AmbiguousKeyError) Error() string {
	return fmt.Sprintf("key %q matched %d test cases", e.Key, e.Rows)
}

// UnclosedWindowError is returned when input ends with a window still open
type UnclosedWindowError struct {
	Keys []string
}

func (e *UnclosedWindowError) Error() string {
	return fmt.Sprintf("%d test(s) had no closing delimiter: %s", len(e.Keys), strings.Join(e.Keys, ", "))
}
