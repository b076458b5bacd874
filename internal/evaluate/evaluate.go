// Package evaluate checks captured artifacts against the assertions of their
// test case.
package evaluate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/studiowebux/ftwbench/internal/types"
)

// Kind is an assertion kind
type Kind string

// Assertion kinds, in evaluation order
const (
	KindStatus           Kind = "status"
	KindLogContains      Kind = "log_contains"
	KindNoLogContains    Kind = "no_log_contains"
	KindResponseContains Kind = "response_contains"
	KindHTMLContains     Kind = "html_contains"
	KindExpectError      Kind = "expect_error"
)

// Kinds lists the supported assertion kinds in evaluation order
var Kinds = []Kind{
	KindStatus,
	KindLogContains,
	KindNoLogContains,
	KindResponseContains,
	KindHTMLContains,
	KindExpectError,
}

// CompileError is recorded on a check whose expected value is not usable
type CompileError struct {
	Kind    Kind
	Pattern string
	Err     error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("invalid %s expectation %q: %v", e.Kind, e.Pattern, e.Err)
}

func (e *CompileError) Unwrap() error {
	return e.Err
}

// Check is the outcome of one assertion
type Check struct {
	Kind     Kind   `json:"kind"`
	Expected string `json:"expected"`
	Passed   bool   `json:"passed"`
	Message  string `json:"message,omitempty"`
	Err      error  `json:"-"`
}

// Verdict is the outcome of all assertions of one test case
type Verdict struct {
	ID      string  `json:"id"`
	Title   string  `json:"title"`
	Passed  bool    `json:"passed"`
	Missing bool    `json:"missing,omitempty"`
	Checks  []Check `json:"checks"`
}

// Failed returns the checks that did not pass
func (v Verdict) Failed() []Check {
	var out []Check
	for _, c := range v.Checks {
		if !c.Passed {
			out = append(out, c)
		}
	}
	return out
}

// Summary counts verdicts
type Summary struct {
	Total   int `json:"total"`
	Passed  int `json:"passed"`
	Failed  int `json:"failed"`
	Missing int `json:"missing"`
}

// OK reports whether every evaluated test passed
func (s Summary) OK() bool {
	return s.Failed == 0
}

// Evaluator evaluates artifacts, caching compiled patterns
type Evaluator struct {
	cache map[string]*regexp.Regexp
}

// New creates an Evaluator
func New() *Evaluator {
	return &Evaluator{cache: make(map[string]*regexp.Regexp)}
}

// EvaluateAll evaluates every artifact. Artifacts with nothing captured are
// reported as missing and are neither passed nor failed.
func (e *Evaluator) EvaluateAll(artifacts []types.Artifact) ([]Verdict, Summary) {
	verdicts := make([]Verdict, 0, len(artifacts))
	var sum Summary
	for _, a := range artifacts {
		sum.Total++
		if a.Empty() {
			sum.Missing++
			verdicts = append(verdicts, Verdict{ID: a.ID, Title: a.Title, Missing: true})
			continue
		}
		v := e.Evaluate(a)
		if v.Passed {
			sum.Passed++
		} else {
			sum.Failed++
		}
		verdicts = append(verdicts, v)
	}
	return verdicts, sum
}

// Evaluate applies every assertion present in the artifact's output. The
// test passes iff all of them hold.
func (e *Evaluator) Evaluate(a types.Artifact) Verdict {
	v := Verdict{ID: a.ID, Title: a.Title, Passed: true}
	for _, kind := range Kinds {
		if !a.Output.Has(string(kind)) {
			continue
		}
		c := e.check(kind, a.Output[string(kind)], a)
		if !c.Passed {
			v.Passed = false
		}
		v.Checks = append(v.Checks, c)
	}
	return v
}

func (e *Evaluator) check(kind Kind, expected any, a types.Artifact) Check {
	c := Check{Kind: kind, Expected: fmt.Sprint(expected)}

	if kind == KindExpectError {
		want, err := parseBool(expected)
		if err != nil {
			return fail(c, &CompileError{Kind: kind, Pattern: c.Expected, Err: err})
		}
		gotError := a.RawResponse == ""
		c.Passed = gotError == want
		if !c.Passed {
			c.Message = fmt.Sprintf("expected error=%v, got error=%v", want, gotError)
		}
		return c
	}

	pattern, err := patternFor(kind, expected)
	if err != nil {
		return fail(c, &CompileError{Kind: kind, Pattern: c.Expected, Err: err})
	}
	c.Expected = pattern
	re, err := e.compile(pattern)
	if err != nil {
		return fail(c, &CompileError{Kind: kind, Pattern: pattern, Err: err})
	}

	switch kind {
	case KindStatus:
		statusLine, _, _ := strings.Cut(a.RawResponse, "\n")
		statusLine = strings.TrimRight(statusLine, "\r")
		c.Passed = a.RawResponse != "" && re.MatchString(statusLine)
		if !c.Passed {
			c.Message = fmt.Sprintf("status line %q does not match %s", statusLine, pattern)
		}
	case KindLogContains:
		c.Passed = a.RawLog != "" && re.MatchString(a.RawLog)
		if !c.Passed {
			c.Message = fmt.Sprintf("log does not contain %s", pattern)
		}
	case KindNoLogContains:
		c.Passed = a.RawLog == "" || !re.MatchString(a.RawLog)
		if !c.Passed {
			c.Message = fmt.Sprintf("log contains %s", pattern)
		}
	case KindResponseContains, KindHTMLContains:
		c.Passed = a.RawResponse != "" && re.MatchString(a.RawResponse)
		if !c.Passed {
			c.Message = fmt.Sprintf("response does not contain %s", pattern)
		}
	}
	return c
}

func fail(c Check, err error) Check {
	c.Passed = false
	c.Err = err
	c.Message = err.Error()
	return c
}

func (e *Evaluator) compile(pattern string) (*regexp.Regexp, error) {
	if re, ok := e.cache[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	e.cache[pattern] = re
	return re, nil
}

// patternFor turns an expected value into a regular expression. Status codes
// given as integers (or lists of them) match the status line.
func patternFor(kind Kind, expected any) (string, error) {
	if kind != KindStatus {
		switch v := expected.(type) {
		case string:
			return v, nil
		case nil:
			return "", nil
		default:
			return fmt.Sprint(v), nil
		}
	}

	switch v := expected.(type) {
	case string:
		return v, nil
	case []any:
		codes := make([]string, 0, len(v))
		for _, item := range v {
			code, err := statusCode(item)
			if err != nil {
				return "", err
			}
			codes = append(codes, code)
		}
		if len(codes) == 0 {
			return "", fmt.Errorf("empty status list")
		}
		return statusPattern(codes), nil
	default:
		code, err := statusCode(v)
		if err != nil {
			return "", err
		}
		return statusPattern([]string{code}), nil
	}
}

func statusPattern(codes []string) string {
	return `^HTTP/\d(\.\d)? (` + strings.Join(codes, "|") + `)\b`
}

func statusCode(v any) (string, error) {
	switch n := v.(type) {
	case int:
		return strconv.Itoa(n), nil
	case int64:
		return strconv.FormatInt(n, 10), nil
	case uint64:
		return strconv.FormatUint(n, 10), nil
	case float64:
		if n != float64(int(n)) {
			return "", fmt.Errorf("status %v is not an integer", n)
		}
		return strconv.Itoa(int(n)), nil
	case string:
		if _, err := strconv.Atoi(n); err != nil {
			return "", fmt.Errorf("status %q is not an integer", n)
		}
		return n, nil
	default:
		return "", fmt.Errorf("unsupported status value %v (%T)", v, v)
	}
}

func parseBool(v any) (bool, error) {
	switch b := v.(type) {
	case bool:
		return b, nil
	case string:
		return strconv.ParseBool(b)
	case int:
		return b != 0, nil
	case int64:
		return b != 0, nil
	case float64:
		return b != 0, nil
	case nil:
		return false, nil
	default:
		return false, fmt.Errorf("unsupported boolean value %v (%T)", v, v)
	}
}
