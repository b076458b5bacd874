package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"regexp"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/jmespath/go-jmespath"
)

// QueryTimeout bounds a $(command) query
const QueryTimeout = 30 * time.Second

// $(command) receives the JSON report on stdin
var commandQuery = regexp.MustCompile(`^\$\((.+)\)$`)

// QueryError is returned for a query that cannot be compiled
type QueryError struct {
	Query string
	Err   error
}

func (e *QueryError) Error() string {
	return fmt.Sprintf("invalid report query %q: %v", e.Query, e.Err)
}

func (e *QueryError) Unwrap() error {
	return e.Err
}

// ValidateQuery checks a query before anything is evaluated
func ValidateQuery(query string) error {
	if commandQuery.MatchString(query) {
		return nil
	}
	if _, err := jmespath.Compile(query); err != nil {
		return &QueryError{Query: query, Err: err}
	}
	return nil
}

// Query selects from the JSON form of r. query is a JMESPath expression, or
// $(command) to pipe the report through a shell command. Strings are printed
// unquoted; anything else as indented JSON.
func Query(ctx context.Context, r Report, query string) (string, error) {
	doc, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("failed to marshal report: %w", err)
	}
	if m := commandQuery.FindStringSubmatch(query); m != nil {
		return pipeReport(ctx, doc, m[1])
	}
	return searchReport(doc, query)
}

func searchReport(doc []byte, query string) (string, error) {
	jp, err := jmespath.Compile(query)
	if err != nil {
		return "", &QueryError{Query: query, Err: err}
	}

	var data any
	if err := json.Unmarshal(doc, &data); err != nil {
		return "", fmt.Errorf("failed to decode report: %w", err)
	}
	result, err := jp.Search(data)
	if err != nil {
		return "", &QueryError{Query: query, Err: err}
	}

	switch v := result.(type) {
	case nil:
		return "null", nil
	case string:
		return v, nil
	}
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal query result: %w", err)
	}
	return string(out), nil
}

func pipeReport(ctx context.Context, doc []byte, command string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, QueryTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "sh", "-c", command)
	cmd.Stdin = bytes.NewReader(doc)
	out, err := cmd.Output()
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("query command %q timed out after %s", command, QueryTimeout)
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && len(exitErr.Stderr) > 0 {
			return "", fmt.Errorf("query command %q failed: %s", command, strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("query command %q failed: %w", command, err)
	}
	return strings.TrimSpace(string(out)), nil
}
