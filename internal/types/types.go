package types

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// StageInput describes the request a test stage sends
type StageInput struct {
	DestAddr       string            `json:"dest_addr,omitempty" yaml:"dest_addr,omitempty"`
	Port           int               `json:"port,omitempty" yaml:"port,omitempty"`
	Protocol       string            `json:"protocol,omitempty" yaml:"protocol,omitempty"`
	Method         string            `json:"method,omitempty" yaml:"method,omitempty"`
	URI            string            `json:"uri,omitempty" yaml:"uri,omitempty"`
	Version        string            `json:"version,omitempty" yaml:"version,omitempty"`
	Headers        map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Data           Text              `json:"data,omitempty" yaml:"data,omitempty"`
	RawRequest     Text              `json:"raw_request,omitempty" yaml:"raw_request,omitempty"`
	EncodedRequest string            `json:"encoded_request,omitempty" yaml:"encoded_request,omitempty"`
	StopMagic      bool              `json:"stop_magic,omitempty" yaml:"stop_magic,omitempty"`
}

// StageOutput maps an assertion kind (status, log_contains, ...) to its expected value
type StageOutput map[string]any

// Has reports whether the assertion kind is present
func (o StageOutput) Has(kind string) bool {
	_, ok := o[kind]
	return ok
}

// Text is a string that may be written in YAML either as a scalar or as a
// sequence of lines, which are joined with CRLF.
type Text string

// UnmarshalYAML accepts both scalar and sequence forms
func (t *Text) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*t = Text(node.Value)
		return nil
	case yaml.SequenceNode:
		lines := make([]string, 0, len(node.Content))
		for _, item := range node.Content {
			if item.Kind != yaml.ScalarNode {
				return fmt.Errorf("line %d: expected scalar in text sequence", item.Line)
			}
			lines = append(lines, item.Value)
		}
		*t = Text(strings.Join(lines, "\r\n"))
		return nil
	default:
		return fmt.Errorf("line %d: expected string or list of strings", node.Line)
	}
}

// TestCase is one stage of a catalog test, keyed by ID
type TestCase struct {
	ID      string         `json:"id"`
	Title   string         `json:"title"`
	File    string         `json:"file,omitempty"`
	Meta    map[string]any `json:"meta,omitempty"`
	Input   StageInput     `json:"input"`
	Output  StageOutput    `json:"output"`
	Request []byte         `json:"-"`
}

// TrafficRecord carries the raw traffic captured between two markers of a test
type TrafficRecord struct {
	Key         string
	RawRequest  string
	RawResponse string
}

// LogRecord carries the target log lines captured between two markers of a test
type LogRecord struct {
	Key    string
	RawLog string
}

// Artifact is a stored test case joined with everything captured for it
type Artifact struct {
	ID          string
	Title       string
	Output      StageOutput
	RawRequest  string
	RawResponse string
	RawLog      string
}

// Empty reports whether nothing was captured for the test
func (a Artifact) Empty() bool {
	return a.RawRequest == "" && a.RawResponse == "" && a.RawLog == ""
}

// Run records one harness run and the magic its markers were rendered with
type Run struct {
	ID         int64  `json:"id"`
	Magic      string `json:"magic"`
	PacketFile string `json:"packet_file,omitempty"`
	StartedAt  string `json:"started_at"`
	FinishedAt string `json:"finished_at,omitempty"`
	Status     string `json:"status"`
	ExitCode   int    `json:"exit_code"`
}

// Run statuses
const (
	RunPending   = "pending"
	RunCompleted = "completed"
	RunFailed    = "failed"
)
