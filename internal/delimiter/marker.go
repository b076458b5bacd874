package delimiter

import (
	"bytes"
	"fmt"
	"math/big"
	"regexp"
	"text/template"
	"unicode"
	"unicode/utf8"

	"github.com/Masterminds/sprig/v3"
	"github.com/google/uuid"

	"github.com/studiowebux/ftwbench/internal/types"
)

// DefaultRuleTemplate renders a ModSecurity rule that logs every request whose
// Host header carries a marker of the current run.
const DefaultRuleTemplate = `SecRule REQUEST_HEADERS:Host "{{ .Pattern }}" "phase:5,id:{{ .RuleID }},t:none,block,msg:'%{matched_var}'"`

// DefaultRuleID is the rule id used when none is configured
const DefaultRuleID = "010203"

// ProbeUserAgent identifies probe requests in target logs
const ProbeUserAgent = "ftwbench"

// Marker renders and recognizes the delimiter text of one run.
// The zero value is not usable; use NewRunMarker or NewMarker.
type Marker struct {
	magic   string
	pattern string
	re      *regexp.Regexp
}

// NewRunMarker creates a marker with a fresh run-unique magic
func NewRunMarker() *Marker {
	return NewMarker(NewMagic())
}

// NewMagic returns a random 128-bit UUID rendered as decimal digits
func NewMagic() string {
	id := uuid.New()
	return new(big.Int).SetBytes(id[:]).String()
}

// NewMarker creates a marker for a known magic, e.g. one stored by a previous run
func NewMarker(magic string) *Marker {
	pattern := regexp.QuoteMeta(magic) + `-<(\w*)>`
	expr := pattern
	if r, _ := utf8.DecodeRuneInString(magic); r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r) {
		// A longer magic ending in ours is a different run.
		expr = `\b` + pattern
	}
	return &Marker{
		magic:   magic,
		pattern: pattern,
		re:      regexp.MustCompile(expr),
	}
}

// Magic returns the run-unique part of the marker
func (m *Marker) Magic() string {
	return m.magic
}

// Pattern returns the regular expression, with one capture group for the key,
// that matches this run's markers
func (m *Marker) Pattern() string {
	return m.pattern
}

// Render returns the marker text for a key
func (m *Marker) Render(key string) string {
	return m.magic + "-<" + key + ">"
}

// ExtractKey returns the key of the first marker found in text.
// An empty key counts as no marker.
func (m *Marker) ExtractKey(text string) (string, bool) {
	match := m.re.FindStringSubmatch(text)
	if match == nil || match[1] == "" {
		return "", false
	}
	return match[1], true
}

// ProbeTestCase builds the minimal request that carries the marker for key
// in its Host header
func (m *Marker) ProbeTestCase(key string) types.TestCase {
	return types.TestCase{
		ID:    key,
		Title: m.Render(key),
		Input: types.StageInput{
			DestAddr: "127.0.0.1",
			Port:     80,
			Method:   "GET",
			URI:      "/",
			Version:  "HTTP/1.1",
			Headers: map[string]string{
				"User-Agent": ProbeUserAgent,
				"Host":       m.Render(key),
				"Accept":     "*/*",
			},
		},
		Output: types.StageOutput{"log_contains": ""},
	}
}

// RuleOptions customizes DetectionRule
type RuleOptions struct {
	// Template is a text/template with sprig functions. Fields: .Pattern, .Magic, .RuleID
	Template string
	RuleID   string
}

// DetectionRule renders the rule an operator installs on the target so that
// probe requests show up in its log
func (m *Marker) DetectionRule(opts RuleOptions) (string, error) {
	text := opts.Template
	if text == "" {
		text = DefaultRuleTemplate
	}
	ruleID := opts.RuleID
	if ruleID == "" {
		ruleID = DefaultRuleID
	}

	tmpl, err := template.New("rule").Funcs(sprig.TxtFuncMap()).Parse(text)
	if err != nil {
		return "", fmt.Errorf("failed to parse rule template: %w", err)
	}

	var buf bytes.Buffer
	data := struct {
		Pattern string
		Magic   string
		RuleID  string
	}{
		Pattern: m.pattern,
		Magic:   m.magic,
		RuleID:  ruleID,
	}
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("failed to render rule template: %w", err)
	}
	return buf.String(), nil
}
