package evaluate

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studiowebux/ftwbench/internal/types"
)

func TestEvaluateConjunction(t *testing.T) {
	e := New()
	a := types.Artifact{
		ID:          "k1",
		Output:      types.StageOutput{"status": "^HTTP/1.1 200", "log_contains": "id \"942100\""},
		RawResponse: "HTTP/1.1 200 OK\r\nServer: x\r\n\r\n",
		RawLog:      `ModSecurity: Warning. [id "942100"]`,
	}

	v := e.Evaluate(a)
	assert.True(t, v.Passed)
	require.Len(t, v.Checks, 2)
	assert.Equal(t, KindStatus, v.Checks[0].Kind)
	assert.Equal(t, KindLogContains, v.Checks[1].Kind)

	a.RawResponse = "HTTP/1.1 403 Forbidden\r\n\r\n"
	v = e.Evaluate(a)
	assert.False(t, v.Passed)
	failed := v.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, KindStatus, failed[0].Kind)
	assert.Contains(t, failed[0].Message, "HTTP/1.1 403 Forbidden")
}

func TestEvaluatePredicates(t *testing.T) {
	tests := []struct {
		name     string
		kind     Kind
		expected any
		artifact types.Artifact
		passed   bool
	}{
		{"status matches first line only", KindStatus, "403", types.Artifact{RawResponse: "HTTP/1.1 200 OK\r\nX: 403\r\n"}, false},
		{"status empty response", KindStatus, ".*", types.Artifact{RawLog: "x"}, false},
		{"status integer", KindStatus, 403, types.Artifact{RawResponse: "HTTP/1.1 403 Forbidden\r\n"}, true},
		{"status integer prefix", KindStatus, 40, types.Artifact{RawResponse: "HTTP/1.1 403 Forbidden\r\n"}, false},
		{"status float from json", KindStatus, float64(200), types.Artifact{RawResponse: "HTTP/1.0 200 OK\r\n"}, true},
		{"status list", KindStatus, []any{200, 404}, types.Artifact{RawResponse: "HTTP/1.1 404 Not Found\r\n"}, true},
		{"status list miss", KindStatus, []any{200, 404}, types.Artifact{RawResponse: "HTTP/1.1 403 Forbidden\r\n"}, false},
		{"log_contains empty log", KindLogContains, "", types.Artifact{RawResponse: "x"}, false},
		{"log_contains empty pattern", KindLogContains, "", types.Artifact{RawLog: "anything"}, true},
		{"log_contains hit", KindLogContains, `id "9\d+"`, types.Artifact{RawLog: `[id "920350"]`}, true},
		{"no_log_contains empty log", KindNoLogContains, "x", types.Artifact{RawResponse: "x"}, true},
		{"no_log_contains hit", KindNoLogContains, "920", types.Artifact{RawLog: "920350"}, false},
		{"no_log_contains miss", KindNoLogContains, "999", types.Artifact{RawLog: "920350"}, true},
		{"response_contains", KindResponseContains, "Forbidden", types.Artifact{RawResponse: "HTTP/1.1 403 Forbidden\r\n"}, true},
		{"response_contains empty", KindResponseContains, "", types.Artifact{RawLog: "x"}, false},
		{"html_contains", KindHTMLContains, "<title>", types.Artifact{RawResponse: "HTTP/1.1 200 OK\r\n\r\n<title>x</title>"}, true},
		{"expect_error true with response", KindExpectError, true, types.Artifact{RawResponse: "HTTP/1.1 200 OK\r\n"}, false},
		{"expect_error true without response", KindExpectError, true, types.Artifact{RawRequest: "GET"}, true},
		{"expect_error false with response", KindExpectError, false, types.Artifact{RawResponse: "HTTP/1.1 200 OK\r\n"}, true},
		{"expect_error string", KindExpectError, "true", types.Artifact{RawRequest: "GET"}, true},
	}

	e := New()
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.artifact.Output = types.StageOutput{string(tt.kind): tt.expected}
			v := e.Evaluate(tt.artifact)
			require.Len(t, v.Checks, 1)
			if v.Passed != tt.passed {
				t.Errorf("Expected passed=%v, got: %v (%s)", tt.passed, v.Passed, v.Checks[0].Message)
			}
		})
	}
}

func TestEvaluateCompileError(t *testing.T) {
	e := New()
	a := types.Artifact{
		Output:      types.StageOutput{"status": 200, "log_contains": "(?=lookahead)", "response_contains": "OK"},
		RawResponse: "HTTP/1.1 200 OK\r\n",
		RawLog:      "x",
	}

	v := e.Evaluate(a)
	assert.False(t, v.Passed)
	require.Len(t, v.Checks, 3)
	assert.True(t, v.Checks[0].Passed)
	assert.True(t, v.Checks[2].Passed)

	var ce *CompileError
	require.True(t, errors.As(v.Checks[1].Err, &ce))
	assert.Equal(t, KindLogContains, ce.Kind)
	assert.Equal(t, "(?=lookahead)", ce.Pattern)
}

func TestEvaluateBadExpectations(t *testing.T) {
	e := New()
	tests := []struct {
		name   string
		output types.StageOutput
	}{
		{"status not integer", types.StageOutput{"status": 200.5}},
		{"status list of strings", types.StageOutput{"status": []any{"abc"}}},
		{"status empty list", types.StageOutput{"status": []any{}}},
		{"expect_error garbage", types.StageOutput{"expect_error": "maybe"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := e.Evaluate(types.Artifact{Output: tt.output, RawResponse: "HTTP/1.1 200 OK\r\n"})
			assert.False(t, v.Passed)
			var ce *CompileError
			assert.True(t, errors.As(v.Checks[0].Err, &ce))
		})
	}
}

func TestEvaluateAll(t *testing.T) {
	e := New()
	artifacts := []types.Artifact{
		{ID: "a", Output: types.StageOutput{"status": 200}, RawResponse: "HTTP/1.1 200 OK\r\n"},
		{ID: "b", Output: types.StageOutput{"status": 200}, RawResponse: "HTTP/1.1 403 Forbidden\r\n"},
		{ID: "c", Output: types.StageOutput{"status": 200}},
		{ID: "d", RawLog: "x"},
	}

	verdicts, sum := e.EvaluateAll(artifacts)
	require.Len(t, verdicts, 4)
	assert.Equal(t, Summary{Total: 4, Passed: 2, Failed: 1, Missing: 1}, sum)
	assert.False(t, sum.OK())
	assert.True(t, verdicts[2].Missing)
	assert.True(t, verdicts[3].Passed)
}

func TestStatusPattern(t *testing.T) {
	p, err := patternFor(KindStatus, []any{200, 403})
	require.NoError(t, err)
	assert.Equal(t, `^HTTP/\d(\.\d)? (200|403)\b`, p)
}
