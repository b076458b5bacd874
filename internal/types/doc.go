/*
Package types defines core data structures shared across ftwbench.

# Catalog

TestCase:
  - One stage of an FTW test file
  - ID doubles as the marker key in probe traffic
  - Input is replayed, Output holds the assertions
  - Request holds the wire bytes built at load time

StageInput:
  - Either structured (method, uri, version, headers, data)
  - Or raw_request / encoded_request passed through as is

StageOutput:
  - Assertion kind to expected value
  - Kinds: status, log_contains, no_log_contains, response_contains,
    html_contains, expect_error

# Captured artifacts

TrafficRecord:
  - Raw request and response bytes seen between two markers
  - Only ever updates an existing catalog row

LogRecord:
  - Target log lines seen between two markers
  - Lines are joined with newlines and trimmed

Artifact:
  - Catalog row joined with its captured columns, input to evaluation

# Runs

Run:
  - One harness run
  - Magic is the run-unique part of every marker, stored so later
    invocations (logs, check) correlate against the same markers
*/
package types
