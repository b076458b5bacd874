package main

import (
	"errors"
	"io"
	"os"
	"strings"

	"github.com/studiowebux/ftwbench/internal/config"
)

// ttyPath is read for the start confirmation when stdin carries the log
var ttyPath = "/dev/tty"

var errNeedsYes = errors.New("--log-stdin reads the log from stdin: pass --yes or run from a terminal")

// promptInput returns the reader the start confirmation is read from.
// stdin is left untouched when it carries the log.
func promptInput(stdin io.Reader, stdinIsLog bool) (io.Reader, func(), error) {
	if !stdinIsLog {
		return stdin, func() {}, nil
	}
	tty, err := os.Open(ttyPath)
	if err != nil {
		return nil, nil, errNeedsYes
	}
	return tty, func() { tty.Close() }, nil
}

// runTarget splits run arguments into the server and the catalog paths. The
// server may be left out when one is configured and the first argument is a
// catalog path.
func runTarget(args []string, configured string) (string, []string, error) {
	if configured != "" && (len(args) == 1 || isCatalogPath(args[0])) {
		return configured, args, nil
	}
	if len(args) < 2 {
		return "", nil, errors.New("run needs a server and at least one catalog path (or server in settings)")
	}
	return args[0], args[1:], nil
}

func isCatalogPath(arg string) bool {
	if strings.Contains(arg, "://") {
		return false
	}
	if path, err := config.ExpandPath(arg); err == nil {
		if _, err := os.Stat(path); err == nil {
			return true
		}
	}
	return strings.ContainsAny(arg, "*?[{")
}
