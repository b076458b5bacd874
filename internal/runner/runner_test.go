package runner

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArgs(t *testing.T) {
	args := Args(Options{PacketFile: "/tmp/a.pkt", Server: "http://localhost:8080/", ExtraArgs: []string{"-k"}})
	assert.Equal(t, []string{"-F", "/tmp/a.pkt", "-v", "4", "-n", "1", "-c", "1", "-r", "-o", "/dev/null", "-k", "http://localhost:8080/"}, args)
}

func TestPumpKeepsNewlines(t *testing.T) {
	var echo bytes.Buffer
	var lines []string
	err := Pump(strings.NewReader("a\r\nb\n\nlast"), &echo, func(line string) error {
		lines = append(lines, line)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a\r\n", "b\n", "\n", "last"}, lines)
	assert.Equal(t, "a\r\nb\n\nlast", echo.String())
}

func TestPumpHandlerError(t *testing.T) {
	stop := errors.New("stop")
	n := 0
	err := Pump(strings.NewReader("a\nb\nc\n"), nil, func(string) error {
		n++
		if n == 2 {
			return stop
		}
		return nil
	})
	assert.ErrorIs(t, err, stop)
	assert.Equal(t, 2, n)
}

func TestResolveExplicitPath(t *testing.T) {
	p, err := Resolve("/opt/wb")
	require.NoError(t, err)
	assert.Equal(t, "/opt/wb", p)
}

func fakeWB(t *testing.T, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts not supported")
	}
	path := filepath.Join(t.TempDir(), "wb")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+script), 0755))
	return path
}

func TestRunStreamsOutput(t *testing.T) {
	wb := fakeWB(t, `printf 'out one\n'
printf 'err two\n' 1>&2
printf 'args %s\n' "$*"
`)

	var lines []string
	err := Run(context.Background(), Options{Path: wb, PacketFile: "p.pkt", Server: "srv", Logger: zerolog.Nop()}, func(line string) error {
		lines = append(lines, line)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, lines, 3)
	assert.Equal(t, "out one\n", lines[0])
	assert.Equal(t, "err two\n", lines[1])
	assert.Equal(t, "args -F p.pkt -v 4 -n 1 -c 1 -r -o /dev/null srv\n", lines[2])
}

func TestRunExitCode(t *testing.T) {
	wb := fakeWB(t, "echo failing\nexit 3\n")

	err := Run(context.Background(), Options{Path: wb, Logger: zerolog.Nop()}, func(string) error { return nil })

	var exitErr *ExitError
	require.True(t, errors.As(err, &exitErr))
	assert.Equal(t, 3, exitErr.Code)
}

func TestRunHandlerErrorStopsWB(t *testing.T) {
	wb := fakeWB(t, "while true; do echo tick; done\n")
	stop := errors.New("stop")

	err := Run(context.Background(), Options{Path: wb, Logger: zerolog.Nop()}, func(string) error { return stop })
	assert.ErrorIs(t, err, stop)
}
