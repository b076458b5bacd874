// Package runner spawns wb and pumps its combined output line by line.
package runner

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"

	"github.com/alessio/shellescape"
	"github.com/rs/zerolog"
)

// SearchPaths are tried in order when no wb path is configured
var SearchPaths = []string{"./wb", "../wb/wb", "/bin/wb", "/usr/bin/wb"}

// ErrNotFound is returned when wb cannot be located
var ErrNotFound = errors.New("wb cannot be found")

// ExitError is returned when wb exits with a non-zero status
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("wb exited with status %d", e.Code)
}

// LineHandler receives every output line, newline included
type LineHandler func(line string) error

// Options configures a wb run
type Options struct {
	// Path to wb; empty searches SearchPaths then $PATH
	Path       string
	PacketFile string
	Server     string
	// ExtraArgs are inserted before the server argument
	ExtraArgs []string
	// Echo receives a copy of every line when set
	Echo   io.Writer
	Logger zerolog.Logger
}

// Resolve returns the wb executable to run
func Resolve(path string) (string, error) {
	if path != "" {
		return path, nil
	}
	for _, p := range SearchPaths {
		if info, err := os.Stat(p); err == nil && !info.IsDir() {
			return p, nil
		}
	}
	if p, err := exec.LookPath("wb"); err == nil {
		return p, nil
	}
	return "", ErrNotFound
}

// Args returns the wb argument list (without the executable)
func Args(opts Options) []string {
	args := []string{"-F", opts.PacketFile, "-v", "4", "-n", "1", "-c", "1", "-r", "-o", "/dev/null"}
	args = append(args, opts.ExtraArgs...)
	return append(args, opts.Server)
}

// Run starts wb and passes each line of its stdout and stderr to handle.
// A handler error stops wb and is returned.
func Run(ctx context.Context, opts Options, handle LineHandler) error {
	path, err := Resolve(opts.Path)
	if err != nil {
		return err
	}
	return run(ctx, path, Args(opts), opts, handle)
}

func run(ctx context.Context, path string, args []string, opts Options, handle LineHandler) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cmd := exec.CommandContext(ctx, path, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open wb output: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	opts.Logger.Info().Str("command", shellescape.QuoteCommand(append([]string{path}, args...))).Msg("Starting wb")
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start wb: %w", err)
	}

	handleErr := Pump(stdout, opts.Echo, handle)
	if handleErr != nil {
		cancel()
		// Drain so wb is not blocked on a full pipe while it is being killed.
		_, _ = io.Copy(io.Discard, stdout)
	}

	waitErr := cmd.Wait()
	if handleErr != nil {
		return handleErr
	}

	var exitErr *exec.ExitError
	if errors.As(waitErr, &exitErr) {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return &ExitError{Code: exitErr.ExitCode()}
	}
	if waitErr != nil {
		return fmt.Errorf("failed to wait for wb: %w", waitErr)
	}
	return nil
}

// Pump reads r line by line, keeping line terminators, copying each line to
// echo when set and passing it to handle. A trailing line without newline is
// delivered as well.
func Pump(r io.Reader, echo io.Writer, handle LineHandler) error {
	br := bufio.NewReader(r)
	for {
		line, err := br.ReadString('\n')
		if line != "" {
			if echo != nil {
				_, _ = io.WriteString(echo, line)
			}
			if herr := handle(line); herr != nil {
				return herr
			}
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if errors.Is(err, os.ErrClosed) {
				return nil
			}
			return fmt.Errorf("failed to read wb output: %w", err)
		}
	}
}
