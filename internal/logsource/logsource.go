// Package logsource opens the target log a run is correlated against.
//
// Exactly one of a local file (optionally gzip compressed, optionally only
// its last lines), an S3 object or standard input is read. Lines are
// delivered without their terminators.
package logsource

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsCfgLib "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/clbanning/rfile/v2"
	"github.com/klauspost/compress/gzip"
	"github.com/mattn/go-isatty"
	"github.com/mitchellh/go-homedir"
	"github.com/rs/zerolog"
)

// maxLineSize bounds a single log line
const maxLineSize = 4 << 20

var (
	errNoSource    = errors.New("no log source given (use a file, an S3 URI or stdin)")
	errManySources = errors.New("only one log source may be given")
)

// Options selects and configures the log source
type Options struct {
	File  string
	S3URI string
	Stdin bool
	// Tail reads only the last N lines of File
	Tail int
	// Region of the S3 bucket; empty uses the default AWS configuration
	Region string
	// In replaces os.Stdin
	In io.Reader
	// Interactive makes reads from In cancellable; set automatically for terminals
	Interactive bool
	Logger zerolog.Logger
}

// Source yields log lines
type Source struct {
	name        string
	lines       []string
	r           io.Reader
	closers     []io.Closer
	interactive bool
}

// Open opens the source selected by opts
func Open(ctx context.Context, opts Options) (*Source, error) {
	n := 0
	for _, set := range []bool{opts.File != "", opts.S3URI != "", opts.Stdin} {
		if set {
			n++
		}
	}
	switch {
	case n == 0:
		return nil, errNoSource
	case n > 1:
		return nil, errManySources
	}

	switch {
	case opts.File != "":
		return openFile(opts)
	case opts.S3URI != "":
		return openS3(ctx, opts)
	default:
		return openStdin(opts)
	}
}

func openFile(opts Options) (*Source, error) {
	path, err := homedir.Expand(opts.File)
	if err != nil {
		return nil, fmt.Errorf("failed to expand %s: %w", opts.File, err)
	}

	if opts.Tail > 0 {
		lines, err := rfile.Tail(path, opts.Tail)
		if err != nil {
			return nil, fmt.Errorf("failed to read last %d lines of %s: %w", opts.Tail, path, err)
		}
		for i, l := range lines {
			lines[i] = strings.TrimRight(l, "\r\n")
		}
		return &Source{name: path, lines: lines}, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file: %w", err)
	}
	s := &Source{name: path, closers: []io.Closer{f}}
	if err := s.setReader(f); err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return s, nil
}

func openS3(ctx context.Context, opts Options) (*Source, error) {
	bucket, key, err := ParseS3URI(opts.S3URI)
	if err != nil {
		return nil, err
	}

	var loadOpts []func(*awsCfgLib.LoadOptions) error
	if opts.Region != "" {
		loadOpts = append(loadOpts, awsCfgLib.WithRegion(opts.Region))
	}
	awsCfg, err := awsCfgLib.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg)
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", opts.S3URI, err)
	}
	opts.Logger.Debug().Str("bucket", bucket).Str("key", key).Int64("size", aws.ToInt64(out.ContentLength)).Msg("Reading log from S3")

	s := &Source{name: opts.S3URI, closers: []io.Closer{out.Body}}
	if err := s.setReader(out.Body); err != nil {
		out.Body.Close()
		return nil, fmt.Errorf("failed to read %s: %w", opts.S3URI, err)
	}
	return s, nil
}

func openStdin(opts Options) (*Source, error) {
	in := opts.In
	interactive := opts.Interactive
	if in == nil {
		in = os.Stdin
		interactive = isatty.IsTerminal(os.Stdin.Fd()) || isatty.IsCygwinTerminal(os.Stdin.Fd())
	}
	s := &Source{name: "stdin", interactive: interactive}
	if interactive {
		// Peeking for a gzip header would block until the user types.
		s.r = in
		return s, nil
	}
	if err := s.setReader(in); err != nil {
		return nil, fmt.Errorf("failed to read stdin: %w", err)
	}
	return s, nil
}

// setReader wraps r with a gzip reader when the stream starts with the gzip magic
func (s *Source) setReader(r io.Reader) error {
	br := bufio.NewReader(r)
	magic, err := br.Peek(2)
	if err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if len(magic) == 2 && magic[0] == 0x1f && magic[1] == 0x8b {
		gz, err := gzip.NewReader(br)
		if err != nil {
			return fmt.Errorf("failed to open gzip stream: %w", err)
		}
		s.closers = append([]io.Closer{gz}, s.closers...)
		s.r = gz
		return nil
	}
	s.r = br
	return nil
}

// ParseS3URI splits s3://bucket/key
func ParseS3URI(uri string) (bucket, key string, err error) {
	rest, ok := strings.CutPrefix(uri, "s3://")
	if !ok {
		return "", "", fmt.Errorf("invalid S3 URI %q: missing s3:// scheme", uri)
	}
	bucket, key, _ = strings.Cut(rest, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("invalid S3 URI %q: expected s3://bucket/key", uri)
	}
	return bucket, key, nil
}

// Name describes the source
func (s *Source) Name() string {
	return s.name
}

// Interactive reports whether lines are typed by a user
func (s *Source) Interactive() bool {
	return s.interactive
}

// Each calls fn for every line until the input ends, fn fails or ctx is done.
// Cancellation returns ctx.Err().
func (s *Source) Each(ctx context.Context, fn func(line string) error) error {
	if s.r == nil {
		for _, line := range s.lines {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(line); err != nil {
				return err
			}
		}
		return nil
	}

	scanner := bufio.NewScanner(s.r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	if !s.interactive {
		for scanner.Scan() {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := fn(strings.TrimRight(scanner.Text(), "\r")); err != nil {
				return err
			}
		}
		return scanner.Err()
	}

	// A terminal read cannot be interrupted, so lines are scanned in the
	// background and the loop stops on cancellation.
	lines := make(chan string)
	done := make(chan error, 1)
	go func() {
		defer close(lines)
		for scanner.Scan() {
			select {
			case lines <- strings.TrimRight(scanner.Text(), "\r"):
			case <-ctx.Done():
				return
			}
		}
		done <- scanner.Err()
	}()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				select {
				case err := <-done:
					return err
				default:
					return ctx.Err()
				}
			}
			if err := fn(line); err != nil {
				return err
			}
		}
	}
}

// Close releases the source
func (s *Source) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
