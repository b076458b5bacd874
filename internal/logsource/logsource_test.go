package logsource

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, s *Source) []string {
	t.Helper()
	var lines []string
	require.NoError(t, s.Each(context.Background(), func(line string) error {
		lines = append(lines, line)
		return nil
	}))
	return lines
}

func TestOpenRequiresExactlyOneSource(t *testing.T) {
	_, err := Open(context.Background(), Options{})
	assert.ErrorIs(t, err, errNoSource)

	_, err = Open(context.Background(), Options{File: "a", Stdin: true})
	assert.ErrorIs(t, err, errManySources)
}

func TestPlainFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "error.log")
	require.NoError(t, os.WriteFile(path, []byte("one\r\ntwo\n\nthree"), 0644))

	s, err := Open(context.Background(), Options{File: path, Logger: zerolog.Nop()})
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, path, s.Name())
	assert.Equal(t, []string{"one", "two", "", "three"}, collect(t, s))
}

func TestGzipFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "error.log.gz")
	f, err := os.Create(path)
	require.NoError(t, err)
	gz := gzip.NewWriter(f)
	_, err = io.WriteString(gz, "alpha\nbeta\n")
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	require.NoError(t, f.Close())

	s, err := Open(context.Background(), Options{File: path})
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, []string{"alpha", "beta"}, collect(t, s))
}

func TestTail(t *testing.T) {
	path := filepath.Join(t.TempDir(), "error.log")
	require.NoError(t, os.WriteFile(path, []byte("1\n2\n3\n4\n5\n"), 0644))

	s, err := Open(context.Background(), Options{File: path, Tail: 2})
	require.NoError(t, err)
	defer s.Close()

	lines := collect(t, s)
	assert.Len(t, lines, 2)
	assert.ElementsMatch(t, []string{"4", "5"}, lines)
}

func TestMissingFile(t *testing.T) {
	_, err := Open(context.Background(), Options{File: filepath.Join(t.TempDir(), "nope.log")})
	assert.Error(t, err)
}

func TestStdinReader(t *testing.T) {
	s, err := Open(context.Background(), Options{Stdin: true, In: strings.NewReader("x\ny\n")})
	require.NoError(t, err)
	assert.Equal(t, "stdin", s.Name())
	assert.Equal(t, []string{"x", "y"}, collect(t, s))
}

func TestInteractiveCancel(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	s, err := Open(context.Background(), Options{Stdin: true, In: pr, Interactive: true})
	require.NoError(t, err)
	require.True(t, s.Interactive())

	ctx, cancel := context.WithCancel(context.Background())
	got := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Each(ctx, func(line string) error {
			got <- line
			return nil
		})
	}()

	_, err = io.WriteString(pw, "typed\n")
	require.NoError(t, err)
	assert.Equal(t, "typed", <-got)

	cancel()
	select {
	case err := <-errCh:
		assert.True(t, errors.Is(err, context.Canceled))
	case <-time.After(5 * time.Second):
		t.Fatal("Each did not return after cancellation")
	}
}

func TestEachStopsOnHandlerError(t *testing.T) {
	s, err := Open(context.Background(), Options{Stdin: true, In: strings.NewReader("a\nb\n")})
	require.NoError(t, err)

	stop := errors.New("stop")
	err = s.Each(context.Background(), func(string) error { return stop })
	assert.ErrorIs(t, err, stop)
}

func TestParseS3URI(t *testing.T) {
	bucket, key, err := ParseS3URI("s3://logs/waf/2024/error.log.gz")
	require.NoError(t, err)
	assert.Equal(t, "logs", bucket)
	assert.Equal(t, "waf/2024/error.log.gz", key)

	for _, bad := range []string{"logs/error.log", "s3://logs", "s3:///key", "s3://logs/"} {
		_, _, err := ParseS3URI(bad)
		assert.Error(t, err, bad)
	}
}
