package logging

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	zlog "github.com/rs/zerolog/log"
)

// Options configures the process logger
type Options struct {
	Level  string
	Pretty bool
	// Writer defaults to stderr so stdout stays free for reports
	Writer io.Writer
}

// Init sets the global level and logger and returns the logger.
// An unknown level falls back to info.
func Init(opts Options) zerolog.Logger {
	level := zerolog.InfoLevel
	if l, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(opts.Level))); err == nil && opts.Level != "" {
		level = l
	}
	zerolog.SetGlobalLevel(level)

	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}
	if opts.Pretty {
		w = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: "15:04:05",
		}
	}

	logger := zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Logger()

	zlog.Logger = logger
	return logger
}
