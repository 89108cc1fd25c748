// Package logging configures the global zerolog logger for the CLI.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

// Log formats
const (
	FormatConsole = "console"
	FormatJSON    = "json"
)

// Options controls logger setup
type Options struct {
	Format string // console or json
	Debug  bool
	Quiet  bool      // only warnings and errors
	Writer io.Writer // defaults to os.Stderr
}

// Setup replaces the global logger. Console output is coloured only when the
// writer is a terminal.
func Setup(opts Options) error {
	logger, err := New(opts)
	if err != nil {
		return err
	}
	log.Logger = logger
	zerolog.SetGlobalLevel(level(opts))
	return nil
}

// New builds a logger without touching global state
func New(opts Options) (zerolog.Logger, error) {
	w := opts.Writer
	if w == nil {
		w = os.Stderr
	}

	switch strings.ToLower(opts.Format) {
	case FormatConsole, "":
		zerolog.TimeFieldFormat = time.RFC3339
		console := zerolog.ConsoleWriter{
			Out:        w,
			NoColor:    !isTerminal(w),
			TimeFormat: "15:04:05",
		}
		return zerolog.New(console).Level(level(opts)).With().Timestamp().Logger(), nil

	case FormatJSON:
		zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
		return zerolog.New(w).Level(level(opts)).With().Timestamp().Logger(), nil

	default:
		return zerolog.Nop(), fmt.Errorf("invalid log format: %s (valid: console, json)", opts.Format)
	}
}

func level(opts Options) zerolog.Level {
	switch {
	case opts.Debug:
		return zerolog.DebugLevel
	case opts.Quiet:
		return zerolog.WarnLevel
	default:
		return zerolog.InfoLevel
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
