// Package log configures the process-wide zerolog logger shared by every
// abc-pipeline daemon.
package log

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/term"
)

// Setup installs the global zerolog logger. When stderr is a terminal it
// uses zerolog's human-readable console writer; otherwise plain JSON, which
// is what a supervised daemon or log-shipping pipeline expects.
//
// When extraFilePath is non-empty, log output is also appended to that
// file in plain JSON, independent of the console writer choice. The
// fetcher uses this to write to the path the dispatcher's log scanner
// tails for DNS-resolution failures.
func Setup(component, level, extraFilePath string) error {
	zerolog.TimeFieldFormat = time.RFC3339

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	var consoleWriter io.Writer = os.Stderr
	if term.IsTerminal(int(os.Stderr.Fd())) {
		consoleWriter = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}
	}

	writer := consoleWriter
	if extraFilePath != "" {
		f, err := os.OpenFile(extraFilePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file %s: %w", extraFilePath, err)
		}
		writer = zerolog.MultiLevelWriter(consoleWriter, f)
	}

	log.Logger = zerolog.New(writer).With().Timestamp().Str("component", component).Logger()
	return nil
}
