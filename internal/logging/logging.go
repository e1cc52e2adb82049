// Package logging builds the process logger. It is created once at startup
// and injected into every component.
package logging

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/diode"
)

// ErrNoLogFile is returned by Tail when file logging is disabled.
var ErrNoLogFile = errors.New("file logging is not enabled")

// Config controls where and how much the service logs.
type Config struct {
	Level  string
	Pretty bool
	File   string
}

// New returns a logger that writes through a lossy ring buffer, so a slow
// sink drops lines instead of stalling a request. The returned func flushes
// and closes the sinks.
func New(cfg Config, out io.Writer) (zerolog.Logger, func() error, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}
	zerolog.TimeFieldFormat = time.RFC3339

	// Closing the logger must not close the caller's writer, usually stdout.
	out = keepOpen{out}
	var console io.Writer = out
	if cfg.Pretty {
		console = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}
	writers := []io.Writer{console}

	var file *os.File
	if cfg.File != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.File), 0o755); err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("create log dir: %w", err)
		}
		file, err = os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("open log file: %w", err)
		}
		writers = append(writers, file)
	}

	dw := diode.NewWriter(zerolog.MultiLevelWriter(writers...), 4096, 10*time.Millisecond, func(missed int) {
		fmt.Fprintf(os.Stderr, "logger dropped %d messages\n", missed)
	})

	logger := zerolog.New(dw).Level(level).With().Timestamp().Str("service", "libris").Logger()

	closer := func() error {
		err := dw.Close()
		if file != nil {
			// The multi writer may already have closed it.
			if cerr := file.Close(); err == nil && !errors.Is(cerr, os.ErrClosed) {
				err = cerr
			}
		}
		return err
	}
	return logger, closer, nil
}

// keepOpen hides any Close method of the wrapped writer.
type keepOpen struct{ io.Writer }

// Tail returns the last n lines of the log file.
func Tail(path string, n int) ([]string, error) {
	if path == "" {
		return nil, ErrNoLogFile
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	ring := make([]string, 0, n)
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		if len(ring) == n {
			ring = ring[1:]
		}
		ring = append(ring, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read log file: %w", err)
	}
	return ring, nil
}
