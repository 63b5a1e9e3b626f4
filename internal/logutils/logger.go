package logutils

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"
)

// ConsoleTimeFormat matches the timestamps of human readable log lines.
const ConsoleTimeFormat = "01/02/2006 15:04:05"

// New returns a timestamped logger. Logs go to file when set, otherwise to
// stdout. console switches from JSON lines to human readable lines.
//
// The level parameter can be one of: debug, info, warn, error, fatal.
func New(level, file string, console bool) (zerolog.Logger, func(), error) {
	closer := func() {}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		return zerolog.Logger{}, closer, err
	}

	var writer io.Writer = os.Stdout
	if file != "" {
		if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
			return zerolog.Logger{}, closer, fmt.Errorf("create logs dir: %w", err)
		}

		osFile, err := os.OpenFile(file, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return zerolog.Logger{}, closer, err
		}
		closer = func() { _ = osFile.Close() }
		writer = osFile
	}

	if console {
		writer = zerolog.ConsoleWriter{
			Out:        writer,
			NoColor:    file != "",
			TimeFormat: ConsoleTimeFormat,
		}
	}

	l := zerolog.New(writer).
		With().
		Timestamp().
		Logger().
		Level(lvl)

	return l, closer, nil
}
