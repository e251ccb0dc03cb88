package config

import (
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// SetupLogger builds the service logger: JSON on stdout, or a console writer
// when format is "console".
func (l LogConfig) SetupLogger(version string) zerolog.Logger {
	return l.NewLogger(os.Stdout, version)
}

// NewLogger builds a logger writing to w.
func (l LogConfig) NewLogger(w io.Writer, version string) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	if strings.EqualFold(l.Format, "console") {
		w = zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	}

	logger := zerolog.New(w).With().
		Timestamp().
		Str("service", "stylequeue").
		Str("version", version).
		Logger()

	level, err := zerolog.ParseLevel(strings.ToLower(l.Level))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	return logger.Level(level)
}
