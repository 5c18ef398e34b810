package observability

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// InitLogger builds the process logger and installs it as the fallback
// for log.Ctx on contexts that carry no logger.
func InitLogger(level, service string, output io.Writer) zerolog.Logger {
	if output == nil {
		output = os.Stdout
	}

	zerolog.TimeFieldFormat = time.RFC3339Nano
	zerolog.DurationFieldUnit = time.Millisecond

	logger := zerolog.New(output).
		Level(parseLogLevel(level)).
		With().
		Timestamp().
		Str("service", service).
		Caller().
		Logger()

	zerolog.DefaultContextLogger = &logger
	return logger
}

func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}
