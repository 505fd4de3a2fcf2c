package logger

import (
	"os"

	"github.com/rs/zerolog"
)

// New builds the process logger. The level starts at info; SetLevel applies
// the configured level once config has been loaded, since loading config
// itself needs a logger.
func New() zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	return zerolog.New(os.Stdout).
		With().
		Timestamp().
		Caller().
		Logger()
}

// SetLevel applies the named level process-wide. An empty or unknown name
// keeps the current level.
func SetLevel(logger zerolog.Logger, name string) {
	if name == "" {
		return
	}
	level, err := zerolog.ParseLevel(name)
	if err != nil {
		logger.Warn().Str("level", name).Msg("unknown log level, keeping current level")
		return
	}
	zerolog.SetGlobalLevel(level)
}
