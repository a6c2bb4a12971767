package logutil

import (
	"os"

	"cloud.google.com/go/compute/metadata"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// ConfigureLogger sets up the global logger. On GCE it emits JSON with a
// severity field, elsewhere a human readable console output.
func ConfigureLogger(level zerolog.Level) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(level)
	log.Logger = log.With().Caller().Stack().Logger()
	if metadata.OnGCE() {
		log.Logger = log.Hook(SeverityHook{})
	} else {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}
}

// ParseLevel returns the level named by s, or info when s is empty or unknown.
func ParseLevel(s string) zerolog.Level {
	level, err := zerolog.ParseLevel(s)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}

type SeverityHook struct{}

func (h SeverityHook) Run(e *zerolog.Event, level zerolog.Level, _ string) {
	e.Str("severity", level.String())
}
