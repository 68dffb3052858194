package observability

import (
	"os"
	"time"

	"github.com/rs/zerolog"
)

// InitLogger returns a console logger tagged with the component name. The
// process-wide logger is configured separately by internal/logging; this
// one is for subsystems that log through their own writer.
func InitLogger(component string) zerolog.Logger {
	output := zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.RFC3339,
	}
	return zerolog.New(output).With().Timestamp().Str("component", component).Logger()
}
