// Package logtrace initialises the global zerolog logger for gateway
// processes and tests.
package logtrace

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// InitLogger configures the global logger: stderr sink, unix timestamps.
func InitLogger() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
}

// InitTestLogger silences the global logger for test runs.
func InitTestLogger() {
	log.Logger = zerolog.Nop()
}
