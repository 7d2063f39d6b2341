package testutils

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// NewTestLogger creates a zerolog.Logger that writes to the test's log, so output only shows for failing or verbose runs.
func NewTestLogger(t testing.TB) zerolog.Logger {
	w := zerolog.NewConsoleWriter(zerolog.ConsoleTestWriter(t), func(w *zerolog.ConsoleWriter) {
		w.NoColor = true
		w.TimeFormat = time.RFC3339
	})
	return zerolog.New(w).With().Timestamp().Caller().Logger()
}
