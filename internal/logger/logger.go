package logger

import (
	"io"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Setup initializes the global zerolog logger.
//   - level: trace, debug, info, warn, error, fatal, panic
//   - format: "json" for production, "pretty" for human-readable dev output
func Setup(level, format string) zerolog.Logger {
	var writer io.Writer = os.Stdout
	if format == "pretty" {
		writer = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}

	lvl, err := zerolog.ParseLevel(level)
	if err != nil {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.DurationFieldUnit = time.Millisecond

	return zerolog.New(writer).
		With().
		Timestamp().
		Caller().
		Logger()
}

// Session returns a child logger tagged with the identifiers of one attempt.
func Session(log zerolog.Logger, sessionID, assessmentID uuid.UUID, studentID int) zerolog.Logger {
	return log.With().
		Str("session_id", sessionID.String()).
		Str("assessment_id", assessmentID.String()).
		Int("student_id", studentID).
		Logger()
}
