package throw

import (
	"log/slog"

	"github.com/bassosimone/errclass"
)

// Logger is the interface for structured logging.
// *slog.Logger satisfies it.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

func defaultLogger() Logger {
	return slog.Default()
}

// errorArgs returns the key-value pairs logged alongside a teardown cause.
// The error is logged as its message so handlers that format with %+v stay
// on one line.
func errorArgs(err error) []any {
	if err == nil {
		return nil
	}
	return []any{"error", err.Error(), "err_class", errclass.New(err)}
}
