package cli

import (
	"io"
	"log/slog"
)

// setupLogging installs a text handler on w as the default logger:
// Debug level under --verbose, Info otherwise.
func setupLogging(verbose bool, w io.Writer) *slog.Logger {
	logLevel := slog.LevelInfo
	if verbose {
		logLevel = slog.LevelDebug
	}
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: logLevel,
	})
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}
