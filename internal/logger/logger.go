// Package logger configures JSON structured logging for the service.
package logger

import (
	"io"
	"log/slog"
	"os"
)

func Setup(w io.Writer) *slog.Logger {
	if w == nil {
		w = os.Stdout
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	return slog.New(handler)
}
