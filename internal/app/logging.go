package app

import (
	"io"
	"log/slog"
	"time"

	"github.com/lmittmann/tint"

	"github.com/markdave123-py/Extracta/internal/config"
	"github.com/markdave123-py/Extracta/internal/core/errs"
)

// NewLogger builds the process logger: tint for terminals, JSON when
// LOG_FORMAT=json.
func NewLogger(cfg *config.Config, w io.Writer) *slog.Logger {
	if cfg.LogJSON {
		return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	}
	return slog.New(tint.NewHandler(w, &tint.Options{
		Level:      cfg.SlogLevel(),
		TimeFormat: time.RFC3339,
	}))
}

// SetupLogging installs logger as the slog default and as the error
// taxonomy's logger.
func SetupLogging(logger *slog.Logger) {
	slog.SetDefault(logger)
	errs.SetLogger(logger)
}
