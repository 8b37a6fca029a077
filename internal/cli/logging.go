package cli

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"github.com/vietddude/stylelog"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/vietddude/fleetcall/internal/core/config"
)

func parseLevel(level string, debug bool) (slog.Level, error) {
	if debug {
		return slog.LevelDebug, nil
	}
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid logging.level %q", level)
	}
	return l, nil
}

// setupLogging installs the default logger. Console output goes through
// stylelog; when logging.file is set, records are written to a rotating
// file instead.
func setupLogging(cfg config.LoggingConfig, debug bool) error {
	level, err := parseLevel(cfg.Level, debug)
	if err != nil {
		stylelog.InitDefault()
		return err
	}

	if cfg.File == "" {
		stylelog.InitDefault(&tint.Options{
			Level:      level,
			TimeFormat: time.RFC3339,
		})
		return nil
	}

	w := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		Compress:   true,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	} else {
		handler = tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.RFC3339,
			NoColor:    true,
		})
	}
	slog.SetDefault(slog.New(handler))
	return nil
}
