package logger

import (
	"log/slog"
	"os"
)

// Log is the global logger. Package-level helpers fall back to a text
// handler when Setup has not run, so repository and service tests can
// log without wiring.
var Log = slog.New(slog.NewTextHandler(os.Stdout, nil))

// Setup configures the global logger for the environment. Production
// emits JSON with a service attribute for the log aggregator; every
// other environment gets human-readable text, with debug level in
// development.
func Setup(env string) {
	level := slog.LevelInfo
	if env == "development" {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}

	if env == "production" {
		Log = slog.New(slog.NewJSONHandler(os.Stdout, opts)).With(
			slog.String("service", "billing-api"),
		)
	} else {
		Log = slog.New(slog.NewTextHandler(os.Stdout, opts))
	}
	slog.SetDefault(Log)
}

func Info(msg string, args ...any) {
	Log.Info(msg, args...)
}

func Error(msg string, args ...any) {
	Log.Error(msg, args...)
}

func Debug(msg string, args ...any) {
	Log.Debug(msg, args...)
}

func Warn(msg string, args ...any) {
	Log.Warn(msg, args...)
}
