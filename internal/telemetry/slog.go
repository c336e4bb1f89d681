package telemetry

import (
	"log/slog"
	"os"
	"strings"
)

// parseLevel maps a config string to a slog level, defaulting to info so a
// typo in config never silences the log.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// SetupLogger installs the process-wide slog default from config. format
// "json" selects the JSON handler for production ingestion; anything else
// falls back to the text handler for local reading. Source locations are
// attached only at debug level. Installing the default means audit, gate,
// and sweep code can call slog.Info directly without threading a logger —
// handlers that want one still receive it explicitly.
func SetupLogger(format, level string) {
	lvl := parseLevel(level)
	opts := &slog.HandlerOptions{
		Level:     lvl,
		AddSource: lvl == slog.LevelDebug,
	}

	var handler slog.Handler
	if strings.ToLower(format) == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialised", "format", format, "level", lvl.String())
}
