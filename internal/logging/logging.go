package logging

import (
	"log/slog"
	"os"
	"strings"
)

// Init installs the default slog logger. LOG_LEVEL wins over the configured
// level so a single run can be made verbose without editing the config file.
func Init(configured string) {
	name := configured
	if l, ok := os.LookupEnv("LOG_LEVEL"); ok && l != "" {
		name = l
	}

	logger := slog.New(
		slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: ParseLevel(name),
		}),
	)
	slog.SetDefault(logger)
}

// ParseLevel maps a level name to a slog level. Unknown names fall back to
// error, the production default.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "dev", "development", "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}
