package observers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

// Log reports each event through slog.
type Log struct {
	key    string
	level  slog.Level
	logger *slog.Logger
}

// ParseLevel converts a level name to a slog.Level. Empty means info.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %q", name)
	}
}

// NewLog creates a log observer identified by key.
func NewLog(key string, level slog.Level, logger *slog.Logger) *Log {
	if logger == nil {
		logger = slog.Default()
	}
	return &Log{key: key, level: level, logger: logger}
}

func (l *Log) OnFileCreate(path string) error {
	l.emit("file created", slog.String("path", path))
	return nil
}

func (l *Log) OnFileDelete(path string) error {
	l.emit("file deleted", slog.String("path", path))
	return nil
}

func (l *Log) OnFileRename(oldPath, newPath string) error {
	l.emit("file renamed", slog.String("old_path", oldPath), slog.String("path", newPath))
	return nil
}

func (l *Log) emit(msg string, attrs ...slog.Attr) {
	attrs = append(attrs, slog.String("observer", l.key))
	l.logger.LogAttrs(context.Background(), l.level, msg, attrs...)
}
