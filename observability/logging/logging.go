package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options tune the handler installed by SetupWithOptions.
type Options struct {
	Level slog.Level
	// File, when set, receives a copy of every line and is rotated once it
	// grows past MaxSizeMB.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	// Output overrides stdout, mostly for tests.
	Output io.Writer
}

// Setup configures the standard library logger to emit structured JSON and returns
// the underlying slog.Logger for richer logging within the service. All log lines
// include the service name and environment when provided.
func Setup(service, env string) *slog.Logger {
	logger, _ := SetupWithOptions(service, env, Options{})
	return logger
}

// SetupWithOptions behaves like Setup and additionally tees to a rotating
// file. The returned closer flushes and closes the file.
func SetupWithOptions(service, env string, opts Options) (*slog.Logger, io.Closer) {
	var out io.Writer = os.Stdout
	if opts.Output != nil {
		out = opts.Output
	}
	var closer io.Closer = nopCloser{}
	if file := strings.TrimSpace(opts.File); file != "" {
		rotating := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    positive(opts.MaxSizeMB, 100),
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
			Compress:   true,
		}
		out = io.MultiWriter(out, rotating)
		closer = rotating
	}

	handler := slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: opts.Level,
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			if len(groups) > 0 {
				return attr
			}
			switch attr.Key {
			case slog.TimeKey:
				return slog.Attr{Key: "timestamp", Value: attr.Value}
			case slog.LevelKey:
				return slog.String("severity", strings.ToUpper(attr.Value.String()))
			case slog.MessageKey:
				return slog.Attr{Key: "message", Value: attr.Value}
			}
			return attr
		},
	})

	attrs := []slog.Attr{slog.String("service", strings.TrimSpace(service))}
	if env = strings.TrimSpace(env); env != "" {
		attrs = append(attrs, slog.String("env", env))
	}
	scoped := handler.WithAttrs(attrs)
	base := slog.New(scoped)
	slog.SetDefault(base)

	// Bridge the standard library logger so existing packages continue to work.
	stdBridge := slog.NewLogLogger(scoped, slog.LevelInfo)
	stdBridge.SetFlags(0)
	log.SetOutput(stdBridge.Writer())
	log.SetFlags(0)
	log.SetPrefix("")

	return base, closer
}

// ParseLevel maps debug, info, warn and error onto slog levels. Unknown
// values fall back to info.
func ParseLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
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

func positive(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
