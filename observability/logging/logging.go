package logging

import (
	"io"
	"log"
	"log/slog"
	"os"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls the process logger. When FilePath is set, log lines are
// mirrored to a size-rotated file in addition to stdout.
type Options struct {
	Service    string
	Env        string
	FilePath   string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// Setup installs a JSON slog logger as the process default and returns it.
// Standard keys are renamed (timestamp/severity/message) for the log pipeline
// and every line carries the service name, plus the environment when set.
func Setup(opts Options) *slog.Logger {
	handler := slog.NewJSONHandler(opts.writer(), &slog.HandlerOptions{
		ReplaceAttr: renameStandardKeys,
	})

	base := slog.New(handler).With(slog.String("service", strings.TrimSpace(opts.Service)))
	if env := strings.TrimSpace(opts.Env); env != "" {
		base = base.With(slog.String("env", env))
	}

	slog.SetDefault(base)
	redirectStdLog(base)
	return base
}

// writer selects stdout alone or stdout plus a rotating file.
func (o Options) writer() io.Writer {
	path := strings.TrimSpace(o.FilePath)
	if path == "" {
		return os.Stdout
	}
	return io.MultiWriter(os.Stdout, &lumberjack.Logger{
		Filename:   path,
		MaxSize:    o.MaxSizeMB,
		MaxBackups: o.MaxBackups,
		MaxAge:     o.MaxAgeDays,
	})
}

func renameStandardKeys(_ []string, attr slog.Attr) slog.Attr {
	switch attr.Key {
	case slog.TimeKey:
		attr.Key = "timestamp"
	case slog.LevelKey:
		return slog.String("severity", strings.ToUpper(attr.Value.String()))
	case slog.MessageKey:
		attr.Key = "message"
	}
	return attr
}

// redirectStdLog points the global log package at the structured handler so
// third-party code logging through it lands in the same stream.
func redirectStdLog(base *slog.Logger) {
	bridge := slog.NewLogLogger(base.Handler(), slog.LevelInfo)
	bridge.SetFlags(0)
	log.SetFlags(0)
	log.SetPrefix("")
	log.SetOutput(bridge.Writer())
}
