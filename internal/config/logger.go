package config

import (
	"io"
	"log/slog"
	"os"

	"github.com/go-faster/errors"

	"github.com/wilsonzlin/aero/proxy/udp-relay/internal/applog"
)

// NewLogHandler builds a handler for w in the configured format.
func NewLogHandler(w io.Writer, format LogFormat, level slog.Leveler) (slog.Handler, error) {
	opts := &slog.HandlerOptions{
		Level:       level,
		ReplaceAttr: applog.ReplaceLevelAttr,
	}
	switch format {
	case LogFormatText:
		return slog.NewTextHandler(w, opts), nil
	case LogFormatJSON:
		return slog.NewJSONHandler(w, opts), nil
	default:
		return nil, errors.Errorf("unsupported log format %q", format)
	}
}

// NewLogger builds the process logger. It always writes to stdout, appends to
// cfg.LogFile when set, and also feeds any extra handlers. The returned closer
// releases the log file.
func NewLogger(cfg Config, extra ...slog.Handler) (*slog.Logger, io.Closer, error) {
	return NewLoggerTo(os.Stdout, cfg, extra...)
}

// NewLoggerTo is NewLogger with the console sink replaced by stdout.
func NewLoggerTo(stdout io.Writer, cfg Config, extra ...slog.Handler) (*slog.Logger, io.Closer, error) {
	stdoutHandler, err := NewLogHandler(stdout, cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		return nil, nil, err
	}
	handlers := []slog.Handler{stdoutHandler}

	var closer io.Closer = nopCloser{}
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, errors.Wrap(err, "open log file")
		}
		fileHandler, err := NewLogHandler(f, cfg.LogFormat, cfg.LogLevel)
		if err != nil {
			_ = f.Close()
			return nil, nil, err
		}
		handlers = append(handlers, fileHandler)
		closer = f
	}

	handlers = append(handlers, extra...)
	return slog.New(applog.NewFanoutHandler(handlers...)), closer, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
