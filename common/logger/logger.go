package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
	"go.opentelemetry.io/contrib/bridges/otelslog"
	"go.opentelemetry.io/otel/log/global"
	"go.opentelemetry.io/otel/trace"

	"vidrelay.app/relay/core/config"
)

// Setup installs the default slog logger. The returned closer releases the
// daily log file and is a no-op when LOG_DIR is empty.
func Setup(cfg config.Config) (io.Closer, error) {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}
	if cfg.IsDevelopment() {
		opts.Level = slog.LevelDebug
	}
	if cfg.Log.Level != "" {
		opts.Level = ParseLevel(cfg.Log.Level)
	}

	var out io.Writer = os.Stdout
	var closer io.Closer = nopCloser{}
	if cfg.Log.Dir != "" {
		file, err := NewDailyFile(cfg.Log.Dir, "forwarder")
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		out = io.MultiWriter(os.Stdout, file)
		closer = file
	}

	switch {
	case cfg.IsProduction() && cfg.OTel.Enabled():
		// Records still reach stdout and the daily file when exported.
		exported := otelslog.NewHandler(
			cfg.OTel.ServiceName,
			otelslog.WithLoggerProvider(global.GetLoggerProvider()),
		)
		handler = NewTraceHandler(slogmulti.Fanout(
			slog.NewJSONHandler(out, opts),
			&levelHandler{Handler: exported, level: opts.Level},
		))
	case cfg.IsProduction():
		handler = NewTraceHandler(slog.NewJSONHandler(out, opts))
	default:
		handler = NewTraceHandler(slog.NewTextHandler(out, opts))
	}

	slog.SetDefault(slog.New(handler))
	return closer, nil
}

// ParseLevel maps LOG_LEVEL names to slog levels. Unknown names map to INFO.
func ParseLevel(name string) slog.Level {
	switch name {
	case "DEBUG":
		return slog.LevelDebug
	case "WARN", "WARNING":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// levelHandler applies LOG_LEVEL to handlers that have no level option.
type levelHandler struct {
	slog.Handler
	level slog.Leveler
}

func (h *levelHandler) Enabled(ctx context.Context, l slog.Level) bool {
	return l >= h.level.Level() && h.Handler.Enabled(ctx, l)
}

func (h *levelHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelHandler{Handler: h.Handler.WithAttrs(attrs), level: h.level}
}

func (h *levelHandler) WithGroup(name string) slog.Handler {
	return &levelHandler{Handler: h.Handler.WithGroup(name), level: h.level}
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

type TraceHandler struct {
	slog.Handler
}

func NewTraceHandler(h slog.Handler) *TraceHandler {
	return &TraceHandler{Handler: h}
}

func (h *TraceHandler) Handle(ctx context.Context, r slog.Record) error {
	if span := trace.SpanFromContext(ctx); span.SpanContext().IsValid() {
		sc := span.SpanContext()
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}

	fields := GetLogFields(ctx)
	if fields.DeliveryID != nil {
		r.AddAttrs(slog.Int64("delivery_id", *fields.DeliveryID))
	}
	if fields.MessageID != nil {
		r.AddAttrs(slog.Int("message_id", *fields.MessageID))
	}
	if fields.SourceID != nil {
		r.AddAttrs(slog.Int64("source_id", *fields.SourceID))
	}
	if fields.MediaKind != nil {
		r.AddAttrs(slog.String("media_kind", *fields.MediaKind))
	}
	if fields.Component != "" {
		r.AddAttrs(slog.String("component", fields.Component))
	}

	return h.Handler.Handle(ctx, r)
}

func (h *TraceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &TraceHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *TraceHandler) WithGroup(name string) slog.Handler {
	return &TraceHandler{Handler: h.Handler.WithGroup(name)}
}
