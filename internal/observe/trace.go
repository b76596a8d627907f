package observe

import (
	"context"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// tracerName is the instrumentation scope name for the livevoice tracer.
const tracerName = "github.com/MrWong99/livevoice"

// Span attribute keys identifying a voice session.
const (
	AttrSessionID = attribute.Key("session.id")
	AttrProvider  = attribute.Key("provider")
)

type sessionKey struct{}

type sessionInfo struct {
	id       string
	provider string
}

// WithSession returns a copy of ctx tagged with a session ID and the name of
// the provider serving it. Spans started by [StartSpan] and loggers returned
// by [Logger] for the derived context carry both values. Empty values are
// left out.
func WithSession(ctx context.Context, id, provider string) context.Context {
	return context.WithValue(ctx, sessionKey{}, sessionInfo{id: id, provider: provider})
}

// SessionFromContext returns the session ID and provider stored by
// [WithSession]. ok is false when ctx carries no session.
func SessionFromContext(ctx context.Context) (id, provider string, ok bool) {
	info, ok := ctx.Value(sessionKey{}).(sessionInfo)
	return info.id, info.provider, ok
}

// Tracer returns the livevoice [trace.Tracer] from the globally registered
// [trace.TracerProvider].
func Tracer() trace.Tracer {
	return otel.Tracer(tracerName)
}

// StartSpan starts a span named name. When ctx carries a session, the span
// is tagged with [AttrSessionID] and [AttrProvider]. The caller must call
// span.End().
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	if attrs := sessionAttrs(ctx); len(attrs) > 0 {
		opts = append(opts, trace.WithAttributes(attrs...))
	}
	return Tracer().Start(ctx, name, opts...)
}

func sessionAttrs(ctx context.Context) []attribute.KeyValue {
	id, provider, ok := SessionFromContext(ctx)
	if !ok {
		return nil
	}
	var attrs []attribute.KeyValue
	if id != "" {
		attrs = append(attrs, AttrSessionID.String(id))
	}
	if provider != "" {
		attrs = append(attrs, AttrProvider.String(provider))
	}
	return attrs
}

// CorrelationID returns the trace ID of the span in ctx, or "".
func CorrelationID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if sc.HasTraceID() {
		return sc.TraceID().String()
	}
	return ""
}

// Logger returns the default logger enriched with session_id and provider
// when ctx carries a session, and with trace_id and span_id when ctx holds
// a valid span.
func Logger(ctx context.Context) *slog.Logger {
	var args []any
	if id, provider, ok := SessionFromContext(ctx); ok {
		if id != "" {
			args = append(args, slog.String("session_id", id))
		}
		if provider != "" {
			args = append(args, slog.String("provider", provider))
		}
	}
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		args = append(args,
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	l := slog.Default()
	if len(args) > 0 {
		l = l.With(args...)
	}
	return l
}
