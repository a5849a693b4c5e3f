package duplex

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/duplexbus/duplex/registry"
)

// LocalChannel is the in-process channel of the bus: one handler registry
// with fully synchronous dispatch. Emit does not return until every
// matching handler has run, in attachment order.
type LocalChannel struct {
	reg            *registry.Registry
	logger         *slog.Logger
	tracingEnabled bool

	emitted metric.Int64Counter
	handled metric.Int64Counter
}

func newLocal(camelCase bool, logger *slog.Logger, metricsEnabled, tracingEnabled bool) *LocalChannel {
	l := &LocalChannel{
		reg:            registry.New(camelCase),
		logger:         logger.With("channel", "local"),
		tracingEnabled: tracingEnabled,
	}
	if metricsEnabled {
		meter := otel.Meter("duplex.local")
		l.emitted, _ = meter.Int64Counter("duplex.local.emitted",
			metric.WithDescription("Events emitted on the local channel"))
		l.handled, _ = meter.Int64Counter("duplex.local.handled",
			metric.WithDescription("Local emits that matched at least one handler"))
	}
	return l
}

// Attach registers a handler for the identifier.
func (l *LocalChannel) Attach(id string, fn Handler, sub any) {
	l.reg.Attach(id, fn, sub)
}

// AttachOnce registers a single-use handler for the identifier. The entry
// removes itself from this channel after its first invocation.
func (l *LocalChannel) AttachOnce(id string, fn Handler, sub any) {
	l.reg.AttachOnce(id, fn, sub)
}

// ClearAll removes every registered handler.
func (l *LocalChannel) ClearAll() {
	l.reg.ClearAll()
}

// ClearIdentifier removes every handler for the identifier.
func (l *LocalChannel) ClearIdentifier(id string) {
	l.reg.ClearIdentifier(id)
}

// RemoveCallback removes the handler (or the single-use entry wrapping it)
// for the identifier.
func (l *LocalChannel) RemoveCallback(id string, fn Handler) {
	l.reg.RemoveCallback(id, fn)
}

// Emit synchronously invokes every handler for the identifier in
// attachment order and reports whether any matched. The first handler
// error aborts the remaining invocations and propagates to the caller.
func (l *LocalChannel) Emit(ctx context.Context, id string, args ...any) (bool, error) {
	canonical := l.reg.Canonical(id)

	if l.emitted != nil {
		l.emitted.Add(ctx, 1, metric.WithAttributes(attribute.String("event", canonical)))
	}
	if l.tracingEnabled {
		tracer := otel.Tracer("duplex.local")
		var span trace.Span
		ctx, span = tracer.Start(ctx, fmt.Sprintf("%s.emit", canonical),
			trace.WithAttributes(attribute.String("event", canonical)),
			trace.WithSpanKind(trace.SpanKindInternal))
		defer span.End()
	}

	matched, err := l.reg.Emit(ctx, id, args...)
	if matched && l.handled != nil {
		l.handled.Add(ctx, 1, metric.WithAttributes(attribute.String("event", canonical)))
	}
	return matched, err
}
