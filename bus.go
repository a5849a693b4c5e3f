package duplex

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/duplexbus/duplex/registry"
	"github.com/duplexbus/duplex/remote"
)

const (
	busRunning = 1
	busStopped = 0
)

// Bus errors
var (
	ErrBusClosed = errors.New("bus is closed")
)

// Handler is the callback type registered on either channel. The sub
// argument is the opaque subscriber context supplied at attach time.
type Handler = registry.Handler

// Channel selects one of the two dispatch paths of the bus.
type Channel int

const (
	// Local dispatches synchronously among in-process subscribers.
	Local Channel = iota
	// Remote relays envelopes to and from the remote peer.
	Remote
)

// String returns a string representation of the channel.
func (c Channel) String() string {
	switch c {
	case Local:
		return "local"
	case Remote:
		return "remote"
	default:
		return fmt.Sprintf("unknown(%d)", int(c))
	}
}

// ID generation fallback counter
var idCounter uint64

// NewID generates a unique ID. Hosts use it to mint the per-subscriber
// correlation IDs they embed in subscriber contexts; the bus itself never
// consumes these values.
func NewID() string {
	u, err := uuid.NewRandom()
	if err == nil {
		return u.String()
	}
	return strconv.FormatUint(atomic.AddUint64(&idCounter, 1), 10)
}

// Bus is the dual-channel event bus. Emit tries the local channel first
// and falls back to the remote channel only when no local handler matched,
// so a locally handled event is never also sent to the peer.
//
// Construct with New and thread the instance through the component tree;
// there is no process-wide bus.
type Bus struct {
	status int32
	local  *LocalChannel
	engine *remote.Engine

	tracingEnabled bool
	emitted        metric.Int64Counter
}

// New creates a bus. The remote channel stays idle (no goroutine, no
// connection) until the first emit that falls through to it, or an
// explicit Connect.
func New(opts ...BusOption) (*Bus, error) {
	o := newBusOptions(opts...)

	b := &Bus{
		status:         busRunning,
		local:          newLocal(o.camelCase, o.logger, o.metricsEnabled, o.tracingEnabled),
		engine:         remote.New(o.remote...),
		tracingEnabled: o.tracingEnabled,
	}
	if o.metricsEnabled {
		meter := otel.Meter("duplex")
		b.emitted, _ = meter.Int64Counter("duplex.emitted",
			metric.WithDescription("Events emitted through the facade"))
	}
	return b, nil
}

// Running returns true if the bus has not been closed.
func (b *Bus) Running() bool {
	return atomic.LoadInt32(&b.status) == busRunning
}

// Local returns the local channel for direct registry access.
func (b *Bus) Local() *LocalChannel {
	return b.local
}

// Remote returns the remote transport engine for direct access.
func (b *Bus) Remote() *remote.Engine {
	return b.engine
}

func (b *Bus) channel(ch Channel) interface {
	Attach(string, Handler, any)
	AttachOnce(string, Handler, any)
	RemoveCallback(string, Handler)
} {
	if ch == Local {
		return b.local
	}
	return b.engine
}

// On attaches a handler to the selected channel. The subscriber context
// passed back on invocation is set with WithSubscriberContext; it defaults
// to nil.
func (b *Bus) On(ch Channel, id string, fn Handler, opts ...SubscribeOption) {
	o := newSubscribeOptions(opts...)
	b.channel(ch).Attach(id, fn, o.sub)
}

// Once attaches a single-use handler to the selected channel. The wrapper
// detaches itself from the channel it was attached to before invoking fn,
// and carries a back-reference to fn so a later Off with the original
// callback still matches it.
func (b *Bus) Once(ch Channel, id string, fn Handler, opts ...SubscribeOption) {
	o := newSubscribeOptions(opts...)
	b.channel(ch).AttachOnce(id, fn, o.sub)
}

// Off detaches the callback from both channels. It is a safe no-op on the
// channel where the callback was never attached.
func (b *Bus) Off(id string, fn Handler) {
	b.local.RemoveCallback(id, fn)
	b.engine.RemoveCallback(id, fn)
}

// Emit dispatches an event: the local channel is tried synchronously
// first, and only when it reports no match is the event serialized and
// queued for the remote peer. Handler errors from the local channel
// propagate to the caller and abort the remaining handlers of that emit.
func (b *Bus) Emit(ctx context.Context, id string, args ...any) error {
	if !b.Running() {
		return ErrBusClosed
	}

	if b.tracingEnabled {
		tracer := otel.Tracer("duplex")
		var span trace.Span
		ctx, span = tracer.Start(ctx, fmt.Sprintf("%s.emit", id),
			trace.WithAttributes(attribute.String("event", id)),
			trace.WithSpanKind(trace.SpanKindProducer))
		defer span.End()
	}

	matched, err := b.local.Emit(ctx, id, args...)
	if err != nil {
		return err
	}
	if matched {
		if b.emitted != nil {
			b.emitted.Add(ctx, 1, metric.WithAttributes(attribute.String("channel", "local")))
		}
		return nil
	}

	if b.emitted != nil {
		b.emitted.Add(ctx, 1, metric.WithAttributes(attribute.String("channel", "remote")))
	}
	return b.engine.Emit(ctx, id, args...)
}

// Connect opens the remote connection eagerly. Emitting never requires
// this; the flush process dials on demand.
func (b *Bus) Connect() {
	if b.Running() {
		b.engine.Connect()
	}
}

// Disconnect closes the remote connection. Remote registrations and any
// queued envelopes survive.
func (b *Bus) Disconnect() {
	b.engine.Disconnect()
}

// Close stops the bus: the remote engine shuts down and further emits
// fail with ErrBusClosed. Idempotent.
func (b *Bus) Close(ctx context.Context) error {
	if atomic.CompareAndSwapInt32(&b.status, busRunning, busStopped) {
		return b.engine.Close(ctx)
	}
	return nil
}
