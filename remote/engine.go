// Package remote implements the remote channel of the bus: a handler
// registry paired with a persistent, auto-reconnecting socket connection
// to a single peer.
//
// Emitting on the engine never touches the network. Envelopes are
// serialized into an unbounded FIFO queue and drained by a periodic flush
// process, which dials the peer on demand when messages are waiting and no
// connection exists. Inbound frames are parsed, routed by their normalized
// identifier and dispatched against the registry with the full envelope as
// payload.
//
// The connection lifecycle is an explicit state machine:
//
//	absent -> connecting -> open -> closed -> absent
//
// At most one live connection exists at a time; it is replaced wholesale
// on reconnect, never mutated in place. Delivery is best effort: the
// engine guarantees neither delivery nor ordering across reconnects.
package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/duplexbus/duplex/codec"
	"github.com/duplexbus/duplex/registry"
)

const (
	engineRunning = 1
	engineStopped = 0
)

// Engine errors
var (
	ErrEngineClosed = errors.New("remote engine is closed")
)

// State is the lifecycle state of the connection handle.
type State int32

const (
	// StateAbsent means no connection handle exists.
	StateAbsent State = iota
	// StateConnecting means a dial is in flight.
	StateConnecting
	// StateOpen means the connection is established and writable.
	StateOpen
	// StateClosed means the handle saw its close event and is being
	// discarded. Observable only transiently; the handle is replaced by
	// absent immediately after.
	StateClosed
)

// String returns a string representation of the state.
func (s State) String() string {
	switch s {
	case StateAbsent:
		return "absent"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int32(s))
	}
}

// handle is one live connection attempt. Replaced wholesale on reconnect.
type handle struct {
	state     State // guarded by Engine.mu
	conn      Conn  // nil until the dial completes
	closeOnce sync.Once
}

// Engine is the remote transport engine. Construct with New, shut down
// with Close. Safe for concurrent use.
type Engine struct {
	status  int32
	cfg     *options
	reg     *registry.Registry
	codec   codec.Codec
	dialer  Dialer
	logger  *slog.Logger
	limiter *rate.Limiter

	mu        sync.Mutex
	queue     []string
	hand      *handle
	armed     bool
	stopFlush chan struct{}

	// Metrics
	queued        metric.Int64Counter
	flushed       metric.Int64Counter
	dials         metric.Int64Counter
	decodeFailed  metric.Int64Counter
	inboundEvents metric.Int64Counter
}

// New creates a remote engine. The engine is idle until the first Emit or
// Connect; no goroutine runs and no connection exists before that.
func New(opts ...Option) *Engine {
	o := newOptions(opts...)

	e := &Engine{
		status: engineRunning,
		cfg:    o,
		reg:    registry.New(o.camelCase),
		codec:  o.codec,
		dialer: o.dialer,
		logger: o.logger,
	}
	if o.reconnectRate > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(o.reconnectRate), max(o.reconnectBurst, 1))
	}

	if o.metricsEnabled {
		meter := otel.Meter("duplex.remote")
		e.queued, _ = meter.Int64Counter("duplex.remote.queued",
			metric.WithDescription("Envelopes appended to the outbound queue"),
			metric.WithUnit("{message}"))
		e.flushed, _ = meter.Int64Counter("duplex.remote.flushed",
			metric.WithDescription("Envelopes written to the socket"),
			metric.WithUnit("{message}"))
		e.dials, _ = meter.Int64Counter("duplex.remote.dials",
			metric.WithDescription("Connection attempts"))
		e.decodeFailed, _ = meter.Int64Counter("duplex.remote.decode_failures",
			metric.WithDescription("Inbound frames that failed to decode"))
		e.inboundEvents, _ = meter.Int64Counter("duplex.remote.inbound",
			metric.WithDescription("Inbound envelopes dispatched"),
			metric.WithUnit("{message}"))
	}

	return e
}

func (e *Engine) running() bool {
	return atomic.LoadInt32(&e.status) == engineRunning
}

// URL returns the peer endpoint the engine dials.
func (e *Engine) URL() string {
	scheme := "ws"
	if e.cfg.secure {
		scheme = "wss"
	}
	u := url.URL{
		Scheme: scheme,
		Host:   e.cfg.host + ":" + strconv.Itoa(e.cfg.port),
		Path:   "/" + strings.TrimPrefix(e.cfg.endpoint, "/"),
	}
	return u.String()
}

// State returns the current connection state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.hand == nil {
		return StateAbsent
	}
	return e.hand.state
}

// Connected reports whether the connection is open.
func (e *Engine) Connected() bool {
	return e.State() == StateOpen
}

// QueueLen returns the number of envelopes waiting in the outbound queue.
func (e *Engine) QueueLen() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// Attach registers a handler for inbound envelopes with the identifier.
func (e *Engine) Attach(id string, fn registry.Handler, sub any) {
	e.reg.Attach(id, fn, sub)
}

// AttachOnce registers a single-use handler for inbound envelopes with the
// identifier. The entry removes itself from this engine's registry after
// its first invocation.
func (e *Engine) AttachOnce(id string, fn registry.Handler, sub any) {
	e.reg.AttachOnce(id, fn, sub)
}

// ClearAll removes every registered handler. Connection loss never does
// this; remote registrations only vanish on explicit detach.
func (e *Engine) ClearAll() {
	e.reg.ClearAll()
}

// ClearIdentifier removes every handler for the identifier.
func (e *Engine) ClearIdentifier(id string) {
	e.reg.ClearIdentifier(id)
}

// RemoveCallback removes the handler (or the single-use entry wrapping it)
// for the identifier.
func (e *Engine) RemoveCallback(id string, fn registry.Handler) {
	e.reg.RemoveCallback(id, fn)
}

// Emit serializes an outbound envelope and appends it to the queue. It
// never blocks on the network and never dials; delivery is deferred to the
// flush process. The sole structured argument form has the identifier
// field injected directly, anything else is wrapped as
// {identifier, arguments}.
func (e *Engine) Emit(ctx context.Context, id string, args ...any) error {
	if !e.running() {
		return ErrEngineClosed
	}

	canonical := e.reg.Canonical(id)
	payload, err := encodeEnvelope(e.codec, e.cfg.identifierField, canonical, args)
	if err != nil {
		return err
	}

	if e.queued != nil {
		e.queued.Add(ctx, 1, metric.WithAttributes(attribute.String("event", canonical)))
	}

	e.mu.Lock()
	e.queue = append(e.queue, string(payload))
	e.armLocked()
	e.mu.Unlock()
	return nil
}

// Connect opens a connection to the peer if none exists. The dial runs
// asynchronously; callers observe completion through the open hook or
// Connected. Calling Connect with a live handle is a no-op.
func (e *Engine) Connect() {
	if !e.running() {
		return
	}
	e.mu.Lock()
	if e.hand != nil {
		e.mu.Unlock()
		return
	}
	h := &handle{state: StateConnecting}
	e.hand = h
	e.armLocked()
	e.mu.Unlock()

	go e.dial(h)
}

// Disconnect closes the active connection and discards the handle. Queued
// envelopes survive and trigger a fresh reconnect on the next flush tick.
func (e *Engine) Disconnect() {
	e.mu.Lock()
	h := e.hand
	e.mu.Unlock()
	if h != nil {
		e.closeHandle(h)
	}
}

// Close shuts the engine down: the flush process stops, the connection is
// closed and further Emit calls fail with ErrEngineClosed. Queued
// envelopes are dropped. Idempotent.
func (e *Engine) Close(ctx context.Context) error {
	if !atomic.CompareAndSwapInt32(&e.status, engineRunning, engineStopped) {
		return nil
	}
	e.mu.Lock()
	h := e.hand
	e.stopFlushLocked()
	e.queue = nil
	e.mu.Unlock()
	if h != nil {
		e.closeHandle(h)
	}
	return nil
}

// armLocked starts the flush process if it is not running. Idempotent;
// callers hold e.mu.
func (e *Engine) armLocked() {
	if e.armed || !e.running() {
		return
	}
	e.armed = true
	stop := make(chan struct{})
	e.stopFlush = stop
	go e.flushLoop(stop)
}

// stopFlushLocked cancels the flush process. Callers hold e.mu.
func (e *Engine) stopFlushLocked() {
	if !e.armed {
		return
	}
	e.armed = false
	close(e.stopFlush)
	e.stopFlush = nil
}

func (e *Engine) flushLoop(stop chan struct{}) {
	ticker := time.NewTicker(e.cfg.flushInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			e.flush()
		}
	}
}

// flush drains the queue on a tick. With no handle it dials and leaves the
// queue for a later tick; while connecting it waits; when open it writes
// every queued envelope in FIFO order.
func (e *Engine) flush() {
	e.mu.Lock()
	if len(e.queue) == 0 {
		e.mu.Unlock()
		return
	}
	h := e.hand
	if h == nil {
		e.mu.Unlock()
		e.Connect()
		return
	}
	if h.state != StateOpen {
		e.mu.Unlock()
		return
	}
	pending := e.queue
	e.queue = nil
	conn := h.conn
	e.mu.Unlock()

	for i, payload := range pending {
		if err := conn.WriteText([]byte(payload)); err != nil {
			// Keep the unsent tail ahead of anything enqueued meanwhile.
			e.mu.Lock()
			e.queue = append(pending[i:], e.queue...)
			e.mu.Unlock()
			e.logger.Warn("flush write failed", "error", err, "pending", len(pending)-i)
			e.fireError(err)
			return
		}
		if e.flushed != nil {
			e.flushed.Add(context.Background(), 1)
		}
	}
}

// dial performs the asynchronous connect for a handle in StateConnecting.
func (e *Engine) dial(h *handle) {
	if e.limiter != nil && !e.limiter.Allow() {
		// Attempt budget exhausted; drop the handle so a later flush tick
		// retries once tokens refill.
		e.mu.Lock()
		if e.hand == h {
			e.hand = nil
		}
		e.mu.Unlock()
		return
	}

	target := e.URL()
	if e.dials != nil {
		e.dials.Add(context.Background(), 1)
	}
	e.logger.Debug("dialing peer", "url", target, "protocol", e.cfg.protocol)

	conn, err := e.dialer.Dial(context.Background(), target, e.cfg.protocol)
	if err != nil {
		e.logger.Warn("dial failed", "url", target, "error", err)
		e.fireError(err)
		e.closeHandle(h)
		return
	}

	e.mu.Lock()
	if e.hand != h || !e.running() {
		// Disconnected or closed while the dial was in flight.
		e.mu.Unlock()
		conn.Close()
		return
	}
	h.conn = conn
	h.state = StateOpen
	e.mu.Unlock()

	e.logger.Debug("connection open", "url", target)
	if e.cfg.onOpen != nil {
		e.cfg.onOpen()
	}

	go e.readLoop(h, conn)
}

// readLoop routes inbound frames until the connection dies.
func (e *Engine) readLoop(h *handle, conn Conn) {
	for {
		data, err := conn.ReadText()
		if err != nil {
			e.closeHandle(h)
			return
		}
		e.dispatch(data)
	}
}

// dispatch parses one inbound frame and invokes every handler registered
// under its normalized identifier, passing the entire envelope as payload.
func (e *Engine) dispatch(data []byte) {
	id, env, err := decodeEnvelope(e.codec, e.cfg.identifierField, data)
	if err != nil {
		if e.decodeFailed != nil {
			e.decodeFailed.Add(context.Background(), 1)
		}
		e.logger.Warn("dropping undecodable frame", "error", err)
		e.fireError(err)
		return
	}

	ctx := context.Background()
	if e.cfg.tracingEnabled {
		tracer := otel.Tracer("duplex.remote")
		var span trace.Span
		ctx, span = tracer.Start(ctx, fmt.Sprintf("%s.dispatch", e.reg.Canonical(id)),
			trace.WithAttributes(attribute.String("event", e.reg.Canonical(id))),
			trace.WithSpanKind(trace.SpanKindConsumer))
		defer span.End()
	}

	matched, err := e.reg.Emit(ctx, id, env)
	if err != nil {
		// Nowhere to propagate on the inbound path; surface through the
		// error hook instead of crashing the read loop.
		e.logger.Warn("inbound handler failed", "event", id, "error", err)
		e.fireError(err)
	}
	if matched && e.inboundEvents != nil {
		e.inboundEvents.Add(ctx, 1, metric.WithAttributes(attribute.String("event", e.reg.Canonical(id))))
	}
}

// closeHandle runs the close reaction for a handle exactly once: the
// handle becomes absent, the flush process is cancelled unless envelopes
// are still queued (they must keep triggering reactive reconnects), the
// socket is torn down and the close hook fires.
func (e *Engine) closeHandle(h *handle) {
	h.closeOnce.Do(func() {
		e.mu.Lock()
		h.state = StateClosed
		if e.hand == h {
			e.hand = nil
			if len(e.queue) == 0 {
				e.stopFlushLocked()
			}
		}
		e.mu.Unlock()

		if h.conn != nil {
			h.conn.Close()
		}
		e.logger.Debug("connection closed")
		if e.cfg.onClose != nil {
			e.cfg.onClose()
		}
	})
}

func (e *Engine) fireError(err error) {
	if e.cfg.onError != nil {
		e.cfg.onError(err)
	}
}
