package remote

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
)

func testEngine(t *testing.T, opts ...Option) (*Engine, *FakeDialer) {
	t.Helper()
	dialer := NewFakeDialer()
	opts = append([]Option{
		WithDialer(dialer),
		WithFlushInterval(5 * time.Millisecond),
		WithMetrics(false),
		WithTracing(false),
	}, opts...)
	e := New(opts...)
	t.Cleanup(func() { e.Close(context.Background()) })
	return e, dialer
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func sentIdentifiers(t *testing.T, conn *FakeConn) []string {
	t.Helper()
	var ids []string
	for _, frame := range conn.Writes() {
		var env map[string]any
		if err := json.Unmarshal([]byte(frame), &env); err != nil {
			t.Fatalf("bad frame %q: %v", frame, err)
		}
		id, _ := env["identifier"].(string)
		ids = append(ids, id)
	}
	return ids
}

func TestEmitDoesNotDial(t *testing.T) {
	e, dialer := testEngine(t, WithFlushInterval(time.Hour))
	if err := e.Emit(context.Background(), "ping"); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	if n := dialer.Attempts(); n != 0 {
		t.Errorf("Emit dialed %d times, want 0 (delivery is deferred to the flush process)", n)
	}
	if n := e.QueueLen(); n != 1 {
		t.Errorf("QueueLen = %d, want 1", n)
	}
	if got := e.State(); got != StateAbsent {
		t.Errorf("State = %v, want absent", got)
	}
}

func TestQueueFIFOAcrossDeferredConnect(t *testing.T) {
	e, dialer := testEngine(t)

	if err := e.Emit(context.Background(), "a"); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}
	if err := e.Emit(context.Background(), "b"); err != nil {
		t.Fatalf("Emit failed: %v", err)
	}

	// The flush process notices the non-empty queue, dials, and drains in
	// enqueue order once the connection opens.
	waitFor(t, "queue drain", func() bool { return e.QueueLen() == 0 })

	conn := dialer.Conn(0)
	if conn == nil {
		t.Fatal("no connection was dialed")
	}
	if diff := cmp.Diff([]string{"a", "b"}, sentIdentifiers(t, conn)); diff != "" {
		t.Errorf("send order mismatch (-want +got):\n%s", diff)
	}
}

func TestConnectLifecycle(t *testing.T) {
	var mu sync.Mutex
	var events []string
	record := func(name string) func() {
		return func() {
			mu.Lock()
			events = append(events, name)
			mu.Unlock()
		}
	}

	e, dialer := testEngine(t,
		WithOpenHandler(record("open")),
		WithCloseHandler(record("close")),
	)

	e.Connect()
	waitFor(t, "open hook", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(events) > 0
	})
	if n := dialer.Attempts(); n != 1 {
		t.Fatalf("attempts = %d, want 1", n)
	}
	if !e.Connected() {
		t.Error("expected open state after open hook")
	}

	// Connect with a live handle is a no-op.
	e.Connect()
	if n := dialer.Attempts(); n != 1 {
		t.Errorf("second Connect dialed again, attempts = %d", n)
	}

	e.Disconnect()
	waitFor(t, "absent state", func() bool { return e.State() == StateAbsent })

	mu.Lock()
	defer mu.Unlock()
	if diff := cmp.Diff([]string{"open", "close"}, events); diff != "" {
		t.Errorf("hook order mismatch (-want +got):\n%s", diff)
	}
}

func TestDialedURL(t *testing.T) {
	e, dialer := testEngine(t,
		WithSecure(true),
		WithHost("game.example.com"),
		WithPort(9443),
		WithEndpoint("live"),
	)
	e.Connect()
	waitFor(t, "dial", func() bool { return dialer.Attempts() > 0 })

	want := "wss://game.example.com:9443/live"
	if got := dialer.URL(0); got != want {
		t.Errorf("dialed %q, want %q", got, want)
	}
	if got := e.URL(); got != want {
		t.Errorf("URL() = %q, want %q", got, want)
	}
}

func TestReconnectAfterConnectionLoss(t *testing.T) {
	e, dialer := testEngine(t)

	e.Emit(context.Background(), "first")
	waitFor(t, "first drain", func() bool { return e.QueueLen() == 0 })

	// Peer drops the connection. Registered handlers must survive; the
	// queue is empty, so nothing reconnects until there is traffic.
	dialer.Conn(0).Close()
	waitFor(t, "absent after peer close", func() bool { return e.State() == StateAbsent })

	e.Emit(context.Background(), "second")
	waitFor(t, "second drain", func() bool { return e.QueueLen() == 0 })

	if n := dialer.Attempts(); n != 2 {
		t.Errorf("attempts = %d, want 2", n)
	}
	second := dialer.Conn(1)
	if second == nil || len(second.Writes()) != 1 {
		t.Fatalf("expected one frame on the second connection")
	}
}

func TestQueueSurvivesDisconnect(t *testing.T) {
	e, dialer := testEngine(t, WithFlushInterval(time.Hour))

	e.Emit(context.Background(), "queued-while-down")
	e.Disconnect() // no handle: no-op
	if n := e.QueueLen(); n != 1 {
		t.Errorf("QueueLen = %d, want 1 after disconnect", n)
	}
	if n := dialer.Attempts(); n != 0 {
		t.Errorf("attempts = %d, want 0", n)
	}
}

func TestInboundRouting(t *testing.T) {
	e, dialer := testEngine(t)

	type received struct {
		sub any
		env map[string]any
	}
	got := make(chan received, 1)
	sub := "player-42"
	e.Attach("new-score", func(ctx context.Context, sub any, args ...any) error {
		env, _ := args[0].(map[string]any)
		got <- received{sub: sub, env: env}
		return nil
	}, sub)

	e.Connect()
	waitFor(t, "open", e.Connected)

	dialer.Conn(0).Deliver([]byte(`{"identifier":"new-score","value":7}`))

	select {
	case r := <-got:
		if r.sub != sub {
			t.Errorf("subscriber context = %v, want %v", r.sub, sub)
		}
		want := map[string]any{"identifier": "new-score", "value": float64(7)}
		if diff := cmp.Diff(want, r.env); diff != "" {
			t.Errorf("handlers must receive the full envelope (-want +got):\n%s", diff)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not invoked")
	}
}

func TestInboundRoutingNormalizesIdentifier(t *testing.T) {
	e, dialer := testEngine(t)

	got := make(chan map[string]any, 1)
	// Registered in camelCase, received dashed: both normalize to the
	// same canonical key.
	e.Attach("newScore", func(ctx context.Context, sub any, args ...any) error {
		env, _ := args[0].(map[string]any)
		got <- env
		return nil
	}, nil)

	e.Connect()
	waitFor(t, "open", e.Connected)
	dialer.Conn(0).Deliver([]byte(`{"identifier":"new-score","value":7}`))

	select {
	case env := <-got:
		if env["value"] != float64(7) {
			t.Errorf("value = %v, want 7", env["value"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not invoked for normalized identifier")
	}
}

func TestMalformedInboundFrame(t *testing.T) {
	errs := make(chan error, 1)
	e, dialer := testEngine(t, WithErrorHandler(func(err error) {
		select {
		case errs <- err:
		default:
		}
	}))

	e.Connect()
	waitFor(t, "open", e.Connected)
	dialer.Conn(0).Deliver([]byte("{not a frame"))

	select {
	case err := <-errs:
		if err == nil {
			t.Error("expected a decode error")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("decode failure was not surfaced through the error hook")
	}

	// The read loop survives a bad frame.
	if !e.Connected() {
		t.Error("connection dropped after a malformed frame")
	}
}

func TestDialFailureFiresErrorAndClose(t *testing.T) {
	errs := make(chan error, 1)
	closed := make(chan struct{}, 1)
	dialErr := errors.New("connection refused")

	dialer := NewFakeDialer()
	dialer.FailWith(dialErr)
	e := New(
		WithDialer(dialer),
		WithFlushInterval(time.Hour),
		WithMetrics(false),
		WithTracing(false),
		WithErrorHandler(func(err error) {
			select {
			case errs <- err:
			default:
			}
		}),
		WithCloseHandler(func() {
			select {
			case closed <- struct{}{}:
			default:
			}
		}),
	)
	t.Cleanup(func() { e.Close(context.Background()) })

	e.Connect()

	select {
	case err := <-errs:
		if !errors.Is(err, dialErr) {
			t.Errorf("error hook got %v, want %v", err, dialErr)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("dial failure was not surfaced")
	}
	select {
	case <-closed:
	case <-time.After(2 * time.Second):
		t.Fatal("close hook did not fire after failed dial")
	}
	if got := e.State(); got != StateAbsent {
		t.Errorf("State = %v, want absent after failed dial", got)
	}
}

func TestEmitAfterClose(t *testing.T) {
	e, _ := testEngine(t)
	e.Close(context.Background())
	if err := e.Emit(context.Background(), "late"); !errors.Is(err, ErrEngineClosed) {
		t.Errorf("Emit after Close = %v, want ErrEngineClosed", err)
	}
}

func TestWriteFailureKeepsTail(t *testing.T) {
	errs := make(chan error, 1)
	e, dialer := testEngine(t,
		WithFlushInterval(time.Hour),
		WithErrorHandler(func(err error) {
			select {
			case errs <- err:
			default:
			}
		}),
	)

	e.Connect()
	waitFor(t, "open", e.Connected)
	conn := dialer.Conn(0)
	conn.SetWriteError(errors.New("broken pipe"))

	e.Emit(context.Background(), "a")
	e.Emit(context.Background(), "b")
	e.flush()

	select {
	case <-errs:
	case <-time.After(2 * time.Second):
		t.Fatal("write failure was not surfaced")
	}
	if n := e.QueueLen(); n != 2 {
		t.Errorf("QueueLen = %d, want 2 (unsent envelopes retained)", n)
	}

	conn.SetWriteError(nil)
	e.flush()

	if n := e.QueueLen(); n != 0 {
		t.Errorf("QueueLen = %d, want 0 after recovery", n)
	}
	if diff := cmp.Diff([]string{"a", "b"}, sentIdentifiers(t, conn)); diff != "" {
		t.Errorf("send order mismatch after retry (-want +got):\n%s", diff)
	}
}

func TestReconnectLimiter(t *testing.T) {
	// One attempt allowed, then the bucket refills far too slowly for
	// this test to see another.
	e, dialer := testEngine(t, WithReconnectLimit(0.001, 1))

	e.Emit(context.Background(), "x")
	waitFor(t, "drain", func() bool { return e.QueueLen() == 0 })
	if n := dialer.Attempts(); n != 1 {
		t.Fatalf("attempts = %d, want 1", n)
	}

	dialer.Conn(0).Close()
	waitFor(t, "absent", func() bool { return e.State() == StateAbsent })

	e.Emit(context.Background(), "y")
	time.Sleep(50 * time.Millisecond)
	if n := dialer.Attempts(); n != 1 {
		t.Errorf("attempts = %d, want 1 (limiter must gate reconnects)", n)
	}
	if n := e.QueueLen(); n != 1 {
		t.Errorf("QueueLen = %d, want 1 (queue retained while throttled)", n)
	}
}
