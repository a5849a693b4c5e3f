package duplex

import (
	"time"

	"github.com/duplexbus/duplex/remote"
)

// TestBus creates a bus configured for testing: the given dialer replaces
// the network, the flush runs fast, and tracing/metrics are disabled for
// simpler testing. Panics if dialer is nil (test setup error).
//
// Example:
//
//	bus := duplex.TestBus(fakeDialer)
//	defer bus.Close(ctx)
func TestBus(dialer remote.Dialer, opts ...BusOption) *Bus {
	if dialer == nil {
		panic("duplex.TestBus: dialer is required")
	}
	opts = append([]BusOption{
		WithDialer(dialer),
		WithFlushInterval(5 * time.Millisecond),
		WithMetrics(false),
		WithTracing(false),
	}, opts...)
	bus, err := New(opts...)
	if err != nil {
		panic("duplex.TestBus: " + err.Error())
	}
	return bus
}
