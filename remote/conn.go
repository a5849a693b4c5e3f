package remote

import "context"

// Conn is a single live connection to the remote peer. At most one Conn
// exists per engine at a time; a lost connection is replaced wholesale by
// a new dial, never reused.
//
// Implementations must allow one concurrent reader and one concurrent
// writer, which is how the engine drives them: the flush process writes,
// a dedicated goroutine reads.
type Conn interface {
	// WriteText sends one serialized envelope as a text frame.
	WriteText(data []byte) error

	// ReadText blocks until the next inbound frame arrives. It returns an
	// error once the connection is closed by either side.
	ReadText() ([]byte, error)

	// Close tears the connection down. Safe to call more than once.
	Close() error
}

// Dialer opens connections to the remote peer. The engine treats it as a
// factory so tests can inject a fake transport in place of the network.
type Dialer interface {
	// Dial opens a connection to url, offering the sub-protocol when one
	// is configured (empty string means none).
	Dial(ctx context.Context, url string, subprotocol string) (Conn, error)
}

// DialerFunc adapts a function to the Dialer interface.
type DialerFunc func(ctx context.Context, url string, subprotocol string) (Conn, error)

// Dial implements Dialer
func (f DialerFunc) Dial(ctx context.Context, url string, subprotocol string) (Conn, error) {
	return f(ctx, url, subprotocol)
}
