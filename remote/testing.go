package remote

import (
	"context"
	"errors"
	"sync"
)

// FakeConn is an in-memory Conn for driving an engine without a network.
// Frames written by the engine are recorded; inbound frames are fed with
// Deliver. Closing from either side unblocks the reader.
type FakeConn struct {
	mu        sync.Mutex
	writes    []string
	writeErr  error
	inbound   chan []byte
	closed    chan struct{}
	closeOnce sync.Once
}

// NewFakeConn creates a fake connection.
func NewFakeConn() *FakeConn {
	return &FakeConn{
		inbound: make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

// WriteText records the frame, or fails with the configured write error.
func (c *FakeConn) WriteText(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.writeErr != nil {
		return c.writeErr
	}
	select {
	case <-c.closed:
		return errors.New("write on closed connection")
	default:
	}
	c.writes = append(c.writes, string(data))
	return nil
}

// ReadText blocks until a frame is delivered or the connection closes.
func (c *FakeConn) ReadText() ([]byte, error) {
	select {
	case data := <-c.inbound:
		return data, nil
	case <-c.closed:
		return nil, errors.New("connection closed")
	}
}

// Close tears the connection down. Safe to call more than once.
func (c *FakeConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
	return nil
}

// Deliver feeds one inbound frame to the engine's read loop.
func (c *FakeConn) Deliver(frame []byte) {
	c.inbound <- frame
}

// SetWriteError makes subsequent writes fail with err. Pass nil to
// restore normal writes.
func (c *FakeConn) SetWriteError(err error) {
	c.mu.Lock()
	c.writeErr = err
	c.mu.Unlock()
}

// Writes returns a copy of every frame written so far.
func (c *FakeConn) Writes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.writes))
	copy(out, c.writes)
	return out
}

// FakeDialer hands out FakeConns and records attempts. Inject with
// WithDialer to test connection behavior without a peer.
type FakeDialer struct {
	mu    sync.Mutex
	conns []*FakeConn
	urls  []string
	err   error
}

// NewFakeDialer creates a fake dialer.
func NewFakeDialer() *FakeDialer {
	return &FakeDialer{}
}

// Dial implements Dialer
func (d *FakeDialer) Dial(ctx context.Context, url, subprotocol string) (Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.urls = append(d.urls, url)
	if d.err != nil {
		return nil, d.err
	}
	conn := NewFakeConn()
	d.conns = append(d.conns, conn)
	return conn, nil
}

// FailWith makes subsequent dials fail with err. Pass nil to restore
// normal dialing.
func (d *FakeDialer) FailWith(err error) {
	d.mu.Lock()
	d.err = err
	d.mu.Unlock()
}

// Attempts returns the number of dials seen so far.
func (d *FakeDialer) Attempts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.urls)
}

// URL returns the i-th dialed URL, or "" when fewer dials happened.
func (d *FakeDialer) URL(i int) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.urls) {
		return ""
	}
	return d.urls[i]
}

// Conn returns the i-th successfully dialed connection, or nil.
func (d *FakeDialer) Conn(i int) *FakeConn {
	d.mu.Lock()
	defer d.mu.Unlock()
	if i >= len(d.conns) {
		return nil
	}
	return d.conns[i]
}

// Compile-time checks
var (
	_ Dialer = (*FakeDialer)(nil)
	_ Conn   = (*FakeConn)(nil)
)
