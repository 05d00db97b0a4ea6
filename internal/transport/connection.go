package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"sync"
	"time"

	"github.com/quic-go/quic-go"
)

// HeartbeatIdle is the idle gap after which the wrapper emits a PING on the
// control stream.
const HeartbeatIdle = 30 * time.Second

// DiagnosticIdle is the idle gap past which a connection is reported as
// stalled for diagnostics, even though it is not yet considered dead.
const DiagnosticIdle = 60 * time.Second

// ErrPeerMigrated is returned (wrapped with the remote's old and new
// addresses) when the accepting side detects the peer's source address
// changed after connection establishment.
type ErrPeerMigrated struct {
	Original string
	Observed string
}

func (e *ErrPeerMigrated) Error() string {
	return fmt.Sprintf("transport: peer migrated from %s to %s", e.Original, e.Observed)
}

// Connection wraps a QUIC connection together with its four logical
// streams and the bookkeeping (last activity, last heartbeat, migration
// state) the orchestrator needs to drive a single transfer.
type Connection struct {
	conn          *quic.Conn
	peerAddr      string
	streams       [4]*quic.Stream
	mu            sync.Mutex
	lastActivity  time.Time
	lastHeartbeat time.Time
	migrated      bool
}

func wrap(conn *quic.Conn) *Connection {
	now := time.Now()
	return &Connection{
		conn:          conn,
		peerAddr:      conn.RemoteAddr().String(),
		lastActivity:  now,
		lastHeartbeat: now,
	}
}

// Dial establishes an outbound connection and opens the four logical
// streams in fixed order (control, manifest, data, status) so stream
// identifiers line up with StreamID on both ends.
func Dial(ctx context.Context, addr string, tlsConfig *tls.Config) (*Connection, error) {
	conn, err := quic.DialAddr(ctx, addr, tlsConfig, quicConfig())
	if err != nil {
		return nil, fmt.Errorf("transport: dial %s: %w", addr, err)
	}
	c := wrap(conn)
	if err := c.openStreams(ctx); err != nil {
		conn.CloseWithError(0, "stream setup failed")
		return nil, err
	}
	return c, nil
}

// Listener accepts inbound connections and performs the matching
// accept-four-streams handshake.
type Listener struct {
	inner *quic.Listener
}

// Listen starts a QUIC listener on addr.
func Listen(addr string, tlsConfig *tls.Config) (*Listener, error) {
	l, err := quic.ListenAddr(addr, tlsConfig, quicConfig())
	if err != nil {
		return nil, fmt.Errorf("transport: listen %s: %w", addr, err)
	}
	return &Listener{inner: l}, nil
}

// Accept accepts one inbound connection, accepts the four logical streams
// the dialing side opened, and records its original peer address for
// later migration detection.
func (l *Listener) Accept(ctx context.Context) (*Connection, error) {
	conn, err := l.inner.Accept(ctx)
	if err != nil {
		return nil, fmt.Errorf("transport: accept: %w", err)
	}
	c := wrap(conn)
	if err := c.acceptStreams(ctx); err != nil {
		conn.CloseWithError(0, "stream setup failed")
		return nil, err
	}
	return c, nil
}

// Addr returns the listener's bound network address.
func (l *Listener) Addr() string { return l.inner.Addr().String() }

// Close closes the listener.
func (l *Listener) Close() error { return l.inner.Close() }

func quicConfig() *quic.Config {
	return &quic.Config{
		KeepAlivePeriod:                10 * time.Second,
		MaxIdleTimeout:                 60 * time.Second,
		InitialStreamReceiveWindow:     8 << 20,
		InitialConnectionReceiveWindow: 128 << 20,
	}
}

func (c *Connection) openStreams(ctx context.Context) error {
	for i := range c.streams {
		s, err := c.conn.OpenStreamSync(ctx)
		if err != nil {
			return fmt.Errorf("transport: open stream %d: %w", i, err)
		}
		c.streams[i] = s
	}
	return nil
}

func (c *Connection) acceptStreams(ctx context.Context) error {
	for i := range c.streams {
		s, err := c.conn.AcceptStream(ctx)
		if err != nil {
			return fmt.Errorf("transport: accept stream %d: %w", i, err)
		}
		c.streams[i] = s
	}
	return nil
}

// Stream returns the quic.Stream backing a logical stream id.
func (c *Connection) Stream(id StreamID) *quic.Stream {
	return c.streams[id]
}

// PeerAddr returns the peer's address observed at connection establishment.
func (c *Connection) PeerAddr() string { return c.peerAddr }

// Touch records transport activity, resetting the idle clock used by the
// heartbeat policy.
func (c *Connection) Touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// IdleFor reports how long the connection has been idle since the last
// recorded activity.
func (c *Connection) IdleFor() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Since(c.lastActivity)
}

// CheckMigration compares the connection's current remote address against
// the one observed at establishment; a mismatch is reported via
// ErrPeerMigrated and latched so repeated calls keep reporting it.
func (c *Connection) CheckMigration() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.migrated {
		return &ErrPeerMigrated{Original: c.peerAddr, Observed: c.currentRemoteAddr()}
	}
	current := c.currentRemoteAddr()
	if current != c.peerAddr {
		c.migrated = true
		return &ErrPeerMigrated{Original: c.peerAddr, Observed: current}
	}
	return nil
}

func (c *Connection) currentRemoteAddr() string {
	addr := c.conn.RemoteAddr()
	if addr == nil {
		return c.peerAddr
	}
	return addr.String()
}

// Close closes all four streams and the underlying connection with the
// given human-readable reason.
func (c *Connection) Close(reason string) error {
	for _, s := range c.streams {
		if s != nil {
			s.CancelWrite(0)
			s.CancelRead(0)
		}
	}
	return c.conn.CloseWithError(0, reason)
}
