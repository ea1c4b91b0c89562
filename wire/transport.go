package wire

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"time"

	"github.com/quic-go/quic-go"
)

// idleTimeout and keepAlive match spec §4.7's "missed Ping/Pong interval
// (default 10s / 30s idle) triggers connection close" at the transport
// level; the application-level Ping/Pong control messages layer on top for
// liveness the transport itself can't see (in-flight stream stalls).
const (
	idleTimeout = 30 * time.Second
	keepAlive   = 10 * time.Second
)

// alpn is the protocol identifier negotiated during the TLS 1.3 handshake
// QUIC performs as part of connection setup.
const alpn = "loom/1"

// Transport opens and accepts multiplexed, encrypted connections (spec
// §4.7: "connection-oriented, multiplexed, encrypted stream transport with
// built-in flow control"). One connection carries many logical streams,
// each used for one request/response exchange or one long push/pull
// operation.
type Transport struct{}

// NewTransport constructs the QUIC-backed transport.
func NewTransport() *Transport { return &Transport{} }

// Listen starts accepting connections on addr.
func (t *Transport) Listen(ctx context.Context, addr string, tlsConfig *tls.Config) (*Listener, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	cfg := tlsConfig.Clone()
	if cfg == nil {
		cfg = &tls.Config{}
	}
	if len(cfg.NextProtos) == 0 {
		cfg.NextProtos = []string{alpn}
	}
	ln, err := quic.ListenAddr(addr, cfg, &quic.Config{
		MaxIdleTimeout:  idleTimeout,
		KeepAlivePeriod: keepAlive,
	})
	if err != nil {
		return nil, fmt.Errorf("wire: listen %s: %w", addr, err)
	}
	return &Listener{listener: ln}, nil
}

// Dial establishes a connection to addr; streams are opened separately with
// OpenStream.
func (t *Transport) Dial(ctx context.Context, addr string, tlsConfig *tls.Config) (*Conn, error) {
	cfg := tlsConfig.Clone()
	if cfg == nil {
		cfg = &tls.Config{}
	}
	if len(cfg.NextProtos) == 0 {
		cfg.NextProtos = []string{alpn}
	}
	connection, err := quic.DialAddr(ctx, addr, cfg, &quic.Config{
		MaxIdleTimeout:  idleTimeout,
		KeepAlivePeriod: keepAlive,
	})
	if err != nil {
		return nil, fmt.Errorf("wire: dial %s: %w", addr, err)
	}
	return &Conn{connection: connection}, nil
}

// Listener accepts incoming connections.
type Listener struct {
	listener *quic.Listener
}

// Accept waits for the next incoming connection.
func (l *Listener) Accept(ctx context.Context) (*Conn, error) {
	connection, err := l.listener.Accept(ctx)
	if err != nil {
		return nil, err
	}
	return &Conn{connection: connection}, nil
}

// Close stops accepting new connections.
func (l *Listener) Close() error { return l.listener.Close() }

// Addr returns the listening network address.
func (l *Listener) Addr() net.Addr { return l.listener.Addr() }

// Conn is one multiplexed connection. Each operation (push, pull, a single
// request/response) opens its own Stream via OpenStream/AcceptStream,
// matching spec §5's "Wire-transport streams are owned by at most one task
// each".
type Conn struct {
	connection *quic.Conn
}

// OpenStream opens a new outbound logical stream.
func (c *Conn) OpenStream(ctx context.Context) (*Stream, error) {
	s, err := c.connection.OpenStreamSync(ctx)
	if err != nil {
		return nil, fmt.Errorf("wire: open stream: %w", err)
	}
	return &Stream{stream: s}, nil
}

// AcceptStream accepts the next inbound logical stream.
func (c *Conn) AcceptStream(ctx context.Context) (*Stream, error) {
	s, err := c.connection.AcceptStream(ctx)
	if err != nil {
		return nil, fmt.Errorf("wire: accept stream: %w", err)
	}
	return &Stream{stream: s}, nil
}

// Close tears down the connection and every stream on it. code/reason let
// the cancellation path distinguish a deliberate cancel from a failure
// (spec §5: "Wire transport cancellation closes the relevant streams with a
// dedicated code so the peer can distinguish cancel from failure").
func (c *Conn) Close(code uint64, reason string) error {
	return c.connection.CloseWithError(quic.ApplicationErrorCode(code), reason)
}

// RemoteAddr returns the peer's network address.
func (c *Conn) RemoteAddr() net.Addr { return c.connection.RemoteAddr() }

// Stream is one logical stream within a Conn. It implements StreamConn for
// use with FrameReader/FrameWriter.
type Stream struct {
	stream *quic.Stream
}

func (s *Stream) Read(b []byte) (int, error)  { return s.stream.Read(b) }
func (s *Stream) Write(b []byte) (int, error) { return s.stream.Write(b) }
func (s *Stream) Close() error                { return s.stream.Close() }

// CancelRead aborts the read side with a cancellation code, used when a
// caller's context is cancelled mid-operation (spec §5).
func (s *Stream) CancelRead(code uint64) {
	s.stream.CancelRead(quic.StreamErrorCode(code))
}

// CancelWrite aborts the write side with a cancellation code.
func (s *Stream) CancelWrite(code uint64) {
	s.stream.CancelWrite(quic.StreamErrorCode(code))
}

// SetDeadline sets both read and write deadlines on the stream (spec
// §4.7's per-request timeout, `sync.timeout_seconds`).
func (s *Stream) SetDeadline(t time.Time) error { return s.stream.SetDeadline(t) }
