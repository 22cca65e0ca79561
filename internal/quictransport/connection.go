// Package quictransport carries protocol envelopes over QUIC, grounded
// in the teacher's quic_connection.go connection wrapper and its tuned
// quic.Config values. Unlike the teacher's control stream, which frames
// one of several JSON-encoded message structs per write, this package
// only ever carries opaque codec.Envelope bytes: the envelope's own
// Type byte already discriminates MANIFEST/CHUNK/ACK/CHUNK_HAVE, so one
// length-prefixed binary frame format covers every message this
// protocol core emits.
package quictransport

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"errors"
	"io"
	"sync"

	"github.com/quic-go/quic-go"
)

// ErrFrameTooLarge is returned when a peer declares a frame length this
// side refuses to buffer for.
var ErrFrameTooLarge = errors.New("quictransport: declared frame length exceeds maxFrameSize")

// maxFrameSize bounds a single envelope frame; generous relative to the
// protocol's largest adaptive chunk size (512 B, never above the MTU)
// plus header overhead.
const maxFrameSize = 1 << 20 // 1 MiB

// quicConfig mirrors the teacher's tuned QUIC transport parameters:
// a 10s keepalive keeps NAT/BLE-bridge state alive, the 60s idle
// timeout tolerates a mesh hop dropping out briefly, and the receive
// windows are sized for a handful of concurrent transfers rather than
// QUIC's conservative defaults.
func quicConfig() *quic.Config {
	return &quic.Config{
		KeepAlivePeriod:                10 * 1_000_000_000,
		MaxIdleTimeout:                 60 * 1_000_000_000,
		InitialStreamReceiveWindow:     8 << 20,
		InitialConnectionReceiveWindow: 128 << 20,
	}
}

// Conn wraps one QUIC connection and the single bidirectional stream
// (stream 0, by convention) every envelope for that peer travels over.
type Conn struct {
	conn   *quic.Conn
	stream *quic.Stream

	writeMu sync.Mutex
}

// Dial establishes a QUIC connection to addr and opens its control
// stream, for the side initiating the link.
func Dial(ctx context.Context, addr string, tlsConfig *tls.Config) (*Conn, error) {
	conn, err := quic.DialAddr(ctx, addr, tlsConfig, quicConfig())
	if err != nil {
		return nil, err
	}
	stream, err := conn.OpenStreamSync(ctx)
	if err != nil {
		conn.CloseWithError(0, "control stream open failed")
		return nil, err
	}
	return &Conn{conn: conn, stream: stream}, nil
}

// Listener accepts inbound QUIC connections and their control streams.
type Listener struct {
	listener *quic.Listener
}

// Listen starts a QUIC listener on addr.
func Listen(addr string, tlsConfig *tls.Config) (*Listener, error) {
	listener, err := quic.ListenAddr(addr, tlsConfig, quicConfig())
	if err != nil {
		return nil, err
	}
	return &Listener{listener: listener}, nil
}

// Accept waits for the next inbound connection and its control stream.
func (l *Listener) Accept(ctx context.Context) (*Conn, error) {
	conn, err := l.listener.Accept(ctx)
	if err != nil {
		return nil, err
	}
	stream, err := conn.AcceptStream(ctx)
	if err != nil {
		conn.CloseWithError(0, "control stream accept failed")
		return nil, err
	}
	return &Conn{conn: conn, stream: stream}, nil
}

// Addr returns the listener's local network address.
func (l *Listener) Addr() string { return l.listener.Addr().String() }

// Close closes the listener.
func (l *Listener) Close() error { return l.listener.Close() }

// RemoteAddr returns the connection's remote network address, used as
// a fallback peer identity before a MANIFEST's sender_id is known.
func (c *Conn) RemoteAddr() string {
	return c.conn.RemoteAddr().String()
}

// SendEnvelope writes one length-prefixed envelope frame. Safe for
// concurrent use; writes from different goroutines never interleave.
func (c *Conn) SendEnvelope(envelope []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(envelope)))
	if _, err := c.stream.Write(header[:]); err != nil {
		return err
	}
	_, err := c.stream.Write(envelope)
	return err
}

// ReceiveEnvelope blocks until one complete envelope frame has arrived,
// or the stream is closed or errors.
func (c *Conn) ReceiveEnvelope() ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(c.stream, header[:]); err != nil {
		return nil, err
	}
	length := binary.BigEndian.Uint32(header[:])
	if length > maxFrameSize {
		return nil, ErrFrameTooLarge
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(c.stream, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// Close tears down the control stream and the underlying connection.
func (c *Conn) Close() error {
	c.stream.Close()
	return c.conn.CloseWithError(0, "connection closed")
}
