// Package transport wraps a single connected stream and hides its partial
// read/write behavior behind whole-buffer send and accumulating receive.
package transport

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"
)

// DefaultReceiveLength is the read size used when the caller passes none.
const DefaultReceiveLength = 1400

// drainTimeout bounds follow-up reads taken while draining bytes the stream
// hinted are still pending. Expiry ends accumulation, it is not an error.
const drainTimeout = 25 * time.Millisecond

// ConnectionError reports a broken or unusable transport.
type ConnectionError struct {
	// Op names the failed operation.
	Op string
	// Err is the underlying cause, nil when the socket was simply not
	// connected.
	Err error
}

func (e *ConnectionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("transport: %s", e.Op)
	}
	return fmt.Sprintf("transport: %s: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

var socketIDs atomic.Int64

// Socket owns one connected stream. It never polls for readiness itself; an
// external multiplexer registers ResourceID and decides when to call Receive.
type Socket struct {
	conn      net.Conn
	id        int64
	timeout   time.Duration
	connected bool
	firstRead bool
}

// NewSocket wraps an accepted connection. timeout bounds each individual
// read/write syscall; zero disables deadlines.
func NewSocket(conn net.Conn, timeout time.Duration) *Socket {
	return &Socket{
		conn:      conn,
		id:        socketIDs.Add(1),
		timeout:   timeout,
		connected: true,
	}
}

// Send writes all of data, looping over partial writes. It reports how many
// bytes were written; any error means the transport is broken and the write
// must not be retried on this socket.
func (s *Socket) Send(data []byte) (int, error) {
	if len(data) == 0 {
		return 0, nil
	}
	if !s.connected {
		return 0, &ConnectionError{Op: "send on disconnected socket"}
	}

	written := 0
	for written < len(data) {
		if s.timeout > 0 {
			s.conn.SetWriteDeadline(time.Now().Add(s.timeout))
		}
		n, err := s.conn.Write(data[written:])
		if err != nil {
			return written, &ConnectionError{Op: "send", Err: err}
		}
		if n == 0 {
			return written, &ConnectionError{Op: "send wrote zero bytes"}
		}
		written += n
	}
	return written, nil
}

// Receive reads up to maxLength bytes, then keeps draining while the stream
// hints at more pending data: a read that fills the whole chunk widens the
// next read, and the very first read returning a single byte triggers one
// more read to smooth over clients that deliver their first packet
// byte-by-byte. Returns whatever accumulated on clean EOF or on a drain
// deadline expiry; a failed read with nothing accumulated is an error.
func (s *Socket) Receive(maxLength int) ([]byte, error) {
	if !s.connected {
		return nil, &ConnectionError{Op: "receive on disconnected socket"}
	}
	if maxLength <= 0 {
		maxLength = DefaultReceiveLength
	}
	defer s.conn.SetReadDeadline(time.Time{})

	var out []byte
	chunk := make([]byte, maxLength)
	deadline := s.timeout
	for {
		if deadline > 0 {
			s.conn.SetReadDeadline(time.Now().Add(deadline))
		}
		n, err := s.conn.Read(chunk)
		if n > 0 {
			out = append(out, chunk[:n]...)
		}
		first := !s.firstRead
		s.firstRead = true

		if err != nil {
			if err == io.EOF || len(out) > 0 || isTimeout(err) {
				// Deliver what we have; a dead transport shows up as zero
				// bytes to the caller or as an error on the next receive.
				return out, nil
			}
			return nil, &ConnectionError{Op: "receive", Err: err}
		}

		switch {
		case first && n == 1:
			// First-packet quirk: some clients deliver one byte, then the
			// rest. Read again before reporting.
		case n == len(chunk):
			// Filled the chunk exactly: treat as a continuation signal and
			// widen the next read.
			chunk = make([]byte, 2*len(chunk))
		default:
			return out, nil
		}
		deadline = drainTimeout
	}
}

// Disconnect releases the transport handle. Idempotent, never fails.
func (s *Socket) Disconnect() {
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.connected = false
}

// Shutdown stops both directions of the stream, when the transport supports
// half-close, then disconnects.
func (s *Socket) Shutdown() {
	if s.conn != nil {
		type closeWriter interface{ CloseWrite() error }
		type closeReader interface{ CloseRead() error }
		if cw, ok := s.conn.(closeWriter); ok {
			cw.CloseWrite()
		}
		if cr, ok := s.conn.(closeReader); ok {
			cr.CloseRead()
		}
	}
	s.Disconnect()
}

// IsConnected reports whether a transport handle is attached.
func (s *Socket) IsConnected() bool {
	return s.connected
}

// Resource returns the underlying connection for registration with an
// external readiness multiplexer, nil when disconnected.
func (s *Socket) Resource() net.Conn {
	return s.conn
}

// ResourceID returns a stable numeric identity for this socket.
func (s *Socket) ResourceID() int64 {
	return s.id
}

// RemoteAddr returns the peer address, nil when disconnected.
func (s *Socket) RemoteAddr() net.Addr {
	if s.conn == nil {
		return nil
	}
	return s.conn.RemoteAddr()
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}
