// Package server drives one accepted stream through the WebSocket session
// lifecycle: handshake, open-state frame dispatch, and the close handshake.
// It owns no listening socket; an external manager decides when each
// connection is readable and calls Process.
package server

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"net"
	"strconv"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/wsockd/wsockd/pkg/codec"
	"github.com/wsockd/wsockd/pkg/transport"
)

// Connection owns one Socket and the session state of one client. All
// methods must be called from a single goroutine; the manager's readiness
// loop serializes Process calls per connection.
type Connection struct {
	sock  *transport.Socket
	mgr   Manager
	codec codec.Codec
	cfg   *Config

	tracer trace.Tracer

	id   string
	ip   string
	port int

	handshaked bool
	fragment   []byte
	app        Application
	closed     bool
}

// NewConnection wraps an accepted socket. It resolves the peer endpoint and
// derives the connection id; failure of either is fatal to connection setup.
func NewConnection(sock *transport.Socket, mgr Manager, cd codec.Codec, cfg *Config) (*Connection, error) {
	if cfg == nil {
		cfg = NewConfig()
	}
	addr := sock.RemoteAddr()
	if addr == nil {
		return nil, fmt.Errorf("server: socket has no peer address")
	}
	host, portStr, err := net.SplitHostPort(addr.String())
	if err != nil {
		return nil, fmt.Errorf("server: resolve peer address %q: %w", addr.String(), err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("server: resolve peer port %q: %w", portStr, err)
	}
	id, err := connectionID(cfg, mgr.URI(), host, port)
	if err != nil {
		return nil, err
	}
	return &Connection{
		sock:   sock,
		mgr:    mgr,
		codec:  cd,
		cfg:    cfg,
		tracer: otel.GetTracerProvider().Tracer(tracerName),
		id:     id,
		ip:     host,
		port:   port,
	}, nil
}

// Process receives pending bytes and feeds them through the session state
// machine. The manager calls it when the socket is readable. Zero bytes or a
// failed receive yields a CloseError: the transport is presumed dead and the
// manager should tear the connection down without a close handshake.
func (c *Connection) Process() error {
	ctx, span := c.tracer.Start(context.Background(), spanProcess,
		trace.WithAttributes(c.spanAttributes()...))
	defer span.End()

	data, err := c.sock.Receive(c.cfg.ReadBufferSize)
	if err != nil || len(data) == 0 {
		cerr := &CloseError{Err: err}
		span.RecordError(cerr)
		span.SetStatus(codes.Error, "receive failed")
		return cerr
	}
	if err := c.onData(ctx, data); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dispatch failed")
		return err
	}
	return nil
}

// OnData routes received bytes to the handshake or the data path. This split
// is the single gate keeping payloads away from the application until the
// handshake has completed.
func (c *Connection) OnData(data []byte) error {
	return c.onData(context.Background(), data)
}

func (c *Connection) onData(ctx context.Context, data []byte) error {
	if !c.handshaked {
		return c.handshake(ctx, data)
	}
	return c.handle(data)
}

// handshake validates the upgrade request, resolves the application and
// answers the client. handshaked flips only after the response is on the
// wire.
func (c *Connection) handshake(ctx context.Context, data []byte) error {
	_, span := c.tracer.Start(ctx, spanHandshake)
	defer span.End()

	c.mgr.Notify(EventHandshakeRequest, c)

	hs, err := c.codec.ValidateRequestHandshake(data)
	if err != nil {
		span.SetStatus(codes.Error, "validation failed")
		return &BadRequestError{Err: err}
	}
	app := c.mgr.ApplicationForPath(hs.Path)
	if app == nil {
		span.SetStatus(codes.Error, "unknown path")
		return &BadRequestError{Err: fmt.Errorf("no application registered for path %q", hs.Path)}
	}
	if _, err := c.sock.Send(c.codec.ResponseHandshake(hs.Key)); err != nil {
		span.SetStatus(codes.Error, "response send failed")
		return &HandshakeError{Err: err}
	}

	c.handshaked = true
	c.app = app
	c.mgr.Notify(EventHandshakeSuccess, c)
	c.mgr.Log(LogInfo, "connection %s: handshake complete for path %q", c.id, hs.Path)
	app.OnConnect(c)
	return nil
}

// handle decodes received bytes, buffering any incomplete tail, and
// dispatches each complete frame.
func (c *Connection) handle(data []byte) error {
	if len(c.fragment) > 0 {
		data = append(c.fragment, data...)
		c.fragment = nil
	}
	frames, rest, err := c.codec.Decode(data)
	if err != nil {
		return err
	}
	// An incomplete frame split across reads is not an error; keep the tail
	// for the next receive.
	c.fragment = rest

	for _, frame := range frames {
		if err := c.dispatch(frame); err != nil {
			return err
		}
		if c.closed {
			break
		}
	}
	return nil
}

// dispatch routes one decoded frame. It always uses the payload of the frame
// just decoded, never previously buffered bytes.
func (c *Connection) dispatch(frame codec.Frame) error {
	switch frame.Op {
	case codec.OpText:
		c.app.OnText(c, frame.Payload)
	case codec.OpBinary:
		if bh, ok := c.app.(BinaryHandler); ok {
			bh.OnBinary(c, frame.Payload)
			return nil
		}
		// Binary is opt-in; applications without the capability end the
		// session with 1003.
		if err := c.Close(codec.CloseUnsupportedData); err != nil {
			c.mgr.Log(LogWarning, "connection %s: close after unsupported binary failed: %v", c.id, err)
		}
	case codec.OpPing:
		pong, err := c.codec.Encode(frame.Payload, codec.OpPong, false)
		if err != nil || len(pong) == 0 {
			c.mgr.Log(LogWarning, "connection %s: pong encode failed: %v", c.id, err)
			return nil
		}
		if _, err := c.sock.Send(pong); err != nil {
			return err
		}
	case codec.OpPong:
		// This server never sends pings, so unsolicited pongs carry nothing
		// to act on.
	case codec.OpClose:
		c.mgr.Log(LogInfo, "connection %s: client closed the session", c.id)
		if err := c.Close(codec.CloseNormal); err != nil {
			c.mgr.Log(LogWarning, "connection %s: close handshake failed: %v", c.id, err)
		}
	default:
		// The codec rejects unknown opcodes before frames reach dispatch.
		return fmt.Errorf("server: unhandled frame type %s", frame.Op)
	}
	return nil
}

// Send encodes payload as a single frame and writes it out. An empty payload
// is a deliberate no-op, not an error, as is an empty encoding; both report
// false with a nil error. Sending before the handshake is a HandshakeError,
// and a transport-level failure surfaces as the socket's ConnectionError.
func (c *Connection) Send(payload []byte, op codec.Opcode, masked bool) (bool, error) {
	if len(payload) == 0 {
		return false, nil
	}
	if !c.handshaked {
		return false, &HandshakeError{Err: errors.New("send before handshake completion")}
	}
	data, err := c.codec.Encode(payload, op, masked)
	if err != nil || len(data) == 0 {
		c.mgr.Log(LogWarning, "connection %s: encode produced no frame: %v", c.id, err)
		return false, nil
	}
	if _, err := c.sock.Send(data); err != nil {
		return false, err
	}
	return true, nil
}

// Close performs the close handshake with the given status and tears the
// connection down. If the close frame cannot be written the close aborts
// without teardown; the caller must eventually force-disconnect. Teardown
// runs exactly once, so closing an already-closed connection is a no-op.
func (c *Connection) Close(status codec.CloseCode) error {
	if c.closed {
		return nil
	}
	_, span := c.tracer.Start(context.Background(), spanClose,
		trace.WithAttributes(c.spanAttributes()...))
	defer span.End()

	payload := make([]byte, 2, 2+len(status.Reason()))
	binary.BigEndian.PutUint16(payload, uint16(status))
	payload = append(payload, status.Reason()...)

	frame, err := c.codec.Encode(payload, codec.OpClose, false)
	if err != nil {
		span.SetStatus(codes.Error, "close frame encode failed")
		return fmt.Errorf("server: encode close frame: %w", err)
	}
	if _, err := c.sock.Send(frame); err != nil {
		span.SetStatus(codes.Error, "close frame send failed")
		return err
	}
	c.teardown()
	return nil
}

// ProcessError tells the client why the connection is being abandoned, best
// effort, then tears it down. Secondary failures are logged, never raised.
func (c *Connection) ProcessError(cause error) {
	_, span := c.tracer.Start(context.Background(), spanProcessError,
		trace.WithAttributes(c.spanAttributes()...))
	defer span.End()
	span.RecordError(cause)

	var data []byte
	if !c.handshaked {
		data = c.codec.ErrorHandshake(cause)
	} else {
		data = c.codec.CloseFrame(cause)
	}
	if len(data) > 0 && c.sock.IsConnected() {
		if _, err := c.sock.Send(data); err != nil {
			c.mgr.Log(LogWarning, "connection %s: error notification failed: %v", c.id, err)
		}
	}
	c.teardown()
}

// teardown releases the connection exactly once: application callback,
// transport shutdown, manager deregistration.
func (c *Connection) teardown() {
	if c.closed {
		return
	}
	c.closed = true
	if c.app != nil {
		c.app.OnDisconnect(c)
	}
	c.sock.Shutdown()
	c.mgr.Notify(EventDisconnect, c)
	c.mgr.RemoveConnection(c)
}

// ID returns the derived connection identifier.
func (c *Connection) ID() string {
	return c.id
}

// IP returns the peer IP, fixed at construction.
func (c *Connection) IP() string {
	return c.ip
}

// Port returns the peer port, fixed at construction.
func (c *Connection) Port() int {
	return c.port
}

// Socket returns the owned socket.
func (c *Connection) Socket() *transport.Socket {
	return c.sock
}

// Application returns the bound application, nil before the handshake
// resolves one.
func (c *Connection) Application() Application {
	return c.app
}

// Handshaked reports whether the handshake has completed.
func (c *Connection) Handshaked() bool {
	return c.handshaked
}

// AwaitingData reports whether an incomplete frame is buffered.
func (c *Connection) AwaitingData() bool {
	return len(c.fragment) > 0
}
