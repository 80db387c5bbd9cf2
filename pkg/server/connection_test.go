package server_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wsockd/wsockd/pkg/codec"
	"github.com/wsockd/wsockd/pkg/server"
	"github.com/wsockd/wsockd/pkg/transport"
)

const handshakeRequest = "GET /chat HTTP/1.1\r\n" +
	"Host: server.example.com\r\n" +
	"Upgrade: websocket\r\n" +
	"Connection: Upgrade\r\n" +
	"Sec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n" +
	"Sec-WebSocket-Version: 13\r\n\r\n"

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

// fakeConn scripts the read side and captures the write side of a peer.
type fakeConn struct {
	reads    [][]byte
	errAfter error
	writes   bytes.Buffer
	writeErr error
	port     int
	closed   bool
}

func newFakeConn(reads ...[]byte) *fakeConn {
	return &fakeConn{reads: reads, errAfter: timeoutError{}, port: 52341}
}

func (c *fakeConn) Read(p []byte) (int, error) {
	if len(c.reads) == 0 {
		return 0, c.errAfter
	}
	chunk := c.reads[0]
	n := copy(p, chunk)
	if n < len(chunk) {
		c.reads[0] = chunk[n:]
	} else {
		c.reads = c.reads[1:]
	}
	return n, nil
}

func (c *fakeConn) Write(p []byte) (int, error) {
	if c.writeErr != nil {
		return 0, c.writeErr
	}
	return c.writes.Write(p)
}

func (c *fakeConn) Close() error { c.closed = true; return nil }
func (c *fakeConn) LocalAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 8000}
}
func (c *fakeConn) RemoteAddr() net.Addr {
	return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: c.port}
}
func (c *fakeConn) SetDeadline(t time.Time) error      { return nil }
func (c *fakeConn) SetReadDeadline(t time.Time) error  { return nil }
func (c *fakeConn) SetWriteDeadline(t time.Time) error { return nil }

type fakeManager struct {
	uri     string
	apps    map[string]server.Application
	events  []server.Event
	removed []*server.Connection
}

func newFakeManager() *fakeManager {
	return &fakeManager{
		uri:  "ws://localhost:8000",
		apps: make(map[string]server.Application),
	}
}

func (m *fakeManager) URI() string { return m.uri }
func (m *fakeManager) ApplicationForPath(path string) server.Application {
	return m.apps[path]
}
func (m *fakeManager) RemoveConnection(c *server.Connection) {
	m.removed = append(m.removed, c)
}
func (m *fakeManager) Notify(event server.Event, c *server.Connection) {
	m.events = append(m.events, event)
}
func (m *fakeManager) Log(level server.LogLevel, format string, args ...any) {}

// recordingApp counts callbacks. It has no binary capability.
type recordingApp struct {
	connects    int
	disconnects int
	texts       [][]byte
}

func (a *recordingApp) OnConnect(c *server.Connection)              { a.connects++ }
func (a *recordingApp) OnDisconnect(c *server.Connection)           { a.disconnects++ }
func (a *recordingApp) OnText(c *server.Connection, payload []byte) { a.texts = append(a.texts, payload) }

// binaryApp adds the opt-in binary capability.
type binaryApp struct {
	recordingApp
	binaries [][]byte
}

func (a *binaryApp) OnBinary(c *server.Connection, payload []byte) {
	a.binaries = append(a.binaries, payload)
}

func newTestConnection(t *testing.T, app server.Application, reads ...[]byte) (*server.Connection, *fakeConn, *fakeManager) {
	t.Helper()
	fc := newFakeConn(reads...)
	mgr := newFakeManager()
	mgr.apps["/chat"] = app
	conn, err := server.NewConnection(transport.NewSocket(fc, 0), mgr, codec.NewRFC6455(), nil)
	require.NoError(t, err)
	return conn, fc, mgr
}

func performHandshake(t *testing.T, conn *server.Connection, fc *fakeConn) {
	t.Helper()
	require.NoError(t, conn.OnData([]byte(handshakeRequest)))
	require.True(t, conn.Handshaked())
	require.True(t, strings.HasPrefix(fc.writes.String(), "HTTP/1.1 101 Switching Protocols\r\n"))
	fc.writes.Reset()
}

// clientFrame builds a masked frame the way a conforming client would.
func clientFrame(t *testing.T, op ws.OpCode, payload []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, ws.WriteFrame(&buf, ws.MaskFrame(ws.NewFrame(op, true, payload))))
	return buf.Bytes()
}

// writtenFrames parses every server frame captured by the fake conn.
func writtenFrames(t *testing.T, fc *fakeConn) []ws.Frame {
	t.Helper()
	var frames []ws.Frame
	r := bytes.NewReader(fc.writes.Bytes())
	for r.Len() > 0 {
		frame, err := ws.ReadFrame(r)
		require.NoError(t, err)
		frames = append(frames, frame)
	}
	return frames
}

func TestNewConnection(t *testing.T) {
	conn, _, _ := newTestConnection(t, &recordingApp{})

	assert.Equal(t, "127.0.0.1", conn.IP())
	assert.Equal(t, 52341, conn.Port())
	assert.Len(t, conn.ID(), 64) // 256-bit digest, hex
	assert.False(t, conn.Handshaked())
	assert.Nil(t, conn.Application())
}

func TestNewConnection_NoPeerPort(t *testing.T) {
	fc := newFakeConn()
	sock := transport.NewSocket(fc, 0)
	sock.Disconnect() // no remote address anymore

	_, err := server.NewConnection(sock, newFakeManager(), codec.NewRFC6455(), nil)
	require.Error(t, err)
}

func TestConnection_HandshakeSuccess(t *testing.T) {
	app := &recordingApp{}
	conn, fc, mgr := newTestConnection(t, app)

	require.NoError(t, conn.OnData([]byte(handshakeRequest)))

	resp := fc.writes.String()
	assert.True(t, strings.HasPrefix(resp, "HTTP/1.1 101 Switching Protocols\r\n"))
	assert.Equal(t, 1, strings.Count(resp, "HTTP/1.1 101"))
	assert.True(t, conn.Handshaked())
	assert.Same(t, app, conn.Application().(*recordingApp))
	assert.Equal(t, 1, app.connects)
	assert.Equal(t, []server.Event{server.EventHandshakeRequest, server.EventHandshakeSuccess}, mgr.events)
}

func TestConnection_HandshakeBadRequest(t *testing.T) {
	app := &recordingApp{}
	conn, fc, _ := newTestConnection(t, app)

	err := conn.OnData([]byte("GET /chat HTTP/1.1\r\nHost: h\r\n\r\n"))
	var bad *server.BadRequestError
	require.ErrorAs(t, err, &bad)
	assert.False(t, conn.Handshaked())
	assert.Zero(t, app.connects)
	assert.Zero(t, fc.writes.Len())
}

func TestConnection_HandshakeUnknownPath(t *testing.T) {
	conn, _, _ := newTestConnection(t, &recordingApp{})

	req := strings.Replace(handshakeRequest, "GET /chat", "GET /nope", 1)
	err := conn.OnData([]byte(req))
	var bad *server.BadRequestError
	require.ErrorAs(t, err, &bad)
	assert.False(t, conn.Handshaked())
}

func TestConnection_HandshakeResponseSendFails(t *testing.T) {
	conn, fc, _ := newTestConnection(t, &recordingApp{})
	fc.writeErr = errors.New("broken pipe")

	err := conn.OnData([]byte(handshakeRequest))
	var hse *server.HandshakeError
	require.ErrorAs(t, err, &hse)
	assert.False(t, conn.Handshaked())
}

// No byte sequence may reach the application before the handshake: a frame
// sent first is parsed as a (failing) handshake request, never dispatched.
func TestConnection_DispatchGatedOnHandshake(t *testing.T) {
	app := &binaryApp{}
	conn, _, _ := newTestConnection(t, app)

	err := conn.OnData(clientFrame(t, ws.OpText, []byte("sneaky")))
	var bad *server.BadRequestError
	require.ErrorAs(t, err, &bad)
	assert.Empty(t, app.texts)
	assert.Empty(t, app.binaries)
	assert.Zero(t, app.connects)
}

// A close frame sent before the handshake is a bad request, not a close.
func TestConnection_CloseFramePreHandshake(t *testing.T) {
	app := &recordingApp{}
	conn, _, mgr := newTestConnection(t, app)

	err := conn.OnData(clientFrame(t, ws.OpClose, []byte{0x03, 0xe8}))
	var bad *server.BadRequestError
	require.ErrorAs(t, err, &bad)
	assert.Zero(t, app.disconnects)
	assert.Empty(t, mgr.removed)
}

func TestConnection_TextDispatch(t *testing.T) {
	app := &recordingApp{}
	conn, fc, _ := newTestConnection(t, app)
	performHandshake(t, conn, fc)

	require.NoError(t, conn.OnData(clientFrame(t, ws.OpText, []byte("hello"))))
	require.Len(t, app.texts, 1)
	assert.Equal(t, []byte("hello"), app.texts[0])
}

func TestConnection_PingPong(t *testing.T) {
	app := &recordingApp{}
	conn, fc, _ := newTestConnection(t, app)
	performHandshake(t, conn, fc)

	require.NoError(t, conn.OnData(clientFrame(t, ws.OpPing, []byte("abc"))))

	frames := writtenFrames(t, fc)
	require.Len(t, frames, 1)
	assert.Equal(t, ws.OpPong, frames[0].Header.OpCode)
	assert.Equal(t, []byte("abc"), frames[0].Payload)
	assert.Empty(t, app.texts)
	assert.Zero(t, app.disconnects)
}

func TestConnection_PongIgnored(t *testing.T) {
	app := &recordingApp{}
	conn, fc, _ := newTestConnection(t, app)
	performHandshake(t, conn, fc)

	require.NoError(t, conn.OnData(clientFrame(t, ws.OpPong, []byte("abc"))))
	assert.Zero(t, fc.writes.Len())
	assert.Empty(t, app.texts)
}

func TestConnection_BinarySupported(t *testing.T) {
	app := &binaryApp{}
	conn, fc, _ := newTestConnection(t, app)
	performHandshake(t, conn, fc)

	require.NoError(t, conn.OnData(clientFrame(t, ws.OpBinary, []byte{1, 2, 3})))
	require.Len(t, app.binaries, 1)
	assert.Equal(t, []byte{1, 2, 3}, app.binaries[0])
}

func TestConnection_BinaryUnsupported(t *testing.T) {
	app := &recordingApp{}
	conn, fc, mgr := newTestConnection(t, app)
	performHandshake(t, conn, fc)

	require.NoError(t, conn.OnData(clientFrame(t, ws.OpBinary, []byte{1, 2, 3})))

	frames := writtenFrames(t, fc)
	require.Len(t, frames, 1)
	assert.Equal(t, ws.OpClose, frames[0].Header.OpCode)
	payload := frames[0].Payload
	require.GreaterOrEqual(t, len(payload), 2)
	assert.Equal(t, uint16(1003), binary.BigEndian.Uint16(payload))
	assert.Equal(t, "unsupported data", string(payload[2:]))

	assert.Equal(t, 1, app.disconnects)
	assert.Len(t, mgr.removed, 1)
	assert.False(t, conn.Socket().IsConnected())
}

func TestConnection_ClientClose(t *testing.T) {
	app := &recordingApp{}
	conn, fc, mgr := newTestConnection(t, app)
	performHandshake(t, conn, fc)

	require.NoError(t, conn.OnData(clientFrame(t, ws.OpClose, []byte{0x03, 0xe8})))

	frames := writtenFrames(t, fc)
	require.Len(t, frames, 1)
	assert.Equal(t, ws.OpClose, frames[0].Header.OpCode)
	assert.Equal(t, uint16(1000), binary.BigEndian.Uint16(frames[0].Payload))
	assert.Equal(t, 1, app.disconnects)
	assert.Len(t, mgr.removed, 1)
}

func TestConnection_FragmentReassembly(t *testing.T) {
	app := &recordingApp{}
	conn, fc, _ := newTestConnection(t, app)
	performHandshake(t, conn, fc)

	frame := clientFrame(t, ws.OpText, []byte("split me"))
	split := len(frame) / 2

	require.NoError(t, conn.OnData(frame[:split]))
	assert.True(t, conn.AwaitingData())
	assert.Empty(t, app.texts)

	require.NoError(t, conn.OnData(frame[split:]))
	assert.False(t, conn.AwaitingData())
	require.Len(t, app.texts, 1)
	assert.Equal(t, []byte("split me"), app.texts[0])
}

func TestConnection_FragmentClearedAfterDecode(t *testing.T) {
	app := &recordingApp{}
	conn, fc, _ := newTestConnection(t, app)
	performHandshake(t, conn, fc)

	// Complete frame plus the head of the next one: the complete frame is
	// dispatched, only the tail stays buffered.
	first := clientFrame(t, ws.OpText, []byte("one"))
	second := clientFrame(t, ws.OpText, []byte("two"))
	split := len(second) - 2

	require.NoError(t, conn.OnData(append(append([]byte{}, first...), second[:split]...)))
	require.Len(t, app.texts, 1)
	assert.True(t, conn.AwaitingData())

	require.NoError(t, conn.OnData(second[split:]))
	assert.False(t, conn.AwaitingData())
	require.Len(t, app.texts, 2)
	assert.Equal(t, []byte("two"), app.texts[1])
}

func TestConnection_ProtocolViolationPropagates(t *testing.T) {
	app := &recordingApp{}
	conn, fc, _ := newTestConnection(t, app)
	performHandshake(t, conn, fc)

	var buf bytes.Buffer
	require.NoError(t, ws.WriteFrame(&buf, ws.NewFrame(ws.OpText, true, []byte("unmasked"))))

	err := conn.OnData(buf.Bytes())
	assert.ErrorIs(t, err, codec.ErrUnmaskedFrame)
	assert.Empty(t, app.texts)
}

func TestConnection_SendBeforeHandshake(t *testing.T) {
	conn, _, _ := newTestConnection(t, &recordingApp{})

	_, err := conn.Send([]byte("hi"), codec.OpText, false)
	var hse *server.HandshakeError
	require.ErrorAs(t, err, &hse)
}

func TestConnection_SendEmptyNoOp(t *testing.T) {
	conn, fc, _ := newTestConnection(t, &recordingApp{})
	performHandshake(t, conn, fc)

	ok, err := conn.Send(nil, codec.OpText, false)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Zero(t, fc.writes.Len())
}

func TestConnection_Send(t *testing.T) {
	conn, fc, _ := newTestConnection(t, &recordingApp{})
	performHandshake(t, conn, fc)

	ok, err := conn.Send([]byte("hello"), codec.OpText, false)
	require.NoError(t, err)
	assert.True(t, ok)

	frames := writtenFrames(t, fc)
	require.Len(t, frames, 1)
	assert.Equal(t, ws.OpText, frames[0].Header.OpCode)
	assert.Equal(t, []byte("hello"), frames[0].Payload)
}

func TestConnection_SendTransportFailure(t *testing.T) {
	conn, fc, _ := newTestConnection(t, &recordingApp{})
	performHandshake(t, conn, fc)
	fc.writeErr = errors.New("broken pipe")

	_, err := conn.Send([]byte("hello"), codec.OpText, false)
	var cerr *transport.ConnectionError
	require.ErrorAs(t, err, &cerr)
}

func TestConnection_CloseIdempotent(t *testing.T) {
	app := &recordingApp{}
	conn, fc, mgr := newTestConnection(t, app)
	performHandshake(t, conn, fc)

	require.NoError(t, conn.Close(codec.CloseNormal))
	require.NoError(t, conn.Close(codec.CloseNormal))

	frames := writtenFrames(t, fc)
	assert.Len(t, frames, 1)
	assert.Equal(t, 1, app.disconnects)
	assert.Len(t, mgr.removed, 1)
}

func TestConnection_CloseSendFailureAborts(t *testing.T) {
	app := &recordingApp{}
	conn, fc, mgr := newTestConnection(t, app)
	performHandshake(t, conn, fc)
	fc.writeErr = errors.New("broken pipe")

	err := conn.Close(codec.CloseNormal)
	require.Error(t, err)
	assert.Zero(t, app.disconnects)
	assert.Empty(t, mgr.removed)
	assert.True(t, conn.Socket().IsConnected())
}

func TestConnection_ProcessReadsAndDispatches(t *testing.T) {
	app := &recordingApp{}
	conn, fc, _ := newTestConnection(t, app, []byte(handshakeRequest))
	require.NoError(t, conn.Process())
	require.True(t, conn.Handshaked())

	fc.reads = [][]byte{clientFrame(t, ws.OpText, []byte("via process"))}
	require.NoError(t, conn.Process())
	require.Len(t, app.texts, 1)
	assert.Equal(t, []byte("via process"), app.texts[0])
}

func TestConnection_ProcessDeadStream(t *testing.T) {
	conn, fc, _ := newTestConnection(t, &recordingApp{})
	fc.errAfter = io.EOF

	err := conn.Process()
	var cerr *server.CloseError
	require.ErrorAs(t, err, &cerr)
}

func TestConnection_ProcessErrorPreHandshake(t *testing.T) {
	app := &recordingApp{}
	conn, fc, mgr := newTestConnection(t, app)

	conn.ProcessError(&server.BadRequestError{Err: errors.New("nonsense")})

	assert.True(t, strings.HasPrefix(fc.writes.String(), "HTTP/1.1 400 Bad Request\r\n"))
	assert.Len(t, mgr.removed, 1)
	assert.False(t, conn.Socket().IsConnected())
	// No application was ever bound, so no disconnect callback fires.
	assert.Zero(t, app.disconnects)
}

func TestConnection_ProcessErrorPostHandshake(t *testing.T) {
	app := &recordingApp{}
	conn, fc, mgr := newTestConnection(t, app)
	performHandshake(t, conn, fc)

	conn.ProcessError(codec.ErrUnmaskedFrame)

	frames := writtenFrames(t, fc)
	require.Len(t, frames, 1)
	assert.Equal(t, ws.OpClose, frames[0].Header.OpCode)
	assert.Equal(t, uint16(1002), binary.BigEndian.Uint16(frames[0].Payload))
	assert.Equal(t, 1, app.disconnects)
	assert.Len(t, mgr.removed, 1)
}

func TestConnection_ProcessErrorSendFailureSwallowed(t *testing.T) {
	app := &recordingApp{}
	conn, fc, mgr := newTestConnection(t, app)
	performHandshake(t, conn, fc)
	fc.writeErr = errors.New("broken pipe")

	conn.ProcessError(codec.ErrUnmaskedFrame) // must not panic or leak the error

	assert.Equal(t, 1, app.disconnects)
	assert.Len(t, mgr.removed, 1)
}
