package codec

import (
	"bufio"
	"bytes"
	"crypto/sha1"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"unicode/utf8"

	"github.com/gobwas/ws"
)

// websocketGUID is the fixed GUID appended to the client key when computing
// the Sec-WebSocket-Accept value (RFC6455 section 4.2.2).
const websocketGUID = "258EAFA5-E914-47DA-95CA-C5AB0DC85B11"

// DefaultMaxPayload bounds the payload length of a single decoded frame.
const DefaultMaxPayload = 1 << 20

// RFC6455 implements Codec for the final WebSocket protocol. Frame-level
// header and masking work is delegated to github.com/gobwas/ws; this type
// only adds buffer-boundary handling and server-side validation rules.
type RFC6455 struct {
	// MaxPayload is the largest accepted frame payload in bytes.
	MaxPayload int64
	// RequireMasking rejects unmasked client frames when true. Servers must
	// leave this enabled (RFC6455 section 5.1).
	RequireMasking bool
}

// NewRFC6455 returns a codec with server defaults.
func NewRFC6455() *RFC6455 {
	return &RFC6455{
		MaxPayload:     DefaultMaxPayload,
		RequireMasking: true,
	}
}

// ValidateRequestHandshake parses and validates a raw upgrade request.
func (c *RFC6455) ValidateRequestHandshake(data []byte) (*Handshake, error) {
	req, err := http.ReadRequest(bufio.NewReader(bytes.NewReader(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadHandshake, err)
	}
	defer req.Body.Close()

	if req.Method != http.MethodGet {
		return nil, fmt.Errorf("%w: method %q is not GET", ErrBadHandshake, req.Method)
	}
	if req.Host == "" {
		return nil, fmt.Errorf("%w: missing Host header", ErrBadHandshake)
	}
	if !strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
		return nil, fmt.Errorf("%w: missing websocket upgrade", ErrBadHandshake)
	}
	if !headerContainsToken(req.Header.Get("Connection"), "upgrade") {
		return nil, fmt.Errorf("%w: Connection header does not request upgrade", ErrBadHandshake)
	}
	if v := req.Header.Get("Sec-WebSocket-Version"); v != "13" {
		return nil, fmt.Errorf("%w: unsupported version %q", ErrBadHandshake, v)
	}
	key := req.Header.Get("Sec-WebSocket-Key")
	if key == "" {
		return nil, fmt.Errorf("%w: missing Sec-WebSocket-Key", ErrBadHandshake)
	}
	if raw, err := base64.StdEncoding.DecodeString(key); err != nil || len(raw) != 16 {
		return nil, fmt.Errorf("%w: malformed Sec-WebSocket-Key", ErrBadHandshake)
	}

	return &Handshake{
		Path:       req.URL.Path,
		Origin:     req.Header.Get("Origin"),
		Key:        key,
		Extensions: splitHeaderList(req.Header.Get("Sec-WebSocket-Extensions")),
		Protocols:  splitHeaderList(req.Header.Get("Sec-WebSocket-Protocol")),
	}, nil
}

// ResponseHandshake builds the 101 response answering key.
func (c *RFC6455) ResponseHandshake(key string) []byte {
	var buf bytes.Buffer
	buf.WriteString("HTTP/1.1 101 Switching Protocols\r\n")
	buf.WriteString("Upgrade: websocket\r\n")
	buf.WriteString("Connection: Upgrade\r\n")
	buf.WriteString("Sec-WebSocket-Accept: " + acceptKey(key) + "\r\n")
	buf.WriteString("\r\n")
	return buf.Bytes()
}

// ErrorHandshake builds a best-effort HTTP error response for a failed
// handshake.
func (c *RFC6455) ErrorHandshake(cause error) []byte {
	reason := "bad request"
	if cause != nil {
		reason = cause.Error()
	}
	var buf bytes.Buffer
	buf.WriteString("HTTP/1.1 400 Bad Request\r\n")
	buf.WriteString("Content-Length: 0\r\n")
	buf.WriteString("X-WebSocket-Reject-Reason: " + sanitizeHeaderValue(reason) + "\r\n")
	buf.WriteString("\r\n")
	return buf.Bytes()
}

// Encode wraps payload into a single finished frame.
func (c *RFC6455) Encode(payload []byte, op Opcode, masked bool) ([]byte, error) {
	wsOp, ok := toWireOpcode(op)
	if !ok {
		return nil, fmt.Errorf("%w: %#x", ErrUnknownOpcode, byte(op))
	}
	frame := ws.NewFrame(wsOp, true, payload)
	if masked {
		frame = ws.MaskFrame(frame)
	}
	var buf bytes.Buffer
	if err := ws.WriteFrame(&buf, frame); err != nil {
		return nil, fmt.Errorf("codec: write frame: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode parses data into complete frames, returning the undecodable tail as
// rest. An error means the stream violated the protocol.
func (c *RFC6455) Decode(data []byte) ([]Frame, []byte, error) {
	var frames []Frame
	r := bytes.NewReader(data)
	for r.Len() > 0 {
		// Offset of the frame about to be parsed, so an incomplete tail can
		// be handed back untouched.
		mark := len(data) - r.Len()

		header, err := ws.ReadHeader(r)
		if err != nil {
			if err == io.EOF || err == io.ErrUnexpectedEOF {
				return frames, data[mark:], nil
			}
			return frames, nil, fmt.Errorf("codec: read frame header: %w", err)
		}
		if err := c.checkHeader(header); err != nil {
			return frames, nil, err
		}
		if int64(r.Len()) < header.Length {
			return frames, data[mark:], nil
		}

		payload := make([]byte, header.Length)
		if _, err := io.ReadFull(r, payload); err != nil {
			return frames, data[mark:], nil
		}
		if header.Masked {
			ws.Cipher(payload, header.Mask, 0)
		}

		op := fromWireOpcode(header.OpCode)
		if op == OpText && !utf8.Valid(payload) {
			return frames, nil, ErrInvalidUTF8
		}
		frames = append(frames, Frame{Op: op, Payload: payload})
	}
	return frames, nil, nil
}

// CloseFrame builds an encoded close frame whose status reflects cause.
func (c *RFC6455) CloseFrame(cause error) []byte {
	code := CloseCodeFor(cause)
	payload := make([]byte, 2, 2+len(code.Reason()))
	binary.BigEndian.PutUint16(payload, uint16(code))
	payload = append(payload, code.Reason()...)
	data, err := c.Encode(payload, OpClose, false)
	if err != nil {
		return nil
	}
	return data
}

// CloseCodeFor maps a decode error to the close status sent back to the
// client. Unclassified errors count as protocol errors.
func CloseCodeFor(cause error) CloseCode {
	switch {
	case cause == nil:
		return CloseNormal
	case errors.Is(cause, ErrFrameTooLarge):
		return CloseFrameTooLarge
	case errors.Is(cause, ErrInvalidUTF8):
		return CloseInvalidPayload
	default:
		return CloseProtocolError
	}
}

func (c *RFC6455) checkHeader(h ws.Header) error {
	if h.Rsv != 0 {
		return ErrReservedBits
	}
	if h.OpCode.IsControl() {
		if h.Length > 125 || !h.Fin {
			return ErrBadControlFrame
		}
	} else if h.OpCode == ws.OpContinuation || !h.Fin {
		return ErrFragmentedFrame
	}
	if _, ok := fromWireOpcodeOK(h.OpCode); !ok {
		return fmt.Errorf("%w: %#x", ErrUnknownOpcode, byte(h.OpCode))
	}
	if c.RequireMasking && !h.Masked {
		return ErrUnmaskedFrame
	}
	if c.MaxPayload > 0 && h.Length > c.MaxPayload {
		return ErrFrameTooLarge
	}
	return nil
}

func acceptKey(key string) string {
	digest := sha1.Sum([]byte(key + websocketGUID))
	return base64.StdEncoding.EncodeToString(digest[:])
}

func toWireOpcode(op Opcode) (ws.OpCode, bool) {
	switch op {
	case OpText:
		return ws.OpText, true
	case OpBinary:
		return ws.OpBinary, true
	case OpClose:
		return ws.OpClose, true
	case OpPing:
		return ws.OpPing, true
	case OpPong:
		return ws.OpPong, true
	default:
		return 0, false
	}
}

func fromWireOpcode(op ws.OpCode) Opcode {
	o, _ := fromWireOpcodeOK(op)
	return o
}

func fromWireOpcodeOK(op ws.OpCode) (Opcode, bool) {
	switch op {
	case ws.OpText:
		return OpText, true
	case ws.OpBinary:
		return OpBinary, true
	case ws.OpClose:
		return OpClose, true
	case ws.OpPing:
		return OpPing, true
	case ws.OpPong:
		return OpPong, true
	default:
		return 0, false
	}
}

func headerContainsToken(value, token string) bool {
	for _, part := range strings.Split(value, ",") {
		if strings.EqualFold(strings.TrimSpace(part), token) {
			return true
		}
	}
	return false
}

func splitHeaderList(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func sanitizeHeaderValue(v string) string {
	return strings.NewReplacer("\r", " ", "\n", " ").Replace(v)
}
