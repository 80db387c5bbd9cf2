// Package codec defines the wire-level contract between a connection and the
// WebSocket protocol: handshake validation, frame encoding and decoding, and
// close/error frame production.
package codec

import "errors"

// Handshake holds the fields extracted from a validated upgrade request.
type Handshake struct {
	// Path is the request path used to route to an application.
	Path string
	// Origin is the value of the Origin header, empty if absent.
	Origin string
	// Key is the Sec-WebSocket-Key value the response must answer.
	Key string
	// Extensions are the offered extensions, passed through unparsed.
	Extensions []string
	// Protocols are the offered sub-protocols, passed through unparsed.
	Protocols []string
}

// Codec validates handshakes and converts between byte buffers and frames.
// Implementations must be safe for use from a single connection at a time.
type Codec interface {
	// ValidateRequestHandshake parses a raw upgrade request.
	ValidateRequestHandshake(data []byte) (*Handshake, error)

	// ResponseHandshake builds the raw 101 response answering key.
	ResponseHandshake(key string) []byte

	// ErrorHandshake builds a best-effort HTTP error response for a failed
	// handshake.
	ErrorHandshake(cause error) []byte

	// Encode wraps payload into a single frame of the given type.
	Encode(payload []byte, op Opcode, masked bool) ([]byte, error)

	// Decode parses data into complete frames. rest holds the trailing bytes
	// that do not yet form a complete frame; the caller buffers them and
	// retries once more data arrives. A non-nil error means the stream
	// violated the protocol and cannot continue.
	Decode(data []byte) (frames []Frame, rest []byte, err error)

	// CloseFrame builds an encoded close frame whose status code reflects
	// cause.
	CloseFrame(cause error) []byte
}

// Protocol violations reported by Decode.
var (
	ErrReservedBits    = errors.New("codec: reserved bits set without negotiated extension")
	ErrUnmaskedFrame   = errors.New("codec: client frame is not masked")
	ErrBadControlFrame = errors.New("codec: control frame fragmented or too long")
	ErrFragmentedFrame = errors.New("codec: message fragmentation is not supported")
	ErrFrameTooLarge   = errors.New("codec: frame payload exceeds limit")
	ErrInvalidUTF8     = errors.New("codec: text payload is not valid UTF-8")
	ErrUnknownOpcode   = errors.New("codec: unknown opcode")
)

// ErrBadHandshake is wrapped by all ValidateRequestHandshake failures.
var ErrBadHandshake = errors.New("codec: bad handshake request")
