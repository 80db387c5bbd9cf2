package codec

// Opcode identifies the type of a WebSocket frame. Values match RFC6455.
type Opcode byte

const (
	OpText   Opcode = 0x1
	OpBinary Opcode = 0x2
	OpClose  Opcode = 0x8
	OpPing   Opcode = 0x9
	OpPong   Opcode = 0xA
)

// String returns the string representation of the opcode.
func (op Opcode) String() string {
	switch op {
	case OpText:
		return "text"
	case OpBinary:
		return "binary"
	case OpClose:
		return "close"
	case OpPing:
		return "ping"
	case OpPong:
		return "pong"
	default:
		return "unknown"
	}
}

// IsControl reports whether the opcode denotes a control frame.
func (op Opcode) IsControl() bool {
	return op >= OpClose
}

// Frame is one decoded WebSocket frame: an opcode and its unmasked payload.
type Frame struct {
	Op      Opcode
	Payload []byte
}
