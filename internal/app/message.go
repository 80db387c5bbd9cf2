package app

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// MessageKind represents the type of chat message.
type MessageKind int

const (
	KindText MessageKind = iota
	KindJoin
	KindLeave
)

// String returns the string representation of MessageKind.
func (k MessageKind) String() string {
	switch k {
	case KindText:
		return "TEXT"
	case KindJoin:
		return "JOIN"
	case KindLeave:
		return "LEAVE"
	default:
		return "UNKNOWN"
	}
}

// Message is one chat event on the wire.
type Message struct {
	ID      string
	Kind    MessageKind
	Sender  string
	Content string
}

// Protobuf field numbers of Message.
const (
	fieldID      = 1
	fieldKind    = 2
	fieldSender  = 3
	fieldContent = 4
)

// Encode serializes the message as protobuf wire format.
func (m *Message) Encode() []byte {
	var b []byte
	if m.ID != "" {
		b = protowire.AppendTag(b, fieldID, protowire.BytesType)
		b = protowire.AppendString(b, m.ID)
	}
	if m.Kind != KindText {
		b = protowire.AppendTag(b, fieldKind, protowire.VarintType)
		b = protowire.AppendVarint(b, uint64(m.Kind))
	}
	if m.Sender != "" {
		b = protowire.AppendTag(b, fieldSender, protowire.BytesType)
		b = protowire.AppendString(b, m.Sender)
	}
	if m.Content != "" {
		b = protowire.AppendTag(b, fieldContent, protowire.BytesType)
		b = protowire.AppendString(b, m.Content)
	}
	return b
}

// Decode deserializes protobuf wire format into the message, replacing its
// contents. Unknown fields are skipped.
func (m *Message) Decode(data []byte) error {
	*m = Message{}
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return fmt.Errorf("app: decode message tag: %w", protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldID && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return fmt.Errorf("app: decode message id: %w", protowire.ParseError(n))
			}
			m.ID = v
			data = data[n:]
		case num == fieldKind && typ == protowire.VarintType:
			v, n := protowire.ConsumeVarint(data)
			if n < 0 {
				return fmt.Errorf("app: decode message kind: %w", protowire.ParseError(n))
			}
			m.Kind = MessageKind(v)
			data = data[n:]
		case num == fieldSender && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return fmt.Errorf("app: decode message sender: %w", protowire.ParseError(n))
			}
			m.Sender = v
			data = data[n:]
		case num == fieldContent && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(data)
			if n < 0 {
				return fmt.Errorf("app: decode message content: %w", protowire.ParseError(n))
			}
			m.Content = v
			data = data[n:]
		default:
			n := protowire.ConsumeFieldValue(num, typ, data)
			if n < 0 {
				return fmt.Errorf("app: decode message field %d: %w", num, protowire.ParseError(n))
			}
			data = data[n:]
		}
	}
	return nil
}
