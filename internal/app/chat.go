// Package app provides sample applications for the connection core: a
// binary-capable chat room and a text-only echo responder.
package app

import (
	"sync"

	"github.com/google/uuid"

	"github.com/wsockd/wsockd/pkg/codec"
	"github.com/wsockd/wsockd/pkg/server"
)

// Chat is a chat room application. Members exchange protobuf-encoded
// Messages as binary frames; plain text frames are wrapped into text
// messages on their behalf.
type Chat struct {
	mu      sync.RWMutex
	members map[*server.Connection]string
}

// NewChat creates an empty chat room.
func NewChat() *Chat {
	return &Chat{
		members: make(map[*server.Connection]string),
	}
}

// OnConnect implements server.Application.
func (h *Chat) OnConnect(c *server.Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.members[c] = ""
}

// OnDisconnect implements server.Application.
func (h *Chat) OnDisconnect(c *server.Connection) {
	h.mu.Lock()
	name, ok := h.members[c]
	delete(h.members, c)
	h.mu.Unlock()

	if ok && name != "" {
		h.broadcast(&Message{Kind: KindLeave, Sender: name}, c)
	}
}

// OnText implements server.Application. Raw text frames are relayed as text
// messages from the sender's current name.
func (h *Chat) OnText(c *server.Connection, payload []byte) {
	h.broadcast(&Message{
		Kind:    KindText,
		Sender:  h.name(c),
		Content: string(payload),
	}, c)
}

// OnBinary implements server.BinaryHandler. Binary frames carry
// protobuf-encoded Messages.
func (h *Chat) OnBinary(c *server.Connection, payload []byte) {
	var msg Message
	if err := msg.Decode(payload); err != nil {
		// Undecodable input from one member must not take the room down.
		return
	}

	switch msg.Kind {
	case KindJoin:
		h.mu.Lock()
		h.members[c] = msg.Sender
		h.mu.Unlock()
		h.broadcast(&msg, c)
	case KindLeave:
		h.mu.Lock()
		h.members[c] = ""
		h.mu.Unlock()
		h.broadcast(&msg, c)
	case KindText:
		h.broadcast(&msg, c)
	}
}

// MemberCount returns the number of connected members.
func (h *Chat) MemberCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.members)
}

func (h *Chat) name(c *server.Connection) string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if name := h.members[c]; name != "" {
		return name
	}
	return shortID(c.ID())
}

// broadcast sends msg to every member except the sender, stamping a message
// id when the sender supplied none.
func (h *Chat) broadcast(msg *Message, sender *server.Connection) {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	data := msg.Encode()

	h.mu.RLock()
	targets := make([]*server.Connection, 0, len(h.members))
	for member := range h.members {
		if member != sender {
			targets = append(targets, member)
		}
	}
	h.mu.RUnlock()

	for _, member := range targets {
		member.Send(data, codec.OpBinary, false)
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
