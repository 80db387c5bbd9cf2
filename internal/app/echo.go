package app

import (
	"github.com/wsockd/wsockd/pkg/codec"
	"github.com/wsockd/wsockd/pkg/server"
)

// Echo writes every text frame straight back to its sender. It deliberately
// does not implement server.BinaryHandler, so binary frames end the session
// with close status 1003.
type Echo struct{}

// NewEcho creates an Echo application.
func NewEcho() *Echo {
	return &Echo{}
}

// OnConnect implements server.Application.
func (e *Echo) OnConnect(c *server.Connection) {}

// OnDisconnect implements server.Application.
func (e *Echo) OnDisconnect(c *server.Connection) {}

// OnText implements server.Application.
func (e *Echo) OnText(c *server.Connection, payload []byte) {
	c.Send(payload, codec.OpText, false)
}
