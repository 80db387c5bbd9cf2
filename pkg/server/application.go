package server

// Application receives dispatched payloads and lifecycle notifications for
// connections bound to its path.
type Application interface {
	// OnConnect is called once, after the connection's handshake completes.
	OnConnect(c *Connection)

	// OnDisconnect is called once, when the connection tears down.
	OnDisconnect(c *Connection)

	// OnText is called for each text frame.
	OnText(c *Connection, payload []byte)
}

// BinaryHandler is the opt-in binary capability. Connections close with
// status 1003 when a binary frame arrives for an application that does not
// implement it.
type BinaryHandler interface {
	// OnBinary is called for each binary frame.
	OnBinary(c *Connection, payload []byte)
}
