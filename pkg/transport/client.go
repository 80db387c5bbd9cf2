package transport

import (
	"fmt"
	"net"
	"time"
)

// ClientSocket is the client-role counterpart of Socket: it establishes an
// outbound connection itself instead of wrapping an accepted one. The connect
// timeout applies only to dialing; established-stream operations use the
// socket timeout like any other Socket.
type ClientSocket struct {
	*Socket
	address        string
	connectTimeout time.Duration
	socketTimeout  time.Duration
}

// NewClientSocket prepares an unconnected client socket for address
// (host:port).
func NewClientSocket(address string, connectTimeout, socketTimeout time.Duration) *ClientSocket {
	return &ClientSocket{
		address:        address,
		connectTimeout: connectTimeout,
		socketTimeout:  socketTimeout,
	}
}

// Connect dials the remote endpoint. Calling Connect on an already connected
// socket is an error; disconnect first.
func (c *ClientSocket) Connect() error {
	if c.Socket != nil && c.Socket.IsConnected() {
		return &ConnectionError{Op: "connect on connected socket"}
	}
	conn, err := net.DialTimeout("tcp", c.address, c.connectTimeout)
	if err != nil {
		return &ConnectionError{Op: fmt.Sprintf("connect to %s", c.address), Err: err}
	}
	c.Socket = NewSocket(conn, c.socketTimeout)
	return nil
}

// IsConnected reports whether the socket has an established connection.
func (c *ClientSocket) IsConnected() bool {
	return c.Socket != nil && c.Socket.IsConnected()
}
