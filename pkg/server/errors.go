package server

import "fmt"

// HandshakeError reports a handshake that validated but could not be
// completed, typically because the response could not be written, or an
// operation attempted before the handshake finished.
type HandshakeError struct {
	Err error
}

func (e *HandshakeError) Error() string {
	return fmt.Sprintf("server: handshake failed: %v", e.Err)
}

func (e *HandshakeError) Unwrap() error {
	return e.Err
}

// BadRequestError reports a malformed handshake request or a request for a
// path no application is registered on.
type BadRequestError struct {
	Err error
}

func (e *BadRequestError) Error() string {
	return fmt.Sprintf("server: bad request: %v", e.Err)
}

func (e *BadRequestError) Unwrap() error {
	return e.Err
}

// CloseError reports a receive that produced zero or invalid data. The
// transport is presumed dead; the manager should tear the connection down
// without attempting a close handshake.
type CloseError struct {
	Err error
}

func (e *CloseError) Error() string {
	if e.Err == nil {
		return "server: connection closed by peer"
	}
	return fmt.Sprintf("server: connection closed: %v", e.Err)
}

func (e *CloseError) Unwrap() error {
	return e.Err
}
