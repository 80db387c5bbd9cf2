package server

import (
	"go.opentelemetry.io/otel/attribute"
)

// Tracer instrumentation name and span names used by Connection.
const (
	tracerName = "github.com/wsockd/wsockd/pkg/server"

	spanProcess      = "wsockd.connection.process"
	spanHandshake    = "wsockd.connection.handshake"
	spanClose        = "wsockd.connection.close"
	spanProcessError = "wsockd.connection.process_error"
)

func (c *Connection) spanAttributes() []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String("wsockd.connection.id", c.id),
		attribute.String("wsockd.connection.ip", c.ip),
		attribute.Int("wsockd.connection.port", c.port),
	}
}
