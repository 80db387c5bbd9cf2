package server

import (
	"fmt"
	"log"
	"sync"
)

// LogLevel classifies manager log messages.
type LogLevel string

const (
	LogInfo    LogLevel = "info"
	LogWarning LogLevel = "warning"
	LogError   LogLevel = "error"
)

// Event identifies a connection lifecycle notification.
type Event string

const (
	EventHandshakeRequest Event = "handshake.request"
	EventHandshakeSuccess Event = "handshake.success"
	EventDisconnect       Event = "client.disconnect"
)

// Manager is the connection registry a Connection reports to. The listening
// socket, the accept loop and readiness multiplexing live behind this
// interface and are out of scope here.
type Manager interface {
	// URI returns the server URI connections are accepted on.
	URI() string

	// ApplicationForPath resolves a handshake path to an application, nil
	// when no application is registered on it.
	ApplicationForPath(path string) Application

	// RemoveConnection deregisters a connection after teardown.
	RemoveConnection(c *Connection)

	// Notify reports a lifecycle event.
	Notify(event Event, c *Connection)

	// Log records a message at the given level.
	Log(level LogLevel, format string, args ...any)
}

// Registry is an in-memory Manager: a path routing table plus the set of
// live connections. It performs no socket work of its own.
type Registry struct {
	uri   string
	apps  map[string]Application
	conns map[*Connection]struct{}
	mu    sync.RWMutex
}

// NewRegistry creates a Registry for the given server URI.
func NewRegistry(uri string) *Registry {
	return &Registry{
		uri:   uri,
		apps:  make(map[string]Application),
		conns: make(map[*Connection]struct{}),
	}
}

// URI implements Manager.
func (r *Registry) URI() string {
	return r.uri
}

// RegisterApplication routes path to app.
func (r *Registry) RegisterApplication(path string, app Application) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.apps[path] = app
}

// ApplicationForPath implements Manager.
func (r *Registry) ApplicationForPath(path string) Application {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.apps[path]
}

// AddConnection registers a freshly accepted connection.
func (r *Registry) AddConnection(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conns[c] = struct{}{}
}

// RemoveConnection implements Manager.
func (r *Registry) RemoveConnection(c *Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.conns, c)
}

// ConnectionCount returns the number of registered connections.
func (r *Registry) ConnectionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Notify implements Manager by logging the event.
func (r *Registry) Notify(event Event, c *Connection) {
	if c != nil {
		r.Log(LogInfo, "event %s: connection %s (%s:%d)", event, c.ID(), c.IP(), c.Port())
		return
	}
	r.Log(LogInfo, "event %s", event)
}

// Log implements Manager.
func (r *Registry) Log(level LogLevel, format string, args ...any) {
	log.Printf("[%s] %s", level, fmt.Sprintf(format, args...))
}
