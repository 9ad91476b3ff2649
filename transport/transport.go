// Package transport declares the capabilities the orchestrator needs from a
// real-time publish/subscribe server: named channels (namespaces) that accept
// connections and fan messages out to them.
package transport

// EventDisconnect is fired on a Conn when the client leaves its channel.
// Handlers receive the reason string as the only argument.
const EventDisconnect = "disconnect"

// Handler receives the arguments of one inbound message. It may be invoked
// any number of times until the connection disconnects.
type Handler func(args ...any)

// Conn is one client's session within a channel.
type Conn interface {
	ID() string
	// Path is the channel the connection belongs to.
	Path() string
	On(event string, h Handler)
}

// Channel is a named pub/sub address.
type Channel interface {
	Path() string
	OnConnection(fn func(Conn))
	// Emit delivers the message to every client currently connected to the
	// channel. An error means the message was not sent to anyone.
	Emit(event string, args ...any) error
}

// Server provisions channels. Of must be idempotent by path: two calls with
// the same path address the same subscriber set.
type Server interface {
	OnConnection(fn func(Conn))
	Of(path string) (Channel, error)
}
