package socket

import (
	"sync"

	"github.com/google/uuid"
	"github.com/nicebartender/robotsock/transport"
)

// Namespace is a channel clients join by path. Emit fans out to every
// joined socket, and to other instances when the server has an adapter.
type Namespace struct {
	server *Server
	path   string

	mu       sync.RWMutex
	handlers []func(transport.Conn)
	sockets  map[*Socket]struct{}
}

var _ transport.Channel = (*Namespace)(nil)

func newNamespace(s *Server, path string) *Namespace {
	return &Namespace{
		server:  s,
		path:    path,
		sockets: make(map[*Socket]struct{}),
	}
}

func (n *Namespace) Path() string {
	return n.path
}

// OnConnection registers fn for every socket that joins from now on.
func (n *Namespace) OnConnection(fn func(transport.Conn)) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers = append(n.handlers, fn)
}

// Emit sends event to every joined socket. It fails only when args cannot
// be encoded, in which case nothing is sent.
func (n *Namespace) Emit(event string, args ...any) error {
	data, err := EncodeEvent(n.path, event, args...)
	if err != nil {
		n.server.log.Error("emit dropped", "nsp", n.path, "event", event, "err", err)
		return err
	}
	n.broadcast(data)
	n.server.metrics.Emitted(n.path)
	n.server.publish(AdapterMessage{Origin: n.server.id, Nsp: n.path, Frame: data})
	return nil
}

// Len reports the number of joined sockets.
func (n *Namespace) Len() int {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return len(n.sockets)
}

func (n *Namespace) broadcast(data []byte) {
	n.mu.RLock()
	subs := make([]*Socket, 0, len(n.sockets))
	for s := range n.sockets {
		subs = append(subs, s)
	}
	n.mu.RUnlock()

	for _, s := range subs {
		s.client.enqueue(data)
	}
}

// connect creates the socket for c and runs the connection handlers on it
// before returning, so listeners are in place before the client is acked.
func (n *Namespace) connect(c *Client) *Socket {
	s := &Socket{
		id:       uuid.NewString(),
		ns:       n,
		client:   c,
		handlers: make(map[string][]transport.Handler),
	}

	n.mu.Lock()
	n.sockets[s] = struct{}{}
	handlers := append([]func(transport.Conn){}, n.handlers...)
	n.mu.Unlock()

	n.server.metrics.Connected(n.path)
	for _, h := range handlers {
		h(s)
	}
	return s
}

func (n *Namespace) remove(s *Socket) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.sockets, s)
}
