package socket

import (
	"sync"

	"github.com/nicebartender/robotsock/transport"
)

// Socket is one client's membership in one namespace.
type Socket struct {
	id     string
	ns     *Namespace
	client *Client

	mu       sync.RWMutex
	handlers map[string][]transport.Handler

	closeOnce sync.Once
}

var _ transport.Conn = (*Socket)(nil)

func (s *Socket) ID() string {
	return s.id
}

func (s *Socket) Path() string {
	return s.ns.path
}

func (s *Socket) On(event string, h transport.Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handlers[event] = append(s.handlers[event], h)
}

func (s *Socket) dispatch(event string, args ...any) {
	s.mu.RLock()
	handlers := append([]transport.Handler(nil), s.handlers[event]...)
	s.mu.RUnlock()

	if len(handlers) == 0 {
		s.ns.server.log.Debug("no listener", "nsp", s.ns.path, "event", event, "sid", s.id)
		return
	}
	for _, h := range handlers {
		h(args...)
	}
}

// close leaves the namespace and fires disconnect handlers exactly once.
func (s *Socket) close(reason string) {
	s.closeOnce.Do(func() {
		s.ns.remove(s)
		s.ns.server.metrics.Disconnected(s.ns.path)
		s.dispatch(transport.EventDisconnect, reason)
	})
}
