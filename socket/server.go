// Package socket is a namespaced publish/subscribe server over websockets.
//
// Each websocket joins the root namespace "/" on accept and may join any
// namespace provisioned with Of by sending a connect frame. Messages are
// JSON frames, see Frame.
package socket

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/nicebartender/robotsock/metrics"
	"github.com/nicebartender/robotsock/transport"
)

// RootPath is the namespace every websocket joins on accept.
const RootPath = "/"

// ErrInvalidPath is returned by Of for paths that cannot name a namespace.
var ErrInvalidPath = errors.New("invalid namespace path")

const (
	relayBuffer    = 1024
	publishTimeout = 2 * time.Second
)

type Server struct {
	id       string
	log      *slog.Logger
	metrics  *metrics.Metrics
	adapter  Adapter
	upgrader websocket.Upgrader

	mu         sync.RWMutex
	namespaces map[string]*Namespace

	clientsMu sync.Mutex
	clients   map[*Client]struct{}

	// relay queues emits for the adapter; publishing happens on relayLoop
	relay     chan AdapterMessage
	done      chan struct{}
	closeOnce sync.Once
}

var _ transport.Server = (*Server)(nil)

type Option func(*Server)

func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithAdapter shares emits with other server instances.
func WithAdapter(a Adapter) Option {
	return func(s *Server) { s.adapter = a }
}

func NewServer(opts ...Option) *Server {
	s := &Server{
		id:  uuid.NewString(),
		log: slog.Default(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		namespaces: make(map[string]*Namespace),
		clients:    make(map[*Client]struct{}),
		relay:      make(chan AdapterMessage, relayBuffer),
		done:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.namespaces[RootPath] = newNamespace(s, RootPath)
	return s
}

// ID identifies this instance to the adapter.
func (s *Server) ID() string {
	return s.id
}

// OnConnection registers fn on the root namespace.
func (s *Server) OnConnection(fn func(transport.Conn)) {
	root, _ := s.lookup(RootPath)
	root.OnConnection(fn)
}

func (s *Server) Of(path string) (transport.Channel, error) {
	ns, err := s.Namespace(path)
	if err != nil {
		return nil, err
	}
	return ns, nil
}

// Namespace returns the namespace at path, creating it on first use.
func (s *Server) Namespace(path string) (*Namespace, error) {
	if path == "" || !strings.HasPrefix(path, "/") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if ns, ok := s.namespaces[path]; ok {
		return ns, nil
	}
	ns := newNamespace(s, path)
	s.namespaces[path] = ns
	s.log.Debug("namespace created", "nsp", path)
	return ns, nil
}

func (s *Server) lookup(path string) (*Namespace, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ns, ok := s.namespaces[path]
	return ns, ok
}

// Start subscribes to the adapter, if any, and starts publishing local
// emits to it. Both stop when ctx is cancelled or the server is closed.
func (s *Server) Start(ctx context.Context) error {
	if s.adapter == nil {
		return nil
	}
	if err := s.adapter.Subscribe(ctx, s.deliverRemote); err != nil {
		return fmt.Errorf("adapter subscribe: %w", err)
	}
	go s.relayLoop(ctx)
	return nil
}

// publish queues msg for the adapter without blocking the emitter. When the
// queue is full the message is dropped.
func (s *Server) publish(msg AdapterMessage) {
	if s.adapter == nil {
		return
	}
	select {
	case s.relay <- msg:
	default:
		s.log.Warn("relay queue full, emit not shared", "nsp", msg.Nsp)
	}
}

func (s *Server) relayLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.done:
			return
		case msg := <-s.relay:
			pctx, cancel := context.WithTimeout(ctx, publishTimeout)
			if err := s.adapter.Publish(pctx, msg); err != nil {
				s.log.Warn("adapter publish failed", "nsp", msg.Nsp, "err", err)
			}
			cancel()
		}
	}
}

func (s *Server) deliverRemote(msg AdapterMessage) {
	if msg.Origin == s.id {
		return
	}
	ns, ok := s.lookup(msg.Nsp)
	if !ok {
		s.log.Debug("remote emit for unknown namespace", "nsp", msg.Nsp)
		return
	}
	ns.broadcast(msg.Frame)
}

// ServeHTTP upgrades the request and serves the websocket until it closes.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("upgrade failed", "err", err)
		return
	}

	c := newClient(s, conn)
	s.clientsMu.Lock()
	s.clients[c] = struct{}{}
	s.clientsMu.Unlock()

	go c.writePump()
	c.join(RootPath)
	c.readPump()
}

func (s *Server) unregister(c *Client) {
	s.clientsMu.Lock()
	defer s.clientsMu.Unlock()
	delete(s.clients, c)
}

// Close disconnects every client and stops relaying.
func (s *Server) Close() error {
	s.closeOnce.Do(func() { close(s.done) })

	s.clientsMu.Lock()
	clients := make([]*Client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.clientsMu.Unlock()

	for _, c := range clients {
		c.shutdown(ReasonServerShutdown)
	}
	if s.adapter != nil {
		return s.adapter.Close()
	}
	return nil
}
