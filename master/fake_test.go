package master

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nicebartender/robotsock/transport"
	"github.com/stretchr/testify/require"
)

type emitted struct {
	event string
	args  []any
}

type fakeServer struct {
	mu       sync.Mutex
	root     *fakeChannel
	channels map[string]*fakeChannel
	ofCalls  []string
	failPath string
}

func newFakeServer() *fakeServer {
	return &fakeServer{
		root:     &fakeChannel{path: "/"},
		channels: make(map[string]*fakeChannel),
	}
}

func (s *fakeServer) OnConnection(fn func(transport.Conn)) {
	s.root.OnConnection(fn)
}

func (s *fakeServer) Of(path string) (transport.Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ofCalls = append(s.ofCalls, path)
	if path == s.failPath {
		return nil, fmt.Errorf("cannot provision %s", path)
	}
	ch, ok := s.channels[path]
	if !ok {
		ch = &fakeChannel{path: path}
		s.channels[path] = ch
	}
	return ch, nil
}

func (s *fakeServer) channel(t *testing.T, path string) *fakeChannel {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	ch, ok := s.channels[path]
	require.True(t, ok, "channel %s not provisioned", path)
	return ch
}

type fakeChannel struct {
	path string

	mu       sync.Mutex
	handlers []func(transport.Conn)
	emits    []emitted
	nextID   int
}

func (c *fakeChannel) Path() string { return c.path }

func (c *fakeChannel) OnConnection(fn func(transport.Conn)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers = append(c.handlers, fn)
}

// Emit records the message, failing like a JSON transport would.
func (c *fakeChannel) Emit(event string, args ...any) error {
	if _, err := json.Marshal(args); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.emits = append(c.emits, emitted{event: event, args: args})
	return nil
}

func (c *fakeChannel) handlerCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers)
}

// connect simulates a client joining the channel.
func (c *fakeChannel) connect() *fakeConn {
	c.mu.Lock()
	c.nextID++
	conn := &fakeConn{id: fmt.Sprintf("%s#%d", c.path, c.nextID), path: c.path, handlers: make(map[string][]transport.Handler)}
	handlers := append([]func(transport.Conn){}, c.handlers...)
	c.mu.Unlock()

	for _, h := range handlers {
		h(conn)
	}
	return conn
}

func (c *fakeChannel) emitsOf(event string) []emitted {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []emitted
	for _, e := range c.emits {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

// await waits for the first emit named event.
func (c *fakeChannel) await(t *testing.T, event string) emitted {
	t.Helper()
	var got emitted
	require.Eventually(t, func() bool {
		es := c.emitsOf(event)
		if len(es) == 0 {
			return false
		}
		got = es[0]
		return true
	}, 2*time.Second, 5*time.Millisecond, "no %q emitted on %s", event, c.path)
	return got
}

type fakeConn struct {
	id   string
	path string

	mu       sync.Mutex
	handlers map[string][]transport.Handler
	order    []string
}

func (c *fakeConn) ID() string   { return c.id }
func (c *fakeConn) Path() string { return c.path }

func (c *fakeConn) On(event string, h transport.Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[event] = append(c.handlers[event], h)
	c.order = append(c.order, event)
}

func (c *fakeConn) fire(event string, args ...any) {
	c.mu.Lock()
	handlers := append([]transport.Handler(nil), c.handlers[event]...)
	c.mu.Unlock()
	for _, h := range handlers {
		h(args...)
	}
}

func (c *fakeConn) listeners(event string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.handlers[event])
}

// syncBuffer collects log output from concurrent goroutines.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) count(substr string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return strings.Count(b.buf.String(), substr)
}
