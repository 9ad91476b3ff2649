// Package client speaks the socket frame protocol from Go: join namespaces,
// emit messages and wait for replies.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/nicebartender/robotsock/socket"
)

// Message is an inbound event or error frame.
type Message struct {
	Nsp   string
	Event string
	Args  []any
	Err   *socket.FrameError
}

type Client struct {
	conn    *websocket.Conn
	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan socket.Frame

	messages  chan Message
	done      chan struct{}
	closeOnce sync.Once
}

// Dial opens a websocket to url (ws:// or wss://).
func Dial(ctx context.Context, url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", url, err)
	}

	c := &Client{
		conn:     conn,
		pending:  make(map[string]chan socket.Frame),
		messages: make(chan Message, 256),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
	})
	return c.conn.Close()
}

func (c *Client) readLoop() {
	defer close(c.done)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			slog.Debug("client readLoop ended", "err", err)
			return
		}

		var f socket.Frame
		if err := json.Unmarshal(data, &f); err != nil {
			continue
		}

		switch f.Type {
		case socket.FrameTypeConnect:
			c.resolve(f)
		case socket.FrameTypeError:
			if c.resolve(f) {
				continue
			}
			c.deliver(Message{Nsp: f.Nsp, Err: f.Error})
		case socket.FrameTypeEvent:
			args, err := socket.DecodeArgs(f.Args)
			if err != nil {
				slog.Warn("client: bad event args", "event", f.Event, "err", err)
				continue
			}
			c.deliver(Message{Nsp: f.Nsp, Event: f.Event, Args: args})
		}
	}
}

// resolve hands f to a pending Join on the same namespace.
func (c *Client) resolve(f socket.Frame) bool {
	c.pendingMu.Lock()
	ch, ok := c.pending[f.Nsp]
	if ok {
		delete(c.pending, f.Nsp)
	}
	c.pendingMu.Unlock()
	if ok {
		ch <- f
	}
	return ok
}

func (c *Client) deliver(m Message) {
	select {
	case c.messages <- m:
	default:
		slog.Warn("client: message buffer full, dropping", "nsp", m.Nsp, "event", m.Event)
	}
}

func (c *Client) write(f socket.Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Join connects to the namespace at nsp and waits for the server's ack.
func (c *Client) Join(ctx context.Context, nsp string) error {
	ch := make(chan socket.Frame, 1)
	c.pendingMu.Lock()
	c.pending[nsp] = ch
	c.pendingMu.Unlock()

	if err := c.write(socket.Frame{Type: socket.FrameTypeConnect, Nsp: nsp}); err != nil {
		c.pendingMu.Lock()
		delete(c.pending, nsp)
		c.pendingMu.Unlock()
		return err
	}

	select {
	case f := <-ch:
		if f.Error != nil {
			return fmt.Errorf("join %s: %s: %s", nsp, f.Error.Code, f.Error.Message)
		}
		return nil
	case <-ctx.Done():
		c.pendingMu.Lock()
		delete(c.pending, nsp)
		c.pendingMu.Unlock()
		return fmt.Errorf("join %s: %w", nsp, ctx.Err())
	case <-c.done:
		return fmt.Errorf("join %s: connection closed", nsp)
	}
}

// Leave disconnects from nsp.
func (c *Client) Leave(nsp string) error {
	return c.write(socket.Frame{Type: socket.FrameTypeDisconnect, Nsp: nsp})
}

// Emit sends event with args on nsp.
func (c *Client) Emit(nsp, event string, args ...any) error {
	data, err := socket.EncodeEvent(nsp, event, args...)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

// Next returns the next inbound message.
func (c *Client) Next(ctx context.Context) (Message, error) {
	select {
	case m := <-c.messages:
		return m, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case <-c.done:
		return Message{}, fmt.Errorf("connection closed")
	}
}

// Await skips messages until one on nsp named one of events arrives.
// Error frames on nsp end the wait with an error.
func (c *Client) Await(ctx context.Context, nsp string, events ...string) (Message, error) {
	for {
		m, err := c.Next(ctx)
		if err != nil {
			return Message{}, err
		}
		if m.Nsp != nsp {
			continue
		}
		if m.Err != nil {
			return m, fmt.Errorf("%s: %s", m.Err.Code, m.Err.Message)
		}
		for _, ev := range events {
			if m.Event == ev {
				return m, nil
			}
		}
	}
}
