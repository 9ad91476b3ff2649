package socket

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nicebartender/robotsock/transport"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	maxMsgSize = 1 << 20 // 1MB
	sendBuffer = 256
)

// Client is one websocket. It holds a Socket per joined namespace.
type Client struct {
	server *Server
	conn   *websocket.Conn
	send   chan []byte
	done   chan struct{}

	mu       sync.Mutex
	sockets  map[string]*Socket
	shutOnce sync.Once
}

func newClient(s *Server, conn *websocket.Conn) *Client {
	return &Client{
		server:  s,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		done:    make(chan struct{}),
		sockets: make(map[string]*Socket),
	}
}

func (c *Client) enqueue(data []byte) {
	select {
	case <-c.done:
	case c.send <- data:
	default:
		c.server.log.Warn("client send buffer full, dropping message")
	}
}

func (c *Client) sendFrame(f Frame) {
	data, err := json.Marshal(f)
	if err != nil {
		c.server.log.Error("marshal error", "err", err)
		return
	}
	c.enqueue(data)
}

// join connects the client to the namespace at path and acks it.
func (c *Client) join(path string) {
	ns, ok := c.server.lookup(path)
	if !ok {
		c.sendFrame(errorFrame(path, CodeInvalidNamespace, "Invalid namespace"))
		return
	}

	c.mu.Lock()
	if s, joined := c.sockets[path]; joined {
		c.mu.Unlock()
		c.sendFrame(Frame{Type: FrameTypeConnect, Nsp: path, SID: s.id})
		return
	}
	c.mu.Unlock()

	s := ns.connect(c)

	c.mu.Lock()
	select {
	case <-c.done:
		// shutdown raced with the join
		c.mu.Unlock()
		s.close(ReasonTransportClose)
		return
	default:
	}
	c.sockets[path] = s
	c.mu.Unlock()

	c.sendFrame(Frame{Type: FrameTypeConnect, Nsp: path, SID: s.id})
}

func (c *Client) leave(path, reason string) {
	c.mu.Lock()
	s, ok := c.sockets[path]
	delete(c.sockets, path)
	c.mu.Unlock()

	if ok {
		s.close(reason)
	}
}

func (c *Client) socket(path string) (*Socket, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sockets[path]
	return s, ok
}

// shutdown leaves every namespace and closes the websocket.
func (c *Client) shutdown(reason string) {
	c.shutOnce.Do(func() {
		close(c.done)

		c.mu.Lock()
		sockets := c.sockets
		c.sockets = make(map[string]*Socket)
		c.mu.Unlock()

		for _, s := range sockets {
			s.close(reason)
		}
		c.server.unregister(c)
		c.conn.Close()
	})
}

func (c *Client) handleFrame(data []byte) {
	var f Frame
	if err := json.Unmarshal(data, &f); err != nil {
		c.server.log.Warn("invalid frame", "err", err)
		c.sendFrame(errorFrame("", CodeBadFrame, "Invalid frame"))
		return
	}

	switch f.Type {
	case FrameTypeConnect:
		c.join(f.Nsp)

	case FrameTypeDisconnect:
		c.leave(f.Nsp, ReasonClientDisconnect)

	case FrameTypeEvent:
		s, ok := c.socket(f.Nsp)
		if !ok {
			c.sendFrame(errorFrame(f.Nsp, CodeNotConnected, "Not connected to namespace"))
			return
		}
		if f.Event == "" || f.Event == transport.EventDisconnect {
			c.sendFrame(errorFrame(f.Nsp, CodeBadFrame, "Reserved or empty event name"))
			return
		}
		args, err := DecodeArgs(f.Args)
		if err != nil {
			c.sendFrame(errorFrame(f.Nsp, CodeBadFrame, err.Error()))
			return
		}
		s.dispatch(f.Event, args...)

	default:
		c.server.log.Warn("unknown frame type", "type", f.Type)
		c.sendFrame(errorFrame(f.Nsp, CodeBadFrame, "Unknown frame type: "+f.Type))
	}
}

func (c *Client) readPump() {
	defer c.shutdown(ReasonTransportClose)

	c.conn.SetReadLimit(maxMsgSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.server.log.Info("client connection lost", "err", err)
			}
			return
		}
		c.handleFrame(message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
