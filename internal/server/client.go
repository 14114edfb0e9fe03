// ABOUTME: Per-connection websocket client with read and write pumps.
// ABOUTME: Dispatches inbound protocol messages to the broker by declared role.

package server

import (
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AlekLiao/CS-System/internal/broker"
	"github.com/AlekLiao/CS-System/internal/protocol"
)

const (
	// writeWait bounds a single frame write.
	writeWait = 10 * time.Second

	// sendBufferSize is the outbound queue per connection. Sends beyond a
	// full buffer are dropped, never blocked on.
	sendBufferSize = 64
)

// client is one websocket connection. It implements broker.Sender.
type client struct {
	conn   *websocket.Conn
	broker *broker.Broker
	logger *slog.Logger

	send  chan protocol.Message
	pings chan struct{}
	done  chan struct{}
	once  sync.Once

	// alive is cleared by the liveness sweep and set again by pongs.
	alive atomic.Bool

	// role and id are set once on the hello message, in the read pump.
	mu   sync.Mutex
	role string
	id   string
}

func newClient(conn *websocket.Conn, b *broker.Broker, logger *slog.Logger) *client {
	c := &client{
		conn:   conn,
		broker: b,
		logger: logger.With("component", "client", "remote", conn.RemoteAddr().String()),
		send:   make(chan protocol.Message, sendBufferSize),
		pings:  make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	c.alive.Store(true)
	return c
}

// Send queues an outbound message. Fire-and-forget: a closed connection or a
// full buffer drops the message.
func (c *client) Send(msg protocol.Message) {
	select {
	case <-c.done:
	case c.send <- msg:
	default:
		c.logger.Warn("send buffer full, dropping message", "type", msg.Type)
	}
}

// Live reports whether the connection is still open.
func (c *client) Live() bool {
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// close tears the connection down once; safe from any goroutine.
func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

// requestPing asks the write pump to emit a ping control frame.
func (c *client) requestPing() {
	select {
	case c.pings <- struct{}{}:
	default:
	}
}

// identity returns the declared role and id, empty before the hello.
func (c *client) identity() (role, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.role, c.id
}

func (c *client) setIdentity(role, id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.role = role
	c.id = id
}

// readPump consumes inbound frames until the connection dies, then runs the
// disconnect teardown for whatever identity the connection declared.
func (c *client) readPump() {
	defer func() {
		c.close()
		role, id := c.identity()
		switch role {
		case protocol.RoleAgent:
			c.broker.DisconnectAgent(id, c)
		case protocol.RoleCustomer:
			c.broker.DisconnectCustomer(id, c)
		}
	}()

	c.conn.SetPongHandler(func(string) error {
		c.alive.Store(true)
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		msg, ok := protocol.Decode(data)
		if !ok {
			// Malformed payloads are dropped, never fatal.
			continue
		}
		c.dispatch(msg)
	}
}

// dispatch routes one inbound message. Messages before the role declaration,
// duplicate declarations, and unknown types are silently dropped.
func (c *client) dispatch(msg protocol.Message) {
	role, id := c.identity()

	if role == "" {
		if msg.Type == protocol.TypeHello {
			c.handleHello(msg)
		}
		return
	}

	switch {
	case role == protocol.RoleCustomer && msg.Type == protocol.TypeJoinQueue:
		c.broker.JoinQueue(id)

	case role == protocol.RoleAgent && msg.Type == protocol.TypeSetCapacity:
		if msg.Capacity != nil {
			c.broker.SetCapacity(id, *msg.Capacity)
		}

	case msg.Type == protocol.TypeChatMessage:
		// Text presence is the guard; an empty chat line is still relayed.
		if msg.RoomID != "" && msg.Text != nil {
			c.broker.Relay(role, id, msg.RoomID, *msg.Text)
		}

	case msg.Type == protocol.TypeEndChat:
		if msg.RoomID != "" {
			c.broker.EndSession(msg.RoomID)
		}
	}
}

// handleHello admits the connection under its declared role. Any role other
// than agent registers as a customer.
func (c *client) handleHello(msg protocol.Message) {
	if msg.Role == protocol.RoleAgent {
		id := c.broker.RegisterAgent(c, msg.AgentID, msg.Name, msg.CapacityValue())
		c.setIdentity(protocol.RoleAgent, id)
		return
	}
	id := c.broker.RegisterCustomer(c, msg.CustomerID)
	c.setIdentity(protocol.RoleCustomer, id)
}

// writePump is the single writer for the connection: data frames from the
// send queue plus ping control frames for the liveness sweep.
func (c *client) writePump() {
	defer c.close()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-c.pings:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
