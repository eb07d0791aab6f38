package live

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/bekhzad-khamidullaev/queue-stats/internal/bus"
)

// client is one attached websocket consumer. All writes go through the
// send channel so the single writePump goroutine owns the connection.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	sub  *bus.Subscriber

	mu     sync.Mutex
	closed bool
	send   chan []byte
}

// enqueue queues a frame for the write pump. A full queue drops the
// frame rather than blocking the caller.
func (c *client) enqueue(frame Frame) bool {
	data, err := json.Marshal(frame)
	if err != nil {
		c.hub.logger.Warn("Frame marshal failed", "type", frame.Type, "error", err)
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		c.hub.framesDropped.Add(1)
		return false
	}
}

// closeSend marks the client closed and releases the write pump.
func (c *client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			c.hub.detach(c)
			return
		}
	}
}

// readPump processes client commands until the connection drops.
func (c *client) readPump() {
	defer c.hub.detach(c)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}

		var cmd Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			c.enqueue(Frame{Type: MsgError, Payload: ErrorPayload{Message: "malformed command"}})
			continue
		}

		switch cmd.Action {
		case "subscribe":
			c.sub.SetFilter(filterFor(cmd.Events))
			c.enqueue(Frame{Type: MsgSubscribed, Payload: SubscribedPayload{Events: echoEvents(cmd.Events)}})
		case "ping":
			c.enqueue(Frame{Type: MsgPong, Payload: PongPayload{Time: time.Now()}})
		default:
			c.enqueue(Frame{Type: MsgError, Payload: ErrorPayload{Message: "unknown action: " + cmd.Action}})
		}
	}
}

// filterFor maps a subscribe command's event list to a bus filter. An
// empty list or the "all" keyword selects everything.
func filterFor(events []string) bus.Filter {
	if len(events) == 0 {
		return bus.All()
	}
	for _, e := range events {
		if strings.EqualFold(e, "all") {
			return bus.All()
		}
	}
	return bus.Names(events...)
}

func echoEvents(events []string) []string {
	if len(events) == 0 {
		return []string{"all"}
	}
	return events
}
