package notify

import (
	"log"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxInboundSize = 1024
)

// WSConn adapts a websocket to Conn. Outbound events queue in a bounded
// buffer drained by a single writer goroutine.
type WSConn struct {
	id   string
	ws   *websocket.Conn
	send chan Event

	done      chan struct{}
	closeOnce sync.Once
}

func NewWSConn(ws *websocket.Conn, bufferSize int) *WSConn {
	if bufferSize < 1 {
		bufferSize = 32
	}
	return &WSConn{
		id:   uuid.NewString(),
		ws:   ws,
		send: make(chan Event, bufferSize),
		done: make(chan struct{}),
	}
}

func (c *WSConn) ID() string {
	return c.id
}

func (c *WSConn) Send(event Event) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}

	select {
	case c.send <- event:
		return nil
	case <-c.done:
		return ErrConnClosed
	default:
		return ErrSendBufferFull
	}
}

func (c *WSConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.ws.Close()
	})
	return err
}

// Serve registers the connection for actorID and blocks until the peer
// disconnects or the connection is closed, then deregisters it.
func (c *WSConn) Serve(hub *Hub, actorID int64) {
	hub.Register(actorID, c)
	log.Printf("[notify] actor %d connected (session %s)", actorID, c.id)

	go c.writePump()
	c.readPump()

	hub.Deregister(actorID, c)
	_ = c.Close()
	log.Printf("[notify] actor %d disconnected (session %s)", actorID, c.id)
}

// readPump only services control frames; clients never send events.
func (c *WSConn) readPump() {
	c.ws.SetReadLimit(maxInboundSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[notify] WARN: session %s read: %v", c.id, err)
			}
			return
		}
	}
}

func (c *WSConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case event := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(event); err != nil {
				log.Printf("[notify] WARN: session %s write %s: %v", c.id, event.Name, err)
				_ = c.Close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.Close()
				return
			}
		}
	}
}
