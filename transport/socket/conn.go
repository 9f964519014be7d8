package socket

import (
	"sync"
	"time"

	"github.com/autom8ter/realtime"
	"github.com/gorilla/websocket"
)

// conn is an admitted websocket connection. Only writeLoop writes data frames to the socket.
type conn struct {
	ws        *websocket.Conn
	send      chan realtime.Message
	done      chan struct{}
	closeOnce sync.Once
}

func newConn(ws *websocket.Conn, buffer int) *conn {
	return &conn{
		ws:   ws,
		send: make(chan realtime.Message, buffer),
		done: make(chan struct{}),
	}
}

// enqueue queues the message without blocking and returns false if it was dropped
func (c *conn) enqueue(msg realtime.Message) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *conn) writeLoop() error {
	for {
		select {
		case <-c.done:
			return nil
		case msg := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteJSON(&msg); err != nil {
				c.close()
				return err
			}
		}
	}
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		c.ws.Close()
	})
}
