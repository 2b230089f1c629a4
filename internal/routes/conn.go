package routes

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gregriff/duet/internal/schemas"
	"golang.org/x/net/websocket"
)

const writeWait = 10 * time.Second

// wsConn is a websocket registered with the dispatcher. Events are queued by Send and written by a
// single writer goroutine, so the dispatcher never blocks on the network.
type wsConn struct {
	handle uuid.UUID
	ws     *websocket.Conn
	log    *slog.Logger

	out       chan schemas.Outbound
	done      chan struct{}
	closeOnce sync.Once
}

func newWSConn(ws *websocket.Conn, buffer int, log *slog.Logger) *wsConn {
	handle := uuid.New()
	return &wsConn{
		handle: handle,
		ws:     ws,
		log:    log.With("conn", handle),
		out:    make(chan schemas.Outbound, buffer),
		done:   make(chan struct{}),
	}
}

func (c *wsConn) Handle() uuid.UUID { return c.handle }

// Send queues evt without blocking. It reports false when the queue is full or the connection closed.
func (c *wsConn) Send(evt schemas.Outbound) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.out <- evt:
		return true
	default:
		return false
	}
}

// Close hangs up. Events still queued are dropped.
func (c *wsConn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		if err := c.ws.Close(); err != nil {
			c.log.Debug("error closing ws", "err", err)
		}
	})
}

// writeForever drains the outbound queue until the connection closes
func (c *wsConn) writeForever() {
	for {
		select {
		case <-c.done:
			return
		case evt := <-c.out:
			env, err := schemas.Encode(evt)
			if err != nil {
				c.log.Error("error encoding event", "event", evt.Name(), "err", err)
				continue
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := websocket.JSON.Send(c.ws, env); err != nil {
				c.log.Debug("error writing to ws", "event", evt.Name(), "err", err)
				c.Close()
				return
			}
		}
	}
}
