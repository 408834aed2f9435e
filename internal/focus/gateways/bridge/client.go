package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/haukened/rr-focus/internal/focus/domain"
)

// Client is one connected page bridge.
type Client struct {
	id     string
	origin string
	conn   *websocket.Conn
	hub    *Hub

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

func (c *Client) ID() string { return c.id }

// Deliver sends a BLOCKING_STATUS_CHANGED event.
func (c *Client) Deliver(ctx context.Context, ev domain.ChangeEvent) error {
	return c.send(ctx, statusChanged(ev))
}

// send writes one JSON message. The write deadline is ctx's deadline or the
// hub's write timeout, whichever is sooner.
func (c *Client) send(ctx context.Context, msg outbound) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	deadline := time.Now().Add(c.hub.writeTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(deadline)
	return c.conn.WriteJSON(msg)
}

func (c *Client) readLoop(ctx context.Context) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.hub.logger.Debug(map[string]any{"id": c.id, "error": err}, "bridge read failed")
			}
			return
		}
		c.hub.handle(ctx, c, raw)
	}
}

func (c *Client) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.hub.writeTimeout))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// close sends a close frame and tears the connection down. Safe to call more
// than once.
func (c *Client) close(code int, reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
		c.writeMu.Unlock()
		c.conn.Close()
	})
}
