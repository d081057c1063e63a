package realtime

import (
	"collaborative-office-suite/internal/errors"
	"collaborative-office-suite/internal/session"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	sendBuffer     = 256
)

// client is one websocket connection. It is the session's Listener, so
// everything the controller reports ends up as a frame on send.
type client struct {
	conn   *websocket.Conn
	send   chan Frame
	cancel context.CancelFunc
	log    *zap.Logger

	// frames pushed before the initial view are held back so the view
	// is always the first frame
	mu      sync.Mutex
	started bool
	early   []Frame
}

func newClient(cancel context.CancelFunc, log *zap.Logger) *client {
	return &client{
		send:   make(chan Frame, sendBuffer),
		cancel: cancel,
		log:    log,
	}
}

func (c *client) StatusChanged(status session.Status) {
	c.push(Frame{Type: TypeStatus, Payload: StatusPayload{Status: string(status)}})
}

func (c *client) RemoteUpdate(view session.View) {
	c.push(Frame{Type: TypeRemoteUpdate, Payload: view})
}

func (c *client) Terminated(err error) {
	c.push(errorFrame("", TypeTerminated, err))
	c.cancel()
}

// start sends first and then whatever was held back.
func (c *client) start(first Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.started = true
	c.enqueue(first)
	for _, f := range c.early {
		c.enqueue(f)
	}
	c.early = nil
}

func (c *client) push(f Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		c.early = append(c.early, f)
		return
	}
	c.enqueue(f)
}

// enqueue drops the connection rather than block the session on a reader
// that stopped reading.
func (c *client) enqueue(f Frame) {
	select {
	case c.send <- f:
	default:
		c.log.Warn("send buffer full, closing connection")
		c.cancel()
	}
}

// readPump hands every inbound message to handle until the connection fails.
func (c *client) readPump(handle func(Message)) {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Info("websocket read failed", zap.Error(err))
			}
			return
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.push(errorFrame("", TypeError, errors.InvalidInput("Invalid message", err)))
			continue
		}
		handle(msg)
	}
}

// writePump owns all writes. When ctx ends it flushes what is queued, says
// goodbye and closes the connection, which also stops readPump.
func (c *client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case f := <-c.send:
			if err := c.write(f); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-ctx.Done():
			for {
				select {
				case f := <-c.send:
					if err := c.write(f); err != nil {
						return
					}
				default:
					c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					c.conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		}
	}
}

func (c *client) write(f Frame) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(f); err != nil {
		c.log.Info("websocket write failed", zap.String("type", f.Type), zap.Error(err))
		return err
	}
	return nil
}
