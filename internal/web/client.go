package web

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/codefionn/snipbridge/internal/logger"
	"github.com/codefionn/snipbridge/internal/protocol"
	"github.com/codefionn/snipbridge/internal/relay"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Outbound frame buffer per connection. A peer that falls this far
	// behind starts losing frames; delivery is fire-and-forget.
	sendBufferSize = 256

	// Slack on top of the code payload ceiling so the validator, not the
	// transport read limit, rejects oversized frames with a protocol error.
	readLimitSlack = 64 * 1024
)

// Client pumps frames between one websocket and the hub. It implements
// relay.Sender; the hub owns its lifetime through Accept and Disconnect.
type Client struct {
	hub    *relay.Hub
	conn   *websocket.Conn
	log    *logger.Logger
	connID string

	send      chan *protocol.Message
	quit      chan struct{}
	closeOnce sync.Once

	pongWait   time.Duration
	pingPeriod time.Duration
}

// NewClient wraps an upgraded websocket connection
func NewClient(hub *relay.Hub, conn *websocket.Conn, heartbeat time.Duration) *Client {
	return &Client{
		hub:        hub,
		conn:       conn,
		log:        logger.Global().WithPrefix("ws"),
		send:       make(chan *protocol.Message, sendBufferSize),
		quit:       make(chan struct{}),
		pongWait:   2 * heartbeat,
		pingPeriod: heartbeat,
	}
}

// Send enqueues a frame for delivery. Never blocks; reports false when the
// peer's buffer is full and the frame was dropped.
func (c *Client) Send(msg *protocol.Message) bool {
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

// Close asks the write pump to shut the socket down. Idempotent.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.quit)
	})
}

// Run starts the pumps after the hub admitted the connection under connID.
// It returns when the read pump exits.
func (c *Client) Run(connID string) {
	c.connID = connID
	go c.writePump()
	c.readPump()
}

// readPump pumps frames from the websocket into the hub. Frames from one
// socket are processed in send order.
func (c *Client) readPump() {
	defer func() {
		c.hub.Disconnect(c.connID)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(protocol.MaxCodeSize + readLimitSlack)
	_ = c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Error("Read error on %s: %v", c.connID, err)
			}
			return
		}
		c.hub.HandleFrame(c.connID, raw)
	}
}

// writePump pumps frames from the send buffer to the websocket and keeps
// the transport alive with periodic pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			data, err := json.Marshal(msg)
			if err != nil {
				c.log.Error("Failed to marshal %s frame: %v", msg.Type, err)
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.Debug("Write error on %s: %v", c.connID, err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.quit:
			// Drain whatever was queued before the close so acks and error
			// frames sent just before eviction still reach the peer.
			for {
				select {
				case msg := <-c.send:
					_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					data, err := json.Marshal(msg)
					if err != nil {
						continue
					}
					if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
						return
					}
				default:
					_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
					_ = c.conn.WriteMessage(websocket.CloseMessage,
						websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
					return
				}
			}
		}
	}
}
