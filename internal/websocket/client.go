package websocket

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"bulkhub/internal/bulk"
)

const (
	// Time allowed to write a message to the peer.
	defaultWriteWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	defaultPongWait = 60 * time.Second

	// Maximum inbound message size. Clients only send control frames.
	maxMessageSize = 512
)

// ClientOptions tunes the connection pump timings.
type ClientOptions struct {
	WriteWait  time.Duration
	PongWait   time.Duration
	PingPeriod time.Duration
}

func (o ClientOptions) normalized() ClientOptions {
	if o.WriteWait <= 0 {
		o.WriteWait = defaultWriteWait
	}
	if o.PongWait <= 0 {
		o.PongWait = defaultPongWait
	}
	if o.PingPeriod <= 0 || o.PingPeriod >= o.PongWait {
		o.PingPeriod = (o.PongWait * 9) / 10
	}
	return o
}

// Client streams the events of a single operation subscription to one
// WebSocket peer. The write pump drains the subscription channel and the
// read pump exists only to process pong frames and detect disconnects.
type Client struct {
	conn        Connection
	sub         *bulk.Subscription
	unsubscribe func(*bulk.Subscription)
	opts        ClientOptions
	logger      *slog.Logger

	done      chan struct{}
	closeOnce sync.Once
}

// NewClient creates a client bound to an active subscription. The
// unsubscribe callback runs exactly once, when the connection ends.
func NewClient(conn Connection, sub *bulk.Subscription, unsubscribe func(*bulk.Subscription), opts ClientOptions, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		conn:        conn,
		sub:         sub,
		unsubscribe: unsubscribe,
		opts:        opts.normalized(),
		logger:      logger,
		done:        make(chan struct{}),
	}
}

// Run starts both pumps and blocks until the connection ends, either
// because the operation reached a terminal state or the peer went away.
func (c *Client) Run() {
	go c.readPump()
	c.writePump()
}

// shutdown tears the connection down from whichever pump fails first.
func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		close(c.done)
		if c.unsubscribe != nil {
			c.unsubscribe(c.sub)
		}
		c.conn.Close()
	})
}

// readPump consumes inbound frames until the peer disconnects. Payloads
// are discarded; only the pong handler and close detection matter.
func (c *Client) readPump() {
	defer c.shutdown()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("websocket read ended",
					slog.String("operation_id", c.sub.OperationID()),
					slog.String("error", err.Error()))
			}
			return
		}
	}
}

// writePump forwards subscription events to the peer and keeps the
// connection alive with periodic pings. When the subscription channel
// closes after the terminal event, a close frame is sent and the pump
// returns.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.opts.PingPeriod)
	defer func() {
		ticker.Stop()
		c.shutdown()
	}()

	for {
		select {
		case ev, ok := <-c.sub.Events():
			c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "operation finished"))
				return
			}
			payload, err := json.Marshal(ev)
			if err != nil {
				c.logger.Error("failed to encode operation event",
					slog.String("operation_id", c.sub.OperationID()),
					slog.String("error", err.Error()))
				continue
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
