package server

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/Tyrowin/gorelay/internal/logging"
	"github.com/Tyrowin/gorelay/internal/pending"
	"github.com/Tyrowin/gorelay/internal/protocol"
	"github.com/Tyrowin/gorelay/internal/session"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
	sendBuffer = 256
)

// Dispatcher is the relay core as seen by the transport.
type Dispatcher interface {
	Handle(ctx context.Context, conn session.Conn, userID string, in protocol.Inbound) (string, error)
	Disconnect(userID, connID string)
	RegisterPending(ctx context.Context, userID, name, iconURL string) (pending.Registration, error)
	UnregisterPending(userID string) bool
}

// Client is one WebSocket connection. It implements session.Conn and
// supervises the events it reads: authentication failures close the
// connection at once, and store failures close it after maxFailures in a
// row.
type Client struct {
	id             string
	conn           *websocket.Conn
	send           chan []byte
	hub            *Hub
	dispatcher     Dispatcher
	addr           string
	maxMessageSize int64
	maxFailures    int
	log            *zap.Logger

	mu     sync.Mutex
	closed bool

	// owned by readPump
	userID   string
	failures int
}

// NewClient creates a Client for an upgraded connection.
func NewClient(conn *websocket.Conn, hub *Hub, dispatcher Dispatcher, addr string, maxMessageSize int64, maxFailures int, logger *zap.Logger) *Client {
	if conn != nil {
		conn.SetReadLimit(maxMessageSize)
	}
	id := uuid.NewString()
	return &Client{
		id:             id,
		conn:           conn,
		send:           make(chan []byte, sendBuffer),
		hub:            hub,
		dispatcher:     dispatcher,
		addr:           addr,
		maxMessageSize: maxMessageSize,
		maxFailures:    maxFailures,
		log:            logging.DefaultIfNil(logger).With(zap.String("conn_id", id), zap.String("addr", addr)),
	}
}

// ID implements session.Conn.
func (c *Client) ID() string { return c.id }

// Send implements session.Conn. A client whose buffer is full is closed
// rather than allowed to stall the sender.
func (c *Client) Send(frame []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return false
	}
	select {
	case c.send <- frame:
		return true
	default:
		c.log.Warn("send buffer full; closing client")
		c.closeLocked()
		return false
	}
}

// Close implements session.Conn. The write pump sends a close frame and
// tears the connection down; it is safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	c.closeLocked()
	c.mu.Unlock()
}

func (c *Client) closeLocked() {
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Client) setupReadConnection() {
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Warn("error setting initial read deadline", zap.Error(err))
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

// handleReadError logs a read error at a level matching its cause.
func (c *Client) handleReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn("message exceeded maximum size", zap.Int64("max_bytes", c.maxMessageSize))
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		c.log.Info("client disconnected", zap.Error(err))
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log.Info("client connection closed", zap.Error(err))
	case websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseMessageTooBig):
		c.log.Warn("unexpected websocket close", zap.Error(err))
	default:
		c.log.Warn("websocket read error", zap.Error(err))
	}
}

// processMessage decodes and dispatches one frame. It returns false when
// the connection must be closed.
func (c *Client) processMessage(ctx context.Context, raw []byte) bool {
	in, err := protocol.Decode(raw)
	if err != nil {
		c.log.Debug("invalid frame dropped", zap.Error(err))
		return true
	}

	userID, err := c.dispatcher.Handle(ctx, c, c.userID, in)
	c.userID = userID
	if err == nil {
		c.failures = 0
		return true
	}

	if session.IsAuthError(err) {
		c.log.Info("handshake rejected", zap.Error(err))
		return false
	}

	c.failures++
	c.log.Warn("event failed",
		zap.String("event", in.Event()),
		zap.String("user_id", c.userID),
		zap.Int("failures", c.failures),
		zap.Error(err))
	if c.failures >= c.maxFailures {
		c.log.Error("too many consecutive failures; closing client", zap.String("user_id", c.userID))
		return false
	}
	return true
}

func (c *Client) readPump() {
	defer func() {
		c.dispatcher.Disconnect(c.userID, c.id)
		c.hub.unregisterClient(c)
		c.Close()
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Warn("error closing connection in readPump", zap.Error(err))
		}
	}()

	c.setupReadConnection()
	ctx := c.hub.Context()

	for {
		msgType, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		if !c.processMessage(ctx, raw) {
			return
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.closeConnection()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Client) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message, ok := <-c.send:
		return c.handleMessage(message, ok)
	case <-ticker.C:
		return c.handlePing()
	}
}

// closeConnection safely closes the WebSocket connection with proper error handling
func (c *Client) closeConnection() {
	if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.Warn("error closing connection in writePump", zap.Error(err))
	}
}

// handleMessage writes one outgoing frame and returns false if the connection should be closed
func (c *Client) handleMessage(message []byte, ok bool) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Warn("error setting write deadline", zap.Error(err))
		return false
	}

	if !ok {
		return c.writeCloseMessage()
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn("error writing message", zap.Error(err))
		}
		return false
	}
	return true
}

// writeCloseMessage sends a close message to the client
func (c *Client) writeCloseMessage() bool {
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
	if err := c.conn.WriteMessage(websocket.CloseMessage, msg); err != nil && !isExpectedCloseError(err) {
		c.log.Debug("error writing close message", zap.Error(err))
	}
	return false
}

// handlePing sends a ping message to keep the connection alive
func (c *Client) handlePing() bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.log.Warn("error setting write deadline for ping", zap.Error(err))
		return false
	}
	if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.log.Warn("error writing ping message", zap.Error(err))
		return false
	}
	return true
}
