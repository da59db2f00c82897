// Package ws keeps the OCPP-J websocket link to the central system.
package ws

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	// ErrNotConnected is returned by Send while no link is up.
	ErrNotConnected = errors.New("ws: not connected")
	// ErrSendBufferFull is returned when the write pump falls behind.
	ErrSendBufferFull = errors.New("ws: send buffer full")
)

const (
	readLimit    = 1024 * 1024
	readTimeout  = 60 * time.Second
	pingInterval = 30 * time.Second
)

// MessageProcessor handles raw OCPP frames and returns the answer, if any.
type MessageProcessor interface {
	Process(ctx context.Context, raw []byte) ([]byte, error)
}

// Connection represents the active websocket link.
type Connection struct {
	ws           *websocket.Conn
	send         chan []byte
	logger       *zap.Logger
	processor    MessageProcessor
	writeTimeout time.Duration

	mu     sync.Mutex
	closed bool
}

// NewConnection builds connection wrapper.
func NewConnection(ws *websocket.Conn, processor MessageProcessor, writeTimeout time.Duration, logger *zap.Logger) *Connection {
	return &Connection{
		ws:           ws,
		send:         make(chan []byte, 16),
		logger:       logger,
		processor:    processor,
		writeTimeout: writeTimeout,
	}
}

// Run launches the pumps and blocks until the link fails or ctx is done.
func (c *Connection) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go c.writePump(ctx)
	go func() {
		<-ctx.Done()
		_ = c.ws.Close()
	}()
	return c.readPump(ctx)
}

func (c *Connection) readPump(ctx context.Context) error {
	defer c.cleanup()
	c.ws.SetReadLimit(readLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(readTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(readTimeout))
	})

	for {
		_, message, err := c.ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			c.logger.Info("connection read closed", zap.Error(err))
			return err
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(readTimeout))

		response, err := c.processor.Process(ctx, message)
		if err != nil {
			c.logger.Warn("failed to process message", zap.Error(err))
			continue
		}
		if response != nil {
			if err := c.Send(response); err != nil {
				c.logger.Warn("failed to answer message", zap.Error(err))
			}
		}
	}
}

func (c *Connection) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			_ = c.write(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.write(websocket.TextMessage, msg); err != nil {
				c.logger.Warn("connection write failed", zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := c.write(websocket.PingMessage, []byte("ping")); err != nil {
				return
			}
		}
	}
}

// Send enqueues a frame for writing.
func (c *Connection) Send(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrNotConnected
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return ErrSendBufferFull
	}
}

func (c *Connection) write(messageType int, data []byte) error {
	_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	return c.ws.WriteMessage(messageType, data)
}

func (c *Connection) cleanup() {
	c.mu.Lock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.mu.Unlock()
	_ = c.ws.Close()
}
