package ocpp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"chargepoint/services/charge-point/internal/ocpp/protocol"
)

// ErrTimeout is returned when no CALLRESULT arrives in time.
var ErrTimeout = errors.New("ocpp: call timed out")

// CallError is a CALLERROR answer of the central system.
type CallError struct {
	Code        string
	Description string
}

func (e *CallError) Error() string {
	return fmt.Sprintf("ocpp: call error %s: %s", e.Code, e.Description)
}

// Sender writes a frame to the transport.
type Sender interface {
	Send(msg []byte) error
}

// Client sends CALLs to the central system and serves the CALLs it receives.
type Client struct {
	parser  *Parser
	router  *Router
	sender  Sender
	log     Journal
	logger  *zap.Logger
	timeout time.Duration

	mu      sync.Mutex
	pending map[string]chan *Message
}

// NewClient builds Client. log may be nil.
func NewClient(router *Router, sender Sender, log Journal, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if router == nil {
		router = NewRouter()
	}
	return &Client{
		parser:  NewParser(),
		router:  router,
		sender:  sender,
		log:     log,
		logger:  logger,
		timeout: protocol.DefaultCallTimeout,
		pending: make(map[string]chan *Message),
	}
}

// SetTimeout overrides protocol.DefaultCallTimeout.
func (c *Client) SetTimeout(d time.Duration) {
	if d > 0 {
		c.timeout = d
	}
}

// Call sends request as action and decodes the confirmation into conf.
func (c *Client) Call(ctx context.Context, action string, request, conf interface{}) error {
	id := NewUniqueID()
	frame, err := BuildCall(id, action, request)
	if err != nil {
		return fmt.Errorf("ocpp: encode %s: %w", action, err)
	}

	done := make(chan *Message, 1)
	c.mu.Lock()
	c.pending[id] = done
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.sender.Send(frame); err != nil {
		return fmt.Errorf("ocpp: send %s: %w", action, err)
	}
	c.journal(ctx, "outgoing", action, frame)

	timer := time.NewTimer(c.timeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return fmt.Errorf("%w: %s", ErrTimeout, action)
	case msg := <-done:
		c.journal(ctx, "incoming", action, msg.Payload)
		if msg.MessageType == protocol.MessageTypeCallError {
			return &CallError{Code: msg.ErrorCode, Description: msg.ErrorDescription}
		}
		if conf == nil {
			return nil
		}
		if err := json.Unmarshal(msg.Payload, conf); err != nil {
			return fmt.Errorf("ocpp: decode %s confirmation: %w", action, err)
		}
		return nil
	}
}

func (c *Client) resolve(msg *Message) {
	c.mu.Lock()
	done, ok := c.pending[msg.UniqueID]
	c.mu.Unlock()
	if !ok {
		c.logger.Warn("unexpected ocpp response", zap.String("unique_id", msg.UniqueID))
		return
	}
	select {
	case done <- msg:
	default:
	}
}

// Pending returns the number of outstanding calls.
func (c *Client) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
