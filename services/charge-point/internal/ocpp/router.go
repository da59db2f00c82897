package ocpp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"chargepoint/services/charge-point/internal/ocpp/protocol"
)

var (
	// ErrUnsupportedAction is returned by Route for actions without handler.
	ErrUnsupportedAction = errors.New("ocpp: unsupported action")
	// ErrInvalidPayload is returned by Decode for payloads that do not fit the request type.
	ErrInvalidPayload = errors.New("ocpp: invalid payload")
)

// HandlerFunc processes a CALL payload from the central system and returns the response body.
type HandlerFunc func(ctx context.Context, payload json.RawMessage) (interface{}, error)

// Router dispatches OCPP actions to handlers.
type Router struct {
	handlers map[string]HandlerFunc
}

// NewRouter returns router.
func NewRouter() *Router {
	return &Router{handlers: make(map[string]HandlerFunc)}
}

// Register attaches handler to action.
func (r *Router) Register(action string, handler HandlerFunc) {
	r.handlers[action] = handler
}

// Route executes handler for message.
func (r *Router) Route(ctx context.Context, msg *Message) (interface{}, error) {
	handler, ok := r.handlers[msg.Action]
	if !ok {
		return nil, fmt.Errorf("%w %s", ErrUnsupportedAction, msg.Action)
	}
	return handler(ctx, msg.Payload)
}

// Journal records raw frames exchanged with the central system.
type Journal interface {
	Save(ctx context.Context, direction, action string, payload []byte) error
}

func (c *Client) journal(ctx context.Context, direction, action string, frame []byte) {
	if c.log == nil {
		return
	}
	if err := c.log.Save(ctx, direction, action, frame); err != nil {
		c.logger.Debug("journal ocpp frame failed", zap.String("action", action), zap.Error(err))
	}
}

// Process handles a raw frame from the central system. CALLs are routed and
// answered; results and errors complete pending calls.
func (c *Client) Process(ctx context.Context, raw []byte) ([]byte, error) {
	msg, err := c.parser.Parse(raw)
	if err != nil {
		return nil, err
	}

	switch msg.MessageType {
	case protocol.MessageTypeCallResult, protocol.MessageTypeCallError:
		c.resolve(msg)
		return nil, nil
	}

	c.journal(ctx, "incoming", msg.Action, raw)

	responsePayload, err := c.router.Route(ctx, msg)
	if err != nil {
		code := protocol.ErrorInternalError
		switch {
		case errors.Is(err, ErrUnsupportedAction):
			code = protocol.ErrorNotImplemented
		case errors.Is(err, ErrInvalidPayload):
			code = protocol.ErrorFormationViolation
		}
		c.logger.Warn("ocpp handler failed", zap.String("action", msg.Action), zap.Error(err))
		return BuildCallError(msg.UniqueID, code, err.Error())
	}

	if responsePayload == nil {
		return nil, nil
	}

	respBytes, err := BuildCallResult(msg.UniqueID, responsePayload)
	if err != nil {
		c.logger.Error("encode ocpp response failed", zap.Error(err))
		return nil, err
	}

	c.journal(ctx, "outgoing", msg.Action, respBytes)
	return respBytes, nil
}

// Decode convenience helper for handlers.
func Decode[T any](payload json.RawMessage) (T, error) {
	var target T
	if err := json.Unmarshal(payload, &target); err != nil {
		var zero T
		return zero, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	return target, nil
}
