package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/localrivet/dbgctl/protocol"
)

// MethodHandler answers one kind of server-originated request.
type MethodHandler interface {
	HandleRequest(ctx context.Context, params json.RawMessage) (interface{}, error)
}

// MethodHandlerFunc adapts a function to MethodHandler.
type MethodHandlerFunc func(ctx context.Context, params json.RawMessage) (interface{}, error)

// HandleRequest calls f.
func (f MethodHandlerFunc) HandleRequest(ctx context.Context, params json.RawMessage) (interface{}, error) {
	return f(ctx, params)
}

// NotificationHandler receives server notifications.
type NotificationHandler func(method string, params json.RawMessage)

// RegisterServerRequestHandler installs h for method, replacing any previous
// handler. It may be called before or after Connect.
func (c *Client) RegisterServerRequestHandler(method string, h MethodHandler) {
	c.handlers.Store(method, h)
}

// UnregisterServerRequestHandler removes the handler for method.
func (c *Client) UnregisterServerRequestHandler(method string) {
	c.handlers.Delete(method)
}

// SetNotificationHandler installs the receiver for server notifications.
// Passing nil restores the default, which logs them at debug level.
func (c *Client) SetNotificationHandler(h NotificationHandler) {
	if h == nil {
		c.notifyHandler.Store(nil)
		return
	}
	c.notifyHandler.Store(&h)
}

// TryHandleServerRequest answers payload if it is a server request and
// reports whether it was one. Responses, notifications and garbage yield false.
func (c *Client) TryHandleServerRequest(ctx context.Context, payload []byte) (bool, error) {
	msg, err := protocol.ParseMessage(payload)
	if err != nil || msg.Kind() != protocol.KindRequest {
		return false, nil
	}
	conn, err := c.liveConnection()
	if err != nil {
		return false, err
	}
	return true, c.answerServerRequest(ctx, conn, msg)
}

func (c *Client) lookupHandler(method string) (MethodHandler, bool) {
	if v, ok := c.handlers.Load(method); ok {
		return v.(MethodHandler), true
	}
	if method == protocol.MethodPing {
		return MethodHandlerFunc(func(context.Context, json.RawMessage) (interface{}, error) {
			return struct{}{}, nil
		}), true
	}
	return nil, false
}

func (c *Client) answerServerRequest(ctx context.Context, conn *connection, msg *protocol.Message) error {
	c.logger.Debug("<- server request %s (id %s)", msg.Method, msg.ID)

	h, ok := c.lookupHandler(msg.Method)
	if !ok {
		notFound := protocol.NewMethodNotFoundError(msg.Method)
		return c.post(ctx, conn, protocol.NewErrorResponse(msg.ID, notFound.Code, notFound.Message, notFound.Data))
	}

	result, err := invokeHandler(ctx, h, msg.Params)
	if err != nil {
		c.logger.Debug("Handler for %s failed: %v", msg.Method, err)
		var mcpErr *protocol.MCPError
		if errors.As(err, &mcpErr) {
			return c.post(ctx, conn, protocol.NewErrorResponse(msg.ID, mcpErr.Code, mcpErr.Message, mcpErr.Data))
		}
		return c.post(ctx, conn, protocol.NewErrorResponse(msg.ID, protocol.CodeInternalError, err.Error(), nil))
	}
	return c.post(ctx, conn, protocol.NewSuccessResponse(msg.ID, result))
}

func invokeHandler(ctx context.Context, h MethodHandler, params json.RawMessage) (result interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panicked: %v", r)
		}
	}()
	return h.HandleRequest(ctx, params)
}

func (c *Client) handleNotification(msg *protocol.Message) {
	if h := c.notifyHandler.Load(); h != nil {
		(*h)(msg.Method, msg.Params)
		return
	}

	switch msg.Method {
	case protocol.MethodNotificationMessage:
		var params protocol.LoggingMessageParams
		if err := protocol.UnmarshalPayload(msg.Params, &params); err == nil {
			c.logger.Debug("server log [%s]: %s", params.Level, params.Data)
			return
		}
	case protocol.MethodProgress:
		var params protocol.ProgressParams
		if err := protocol.UnmarshalPayload(msg.Params, &params); err == nil {
			if params.Total != nil && *params.Total > 0 {
				c.logger.Info("Progress %.0f/%.0f %s", params.Progress, *params.Total, params.Message)
			} else {
				c.logger.Info("Progress %v %s", params.Progress, params.Message)
			}
			return
		}
	case protocol.MethodNotifyToolsListChanged:
		c.logger.Debug("Server tool list changed")
		return
	}
	c.logger.Debug("<- notification %s", msg.Method)
}
