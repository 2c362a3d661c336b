package client

import (
	"context"
	"encoding/json"

	"github.com/localrivet/dbgctl/protocol"
)

// SamplingHandler fulfils a server's sampling/createMessage request, usually
// by forwarding it to a language model.
type SamplingHandler func(ctx context.Context, params *protocol.CreateMessageParams) (*protocol.CreateMessageResult, error)

// RegisterSamplingHandler installs h as the sampling/createMessage handler.
func (c *Client) RegisterSamplingHandler(h SamplingHandler) {
	c.RegisterServerRequestHandler(protocol.MethodSamplingCreateMessage,
		MethodHandlerFunc(func(ctx context.Context, raw json.RawMessage) (interface{}, error) {
			var params protocol.CreateMessageParams
			if err := protocol.UnmarshalPayload(raw, &params); err != nil {
				return nil, protocol.NewInvalidParamsError(err.Error())
			}
			if len(params.Messages) == 0 {
				return nil, protocol.NewInvalidParamsError("messages must not be empty")
			}
			result, err := h(ctx, &params)
			if err != nil {
				return nil, err
			}
			if result == nil {
				return nil, protocol.NewMCPError(protocol.CodeInternalError, "sampling handler returned no result")
			}
			if result.Role == "" {
				result.Role = "assistant"
			}
			if result.Content.Type == "" {
				result.Content.Type = protocol.ContentTypeText
			}
			return result, nil
		}))
}
