package client

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/localrivet/dbgctl/protocol"
)

const noErrorDetails = "Tool returned an error with no details"

// ExtractToolText reduces the raw response envelope of a tools/call to a single
// string. A JSON-RPC error object yields a ServerError and a result flagged
// isError yields a ToolError. Otherwise the first text item is returned when it
// is non-empty, falling back to the first later non-text item as compact JSON.
// A missing or unreadable content list yields "".
func ExtractToolText(tool, raw string) (string, error) {
	msg, err := protocol.ParseMessage([]byte(raw))
	if err != nil {
		return "", NewClientError(fmt.Sprintf("invalid response to %s", tool), int(protocol.CodeParseError),
			fmt.Errorf("%w: %v", ErrInvalidResponse, err))
	}
	if msg.Error != nil {
		return "", NewServerError(tool, int(msg.Error.Code), msg.Error.Message)
	}

	result := bytes.TrimSpace(msg.Result)
	if len(result) == 0 || bytes.Equal(result, []byte("null")) {
		return "", nil
	}
	var envelope struct {
		Content json.RawMessage `json:"content"`
		IsError bool            `json:"isError"`
	}
	if err := json.Unmarshal(result, &envelope); err != nil {
		return "", nil
	}

	var items []protocol.ContentItem
	if err := json.Unmarshal(envelope.Content, &items); err != nil {
		items = nil
	}
	return extractContent(tool, items, envelope.IsError)
}

func extractContent(tool string, items []protocol.ContentItem, isError bool) (string, error) {
	if isError {
		for _, item := range items {
			if item.Text != "" {
				return "", &ToolError{Tool: tool, Message: item.Text}
			}
		}
		return "", &ToolError{Tool: tool, Message: noErrorDetails}
	}

	first := -1
	for i, item := range items {
		if item.Type == protocol.ContentTypeText {
			first = i
			break
		}
	}
	if first >= 0 && items[first].Text != "" {
		return items[first].Text, nil
	}
	for _, item := range items[first+1:] {
		if item.Type != protocol.ContentTypeText {
			return item.JSON(), nil
		}
	}
	return "", nil
}
