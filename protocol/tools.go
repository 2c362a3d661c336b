package protocol

import (
	"bytes"
	"encoding/json"
)

// ContentTypeText marks a plain text content item.
const ContentTypeText = "text"

// Tool describes a tool advertised by the server in tools/list.
type Tool struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	InputSchema json.RawMessage `json:"inputSchema,omitempty"`
}

// ListToolsParams defines the parameters for a 'tools/list' request.
type ListToolsParams struct {
	Cursor string `json:"cursor,omitempty"`
}

// ListToolsResult defines the result payload for a 'tools/list' response.
type ListToolsResult struct {
	Tools      []Tool `json:"tools"`
	NextCursor string `json:"nextCursor,omitempty"`
}

// CallToolParams defines the parameters for a 'tools/call' request.
type CallToolParams struct {
	Name      string                 `json:"name"`
	Arguments map[string]interface{} `json:"arguments,omitempty"`
}

// ContentItem is one entry of a tool result's heterogeneous content list.
// Raw keeps the item exactly as received so non-text items can be handed
// back to callers as JSON.
type ContentItem struct {
	Type string          `json:"type"`
	Text string          `json:"text,omitempty"`
	Raw  json.RawMessage `json:"-"`
}

// UnmarshalJSON records the raw item alongside the decoded kind and text.
func (c *ContentItem) UnmarshalJSON(data []byte) error {
	var fields struct {
		Type string          `json:"type"`
		Text json.RawMessage `json:"text"`
	}
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	c.Type = fields.Type
	c.Text = ""
	// Only string text is meaningful; other shapes are left to Raw.
	if len(fields.Text) > 0 && fields.Text[0] == '"' {
		if err := json.Unmarshal(fields.Text, &c.Text); err != nil {
			return err
		}
	}
	c.Raw = append(c.Raw[:0], data...)
	return nil
}

// JSON returns the item serialized as compact JSON.
func (c *ContentItem) JSON() string {
	if len(c.Raw) > 0 {
		var buf bytes.Buffer
		if err := json.Compact(&buf, c.Raw); err == nil {
			return buf.String()
		}
	}
	data, _ := json.Marshal(struct {
		Type string `json:"type"`
		Text string `json:"text,omitempty"`
	}{c.Type, c.Text})
	return string(data)
}

// CallToolResult defines the result payload for a 'tools/call' response.
type CallToolResult struct {
	Content []ContentItem `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}
