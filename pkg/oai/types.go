// Package oai defines the OpenAI-compatible wire types the gateway
// speaks to its clients. The chat request keeps unknown fields so the
// gateway can pass them through to the upstream unchanged.
package oai

import (
	"encoding/json"
	"fmt"
)

// ChatRequest is the decoded slice of an OpenAI chat-completions
// request. Extra carries every body field the gateway does not handle
// itself; those are forwarded verbatim.
type ChatRequest struct {
	Model    string
	Messages []json.RawMessage
	Stream   bool
	User     string
	Extra    map[string]any
}

// reserved fields the gateway owns; everything else is passthrough.
var reservedChatFields = map[string]struct{}{
	"model": {}, "messages": {}, "stream": {},
}

// ParseChatRequest decodes a chat-completions body, splitting the
// fields the gateway interprets from the passthrough remainder.
func ParseChatRequest(body []byte) (*ChatRequest, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return nil, fmt.Errorf("invalid JSON body: %w", err)
	}

	req := &ChatRequest{Extra: make(map[string]any)}
	if v, ok := raw["model"]; ok {
		if err := json.Unmarshal(v, &req.Model); err != nil {
			return nil, fmt.Errorf("invalid model field: %w", err)
		}
	}
	if v, ok := raw["messages"]; ok {
		if err := json.Unmarshal(v, &req.Messages); err != nil {
			return nil, fmt.Errorf("invalid messages field: %w", err)
		}
	}
	if v, ok := raw["stream"]; ok {
		if err := json.Unmarshal(v, &req.Stream); err != nil {
			return nil, fmt.Errorf("invalid stream field: %w", err)
		}
	}
	if v, ok := raw["user"]; ok {
		// best effort; a non-string user is left for passthrough
		_ = json.Unmarshal(v, &req.User)
	}

	for k, v := range raw {
		if _, reserved := reservedChatFields[k]; reserved {
			continue
		}
		var val any
		if err := json.Unmarshal(v, &val); err != nil {
			continue
		}
		req.Extra[k] = val
	}
	return req, nil
}

// LastUserText returns the content of the most recent user message,
// flattening multi-part content to its text parts.
func (r *ChatRequest) LastUserText() string {
	for i := len(r.Messages) - 1; i >= 0; i-- {
		var msg struct {
			Role    string          `json:"role"`
			Content json.RawMessage `json:"content"`
		}
		if err := json.Unmarshal(r.Messages[i], &msg); err != nil || msg.Role != "user" {
			continue
		}
		var text string
		if err := json.Unmarshal(msg.Content, &text); err == nil {
			return text
		}
		var parts []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		}
		if err := json.Unmarshal(msg.Content, &parts); err != nil {
			return ""
		}
		out := ""
		for _, p := range parts {
			if p.Text != "" {
				if out != "" {
					out += "\n"
				}
				out += p.Text
			}
		}
		return out
	}
	return ""
}

// SystemMessage builds a system-role message ready to prepend to the
// outgoing messages array.
func SystemMessage(content string) json.RawMessage {
	msg, _ := json.Marshal(map[string]string{"role": "system", "content": content})
	return msg
}

// Model is one entry of the GET /v1/models listing.
type Model struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ModelList is the GET /v1/models response envelope.
type ModelList struct {
	Object string  `json:"object"`
	Data   []Model `json:"data"`
}

// EmbeddingRequest is the POST /v1/embeddings request body. Input
// accepts a string or a single-element string array.
type EmbeddingRequest struct {
	Model string          `json:"model"`
	Input json.RawMessage `json:"input"`
	User  string          `json:"user,omitempty"`
}

// InputText flattens the input field to one string.
func (r *EmbeddingRequest) InputText() string {
	var s string
	if err := json.Unmarshal(r.Input, &s); err == nil {
		return s
	}
	var list []string
	if err := json.Unmarshal(r.Input, &list); err == nil && len(list) > 0 {
		return list[0]
	}
	return ""
}

// Error is the OpenAI-style error response wrapper.
type Error struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries the message and taxonomy type of a failure.
type ErrorDetail struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    string `json:"code,omitempty"`
}
