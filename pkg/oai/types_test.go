package oai

import (
	"encoding/json"
	"testing"
)

func TestParseChatRequestSplitsPassthrough(t *testing.T) {
	body := []byte(`{
		"model": "mobius",
		"messages": [{"role":"user","content":"hi"}],
		"stream": true,
		"user": "alice",
		"temperature": 0.4,
		"metadata": {"trace": "abc"}
	}`)
	req, err := ParseChatRequest(body)
	if err != nil {
		t.Fatalf("ParseChatRequest: %v", err)
	}
	if req.Model != "mobius" || !req.Stream || req.User != "alice" {
		t.Errorf("parsed = %+v", req)
	}
	if len(req.Messages) != 1 {
		t.Fatalf("messages = %d", len(req.Messages))
	}
	if _, ok := req.Extra["temperature"]; !ok {
		t.Error("temperature not preserved")
	}
	if _, ok := req.Extra["metadata"]; !ok {
		t.Error("metadata not preserved")
	}
	// user stays in Extra too: the upstream may want it
	if _, ok := req.Extra["user"]; !ok {
		t.Error("user not preserved in passthrough")
	}
	for _, reserved := range []string{"model", "messages", "stream"} {
		if _, ok := req.Extra[reserved]; ok {
			t.Errorf("%s leaked into passthrough", reserved)
		}
	}
}

func TestParseChatRequestRejectsBadJSON(t *testing.T) {
	if _, err := ParseChatRequest([]byte("not json")); err == nil {
		t.Error("want error for invalid body")
	}
	if _, err := ParseChatRequest([]byte(`{"messages": "nope"}`)); err == nil {
		t.Error("want error for non-array messages")
	}
}

func TestLastUserText(t *testing.T) {
	tests := []struct {
		name     string
		messages []string
		want     string
	}{
		{
			name:     "plain string content",
			messages: []string{`{"role":"user","content":"first"}`, `{"role":"assistant","content":"mid"}`, `{"role":"user","content":"last"}`},
			want:     "last",
		},
		{
			name:     "multipart content",
			messages: []string{`{"role":"user","content":[{"type":"text","text":"part one"},{"type":"text","text":"part two"}]}`},
			want:     "part one\npart two",
		},
		{
			name:     "no user message",
			messages: []string{`{"role":"system","content":"sys"}`},
			want:     "",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := &ChatRequest{}
			for _, m := range tt.messages {
				req.Messages = append(req.Messages, json.RawMessage(m))
			}
			if got := req.LastUserText(); got != tt.want {
				t.Errorf("LastUserText() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEmbeddingInputText(t *testing.T) {
	req := &EmbeddingRequest{Input: json.RawMessage(`"hello"`)}
	if req.InputText() != "hello" {
		t.Errorf("string input = %q", req.InputText())
	}
	req = &EmbeddingRequest{Input: json.RawMessage(`["array form"]`)}
	if req.InputText() != "array form" {
		t.Errorf("array input = %q", req.InputText())
	}
	req = &EmbeddingRequest{Input: json.RawMessage(`42`)}
	if req.InputText() != "" {
		t.Errorf("numeric input = %q", req.InputText())
	}
}
