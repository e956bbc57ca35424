package providers

import (
	"encoding/json"
	"io"
)

// ChatResult is the upstream response for one successful candidate.
// Exactly one field is set: Raw for non-streaming calls, Stream for
// streaming calls (the admitted SSE body; the caller must close it).
type ChatResult struct {
	Raw    json.RawMessage
	Stream io.ReadCloser
}

// chatEnvelope is the minimal slice of an OpenAI chat completion
// needed to read the assistant message back out of a raw response.
type chatEnvelope struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage *struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// AssistantText extracts choices[0].message.content from a
// non-streaming response. Returns "" for streams or unparseable
// bodies; the raw bytes stay authoritative for passthrough.
func (r *ChatResult) AssistantText() string {
	if r == nil || len(r.Raw) == 0 {
		return ""
	}
	var env chatEnvelope
	if err := json.Unmarshal(r.Raw, &env); err != nil || len(env.Choices) == 0 {
		return ""
	}
	return env.Choices[0].Message.Content
}

// EmbeddingResult carries both the verbatim upstream body (for
// passthrough) and the parsed vector from data[0].embedding.
type EmbeddingResult struct {
	Raw    json.RawMessage
	Vector []float64
}

type embeddingEnvelope struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}
