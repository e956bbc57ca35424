package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/mobius/pkg/oai"
)

// maxBodyBytes bounds request bodies; chat histories beyond this are a
// client bug, not a use case.
const maxBodyBytes = 1 << 20

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large", "invalid_request_error", "body_too_large")
		return
	}
	req, err := oai.ParseChatRequest(body)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), "invalid_request_error", "invalid_request")
		return
	}
	if len(req.Messages) == 0 {
		writeError(w, http.StatusBadRequest, "messages must not be empty", "invalid_request_error", "invalid_request")
		return
	}
	if req.Model != "" && req.Model != s.cfg.API.PublicModelID && !s.cfg.API.AllowProviderModelPassthrough {
		writeError(w, http.StatusBadRequest,
			"unknown model "+req.Model+", this gateway serves "+s.cfg.API.PublicModelID,
			"invalid_request_error", "model_not_found")
		return
	}

	turn, err := s.orch.Run(r.Context(), bearerToken(r), req)
	if err != nil {
		s.log.Warn("chat turn failed", "error", err)
		writeProviderError(w, err)
		return
	}

	requestID := "chatcmpl-" + uuid.Must(uuid.NewV7()).String()
	if req.Stream {
		s.streamChat(w, r, turn, requestID)
		return
	}

	footer := s.orch.Finish(r.Context(), turn, turn.Reply.AssistantText())
	raw := turn.Reply.Raw
	if footer != "" {
		raw = appendToContent(raw, footer)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(raw)
}

// appendToContent appends text to choices[0].message.content of a raw
// completion. Unparseable bodies pass through untouched; the footer is
// advisory, the reply is not.
func appendToContent(raw json.RawMessage, text string) json.RawMessage {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return raw
	}
	choices, _ := doc["choices"].([]any)
	if len(choices) == 0 {
		return raw
	}
	choice, _ := choices[0].(map[string]any)
	message, _ := choice["message"].(map[string]any)
	content, _ := message["content"].(string)
	if message == nil {
		return raw
	}
	message["content"] = content + text

	out, err := json.Marshal(doc)
	if err != nil {
		return raw
	}
	return out
}
