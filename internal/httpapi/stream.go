package httpapi

import (
	"bufio"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/nextlevelbuilder/mobius/internal/orchestrator"
)

// chunkEnvelope is the slice of a streaming chunk needed to accumulate
// the assistant text and to clone the envelope for the footer delta.
type chunkEnvelope struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Created int64  `json:"created"`
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
}

// streamChat forwards the admitted upstream SSE stream verbatim,
// buffering the delta text on the side. Once the upstream finishes,
// the state footer (if any) goes out as one extra delta chunk before
// the [DONE] marker. Errors mid-stream end the response where it
// stands; the client sees a truncated stream, never a second provider.
func (s *Server) streamChat(w http.ResponseWriter, r *http.Request, turn *orchestrator.Turn, requestID string) {
	defer turn.Reply.Stream.Close()

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported by server", "server_error", "internal_error")
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	var assistant strings.Builder
	envelope := chunkEnvelope{ID: requestID, Model: turn.UsedModel, Created: time.Now().Unix()}
	sawEnvelope := false

	scanner := bufio.NewScanner(turn.Reply.Stream)
	scanner.Buffer(make([]byte, 0, 64*1024), maxBodyBytes)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		payload, isData := strings.CutPrefix(line, "data: ")
		if isData && payload == "[DONE]" {
			// held back until the footer is out
			break
		}
		if isData {
			var chunk chunkEnvelope
			if err := json.Unmarshal([]byte(payload), &chunk); err == nil {
				if !sawEnvelope && chunk.ID != "" {
					envelope.ID, envelope.Model, envelope.Created = chunk.ID, chunk.Model, chunk.Created
					sawEnvelope = true
				}
				for _, c := range chunk.Choices {
					assistant.WriteString(c.Delta.Content)
				}
			}
		}
		if _, err := w.Write([]byte(line + "\n\n")); err != nil {
			s.log.Debug("client dropped stream", "error", err)
			return
		}
		flusher.Flush()
	}
	if err := scanner.Err(); err != nil {
		s.log.Warn("upstream stream ended early", "error", err)
		return
	}

	if footer := s.orch.Finish(r.Context(), turn, assistant.String()); footer != "" {
		delta, err := json.Marshal(map[string]any{
			"id":      envelope.ID,
			"object":  "chat.completion.chunk",
			"created": envelope.Created,
			"model":   envelope.Model,
			"choices": []map[string]any{
				{"index": 0, "delta": map[string]string{"content": footer}, "finish_reason": nil},
			},
		})
		if err == nil {
			w.Write([]byte("data: " + string(delta) + "\n\n"))
			flusher.Flush()
		}
	}
	w.Write([]byte("data: [DONE]\n\n"))
	flusher.Flush()
}
