package httpapi

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/nextlevelbuilder/mobius/pkg/oai"
)

// handleEmbeddings proxies POST /v1/embeddings to the embedding model,
// returning the upstream body verbatim.
func (s *Server) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	if s.embedder == nil || s.cfg.Models.Embedding == "" {
		writeError(w, http.StatusNotImplemented, "embeddings are not configured", "invalid_request_error", "embeddings_disabled")
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large", "invalid_request_error", "body_too_large")
		return
	}
	var req oai.EmbeddingRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body", "invalid_request_error", "invalid_request")
		return
	}
	input := req.InputText()
	if input == "" {
		writeError(w, http.StatusBadRequest, "input must be a non-empty string", "invalid_request_error", "invalid_request")
		return
	}

	model := s.cfg.Models.Embedding
	if s.cfg.API.AllowProviderModelPassthrough && req.Model != "" && req.Model != s.cfg.API.PublicModelID {
		model = req.Model
	}
	_, result, err := s.embedder.Embedding(r.Context(), model, input, true)
	if err != nil {
		s.log.Warn("embedding request failed", "model", model, "error", err)
		writeProviderError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(result.Raw)
}
