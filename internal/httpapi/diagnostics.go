package httpapi

import (
	"net/http"
	"time"

	"github.com/nextlevelbuilder/mobius/internal/state"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.version,
	})
}

// handleReadiness gates on the state store: an enabled store that has
// not finished (or failed) initialization makes the gateway not-ready.
func (s *Server) handleReadiness(w http.ResponseWriter, r *http.Request) {
	if s.store != nil && s.store.Enabled() && !s.store.Ready() {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "reason": "state store not ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// diagnosticsPayload is the operator-facing snapshot of the running
// gateway. Secrets never appear here; the store status redacts its DSN.
type diagnosticsPayload struct {
	Version       string          `json:"version"`
	UptimeSeconds int64           `json:"uptime_seconds"`
	PublicModelID string          `json:"public_model_id"`
	Orchestrator  string          `json:"orchestrator_model"`
	Classifier    string          `json:"classifier_model"`
	Fallbacks     []string        `json:"fallback_models,omitempty"`
	Embedding     string          `json:"embedding_model,omitempty"`
	Sessions      int             `json:"sessions"`
	Prompts       *promptsPayload `json:"prompts,omitempty"`
	State         *state.Status   `json:"state,omitempty"`
}

type promptsPayload struct {
	Directory    string            `json:"directory"`
	AutoReload   bool              `json:"auto_reload"`
	Files        map[string]string `json:"files"`
	Fingerprints map[string]string `json:"fingerprints"`
}

func (s *Server) handleDiagnostics(w http.ResponseWriter, r *http.Request) {
	payload := diagnosticsPayload{
		Version:       s.version,
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
		PublicModelID: s.cfg.API.PublicModelID,
		Orchestrator:  s.cfg.Models.Orchestrator,
		Classifier:    s.cfg.Models.ClassifierModel(),
		Fallbacks:     s.cfg.Models.Fallbacks,
		Embedding:     s.cfg.Models.Embedding,
		Sessions:      s.orch.SessionCount(),
	}
	if s.registry != nil {
		payload.Prompts = &promptsPayload{
			Directory:    s.registry.Directory(),
			AutoReload:   s.registry.AutoReload(),
			Files:        s.registry.ResolvedFiles(),
			Fingerprints: s.registry.Fingerprints(),
		}
	}
	if s.store != nil {
		st := s.store.Status()
		payload.State = &st
	}
	writeJSON(w, http.StatusOK, payload)
}
