// Package httpapi serves the gateway's OpenAI-compatible surface plus
// the diagnostics endpoints.
package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/nextlevelbuilder/mobius/internal/config"
	"github.com/nextlevelbuilder/mobius/internal/orchestrator"
	"github.com/nextlevelbuilder/mobius/internal/prompts"
	"github.com/nextlevelbuilder/mobius/internal/providers"
	"github.com/nextlevelbuilder/mobius/internal/state"
	"github.com/nextlevelbuilder/mobius/pkg/oai"
)

// TurnRunner is the slice of the orchestrator the chat handler needs.
type TurnRunner interface {
	Run(ctx context.Context, bearerToken string, req *oai.ChatRequest) (*orchestrator.Turn, error)
	Finish(ctx context.Context, turn *orchestrator.Turn, assistantText string) string
	SessionCount() int
}

// EmbeddingCaller is the slice of the provider router the embeddings
// handler needs.
type EmbeddingCaller interface {
	Embedding(ctx context.Context, primaryModel, inputText string, includeFallbacks bool) (string, *providers.EmbeddingResult, error)
}

// Server is the gateway HTTP server.
type Server struct {
	cfg      config.Config
	orch     TurnRunner
	embedder EmbeddingCaller
	store    *state.Store      // nil when the state layer is off
	registry *prompts.Registry // nil in minimal test setups
	limiter  *keyLimiter
	version  string
	started  time.Time
	log      *slog.Logger

	httpServer *http.Server
	mux        *http.ServeMux
}

// NewServer wires the HTTP surface. store and registry may be nil.
func NewServer(cfg config.Config, orch TurnRunner, embedder EmbeddingCaller, store *state.Store, registry *prompts.Registry, version string) *Server {
	return &Server{
		cfg:      cfg,
		orch:     orch,
		embedder: embedder,
		store:    store,
		registry: registry,
		limiter:  newKeyLimiter(cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst),
		version:  version,
		started:  time.Now(),
		log:      slog.With("component", "httpapi"),
	}
}

// BuildMux creates and caches the mux with all routes registered. Call
// before Start when the mux is needed for additional listeners.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}
	mux := http.NewServeMux()

	mux.Handle("POST /v1/chat/completions", s.auth(s.ratelimit(http.HandlerFunc(s.handleChatCompletions))))
	mux.Handle("GET /v1/models", s.auth(http.HandlerFunc(s.handleModels)))
	mux.Handle("POST /v1/embeddings", s.auth(s.ratelimit(http.HandlerFunc(s.handleEmbeddings))))

	ep := s.cfg.Diagnostics.Endpoints
	mux.HandleFunc("GET "+orDefault(ep.Health, "/healthz"), s.handleHealth)
	mux.HandleFunc("GET "+orDefault(ep.Readiness, "/readyz"), s.handleReadiness)
	mux.Handle("GET "+orDefault(ep.Diagnostics, "/diagnostics"), s.auth(http.HandlerFunc(s.handleDiagnostics)))

	s.mux = mux
	return mux
}

// Start serves until ctx is done, then drains with a short grace
// period.
func (s *Server) Start(ctx context.Context) error {
	mux := s.BuildMux()

	addr := fmt.Sprintf("%s:%d", s.cfg.Server.Host, s.cfg.Server.Port)
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.log.Info("gateway listening", "addr", addr, "model", s.cfg.API.PublicModelID)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("gateway server: %w", err)
	}
	return nil
}

func orDefault(v, def string) string {
	if v != "" {
		return v
	}
	return def
}

// writeJSON marshals v with a status code. Encoding failures turn into
// a plain 500 since headers are already committed otherwise.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("response encode failed", "error", err)
	}
}
