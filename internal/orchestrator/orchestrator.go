// Package orchestrator runs one chat turn end to end: classify the
// message, compose the specialist system prompt, call the provider
// router, update the sticky session, and hand the finished exchange to
// the state pipeline.
package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/nextlevelbuilder/mobius/internal/classify"
	"github.com/nextlevelbuilder/mobius/internal/config"
	"github.com/nextlevelbuilder/mobius/internal/providers"
	"github.com/nextlevelbuilder/mobius/internal/sessions"
	"github.com/nextlevelbuilder/mobius/internal/state"
	"github.com/nextlevelbuilder/mobius/pkg/oai"
)

// ChatCaller is the slice of the provider router the orchestrator
// needs.
type ChatCaller interface {
	ChatCompletion(ctx context.Context, primaryModel string, messages []json.RawMessage, stream bool, passthrough map[string]any, includeFallbacks bool) (string, *providers.ChatResult, error)
}

// Router is the classifier verdict source. *classify.Classifier
// satisfies it.
type Router interface {
	Classify(ctx context.Context, latestUserText string, recentDomains []string) classify.Route
}

// StatePipeline receives the finished exchange after the reply exists.
// *state.Pipeline satisfies it; nil disables the stage.
type StatePipeline interface {
	ProcessTurn(ctx context.Context, turn state.Turn) string
}

// PromptSource resolves system prompts by key. *prompts.Registry
// satisfies it.
type PromptSource interface {
	Get(key string) string
}

// Turn is the in-flight record of one chat exchange. The provider
// reply is attached by Run; the assistant text arrives later for
// streaming turns, once the client has drained the stream.
type Turn struct {
	TurnID             string
	SessionKey         string
	UserID             string
	Route              classify.Route
	SpecialistModel    string
	UsedModel          string
	UserText           string
	RequestFingerprint string
	Reply              *providers.ChatResult
}

// Orchestrator wires the per-turn flow.
type Orchestrator struct {
	cfg        config.Config
	router     ChatCaller
	classifier Router
	registry   PromptSource
	tracker    *sessions.Tracker
	pipeline   StatePipeline
	log        *slog.Logger
}

// New builds the orchestrator. pipeline may be nil when the state
// layer is disabled.
func New(cfg config.Config, router ChatCaller, classifier Router, registry PromptSource, tracker *sessions.Tracker, pipeline StatePipeline) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		router:     router,
		classifier: classifier,
		registry:   registry,
		tracker:    tracker,
		pipeline:   pipeline,
		log:        slog.With("component", "orchestrator"),
	}
}

// Run executes the turn up to and including the provider call. The
// sticky session updates only after the provider admitted the request,
// so failed turns leave routing history untouched.
func (o *Orchestrator) Run(ctx context.Context, bearerToken string, req *oai.ChatRequest) (*Turn, error) {
	user := req.User
	if user == "" {
		user = o.cfg.API.DefaultUser
	}
	if user == "" {
		user = sessions.DefaultUser
	}
	sessionKey := sessions.BuildKey(bearerToken, user)
	userText := req.LastUserText()

	route := o.classifier.Classify(ctx, userText, o.tracker.Recent(sessionKey))
	model := o.cfg.Specialists.DomainModel(route.Domain, o.cfg.Models.Orchestrator)
	if o.cfg.API.AllowProviderModelPassthrough && req.Model != "" && req.Model != o.cfg.API.PublicModelID {
		// Caller asked for a provider model directly; routing still
		// happens so the session and state layers see a domain.
		model = req.Model
	}
	system := o.systemPrompt(route.Domain)

	messages := make([]json.RawMessage, 0, len(req.Messages)+1)
	messages = append(messages, oai.SystemMessage(system))
	messages = append(messages, req.Messages...)

	usedModel, reply, err := o.router.ChatCompletion(ctx, model, messages, req.Stream, req.Extra, true)
	if err != nil {
		return nil, fmt.Errorf("specialist %s: %w", route.Domain, err)
	}

	o.tracker.Remember(sessionKey, route.Domain)
	turn := &Turn{
		TurnID:             uuid.Must(uuid.NewV7()).String(),
		SessionKey:         sessionKey,
		UserID:             user,
		Route:              route,
		SpecialistModel:    model,
		UsedModel:          usedModel,
		UserText:           userText,
		RequestFingerprint: fingerprint(sessionKey, userText),
		Reply:              reply,
	}
	o.log.Info("turn routed",
		"session", sessionKey, "domain", route.Domain, "confidence", route.Confidence,
		"model", usedModel, "stream", req.Stream)
	return turn, nil
}

// Finish hands the completed exchange to the state pipeline and
// returns the footer to append to the assistant message. For
// non-streaming turns assistantText comes from the reply body; for
// streaming turns the HTTP layer accumulates it from the deltas.
func (o *Orchestrator) Finish(ctx context.Context, turn *Turn, assistantText string) string {
	if o.pipeline == nil || turn == nil {
		return ""
	}
	return o.pipeline.ProcessTurn(ctx, state.Turn{
		TurnID:             turn.TurnID,
		UserID:             turn.UserID,
		SessionKey:         turn.SessionKey,
		RoutedDomain:       turn.Route.Domain,
		UserText:           turn.UserText,
		AssistantText:      assistantText,
		UsedModel:          turn.UsedModel,
		RequestFingerprint: turn.RequestFingerprint,
	})
}

// ResetSession forgets a sticky session.
func (o *Orchestrator) ResetSession(bearerToken, user string) {
	o.tracker.Reset(sessions.BuildKey(bearerToken, user))
}

// SessionCount reports how many sticky sessions are live.
func (o *Orchestrator) SessionCount() int { return o.tracker.Len() }

// systemPrompt joins the orchestrator prompt with the routed
// specialist's prompt.
func (o *Orchestrator) systemPrompt(domain string) string {
	base := o.registry.Get("orchestrator")
	specialist := o.registry.Get(domain)
	if specialist == "" {
		return base
	}
	return base + "\n\n" + specialist
}

// fingerprint is a short stable id for correlating a turn with its
// request in logs without storing the text itself.
func fingerprint(sessionKey, userText string) string {
	sum := sha256.Sum256([]byte(sessionKey + "\x00" + userText))
	return hex.EncodeToString(sum[:])[:16]
}
