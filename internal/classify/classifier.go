// Package classify picks the specialist domain for each turn by asking
// a small, deterministic model call to label the latest user message.
package classify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"

	"github.com/nextlevelbuilder/mobius/internal/llmjson"
	"github.com/nextlevelbuilder/mobius/internal/providers"
	"github.com/nextlevelbuilder/mobius/internal/specialists"
	"github.com/nextlevelbuilder/mobius/internal/telemetry"
)

// Route is the classifier verdict for one turn.
type Route struct {
	Domain          string
	Confidence      float64
	Reason          string
	ClassifierModel string // empty when the model never answered
}

// ChatCaller is the slice of the provider router the classifier needs.
type ChatCaller interface {
	ChatCompletion(ctx context.Context, primaryModel string, messages []json.RawMessage, stream bool, passthrough map[string]any, includeFallbacks bool) (string, *providers.ChatResult, error)
}

// Classifier labels user messages with a specialist domain. It never
// fails: every problem degrades to general with a machine-readable
// reason.
type Classifier struct {
	model  string
	router ChatCaller
	log    *slog.Logger
}

func New(model string, router ChatCaller) *Classifier {
	return &Classifier{
		model:  model,
		router: router,
		log:    slog.With("component", "classify"),
	}
}

// Classify labels the latest user text. recentDomains is the session's
// sticky history (oldest first) and biases the model toward continuity.
// The call runs with temperature 0, a tight token budget, and no
// fallback chain; a routing label is not worth a second provider.
func (c *Classifier) Classify(ctx context.Context, latestUserText string, recentDomains []string) Route {
	ctx, span := telemetry.Tracer("classify").Start(ctx, "classify")
	defer span.End()

	route := c.classify(ctx, latestUserText, recentDomains)
	span.SetAttributes(
		attribute.String("route.domain", route.Domain),
		attribute.Float64("route.confidence", route.Confidence),
		attribute.String("route.reason", route.Reason),
	)
	return route
}

func (c *Classifier) classify(ctx context.Context, latestUserText string, recentDomains []string) Route {
	userText := strings.TrimSpace(latestUserText)
	if userText == "" {
		return Route{Domain: "general", Confidence: 0.0, Reason: "empty-user-message"}
	}

	systemMsg, err := json.Marshal(map[string]string{"role": "system", "content": c.systemPrompt(recentDomains)})
	if err != nil {
		return Route{Domain: "general", Confidence: 0.0, Reason: "classifier-error:encode-failed"}
	}
	userMsg, err := json.Marshal(map[string]string{"role": "user", "content": userText})
	if err != nil {
		return Route{Domain: "general", Confidence: 0.0, Reason: "classifier-error:encode-failed"}
	}

	usedModel, result, err := c.router.ChatCompletion(ctx, c.model,
		[]json.RawMessage{systemMsg, userMsg}, false,
		map[string]any{"temperature": 0.0, "max_tokens": 120}, false)
	if err != nil {
		kind := errorKind(err)
		c.log.Warn("classifier routing failed", "model", c.model, "kind", kind, "error", err)
		return Route{Domain: "general", Confidence: 0.0, Reason: "classifier-error:" + kind}
	}

	var payload map[string]any
	if !llmjson.Unmarshal(assistantText(result.Raw), &payload) {
		c.log.Warn("classifier returned unparseable output", "model", usedModel)
		return Route{Domain: "general", Confidence: 0.0, Reason: "classifier-error:invalid-json", ClassifierModel: usedModel}
	}

	specialist, _ := payload["specialist"].(string)
	domain := specialists.Normalize(specialist)
	if !specialists.Known(domain) {
		c.log.Warn("classifier returned invalid specialist, using general", "specialist", domain)
		return Route{Domain: "general", Confidence: 0.0, Reason: "invalid-specialist", ClassifierModel: usedModel}
	}

	confidence := llmjson.ClampConfidence(coerceFloat(payload["confidence"]))
	reason, _ := payload["reason"].(string)
	reason = strings.TrimSpace(reason)

	c.log.Debug("classifier routed turn",
		"domain", domain, "confidence", confidence, "reason", reason, "model", usedModel)
	return Route{Domain: domain, Confidence: confidence, Reason: reason, ClassifierModel: usedModel}
}

// systemPrompt enumerates the allowed domains with their routing hints
// and pins the output to a single JSON object.
func (c *Classifier) systemPrompt(recentDomains []string) string {
	var b strings.Builder
	b.WriteString("You are the routing classifier for Mobius.\n")
	b.WriteString("Your job: choose exactly ONE specialist for the latest user message.\n")
	b.WriteString("Always respond with ONLY a single JSON object and nothing else.\n")
	b.WriteString("Do not include markdown, code fences, commentary, or extra keys.\n")
	b.WriteString("JSON schema:\n")
	b.WriteString(`{"specialist":"<one of allowed domains>","confidence":<float 0..1>,"reason":"<short reason>"}` + "\n")
	b.WriteString("If unsure, choose general.\n")
	b.WriteString("Allowed specialists:\n")
	for _, d := range specialists.Catalog {
		b.WriteString("- " + d.Domain + ": " + d.RoutingHint + "\n")
	}
	if len(recentDomains) > 0 {
		b.WriteString("Recent specialists for this session (oldest first): ")
		b.WriteString(strings.Join(recentDomains, ", "))
		b.WriteString(". Prefer continuity unless the topic clearly changed.\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// assistantText pulls choices[0].message.content from a raw completion,
// accepting both plain-string and multi-part content.
func assistantText(raw json.RawMessage) string {
	var env struct {
		Choices []struct {
			Message struct {
				Content json.RawMessage `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &env); err != nil || len(env.Choices) == 0 {
		return ""
	}
	content := env.Choices[0].Message.Content

	var text string
	if err := json.Unmarshal(content, &text); err == nil {
		return strings.TrimSpace(text)
	}

	var parts []struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(content, &parts); err != nil {
		return ""
	}
	var joined []string
	for _, p := range parts {
		if t := strings.TrimSpace(p.Text); t != "" {
			joined = append(joined, t)
		}
	}
	return strings.Join(joined, "\n")
}

// coerceFloat accepts the number shapes models actually emit:
// JSON numbers, numeric strings, or nothing.
func coerceFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return 0.0
		}
		return f
	default:
		return 0.0
	}
}

// errorKind reduces a provider error to a short stable label for the
// classifier-error reason.
func errorKind(err error) string {
	var exhausted *providers.ExhaustedError
	if errors.As(err, &exhausted) {
		return "provider-exhausted"
	}
	var httpErr *providers.HTTPError
	if errors.As(err, &httpErr) {
		return fmt.Sprintf("http-%d", httpErr.Status)
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, providers.ErrNoCandidates):
		return "no-candidates"
	}
	return "request-failed"
}
