package state

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/nextlevelbuilder/mobius/internal/llmjson"
	"github.com/nextlevelbuilder/mobius/internal/providers"
)

// FailureReason is the decision reason when the state model never
// produced a usable answer.
const FailureReason = "state-model-unavailable"

// ChatCaller is the slice of the provider router the engine needs.
type ChatCaller interface {
	ChatCompletion(ctx context.Context, primaryModel string, messages []json.RawMessage, stream bool, passthrough map[string]any, includeFallbacks bool) (string, *providers.ChatResult, error)
}

// DecisionEngine asks the state model whether this turn deserves a
// check-in, a journal entry, and/or a memory. Bad JSON is retried a
// bounded number of times; total failure degrades to a no-write
// decision flagged is_failure, never an error.
type DecisionEngine struct {
	model      string
	maxRetries int
	router     ChatCaller
	log        *slog.Logger
}

// NewDecisionEngine builds the engine. maxJSONRetries counts extra
// attempts after the first, so 1 means at most two model calls.
func NewDecisionEngine(model string, maxJSONRetries int, router ChatCaller) *DecisionEngine {
	if maxJSONRetries < 0 {
		maxJSONRetries = 0
	}
	return &DecisionEngine{
		model:      model,
		maxRetries: maxJSONRetries,
		router:     router,
		log:        slog.With("component", "state.decision"),
	}
}

// decisionPayload is the raw JSON shape the model is asked for. Each
// slot carries write plus its payload fields.
type decisionPayload struct {
	Checkin *struct {
		Write bool `json:"write"`
		CheckinWrite
	} `json:"checkin"`
	Journal *struct {
		Write bool `json:"write"`
		JournalWrite
	} `json:"journal"`
	Memory *struct {
		Write bool `json:"write"`
		MemoryWrite
	} `json:"memory"`
	Reason string `json:"reason"`
}

// Decide produces the three-slot decision for one turn.
func (e *DecisionEngine) Decide(ctx context.Context, userText, assistantText, routedDomain string, snapshot *ContextSnapshot) StateDecision {
	systemMsg, err := json.Marshal(map[string]string{"role": "system", "content": e.systemPrompt(routedDomain, snapshot)})
	if err != nil {
		return StateDecision{Reason: FailureReason, IsFailure: true}
	}
	userMsg, err := json.Marshal(map[string]string{"role": "user", "content": e.turnPrompt(userText, assistantText, routedDomain)})
	if err != nil {
		return StateDecision{Reason: FailureReason, IsFailure: true}
	}
	messages := []json.RawMessage{systemMsg, userMsg}

	for attempt := 0; attempt <= e.maxRetries; attempt++ {
		usedModel, result, err := e.router.ChatCompletion(ctx, e.model, messages, false,
			map[string]any{"temperature": 0.0, "max_tokens": 900}, false)
		if err != nil {
			e.log.Warn("state model call failed", "model", e.model, "attempt", attempt, "error", err)
			continue
		}

		var payload decisionPayload
		if !llmjson.Unmarshal(result.AssistantText(), &payload) {
			e.log.Warn("state model returned unparseable JSON", "model", usedModel, "attempt", attempt)
			continue
		}
		return e.toDecision(payload)
	}

	e.log.Warn("state decision unavailable after retries", "model", e.model, "attempts", e.maxRetries+1)
	return StateDecision{Reason: FailureReason, IsFailure: true}
}

// toDecision drops write=false slots and clamps numeric fields.
func (e *DecisionEngine) toDecision(p decisionPayload) StateDecision {
	d := StateDecision{Reason: strings.TrimSpace(p.Reason)}

	if p.Checkin != nil && p.Checkin.Write {
		c := p.Checkin.CheckinWrite
		c.TrackType = normalizeTrackType(c.TrackType)
		c.Outcome = normalizeOutcome(c.Outcome)
		c.Confidence = clamp01(c.Confidence)
		d.Checkin = &c
	}
	if p.Journal != nil && p.Journal.Write {
		j := p.Journal.JournalWrite
		d.Journal = &j
	}
	if p.Memory != nil && p.Memory.Write {
		m := p.Memory.MemoryWrite
		m.Confidence = clamp01(m.Confidence)
		d.Memory = &m
	}
	return d
}

func (e *DecisionEngine) systemPrompt(routedDomain string, snapshot *ContextSnapshot) string {
	var b strings.Builder
	b.WriteString("You are the state curator for Mobius, a personal assistant gateway.\n")
	b.WriteString("After each conversation turn you decide which durable records to keep.\n")
	b.WriteString("Respond with ONLY one JSON object, no markdown and no commentary:\n")
	b.WriteString(`{
  "checkin": {"write": <bool>, "domain": "<domain>", "track_type": "goal|habit|event",
    "title": "...", "summary": "...", "outcome": "success|partial|missed|neutral",
    "confidence": <0..1>, "wins": [], "barriers": [], "next_actions": [], "tags": []},
  "journal": {"write": <bool>, "title": "...", "body_md": "...", "domain_hints": []},
  "memory": {"write": <bool>, "domain": "<domain>", "title": "...", "summary": "...",
    "narrative": "...", "confidence": <0..1>, "tags": []},
  "reason": "<short machine-readable reason>"
}` + "\n")
	b.WriteString("Write a checkin for concrete progress, setbacks, or commitments on goals and habits.\n")
	b.WriteString("Write a journal entry for reflective or narrative content worth rereading.\n")
	b.WriteString("Write a memory only for durable facts or recurring patterns about the user.\n")
	b.WriteString("Set write=false for every slot that does not clearly apply.\n")

	if snapshot != nil {
		if len(snapshot.RecentCheckins) > 0 {
			b.WriteString("\nRecent check-ins in " + routedDomain + ":\n")
			for _, c := range snapshot.RecentCheckins {
				fmt.Fprintf(&b, "- [%s/%s] %s (%s)\n", c.TrackType, c.Outcome, c.Title, c.CreatedAt.Format("2006-01-02"))
			}
		}
		if len(snapshot.RecentJournalTitles) > 0 {
			b.WriteString("\nRecent journal titles:\n")
			for _, t := range snapshot.RecentJournalTitles {
				b.WriteString("- " + t + "\n")
			}
		}
		if len(snapshot.ActiveMemorySummaries) > 0 {
			b.WriteString("\nActive memories in " + routedDomain + " (do not duplicate):\n")
			for _, m := range snapshot.ActiveMemorySummaries {
				b.WriteString("- " + m + "\n")
			}
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func (e *DecisionEngine) turnPrompt(userText, assistantText, routedDomain string) string {
	return fmt.Sprintf("Routed domain: %s\n\nUser said:\n%s\n\nAssistant replied:\n%s",
		routedDomain, userText, assistantText)
}
