package state

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/nextlevelbuilder/mobius/internal/config"
	"github.com/nextlevelbuilder/mobius/internal/telemetry"
)

// Turn is the immutable record of one completed chat exchange, built
// by the orchestrator once the upstream reply exists.
type Turn struct {
	TurnID             string
	UserID             string
	SessionKey         string
	RoutedDomain       string
	UserText           string
	AssistantText      string
	UsedModel          string
	RequestFingerprint string
}

// Pipeline runs the post-reply state sequence: context fetch →
// decision → writers → projection. It never fails the chat path; the
// only thing it ever returns to the caller is an optional footer
// string.
type Pipeline struct {
	cfg       config.StateConfig
	store     *Store
	engine    *DecisionEngine
	projector *Projector
	log       *slog.Logger
}

// NewPipeline wires the coordinator. engine may be nil when the
// decision stage is disabled.
func NewPipeline(cfg config.StateConfig, store *Store, engine *DecisionEngine, projector *Projector) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		store:     store,
		engine:    engine,
		projector: projector,
		log:       slog.With("component", "state.pipeline"),
	}
}

// ProcessTurn runs the pipeline for one turn and returns the footer to
// append to the assistant message ("" when there is nothing to say).
func (p *Pipeline) ProcessTurn(ctx context.Context, turn Turn) string {
	if !p.cfg.Enabled || p.engine == nil || !p.cfg.Decision.EnabledOrDefault() {
		return ""
	}

	ctx, span := telemetry.Tracer("state").Start(ctx, "state.pipeline")
	defer span.End()
	span.SetAttributes(attribute.String("turn.domain", turn.RoutedDomain))

	if !p.store.Ready() {
		p.log.Warn("state store not ready, skipping pipeline", "user", turn.UserID)
		return p.failureFooter(turn.UserID, "state-store-unavailable")
	}

	snapshot, err := p.store.FetchContext(ctx, turn.UserID, turn.RoutedDomain)
	if err != nil {
		// A missing snapshot degrades the decision, it does not block it.
		p.log.Warn("context fetch failed, deciding without snapshot", "user", turn.UserID, "error", err)
		snapshot = &ContextSnapshot{}
	}

	decision := p.engine.Decide(ctx, turn.UserText, turn.AssistantText, turn.RoutedDomain, snapshot)
	if decision.IsFailure {
		return p.failureFooter(turn.UserID, decision.Reason)
	}

	summaries := p.applyDecision(ctx, turn, decision)
	for _, sum := range summaries {
		p.log.Info("state write applied",
			"user", turn.UserID, "kind", sum.Kind, "status", sum.Status, "target", sum.Target)
	}
	return ""
}

// applyDecision runs each non-nil slot through its writer in fixed
// order (checkin, journal, memory) and mirrors successes to disk.
func (p *Pipeline) applyDecision(ctx context.Context, turn Turn, decision StateDecision) []WriteSummary {
	var summaries []WriteSummary

	if decision.Checkin != nil && p.cfg.Checkin.EnabledOrDefault() {
		w := decision.Checkin
		if w.Domain == "" {
			w.Domain = turn.RoutedDomain
		}
		sum := p.store.WriteCheckin(ctx, turn.UserID, turn.TurnID, w, turn.UsedModel)
		summaries = append(summaries, sum)
		p.projector.AppendEvent(turn.UserID, "checkin", "write", sum.Target, sum.Status, sum.Details)
		if sum.Status == StatusWritten {
			p.projector.ProjectCheckin(turn.UserID, sum.Target, w, nowUTC())
		}
	}

	if decision.Journal != nil && p.cfg.Journal.EnabledOrDefault() {
		w := decision.Journal
		sum := p.store.WriteJournal(ctx, turn.UserID, turn.TurnID, w)
		summaries = append(summaries, sum)
		p.projector.AppendEvent(turn.UserID, "journal", "write", sum.Target, sum.Status, sum.Details)
		if sum.Status == StatusWritten {
			p.projector.ProjectJournal(turn.UserID, sum.Target, w, nowUTC())
		}
	}

	if decision.Memory != nil && p.cfg.Memory.EnabledOrDefault() {
		w := decision.Memory
		if w.Domain == "" {
			w.Domain = turn.RoutedDomain
		}
		if w.Confidence < p.cfg.Memory.MinConfidence {
			p.log.Debug("memory below confidence floor, dropped",
				"user", turn.UserID, "confidence", w.Confidence, "floor", p.cfg.Memory.MinConfidence)
			p.projector.AppendEvent(turn.UserID, "memory", "write", "", "skipped", "below confidence floor")
		} else {
			res := p.store.WriteMemory(ctx, turn.UserID, turn.TurnID, w, turn.UsedModel)
			summaries = append(summaries, res.Summary)
			p.projector.AppendEvent(turn.UserID, "memory", "write", res.Summary.Target, res.Summary.Status, res.Summary.Details)
			if res.Summary.Status == StatusWritten || res.Summary.Status == StatusDuplicate {
				p.projectMemoryDomain(ctx, turn.UserID, w.Domain)
			}
		}
	}

	return summaries
}

// Tombstone soft-deletes a memory and refreshes its domain projection.
func (p *Pipeline) Tombstone(ctx context.Context, userID, memoryID, agent string) error {
	rec, err := p.store.getMemory(ctx, userID, memoryID)
	if err != nil {
		return err
	}
	if err := p.store.TombstoneMemory(ctx, userID, memoryID, agent); err != nil {
		return err
	}
	p.projector.AppendEvent(userID, "memory", "tombstone", memoryID, StatusWritten, "")
	p.projectMemoryDomain(ctx, userID, rec.Domain)
	return nil
}

// Edit appends a note to a memory and refreshes its domain projection.
func (p *Pipeline) Edit(ctx context.Context, userID, memoryID, note, agent string) error {
	rec, err := p.store.getMemory(ctx, userID, memoryID)
	if err != nil {
		return err
	}
	if err := p.store.EditMemory(ctx, userID, memoryID, note, agent); err != nil {
		return err
	}
	p.projector.AppendEvent(userID, "memory", "edit", memoryID, StatusWritten, note)
	p.projectMemoryDomain(ctx, userID, rec.Domain)
	return nil
}

func (p *Pipeline) projectMemoryDomain(ctx context.Context, userID, domain string) {
	if !p.projector.Enabled() {
		return
	}
	records, err := p.store.DomainMemories(ctx, userID, domain)
	if err != nil {
		p.log.Warn("memory projection read failed", "user", userID, "domain", domain, "error", err)
		return
	}
	p.projector.ProjectMemoryDomain(userID, domain, records)
}

// failureFooter renders the user-visible warning under the configured
// failure policy.
func (p *Pipeline) failureFooter(user, reason string) string {
	if p.cfg.Decision.OnFailure != "footer_warning" {
		return ""
	}
	if reason == "" {
		reason = FailureReason
	}
	return fmt.Sprintf("\n\n---\n*State warning:* %s — state updates were skipped this turn. "+
		"Recent snapshots remain under %s.", reason, UserDir(user))
}

func nowUTC() time.Time { return time.Now().UTC() }
