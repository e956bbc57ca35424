package state

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// WriteCheckin inserts one check-in row. Enum fields are normalized,
// confidence is clamped, and a replayed idempotency key reports
// duplicate without touching the table.
func (s *Store) WriteCheckin(ctx context.Context, userID, turnID string, w *CheckinWrite, sourceModel string) WriteSummary {
	if !s.Ready() || s.db == nil {
		return WriteSummary{Kind: "checkin", Status: StatusFailed, Details: ErrNotReady.Error()}
	}
	if strings.TrimSpace(w.Title) == "" || strings.TrimSpace(w.Summary) == "" {
		return WriteSummary{Kind: "checkin", Status: StatusRejected, Details: "title and summary are required"}
	}

	key := IdempotencyKey(userID, turnID, "checkin")
	if id, dup := s.existingByKey(ctx, "checkins", userID, key); dup {
		return WriteSummary{Kind: "checkin", Status: StatusDuplicate, Target: id, Details: "idempotency key replay"}
	}

	id := uuid.Must(uuid.NewV7()).String()
	query := s.d.Rebind(`INSERT INTO checkins
(id, user_id, turn_id, domain, track_type, title, summary, outcome, confidence,
 wins, barriers, next_actions, tags, created_at, source_model, idempotency_key)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`)
	_, err := s.db.ExecContext(ctx, query,
		id, userID, turnID, w.Domain,
		normalizeTrackType(w.TrackType), w.Title, w.Summary, normalizeOutcome(w.Outcome),
		clamp01(w.Confidence),
		s.d.Array(w.Wins), s.d.Array(w.Barriers), s.d.Array(w.NextActions), s.d.Array(w.Tags),
		time.Now().UTC(), sourceModel, key,
	)
	if err != nil {
		// Unique violation from a concurrent replay lands here; report
		// it as the duplicate it is.
		if existing, dup := s.existingByKey(ctx, "checkins", userID, key); dup {
			return WriteSummary{Kind: "checkin", Status: StatusDuplicate, Target: existing, Details: "idempotency key replay"}
		}
		s.log.Error("checkin write failed", "user", userID, "error", err)
		return WriteSummary{Kind: "checkin", Status: StatusFailed, Details: err.Error()}
	}
	return WriteSummary{Kind: "checkin", Status: StatusWritten, Target: id}
}

// WriteJournal inserts one journal entry; the body is stored as
// Markdown verbatim.
func (s *Store) WriteJournal(ctx context.Context, userID, turnID string, w *JournalWrite) WriteSummary {
	if !s.Ready() || s.db == nil {
		return WriteSummary{Kind: "journal", Status: StatusFailed, Details: ErrNotReady.Error()}
	}
	if strings.TrimSpace(w.Title) == "" || strings.TrimSpace(w.BodyMD) == "" {
		return WriteSummary{Kind: "journal", Status: StatusRejected, Details: "title and body_md are required"}
	}

	key := IdempotencyKey(userID, turnID, "journal")
	if id, dup := s.existingByKey(ctx, "journal_entries", userID, key); dup {
		return WriteSummary{Kind: "journal", Status: StatusDuplicate, Target: id, Details: "idempotency key replay"}
	}

	id := uuid.Must(uuid.NewV7()).String()
	query := s.d.Rebind(`INSERT INTO journal_entries
(id, user_id, turn_id, title, body_markdown, domain_hints, created_at, idempotency_key)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`)
	_, err := s.db.ExecContext(ctx, query,
		id, userID, turnID, w.Title, w.BodyMD, s.d.Array(w.DomainHints), time.Now().UTC(), key,
	)
	if err != nil {
		if existing, dup := s.existingByKey(ctx, "journal_entries", userID, key); dup {
			return WriteSummary{Kind: "journal", Status: StatusDuplicate, Target: existing, Details: "idempotency key replay"}
		}
		s.log.Error("journal write failed", "user", userID, "error", err)
		return WriteSummary{Kind: "journal", Status: StatusFailed, Details: err.Error()}
	}
	return WriteSummary{Kind: "journal", Status: StatusWritten, Target: id}
}

// existingByKey looks up a prior row for (user, idempotency key).
// table is one of the fixed table names, never caller input.
func (s *Store) existingByKey(ctx context.Context, table, userID, key string) (string, bool) {
	query := s.d.Rebind(fmt.Sprintf("SELECT id FROM %s WHERE user_id = $1 AND idempotency_key = $2", table))
	var id string
	if err := s.db.QueryRowContext(ctx, query, userID, key).Scan(&id); err != nil {
		return "", false
	}
	return id, true
}
