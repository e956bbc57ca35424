package state

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

// MemoryWriteResult reports one memory application, including whether a
// new record was created or an existing one was touched.
type MemoryWriteResult struct {
	Summary WriteSummary
	Created bool
}

// truncateUTF8 cuts s to at most max bytes without splitting a rune.
func truncateUTF8(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}

// newMemoryID mints a memory id: mem_<YYYY-MM-DD>_<8 hex>.
func newMemoryID(now time.Time) string {
	suffix := make([]byte, 4)
	rand.Read(suffix)
	return fmt.Sprintf("mem_%s_%s", now.UTC().Format("2006-01-02"), hex.EncodeToString(suffix))
}

// WriteMemory applies one memory decision. An idempotency-key replay
// is a no-op; a normalized-summary collision against a live record in
// the same (user, domain) touches updated_at and reports created=false.
// Otherwise a fresh record is appended.
func (s *Store) WriteMemory(ctx context.Context, userID, turnID string, w *MemoryWrite, agent string) MemoryWriteResult {
	if !s.Ready() || s.db == nil {
		return MemoryWriteResult{Summary: WriteSummary{Kind: "memory", Status: StatusFailed, Details: ErrNotReady.Error()}}
	}
	summary := strings.TrimSpace(w.Summary)
	if summary == "" {
		return MemoryWriteResult{Summary: WriteSummary{Kind: "memory", Status: StatusRejected, Details: "summary is required"}}
	}
	if max := s.cfg.Memory.MaxSummaryChars; max > 0 && len(summary) > max {
		summary = truncateUTF8(summary, max)
	}

	key := IdempotencyKey(userID, turnID, "memory")
	if id, dup := s.memoryByKey(ctx, userID, key); dup {
		return MemoryWriteResult{Summary: WriteSummary{Kind: "memory", Status: StatusDuplicate, Target: id, Details: "idempotency key replay"}}
	}

	normalized := NormalizeSummary(summary)
	now := time.Now().UTC()

	// Duplicate content: same normalized summary among live records in
	// the domain. Touch instead of insert.
	var existingID string
	query := s.d.Rebind(`SELECT id FROM memories
WHERE user_id = $1 AND domain = $2 AND normalized_summary = $3 AND NOT tombstoned`)
	err := s.db.QueryRowContext(ctx, query, userID, w.Domain, normalized).Scan(&existingID)
	switch {
	case err == nil:
		touch := s.d.Rebind(`UPDATE memories SET updated_at = $1, last_updated_by_agent = $2 WHERE id = $3`)
		if _, err := s.db.ExecContext(ctx, touch, now, agent, existingID); err != nil {
			s.log.Error("memory touch failed", "id", existingID, "error", err)
			return MemoryWriteResult{Summary: WriteSummary{Kind: "memory", Status: StatusFailed, Details: err.Error()}}
		}
		return MemoryWriteResult{
			Summary: WriteSummary{Kind: "memory", Status: StatusDuplicate, Target: existingID, Details: "duplicate summary"},
			Created: false,
		}
	case !errors.Is(err, sql.ErrNoRows):
		s.log.Error("memory dedup lookup failed", "user", userID, "error", err)
		return MemoryWriteResult{Summary: WriteSummary{Kind: "memory", Status: StatusFailed, Details: err.Error()}}
	}

	id := newMemoryID(now)
	insert := s.d.Rebind(`INSERT INTO memories
(id, user_id, domain, title, summary, narrative, confidence, tags,
 archived, tombstoned, created_at, updated_at, normalized_summary, idempotency_key,
 created_by_agent, last_updated_by_agent)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`)
	_, err = s.db.ExecContext(ctx, insert,
		id, userID, w.Domain, w.Title, summary, w.Narrative, clamp01(w.Confidence), s.d.Array(w.Tags),
		false, false, now, now, normalized, key, agent, agent,
	)
	if err != nil {
		// Lost a race against a concurrent writer: the unique indexes on
		// (user, idempotency_key) and (user, domain, normalized_summary)
		// reject the second insert, so re-read and report the winner.
		if dupID, dup := s.memoryByKey(ctx, userID, key); dup {
			return MemoryWriteResult{Summary: WriteSummary{Kind: "memory", Status: StatusDuplicate, Target: dupID, Details: "idempotency key replay"}}
		}
		if qerr := s.db.QueryRowContext(ctx, query, userID, w.Domain, normalized).Scan(&existingID); qerr == nil {
			return MemoryWriteResult{Summary: WriteSummary{Kind: "memory", Status: StatusDuplicate, Target: existingID, Details: "duplicate summary"}}
		}
		s.log.Error("memory write failed", "user", userID, "error", err)
		return MemoryWriteResult{Summary: WriteSummary{Kind: "memory", Status: StatusFailed, Details: err.Error()}}
	}
	return MemoryWriteResult{
		Summary: WriteSummary{Kind: "memory", Status: StatusWritten, Target: id},
		Created: true,
	}
}

// TombstoneMemory soft-deletes a memory: the stored summary gains a
// "[REMOVED] " prefix and the record leaves every active read.
func (s *Store) TombstoneMemory(ctx context.Context, userID, memoryID, agent string) error {
	if !s.Ready() || s.db == nil {
		return ErrNotReady
	}
	rec, err := s.getMemory(ctx, userID, memoryID)
	if err != nil {
		return err
	}
	if rec.Tombstoned {
		return nil
	}
	query := s.d.Rebind(`UPDATE memories
SET tombstoned = $1, summary = $2, updated_at = $3, last_updated_by_agent = $4
WHERE id = $5 AND user_id = $6`)
	_, err = s.db.ExecContext(ctx, query,
		true, "[REMOVED] "+rec.Summary, time.Now().UTC(), agent, memoryID, userID)
	if err != nil {
		return fmt.Errorf("tombstone memory %s: %w", memoryID, err)
	}
	return nil
}

// EditMemory appends a parenthetical note to the stored summary line.
// Tombstone state is preserved; repeated edits accumulate annotations.
func (s *Store) EditMemory(ctx context.Context, userID, memoryID, note, agent string) error {
	if !s.Ready() || s.db == nil {
		return ErrNotReady
	}
	note = strings.TrimSpace(note)
	if note == "" {
		return errors.New("edit note must not be empty")
	}
	rec, err := s.getMemory(ctx, userID, memoryID)
	if err != nil {
		return err
	}
	query := s.d.Rebind(`UPDATE memories
SET summary = $1, updated_at = $2, last_updated_by_agent = $3
WHERE id = $4 AND user_id = $5`)
	_, err = s.db.ExecContext(ctx, query,
		rec.Summary+" ("+note+")", time.Now().UTC(), agent, memoryID, userID)
	if err != nil {
		return fmt.Errorf("edit memory %s: %w", memoryID, err)
	}
	return nil
}

// DomainMemories lists every memory for (user, domain), oldest first,
// tombstoned records included. The projector needs the full history to
// rebuild the domain file.
func (s *Store) DomainMemories(ctx context.Context, userID, domain string) ([]MemoryRecord, error) {
	if !s.Ready() || s.db == nil {
		return nil, ErrNotReady
	}
	query := s.d.Rebind(`SELECT id, user_id, domain, title, summary, narrative, confidence, tags,
archived, tombstoned, created_at, updated_at, created_by_agent, last_updated_by_agent, normalized_summary
FROM memories WHERE user_id = $1 AND domain = $2 ORDER BY created_at ASC, id ASC`)
	rows, err := s.db.QueryContext(ctx, query, userID, domain)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []MemoryRecord
	for rows.Next() {
		var m MemoryRecord
		if err := rows.Scan(&m.ID, &m.UserID, &m.Domain, &m.Title, &m.Summary, &m.Narrative,
			&m.Confidence, s.d.ArrayScanner(&m.Tags), &m.Archived, &m.Tombstoned,
			&m.CreatedAt, &m.UpdatedAt, &m.CreatedByAgent, &m.LastUpdatedByAgent,
			&m.NormalizedSummary); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// MemoryUserDomains lists every (user, domain) pair that has at least
// one memory. Used by the projection resync.
func (s *Store) MemoryUserDomains(ctx context.Context) (map[string][]string, error) {
	if !s.Ready() || s.db == nil {
		return nil, ErrNotReady
	}
	rows, err := s.db.QueryContext(ctx, "SELECT DISTINCT user_id, domain FROM memories")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string][]string)
	for rows.Next() {
		var user, domain string
		if err := rows.Scan(&user, &domain); err != nil {
			return nil, err
		}
		out[user] = append(out[user], domain)
	}
	return out, rows.Err()
}

func (s *Store) getMemory(ctx context.Context, userID, memoryID string) (*MemoryRecord, error) {
	query := s.d.Rebind(`SELECT id, user_id, domain, summary, tombstoned FROM memories
WHERE id = $1 AND user_id = $2`)
	var m MemoryRecord
	err := s.db.QueryRowContext(ctx, query, memoryID, userID).Scan(
		&m.ID, &m.UserID, &m.Domain, &m.Summary, &m.Tombstoned)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("memory %s not found", memoryID)
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *Store) memoryByKey(ctx context.Context, userID, key string) (string, bool) {
	query := s.d.Rebind("SELECT id FROM memories WHERE user_id = $1 AND idempotency_key = $2")
	var id string
	if err := s.db.QueryRowContext(ctx, query, userID, key).Scan(&id); err != nil {
		return "", false
	}
	return id, true
}
