package state

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Track types and outcomes a check-in can carry. Unknown values from
// the decision model are defaulted, never rejected.
var (
	trackTypes = map[string]struct{}{"goal": {}, "habit": {}, "event": {}}
	outcomes   = map[string]struct{}{"success": {}, "partial": {}, "missed": {}, "neutral": {}}
)

const (
	defaultTrackType = "event"
	defaultOutcome   = "neutral"
)

// CheckinWrite is the decision payload for one check-in row.
type CheckinWrite struct {
	Domain      string   `json:"domain"`
	TrackType   string   `json:"track_type"`
	Title       string   `json:"title"`
	Summary     string   `json:"summary"`
	Outcome     string   `json:"outcome"`
	Confidence  float64  `json:"confidence"`
	Wins        []string `json:"wins"`
	Barriers    []string `json:"barriers"`
	NextActions []string `json:"next_actions"`
	Tags        []string `json:"tags"`
}

// JournalWrite is the decision payload for one journal entry.
type JournalWrite struct {
	Title       string   `json:"title"`
	BodyMD      string   `json:"body_md"`
	DomainHints []string `json:"domain_hints"`
}

// MemoryWrite is the decision payload for one long-term memory.
type MemoryWrite struct {
	Domain     string   `json:"domain"`
	Title      string   `json:"title"`
	Summary    string   `json:"summary"`
	Narrative  string   `json:"narrative"`
	Confidence float64  `json:"confidence"`
	Tags       []string `json:"tags"`
}

// StateDecision is the three-slot verdict of the decision engine. A nil
// slot means no write of that kind this turn.
type StateDecision struct {
	Checkin   *CheckinWrite
	Journal   *JournalWrite
	Memory    *MemoryWrite
	Reason    string
	IsFailure bool
}

// ContextSnapshot is what the decision engine sees about the user
// before judging the current turn.
type ContextSnapshot struct {
	RecentCheckins        []CheckinSummary
	RecentJournalTitles   []string
	ActiveMemorySummaries []string
}

// CheckinSummary is the context-sized view of one past check-in.
type CheckinSummary struct {
	Domain    string
	TrackType string
	Title     string
	Outcome   string
	CreatedAt time.Time
}

// Write statuses reported per slot.
const (
	StatusWritten   = "written"
	StatusDuplicate = "duplicate"
	StatusRejected  = "rejected"
	StatusFailed    = "failed"
)

// WriteSummary reports the outcome of one writer application.
type WriteSummary struct {
	Kind    string // "checkin", "journal", "memory"
	Status  string
	Target  string // row / memory id when known
	Details string
}

// MemoryRecord is one stored memory row.
type MemoryRecord struct {
	ID                 string
	UserID             string
	Domain             string
	Title              string
	Summary            string
	Narrative          string
	Confidence         float64
	Tags               []string
	Archived           bool
	Tombstoned         bool
	CreatedAt          time.Time
	UpdatedAt          time.Time
	CreatedByAgent     string
	LastUpdatedByAgent string
	NormalizedSummary  string
}

// IdempotencyKey derives the deterministic write key for one
// (user, turn, kind) triple. Replays map to the same key, making a
// second application a no-op.
func IdempotencyKey(userID, turnID, kind string) string {
	sum := sha256.Sum256([]byte(userID + "|" + turnID + "|" + kind))
	return hex.EncodeToString(sum[:])[:32]
}

// NormalizeSummary canonicalizes a memory summary for duplicate
// detection: lowercase, strip everything but [a-z0-9 ], collapse runs
// of whitespace.
func NormalizeSummary(summary string) string {
	lower := strings.ToLower(summary)
	var b strings.Builder
	b.Grow(len(lower))
	for _, r := range lower {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// normalizeTrackType defaults unknown track types.
func normalizeTrackType(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if _, ok := trackTypes[v]; ok {
		return v
	}
	return defaultTrackType
}

// normalizeOutcome defaults unknown outcomes.
func normalizeOutcome(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if _, ok := outcomes[v]; ok {
		return v
	}
	return defaultOutcome
}

// clamp01 forces a confidence into [0,1].
func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
