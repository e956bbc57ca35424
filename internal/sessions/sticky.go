package sessions

import (
	"container/list"
	"sync"
	"time"
)

const (
	// DefaultHistorySize is how many recent domains a session remembers.
	DefaultHistorySize = 3
	// DefaultMaxSessions caps the tracker before LRU eviction kicks in.
	DefaultMaxSessions = 4096
)

// entry is one session's routing memory.
type entry struct {
	key     string
	domains []string // oldest first, bounded by historySize
	updated time.Time
	elem    *list.Element // position in the LRU list
}

// Tracker remembers which specialist domain recent turns of a session
// were routed to, so the classifier can bias toward continuity.
// All operations are O(1) amortized.
type Tracker struct {
	mu          sync.Mutex
	sessions    map[string]*entry
	lru         *list.List // front = most recently used
	historySize int
	maxSessions int
}

// NewTracker builds a tracker with the given bounds. Zero or negative
// values fall back to the defaults.
func NewTracker(historySize, maxSessions int) *Tracker {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	if maxSessions <= 0 {
		maxSessions = DefaultMaxSessions
	}
	return &Tracker{
		sessions:    make(map[string]*entry),
		lru:         list.New(),
		historySize: historySize,
		maxSessions: maxSessions,
	}
}

// Remember appends a routed domain to the session's history, trimming
// to the history bound and refreshing its LRU position. New sessions
// may evict the least recently used one when the tracker is full.
func (t *Tracker) Remember(key, domain string) {
	if key == "" || domain == "" {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.sessions[key]
	if !ok {
		e = &entry{key: key}
		e.elem = t.lru.PushFront(e)
		t.sessions[key] = e
		t.evictLocked()
	} else {
		t.lru.MoveToFront(e.elem)
	}

	e.domains = append(e.domains, domain)
	if len(e.domains) > t.historySize {
		e.domains = e.domains[len(e.domains)-t.historySize:]
	}
	e.updated = time.Now()
}

// Recent returns a copy of the session's domain history, oldest first.
// Unknown sessions return nil.
func (t *Tracker) Recent(key string) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.sessions[key]
	if !ok {
		return nil
	}
	t.lru.MoveToFront(e.elem)
	out := make([]string, len(e.domains))
	copy(out, e.domains)
	return out
}

// Latest returns the most recently routed domain for the session.
func (t *Tracker) Latest(key string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.sessions[key]
	if !ok || len(e.domains) == 0 {
		return "", false
	}
	t.lru.MoveToFront(e.elem)
	return e.domains[len(e.domains)-1], true
}

// Reset forgets a session entirely.
func (t *Tracker) Reset(key string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.sessions[key]
	if !ok {
		return
	}
	t.lru.Remove(e.elem)
	delete(t.sessions, key)
}

// Len reports how many sessions the tracker currently holds.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// evictLocked drops least-recently-used sessions while over cap.
func (t *Tracker) evictLocked() {
	for len(t.sessions) > t.maxSessions {
		oldest := t.lru.Back()
		if oldest == nil {
			return
		}
		e := oldest.Value.(*entry)
		t.lru.Remove(oldest)
		delete(t.sessions, e.key)
	}
}
