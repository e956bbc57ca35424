package state

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Projector mirrors state writes to a user-scoped directory tree:
//
//	state/users/<user>/checkin/<yyyy>/<date>_<id>.md
//	state/users/<user>/journal/<yyyy>/<date>_<id>.md
//	state/users/<user>/memory/<domain>.md
//	state/users/<user>/events/<yyyy-mm-dd>.jsonl
//
// Every file write is temp-then-rename so readers never observe a
// partial file. Projection failures are logged and swallowed; the disk
// mirror is a convenience, the database is the truth.
type Projector struct {
	root string
	mode string
	log  *slog.Logger
}

// NewProjector builds a projector rooted at dir. Mode "off" (or empty)
// disables every method.
func NewProjector(dir, mode string) *Projector {
	return &Projector{
		root: dir,
		mode: mode,
		log:  slog.With("component", "state.projector"),
	}
}

// Enabled reports whether projection is active.
func (p *Projector) Enabled() bool {
	return p != nil && (p.mode == "mirror" || p.mode == "full")
}

// UserDir returns the projection directory for one user, as shown in
// footer warnings.
func UserDir(user string) string {
	return fmt.Sprintf("state/users/%s/", user)
}

// memoryFrontmatter is the YAML header of a memory domain file.
type memoryFrontmatter struct {
	ID                 string    `yaml:"id"`
	Domain             string    `yaml:"domain"`
	CreatedAt          time.Time `yaml:"created_at"`
	UpdatedAt          time.Time `yaml:"updated_at"`
	EntryCount         int       `yaml:"entry_count"`
	Archived           bool      `yaml:"archived"`
	Tombstone          bool      `yaml:"tombstone"`
	CreatedByAgent     string    `yaml:"created_by_agent"`
	LastUpdatedByAgent string    `yaml:"last_updated_by_agent"`
}

// ProjectCheckin mirrors one check-in as a standalone markdown file.
func (p *Projector) ProjectCheckin(user, id string, w *CheckinWrite, createdAt time.Time) {
	if !p.Enabled() {
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", w.Title)
	fmt.Fprintf(&b, "- id: %s\n- domain: %s\n- track_type: %s\n- outcome: %s\n- confidence: %.2f\n- created_at: %s\n\n",
		id, w.Domain, w.TrackType, w.Outcome, w.Confidence, createdAt.Format(time.RFC3339))
	b.WriteString(w.Summary + "\n")
	writeListSection(&b, "Wins", w.Wins)
	writeListSection(&b, "Barriers", w.Barriers)
	writeListSection(&b, "Next actions", w.NextActions)

	path := p.recordPath(user, "checkin", id, createdAt)
	if err := atomicWrite(path, []byte(b.String())); err != nil {
		p.log.Warn("checkin projection failed", "user", user, "id", id, "error", err)
	}
}

// ProjectJournal mirrors one journal entry; the body stays verbatim.
func (p *Projector) ProjectJournal(user, id string, w *JournalWrite, createdAt time.Time) {
	if !p.Enabled() {
		return
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", w.Title)
	fmt.Fprintf(&b, "- id: %s\n- created_at: %s\n", id, createdAt.Format(time.RFC3339))
	if len(w.DomainHints) > 0 {
		fmt.Fprintf(&b, "- domains: %s\n", strings.Join(w.DomainHints, ", "))
	}
	b.WriteString("\n" + w.BodyMD + "\n")

	path := p.recordPath(user, "journal", id, createdAt)
	if err := atomicWrite(path, []byte(b.String())); err != nil {
		p.log.Warn("journal projection failed", "user", user, "id", id, "error", err)
	}
}

// ProjectMemoryDomain rewrites the living domain file from the full
// record list (tombstoned included). Line shape:
//
//	- [<mem_id>] <summary>
//	- [<mem_id>] [REMOVED] <summary>
//
// The stored summary already carries the [REMOVED] prefix after a
// tombstone, so records render uniformly. entry_count counts live
// lines only.
func (p *Projector) ProjectMemoryDomain(user, domain string, records []MemoryRecord) {
	if !p.Enabled() {
		return
	}
	path := filepath.Join(p.root, "users", user, "memory", domain+".md")
	if len(records) == 0 {
		// Nothing to project; leave any existing file as audit trail.
		return
	}

	fm := memoryFrontmatter{
		ID:                 records[0].ID,
		Domain:             domain,
		CreatedAt:          records[0].CreatedAt.UTC(),
		CreatedByAgent:     records[0].CreatedByAgent,
		Archived:           true,
		Tombstone:          true,
	}
	var lines []string
	for _, rec := range records {
		if !rec.Tombstoned {
			fm.EntryCount++
			fm.Tombstone = false
		}
		if !rec.Archived {
			fm.Archived = false
		}
		if rec.UpdatedAt.After(fm.UpdatedAt) {
			fm.UpdatedAt = rec.UpdatedAt.UTC()
			fm.LastUpdatedByAgent = rec.LastUpdatedByAgent
		}
		lines = append(lines, fmt.Sprintf("- [%s] %s", rec.ID, rec.Summary))
	}

	header, err := yaml.Marshal(fm)
	if err != nil {
		p.log.Warn("memory frontmatter marshal failed", "user", user, "domain", domain, "error", err)
		return
	}
	content := "---\n" + string(header) + "---\n\n" + strings.Join(lines, "\n") + "\n"
	if err := atomicWrite(path, []byte(content)); err != nil {
		p.log.Warn("memory projection failed", "user", user, "domain", domain, "error", err)
	}
}

// event is one line of the per-day JSONL audit log.
type event struct {
	Timestamp time.Time `json:"ts"`
	Kind      string    `json:"kind"`
	Action    string    `json:"action"`
	Target    string    `json:"target,omitempty"`
	Status    string    `json:"status,omitempty"`
	Details   string    `json:"details,omitempty"`
}

// AppendEvent records one audit line. Events append rather than
// rewrite; a single short write per line keeps concurrent appenders
// from interleaving.
func (p *Projector) AppendEvent(user, kind, action, target, status, details string) {
	if !p.Enabled() {
		return
	}
	now := time.Now().UTC()
	dir := filepath.Join(p.root, "users", user, "events")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		p.log.Warn("event dir not creatable", "user", user, "error", err)
		return
	}
	line, err := json.Marshal(event{Timestamp: now, Kind: kind, Action: action, Target: target, Status: status, Details: details})
	if err != nil {
		return
	}
	path := filepath.Join(dir, now.Format("2006-01-02")+".jsonl")
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		p.log.Warn("event log open failed", "user", user, "error", err)
		return
	}
	defer f.Close()
	if _, err := f.Write(append(line, '\n')); err != nil {
		p.log.Warn("event log write failed", "user", user, "error", err)
	}
}

func (p *Projector) recordPath(user, kind, id string, createdAt time.Time) string {
	short := id
	if len(short) > 8 {
		short = short[:8]
	}
	name := fmt.Sprintf("%s_%s.md", createdAt.UTC().Format("2006-01-02"), short)
	return filepath.Join(p.root, "users", user, kind, createdAt.UTC().Format("2006"), name)
}

func writeListSection(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "\n## %s\n\n", title)
	for _, item := range items {
		b.WriteString("- " + item + "\n")
	}
}

// atomicWrite writes data to a temp file in the target directory and
// renames it into place.
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	return os.Rename(tmpName, path)
}
