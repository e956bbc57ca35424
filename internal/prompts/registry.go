// Package prompts loads system prompts from disk with builtin fallbacks and
// stat-based hot reload. Lookups never fail: a key resolves to the latest
// on-disk content or to its builtin default.
package prompts

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/nextlevelbuilder/mobius/internal/specialists"
)

// Options configures a Registry.
type Options struct {
	// Directory holding the prompt files. Created if absent.
	Directory string
	// OrchestratorFile is the filename for the orchestrator prompt.
	// Defaults to "_orchestrator.md".
	OrchestratorFile string
	// DomainFiles overrides the filename per domain. A domain without an
	// entry uses "<domain>.md".
	DomainFiles map[string]string
	// AutoReload enables fingerprint checks on every Get.
	AutoReload bool
}

// Registry is a snapshot of prompts plus the per-file fingerprints the
// snapshot was loaded from. Safe for concurrent use.
type Registry struct {
	opts Options
	keys []string
	log  *slog.Logger

	// dirty is set by the directory watcher to force a reload on the
	// next Get without waiting for a fingerprint sweep.
	dirty atomic.Bool

	mu           sync.RWMutex
	prompts      map[string]string
	fingerprints map[string]string
}

// NewRegistry loads all prompts once and returns the registry.
func NewRegistry(opts Options) *Registry {
	if opts.OrchestratorFile == "" {
		opts.OrchestratorFile = "_orchestrator.md"
	}
	r := &Registry{
		opts: opts,
		keys: append([]string{"orchestrator"}, specialists.Domains()...),
		log:  slog.With("component", "prompts"),
	}
	r.loadAll(true)
	return r
}

// Get returns the prompt for key, reloading first when auto-reload is on
// and any tracked file changed. Unknown keys return "".
func (r *Registry) Get(key string) string {
	r.maybeReload()
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.prompts[key]; ok {
		return p
	}
	return Default(key)
}

// Keys returns every tracked prompt key: orchestrator plus each domain.
func (r *Registry) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// ResolvedFiles maps each key to the file path it resolves to.
func (r *Registry) ResolvedFiles() map[string]string {
	out := make(map[string]string, len(r.keys))
	for _, key := range r.keys {
		out[key] = r.pathFor(key)
	}
	return out
}

// Fingerprints returns a copy of the fingerprints the current snapshot was
// loaded from. Values are "<mtime_ns>:<size>", "missing", or "error".
func (r *Registry) Fingerprints() map[string]string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]string, len(r.fingerprints))
	for k, v := range r.fingerprints {
		out[k] = v
	}
	return out
}

// AutoReload reports whether Get performs change detection.
func (r *Registry) AutoReload() bool { return r.opts.AutoReload }

// Directory returns the prompt directory.
func (r *Registry) Directory() string { return r.opts.Directory }

// MarkDirty forces a full reload on the next Get. Called by the watcher.
func (r *Registry) MarkDirty() { r.dirty.Store(true) }

func (r *Registry) pathFor(key string) string {
	filename := r.opts.OrchestratorFile
	if key != "orchestrator" {
		filename = r.opts.DomainFiles[key]
		if filename == "" {
			filename = key + ".md"
		}
	}
	return filepath.Join(r.opts.Directory, filename)
}

func fingerprint(path string) string {
	st, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "missing"
		}
		return "error"
	}
	return fmt.Sprintf("%d:%d", st.ModTime().UnixNano(), st.Size())
}

func (r *Registry) readPrompt(key, path string) string {
	fallback := Default(key)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			r.log.Warn("prompt file missing, using builtin", "key", key, "path", path)
		} else {
			r.log.Warn("prompt file unreadable, using builtin", "key", key, "path", path, "error", err)
		}
		return fallback
	}
	text := strings.TrimSpace(string(data))
	if text == "" {
		r.log.Warn("prompt file empty, using builtin", "key", key, "path", path)
		return fallback
	}
	return text
}

// loadAll reads every prompt and swaps the snapshot in one step. Readers
// observe either the old snapshot or the new one, never a mix.
func (r *Registry) loadAll(initial bool) {
	if err := os.MkdirAll(r.opts.Directory, 0o755); err != nil {
		r.log.Warn("prompt directory not creatable", "dir", r.opts.Directory, "error", err)
	}
	prompts := make(map[string]string, len(r.keys))
	fingerprints := make(map[string]string, len(r.keys))
	for _, key := range r.keys {
		path := r.pathFor(key)
		prompts[key] = r.readPrompt(key, path)
		fingerprints[key] = fingerprint(path)
	}

	r.mu.Lock()
	r.prompts = prompts
	r.fingerprints = fingerprints
	r.mu.Unlock()

	if initial {
		r.log.Info("prompt registry loaded", "dir", r.opts.Directory, "auto_reload", r.opts.AutoReload)
	} else {
		r.log.Info("prompt files changed, reloaded", "dir", r.opts.Directory)
	}
}

func (r *Registry) hasChanges() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, key := range r.keys {
		if fingerprint(r.pathFor(key)) != r.fingerprints[key] {
			return true
		}
	}
	return false
}

func (r *Registry) maybeReload() {
	if !r.opts.AutoReload {
		return
	}
	if r.dirty.Swap(false) || r.hasChanges() {
		r.loadAll(false)
	}
}
