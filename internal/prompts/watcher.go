package prompts

import (
	"context"
	"fmt"
	"time"

	"github.com/fsnotify/fsnotify"
)

// debounce window for bursts of events from editors doing write+rename.
const watchDebounce = 100 * time.Millisecond

// Watch marks the registry dirty whenever a file in the prompt directory
// changes, so the next Get reloads immediately instead of waiting for a
// fingerprint sweep. Blocks until ctx is done. Fingerprint checks remain
// the source of truth; losing the watcher only delays reloads.
func (r *Registry) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("prompt watcher: %w", err)
	}
	defer watcher.Close()

	// Watch the directory rather than individual files so atomic
	// write-then-rename updates are seen.
	if err := watcher.Add(r.opts.Directory); err != nil {
		return fmt.Errorf("prompt watcher add %s: %w", r.opts.Directory, err)
	}
	r.log.Info("prompt watcher started", "dir", r.opts.Directory)

	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(watchDebounce, r.MarkDirty)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			r.log.Warn("prompt watcher error", "error", err)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
