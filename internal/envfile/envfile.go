// Package envfile edits KEY=value env files in place while preserving
// comments, blank lines, and unrelated entries.
package envfile

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// UpsertLines replaces the value of every key present in updates and
// appends the keys the file does not have yet. Unrelated lines pass
// through untouched. Appended keys are sorted so output is stable.
func UpsertLines(lines []string, updates map[string]string) []string {
	seen := make(map[string]bool, len(updates))
	out := make([]string, 0, len(lines)+len(updates))

	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" || strings.HasPrefix(trimmed, "#") {
			out = append(out, line)
			continue
		}
		key, _, ok := strings.Cut(trimmed, "=")
		key = strings.TrimSpace(key)
		if ok {
			if value, hit := updates[key]; hit {
				out = append(out, key+"="+value)
				seen[key] = true
				continue
			}
		}
		out = append(out, line)
	}

	missing := make([]string, 0, len(updates))
	for key := range updates {
		if !seen[key] {
			missing = append(missing, key)
		}
	}
	sort.Strings(missing)
	for _, key := range missing {
		out = append(out, key+"="+updates[key])
	}
	return out
}

// Upsert applies updates to the env file at path, creating it when
// absent. The file is written 0600 via temp-and-rename since it holds
// secrets.
func Upsert(path string, updates map[string]string) error {
	var lines []string
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		lines = strings.Split(strings.TrimRight(string(data), "\n"), "\n")
		if len(lines) == 1 && lines[0] == "" {
			lines = nil
		}
	case os.IsNotExist(err):
	default:
		return fmt.Errorf("read %s: %w", path, err)
	}

	content := strings.Join(UpsertLines(lines, updates), "\n") + "\n"
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if err := tmp.Chmod(0o600); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if _, err := tmp.WriteString(content); err != nil {
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
