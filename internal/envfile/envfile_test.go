package envfile

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
)

func TestUpsertLinesUpdatesAndAppends(t *testing.T) {
	lines := []string{
		"OPENAI_API_KEY=abc",
		"MOBIUS_API_KEY=old",
		"# comment",
	}
	updated := UpsertLines(lines, map[string]string{
		"MOBIUS_API_KEY":   "new",
		"MOBIUS_STATE_DSN": "postgresql://x",
	})

	for _, want := range []string{
		"MOBIUS_API_KEY=new",
		"MOBIUS_STATE_DSN=postgresql://x",
		"OPENAI_API_KEY=abc",
		"# comment",
	} {
		if !slices.Contains(updated, want) {
			t.Errorf("missing line %q in %v", want, updated)
		}
	}
	if slices.Contains(updated, "MOBIUS_API_KEY=old") {
		t.Errorf("stale value survived: %v", updated)
	}
}

func TestUpsertLinesPreservesOrderAndBlanks(t *testing.T) {
	lines := []string{"# header", "", "A=1", "B=2"}
	updated := UpsertLines(lines, map[string]string{"B": "3"})
	want := []string{"# header", "", "A=1", "B=3"}
	if !slices.Equal(updated, want) {
		t.Errorf("updated = %v, want %v", updated, want)
	}
}

func TestUpsertLinesValueWithEquals(t *testing.T) {
	updated := UpsertLines([]string{"DSN=postgres://u:p@h/db?sslmode=disable"}, map[string]string{"DSN": "sqlite://x"})
	if !slices.Equal(updated, []string{"DSN=sqlite://x"}) {
		t.Errorf("updated = %v", updated)
	}
}

func TestUpsertCreatesFileWithTightPerms(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", ".env")
	if err := Upsert(path, map[string]string{"MOBIUS_API_KEY": "sk-1"}); err != nil {
		t.Fatalf("Upsert: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatal(err)
	}
	if perm := info.Mode().Perm(); perm != 0o600 {
		t.Errorf("perm = %o, want 600", perm)
	}
	data, _ := os.ReadFile(path)
	if string(data) != "MOBIUS_API_KEY=sk-1\n" {
		t.Errorf("content = %q", data)
	}
}

func TestUpsertRoundTripKeepsComments(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	initial := "# managed by ops\nOPENAI_API_KEY=abc\n\nMOBIUS_PORT=8731\n"
	if err := os.WriteFile(path, []byte(initial), 0o600); err != nil {
		t.Fatal(err)
	}

	if err := Upsert(path, map[string]string{"MOBIUS_PORT": "9000"}); err != nil {
		t.Fatal(err)
	}
	data, _ := os.ReadFile(path)
	content := string(data)
	if !strings.Contains(content, "# managed by ops") || !strings.Contains(content, "MOBIUS_PORT=9000") {
		t.Errorf("content = %q", content)
	}
	if strings.Contains(content, "MOBIUS_PORT=8731") {
		t.Errorf("old value survived: %q", content)
	}
}
