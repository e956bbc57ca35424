package state

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/nextlevelbuilder/mobius/internal/config"
	"github.com/nextlevelbuilder/mobius/internal/telemetry"
)

func testPipeline(t *testing.T, router *scriptedRouter, mutate func(*config.StateConfig)) (*Pipeline, string) {
	t.Helper()
	cfg := testConfig(t)
	projDir := t.TempDir()
	cfg.Projection.Mode = "full"
	cfg.Projection.OutputDirectory = projDir
	if mutate != nil {
		mutate(&cfg)
	}
	store := NewStore(cfg)
	if err := store.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	engine := NewDecisionEngine("gpt-5.2", cfg.Decision.MaxJSONRetries, router)
	projector := NewProjector(cfg.Projection.OutputDirectory, cfg.Projection.Mode)
	return NewPipeline(cfg, store, engine, projector), projDir
}

func sampleTurn() Turn {
	return Turn{
		TurnID:        "turn-1",
		UserID:        "alice",
		SessionKey:    "ab12cd34:alice",
		RoutedDomain:  "health",
		UserText:      "Today I decided I'll finally lose fat.",
		AssistantText: "Great, let's define a plan.",
		UsedModel:     "gpt-5.2",
	}
}

func TestProcessTurnWritesAndProjects(t *testing.T) {
	router := &scriptedRouter{replies: []string{fullDecisionJSON(t)}}
	p, projDir := testPipeline(t, router, nil)

	footer := p.ProcessTurn(context.Background(), sampleTurn())
	if footer != "" {
		t.Errorf("footer = %q, want empty on success", footer)
	}

	var count int
	if err := p.store.db.QueryRow("SELECT COUNT(*) FROM checkins").Scan(&count); err != nil || count != 1 {
		t.Errorf("checkins = %d (%v)", count, err)
	}
	if err := p.store.db.QueryRow("SELECT COUNT(*) FROM journal_entries").Scan(&count); err != nil || count != 1 {
		t.Errorf("journal entries = %d (%v)", count, err)
	}

	memFile := filepath.Join(projDir, "users", "alice", "memory", "health.md")
	data, err := os.ReadFile(memFile)
	if err != nil {
		t.Fatalf("memory projection missing: %v", err)
	}
	if !strings.Contains(string(data), "User repeatedly re-commits to losing fat.") {
		t.Errorf("memory file = %q", data)
	}

	entries, err := os.ReadDir(filepath.Join(projDir, "users", "alice", "events"))
	if err != nil || len(entries) != 1 {
		t.Errorf("event log entries = %v (%v)", entries, err)
	}
}

func TestProcessTurnModelFailureFooter(t *testing.T) {
	p, _ := testPipeline(t, &scriptedRouter{fail: true}, nil)

	footer := p.ProcessTurn(context.Background(), sampleTurn())
	for _, want := range []string{"*State warning:*", FailureReason, "state/users/alice/"} {
		if !strings.Contains(footer, want) {
			t.Errorf("footer %q missing %q", footer, want)
		}
	}
}

func TestProcessTurnSilentFailurePolicy(t *testing.T) {
	p, _ := testPipeline(t, &scriptedRouter{fail: true}, func(cfg *config.StateConfig) {
		cfg.Decision.OnFailure = "silent"
	})
	if footer := p.ProcessTurn(context.Background(), sampleTurn()); footer != "" {
		t.Errorf("footer = %q, want empty under silent policy", footer)
	}
}

func TestProcessTurnSkipsWhenDisabled(t *testing.T) {
	router := &scriptedRouter{replies: []string{fullDecisionJSON(t)}}
	p, _ := testPipeline(t, router, func(cfg *config.StateConfig) {
		f := false
		cfg.Decision.Enabled = &f
	})
	if footer := p.ProcessTurn(context.Background(), sampleTurn()); footer != "" {
		t.Errorf("footer = %q", footer)
	}
	if router.calls != 0 {
		t.Errorf("decision model called %d times while disabled", router.calls)
	}
}

func TestProcessTurnDropsLowConfidenceMemory(t *testing.T) {
	router := &scriptedRouter{replies: []string{
		`{"memory":{"write":true,"domain":"health","summary":"vague hunch","confidence":0.1},"reason":"weak_signal"}`,
	}}
	p, projDir := testPipeline(t, router, nil)

	p.ProcessTurn(context.Background(), sampleTurn())

	var count int
	if err := p.store.db.QueryRow("SELECT COUNT(*) FROM memories").Scan(&count); err != nil || count != 0 {
		t.Errorf("memories = %d (%v), want 0 below confidence floor", count, err)
	}
	if _, err := os.Stat(filepath.Join(projDir, "users", "alice", "memory", "health.md")); !os.IsNotExist(err) {
		t.Errorf("domain file should not exist, stat err = %v", err)
	}
}

func TestPipelineTombstoneRefreshesProjection(t *testing.T) {
	router := &scriptedRouter{replies: []string{fullDecisionJSON(t)}}
	p, projDir := testPipeline(t, router, nil)
	ctx := context.Background()
	p.ProcessTurn(ctx, sampleTurn())

	records, err := p.store.DomainMemories(ctx, "alice", "health")
	if err != nil || len(records) != 1 {
		t.Fatalf("records = %v (%v)", records, err)
	}
	if err := p.Tombstone(ctx, "alice", records[0].ID, "operator"); err != nil {
		t.Fatalf("Tombstone: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(projDir, "users", "alice", "memory", "health.md"))
	if err != nil {
		t.Fatal(err)
	}
	content := string(data)
	if !strings.Contains(content, "[REMOVED] ") {
		t.Errorf("projection missing tombstone marker:\n%s", content)
	}
	if !strings.Contains(content, "entry_count: 0") || !strings.Contains(content, "tombstone: true") {
		t.Errorf("front-matter not updated:\n%s", content)
	}
}

func TestResyncProjectionRebuildsDomainFiles(t *testing.T) {
	router := &scriptedRouter{replies: []string{fullDecisionJSON(t)}}
	p, projDir := testPipeline(t, router, nil)
	ctx := context.Background()
	p.ProcessTurn(ctx, sampleTurn())

	memFile := filepath.Join(projDir, "users", "alice", "memory", "health.md")
	if err := os.WriteFile(memFile, []byte("manually mangled"), 0o644); err != nil {
		t.Fatal(err)
	}

	count, err := p.ResyncProjection(ctx)
	if err != nil {
		t.Fatalf("ResyncProjection: %v", err)
	}
	if count != 1 {
		t.Errorf("rebuilt = %d, want 1", count)
	}
	data, _ := os.ReadFile(memFile)
	if !strings.Contains(string(data), "User repeatedly re-commits to losing fat.") {
		t.Errorf("domain file not rebuilt: %q", data)
	}
}

func TestProcessTurnEmitsSpan(t *testing.T) {
	recorder := telemetry.InstallRecorder()
	router := &scriptedRouter{replies: []string{fullDecisionJSON(t)}}
	p, _ := testPipeline(t, router, nil)

	p.ProcessTurn(context.Background(), sampleTurn())

	spans := recorder.Ended()
	if len(spans) != 1 {
		t.Fatalf("spans recorded = %d, want 1", len(spans))
	}
	if spans[0].Name() != "state.pipeline" {
		t.Errorf("span name = %q", spans[0].Name())
	}
	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	if attrs["turn.domain"] != "health" {
		t.Errorf("span attributes = %v", attrs)
	}
}
