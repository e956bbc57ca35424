package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/mobius/internal/classify"
	"github.com/nextlevelbuilder/mobius/internal/config"
	"github.com/nextlevelbuilder/mobius/internal/httpapi"
	"github.com/nextlevelbuilder/mobius/internal/orchestrator"
	"github.com/nextlevelbuilder/mobius/internal/prompts"
	"github.com/nextlevelbuilder/mobius/internal/providers"
	"github.com/nextlevelbuilder/mobius/internal/sessions"
	"github.com/nextlevelbuilder/mobius/internal/state"
	"github.com/nextlevelbuilder/mobius/internal/telemetry"
)

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(parent context.Context) error {
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	setupLogging(cfg.Logging)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry, Version)
	if err != nil {
		slog.Warn("telemetry disabled", "error", err)
	}
	defer shutdownTelemetry(context.Background())

	creds := providers.NewCredentialSet(
		cfg.Providers.OpenAI.APIKey, cfg.Providers.OpenAI.APIBase,
		cfg.Providers.Gemini.APIKey, cfg.Providers.Gemini.APIBase,
	)
	router := providers.NewRouter(creds, cfg.Models.Fallbacks)

	registry := prompts.NewRegistry(prompts.Options{
		Directory:        cfg.Specialists.PromptsDirectory,
		OrchestratorFile: cfg.Specialists.OrchestratorPromptFile,
		DomainFiles:      cfg.Specialists.DomainPromptFiles(),
		AutoReload:       cfg.Specialists.AutoReloadEnabled(),
	})
	tracker := sessions.NewTracker(cfg.Sessions.HistorySize, cfg.Sessions.MaxSessions)
	classifier := classify.New(cfg.Models.ClassifierModel(), router)

	store := state.NewStore(cfg.State)
	defer store.Close()
	if err := store.Initialize(ctx); err != nil {
		// Schema problems are operator mistakes, not transient faults.
		if errors.Is(err, state.ErrPendingMigrations) || errors.Is(err, state.ErrSchemaOutOfRange) {
			return fmt.Errorf("state store: %w", err)
		}
		slog.Warn("state store unavailable, serving without state writes", "error", err)
	}

	var pipeline *state.Pipeline
	if cfg.State.Enabled {
		decisionModel := cfg.State.Decision.Model
		if decisionModel == "" {
			decisionModel = cfg.Models.Orchestrator
		}
		engine := state.NewDecisionEngine(decisionModel, cfg.State.Decision.MaxJSONRetries, router)
		projector := state.NewProjector(cfg.State.Projection.OutputDirectory, cfg.State.Projection.Mode)
		pipeline = state.NewPipeline(cfg.State, store, engine, projector)
	}

	var statePipe orchestrator.StatePipeline
	if pipeline != nil {
		statePipe = pipeline
	}
	orch := orchestrator.New(*cfg, router, classifier, registry, tracker, statePipe)
	server := httpapi.NewServer(*cfg, orch, router, store, registry, Version)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(ctx) })
	if cfg.Specialists.Watch {
		g.Go(func() error {
			if err := registry.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				slog.Warn("prompt watcher stopped", "error", err)
			}
			return nil
		})
	}
	if pipeline != nil {
		g.Go(func() error {
			if err := pipeline.RunResyncLoop(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}
	g.Go(func() error { return startTailscale(ctx, cfg.Tailscale, server.BuildMux()) })

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	slog.Info("gateway stopped")
	return nil
}

func setupLogging(cfg config.LoggingConfig) {
	level := slog.LevelInfo
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}
	if verbose {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}
