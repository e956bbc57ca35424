package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/mobius/internal/config"
	"github.com/nextlevelbuilder/mobius/internal/prompts"
	"github.com/nextlevelbuilder/mobius/internal/state"
)

// doctorCmd reports on the local setup without touching the network or
// the database.
func doctorCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check the local configuration and report problems",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd)
		},
	}
}

func runDoctor(cmd *cobra.Command) error {
	out := cmd.OutOrStdout()
	failures := 0
	check := func(ok bool, label, detail string) {
		mark := "ok"
		if !ok {
			mark = "FAIL"
			failures++
		}
		if detail != "" {
			fmt.Fprintf(out, "[%s] %s — %s\n", mark, label, detail)
		} else {
			fmt.Fprintf(out, "[%s] %s\n", mark, label)
		}
	}

	path := resolveConfigPath()
	cfg, err := config.Load(path)
	if err != nil {
		check(false, "config "+path, err.Error())
		return fmt.Errorf("doctor found %d problem(s)", failures)
	}
	check(true, "config "+path, "")
	if err := cfg.Validate(); err != nil {
		check(false, "config values", err.Error())
	} else {
		check(true, "config values", "")
	}

	check(cfg.Providers.OpenAI.APIKey != "", "OPENAI_API_KEY", boolDetail(cfg.Providers.OpenAI.APIKey != "", "set", "missing"))
	if cfg.Providers.Gemini.APIKey == "" {
		fmt.Fprintf(out, "[info] GEMINI_API_KEY not set — gemini* models will fail\n")
	} else {
		check(true, "GEMINI_API_KEY", "set")
	}

	if _, err := os.Stat(cfg.Specialists.PromptsDirectory); err != nil {
		fmt.Fprintf(out, "[info] prompts directory %s missing — builtin prompts will be used\n", cfg.Specialists.PromptsDirectory)
	} else {
		registry := prompts.NewRegistry(prompts.Options{
			Directory:        cfg.Specialists.PromptsDirectory,
			OrchestratorFile: cfg.Specialists.OrchestratorPromptFile,
			DomainFiles:      cfg.Specialists.DomainPromptFiles(),
		})
		for key, fp := range registry.Fingerprints() {
			if fp == "missing" {
				fmt.Fprintf(out, "[info] prompt %q has no file — builtin default in use\n", key)
			}
		}
		check(true, "prompts "+cfg.Specialists.PromptsDirectory, "")
	}

	if cfg.State.Enabled {
		if cfg.State.Database.DSN == "" {
			check(false, "MOBIUS_STATE_DSN", "state.enabled is true but no DSN is set")
		} else if err := state.ValidateDSN(cfg.State.Database.DSN); err != nil {
			check(false, "MOBIUS_STATE_DSN", err.Error())
		} else {
			check(true, "MOBIUS_STATE_DSN", "")
		}
		if cfg.State.Projection.Active() {
			check(writableDir(cfg.State.Projection.OutputDirectory), "projection directory "+cfg.State.Projection.OutputDirectory, "")
		}
	} else {
		fmt.Fprintf(out, "[info] state layer disabled\n")
	}

	if failures > 0 {
		return fmt.Errorf("doctor found %d problem(s)", failures)
	}
	fmt.Fprintln(out, "all checks passed")
	return nil
}

func boolDetail(ok bool, yes, no string) string {
	if ok {
		return yes
	}
	return no
}

func writableDir(dir string) bool {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return false
	}
	f, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return false
	}
	f.Close()
	os.Remove(f.Name())
	return true
}
