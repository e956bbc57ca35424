package cmd

import (
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/mobius/internal/envfile"
	"github.com/nextlevelbuilder/mobius/internal/state"
)

// onboardCmd collects the secrets the gateway needs and writes them to
// an env file. Interactive when run on a terminal; flags cover the
// scripted path.
func onboardCmd() *cobra.Command {
	var (
		envFile   string
		apiKey    string
		openaiKey string
		geminiKey string
		stateDSN  string
		yes       bool
	)

	cmd := &cobra.Command{
		Use:   "onboard",
		Short: "Write gateway secrets to an env file",
		RunE: func(cmd *cobra.Command, args []string) error {
			interactive := isatty.IsTerminal(os.Stdin.Fd()) && !yes
			if interactive {
				form := huh.NewForm(
					huh.NewGroup(
						huh.NewInput().
							Title("Gateway API key").
							Description("Clients authenticate with this bearer token. Leave empty to disable auth.").
							Value(&apiKey),
						huh.NewInput().
							Title("OpenAI API key").
							Description("Used for gpt-* models.").
							Value(&openaiKey),
						huh.NewInput().
							Title("Gemini API key").
							Description("Used for gemini-* models. Optional.").
							Value(&geminiKey),
						huh.NewInput().
							Title("State database DSN").
							Description("postgresql:// or sqlite:// URL. Optional; empty disables the state layer.").
							Value(&stateDSN),
					),
				)
				if err := form.Run(); err != nil {
					return err
				}
			}

			if openaiKey == "" && geminiKey == "" {
				return fmt.Errorf("at least one provider key is required (OPENAI_API_KEY or GEMINI_API_KEY)")
			}
			if stateDSN != "" {
				if err := state.ValidateDSN(stateDSN); err != nil {
					return err
				}
			}

			updates := map[string]string{}
			setIf := func(key, value string) {
				if value != "" {
					updates[key] = value
				}
			}
			setIf("MOBIUS_API_KEY", apiKey)
			setIf("OPENAI_API_KEY", openaiKey)
			setIf("GEMINI_API_KEY", geminiKey)
			setIf("MOBIUS_STATE_DSN", stateDSN)

			if err := envfile.Upsert(envFile, updates); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s (%s)\n", envFile, strings.Join(sortedKeys(updates), ", "))
			return nil
		},
	}

	cmd.Flags().StringVar(&envFile, "env-file", ".env", "env file to write")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "gateway API key for clients")
	cmd.Flags().StringVar(&openaiKey, "openai-api-key", "", "OpenAI API key")
	cmd.Flags().StringVar(&geminiKey, "gemini-api-key", "", "Gemini API key")
	cmd.Flags().StringVar(&stateDSN, "state-dsn", "", "state database DSN")
	cmd.Flags().BoolVar(&yes, "yes", false, "skip the interactive form")
	return cmd
}

func sortedKeys(m map[string]string) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
