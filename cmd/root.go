// Package cmd implements the mobius CLI.
package cmd

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

// Version is set at build time via -ldflags "-X github.com/nextlevelbuilder/mobius/cmd.Version=v1.0.0"
var Version = "dev"

var (
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "mobius",
	Short: "Mobius — OpenAI-compatible specialist gateway",
	Long: "Mobius fronts OpenAI and Gemini behind one chat-completions endpoint,\n" +
		"routes each turn to a specialist persona, and keeps durable per-user\n" +
		"state (check-ins, journal, long-term memory) with a readable on-disk mirror.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: config.json5 or $MOBIUS_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.SilenceUsage = true
	rootCmd.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return &parseError{err: err}
	})

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(onboardCmd())
	rootCmd.AddCommand(doctorCmd())
	rootCmd.AddCommand(dbCmd())
	rootCmd.AddCommand(versionCmd())
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("mobius %s\n", Version)
		},
	}
}

func resolveConfigPath() string {
	if cfgFile != "" {
		return cfgFile
	}
	if v := os.Getenv("MOBIUS_CONFIG"); v != "" {
		return v
	}
	return "config.json5"
}

// parseError marks a flag or argument parse failure so Execute can map
// it to its own exit code.
type parseError struct{ err error }

func (e *parseError) Error() string { return e.err.Error() }
func (e *parseError) Unwrap() error { return e.err }

// exitCode maps a command error to the process exit code: 2 for flag
// and argument parse failures, 1 for everything else. Unknown-command
// and bad-argument errors come out of cobra as plain errors, so those
// are matched by their stable message prefixes.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	var pe *parseError
	if errors.As(err, &pe) {
		return 2
	}
	msg := err.Error()
	for _, prefix := range []string{
		"unknown command",
		"unknown flag",
		"unknown shorthand flag",
		"invalid argument",
		"accepts ",
		"requires ",
	} {
		if strings.HasPrefix(msg, prefix) {
			return 2
		}
	}
	return 1
}

// Execute runs the root cobra command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(exitCode(err))
	}
}
