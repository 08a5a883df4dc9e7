// Command flowrunner drives the conversational flow engine from a
// terminal or as a long-running worker.
//
// # Basic Usage
//
// Validate a flow definition:
//
//	flowrunner validate --flow onboarding.yaml
//
// Drive one session interactively against a single flow, reading user
// turns from stdin:
//
//	flowrunner run --flow onboarding.yaml --provider anthropic
//
// Run the debounced worker loop against a session store and an optional
// WhatsApp transport:
//
//	flowrunner serve --flow onboarding.yaml --store sqlite --store-path flowrunner.db
//
// # Environment Variables
//
//   - ANTHROPIC_API_KEY: Anthropic API key for the anthropic provider
//   - OPENAI_API_KEY: OpenAI API key for the openai provider
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	rootCmd := buildRootCmd()
	if err := rootCmd.Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "flowrunner",
		Short: "flowrunner - conversational flow execution engine",
		Long: `flowrunner compiles a flow definition into a deterministic state
machine, runs it turn by turn under an LLM-driven closed action schema,
and persists conversation state behind a pluggable session store.`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildValidateCmd(),
		buildRunCmd(),
		buildServeCmd(),
		buildMigrateCmd(),
	)

	return rootCmd
}
