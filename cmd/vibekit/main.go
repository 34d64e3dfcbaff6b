// Package main provides the CLI entry point for the vibekit studio backend.
//
// vibekit serves the project API, runs the coding agent against an LLM
// provider and streams transcript changes to subscribed editors.
//
// # Basic Usage
//
// Start the server:
//
//	vibekit serve --config vibekit.yaml
//
// Print the configuration schema:
//
//	vibekit config schema
//
// # Environment Variables
//
//   - VIBEKIT_CONFIG: Path to configuration file (default: vibekit.yaml)
//   - LLM_PROVIDER, LLM_API_KEY, LLM_MODEL, LLM_BASE_URL: LLM defaults used
//     when neither the config file nor saved settings provide them
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Build information - populated by ldflags during build.
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
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

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

// buildRootCmd creates the root command with all subcommands attached.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "vibekit",
		Short: "vibekit - AI coding agent backend for the studio editor",
		Long: `vibekit stores studio projects, runs the coding agent on request and
streams the live transcript to connected editors.

Supported LLM providers: OpenAI, Anthropic (Claude), Google (Gemini), DeepSeek`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildConfigCmd(),
		buildReconcileCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}
