package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

// =============================================================================
// Serve Command
// =============================================================================

// buildServeCmd creates the "serve" command that starts the HTTP server.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the vibekit server",
		Long: `Start the vibekit server.

The server will:
1. Load configuration from the specified file (or vibekit.yaml)
2. Open the document store and mark interrupted runs as failed
3. Start the HTTP API, websocket subscriptions and metrics endpoint
4. Reload LLM defaults when the config file changes

Graceful shutdown is handled on SIGINT/SIGTERM signals. Active agent runs
are given the shutdown timeout to finish.`,
		Example: `  # Start with default config
  vibekit serve

  # Start with custom config and debug logging
  vibekit serve --config /etc/vibekit/production.yaml --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), resolveConfigPath(configPath), debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML or JSON5 configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

// =============================================================================
// Config Commands
// =============================================================================

func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and validate configuration",
	}
	cmd.AddCommand(buildConfigSchemaCmd(), buildConfigValidateCmd())
	return cmd
}

func buildConfigSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the configuration JSON schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigSchema(cmd.OutOrStdout())
		},
	}
}

func buildConfigValidateCmd() *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Load and validate a configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigValidate(cmd.OutOrStdout(), resolveConfigPath(configPath))
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	return cmd
}

// =============================================================================
// Maintenance Commands
// =============================================================================

// buildReconcileCmd creates the "reconcile" command, a one-shot version of
// the sweep the server runs at startup.
func buildReconcileCmd() *cobra.Command {
	var (
		configPath string
		olderThan  string
	)
	cmd := &cobra.Command{
		Use:   "reconcile",
		Short: "Mark projects stuck in the running state as failed",
		Long: `Finalize projects whose agent status is still "running" although no
server is executing them, for example after a crash. Run this only while the
server is stopped, or pass --older-than to leave recent runs alone.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReconcile(cmd.Context(), cmd.OutOrStdout(), resolveConfigPath(configPath), olderThan)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to configuration file")
	cmd.Flags().StringVar(&olderThan, "older-than", "0s", "Only finalize runs started longer ago than this duration")
	return cmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "vibekit %s (commit: %s, built: %s)\n", version, commit, date)
		},
	}
}
