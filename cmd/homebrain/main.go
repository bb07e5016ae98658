// Package main is the CLI entry point for homebrain, a personal assistant
// that answers direct messages with context from a notes index, web search,
// per-user facts, and external tool servers.
//
// Start the service:
//
//	homebrain serve
//
// Check backend connectivity:
//
//	homebrain status
//
// Configuration comes from the environment (a .env file is honored):
//
//   - BRAIN_FOLDER: root path for notes and per-user state (default ~/brain)
//   - SEARCH_URL: semantic-search service base URL
//   - LLM_URL: local inference server URL (default http://localhost:11434)
//   - MODEL: default model name
//   - SLACK_BOT_TOKEN / SLACK_APP_TOKEN: chat credentials
//   - TOOL_SERVER_CONFIG: tool-server definitions (JSON5)
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// Populated by ldflags during release builds.
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

	// Best effort; the environment wins over .env.
	_ = godotenv.Load()

	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "homebrain",
		Short:        "homebrain - personal assistant over direct messages",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(
		buildServeCmd(),
		buildStatusCmd(),
	)
	return rootCmd
}
