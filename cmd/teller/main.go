// Package main provides the CLI entry point for teller, a banking assistant
// that answers product questions from a document corpus and opens cards and
// deposits after the customer confirms.
//
// # Basic Usage
//
// Start the Telegram bot, metrics endpoint and retention job:
//
//	teller serve --config teller.yaml
//
// Talk to the assistant in the terminal:
//
//	teller chat
//
// Manage database migrations:
//
//	teller migrate up
//	teller migrate status
//
// # Environment Variables
//
//   - TELLER_CONFIG: path to the configuration file (default: teller.yaml)
//
// Secrets are usually referenced from the config file, e.g.
// api_key: ${OPENAI_API_KEY:?openai key}.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/teller/internal/config"
	"github.com/haasonsaas/teller/internal/observability"
)

// Build information, populated by ldflags:
//
//	go build -ldflags "-X main.version=v1.0.0 -X main.commit=$(git rev-parse HEAD) -X main.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

const defaultConfigName = "teller.yaml"

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
		Use:   "teller",
		Short: "teller - banking assistant with human-approved operations",
		Long: `teller answers customer questions from the bank's documents, converts
currencies, and opens credit cards and deposits once the customer approves.

Channels: Telegram, terminal chat
LLM providers: OpenAI, OpenRouter, Anthropic`,
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}

	rootCmd.AddCommand(
		buildServeCmd(),
		buildChatCmd(),
		buildMigrateCmd(),
		buildConfigCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}

// resolveConfigPath applies TELLER_CONFIG when the flag was left at its
// default.
func resolveConfigPath(path string) string {
	if strings.TrimSpace(path) == "" || path == defaultConfigName {
		if env := strings.TrimSpace(os.Getenv("TELLER_CONFIG")); env != "" {
			return env
		}
		return defaultConfigName
	}
	return path
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(resolveConfigPath(path))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// newLogger builds the process logger from config; debug forces the debug
// level.
func newLogger(cfg config.LoggingConfig, debug bool) *slog.Logger {
	level := cfg.Level
	if debug {
		level = "debug"
	}
	return observability.NewLogger(observability.LogConfig{
		Level:     level,
		Format:    cfg.Format,
		AddSource: cfg.AddSource,
	})
}
