package main

import (
	"github.com/spf13/cobra"
)

// buildServeCmd creates the "serve" command. This is the production entry
// point.
func buildServeCmd() *cobra.Command {
	var (
		configPath string
		debug      bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the Telegram bot and metrics server",
		Long: `Start teller with every configured component.

The server will:
1. Load configuration from the specified file (or teller.yaml)
2. Open the session backend, applying migrations when auto_migrate is set
3. Load and index the document corpus
4. Start the Telegram adapter when channels.telegram.enabled is set
5. Serve /metrics and /healthz on server.metrics_addr
6. Schedule conversation pruning when session.prune.enabled is set

Graceful shutdown is handled on SIGINT/SIGTERM signals.`,
		Example: `  # Start with default config
  teller serve

  # Start with custom config and debug logging
  teller serve --config /etc/teller/production.yaml --debug`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath, debug)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName, "Path to YAML configuration file")
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging")
	return cmd
}

// buildChatCmd creates the "chat" command, a terminal front end.
func buildChatCmd() *cobra.Command {
	var (
		configPath     string
		conversationID string
		showSources    bool
	)

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Chat with the assistant in the terminal",
		Long: `Start an interactive session against the configured engine.

When an operation needs confirmation, answer with /approve or
/reject [reason]. Any other reply rejects it with that text as the reason.
/reset clears the conversation and /quit exits.`,
		Example: `  # Resume a conversation kept in the configured backend
  teller chat --conversation cli:alice

  # Show cited documents under each answer
  teller chat --sources`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runChat(cmd, configPath, conversationID, showSources)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName, "Path to YAML configuration file")
	cmd.Flags().StringVar(&conversationID, "conversation", "", "Conversation ID (default: a new cli:<uuid>)")
	cmd.Flags().BoolVar(&showSources, "sources", false, "Print sources under answers")
	return cmd
}

// buildMigrateCmd creates the "migrate" command group.
func buildMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration commands",
		Long: `Manage the schema of the sqlite and postgres session backends.

Migrations are embedded in the binary and applied in order of their
numeric prefix.`,
	}

	cmd.AddCommand(buildMigrateUpCmd())
	cmd.AddCommand(buildMigrateDownCmd())
	cmd.AddCommand(buildMigrateStatusCmd())
	return cmd
}

func buildMigrateUpCmd() *cobra.Command {
	var (
		configPath string
		steps      int
	)

	cmd := &cobra.Command{
		Use:   "up",
		Short: "Run pending migrations",
		Example: `  # Apply all pending migrations
  teller migrate up

  # Apply only the next migration
  teller migrate up --steps 1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateUp(cmd, configPath, steps)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName, "Path to config file")
	cmd.Flags().IntVarP(&steps, "steps", "n", 0, "Number of migrations to apply (0 = all)")
	return cmd
}

func buildMigrateDownCmd() *cobra.Command {
	var (
		configPath string
		steps      int
	)

	cmd := &cobra.Command{
		Use:   "down",
		Short: "Rollback migrations",
		Long: `Rollback the last N database migrations.

WARNING: Rolling back migrations may result in data loss.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateDown(cmd, configPath, steps)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName, "Path to config file")
	cmd.Flags().IntVarP(&steps, "steps", "n", 1, "Number of migrations to rollback")
	return cmd
}

func buildMigrateStatusCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runMigrateStatus(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", defaultConfigName, "Path to config file")
	return cmd
}

// buildConfigCmd creates the "config" command group.
func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect the configuration",
	}

	var configPath string
	validate := &cobra.Command{
		Use:   "validate",
		Short: "Load the configuration and report problems",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigValidate(cmd, configPath)
		},
	}
	validate.Flags().StringVarP(&configPath, "config", "c", defaultConfigName, "Path to config file")

	schema := &cobra.Command{
		Use:   "schema",
		Short: "Print the JSON Schema of the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runConfigSchema(cmd)
		},
	}

	cmd.AddCommand(validate, schema)
	return cmd
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Printf("teller %s\n", version)
			cmd.Printf("  commit: %s\n", commit)
			cmd.Printf("  built:  %s\n", date)
		},
	}
}
