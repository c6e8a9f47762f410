package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/teller/internal/config"
)

func runConfigValidate(cmd *cobra.Command, configPath string) error {
	path := resolveConfigPath(configPath)
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s is valid\n", path)
	fmt.Fprintf(out, "  llm provider:    %s\n", cfg.LLM.DefaultProvider)
	fmt.Fprintf(out, "  session backend: %s\n", cfg.Session.Backend)
	fmt.Fprintf(out, "  telegram:        %t\n", cfg.Channels.Telegram.Enabled)
	if cfg.RAG.Path != "" {
		fmt.Fprintf(out, "  corpus:          %s\n", cfg.RAG.Path)
	}
	return nil
}

func runConfigSchema(cmd *cobra.Command) error {
	schema, err := config.JSONSchema()
	if err != nil {
		return fmt.Errorf("generate schema: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(append(schema, '\n'))
	return err
}
