package main

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/haasonsaas/teller/internal/gateway"
	"github.com/haasonsaas/teller/internal/sessions"
)

func openMigrator(configPath string) (*sql.DB, *sessions.Migrator, error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, err
	}
	db, dialect, err := gateway.OpenMigrationDB(cfg.Session)
	if err != nil {
		return nil, nil, err
	}
	migrator, err := sessions.NewMigrator(db, dialect)
	if err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to initialize migrator: %w", err)
	}
	return db, migrator, nil
}

// runMigrateUp handles the migrate up command.
func runMigrateUp(cmd *cobra.Command, configPath string, steps int) error {
	slog.Info("running database migrations",
		"config", resolveConfigPath(configPath),
		"steps", steps,
	)
	db, migrator, err := openMigrator(configPath)
	if err != nil {
		return err
	}
	defer db.Close()

	applied, err := migrator.Up(cmd.Context(), steps)
	if err != nil {
		return err
	}
	if len(applied) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No pending migrations.")
		return nil
	}
	for _, id := range applied {
		fmt.Fprintf(cmd.OutOrStdout(), "Applied %s\n", id)
	}
	return nil
}

// runMigrateDown handles the migrate down command.
func runMigrateDown(cmd *cobra.Command, configPath string, steps int) error {
	slog.Warn("rolling back migrations",
		"config", resolveConfigPath(configPath),
		"steps", steps,
	)
	db, migrator, err := openMigrator(configPath)
	if err != nil {
		return err
	}
	defer db.Close()

	rolled, err := migrator.Down(cmd.Context(), steps)
	if err != nil {
		return err
	}
	if len(rolled) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No migrations to roll back.")
		return nil
	}
	for _, id := range rolled {
		fmt.Fprintf(cmd.OutOrStdout(), "Rolled back %s\n", id)
	}
	return nil
}

// runMigrateStatus handles the migrate status command.
func runMigrateStatus(cmd *cobra.Command, configPath string) error {
	db, migrator, err := openMigrator(configPath)
	if err != nil {
		return err
	}
	defer db.Close()

	applied, pending, err := migrator.Status(cmd.Context())
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Applied migrations:")
	if len(applied) == 0 {
		fmt.Fprintln(out, "  (none)")
	}
	for _, entry := range applied {
		fmt.Fprintf(out, "  - %s (%s)\n", entry.ID, entry.AppliedAt.Format(time.RFC3339))
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, "Pending migrations:")
	if len(pending) == 0 {
		fmt.Fprintln(out, "  (none)")
	}
	for _, entry := range pending {
		fmt.Fprintf(out, "  - %s\n", entry.ID)
	}
	return nil
}
