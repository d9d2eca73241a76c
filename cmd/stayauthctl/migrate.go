package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/MrEthical07/stayAuth/store/postgres"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Manage the Postgres schema",
	Long:  `Apply or roll back the embedded schema migrations against POSTGRES_DSN.`,
}

func init() {
	for _, c := range []struct {
		use, short string
		run        func(*postgres.Store, io.Writer) error
	}{
		{"up", "Apply all pending migrations", migrateUp},
		{"down", "Roll back the most recent migration", migrateDown},
		{"version", "Print the current schema version", migrateVersion},
	} {
		run := c.run
		migrateCmd.AddCommand(&cobra.Command{
			Use:   c.use,
			Short: c.short,
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				store, err := openMigrationStore(cmd.Context())
				if err != nil {
					return err
				}
				defer store.Close()
				return run(store, os.Stdout)
			},
		})
	}
	rootCmd.AddCommand(migrateCmd)
}

func openMigrationStore(ctx context.Context) (*postgres.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if cfg.Postgres.DSN == "" {
		return nil, errors.New("POSTGRES_DSN is not set")
	}
	return postgres.Open(ctx, cfg.Postgres.DSN, postgres.WithLogger(newLogger(cfg).Logger))
}

func migrateUp(store *postgres.Store, w io.Writer) error {
	if err := store.Migrate(); err != nil {
		return err
	}
	return migrateVersion(store, w)
}

func migrateDown(store *postgres.Store, w io.Writer) error {
	if err := store.MigrateDown(); err != nil {
		return err
	}
	return migrateVersion(store, w)
}

func migrateVersion(store *postgres.Store, w io.Writer) error {
	v, err := store.MigrationVersion()
	if err != nil {
		return err
	}
	if jsonOutput {
		_, err = fmt.Fprintf(w, "{\"version\":%d}\n", v)
		return err
	}
	_, err = fmt.Fprintf(w, "schema version: %d\n", v)
	return err
}
