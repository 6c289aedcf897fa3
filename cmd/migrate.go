package cmd

import (
	"example.com/backstage/services/orderbot/internal/database"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Run database migrations",
	Long: `Runs database migrations to ensure the database schema
is up-to-date. This is useful for CI/CD pipelines or initial setup.`,
	RunE: runMigrate,
}

func init() {
	rootCmd.AddCommand(migrateCmd)
}

func runMigrate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.DB.Driver == "memory" {
		return errors.New("the memory driver has no schema to migrate")
	}

	log.Info().Msg("Connecting to database")
	db, readOnlyDB, err := database.Connect(cfg.DB, nil)
	if err != nil {
		return err
	}
	defer func() {
		if readOnlyDB != db {
			_ = database.Close(readOnlyDB)
		}
		_ = database.Close(db)
	}()

	log.Info().Msg("Running database migrations")
	if err := database.Migrate(db); err != nil {
		return err
	}

	log.Info().Msg("Database migrations completed successfully")
	return nil
}
