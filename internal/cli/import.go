package cli

import (
	"fmt"

	"daily-quiz-composer/internal/config"
	"daily-quiz-composer/internal/infra/postgres"
	"daily-quiz-composer/internal/logging"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/spf13/cobra"
)

// NewImportCmd loads a JSON question file into the Postgres pool.
func NewImportCmd(configPath *string) *cobra.Command {
	var file string
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Import editorial questions into the pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			if cfg.Postgres.URL == "" {
				return fmt.Errorf("postgres url not configured")
			}
			logger := logging.New(cfg.App.Name, cfg.App.Env, cfg.Log.Level)

			questions, err := loadSeed(file)
			if err != nil {
				return err
			}
			if err := runMigrationsWithConfig(cmd.Context(), cfg, logger); err != nil {
				return err
			}
			pool, err := pgxpool.Connect(cmd.Context(), cfg.Postgres.URL)
			if err != nil {
				return fmt.Errorf("connect postgres: %w", err)
			}
			defer pool.Close()

			if err := postgres.NewStore(pool).UpsertQuestions(cmd.Context(), questions); err != nil {
				return err
			}
			logger.Info().Int("questions", len(questions)).Str("file", file).Msg("questions imported")
			return nil
		},
	}
	cmd.Flags().StringVar(&file, "file", "", "JSON array of questions")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
