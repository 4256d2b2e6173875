package main

import (
	"context"
	"database/sql"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"weather-archive-server/internal/config"
	"weather-archive-server/internal/db"
	"weather-archive-server/internal/logging"
	"weather-archive-server/internal/migrate"
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           appName,
		Short:         "Weather archive maintenance",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newMigrateCmd(), newImportCmd())
	return root
}

// store is an opened and migrated observation database.
type store struct {
	cfg     config.Config
	logger  *slog.Logger
	conn    *sql.DB
	dialect db.Dialect
}

func openStore(ctx context.Context) (*store, error) {
	cfg, err := config.LoadFromEnv()
	if err != nil {
		return nil, withCode(exitUsage, err)
	}
	logger := logging.NewWithWriter(os.Stderr, cfg, version, appName)

	conn, dialect, err := db.Open(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := migrate.Run(ctx, conn, dialect); err != nil {
		_ = db.Close(conn)
		return nil, err
	}
	return &store{cfg: cfg, logger: logger, conn: conn, dialect: dialect}, nil
}

func (s *store) Close() {
	if err := db.Close(s.conn); err != nil {
		s.logger.Error("db close", "error", err)
	}
}

func newMigrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending schema migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer s.Close()
			s.logger.Info("migrations applied", "dialect", s.dialect.Name())
			return nil
		},
	}
}
