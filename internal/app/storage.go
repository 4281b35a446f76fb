package app

import (
	"context"
	"fmt"

	"personalization-sync/internal/common/logging"
	"personalization-sync/internal/storage"
)

func (app *App) initializeStorage(ctx context.Context) error {
	switch app.Config.DatabaseType {
	case "postgres", "postgresql":
		app.Logger.Info("Database: PostgreSQL",
			logging.Field{Key: "host", Value: app.Config.PostgresHost},
			logging.Field{Key: "port", Value: app.Config.PostgresPort},
			logging.Field{Key: "database", Value: app.Config.PostgresDB},
		)
	case "memory":
		app.Logger.Warn("Database: in-memory, records are lost on restart")
	default:
		app.Logger.Info("Database: SQLite", logging.Field{Key: "path", Value: app.Config.DatabasePath})
	}

	store, err := storage.New(ctx, app.Config)
	if err != nil {
		return fmt.Errorf("failed to initialize storage: %w", err)
	}

	app.Storage = store
	return nil
}
